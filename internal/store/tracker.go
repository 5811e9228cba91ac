package store

import (
	"context"
	"fmt"
)

// FileInfo holds the tracked mtime and size for a file.
type FileInfo struct {
	MtimeNs   int64
	SizeBytes int64
}

// GetTrackedFiles returns a map of file_path -> FileInfo for all tracked files.
func (s *Store) GetTrackedFiles(ctx context.Context) (map[string]FileInfo, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, "SELECT file_path, mtime_ns, size_bytes FROM file_tracker")
	if err != nil {
		return nil, fmt.Errorf("querying file tracker: %w", err)
	}
	defer func() { _ = rows.Close() }()

	result := make(map[string]FileInfo)
	for rows.Next() {
		var path string
		var fi FileInfo
		if err := rows.Scan(&path, &fi.MtimeNs, &fi.SizeBytes); err != nil {
			return nil, err
		}
		result[path] = fi
	}
	return result, rows.Err()
}

// TrackFile records the state a file was last parsed at.
func (s *Store) TrackFile(ctx context.Context, path string, fi FileInfo) error {
	if err := s.lockWrite(); err != nil {
		return err
	}
	defer s.writeMu.Unlock()

	_, err := s.db.ExecContext(ctx, `INSERT OR REPLACE INTO file_tracker (file_path, mtime_ns, size_bytes)
		VALUES (?, ?, ?)`, path, fi.MtimeNs, fi.SizeBytes)
	if err != nil {
		return fmt.Errorf("tracking %s: %w", path, err)
	}
	return nil
}

// DeleteTrackedFile forgets a file that no longer exists.
func (s *Store) DeleteTrackedFile(ctx context.Context, path string) error {
	if err := s.lockWrite(); err != nil {
		return err
	}
	defer s.writeMu.Unlock()

	if _, err := s.db.ExecContext(ctx, "DELETE FROM file_tracker WHERE file_path = ?", path); err != nil {
		return fmt.Errorf("untracking %s: %w", path, err)
	}
	return nil
}
