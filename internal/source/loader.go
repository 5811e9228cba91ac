package source

import (
	"context"
	"fmt"
	"os"
	"runtime"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/theirongolddev/tokpulse/internal/model"
	"github.com/theirongolddev/tokpulse/internal/store"
)

// FileTracker remembers the (mtime, size) each file was last parsed at.
// *store.Store implements it.
type FileTracker interface {
	GetTrackedFiles(ctx context.Context) (map[string]store.FileInfo, error)
	TrackFile(ctx context.Context, path string, fi store.FileInfo) error
	DeleteTrackedFile(ctx context.Context, path string) error
}

// LoadResult holds the output of one incremental load.
type LoadResult struct {
	// Events holds the events of every re-parsed file, oldest first.
	Events []model.UsageEvent
	// LastSeen maps each discovered session to its newest file mtime,
	// including sessions whose files were unchanged.
	LastSeen map[model.SessionKey]time.Time

	TotalFiles   int
	ParsedFiles  int
	CacheHits    int
	Reparsed     int
	ParseErrors  int
	FileErrors   int
	ProjectCount int

	pending map[string]store.FileInfo
	removed []string
}

// Loader discovers session files under the configured roots and re-parses
// only files whose mtime or size changed since the last Commit.
type Loader struct {
	ClaudeDir        string
	CodexDir         string
	IncludeSubagents bool
	Tracker          FileTracker
	Logger           *zap.Logger
}

type statted struct {
	df DiscoveredFile
	fi store.FileInfo
}

// Load scans, diffs against the tracker, and parses changed files with a
// bounded worker pool. Files are not marked as parsed until Commit.
func (l *Loader) Load(ctx context.Context) (*LoadResult, error) {
	logger := l.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	files, err := l.discover()
	if err != nil {
		return nil, err
	}

	result := &LoadResult{
		LastSeen:     make(map[model.SessionKey]time.Time),
		TotalFiles:   len(files),
		ProjectCount: CountProjects(files),
		pending:      make(map[string]store.FileInfo),
	}

	tracked := map[string]store.FileInfo{}
	if l.Tracker != nil {
		tracked, err = l.Tracker.GetTrackedFiles(ctx)
		if err != nil {
			return nil, fmt.Errorf("reading file tracker: %w", err)
		}
	}

	seen := make(map[string]struct{}, len(files))
	var toReparse []statted
	for _, f := range files {
		info, err := os.Stat(f.Path)
		if err != nil {
			result.FileErrors++
			continue
		}
		seen[f.Path] = struct{}{}
		fi := store.FileInfo{MtimeNs: info.ModTime().UnixNano(), SizeBytes: info.Size()}

		key := model.SessionKey{AgentID: f.Agent, SessionID: f.EventSessionID()}
		if mt := info.ModTime().UTC(); mt.After(result.LastSeen[key]) {
			result.LastSeen[key] = mt
		}

		if cached, ok := tracked[f.Path]; ok && cached == fi {
			result.CacheHits++
			continue
		}
		toReparse = append(toReparse, statted{df: f, fi: fi})
	}
	for path := range tracked {
		if _, ok := seen[path]; !ok {
			result.removed = append(result.removed, path)
		}
	}
	result.Reparsed = len(toReparse)
	result.ParsedFiles = result.CacheHits

	if len(toReparse) == 0 {
		return result, nil
	}

	results := parseAll(ctx, toReparse)
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	for i, pr := range results {
		if pr.Err != nil {
			result.FileErrors++
			logger.Debug("parse session file failed", zap.String("path", toReparse[i].df.Path), zap.Error(pr.Err))
			continue
		}
		result.ParsedFiles++
		result.ParseErrors += pr.ParseErrors
		result.Events = append(result.Events, pr.Events...)
		result.pending[toReparse[i].df.Path] = toReparse[i].fi
	}
	sortEvents(result.Events)

	logger.Debug("session files loaded",
		zap.Int("files", result.TotalFiles),
		zap.Int("cache_hits", result.CacheHits),
		zap.Int("reparsed", result.Reparsed),
		zap.Int("events", len(result.Events)))
	return result, nil
}

// Commit records the files parsed by res so the next Load skips them. Call
// it once the events have been persisted.
func (l *Loader) Commit(ctx context.Context, res *LoadResult) error {
	if l.Tracker == nil || res == nil {
		return nil
	}
	for path, fi := range res.pending {
		if err := l.Tracker.TrackFile(ctx, path, fi); err != nil {
			return err
		}
	}
	for _, path := range res.removed {
		if err := l.Tracker.DeleteTrackedFile(ctx, path); err != nil {
			return err
		}
	}
	return nil
}

func (l *Loader) discover() ([]DiscoveredFile, error) {
	var files []DiscoveredFile
	if l.ClaudeDir != "" {
		claude, err := ScanClaudeDir(l.ClaudeDir)
		if err != nil {
			return nil, fmt.Errorf("scanning %s: %w", l.ClaudeDir, err)
		}
		for _, f := range claude {
			if f.IsSubagent && !l.IncludeSubagents {
				continue
			}
			files = append(files, f)
		}
	}
	if l.CodexDir != "" {
		codex, err := ScanCodexDir(l.CodexDir)
		if err != nil {
			return nil, fmt.Errorf("scanning %s: %w", l.CodexDir, err)
		}
		files = append(files, codex...)
	}
	return files, nil
}

// Parse dispatches df to the parser for its agent.
func Parse(df DiscoveredFile) ParseResult {
	if df.Agent == AgentCodex {
		return ParseCodexFile(df)
	}
	return ParseClaudeFile(df)
}

func parseAll(ctx context.Context, files []statted) []ParseResult {
	numWorkers := runtime.GOMAXPROCS(0)
	if numWorkers < 1 {
		numWorkers = 4
	}
	if numWorkers > len(files) {
		numWorkers = len(files)
	}

	work := make(chan int, len(files))
	results := make([]ParseResult, len(files))
	var wg sync.WaitGroup

	for i := range files {
		work <- i
	}
	close(work)

	wg.Add(numWorkers)
	for w := 0; w < numWorkers; w++ {
		go func() {
			defer wg.Done()
			for idx := range work {
				if ctx.Err() != nil {
					results[idx] = ParseResult{Err: ctx.Err()}
					continue
				}
				results[idx] = Parse(files[idx].df)
			}
		}()
	}

	wg.Wait()
	return results
}
