package source

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// ScanClaudeDir walks the Claude projects directory and discovers all JSONL session files.
// It returns discovered files categorized as main sessions or subagent sessions.
func ScanClaudeDir(claudeDir string) ([]DiscoveredFile, error) {
	projectsDir := filepath.Join(claudeDir, "projects")

	info, err := os.Stat(projectsDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	if !info.IsDir() {
		return nil, nil
	}

	var files []DiscoveredFile

	err = filepath.WalkDir(projectsDir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return nil //nolint:nilerr // intentionally skip unreadable entries
		}
		if d.IsDir() {
			return nil
		}
		if filepath.Ext(path) != ".jsonl" {
			return nil
		}

		name := d.Name()
		rel, _ := filepath.Rel(projectsDir, path)
		parts := strings.Split(rel, string(filepath.Separator))
		if len(parts) < 2 {
			return nil
		}

		projectDir := parts[0]
		project := decodeProjectName(projectDir)

		df := DiscoveredFile{
			Path:       path,
			Agent:      AgentClaudeCode,
			Project:    project,
			ProjectDir: projectDir,
		}

		// Determine if this is a subagent file
		// Pattern: <project>/<session-uuid>/subagents/agent-<id>.jsonl
		if len(parts) >= 4 && parts[2] == "subagents" {
			df.IsSubagent = true
			df.ParentSession = parts[1]
			// Use parent+agent to avoid collisions across sessions
			df.SessionID = parts[1] + "/" + strings.TrimSuffix(name, ".jsonl")
		} else {
			// Main session: <project>/<session-uuid>.jsonl
			df.SessionID = strings.TrimSuffix(name, ".jsonl")
		}

		files = append(files, df)
		return nil
	})

	return files, err
}

// ScanCodexDir walks <codexDir>/sessions for rollout-*.jsonl files. The
// session id is the UUID at the end of the file name, or the bare name when
// none is present.
func ScanCodexDir(codexDir string) ([]DiscoveredFile, error) {
	sessionsDir := filepath.Join(codexDir, "sessions")
	info, err := os.Stat(sessionsDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	if !info.IsDir() {
		return nil, nil
	}

	var files []DiscoveredFile
	err = filepath.WalkDir(sessionsDir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return nil //nolint:nilerr // intentionally skip unreadable entries
		}
		name := d.Name()
		if d.IsDir() || !strings.HasPrefix(name, "rollout-") || filepath.Ext(name) != ".jsonl" {
			return nil
		}
		files = append(files, DiscoveredFile{
			Path:      path,
			Agent:     AgentCodex,
			SessionID: codexSessionID(name),
		})
		return nil
	})
	return files, err
}

// codexSessionID pulls the UUID suffix out of a rollout file name such as
// rollout-2025-01-15T10-30-00-0199a1b2-....jsonl.
func codexSessionID(name string) string {
	base := strings.TrimSuffix(strings.TrimPrefix(name, "rollout-"), ".jsonl")
	const uuidLen = 36
	if len(base) >= uuidLen {
		if id, err := uuid.Parse(base[len(base)-uuidLen:]); err == nil {
			return id.String()
		}
	}
	return base
}

// decodeProjectName extracts a human-readable project name from the encoded directory name.
// Claude Code encodes absolute paths by replacing "/" with "-", so:
//
//	"-Users-tayloreernisse-projects-gitlore" -> "gitlore"
//	"-Users-tayloreernisse-projects-my-cool-project" -> "my-cool-project"
//
// We find the last known path component ("projects", "repos", "src", "code", "home")
// and take everything after it. Falls back to the last non-empty segment.
func decodeProjectName(dirName string) string {
	parts := strings.Split(dirName, "-")

	// Known parent directory names that commonly precede the project name
	knownParents := map[string]bool{
		"projects": true, "repos": true, "src": true,
		"code": true, "workspace": true, "dev": true,
	}

	// Scan for the last known parent marker and join everything after it
	for i := len(parts) - 2; i >= 0; i-- {
		if knownParents[strings.ToLower(parts[i])] {
			name := strings.Join(parts[i+1:], "-")
			if name != "" {
				return name
			}
		}
	}

	// Fallback: return the last non-empty segment
	for i := len(parts) - 1; i >= 0; i-- {
		if parts[i] != "" {
			return parts[i]
		}
	}

	return dirName
}

// CountProjects returns the number of unique projects in a set of discovered files.
func CountProjects(files []DiscoveredFile) int {
	seen := make(map[string]struct{})
	for _, f := range files {
		if f.Project != "" {
			seen[f.Project] = struct{}{}
		}
	}
	return len(seen)
}
