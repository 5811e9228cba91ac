package source

import (
	"context"
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/theirongolddev/tokpulse/internal/model"
	"github.com/theirongolddev/tokpulse/internal/store"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o750))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
}

func assistantLine(id, ts string, in int) string {
	return `{"type":"assistant","timestamp":"` + ts + `","cwd":"/home/me/projects/app","message":{"id":"` + id +
		`","model":"claude-sonnet-4-5","usage":{"input_tokens":` + strconv.Itoa(in) + `,"output_tokens":1}}}` + "\n"
}

type fixture struct {
	claudeDir, codexDir string
	main, sub, rollout  string
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	root := t.TempDir()
	f := fixture{
		claudeDir: filepath.Join(root, "claude"),
		codexDir:  filepath.Join(root, "codex"),
	}
	proj := filepath.Join(f.claudeDir, "projects", "-home-me-projects-app")
	f.main = filepath.Join(proj, "sess-1.jsonl")
	f.sub = filepath.Join(proj, "sess-1", "subagents", "agent-a.jsonl")
	f.rollout = filepath.Join(f.codexDir, "sessions", "2025", "06", "01", "rollout-2025-06-01T10-00-00-"+codexSession+".jsonl")

	writeFile(t, f.main, assistantLine("m1", "2025-06-01T10:00:00Z", 10)+assistantLine("m2", "2025-06-01T10:01:00Z", 20))
	writeFile(t, f.sub, assistantLine("s1", "2025-06-01T10:00:30Z", 5))
	writeFile(t, f.rollout,
		`{"timestamp":"2025-06-01T09:00:00Z","type":"turn_context","payload":{"model":"gpt-5"}}`+"\n"+
			tokenCount("2025-06-01T09:00:01Z", 50, 0, 5)+"\n")
	writeFile(t, filepath.Join(f.claudeDir, "projects", "sessions-index.json"), `{}`)
	return f
}

func TestScanClaudeDir(t *testing.T) {
	f := newFixture(t)
	files, err := ScanClaudeDir(f.claudeDir)
	require.NoError(t, err)
	require.Len(t, files, 2)

	byPath := map[string]DiscoveredFile{}
	for _, df := range files {
		byPath[df.Path] = df
	}
	main := byPath[f.main]
	assert.Equal(t, "sess-1", main.SessionID)
	assert.Equal(t, "app", main.Project)
	assert.Equal(t, AgentClaudeCode, main.Agent)
	assert.False(t, main.IsSubagent)

	sub := byPath[f.sub]
	assert.True(t, sub.IsSubagent)
	assert.Equal(t, "sess-1", sub.ParentSession)
	assert.Equal(t, "sess-1/agent-a", sub.SessionID)
	assert.Equal(t, 1, CountProjects(files))

	none, err := ScanClaudeDir(filepath.Join(t.TempDir(), "missing"))
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestScanCodexDir(t *testing.T) {
	f := newFixture(t)
	writeFile(t, filepath.Join(f.codexDir, "sessions", "notes.jsonl"), "")

	files, err := ScanCodexDir(f.codexDir)
	require.NoError(t, err)
	require.Len(t, files, 1)
	assert.Equal(t, codexSession, files[0].SessionID)
	assert.Equal(t, AgentCodex, files[0].Agent)
}

func TestDecodeProjectName(t *testing.T) {
	tests := map[string]string{
		"-Users-me-projects-gitlore":         "gitlore",
		"-Users-me-projects-my-cool-project": "my-cool-project",
		"-home-me-scratch":                   "scratch",
	}
	for in, want := range tests {
		assert.Equal(t, want, decodeProjectName(in), in)
	}
}

func TestLoader_IncrementalReparse(t *testing.T) {
	f := newFixture(t)
	st, err := store.Open(filepath.Join(t.TempDir(), "tokpulse.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	ctx := context.Background()
	l := &Loader{ClaudeDir: f.claudeDir, CodexDir: f.codexDir, IncludeSubagents: true, Tracker: st, Logger: zaptest.NewLogger(t)}

	res, err := l.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, res.TotalFiles)
	assert.Equal(t, 3, res.Reparsed)
	require.Len(t, res.Events, 4)
	assert.Equal(t, "codex", res.Events[0].AgentID)

	mainKey := model.SessionKey{AgentID: AgentClaudeCode, SessionID: "sess-1"}
	codexKey := model.SessionKey{AgentID: AgentCodex, SessionID: codexSession}
	assert.Contains(t, res.LastSeen, mainKey)
	assert.Contains(t, res.LastSeen, codexKey)
	assert.Len(t, res.LastSeen, 2)

	// Without Commit nothing is tracked, so the next load parses everything again.
	again, err := l.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, again.Reparsed)

	require.NoError(t, l.Commit(ctx, again))
	cached, err := l.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, cached.CacheHits)
	assert.Empty(t, cached.Events)
	assert.Len(t, cached.LastSeen, 2)

	later := time.Now().Add(time.Minute)
	writeFile(t, f.main, assistantLine("m1", "2025-06-01T10:00:00Z", 10)+
		assistantLine("m2", "2025-06-01T10:01:00Z", 20)+
		assistantLine("m3", "2025-06-01T10:02:00Z", 30))
	require.NoError(t, os.Chtimes(f.main, later, later))

	changed, err := l.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, changed.Reparsed)
	assert.Len(t, changed.Events, 3)
	assert.True(t, changed.LastSeen[mainKey].After(res.LastSeen[mainKey]))

	require.NoError(t, os.Remove(f.rollout))
	require.NoError(t, l.Commit(ctx, changed))
	tracked, err := st.GetTrackedFiles(ctx)
	require.NoError(t, err)
	assert.Len(t, tracked, 3)

	final, err := l.Load(ctx)
	require.NoError(t, err)
	require.NoError(t, l.Commit(ctx, final))
	tracked, err = st.GetTrackedFiles(ctx)
	require.NoError(t, err)
	assert.Len(t, tracked, 2)
	assert.NotContains(t, tracked, f.rollout)
}

func TestLoader_ExcludesSubagents(t *testing.T) {
	f := newFixture(t)
	l := &Loader{ClaudeDir: f.claudeDir}

	res, err := l.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, res.TotalFiles)
	assert.Len(t, res.Events, 2)
	require.NoError(t, l.Commit(context.Background(), res))
}
