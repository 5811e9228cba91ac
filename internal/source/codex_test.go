package source

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const codexSession = "0199a1b2-c3d4-7e5f-8a9b-0c1d2e3f4a5b"

func writeCodex(t *testing.T, lines ...string) DiscoveredFile {
	t.Helper()
	path := filepath.Join(t.TempDir(), "rollout-2025-06-01T10-00-00-"+codexSession+".jsonl")
	require.NoError(t, os.WriteFile(path, []byte(strings.Join(lines, "\n")+"\n"), 0o600))
	return DiscoveredFile{Path: path, Agent: AgentCodex, SessionID: codexSessionID(filepath.Base(path))}
}

func tokenCount(ts string, in, cached, out int) string {
	return `{"timestamp":"` + ts + `","type":"event_msg","payload":{"type":"token_count","info":{"total_token_usage":{"input_tokens":` +
		strconv.Itoa(in) + `,"cached_input_tokens":` + strconv.Itoa(cached) + `,"output_tokens":` + strconv.Itoa(out) + `}}}}`
}

func TestParseCodexFile_CumulativeDeltas(t *testing.T) {
	df := writeCodex(t,
		`{"timestamp":"2025-06-01T10:00:00Z","type":"session_meta","payload":{"id":"`+codexSession+`","cwd":"/work/api"}}`,
		`{"timestamp":"2025-06-01T10:00:01Z","type":"turn_context","payload":{"model":"gpt-5-codex","cwd":"/work/api"}}`,
		tokenCount("2025-06-01T10:00:05Z", 1000, 200, 100),
		tokenCount("2025-06-01T10:00:06Z", 1000, 200, 100),
		tokenCount("2025-06-01T10:00:10Z", 1500, 600, 180),
		`{"timestamp":"2025-06-01T10:00:11Z","type":"event_msg","payload":{"type":"agent_message"}}`,
	)

	result := ParseCodexFile(df)
	require.NoError(t, result.Err)
	assert.Zero(t, result.ParseErrors)
	assert.Equal(t, "/work/api", result.ProjectPath)
	require.Len(t, result.Events, 2)

	first := result.Events[0]
	assert.Equal(t, "codex:"+codexSession+":3", first.Key)
	assert.Equal(t, "openai", first.ProviderID)
	assert.Equal(t, "gpt-5-codex", first.ModelID)
	assert.Equal(t, "codex", first.AgentID)
	assert.Equal(t, codexSession, first.SessionID)
	assert.EqualValues(t, 800, first.InputTokens)
	assert.EqualValues(t, 200, first.CacheReadTokens)
	assert.EqualValues(t, 100, first.OutputTokens)
	assert.Equal(t, "/work/api", first.ProjectPath)

	second := result.Events[1]
	assert.Equal(t, "codex:"+codexSession+":5", second.Key)
	assert.EqualValues(t, 100, second.InputTokens)
	assert.EqualValues(t, 400, second.CacheReadTokens)
	assert.EqualValues(t, 80, second.OutputTokens)
}

func TestParseCodexFile_ResetCountsFromZero(t *testing.T) {
	df := writeCodex(t,
		tokenCount("2025-06-01T10:00:05Z", 1000, 0, 100),
		tokenCount("2025-06-01T10:00:06Z", 300, 0, 20),
		`{"broken`,
	)

	result := ParseCodexFile(df)
	require.NoError(t, result.Err)
	assert.Equal(t, 1, result.ParseErrors)
	require.Len(t, result.Events, 2)
	assert.Equal(t, UnknownModel, result.Events[0].ModelID)
	assert.EqualValues(t, 300, result.Events[1].InputTokens)
	assert.EqualValues(t, 20, result.Events[1].OutputTokens)
	assert.Equal(t, codexSession, result.Events[1].SessionID)
}

func TestCodexSessionID(t *testing.T) {
	assert.Equal(t, codexSession, codexSessionID("rollout-2025-06-01T10-00-00-"+codexSession+".jsonl"))
	assert.Equal(t, "short", codexSessionID("rollout-short.jsonl"))
}
