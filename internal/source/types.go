package source

// Agent ids stamped on emitted events.
const (
	AgentClaudeCode = "claude-code"
	AgentCodex      = "codex"
)

// RawEntry represents a single line in a Claude Code JSONL session file.
type RawEntry struct {
	Type      string      `json:"type"`
	Timestamp string      `json:"timestamp,omitempty"`
	SessionID string      `json:"sessionId,omitempty"`
	Cwd       string      `json:"cwd,omitempty"`
	Message   *RawMessage `json:"message,omitempty"`
}

// RawMessage represents the assistant's message envelope.
type RawMessage struct {
	ID    string    `json:"id"`
	Role  string    `json:"role"`
	Model string    `json:"model"`
	Usage *RawUsage `json:"usage,omitempty"`
}

// RawUsage holds token counts from the API response.
type RawUsage struct {
	InputTokens              int64          `json:"input_tokens"`
	OutputTokens             int64          `json:"output_tokens"`
	CacheCreationInputTokens int64          `json:"cache_creation_input_tokens"`
	CacheReadInputTokens     int64          `json:"cache_read_input_tokens"`
	CacheCreation            *CacheCreation `json:"cache_creation,omitempty"`
}

// CacheCreation holds the breakdown of cache write tokens by TTL bucket.
type CacheCreation struct {
	Ephemeral5mInputTokens int64 `json:"ephemeral_5m_input_tokens"`
	Ephemeral1hInputTokens int64 `json:"ephemeral_1h_input_tokens"`
}

// writeTokens returns the total cache write tokens across TTL buckets.
func (u *RawUsage) writeTokens() int64 {
	if u.CacheCreation != nil {
		return u.CacheCreation.Ephemeral5mInputTokens + u.CacheCreation.Ephemeral1hInputTokens
	}
	return u.CacheCreationInputTokens
}

// DiscoveredFile represents a JSONL file found during directory scanning.
type DiscoveredFile struct {
	Path          string
	Agent         string // AgentClaudeCode or AgentCodex
	Project       string // decoded display name (e.g., "gitlore")
	ProjectDir    string // raw directory name
	SessionID     string // extracted from filename
	IsSubagent    bool
	ParentSession string // for subagents: parent session UUID
}

// EventSessionID is the session that events parsed from the file belong to.
// Subagent usage is folded into the parent session.
func (df DiscoveredFile) EventSessionID() string {
	if df.IsSubagent && df.ParentSession != "" {
		return df.ParentSession
	}
	return df.SessionID
}
