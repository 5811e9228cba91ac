// Package source discovers and parses coding-agent session logs into usage
// events: Claude Code project JSONL files and Codex rollout files.
package source

import (
	"bufio"
	"bytes"
	"encoding/json"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/theirongolddev/tokpulse/internal/model"
)

// ProviderAnthropic is the provider id of Claude Code events.
const ProviderAnthropic = "anthropic"

// Byte patterns for field extraction.
var (
	patCwd1 = []byte(`"cwd":"`)
	patCwd2 = []byte(`"cwd": "`)
)

// ParseResult holds the output of parsing a single JSONL file.
type ParseResult struct {
	Events      []model.UsageEvent
	ProjectPath string
	ParseErrors int
	Err         error
}

// ParseClaudeFile reads a Claude Code session file and emits one usage event
// per assistant message. Entries are deduplicated by message.id, keeping the
// last entry per ID (final billed usage).
//
// Entry routing by top-level "type" field:
//   - "user", "system" → byte-level cwd extraction only
//   - "assistant"      → full JSON parse (token usage, model)
//   - everything else  → skip
func ParseClaudeFile(df DiscoveredFile) ParseResult {
	f, err := os.Open(df.Path)
	if err != nil {
		return ParseResult{Err: err}
	}
	defer func() { _ = f.Close() }()

	byID := make(map[string]model.UsageEvent)

	var (
		parseErrors int
		cwd         string
	)

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 256*1024), 2*1024*1024)

	for scanner.Scan() {
		line := scanner.Bytes()

		switch extractTopLevelType(line) {
		case "user", "system":
			if cwd == "" {
				cwd = extractCwdBytes(line)
			}

		case "assistant":
			var entry RawEntry
			if err := json.Unmarshal(line, &entry); err != nil {
				parseErrors++
				continue
			}
			if cwd == "" && entry.Cwd != "" {
				cwd = entry.Cwd
			}

			msg := entry.Message
			if msg == nil || msg.ID == "" || msg.Usage == nil {
				continue
			}
			// Synthetic messages (e.g. "<synthetic>") carry no billed usage.
			if msg.Model == "" || strings.HasPrefix(msg.Model, "<") {
				continue
			}
			ts, err := time.Parse(time.RFC3339Nano, entry.Timestamp)
			if err != nil {
				parseErrors++
				continue
			}

			u := msg.Usage
			byID[msg.ID] = model.UsageEvent{
				Key:              AgentClaudeCode + ":" + msg.ID,
				Timestamp:        ts,
				ProviderID:       ProviderAnthropic,
				ModelID:          msg.Model,
				AgentID:          AgentClaudeCode,
				SessionID:        df.EventSessionID(),
				InputTokens:      u.InputTokens,
				OutputTokens:     u.OutputTokens,
				CacheReadTokens:  u.CacheReadInputTokens,
				CacheWriteTokens: u.writeTokens(),
			}
		}
	}

	if err := scanner.Err(); err != nil {
		return ParseResult{Err: err}
	}

	events := make([]model.UsageEvent, 0, len(byID))
	for _, e := range byID {
		e.ProjectPath = cwd
		if e.Validate() != nil {
			parseErrors++
			continue
		}
		events = append(events, e)
	}
	sortEvents(events)

	return ParseResult{
		Events:      events,
		ProjectPath: cwd,
		ParseErrors: parseErrors,
	}
}

func sortEvents(events []model.UsageEvent) {
	sort.Slice(events, func(i, j int) bool {
		if !events[i].Timestamp.Equal(events[j].Timestamp) {
			return events[i].Timestamp.Before(events[j].Timestamp)
		}
		return events[i].Key < events[j].Key
	})
}

// typeKey is the byte sequence for a JSON key named "type" (with quotes).
var typeKey = []byte(`"type"`)

// extractTopLevelType finds the top-level "type" field in a JSONL line.
// Tracks brace depth and string boundaries so nested "type" keys are ignored.
// Early-exits once found (~400 bytes in), making cost O(1) vs line length.
func extractTopLevelType(line []byte) string {
	depth := 0
	for i := 0; i < len(line); {
		switch line[i] {
		case '"':
			if depth == 1 && bytes.HasPrefix(line[i:], typeKey) {
				val, isKey := classifyType(line, i+len(typeKey))
				if isKey {
					return val
				}
			}
			i = skipJSONString(line, i)
		case '{':
			depth++
			i++
		case '}':
			depth--
			i++
		default:
			i++
		}
	}
	return ""
}

// classifyType checks whether pos follows a JSON key (expects : then value).
// isKey=false means "type" appeared as a value, not a key.
func classifyType(line []byte, pos int) (val string, isKey bool) {
	i := skipSpaces(line, pos)
	if i >= len(line) || line[i] != ':' {
		return "", false
	}
	i = skipSpaces(line, i+1)
	if i >= len(line) || line[i] != '"' {
		return "", true // key with non-string value (null, number, etc.)
	}
	i++

	end := bytes.IndexByte(line[i:], '"')
	if end < 0 || end > 20 {
		return "", true
	}
	v := string(line[i : i+end])
	switch v {
	case "assistant", "user", "system":
		return v, true
	}
	return "", true
}

// skipJSONString advances past a JSON string starting at the opening quote.
//
//nolint:gosec // manual bounds checking throughout
func skipJSONString(line []byte, i int) int {
	i++
	for i < len(line) {
		switch line[i] {
		case '\\':
			i += 2
		case '"':
			return i + 1
		default:
			i++
		}
	}
	return i
}

func skipSpaces(line []byte, i int) int {
	for i < len(line) && line[i] == ' ' {
		i++
	}
	return i
}

// extractCwdBytes extracts the cwd field via byte scanning.
func extractCwdBytes(line []byte) string {
	for _, pat := range [][]byte{patCwd1, patCwd2} {
		idx := bytes.Index(line, pat)
		if idx < 0 {
			continue
		}
		start := idx + len(pat)
		end := bytes.IndexByte(line[start:], '"')
		if end < 0 || end > 1024 {
			continue
		}
		return string(line[start : start+end])
	}
	return ""
}
