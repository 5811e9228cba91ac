package source

import (
	"bufio"
	"os"
	"strconv"
	"time"

	"github.com/tidwall/gjson"

	"github.com/theirongolddev/tokpulse/internal/model"
)

// ProviderOpenAI is the provider id of Codex events.
const ProviderOpenAI = "openai"

// UnknownModel is used for Codex usage reported before any turn_context.
const UnknownModel = "unknown"

type codexTotals struct {
	input, cached, output int64
}

func (c codexTotals) less(o codexTotals) bool {
	return o.input < c.input || o.cached < c.cached || o.output < c.output
}

// ParseCodexFile reads a Codex rollout file. token_count events carry
// cumulative totals; one usage event is emitted per positive delta, keyed
// by session and line number. A total lower than its predecessor is a
// counter reset and counts from zero.
func ParseCodexFile(df DiscoveredFile) ParseResult {
	f, err := os.Open(df.Path)
	if err != nil {
		return ParseResult{Err: err}
	}
	defer func() { _ = f.Close() }()

	var (
		events      []model.UsageEvent
		parseErrors int
		sessionID   = df.SessionID
		cwd         string
		modelID     = UnknownModel
		prev        codexTotals
		lineNo      int
	)

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 256*1024), 8*1024*1024)

	for scanner.Scan() {
		lineNo++
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		if !gjson.ValidBytes(line) {
			parseErrors++
			continue
		}

		payload := gjson.GetBytes(line, "payload")
		switch gjson.GetBytes(line, "type").String() {
		case "session_meta":
			if id := payload.Get("id").String(); id != "" {
				sessionID = id
			}
			if c := payload.Get("cwd").String(); c != "" {
				cwd = c
			}

		case "turn_context":
			if m := payload.Get("model").String(); m != "" {
				modelID = m
			}
			if cwd == "" {
				cwd = payload.Get("cwd").String()
			}

		case "event_msg":
			if payload.Get("type").String() != "token_count" {
				continue
			}
			total := payload.Get("info.total_token_usage")
			if !total.Exists() {
				continue
			}
			cur := codexTotals{
				input:  total.Get("input_tokens").Int(),
				cached: total.Get("cached_input_tokens").Int(),
				output: total.Get("output_tokens").Int(),
			}
			base := prev
			if cur.less(prev) {
				base = codexTotals{}
			}
			prev = cur

			dIn := cur.input - base.input
			dCached := cur.cached - base.cached
			dOut := cur.output - base.output
			if dIn+dOut <= 0 {
				continue
			}

			ts, err := time.Parse(time.RFC3339Nano, gjson.GetBytes(line, "timestamp").String())
			if err != nil {
				parseErrors++
				continue
			}
			uncached := dIn - dCached
			if uncached < 0 {
				uncached = 0
			}
			events = append(events, model.UsageEvent{
				Key:             AgentCodex + ":" + sessionID + ":" + strconv.Itoa(lineNo),
				Timestamp:       ts,
				ProviderID:      ProviderOpenAI,
				ModelID:         modelID,
				AgentID:         AgentCodex,
				SessionID:       sessionID,
				InputTokens:     uncached,
				OutputTokens:    dOut,
				CacheReadTokens: max(dCached, 0),
			})
		}
	}

	if err := scanner.Err(); err != nil {
		return ParseResult{Err: err}
	}

	for i := range events {
		events[i].ProjectPath = cwd
	}
	return ParseResult{
		Events:      events,
		ProjectPath: cwd,
		ParseErrors: parseErrors,
	}
}
