// Package events classifies an agent's structured stdout stream into the
// State Store's event taxonomy and extracts the incidental facts (session
// id, PR number, tool-use summaries) the rest of the orchestrator depends
// on without having to re-parse raw agent output itself.
package events

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"regexp"
	"strings"

	"orchestrator/pkg/logx"
	"orchestrator/pkg/persistence"
)

// rawEvent is the loosely-typed shape of one line of agent stdout. Agent
// output is treated as untrusted: fields are read defensively and a
// parse failure never aborts the stream.
type rawEvent struct {
	Type      string          `json:"type"`
	SessionID string          `json:"session_id"`
	Subtype   string          `json:"subtype"`
	Message   json.RawMessage `json:"message"`
	Result    string          `json:"result"`
	PRNumber  *int            `json:"pr_number"`
	IsError   bool            `json:"is_error"`
}

type contentBlock struct {
	Type  string          `json:"type"`
	Text  string          `json:"text"`
	Name  string          `json:"name"`
	Input json.RawMessage `json:"input"`
}

type messageBody struct {
	Content []contentBlock `json:"content"`
}

// prNumberRe is the fallback extraction path for a PR number embedded in
// free text, used only when no structured pr_number field is present.
var prNumberRe = regexp.MustCompile(`(?i)(?:pull/|pull request #?|pr #)(\d+)`)

// Sink is where a classified event and its incidental facts are recorded.
// pkg/agentpool supplies one backed by the State Store.
type Sink interface {
	AppendEvent(agentID, eventType, data, summary string) error
	RecordAgentSession(agentID, sessionID string) error
	IncrementTurnsUsed(agentID string) error
}

// Result summarizes what a completed stream produced, for the caller's
// completion handling (PR-recovery cascade, retry decisions).
type Result struct {
	SessionID     string
	PRNumber      int
	PRFromRegex   bool
	SawResult     bool
	AssistantTurns int
}

// Reader consumes an agent's stdout line by line, classifying and
// recording each line, and returns a summary once the stream ends.
type Reader struct {
	sink    Sink
	agentID string
	logger  *logx.Logger
}

// NewReader builds a Reader that records into sink under agentID.
func NewReader(sink Sink, agentID string) *Reader {
	return &Reader{sink: sink, agentID: agentID, logger: logx.NewLogger("events")}
}

// Consume reads newline-delimited events from r until EOF, appending each
// to the sink and accumulating the facts callers need after the agent
// exits. It never returns an error for malformed input; parse failures
// become synthetic error events so the stream is never silently dropped.
func (rd *Reader) Consume(r io.Reader) (Result, error) {
	var res Result
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		rd.handleLine(line, &res)
	}
	if err := scanner.Err(); err != nil {
		return res, fmt.Errorf("failed reading agent output for %s: %w", rd.agentID, err)
	}
	return res, nil
}

func (rd *Reader) handleLine(line string, res *Result) {
	var raw rawEvent
	if err := json.Unmarshal([]byte(line), &raw); err != nil {
		rd.record(persistence.EventTypeError, line, "")
		rd.logger.Warn("agent %s emitted unparseable output line: %v", rd.agentID, err)
		return
	}

	eventType := classify(raw.Type)
	summary := ""
	if eventType == persistence.EventTypeAssistant {
		summary = Summarize(line)
	}
	rd.record(eventType, line, summary)

	if raw.SessionID != "" && res.SessionID == "" {
		res.SessionID = raw.SessionID
		if err := rd.sink.RecordAgentSession(rd.agentID, raw.SessionID); err != nil {
			rd.logger.Warn("failed to record session id for %s: %v", rd.agentID, err)
		}
	}

	switch eventType {
	case persistence.EventTypeAssistant:
		res.AssistantTurns++
		if err := rd.sink.IncrementTurnsUsed(rd.agentID); err != nil {
			rd.logger.Warn("failed to increment turns for %s: %v", rd.agentID, err)
		}
	case persistence.EventTypeResult:
		res.SawResult = true
		if pr, fromRegex, ok := extractPRNumber(raw); ok {
			res.PRNumber = pr
			res.PRFromRegex = fromRegex
			if fromRegex {
				rd.logger.Warn("agent %s: pr number %d recovered via text fallback, no structured field present", rd.agentID, pr)
			}
		}
	}
}

func (rd *Reader) record(eventType, raw, summary string) {
	if err := rd.sink.AppendEvent(rd.agentID, eventType, raw, summary); err != nil {
		rd.logger.Error("failed to append %s event for %s: %v", eventType, rd.agentID, err)
	}
}

// classify maps an agent-declared type onto the fixed event taxonomy,
// falling back to "error" for anything unrecognized so nothing is lost
// under a type the classifier doesn't yet know about.
func classify(declared string) string {
	switch declared {
	case persistence.EventTypeSystem,
		persistence.EventTypeAssistant,
		persistence.EventTypeToolUse,
		persistence.EventTypeUser,
		persistence.EventTypeResult,
		persistence.EventTypeError,
		persistence.EventTypeRateLimit:
		return declared
	default:
		return persistence.EventTypeError
	}
}

// extractPRNumber prefers the structured field; only when it's absent
// does it fall back to scanning the result text with prNumberRe.
func extractPRNumber(raw rawEvent) (number int, fromRegex bool, ok bool) {
	if raw.PRNumber != nil {
		return *raw.PRNumber, false, true
	}
	m := prNumberRe.FindStringSubmatch(raw.Result)
	if m == nil {
		return 0, false, false
	}
	var n int
	if _, err := fmt.Sscanf(m[1], "%d", &n); err != nil {
		return 0, false, false
	}
	return n, true, true
}

// Summarize renders a short inline description of an assistant event's
// tool-use and text content, for compact display in the dashboard's
// event feed without re-parsing the raw JSON client-side. Thinking blocks
// are not summarized.
func Summarize(raw string) string {
	var re rawEvent
	if err := json.Unmarshal([]byte(raw), &re); err != nil || re.Message == nil {
		return ""
	}
	var body messageBody
	if err := json.Unmarshal(re.Message, &body); err != nil {
		return ""
	}

	var parts []string
	for _, block := range body.Content {
		switch block.Type {
		case "tool_use":
			parts = append(parts, summarizeToolUse(block))
		case "text":
			if t := strings.TrimSpace(block.Text); t != "" {
				parts = append(parts, truncate(t, 120))
			}
		}
	}
	return strings.Join(parts, " ")
}

func summarizeToolUse(block contentBlock) string {
	var input map[string]any
	_ = json.Unmarshal(block.Input, &input)

	switch block.Name {
	case "Bash":
		if cmd, ok := input["command"].(string); ok {
			return fmt.Sprintf("[$ %s]", truncate(cmd, 80))
		}
	case "Read", "Edit", "Write":
		if p, ok := input["file_path"].(string); ok {
			return fmt.Sprintf("[%s %s]", block.Name, p)
		}
	case "Skill":
		if name, ok := input["name"].(string); ok {
			return fmt.Sprintf("[Capability: %s]", name)
		}
	}
	return fmt.Sprintf("[%s]", block.Name)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
