package events

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSink struct {
	events    []string
	summaries []string
	sessionID string
	turns     int
}

func (f *fakeSink) AppendEvent(agentID, eventType, data, summary string) error {
	f.events = append(f.events, eventType)
	f.summaries = append(f.summaries, summary)
	return nil
}

func (f *fakeSink) RecordAgentSession(agentID, sessionID string) error {
	if f.sessionID == "" {
		f.sessionID = sessionID
	}
	return nil
}

func (f *fakeSink) IncrementTurnsUsed(agentID string) error {
	f.turns++
	return nil
}

func TestConsume_ClassifiesKnownTypes(t *testing.T) {
	sink := &fakeSink{}
	rd := NewReader(sink, "agent-1")

	input := strings.Join([]string{
		`{"type":"system","session_id":"sess-abc"}`,
		`{"type":"assistant","message":{"content":[{"type":"text","text":"working on it"}]}}`,
		`{"type":"result","result":"opened pull/42"}`,
	}, "\n")

	res, err := rd.Consume(strings.NewReader(input))
	require.NoError(t, err)

	assert.Equal(t, []string{"system", "assistant", "result"}, sink.events)
	assert.Equal(t, []string{"", "working on it", ""}, sink.summaries)
	assert.Equal(t, "sess-abc", sink.sessionID)
	assert.Equal(t, 1, sink.turns)
	assert.True(t, res.SawResult)
	assert.Equal(t, 1, res.AssistantTurns)
	assert.Equal(t, "sess-abc", res.SessionID)
}

func TestConsume_MalformedLineBecomesErrorEvent(t *testing.T) {
	sink := &fakeSink{}
	rd := NewReader(sink, "agent-1")

	_, err := rd.Consume(strings.NewReader("not json at all\n"))
	require.NoError(t, err)
	assert.Equal(t, []string{"error"}, sink.events)
}

func TestConsume_UnknownDeclaredTypeFallsBackToError(t *testing.T) {
	sink := &fakeSink{}
	rd := NewReader(sink, "agent-1")

	_, err := rd.Consume(strings.NewReader(`{"type":"mystery"}` + "\n"))
	require.NoError(t, err)
	assert.Equal(t, []string{"error"}, sink.events)
}

func TestExtractPRNumber_PrefersStructuredField(t *testing.T) {
	n, fromRegex, ok := extractPRNumber(rawEvent{PRNumber: intPtr(17), Result: "see pull/99"})
	require.True(t, ok)
	assert.Equal(t, 17, n)
	assert.False(t, fromRegex)
}

func TestExtractPRNumber_FallsBackToRegex(t *testing.T) {
	n, fromRegex, ok := extractPRNumber(rawEvent{Result: "opened PR #123 for review"})
	require.True(t, ok)
	assert.Equal(t, 123, n)
	assert.True(t, fromRegex)
}

func TestExtractPRNumber_NoneFound(t *testing.T) {
	_, _, ok := extractPRNumber(rawEvent{Result: "nothing to see here"})
	assert.False(t, ok)
}

func TestSummarize_BashToolUse(t *testing.T) {
	raw := `{"type":"assistant","message":{"content":[{"type":"tool_use","name":"Bash","input":{"command":"go test ./..."}}]}}`
	assert.Equal(t, "[$ go test ./...]", Summarize(raw))
}

func TestSummarize_ReadToolUse(t *testing.T) {
	raw := `{"type":"assistant","message":{"content":[{"type":"tool_use","name":"Read","input":{"file_path":"main.go"}}]}}`
	assert.Equal(t, "[Read main.go]", Summarize(raw))
}

func TestSummarize_SkillToolUse(t *testing.T) {
	raw := `{"type":"assistant","message":{"content":[{"type":"tool_use","name":"Skill","input":{"name":"deploy"}}]}}`
	assert.Equal(t, "[Capability: deploy]", Summarize(raw))
}

func TestSummarize_NonAssistantReturnsEmpty(t *testing.T) {
	assert.Equal(t, "", Summarize(`{"type":"system"}`))
}

func intPtr(n int) *int { return &n }
