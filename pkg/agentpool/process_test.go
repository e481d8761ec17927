package agentpool

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"orchestrator/pkg/ratelimit"
)

type fakeSink struct {
	events    []string
	sessionID string
}

func (f *fakeSink) AppendEvent(agentID, eventType, data, summary string) error {
	f.events = append(f.events, eventType)
	return nil
}

func (f *fakeSink) RecordAgentSession(agentID, sessionID string) error {
	if f.sessionID == "" {
		f.sessionID = sessionID
	}
	return nil
}

func (f *fakeSink) IncrementTurnsUsed(agentID string) error { return nil }

func newTestDetector() *ratelimit.Detector {
	return ratelimit.NewDetector(prometheus.NewRegistry())
}

func TestSpawnAndWait_NormalExitParsesResult(t *testing.T) {
	sink := &fakeSink{}
	script := `echo '{"type":"system","session_id":"sess-1"}'; echo '{"type":"result","result":"opened pull/42"}'`

	p, err := spawn(context.Background(), spawnOpts{
		AgentID:  "t1",
		Argv:     []string{"/bin/sh", "-c", script},
		Sink:     sink,
		Detector: newTestDetector(),
		Timeout:  5 * time.Second,
	})
	require.NoError(t, err)

	out := p.Wait()
	assert.NoError(t, out.ExitErr)
	assert.False(t, out.TimedOut)
	assert.False(t, out.RateLimited)
	assert.Equal(t, 42, out.PRNumber)
	assert.Equal(t, "sess-1", out.SessionID)
}

func TestSpawnAndWait_NonZeroExitReportsExitErr(t *testing.T) {
	p, err := spawn(context.Background(), spawnOpts{
		AgentID:  "t2",
		Argv:     []string{"/bin/sh", "-c", "exit 1"},
		Sink:     &fakeSink{},
		Detector: newTestDetector(),
		Timeout:  5 * time.Second,
	})
	require.NoError(t, err)

	out := p.Wait()
	assert.Error(t, out.ExitErr)
}

func TestSpawnAndWait_RateLimitOnStderrTerminatesEarly(t *testing.T) {
	script := `echo "rate limit exceeded, please wait" 1>&2; sleep 5`
	p, err := spawn(context.Background(), spawnOpts{
		AgentID:  "t3",
		Argv:     []string{"/bin/sh", "-c", script},
		Sink:     &fakeSink{},
		Detector: newTestDetector(),
		Timeout:  10 * time.Second,
	})
	require.NoError(t, err)

	start := time.Now()
	out := p.Wait()
	elapsed := time.Since(start)

	assert.True(t, out.RateLimited)
	assert.Less(t, elapsed, 10*time.Second)
}

func TestSpawnAndWait_TimeoutForcesKill(t *testing.T) {
	p, err := spawn(context.Background(), spawnOpts{
		AgentID:  "t4",
		Argv:     []string{"/bin/sh", "-c", "sleep 5"},
		Sink:     &fakeSink{},
		Detector: newTestDetector(),
		Timeout:  200 * time.Millisecond,
	})
	require.NoError(t, err)

	out := p.Wait()
	assert.True(t, out.TimedOut)
}

func TestKill_IsIdempotent(t *testing.T) {
	p, err := spawn(context.Background(), spawnOpts{
		AgentID:  "t5",
		Argv:     []string{"/bin/sh", "-c", "sleep 5"},
		Sink:     &fakeSink{},
		Detector: newTestDetector(),
		Timeout:  0,
	})
	require.NoError(t, err)

	p.Kill()
	p.Kill()

	out := p.Wait()
	assert.Error(t, out.ExitErr)
}

func TestPID_ReturnsPositiveAfterStart(t *testing.T) {
	p, err := spawn(context.Background(), spawnOpts{
		AgentID:  "t6",
		Argv:     []string{"/bin/sh", "-c", "true"},
		Sink:     &fakeSink{},
		Detector: newTestDetector(),
		Timeout:  5 * time.Second,
	})
	require.NoError(t, err)
	assert.Greater(t, p.PID(), 0)
	p.Wait()
}
