package persistence

import (
	"database/sql"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecoverStaleRuns_LeavesLiveProcessAlone(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.UpsertWorkItem(1, "t", "b"))
	require.NoError(t, s.ClaimWorkItem(1, "a1"))
	require.NoError(t, s.CreateAgentRun(&AgentRun{
		AgentID:      "a1",
		WorkItemNum:  sql.NullInt64{Int64: 1, Valid: true},
		Kind:         AgentKindImplement,
		Status:       AgentStatusRunning,
		WorktreePath: "/tmp/wt-a1",
		PID:          sql.NullInt64{Int64: int64(os.Getpid()), Valid: true},
	}))

	recovered, err := s.RecoverStaleRuns()
	require.NoError(t, err)
	assert.Empty(t, recovered)

	run, err := s.GetAgentRun("a1")
	require.NoError(t, err)
	assert.Equal(t, AgentStatusRunning, run.Status)
}

func TestRecoverStaleRuns_MarksDeadPIDFailedAndRequeues(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.UpsertWorkItem(2, "t", "b"))
	require.NoError(t, s.ClaimWorkItem(2, "a2"))
	require.NoError(t, s.CreateAgentRun(&AgentRun{
		AgentID:      "a2",
		WorkItemNum:  sql.NullInt64{Int64: 2, Valid: true},
		Kind:         AgentKindImplement,
		Status:       AgentStatusRunning,
		WorktreePath: "/tmp/wt-a2",
		PID:          sql.NullInt64{Int64: 999999, Valid: true},
	}))

	recovered, err := s.RecoverStaleRuns()
	require.NoError(t, err)
	require.Len(t, recovered, 1)
	assert.Equal(t, "a2", recovered[0].AgentID)
	assert.Equal(t, "/tmp/wt-a2", recovered[0].WorktreePath)

	run, err := s.GetAgentRun("a2")
	require.NoError(t, err)
	assert.Equal(t, AgentStatusFailed, run.Status)

	item, err := s.GetWorkItem(2)
	require.NoError(t, err)
	assert.Equal(t, WorkItemPending, item.Status)
}

func TestRecoverStaleRuns_DoesNotRequeueWhenPRAlreadyProduced(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.SeedPRCreated(3, "t", "b", 55))
	require.NoError(t, s.CreateAgentRun(&AgentRun{
		AgentID:      "a3",
		WorkItemNum:  sql.NullInt64{Int64: 3, Valid: true},
		Kind:         AgentKindFixReview,
		Status:       AgentStatusRateLimited,
		WorktreePath: "/tmp/wt-a3",
		PID:          sql.NullInt64{Int64: 999999, Valid: true},
	}))

	recovered, err := s.RecoverStaleRuns()
	require.NoError(t, err)
	require.Len(t, recovered, 1)

	item, err := s.GetWorkItem(3)
	require.NoError(t, err)
	assert.Equal(t, WorkItemPRCreated, item.Status)
}

func TestProcessAlive_TrueForSelf(t *testing.T) {
	assert.True(t, processAlive(os.Getpid()))
}

func TestProcessAlive_FalseForImplausiblePID(t *testing.T) {
	assert.False(t, processAlive(999999))
}
