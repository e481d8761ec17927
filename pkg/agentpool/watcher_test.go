package agentpool

import (
	"database/sql"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"orchestrator/pkg/config"
	"orchestrator/pkg/persistence"
)

func TestResumeArgv_ImplementBuildsPromptFromWorkItem(t *testing.T) {
	s, store, _ := newTestSupervisor(t, &config.Config{})
	require.NoError(t, store.UpsertWorkItem(7, "flaky test", "body"))

	argv, err := s.resumeArgv(&persistence.AgentRun{
		AgentID:     "agent-1",
		Kind:        persistence.AgentKindImplement,
		WorkItemNum: sql.NullInt64{Int64: 7, Valid: true},
		BranchName:  "fix/issue-7",
	}, nil)
	require.NoError(t, err)

	assert.Equal(t, "claude", argv[0])
	assert.Equal(t, "-p", argv[1])
	assert.Contains(t, argv[2], "issue #7")
	assert.Contains(t, argv[2], "rate limit")
}

func TestResumeArgv_UnknownKindErrors(t *testing.T) {
	s, _, _ := newTestSupervisor(t, &config.Config{})
	_, err := s.resumeArgv(&persistence.AgentRun{AgentID: "a1", Kind: "bogus"}, nil)
	assert.Error(t, err)
}

func TestResumeArgv_ImplementWithoutWorkItemErrors(t *testing.T) {
	s, _, _ := newTestSupervisor(t, &config.Config{})
	_, err := s.resumeArgv(&persistence.AgentRun{AgentID: "a1", Kind: persistence.AgentKindImplement}, nil)
	assert.Error(t, err)
}
