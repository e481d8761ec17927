package webui

import (
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"orchestrator/pkg/metrics"
	"orchestrator/pkg/persistence"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	db, err := persistence.InitializeDatabase(filepath.Join(t.TempDir(), "orchestrator.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return NewServer(persistence.NewStore(db), metrics.New())
}

func TestHandleMetrics_ReturnsAggregateCounters(t *testing.T) {
	s := newTestServer(t)
	require.NoError(t, s.store.UpsertWorkItem(1, "t", "b"))

	req := httptest.NewRequest("GET", "/api/metrics", nil)
	rec := httptest.NewRecorder()
	s.handleMetrics(rec, req)

	assert.Equal(t, 200, rec.Code)
	assert.Contains(t, rec.Body.String(), `"pending":1`)
}

func TestHandleAgents_ListsRuns(t *testing.T) {
	s := newTestServer(t)
	require.NoError(t, s.store.CreateAgentRun(&persistence.AgentRun{
		AgentID: "a1", Kind: persistence.AgentKindImplement, Status: persistence.AgentStatusRunning,
	}))

	req := httptest.NewRequest("GET", "/api/agents", nil)
	rec := httptest.NewRecorder()
	s.handleAgents(rec, req)

	assert.Equal(t, 200, rec.Code)
	assert.Contains(t, rec.Body.String(), "a1")
}

func TestHandleAgentLogs_FiltersBySince(t *testing.T) {
	s := newTestServer(t)
	require.NoError(t, s.store.CreateAgentRun(&persistence.AgentRun{
		AgentID: "a1", Kind: persistence.AgentKindImplement, Status: persistence.AgentStatusRunning,
	}))
	require.NoError(t, s.store.AppendEvent("a1", persistence.EventTypeSystem, `{"type":"system"}`, ""))
	require.NoError(t, s.store.AppendEvent("a1", persistence.EventTypeResult, `{"type":"result"}`, ""))

	req := httptest.NewRequest("GET", "/api/agents/a1/logs?since=1", nil)
	rec := httptest.NewRecorder()
	s.handleAgentLogs(rec, req)

	assert.Equal(t, 200, rec.Code)
	assert.Contains(t, rec.Body.String(), "result")
	assert.NotContains(t, rec.Body.String(), "system")
}

func TestHandleAgentLogs_RejectsMalformedPath(t *testing.T) {
	s := newTestServer(t)

	req := httptest.NewRequest("GET", "/api/agents/a1", nil)
	rec := httptest.NewRecorder()
	s.handleAgentLogs(rec, req)

	assert.Equal(t, 404, rec.Code)
}

func TestHandleIssues_ListsWorkItems(t *testing.T) {
	s := newTestServer(t)
	require.NoError(t, s.store.UpsertWorkItem(5, "flaky test", "body"))

	req := httptest.NewRequest("GET", "/api/issues", nil)
	rec := httptest.NewRecorder()
	s.handleIssues(rec, req)

	assert.Equal(t, 200, rec.Code)
	assert.Contains(t, rec.Body.String(), "flaky test")
}

func TestHandlePRs_OnlyIncludesItemsWithPR(t *testing.T) {
	s := newTestServer(t)
	require.NoError(t, s.store.UpsertWorkItem(1, "no pr", "b"))
	require.NoError(t, s.store.UpsertWorkItem(2, "has pr", "b"))
	require.NoError(t, s.store.SeedPRCreated(2, "has pr", "b", 42))
	_, err := s.store.UpsertReviewIteration(42, 1, 3, "")
	require.NoError(t, err)

	req := httptest.NewRequest("GET", "/api/prs", nil)
	rec := httptest.NewRecorder()
	s.handlePRs(rec, req)

	assert.Equal(t, 200, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, "has pr")
	assert.NotContains(t, body, "no pr")
}

func TestHandleDashboard_RendersOnRootOnly(t *testing.T) {
	s := newTestServer(t)

	req := httptest.NewRequest("GET", "/", nil)
	rec := httptest.NewRecorder()
	s.handleDashboard(rec, req)
	assert.Equal(t, 200, rec.Code)
	assert.Contains(t, rec.Body.String(), "orchestrator")

	req = httptest.NewRequest("GET", "/nope", nil)
	rec = httptest.NewRecorder()
	s.handleDashboard(rec, req)
	assert.Equal(t, 404, rec.Code)
}
