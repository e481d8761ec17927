package persistence

import (
	"database/sql"
	"errors"
	"fmt"
)

// ErrAlreadyClaimed is returned by ClaimWorkItem when the item is not in
// pending status, so dispatch decisions can distinguish "someone else got
// there first" from a genuine failure.
var ErrAlreadyClaimed = errors.New("work item is not pending")

// Store wraps a *sql.DB with the operations named in the state-store
// component design. All writes are serialized by SQLite's single-writer
// discipline (the pool is capped to one open connection).
type Store struct {
	db *sql.DB
}

// NewStore wraps an existing database handle.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// UpsertWorkItem inserts a work item with status=pending if absent;
// otherwise only touches updated_at and refreshes the text snapshot,
// never resetting a non-pending status.
func (s *Store) UpsertWorkItem(number int, title, body string) error {
	_, err := s.db.Exec(`
		INSERT INTO work_items (number, title, body, status)
		VALUES (?, ?, ?, 'pending')
		ON CONFLICT(number) DO UPDATE SET
			title = excluded.title,
			body = excluded.body,
			updated_at = strftime('%Y-%m-%dT%H:%M:%fZ','now')
	`, number, title, body)
	if err != nil {
		return fmt.Errorf("failed to upsert work item %d: %w", number, err)
	}
	return nil
}

// ClaimWorkItem atomically transitions pending -> in_progress, assigns the
// agent, and increments attempts. Two concurrent claims on the same item
// cannot both succeed: the UPDATE's WHERE clause only matches one row.
func (s *Store) ClaimWorkItem(number int, agentID string) error {
	res, err := s.db.Exec(`
		UPDATE work_items
		SET status = 'in_progress',
		    assigned_agent_id = ?,
		    attempts = attempts + 1,
		    updated_at = strftime('%Y-%m-%dT%H:%M:%fZ','now')
		WHERE number = ? AND status = 'pending'
	`, agentID, number)
	if err != nil {
		return fmt.Errorf("failed to claim work item %d: %w", number, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read claim result for %d: %w", number, err)
	}
	if n == 0 {
		return ErrAlreadyClaimed
	}
	return nil
}

// SeedPRCreated inserts a brand-new work item directly in pr_created
// status, for the Issue Poller's existing-PR detection path.
func (s *Store) SeedPRCreated(number int, title, body string, prNumber int) error {
	_, err := s.db.Exec(`
		INSERT INTO work_items (number, title, body, status, pr_number)
		VALUES (?, ?, ?, 'pr_created', ?)
		ON CONFLICT(number) DO UPDATE SET
			pr_number = excluded.pr_number,
			status = CASE WHEN work_items.status = 'pending' THEN 'pr_created' ELSE work_items.status END,
			updated_at = strftime('%Y-%m-%dT%H:%M:%fZ','now')
	`, number, title, body, prNumber)
	if err != nil {
		return fmt.Errorf("failed to seed pr_created for %d: %w", number, err)
	}
	return nil
}

// RecordPRCreated transitions in_progress -> pr_created with PR linkage.
func (s *Store) RecordPRCreated(number, prNumber int) error {
	_, err := s.db.Exec(`
		UPDATE work_items
		SET status = 'pr_created', pr_number = ?, updated_at = strftime('%Y-%m-%dT%H:%M:%fZ','now')
		WHERE number = ?
	`, prNumber, number)
	if err != nil {
		return fmt.Errorf("failed to record pr_created for %d: %w", number, err)
	}
	return nil
}

// RequeueWorkItem transitions a work item back to pending after a
// non-rate-limit failure that has not yet exhausted the retry ceiling.
func (s *Store) RequeueWorkItem(number int) error {
	_, err := s.db.Exec(`
		UPDATE work_items
		SET status = 'pending', assigned_agent_id = NULL, updated_at = strftime('%Y-%m-%dT%H:%M:%fZ','now')
		WHERE number = ?
	`, number)
	if err != nil {
		return fmt.Errorf("failed to requeue work item %d: %w", number, err)
	}
	return nil
}

// RecordResolved marks a work item resolved. Callers must have already
// confirmed the PR was merged.
func (s *Store) RecordResolved(number int) error {
	_, err := s.db.Exec(`
		UPDATE work_items SET status = 'resolved', updated_at = strftime('%Y-%m-%dT%H:%M:%fZ','now')
		WHERE number = ?
	`, number)
	if err != nil {
		return fmt.Errorf("failed to record resolved for %d: %w", number, err)
	}
	return nil
}

// RecordNeedsHuman marks a work item escalated for human attention.
func (s *Store) RecordNeedsHuman(number int) error {
	_, err := s.db.Exec(`
		UPDATE work_items SET status = 'needs_human', updated_at = strftime('%Y-%m-%dT%H:%M:%fZ','now')
		WHERE number = ?
	`, number)
	if err != nil {
		return fmt.Errorf("failed to record needs_human for %d: %w", number, err)
	}
	return nil
}

// GetWorkItem fetches a work item by number.
func (s *Store) GetWorkItem(number int) (*WorkItem, error) {
	var w WorkItem
	err := s.db.QueryRow(`
		SELECT number, title, body, status, assigned_agent_id, pr_number, attempts, created_at, updated_at
		FROM work_items WHERE number = ?
	`, number).Scan(&w.Number, &w.Title, &w.Body, &w.Status, &w.AssignedAgentID, &w.PRNumber, &w.Attempts, &w.CreatedAt, &w.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get work item %d: %w", number, err)
	}
	return &w, nil
}

// ListWorkItemsByStatus returns all work items in the given status.
func (s *Store) ListWorkItemsByStatus(status string) ([]*WorkItem, error) {
	rows, err := s.db.Query(`
		SELECT number, title, body, status, assigned_agent_id, pr_number, attempts, created_at, updated_at
		FROM work_items WHERE status = ? ORDER BY number
	`, status)
	if err != nil {
		return nil, fmt.Errorf("failed to list work items with status %s: %w", status, err)
	}
	defer rows.Close()

	var items []*WorkItem
	for rows.Next() {
		var w WorkItem
		if err := rows.Scan(&w.Number, &w.Title, &w.Body, &w.Status, &w.AssignedAgentID, &w.PRNumber, &w.Attempts, &w.CreatedAt, &w.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan work item: %w", err)
		}
		items = append(items, &w)
	}
	return items, rows.Err()
}

// ListAllWorkItems returns every tracked work item.
func (s *Store) ListAllWorkItems() ([]*WorkItem, error) {
	rows, err := s.db.Query(`
		SELECT number, title, body, status, assigned_agent_id, pr_number, attempts, created_at, updated_at
		FROM work_items ORDER BY number
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list work items: %w", err)
	}
	defer rows.Close()

	var items []*WorkItem
	for rows.Next() {
		var w WorkItem
		if err := rows.Scan(&w.Number, &w.Title, &w.Body, &w.Status, &w.AssignedAgentID, &w.PRNumber, &w.Attempts, &w.CreatedAt, &w.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan work item: %w", err)
		}
		items = append(items, &w)
	}
	return items, rows.Err()
}

// CreateAgentRun inserts a new agent run row with the status set on run.
func (s *Store) CreateAgentRun(run *AgentRun) error {
	_, err := s.db.Exec(`
		INSERT INTO agent_runs (agent_id, work_item_number, pr_number, kind, status, worktree_path, branch_name, pid, resume_count)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, run.AgentID, run.WorkItemNum, run.PRNumber, run.Kind, run.Status, run.WorktreePath, run.BranchName, run.PID, run.ResumeCount)
	if err != nil {
		return fmt.Errorf("failed to create agent run %s: %w", run.AgentID, err)
	}
	return nil
}

// RecordAgentPID sets the OS pid for a running agent.
func (s *Store) RecordAgentPID(agentID string, pid int) error {
	_, err := s.db.Exec(`UPDATE agent_runs SET pid = ? WHERE agent_id = ?`, pid, agentID)
	if err != nil {
		return fmt.Errorf("failed to record pid for %s: %w", agentID, err)
	}
	return nil
}

// RecordAgentSession stores the session id the first time one is seen;
// later calls are no-ops (first occurrence wins).
func (s *Store) RecordAgentSession(agentID, sessionID string) error {
	_, err := s.db.Exec(`
		UPDATE agent_runs SET session_id = ?
		WHERE agent_id = ? AND (session_id IS NULL OR session_id = '')
	`, sessionID, agentID)
	if err != nil {
		return fmt.Errorf("failed to record session for %s: %w", agentID, err)
	}
	return nil
}

// RecordAgentStatus transitions an agent run's status, optionally with an
// error message, and stamps finished_at for terminal statuses.
func (s *Store) RecordAgentStatus(agentID, status string, errMsg string) error {
	terminal := status == AgentStatusCompleted || status == AgentStatusFailed || status == AgentStatusTimeout
	var err error
	if terminal {
		_, err = s.db.Exec(`
			UPDATE agent_runs
			SET status = ?, error_message = NULLIF(?, ''), finished_at = strftime('%Y-%m-%dT%H:%M:%fZ','now')
			WHERE agent_id = ?
		`, status, errMsg, agentID)
	} else {
		_, err = s.db.Exec(`
			UPDATE agent_runs SET status = ?, error_message = NULLIF(?, '') WHERE agent_id = ?
		`, status, errMsg, agentID)
	}
	if err != nil {
		return fmt.Errorf("failed to record status %s for %s: %w", status, agentID, err)
	}
	return nil
}

// RecordAgentRateLimited transitions a run to rate_limited and stamps
// rate_limited_at without incrementing any attempts counter.
func (s *Store) RecordAgentRateLimited(agentID string) error {
	_, err := s.db.Exec(`
		UPDATE agent_runs
		SET status = 'rate_limited', rate_limited_at = strftime('%Y-%m-%dT%H:%M:%fZ','now')
		WHERE agent_id = ?
	`, agentID)
	if err != nil {
		return fmt.Errorf("failed to record rate limit for %s: %w", agentID, err)
	}
	return nil
}

// RecordAgentResumed flips the prior run to resumed and increments the
// resume count on the successor row created for the resumption.
func (s *Store) RecordAgentResumed(priorAgentID, newAgentID string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin resume transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.Exec(`UPDATE agent_runs SET status = 'resumed' WHERE agent_id = ?`, priorAgentID); err != nil {
		return fmt.Errorf("failed to flip prior run %s: %w", priorAgentID, err)
	}
	if _, err := tx.Exec(`
		UPDATE agent_runs SET resume_count = resume_count + 1 WHERE agent_id = ?
	`, newAgentID); err != nil {
		return fmt.Errorf("failed to bump resume count for %s: %w", newAgentID, err)
	}
	return tx.Commit()
}

// GetAgentRun fetches a single agent run.
func (s *Store) GetAgentRun(agentID string) (*AgentRun, error) {
	var r AgentRun
	err := s.db.QueryRow(`
		SELECT agent_id, work_item_number, pr_number, kind, status, worktree_path, branch_name,
		       pid, session_id, resume_count, rate_limited_at, turns_used, started_at, finished_at, error_message
		FROM agent_runs WHERE agent_id = ?
	`, agentID).Scan(&r.AgentID, &r.WorkItemNum, &r.PRNumber, &r.Kind, &r.Status, &r.WorktreePath, &r.BranchName,
		&r.PID, &r.SessionID, &r.ResumeCount, &r.RateLimitedAt, &r.TurnsUsed, &r.StartedAt, &r.FinishedAt, &r.ErrorMessage)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get agent run %s: %w", agentID, err)
	}
	return &r, nil
}

// ListAgentRunsByStatus returns agent runs currently in the given status.
func (s *Store) ListAgentRunsByStatus(status string) ([]*AgentRun, error) {
	return s.queryAgentRuns(`
		SELECT agent_id, work_item_number, pr_number, kind, status, worktree_path, branch_name,
		       pid, session_id, resume_count, rate_limited_at, turns_used, started_at, finished_at, error_message
		FROM agent_runs WHERE status = ? ORDER BY started_at
	`, status)
}

// ListAllAgentRuns returns every agent run, most recent first.
func (s *Store) ListAllAgentRuns() ([]*AgentRun, error) {
	return s.queryAgentRuns(`
		SELECT agent_id, work_item_number, pr_number, kind, status, worktree_path, branch_name,
		       pid, session_id, resume_count, rate_limited_at, turns_used, started_at, finished_at, error_message
		FROM agent_runs ORDER BY started_at DESC
	`)
}

// CountRunningForWorkItem reports how many runs are running/rate_limited
// for a given work item (used to enforce the per-work-item concurrency
// invariant before dispatch).
func (s *Store) CountRunningForWorkItem(number int) (int, error) {
	var n int
	err := s.db.QueryRow(`
		SELECT COUNT(*) FROM agent_runs
		WHERE work_item_number = ? AND status IN ('running', 'rate_limited')
	`, number).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count active runs for work item %d: %w", number, err)
	}
	return n, nil
}

// CountRunningForPR reports how many runs are running for a given PR.
func (s *Store) CountRunningForPR(prNumber int) (int, error) {
	var n int
	err := s.db.QueryRow(`
		SELECT COUNT(*) FROM agent_runs WHERE pr_number = ? AND status = 'running'
	`, prNumber).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count active runs for pr %d: %w", prNumber, err)
	}
	return n, nil
}

// CountRunning reports the global count of running agent runs, the
// quantity MAX_CONCURRENT_AGENTS bounds.
func (s *Store) CountRunning() (int, error) {
	var n int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM agent_runs WHERE status = 'running'`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count running agents: %w", err)
	}
	return n, nil
}

func (s *Store) queryAgentRuns(query string, args ...interface{}) ([]*AgentRun, error) {
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query agent runs: %w", err)
	}
	defer rows.Close()

	var runs []*AgentRun
	for rows.Next() {
		var r AgentRun
		if err := rows.Scan(&r.AgentID, &r.WorkItemNum, &r.PRNumber, &r.Kind, &r.Status, &r.WorktreePath, &r.BranchName,
			&r.PID, &r.SessionID, &r.ResumeCount, &r.RateLimitedAt, &r.TurnsUsed, &r.StartedAt, &r.FinishedAt, &r.ErrorMessage); err != nil {
			return nil, fmt.Errorf("failed to scan agent run: %w", err)
		}
		runs = append(runs, &r)
	}
	return runs, rows.Err()
}

// AppendEvent always succeeds (barring I/O failure); events are
// append-only and never mutated. summary is an optional short inline
// description of the event's content (e.g. a tool-use description for an
// assistant event) and is empty for event types that carry none.
func (s *Store) AppendEvent(agentID, eventType, data, summary string) error {
	_, err := s.db.Exec(`
		INSERT INTO agent_events (agent_id, event_type, event_data, summary) VALUES (?, ?, ?, ?)
	`, agentID, eventType, data, summary)
	if err != nil {
		return fmt.Errorf("failed to append event for %s: %w", agentID, err)
	}
	return nil
}

// IncrementTurnsUsed bumps the derived assistant-event counter for a run.
func (s *Store) IncrementTurnsUsed(agentID string) error {
	_, err := s.db.Exec(`UPDATE agent_runs SET turns_used = turns_used + 1 WHERE agent_id = ?`, agentID)
	if err != nil {
		return fmt.Errorf("failed to increment turns for %s: %w", agentID, err)
	}
	return nil
}

// ListEventsSince returns events for an agent with id > since, ascending.
func (s *Store) ListEventsSince(agentID string, since int64) ([]*AgentEvent, error) {
	rows, err := s.db.Query(`
		SELECT id, agent_id, event_type, event_data, summary, timestamp
		FROM agent_events WHERE agent_id = ? AND id > ? ORDER BY id ASC
	`, agentID, since)
	if err != nil {
		return nil, fmt.Errorf("failed to list events for %s: %w", agentID, err)
	}
	defer rows.Close()

	var events []*AgentEvent
	for rows.Next() {
		var e AgentEvent
		if err := rows.Scan(&e.ID, &e.AgentID, &e.EventType, &e.EventData, &e.Summary, &e.Timestamp); err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		events = append(events, &e)
	}
	return events, rows.Err()
}

// UpsertReviewIteration inserts a new iteration row for a PR. Callers are
// responsible for choosing the next dense iteration number.
func (s *Store) UpsertReviewIteration(prNumber, iteration, commentsCount int, commentsJSON string) (int64, error) {
	res, err := s.db.Exec(`
		INSERT INTO review_iterations (pr_number, iteration, comments_count, comments_json)
		VALUES (?, ?, ?, NULLIF(?, ''))
	`, prNumber, iteration, commentsCount, commentsJSON)
	if err != nil {
		return 0, fmt.Errorf("failed to insert review iteration for pr %d: %w", prNumber, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to read review iteration id for pr %d: %w", prNumber, err)
	}
	return id, nil
}

// LinkFixAgent attaches the fix agent id to a review iteration.
func (s *Store) LinkFixAgent(iterationID int64, agentID string) error {
	_, err := s.db.Exec(`UPDATE review_iterations SET agent_id = ?, status = 'fixing' WHERE id = ?`, agentID, iterationID)
	if err != nil {
		return fmt.Errorf("failed to link fix agent to iteration %d: %w", iterationID, err)
	}
	return nil
}

// RecordIterationStatus updates a review iteration's status.
func (s *Store) RecordIterationStatus(iterationID int64, status string) error {
	_, err := s.db.Exec(`UPDATE review_iterations SET status = ? WHERE id = ?`, status, iterationID)
	if err != nil {
		return fmt.Errorf("failed to record iteration status for %d: %w", iterationID, err)
	}
	return nil
}

// LatestIteration returns the highest iteration number recorded for a PR,
// or 0 if none exist.
func (s *Store) LatestIteration(prNumber int) (int, error) {
	var n sql.NullInt64
	err := s.db.QueryRow(`SELECT MAX(iteration) FROM review_iterations WHERE pr_number = ?`, prNumber).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to get latest iteration for pr %d: %w", prNumber, err)
	}
	if !n.Valid {
		return 0, nil
	}
	return int(n.Int64), nil
}

// HasOutstandingFix reports whether a PR has an iteration still in
// "fixing" status, the invariant that keeps at most one fix agent
// outstanding per PR.
func (s *Store) HasOutstandingFix(prNumber int) (bool, error) {
	var n int
	err := s.db.QueryRow(`
		SELECT COUNT(*) FROM review_iterations WHERE pr_number = ? AND status = 'fixing'
	`, prNumber).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("failed to check outstanding fix for pr %d: %w", prNumber, err)
	}
	return n > 0, nil
}

// ListIterationsForPR returns all review iterations for a PR, ascending.
func (s *Store) ListIterationsForPR(prNumber int) ([]*ReviewIteration, error) {
	rows, err := s.db.Query(`
		SELECT id, pr_number, iteration, comments_count, comments_json, agent_id, status, created_at
		FROM review_iterations WHERE pr_number = ? ORDER BY iteration
	`, prNumber)
	if err != nil {
		return nil, fmt.Errorf("failed to list iterations for pr %d: %w", prNumber, err)
	}
	defer rows.Close()

	var out []*ReviewIteration
	for rows.Next() {
		var it ReviewIteration
		if err := rows.Scan(&it.ID, &it.PRNumber, &it.Iteration, &it.CommentsCount, &it.CommentsJSON, &it.AgentID, &it.Status, &it.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan review iteration: %w", err)
		}
		out = append(out, &it)
	}
	return out, rows.Err()
}

// GetIterationIDByAgent returns the review iteration id a fix agent was
// linked to, or 0 if none is linked.
func (s *Store) GetIterationIDByAgent(agentID string) (int64, error) {
	var id int64
	err := s.db.QueryRow(`SELECT id FROM review_iterations WHERE agent_id = ?`, agentID).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to look up iteration for agent %s: %w", agentID, err)
	}
	return id, nil
}

// GetMetrics computes the aggregate snapshot served by the dashboard.
func (s *Store) GetMetrics() (*Metrics, error) {
	m := &Metrics{}

	statusCounts := map[string]*int{
		WorkItemPending:    &m.Pending,
		WorkItemInProgress: &m.InProgress,
		WorkItemPRCreated:  &m.PRCreated,
		WorkItemResolved:   &m.Resolved,
		WorkItemNeedsHuman: &m.NeedsHuman,
	}
	for status, dst := range statusCounts {
		if err := s.db.QueryRow(`SELECT COUNT(*) FROM work_items WHERE status = ?`, status).Scan(dst); err != nil {
			return nil, fmt.Errorf("failed to count work items in %s: %w", status, err)
		}
	}

	if err := s.db.QueryRow(`SELECT COUNT(*) FROM agent_runs WHERE status = 'running'`).Scan(&m.ActiveAgents); err != nil {
		return nil, fmt.Errorf("failed to count active agents: %w", err)
	}
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM agent_runs WHERE status = 'rate_limited'`).Scan(&m.RateLimited); err != nil {
		return nil, fmt.Errorf("failed to count rate-limited agents: %w", err)
	}

	var avg sql.NullFloat64
	if err := s.db.QueryRow(`
		SELECT AVG(turns_used) FROM agent_runs WHERE status = 'completed'
	`).Scan(&avg); err != nil {
		return nil, fmt.Errorf("failed to average turns used: %w", err)
	}
	if avg.Valid {
		m.AverageTurns = avg.Float64
	}

	return m, nil
}
