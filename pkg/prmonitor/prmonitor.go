// Package prmonitor periodically walks open change proposals, reads
// unresolved review threads and CI status, and asks the Agent Pool
// Supervisor to dispatch fix agents when review feedback or CI failures
// are outstanding.
package prmonitor

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"orchestrator/pkg/capability"
	"orchestrator/pkg/github"
	"orchestrator/pkg/logx"
	"orchestrator/pkg/persistence"
)

const needsHumanLabel = "needs-human"

// Dispatcher is the subset of the Agent Pool Supervisor the monitor drives.
type Dispatcher interface {
	CanDispatch() (bool, error)
	DispatchFix(ctx context.Context, prNumber int, branch string, threads []github.ReviewThread, caps []capability.Capability) (string, error)
}

// Monitor runs the periodic PR-review polling loop.
type Monitor struct {
	gh              *github.Client
	store           *persistence.Store
	dispatcher      Dispatcher
	maxPRFixRetries int
	interval        time.Duration
	logger          *logx.Logger
}

// New builds a Monitor.
func New(gh *github.Client, store *persistence.Store, dispatcher Dispatcher, maxPRFixRetries int, interval time.Duration) *Monitor {
	return &Monitor{
		gh:              gh,
		store:           store,
		dispatcher:      dispatcher,
		maxPRFixRetries: maxPRFixRetries,
		interval:        interval,
		logger:          logx.NewLogger("prmonitor"),
	}
}

// Run blocks, ticking every interval until ctx is canceled.
func (m *Monitor) Run(ctx context.Context, caps []capability.Capability) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.tick(ctx, caps)
		}
	}
}

func (m *Monitor) tick(ctx context.Context, caps []capability.Capability) {
	items, err := m.store.ListWorkItemsByStatus(persistence.WorkItemPRCreated)
	if err != nil {
		m.logger.Error("failed to list pr_created work items: %v", err)
		return
	}

	for _, item := range items {
		if !item.PRNumber.Valid {
			m.logger.Warn("work item #%d is pr_created with no pr_number", item.Number)
			continue
		}
		if err := m.pollPR(ctx, item, int(item.PRNumber.Int64), caps); err != nil {
			m.logger.Error("failed to poll pr %d for issue #%d: %v", item.PRNumber.Int64, item.Number, err)
		}
	}
}

func (m *Monitor) pollPR(ctx context.Context, item *persistence.WorkItem, prNumber int, caps []capability.Capability) error {
	pr, err := m.gh.GetPR(ctx, fmt.Sprintf("%d", prNumber))
	if err != nil {
		return fmt.Errorf("failed to get pr %d: %w", prNumber, err)
	}

	threads, fromThreadAPI, err := m.gh.GetReviewThreadsWithFallback(ctx, prNumber)
	if err != nil {
		return fmt.Errorf("failed to get review threads for pr %d: %w", prNumber, err)
	}
	if !fromThreadAPI {
		m.logger.Warn("pr %d: using comment-count fallback for review threads", prNumber)
	}

	ci, err := m.gh.GetPRWorkflowStatus(ctx, prNumber)
	if err != nil {
		return fmt.Errorf("failed to get workflow status for pr %d: %w", prNumber, err)
	}

	unresolved := len(threads)

	switch {
	case unresolved == 0 && ci.State == github.WorkflowStateSuccess:
		if pr.IsMerged() {
			return m.store.RecordResolved(item.Number)
		}
		m.logger.Debug("pr %d passed review and CI, awaiting merge", prNumber)
		return nil
	case unresolved > 0 || ci.State == github.WorkflowStateFailure:
		return m.requestFix(ctx, item, prNumber, pr.HeadRefName, threads, caps)
	default:
		// CI still pending and no new threads: wait for next tick.
		return nil
	}
}

func (m *Monitor) requestFix(ctx context.Context, item *persistence.WorkItem, prNumber int, branch string, threads []github.ReviewThread, caps []capability.Capability) error {
	outstanding, err := m.store.HasOutstandingFix(prNumber)
	if err != nil {
		return fmt.Errorf("failed to check outstanding fix for pr %d: %w", prNumber, err)
	}
	if outstanding {
		return nil
	}

	latest, err := m.store.LatestIteration(prNumber)
	if err != nil {
		return fmt.Errorf("failed to get latest iteration for pr %d: %w", prNumber, err)
	}
	next := latest + 1
	if next > m.maxPRFixRetries {
		if err := m.gh.AddIssueLabel(ctx, item.Number, needsHumanLabel); err != nil {
			m.logger.Error("failed to label issue #%d %s: %v", item.Number, needsHumanLabel, err)
		}
		note := fmt.Sprintf("Automated fix attempts exhausted after %d iterations. Needs human review.", m.maxPRFixRetries)
		if err := m.gh.CommentOnPR(ctx, fmt.Sprintf("%d", prNumber), note); err != nil {
			m.logger.Error("failed to comment on pr %d: %v", prNumber, err)
		}
		return m.store.RecordNeedsHuman(item.Number)
	}

	ok, err := m.dispatcher.CanDispatch()
	if err != nil {
		return fmt.Errorf("failed to check dispatch capacity: %w", err)
	}
	if !ok {
		return nil
	}

	snapshot, err := json.Marshal(threads)
	if err != nil {
		snapshot = nil
	}

	iterationID, err := m.store.UpsertReviewIteration(prNumber, next, len(threads), string(snapshot))
	if err != nil {
		return fmt.Errorf("failed to create review iteration %d for pr %d: %w", next, prNumber, err)
	}

	agentID, err := m.dispatcher.DispatchFix(ctx, prNumber, branch, threads, caps)
	if err != nil {
		_ = m.store.RecordIterationStatus(iterationID, persistence.IterationFailed)
		return fmt.Errorf("failed to dispatch fix agent for pr %d: %w", prNumber, err)
	}
	return m.store.LinkFixAgent(iterationID, agentID)
}
