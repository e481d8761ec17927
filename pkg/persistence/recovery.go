package persistence

import (
	"fmt"
	"os"
	"syscall"

	"orchestrator/pkg/logx"
)

// RecoveredRun describes an agent run the recovery scan decided needed
// worktree cleanup because its process no longer exists.
type RecoveredRun struct {
	AgentID      string
	WorktreePath string
}

// RecoverStaleRuns implements the §4.1 startup recovery scan: for every
// agent run left in running/rate_limited when the orchestrator last
// exited, check whether the OS process is still alive. A live process is
// left untouched (it survives orchestrator restarts as a detached child).
// A dead one is marked failed/orphaned, its work item is returned to
// pending (unless it already has a PR), and its worktree is queued for
// cleanup.
func (s *Store) RecoverStaleRuns() ([]RecoveredRun, error) {
	logger := logx.NewLogger("recovery")

	var toReconcile []*AgentRun
	for _, status := range []string{AgentStatusRunning, AgentStatusRateLimited} {
		runs, err := s.ListAgentRunsByStatus(status)
		if err != nil {
			return nil, fmt.Errorf("failed to list %s runs for recovery: %w", status, err)
		}
		toReconcile = append(toReconcile, runs...)
	}

	var recovered []RecoveredRun
	for _, run := range toReconcile {
		if run.PID.Valid && processAlive(int(run.PID.Int64)) {
			logger.Info("agent %s (pid %d) still alive, leaving as-is", run.AgentID, run.PID.Int64)
			continue
		}

		logger.Warn("agent %s has no live process, marking orphaned", run.AgentID)
		if err := s.RecordAgentStatus(run.AgentID, AgentStatusFailed, "orphaned"); err != nil {
			return nil, fmt.Errorf("failed to mark %s orphaned: %w", run.AgentID, err)
		}

		if run.WorkItemNum.Valid {
			item, err := s.GetWorkItem(int(run.WorkItemNum.Int64))
			if err != nil {
				return nil, fmt.Errorf("failed to load work item for %s: %w", run.AgentID, err)
			}
			if item != nil && item.Status == WorkItemInProgress && !item.PRNumber.Valid {
				if err := s.RequeueWorkItem(item.Number); err != nil {
					return nil, fmt.Errorf("failed to requeue work item %d: %w", item.Number, err)
				}
			}
		}

		recovered = append(recovered, RecoveredRun{AgentID: run.AgentID, WorktreePath: run.WorktreePath})
	}

	return recovered, nil
}

// processAlive reports whether pid refers to a live process, using the
// zero-signal probe (equivalent to os.kill(pid, 0) in the original
// implementation).
func processAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	err = proc.Signal(syscall.Signal(0))
	return err == nil
}
