// Package agentpool spawns and supervises the external agent processes
// that implement issues and address PR review feedback, enforcing the
// concurrency and exclusivity rules that keep at most one live agent per
// work item or PR.
package agentpool

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"

	"orchestrator/pkg/capability"
	"orchestrator/pkg/config"
	"orchestrator/pkg/github"
	"orchestrator/pkg/logx"
	"orchestrator/pkg/persistence"
	"orchestrator/pkg/prompts"
	"orchestrator/pkg/ratelimit"
	"orchestrator/pkg/worktree"
)

const baseAllowedTools = "Read,Edit,Bash,Write,Glob,Grep"

// Recorder receives dispatch/outcome counts for the dashboard's
// Prometheus exposition. pkg/metrics implements it; tests can supply a
// no-op.
type Recorder interface {
	RecordDispatch(kind string)
	RecordTimeout()
	RecordRateLimit()
	SetActiveAgents(n int)
}

type noopRecorder struct{}

func (noopRecorder) RecordDispatch(string) {}
func (noopRecorder) RecordTimeout()        {}
func (noopRecorder) RecordRateLimit()      {}
func (noopRecorder) SetActiveAgents(int)   {}

// Supervisor owns the live process table and drives dispatch,
// completion, timeout, and rate-limit handling for every agent run.
type Supervisor struct {
	store    *persistence.Store
	gh       *github.Client
	wt       *worktree.Manager
	cfg      *config.Config
	detector *ratelimit.Detector
	metrics  Recorder
	logger   *logx.Logger

	mu      sync.Mutex
	running map[string]*process
}

// New builds a Supervisor. metrics may be nil, in which case dispatch
// counts are simply not recorded.
func New(store *persistence.Store, gh *github.Client, wt *worktree.Manager, cfg *config.Config, detector *ratelimit.Detector, metrics Recorder) *Supervisor {
	if metrics == nil {
		metrics = noopRecorder{}
	}
	return &Supervisor{
		store:    store,
		gh:       gh,
		wt:       wt,
		cfg:      cfg,
		detector: detector,
		metrics:  metrics,
		logger:   logx.NewLogger("agentpool"),
		running:  make(map[string]*process),
	}
}

// CanDispatch reports whether the global concurrency ceiling allows one
// more run right now.
func (s *Supervisor) CanDispatch() (bool, error) {
	n, err := s.store.CountRunning()
	if err != nil {
		return false, err
	}
	return n < s.cfg.MaxConcurrentAgents, nil
}

func (s *Supervisor) allowedTools() string {
	if s.cfg.SkillsEnabled {
		return baseAllowedTools + ",Skill"
	}
	return baseAllowedTools
}

func (s *Supervisor) agentEnv() []string {
	return append(os.Environ(),
		"CLAUDE_CODE_OAUTH_TOKEN="+s.cfg.ClaudeCodeOAuthToken,
		"GH_TOKEN="+s.cfg.GHToken,
	)
}

// DispatchImplement claims workItem and spawns an implement agent for
// it. Callers are responsible for having already checked CanDispatch and
// that no run is active for this work item.
func (s *Supervisor) DispatchImplement(ctx context.Context, workItem *persistence.WorkItem, caps []capability.Capability) error {
	agentID := fmt.Sprintf("agent-%d-%s", workItem.Number, uuid.New().String())

	if err := s.store.ClaimWorkItem(workItem.Number, agentID); err != nil {
		return fmt.Errorf("failed to claim work item %d: %w", workItem.Number, err)
	}

	path, branch, err := s.wt.CreateForImplement(ctx, workItem.Number, s.cfg.BaseBranch)
	if err != nil {
		_ = s.store.RequeueWorkItem(workItem.Number)
		return fmt.Errorf("failed to create worktree for issue %d: %w", workItem.Number, err)
	}

	prompt := prompts.BuildImplementPrompt(prompts.ImplementContext{
		IssueNumber:  workItem.Number,
		BranchName:   branch,
		Capabilities: caps,
	})

	argv := []string{"claude", "-p", prompt,
		"--allowedTools", s.allowedTools(),
		"--output-format", "stream-json",
		"--verbose",
	}

	run := &persistence.AgentRun{
		AgentID:      agentID,
		WorkItemNum:  sql.NullInt64{Int64: int64(workItem.Number), Valid: true},
		Kind:         persistence.AgentKindImplement,
		Status:       persistence.AgentStatusRunning,
		WorktreePath: path,
		BranchName:   branch,
	}
	if err := s.store.CreateAgentRun(run); err != nil {
		return fmt.Errorf("failed to create agent run %s: %w", agentID, err)
	}

	s.metrics.RecordDispatch(persistence.AgentKindImplement)
	go s.run(ctx, agentID, argv, path, workItem.Number, 0, branch)
	return nil
}

// DispatchFix spawns a fix-review agent against an already-open PR and
// returns the new run's agent id so the caller can link it to the review
// iteration that triggered the dispatch.
func (s *Supervisor) DispatchFix(ctx context.Context, prNumber int, branch string, threads []github.ReviewThread, caps []capability.Capability) (string, error) {
	path, err := s.wt.CreateForFix(ctx, prNumber, branch)
	if err != nil {
		return "", fmt.Errorf("failed to create fix worktree for pr %d: %w", prNumber, err)
	}

	agentID := fmt.Sprintf("agent-fix-%d-%s", prNumber, uuid.New().String())
	prompt := prompts.BuildFixReviewPrompt(prompts.FixReviewContext{
		PRNumber:     prNumber,
		Threads:      threads,
		Capabilities: caps,
	})

	argv := []string{"claude", "-p", prompt,
		"--allowedTools", s.allowedTools(),
		"--output-format", "stream-json",
		"--verbose",
	}

	run := &persistence.AgentRun{
		AgentID:      agentID,
		PRNumber:     sql.NullInt64{Int64: int64(prNumber), Valid: true},
		Kind:         persistence.AgentKindFixReview,
		Status:       persistence.AgentStatusRunning,
		WorktreePath: path,
		BranchName:   branch,
	}
	if err := s.store.CreateAgentRun(run); err != nil {
		return "", fmt.Errorf("failed to create agent run %s: %w", agentID, err)
	}

	s.metrics.RecordDispatch(persistence.AgentKindFixReview)
	go s.run(ctx, agentID, argv, path, 0, prNumber, branch)
	return agentID, nil
}

// run spawns the process, blocks until it completes, and drives the
// completion handling described in the supervisor's contract. It always
// runs in its own goroutine; issueNumber is 0 for fix_review dispatches
// and prNumber is 0 for implement dispatches.
func (s *Supervisor) run(ctx context.Context, agentID string, argv []string, worktreePath string, issueNumber, prNumber int, branch string) {
	proc, err := spawn(ctx, spawnOpts{
		AgentID:  agentID,
		Argv:     argv,
		Dir:      worktreePath,
		Env:      s.agentEnv(),
		Sink:     s.store,
		Detector: s.detector,
		Timeout:  time.Duration(s.cfg.AgentTimeoutSeconds) * time.Second,
	})
	if err != nil {
		s.logger.Error("failed to spawn agent %s: %v", agentID, err)
		_ = s.store.RecordAgentStatus(agentID, persistence.AgentStatusFailed, err.Error())
		if issueNumber != 0 {
			s.requeueOrEscalate(issueNumber)
		}
		return
	}

	s.trackRunning(agentID, proc)
	if err := s.store.RecordAgentPID(agentID, proc.PID()); err != nil {
		s.logger.Warn("failed to record pid for %s: %v", agentID, err)
	}

	out := proc.Wait()
	s.untrackRunning(agentID)

	switch {
	case out.RateLimited:
		s.metrics.RecordRateLimit()
		if err := s.store.RecordAgentRateLimited(agentID); err != nil {
			s.logger.Error("failed to record rate limit for %s: %v", agentID, err)
		}
		return // worktree kept, work item stays in_progress, watcher resumes it
	case out.TimedOut:
		s.metrics.RecordTimeout()
		_ = s.store.RecordAgentStatus(agentID, persistence.AgentStatusTimeout, "agent exceeded AGENT_TIMEOUT_SECONDS")
		_ = s.wt.Cleanup(ctx, worktreePath)
		if issueNumber != 0 {
			s.requeueOrEscalate(issueNumber)
		}
		return
	}

	if issueNumber != 0 {
		s.completeImplement(ctx, agentID, issueNumber, branch, worktreePath, out)
		return
	}
	s.completeFix(ctx, agentID, prNumber, worktreePath, out)
}

func (s *Supervisor) completeImplement(ctx context.Context, agentID string, issueNumber int, branch, worktreePath string, out outcome) {
	if out.ExitErr != nil {
		_ = s.store.RecordAgentStatus(agentID, persistence.AgentStatusFailed, out.ExitErr.Error())
		_ = s.wt.Cleanup(ctx, worktreePath)
		s.requeueOrEscalate(issueNumber)
		return
	}

	prNumber := out.PRNumber
	if prNumber == 0 {
		title := fmt.Sprintf("Fix #%d", issueNumber)
		body := fmt.Sprintf("Closes #%d", issueNumber)
		n, err := s.recoverPR(ctx, branch, title, body)
		if err != nil {
			_ = s.store.RecordAgentStatus(agentID, persistence.AgentStatusFailed, "no PR produced")
			_ = s.wt.Cleanup(ctx, worktreePath)
			s.requeueOrEscalate(issueNumber)
			return
		}
		prNumber = n
	}

	if err := s.store.RecordPRCreated(issueNumber, prNumber); err != nil {
		s.logger.Error("failed to record pr_created for %d: %v", issueNumber, err)
	}
	_ = s.store.RecordAgentStatus(agentID, persistence.AgentStatusCompleted, "")
	_ = s.wt.Cleanup(ctx, worktreePath)
}

func (s *Supervisor) completeFix(ctx context.Context, agentID string, prNumber int, worktreePath string, out outcome) {
	status := persistence.AgentStatusCompleted
	msg := ""
	iterationStatus := persistence.IterationFixed
	if out.ExitErr != nil {
		status = persistence.AgentStatusFailed
		msg = out.ExitErr.Error()
		iterationStatus = persistence.IterationFailed
	}
	_ = s.store.RecordAgentStatus(agentID, status, msg)
	_ = s.wt.Cleanup(ctx, worktreePath)

	iterationID, err := s.store.GetIterationIDByAgent(agentID)
	if err != nil {
		s.logger.Error("failed to look up iteration for fix agent %s (pr %d): %v", agentID, prNumber, err)
		return
	}
	if iterationID == 0 {
		s.logger.Warn("fix agent %s completed with no linked review iteration", agentID)
		return
	}
	if err := s.store.RecordIterationStatus(iterationID, iterationStatus); err != nil {
		s.logger.Error("failed to record iteration status for %s: %v", agentID, err)
	}
}

// requeueOrEscalate moves a work item back to pending, or to needs_human
// once MAX_ISSUE_RETRIES has been exhausted.
func (s *Supervisor) requeueOrEscalate(issueNumber int) {
	item, err := s.store.GetWorkItem(issueNumber)
	if err != nil || item == nil {
		s.logger.Error("failed to load work item %d for retry decision: %v", issueNumber, err)
		return
	}
	if item.Attempts >= s.cfg.MaxIssueRetries {
		if err := s.store.RecordNeedsHuman(issueNumber); err != nil {
			s.logger.Error("failed to escalate work item %d: %v", issueNumber, err)
		}
		return
	}
	if err := s.store.RequeueWorkItem(issueNumber); err != nil {
		s.logger.Error("failed to requeue work item %d: %v", issueNumber, err)
	}
}

func (s *Supervisor) trackRunning(agentID string, p *process) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.running[agentID] = p
	s.metrics.SetActiveAgents(len(s.running))
}

func (s *Supervisor) untrackRunning(agentID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.running, agentID)
	s.metrics.SetActiveAgents(len(s.running))
}

