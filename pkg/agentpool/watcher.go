package agentpool

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"orchestrator/pkg/capability"
	"orchestrator/pkg/persistence"
	"orchestrator/pkg/prompts"
)

// RunWatcher probes agent availability every RATE_LIMIT_RETRY_INTERVAL and
// resumes rate-limited runs once the probe succeeds. It blocks until ctx is
// canceled.
func (s *Supervisor) RunWatcher(ctx context.Context, caps []capability.Capability) {
	interval := time.Duration(s.cfg.RateLimitRetryInterval) * time.Second
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.probeAndResume(ctx, caps)
		}
	}
}

// probeAndResume spawns a trivial one-shot invocation to check whether the
// agent program is answering again, and if so resumes every eligible
// rate-limited run.
func (s *Supervisor) probeAndResume(ctx context.Context, caps []capability.Capability) {
	if !s.probeAvailability(ctx) {
		return
	}

	runs, err := s.store.ListAgentRunsByStatus(persistence.AgentStatusRateLimited)
	if err != nil {
		s.logger.Error("failed to list rate-limited runs: %v", err)
		return
	}

	for _, run := range runs {
		if run.ResumeCount >= s.cfg.MaxRateLimitResumes {
			s.logger.Warn("agent %s exhausted rate-limit resumes, leaving rate_limited", run.AgentID)
			continue
		}
		s.resumeRun(ctx, run, caps)
	}
}

func (s *Supervisor) probeAvailability(ctx context.Context) bool {
	probeCtx, cancel := context.WithTimeout(ctx, 60*time.Second)
	defer cancel()

	proc, err := spawn(probeCtx, spawnOpts{
		AgentID:  "probe-" + uuid.New().String(),
		Argv:     []string{"claude", "-p", "reply OK", "--max-turns", "1", "--output-format", "stream-json", "--verbose"},
		Env:      s.agentEnv(),
		Sink:     discardSink{},
		Detector: s.detector,
		Timeout:  60 * time.Second,
	})
	if err != nil {
		s.logger.Warn("availability probe failed to start: %v", err)
		return false
	}
	out := proc.Wait()
	if out.RateLimited {
		return false
	}
	return out.ExitErr == nil
}

func (s *Supervisor) resumeRun(ctx context.Context, prior *persistence.AgentRun, caps []capability.Capability) {
	newAgentID := fmt.Sprintf("agent-resume-%s-%d", prior.AgentID, time.Now().UnixNano())

	argv, err := s.resumeArgv(prior, caps)
	if err != nil {
		s.logger.Error("failed to build resume prompt for %s: %v", prior.AgentID, err)
		return
	}
	if prior.SessionID.Valid && prior.SessionID.String != "" {
		argv = append([]string{"claude", "--resume", prior.SessionID.String}, argv[1:]...)
	} else {
		argv = append([]string{"claude", "--continue"}, argv[1:]...)
	}

	newRun := &persistence.AgentRun{
		AgentID:      newAgentID,
		WorkItemNum:  prior.WorkItemNum,
		PRNumber:     prior.PRNumber,
		Kind:         prior.Kind,
		Status:       persistence.AgentStatusRunning,
		WorktreePath: prior.WorktreePath,
		BranchName:   prior.BranchName,
		ResumeCount:  prior.ResumeCount,
	}
	if err := s.store.CreateAgentRun(newRun); err != nil {
		s.logger.Error("failed to create resumed agent run %s: %v", newAgentID, err)
		return
	}
	if err := s.store.RecordAgentResumed(prior.AgentID, newAgentID); err != nil {
		s.logger.Error("failed to flip %s to resumed: %v", prior.AgentID, err)
		return
	}

	s.metrics.RecordDispatch(prior.Kind)
	issueNumber, prNumber := 0, 0
	if prior.WorkItemNum.Valid {
		issueNumber = int(prior.WorkItemNum.Int64)
	}
	if prior.PRNumber.Valid {
		prNumber = int(prior.PRNumber.Int64)
	}
	go s.run(ctx, newAgentID, argv, prior.WorktreePath, issueNumber, prNumber, prior.BranchName)
}

// resumeArgv builds the ["claude", "-p", prompt, ...] tail shared by both
// resume forms; the caller substitutes the leading --resume/--continue
// flags in.
func (s *Supervisor) resumeArgv(prior *persistence.AgentRun, caps []capability.Capability) ([]string, error) {
	var prompt string
	switch prior.Kind {
	case persistence.AgentKindImplement:
		if !prior.WorkItemNum.Valid {
			return nil, fmt.Errorf("implement run %s has no work item number", prior.AgentID)
		}
		item, err := s.store.GetWorkItem(int(prior.WorkItemNum.Int64))
		if err != nil || item == nil {
			return nil, fmt.Errorf("failed to load work item for resume of %s: %w", prior.AgentID, err)
		}
		prompt = prompts.BuildResumeImplementPrompt(prompts.ImplementContext{
			IssueNumber:  item.Number,
			BranchName:   prior.BranchName,
			Capabilities: caps,
		})
	case persistence.AgentKindFixReview:
		if !prior.PRNumber.Valid {
			return nil, fmt.Errorf("fix_review run %s has no pr number", prior.AgentID)
		}
		prNumber := int(prior.PRNumber.Int64)
		threads, _, err := s.gh.GetReviewThreadsWithFallback(context.Background(), prNumber)
		if err != nil {
			return nil, fmt.Errorf("failed to refresh threads for resume of %s: %w", prior.AgentID, err)
		}
		prompt = prompts.BuildResumeFixReviewPrompt(prompts.FixReviewContext{
			PRNumber:     prNumber,
			Threads:      threads,
			Capabilities: caps,
		})
	default:
		return nil, fmt.Errorf("unknown agent kind %q for %s", prior.Kind, prior.AgentID)
	}

	return []string{"claude", "-p", prompt,
		"--allowedTools", s.allowedTools(),
		"--output-format", "stream-json",
		"--verbose",
	}, nil
}

// discardSink swallows events from the availability probe; it isn't tied
// to any work item or PR worth recording.
type discardSink struct{}

func (discardSink) AppendEvent(agentID, eventType, payload, summary string) error { return nil }
func (discardSink) RecordAgentSession(agentID, sessionID string) error            { return nil }
func (discardSink) IncrementTurnsUsed(agentID string) error                       { return nil }
