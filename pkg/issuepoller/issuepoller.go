// Package issuepoller periodically discovers activatable issues on the
// hosting service and asks the Agent Pool Supervisor to dispatch implement
// agents for them.
package issuepoller

import (
	"context"
	"fmt"
	"strings"
	"time"

	"orchestrator/pkg/capability"
	"orchestrator/pkg/github"
	"orchestrator/pkg/logx"
	"orchestrator/pkg/persistence"
)

// Dispatcher is the subset of the Agent Pool Supervisor the poller drives.
type Dispatcher interface {
	CanDispatch() (bool, error)
	DispatchImplement(ctx context.Context, workItem *persistence.WorkItem, caps []capability.Capability) error
}

// Poller runs the periodic issue-discovery loop.
type Poller struct {
	gh             *github.Client
	store          *persistence.Store
	dispatcher     Dispatcher
	issueLabel     string
	triggerMention string
	interval       time.Duration
	logger         *logx.Logger

	consecutiveErrors int
}

// New builds a Poller. The base branch worktrees fork from is the Agent
// Pool Supervisor's own config, not the poller's — the poller only decides
// which issues are activatable, not where their implement agents check out.
func New(gh *github.Client, store *persistence.Store, dispatcher Dispatcher, issueLabel, triggerMention string, interval time.Duration) *Poller {
	return &Poller{
		gh:             gh,
		store:          store,
		dispatcher:     dispatcher,
		issueLabel:     issueLabel,
		triggerMention: triggerMention,
		interval:       interval,
		logger:         logx.NewLogger("issuepoller"),
	}
}

// Run blocks, ticking every interval until ctx is canceled. Consecutive
// tick failures back off exponentially, capped at 10 minutes.
func (p *Poller) Run(ctx context.Context, caps []capability.Capability) {
	for {
		wait := p.interval
		if err := p.tick(ctx, caps); err != nil {
			p.consecutiveErrors++
			wait = backoff(p.interval, p.consecutiveErrors)
			p.logger.Error("issue poll tick failed (consecutive=%d, next in %s): %v", p.consecutiveErrors, wait, err)
		} else {
			p.consecutiveErrors = 0
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(wait):
		}
	}
}

func backoff(base time.Duration, k int) time.Duration {
	d := base
	for i := 0; i < k && d < 10*time.Minute; i++ {
		d *= 2
	}
	if d > 10*time.Minute {
		d = 10 * time.Minute
	}
	return d
}

func (p *Poller) tick(ctx context.Context, caps []capability.Capability) error {
	issues, err := p.gh.ListOpenIssuesByLabel(ctx, p.issueLabel)
	if err != nil {
		return fmt.Errorf("failed to list issues labelled %s: %w", p.issueLabel, err)
	}

	for _, issue := range issues {
		if err := p.handleIssue(ctx, issue, caps); err != nil {
			p.logger.Error("failed to process issue #%d: %v", issue.Number, err)
		}
	}
	return nil
}

func (p *Poller) handleIssue(ctx context.Context, issue github.Issue, caps []capability.Capability) error {
	if p.triggerMention != "" {
		triggered, err := p.hasTriggerComment(ctx, issue.Number)
		if err != nil {
			return err
		}
		if !triggered {
			return nil
		}
	}

	branch := fmt.Sprintf("fix/issue-%d", issue.Number)
	prs, err := p.gh.ListPRsForBranch(ctx, branch)
	if err != nil {
		return fmt.Errorf("failed to check existing PR for issue #%d: %w", issue.Number, err)
	}
	if len(prs) > 0 {
		if err := p.store.SeedPRCreated(issue.Number, issue.Title, issue.Body, prs[0].Number); err != nil {
			return fmt.Errorf("failed to seed pr_created for issue #%d: %w", issue.Number, err)
		}
		return nil
	}

	if err := p.store.UpsertWorkItem(issue.Number, issue.Title, issue.Body); err != nil {
		return fmt.Errorf("failed to upsert work item #%d: %w", issue.Number, err)
	}

	item, err := p.store.GetWorkItem(issue.Number)
	if err != nil || item == nil {
		return fmt.Errorf("failed to reload work item #%d: %w", issue.Number, err)
	}
	if item.Status != persistence.WorkItemPending {
		return nil
	}

	running, err := p.store.CountRunningForWorkItem(issue.Number)
	if err != nil {
		return fmt.Errorf("failed to count running agents for #%d: %w", issue.Number, err)
	}
	if running > 0 {
		return nil
	}

	ok, err := p.dispatcher.CanDispatch()
	if err != nil {
		return fmt.Errorf("failed to check dispatch capacity: %w", err)
	}
	if !ok {
		return nil
	}

	if err := p.dispatcher.DispatchImplement(ctx, item, caps); err != nil {
		return fmt.Errorf("failed to dispatch implement agent for #%d: %w", issue.Number, err)
	}
	return nil
}

func (p *Poller) hasTriggerComment(ctx context.Context, issueNumber int) (bool, error) {
	comments, err := p.gh.GetIssueComments(ctx, issueNumber)
	if err != nil {
		return false, fmt.Errorf("failed to get comments for #%d: %w", issueNumber, err)
	}
	return containsTrigger(comments, p.triggerMention), nil
}

func containsTrigger(comments []github.IssueComment, mention string) bool {
	for _, c := range comments {
		if strings.Contains(c.Body, mention) {
			return true
		}
	}
	return false
}
