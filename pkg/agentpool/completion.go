package agentpool

import (
	"context"
	"fmt"

	"orchestrator/pkg/github"
)

// recoverPR implements the PR-recovery cascade run when an agent exits
// without a result event carrying a PR number: look for an existing open
// PR on the branch, then fall back to pushing and creating one.
func (s *Supervisor) recoverPR(ctx context.Context, branch string, title, body string) (int, error) {
	pushed, err := s.wt.BranchPushed(ctx, branch)
	if err != nil {
		return 0, fmt.Errorf("failed to check whether %s was pushed: %w", branch, err)
	}
	if !pushed {
		hasCommits, err := s.wt.HasUnpushedCommits(ctx, branch)
		if err != nil {
			return 0, fmt.Errorf("failed to check unpushed commits on %s: %w", branch, err)
		}
		if !hasCommits {
			return 0, errNoPRProduced
		}
		if err := s.wt.PushBranch(ctx, branch); err != nil {
			return 0, fmt.Errorf("failed to push %s: %w", branch, err)
		}
	}

	pr, err := s.gh.GetOrCreatePR(ctx, github.PRCreateOptions{
		Title: title,
		Body:  body,
		Head:  branch,
		Base:  s.cfg.BaseBranch,
	})
	if err != nil {
		return 0, fmt.Errorf("failed to create recovery PR for %s: %w", branch, err)
	}
	return pr.Number, nil
}

var errNoPRProduced = fmt.Errorf("no PR produced")
