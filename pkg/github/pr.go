package github

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// PullRequest represents a GitHub pull request.
// Field names match gh CLI --json output (GraphQL field names).
//
//nolint:govet // Logical grouping preferred over memory optimization
type PullRequest struct {
	Number      int    `json:"number"`
	URL         string `json:"url"`
	Title       string `json:"title"`
	State       string `json:"state"`       // OPEN, CLOSED, MERGED
	HeadRefName string `json:"headRefName"` // Branch name (gh CLI)
	HeadRefOid  string `json:"headRefOid"`  // Commit SHA (gh CLI)
	BaseRefName string `json:"baseRefName"` // Target branch name (gh CLI)
	BaseRefOid  string `json:"baseRefOid"`  // Target commit SHA (gh CLI)
	Closed      bool   `json:"closed"`      // Whether PR is closed
	MergedAt    string `json:"mergedAt"`    // Non-empty if merged
	Mergeable   string `json:"mergeable"`   // MERGEABLE, CONFLICTING, or UNKNOWN
}

// IsMerged returns true if the PR has been merged.
func (pr *PullRequest) IsMerged() bool {
	return pr.MergedAt != ""
}

// PRCreateOptions contains options for creating a pull request.
type PRCreateOptions struct {
	Title string
	Body  string
	Head  string // Source branch
	Base  string // Target branch (default: main)
	Draft bool
}

// ListPRsForBranch lists pull requests for a specific head branch.
func (c *Client) ListPRsForBranch(ctx context.Context, branch string) ([]PullRequest, error) {
	args := []string{
		"pr", "list",
		"--repo", c.RepoPath(),
		"--head", branch,
		"--json", "number,url,title,state,headRefName,headRefOid,baseRefName,baseRefOid,closed,mergedAt",
	}

	var prs []PullRequest
	if err := c.runJSON(ctx, &prs, args...); err != nil {
		return nil, fmt.Errorf("failed to list PRs for branch %s: %w", branch, err)
	}

	return prs, nil
}

// GetPR retrieves a pull request by number or branch name.
func (c *Client) GetPR(ctx context.Context, ref string) (*PullRequest, error) {
	args := []string{
		"pr", "view", ref,
		"--repo", c.RepoPath(),
		"--json", "number,url,title,state,headRefName,headRefOid,baseRefName,baseRefOid,closed,mergedAt,mergeable",
	}

	var pr PullRequest
	if err := c.runJSON(ctx, &pr, args...); err != nil {
		return nil, fmt.Errorf("failed to get PR %s: %w", ref, err)
	}

	return &pr, nil
}

// CreatePR creates a new pull request.
func (c *Client) CreatePR(ctx context.Context, opts PRCreateOptions) (*PullRequest, error) {
	if opts.Head == "" {
		return nil, fmt.Errorf("head branch is required")
	}
	if opts.Title == "" {
		return nil, fmt.Errorf("title is required")
	}

	base := opts.Base
	if base == "" {
		base = "main"
	}

	args := []string{
		"pr", "create",
		"--repo", c.RepoPath(),
		"--title", opts.Title,
		"--head", opts.Head,
		"--base", base,
	}

	if opts.Body != "" {
		args = append(args, "--body", opts.Body)
	}

	if opts.Draft {
		args = append(args, "--draft")
	}

	// Use longer timeout for PR creation
	client := c.WithTimeout(2 * time.Minute)
	output, err := client.run(ctx, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to create PR: %w", err)
	}

	// gh pr create returns the PR URL
	prURL := strings.TrimSpace(string(output))
	if prURL == "" {
		return nil, fmt.Errorf("PR created but no URL returned")
	}

	// Fetch the full PR details
	return c.GetPR(ctx, prURL)
}

// GetOrCreatePR returns an existing PR for the branch or creates a new one.
func (c *Client) GetOrCreatePR(ctx context.Context, opts PRCreateOptions) (*PullRequest, error) {
	// Check for existing PR
	prs, err := c.ListPRsForBranch(ctx, opts.Head)
	if err != nil {
		c.logger.Debug("Failed to check for existing PR, will try to create: %v", err)
	} else if len(prs) > 0 {
		c.logger.Debug("Found existing PR #%d for branch %s", prs[0].Number, opts.Head)
		return &prs[0], nil
	}

	// Create new PR
	return c.CreatePR(ctx, opts)
}

// PRComment represents a comment on a pull request.
//
//nolint:govet // Logical grouping preferred over memory optimization
type PRComment struct {
	ID        int       `json:"id"`
	Body      string    `json:"body"`
	Author    string    `json:"author"`
	CreatedAt time.Time `json:"createdAt"`
}

// CommentOnPR adds a comment to a pull request.
func (c *Client) CommentOnPR(ctx context.Context, ref, body string) error {
	args := []string{
		"pr", "comment", ref,
		"--repo", c.RepoPath(),
		"--body", body,
	}

	_, err := c.run(ctx, args...)
	if err != nil {
		return fmt.Errorf("failed to comment on PR %s: %w", ref, err)
	}

	return nil
}

// GetPRComments retrieves comments on a pull request.
func (c *Client) GetPRComments(ctx context.Context, prNumber int) ([]PRComment, error) {
	endpoint := fmt.Sprintf("/repos/%s/issues/%d/comments", c.RepoPath(), prNumber)
	output, err := c.APIGet(ctx, endpoint)
	if err != nil {
		return nil, fmt.Errorf("failed to get PR comments: %w", err)
	}

	var comments []PRComment
	if err := json.Unmarshal(output, &comments); err != nil {
		return nil, fmt.Errorf("failed to parse comments: %w", err)
	}

	return comments, nil
}
