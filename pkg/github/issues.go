package github

import (
	"context"
	"fmt"
	"time"
)

// Issue represents a hosting-service issue relevant to work-item intake.
//
//nolint:govet // logical grouping preferred over memory optimization
type Issue struct {
	Number int      `json:"number"`
	Title  string   `json:"title"`
	Body   string   `json:"body"`
	State  string   `json:"state"`
	Labels []Label  `json:"labels"`
}

// Label is a hosting-service label.
type Label struct {
	Name string `json:"name"`
}

// IssueComment is a comment on an issue.
type IssueComment struct {
	Body      string    `json:"body"`
	Author    Author    `json:"author"`
	CreatedAt time.Time `json:"createdAt"`
}

// Author identifies a comment's author.
type Author struct {
	Login string `json:"login"`
}

// ListOpenIssuesByLabel returns open issues carrying the given label.
func (c *Client) ListOpenIssuesByLabel(ctx context.Context, label string) ([]Issue, error) {
	args := []string{
		"issue", "list",
		"--repo", c.RepoPath(),
		"--label", label,
		"--state", "open",
		"--json", "number,title,body,state,labels",
		"--limit", "200",
	}

	var issues []Issue
	if err := c.runJSON(ctx, &issues, args...); err != nil {
		return nil, fmt.Errorf("failed to list issues labelled %s: %w", label, err)
	}
	return issues, nil
}

// GetIssueComments retrieves the comments on an issue.
func (c *Client) GetIssueComments(ctx context.Context, number int) ([]IssueComment, error) {
	args := []string{
		"issue", "view", fmt.Sprintf("%d", number),
		"--repo", c.RepoPath(),
		"--json", "comments",
	}

	var result struct {
		Comments []IssueComment `json:"comments"`
	}
	if err := c.runJSON(ctx, &result, args...); err != nil {
		return nil, fmt.Errorf("failed to get comments for issue %d: %w", number, err)
	}
	return result.Comments, nil
}

// AddIssueLabel applies a label to an issue, tolerating the label already
// being present (gh returns success either way).
func (c *Client) AddIssueLabel(ctx context.Context, number int, label string) error {
	args := []string{
		"issue", "edit", fmt.Sprintf("%d", number),
		"--repo", c.RepoPath(),
		"--add-label", label,
	}
	if _, err := c.run(ctx, args...); err != nil {
		return fmt.Errorf("failed to add label %s to issue %d: %w", label, number, err)
	}
	return nil
}

// CommentOnIssue adds a comment to an issue.
func (c *Client) CommentOnIssue(ctx context.Context, number int, body string) error {
	args := []string{
		"issue", "comment", fmt.Sprintf("%d", number),
		"--repo", c.RepoPath(),
		"--body", body,
	}
	if _, err := c.run(ctx, args...); err != nil {
		return fmt.Errorf("failed to comment on issue %d: %w", number, err)
	}
	return nil
}
