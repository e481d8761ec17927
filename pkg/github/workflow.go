package github

import (
	"context"
	"encoding/json"
	"fmt"
)

const (
	// WorkflowStateSuccess represents a successful workflow state.
	WorkflowStateSuccess = "success"
	// WorkflowStateFailure represents a failed workflow state.
	WorkflowStateFailure = "failure"
	// WorkflowStatePending represents a pending workflow state.
	WorkflowStatePending = "pending"
)

// WorkflowRun represents a GitHub Actions workflow run.
//
//nolint:govet // Logical grouping preferred over memory optimization
type WorkflowRun struct {
	ID         int64  `json:"id"`
	Name       string `json:"name"`
	HeadBranch string `json:"head_branch"`
	HeadSHA    string `json:"head_sha"`
	Status     string `json:"status"`     // queued, in_progress, completed
	Conclusion string `json:"conclusion"` // success, failure, cancelled, skipped, etc. (only for completed runs)
	WorkflowID int64  `json:"workflow_id"`
	URL        string `json:"html_url"`
	CreatedAt  string `json:"created_at"`
	UpdatedAt  string `json:"updated_at"`
	RunNumber  int    `json:"run_number"`
	Event      string `json:"event"`
	RunAttempt int    `json:"run_attempt"`
}

// WorkflowRunsResponse represents the API response for listing workflow runs.
//
//nolint:govet // fieldalignment: API response struct, field order matches API
type WorkflowRunsResponse struct {
	TotalCount   int           `json:"total_count"`
	WorkflowRuns []WorkflowRun `json:"workflow_runs"`
}

// WorkflowStatus represents the overall status of workflows for a commit.
//
//nolint:govet // Logical grouping preferred over memory optimization
type WorkflowStatus struct {
	State      string   // pending, success, failure
	TotalRuns  int      // Total number of workflow runs
	Successful int      // Number of successful runs
	Failed     int      // Number of failed runs
	Pending    int      // Number of pending/in-progress runs
	FailedRuns []string // Names of failed workflow runs
}

// GetWorkflowRunsForRef retrieves workflow runs for a specific git ref (branch or commit SHA).
func (c *Client) GetWorkflowRunsForRef(ctx context.Context, ref string) ([]WorkflowRun, error) {
	endpoint := fmt.Sprintf("/repos/%s/actions/runs?head_sha=%s", c.RepoPath(), ref)
	output, err := c.APIGet(ctx, endpoint)
	if err != nil {
		return nil, fmt.Errorf("failed to get workflow runs for ref %s: %w", ref, err)
	}

	var response WorkflowRunsResponse
	if err := json.Unmarshal(output, &response); err != nil {
		return nil, fmt.Errorf("failed to parse workflow runs: %w", err)
	}

	return response.WorkflowRuns, nil
}

// GetWorkflowStatus returns the overall status of workflows for a commit.
func (c *Client) GetWorkflowStatus(ctx context.Context, commitSHA string) (*WorkflowStatus, error) {
	runs, err := c.GetWorkflowRunsForRef(ctx, commitSHA)
	if err != nil {
		return nil, err
	}

	status := &WorkflowStatus{
		TotalRuns:  len(runs),
		FailedRuns: []string{},
	}

	// No checks have appeared yet: treat as pending, not success, since a
	// check may still be about to start.
	if len(runs) == 0 {
		status.State = WorkflowStatePending
		return status, nil
	}

	//nolint:gocritic // rangeValCopy: WorkflowRun is small, copy is acceptable
	for _, run := range runs {
		switch run.Status {
		case "completed":
			switch run.Conclusion {
			case "success":
				status.Successful++
			case "failure", "timed_out", "startup_failure":
				status.Failed++
				status.FailedRuns = append(status.FailedRuns, run.Name)
			case "cancelled", "skipped":
				// Don't count cancelled/skipped as success or failure
			}
		case "queued", "in_progress":
			status.Pending++
		}
	}

	// Determine overall state
	if status.Pending > 0 {
		status.State = WorkflowStatePending
	} else if status.Failed > 0 {
		status.State = WorkflowStateFailure
	} else {
		status.State = WorkflowStateSuccess
	}

	return status, nil
}

// GetPRWorkflowStatus returns the overall workflow status for a pull request.
func (c *Client) GetPRWorkflowStatus(ctx context.Context, prNumber int) (*WorkflowStatus, error) {
	// Get the PR to find its head SHA
	pr, err := c.GetPR(ctx, fmt.Sprintf("%d", prNumber))
	if err != nil {
		return nil, fmt.Errorf("failed to get PR #%d: %w", prNumber, err)
	}

	return c.GetWorkflowStatus(ctx, pr.HeadRefOid)
}
