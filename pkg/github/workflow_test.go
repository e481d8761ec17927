package github

import (
	"context"
	"testing"
)

func TestWorkflowStatus_DetermineState(t *testing.T) {
	tests := []struct {
		name        string
		runs        []WorkflowRun
		wantState   string
		wantFailed  int
		wantSuccess int
		wantPending int
	}{
		{
			name: "all successful",
			runs: []WorkflowRun{
				{Status: "completed", Conclusion: "success", Name: "Test"},
				{Status: "completed", Conclusion: "success", Name: "Build"},
			},
			wantState:   "success",
			wantSuccess: 2,
			wantFailed:  0,
			wantPending: 0,
		},
		{
			name: "one failed",
			runs: []WorkflowRun{
				{Status: "completed", Conclusion: "success", Name: "Test"},
				{Status: "completed", Conclusion: "failure", Name: "Build"},
			},
			wantState:   "failure",
			wantSuccess: 1,
			wantFailed:  1,
			wantPending: 0,
		},
		{
			name: "pending runs",
			runs: []WorkflowRun{
				{Status: "completed", Conclusion: "success", Name: "Test"},
				{Status: "in_progress", Name: "Build"},
			},
			wantState:   "pending",
			wantSuccess: 1,
			wantFailed:  0,
			wantPending: 1,
		},
		{
			name: "queued runs",
			runs: []WorkflowRun{
				{Status: "queued", Name: "Test"},
			},
			wantState:   "pending",
			wantSuccess: 0,
			wantFailed:  0,
			wantPending: 1,
		},
		{
			name: "cancelled runs not counted",
			runs: []WorkflowRun{
				{Status: "completed", Conclusion: "success", Name: "Test"},
				{Status: "completed", Conclusion: "cancelled", Name: "Build"},
			},
			wantState:   "success",
			wantSuccess: 1,
			wantFailed:  0,
			wantPending: 0,
		},
		{
			name:        "no runs yet is pending",
			runs:        []WorkflowRun{},
			wantState:   "pending",
			wantSuccess: 0,
			wantFailed:  0,
			wantPending: 0,
		},
		{
			name: "timed out is failure",
			runs: []WorkflowRun{
				{Status: "completed", Conclusion: "timed_out", Name: "Test"},
			},
			wantState:   "failure",
			wantSuccess: 0,
			wantFailed:  1,
			wantPending: 0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			// Create a mock client (just for context, we'll test the logic directly)
			client := NewClient("test-owner", "test-repo")

			// Simulate GetWorkflowStatus logic
			status := &WorkflowStatus{
				FailedRuns: []string{},
			}

			if len(tt.runs) == 0 {
				status.State = "pending"
			} else {
				for _, run := range tt.runs {
					switch run.Status {
					case "completed":
						switch run.Conclusion {
						case "success":
							status.Successful++
						case "failure", "timed_out", "startup_failure":
							status.Failed++
							status.FailedRuns = append(status.FailedRuns, run.Name)
						case "cancelled", "skipped":
							// Don't count
						}
					case "queued", "in_progress":
						status.Pending++
					}
				}

				if status.Pending > 0 {
					status.State = "pending"
				} else if status.Failed > 0 {
					status.State = "failure"
				} else {
					status.State = "success"
				}
			}

			if status.State != tt.wantState {
				t.Errorf("State = %s, want %s", status.State, tt.wantState)
			}
			if status.Successful != tt.wantSuccess {
				t.Errorf("Successful = %d, want %d", status.Successful, tt.wantSuccess)
			}
			if status.Failed != tt.wantFailed {
				t.Errorf("Failed = %d, want %d", status.Failed, tt.wantFailed)
			}
			if status.Pending != tt.wantPending {
				t.Errorf("Pending = %d, want %d", status.Pending, tt.wantPending)
			}

			// Client used for context only
			_ = client
		})
	}
}

// TestIsWorkflowPassing checks the success-only reading of a workflow state
// that callers apply to WorkflowStatus.State; the package has no
// IsWorkflowPassing function.
func TestIsWorkflowPassing(t *testing.T) {
	tests := []struct {
		name        string
		state       string
		wantPassing bool
	}{
		{"success is passing", "success", true},
		{"failure is not passing", "failure", false},
		{"pending is not passing", "pending", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			passing := (tt.state == "success")
			if passing != tt.wantPassing {
				t.Errorf("passing = %v, want %v for state %s", passing, tt.wantPassing, tt.state)
			}
		})
	}
}

func TestWorkflowRun_Fields(t *testing.T) {
	// Test that WorkflowRun has expected fields
	run := WorkflowRun{
		ID:         123,
		Name:       "CI",
		Status:     "completed",
		Conclusion: "success",
	}

	if run.ID != 123 {
		t.Errorf("ID = %d, want 123", run.ID)
	}
	if run.Name != "CI" {
		t.Errorf("Name = %s, want CI", run.Name)
	}
	if run.Status != "completed" {
		t.Errorf("Status = %s, want completed", run.Status)
	}
	if run.Conclusion != "success" {
		t.Errorf("Conclusion = %s, want success", run.Conclusion)
	}
}

func TestWorkflowStatus_FailedRuns(t *testing.T) {
	runs := []WorkflowRun{
		{Status: "completed", Conclusion: "success", Name: "Test"},
		{Status: "completed", Conclusion: "failure", Name: "Build"},
		{Status: "completed", Conclusion: "failure", Name: "Lint"},
	}

	status := &WorkflowStatus{
		FailedRuns: []string{},
	}

	for _, run := range runs {
		if run.Status == "completed" && (run.Conclusion == "failure" || run.Conclusion == "timed_out" || run.Conclusion == "startup_failure") {
			status.Failed++
			status.FailedRuns = append(status.FailedRuns, run.Name)
		}
	}

	if status.Failed != 2 {
		t.Errorf("Failed = %d, want 2", status.Failed)
	}

	if len(status.FailedRuns) != 2 {
		t.Errorf("len(FailedRuns) = %d, want 2", len(status.FailedRuns))
	}

	expectedFailed := map[string]bool{"Build": true, "Lint": true}
	for _, name := range status.FailedRuns {
		if !expectedFailed[name] {
			t.Errorf("Unexpected failed run: %s", name)
		}
	}
}

// TestGetWorkflowRunsForRef_ErrorHandling calls GetWorkflowRunsForRef, which
// runs the real gh CLI, and only logs whether that call failed or succeeded.
func TestGetWorkflowRunsForRef_ErrorHandling(t *testing.T) {
	// This test validates the function signature and basic structure
	// Integration tests will validate actual API calls
	client := NewClient("test-owner", "test-repo")
	ctx := context.Background()

	// This will fail because we don't have a real GitHub token
	// but it validates the function exists and has correct signature
	_, err := client.GetWorkflowRunsForRef(ctx, "abc123")

	// We expect an error since this is not a real API call
	if err == nil {
		t.Log("Note: GetWorkflowRunsForRef succeeded unexpectedly (likely in test env with real token)")
	} else {
		t.Logf("Expected error received: %v", err)
	}
}
