package logx

import (
	"context"
	"os"
	"testing"
)

// Use the same contextKey type as defined in context_debug_test.go.

// TestDomainFilteredDebugLogging exercises the Debug(ctx, domain, format, args...)
// pattern end to end: domain filtering, the convenience helpers, and the
// environment-variable-controlled file output path.
func TestDomainFilteredDebugLogging(t *testing.T) {
	// Enable debug logging for this demo.
	SetDebugConfig(true, false, ".")
	SetDebugDomains([]string{"agentpool", "prmonitor", "issuepoller"})

	// Create context with agent ID using typed key to avoid collisions.
	ctx := context.WithValue(context.Background(), agentIDKey, "implement-001")

	// 1. Domain-filtered debug logging.
	Debug(ctx, "agentpool", "Task processing started: %s", "implement health check")
	Debug(ctx, "prmonitor", "Review bucket: %s", "pending")
	Debug(ctx, "issuepoller", "Message routing: %s -> %s", "agentpool-1", "prmonitor")

	// This should be filtered out since "unknown" is not an enabled domain.
	Debug(ctx, "unknown", "This should not appear")

	// 2. Convenient helper functions.
	DebugState(ctx, "agentpool", "transition", "PENDING -> RUNNING", "claimed work item")
	DebugMessage(ctx, "issuepoller", "TASK", "queued for dispatch")
	DebugFlow(ctx, "agentpool", "implement", "complete", "PR opened")

	// 3. Domain-only filtering: only agentpool enabled.
	SetDebugDomains([]string{"agentpool"})
	Debug(ctx, "agentpool", "This should appear (agentpool domain enabled)")
	Debug(ctx, "prmonitor", "This should NOT appear (prmonitor domain disabled)")

	// 4. File logging demo (if enabled via environment)
	if os.Getenv("DEBUG_FILE") == "1" {
		DebugToFile(ctx, "agentpool", "test_debug.log", "File debug test: %s", "implementation complete")
	}

	// Reset for other tests.
	SetDebugConfig(false, false, ".")
	SetDebugDomains(nil)
}

// TestEnvironmentVariableControlDemo shows how to use environment variables.
func TestEnvironmentVariableControlDemo(t *testing.T) {
	t.Log("=== Environment Variable Control Examples ===")
	t.Log("To enable debug logging for specific domains:")
	t.Log("  DEBUG=1 DEBUG_DOMAINS=agentpool,prmonitor go test")
	t.Log("  DEBUG=1 DEBUG_FILE=1 DEBUG_DIR=./logs go test")
	t.Log("")
	t.Log("To enable debug for all domains:")
	t.Log("  DEBUG=1 go test")
	t.Log("")
	t.Log("To enable file logging:")
	t.Log("  DEBUG=1 DEBUG_FILE=1 go test")
}
