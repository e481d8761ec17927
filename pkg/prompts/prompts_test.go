package prompts

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"orchestrator/pkg/capability"
	"orchestrator/pkg/github"
)

func TestBuildImplementPrompt_ContainsIssueAndBranch(t *testing.T) {
	p := BuildImplementPrompt(ImplementContext{IssueNumber: 42, BranchName: "fix/issue-42"})
	assert.Contains(t, p, "issue #42")
	assert.Contains(t, p, "gh issue view 42")
	assert.Contains(t, p, "git push -u origin fix/issue-42")
}

func TestBuildImplementPrompt_AppendsCapabilities(t *testing.T) {
	p := BuildImplementPrompt(ImplementContext{
		IssueNumber: 1,
		BranchName:  "fix/issue-1",
		Capabilities: []capability.Capability{
			{Name: "deploy", Description: "deploys the service"},
		},
	})
	assert.Contains(t, p, "Available capabilities")
	assert.Contains(t, p, "deploy: deploys the service")
}

func TestBuildImplementPrompt_NoCapabilitiesSection(t *testing.T) {
	p := BuildImplementPrompt(ImplementContext{IssueNumber: 1, BranchName: "b"})
	assert.NotContains(t, p, "Available capabilities")
}

func TestBuildFixReviewPrompt_ListsThreads(t *testing.T) {
	p := BuildFixReviewPrompt(FixReviewContext{
		PRNumber: 7,
		Threads: []github.ReviewThread{
			{Path: "main.go", Line: 10, Author: "alice", Body: "fix this"},
			{Author: "bob", Body: "clarify"},
		},
	})
	assert.Contains(t, p, "PR #7")
	assert.Contains(t, p, "main.go:10 (alice): fix this")
	assert.Contains(t, p, "(bob): clarify")
}

func TestBuildFixReviewPrompt_NoThreadsOmitsSection(t *testing.T) {
	p := BuildFixReviewPrompt(FixReviewContext{PRNumber: 3})
	assert.NotContains(t, p, "Unresolved review threads")
}

func TestBuildResumeImplementPrompt_MentionsRateLimit(t *testing.T) {
	p := BuildResumeImplementPrompt(ImplementContext{IssueNumber: 5, BranchName: "fix/issue-5"})
	assert.Contains(t, p, "rate limit")
	assert.Contains(t, p, "issue #5")
	assert.True(t, strings.Contains(p, "git status") && strings.Contains(p, "git log"))
}

func TestBuildResumeFixReviewPrompt_ListsThreads(t *testing.T) {
	p := BuildResumeFixReviewPrompt(FixReviewContext{
		PRNumber: 9,
		Threads:  []github.ReviewThread{{Path: "a.go", Line: 1, Author: "carol", Body: "still broken"}},
	})
	assert.Contains(t, p, "PR #9")
	assert.Contains(t, p, "a.go:1 (carol): still broken")
}
