// Package prompts builds the instruction text handed to the external
// agent process for each dispatch kind. Builders are pure: no I/O, no
// globals, so they can be exercised directly in tests.
package prompts

import (
	"fmt"
	"strings"

	"orchestrator/pkg/capability"
	"orchestrator/pkg/github"
)

// ImplementContext carries everything BuildImplementPrompt needs to
// describe an issue-implementation dispatch.
type ImplementContext struct {
	IssueNumber int
	BranchName  string
	Capabilities []capability.Capability
}

// FixReviewContext carries everything BuildFixReviewPrompt needs to
// describe a review-fix dispatch.
type FixReviewContext struct {
	PRNumber     int
	Threads      []github.ReviewThread
	Capabilities []capability.Capability
}

// BuildImplementPrompt asks the agent to implement the plan in an
// issue's body, push BranchName and open a PR from it.
func BuildImplementPrompt(c ImplementContext) string {
	var b strings.Builder
	b.WriteString("Read the AGENT.md file at the root of this repository FIRST and follow every guideline strictly.\n\n")
	fmt.Fprintf(&b, "Your task: Implement the feature or fix described in issue #%d.\n\n", c.IssueNumber)
	b.WriteString("Step 1 — Read the implementation plan:\n")
	fmt.Fprintf(&b, "Run `gh issue view %d` to read the full issue description.\n", c.IssueNumber)
	b.WriteString("The issue body contains a DETAILED IMPLEMENTATION PLAN. This is your complete spec.\n")
	b.WriteString("Read it carefully — it describes exactly what to build, which files to modify,\n")
	b.WriteString("what approach to take, and any edge cases to handle.\n\n")
	b.WriteString("Step 2 — Implement:\n")
	b.WriteString("Follow the plan in the issue body step by step.\n")
	b.WriteString("Follow AGENT.md coding standards for all code you write.\n\n")
	b.WriteString("Step 3 — Test:\n")
	b.WriteString("Run the project's test suite to verify your changes work.\n")
	b.WriteString("If tests fail, fix the issues and re-run tests until they pass.\n\n")
	b.WriteString("Step 4 — Commit and push:\n")
	fmt.Fprintf(&b, "Stage your changes and commit with a descriptive message referencing #%d.\n", c.IssueNumber)
	fmt.Fprintf(&b, "Push the branch: `git push -u origin %s`\n\n", c.BranchName)
	b.WriteString("Step 5 — Create PR:\n")
	fmt.Fprintf(&b, "Create a PR: `gh pr create --title \"Fix #%d: <concise title>\" --body \"Closes #%d\\n\\n<summary of what was implemented based on the plan>\"`\n\n", c.IssueNumber, c.IssueNumber)
	b.WriteString("Important:\n")
	b.WriteString("- The issue body IS the plan. Follow it precisely.\n")
	b.WriteString("- Do NOT modify files unrelated to what the plan specifies.\n")
	b.WriteString("- If the plan is unclear or something seems wrong, create the PR as a draft and note your questions in the PR body.\n")
	b.WriteString("- Always run tests before creating the PR.")

	appendCapabilities(&b, c.Capabilities)
	return b.String()
}

// BuildFixReviewPrompt asks the agent to resolve every unresolved review
// thread on an already-open PR.
func BuildFixReviewPrompt(c FixReviewContext) string {
	var b strings.Builder
	b.WriteString("Read the AGENT.md file at the root of this repository FIRST and follow every guideline strictly.\n\n")
	fmt.Fprintf(&b, "Your task: Fix all review comments on PR #%d.\n\n", c.PRNumber)
	b.WriteString("Steps:\n")
	fmt.Fprintf(&b, "1. Run `gh pr view %d --comments` to see the PR description and all comments.\n", c.PRNumber)
	b.WriteString("2. For each unresolved review thread below, understand the issue and implement the fix.\n")
	b.WriteString("3. Run the project's test suite to verify your changes.\n")
	b.WriteString("4. If tests fail, fix the issues and re-run tests.\n")
	fmt.Fprintf(&b, "5. Commit all fixes with message: \"fix: address review comments on PR #%d\"\n", c.PRNumber)
	b.WriteString("6. Push to the existing branch.\n\n")

	if len(c.Threads) > 0 {
		b.WriteString("Unresolved review threads:\n")
		for i, t := range c.Threads {
			if t.Path != "" {
				fmt.Fprintf(&b, "%d. %s:%d (%s): %s\n", i+1, t.Path, t.Line, t.Author, t.Body)
			} else {
				fmt.Fprintf(&b, "%d. (%s): %s\n", i+1, t.Author, t.Body)
			}
		}
		b.WriteString("\n")
	}

	b.WriteString("Important:\n")
	b.WriteString("- Address EVERY comment above — do not skip any.\n")
	b.WriteString("- Do NOT modify files unrelated to the review comments.\n")
	b.WriteString("- If a comment is unclear, add a reply comment asking for clarification using `gh pr comment`.")

	appendCapabilities(&b, c.Capabilities)
	return b.String()
}

// BuildResumeImplementPrompt asks a resumed session to pick back up on an
// implement dispatch that was interrupted by a rate limit, without
// re-doing work the session already remembers.
func BuildResumeImplementPrompt(c ImplementContext) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Your previous session on issue #%d was interrupted by a rate limit. ", c.IssueNumber)
	b.WriteString("Resume exactly where you left off using your existing context of the plan and any work already committed.\n\n")
	b.WriteString("Check `git status` and `git log` in this worktree before doing anything else, so you don't repeat completed steps.\n")
	b.WriteString("Continue implementing the plan from issue #")
	fmt.Fprintf(&b, "%d, then test, commit, push, and open the PR as originally instructed.", c.IssueNumber)
	appendCapabilities(&b, c.Capabilities)
	return b.String()
}

// BuildResumeFixReviewPrompt is the fix-review analogue of
// BuildResumeImplementPrompt.
func BuildResumeFixReviewPrompt(c FixReviewContext) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Your previous session fixing review comments on PR #%d was interrupted by a rate limit. ", c.PRNumber)
	b.WriteString("Resume exactly where you left off.\n\n")
	b.WriteString("Check `git status` and `git log` in this worktree before doing anything else, so you don't repeat completed fixes.\n")
	fmt.Fprintf(&b, "Confirm which of the review threads below are already addressed, fix the rest, then test, commit, and push to PR #%d.\n\n", c.PRNumber)

	if len(c.Threads) > 0 {
		b.WriteString("Unresolved review threads:\n")
		for i, t := range c.Threads {
			if t.Path != "" {
				fmt.Fprintf(&b, "%d. %s:%d (%s): %s\n", i+1, t.Path, t.Line, t.Author, t.Body)
			} else {
				fmt.Fprintf(&b, "%d. (%s): %s\n", i+1, t.Author, t.Body)
			}
		}
	}

	appendCapabilities(&b, c.Capabilities)
	return b.String()
}

func appendCapabilities(b *strings.Builder, caps []capability.Capability) {
	if len(caps) == 0 {
		return
	}
	b.WriteString("\n\nAvailable capabilities (invoke via the Skill tool when relevant):\n")
	for _, c := range caps {
		fmt.Fprintf(b, "- %s: %s\n", c.Name, c.Description)
	}
}
