// Package config loads and validates the orchestrator's environment-variable
// configuration.
package config

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
)

// Config holds the fully-resolved environment-variable configuration
// described in the external interfaces table.
//
//nolint:govet // logical grouping preferred over memory optimization
type Config struct {
	ClaudeCodeOAuthToken string
	GHToken              string
	GitHubRepo           string
	TargetRepoPath       string
	BaseBranch           string

	MaxConcurrentAgents int
	AgentMaxTurnsImplement int
	AgentMaxTurnsFix       int
	AgentTimeoutSeconds    int

	PollIntervalSeconds   int
	PRPollIntervalSeconds int

	IssueLabel     string
	TriggerMention string

	MaxIssueRetries        int
	MaxPRFixRetries        int
	RateLimitRetryInterval int
	MaxRateLimitResumes    int

	SkillsEnabled bool
	SkillsDir     string

	WorktreeDir string
	DBPath      string
	DashboardPort int
}

// envSpec describes one environment variable for loading and redaction.
type envSpec struct {
	name     string
	def      string
	required bool
	secret   bool
}

var specs = []envSpec{
	{"CLAUDE_CODE_OAUTH_TOKEN", "", true, true},
	{"GH_TOKEN", "", true, true},
	{"GITHUB_REPO", "", true, false},
	{"TARGET_REPO_PATH", "", true, false},
	{"BASE_BRANCH", "main", false, false},
	{"MAX_CONCURRENT_AGENTS", "3", false, false},
	{"AGENT_MAX_TURNS_IMPLEMENT", "30", false, false},
	{"AGENT_MAX_TURNS_FIX", "20", false, false},
	{"AGENT_TIMEOUT_SECONDS", "1800", false, false},
	{"POLL_INTERVAL_SECONDS", "300", false, false},
	{"PR_POLL_INTERVAL_SECONDS", "120", false, false},
	{"ISSUE_LABEL", "agent", false, false},
	{"TRIGGER_MENTION", "@claude-swarm", false, false},
	{"MAX_ISSUE_RETRIES", "3", false, false},
	{"MAX_PR_FIX_RETRIES", "5", false, false},
	{"RATE_LIMIT_RETRY_INTERVAL", "300", false, false},
	{"MAX_RATE_LIMIT_RESUMES", "5", false, false},
	{"SKILLS_ENABLED", "true", false, false},
	{"SKILLS_DIR", ".claude/skills", false, false},
	{"WORKTREE_DIR", "", false, false}, // computed default, see Load
	{"DB_PATH", "orchestrator/swarm.db", false, false},
	{"DASHBOARD_PORT", "8420", false, false},
}

// Load reads and validates the environment, applying defaults from the
// table above. Missing required variables are all listed in one error; an
// unparsable number or a failed validation returns the first such problem
// found, each with a "specific actionable message" per spec §7.
func Load() (*Config, error) {
	values := make(map[string]string, len(specs))
	var missing []string
	for _, sp := range specs {
		v, ok := os.LookupEnv(sp.name)
		if !ok || v == "" {
			if sp.required {
				missing = append(missing, sp.name)
				continue
			}
			v = sp.def
		}
		values[sp.name] = v
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("missing required environment variables: %s", strings.Join(missing, ", "))
	}

	cfg := &Config{
		ClaudeCodeOAuthToken: values["CLAUDE_CODE_OAUTH_TOKEN"],
		GHToken:              values["GH_TOKEN"],
		GitHubRepo:           values["GITHUB_REPO"],
		TargetRepoPath:       values["TARGET_REPO_PATH"],
		BaseBranch:           values["BASE_BRANCH"],
		IssueLabel:           values["ISSUE_LABEL"],
		TriggerMention:       values["TRIGGER_MENTION"],
		SkillsDir:            values["SKILLS_DIR"],
		DBPath:               values["DB_PATH"],
	}

	var err error
	if cfg.MaxConcurrentAgents, err = atoi("MAX_CONCURRENT_AGENTS", values); err != nil {
		return nil, err
	}
	if cfg.AgentMaxTurnsImplement, err = atoi("AGENT_MAX_TURNS_IMPLEMENT", values); err != nil {
		return nil, err
	}
	if cfg.AgentMaxTurnsFix, err = atoi("AGENT_MAX_TURNS_FIX", values); err != nil {
		return nil, err
	}
	if cfg.AgentTimeoutSeconds, err = atoi("AGENT_TIMEOUT_SECONDS", values); err != nil {
		return nil, err
	}
	if cfg.PollIntervalSeconds, err = atoi("POLL_INTERVAL_SECONDS", values); err != nil {
		return nil, err
	}
	if cfg.PRPollIntervalSeconds, err = atoi("PR_POLL_INTERVAL_SECONDS", values); err != nil {
		return nil, err
	}
	if cfg.MaxIssueRetries, err = atoi("MAX_ISSUE_RETRIES", values); err != nil {
		return nil, err
	}
	if cfg.MaxPRFixRetries, err = atoi("MAX_PR_FIX_RETRIES", values); err != nil {
		return nil, err
	}
	if cfg.RateLimitRetryInterval, err = atoi("RATE_LIMIT_RETRY_INTERVAL", values); err != nil {
		return nil, err
	}
	if cfg.MaxRateLimitResumes, err = atoi("MAX_RATE_LIMIT_RESUMES", values); err != nil {
		return nil, err
	}
	if cfg.DashboardPort, err = atoi("DASHBOARD_PORT", values); err != nil {
		return nil, err
	}

	cfg.SkillsEnabled = strings.EqualFold(values["SKILLS_ENABLED"], "true") || values["SKILLS_ENABLED"] == "1"

	if wt := values["WORKTREE_DIR"]; wt != "" {
		cfg.WorktreeDir = wt
	} else {
		repoName := filepath.Base(cfg.TargetRepoPath)
		cfg.WorktreeDir = filepath.Join(filepath.Dir(cfg.TargetRepoPath), repoName+"-worktrees")
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func atoi(name string, values map[string]string) (int, error) {
	n, err := strconv.Atoi(values[name])
	if err != nil {
		return 0, fmt.Errorf("invalid integer value for %s: %q: %w", name, values[name], err)
	}
	return n, nil
}

// Validate checks environment preconditions the config table can't express
// on its own: the target path must be a git working tree, and the CLIs the
// orchestrator shells out to must resolve on PATH.
func (c *Config) Validate() error {
	info, err := os.Stat(c.TargetRepoPath)
	if err != nil || !info.IsDir() {
		return fmt.Errorf("TARGET_REPO_PATH %q does not exist or is not a directory", c.TargetRepoPath)
	}
	if _, err := os.Stat(filepath.Join(c.TargetRepoPath, ".git")); err != nil {
		return fmt.Errorf("TARGET_REPO_PATH %q is not a git repository (no .git found)", c.TargetRepoPath)
	}

	for _, bin := range []string{"git", "gh"} {
		if _, err := exec.LookPath(bin); err != nil {
			return fmt.Errorf("required CLI %q not found on PATH: %w", bin, err)
		}
	}

	if !strings.Contains(c.GitHubRepo, "/") {
		return fmt.Errorf("GITHUB_REPO must be in owner/name form, got %q", c.GitHubRepo)
	}

	return nil
}

// Redacted renders the configuration with secret values masked, for the
// startup log line called out by spec §7.
func (c *Config) Redacted() string {
	var b strings.Builder
	fmt.Fprintf(&b, "GITHUB_REPO=%s\n", c.GitHubRepo)
	fmt.Fprintf(&b, "TARGET_REPO_PATH=%s\n", c.TargetRepoPath)
	fmt.Fprintf(&b, "BASE_BRANCH=%s\n", c.BaseBranch)
	fmt.Fprintf(&b, "CLAUDE_CODE_OAUTH_TOKEN=%s\n", redact(c.ClaudeCodeOAuthToken))
	fmt.Fprintf(&b, "GH_TOKEN=%s\n", redact(c.GHToken))
	fmt.Fprintf(&b, "MAX_CONCURRENT_AGENTS=%d\n", c.MaxConcurrentAgents)
	fmt.Fprintf(&b, "AGENT_MAX_TURNS_IMPLEMENT=%d\n", c.AgentMaxTurnsImplement)
	fmt.Fprintf(&b, "AGENT_MAX_TURNS_FIX=%d\n", c.AgentMaxTurnsFix)
	fmt.Fprintf(&b, "AGENT_TIMEOUT_SECONDS=%d\n", c.AgentTimeoutSeconds)
	fmt.Fprintf(&b, "POLL_INTERVAL_SECONDS=%d\n", c.PollIntervalSeconds)
	fmt.Fprintf(&b, "PR_POLL_INTERVAL_SECONDS=%d\n", c.PRPollIntervalSeconds)
	fmt.Fprintf(&b, "ISSUE_LABEL=%s\n", c.IssueLabel)
	fmt.Fprintf(&b, "TRIGGER_MENTION=%s\n", c.TriggerMention)
	fmt.Fprintf(&b, "MAX_ISSUE_RETRIES=%d\n", c.MaxIssueRetries)
	fmt.Fprintf(&b, "MAX_PR_FIX_RETRIES=%d\n", c.MaxPRFixRetries)
	fmt.Fprintf(&b, "RATE_LIMIT_RETRY_INTERVAL=%d\n", c.RateLimitRetryInterval)
	fmt.Fprintf(&b, "MAX_RATE_LIMIT_RESUMES=%d\n", c.MaxRateLimitResumes)
	fmt.Fprintf(&b, "SKILLS_ENABLED=%t\n", c.SkillsEnabled)
	fmt.Fprintf(&b, "WORKTREE_DIR=%s\n", c.WorktreeDir)
	fmt.Fprintf(&b, "DB_PATH=%s\n", c.DBPath)
	fmt.Fprintf(&b, "DASHBOARD_PORT=%d", c.DashboardPort)
	return b.String()
}

func redact(s string) string {
	if len(s) <= 8 {
		return "***"
	}
	return s[:4] + "..." + s[len(s)-4:]
}
