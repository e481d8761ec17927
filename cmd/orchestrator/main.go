// Command orchestrator drives the issue-to-PR pipeline: it polls labeled
// GitHub issues, dispatches agent processes to implement them, and
// shepherds the resulting pull requests through review.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"orchestrator/pkg/agentpool"
	"orchestrator/pkg/capability"
	"orchestrator/pkg/config"
	"orchestrator/pkg/github"
	"orchestrator/pkg/issuepoller"
	"orchestrator/pkg/logx"
	"orchestrator/pkg/metrics"
	"orchestrator/pkg/persistence"
	"orchestrator/pkg/prmonitor"
	"orchestrator/pkg/ratelimit"
	"orchestrator/pkg/version"
	"orchestrator/pkg/webui"
	"orchestrator/pkg/worktree"
)

func main() {
	showVersion := flag.Bool("version", false, "Show version information")
	flag.Parse()

	if *showVersion {
		fmt.Printf("orchestrator %s (%s)\n", version.Version, version.Commit)
		os.Exit(0)
	}

	os.Exit(run())
}

// run wires up and starts every control loop, blocking until a shutdown
// signal is received. It returns an exit code so main can defer nothing
// and call os.Exit directly.
func run() int {
	logger := logx.NewLogger("orchestrator")

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config error: %v\n", err)
		return 1
	}
	logger.Info("starting orchestrator %s", version.Version)
	logger.Info("config: %s", cfg.Redacted())

	db, err := persistence.InitializeDatabase(cfg.DBPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize database: %v\n", err)
		return 1
	}
	defer func() { _ = db.Close() }()
	store := persistence.NewStore(db)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	owner, repo := splitOwnerRepo(cfg.GitHubRepo)
	gh := github.NewClient(owner, repo)
	wt := worktree.NewManager(cfg.TargetRepoPath, cfg.WorktreeDir)

	recovered, err := store.RecoverStaleRuns()
	if err != nil {
		fmt.Fprintf(os.Stderr, "recovery scan failed: %v\n", err)
		return 1
	}
	for _, r := range recovered {
		logger.Info("cleaning up worktree for orphaned agent %s", r.AgentID)
		if r.WorktreePath != "" {
			if err := wt.Cleanup(ctx, r.WorktreePath); err != nil {
				logger.Warn("failed to clean up worktree %s: %v", r.WorktreePath, err)
			}
		}
	}

	recorder := metrics.New()
	detector := ratelimit.NewDetector(recorder.Registerer())

	caps, err := capability.Discover(cfg.SkillsEnabled, cfg.SkillsDir)
	if err != nil {
		logger.Warn("failed to discover skill capabilities: %v", err)
	}

	supervisor := agentpool.New(store, gh, wt, cfg, detector, recorder)
	poller := issuepoller.New(gh, store, supervisor, cfg.IssueLabel, cfg.TriggerMention, time.Duration(cfg.PollIntervalSeconds)*time.Second)
	monitor := prmonitor.New(gh, store, supervisor, cfg.MaxPRFixRetries, time.Duration(cfg.PRPollIntervalSeconds)*time.Second)
	dashboard := webui.NewServer(store, recorder)

	go poller.Run(ctx, caps)
	go monitor.Run(ctx, caps)
	go supervisor.RunWatcher(ctx, caps)
	if err := dashboard.StartServer(ctx, "0.0.0.0", cfg.DashboardPort); err != nil {
		logger.Error("failed to start dashboard: %v", err)
	}

	<-ctx.Done()
	logger.Info("shutdown signal received, stopping intake loops (live agents are left running)")

	// Give the background loops' current tick a moment to observe
	// ctx.Done() and return before the process exits.
	time.Sleep(500 * time.Millisecond)
	return 0
}

// splitOwnerRepo splits an "owner/repo" slug into its two parts.
func splitOwnerRepo(slug string) (owner, repo string) {
	owner, repo, _ = strings.Cut(slug, "/")
	return owner, repo
}
