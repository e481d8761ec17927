package agentpool

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"orchestrator/pkg/events"
	"orchestrator/pkg/logx"
	"orchestrator/pkg/ratelimit"
)

// outcome tags how a spawned agent process finished, decoupling
// completion handling from the mechanics of reaping the child and
// draining its event reader.
type outcome struct {
	events.Result
	ExitErr     error
	TimedOut    bool
	RateLimited bool
}

// process owns everything about one live agent invocation: its pid, its
// event-reader goroutine, its stderr scanner, and the timer that force-kills
// it past AGENT_TIMEOUT_SECONDS. Wait is the single synchronous completion
// point; reaping the child and draining the reader happen independently of
// each other so neither can wedge the other.
//
// cmd.Wait is only ever called from the reaper goroutine started in spawn;
// every other consumer (Wait, the timeout enforcer) blocks on exited
// instead, since os/exec forbids calling Wait more than once.
type process struct {
	agentID    string
	cmd        *exec.Cmd
	logger     *logx.Logger
	waitResult chan events.Result
	exited     chan struct{}

	mu       sync.Mutex
	exitErr  error
	killed   bool
	rateHit  bool
	timedOut bool
}

// spawnOpts configures one agent invocation.
//
//nolint:govet // logical grouping preferred over memory optimization
type spawnOpts struct {
	AgentID  string
	Argv     []string
	Dir      string
	Env      []string
	Sink     events.Sink
	Detector *ratelimit.Detector
	Timeout  time.Duration
}

// spawn starts the agent program detached (new session, orphan-safe) and
// returns a handle immediately; the child continues running even if the
// orchestrator restarts. ctx is accepted for future cancellation-aware
// callers but deliberately not wired to cmd's lifetime: orchestrator
// shutdown must not kill live agents.
func spawn(_ context.Context, opts spawnOpts) (*process, error) {
	cmd := exec.Command(opts.Argv[0], opts.Argv[1:]...)
	cmd.Dir = opts.Dir
	cmd.Env = opts.Env
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to open stdout pipe for %s: %w", opts.AgentID, err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to open stderr pipe for %s: %w", opts.AgentID, err)
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start agent process for %s: %w", opts.AgentID, err)
	}

	p := &process{
		agentID: opts.AgentID,
		cmd:     cmd,
		logger:  logx.NewLogger("agentpool"),
		exited:  make(chan struct{}),
	}

	go func() {
		err := p.cmd.Wait()
		p.mu.Lock()
		p.exitErr = err
		p.mu.Unlock()
		close(p.exited)
	}()

	resultCh := make(chan events.Result, 1)
	go func() {
		rd := events.NewReader(opts.Sink, opts.AgentID)
		res, err := rd.Consume(stdout)
		if err != nil {
			p.logger.Warn("event reader for %s ended with error: %v", opts.AgentID, err)
		}
		resultCh <- res
	}()

	go p.scanStderr(stderr, opts.Detector, opts.Sink)

	go p.enforceTimeout(opts.Timeout)

	p.waitResult = resultCh
	return p, nil
}

func (p *process) scanStderr(r io.Reader, detector *ratelimit.Detector, sink events.Sink) {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := scanner.Text()
		if detector.Match(line) {
			p.mu.Lock()
			p.rateHit = true
			p.mu.Unlock()
			_ = sink.AppendEvent(p.agentID, "rate_limit_event", line, "")
			p.terminate()
			return
		}
	}
}

func (p *process) enforceTimeout(d time.Duration) {
	if d <= 0 {
		return
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-p.exited:
		return
	case <-timer.C:
	}

	p.logger.Warn("agent %s exceeded timeout of %s, terminating", p.agentID, d)
	p.mu.Lock()
	p.timedOut = true
	p.mu.Unlock()
	p.terminate()
}

// terminate sends SIGTERM to the process group, waits a grace window for
// a clean exit, then SIGKILLs if it hasn't. Safe to call more than once
// or after the process has already exited.
func (p *process) terminate() {
	p.mu.Lock()
	if p.killed {
		p.mu.Unlock()
		return
	}
	p.killed = true
	pid := 0
	if p.cmd.Process != nil {
		pid = p.cmd.Process.Pid
	}
	p.mu.Unlock()
	if pid == 0 {
		return
	}

	_ = syscall.Kill(-pid, syscall.SIGTERM)

	select {
	case <-p.exited:
	case <-time.After(10 * time.Second):
		_ = syscall.Kill(-pid, syscall.SIGKILL)
	}
}

// Kill stops the child through terminate: SIGTERM to its process group,
// then SIGKILL if it has not exited within the grace window.
func (p *process) Kill() {
	p.terminate()
}

// Wait blocks until the child exits and its event reader has drained,
// returning a tagged outcome.
func (p *process) Wait() outcome {
	<-p.exited
	res := <-p.waitResult

	p.mu.Lock()
	exitErr := p.exitErr
	rateHit := p.rateHit
	timedOut := p.timedOut
	p.mu.Unlock()

	return outcome{
		Result:      res,
		ExitErr:     exitErr,
		TimedOut:    timedOut,
		RateLimited: rateHit,
	}
}

// PID returns the OS process id, or 0 if the process hasn't started.
func (p *process) PID() int {
	if p.cmd.Process == nil {
		return 0
	}
	return p.cmd.Process.Pid
}
