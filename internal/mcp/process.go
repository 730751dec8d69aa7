package mcp

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	"burrow/internal/async"
	"burrow/internal/logging"
)

// serverProcess owns the lifecycle of one tool server child process and its
// stdio pipes.
type serverProcess struct {
	command string
	args    []string
	env     []string

	mu      sync.Mutex
	cmd     *exec.Cmd
	stdin   io.WriteCloser
	stdout  io.ReadCloser
	stderr  io.ReadCloser
	running bool
	exited  chan error

	logger logging.Logger
}

func newServerProcess(command string, args []string, env map[string]string) *serverProcess {
	p := &serverProcess{
		command: command,
		args:    args,
		logger:  logging.NewComponentLogger(fmt.Sprintf("ToolServer[%s]", command)),
	}
	if len(env) > 0 {
		p.env = append(p.env, os.Environ()...)
		for k, v := range env {
			p.env = append(p.env, k+"="+v)
		}
	}
	return p
}

func (p *serverProcess) start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.running {
		return fmt.Errorf("process already running")
	}

	resolved, err := resolveExecutable(p.command)
	if err != nil {
		return err
	}

	cmd := exec.CommandContext(ctx, resolved, p.args...)
	if p.env != nil {
		cmd.Env = p.env
	}

	if p.stdin, err = cmd.StdinPipe(); err != nil {
		return fmt.Errorf("stdin pipe: %w", err)
	}
	if p.stdout, err = cmd.StdoutPipe(); err != nil {
		return fmt.Errorf("stdout pipe: %w", err)
	}
	if p.stderr, err = cmd.StderrPipe(); err != nil {
		return fmt.Errorf("stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start %s: %w", p.command, err)
	}

	p.cmd = cmd
	p.running = true
	p.exited = make(chan error, 1)
	p.logger.Info("tool server started, pid=%d", cmd.Process.Pid)

	stderr := p.stderr
	async.Go(p.logger, "mcp.drainStderr", func() {
		scanner := bufio.NewScanner(stderr)
		for scanner.Scan() {
			p.logger.Debug("[stderr] %s", scanner.Text())
		}
	})

	exited := p.exited
	async.Go(p.logger, "mcp.waitExit", func() {
		err := cmd.Wait()
		p.mu.Lock()
		wasRunning := p.running
		p.running = false
		p.mu.Unlock()
		exited <- err
		if wasRunning {
			p.logger.Warn("tool server exited unexpectedly: %v", err)
		}
	})

	return nil
}

func resolveExecutable(command string) (string, error) {
	trimmed := strings.TrimSpace(command)
	if trimmed == "" {
		return "", fmt.Errorf("command is required")
	}
	resolved, err := exec.LookPath(trimmed)
	if err != nil {
		return "", fmt.Errorf("command not found: %w", err)
	}
	return resolved, nil
}

// stop closes stdin to let the server exit on its own, then kills it after
// the grace period.
func (p *serverProcess) stop(grace time.Duration) error {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return nil
	}
	p.running = false
	cmd := p.cmd
	stdin := p.stdin
	exited := p.exited
	p.mu.Unlock()

	if stdin != nil {
		_ = stdin.Close()
	}

	select {
	case <-exited:
		return nil
	case <-time.After(grace):
		p.logger.Warn("tool server did not exit within %v, killing", grace)
		if cmd != nil && cmd.Process != nil {
			if err := cmd.Process.Kill(); err != nil {
				return fmt.Errorf("kill tool server: %w", err)
			}
		}
		return nil
	}
}

func (p *serverProcess) write(data []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.running || p.stdin == nil {
		return fmt.Errorf("process not running")
	}
	if _, err := p.stdin.Write(data); err != nil {
		return fmt.Errorf("write to tool server: %w", err)
	}
	return nil
}

func (p *serverProcess) reader() io.Reader {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stdout
}
