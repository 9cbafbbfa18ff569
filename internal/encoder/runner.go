package encoder

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"os/exec"
	"time"
)

const (
	maxStderrBytes = 8 * 1024
	// waitDelay bounds how long Run waits for stderr to close after the
	// process is killed, in case a child process still holds it open.
	waitDelay = 2 * time.Second
)

// RunResult is the outcome of one encoder process.
type RunResult struct {
	ExitCode   int
	StderrTail string
	Duration   time.Duration
	TimedOut   bool
}

func (r RunResult) IsSuccess() bool {
	return r.ExitCode == 0
}

// Executor runs an encoder command to completion.
type Executor interface {
	Run(ctx context.Context, cmd *Command) RunResult
}

// SubprocessExecutor runs commands with os/exec.
type SubprocessExecutor struct {
	logger *slog.Logger
}

func NewSubprocessExecutor(logger *slog.Logger) *SubprocessExecutor {
	return &SubprocessExecutor{logger: logger}
}

func (e *SubprocessExecutor) Run(ctx context.Context, c *Command) RunResult {
	start := time.Now()

	cmd := exec.CommandContext(ctx, c.Binary, c.Args()...)
	var stderr bytes.Buffer
	cmd.Stderr = &limitedWriter{w: &stderr, limit: maxStderrBytes}
	cmd.Stdout = io.Discard
	cmd.WaitDelay = waitDelay

	e.logger.Debug("executing encoder", "command", c.String())

	err := cmd.Run()
	elapsed := time.Since(start)

	exitCode := 0
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			exitCode = exitErr.ExitCode()
		} else {
			exitCode = -1
		}
		if stderr.Len() == 0 {
			stderr.WriteString(err.Error())
		}
	}

	res := RunResult{
		ExitCode:   exitCode,
		StderrTail: stderr.String(),
		Duration:   elapsed,
		TimedOut:   errors.Is(ctx.Err(), context.DeadlineExceeded),
	}
	if !res.IsSuccess() {
		e.logger.Warn("encoder failed",
			"exit_code", exitCode,
			"timed_out", res.TimedOut,
			"duration_ms", elapsed.Milliseconds(),
			"stderr_tail", truncate(res.StderrTail, 512),
		)
	} else {
		e.logger.Info("encoder finished", "duration_ms", elapsed.Milliseconds())
	}
	return res
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return "..." + s[len(s)-maxLen:]
}

// limitedWriter keeps only the last limit bytes written to it.
type limitedWriter struct {
	w     *bytes.Buffer
	limit int
}

func (lw *limitedWriter) Write(p []byte) (int, error) {
	n := len(p)
	lw.w.Write(p)
	if lw.w.Len() > lw.limit {
		b := lw.w.Bytes()
		tail := append([]byte(nil), b[len(b)-lw.limit:]...)
		lw.w.Reset()
		lw.w.Write(tail)
	}
	return n, nil
}
