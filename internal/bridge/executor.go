package bridge

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strings"
	"time"

	"github.com/benmeehan/debloat-agent/internal/constants"
	"github.com/rs/zerolog"
)

// pipeWaitDelay bounds how long Wait blocks on pipes held open by
// grandchildren after the bridge process itself was killed.
const pipeWaitDelay = 2 * time.Second

// Runner is the capability every device-facing component depends on.
type Runner interface {
	// Run executes a bridge subcommand and returns its stdout.
	Run(ctx context.Context, args ...string) (string, error)
	// Stream delivers stdout lines to onLine as they are produced.
	Stream(ctx context.Context, onLine func(line string), args ...string) error
}

// Result is the outcome of an asynchronous invocation.
type Result struct {
	Output string
	Err    error
}

// Executor spawns the resolved bridge binary and classifies failures.
type Executor struct {
	locator       *Locator
	timeout       time.Duration
	streamTimeout time.Duration
	logger        zerolog.Logger
}

// NewExecutor creates an Executor. Zero timeouts fall back to defaults.
func NewExecutor(locator *Locator, timeout, streamTimeout time.Duration, logger zerolog.Logger) *Executor {
	if timeout <= 0 {
		timeout = constants.DefaultCommandTimeout * time.Second
	}
	if streamTimeout <= 0 {
		streamTimeout = constants.DefaultStreamTimeout * time.Second
	}
	return &Executor{
		locator:       locator,
		timeout:       timeout,
		streamTimeout: streamTimeout,
		logger:        logger,
	}
}

// Locator exposes the executor's locator.
func (e *Executor) Locator() *Locator {
	return e.locator
}

// Run executes the subcommand and blocks until it exits.
func (e *Executor) Run(ctx context.Context, args ...string) (string, error) {
	exe, err := e.locator.Resolve(ctx)
	if err != nil {
		return "", err
	}

	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	e.logger.Debug().Str("path", exe.Path).Strs("args", args).Msg("Executing ADB command")

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, exe.Path, args...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	cmd.WaitDelay = pipeWaitDelay

	if err := cmd.Run(); err != nil {
		return "", e.failure(ctx, err, stderr.String(), args)
	}
	return stdout.String(), nil
}

// RunAsync runs the subcommand on its own goroutine. The channel receives
// exactly one Result and is then closed.
func (e *Executor) RunAsync(ctx context.Context, args ...string) <-chan Result {
	out := make(chan Result, 1)
	go func() {
		defer close(out)
		output, err := e.Run(ctx, args...)
		out <- Result{Output: output, Err: err}
	}()
	return out
}

// Stream executes the subcommand and hands each stdout line to onLine as it
// arrives. Classification of a non-zero exit happens after stdout is drained.
func (e *Executor) Stream(ctx context.Context, onLine func(line string), args ...string) error {
	exe, err := e.locator.Resolve(ctx)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, e.streamTimeout)
	defer cancel()

	e.logger.Debug().Str("path", exe.Path).Strs("args", args).Msg("Streaming ADB command")

	var stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, exe.Path, args...)
	cmd.Stderr = &stderr
	cmd.WaitDelay = pipeWaitDelay
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return CommandFailed(fmt.Sprintf("Failed to spawn ADB process: %v", err))
	}
	if err := cmd.Start(); err != nil {
		return CommandFailed(fmt.Sprintf("Failed to spawn ADB process: %v", err))
	}

	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		onLine(scanner.Text())
	}
	scanErr := scanner.Err()
	if scanErr != nil {
		_, _ = io.Copy(io.Discard, stdout)
	}

	if err := cmd.Wait(); err != nil {
		return e.failure(ctx, err, stderr.String(), args)
	}
	if scanErr != nil {
		return CommandFailed(fmt.Sprintf("Failed to read ADB output: %v", scanErr))
	}
	return nil
}

func (e *Executor) failure(ctx context.Context, err error, stderr string, args []string) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		e.logger.Error().Strs("args", args).Msg("ADB command timed out")
		return &Error{Kind: KindTimeout}
	}
	if errors.Is(ctx.Err(), context.Canceled) {
		return ctx.Err()
	}

	var exitErr *exec.ExitError
	if !errors.As(err, &exitErr) {
		return CommandFailed(fmt.Sprintf("Failed to execute ADB: %v", err))
	}

	classified := classifyStderr(stderr, exitErr.Error())
	e.logger.Debug().Strs("args", args).Str("kind", classified.Kind.String()).Msg("ADB command failed")
	return classified
}

// ShellArgs builds the argument list for a device shell command. An empty
// serial targets the bridge's sole device.
func ShellArgs(serial, command string) []string {
	if serial == "" {
		return []string{"shell", command}
	}
	return []string{"-s", serial, "shell", command}
}

// Shell runs a shell command on the device through r.
func Shell(ctx context.Context, r Runner, serial, command string) (string, error) {
	return r.Run(ctx, ShellArgs(serial, command)...)
}

// SplitLines splits command output into trimmed, non-empty lines.
func SplitLines(output string) []string {
	raw := strings.Split(output, "\n")
	lines := make([]string, 0, len(raw))
	for _, line := range raw {
		line = strings.TrimSpace(line)
		if line != "" {
			lines = append(lines, line)
		}
	}
	return lines
}
