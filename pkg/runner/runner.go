// Package runner executes project commands, either directly on the host
// ("generic") or inside a docker-compose service ("compose:<service>").
// It is the execution backend behind jobs and shell sessions: the gateway
// never shells out on its own.
package runner

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"

	wharferrors "github.com/wharfdev/wharf/pkg/errors"
)

// Invocation describes one command execution within a project.
type Invocation struct {
	ProjectDir string
	Dir        string // optional working dir override, relative to ProjectDir
	Command    []string
}

// Events receives asynchronous execution callbacks. Output is called once
// per line in production order; Finished is called exactly once after the
// last Output call.
type Events interface {
	Started(pid int)
	Output(line string)
	Finished(exitCode int, err error)
}

// Backend runs commands to completion or launches interactive shells.
type Backend interface {
	Run(ctx context.Context, inv Invocation, events Events)
	StartShell(inv Invocation, cols, rows uint16) (*Shell, error)
}

const composePrefix = "compose:"

// Resolve maps a runner identifier to a backend. Accepted identifiers:
// "generic" for host execution, "compose:<service>" for execution inside
// a compose service container.
func Resolve(id string) (Backend, error) {
	id = strings.TrimSpace(id)
	switch {
	case id == "" || id == "generic":
		return &GenericBackend{}, nil
	case strings.HasPrefix(id, composePrefix):
		service := strings.TrimSpace(strings.TrimPrefix(id, composePrefix))
		if service == "" {
			return nil, wharferrors.Newf(wharferrors.ErrCodeValidation, "runner %q missing compose service name", id)
		}
		return &ComposeBackend{Service: service}, nil
	default:
		return nil, wharferrors.Newf(wharferrors.ErrCodeValidation, "unknown runner %q", id)
	}
}

// GenericBackend executes on the host.
type GenericBackend struct{}

// Run executes the invocation to completion, streaming combined
// stdout/stderr lines to events. A command that cannot start is reported
// through Finished with a sentinel exit code, not an error return: the
// job was created, the runner failed.
func (b *GenericBackend) Run(ctx context.Context, inv Invocation, events Events) {
	runCommand(ctx, buildCommand(ctx, inv), events)
}

// StartShell launches an interactive login shell (or the invocation's
// command) under a PTY sized cols×rows.
func (b *GenericBackend) StartShell(inv Invocation, cols, rows uint16) (*Shell, error) {
	cmd := shellCommand(inv)
	return startShell(cmd, cols, rows)
}

// ComposeBackend executes inside a docker-compose service container.
type ComposeBackend struct {
	Service string
}

func (b *ComposeBackend) wrap(inv Invocation) Invocation {
	args := []string{"docker", "compose", "run", "--rm", "-T", b.Service}
	wrapped := inv
	wrapped.Command = append(args, inv.Command...)
	return wrapped
}

func (b *ComposeBackend) Run(ctx context.Context, inv Invocation, events Events) {
	runCommand(ctx, buildCommand(ctx, b.wrap(inv)), events)
}

func (b *ComposeBackend) StartShell(inv Invocation, cols, rows uint16) (*Shell, error) {
	args := []string{"docker", "compose", "run", "--rm", "-i", b.Service}
	if len(inv.Command) > 0 {
		args = append(args, inv.Command...)
	} else {
		args = append(args, "sh", "-l")
	}
	wrapped := inv
	wrapped.Command = args
	cmd := exec.Command(wrapped.Command[0], wrapped.Command[1:]...)
	cmd.Dir = workingDir(wrapped)
	cmd.Env = os.Environ()
	return startShell(cmd, cols, rows)
}

func workingDir(inv Invocation) string {
	if strings.TrimSpace(inv.Dir) == "" {
		return inv.ProjectDir
	}
	return inv.Dir
}

func buildCommand(ctx context.Context, inv Invocation) *exec.Cmd {
	cmd := exec.CommandContext(ctx, inv.Command[0], inv.Command[1:]...)
	cmd.Dir = workingDir(inv)
	cmd.Env = os.Environ()
	return cmd
}

func runCommand(ctx context.Context, cmd *exec.Cmd, events Events) {
	pr, pw := io.Pipe()
	cmd.Stdout = pw
	cmd.Stderr = pw

	if err := cmd.Start(); err != nil {
		_ = pw.Close()
		events.Finished(exitCodeStartFailure, fmt.Errorf("runner start: %w", err))
		return
	}
	events.Started(cmd.Process.Pid)

	scanDone := make(chan struct{})
	go func() {
		defer close(scanDone)
		scanner := bufio.NewScanner(pr)
		scanner.Buffer(make([]byte, 64*1024), 1024*1024)
		for scanner.Scan() {
			events.Output(scanner.Text())
		}
	}()

	err := cmd.Wait()
	_ = pw.Close()
	<-scanDone
	events.Finished(ExitCode(err), err)
}

// exitCodeStartFailure is the sentinel for commands that never started
// (binary missing, bad working dir).
const exitCodeStartFailure = 127

// ExitCode extracts the process exit code from a Wait error. Abnormal
// termination without a status maps to -1.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	if exitErr, ok := err.(*exec.ExitError); ok && exitErr.ProcessState != nil {
		return exitErr.ProcessState.ExitCode()
	}
	return -1
}
