package runner

import (
	"math"
	"os"
	"os/exec"
	"strings"
	"sync"

	"github.com/creack/pty"
)

// Shell is a PTY-backed interactive process. Exactly one Shell backs a
// shell session at a time.
type Shell struct {
	ptmx *os.File
	cmd  *exec.Cmd

	closeOnce sync.Once
}

func shellCommand(inv Invocation) *exec.Cmd {
	var cmd *exec.Cmd
	if len(inv.Command) > 0 {
		cmd = exec.Command(inv.Command[0], inv.Command[1:]...)
	} else {
		userShell := strings.TrimSpace(os.Getenv("SHELL"))
		if userShell == "" {
			userShell = "/bin/bash"
		}
		cmd = exec.Command(userShell, "-l")
	}
	cmd.Dir = workingDir(inv)
	cmd.Env = os.Environ()
	return cmd
}

func startShell(cmd *exec.Cmd, cols, rows uint16) (*Shell, error) {
	var ptmx *os.File
	var err error
	if cols > 0 && rows > 0 {
		ptmx, err = pty.StartWithSize(cmd, &pty.Winsize{Rows: rows, Cols: cols})
	} else {
		ptmx, err = pty.Start(cmd)
	}
	if err != nil {
		return nil, err
	}
	return &Shell{ptmx: ptmx, cmd: cmd}, nil
}

// Read reads PTY output.
func (s *Shell) Read(p []byte) (int, error) {
	return s.ptmx.Read(p)
}

// Write writes input to the PTY.
func (s *Shell) Write(p []byte) (int, error) {
	return s.ptmx.Write(p)
}

// Resize updates the PTY window size without restarting the process.
func (s *Shell) Resize(cols, rows int) error {
	cols16, okCols := intToUint16(cols)
	rows16, okRows := intToUint16(rows)
	if !okCols || !okRows {
		return nil
	}
	return pty.Setsize(s.ptmx, &pty.Winsize{Rows: rows16, Cols: cols16})
}

// Close terminates the PTY. The underlying process receives SIGHUP from
// the kernel when its controlling terminal goes away; Kill is a backstop
// so no shell outlives its one connection.
func (s *Shell) Close() {
	s.closeOnce.Do(func() {
		_ = s.ptmx.Close()
		if s.cmd != nil && s.cmd.Process != nil {
			_ = s.cmd.Process.Kill()
		}
	})
}

// Wait blocks until the process exits and returns its exit code.
func (s *Shell) Wait() int {
	if s.cmd == nil {
		return -1
	}
	return ExitCode(s.cmd.Wait())
}

// PID returns the shell process id, 0 when not started.
func (s *Shell) PID() int {
	if s.cmd == nil || s.cmd.Process == nil {
		return 0
	}
	return s.cmd.Process.Pid
}

func intToUint16(value int) (uint16, bool) {
	if value <= 0 || value > math.MaxUint16 {
		return 0, false
	}
	return uint16(value), true
}
