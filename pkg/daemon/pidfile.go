// Package daemon runs the wharf gateway as a long-lived background
// process: pid file and bind marker under the data dir, stale-pid
// detection, start/stop/status from the CLI side.
package daemon

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"syscall"

	wharferrors "github.com/wharfdev/wharf/pkg/errors"
)

// ProcessState describes what the pid file says about the daemon.
type ProcessState int

const (
	StateNotRunning ProcessState = iota
	StateRunning
	StateStale
)

func (s ProcessState) String() string {
	switch s {
	case StateRunning:
		return "running"
	case StateStale:
		return "stale"
	default:
		return "not running"
	}
}

// processAlive checks liveness with signal 0. ESRCH means the process
// does not exist.
func processAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return proc.Signal(syscall.Signal(0)) == nil
}

// ReadPIDFile parses the pid file. A missing file means not running.
func ReadPIDFile(path string) (pid int, state ProcessState, err error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, StateNotRunning, nil
		}
		return 0, StateNotRunning, wharferrors.Wrap(err, wharferrors.ErrCodeStorage, "read pid file")
	}
	pid, err = strconv.Atoi(strings.TrimSpace(string(raw)))
	if err != nil {
		return 0, StateStale, nil
	}
	if !processAlive(pid) {
		return pid, StateStale, nil
	}
	return pid, StateRunning, nil
}

// WritePIDFile claims the pid file for the current process. A live pid
// already in the file is a hard error; a stale one is cleared with a
// notice, never silently trusted.
func WritePIDFile(path string, notice func(format string, args ...any)) error {
	pid, state, err := ReadPIDFile(path)
	if err != nil {
		return err
	}
	switch state {
	case StateRunning:
		return wharferrors.Newf(wharferrors.ErrCodeValidation,
			"gateway already running (pid %d); stop it first or remove %s", pid, path)
	case StateStale:
		if notice != nil {
			notice("clearing stale pid file %s (pid %d is not alive)", path, pid)
		}
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return wharferrors.Wrap(err, wharferrors.ErrCodeStorage, "remove stale pid file")
		}
	}
	if err := os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())+"\n"), 0o644); err != nil {
		return wharferrors.Wrap(err, wharferrors.ErrCodeStorage, "write pid file")
	}
	return nil
}

// RemovePIDFile deletes the pid file if it still belongs to this process.
func RemovePIDFile(path string) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return
	}
	if pid, err := strconv.Atoi(strings.TrimSpace(string(raw))); err == nil && pid != os.Getpid() {
		return
	}
	_ = os.Remove(path)
}

// WriteAddrFile records the bound listen address beside the pid file so
// clients can find the gateway without parsing config.
func WriteAddrFile(path, addr string) error {
	if err := os.WriteFile(path, []byte(addr+"\n"), 0o644); err != nil {
		return wharferrors.Wrap(err, wharferrors.ErrCodeStorage, "write addr file")
	}
	return nil
}

// ReadAddrFile returns the recorded listen address, empty when absent.
func ReadAddrFile(path string) string {
	raw, err := os.ReadFile(path)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(raw))
}

// Stop sends SIGTERM to the recorded pid. Returns daemon_not_running
// when no live daemon holds the pid file.
func Stop(pidPath string) (int, error) {
	pid, state, err := ReadPIDFile(pidPath)
	if err != nil {
		return 0, err
	}
	switch state {
	case StateNotRunning:
		return 0, wharferrors.New(wharferrors.ErrCodeDaemonNotRunning, "gateway is not running")
	case StateStale:
		_ = os.Remove(pidPath)
		return pid, wharferrors.Newf(wharferrors.ErrCodeDaemonStale,
			"pid file pointed at dead process %d; cleared", pid)
	}
	proc, err := os.FindProcess(pid)
	if err != nil {
		return pid, wharferrors.Wrap(err, wharferrors.ErrCodeInternal, "find gateway process")
	}
	if err := proc.Signal(syscall.SIGTERM); err != nil {
		return pid, wharferrors.Wrap(err, wharferrors.ErrCodeInternal, fmt.Sprintf("signal pid %d", pid))
	}
	return pid, nil
}
