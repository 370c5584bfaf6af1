package runner

import (
	"context"
	"errors"
	"os/exec"
	"strings"
	"sync"
	"testing"
	"time"
)

type recordingEvents struct {
	mu       sync.Mutex
	started  bool
	lines    []string
	exitCode int
	finished chan struct{}
}

func newRecordingEvents() *recordingEvents {
	return &recordingEvents{finished: make(chan struct{})}
}

func (r *recordingEvents) Started(pid int) {
	r.mu.Lock()
	r.started = true
	r.mu.Unlock()
}

func (r *recordingEvents) Output(line string) {
	r.mu.Lock()
	r.lines = append(r.lines, line)
	r.mu.Unlock()
}

func (r *recordingEvents) Finished(exitCode int, err error) {
	r.mu.Lock()
	r.exitCode = exitCode
	r.mu.Unlock()
	close(r.finished)
}

func (r *recordingEvents) wait(t *testing.T) {
	t.Helper()
	select {
	case <-r.finished:
	case <-time.After(10 * time.Second):
		t.Fatal("timed out waiting for Finished")
	}
}

func TestResolve(t *testing.T) {
	tests := []struct {
		id      string
		wantErr bool
	}{
		{"generic", false},
		{"", false},
		{"compose:web", false},
		{"compose:", true},
		{"podman", true},
	}
	for _, tt := range tests {
		t.Run(tt.id, func(t *testing.T) {
			_, err := Resolve(tt.id)
			if (err != nil) != tt.wantErr {
				t.Errorf("Resolve(%q) err = %v, wantErr %v", tt.id, err, tt.wantErr)
			}
		})
	}
}

func TestGenericRunStreamsOutput(t *testing.T) {
	events := newRecordingEvents()
	backend := &GenericBackend{}
	backend.Run(context.Background(), Invocation{
		ProjectDir: t.TempDir(),
		Command:    []string{"sh", "-c", "echo one; echo two >&2"},
	}, events)
	events.wait(t)

	events.mu.Lock()
	defer events.mu.Unlock()
	if !events.started {
		t.Error("Started never called")
	}
	if events.exitCode != 0 {
		t.Errorf("exit code = %d, want 0", events.exitCode)
	}
	got := map[string]bool{}
	for _, line := range events.lines {
		got[line] = true
	}
	if !got["one"] || !got["two"] {
		t.Errorf("missing output lines, got %v", events.lines)
	}
}

func TestGenericRunNonZeroExit(t *testing.T) {
	events := newRecordingEvents()
	(&GenericBackend{}).Run(context.Background(), Invocation{
		ProjectDir: t.TempDir(),
		Command:    []string{"sh", "-c", "exit 3"},
	}, events)
	events.wait(t)

	events.mu.Lock()
	defer events.mu.Unlock()
	if events.exitCode != 3 {
		t.Errorf("exit code = %d, want 3", events.exitCode)
	}
}

func TestGenericRunStartFailure(t *testing.T) {
	events := newRecordingEvents()
	(&GenericBackend{}).Run(context.Background(), Invocation{
		ProjectDir: t.TempDir(),
		Command:    []string{"/nonexistent-wharf-binary"},
	}, events)
	events.wait(t)

	events.mu.Lock()
	defer events.mu.Unlock()
	if events.started {
		t.Error("Started should not fire when the command cannot start")
	}
	if events.exitCode != exitCodeStartFailure {
		t.Errorf("exit code = %d, want %d", events.exitCode, exitCodeStartFailure)
	}
}

func TestComposeWrapsCommand(t *testing.T) {
	backend := &ComposeBackend{Service: "web"}
	wrapped := backend.wrap(Invocation{Command: []string{"ls", "-la"}})
	want := []string{"docker", "compose", "run", "--rm", "-T", "web", "ls", "-la"}
	if len(wrapped.Command) != len(want) {
		t.Fatalf("wrapped = %v, want %v", wrapped.Command, want)
	}
	for i := range want {
		if wrapped.Command[i] != want[i] {
			t.Fatalf("wrapped = %v, want %v", wrapped.Command, want)
		}
	}
}

func TestExitCode(t *testing.T) {
	if got := ExitCode(nil); got != 0 {
		t.Errorf("ExitCode(nil) = %d", got)
	}
	if got := ExitCode(errors.New("boom")); got != -1 {
		t.Errorf("ExitCode(plain) = %d", got)
	}
	cmd := exec.Command("sh", "-c", "exit 42")
	err := cmd.Run()
	if err == nil {
		t.Fatal("expected command to fail")
	}
	if got := ExitCode(err); got != 42 {
		t.Errorf("ExitCode(exit 42) = %d", got)
	}
}

func TestShellLifecycle(t *testing.T) {
	shell, err := (&GenericBackend{}).StartShell(Invocation{
		ProjectDir: t.TempDir(),
		Command:    []string{"sh", "-c", "read line; echo got:$line"},
	}, 80, 24)
	if err != nil {
		t.Fatalf("StartShell: %v", err)
	}
	defer shell.Close()

	if shell.PID() == 0 {
		t.Error("PID should be set after start")
	}
	if err := shell.Resize(120, 40); err != nil {
		t.Errorf("Resize: %v", err)
	}
	if _, err := shell.Write([]byte("hello\n")); err != nil {
		t.Fatalf("Write: %v", err)
	}

	buf := make([]byte, 4096)
	deadline := time.Now().Add(10 * time.Second)
	var out string
	for time.Now().Before(deadline) {
		n, err := shell.Read(buf)
		if n > 0 {
			out += string(buf[:n])
		}
		if err != nil {
			break
		}
		if strings.Contains(out, "got:hello") {
			break
		}
	}
	if !strings.Contains(out, "got:hello") {
		t.Errorf("shell output missing echo, got %q", out)
	}
}
