package main

import (
	"errors"
	"strings"
	"testing"
)

func TestExitCodeForError(t *testing.T) {
	if got := exitCodeForError(nil); got != 0 {
		t.Fatalf("nil error exit code = %d", got)
	}
	if got := exitCodeForError(errors.New("boom")); got != 1 {
		t.Fatalf("plain error exit code = %d", got)
	}
	if got := exitCodeForError(withExitCode(nil, 42)); got != 42 {
		t.Fatalf("coded error exit code = %d", got)
	}
	wrapped := withExitCode(errors.New("job failed"), 3)
	if got := exitCodeForError(wrapped); got != 3 {
		t.Fatalf("wrapped error exit code = %d", got)
	}
	if !strings.Contains(wrapped.Error(), "job failed") {
		t.Fatalf("wrapped error message = %q", wrapped.Error())
	}
}

func TestWithExitCodeZeroIsNil(t *testing.T) {
	if err := withExitCode(nil, 0); err != nil {
		t.Fatalf("withExitCode(nil, 0) = %v", err)
	}
}

func TestSubcommandUsageErrors(t *testing.T) {
	cases := []struct {
		name string
		run  func([]string) error
		args []string
		want string
	}{
		{"gateway no args", runGatewayCommand, nil, "usage"},
		{"gateway unknown", runGatewayCommand, []string{"bogus"}, "unknown gateway subcommand"},
		{"token no args", runTokenCommand, nil, "usage"},
		{"token unknown", runTokenCommand, []string{"bogus"}, "unknown token subcommand"},
		{"writes no args", runWritesCommand, nil, "usage"},
		{"writes unknown", runWritesCommand, []string{"maybe"}, "unknown writes subcommand"},
		{"job no args", runJobCommand, nil, "usage"},
		{"job unknown", runJobCommand, []string{"bogus"}, "unknown job subcommand"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.run(tc.args)
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("error = %q, want substring %q", err, tc.want)
			}
		})
	}
}

func TestJobRunRequiresProjectAndCommand(t *testing.T) {
	if err := runJobRun([]string{}); err == nil || !strings.Contains(err.Error(), "-project") {
		t.Fatalf("missing project error = %v", err)
	}
	if err := runJobRun([]string{"-project", "demo"}); err == nil || !strings.Contains(err.Error(), "command") {
		t.Fatalf("missing command error = %v", err)
	}
}

func TestDetachedRunArgsForwardFlags(t *testing.T) {
	if got := detachedRunArgs("", ""); got != nil {
		t.Fatalf("default args = %v, want none", got)
	}
	got := detachedRunArgs("custom.yaml", "127.0.0.1:0")
	want := []string{"-config", "custom.yaml", "-bind", "127.0.0.1:0"}
	if len(got) != len(want) {
		t.Fatalf("args = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("args = %v, want %v", got, want)
		}
	}
}
