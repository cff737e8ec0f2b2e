package toolrunner

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
)

func TestRunSuccess(t *testing.T) {
	r := New(Config{}, nil)

	res, err := r.Run(context.Background(), "/bin/sh", "-c", "echo flashing done")
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if !strings.Contains(res.Output, "flashing done") {
		t.Errorf("Output = %q", res.Output)
	}
	if res.ExitCode != 0 {
		t.Errorf("ExitCode = %d, want 0", res.ExitCode)
	}
	if res.Command != "/bin/sh -c echo flashing done" {
		t.Errorf("Command = %q", res.Command)
	}

	stats := r.Stats()
	if stats.RunsTotal != 1 || stats.Failures != 0 {
		t.Errorf("Stats() = %+v", stats)
	}
}

func TestRunCapturesFailureOutput(t *testing.T) {
	r := New(Config{}, nil)

	res, err := r.Run(context.Background(), "/bin/sh", "-c", "echo 'ERROR: no probe' 1>&2; exit 3")
	if !errors.Is(err, ErrToolFailed) {
		t.Fatalf("Run() error = %v, want ErrToolFailed", err)
	}

	if res == nil {
		t.Fatal("result must accompany a tool failure")
	}
	if res.ExitCode != 3 {
		t.Errorf("ExitCode = %d, want 3", res.ExitCode)
	}
	if !strings.Contains(res.Output, "ERROR: no probe") {
		t.Errorf("stderr not captured: %q", res.Output)
	}
	if r.Stats().Failures != 1 {
		t.Errorf("Failures = %d, want 1", r.Stats().Failures)
	}
}

func TestRunMissingBinary(t *testing.T) {
	r := New(Config{}, nil)

	if _, err := r.Run(context.Background(), "/nonexistent/flasher"); err == nil {
		t.Error("Run() of a missing binary should fail")
	}
}

func TestRunContextDeadline(t *testing.T) {
	r := New(Config{GracefulTimeout: 100 * time.Millisecond}, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	start := time.Now()
	res, err := r.Run(ctx, "/bin/sh", "-c", "echo started; sleep 30")
	elapsed := time.Since(start)

	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Run() error = %v, want DeadlineExceeded", err)
	}
	if elapsed > 5*time.Second {
		t.Errorf("kill escalation took %v", elapsed)
	}
	if res == nil || !strings.Contains(res.Output, "started") {
		t.Errorf("partial output lost: %+v", res)
	}
}

func TestRunKillsToolThatIgnoresTerm(t *testing.T) {
	r := New(Config{GracefulTimeout: 100 * time.Millisecond}, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	// A busy loop in the shell itself, with TERM ignored, so only
	// SIGKILL can end it.
	start := time.Now()
	_, err := r.Run(ctx, "/bin/sh", "-c", `trap "" TERM; while :; do :; done`)
	elapsed := time.Since(start)

	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Run() error = %v, want DeadlineExceeded", err)
	}
	if elapsed > 5*time.Second {
		t.Errorf("SIGKILL escalation took %v", elapsed)
	}
}
