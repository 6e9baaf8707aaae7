package executor_test

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"switchyard/internal/executor"
)

func TestCommandSuccess(t *testing.T) {
	exec := executor.Command{}
	err := exec.Execute(context.Background(), "svc", map[string]string{
		executor.MetaCommand: "true",
	})
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
}

func TestCommandNoCommandSucceeds(t *testing.T) {
	exec := executor.Command{}
	if err := exec.Execute(context.Background(), "svc", nil); err != nil {
		t.Fatalf("structural node must succeed: %v", err)
	}
}

func TestCommandFailureIncludesOutput(t *testing.T) {
	exec := executor.Command{}
	err := exec.Execute(context.Background(), "svc", map[string]string{
		executor.MetaCommand: "echo broken build; exit 3",
	})
	if err == nil {
		t.Fatal("expected failure")
	}
	if !strings.Contains(err.Error(), "broken build") {
		t.Fatalf("error should carry command output: %v", err)
	}
}

func TestCommandRetries(t *testing.T) {
	dir := t.TempDir()
	marker := filepath.Join(dir, "marker")
	// fails until the marker exists, created on first attempt
	script := "test -f " + marker + " || { touch " + marker + "; exit 1; }"
	exec := executor.Command{}
	err := exec.Execute(context.Background(), "svc", map[string]string{
		executor.MetaCommand:     script,
		executor.MetaMaxAttempts: "2",
	})
	if err != nil {
		t.Fatalf("second attempt should succeed: %v", err)
	}
	if _, err := os.Stat(marker); err != nil {
		t.Fatalf("marker missing: %v", err)
	}
}

func TestCommandRetriesExhausted(t *testing.T) {
	exec := executor.Command{MaxAttempts: 3}
	err := exec.Execute(context.Background(), "svc", map[string]string{
		executor.MetaCommand: "false",
	})
	if err == nil {
		t.Fatal("expected failure")
	}
	if !strings.Contains(err.Error(), "after 3 attempts") {
		t.Fatalf("error should mention attempts: %v", err)
	}
}

func TestCommandWorkdir(t *testing.T) {
	dir := t.TempDir()
	exec := executor.Command{}
	err := exec.Execute(context.Background(), "svc", map[string]string{
		executor.MetaCommand: "touch here",
		executor.MetaWorkdir: dir,
	})
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "here")); err != nil {
		t.Fatalf("command did not run in workdir: %v", err)
	}
}

func TestCommandHonorsCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	exec := executor.Command{}
	err := exec.Execute(ctx, "svc", map[string]string{
		executor.MetaCommand: "sleep 5",
	})
	if err == nil {
		t.Fatal("cancelled context must fail")
	}
}
