package executor

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strconv"
)

// Metadata keys the command executor understands.
const (
	// MetaCommand is the shell command run for the node.
	MetaCommand = "command"
	// MetaWorkdir is the working directory for the command.
	MetaWorkdir = "workdir"
	// MetaMaxAttempts caps execution attempts before the failure is terminal.
	MetaMaxAttempts = "max_attempts"
)

// Command executes a node by running its "command" metadata through the
// shell, with retries up to "max_attempts" (or MaxAttempts when unset). A
// node without a command succeeds immediately, so structural-only nodes cost
// nothing.
type Command struct {
	// Shell invoked as shell -c <command>. Defaults to /bin/sh.
	Shell string
	// MaxAttempts is the default attempt cap. <= 0 means 1.
	MaxAttempts int
	// Env entries appended to the command environment, "KEY=VALUE" form.
	Env []string
}

func (c Command) Execute(ctx context.Context, node string, metadata map[string]string) error {
	command := metadata[MetaCommand]
	if command == "" {
		return nil
	}
	shell := c.Shell
	if shell == "" {
		shell = "/bin/sh"
	}
	attempts := c.MaxAttempts
	if raw, ok := metadata[MetaMaxAttempts]; ok {
		if v, err := strconv.Atoi(raw); err == nil {
			attempts = v
		}
	}
	if attempts <= 0 {
		attempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		cmd := exec.CommandContext(ctx, shell, "-c", command)
		cmd.Dir = metadata[MetaWorkdir]
		if len(c.Env) > 0 {
			cmd.Env = append(cmd.Environ(), c.Env...)
		}
		var output bytes.Buffer
		cmd.Stdout = &output
		cmd.Stderr = &output
		err := cmd.Run()
		if err == nil {
			return nil
		}
		lastErr = fmt.Errorf("%s: %w: %s", node, err, tail(output.Bytes(), 512))
	}
	if attempts > 1 {
		return fmt.Errorf("failed after %d attempts: %w", attempts, lastErr)
	}
	return lastErr
}

func tail(b []byte, n int) string {
	if len(b) > n {
		b = b[len(b)-n:]
	}
	return string(bytes.TrimSpace(b))
}
