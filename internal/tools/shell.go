package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"time"
)

// defaultBashTimeout applies when the model omits the timeout argument.
const defaultBashTimeout = 120 * time.Second

// maxBashTimeout caps the model-supplied timeout.
const maxBashTimeout = 600 * time.Second

type bashParams struct {
	Command string `json:"command"`
	Timeout int64  `json:"timeout"` // milliseconds
}

// runBash executes the command under a POSIX shell. On success the result
// is stdout; on non-zero exit a formatted report carries the exit code and
// both streams so the model can interpret the failure.
func runBash(ctx context.Context, args json.RawMessage) (string, error) {
	var params bashParams
	if err := json.Unmarshal(args, &params); err != nil {
		return "", &ParseError{Message: fmt.Sprintf("failed to parse Bash parameters: %v", err)}
	}

	timeout := defaultBashTimeout
	if params.Timeout > 0 {
		timeout = time.Duration(params.Timeout) * time.Millisecond
		if timeout > maxBashTimeout {
			timeout = maxBashTimeout
		}
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, "sh", "-c", params.Command)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	if ctx.Err() == context.DeadlineExceeded {
		return "", NewToolError("command timed out after %s", timeout)
	}
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return fmt.Sprintf("Command failed with exit code: %d\nStdout: %s\nStderr: %s",
				exitErr.ExitCode(), stdout.String(), stderr.String()), nil
		}
		return "", NewToolError("failed to run command: %v", err)
	}

	return stdout.String(), nil
}
