package gpu

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
)

// ErrCommandNotFound is returned when the program is not on PATH.
var ErrCommandNotFound = errors.New("command not found")

// Runner starts an external program and returns its standard output.
type Runner interface {
	Run(ctx context.Context, name string, args ...string) (string, error)
}

// ExecRunner runs programs with os/exec.
type ExecRunner struct{}

// Run executes name with args. Stdout and stderr are captured separately;
// on failure the trimmed stderr is included in the error message.
func (ExecRunner) Run(ctx context.Context, name string, args ...string) (string, error) {
	// #nosec G204 -- the program names are fixed or come from the --python flag
	cmd := exec.CommandContext(ctx, name, args...)

	var stdout, stderr strings.Builder
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if errors.Is(err, exec.ErrNotFound) {
			return "", fmt.Errorf("%s: %w", name, ErrCommandNotFound)
		}
		message := fmt.Sprintf("%s %s failed", name, strings.Join(args, " "))
		if s := strings.TrimSpace(stderr.String()); s != "" {
			message = fmt.Sprintf("%s: %s", message, s)
		}
		// Output written before the failure is still useful to callers
		// that parse partial results.
		return stdout.String(), fmt.Errorf("%s: %w", message, err)
	}

	return stdout.String(), nil
}
