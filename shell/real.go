package shell

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
)

// ExecError wraps an execution error with the command's stderr.
type ExecError struct {
	Err    error
	Output string
}

func (e *ExecError) Error() string {
	return fmt.Sprintf("%v: %s", e.Err, e.Output)
}

func (e *ExecError) Unwrap() error {
	return e.Err
}

type RealExecutor struct{}

func (RealExecutor) LookPath(file string) (string, error) {
	return exec.LookPath(file)
}

func (RealExecutor) Output(ctx context.Context, dir string, name string, arg ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, arg...)
	cmd.Dir = dir
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	out, err := cmd.Output()
	if err != nil {
		return out, &ExecError{Err: err, Output: stderr.String()}
	}
	return out, nil
}
