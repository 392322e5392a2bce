package shell

import "context"

// Executor runs external commands. Production code uses RealExecutor; tests
// substitute MockExecutor.
type Executor interface {
	// LookPath searches for an executable named file in the directories
	// named by the PATH environment variable.
	LookPath(file string) (string, error)

	// Output runs name with args in dir (the current directory when empty)
	// and returns its standard output.
	Output(ctx context.Context, dir string, name string, arg ...string) ([]byte, error)
}
