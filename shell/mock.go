package shell

import (
	"context"
	"strings"
)

// MockExecutor records commands instead of running them.
type MockExecutor struct {
	// Commands records every command line passed to Output.
	Commands []string

	LookPathFunc func(file string) (string, error)
	OutputFunc   func(dir string, name string, arg ...string) ([]byte, error)
}

func (m *MockExecutor) LookPath(file string) (string, error) {
	if m.LookPathFunc != nil {
		return m.LookPathFunc(file)
	}
	return "/path/to/" + file, nil
}

func (m *MockExecutor) Output(_ context.Context, dir string, name string, arg ...string) ([]byte, error) {
	cmdStr := name
	if len(arg) > 0 {
		cmdStr = name + " " + strings.Join(arg, " ")
	}
	m.Commands = append(m.Commands, cmdStr)

	if m.OutputFunc != nil {
		return m.OutputFunc(dir, name, arg...)
	}
	return nil, nil
}
