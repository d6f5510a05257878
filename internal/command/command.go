// Package command abstracts process creation so that callers do not depend
// directly on exec.Command. Tests replace the Factory with a fake.
package command

import (
	"context"
	"errors"
	"io"
	"os"
	"os/exec"
	"sync/atomic"
)

// Factory creates Executor instances.
type Factory interface {
	Command(name string, args ...string) Executor
	CommandContext(ctx context.Context, name string, args ...string) Executor
}

// Executor represents a process that can be started, waited for and killed.
type Executor interface {
	Start() error
	Wait() error
	Run() error
	Output() ([]byte, error)
	Kill() error
	Pid() int
	SetEnv(envv []string)
	SetStdout(w io.Writer)
	SetStderr(w io.Writer)
	SetStdin(r io.Reader)
}

func NewFactory() *ExecFactory {
	return &ExecFactory{}
}

// ExecFactory launches real OS processes.
type ExecFactory struct{}

func (f *ExecFactory) Command(name string, args ...string) Executor {
	return &ExecCmd{cmd: exec.Command(name, args...)}
}

func (f *ExecFactory) CommandContext(ctx context.Context, name string, args ...string) Executor {
	return &ExecCmd{cmd: exec.CommandContext(ctx, name, args...)}
}

// ExecCmd delegates to exec.Cmd. Kill may run concurrently with Wait.
type ExecCmd struct {
	cmd    *exec.Cmd
	exited atomic.Bool
}

func (e *ExecCmd) Start() error {
	return e.cmd.Start()
}

func (e *ExecCmd) Wait() error {
	defer e.exited.Store(true)
	return e.cmd.Wait()
}

func (e *ExecCmd) Run() error {
	defer e.exited.Store(true)
	return e.cmd.Run()
}

func (e *ExecCmd) Output() ([]byte, error) {
	defer e.exited.Store(true)
	return e.cmd.Output()
}

// Kill sends SIGKILL to a started process. Killing a process that has not
// been started or has already exited is a no-op.
func (e *ExecCmd) Kill() error {
	if e.cmd.Process == nil || e.exited.Load() {
		return nil
	}
	if err := e.cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
		return err
	}
	return nil
}

// Pid returns the PID of the started process, or -1 before Start.
func (e *ExecCmd) Pid() int {
	if e.cmd.Process == nil {
		return -1
	}
	return e.cmd.Process.Pid
}

func (e *ExecCmd) SetEnv(envv []string) {
	e.cmd.Env = append(e.cmd.Env, envv...)
}

func (e *ExecCmd) SetStdout(w io.Writer) {
	e.cmd.Stdout = w
}

func (e *ExecCmd) SetStderr(w io.Writer) {
	e.cmd.Stderr = w
}

func (e *ExecCmd) SetStdin(r io.Reader) {
	e.cmd.Stdin = r
}
