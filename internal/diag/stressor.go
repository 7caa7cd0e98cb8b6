package diag

import (
	"context"
	"errors"
	"os/exec"
)

// CommandRunner runs an external program and returns its combined output.
type CommandRunner func(ctx context.Context, name string, args ...string) ([]byte, error)

// ExecRunner runs the program with os/exec, bound to ctx.
func ExecRunner(ctx context.Context, name string, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, name, args...).CombinedOutput()
}

// exitCoder is satisfied by *exec.ExitError and by fakes standing in for a
// program that ran and exited non-zero.
type exitCoder interface {
	error
	ExitCode() int
}

// exitCode returns the exit code of a program that ran and failed, or false
// when the program could not be run at all.
func exitCode(err error) (int, bool) {
	var ec exitCoder
	if errors.As(err, &ec) {
		return ec.ExitCode(), true
	}
	return 0, false
}
