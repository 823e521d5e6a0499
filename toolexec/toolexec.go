// Package toolexec runs the external tools behind each pipeline stage and
// captures their output.
//
// Runner is the seam stages depend on; Exec is the os/exec implementation.
// A non-zero exit is not an error from Run: it comes back in Result.ExitCode
// so the stage can report it as a stage failure with the captured output.
// Run returns an error only when the process could not be started or was
// killed because ctx ended. On unix each tool runs in its own process group
// and cancellation kills the group, so the rustc processes cargo spawns stop
// too; elsewhere only the direct child is killed.
package toolexec

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sort"
	"strings"
	"time"
)

// waitDelay bounds how long Run waits for output pipes after the tool was
// killed, in case a grandchild outside its process group keeps them open.
const waitDelay = 5 * time.Second

// Command is one tool invocation
type Command struct {
	Program string
	Args    []string
	Dir     string
	Env     map[string]string // appended to the current environment
}

func (c Command) String() string {
	return strings.Join(append([]string{c.Program}, c.Args...), " ")
}

// Result holds the captured output of a finished process
type Result struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

// Diagnostic returns the output a failing tool wants a human to read:
// stderr, or stdout when the tool writes errors there.
func (r *Result) Diagnostic() string {
	if strings.TrimSpace(r.Stderr) != "" {
		return r.Stderr
	}
	return r.Stdout
}

// Runner locates and runs external tools
type Runner interface {
	LookPath(program string) (string, error)
	Run(ctx context.Context, cmd Command) (*Result, error)
}

// Exec runs tools as child processes
type Exec struct {
	// Optional writers that receive a live copy of the tool's output.
	Stdout io.Writer
	Stderr io.Writer
}

// LookPath resolves program against PATH.
func (e *Exec) LookPath(program string) (string, error) {
	return exec.LookPath(program)
}

// Run starts cmd, waits for it and captures stdout and stderr.
func (e *Exec) Run(ctx context.Context, cmd Command) (*Result, error) {
	c := exec.CommandContext(ctx, cmd.Program, cmd.Args...)
	killGroup(c)
	c.WaitDelay = waitDelay
	if cmd.Dir != "" {
		c.Dir = cmd.Dir
	}
	if len(cmd.Env) > 0 {
		c.Env = os.Environ()
		keys := make([]string, 0, len(cmd.Env))
		for k := range cmd.Env {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			c.Env = append(c.Env, fmt.Sprintf("%s=%s", k, cmd.Env[k]))
		}
	}

	var stdout, stderr bytes.Buffer
	c.Stdout = tee(&stdout, e.Stdout)
	c.Stderr = tee(&stderr, e.Stderr)

	err := c.Run()
	result := &Result{
		Stdout: stdout.String(),
		Stderr: stderr.String(),
	}

	var exitErr *exec.ExitError
	switch {
	case err == nil:
		return result, nil
	case ctx.Err() != nil:
		result.ExitCode = -1
		return result, fmt.Errorf("%s interrupted: %w", cmd.Program, ctx.Err())
	case errors.As(err, &exitErr):
		result.ExitCode = exitErr.ExitCode()
		return result, nil
	default:
		result.ExitCode = -1
		return result, fmt.Errorf("start %s: %w", cmd.Program, err)
	}
}

func tee(buf *bytes.Buffer, w io.Writer) io.Writer {
	if w == nil {
		return buf
	}
	return io.MultiWriter(buf, w)
}
