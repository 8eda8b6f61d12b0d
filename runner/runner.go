// Package runner launches the privileged external tools (cryptsetup, findmnt, mount,
// tpm2-tools) and turns their result into an Outcome.
//
// Secrets are only ever handed to a tool through its standard input, never through
// its arguments, so they do not show up in process listings.
package runner

import (
	"bytes"
	"errors"
	"fmt"
	"os/exec"
	"strconv"
	"strings"

	"github.com/kairos-io/mount-luks/failure"
	"github.com/kairos-io/mount-luks/types"
)

// Runner executes an external tool and waits for it to finish.
type Runner interface {
	// Run launches name with args and no input.
	Run(name string, args ...string) Outcome
	// RunWithInput launches name with args, writes input to its stdin and closes it.
	RunWithInput(input string, name string, args ...string) Outcome
	// Available reports whether name can be launched at all.
	Available(name string) bool
}

// ErrNotInstalled is for callers that check Available instead of letting Run panic.
var ErrNotInstalled = errors.New("tool is not installed")

// Outcome is the classified result of one invocation. Stdout and Stderr are trimmed,
// an empty string means the tool wrote nothing.
type Outcome struct {
	Success  bool
	ExitCode int
	Stdout   string
	Stderr   string
}

// Silent is true when the tool printed nothing on either stream.
func (o Outcome) Silent() bool {
	return o.Stdout == "" && o.Stderr == ""
}

// Redacted drops stdout, for tools whose output is a secret.
func (o Outcome) Redacted() Outcome {
	o.Stdout = ""
	return o
}

// Check returns nil on success, otherwise an error of the given kind carrying the
// captured output and exit code.
func (o Outcome) Check(kind error) *failure.Error {
	if o.Success {
		return nil
	}
	return o.Attach(failure.New(kind))
}

// Attach adds the captured streams and exit code to err.
func (o Outcome) Attach(err *failure.Error) *failure.Error {
	return err.
		With("stderr", o.Stderr).
		With("stdout", o.Stdout).
		With("exit", strconv.Itoa(o.ExitCode))
}

// ExecRunner runs tools with os/exec.
type ExecRunner struct {
	Logger types.Logger
}

func NewExecRunner(logger types.Logger) *ExecRunner {
	return &ExecRunner{Logger: logger}
}

func (r *ExecRunner) Run(name string, args ...string) Outcome {
	return r.run(nil, name, args...)
}

func (r *ExecRunner) RunWithInput(input string, name string, args ...string) Outcome {
	return r.run(&input, name, args...)
}

func (r *ExecRunner) Available(name string) bool {
	_, err := exec.LookPath(name)
	return err == nil
}

func (r *ExecRunner) run(input *string, name string, args ...string) Outcome {
	r.Logger.Tracef("Running %s %s (stdin: %t)", name, strings.Join(args, " "), input != nil)

	cmd := exec.Command(name, args...)
	if input != nil {
		cmd.Stdin = strings.NewReader(*input)
	}
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	outcome := Outcome{
		Success: err == nil,
		Stdout:  strings.TrimSpace(stdout.String()),
		Stderr:  strings.TrimSpace(stderr.String()),
	}
	if err != nil {
		var exitErr *exec.ExitError
		if !errors.As(err, &exitErr) {
			// The tool could not be started at all. Nothing after this can work.
			panic(fmt.Sprintf("should be able to execute `%s`: %s", name, err))
		}
		outcome.ExitCode = exitErr.ExitCode()
	}
	r.Logger.Tracef("Finished %s: success %t, exit %d", name, outcome.Success, outcome.ExitCode)
	return outcome
}
