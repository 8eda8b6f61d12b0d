package mocks

import (
	"fmt"
	"strings"

	"github.com/kairos-io/mount-luks/runner"
)

// Call is one recorded invocation.
type Call struct {
	Name     string
	Args     []string
	Input    string
	HasInput bool
}

// CommandLine joins the tool name and its arguments with spaces.
func (c Call) CommandLine() string {
	return strings.Join(append([]string{c.Name}, c.Args...), " ")
}

// FakeRunner records every invocation and answers with scripted outcomes.
// Outcomes are matched by the longest registered prefix of the command line;
// anything unmatched succeeds silently.
type FakeRunner struct {
	Calls     []Call
	responses map[string]runner.Outcome
	missing   map[string]bool
	// SideEffect, when set, runs for every call before the outcome is returned.
	SideEffect func(call Call)
}

func NewFakeRunner() *FakeRunner {
	return &FakeRunner{responses: map[string]runner.Outcome{}, missing: map[string]bool{}}
}

// On scripts the outcome for command lines starting with prefix.
func (f *FakeRunner) On(prefix string, outcome runner.Outcome) *FakeRunner {
	f.responses[prefix] = outcome
	return f
}

// Fail scripts a non-zero exit for prefix.
func (f *FakeRunner) Fail(prefix string, exitCode int, stdout, stderr string) *FakeRunner {
	return f.On(prefix, runner.Outcome{ExitCode: exitCode, Stdout: stdout, Stderr: stderr})
}

// Output scripts a successful run printing stdout.
func (f *FakeRunner) Output(prefix string, stdout string) *FakeRunner {
	return f.On(prefix, runner.Outcome{Success: true, Stdout: stdout})
}

// Missing makes name unavailable. Running it anyway panics like ExecRunner does.
func (f *FakeRunner) Missing(name string) *FakeRunner {
	f.missing[name] = true
	return f
}

func (f *FakeRunner) Available(name string) bool {
	return !f.missing[name]
}

func (f *FakeRunner) Run(name string, args ...string) runner.Outcome {
	return f.record(Call{Name: name, Args: args})
}

func (f *FakeRunner) RunWithInput(input string, name string, args ...string) runner.Outcome {
	return f.record(Call{Name: name, Args: args, Input: input, HasInput: true})
}

func (f *FakeRunner) record(call Call) runner.Outcome {
	if f.missing[call.Name] {
		panic(fmt.Sprintf("should be able to execute `%s`: not installed", call.Name))
	}
	f.Calls = append(f.Calls, call)
	if f.SideEffect != nil {
		f.SideEffect(call)
	}
	line := call.CommandLine()
	best := -1
	outcome := runner.Outcome{Success: true}
	for prefix, o := range f.responses {
		if strings.HasPrefix(line, prefix) && len(prefix) > best {
			best = len(prefix)
			outcome = o
		}
	}
	return outcome
}

// CommandLines returns every recorded command line in order.
func (f *FakeRunner) CommandLines() []string {
	lines := make([]string, 0, len(f.Calls))
	for _, c := range f.Calls {
		lines = append(lines, c.CommandLine())
	}
	return lines
}

// Called reports whether any command line started with prefix.
func (f *FakeRunner) Called(prefix string) bool {
	return len(f.CallsWith(prefix)) > 0
}

// CallsWith returns the calls whose command line starts with prefix.
func (f *FakeRunner) CallsWith(prefix string) []Call {
	var calls []Call
	for _, c := range f.Calls {
		if strings.HasPrefix(c.CommandLine(), prefix) {
			calls = append(calls, c)
		}
	}
	return calls
}

// Clear forgets recorded calls, keeping the scripted outcomes.
func (f *FakeRunner) Clear() {
	f.Calls = nil
}
