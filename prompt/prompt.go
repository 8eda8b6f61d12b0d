// Package prompt reads secrets interactively without echoing them.
package prompt

import (
	"errors"
	"fmt"
	"io"
	"os"

	"golang.org/x/term"
)

// Prompter asks the user for a secret.
type Prompter interface {
	Password(prompt string) (string, error)
}

var ErrNoInput = errors.New("no scripted input left")

// Terminal prompts on the controlling terminal, falling back to stdin when there is none.
type Terminal struct {
	// Out receives the prompt text. Defaults to stderr.
	Out io.Writer
}

func NewTerminal() *Terminal {
	return &Terminal{Out: os.Stderr}
}

func (t *Terminal) Password(prompt string) (string, error) {
	out := t.Out
	if out == nil {
		out = os.Stderr
	}

	in := os.Stdin
	if tty, err := os.Open("/dev/tty"); err == nil {
		defer tty.Close()
		in = tty
	}

	fmt.Fprint(out, prompt)
	secret, err := term.ReadPassword(int(in.Fd()))
	fmt.Fprintln(out)
	if err != nil {
		return "", fmt.Errorf("reading password: %w", err)
	}
	return string(secret), nil
}

// Queue answers prompts with scripted values in order and records what was asked.
type Queue struct {
	answers []string
	Asked   []string
}

func NewQueue(answers ...string) *Queue {
	return &Queue{answers: answers}
}

func (q *Queue) Password(prompt string) (string, error) {
	q.Asked = append(q.Asked, prompt)
	if len(q.answers) == 0 {
		return "", ErrNoInput
	}
	answer := q.answers[0]
	q.answers = q.answers[1:]
	return answer, nil
}
