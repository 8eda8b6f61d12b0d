package kcrypt

import "sync"

// Reporter shows pipeline progress.
type Reporter interface {
	StepStarted(n, total int, title string)
	StepCompleted(message string)
}

type nopReporter struct{}

func (nopReporter) StepStarted(int, int, string) {}
func (nopReporter) StepCompleted(string)         {}

// Counter numbers steps for display. It is safe to share between pipelines.
type Counter struct {
	mu sync.Mutex
	n  int
}

// Next increments the counter and returns the new value.
func (c *Counter) Next() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.n++
	return c.n
}

func (c *Counter) Value() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.n
}

// Step is one guard or action. Title is shown before it runs, Completed after it succeeds.
type Step struct {
	Title     string
	Completed string
	Run       func() error
}

// Pipeline runs steps in order and stops at the first failure. Nothing is retried.
type Pipeline struct {
	Counter  *Counter
	Reporter Reporter
}

func (p Pipeline) Run(steps ...Step) error {
	counter := p.Counter
	if counter == nil {
		counter = &Counter{}
	}
	reporter := p.Reporter
	if reporter == nil {
		reporter = nopReporter{}
	}
	for _, step := range steps {
		reporter.StepStarted(counter.Next(), len(steps), step.Title)
		if err := step.Run(); err != nil {
			return err
		}
		reporter.StepCompleted(step.Completed)
	}
	return nil
}
