package kcrypt

import (
	"github.com/kairos-io/mount-luks/config"
	"github.com/kairos-io/mount-luks/prompt"
	"github.com/kairos-io/mount-luks/runner"
	"github.com/kairos-io/mount-luks/tpm"
	"github.com/kairos-io/mount-luks/types"
	"github.com/twpayne/go-vfs/v4"
	"golang.org/x/sys/unix"
	"k8s.io/mount-utils"
)

// Volume is the single LUKS partition named by a Config and the tools used to act on it.
type Volume struct {
	cfg      config.Config
	fs       vfs.FS
	runner   runner.Runner
	prompter prompt.Prompter
	mounter  mount.Interface
	logger   types.Logger
	isRoot   func() bool
	counter  *Counter
	reporter Reporter
	workDir  string
	prober   Prober

	tpm  *tpm.Session
	keys *KeyAssembler
}

type Option func(*Volume)

func WithFS(fs vfs.FS) Option {
	return func(v *Volume) { v.fs = fs }
}

func WithRunner(r runner.Runner) Option {
	return func(v *Volume) { v.runner = r }
}

func WithPrompter(p prompt.Prompter) Option {
	return func(v *Volume) { v.prompter = p }
}

func WithMounter(m mount.Interface) Option {
	return func(v *Volume) { v.mounter = m }
}

func WithLogger(l types.Logger) Option {
	return func(v *Volume) { v.logger = l }
}

// WithRootCheck replaces the effective uid check.
func WithRootCheck(isRoot func() bool) Option {
	return func(v *Volume) { v.isRoot = isRoot }
}

// WithCounter shares a step counter between flows.
func WithCounter(c *Counter) Option {
	return func(v *Volume) { v.counter = c }
}

func WithReporter(r Reporter) Option {
	return func(v *Volume) { v.reporter = r }
}

// WithWorkDir sets where TPM provisioning keeps its context files.
func WithWorkDir(dir string) Option {
	return func(v *Volume) { v.workDir = dir }
}

func NewVolume(cfg config.Config, opts ...Option) *Volume {
	v := &Volume{
		cfg:      cfg,
		fs:       vfs.OSFS,
		mounter:  mount.NewWithoutSystemd(""),
		logger:   types.NewNullLogger(),
		isRoot:   func() bool { return unix.Geteuid() == 0 },
		counter:  &Counter{},
		reporter: nopReporter{},
		prober:   SystemProber{},
	}
	for _, o := range opts {
		o(v)
	}
	if v.runner == nil {
		v.runner = runner.NewExecRunner(v.logger)
	}
	if v.prompter == nil {
		v.prompter = prompt.NewTerminal()
	}

	var sessionOpts []tpm.SessionOption
	if v.workDir != "" {
		sessionOpts = append(sessionOpts, tpm.WithWorkDir(v.workDir))
	}
	v.tpm = tpm.NewSession(v.runner, v.fs, v.prompter, v.logger, sessionOpts...)
	v.keys = NewKeyAssembler(v.fs, v.tpm, v.prompter, v.logger)
	return v
}

func (v *Volume) Config() config.Config {
	return v.cfg
}

// TPM is the session used for provisioning and unsealing.
func (v *Volume) TPM() *tpm.Session {
	return v.tpm
}

func (v *Volume) pipeline() Pipeline {
	return Pipeline{Counter: v.counter, Reporter: v.reporter}
}
