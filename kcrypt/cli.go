package kcrypt

import (
	"errors"
	"fmt"

	"github.com/kairos-io/mount-luks/config"
	"github.com/kairos-io/mount-luks/constants"
	"github.com/kairos-io/mount-luks/types"
	"github.com/kairos-io/mount-luks/ui"
	"github.com/twpayne/go-vfs/v4"
	"github.com/urfave/cli/v2"
	"gopkg.in/yaml.v3"
)

const logName = "mount-luks"

var (
	configFlag *cli.StringFlag = &cli.StringFlag{
		Name:    "config",
		Value:   config.DefaultPath(),
		Usage:   "the options file, dotenv or YAML",
		EnvVars: []string{constants.ConfigEnv},
	}

	logLevelFlag *cli.StringFlag = &cli.StringFlag{
		Name:  "log-level",
		Value: "info",
		Usage: "the log level (trace, debug, info, warn, error)",
	}
)

// GlobalFlags are accepted before any command.
func GlobalFlags() []cli.Flag {
	return []cli.Flag{configFlag, logLevelFlag}
}

// session is what every command needs: the resolved volume and somewhere to report.
type session struct {
	volume  *Volume
	printer *ui.Printer
	logger  types.Logger
}

func newSession(cCtx *cli.Context, requireConfig bool) (*session, error) {
	logger := types.NewLogger(logName, cCtx.String(logLevelFlag.Name), false)
	printer := ui.NewPrinter(logger)

	cfg, err := config.Load(vfs.OSFS, cCtx.String(configFlag.Name))
	if err != nil && (requireConfig || !errors.Is(err, config.ErrNoFile)) {
		printer.Failed("Unable to continue")
		return nil, err
	}
	v := NewVolume(cfg, WithLogger(logger), WithReporter(printer))
	return &session{volume: v, printer: printer, logger: logger}, nil
}

// flow runs one pipeline under a header. Failures are announced here and rendered by main.
func flow(title string, run func(*Volume) error) cli.ActionFunc {
	return func(cCtx *cli.Context) error {
		s, err := newSession(cCtx, true)
		if err != nil {
			return err
		}
		defer s.logger.Close()

		ui.Header(cCtx.App.ErrWriter, title, s.volume.Config())
		if err := run(s.volume); err != nil {
			s.printer.Failed("Unable to continue")
			return err
		}
		return nil
	}
}

// MountAction is the default action of the application.
var MountAction = flow("Unlock and mount a LUKS partition", (*Volume).Mount)

func printYAML(cCtx *cli.Context, v any) error {
	out, err := yaml.Marshal(v)
	if err != nil {
		return err
	}
	_, err = fmt.Fprint(cCtx.App.Writer, string(out))
	return err
}

func CliCommands() []*cli.Command {
	return []*cli.Command{
		{
			Name:   "mount",
			Usage:  "unlock and mount a LUKS encrypted partition",
			Action: MountAction,
		},
		{
			Name:   "validate",
			Usage:  "check the key against the LUKS header",
			Action: flow("Validate the LUKS key", (*Volume).Validate),
		},
		{
			Name:   "set-tpm",
			Usage:  "save the TPM component of the key in the TPM",
			Action: flow("Save the key in the TPM", (*Volume).ProvisionTPM),
		},
		{
			Name:   "set-luks",
			Usage:  "add the key to LUKS",
			Action: flow("Add the key to LUKS", (*Volume).AddKey),
		},
		{
			Name:   "unset-tpm",
			Usage:  "evict the TPM component of the key from the TPM",
			Action: flow("Remove the key from the TPM", (*Volume).UnsetTPM),
		},
		{
			Name:   "close",
			Usage:  "unmount and lock the LUKS partition",
			Action: flow("Unmount and lock a LUKS partition", (*Volume).Close),
		},
		{
			Name:  "handles",
			Usage: "list the persistent TPM handles and the next free one",
			Action: func(cCtx *cli.Context) error {
				s, err := newSession(cCtx, false)
				if err != nil {
					return err
				}
				defer s.logger.Close()

				report, err := s.volume.Handles()
				if err != nil {
					s.printer.Failed("Unable to continue")
					return err
				}
				return printYAML(cCtx, report)
			},
		},
		{
			Name:  "status",
			Usage: "report the state of the partition, its mount and the TPM",
			Action: func(cCtx *cli.Context) error {
				s, err := newSession(cCtx, true)
				if err != nil {
					return err
				}
				defer s.logger.Close()

				st, probeErr := s.volume.Status()
				if err := printYAML(cCtx, st); err != nil {
					return err
				}
				if probeErr != nil {
					s.printer.Failed("Some probes failed")
				}
				return probeErr
			},
		},
	}
}
