// Package ui renders pipeline progress and the target header on the terminal.
package ui

import (
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/kairos-io/mount-luks/config"
	"github.com/kairos-io/mount-luks/types"
	"github.com/pterm/pterm"
)

const (
	check = " ✓ "
	cross = " ⨯ "
)

// Printer reports steps through the logger, so they share its elapsed timestamps.
type Printer struct {
	Logger types.Logger
}

func NewPrinter(logger types.Logger) *Printer {
	return &Printer{Logger: logger}
}

func (p *Printer) StepStarted(n, total int, title string) {
	p.Logger.Info(pterm.FgGray.Sprintf("%d/%d %s", n, total, title))
}

func (p *Printer) StepCompleted(message string) {
	p.Logger.Info(pterm.FgGray.Sprint(check), " ", message)
}

func (p *Printer) Failed(message string) {
	p.Logger.Error(pterm.FgGray.Sprint(cross), " ", message)
}

// HeaderLines is the resolved target, one aligned "label: value" line per option.
func HeaderLines(cfg config.Config) []string {
	handle := ""
	if cfg.TPMHandle != nil {
		handle = cfg.TPMHandle.String()
	}
	prompt := ""
	if cfg.KeyPrompt {
		prompt = strconv.FormatBool(cfg.KeyPrompt)
	}
	return []string{
		"   Partition: " + cfg.PartitionPath,
		" Mapper path: " + cfg.MapperPath(),
		"  Mount path: " + cfg.MountPath,
		"    Key path: " + cfg.KeyPath,
		"  TPM handle: " + handle,
		"  Key prompt: " + prompt,
	}
}

// Header prints the title box followed by the resolved target.
func Header(w io.Writer, title string, cfg config.Config) {
	box := pterm.DefaultBox.WithTitle(pterm.Bold.Sprint(title)).WithTitleTopLeft()
	fmt.Fprintln(w, box.Sprint(pterm.FgGray.Sprint(strings.Join(HeaderLines(cfg), "\n"))))
	fmt.Fprintln(w)
}
