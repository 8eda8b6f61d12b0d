package kcrypt

import (
	"strings"

	"github.com/kairos-io/mount-luks/config"
	"github.com/kairos-io/mount-luks/failure"
	"github.com/kairos-io/mount-luks/prompt"
	"github.com/kairos-io/mount-luks/tpm"
	"github.com/kairos-io/mount-luks/types"
	"github.com/twpayne/go-vfs/v4"
)

// Unsealer releases the TPM part of the key.
type Unsealer interface {
	UnsealHandle(h tpm.Handle) (string, error)
}

// KeyAssembler builds the unlock key from every configured source.
type KeyAssembler struct {
	fs       vfs.FS
	unsealer Unsealer
	prompter prompt.Prompter
	logger   types.Logger
}

func NewKeyAssembler(fs vfs.FS, unsealer Unsealer, prompter prompt.Prompter, logger types.Logger) *KeyAssembler {
	return &KeyAssembler{fs: fs, unsealer: unsealer, prompter: prompter, logger: logger}
}

// Assemble concatenates, without separators and in this order:
//   - the key file contents, verbatim (a trailing newline is part of the key)
//   - the secret unsealed from the TPM handle
//   - a line typed at the prompt
//
// Keys already enrolled in LUKS depend on this exact order. An empty part is only
// warned about; no configured source at all is ErrKeyRequired.
func (a *KeyAssembler) Assemble(cfg config.Config) (string, error) {
	if !cfg.HasKeySource() {
		return "", failure.New(ErrKeyRequired)
	}

	var parts []string

	if cfg.KeyPath != "" {
		a.logger.Debugf("Reading key from file %s", cfg.KeyPath)
		content, err := a.fs.ReadFile(cfg.KeyPath)
		if err != nil {
			return "", failure.New(ErrKeyFileUnreadable).WithPath(cfg.KeyPath).Wrap(err)
		}
		if len(content) == 0 {
			a.logger.Warnf("Key file is empty: %s", cfg.KeyPath)
		}
		parts = append(parts, string(content))
	}

	if cfg.TPMHandle != nil {
		a.logger.Debugf("Reading key from TPM handle %s", cfg.TPMHandle)
		secret, err := a.unsealer.UnsealHandle(*cfg.TPMHandle)
		if err != nil {
			return "", failure.New(ErrSecureElementUnreadable).With("handle", cfg.TPMHandle.String()).Wrap(err)
		}
		if secret == "" {
			a.logger.Warn("TPM key value is empty")
		}
		parts = append(parts, secret)
	}

	if cfg.KeyPrompt {
		a.logger.Debug("Reading key from prompt")
		secret, err := a.prompter.Password("Enter interactive key component: ")
		if err != nil {
			return "", failure.New(ErrPromptUnreadable).Wrap(err)
		}
		if secret == "" {
			a.logger.Warn("Prompt value is empty")
		}
		parts = append(parts, secret)
	}

	key := strings.Join(parts, "")
	a.logger.Debugf("Assembled key of %d characters from %d sources", len(key), len(parts))
	return key, nil
}
