package kcrypt

import (
	"errors"
	"strings"

	"github.com/kairos-io/mount-luks/constants"
	"github.com/kairos-io/mount-luks/failure"
	"github.com/kairos-io/mount-luks/tpm"
	"github.com/kairos-io/mount-luks/types"
)

// Mount unlocks the partition and mounts the mapper device on the mount path.
func (v *Volume) Mount() error {
	return v.pipeline().Run(
		v.stepRoot(),
		v.stepPartitionExists(),
		v.stepEncrypted(),
		v.stepLocked(),
		v.stepUnlock(),
		v.stepMountPointExists(),
		v.stepNotMounted(),
		v.stepMount(),
	)
}

// Validate checks that the assembled key opens the header, without unlocking anything.
func (v *Volume) Validate() error {
	return v.pipeline().Run(
		v.stepRoot(),
		Step{
			Title:     "Validating key",
			Completed: "Key is valid",
			Run: func() error {
				key, err := v.keys.Assemble(v.cfg)
				if err != nil {
					return err
				}
				return v.CheckKey(key)
			},
		},
	)
}

// AddKey enrolls the assembled key in a free LUKS key slot. The header must already accept
// an existing passphrase, which is prompted for.
func (v *Volume) AddKey() error {
	return v.pipeline().Run(
		v.stepRoot(),
		v.stepPartitionExists(),
		v.stepEncrypted(),
		Step{Title: "Adding LUKS key", Completed: "Added LUKS key", Run: v.addKey},
	)
}

func (v *Volume) addKey() error {
	key, err := v.keys.Assemble(v.cfg)
	if err != nil {
		return err
	}
	if v.CheckKey(key) == nil {
		return failure.New(ErrKeyAlreadyExists).WithPath(v.cfg.PartitionPath)
	}

	existing, err := v.prompter.Password("Enter existing passphrase: ")
	if err != nil {
		return failure.New(ErrAddKeyFailed).With("reason", "failed to read existing passphrase").Wrap(err)
	}
	// cryptsetup asks for an existing passphrase, then the new one twice.
	input := strings.Join([]string{existing, key, key}, "\n")
	out := v.runner.RunWithInput(input, constants.Cryptsetup, "luksAddKey", v.cfg.PartitionPath)
	if err := out.Check(ErrAddKeyFailed); err != nil {
		return err.WithPath(v.cfg.PartitionPath)
	}
	return nil
}

// ProvisionTPM seals a newly prompted secret under the PCR policy and persists it at the
// configured handle. Without a configured handle it fails with tpm.ErrHandleRequired and
// suggests the next free one.
func (v *Volume) ProvisionTPM() error {
	defer func() {
		if err := v.tpm.Close(); err != nil {
			v.logger.Warnf("Unable to remove TPM work directory: %s", err)
		}
	}()
	return v.pipeline().Run(
		v.stepRoot(),
		Step{Title: "Checking TPM handle", Completed: "TPM handle is available", Run: v.checkHandle},
		Step{Title: "Creating TPM PCR policy", Completed: "Created TPM PCR policy", Run: v.tpm.CreatePolicy},
		Step{Title: "Creating TPM primary key", Completed: "Created TPM primary key", Run: v.tpm.CreatePrimaryKey},
		Step{Title: "Creating TPM object", Completed: "Created TPM object", Run: v.tpm.SealFromPrompt},
		Step{Title: "Loading object into TPM", Completed: "Loaded object into TPM", Run: v.tpm.Load},
		Step{Title: "Making TPM object persistent", Completed: "Made TPM object persistent", Run: func() error {
			return v.tpm.Persist(v.cfg.TPMHandle)
		}},
	)
}

func (v *Volume) checkHandle() error {
	if v.cfg.TPMHandle == nil {
		err := failure.New(tpm.ErrHandleRequired)
		if next, nerr := v.tpm.NextHandle(); nerr == nil {
			err.With("suggestion", next.String())
		}
		return err
	}
	return v.tpm.CheckHandleFree(*v.cfg.TPMHandle)
}

// UnsetTPM evicts the persistent object at the configured handle.
func (v *Volume) UnsetTPM() error {
	return v.pipeline().Run(
		v.stepRoot(),
		Step{Title: "Evicting TPM object", Completed: "Evicted TPM object", Run: func() error {
			if v.cfg.TPMHandle == nil {
				return failure.New(tpm.ErrHandleRequired)
			}
			return v.tpm.Evict(*v.cfg.TPMHandle)
		}},
	)
}

// HandleReport lists the persistent handles in use and the next free one, if any.
type HandleReport struct {
	Persistent []tpm.Handle `yaml:"persistent"`
	Next       *tpm.Handle  `yaml:"next,omitempty"`
}

// Handles reports the persistent handles. A full TPM is not an error here.
func (v *Volume) Handles() (HandleReport, error) {
	handles, err := v.tpm.ListPersistentHandles()
	if err != nil {
		return HandleReport{}, err
	}
	report := HandleReport{Persistent: handles}
	next, err := tpm.AllocateHandle(handles)
	switch {
	case err == nil:
		report.Next = &next
	case errors.Is(err, tpm.ErrNoHandleAvailable):
		v.logger.Warnf("All %d persistent handles are in use", tpm.MaxPersistentHandles)
	default:
		return HandleReport{}, err
	}
	return report, nil
}

// Close unmounts the mount path and closes the mapper device. Each part is skipped when
// there is nothing to undo.
func (v *Volume) Close() error {
	return v.pipeline().Run(
		v.stepRoot(),
		Step{Title: "Unmounting partition", Completed: "Partition is not mounted", Run: v.unmount},
		Step{Title: "Closing LUKS partition", Completed: "Partition is locked", Run: v.closeMapper},
	)
}

func (v *Volume) unmount() error {
	if !v.IsMounted() {
		v.logger.Debugf("Nothing mounted at %s", v.cfg.MountPath)
		return nil
	}
	if err := v.mounter.Unmount(v.cfg.MountPath); err != nil {
		return failure.New(ErrUnmountFailed).With("mount point", v.cfg.MountPath).Wrap(err)
	}
	return nil
}

func (v *Volume) closeMapper() error {
	if !types.Exists(v.fs, v.cfg.MapperPath()) {
		v.logger.Debugf("Mapper device %s does not exist", v.cfg.MapperPath())
		return nil
	}
	out := v.runner.Run(constants.Cryptsetup, "luksClose", v.cfg.MapperName)
	if err := out.Check(ErrCloseFailed); err != nil {
		return err.WithPath(v.cfg.MapperPath())
	}
	return nil
}
