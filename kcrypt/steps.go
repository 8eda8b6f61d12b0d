package kcrypt

import (
	"github.com/kairos-io/mount-luks/constants"
	"github.com/kairos-io/mount-luks/failure"
	"github.com/kairos-io/mount-luks/types"
)

func (v *Volume) stepRoot() Step {
	return Step{Title: "Checking if root", Completed: "Access granted", Run: v.CheckRoot}
}

func (v *Volume) stepPartitionExists() Step {
	return Step{Title: "Checking if partition exists", Completed: "Partition exists", Run: v.CheckPartitionExists}
}

func (v *Volume) stepEncrypted() Step {
	return Step{Title: "Checking if partition is encrypted with LUKS", Completed: "Partition is encrypted with LUKS", Run: v.CheckEncrypted}
}

func (v *Volume) stepLocked() Step {
	return Step{Title: "Checking if partition is already unlocked", Completed: "Partition is locked", Run: v.CheckLocked}
}

func (v *Volume) stepUnlock() Step {
	return Step{Title: "Unlocking LUKS partition", Completed: "Unlocked LUKS partition", Run: v.Unlock}
}

func (v *Volume) stepMountPointExists() Step {
	return Step{Title: "Checking mount point exists", Completed: "Mount point exists", Run: v.CheckMountPointExists}
}

func (v *Volume) stepNotMounted() Step {
	return Step{Title: "Checking if already mounted", Completed: "Partition is not mounted", Run: v.CheckNotMounted}
}

func (v *Volume) stepMount() Step {
	return Step{Title: "Mounting partition", Completed: "Partition mounted successfully", Run: v.MountPartition}
}

// CheckRoot fails with ErrRootRequired unless running with an effective uid of 0.
func (v *Volume) CheckRoot() error {
	if !v.isRoot() {
		return failure.New(ErrRootRequired)
	}
	return nil
}

func (v *Volume) CheckPartitionExists() error {
	if !types.Exists(v.fs, v.cfg.PartitionPath) {
		return failure.New(ErrNoPartition).WithPath(v.cfg.PartitionPath)
	}
	return nil
}

// CheckEncrypted probes the partition with `cryptsetup isLuks`. The tool exits non-zero
// without printing anything when the header is not LUKS; any other failure is unexpected.
func (v *Volume) CheckEncrypted() error {
	out := v.runner.Run(constants.Cryptsetup, "isLuks", v.cfg.PartitionPath)
	if out.Success {
		return nil
	}
	if out.Silent() {
		return failure.New(ErrNotEncrypted).WithPath(v.cfg.PartitionPath)
	}
	return out.Attach(failure.New(ErrUnexpectedProbeFailure).WithPath(v.cfg.PartitionPath))
}

// CheckLocked fails with ErrAlreadyUnlocked when the mapper device already exists.
func (v *Volume) CheckLocked() error {
	if types.Exists(v.fs, v.cfg.MapperPath()) {
		return failure.New(ErrAlreadyUnlocked).WithPath(v.cfg.MapperPath())
	}
	return nil
}

// Unlock assembles the key, tests it against the header and then opens the mapper device.
func (v *Volume) Unlock() error {
	key, err := v.keys.Assemble(v.cfg)
	if err != nil {
		return err
	}
	if err := v.CheckKey(key); err != nil {
		return err
	}
	out := v.runner.RunWithInput(key, constants.Cryptsetup, "luksOpen", "--key-file=-", v.cfg.PartitionPath, v.cfg.MapperName)
	if err := out.Check(ErrUnlockFailed); err != nil {
		return err.WithPath(v.cfg.PartitionPath)
	}
	return nil
}

// CheckKey opens the header with --test-passphrase, which validates key without
// creating the mapper device.
func (v *Volume) CheckKey(key string) error {
	v.logger.Debugf("Key is %d characters", len(key))
	out := v.runner.RunWithInput(key, constants.Cryptsetup, "luksOpen", "--test-passphrase", "--key-file=-", v.cfg.PartitionPath)
	if err := out.Check(ErrInvalidKey); err != nil {
		return err.WithPath(v.cfg.PartitionPath)
	}
	return nil
}

func (v *Volume) CheckMountPointExists() error {
	if !types.Exists(v.fs, v.cfg.MountPath) {
		return failure.New(ErrNoMountPoint).WithPath(v.cfg.MountPath)
	}
	return nil
}

// CheckNotMounted asks findmnt about the mount path. A zero exit means something is
// mounted there.
func (v *Volume) CheckNotMounted() error {
	if v.IsMounted() {
		return failure.New(ErrAlreadyMounted).With("mount point", v.cfg.MountPath)
	}
	return nil
}

func (v *Volume) IsMounted() bool {
	return v.runner.Run(constants.Findmnt, "--noheadings", v.cfg.MountPath).Success
}

func (v *Volume) MountPartition() error {
	out := v.runner.Run(constants.Mount, v.cfg.MapperPath(), v.cfg.MountPath)
	if err := out.Check(ErrMountFailed); err != nil {
		return err.With("device", v.cfg.MapperPath()).With("mount point", v.cfg.MountPath)
	}
	return nil
}
