package kcrypt

import (
	"fmt"
	"path/filepath"
	"slices"

	"github.com/anatol/luks.go"
	"github.com/foxboron/go-uefi/efi"
	"github.com/hashicorp/go-multierror"
	"github.com/jaypipes/ghw"
	"github.com/kairos-io/mount-luks/constants"
	"github.com/kairos-io/mount-luks/failure"
	"github.com/kairos-io/mount-luks/runner"
	"github.com/kairos-io/mount-luks/tpm"
	"github.com/kairos-io/mount-luks/types"
)

// LUKSStatus is what the LUKS header says about the partition.
type LUKSStatus struct {
	Version int    `yaml:"version"`
	UUID    string `yaml:"uuid"`
	Slots   []int  `yaml:"active_slots"`
}

// DiskStatus is what the block layer says about the partition.
type DiskStatus struct {
	Name      string `yaml:"name"`
	SizeBytes uint64 `yaml:"size_bytes"`
	Type      string `yaml:"type,omitempty"`
	Label     string `yaml:"label,omitempty"`
}

// Status is a read-only report about the configured volume.
type Status struct {
	Partition       string       `yaml:"partition"`
	PartitionExists bool         `yaml:"partition_exists"`
	LUKS            *LUKSStatus  `yaml:"luks,omitempty"`
	Disk            *DiskStatus  `yaml:"disk,omitempty"`
	Unlocked        bool         `yaml:"unlocked"`
	Mounted         bool         `yaml:"mounted"`
	SecureBoot      bool         `yaml:"secure_boot"`
	TPMHandles      []tpm.Handle `yaml:"tpm_handles,omitempty"`
	TPMHandleStored *bool        `yaml:"tpm_handle_stored,omitempty"`
}

// Prober reads the parts of the status that come from the system rather than from tools.
type Prober interface {
	LUKS(path string) (*LUKSStatus, error)
	Disk(path string) (*DiskStatus, error)
	SecureBoot() bool
}

// WithProber replaces the system prober.
func WithProber(p Prober) Option {
	return func(v *Volume) { v.prober = p }
}

// SystemProber reads the LUKS header with luks.go, the block layer with ghw and the
// Secure Boot state from efivarfs.
type SystemProber struct{}

func (SystemProber) LUKS(path string) (*LUKSStatus, error) {
	dev, err := luks.Open(path)
	if err != nil {
		return nil, fmt.Errorf("reading LUKS header of %s: %w", path, err)
	}
	defer dev.Close()
	return &LUKSStatus{Version: dev.Version(), UUID: dev.UUID(), Slots: dev.Slots()}, nil
}

func (SystemProber) Disk(path string) (*DiskStatus, error) {
	// by-uuid and by-label paths are symlinks to the kernel name ghw reports.
	name := filepath.Base(path)
	if resolved, err := filepath.EvalSymlinks(path); err == nil {
		name = filepath.Base(resolved)
	}

	block, err := ghw.Block()
	if err != nil {
		return nil, fmt.Errorf("listing block devices: %w", err)
	}
	for _, disk := range block.Disks {
		for _, p := range disk.Partitions {
			if p.Name != name {
				continue
			}
			label := p.FilesystemLabel
			if label == "" || label == "unknown" {
				label = p.Label
			}
			return &DiskStatus{Name: p.Name, SizeBytes: p.SizeBytes, Type: p.Type, Label: label}, nil
		}
	}
	return nil, fmt.Errorf("partition %s not found in block devices", name)
}

func (SystemProber) SecureBoot() bool {
	return efi.GetSecureBoot()
}

// Status probes the volume. A failing probe never stops the others; their errors are
// returned together alongside whatever could be read.
func (v *Volume) Status() (Status, error) {
	var result *multierror.Error
	st := Status{
		Partition:       v.cfg.PartitionPath,
		PartitionExists: types.Exists(v.fs, v.cfg.PartitionPath),
		Unlocked:        types.Exists(v.fs, v.cfg.MapperPath()),
		SecureBoot:      v.prober.SecureBoot(),
	}

	if st.PartitionExists {
		if l, err := v.prober.LUKS(v.cfg.PartitionPath); err != nil {
			result = multierror.Append(result, err)
		} else {
			st.LUKS = l
		}
		if d, err := v.prober.Disk(v.cfg.PartitionPath); err != nil {
			result = multierror.Append(result, err)
		} else {
			st.Disk = d
		}
	}

	// findmnt, as in the mount guard.
	if v.runner.Available(constants.Findmnt) {
		st.Mounted = v.IsMounted()
	} else {
		result = multierror.Append(result, notInstalled(constants.Findmnt))
	}

	if !v.runner.Available(constants.TPMGetCap) {
		result = multierror.Append(result, notInstalled(constants.TPMGetCap))
	} else if handles, err := v.tpm.ListPersistentHandles(); err != nil {
		result = multierror.Append(result, err)
	} else {
		st.TPMHandles = handles
		if v.cfg.TPMHandle != nil {
			stored := slices.Contains(handles, *v.cfg.TPMHandle)
			st.TPMHandleStored = &stored
		}
	}

	return st, result.ErrorOrNil()
}

func notInstalled(tool string) error {
	return failure.New(runner.ErrNotInstalled).With("tool", tool)
}
