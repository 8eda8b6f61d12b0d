package mocks

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// Partition is a fake partition of a Disk. Size is in 512 byte sectors.
type Partition struct {
	Name            string
	Size            uint64
	FS              string
	FilesystemLabel string
	PartLabel       string
	UUID            string
	MountPoint      string
}

// Disk is a fake block device. Size is in 512 byte sectors.
type Disk struct {
	Name       string
	Size       uint64
	Partitions []Partition
}

// GhwMock lays out a fake /sys/block, udev database and /proc/mounts under a temporary chroot
// and points ghw at it through $GHW_CHROOT, so block device probes see only the added disks.
type GhwMock struct {
	Chroot string
	disks  []Disk
}

func (g *GhwMock) AddDisk(disk Disk) {
	g.disks = append(g.disks, disk)
}

func (g *GhwMock) sysBlock() string    { return filepath.Join(g.Chroot, "sys", "block") }
func (g *GhwMock) runUdevData() string { return filepath.Join(g.Chroot, "run", "udev", "data") }
func (g *GhwMock) procMounts() string  { return filepath.Join(g.Chroot, "proc", "mounts") }

// CreateDevices writes the files for every disk added so far.
func (g *GhwMock) CreateDevices() error {
	d, err := os.MkdirTemp("", "ghwmock")
	if err != nil {
		return err
	}
	g.Chroot = d
	if err := os.Setenv("GHW_CHROOT", d); err != nil {
		return err
	}
	for _, dir := range []string{g.sysBlock(), g.runUdevData(), filepath.Dir(g.procMounts())} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}

	var mounts []string
	for major, disk := range g.disks {
		diskPath := filepath.Join(g.sysBlock(), disk.Name)
		if err := os.MkdirAll(diskPath, 0o755); err != nil {
			return err
		}
		files := map[string]string{
			filepath.Join(diskPath, "dev"):  fmt.Sprintf("%d:0\n", major),
			filepath.Join(diskPath, "size"): strconv.FormatUint(disk.Size, 10),
			filepath.Join(g.runUdevData(), fmt.Sprintf("b%d:0", major)): "E:ID_PART_TABLE_TYPE=gpt\n",
		}
		for minor, p := range disk.Partitions {
			partPath := filepath.Join(diskPath, p.Name)
			if err := os.MkdirAll(partPath, 0o755); err != nil {
				return err
			}
			devNo := fmt.Sprintf("%d:%d", major, minor+1)
			files[filepath.Join(partPath, "dev")] = devNo + "\n"
			files[filepath.Join(partPath, "size")] = fmt.Sprintf("%d\n", p.Size)

			udev := []string{fmt.Sprintf("E:ID_FS_LABEL=%s", p.FilesystemLabel)}
			if p.FS != "" {
				udev = append(udev, fmt.Sprintf("E:ID_FS_TYPE=%s", p.FS))
			}
			if p.PartLabel != "" {
				udev = append(udev, fmt.Sprintf("E:ID_PART_ENTRY_NAME=%s", p.PartLabel))
			}
			if p.UUID != "" {
				udev = append(udev, fmt.Sprintf("E:ID_PART_ENTRY_UUID=%s", p.UUID))
			}
			files[filepath.Join(g.runUdevData(), "b"+devNo)] = strings.Join(udev, "\n") + "\n"

			if p.MountPoint != "" {
				fs := p.FS
				if fs == "" {
					fs = "ext4"
				}
				mounts = append(mounts, fmt.Sprintf("/dev/%s %s %s ro,relatime 0 0\n", p.Name, p.MountPoint, fs))
			}
		}
		for path, content := range files {
			if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
				return err
			}
		}
	}
	return os.WriteFile(g.procMounts(), []byte(strings.Join(mounts, "")), 0o644)
}

// Clean removes the chroot and unsets $GHW_CHROOT.
func (g *GhwMock) Clean() {
	_ = os.Unsetenv("GHW_CHROOT")
	if g.Chroot != "" {
		_ = os.RemoveAll(g.Chroot)
	}
}
