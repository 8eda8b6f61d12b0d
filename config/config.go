// Package config resolves the options of one unlock-and-mount target.
package config

import (
	"errors"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"github.com/kairos-io/mount-luks/constants"
	"github.com/kairos-io/mount-luks/failure"
	"github.com/kairos-io/mount-luks/tpm"
	"github.com/twpayne/go-vfs/v4"
	"gopkg.in/yaml.v3"
)

var (
	ErrNoFile       = errors.New("options file does not exist")
	ErrRead         = errors.New("unable to read options file")
	ErrRequired     = errors.New("options file is not complete")
	ErrInvalidValue = errors.New("options file has an invalid value")
)

// Dotenv keys.
const (
	KeyPartitionPath = "PARTITION_PATH"
	KeyMapperName    = "MAPPER_NAME"
	KeyMountPath     = "MOUNT_PATH"
	KeyKeyPath       = "KEY_PATH"
	KeyTPMHandle     = "TPM_HANDLE"
	KeyKeyPrompt     = "KEY_PROMPT"
)

// Config is the resolved target. It is not modified once loaded.
type Config struct {
	PartitionPath string      `yaml:"partition_path"`
	MapperName    string      `yaml:"mapper_name"`
	MountPath     string      `yaml:"mount_path"`
	KeyPath       string      `yaml:"key_path,omitempty"`
	TPMHandle     *tpm.Handle `yaml:"tpm_handle,omitempty"`
	KeyPrompt     bool        `yaml:"key_prompt,omitempty"`
}

// MapperPath is where the unlocked volume appears.
func (c Config) MapperPath() string {
	return filepath.Join(constants.MapperDir, c.MapperName)
}

// HasKeySource is false when no key file, TPM handle or prompt is configured.
func (c Config) HasKeySource() bool {
	return c.KeyPath != "" || c.TPMHandle != nil || c.KeyPrompt
}

// DefaultPath is <user config dir>/mount_luks/.env, or $MOUNT_LUKS_CONFIG when set.
func DefaultPath() string {
	if p := os.Getenv(constants.ConfigEnv); p != "" {
		return p
	}
	dir, err := os.UserConfigDir()
	if err != nil {
		dir = filepath.Join(os.Getenv("HOME"), ".config")
	}
	return filepath.Join(dir, constants.AppName, ".env")
}

// Load reads path through fs. YAML files are decoded as YAML, anything else as dotenv.
func Load(fs vfs.FS, path string) (Config, error) {
	f, err := fs.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Config{}, failure.New(ErrNoFile).WithPath(path)
		}
		return Config{}, failure.New(ErrRead).WithPath(path).Wrap(err)
	}
	defer f.Close()

	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return fromYAML(f, path)
	default:
		return fromDotenv(f, path)
	}
}

func fromYAML(r io.Reader, path string) (Config, error) {
	var c Config
	if err := yaml.NewDecoder(r).Decode(&c); err != nil && !errors.Is(err, io.EOF) {
		return Config{}, failure.New(ErrRead).WithPath(path).Wrap(err)
	}
	for _, required := range [][2]string{
		{"partition_path", c.PartitionPath},
		{"mapper_name", c.MapperName},
		{"mount_path", c.MountPath},
	} {
		if required[1] == "" {
			return Config{}, failure.New(ErrRequired).With("key", required[0]).WithPath(path)
		}
	}
	return c, nil
}

func fromDotenv(r io.Reader, path string) (Config, error) {
	vars, err := godotenv.Parse(r)
	if err != nil {
		return Config{}, failure.New(ErrRead).WithPath(path).Wrap(err)
	}

	var c Config
	for _, required := range []struct {
		key string
		dst *string
	}{
		{KeyPartitionPath, &c.PartitionPath},
		{KeyMapperName, &c.MapperName},
		{KeyMountPath, &c.MountPath},
	} {
		v := vars[required.key]
		if v == "" {
			return Config{}, failure.New(ErrRequired).With("key", required.key).WithPath(path)
		}
		*required.dst = v
	}
	c.KeyPath = vars[KeyKeyPath]

	if v := vars[KeyTPMHandle]; v != "" {
		h, err := tpm.ParseHandle(v)
		if err != nil {
			return Config{}, failure.New(ErrInvalidValue).With("key", KeyTPMHandle).With("value", v).Wrap(err)
		}
		c.TPMHandle = &h
	}
	if v := vars[KeyKeyPrompt]; v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return Config{}, failure.New(ErrInvalidValue).With("key", KeyKeyPrompt).With("value", v).Wrap(err)
		}
		c.KeyPrompt = b
	}
	return c, nil
}
