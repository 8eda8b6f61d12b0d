// Package constants This file contains all the constants that can be reused across the project
package constants

const (
	AppName  = "mount_luks"
	FilePerm = 0644
	DirPerm  = 0700

	// MapperDir is where device-mapper exposes unlocked LUKS volumes.
	MapperDir = "/dev/mapper"
	LogDir    = "/var/log/mount-luks/"

	ConfigEnv = "MOUNT_LUKS_CONFIG"
)

// External tools driven by the pipeline.
const (
	Cryptsetup = "cryptsetup"
	Findmnt    = "findmnt"
	Mount      = "mount"

	TPMGetCap        = "tpm2_getcap"
	TPMCreatePolicy  = "tpm2_createpolicy"
	TPMCreatePrimary = "tpm2_createprimary"
	TPMCreate        = "tpm2_create"
	TPMLoad          = "tpm2_load"
	TPMEvictControl  = "tpm2_evictcontrol"
	TPMUnseal        = "tpm2_unseal"
)
