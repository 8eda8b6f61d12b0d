package kcrypt

import "errors"

// Permission.
var ErrRootRequired = errors.New("root is required")

// Existence.
var (
	ErrNoPartition  = errors.New("partition does not exist")
	ErrNoMountPoint = errors.New("mount point does not exist")
)

// Format and state.
var (
	ErrNotEncrypted           = errors.New("partition is not encrypted with LUKS")
	ErrUnexpectedProbeFailure = errors.New("unable to determine if encrypted with LUKS")
	ErrAlreadyUnlocked        = errors.New("partition is already unlocked")
	ErrAlreadyMounted         = errors.New("partition is already mounted")
)

// Credentials.
var (
	ErrKeyFileUnreadable       = errors.New("unable to read key file")
	ErrSecureElementUnreadable = errors.New("unable to read key from TPM")
	ErrPromptUnreadable        = errors.New("unable to read key from prompt")
	ErrKeyRequired             = errors.New("at least one key source must be provided")
	ErrInvalidKey              = errors.New("key is incorrect")
	ErrKeyAlreadyExists        = errors.New("key already exists")
)

// Actions.
var (
	ErrUnlockFailed  = errors.New("failed to unlock LUKS partition")
	ErrMountFailed   = errors.New("failed to mount partition")
	ErrAddKeyFailed  = errors.New("failed to add LUKS key")
	ErrUnmountFailed = errors.New("failed to unmount partition")
	ErrCloseFailed   = errors.New("failed to close LUKS partition")
)
