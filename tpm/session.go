package tpm

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"

	"github.com/kairos-io/mount-luks/constants"
	"github.com/kairos-io/mount-luks/failure"
	"github.com/kairos-io/mount-luks/prompt"
	"github.com/kairos-io/mount-luks/runner"
	"github.com/kairos-io/mount-luks/types"
	"github.com/twpayne/go-vfs/v4"
)

const (
	// BankAlgorithm is the PCR bank the policy reads.
	BankAlgorithm = "sha256"
	// PCRIndex 7 holds the Secure Boot state: PK/KEK/db and the certificates used
	// to validate each boot application.
	PCRIndex = 7
	// OwnerHierarchy is TPM_RH_OWNER for tpm2_createprimary and tpm2_evictcontrol.
	OwnerHierarchy = "o"
	// HashAlgorithm names the objects.
	HashAlgorithm = "sha256"
	// KeyAlgorithm of the primary key.
	KeyAlgorithm = "ecc"
)

// Policy is the PCR selection every sealed object is bound to, e.g. "sha256:7".
var Policy = fmt.Sprintf("%s:%d", BankAlgorithm, PCRIndex)

var (
	ErrQueryFailed      = errors.New("unable to check persistent TPM handles")
	ErrHandleInUse      = errors.New("TPM handle is already in use")
	ErrHandleRequired   = errors.New("the TPM handle option is required")
	ErrPolicyFailed     = errors.New("unable to create TPM policy")
	ErrPrimaryKeyFailed = errors.New("unable to create TPM primary key")
	ErrPromptFailed     = errors.New("unable to read key from prompt")
	ErrSealFailed       = errors.New("unable to create sealed object")
	ErrLoadFailed       = errors.New("unable to load object into the TPM")
	ErrPersistFailed    = errors.New("unable to persist object")
	ErrEvictFailed      = errors.New("unable to evict object")
	ErrUnsealFailed     = errors.New("unable to unseal TPM object")
	ErrWorkDir          = errors.New("unable to prepare TPM work directory")
)

// Paths are the context files a provisioning run leaves between tpm2-tools calls.
// None of them holds the secret in cleartext.
type Paths struct {
	Dir            string
	Policy         string
	PrimaryContext string
	ObjectPublic   string
	ObjectPrivate  string
	ObjectContext  string
}

// NewPaths lays out the artifacts under dir.
func NewPaths(dir string) Paths {
	return Paths{
		Dir:            dir,
		Policy:         filepath.Join(dir, "policy.dat"),
		PrimaryContext: filepath.Join(dir, "primary.ctx"),
		ObjectPublic:   filepath.Join(dir, "object.pub"),
		ObjectPrivate:  filepath.Join(dir, "object.private"),
		ObjectContext:  filepath.Join(dir, "object.ctx"),
	}
}

// DefaultWorkDir is scoped to the current process.
func DefaultWorkDir() string {
	return filepath.Join(os.TempDir(), fmt.Sprintf("mount-luks-%d", os.Getpid()))
}

// Session drives tpm2-tools to seal, persist, unseal and evict one secret bound to Policy.
// Every tool failure is returned as is; nothing is retried.
type Session struct {
	runner   runner.Runner
	fs       vfs.FS
	prompter prompt.Prompter
	logger   types.Logger
	paths    Paths
	prepared bool
}

type SessionOption func(*Session)

// WithWorkDir overrides DefaultWorkDir.
func WithWorkDir(dir string) SessionOption {
	return func(s *Session) {
		s.paths = NewPaths(dir)
	}
}

func NewSession(r runner.Runner, fs vfs.FS, p prompt.Prompter, logger types.Logger, opts ...SessionOption) *Session {
	s := &Session{
		runner:   r,
		fs:       fs,
		prompter: p,
		logger:   logger,
		paths:    NewPaths(DefaultWorkDir()),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

func (s *Session) Paths() Paths {
	return s.paths
}

// prepare creates the work directory on first use.
func (s *Session) prepare() error {
	if s.prepared {
		return nil
	}
	if err := vfs.MkdirAll(s.fs, s.paths.Dir, constants.DirPerm); err != nil {
		return failure.New(ErrWorkDir).WithPath(s.paths.Dir).Wrap(err)
	}
	s.prepared = true
	return nil
}

// Close removes the work directory and everything in it.
func (s *Session) Close() error {
	if !s.prepared {
		return nil
	}
	s.prepared = false
	return s.fs.RemoveAll(s.paths.Dir)
}

// ListPersistentHandles asks the TPM which persistent handles are taken.
// Only the tool's exit status decides success, unparseable lines are ignored.
func (s *Session) ListPersistentHandles() ([]Handle, error) {
	out := s.runner.Run(constants.TPMGetCap, "handles-persistent")
	if err := out.Check(ErrQueryFailed); err != nil {
		return nil, err
	}
	handles := slices.Collect(ParseHandles(out.Stdout))
	slices.SortFunc(handles, Handle.Compare)
	return handles, nil
}

// NextHandle is the lowest handle not currently persisted.
func (s *Session) NextHandle() (Handle, error) {
	handles, err := s.ListPersistentHandles()
	if err != nil {
		return 0, err
	}
	h, err := AllocateHandle(handles)
	if err != nil {
		return 0, failure.New(ErrNoHandleAvailable).With("max", fmt.Sprint(MaxPersistentHandles))
	}
	return h, nil
}

// CheckHandleFree fails with ErrHandleInUse when h is already persisted.
func (s *Session) CheckHandleFree(h Handle) error {
	handles, err := s.ListPersistentHandles()
	if err != nil {
		return err
	}
	if slices.Contains(handles, h) {
		return failure.New(ErrHandleInUse).With("handle", h.String())
	}
	return nil
}

// CreatePolicy writes a PCR policy requiring the current value of Policy.
//
// - https://tpm2-tools.readthedocs.io/en/latest/man/tpm2_createpolicy.1/
func (s *Session) CreatePolicy() error {
	if err := s.prepare(); err != nil {
		return err
	}
	out := s.runner.Run(constants.TPMCreatePolicy,
		"--policy-pcr",
		"--pcr-list", Policy,
		"--policy", s.paths.Policy,
	)
	if err := out.Check(ErrPolicyFailed); err != nil {
		return err.WithPath(s.paths.Policy)
	}
	return nil
}

// CreatePrimaryKey creates and loads a primary key under the owner hierarchy.
//
// - https://tpm2-tools.readthedocs.io/en/latest/man/tpm2_createprimary.1/
func (s *Session) CreatePrimaryKey() error {
	if err := s.prepare(); err != nil {
		return err
	}
	out := s.runner.Run(constants.TPMCreatePrimary,
		"--hierarchy", OwnerHierarchy,
		"--hash-algorithm", HashAlgorithm,
		"--key-algorithm", KeyAlgorithm,
		"--key-context", s.paths.PrimaryContext,
	)
	if err := out.Check(ErrPrimaryKeyFailed); err != nil {
		return err.WithPath(s.paths.PrimaryContext)
	}
	return nil
}

// SealFromPrompt asks for the secret and seals it.
func (s *Session) SealFromPrompt() error {
	secret, err := s.prompter.Password("Enter the key: ")
	if err != nil {
		return failure.New(ErrPromptFailed).Wrap(err)
	}
	return s.Seal(secret)
}

// Seal creates a child object of the primary key holding secret, bound to the policy.
// The secret goes in over stdin.
//
// - https://tpm2-tools.readthedocs.io/en/latest/man/tpm2_create.1/
func (s *Session) Seal(secret string) error {
	if err := s.prepare(); err != nil {
		return err
	}
	if secret == "" {
		s.logger.Warn("Sealing an empty key")
	}
	out := s.runner.RunWithInput(secret, constants.TPMCreate,
		"--parent-context", s.paths.PrimaryContext,
		"--hash-algorithm", HashAlgorithm,
		"--public", s.paths.ObjectPublic,
		"--private", s.paths.ObjectPrivate,
		"--policy", s.paths.Policy,
		"--sealing-input", "-",
	)
	if err := out.Check(ErrSealFailed); err != nil {
		return err
	}
	return nil
}

// Load loads the public and private parts of the sealed object into the TPM.
//
// - https://tpm2-tools.readthedocs.io/en/latest/man/tpm2_load.1/
func (s *Session) Load() error {
	out := s.runner.Run(constants.TPMLoad,
		"--parent-context", s.paths.PrimaryContext,
		"--public", s.paths.ObjectPublic,
		"--private", s.paths.ObjectPrivate,
		"--key-context", s.paths.ObjectContext,
	)
	if err := out.Check(ErrLoadFailed); err != nil {
		return err
	}
	return nil
}

// Persist makes the loaded object persistent at h. A nil h fails with ErrHandleRequired.
//
// - https://tpm2-tools.readthedocs.io/en/latest/man/tpm2_evictcontrol.1/
func (s *Session) Persist(h *Handle) error {
	if h == nil {
		return failure.New(ErrHandleRequired)
	}
	out := s.runner.Run(constants.TPMEvictControl,
		"--hierarchy", OwnerHierarchy,
		"--object-context", s.paths.ObjectContext,
		h.String(),
	)
	if err := out.Check(ErrPersistFailed); err != nil {
		return err.With("handle", h.String())
	}
	return nil
}

// Evict removes the persistent object at h.
//
// - https://tpm2-tools.readthedocs.io/en/latest/man/tpm2_evictcontrol.1/
func (s *Session) Evict(h Handle) error {
	out := s.runner.Run(constants.TPMEvictControl,
		"--hierarchy", OwnerHierarchy,
		"--object-context", h.String(),
	)
	if err := out.Check(ErrEvictFailed); err != nil {
		return err.With("handle", h.String())
	}
	return nil
}

// UnsealHandle unseals the persistent object at h.
func (s *Session) UnsealHandle(h Handle) (string, error) {
	secret, err := s.unseal(h.String())
	if err != nil {
		return "", err.With("handle", h.String())
	}
	return secret, nil
}

// UnsealContext unseals the object loaded by this session.
func (s *Session) UnsealContext() (string, error) {
	return s.Unseal(s.paths.ObjectContext)
}

// Unseal releases the secret of the object at context, a handle or a context file.
// The TPM refuses when the PCRs no longer match the policy.
//
// - https://tpm2-tools.readthedocs.io/en/latest/man/tpm2_unseal.1/
func (s *Session) Unseal(context string) (string, error) {
	secret, err := s.unseal(context)
	if err != nil {
		return "", err
	}
	return secret, nil
}

func (s *Session) unseal(context string) (string, *failure.Error) {
	out := s.runner.Run(constants.TPMUnseal,
		"--object-context", context,
		"--auth", "pcr:"+Policy,
	)
	if !out.Success {
		return "", out.Redacted().Check(ErrUnsealFailed)
	}
	return out.Stdout, nil
}
