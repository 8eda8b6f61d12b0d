package kcrypt_test

import (
	"bytes"
	"errors"

	"github.com/kairos-io/mount-luks/config"
	"github.com/kairos-io/mount-luks/kcrypt"
	"github.com/kairos-io/mount-luks/prompt"
	"github.com/kairos-io/mount-luks/tpm"
	"github.com/kairos-io/mount-luks/types"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/twpayne/go-vfs/v4/vfst"
)

type fakeUnsealer struct {
	secret string
	err    error
	asked  []tpm.Handle
}

func (f *fakeUnsealer) UnsealHandle(h tpm.Handle) (string, error) {
	f.asked = append(f.asked, h)
	return f.secret, f.err
}

var _ = Describe("KeyAssembler", func() {
	var (
		fs       *vfst.TestFS
		cleanup  func()
		unsealer *fakeUnsealer
		prompter *prompt.Queue
		logs     *bytes.Buffer
		keys     *kcrypt.KeyAssembler
		handle   tpm.Handle
	)

	BeforeEach(func() {
		var err error
		fs, cleanup, err = vfst.NewTestFS(map[string]interface{}{
			"/etc/key":       "abc",
			"/etc/key-nl":    "abc\n",
			"/etc/key-empty": "",
		})
		Expect(err).ToNot(HaveOccurred())
		unsealer = &fakeUnsealer{secret: "tpm"}
		prompter = prompt.NewQueue("def")
		logs = &bytes.Buffer{}
		logger := types.NewBufferLogger(logs)
		logger.SetLevel("debug")
		keys = kcrypt.NewKeyAssembler(fs, unsealer, prompter, logger)
		handle = tpm.HandleFromOffset(2)
	})

	AfterEach(func() {
		cleanup()
	})

	It("uses the key file alone", func() {
		Expect(keys.Assemble(config.Config{KeyPath: "/etc/key"})).To(Equal("abc"))
		Expect(prompter.Asked).To(BeEmpty())
		Expect(unsealer.asked).To(BeEmpty())
	})

	It("puts the file before the prompt", func() {
		Expect(keys.Assemble(config.Config{KeyPath: "/etc/key", KeyPrompt: true})).To(Equal("abcdef"))
		Expect(prompter.Asked).To(Equal([]string{"Enter interactive key component: "}))
	})

	It("puts the TPM between the file and the prompt", func() {
		cfg := config.Config{KeyPath: "/etc/key", TPMHandle: &handle, KeyPrompt: true}
		Expect(keys.Assemble(cfg)).To(Equal("abctpmdef"))
		Expect(unsealer.asked).To(Equal([]tpm.Handle{handle}))
	})

	It("keeps a trailing newline in the key file", func() {
		Expect(keys.Assemble(config.Config{KeyPath: "/etc/key-nl"})).To(Equal("abc\n"))
	})

	It("requires at least one source", func() {
		_, err := keys.Assemble(config.Config{})
		Expect(err).To(MatchError(kcrypt.ErrKeyRequired))
		Expect(prompter.Asked).To(BeEmpty())
		Expect(unsealer.asked).To(BeEmpty())
	})

	It("accepts empty parts with a warning", func() {
		unsealer.secret = ""
		cfg := config.Config{KeyPath: "/etc/key-empty", TPMHandle: &handle}
		Expect(keys.Assemble(cfg)).To(BeEmpty())
		Expect(logs.String()).To(ContainSubstring("Key file is empty"))
		Expect(logs.String()).To(ContainSubstring("TPM key value is empty"))
	})

	It("logs the key length but never the key", func() {
		_, err := keys.Assemble(config.Config{KeyPath: "/etc/key", KeyPrompt: true})
		Expect(err).ToNot(HaveOccurred())
		Expect(logs.String()).To(ContainSubstring("Assembled key of 6 characters from 2 sources"))
		Expect(logs.String()).ToNot(ContainSubstring("abcdef"))
	})

	It("fails on an unreadable key file", func() {
		_, err := keys.Assemble(config.Config{KeyPath: "/etc/missing", KeyPrompt: true})
		Expect(err).To(MatchError(kcrypt.ErrKeyFileUnreadable))
		Expect(prompter.Asked).To(BeEmpty())
	})

	It("fails when the TPM refuses to unseal", func() {
		unsealer.err = tpm.ErrUnsealFailed
		_, err := keys.Assemble(config.Config{TPMHandle: &handle})
		Expect(err).To(MatchError(kcrypt.ErrSecureElementUnreadable))
		Expect(errors.Is(err, tpm.ErrUnsealFailed)).To(BeTrue())
	})

	It("fails when the prompt cannot be read", func() {
		keys = kcrypt.NewKeyAssembler(fs, unsealer, prompt.NewQueue(), types.NewNullLogger())
		_, err := keys.Assemble(config.Config{KeyPrompt: true})
		Expect(err).To(MatchError(kcrypt.ErrPromptUnreadable))
	})
})
