package tpm_test

import (
	"strings"

	"github.com/kairos-io/mount-luks/failure"
	"github.com/kairos-io/mount-luks/prompt"
	"github.com/kairos-io/mount-luks/runner/mocks"
	"github.com/kairos-io/mount-luks/tpm"
	"github.com/kairos-io/mount-luks/types"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/twpayne/go-vfs/v4"
	"github.com/twpayne/go-vfs/v4/vfst"
)

const listing = `- 0x81000000
- 0x81000002`

var _ = Describe("Session", func() {
	var (
		fake     *mocks.FakeRunner
		fs       *vfst.TestFS
		cleanup  func()
		prompter *prompt.Queue
		session  *tpm.Session
	)

	BeforeEach(func() {
		var err error
		fs, cleanup, err = vfst.NewTestFS(map[string]interface{}{})
		Expect(err).ToNot(HaveOccurred())
		fake = mocks.NewFakeRunner()
		prompter = prompt.NewQueue("tpm-secret")
		session = tpm.NewSession(fake, fs, prompter, types.NewNullLogger(), tpm.WithWorkDir("/work"))
	})

	AfterEach(func() {
		cleanup()
	})

	Describe("handle queries", func() {
		BeforeEach(func() {
			fake.Output("tpm2_getcap handles-persistent", listing)
		})

		It("lists persistent handles", func() {
			list, err := session.ListPersistentHandles()
			Expect(err).ToNot(HaveOccurred())
			Expect(list).To(Equal(handles(0x81000000, 0x81000002)))
		})

		It("suggests the lowest free handle", func() {
			h, err := session.NextHandle()
			Expect(err).ToNot(HaveOccurred())
			Expect(h.String()).To(Equal("0x81000001"))
		})

		It("rejects a handle in use", func() {
			err := session.CheckHandleFree(tpm.HandleFromOffset(2))
			Expect(err).To(MatchError(tpm.ErrHandleInUse))
			handle, _ := failure.FieldOf(err, "handle")
			Expect(handle).To(Equal("0x81000002"))

			Expect(session.CheckHandleFree(tpm.HandleFromOffset(1))).To(Succeed())
		})

		It("fails when the query fails, whatever it printed", func() {
			fake.Fail("tpm2_getcap handles-persistent", 1, listing, "no TPM")
			_, err := session.ListPersistentHandles()
			Expect(err).To(MatchError(tpm.ErrQueryFailed))
			stderr, _ := failure.FieldOf(err, "stderr")
			Expect(stderr).To(Equal("no TPM"))
		})
	})

	Describe("provisioning", func() {
		It("drives tpm2-tools with the expected arguments", func() {
			h := tpm.HandleFromOffset(3)
			Expect(session.CreatePolicy()).To(Succeed())
			Expect(session.CreatePrimaryKey()).To(Succeed())
			Expect(session.SealFromPrompt()).To(Succeed())
			Expect(session.Load()).To(Succeed())
			Expect(session.Persist(&h)).To(Succeed())

			Expect(fake.CommandLines()).To(Equal([]string{
				"tpm2_createpolicy --policy-pcr --pcr-list sha256:7 --policy /work/policy.dat",
				"tpm2_createprimary --hierarchy o --hash-algorithm sha256 --key-algorithm ecc --key-context /work/primary.ctx",
				"tpm2_create --parent-context /work/primary.ctx --hash-algorithm sha256 --public /work/object.pub --private /work/object.private --policy /work/policy.dat --sealing-input -",
				"tpm2_load --parent-context /work/primary.ctx --public /work/object.pub --private /work/object.private --key-context /work/object.ctx",
				"tpm2_evictcontrol --hierarchy o --object-context /work/object.ctx 0x81000003",
			}))
			Expect(prompter.Asked).To(Equal([]string{"Enter the key: "}))
		})

		It("passes the secret only through stdin", func() {
			Expect(session.Seal("tpm-secret")).To(Succeed())

			for _, call := range fake.Calls {
				Expect(strings.Join(call.Args, " ")).ToNot(ContainSubstring("tpm-secret"))
			}
			sealed := fake.CallsWith("tpm2_create ")
			Expect(sealed).To(HaveLen(1))
			Expect(sealed[0].Input).To(Equal("tpm-secret"))
		})

		It("creates the work directory and removes it on close", func() {
			Expect(session.CreatePolicy()).To(Succeed())
			info, err := fs.Stat("/work")
			Expect(err).ToNot(HaveOccurred())
			Expect(info.IsDir()).To(BeTrue())

			Expect(session.Close()).To(Succeed())
			Expect(types.Exists(fs, "/work")).To(BeFalse())
		})

		It("fails before running any tool when the work directory cannot be created", func() {
			session = tpm.NewSession(fake, vfs.NewReadOnlyFS(fs), prompter, types.NewNullLogger(), tpm.WithWorkDir("/work"))

			err := session.CreatePolicy()
			Expect(err).To(MatchError(tpm.ErrWorkDir))
			path, _ := failure.FieldOf(err, "path")
			Expect(path).To(Equal("/work"))
			Expect(session.Seal("tpm-secret")).To(MatchError(tpm.ErrWorkDir))

			Expect(fake.Calls).To(BeEmpty())
			Expect(types.Exists(fs, "/work")).To(BeFalse())
			Expect(session.Close()).To(Succeed())
		})

		It("requires a handle to persist", func() {
			Expect(session.Persist(nil)).To(MatchError(tpm.ErrHandleRequired))
			Expect(fake.Calls).To(BeEmpty())
		})

		It("fails the prompt step when there is no answer", func() {
			session = tpm.NewSession(fake, fs, prompt.NewQueue(), types.NewNullLogger(), tpm.WithWorkDir("/work"))
			err := session.SealFromPrompt()
			Expect(err).To(MatchError(tpm.ErrPromptFailed))
			Expect(fake.Called("tpm2_create")).To(BeFalse())
		})

		DescribeTable("maps each tool failure to its own error",
			func(prefix string, run func(*tpm.Session) error, expected error) {
				fake.Fail(prefix, 1, "", "failure")
				Expect(run(session)).To(MatchError(expected))
			},
			Entry("policy", "tpm2_createpolicy", (*tpm.Session).CreatePolicy, tpm.ErrPolicyFailed),
			Entry("primary key", "tpm2_createprimary", (*tpm.Session).CreatePrimaryKey, tpm.ErrPrimaryKeyFailed),
			Entry("seal", "tpm2_create ", (*tpm.Session).SealFromPrompt, tpm.ErrSealFailed),
			Entry("load", "tpm2_load", (*tpm.Session).Load, tpm.ErrLoadFailed),
			Entry("persist", "tpm2_evictcontrol", func(s *tpm.Session) error {
				h := tpm.HandleFromOffset(0)
				return s.Persist(&h)
			}, tpm.ErrPersistFailed),
			Entry("evict", "tpm2_evictcontrol", func(s *tpm.Session) error {
				return s.Evict(tpm.HandleFromOffset(0))
			}, tpm.ErrEvictFailed),
		)
	})

	Describe("unsealing", func() {
		It("returns the trimmed output bound to the PCR policy", func() {
			fake.Output("tpm2_unseal", "tpm-secret")
			secret, err := session.UnsealHandle(tpm.HandleFromOffset(1))
			Expect(err).ToNot(HaveOccurred())
			Expect(secret).To(Equal("tpm-secret"))
			Expect(fake.CommandLines()).To(Equal([]string{
				"tpm2_unseal --object-context 0x81000001 --auth pcr:sha256:7",
			}))
		})

		It("unseals the loaded context file", func() {
			_, err := session.UnsealContext()
			Expect(err).ToNot(HaveOccurred())
			Expect(fake.Called("tpm2_unseal --object-context /work/object.ctx")).To(BeTrue())
		})

		It("never attaches stdout to the failure", func() {
			fake.Fail("tpm2_unseal", 1, "partial-secret", "PCR mismatch")
			_, err := session.UnsealHandle(tpm.HandleFromOffset(1))
			Expect(err).To(MatchError(tpm.ErrUnsealFailed))

			_, hasStdout := failure.FieldOf(err, "stdout")
			Expect(hasStdout).To(BeFalse())
			Expect(failure.Render(err)).ToNot(ContainSubstring("partial-secret"))
			handle, _ := failure.FieldOf(err, "handle")
			Expect(handle).To(Equal("0x81000001"))
		})
	})
})
