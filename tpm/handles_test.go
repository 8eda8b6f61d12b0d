package tpm_test

import (
	"slices"

	"github.com/kairos-io/mount-luks/tpm"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

func handles(raw ...uint32) []tpm.Handle {
	out := make([]tpm.Handle, 0, len(raw))
	for _, r := range raw {
		h, err := tpm.HandleFromRaw(r)
		Expect(err).ToNot(HaveOccurred())
		out = append(out, h)
	}
	return out
}

var _ = Describe("ParseHandles", func() {
	It("yields listed handles and skips everything else", func() {
		output := `- 0x81000001
- 0x81000004
garbage
- 0x80000000
-  0x8100000Z

  - 0x81000005  `

		Expect(slices.Collect(tpm.ParseHandles(output))).To(Equal(handles(0x81000001, 0x81000004, 0x81000005)))
	})

	It("yields nothing for empty output", func() {
		Expect(slices.Collect(tpm.ParseHandles(""))).To(BeEmpty())
	})

	It("stops when the consumer stops", func() {
		var seen []tpm.Handle
		for h := range tpm.ParseHandles("- 0x81000000\n- 0x81000001\n- 0x81000002") {
			seen = append(seen, h)
			if len(seen) == 2 {
				break
			}
		}
		Expect(seen).To(HaveLen(2))
	})
})

var _ = Describe("AllocateHandle", func() {
	It("returns the lowest free offset", func() {
		h, err := tpm.AllocateHandle(handles(0x81000001, 0x81000004, 0x81000005))
		Expect(err).ToNot(HaveOccurred())
		Expect(h.String()).To(Equal("0x81000000"))
	})

	It("fills gaps above the first handle", func() {
		h, err := tpm.AllocateHandle(handles(0x81000000, 0x81000001, 0x81000003))
		Expect(err).ToNot(HaveOccurred())
		Expect(h.String()).To(Equal("0x81000002"))
	})

	It("ignores handles past the allocation window", func() {
		h, err := tpm.AllocateHandle(handles(0x81000000, 0x81000100))
		Expect(err).ToNot(HaveOccurred())
		Expect(h.String()).To(Equal("0x81000001"))
	})

	It("fails when every slot is taken", func() {
		_, err := tpm.AllocateHandle(handles(
			0x81000000, 0x81000001, 0x81000002, 0x81000003,
			0x81000004, 0x81000005, 0x81000006,
		))
		Expect(err).To(MatchError(tpm.ErrNoHandleAvailable))
	})
})
