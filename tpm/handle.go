package tpm

import (
	"cmp"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// HandleBase is the first address of the owner-hierarchy persistent object range.
const HandleBase uint32 = 0x81000000

// MaxOffset is the largest offset a Handle can carry.
const MaxOffset uint16 = 0xFFFF

var (
	ErrBelowMinimum = errors.New("handle must be at least 0x81000000")
	ErrAboveMaximum = errors.New("handle must be at most 0x8100FFFF")
	ErrMalformed    = errors.New("handle is not a valid hex string")
)

// Handle names a persistent TPM object. It stores only the 16-bit offset from
// HandleBase; the zero value is 0x81000000. A Handle is a lookup key, it does not
// own the object it names.
type Handle uint16

// HandleFromOffset builds a handle from an offset. Every offset is valid.
func HandleFromOffset(offset uint16) Handle {
	return Handle(offset)
}

// HandleFromRaw builds a handle from its full 32-bit address.
func HandleFromRaw(raw uint32) (Handle, error) {
	if raw < HandleBase {
		return 0, ErrBelowMinimum
	}
	offset := raw - HandleBase
	if offset > uint32(MaxOffset) {
		return 0, ErrAboveMaximum
	}
	return Handle(offset), nil
}

// ParseHandle accepts the hex form with or without a 0x/0X prefix and surrounding space.
func ParseHandle(s string) (Handle, error) {
	s = strings.TrimSpace(s)
	if len(s) >= 2 && (s[:2] == "0x" || s[:2] == "0X") {
		s = s[2:]
	}
	raw, err := strconv.ParseUint(s, 16, 32)
	if err != nil {
		return 0, ErrMalformed
	}
	return HandleFromRaw(uint32(raw))
}

// Raw is the full 32-bit TPM address.
func (h Handle) Raw() uint32 {
	return HandleBase + uint32(h)
}

func (h Handle) Offset() uint16 {
	return uint16(h)
}

// String is the canonical 0x + 8 uppercase hex digits form.
func (h Handle) String() string {
	return fmt.Sprintf("0x%08X", h.Raw())
}

// Compare orders handles by raw value.
func (h Handle) Compare(o Handle) int {
	return cmp.Compare(h.Raw(), o.Raw())
}

func (h Handle) MarshalText() ([]byte, error) {
	return []byte(h.String()), nil
}

func (h *Handle) UnmarshalText(text []byte) error {
	parsed, err := ParseHandle(string(text))
	if err != nil {
		return fmt.Errorf("%q: %w", text, err)
	}
	*h = parsed
	return nil
}
