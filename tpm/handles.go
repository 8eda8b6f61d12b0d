package tpm

import (
	"bufio"
	"errors"
	"iter"
	"slices"
	"strings"
)

// MaxPersistentHandles caps how many offsets AllocateHandle will consider.
// TPMs only have a handful of persistent slots.
const MaxPersistentHandles = 7

var ErrNoHandleAvailable = errors.New("unable to find next available TPM persistent handle")

// ParseHandles yields the handles listed in `tpm2_getcap handles-persistent` output:
//
//	- 0x81000000
//	- 0x81000001
//
// Lines that are not a valid handle are skipped.
func ParseHandles(output string) iter.Seq[Handle] {
	return func(yield func(Handle) bool) {
		scanner := bufio.NewScanner(strings.NewReader(output))
		for scanner.Scan() {
			line := strings.TrimSpace(scanner.Text())
			line = strings.TrimPrefix(line, "- ")
			if !strings.HasPrefix(line, "0x") {
				continue
			}
			h, err := ParseHandle(line)
			if err != nil {
				continue
			}
			if !yield(h) {
				return
			}
		}
	}
}

// AllocateHandle returns the lowest offset below MaxPersistentHandles that is not in existing.
func AllocateHandle(existing []Handle) (Handle, error) {
	for offset := range uint16(MaxPersistentHandles) {
		candidate := HandleFromOffset(offset)
		if !slices.Contains(existing, candidate) {
			return candidate, nil
		}
	}
	return 0, ErrNoHandleAvailable
}
