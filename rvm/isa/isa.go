package isa

import (
	"fmt"
	"strings"

	"github.com/colorfulnotion/rvm/rvmerrors"
)

// ISA is a bit set of optional extensions on top of the always-present IMC base.
type ISA uint8

const (
	ISA_IMC ISA = 0
	ISA_B   ISA = 1 << 0
	ISA_MOP ISA = 1 << 1
	ISA_A   ISA = 1 << 2
)

// Supported is the set of extension bits this VM implements.
const Supported = ISA_IMC

// Machine versions. VERSION0 keeps the original JALR ordering bug where the
// link register is written before the jump target is read.
const (
	VERSION0 uint32 = 0
	VERSION1 uint32 = 1
	VERSION2 uint32 = 2
)

const LatestVersion = VERSION2

// Validate checks that every requested extension bit is implemented.
func (i ISA) Validate() error {
	if i&^Supported != 0 {
		return fmt.Errorf("%w: 0x%x", rvmerrors.ErrCInvalidISA, uint8(i))
	}
	return nil
}

func ValidateVersion(version uint32) error {
	if version > LatestVersion {
		return fmt.Errorf("%w: %d", rvmerrors.ErrCInvalidVersion, version)
	}
	return nil
}

// ParseISA parses names like "imc", "imcb" or "imc+a".
func ParseISA(s string) (ISA, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if !strings.HasPrefix(s, "imc") {
		return 0, fmt.Errorf("%w: %q", rvmerrors.ErrCInvalidISA, s)
	}
	var out ISA
	for _, c := range strings.TrimPrefix(s, "imc") {
		switch c {
		case '+', '_':
		case 'b':
			out |= ISA_B
		case 'a':
			out |= ISA_A
		default:
			return 0, fmt.Errorf("%w: %q", rvmerrors.ErrCInvalidISA, s)
		}
	}
	return out, nil
}
