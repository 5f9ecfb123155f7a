package rvmerrors

import (
	"errors"
	"fmt"
	"strings"
)

// Decode (D) Errors
var (
	ErrDInvalidInstruction = errors.New("D1|InvalidInstruction: The fetched word does not encode a supported instruction.")
	ErrDMisalignedFetch    = errors.New("D2|MisalignedFetch: The program counter is not aligned to an instruction boundary.")
)

// Memory (M) Errors
var (
	ErrMOutOfBound            = errors.New("M1|MemOutOfBound: The access falls outside of machine memory.")
	ErrMWriteOnExecutablePage = errors.New("M2|MemWriteOnExecutablePage: Store into a page marked executable.")
	ErrMWriteOnFrozenPage     = errors.New("M3|MemWriteOnFrozenPage: Store into a page that has been frozen.")
	ErrMInvalidPermission     = errors.New("M4|MemInvalidPermission: Page flags cannot be applied to this range.")
)

// Execution (E) Errors
var (
	ErrEInvalidEcall      = errors.New("E1|InvalidEcall: Unknown system call number.")
	ErrEInvalidEbreak     = errors.New("E2|InvalidEbreak: Breakpoint reached with no debugger attached.")
	ErrECyclesExceeded    = errors.New("E3|CyclesExceeded: Execution consumed more than the configured maximum cycles.")
	ErrEUnsupportedOpcode = errors.New("E4|UnsupportedOpcode: No handler is registered for the opcode.")
	ErrEInvalidTraceEntry = errors.New("E5|InvalidTraceEntry: The trace-end marker cannot be executed outside of a trace.")
)

// Configuration & Loader (C/L) Errors
var (
	ErrCInvalidISA     = errors.New("C1|InvalidISA: The requested instruction set extensions are not supported.")
	ErrCInvalidVersion = errors.New("C2|InvalidVersion: The requested machine version is not supported.")
	ErrCInvalidConfig  = errors.New("C3|InvalidConfig: A configuration value is out of range.")
	ErrLInvalidElf     = errors.New("L1|InvalidElf: The program image could not be parsed.")
	ErrLElfBits        = errors.New("L2|ElfBits: The ELF image is not a 64-bit little-endian RISC-V executable.")
	ErrLArgsTooLarge   = errors.New("L3|ArgsTooLarge: Program arguments do not fit on the stack.")
)

// DecodeError carries the fetch address and raw word of a failed decode.
// Err is always one of the D or M sentinels above.
type DecodeError struct {
	PC   uint64
	Word uint32
	Err  error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode at 0x%x (word 0x%08x): %v", e.PC, e.Word, e.Err)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

// GetErrorName extracts the error name from the error message.
func GetErrorName(err error) string {
	if err == nil {
		return "No Error"
	}
	errStr := rootMessage(err)
	if !strings.Contains(errStr, "|") || !strings.Contains(errStr, ":") {
		return errStr
	}
	parts := strings.SplitN(errStr, "|", 2)
	if len(parts) < 2 {
		return errStr
	}
	nameDesc := parts[1]
	// Split on ':' to separate the error name from its description.
	nameParts := strings.SplitN(nameDesc, ":", 2)
	return strings.TrimSpace(nameParts[0])
}

func GetErrorNames(errs []error) []string {
	errStrs := make([]string, len(errs))
	for i, err := range errs {
		errStrs[i] = GetErrorName(err)
	}
	return errStrs
}

// GetErrorCode extracts the error code from the error message.
func GetErrorCode(err error) string {
	if err == nil {
		return ""
	}
	errStr := rootMessage(err)
	// Check if the error string contains '|'.
	if !strings.Contains(errStr, "|") {
		return ""
	}
	parts := strings.SplitN(errStr, "|", 2)
	return strings.TrimSpace(parts[0])
}

// GetErrorCodeWithName returns the error code and name in the format "Code_ErrorName".
func GetErrorCodeWithName(err error) string {
	code := GetErrorCode(err)
	name := GetErrorName(err)
	if code == "" || name == "" {
		return ""
	}
	return code + "_" + name
}

// rootMessage returns the message of the innermost coded sentinel in err's chain.
func rootMessage(err error) string {
	for e := err; e != nil; e = errors.Unwrap(e) {
		if isSentinel(e) {
			return e.Error()
		}
	}
	return err.Error()
}

func isSentinel(err error) bool {
	for _, s := range all {
		if err == s {
			return true
		}
	}
	return false
}

var all = []error{
	ErrDInvalidInstruction, ErrDMisalignedFetch,
	ErrMOutOfBound, ErrMWriteOnExecutablePage, ErrMWriteOnFrozenPage, ErrMInvalidPermission,
	ErrEInvalidEcall, ErrEInvalidEbreak, ErrECyclesExceeded, ErrEUnsupportedOpcode, ErrEInvalidTraceEntry,
	ErrCInvalidISA, ErrCInvalidVersion, ErrCInvalidConfig,
	ErrLInvalidElf, ErrLElfBits, ErrLArgsTooLarge,
}
