package disasm

import (
	"fmt"
	"strings"

	"github.com/colorfulnotion/rvm/rvm/decoder"
	"github.com/colorfulnotion/rvm/rvm/isa"
	"github.com/colorfulnotion/rvm/rvm/memory"
	"golang.org/x/arch/riscv64/riscv64asm"
)

// Line is one disassembled instruction. Reference is the GNU syntax from
// x/arch; Decoded is what the machine decoder produced for the same bytes.
type Line struct {
	Addr      uint64
	Raw       []byte
	Reference string
	Decoded   isa.Instruction
	Fused     bool
	Err       error
}

// Agrees reports whether both decoders consumed the same number of bytes.
func (l Line) Agrees() bool {
	return l.Err == nil && int(l.Decoded.Length) == len(l.Raw)
}

func (l Line) String() string {
	hex := make([]string, len(l.Raw))
	for i, b := range l.Raw {
		hex[i] = fmt.Sprintf("%02x", b)
	}
	ours := l.Decoded.String()
	switch {
	case l.Err != nil:
		ours = "error: " + l.Err.Error()
	case l.Fused:
		ours = "* " + ours
	}
	return fmt.Sprintf("0x%08x: %-12s %-28s %s", l.Addr, strings.Join(hex, " "), l.Reference, ours)
}

// Range disassembles [start, end) of mem. dec decides the right column;
// a fusion decoder marks rewritten instructions. Bytes x/arch cannot decode
// are shown as .half and skipped two at a time.
func Range(mem memory.Memory, start, end uint64, dec decoder.Decoder) ([]Line, error) {
	var inner decoder.Decoder
	if fd, ok := dec.(*decoder.FusionDecoder); ok {
		inner = fd.Inner()
	}
	var lines []Line
	for pc := start; pc < end; {
		n := min(end-pc, 4)
		raw, err := mem.LoadBytes(pc, n)
		if err != nil {
			return lines, err
		}
		ref, err := riscv64asm.Decode(raw)
		if err != nil || ref.Len == 0 || uint64(ref.Len) > n {
			half := raw[:min(n, 2)]
			var v uint16
			for i, b := range half {
				v |= uint16(b) << (8 * i)
			}
			lines = append(lines, Line{Addr: pc, Raw: half, Reference: fmt.Sprintf(".half 0x%04x", v), Err: err})
			pc += uint64(len(half))
			continue
		}
		line := Line{Addr: pc, Raw: raw[:ref.Len], Reference: riscv64asm.GNUSyntax(ref)}
		line.Decoded, line.Err = dec.Decode(mem, pc)
		if line.Err == nil && inner != nil {
			base, err := inner.Decode(mem, pc)
			line.Fused = err == nil && base.Opcode != line.Decoded.Opcode
		}
		lines = append(lines, line)
		pc += uint64(ref.Len)
	}
	return lines, nil
}

// Format renders lines one per row.
func Format(lines []Line) string {
	var sb strings.Builder
	for _, l := range lines {
		sb.WriteString(l.String())
		sb.WriteByte('\n')
	}
	return sb.String()
}
