package asm

import (
	"encoding/binary"
	"fmt"

	"github.com/colorfulnotion/rvm/rvm/isa"
)

type fixupKind uint8

const (
	fixPCRel    fixupKind = iota // branch or jump offset
	fixHi20                      // AUIPC half of a pc-relative address
	fixLo12                      // ADDI half, relative to the AUIPC at anchor
	fixAbsolute                  // LUI/ADDI pair holding the label address
)

type fixup struct {
	kind       fixupKind
	offset     uint64 // byte offset into code
	anchor     uint64 // pc the relative value is computed against
	compressed bool
	inst       isa.Instruction
	label      string
}

// Assembler lays out instructions from a base address. Labels may be used
// before they are defined; they are resolved by Assemble.
type Assembler struct {
	base   uint64
	code   []byte
	labels map[string]uint64
	fixups []fixup
	err    error
}

func New(base uint64) *Assembler {
	return &Assembler{base: base, labels: make(map[string]uint64)}
}

// PC returns the address of the next emitted byte.
func (a *Assembler) PC() uint64 {
	return a.base + uint64(len(a.code))
}

func (a *Assembler) fail(err error) {
	if a.err == nil {
		a.err = err
	}
}

// Label binds name to the current PC.
func (a *Assembler) Label(name string) {
	if _, ok := a.labels[name]; ok {
		a.fail(fmt.Errorf("asm: label %q redefined", name))
		return
	}
	a.labels[name] = a.PC()
}

// Addr returns the address of an already defined label.
func (a *Assembler) Addr(name string) (uint64, bool) {
	addr, ok := a.labels[name]
	return addr, ok
}

func (a *Assembler) put32(w uint32) {
	a.code = binary.LittleEndian.AppendUint32(a.code, w)
}

func (a *Assembler) put16(h uint16) {
	a.code = binary.LittleEndian.AppendUint16(a.code, h)
}

// Emit appends the 32-bit encoding of inst.
func (a *Assembler) Emit(inst isa.Instruction) {
	w, err := Encode(inst)
	if err != nil {
		a.fail(err)
		return
	}
	a.put32(w)
}

// EmitC appends the 16-bit encoding of inst, failing if it has none.
func (a *Assembler) EmitC(inst isa.Instruction) {
	h, ok := Compress(inst)
	if !ok {
		a.fail(fmt.Errorf("asm: %s has no compressed form", inst))
		return
	}
	a.put16(h)
}

// Branch emits a 32-bit conditional branch to label.
func (a *Assembler) Branch(op isa.Opcode, rs1, rs2 uint8, label string) {
	a.addFixup(fixPCRel, false, isa.Stype(op, rs1, rs2, 0), label)
}

// BranchC emits C.BEQZ or C.BNEZ to label.
func (a *Assembler) BranchC(op isa.Opcode, rs1 uint8, label string) {
	a.addFixup(fixPCRel, true, isa.Stype(op, rs1, isa.ZERO, 0), label)
}

// Jump emits JAL rd, label.
func (a *Assembler) Jump(rd uint8, label string) {
	a.addFixup(fixPCRel, false, isa.Utype(isa.OP_JAL, rd, 0), label)
}

// JumpC emits C.J label.
func (a *Assembler) JumpC(label string) {
	a.addFixup(fixPCRel, true, isa.Utype(isa.OP_JAL, isa.ZERO, 0), label)
}

// La loads the address of label into rd with AUIPC and ADDI.
func (a *Assembler) La(rd uint8, label string) {
	anchor := a.PC()
	a.addFixup(fixHi20, false, isa.Utype(isa.OP_AUIPC, rd, 0), label)
	a.fixups = append(a.fixups, fixup{kind: fixLo12, offset: uint64(len(a.code)), anchor: anchor, inst: isa.Itype(isa.OP_ADDI, rd, rd, 0), label: label})
	a.put32(0)
}

// LaAbs loads the address of label into rd with LUI and ADDI.
func (a *Assembler) LaAbs(rd uint8, label string) {
	a.fixups = append(a.fixups, fixup{kind: fixAbsolute, offset: uint64(len(a.code)), inst: isa.Utype(isa.OP_LUI, rd, 0), label: label})
	a.put32(0)
	a.put32(0)
}

// Li loads a signed 32-bit constant into rd using the shortest sequence.
func (a *Assembler) Li(rd uint8, v int64) {
	if !fitsSigned(v, 32) {
		a.fail(fmt.Errorf("asm: li constant 0x%x needs more than 32 bits", v))
		return
	}
	if fitsSigned(v, 12) {
		a.emitShortest(isa.Itype(isa.OP_ADDI, rd, isa.ZERO, v))
		return
	}
	hi, lo := splitHiLo(v)
	a.emitShortest(isa.Utype(isa.OP_LUI, rd, hi))
	if lo != 0 {
		a.emitShortest(isa.Itype(isa.OP_ADDIW, rd, rd, lo))
	}
}

func (a *Assembler) emitShortest(inst isa.Instruction) {
	if h, ok := Compress(inst); ok {
		a.put16(h)
		return
	}
	a.Emit(inst)
}

// Bytes appends raw data.
func (a *Assembler) Bytes(b []byte) {
	a.code = append(a.code, b...)
}

// Align pads with zero bytes up to a multiple of n.
func (a *Assembler) Align(n uint64) {
	for a.PC()%n != 0 {
		a.code = append(a.code, 0)
	}
}

func (a *Assembler) addFixup(kind fixupKind, compressed bool, inst isa.Instruction, label string) {
	a.fixups = append(a.fixups, fixup{kind: kind, offset: uint64(len(a.code)), anchor: a.PC(), compressed: compressed, inst: inst, label: label})
	if compressed {
		a.put16(0)
	} else {
		a.put32(0)
	}
}

// splitHiLo splits v into a LUI/AUIPC upper immediate and a signed 12-bit
// remainder.
func splitHiLo(v int64) (hi, lo int64) {
	hi = (v + 0x800) &^ 0xfff
	lo = v - hi
	return int64(int32(hi)), lo
}

// Assemble resolves labels and returns the image, loaded at base.
func (a *Assembler) Assemble() ([]byte, error) {
	if a.err != nil {
		return nil, a.err
	}
	out := append([]byte(nil), a.code...)
	for _, f := range a.fixups {
		target, ok := a.labels[f.label]
		if !ok {
			return nil, fmt.Errorf("asm: undefined label %q", f.label)
		}
		rel := int64(target - f.anchor)
		hi, lo := splitHiLo(rel)
		inst := f.inst
		switch f.kind {
		case fixPCRel:
			inst.Imm = rel
		case fixHi20:
			inst.Imm = hi
		case fixLo12:
			inst.Imm = lo
		case fixAbsolute:
			if !fitsSigned(int64(target), 32) {
				return nil, fmt.Errorf("asm: label %q at 0x%x is not 32-bit addressable", f.label, target)
			}
			ahi, alo := splitHiLo(int64(target))
			luiW, err := Encode(isa.Utype(isa.OP_LUI, inst.Rd, ahi))
			if err != nil {
				return nil, err
			}
			addW, err := Encode(isa.Itype(isa.OP_ADDIW, inst.Rd, inst.Rd, alo))
			if err != nil {
				return nil, err
			}
			binary.LittleEndian.PutUint32(out[f.offset:], luiW)
			binary.LittleEndian.PutUint32(out[f.offset+4:], addW)
			continue
		}
		if f.compressed {
			h, ok := Compress(inst)
			if !ok {
				return nil, fmt.Errorf("asm: %s to %q does not fit a compressed encoding", inst.Opcode, f.label)
			}
			binary.LittleEndian.PutUint16(out[f.offset:], h)
			continue
		}
		w, err := Encode(inst)
		if err != nil {
			return nil, fmt.Errorf("asm: %q: %w", f.label, err)
		}
		binary.LittleEndian.PutUint32(out[f.offset:], w)
	}
	return out, nil
}
