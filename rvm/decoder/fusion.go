package decoder

import (
	"fmt"

	"github.com/colorfulnotion/rvm/log"
	"github.com/colorfulnotion/rvm/rvm/isa"
	"github.com/colorfulnotion/rvm/rvm/memory"
)

// FusionRule rewrites one source opcode into a target opcode carrying a
// precomputed value. The rule only applies when Guard accepts the value;
// otherwise the source instruction is kept as decoded.
type FusionRule struct {
	Name   string
	Source isa.Opcode
	Target isa.Opcode
	// Width is the bit width of the target's immediate operand.
	Width uint
	Value func(inst isa.Instruction, pc uint64) uint64
	Guard func(value uint64) bool
}

// FitsUnsigned returns a guard accepting values representable as a
// zero-extended unsigned integer of width bits.
func FitsUnsigned(width uint) func(uint64) bool {
	if width >= 64 {
		return func(uint64) bool { return true }
	}
	return func(v uint64) bool { return v>>width == 0 }
}

// PCRelative is the AUIPC value: pc plus the sign-extended upper immediate,
// wrapping in 64 bits.
func PCRelative(inst isa.Instruction, pc uint64) uint64 {
	return pc + uint64(inst.Imm)
}

// AuipcRule folds AUIPC into CUSTOM_LOAD_UIMM when the computed address fits
// the 32-bit unsigned immediate of the target.
var AuipcRule = FusionRule{
	Name:   "auipc_load_uimm",
	Source: isa.OP_AUIPC,
	Target: isa.OP_CUSTOM_LOAD_UIMM,
	Width:  32,
	Value:  PCRelative,
	Guard:  FitsUnsigned(32),
}

// DefaultRules is the rule set used when NewFusionDecoder gets none.
func DefaultRules() []FusionRule {
	return []FusionRule{AuipcRule}
}

// FusionDecoder decodes with an inner Decoder and applies fusion rules to
// the result. Errors from the inner decoder are returned unchanged.
type FusionDecoder struct {
	inner    Decoder
	bySource [isa.OpcodeCount][]FusionRule
}

// NewFusionDecoder wraps inner. With no rules it applies DefaultRules.
func NewFusionDecoder(inner Decoder, rules ...FusionRule) (*FusionDecoder, error) {
	if len(rules) == 0 {
		rules = DefaultRules()
	}
	d := &FusionDecoder{inner: inner}
	for _, r := range rules {
		if int(r.Source) >= isa.OpcodeCount || int(r.Target) >= isa.OpcodeCount {
			return nil, fmt.Errorf("fusion rule %q: opcode out of range", r.Name)
		}
		if r.Value == nil || r.Guard == nil || r.Width == 0 || r.Width > 64 {
			return nil, fmt.Errorf("fusion rule %q: incomplete", r.Name)
		}
		d.bySource[r.Source] = append(d.bySource[r.Source], r)
		log.Debug(log.DecoderMonitoring, "fusion rule registered", "rule", r.Name, "source", r.Source, "target", r.Target, "width", r.Width)
	}
	return d, nil
}

// Inner returns the wrapped decoder.
func (d *FusionDecoder) Inner() Decoder {
	return d.inner
}

// Decode decodes the instruction at pc and rewrites it with the first rule
// whose guard accepts. The fused instruction keeps the head's encoded length.
// An inner decoder error is returned as the same value, never wrapped.
func (d *FusionDecoder) Decode(mem memory.Memory, pc uint64) (isa.Instruction, error) {
	head, err := d.inner.Decode(mem, pc)
	if err != nil {
		return head, err
	}
	for _, rule := range d.bySource[head.Opcode] {
		fused, ok := rule.apply(head, pc)
		if !ok {
			if log.Enabled(log.DecoderMonitoring, log.LevelTrace) {
				log.Trace(log.DecoderMonitoring, "fusion guard rejected", "rule", rule.Name, "pc", fmt.Sprintf("0x%x", pc), "inst", head.String())
			}
			continue
		}
		return fused, nil
	}
	return head, nil
}

// apply builds the fused instruction. The value is carried whole; a guard
// wider than Width yields an immediate the target's validator rejects.
func (r FusionRule) apply(head isa.Instruction, pc uint64) (isa.Instruction, bool) {
	value := r.Value(head, pc)
	if !r.Guard(value) {
		return isa.Instruction{}, false
	}
	fused := isa.Utype(r.Target, head.Rd, int64(value))
	return isa.SetInstructionLength(fused, isa.InstructionLength(head)), true
}
