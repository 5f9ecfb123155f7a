package machine

import (
	"context"
	"errors"
	"fmt"

	"github.com/colorfulnotion/rvm/log"
	"github.com/colorfulnotion/rvm/rvm/decoder"
	"github.com/colorfulnotion/rvm/rvmerrors"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/colorfulnotion/rvm/rvm/machine"

// ctxCheckInterval is how many instructions run between context checks.
const ctxCheckInterval = 1 << 12

// Step decodes and executes the instruction at pc, charging its cost first.
func (m *Machine) Step(dec decoder.Decoder) error {
	inst, err := dec.Decode(m.memory, m.pc)
	if err != nil {
		return err
	}
	if err := m.AddCycles(m.InstructionCost(inst)); err != nil {
		return err
	}
	if m.observer != nil {
		m.observer.OnStep(m, m.pc, inst)
	}
	err = Execute(m, m.validation, m.handlers, inst)
	if errors.Is(err, ErrTraceEnd) {
		return fmt.Errorf("%w: at 0x%x", rvmerrors.ErrEInvalidTraceEntry, m.pc)
	}
	return err
}

// Run interprets from pc until the program exits, an error occurs or ctx
// is done. It returns the exit code.
func (m *Machine) Run(ctx context.Context, dec decoder.Decoder) (int8, error) {
	ctx, span := otel.Tracer(tracerName).Start(ctx, "machine.Run",
		trace.WithAttributes(attribute.String("rvm.engine", "interpreter")))
	defer span.End()

	m.running = true
	var steps uint64
	for m.running {
		if steps%ctxCheckInterval == 0 {
			if err := ctx.Err(); err != nil {
				return m.exitCode, EndSpan(span, m, err)
			}
		}
		steps++
		if err := m.Step(dec); err != nil {
			log.Debug(log.MachineMonitoring, "run stopped", "pc", fmt.Sprintf("0x%x", m.pc), "err", err)
			return m.exitCode, EndSpan(span, m, err)
		}
	}
	span.SetAttributes(attribute.Int64("rvm.steps", int64(steps)))
	return m.exitCode, EndSpan(span, m, nil)
}

// EndSpan records the final machine state on span and returns err.
func EndSpan(span trace.Span, m *Machine, err error) error {
	span.SetAttributes(
		attribute.Int64("rvm.cycles", int64(m.cycles)),
		attribute.Int("rvm.exit_code", int(m.exitCode)),
		attribute.String("rvm.pc", fmt.Sprintf("0x%x", m.pc)),
	)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, rvmerrors.GetErrorName(err))
	}
	return err
}
