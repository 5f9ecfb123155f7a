package trace

import (
	"context"
	"errors"
	"fmt"

	"github.com/colorfulnotion/rvm/log"
	"github.com/colorfulnotion/rvm/rvm/decoder"
	"github.com/colorfulnotion/rvm/rvm/machine"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	oteltrace "go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/colorfulnotion/rvm/rvm/trace"

// ctxCheckInterval is how many trace entries run between context checks.
const ctxCheckInterval = 1 << 8

// BlockObserver is told about every trace entry before it runs.
type BlockObserver interface {
	OnTrace(t *Trace, hit bool)
}

type Stats struct {
	Entries uint64
	Hits    uint64
	Builds  uint64
}

// Machine runs a machine by entering cached traces and walking their
// handler threads instead of decoding each instruction.
type Machine struct {
	*machine.Machine
	decoder  decoder.Decoder
	cache    *Cache
	builder  *Builder
	observer BlockObserver
	stats    Stats
}

type Option func(*Machine)

func WithBlockObserver(o BlockObserver) Option {
	return func(tm *Machine) { tm.observer = o }
}

// NewMachine wraps m with a cache of slots entries, each trace holding up to
// capacity entries including the sentinel.
func NewMachine(m *machine.Machine, dec decoder.Decoder, slots, capacity int, opts ...Option) (*Machine, error) {
	cache, err := NewCache(slots)
	if err != nil {
		return nil, err
	}
	builder, err := NewBuilder(m, dec, cache, capacity)
	if err != nil {
		return nil, err
	}
	tm := &Machine{Machine: m, decoder: dec, cache: cache, builder: builder}
	for _, o := range opts {
		o(tm)
	}
	return tm, nil
}

func (tm *Machine) Cache() *Cache            { return tm.cache }
func (tm *Machine) Decoder() decoder.Decoder { return tm.decoder }
func (tm *Machine) Stats() Stats             { return tm.stats }

// Build builds and caches the trace starting at pc.
func (tm *Machine) Build(pc uint64) (BuildResult, error) {
	res, err := tm.builder.Build(pc)
	if err == nil {
		tm.stats.Builds++
	}
	return res, err
}

// Enter looks up or builds the trace at the current pc, charges its cycles
// and runs it.
func (tm *Machine) Enter() error {
	pc := tm.PC()
	t, hit := tm.cache.Lookup(pc)
	if hit {
		tm.stats.Hits++
	} else {
		res, err := tm.Build(pc)
		if err != nil {
			return err
		}
		t = res.Trace
	}
	tm.stats.Entries++
	if err := tm.AddCycles(t.Cycles); err != nil {
		return err
	}
	if tm.observer != nil {
		tm.observer.OnTrace(t, hit)
	}
	return tm.runThread(t)
}

// runThread dispatches each entry through its handler until the sentinel or
// an exit.
func (tm *Machine) runThread(t *Trace) error {
	m := tm.Machine
	steps := m.Observer()
	for i, handler := range t.Thread[:t.Count] {
		inst := t.Instructions[i]
		pc := m.PC()
		if steps != nil && inst.Length != 0 {
			steps.OnStep(m, pc, inst)
		}
		m.SetNextPC(pc + uint64(inst.Length))
		if err := handler(m, inst); err != nil {
			if errors.Is(err, machine.ErrTraceEnd) {
				return nil
			}
			return err
		}
		m.CommitPC()
		if !m.Running() {
			return nil
		}
	}
	return nil
}

// Run enters traces until the program exits, an error occurs or ctx is done.
func (tm *Machine) Run(ctx context.Context) (int8, error) {
	ctx, span := otel.Tracer(tracerName).Start(ctx, "trace.Run",
		oteltrace.WithAttributes(
			attribute.String("rvm.engine", "trace"),
			attribute.Int("rvm.trace.slots", tm.cache.Len()),
			attribute.Int("rvm.trace.capacity", tm.builder.Capacity()),
		))
	defer span.End()

	tm.SetRunning(true)
	var entries uint64
	for tm.Running() {
		if entries%ctxCheckInterval == 0 {
			if err := ctx.Err(); err != nil {
				return tm.ExitCode(), machine.EndSpan(span, tm.Machine, err)
			}
		}
		entries++
		if err := tm.Enter(); err != nil {
			log.Debug(log.TraceMonitoring, "run stopped", "pc", fmt.Sprintf("0x%x", tm.PC()), "err", err)
			return tm.ExitCode(), machine.EndSpan(span, tm.Machine, err)
		}
	}
	span.SetAttributes(
		attribute.Int64("rvm.trace.entries", int64(tm.stats.Entries)),
		attribute.Int64("rvm.trace.hits", int64(tm.stats.Hits)),
		attribute.Int64("rvm.trace.builds", int64(tm.stats.Builds)),
	)
	log.Debug(log.TraceMonitoring, "run finished", "entries", tm.stats.Entries, "hits", tm.stats.Hits, "builds", tm.stats.Builds)
	return tm.ExitCode(), machine.EndSpan(span, tm.Machine, nil)
}
