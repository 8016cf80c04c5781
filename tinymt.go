// Package tinymt runs the parallel TinyMT64 verification protocol.
//
// A run splits one TinyMT64 sequence into Groups*WorkersPerGroup
// non-overlapping streams, initializes them on a compute device, and
// proves the device output identical to a sequential host reference.
//
// Basic usage:
//
//	dev, _ := backend.FirstDevice(cpu.Platforms())
//	err := tinymt.Run(ctx, tinymt.DefaultConfig(4, 2, 16), dev)
package tinymt

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/montanaflynn/stats"
	"gonum.org/v1/gonum/floats"

	"github.com/nozzle/tinymt/backend"
	"github.com/nozzle/tinymt/dispatch"
	"github.com/nozzle/tinymt/jump"
	"github.com/nozzle/tinymt/kernels"
	"github.com/nozzle/tinymt/stream"
	"github.com/nozzle/tinymt/tinymt64"
	"github.com/nozzle/tinymt/validate"
)

// Session owns the backend handles, the device state buffer and the host
// reference streams of one run. It is not safe for concurrent use.
type Session struct {
	ID  uuid.UUID
	cfg Config
	log *slog.Logger

	params tinymt64.Params
	jumper stream.Jumper
	table  *jump.Table // built on first debug cross-check

	dev    backend.Device
	bctx   backend.Context
	queue  backend.Queue
	prog   backend.Program
	states backend.Buffer

	initr *stream.Initializer
	disp  *dispatch.Dispatcher

	// ref is the host reference; checks advance it in step with the device.
	ref stream.Set

	reports   []*validate.Report
	telemetry Telemetry
	closed    bool
}

// Run creates a session on dev, runs the full protocol and releases it.
func Run(ctx context.Context, cfg Config, dev backend.Device) error {
	s, err := New(cfg, dev)
	if err != nil {
		return err
	}
	defer s.Close()
	return s.Run(ctx)
}

// New validates cfg against dev and sets up the device program, queue and
// state buffer. Nothing is allocated on the device if the configuration
// is rejected.
func New(cfg Config, dev backend.Device) (*Session, error) {
	cfg = cfg.withDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if err := cfg.CheckDevice(dev); err != nil {
		return nil, err
	}

	s := &Session{
		ID:     uuid.New(),
		cfg:    cfg,
		params: tinymt64.DefaultParams,
		jumper: stream.DefaultJumper(),
		dev:    dev,
	}
	s.log = cfg.Logger.With("run", s.ID.String(), "device", dev.Name())

	if err := s.setup(); err != nil {
		s.Close()
		return nil, err
	}
	return s, nil
}

func (s *Session) setup() error {
	var err error
	if s.bctx, err = s.dev.NewContext(); err != nil {
		return fmt.Errorf("create context: %w", err)
	}
	if s.queue, err = s.bctx.NewQueue(); err != nil {
		return fmt.Errorf("create queue: %w", err)
	}

	src := s.cfg.Source
	if src == nil {
		src = kernels.NewSource()
	}
	opts := backend.BuildOptions{Double: s.dev.HasDouble() && !s.cfg.DisableDouble}
	if s.prog, err = s.bctx.Compile(src, opts); err != nil {
		return fmt.Errorf("compile program: %w", err)
	}

	n := s.cfg.Streams()
	if s.states, err = s.bctx.Alloc(2*n, backend.ReadWrite); err != nil {
		return fmt.Errorf("allocate state buffer: %w", err)
	}

	s.initr = &stream.Initializer{
		Context: s.bctx,
		Queue:   s.queue,
		Program: s.prog,
		States:  s.states,
		Local:   s.cfg.WorkersPerGroup,
		Params:  s.params,
	}
	s.disp = &dispatch.Dispatcher{
		Context: s.bctx,
		Queue:   s.queue,
		Program: s.prog,
		States:  s.states,
		Local:   s.cfg.WorkersPerGroup,
	}
	s.log.Debug("session ready",
		"global", n, "groups", s.cfg.Groups, "local", s.cfg.WorkersPerGroup,
		"double", opts.Double, "kernels", s.prog.Kernels())
	return nil
}

// Close releases every device object the session holds. It is safe to
// call more than once.
func (s *Session) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	var errs []error
	if s.states != nil {
		errs = append(errs, s.states.Release())
	}
	if s.bctx != nil {
		errs = append(errs, s.bctx.Release())
	}
	return errors.Join(errs...)
}

// Streams returns the number of streams.
func (s *Session) Streams() int {
	return s.cfg.Streams()
}

// Reports returns the check reports produced so far, in order.
func (s *Session) Reports() []*validate.Report {
	return s.reports
}

// Telemetry returns the kernel timings recorded so far.
func (s *Session) Telemetry() *Telemetry {
	return &s.telemetry
}

// Reference returns the host reference streams in their current state.
func (s *Session) Reference() stream.Set {
	return s.ref
}

// Run executes the protocol: seed init and its state check, the uint64
// rounds, array init and its state check, then the double rounds when
// the program has the double kernels. Each stage needs the previous one
// to have succeeded.
func (s *Session) Run(ctx context.Context) error {
	s.log.Info("run start", "streams", s.Streams(), "samples", s.cfg.SampleCount)

	if err := s.InitBySeed(ctx, s.cfg.Seed); err != nil {
		return err
	}
	for range s.cfg.Uint64Rounds {
		if err := s.Generate(ctx, dispatch.Uint64); err != nil {
			return err
		}
	}

	if err := s.InitByArray(ctx, s.cfg.SeedArray); err != nil {
		return err
	}
	doubles := []dispatch.Kind{dispatch.Float64OC12, dispatch.Float64CO01}
	for range s.cfg.DoubleRounds {
		for _, kind := range doubles {
			if !s.disp.Available(kind) {
				s.log.Info("kind unavailable, skipped", "kind", kind.String())
				continue
			}
			if err := s.Generate(ctx, kind); err != nil {
				return err
			}
		}
	}

	s.log.Info("run done",
		"checks", len(s.reports),
		"kernel_ms", s.telemetry.Total(),
		"median_ms", s.telemetry.Median(),
		"slowest_ms", s.telemetry.Slowest())
	return nil
}

// InitBySeed builds the reference streams from seed, initializes the
// device streams from the same seed and checks that both agree.
func (s *Session) InitBySeed(ctx context.Context, seed uint64) error {
	s.ref = stream.FromSeed(s.Streams(), s.params, seed, s.jumper)
	return s.initStage(ctx, "init by seed", func(ctx context.Context) (stream.Set, time.Duration, error) {
		return s.initr.Seed(ctx, seed)
	})
}

// InitByArray is InitBySeed for an array seed.
func (s *Session) InitByArray(ctx context.Context, key []uint64) error {
	s.ref = stream.FromArray(s.Streams(), s.params, key, s.jumper)
	return s.initStage(ctx, "init by array", func(ctx context.Context) (stream.Set, time.Duration, error) {
		return s.initr.Array(ctx, key)
	})
}

func (s *Session) initStage(ctx context.Context, stage string, run func(context.Context) (stream.Set, time.Duration, error)) error {
	ctx, cancel := s.waitContext(ctx)
	defer cancel()

	got, elapsed, err := run(ctx)
	if err != nil {
		s.log.Error("stage failed", "stage", stage, "err", err)
		return fmt.Errorf("%s: %w", stage, err)
	}
	fmt.Fprintf(s.cfg.Out, "initializing time = %.3fms\n", ms(elapsed))
	s.telemetry.record(stage, elapsed)
	s.log.Debug("stage done", "stage", stage, "kernel_ms", ms(elapsed))

	if err := s.finish(stage, validate.CheckStates(s.ref, got)); err != nil {
		return err
	}
	if s.log.Enabled(ctx, slog.LevelDebug) {
		return s.checkDirect(stage)
	}
	return nil
}

// checkDirect rebuilds the reference by per-index jumps, as device work
// items do, and checks it against the chained reference.
func (s *Session) checkDirect(stage string) error {
	if s.table == nil {
		s.table = s.jumper.Table()
	}
	r := validate.CheckStates(s.ref, stream.DirectSet(s.ref[0], len(s.ref), s.table))
	r.Name = "direct"
	return s.finish(stage+" direct", r)
}

// Generate dispatches one batch of kind on the device and checks it
// against values drawn from the reference streams.
func (s *Session) Generate(ctx context.Context, kind dispatch.Kind) error {
	stage := "generate " + kind.String()
	if s.ref == nil {
		return fmt.Errorf("%s: streams not initialized", stage)
	}

	ctx, cancel := s.waitContext(ctx)
	defer cancel()

	b, err := s.disp.Generate(ctx, kind, s.cfg.SampleCount)
	if err != nil {
		s.log.Error("stage failed", "stage", stage, "err", err)
		return fmt.Errorf("%s: %w", stage, err)
	}
	fmt.Fprintf(s.cfg.Out, "generate time: %.3fms\n", ms(b.Timing.Kernel))
	s.telemetry.record(stage, b.Timing.Kernel)
	s.log.Debug("stage done", "stage", stage,
		"per_stream", b.Steps, "kernel_ms", ms(b.Timing.Kernel), "wall_ms", ms(b.Timing.Wall))

	var r *validate.Report
	if kind == dispatch.Uint64 {
		r = validate.CheckUint64(s.ref, b)
	} else if r, err = validate.CheckFloat64(kind, s.ref, b); err != nil {
		return fmt.Errorf("%s: %w", stage, err)
	}
	return s.finish(stage, r)
}

func (s *Session) finish(stage string, r *validate.Report) error {
	r.Print(s.cfg.Out)
	s.reports = append(s.reports, r)
	if err := r.Err(); err != nil {
		s.log.Error("check failed", "stage", stage, "mismatches", r.Mismatches, "compared", r.Compared)
		return fmt.Errorf("%s: %w", stage, err)
	}
	return nil
}

func (s *Session) waitContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.cfg.DispatchTimeout > 0 {
		return context.WithTimeout(ctx, s.cfg.DispatchTimeout)
	}
	return context.WithCancel(ctx)
}

// Telemetry holds the kernel time of every stage in milliseconds.
type Telemetry struct {
	Stages []string
	Millis []float64
}

func (t *Telemetry) record(stage string, d time.Duration) {
	t.Stages = append(t.Stages, stage)
	t.Millis = append(t.Millis, ms(d))
}

// Total returns the summed kernel time.
func (t *Telemetry) Total() float64 {
	return floats.Sum(t.Millis)
}

// Slowest returns the largest stage kernel time, or 0 with no stages.
func (t *Telemetry) Slowest() float64 {
	if len(t.Millis) == 0 {
		return 0
	}
	return floats.Max(t.Millis)
}

// Median returns the median stage kernel time, or 0 with no stages.
func (t *Telemetry) Median() float64 {
	m, err := stats.Median(t.Millis)
	if err != nil {
		return 0
	}
	return m
}

func ms(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}
