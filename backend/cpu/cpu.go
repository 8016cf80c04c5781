// Package cpu is an in-process compute backend. Kernels are Go functions;
// a dispatch runs its work groups concurrently on goroutines and the work
// items of one group in order.
package cpu

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nozzle/tinymt/backend"
	"github.com/nozzle/tinymt/internal/parallel"
)

// Config configures a cpu device.
type Config struct {
	// Name is reported by Device.Name.
	// Default: "go-cpu"
	Name string

	// MaxGroupSize is the largest allowed number of work items per group.
	// Default: 1024
	MaxGroupSize int

	// MaxBufferWords is the largest buffer Alloc hands out, in uint64 words.
	// Default: 1 << 28
	MaxBufferWords int

	// Double enables double-precision support.
	// Default: true
	Double bool

	// Workers bounds the number of groups running at once.
	// 0 = GOMAXPROCS.
	Workers int

	// Logger receives debug records for queue commands.
	// Default: slog.Default()
	Logger *slog.Logger
}

// DefaultConfig returns the default cpu device configuration.
func DefaultConfig() Config {
	return Config{
		Name:         "go-cpu",
		MaxGroupSize:   1024,
		MaxBufferWords: 1 << 28,
		Double:         true,
	}
}

// Platform is the single cpu platform.
type Platform struct {
	devices []*Device
}

// Platforms enumerates the cpu platform with one device per config.
func Platforms(cfgs ...Config) []backend.Platform {
	if len(cfgs) == 0 {
		cfgs = []Config{DefaultConfig()}
	}
	p := &Platform{}
	for _, c := range cfgs {
		p.devices = append(p.devices, New(c))
	}
	return []backend.Platform{p}
}

func (p *Platform) Name() string { return "go" }

func (p *Platform) Devices() ([]backend.Device, error) {
	out := make([]backend.Device, len(p.devices))
	for i, d := range p.devices {
		out[i] = d
	}
	return out, nil
}

// Device is a cpu compute device.
type Device struct {
	cfg Config
}

// New creates a device. Zero fields of cfg take their defaults, except
// Double which is used as given.
func New(cfg Config) *Device {
	def := DefaultConfig()
	if cfg.Name == "" {
		cfg.Name = def.Name
	}
	if cfg.MaxGroupSize <= 0 {
		cfg.MaxGroupSize = def.MaxGroupSize
	}
	if cfg.MaxBufferWords <= 0 {
		cfg.MaxBufferWords = def.MaxBufferWords
	}
	if cfg.Workers <= 0 {
		cfg.Workers = parallel.NumWorkers()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Device{cfg: cfg}
}

func (d *Device) Name() string      { return d.cfg.Name }
func (d *Device) MaxGroupSize() int { return d.cfg.MaxGroupSize }
func (d *Device) HasDouble() bool   { return d.cfg.Double }

// NewContext creates a context on the device.
func (d *Device) NewContext() (backend.Context, error) {
	return d.Context(), nil
}

// Context is like NewContext but returns the concrete type.
func (d *Device) Context() *Context {
	return &Context{dev: d, log: d.cfg.Logger.With("device", d.cfg.Name)}
}

// Context owns buffers, programs and queues of one device.
type Context struct {
	dev *Device
	log *slog.Logger

	mu       sync.Mutex
	buffers  []*Buffer
	allocs   int
	released bool
}

// Allocations returns the number of buffers allocated so far, including
// released ones.
func (c *Context) Allocations() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.allocs
}

// Live returns the number of buffers that have not been released.
func (c *Context) Live() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, b := range c.buffers {
		if !b.released.Load() {
			n++
		}
	}
	return n
}

func (c *Context) NewQueue() (backend.Queue, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.released {
		return nil, backend.ErrReleased
	}
	return &Queue{ctx: c}, nil
}

// Compile builds src with opts.
func (c *Context) Compile(src backend.Source, opts backend.BuildOptions) (backend.Program, error) {
	if opts.Double && !c.dev.cfg.Double {
		return nil, fmt.Errorf("%w: device %s has no double support", backend.ErrInvalidArg, c.dev.cfg.Name)
	}
	kernels, err := src.Build(opts)
	if err != nil {
		return nil, fmt.Errorf("%w: build: %w", backend.ErrBackend, err)
	}
	c.log.Debug("program built", "kernels", len(kernels), "double", opts.Double)
	return &Program{kernels: kernels}, nil
}

func (c *Context) Alloc(words int, mode backend.AccessMode) (backend.Buffer, error) {
	if words <= 0 {
		return nil, fmt.Errorf("%w: buffer of %d words", backend.ErrInvalidArg, words)
	}
	if limit := c.dev.cfg.MaxBufferWords; words > limit {
		return nil, fmt.Errorf("%w: buffer of %d words exceeds device limit %d", backend.ErrInvalidArg, words, limit)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.released {
		return nil, backend.ErrReleased
	}
	b := &Buffer{words: make([]uint64, words), mode: mode}
	c.buffers = append(c.buffers, b)
	c.allocs++
	return b, nil
}

// Release frees every buffer still held by the context.
func (c *Context) Release() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, b := range c.buffers {
		_ = b.Release()
	}
	c.buffers = nil
	c.released = true
	return nil
}

// Buffer is host memory standing in for device memory.
type Buffer struct {
	words    []uint64
	mode     backend.AccessMode
	released atomic.Bool
}

func (b *Buffer) Len() int                 { return len(b.words) }
func (b *Buffer) Mode() backend.AccessMode { return b.mode }

// Words exposes the buffer to kernels.
func (b *Buffer) Words() []uint64 { return b.words }

// Release frees the buffer. Releasing twice is a no-op.
func (b *Buffer) Release() error {
	b.released.Store(true)
	return nil
}

// Program is a built kernel table.
type Program struct {
	kernels map[string]backend.Kernel
}

func (p *Program) Kernels() []string {
	names := make([]string, 0, len(p.kernels))
	for n := range p.kernels {
		names = append(names, n)
	}
	slices.Sort(names)
	return names
}

func (p *Program) Has(name string) bool {
	_, ok := p.kernels[name]
	return ok
}

// Queue is an in-order command queue. Each command starts once the
// previous one has finished.
type Queue struct {
	ctx *Context

	mu   sync.Mutex
	tail chan struct{}
}

// enqueue chains run behind the current tail and returns its event.
func (q *Queue) enqueue(run func() error) *Event {
	ev := &Event{done: make(chan struct{})}
	q.mu.Lock()
	prev := q.tail
	q.tail = ev.done
	q.mu.Unlock()

	go func() {
		if prev != nil {
			<-prev
		}
		ev.start = time.Now()
		ev.err = run()
		ev.end = time.Now()
		close(ev.done)
	}()
	return ev
}

func (q *Queue) Finish(ctx context.Context) error {
	q.mu.Lock()
	tail := q.tail
	q.mu.Unlock()
	if tail == nil {
		return nil
	}
	return wait(ctx, tail)
}

func (q *Queue) buffer(buf backend.Buffer) (*Buffer, error) {
	b, ok := buf.(*Buffer)
	if !ok {
		return nil, fmt.Errorf("%w: foreign buffer %T", backend.ErrInvalidArg, buf)
	}
	if b.released.Load() {
		return nil, backend.ErrReleased
	}
	return b, nil
}

func (q *Queue) Write(ctx context.Context, buf backend.Buffer, src []uint64) error {
	b, err := q.buffer(buf)
	if err != nil {
		return err
	}
	if len(src) > len(b.words) {
		return fmt.Errorf("%w: write of %d words into %d", backend.ErrInvalidArg, len(src), len(b.words))
	}
	if err := q.Finish(ctx); err != nil {
		return err
	}
	copy(b.words, src)
	return nil
}

func (q *Queue) Read(ctx context.Context, buf backend.Buffer, dst []uint64) error {
	b, err := q.buffer(buf)
	if err != nil {
		return err
	}
	if len(dst) > len(b.words) {
		return fmt.Errorf("%w: read of %d words from %d", backend.ErrInvalidArg, len(dst), len(b.words))
	}
	if err := q.Finish(ctx); err != nil {
		return err
	}
	copy(dst, b.words)
	return nil
}

// Dispatch enqueues kernel over global work items in groups of local.
func (q *Queue) Dispatch(ctx context.Context, prog backend.Program, kernel string, global, local int, args ...any) (backend.Event, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p, ok := prog.(*Program)
	if !ok {
		return nil, fmt.Errorf("%w: foreign program %T", backend.ErrInvalidArg, prog)
	}
	k, ok := p.kernels[kernel]
	if !ok {
		return nil, fmt.Errorf("%w: %s", backend.ErrUnknownKernel, kernel)
	}
	maxLocal := q.ctx.dev.cfg.MaxGroupSize
	if global <= 0 || local <= 0 || global%local != 0 || local > maxLocal {
		return nil, fmt.Errorf("%w: global %d, local %d, max group size %d",
			backend.ErrInvalidArg, global, local, maxLocal)
	}
	for i, a := range args {
		if buf, ok := a.(backend.Buffer); ok {
			if _, err := q.buffer(buf); err != nil {
				return nil, fmt.Errorf("argument %d: %w", i, err)
			}
		}
	}

	groups := global / local
	workers := q.ctx.dev.cfg.Workers
	q.ctx.log.Debug("dispatch", "kernel", kernel, "global", global, "local", local, "groups", groups)

	ev := q.enqueue(func() error {
		return parallel.Groups(context.Background(), groups, workers, func(_ context.Context, g int) error {
			for l := range local {
				wi := backend.WorkItem{
					Global:     g*local + l,
					Local:      l,
					Group:      g,
					GlobalSize: global,
					LocalSize:  local,
				}
				if err := k(wi, backend.Args(args)); err != nil {
					return fmt.Errorf("%w: kernel %s, work item %d: %w", backend.ErrBackend, kernel, wi.Global, err)
				}
			}
			return nil
		})
	})
	return ev, nil
}

// Event is the completion handle of one command.
type Event struct {
	done  chan struct{}
	err   error
	start time.Time
	end   time.Time
}

func (e *Event) Wait(ctx context.Context) error {
	if err := wait(ctx, e.done); err != nil {
		return err
	}
	return e.err
}

// Elapsed returns the run time of the command, or zero before it finishes.
func (e *Event) Elapsed() time.Duration {
	select {
	case <-e.done:
		return e.end.Sub(e.start)
	default:
		return 0
	}
}

func wait(ctx context.Context, done <-chan struct{}) error {
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return backend.ErrTimeout
		}
		return fmt.Errorf("%w: %w", backend.ErrBackend, ctx.Err())
	}
}
