// Package backend defines the compute-backend collaborator that runs
// kernels over many work items.
//
// The interfaces mirror an OpenCL-style host API: platforms expose
// devices, a device creates contexts, a context owns buffers, programs
// and in-order command queues. Dispatch is asynchronous; callers wait on
// the returned Event before reading results back.
package backend

import (
	"context"
	"errors"
	"fmt"
	"time"
)

var (
	// ErrBackend marks every failure that originates in the backend.
	ErrBackend = errors.New("backend error")

	// ErrTimeout is returned when a completion wait exceeds its deadline.
	ErrTimeout = fmt.Errorf("%w: completion wait timed out", ErrBackend)

	// ErrUnknownKernel is returned when a program has no kernel by that name.
	ErrUnknownKernel = fmt.Errorf("%w: unknown kernel", ErrBackend)

	// ErrInvalidArg is returned for malformed dispatch geometry or kernel
	// arguments.
	ErrInvalidArg = fmt.Errorf("%w: invalid argument", ErrBackend)

	// ErrReleased is returned when a released object is used.
	ErrReleased = fmt.Errorf("%w: object released", ErrBackend)
)

// AccessMode describes how kernels may use a buffer.
type AccessMode int

const (
	ReadWrite AccessMode = iota
	ReadOnly
	WriteOnly
)

func (m AccessMode) String() string {
	switch m {
	case ReadOnly:
		return "read-only"
	case WriteOnly:
		return "write-only"
	default:
		return "read-write"
	}
}

// Platform groups the devices of one backend implementation.
type Platform interface {
	Name() string
	Devices() ([]Device, error)
}

// Device is one compute device.
type Device interface {
	Name() string
	// MaxGroupSize is the largest number of work items in one group.
	MaxGroupSize() int
	// HasDouble reports double-precision support.
	HasDouble() bool
	NewContext() (Context, error)
}

// Context owns device memory and compiled programs.
type Context interface {
	NewQueue() (Queue, error)
	Compile(src Source, opts BuildOptions) (Program, error)
	// Alloc allocates a buffer of the given number of 64-bit words.
	Alloc(words int, mode AccessMode) (Buffer, error)
	Release() error
}

// Buffer is device memory made of 64-bit words. Doubles are stored as
// their IEEE-754 bit patterns.
type Buffer interface {
	Len() int
	Mode() AccessMode
	Release() error
}

// Program is a compiled set of kernels.
type Program interface {
	Kernels() []string
	Has(name string) bool
}

// Queue is an in-order command queue.
type Queue interface {
	// Write copies src into buf, blocking until earlier commands finish.
	Write(ctx context.Context, buf Buffer, src []uint64) error
	// Read copies buf into dst, blocking until earlier commands finish.
	Read(ctx context.Context, buf Buffer, dst []uint64) error
	// Dispatch enqueues kernel over global work items split into groups
	// of local items and returns without waiting for it to run.
	Dispatch(ctx context.Context, prog Program, kernel string, global, local int, args ...any) (Event, error)
	// Finish blocks until every enqueued command has completed.
	Finish(ctx context.Context) error
}

// Event tracks one dispatched command.
type Event interface {
	Wait(ctx context.Context) error
	// Elapsed is the execution time of the command once it has completed.
	Elapsed() time.Duration
}

// BuildOptions are the compile-time feature flags of a program.
type BuildOptions struct {
	// Double enables the double-precision kernels.
	Double bool
}

// Source is program source for a backend. Build returns the kernels the
// program exposes under opts.
type Source interface {
	Build(opts BuildOptions) (map[string]Kernel, error)
}

// Kernel is the body run once per work item.
type Kernel func(wi WorkItem, args Args) error

// WorkItem identifies one work item inside a dispatch.
type WorkItem struct {
	Global     int
	Local      int
	Group      int
	GlobalSize int
	LocalSize  int
}

// Memory is the device-side view of a buffer handed to kernels.
type Memory interface {
	Words() []uint64
}

// Args are the arguments of one dispatch as seen by a kernel.
type Args []any

// Words returns argument i as buffer memory.
func (a Args) Words(i int) ([]uint64, error) {
	if i >= len(a) {
		return nil, fmt.Errorf("%w: missing argument %d", ErrInvalidArg, i)
	}
	m, ok := a[i].(Memory)
	if !ok {
		return nil, fmt.Errorf("%w: argument %d is %T, want buffer", ErrInvalidArg, i, a[i])
	}
	return m.Words(), nil
}

// Uint64 returns argument i as a 64-bit scalar.
func (a Args) Uint64(i int) (uint64, error) {
	if i >= len(a) {
		return 0, fmt.Errorf("%w: missing argument %d", ErrInvalidArg, i)
	}
	v, ok := a[i].(uint64)
	if !ok {
		return 0, fmt.Errorf("%w: argument %d is %T, want uint64", ErrInvalidArg, i, a[i])
	}
	return v, nil
}

// Int returns argument i as an int scalar.
func (a Args) Int(i int) (int, error) {
	if i >= len(a) {
		return 0, fmt.Errorf("%w: missing argument %d", ErrInvalidArg, i)
	}
	v, ok := a[i].(int)
	if !ok {
		return 0, fmt.Errorf("%w: argument %d is %T, want int", ErrInvalidArg, i, a[i])
	}
	return v, nil
}

// FirstDevice returns the first device of the first platform that has one.
func FirstDevice(platforms []Platform) (Device, error) {
	for _, p := range platforms {
		devs, err := p.Devices()
		if err != nil {
			return nil, fmt.Errorf("platform %s: %w", p.Name(), err)
		}
		if len(devs) > 0 {
			return devs[0], nil
		}
	}
	return nil, fmt.Errorf("%w: no compute device found", ErrBackend)
}
