// Package kernels is the device program: stream initialization and value
// generation, one work item per stream.
//
// Work items share only read-only data, the generator parameters and the
// jump table computed when the program is built. Each one reads and
// writes its own stream state and its own column of the output batch.
package kernels

import (
	"fmt"
	"math"

	"github.com/nozzle/tinymt/backend"
	"github.com/nozzle/tinymt/dispatch"
	"github.com/nozzle/tinymt/jump"
	"github.com/nozzle/tinymt/stream"
	"github.com/nozzle/tinymt/tinymt64"
)

// Source is the program source for TinyMT64 streams.
type Source struct {
	Params tinymt64.Params
	Jumper stream.Jumper
}

// NewSource returns the program for the default parameters.
func NewSource() *Source {
	return &Source{Params: tinymt64.DefaultParams, Jumper: stream.DefaultJumper()}
}

// Build returns the program kernels. The double kernels are only present
// when opts.Double is set.
func (s *Source) Build(opts backend.BuildOptions) (map[string]backend.Kernel, error) {
	if s.Jumper.Char.Degree() < 1 {
		return nil, fmt.Errorf("kernels: characteristic polynomial %s has degree < 1", s.Jumper.Char)
	}
	prog := &program{
		c: consts{
			mat1: uint64(s.Params.Mat1),
			mat2: uint64(s.Params.Mat2),
			tmat: s.Params.TMat,
		},
		table: s.Jumper.Table(),
	}

	k := map[string]backend.Kernel{
		stream.KernelInitSeed:  prog.initSeed,
		stream.KernelInitArray: prog.initArray,
	}
	k[dispatch.KernelUint64] = prog.generate(func(t *tinymt64j, c *consts) uint64 {
		return t.genUint64(c)
	})
	if opts.Double {
		k[dispatch.KernelDouble12] = prog.generate(func(t *tinymt64j, c *consts) uint64 {
			return math.Float64bits(t.genDouble12(c))
		})
		k[dispatch.KernelDouble01] = prog.generate(func(t *tinymt64j, c *consts) uint64 {
			return math.Float64bits(t.genDouble01(c))
		})
	}
	return k, nil
}

type program struct {
	c     consts
	table *jump.Table
}

func stateWords(args backend.Args, wi backend.WorkItem) ([]uint64, error) {
	states, err := args.Words(0)
	if err != nil {
		return nil, err
	}
	if len(states) < 2*wi.GlobalSize {
		return nil, fmt.Errorf("%w: state buffer holds %d words, need %d",
			backend.ErrInvalidArg, len(states), 2*wi.GlobalSize)
	}
	return states, nil
}

func load(states []uint64, gid int) tinymt64j {
	return tinymt64j{s0: states[2*gid], s1: states[2*gid+1]}
}

func store(states []uint64, gid int, t tinymt64j) {
	states[2*gid] = t.s0
	states[2*gid+1] = t.s1
}

// initSeed: args (states, seed uint64).
func (p *program) initSeed(wi backend.WorkItem, args backend.Args) error {
	states, err := stateWords(args, wi)
	if err != nil {
		return err
	}
	seed, err := args.Uint64(1)
	if err != nil {
		return err
	}
	var t tinymt64j
	t.initSeed(&p.c, seed)
	t.jumpTo(&p.c, p.table, uint64(wi.Global))
	store(states, wi.Global, t)
	return nil
}

// initArray: args (states, key buffer, key length int).
func (p *program) initArray(wi backend.WorkItem, args backend.Args) error {
	states, err := stateWords(args, wi)
	if err != nil {
		return err
	}
	key, err := args.Words(1)
	if err != nil {
		return err
	}
	n, err := args.Int(2)
	if err != nil {
		return err
	}
	if n < 0 || n > len(key) {
		return fmt.Errorf("%w: key length %d, buffer %d", backend.ErrInvalidArg, n, len(key))
	}
	var t tinymt64j
	t.initArray(&p.c, key[:n])
	t.jumpTo(&p.c, p.table, uint64(wi.Global))
	store(states, wi.Global, t)
	return nil
}

// generate returns a kernel with args (states, out, perStream int) that
// writes perStream values of next into the work item's output column.
func (p *program) generate(next func(*tinymt64j, *consts) uint64) backend.Kernel {
	return func(wi backend.WorkItem, args backend.Args) error {
		states, err := stateWords(args, wi)
		if err != nil {
			return err
		}
		out, err := args.Words(1)
		if err != nil {
			return err
		}
		steps, err := args.Int(2)
		if err != nil {
			return err
		}
		n := wi.GlobalSize
		if steps < 0 || len(out) < steps*n {
			return fmt.Errorf("%w: output holds %d words, need %d", backend.ErrInvalidArg, len(out), steps*n)
		}

		t := load(states, wi.Global)
		for j := range steps {
			out[dispatch.Index(j, wi.Global, n)] = next(&t, &p.c)
		}
		store(states, wi.Global, t)
		return nil
	}
}
