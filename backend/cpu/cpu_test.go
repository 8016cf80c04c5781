package cpu

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nozzle/tinymt/backend"
)

type testSource map[string]backend.Kernel

func (s testSource) Build(backend.BuildOptions) (map[string]backend.Kernel, error) {
	return s, nil
}

type brokenSource struct{}

func (brokenSource) Build(backend.BuildOptions) (map[string]backend.Kernel, error) {
	return nil, errors.New("syntax error")
}

var fillSource = testSource{
	"fill": func(wi backend.WorkItem, args backend.Args) error {
		out, err := args.Words(0)
		if err != nil {
			return err
		}
		base, err := args.Uint64(1)
		if err != nil {
			return err
		}
		out[wi.Global] = base + uint64(wi.Group)<<32 + uint64(wi.Local)
		return nil
	},
	"fail": func(wi backend.WorkItem, _ backend.Args) error {
		if wi.Global == 5 {
			return errors.New("work item refused")
		}
		return nil
	},
	"slow": func(backend.WorkItem, backend.Args) error {
		time.Sleep(50 * time.Millisecond)
		return nil
	},
}

func setup(t *testing.T, cfg Config) (*Context, backend.Queue, backend.Program) {
	t.Helper()
	c := New(cfg).Context()
	t.Cleanup(func() { _ = c.Release() })
	q, err := c.NewQueue()
	require.NoError(t, err)
	prog, err := c.Compile(fillSource, backend.BuildOptions{})
	require.NoError(t, err)
	return c, q, prog
}

func TestPlatforms(t *testing.T) {
	dev, err := backend.FirstDevice(Platforms())
	require.NoError(t, err)
	assert.Equal(t, "go-cpu", dev.Name())
	assert.Equal(t, 1024, dev.MaxGroupSize())
	assert.True(t, dev.HasDouble())

	_, err = backend.FirstDevice(nil)
	assert.ErrorIs(t, err, backend.ErrBackend)
}

func TestDispatchWritesEveryWorkItem(t *testing.T) {
	c, q, prog := setup(t, DefaultConfig())
	ctx := context.Background()

	buf, err := c.Alloc(24, backend.WriteOnly)
	require.NoError(t, err)

	ev, err := q.Dispatch(ctx, prog, "fill", 24, 4, buf, uint64(100))
	require.NoError(t, err)
	require.NoError(t, ev.Wait(ctx))
	assert.GreaterOrEqual(t, ev.Elapsed(), time.Duration(0))

	got := make([]uint64, 24)
	require.NoError(t, q.Read(ctx, buf, got))
	for i, v := range got {
		want := 100 + uint64(i/4)<<32 + uint64(i%4)
		if v != want {
			t.Fatalf("word %d = %#x, want %#x", i, v, want)
		}
	}
}

func TestQueueIsInOrder(t *testing.T) {
	c, q, prog := setup(t, DefaultConfig())
	ctx := context.Background()

	buf, err := c.Alloc(8, backend.ReadWrite)
	require.NoError(t, err)

	_, err = q.Dispatch(ctx, prog, "slow", 1, 1)
	require.NoError(t, err)
	_, err = q.Dispatch(ctx, prog, "fill", 8, 2, buf, uint64(7))
	require.NoError(t, err)

	// Read blocks behind both dispatches.
	got := make([]uint64, 8)
	require.NoError(t, q.Read(ctx, buf, got))
	assert.Equal(t, uint64(7), got[0])

	require.NoError(t, q.Write(ctx, buf, []uint64{1, 2}))
	require.NoError(t, q.Read(ctx, buf, got[:2]))
	assert.Equal(t, []uint64{1, 2}, got[:2])
}

func TestDispatchValidation(t *testing.T) {
	c, q, prog := setup(t, Config{MaxGroupSize: 4, Double: true})
	ctx := context.Background()
	buf, err := c.Alloc(8, backend.ReadWrite)
	require.NoError(t, err)

	_, err = q.Dispatch(ctx, prog, "missing", 8, 2, buf, uint64(0))
	assert.ErrorIs(t, err, backend.ErrUnknownKernel)

	for _, geo := range [][2]int{{8, 8}, {9, 2}, {0, 1}, {8, 0}} {
		_, err = q.Dispatch(ctx, prog, "fill", geo[0], geo[1], buf, uint64(0))
		assert.ErrorIs(t, err, backend.ErrInvalidArg, "global %d local %d", geo[0], geo[1])
	}

	require.NoError(t, buf.Release())
	_, err = q.Dispatch(ctx, prog, "fill", 8, 2, buf, uint64(0))
	assert.ErrorIs(t, err, backend.ErrReleased)
}

func TestKernelErrorSurfacesOnWait(t *testing.T) {
	_, q, prog := setup(t, DefaultConfig())
	ctx := context.Background()

	ev, err := q.Dispatch(ctx, prog, "fail", 8, 2)
	require.NoError(t, err)
	err = ev.Wait(ctx)
	assert.ErrorIs(t, err, backend.ErrBackend)
	assert.Contains(t, err.Error(), "work item 5")
}

func TestWaitDeadline(t *testing.T) {
	_, q, prog := setup(t, DefaultConfig())

	ev, err := q.Dispatch(context.Background(), prog, "slow", 1, 1)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, ev.Wait(ctx), backend.ErrTimeout)
	require.NoError(t, ev.Wait(context.Background()))
}

func TestCompile(t *testing.T) {
	c := New(Config{Double: false}).Context()
	_, err := c.Compile(fillSource, backend.BuildOptions{Double: true})
	assert.ErrorIs(t, err, backend.ErrInvalidArg)

	_, err = c.Compile(brokenSource{}, backend.BuildOptions{})
	assert.ErrorIs(t, err, backend.ErrBackend)
	assert.ErrorContains(t, err, "syntax error")

	prog, err := c.Compile(fillSource, backend.BuildOptions{})
	require.NoError(t, err)
	assert.Equal(t, []string{"fail", "fill", "slow"}, prog.Kernels())
	assert.True(t, prog.Has("fill"))
}

func TestAllocationAccounting(t *testing.T) {
	c := New(DefaultConfig()).Context()
	a, err := c.Alloc(4, backend.ReadOnly)
	require.NoError(t, err)
	_, err = c.Alloc(4, backend.ReadWrite)
	require.NoError(t, err)
	_, err = c.Alloc(0, backend.ReadWrite)
	assert.ErrorIs(t, err, backend.ErrInvalidArg)

	assert.Equal(t, 2, c.Allocations())
	assert.Equal(t, 2, c.Live())
	assert.Equal(t, backend.ReadOnly, a.Mode())

	require.NoError(t, a.Release())
	assert.Equal(t, 1, c.Live())

	require.NoError(t, c.Release())
	assert.Equal(t, 0, c.Live())
	_, err = c.Alloc(1, backend.ReadWrite)
	assert.ErrorIs(t, err, backend.ErrReleased)
}

func TestAllocLimit(t *testing.T) {
	c := New(Config{MaxBufferWords: 16}).Context()
	_, err := c.Alloc(16, backend.WriteOnly)
	require.NoError(t, err)

	_, err = c.Alloc(17, backend.WriteOnly)
	assert.ErrorIs(t, err, backend.ErrInvalidArg)
	assert.ErrorContains(t, err, "exceeds device limit 16")

	big := New(DefaultConfig()).Context()
	_, err = big.Alloc(1<<60, backend.WriteOnly)
	assert.ErrorIs(t, err, backend.ErrInvalidArg)
	assert.Equal(t, 0, big.Allocations())
}
