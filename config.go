package tinymt

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/nozzle/tinymt/backend"
	"github.com/nozzle/tinymt/internal/env"
)

// ErrConfig marks an invalid run configuration.
var ErrConfig = errors.New("invalid configuration")

// ConfigError describes one invalid configuration field.
type ConfigError struct {
	Field  string
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("config: %s: %s", e.Field, e.Reason)
}

func (e *ConfigError) Unwrap() error { return ErrConfig }

// Config configures one verification run.
type Config struct {
	// Groups is the number of work groups.
	Groups int

	// WorkersPerGroup is the number of work items in one group.
	// The stream count is Groups * WorkersPerGroup.
	WorkersPerGroup int

	// SampleCount is the number of values requested per generation
	// round. It is rounded up to a multiple of the stream count.
	SampleCount int

	// Seed initializes the first stream in the seed phase.
	// Default: 1234
	Seed uint64

	// SeedArray initializes the first stream in the array phase.
	// Default: {1, 2, 3, 4, 5}
	SeedArray []uint64

	// Uint64Rounds is the number of uint64 batches after seed init.
	// Default: 2
	Uint64Rounds int

	// DoubleRounds is the number of rounds of both double kinds after
	// array init. Skipped when the device has no double support.
	// Default: 1
	DoubleRounds int

	// DisableDouble builds the program without the double kernels even
	// when the device supports them.
	// Default: false
	DisableDouble bool

	// DispatchTimeout bounds every completion wait. 0 means no deadline.
	// Default: 0
	DispatchTimeout time.Duration

	// Source is the device program. nil selects kernels.NewSource().
	Source backend.Source

	// Out receives timings and check results.
	// Default: os.Stdout
	Out io.Writer

	// Logger receives structured progress records.
	// Default: slog.Default()
	Logger *slog.Logger
}

// DefaultConfig returns the default configuration for the given launch
// geometry.
func DefaultConfig(groups, workersPerGroup, sampleCount int) Config {
	return Config{
		Groups:          groups,
		WorkersPerGroup: workersPerGroup,
		SampleCount:     sampleCount,
		Seed:            1234,
		SeedArray:       []uint64{1, 2, 3, 4, 5},
		Uint64Rounds:    2,
		DoubleRounds:    1,
	}
}

// Streams returns the total number of streams.
func (c Config) Streams() int {
	return c.Groups * c.WorkersPerGroup
}

// Validate checks the device-independent fields.
func (c Config) Validate() error {
	switch {
	case c.Groups <= 0:
		return &ConfigError{Field: "Groups", Reason: fmt.Sprintf("must be positive, got %d", c.Groups)}
	case c.WorkersPerGroup <= 0:
		return &ConfigError{Field: "WorkersPerGroup", Reason: fmt.Sprintf("must be positive, got %d", c.WorkersPerGroup)}
	case c.SampleCount <= 0:
		return &ConfigError{Field: "SampleCount", Reason: fmt.Sprintf("must be positive, got %d", c.SampleCount)}
	case c.Uint64Rounds < 0:
		return &ConfigError{Field: "Uint64Rounds", Reason: "must not be negative"}
	case c.DoubleRounds < 0:
		return &ConfigError{Field: "DoubleRounds", Reason: "must not be negative"}
	case len(c.SeedArray) == 0:
		return &ConfigError{Field: "SeedArray", Reason: "must not be empty"}
	case c.DispatchTimeout < 0:
		return &ConfigError{Field: "DispatchTimeout", Reason: "must not be negative"}
	}
	return nil
}

// CheckDevice checks the launch geometry against the device limits.
// Both the per-group worker count and the group count must fit in the
// device maximum group size. The product is not bounded by it: the
// stream count may reach the square of the limit, and buffer sizes are
// left to the device allocator.
func (c Config) CheckDevice(dev backend.Device) error {
	limit := dev.MaxGroupSize()
	if c.WorkersPerGroup > limit {
		return &ConfigError{
			Field:  "WorkersPerGroup",
			Reason: fmt.Sprintf("%d exceeds device %s max group size %d", c.WorkersPerGroup, dev.Name(), limit),
		}
	}
	if c.Groups > limit {
		return &ConfigError{
			Field:  "Groups",
			Reason: fmt.Sprintf("%d exceeds device %s max group size %d", c.Groups, dev.Name(), limit),
		}
	}
	return nil
}

// ConfigFromEnv overrides fields of base from TINYMT_* variables.
func ConfigFromEnv(base Config) (Config, error) {
	var errs []error
	var err error

	if base.Seed, err = env.Uint64("TINYMT_SEED", base.Seed); err != nil {
		errs = append(errs, err)
	}
	if base.Uint64Rounds, err = env.Int("TINYMT_UINT64_ROUNDS", base.Uint64Rounds); err != nil {
		errs = append(errs, err)
	}
	if base.DoubleRounds, err = env.Int("TINYMT_DOUBLE_ROUNDS", base.DoubleRounds); err != nil {
		errs = append(errs, err)
	}
	if base.DispatchTimeout, err = env.Duration("TINYMT_DISPATCH_TIMEOUT", base.DispatchTimeout); err != nil {
		errs = append(errs, err)
	}
	if err := errors.Join(errs...); err != nil {
		return base, fmt.Errorf("%w: %w", ErrConfig, err)
	}
	return base, nil
}

func (c Config) withDefaults() Config {
	if c.Out == nil {
		c.Out = os.Stdout
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	return c
}
