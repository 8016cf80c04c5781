// Command tinymtcheck initializes parallel TinyMT64 streams on a compute
// device and checks every stream against the host reference.
//
// Usage:
//
//	tinymtcheck [flags] <group-num> <local-num> <data-count>
//
// Exit status is 0 when every check passes, 1 on a backend failure, 2 on
// bad arguments or configuration and 3 when a check fails.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strconv"

	"github.com/joho/godotenv"

	"github.com/nozzle/tinymt"
	"github.com/nozzle/tinymt/backend"
	"github.com/nozzle/tinymt/backend/cpu"
	"github.com/nozzle/tinymt/internal/env"
	"github.com/nozzle/tinymt/validate"
)

const (
	exitOK         = 0
	exitBackend    = 1
	exitUsage      = 2
	exitValidation = 3
)

func main() {
	// A missing .env is fine; the environment may already be set.
	_ = godotenv.Load()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("tinymtcheck", flag.ContinueOnError)
	fs.SetOutput(stderr)
	seed := fs.Uint64("seed", 1234, "Seed for the seed phase")
	noDouble := fs.Bool("no-double", false, "Skip the double kernels")
	fs.Usage = func() {
		fmt.Fprintln(stderr, "usage: tinymtcheck [flags] <group-num> <local-num> <data-count>")
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		return exitUsage
	}

	geom, err := parseGeometry(fs.Args())
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		fs.Usage()
		return exitUsage
	}

	level, err := env.Level("TINYMT_LOG_LEVEL", slog.LevelInfo)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return exitUsage
	}
	logger := slog.New(slog.NewTextHandler(stderr, &slog.HandlerOptions{Level: level}))

	cfg := tinymt.DefaultConfig(geom[0], geom[1], geom[2])
	cfg.Seed = *seed
	if cfg, err = tinymt.ConfigFromEnv(cfg); err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return exitUsage
	}
	if isSet(fs, "seed") {
		cfg.Seed = *seed
	}
	cfg.DisableDouble = *noDouble
	cfg.Out = stdout
	cfg.Logger = logger

	devCfg, err := cpuConfig(logger)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return exitUsage
	}
	dev, err := backend.FirstDevice(cpu.Platforms(devCfg))
	if err != nil {
		logger.Error("no device", "err", err)
		return exitBackend
	}

	err = tinymt.Run(ctx, cfg, dev)
	switch {
	case err == nil:
		return exitOK
	case errors.Is(err, tinymt.ErrConfig):
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return exitUsage
	case errors.Is(err, validate.ErrValidation):
		logger.Error("validation failed", "err", err)
		return exitValidation
	default:
		logger.Error("run failed", "err", err)
		return exitBackend
	}
}

// parseGeometry reads the three positive positional integers.
func parseGeometry(args []string) ([3]int, error) {
	var out [3]int
	if len(args) != 3 {
		return out, fmt.Errorf("want 3 arguments, got %d", len(args))
	}
	names := [3]string{"group-num", "local-num", "data-count"}
	for i, a := range args {
		v, err := strconv.Atoi(a)
		if err != nil {
			return out, fmt.Errorf("%s: %q is not an integer", names[i], a)
		}
		if v <= 0 {
			return out, fmt.Errorf("%s: must be positive, got %d", names[i], v)
		}
		out[i] = v
	}
	return out, nil
}

func cpuConfig(logger *slog.Logger) (cpu.Config, error) {
	cfg := cpu.DefaultConfig()
	cfg.Logger = logger

	var errs []error
	var err error
	if cfg.MaxGroupSize, err = env.Int("TINYMT_CPU_MAX_GROUP_SIZE", cfg.MaxGroupSize); err != nil {
		errs = append(errs, err)
	}
	if cfg.MaxBufferWords, err = env.Int("TINYMT_CPU_MAX_BUFFER_WORDS", cfg.MaxBufferWords); err != nil {
		errs = append(errs, err)
	}
	if cfg.Double, err = env.Bool("TINYMT_CPU_DOUBLE", cfg.Double); err != nil {
		errs = append(errs, err)
	}
	if cfg.Workers, err = env.Int("TINYMT_CPU_WORKERS", cfg.Workers); err != nil {
		errs = append(errs, err)
	}
	return cfg, errors.Join(errs...)
}

func isSet(fs *flag.FlagSet, name string) bool {
	found := false
	fs.Visit(func(f *flag.Flag) {
		if f.Name == name {
			found = true
		}
	})
	return found
}
