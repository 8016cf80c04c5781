package main

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func runCLI(t *testing.T, args ...string) (int, string, string) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	code := run(context.Background(), args, &stdout, &stderr)
	return code, stdout.String(), stderr.String()
}

func TestRunPasses(t *testing.T) {
	t.Setenv("TINYMT_LOG_LEVEL", "error")
	code, out, _ := runCLI(t, "4", "2", "16")
	require.Equal(t, exitOK, code)
	assert.Equal(t, 2, strings.Count(out, "init check O.K."))
	assert.Equal(t, 2, strings.Count(out, "uint64 check O.K."))
	assert.Contains(t, out, "double[1,2) check O.K.")
	assert.Contains(t, out, "double[0,1) check O.K.")
}

func TestRunWithoutDouble(t *testing.T) {
	t.Setenv("TINYMT_LOG_LEVEL", "error")
	t.Setenv("TINYMT_CPU_DOUBLE", "false")
	code, out, _ := runCLI(t, "2", "2", "8")
	require.Equal(t, exitOK, code)
	assert.NotContains(t, out, "double")
}

func TestUsageErrors(t *testing.T) {
	for _, args := range [][]string{
		{},
		{"4", "2"},
		{"4", "two", "16"},
		{"4", "2", "0"},
		{"-1", "2", "16"},
		{"-bogus", "4", "2", "16"},
	} {
		code, out, errOut := runCLI(t, args...)
		assert.Equal(t, exitUsage, code, "args %v", args)
		assert.Empty(t, out, "args %v", args)
		assert.Contains(t, errOut, "usage: tinymtcheck", "args %v", args)
	}
}

func TestOversizedGroup(t *testing.T) {
	t.Setenv("TINYMT_CPU_MAX_GROUP_SIZE", "4")
	code, out, errOut := runCLI(t, "2", "8", "16")
	assert.Equal(t, exitUsage, code)
	assert.Empty(t, out)
	assert.Contains(t, errOut, "max group size 4")
}

func TestOversizedDataCount(t *testing.T) {
	t.Setenv("TINYMT_LOG_LEVEL", "error")
	code, _, errOut := runCLI(t, "1", "1", "1152921504606846976")
	assert.Equal(t, exitBackend, code)
	assert.Contains(t, errOut, "exceeds device limit")

	t.Setenv("TINYMT_CPU_MAX_BUFFER_WORDS", "8")
	code, _, errOut = runCLI(t, "2", "2", "16")
	assert.Equal(t, exitBackend, code)
	assert.Contains(t, errOut, "exceeds device limit 8")
}

func TestBadEnvironment(t *testing.T) {
	t.Setenv("TINYMT_UINT64_ROUNDS", "lots")
	code, _, errOut := runCLI(t, "1", "1", "1")
	assert.Equal(t, exitUsage, code)
	assert.Contains(t, errOut, "TINYMT_UINT64_ROUNDS")
}

func TestParseGeometry(t *testing.T) {
	g, err := parseGeometry([]string{"4", "2", "16"})
	require.NoError(t, err)
	assert.Equal(t, [3]int{4, 2, 16}, g)

	_, err = parseGeometry([]string{"4", "2", "x"})
	assert.ErrorContains(t, err, "data-count")
}
