package main

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRunDumpsMaskedBytes(t *testing.T) {
	var stdout, stderr bytes.Buffer

	code := run(context.Background(), []string{"-n", "20", "-width", "1"}, &stdout, &stderr)
	require.Equal(t, 0, code, stderr.String())
	require.Equal(t,
		"00:01:02:03:04:05:06:07:08:09:0a:0b:0c:0d:0e:0f\n"+
			"00:01:02:03:\n",
		stdout.String(),
	)
}

func TestRunDefaultWidth(t *testing.T) {
	var stdout, stderr bytes.Buffer

	code := run(context.Background(), []string{"-n", "4", "-mask", "0xff"}, &stdout, &stderr)
	require.Equal(t, 0, code, stderr.String())
	require.Equal(t, "00:00:00:00:01:00:00:00:02:00:00:00:03:00:00:00\n", stdout.String())
}

func TestRunLargeRange(t *testing.T) {
	var stdout, stderr bytes.Buffer

	code := run(context.Background(), []string{"-n", "10000", "-width", "1"}, &stdout, &stderr)
	require.Equal(t, 0, code, stderr.String())

	lines := bytes.Split(bytes.TrimSuffix(stdout.Bytes(), []byte("\n")), []byte("\n"))
	require.Len(t, lines, 625)
	for _, line := range lines {
		require.Equal(t, "00:01:02:03:04:05:06:07:08:09:0a:0b:0c:0d:0e:0f", string(line))
	}
}

func TestRunInvalidArguments(t *testing.T) {
	tests := []struct {
		name string
		args []string
		code int
	}{
		{"unknown flag", []string{"-bogus"}, 2},
		{"negative count", []string{"-n", "-1"}, 2},
		{"mask too wide", []string{"-mask", "0x100"}, 2},
		{"bad width", []string{"-width", "3"}, 1},
		{"help", []string{"-h"}, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var stdout, stderr bytes.Buffer
			require.Equal(t, tt.code, run(context.Background(), tt.args, &stdout, &stderr))
			require.Zero(t, stdout.Len())
		})
	}
}

func TestRunCancelled(t *testing.T) {
	var stdout, stderr bytes.Buffer
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	code := run(ctx, []string{"-n", "100000"}, &stdout, &stderr)
	require.Equal(t, 1, code)
	require.Contains(t, stderr.String(), "context canceled")
}
