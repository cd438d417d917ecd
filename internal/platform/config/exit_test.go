package config

import (
	"bytes"
	"testing"
)

func TestExitfWritesAndExits(t *testing.T) {
	var buf bytes.Buffer
	code := -1
	prevExit, prevStderr := exit, stderr
	exit = func(c int) { code = c }
	stderr = &buf
	t.Cleanup(func() { exit, stderr = prevExit, prevStderr })

	Exitf("unhealthy: %s\n", "cache.expiry")

	if code != ExitFailure {
		t.Fatalf("exit code = %d, want %d", code, ExitFailure)
	}
	if got := buf.String(); got != "unhealthy: cache.expiry\n" {
		t.Fatalf("stderr = %q, want %q", got, "unhealthy: cache.expiry\n")
	}
}
