package config

import (
	"fmt"
	"io"
	"os"
	"strings"
)

// ExitFailure is the process status used for fatal command errors and
// failed health probes.
const ExitFailure = 1

var (
	exit             = os.Exit
	stderr io.Writer = os.Stderr
)

// Exitf writes a formatted message to stderr and exits with ExitFailure.
func Exitf(format string, args ...any) {
	fmt.Fprintln(stderr, strings.TrimRight(fmt.Sprintf(format, args...), "\n"))
	exit(ExitFailure)
}
