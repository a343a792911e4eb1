package matchsim

import (
	"fmt"
	"io"
	"os"

	"github.com/okian/rumble/pkg/logger"
)

// File permission constants.
const (
	logFilePermission = 0600
)

// SetupLogging sends simulator logs to stdout and, when logFile is set, to
// that file as well.
func SetupLogging(logFile string, verbose bool) error {
	var out io.Writer = os.Stdout
	if logFile != "" {
		file, err := os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, logFilePermission)
		if err != nil {
			return fmt.Errorf("failed to create log file: %w", err)
		}
		out = io.MultiWriter(os.Stdout, file)
	}
	if err := logger.Init(logger.WithOutput(out)); err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	if verbose {
		return logger.SetLevelString("debug")
	}
	return nil
}

// ShowHelp prints usage information for the match simulator.
func ShowHelp() {
	os.Stdout.WriteString(`Rumble Match Simulator
======================

Plays a randomised 30-entrant match against a running server, re-delivers
commands with their idempotency keys and checks every player's points
against an in-process replay of the same match.

Usage:
  go run ./cmd/matchsim [options]

Options:
  -url string
        Base URL of the service (default "http://localhost:9080")
  -division string
        Division to play; it must not have started (default "primary")
  -players int
        Number of simulated players (default 8)
  -seed uint
        Script seed; zero picks one from the clock
  -redeliver float
        Probability of sending a command twice (default 0.25)
  -jobber duration
        Jobber threshold the server uses (default 1m0s)
  -timeout duration
        HTTP request timeout (default 10s)
  -log string
        Also write logs to this file
  -verbose
        Log every command
  -help
        Show this help message

Examples:
  go run ./cmd/matchsim -division secondary -players 20
  go run ./cmd/matchsim -seed 42 -redeliver 1
`)
}
