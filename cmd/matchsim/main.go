package main

import (
	"context"
	"flag"
	"os"
	"time"

	"github.com/okian/rumble/internal/matchsim"
)

// Default configuration constants.
const (
	defaultPlayers   = 8
	defaultRedeliver = 0.25
	defaultTimeout   = 10 * time.Second
	defaultJobber    = time.Minute
	runTimeout       = 5 * time.Minute
)

func main() {
	var (
		baseURL   = flag.String("url", "http://localhost:9080", "Base URL of the service")
		division  = flag.String("division", "primary", "Division to play")
		players   = flag.Int("players", defaultPlayers, "Number of simulated players")
		seed      = flag.Uint64("seed", 0, "Script seed; zero picks one from the clock")
		redeliver = flag.Float64("redeliver", defaultRedeliver, "Probability of sending a command twice")
		jobber    = flag.Duration("jobber", defaultJobber, "Jobber threshold the server uses")
		timeout   = flag.Duration("timeout", defaultTimeout, "HTTP request timeout")
		logFile   = flag.String("log", "", "Also write logs to this file")
		verbose   = flag.Bool("verbose", false, "Log every command")
		help      = flag.Bool("help", false, "Show help")
	)
	flag.Parse()

	if *help {
		matchsim.ShowHelp()
		return
	}

	if err := matchsim.SetupLogging(*logFile, *verbose); err != nil {
		os.Stderr.WriteString("Failed to setup logging: " + err.Error() + "\n")
		os.Exit(1)
	}

	if *seed == 0 {
		*seed = uint64(time.Now().UnixNano()) //nolint:gosec // non-negative
	}

	ctx, cancel := context.WithTimeout(context.Background(), runTimeout)
	defer cancel()

	cfg := &matchsim.Config{
		BaseURL:   *baseURL,
		Division:  *division,
		Players:   *players,
		Seed:      *seed,
		Redeliver: *redeliver,
		Timeout:   *timeout,
		Jobber:    *jobber,
		Verbose:   *verbose,
	}
	if err := matchsim.Run(ctx, cfg); err != nil {
		os.Stderr.WriteString("Simulation failed: " + err.Error() + "\n")
		cancel()
		os.Exit(1)
	}
}
