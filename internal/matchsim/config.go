package matchsim

import "time"

// Config holds configuration for a simulated match.
type Config struct {
	BaseURL   string        // Base URL of the service
	Division  string        // Division to play; it must not have started
	Players   int           // Number of simulated players
	Seed      uint64        // Seed for the script; equal seeds give equal matches
	Redeliver float64       // Probability of sending a command twice
	Timeout   time.Duration // HTTP request timeout
	Jobber    time.Duration // Jobber threshold the server is configured with
	Verbose   bool          // Log every command
}

// Stats holds run statistics.
type Stats struct {
	Commands   int
	Duplicates int
	Failed     int
	Players    int
	Eliminated int
	StartTime  time.Time
	EndTime    time.Time
	Duration   time.Duration
}
