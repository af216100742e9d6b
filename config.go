package stepwise

import "time"

// Config holds configuration for the engine.
type Config struct {
	// ResumeOnStart controls whether in-flight workflow runs are
	// resumed when the engine starts (crash recovery).
	ResumeOnStart bool

	// ResumeConcurrency is the maximum number of runs resumed in
	// parallel during crash recovery.
	ResumeConcurrency int

	// ShutdownTimeout is the maximum time to wait for graceful shutdown.
	ShutdownTimeout time.Duration
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		ResumeOnStart:     true,
		ResumeConcurrency: 4,
		ShutdownTimeout:   30 * time.Second,
	}
}
