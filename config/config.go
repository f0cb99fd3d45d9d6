package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

// Config holds application configuration loaded from environment variables
type Config struct {
	Port string
	// SolveTimeLimit is the solver wall-clock budget in seconds. It must stay
	// below the 5 minute request timeout enforced upstream, leaving room for
	// result materialization.
	SolveTimeLimit float64
	// DatabaseURL enables the solve-run history repository when set.
	DatabaseURL string
}

// Load reads configuration from environment variables. A local .env file is
// honored when present.
func Load() (*Config, error) {
	_ = godotenv.Load()

	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	timeLimit := 240.0
	if raw := os.Getenv("SOLVER_TIME_LIMIT_SECONDS"); raw != "" {
		parsed, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid SOLVER_TIME_LIMIT_SECONDS %q: %w", raw, err)
		}
		if parsed <= 0 || parsed >= 300 {
			return nil, fmt.Errorf("SOLVER_TIME_LIMIT_SECONDS must be in (0, 300), got %v", parsed)
		}
		timeLimit = parsed
	}

	return &Config{
		Port:           port,
		SolveTimeLimit: timeLimit,
		DatabaseURL:    os.Getenv("DATABASE_URL"),
	}, nil
}
