package obs

import (
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// NewLogger builds the service logger. Production emits JSON lines;
// anything else gets the human console writer.
func NewLogger(environment string) zerolog.Logger {
	zerolog.TimeFieldFormat = time.RFC3339Nano

	if strings.EqualFold(environment, "production") {
		return zerolog.New(os.Stdout).With().
			Timestamp().
			Str("service", "federation-gateway").
			Logger()
	}
	return zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.TimeOnly}).With().
		Timestamp().
		Logger().
		Level(zerolog.DebugLevel)
}
