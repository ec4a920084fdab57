package utils

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// SafeJSONParse decodes data into v and names the payload in the error.
func SafeJSONParse(data []byte, v interface{}) error {
	if len(data) == 0 {
		return fmt.Errorf("empty json payload")
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("decode %T: %w", v, err)
	}
	return nil
}

// SetupLogger configures the global zerolog logger. Unknown levels fall back to info.
func SetupLogger(level string, pretty bool) {
	SetupLoggerTo(os.Stderr, level, pretty)
}

func SetupLoggerTo(out io.Writer, level string, pretty bool) {
	lvl, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(level)))
	if err != nil || level == "" {
		lvl = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(lvl)
	zerolog.TimeFieldFormat = time.RFC3339
	if pretty {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: time.Kitchen}
	}
	log.Logger = zerolog.New(out).With().Timestamp().Logger()
}

// LogError logs an error if it's not nil
func LogError(err error, context string) {
	if err != nil {
		log.Error().Err(err).Str("context", context).Msg("operation failed")
	}
}
