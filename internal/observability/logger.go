package observability

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// InitLogger installs the process-wide logger tagged with the relay's
// configured name, so every event from the data plane and the admin surface
// carries it.
func InitLogger(name string) zerolog.Logger {
	return initLogger(name, os.Stderr)
}

func initLogger(name string, out io.Writer) zerolog.Logger {
	output := zerolog.ConsoleWriter{
		Out:        out,
		TimeFormat: time.RFC3339,
	}
	logger := zerolog.New(output).With().Timestamp().Str("relay", name).Logger()
	log.Logger = logger
	return logger
}
