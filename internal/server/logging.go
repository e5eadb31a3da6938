package server

import (
	"io"
	"os"

	"github.com/rs/zerolog"
)

// ParseLevel maps a config string to a zerolog level. Unknown values fall
// back to info, matching the lenient parsing used elsewhere in the config.
func ParseLevel(s string) zerolog.Level {
	switch s {
	case "off":
		return zerolog.Disabled
	case "error":
		return zerolog.ErrorLevel
	case "warn":
		return zerolog.WarnLevel
	case "info", "":
		return zerolog.InfoLevel
	case "debug":
		return zerolog.DebugLevel
	default:
		return zerolog.InfoLevel
	}
}

// NewLogger builds the process logger. When logFile is non-empty the output
// is tee'd to an append-mode file alongside stdout. The returned closer is
// nil when no file is open.
func NewLogger(level, logFile string) (zerolog.Logger, io.Closer, error) {
	var w io.Writer = os.Stdout
	var closer io.Closer
	if logFile != "" {
		f, err := os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return zerolog.Nop(), nil, err
		}
		w = zerolog.MultiLevelWriter(os.Stdout, f)
		closer = f
	}
	logger := zerolog.New(w).Level(ParseLevel(level)).With().Timestamp().Logger()
	return logger, closer, nil
}
