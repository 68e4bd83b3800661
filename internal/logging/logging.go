// Package logging builds the slog logger the client programs pass around.
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/blastgcp/blastq/internal/domain"
)

// LevelCritical sits above slog.LevelError.
const LevelCritical = slog.Level(12)

// Levels lists the accepted -loglevel values.
var Levels = []string{"DEBUG", "INFO", "WARNING", "ERROR", "CRITICAL"}

// ParseLevel maps a -loglevel value to a slog level. Names are matched
// exactly, upper case only.
func ParseLevel(s string) (slog.Level, error) {
	switch s {
	case "DEBUG":
		return slog.LevelDebug, nil
	case "INFO":
		return slog.LevelInfo, nil
	case "WARNING":
		return slog.LevelWarn, nil
	case "ERROR":
		return slog.LevelError, nil
	case "CRITICAL":
		return LevelCritical, nil
	}
	return 0, &domain.ConfigError{Key: "loglevel", Err: fmt.Errorf("invalid log level %q (want one of %s)", s, strings.Join(Levels, ", "))}
}

// New builds a text logger writing to dest: "stderr" selects stderr,
// anything else is a file path that is truncated. The returned closer
// releases the file.
func New(dest, level string, stderr io.Writer) (*slog.Logger, io.Closer, error) {
	lvl, err := ParseLevel(level)
	if err != nil {
		return nil, nil, err
	}

	var (
		w      io.Writer = stderr
		closer io.Closer = io.NopCloser(nil)
	)
	if dest != "stderr" {
		fh, err := os.Create(dest)
		if err != nil {
			return nil, nil, &domain.ConfigError{Key: "logfile", Err: err}
		}
		w, closer = fh, fh
	}

	h := slog.NewTextHandler(w, &slog.HandlerOptions{
		Level: lvl,
		ReplaceAttr: func(_ []string, a slog.Attr) slog.Attr {
			if a.Key == slog.LevelKey {
				if l, ok := a.Value.Any().(slog.Level); ok && l >= LevelCritical {
					return slog.String(slog.LevelKey, "CRITICAL")
				}
			}
			return a
		},
	})
	return slog.New(h), closer, nil
}
