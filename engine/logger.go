package engine

import (
	"log/slog"

	"github.com/gridpulse/elca"
)

// logger returns the module logger configured via elca.SetLogger.
func logger() *slog.Logger {
	return elca.Logger()
}
