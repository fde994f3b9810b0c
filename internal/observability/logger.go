package observability

import (
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// ComponentLogger derives a logger tagged with the process role and index,
// e.g. ("worker", "C_A1_W2").
func ComponentLogger(component, addr string) zerolog.Logger {
	return log.Logger.With().Str("component", component).Str("addr", addr).Logger()
}
