package logger

import corelogger "github.com/kilianp07/transitsim/core/logger"

// Logger is the core logging interface.
type Logger = corelogger.Logger

// NopLogger discards everything. Tests and optional collaborators use it.
type NopLogger struct{}

var _ Logger = NopLogger{}

func (NopLogger) Debugf(string, ...any)         {}
func (NopLogger) Debugw(string, map[string]any) {}
func (NopLogger) Infof(string, ...any)          {}
func (NopLogger) Infow(string, map[string]any)  {}
func (NopLogger) Warnf(string, ...any)          {}
func (NopLogger) Warnw(string, map[string]any)  {}
func (NopLogger) Errorf(string, ...any)         {}

// New returns a Logger tagged with component, usually an agent id such as
// "vehicle/bus_1". APP_ENV=dev selects console output.
func New(component string) Logger {
	return NewZerologLogger(component)
}
