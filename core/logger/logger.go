// Package logger defines the logging interface every agent writes through.
package logger

// Logger exposes leveled logging. The *w variants attach structured fields,
// e.g. the session id of a negotiation.
type Logger interface {
	Debugf(format string, args ...any)
	Debugw(msg string, fields map[string]any)
	Infof(format string, args ...any)
	Infow(msg string, fields map[string]any)
	Warnf(format string, args ...any)
	Warnw(msg string, fields map[string]any)
	Errorf(format string, args ...any)
}
