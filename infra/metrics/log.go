package metrics

import (
	"io"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"
	"gopkg.in/natefinch/lumberjack.v2"

	coremetrics "github.com/kilianp07/transitsim/core/metrics"
)

// LogSink writes every event as one structured log line.
type LogSink struct {
	log    zerolog.Logger
	closer io.Closer
}

// NewLogSink writes JSON lines to w.
func NewLogSink(w io.Writer) *LogSink {
	s := &LogSink{log: zerolog.New(w).With().Str("component", "metrics").Logger()}
	if c, ok := w.(io.Closer); ok && w != os.Stdout && w != os.Stderr {
		s.closer = c
	}
	return s
}

// NewRotatingLogSink writes JSON lines to path, rotating the file once it
// exceeds maxSizeMB.
func NewRotatingLogSink(path string, maxSizeMB, maxBackups, maxAgeDays int) (*LogSink, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}
	return NewLogSink(&lumberjack.Logger{
		Filename:   path,
		MaxSize:    maxSizeMB,
		MaxBackups: maxBackups,
		MaxAge:     maxAgeDays,
	}), nil
}

// Record logs ev.
func (s *LogSink) Record(ev coremetrics.Event) error {
	s.log.Info().
		Time("at", ev.Time).
		Str("kind", string(ev.Kind)).
		Str("source", ev.Source).
		Str("target", ev.Target).
		Float64("value", ev.Value).
		Str("extra", ev.Extra).
		Msg("event")
	return nil
}

// Close releases the underlying file, if any.
func (s *LogSink) Close() {
	if s.closer != nil {
		_ = s.closer.Close()
	}
}
