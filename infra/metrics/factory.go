package metrics

import (
	"os"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/kilianp07/transitsim/core/factory"
	coremetrics "github.com/kilianp07/transitsim/core/metrics"
)

// init registers built-in metrics sinks.
func init() {
	_ = coremetrics.RegisterSink("nop", func(map[string]any) (coremetrics.Sink, error) {
		return coremetrics.NopSink{}, nil
	})

	_ = coremetrics.RegisterSink("log", func(conf map[string]any) (coremetrics.Sink, error) {
		var c struct {
			Path       string `json:"path"`
			MaxSizeMB  int    `json:"max_size_mb"`
			MaxBackups int    `json:"max_backups"`
			MaxAgeDays int    `json:"max_age_days"`
		}
		if err := factory.Decode(conf, &c); err != nil {
			return nil, err
		}
		if c.Path == "" || c.Path == "-" {
			return NewLogSink(os.Stdout), nil
		}
		if c.MaxSizeMB <= 0 {
			c.MaxSizeMB = 50
		}
		return NewRotatingLogSink(c.Path, c.MaxSizeMB, c.MaxBackups, c.MaxAgeDays)
	})

	_ = coremetrics.RegisterSink("prometheus", func(map[string]any) (coremetrics.Sink, error) {
		return NewPromSinkWithRegistry(prometheus.DefaultRegisterer)
	})

	_ = coremetrics.RegisterSink("influx", func(conf map[string]any) (coremetrics.Sink, error) {
		var c struct {
			URL    string `json:"url"`
			Token  string `json:"token"`
			Org    string `json:"org"`
			Bucket string `json:"bucket"`
		}
		if err := factory.Decode(conf, &c); err != nil {
			return nil, err
		}
		return NewInfluxSinkWithFallback(c.URL, c.Token, c.Org, c.Bucket), nil
	})
}
