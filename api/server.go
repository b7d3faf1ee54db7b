// Package api exposes the simulation over HTTP: Prometheus metrics, the
// vehicle status feed and a health check.
package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/kilianp07/transitsim/api/vehicles"
	"github.com/kilianp07/transitsim/core/vehiclestatus"
	"github.com/kilianp07/transitsim/infra/logger"
)

// NewMux builds the HTTP routes. A nil gatherer serves the default registry.
func NewMux(store vehiclestatus.Store, gatherer prometheus.Gatherer) *http.ServeMux {
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	mux.Handle("GET /api/vehicles/status", vehicles.NewStatusHandler(store))
	mux.Handle("GET /api/vehicles/{id}", vehicles.NewVehicleHandler(store))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	return mux
}

// Serve runs an HTTP server on addr until ctx is canceled.
func Serve(ctx context.Context, addr string, h http.Handler, log logger.Logger) error {
	srv := &http.Server{Addr: addr, Handler: h, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Warnf("http server shutdown: %v", err)
		}
		cancel()
	}()
	log.Infof("http listening on %s", addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
