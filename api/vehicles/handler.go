package vehicles

import (
	"encoding/json"
	"net/http"

	"github.com/kilianp07/transitsim/core/model"
	"github.com/kilianp07/transitsim/core/vehiclestatus"
)

// NewStatusHandler returns an HTTP handler exposing vehicle status data via
// GET /api/vehicles/status. The status and location query parameters filter
// the result.
func NewStatusHandler(store vehiclestatus.Store) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		f := vehiclestatus.Filter{
			State:    model.State(r.URL.Query().Get("status")),
			Location: r.URL.Query().Get("location"),
		}
		entries := store.List(f)
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(entries); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
	})
}

// NewVehicleHandler serves GET /api/vehicles/{id}.
func NewVehicleHandler(store vehiclestatus.Store) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		st, ok := store.Get(r.PathValue("id"))
		if !ok {
			http.Error(w, "unknown vehicle", http.StatusNotFound)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(st); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
		}
	})
}
