// Package vehiclestatus keeps the latest reported state of each vehicle for
// the dashboard.
package vehiclestatus

import (
	"sort"
	"sync"
	"time"

	"github.com/kilianp07/transitsim/core/model"
)

// Status captures the current known state of a vehicle.
type Status struct {
	VehicleID  string      `json:"vehicle_id"`
	Location   string      `json:"location"`
	State      model.State `json:"status"`
	Load       int         `json:"load"`
	Fuel       float64     `json:"fuel"`
	Breakdowns int         `json:"breakdowns"`
	Updates    int         `json:"updates"`
	UpdatedAt  time.Time   `json:"updated_at"`
}

type Filter struct {
	State    model.State
	Location string
}

type Store interface {
	Set(Status)
	Get(id string) (Status, bool)
	List(Filter) []Status
}

type MemoryStore struct {
	mu   sync.RWMutex
	data map[string]Status
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{data: map[string]Status{}}
}

// Set replaces the state of st.VehicleID. Counters carry over, and a
// transition into broken counts one breakdown.
func (s *MemoryStore) Set(st Status) {
	s.mu.Lock()
	prev, ok := s.data[st.VehicleID]
	st.Breakdowns = prev.Breakdowns
	st.Updates = prev.Updates + 1
	if st.State == model.StateBroken && (!ok || prev.State != model.StateBroken) {
		st.Breakdowns++
	}
	if st.UpdatedAt.IsZero() {
		st.UpdatedAt = time.Now()
	}
	s.data[st.VehicleID] = st
	s.mu.Unlock()
}

func (s *MemoryStore) Get(id string) (Status, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.data[id]
	return st, ok
}

func (s *MemoryStore) List(f Filter) []Status {
	s.mu.RLock()
	defer s.mu.RUnlock()
	res := make([]Status, 0, len(s.data))
	for _, st := range s.data {
		if f.State != "" && st.State != f.State {
			continue
		}
		if f.Location != "" && st.Location != f.Location {
			continue
		}
		res = append(res, st)
	}
	sort.Slice(res, func(i, j int) bool { return res[i].VehicleID < res[j].VehicleID })
	return res
}
