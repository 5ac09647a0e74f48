package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/heatpump-link/internal/bridges/heatpump"
)

// ValueResponse is one entry of the last poll cycle.
type ValueResponse struct {
	Topic string `json:"topic"`
	Kind  string `json:"kind,omitempty"`
	Value any    `json:"value,omitempty"`
	Error string `json:"error,omitempty"`
}

// ValuesResponse is returned by GET /api/v1/values.
type ValuesResponse struct {
	Cycle       int                      `json:"cycle"`
	ScheduledAt string                   `json:"scheduled_at"`
	Values      map[string]ValueResponse `json:"values"`
}

func toValueResponse(r heatpump.Result) ValueResponse {
	if r.Err != nil {
		return ValueResponse{Topic: r.Topic, Error: r.Err.Error()}
	}
	return ValueResponse{Topic: r.Topic, Kind: r.Value.Kind.String(), Value: r.Value.Number()}
}

// handleListValues returns every result of the last poll cycle keyed by name.
func (s *Server) handleListValues(w http.ResponseWriter, _ *http.Request) {
	cycle, ok := s.poller.LastCycle()
	if !ok {
		writeUnavailable(w, "no poll cycle has completed yet")
		return
	}

	resp := ValuesResponse{
		Cycle:       cycle.Number,
		ScheduledAt: cycle.ScheduledAt.UTC().Format(time.RFC3339),
		Values:      make(map[string]ValueResponse, len(cycle.Results)),
	}
	for _, r := range cycle.Results {
		resp.Values[r.Name] = toValueResponse(r)
	}

	writeJSON(w, http.StatusOK, resp)
}

// handleGetValue returns one result of the last poll cycle. The name may
// contain slashes, e.g. /api/v1/values/house/actual_temp.
func (s *Server) handleGetValue(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "*")

	cycle, ok := s.poller.LastCycle()
	if !ok {
		writeUnavailable(w, "no poll cycle has completed yet")
		return
	}

	for _, res := range cycle.Results {
		if res.Name == name {
			writeJSON(w, http.StatusOK, toValueResponse(res))
			return
		}
	}
	writeNotFound(w, "value not found: "+name)
}
