package server

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"
)

func (s *StatusServer) handleHealth(w http.ResponseWriter, _ *http.Request) {
	st := s.status()

	code := http.StatusOK
	state := "ok"
	if !st.Running {
		code = http.StatusServiceUnavailable
		state = "stopped"
	} else if st.SessionID == "" {
		state = "connecting"
	}

	writeJSON(w, code, map[string]any{
		"status":    state,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *StatusServer) handleStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.status())
}

// handleEvents returns recorded notifications, newest first. ?type= filters
// by subscription type and ?limit= caps the result.
func (s *StatusServer) handleEvents(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid limit"})
			return
		}
		limit = n
	}

	writeJSON(w, http.StatusOK, s.events.Recent(r.URL.Query().Get("type"), limit))
}

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	enc.Encode(v) //nolint:errcheck
}
