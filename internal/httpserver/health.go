package httpserver

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/al-bashkir/session-rendezvous/internal/session"
)

// HealthResponse is the JSON response for the health check endpoint
type HealthResponse struct {
	Status   string `json:"status"`
	Version  string `json:"version,omitempty"`
	Sessions int    `json:"sessions"`
}

// SessionSummary is the public view of a directory record. Host addresses
// are only handed out through a join.
type SessionSummary struct {
	ID         string    `json:"id"`
	Name       string    `json:"name"`
	OwnerID    string    `json:"owner_id"`
	Keyword    string    `json:"keyword"`
	MaxPlayers int       `json:"max_players"`
	Members    int       `json:"members"`
	OpenSlots  int       `json:"open_slots"`
	CreatedAt  time.Time `json:"created_at"`
	ExpiresAt  time.Time `json:"expires_at"`
}

// SessionsResponse is the JSON response for /sessions
type SessionsResponse struct {
	Count    int              `json:"count"`
	Sessions []SessionSummary `json:"sessions"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := HealthResponse{
		Status:   "ok",
		Version:  s.version,
		Sessions: len(s.list()),
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleSessions lists live records, optionally filtered by ?keyword=.
func (s *Server) handleSessions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		w.Header().Set("Allow", "GET, HEAD")
		http.Error(w, "Method Not Allowed", http.StatusMethodNotAllowed)
		return
	}

	keyword := r.URL.Query().Get("keyword")

	resp := SessionsResponse{Sessions: []SessionSummary{}}
	for _, rec := range s.list() {
		if keyword != "" && rec.Settings.Keyword != keyword {
			continue
		}
		resp.Sessions = append(resp.Sessions, SessionSummary{
			ID:         rec.ID,
			Name:       rec.Name,
			OwnerID:    rec.OwnerID,
			Keyword:    rec.Settings.Keyword,
			MaxPlayers: rec.Settings.NumPublicConnections,
			Members:    len(rec.Members),
			OpenSlots:  rec.OpenSlots(),
			CreatedAt:  rec.CreatedAt,
			ExpiresAt:  rec.ExpiresAt,
		})
	}
	resp.Count = len(resp.Sessions)

	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) list() []*session.Session {
	if s.sessions == nil {
		return nil
	}
	return s.sessions.List()
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		// Best-effort: headers/status may already be written.
		slog.Error("failed to encode response", "error", err)
	}
}
