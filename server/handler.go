package server

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"
)

// StatsHandler returns the current global stats snapshot
func (s *Server) StatsHandler(w http.ResponseWriter, r *http.Request) {
	frame, ok := s.statsFrame(r.Context())
	if !ok {
		http.Error(w, "store unavailable", 500)
		return
	}

	b, _ := json.Marshal(frame)
	w.Header().Set("Content-Type", "application/json")
	w.Write(b)
}

// UsersHandler returns the full online user list across all instances
func (s *Server) UsersHandler(w http.ResponseWriter, r *http.Request) {
	users, err := s.presence.ListAll(r.Context())
	if err != nil {
		http.Error(w, "store unavailable", 500)
		return
	}
	if users == nil {
		users = []*PresenceRecord{}
	}

	b, _ := json.Marshal(&UserList{Type: "users", Users: users})
	w.Header().Set("Content-Type", "application/json")
	w.Write(b)
}

// LeaderboardHandler returns the top cities by message count
func (s *Server) LeaderboardHandler(w http.ResponseWriter, r *http.Request) {
	r.ParseForm()

	limit, err := strconv.Atoi(r.Form.Get("limit"))
	if err != nil || limit <= 0 {
		limit = 10
	}
	if limit > 50 {
		limit = 50
	}

	leaders, err := s.leaderboard.TopK(r.Context(), limit)
	if err != nil {
		http.Error(w, "store unavailable", 500)
		return
	}
	if leaders == nil {
		leaders = []LeaderboardEntry{}
	}

	b, _ := json.Marshal(&Leaderboard{Type: "leaderboard", Leaders: leaders})
	w.Header().Set("Content-Type", "application/json")
	w.Write(b)
}

// HealthHandler is the liveness probe
func (s *Server) HealthHandler(w http.ResponseWriter, r *http.Request) {
	status := "ok"
	if _, err := s.presence.TotalOnline(r.Context()); err != nil {
		status = "degraded"
	}

	data := map[string]interface{}{
		"status":   status,
		"instance": s.Instance,
		"sessions": s.Sessions(),
		"uptime":   time.Since(time.Unix(0, s.Created)).Seconds(),
	}

	b, _ := json.Marshal(data)
	w.Header().Set("Content-Type", "application/json")
	w.Write(b)
}
