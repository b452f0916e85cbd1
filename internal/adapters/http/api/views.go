package api

import (
	"net/http"
	"strings"
)

// coachCookie holds the coach chosen in the browser.
const coachCookie = "coachName"

// handleDashboard handles GET /api/dashboard. The coach comes from the
// query, then the coachName cookie, then the configured default.
func (s *Server) handleDashboard(w http.ResponseWriter, r *http.Request) {
	coach := strings.TrimSpace(r.URL.Query().Get("coach"))
	if coach == "" {
		if c, err := r.Cookie(coachCookie); err == nil {
			coach = strings.TrimSpace(c.Value)
		}
	}
	d, err := s.deps.Dashboard(r.Context(), coach)
	if err != nil {
		s.fail(w, r, "api.dashboard", err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

// handleAthleteView handles GET /api/athlete-view?athlete=.
func (s *Server) handleAthleteView(w http.ResponseWriter, r *http.Request) {
	v, err := s.deps.AthleteView(r.Context(), r.URL.Query().Get("athlete"))
	if err != nil {
		s.fail(w, r, "api.athlete_view", err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}
