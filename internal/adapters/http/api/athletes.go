package api

import (
	"net/http"
)

// handleListAthletes handles GET /api/athletes?coach=.
func (s *Server) handleListAthletes(w http.ResponseWriter, r *http.Request) {
	list, err := s.deps.ListAthletes(r.Context(), r.URL.Query().Get("coach"))
	if err != nil {
		s.fail(w, r, "api.list_athletes", err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

// handleCreateAthlete handles POST /api/athletes.
func (s *Server) handleCreateAthlete(w http.ResponseWriter, r *http.Request) {
	const op = "api.create_athlete"
	var req athleteRequest
	if err := decodeBody(w, r, &req); err != nil {
		s.fail(w, r, op, err)
		return
	}
	a, err := s.deps.CreateAthlete(r.Context(), req.input())
	if err != nil {
		s.fail(w, r, op, err)
		return
	}
	writeJSON(w, http.StatusCreated, a)
}

// handleUpdateAthlete handles PUT /api/athletes. The body carries the id.
func (s *Server) handleUpdateAthlete(w http.ResponseWriter, r *http.Request) {
	const op = "api.update_athlete"
	var req athleteRequest
	if err := decodeBody(w, r, &req); err != nil {
		s.fail(w, r, op, err)
		return
	}
	a, err := s.deps.UpdateAthlete(r.Context(), req.ID, req.input(), req.previousName())
	if err != nil {
		s.fail(w, r, op, err)
		return
	}
	writeJSON(w, http.StatusOK, a)
}

// handleDeleteAthlete handles DELETE /api/athletes?id=.
func (s *Server) handleDeleteAthlete(w http.ResponseWriter, r *http.Request) {
	if err := s.deps.DeleteAthlete(r.Context(), r.URL.Query().Get("id")); err != nil {
		s.fail(w, r, "api.delete_athlete", err)
		return
	}
	writeJSON(w, http.StatusOK, okResponse{OK: true})
}
