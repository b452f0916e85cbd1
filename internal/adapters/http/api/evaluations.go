package api

import (
	"net/http"
	"strings"

	"github.com/okian/coachboard/internal/domain/view"
)

// handleListEvaluations handles GET /api/evaluations?coach=.
func (s *Server) handleListEvaluations(w http.ResponseWriter, r *http.Request) {
	list, err := s.deps.ListEvaluations(r.Context(), r.URL.Query().Get("coach"))
	if err != nil {
		s.fail(w, r, "api.list_evaluations", err)
		return
	}
	writeJSON(w, http.StatusOK, view.NewEvaluations(list))
}

// handleCreateEvaluation handles POST /api/evaluations.
func (s *Server) handleCreateEvaluation(w http.ResponseWriter, r *http.Request) {
	const op = "api.create_evaluation"
	var req evaluationRequest
	if err := decodeBody(w, r, &req); err != nil {
		s.fail(w, r, op, err)
		return
	}
	ev, err := s.deps.CreateEvaluation(r.Context(), req.input())
	if err != nil {
		s.fail(w, r, op, err)
		return
	}
	writeJSON(w, http.StatusCreated, ev)
}

// handleDeleteEvaluations handles DELETE /api/evaluations. Selectors are
// tried in order: all=true, id, athlete.
func (s *Server) handleDeleteEvaluations(w http.ResponseWriter, r *http.Request) {
	const op = "api.delete_evaluations"
	q := r.URL.Query()
	ctx := r.Context()

	switch {
	case strings.EqualFold(strings.TrimSpace(q.Get("all")), "true"):
		n, err := s.deps.DeleteAllEvaluations(ctx)
		if err != nil {
			s.fail(w, r, op, err)
			return
		}
		writeJSON(w, http.StatusOK, okResponse{OK: true, DeletedCount: &n})

	case strings.TrimSpace(q.Get("id")) != "":
		if err := s.deps.DeleteEvaluation(ctx, q.Get("id")); err != nil {
			s.fail(w, r, op, err)
			return
		}
		n := int64(1)
		writeJSON(w, http.StatusOK, okResponse{OK: true, DeletedCount: &n})

	case strings.TrimSpace(q.Get("athlete")) != "":
		n, err := s.deps.DeleteEvaluationsByAthlete(ctx, q.Get("athlete"))
		if err != nil {
			s.fail(w, r, op, err)
			return
		}
		writeJSON(w, http.StatusOK, okResponse{OK: true, DeletedCount: &n})

	default:
		writeError(w, http.StatusBadRequest, "bad_request", NewKind(op, ErrMissingSelector))
	}
}
