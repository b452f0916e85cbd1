package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/okian/coachboard/internal/domain/identity"
	"github.com/okian/coachboard/internal/domain/model"
)

// MemoryStore keeps both collections in process memory.
type MemoryStore struct {
	mu          sync.RWMutex
	athletes    map[string]model.Athlete
	evaluations map[string]model.Evaluation
	newID       func() string
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		athletes:    make(map[string]model.Athlete),
		evaluations: make(map[string]model.Evaluation),
		newID:       uuid.NewString,
	}
}

func cloneAthlete(a model.Athlete) model.Athlete {
	if a.Age != nil {
		age := *a.Age
		a.Age = &age
	}
	return a
}

func cloneEvaluation(ev model.Evaluation) model.Evaluation {
	if ev.Score != nil {
		s := *ev.Score
		ev.Score = &s
	}
	ev.Details = append([]model.Detail{}, ev.Details...)
	return ev
}

func (s *MemoryStore) CreateAthlete(_ context.Context, a model.Athlete) (_ model.Athlete, err error) {
	defer func(start time.Time) { observe(CollectionAthletes, "create", start, err) }(time.Now())

	s.mu.Lock()
	defer s.mu.Unlock()
	a.ID = s.newID()
	s.athletes[a.ID] = cloneAthlete(a)
	return cloneAthlete(a), nil
}

func (s *MemoryStore) ListAthletes(_ context.Context, f AthleteFilter, limit int) (_ []model.Athlete, err error) {
	defer func(start time.Time) { observe(CollectionAthletes, "list", start, err) }(time.Now())

	s.mu.RLock()
	out := make([]model.Athlete, 0, len(s.athletes))
	for _, a := range s.athletes {
		if f.Coach != "" && !identity.Equal(a.Coach, f.Coach) {
			continue
		}
		out = append(out, cloneAthlete(a))
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemoryStore) GetAthlete(_ context.Context, id string) (_ model.Athlete, err error) {
	defer func(start time.Time) { observe(CollectionAthletes, "get", start, err) }(time.Now())

	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.athletes[id]
	if !ok {
		return model.Athlete{}, ErrNotFound
	}
	return cloneAthlete(a), nil
}

func (s *MemoryStore) UpdateAthlete(_ context.Context, a model.Athlete) (_ model.Athlete, err error) {
	defer func(start time.Time) { observe(CollectionAthletes, "update", start, err) }(time.Now())

	s.mu.Lock()
	defer s.mu.Unlock()
	stored, ok := s.athletes[a.ID]
	if !ok {
		return model.Athlete{}, ErrNotFound
	}
	a.CreatedAt = stored.CreatedAt
	s.athletes[a.ID] = cloneAthlete(a)
	return cloneAthlete(a), nil
}

func (s *MemoryStore) DeleteAthlete(_ context.Context, id string) (err error) {
	defer func(start time.Time) { observe(CollectionAthletes, "delete", start, err) }(time.Now())

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.athletes[id]; !ok {
		return ErrNotFound
	}
	delete(s.athletes, id)
	return nil
}

func (s *MemoryStore) CreateEvaluation(_ context.Context, ev model.Evaluation) (_ model.Evaluation, err error) {
	defer func(start time.Time) { observe(CollectionEvaluations, "create", start, err) }(time.Now())

	s.mu.Lock()
	defer s.mu.Unlock()
	ev.ID = s.newID()
	s.evaluations[ev.ID] = cloneEvaluation(ev)
	return cloneEvaluation(ev), nil
}

func (s *MemoryStore) ListEvaluations(_ context.Context, f EvaluationFilter, limit int) (_ []model.Evaluation, err error) {
	defer func(start time.Time) { observe(CollectionEvaluations, "list", start, err) }(time.Now())

	s.mu.RLock()
	out := make([]model.Evaluation, 0, len(s.evaluations))
	for _, ev := range s.evaluations {
		if f.Coach != "" && !identity.Equal(ev.Coach, f.Coach) {
			continue
		}
		out = append(out, cloneEvaluation(ev))
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].Date.Equal(out[j].Date) {
			return out[i].ID > out[j].ID
		}
		return out[i].Date.After(out[j].Date)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemoryStore) DeleteEvaluation(_ context.Context, id string) (err error) {
	defer func(start time.Time) { observe(CollectionEvaluations, "delete", start, err) }(time.Now())

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.evaluations[id]; !ok {
		return ErrNotFound
	}
	delete(s.evaluations, id)
	return nil
}

func (s *MemoryStore) DeleteEvaluationsByAthlete(_ context.Context, name string) (_ int64, err error) {
	defer func(start time.Time) { observe(CollectionEvaluations, "delete_by_athlete", start, err) }(time.Now())

	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for id, ev := range s.evaluations {
		if identity.Equal(ev.Athlete, name) {
			delete(s.evaluations, id)
			n++
		}
	}
	return n, nil
}

func (s *MemoryStore) DeleteAllEvaluations(_ context.Context) (_ int64, err error) {
	defer func(start time.Time) { observe(CollectionEvaluations, "delete_all", start, err) }(time.Now())

	s.mu.Lock()
	defer s.mu.Unlock()
	n := int64(len(s.evaluations))
	s.evaluations = make(map[string]model.Evaluation)
	return n, nil
}

func (s *MemoryStore) RenameAthlete(_ context.Context, oldNames []string, newName string) (_ int64, err error) {
	defer func(start time.Time) { observe(CollectionEvaluations, "rename", start, err) }(time.Now())

	keys := make(map[string]struct{}, len(oldNames))
	for _, n := range oldNames {
		if k := identity.Key(n); k != "" {
			keys[k] = struct{}{}
		}
	}
	if len(keys) == 0 {
		return 0, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for id, ev := range s.evaluations {
		if _, ok := keys[identity.Key(ev.Athlete)]; !ok {
			continue
		}
		ev.Athlete = newName
		s.evaluations[id] = ev
		n++
	}
	return n, nil
}

func upsertKey(ev model.Evaluation) string {
	return ev.Athlete + "\x00" + ev.Discipline + "\x00" + ev.Coach + "\x00" + formatTime(ev.Date)
}

func (s *MemoryStore) UpsertEvaluations(_ context.Context, evs []model.Evaluation) (_ UpsertResult, err error) {
	defer func(start time.Time) { observe(CollectionEvaluations, "upsert", start, err) }(time.Now())

	s.mu.Lock()
	defer s.mu.Unlock()

	index := make(map[string]string, len(s.evaluations))
	for id, ev := range s.evaluations {
		index[upsertKey(ev)] = id
	}

	var res UpsertResult
	for _, ev := range evs {
		k := upsertKey(ev)
		if id, ok := index[k]; ok {
			ev.ID = id
			s.evaluations[id] = cloneEvaluation(ev)
			res.Updated++
			continue
		}
		ev.ID = s.newID()
		s.evaluations[ev.ID] = cloneEvaluation(ev)
		index[k] = ev.ID
		res.Inserted++
	}
	return res, nil
}

// Ping always succeeds.
func (s *MemoryStore) Ping(context.Context) error { return nil }

// Close is a no-op.
func (s *MemoryStore) Close(context.Context) error { return nil }
