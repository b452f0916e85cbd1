// Package repository persists athlete profiles and evaluation records.
package repository

import (
	"context"

	"github.com/okian/coachboard/internal/domain/model"
)

// Collection names.
const (
	CollectionAthletes    = "athletes"
	CollectionEvaluations = "evaluations"
)

// AthleteFilter narrows athlete listings. Empty fields match everything.
type AthleteFilter struct {
	// Coach matches case-insensitively and exactly.
	Coach string
}

// EvaluationFilter narrows evaluation listings. Empty fields match everything.
type EvaluationFilter struct {
	Coach string
}

// UpsertResult reports the outcome of a bulk upsert.
type UpsertResult struct {
	Inserted int64
	Updated  int64
}

// AthleteRepository stores athlete profiles.
type AthleteRepository interface {
	// CreateAthlete stores a and returns it with its assigned id.
	CreateAthlete(ctx context.Context, a model.Athlete) (model.Athlete, error)

	// ListAthletes returns at most limit profiles, newest createdAt first.
	ListAthletes(ctx context.Context, f AthleteFilter, limit int) ([]model.Athlete, error)

	// GetAthlete returns ErrNotFound when id is unknown.
	GetAthlete(ctx context.Context, id string) (model.Athlete, error)

	// UpdateAthlete overwrites the mutable fields of the profile with a.ID and
	// returns the stored result. CreatedAt is never written.
	UpdateAthlete(ctx context.Context, a model.Athlete) (model.Athlete, error)

	// DeleteAthlete removes one profile or returns ErrNotFound.
	DeleteAthlete(ctx context.Context, id string) error
}

// EvaluationRepository stores evaluation records.
type EvaluationRepository interface {
	CreateEvaluation(ctx context.Context, ev model.Evaluation) (model.Evaluation, error)

	// ListEvaluations returns at most limit records, newest date first.
	ListEvaluations(ctx context.Context, f EvaluationFilter, limit int) ([]model.Evaluation, error)

	// DeleteEvaluation removes one record or returns ErrNotFound.
	DeleteEvaluation(ctx context.Context, id string) error

	// DeleteEvaluationsByAthlete removes every record whose athlete name
	// case-insensitively equals name.
	DeleteEvaluationsByAthlete(ctx context.Context, name string) (int64, error)

	DeleteAllEvaluations(ctx context.Context) (int64, error)

	// RenameAthlete rewrites the athlete name of every record matching one of
	// oldNames case-insensitively. It is safe to repeat.
	RenameAthlete(ctx context.Context, oldNames []string, newName string) (int64, error)

	// UpsertEvaluations writes records keyed by athlete, discipline, coach
	// and date.
	UpsertEvaluations(ctx context.Context, evs []model.Evaluation) (UpsertResult, error)
}

// Store is a complete backend.
type Store interface {
	AthleteRepository
	EvaluationRepository

	// Ping checks that the backend is reachable.
	Ping(ctx context.Context) error

	// Close releases backend resources.
	Close(ctx context.Context) error
}
