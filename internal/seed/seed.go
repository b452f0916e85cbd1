// Package seed fills the evaluation collection with a plausible history for
// every stored athlete.
package seed

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"time"

	repository "github.com/okian/coachboard/internal/adapters/repository"
	"github.com/okian/coachboard/internal/domain/badge"
	"github.com/okian/coachboard/internal/domain/identity"
	"github.com/okian/coachboard/internal/domain/model"
	"github.com/okian/coachboard/pkg/logger"
)

// ErrNoAthletes is returned when there is nobody to seed evaluations for.
var ErrNoAthletes = errors.New("no athletes found; import athletes first")

// Score ranges.
const (
	startScoreMin = 55
	startScoreMax = 90
	yearlyDrift   = 8
	detailJitter  = 8
	scoreFloor    = 20
	scoreCeiling  = 100
	seedHourUTC   = 10
	firstDay      = 2
	lastDay       = 26
)

const (
	defaultYears      = 5
	defaultCoach      = "Coach"
	maxAthletesToScan = 100000
)

var commentPool = []string{
	"Gute Fortschritte, aber Timing weiter schärfen.",
	"Stabile Leistung, Fokus auf Präzision halten.",
	"Mehr Explosivität und Kime trainieren.",
	"Technik verbessert, Distanzkontrolle ausbauen.",
	"Konstanz hoch, weiter an Geschwindigkeit arbeiten.",
	"Sehr saubere Ausführung, Ausdruck verstärken.",
	"Mehr Kraftausdauer einbauen.",
	"Sprung in der Bewertung, weiter so.",
	"Rückschritt bei Präzision, Basics wiederholen.",
	"Leistung konstant, kleine Details optimieren.",
}

// DetailLabels are the sub-scores attached to every seeded evaluation.
var DetailLabels = []string{"Präzision", "Technik", "Geschwindigkeit", "Fokus", "Ausdruck"}

// Store is the part of the repository the seeder needs.
type Store interface {
	ListAthletes(ctx context.Context, f repository.AthleteFilter, limit int) ([]model.Athlete, error)
	UpsertEvaluations(ctx context.Context, evs []model.Evaluation) (repository.UpsertResult, error)
}

// Result summarizes a run.
type Result struct {
	Athletes    int
	Evaluations int
	Inserted    int64
	Updated     int64
	DryRun      bool
}

// Seeder generates and writes evaluations.
type Seeder struct {
	store  Store
	years  int
	dryRun bool
	now    func() time.Time
	intn   func(n int) int
	logger logger.Logger
}

// Option configures a Seeder.
type Option func(*Seeder)

// WithYears sets how many yearly evaluations each athlete gets.
func WithYears(n int) Option {
	return func(s *Seeder) {
		if n > 0 {
			s.years = n
		}
	}
}

// WithDryRun generates records without writing them.
func WithDryRun(dry bool) Option {
	return func(s *Seeder) { s.dryRun = dry }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Seeder) {
		if now != nil {
			s.now = now
		}
	}
}

// WithRandom replaces the random source. intn must return a value in [0, n).
func WithRandom(intn func(n int) int) Option {
	return func(s *Seeder) {
		if intn != nil {
			s.intn = intn
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l logger.Logger) Option {
	return func(s *Seeder) {
		if l != nil {
			s.logger = l
		}
	}
}

// New creates a Seeder over store.
func New(store Store, opts ...Option) *Seeder {
	s := &Seeder{
		store: store,
		years: defaultYears,
		now:   time.Now,
		intn:  cryptoIntn,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = logger.Get().Named("seed")
	}
	return s
}

func cryptoIntn(n int) int {
	v, err := rand.Int(rand.Reader, big.NewInt(int64(n)))
	if err != nil {
		return 0
	}
	return int(v.Int64())
}

// between returns a value in [lo, hi].
func (s *Seeder) between(lo, hi int) int {
	return lo + s.intn(hi-lo+1)
}

func clamp(v int) int {
	return max(scoreFloor, min(scoreCeiling, v))
}

// Run seeds every athlete. Records are upserted by athlete, discipline,
// coach and date.
func (s *Seeder) Run(ctx context.Context) (Result, error) {
	athletes, err := s.store.ListAthletes(ctx, repository.AthleteFilter{}, maxAthletesToScan)
	if err != nil {
		return Result{}, fmt.Errorf("list athletes: %w", err)
	}
	if len(athletes) == 0 {
		return Result{}, ErrNoAthletes
	}

	evs := make([]model.Evaluation, 0, len(athletes)*s.years)
	for _, a := range athletes {
		evs = append(evs, s.Generate(a)...)
	}

	res := Result{Athletes: len(athletes), Evaluations: len(evs), DryRun: s.dryRun}
	if s.dryRun {
		s.logger.Info(ctx, "dry run; nothing written",
			logger.Int("athletes", res.Athletes), logger.Int("evaluations", res.Evaluations))
		return res, nil
	}

	up, err := s.store.UpsertEvaluations(ctx, evs)
	if err != nil {
		return res, fmt.Errorf("upsert evaluations: %w", err)
	}
	res.Inserted, res.Updated = up.Inserted, up.Updated
	s.logger.Info(ctx, "seeded evaluations",
		logger.Int("athletes", res.Athletes),
		logger.Int64("inserted", res.Inserted),
		logger.Int64("updated", res.Updated))
	return res, nil
}

// Generate builds one evaluation per year for a, ending with the current
// year. The score starts in the upper range and drifts a little every year.
func (s *Seeder) Generate(a model.Athlete) []model.Evaluation {
	now := s.now().UTC()
	coach := identity.Name(a.Coach)
	if coach == "" {
		coach = defaultCoach
	}

	out := make([]model.Evaluation, 0, s.years)
	score := s.between(startScoreMin, startScoreMax)
	for i := range s.years {
		date := time.Date(now.Year()-i, time.Month(s.between(1, 12)), s.between(firstDay, lastDay),
			seedHourUTC, 0, 0, 0, time.UTC)
		score = clamp(score + s.between(-yearlyDrift, yearlyDrift))

		v := float64(score)
		b := badge.Classify(&v)
		out = append(out, model.Evaluation{
			Athlete:    a.Name,
			Discipline: a.Discipline,
			Coach:      coach,
			Score:      &v,
			Badge:      b.Label,
			BadgeTone:  b.Tone,
			Comment:    commentPool[s.intn(len(commentPool))],
			Details:    s.details(score),
			Date:       date,
			CreatedAt:  date,
		})
	}
	return out
}

func (s *Seeder) details(score int) []model.Detail {
	out := make([]model.Detail, len(DetailLabels))
	for i, label := range DetailLabels {
		out[i] = model.Detail{Label: label, Value: float64(clamp(score + s.between(-detailJitter, detailJitter)))}
	}
	return out
}
