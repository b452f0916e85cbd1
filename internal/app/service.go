// Package service provides the core business service that implements
// the dependencies required by the HTTP API.
package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/okian/coachboard/internal/adapters/mq/publisher"
	eventqueue "github.com/okian/coachboard/internal/adapters/mq/queue"
	workerpool "github.com/okian/coachboard/internal/adapters/mq/worker"
	repository "github.com/okian/coachboard/internal/adapters/repository"
	"github.com/okian/coachboard/internal/domain/dedupe"
	"github.com/okian/coachboard/internal/domain/identity"
	"github.com/okian/coachboard/internal/domain/model"
	"github.com/okian/coachboard/internal/domain/view"
	"github.com/okian/coachboard/pkg/logger"
	"github.com/okian/coachboard/pkg/metrics"
)

// Service implements athlete and evaluation use cases on top of a Store.
type Service struct {
	mu sync.Mutex

	store     repository.Store
	publisher publisher.Publisher
	deduper   dedupe.Deduper
	queue     *eventqueue.InMemoryQueue
	pool      *workerpool.Pool

	athleteLimit     int
	evaluationLimit  int
	defaultCoach     string
	placeholderCoach string

	workerCount int
	queueSize   int
	dedupeSize  int
	maxAttempts int
	retryDelay  time.Duration

	now     func() time.Time
	started bool
	logger  logger.Logger
}

// Option applies a configuration option to the Service.
type Option func(*Service)

// WithLogger sets a custom logger for the service.
func WithLogger(l logger.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithPublisher sets the change feed. Defaults to a no-op publisher.
func WithPublisher(p publisher.Publisher) Option {
	return func(s *Service) {
		if p != nil {
			s.publisher = p
		}
	}
}

// WithAthleteListLimit caps athlete listings.
func WithAthleteListLimit(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.athleteLimit = n
		}
	}
}

// WithEvaluationListLimit caps evaluation listings.
func WithEvaluationListLimit(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.evaluationLimit = n
		}
	}
}

// WithDefaultCoach sets the coach shown on the dashboard when none is chosen.
func WithDefaultCoach(name string) Option {
	return func(s *Service) {
		if name = identity.Name(name); name != "" {
			s.defaultCoach = name
		}
	}
}

// WithPlaceholderCoach sets the coach stored on evaluations submitted without one.
func WithPlaceholderCoach(name string) Option {
	return func(s *Service) {
		if name = identity.Name(name); name != "" {
			s.placeholderCoach = name
		}
	}
}

// WithWorkerCount sets the number of propagation retry workers.
func WithWorkerCount(count int) Option {
	return func(s *Service) {
		if count > 0 {
			s.workerCount = count
		}
	}
}

// WithQueueSize sets the capacity of the propagation retry queue.
func WithQueueSize(size int) Option {
	return func(s *Service) {
		if size > 0 {
			s.queueSize = size
		}
	}
}

// WithDedupeSize sets how many in-flight retry tasks are tracked.
func WithDedupeSize(size int) Option {
	return func(s *Service) {
		if size > 0 {
			s.dedupeSize = size
		}
	}
}

// WithRetryPolicy sets the attempt limit and base delay of propagation retries.
func WithRetryPolicy(maxAttempts int, delay time.Duration) Option {
	return func(s *Service) {
		if maxAttempts > 0 {
			s.maxAttempts = maxAttempts
		}
		if delay > 0 {
			s.retryDelay = delay
		}
	}
}

// WithClock replaces time.Now, mostly for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// New constructs a Service over store. logger.Init must have been called.
func New(store repository.Store, opts ...Option) *Service {
	s := &Service{
		store:            store,
		publisher:        publisher.Noop{},
		athleteLimit:     100,
		evaluationLimit:  1000,
		defaultCoach:     "Daniel",
		placeholderCoach: "Coach",
		workerCount:      2,
		queueSize:        1024,
		dedupeSize:       4096,
		maxAttempts:      5,
		retryDelay:       2 * time.Second,
		now:              time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = logger.Get()
	}

	s.deduper = dedupe.NewInMemoryDeduper(dedupe.WithMaxSize(s.dedupeSize))
	s.queue = eventqueue.NewInMemoryQueue(eventqueue.WithCapacity(s.queueSize))
	s.pool = workerpool.NewPool(s.workerCount, s.queue, store, s.deduper,
		workerpool.WithMaxAttempts(s.maxAttempts),
		workerpool.WithRetryDelay(s.retryDelay),
	)
	return s
}

// Start launches the propagation retry workers.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return nil
	}
	s.pool.Start(ctx)
	s.started = true
	s.logger.Info(ctx, "coachboard service started",
		logger.Int("workers", s.workerCount),
		logger.Int("queueSize", s.queueSize),
		logger.Int("athleteListLimit", s.athleteLimit),
		logger.Int("evaluationListLimit", s.evaluationLimit),
	)
	return nil
}

// Stop drains the retry workers. Pending retries are abandoned.
func (s *Service) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	ctx := context.Background()
	if err := s.pool.Shutdown(ctx); err != nil {
		s.logger.Warn(ctx, "propagation pool shutdown failed", logger.Error(err))
	}
	s.started = false
}

// Ping reports whether the store is reachable.
func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

// DefaultCoach returns the coach used when a dashboard request names none.
func (s *Service) DefaultCoach() string {
	return s.defaultCoach
}

// PendingPropagations returns the number of queued rename retries.
func (s *Service) PendingPropagations(ctx context.Context) int {
	return s.queue.Len(ctx)
}

func (s *Service) publish(ctx context.Context, e publisher.Event) {
	e.At = s.now().UTC()
	if err := s.publisher.Publish(ctx, e); err != nil {
		s.logger.Warn(ctx, "change event not published",
			logger.String("kind", e.Kind),
			logger.String("id", e.ID),
			logger.Error(err),
		)
	}
}

func requireID(id string) (string, error) {
	id = identity.Name(id)
	if id == "" {
		return "", fmt.Errorf("%w: id is required", model.ErrValidation)
	}
	return id, nil
}

// CreateAthlete validates in and stores a new profile.
func (s *Service) CreateAthlete(ctx context.Context, in model.AthleteInput) (model.Athlete, error) {
	a, err := model.NewAthlete(in, s.now())
	if err != nil {
		return model.Athlete{}, err
	}
	created, err := s.store.CreateAthlete(ctx, a)
	if err != nil {
		return model.Athlete{}, err
	}
	s.logger.Info(ctx, "athlete created",
		logger.String("id", created.ID),
		logger.String("athlete", created.Name),
		logger.String("coach", created.Coach),
	)
	s.publish(ctx, publisher.Event{Kind: publisher.KindAthleteCreated, ID: created.ID, Athlete: created.Name, Payload: created})
	return created, nil
}

// ListAthletes returns profiles of coach, or of every coach when coach is
// blank, newest first.
func (s *Service) ListAthletes(ctx context.Context, coach string) ([]model.Athlete, error) {
	return s.store.ListAthletes(ctx, repository.AthleteFilter{Coach: identity.Name(coach)}, s.athleteLimit)
}

// UpdateAthlete replaces the mutable fields of profile id. When the athlete
// name changes, evaluations recorded under the stored name or under
// previousName are moved to the new name. A failed move does not undo the
// profile update; it is retried in the background.
func (s *Service) UpdateAthlete(ctx context.Context, id string, in model.AthleteInput, previousName string) (model.Athlete, error) {
	id, err := requireID(id)
	if err != nil {
		return model.Athlete{}, err
	}
	clean, err := in.Normalize()
	if err != nil {
		return model.Athlete{}, err
	}

	stored, err := s.store.GetAthlete(ctx, id)
	if err != nil {
		return model.Athlete{}, err
	}
	next := stored
	next.Apply(clean)

	updated, err := s.store.UpdateAthlete(ctx, next)
	if err != nil {
		return model.Athlete{}, err
	}
	s.publish(ctx, publisher.Event{Kind: publisher.KindAthleteUpdated, ID: updated.ID, Athlete: updated.Name, Payload: updated})

	targets := identity.Distinct(updated.Name, stored.Name, previousName)
	if len(targets) == 0 {
		return updated, nil
	}

	metrics.RecordAthleteRename()
	s.propagateRename(ctx, updated.ID, targets, updated.Name)
	return updated, nil
}

func (s *Service) propagateRename(ctx context.Context, profileID string, oldNames []string, newName string) {
	n, err := s.store.RenameAthlete(ctx, oldNames, newName)
	if err == nil {
		metrics.RecordPropagatedRecords(n)
		s.logger.Info(ctx, "athlete renamed",
			logger.String("id", profileID),
			logger.Any("oldNames", oldNames),
			logger.String("newName", newName),
			logger.Int64("evaluations", n),
		)
		s.publish(ctx, publisher.Event{
			Kind:     publisher.KindAthleteRenamed,
			ID:       profileID,
			Athlete:  newName,
			OldNames: oldNames,
			Count:    &n,
		})
		return
	}

	metrics.RecordPropagationFailure()
	task := eventqueue.Task{ProfileID: profileID, OldNames: oldNames, NewName: newName, Attempt: 1}
	queued := s.pool.Submit(context.WithoutCancel(ctx), task)
	s.logger.Error(ctx, "rename propagation failed",
		logger.String("id", profileID),
		logger.Any("oldNames", oldNames),
		logger.String("newName", newName),
		logger.Bool("retryQueued", queued),
		logger.Error(err),
	)
}

// DeleteAthlete removes profile id. Its evaluations are kept.
func (s *Service) DeleteAthlete(ctx context.Context, id string) error {
	id, err := requireID(id)
	if err != nil {
		return err
	}
	if err := s.store.DeleteAthlete(ctx, id); err != nil {
		return err
	}
	s.logger.Info(ctx, "athlete deleted", logger.String("id", id))
	s.publish(ctx, publisher.Event{Kind: publisher.KindAthleteDeleted, ID: id})
	return nil
}

// CreateEvaluation validates in and stores a new evaluation.
func (s *Service) CreateEvaluation(ctx context.Context, in model.EvaluationInput) (model.Evaluation, error) {
	ev, err := model.NewEvaluation(in, s.placeholderCoach, s.now())
	if err != nil {
		return model.Evaluation{}, err
	}
	created, err := s.store.CreateEvaluation(ctx, ev)
	if err != nil {
		return model.Evaluation{}, err
	}
	metrics.RecordEvaluationCreated(created.BadgeTone)
	s.logger.Info(ctx, "evaluation created",
		logger.String("id", created.ID),
		logger.String("athlete", created.Athlete),
		logger.String("badge", created.Badge),
	)
	s.publish(ctx, publisher.Event{Kind: publisher.KindEvaluationCreated, ID: created.ID, Athlete: created.Athlete, Payload: created})
	return created, nil
}

// ListEvaluations returns evaluations of coach, or of every coach when coach
// is blank, newest first.
func (s *Service) ListEvaluations(ctx context.Context, coach string) ([]model.Evaluation, error) {
	return s.store.ListEvaluations(ctx, repository.EvaluationFilter{Coach: identity.Name(coach)}, s.evaluationLimit)
}

// DeleteEvaluation removes evaluation id.
func (s *Service) DeleteEvaluation(ctx context.Context, id string) error {
	id, err := requireID(id)
	if err != nil {
		return err
	}
	if err := s.store.DeleteEvaluation(ctx, id); err != nil {
		return err
	}
	s.publish(ctx, publisher.Event{Kind: publisher.KindEvaluationDeleted, ID: id})
	return nil
}

// DeleteEvaluationsByAthlete removes every evaluation of the named athlete.
// Deleting nothing is not an error.
func (s *Service) DeleteEvaluationsByAthlete(ctx context.Context, athlete string) (int64, error) {
	name := identity.Name(athlete)
	if name == "" {
		return 0, fmt.Errorf("%w: athlete is required", model.ErrValidation)
	}
	n, err := s.store.DeleteEvaluationsByAthlete(ctx, name)
	if err != nil {
		return 0, err
	}
	s.logger.Info(ctx, "evaluations deleted", logger.String("athlete", name), logger.Int64("count", n))
	s.publish(ctx, publisher.Event{Kind: publisher.KindEvaluationsDeleted, Athlete: name, Count: &n})
	return n, nil
}

// DeleteAllEvaluations removes every evaluation.
func (s *Service) DeleteAllEvaluations(ctx context.Context) (int64, error) {
	n, err := s.store.DeleteAllEvaluations(ctx)
	if err != nil {
		return 0, err
	}
	s.logger.Warn(ctx, "all evaluations deleted", logger.Int64("count", n))
	s.publish(ctx, publisher.Event{Kind: publisher.KindEvaluationsDeleted, Count: &n})
	return n, nil
}

// Dashboard is the coach landing page.
type Dashboard struct {
	CoachName      string               `json:"coachName"`
	Athletes       []model.Athlete      `json:"athletes"`
	AllAthletes    []model.Athlete      `json:"allAthletes"`
	Evaluations    []view.Evaluation    `json:"evaluations"`
	AthleteOptions []view.AthleteOption `json:"athleteOptions"`
}

// Dashboard loads the athletes and evaluations of coach. A blank coach
// falls back to the default coach.
func (s *Service) Dashboard(ctx context.Context, coach string) (Dashboard, error) {
	coach = identity.Name(coach)
	if coach == "" {
		coach = s.defaultCoach
	}

	athletes, err := s.ListAthletes(ctx, coach)
	if err != nil {
		return Dashboard{}, err
	}
	all, err := s.ListAthletes(ctx, "")
	if err != nil {
		return Dashboard{}, err
	}
	evaluations, err := s.ListEvaluations(ctx, coach)
	if err != nil {
		return Dashboard{}, err
	}

	return Dashboard{
		CoachName:      coach,
		Athletes:       athletes,
		AllAthletes:    all,
		Evaluations:    view.NewEvaluations(view.DedupeEvaluations(evaluations)),
		AthleteOptions: view.BuildAthleteOptions(all, evaluations),
	}, nil
}

// AthleteView is the per-athlete page.
type AthleteView struct {
	Options     []view.AthleteOption `json:"athleteOptions"`
	Selected    *view.AthleteOption  `json:"selected"`
	Evaluations []view.Evaluation    `json:"evaluations"`
	Summary     view.Summary         `json:"summary"`
}

// AthleteView resolves selection against every known athlete and returns
// that athlete's evaluations. An unknown or blank selection yields only the
// options.
func (s *Service) AthleteView(ctx context.Context, selection string) (AthleteView, error) {
	athletes, err := s.ListAthletes(ctx, "")
	if err != nil {
		return AthleteView{}, err
	}
	evaluations, err := s.ListEvaluations(ctx, "")
	if err != nil {
		return AthleteView{}, err
	}

	out := AthleteView{
		Options:     view.BuildAthleteOptions(athletes, evaluations),
		Evaluations: []view.Evaluation{},
		Summary:     view.Summarize(nil),
	}
	opt, ok := view.FindAthleteOption(out.Options, identity.Name(selection))
	if !ok {
		return out, nil
	}
	own := view.EvaluationsFor(evaluations, opt.Label)
	out.Selected = &opt
	out.Evaluations = view.NewEvaluations(own)
	out.Summary = view.Summarize(own)
	return out, nil
}
