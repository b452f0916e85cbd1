package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/okian/coachboard/internal/domain/identity"
	"github.com/okian/coachboard/internal/domain/model"
	"github.com/okian/coachboard/internal/domain/view"
	"github.com/okian/coachboard/pkg/logger"
)

// Entry states.
const (
	StatusPending   = "pending"
	StatusConfirmed = "confirmed"
)

const (
	cacheFilePermission = 0o600
	cacheDirPermission  = 0o700
)

// EvaluationAPI is the part of the API the cache needs.
type EvaluationAPI interface {
	ListEvaluations(ctx context.Context, coach string) ([]view.Evaluation, error)
	CreateEvaluation(ctx context.Context, p EvaluationPayload) (model.Evaluation, error)
	DeleteEvaluation(ctx context.Context, id string) error
	DeleteEvaluationsByAthlete(ctx context.Context, athlete string) (int64, error)
	DeleteAllEvaluations(ctx context.Context) (int64, error)
}

// Entry is one cached evaluation. Pending entries were never accepted by the
// server and keep the payload needed to resend them.
type Entry struct {
	view.Evaluation
	Status  string             `json:"status"`
	Payload *EvaluationPayload `json:"payload,omitempty"`
}

// EvaluationCache mirrors the server's evaluations in a JSON file. Writes go
// to the server first when possible and are kept as pending otherwise.
type EvaluationCache struct {
	mu      sync.Mutex
	path    string
	api     EvaluationAPI
	entries []Entry

	placeholderCoach string
	now              func() time.Time
	logger           logger.Logger
}

// CacheOption configures an EvaluationCache.
type CacheOption func(*EvaluationCache)

// WithCacheLogger sets the logger for tolerated API failures.
func WithCacheLogger(l logger.Logger) CacheOption {
	return func(c *EvaluationCache) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithCacheClock replaces time.Now.
func WithCacheClock(now func() time.Time) CacheOption {
	return func(c *EvaluationCache) {
		if now != nil {
			c.now = now
		}
	}
}

// WithPlaceholderCoach sets the coach of pending entries submitted without one.
func WithPlaceholderCoach(name string) CacheOption {
	return func(c *EvaluationCache) {
		if name = identity.Name(name); name != "" {
			c.placeholderCoach = name
		}
	}
}

// OpenEvaluationCache loads the cache stored at path. A missing file yields
// an empty cache.
func OpenEvaluationCache(path string, api EvaluationAPI, opts ...CacheOption) (*EvaluationCache, error) {
	c := &EvaluationCache{
		path:             path,
		api:              api,
		placeholderCoach: "Coach",
		now:              time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.logger == nil {
		c.logger = logger.Get().Named("evaluation-cache")
	}

	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return c, nil
	case err != nil:
		return nil, fmt.Errorf("read cache: %w", err)
	}
	if len(data) > 0 {
		if err := json.Unmarshal(data, &c.entries); err != nil {
			return nil, fmt.Errorf("decode cache %s: %w", path, err)
		}
	}
	return c, nil
}

// Entries returns a copy of the cached evaluations, newest first.
func (c *EvaluationCache) Entries() []Entry {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Entry, len(c.entries))
	copy(out, c.entries)
	return out
}

// Pending returns the number of entries not yet accepted by the server.
func (c *EvaluationCache) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, e := range c.entries {
		if e.Status == StatusPending {
			n++
		}
	}
	return n
}

// persist writes the cache to a temporary file and renames it into place.
// Callers hold c.mu.
func (c *EvaluationCache) persist() error {
	data, err := json.MarshalIndent(c.entries, "", "  ")
	if err != nil {
		return fmt.Errorf("encode cache: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(c.path), cacheDirPermission); err != nil {
		return fmt.Errorf("create cache dir: %w", err)
	}
	tmp := c.path + ".tmp"
	if err := os.WriteFile(tmp, data, cacheFilePermission); err != nil {
		return fmt.Errorf("write cache: %w", err)
	}
	if err := os.Rename(tmp, c.path); err != nil {
		return fmt.Errorf("replace cache: %w", err)
	}
	return nil
}

// Refresh replaces confirmed entries with the server's list. Pending entries
// are kept in front. On failure the cache is left untouched.
func (c *EvaluationCache) Refresh(ctx context.Context) error {
	list, err := c.api.ListEvaluations(ctx, "")
	if err != nil {
		return fmt.Errorf("refresh evaluations: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	next := make([]Entry, 0, len(list)+len(c.entries))
	for _, e := range c.entries {
		if e.Status == StatusPending {
			next = append(next, e)
		}
	}
	for _, ev := range list {
		next = append(next, Entry{Evaluation: ev, Status: StatusConfirmed})
	}
	c.entries = next
	return c.persist()
}

// Add sends p to the server. When the server cannot be reached the
// evaluation is kept locally as pending with a generated id. Payloads the
// server or local validation reject are returned as errors.
func (c *EvaluationCache) Add(ctx context.Context, p EvaluationPayload) (Entry, error) {
	saved, err := c.api.CreateEvaluation(ctx, p)
	var entry Entry
	switch {
	case err == nil:
		entry = Entry{Evaluation: view.NewEvaluation(saved), Status: StatusConfirmed}
	case errors.Is(err, ErrBadRequest):
		return Entry{}, err
	default:
		local, verr := model.NewEvaluation(p.input(), c.placeholderCoach, c.now())
		if verr != nil {
			return Entry{}, verr
		}
		local.ID = uuid.NewString()
		payload := p
		entry = Entry{Evaluation: view.NewEvaluation(local), Status: StatusPending, Payload: &payload}
		c.logger.Warn(ctx, "evaluation kept locally", logger.String("id", local.ID), logger.Error(err))
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = append([]Entry{entry}, c.entries...)
	return entry, c.persist()
}

func (c *EvaluationCache) removeWhere(match func(Entry) bool) (removedPending bool) {
	kept := c.entries[:0]
	for _, e := range c.entries {
		if match(e) {
			if e.Status == StatusPending {
				removedPending = true
			}
			continue
		}
		kept = append(kept, e)
	}
	c.entries = kept
	return removedPending
}

// Remove drops evaluation id locally, then deletes it on the server unless
// it was only pending. Server failures are logged and tolerated.
func (c *EvaluationCache) Remove(ctx context.Context, id string) error {
	if identity.Name(id) == "" {
		return nil
	}
	c.mu.Lock()
	onlyLocal := c.removeWhere(func(e Entry) bool { return e.ID == id })
	err := c.persist()
	c.mu.Unlock()
	if err != nil {
		return err
	}

	if onlyLocal {
		return nil
	}
	if err := c.api.DeleteEvaluation(ctx, id); err != nil && !errors.Is(err, ErrNotFound) {
		c.logger.Warn(ctx, "evaluation delete failed", logger.String("id", id), logger.Error(err))
	}
	return nil
}

// RemoveByAthlete drops every evaluation of athlete locally and on the server.
func (c *EvaluationCache) RemoveByAthlete(ctx context.Context, athlete string) error {
	if identity.Name(athlete) == "" {
		return nil
	}
	c.mu.Lock()
	c.removeWhere(func(e Entry) bool { return identity.Equal(e.Athlete, athlete) })
	err := c.persist()
	c.mu.Unlock()
	if err != nil {
		return err
	}

	if _, err := c.api.DeleteEvaluationsByAthlete(ctx, athlete); err != nil {
		c.logger.Warn(ctx, "evaluation bulk delete failed", logger.String("athlete", athlete), logger.Error(err))
	}
	return nil
}

// RemoveAll empties the cache and deletes every evaluation on the server.
func (c *EvaluationCache) RemoveAll(ctx context.Context) error {
	c.mu.Lock()
	c.entries = nil
	err := c.persist()
	c.mu.Unlock()
	if err != nil {
		return err
	}

	if _, err := c.api.DeleteAllEvaluations(ctx); err != nil {
		c.logger.Warn(ctx, "evaluation delete all failed", logger.Error(err))
	}
	return nil
}

// Flush resends pending entries. Accepted entries become confirmed and take
// the server id. It returns how many were accepted.
func (c *EvaluationCache) Flush(ctx context.Context) (int, error) {
	c.mu.Lock()
	var pending []Entry
	for _, e := range c.entries {
		if e.Status == StatusPending && e.Payload != nil {
			pending = append(pending, e)
		}
	}
	c.mu.Unlock()

	accepted := make(map[string]Entry, len(pending))
	var errs []error
	for _, e := range pending {
		saved, err := c.api.CreateEvaluation(ctx, *e.Payload)
		if err != nil {
			errs = append(errs, fmt.Errorf("flush %s: %w", e.ID, err))
			continue
		}
		accepted[e.ID] = Entry{Evaluation: view.NewEvaluation(saved), Status: StatusConfirmed}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	for i, e := range c.entries {
		if repl, ok := accepted[e.ID]; ok {
			c.entries[i] = repl
		}
	}
	if err := c.persist(); err != nil {
		errs = append(errs, err)
	}
	return len(accepted), errors.Join(errs...)
}
