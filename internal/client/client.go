// Package client talks to the coachboard HTTP API and keeps a local copy of
// evaluations for offline use.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	service "github.com/okian/coachboard/internal/app"
	"github.com/okian/coachboard/internal/domain/model"
	"github.com/okian/coachboard/internal/domain/view"
)

const defaultTimeout = 30 * time.Second

// Error kinds returned by the client.
var (
	ErrBadRequest  = errors.New("bad request")
	ErrNotFound    = errors.New("not found")
	ErrServer      = errors.New("server error")
	ErrUnreachable = errors.New("api unreachable")
)

// APIError is a non-2xx response.
type APIError struct {
	Status  int
	Code    string
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api: %d %s: %s", e.Status, e.Code, e.Message)
}

// Unwrap maps the status onto an error kind.
func (e *APIError) Unwrap() error {
	switch {
	case e.Status == http.StatusNotFound:
		return ErrNotFound
	case e.Status >= 500:
		return ErrServer
	default:
		return ErrBadRequest
	}
}

// AthletePayload is the body of athlete create and update requests.
type AthletePayload struct {
	ID                  string   `json:"id,omitempty"`
	AthleteName         string   `json:"athleteName"`
	Discipline          string   `json:"discipline"`
	CoachName           string   `json:"coachName"`
	Gender              string   `json:"gender"`
	Rank                string   `json:"rank"`
	Email               string   `json:"email,omitempty"`
	Age                 *float64 `json:"age,omitempty"`
	PreviousAthleteName string   `json:"previousAthleteName,omitempty"`
}

// EvaluationPayload is the body of evaluation create requests.
type EvaluationPayload struct {
	AthleteName string         `json:"athleteName"`
	Discipline  string         `json:"discipline"`
	CoachName   string         `json:"coachName,omitempty"`
	Score       *float64       `json:"score"`
	Badge       string         `json:"badge,omitempty"`
	BadgeTone   string         `json:"badgeTone,omitempty"`
	Comment     string         `json:"comment,omitempty"`
	Details     []model.Detail `json:"details,omitempty"`
	Date        string         `json:"date,omitempty"`
}

func (p EvaluationPayload) input() model.EvaluationInput {
	return model.EvaluationInput{
		Athlete:    p.AthleteName,
		Discipline: p.Discipline,
		Coach:      p.CoachName,
		Score:      p.Score,
		Badge:      p.Badge,
		BadgeTone:  p.BadgeTone,
		Comment:    p.Comment,
		Details:    p.Details,
		Date:       p.Date,
	}
}

type deleteResponse struct {
	OK           bool  `json:"ok"`
	DeletedCount int64 `json:"deletedCount"`
}

// Client is a thin JSON client for the coachboard API.
type Client struct {
	baseURL string
	http    *http.Client
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.http = hc
		}
	}
}

// WithTimeout sets the per-request timeout of the default HTTP client.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.http = &http.Client{Timeout: d}
		}
	}
}

// New creates a client for the API at baseURL.
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: defaultTimeout},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, body, out any) error {
	target := c.baseURL + path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}

	var reader io.Reader = http.NoBody
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %s %s: %w", ErrUnreachable, method, path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("%w: read response: %w", ErrUnreachable, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := &APIError{Status: resp.StatusCode}
		var body struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		}
		if json.Unmarshal(data, &body) == nil {
			apiErr.Code, apiErr.Message = body.Code, body.Message
		}
		if apiErr.Message == "" {
			apiErr.Message = http.StatusText(resp.StatusCode)
		}
		return apiErr
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func coachQuery(coach string) url.Values {
	if coach = strings.TrimSpace(coach); coach != "" {
		return url.Values{"coach": {coach}}
	}
	return nil
}

// ListAthletes returns the athletes of coach, or all when coach is blank.
func (c *Client) ListAthletes(ctx context.Context, coach string) ([]model.Athlete, error) {
	var out []model.Athlete
	err := c.do(ctx, http.MethodGet, "/api/athletes", coachQuery(coach), nil, &out)
	return out, err
}

// CreateAthlete creates a profile.
func (c *Client) CreateAthlete(ctx context.Context, p AthletePayload) (model.Athlete, error) {
	var out model.Athlete
	err := c.do(ctx, http.MethodPost, "/api/athletes", nil, p, &out)
	return out, err
}

// UpdateAthlete updates profile p.ID.
func (c *Client) UpdateAthlete(ctx context.Context, p AthletePayload) (model.Athlete, error) {
	var out model.Athlete
	err := c.do(ctx, http.MethodPut, "/api/athletes", nil, p, &out)
	return out, err
}

// DeleteAthlete deletes profile id.
func (c *Client) DeleteAthlete(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "/api/athletes", url.Values{"id": {id}}, nil, nil)
}

// ListEvaluations returns the evaluations of coach, or all when coach is blank.
func (c *Client) ListEvaluations(ctx context.Context, coach string) ([]view.Evaluation, error) {
	var out []view.Evaluation
	err := c.do(ctx, http.MethodGet, "/api/evaluations", coachQuery(coach), nil, &out)
	return out, err
}

// CreateEvaluation stores a new evaluation.
func (c *Client) CreateEvaluation(ctx context.Context, p EvaluationPayload) (model.Evaluation, error) {
	var out model.Evaluation
	err := c.do(ctx, http.MethodPost, "/api/evaluations", nil, p, &out)
	return out, err
}

// DeleteEvaluation deletes evaluation id.
func (c *Client) DeleteEvaluation(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "/api/evaluations", url.Values{"id": {id}}, nil, nil)
}

// DeleteEvaluationsByAthlete deletes every evaluation of athlete.
func (c *Client) DeleteEvaluationsByAthlete(ctx context.Context, athlete string) (int64, error) {
	var out deleteResponse
	err := c.do(ctx, http.MethodDelete, "/api/evaluations", url.Values{"athlete": {athlete}}, nil, &out)
	return out.DeletedCount, err
}

// DeleteAllEvaluations deletes every evaluation.
func (c *Client) DeleteAllEvaluations(ctx context.Context) (int64, error) {
	var out deleteResponse
	err := c.do(ctx, http.MethodDelete, "/api/evaluations", url.Values{"all": {"true"}}, nil, &out)
	return out.DeletedCount, err
}

// Dashboard loads the dashboard of coach.
func (c *Client) Dashboard(ctx context.Context, coach string) (service.Dashboard, error) {
	var out service.Dashboard
	err := c.do(ctx, http.MethodGet, "/api/dashboard", coachQuery(coach), nil, &out)
	return out, err
}

// AthleteView loads the page of the selected athlete.
func (c *Client) AthleteView(ctx context.Context, athlete string) (service.AthleteView, error) {
	var q url.Values
	if athlete = strings.TrimSpace(athlete); athlete != "" {
		q = url.Values{"athlete": {athlete}}
	}
	var out service.AthleteView
	err := c.do(ctx, http.MethodGet, "/api/athlete-view", q, nil, &out)
	return out, err
}

// Health checks the server and its store.
func (c *Client) Health(ctx context.Context) error {
	return c.do(ctx, http.MethodGet, "/healthz", nil, nil, nil)
}
