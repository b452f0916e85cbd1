package model

import (
	"fmt"
	"strings"
	"time"

	"github.com/okian/coachboard/internal/domain/badge"
	"github.com/okian/coachboard/internal/domain/identity"
)

// Detail is one labelled sub-score.
type Detail struct {
	Label string  `json:"label"`
	Value float64 `json:"value"`
}

// Evaluation is a stored evaluation record. Badge and BadgeTone are fixed at
// creation time.
type Evaluation struct {
	ID         string    `json:"id"`
	Athlete    string    `json:"athleteName"`
	Discipline string    `json:"discipline"`
	Coach      string    `json:"coachName"`
	Score      *float64  `json:"score"`
	Badge      string    `json:"badge"`
	BadgeTone  string    `json:"badgeTone"`
	Comment    string    `json:"comment"`
	Details    []Detail  `json:"details"`
	Date       time.Time `json:"date"`
	CreatedAt  time.Time `json:"createdAt"`
}

// EvaluationInput carries a new evaluation as submitted.
type EvaluationInput struct {
	Athlete    string
	Discipline string
	Coach      string
	Score      *float64
	Badge      string
	BadgeTone  string
	Comment    string
	Details    []Detail
	// Date is free text; blank means now.
	Date string
}

// NewEvaluation validates in and builds a record created at now. A blank
// coach is replaced with placeholderCoach.
func NewEvaluation(in EvaluationInput, placeholderCoach string, now time.Time) (Evaluation, error) {
	athlete := identity.Name(in.Athlete)
	discipline := identity.Name(in.Discipline)
	if athlete == "" || discipline == "" {
		return Evaluation{}, fmt.Errorf("%w: athleteName and discipline are required", ErrValidation)
	}

	coach := identity.Name(in.Coach)
	if coach == "" {
		coach = placeholderCoach
	}

	date, err := ParseDate(in.Date, now)
	if err != nil {
		return Evaluation{}, err
	}

	details := in.Details
	if details == nil {
		details = []Detail{}
	}

	b := badge.Resolve(in.Score, in.Badge, in.BadgeTone)
	return Evaluation{
		Athlete:    athlete,
		Discipline: discipline,
		Coach:      coach,
		Score:      in.Score,
		Badge:      b.Label,
		BadgeTone:  b.Tone,
		Comment:    in.Comment,
		Details:    details,
		Date:       date,
		CreatedAt:  now.UTC(),
	}, nil
}

var dateLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02",
	"2.1.2006",
}

// ParseDate accepts RFC 3339, ISO dates and Swiss D.M.YYYY dates. Blank input
// yields now.
func ParseDate(s string, now time.Time) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return now.UTC(), nil
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("%w: unrecognised date %q", ErrValidation, s)
}
