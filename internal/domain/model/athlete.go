// Package model contains domain records passed between layers.
package model

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/okian/coachboard/internal/domain/identity"
)

// Athlete is a stored athlete profile.
type Athlete struct {
	ID              string    `json:"id"`
	Name            string    `json:"athleteName"`
	Discipline      string    `json:"discipline"`
	Coach           string    `json:"coachName"`
	CoachNormalized string    `json:"coachNameNormalized"`
	Gender          string    `json:"gender"`
	Age             *int      `json:"age"`
	Rank            string    `json:"rank"`
	Email           string    `json:"email,omitempty"`
	CreatedAt       time.Time `json:"createdAt"`
}

// AthleteInput carries the mutable fields of a profile as submitted.
type AthleteInput struct {
	Name       string
	Discipline string
	Coach      string
	Gender     string
	Rank       string
	Email      string
	// Age is nil when omitted. Non-finite values count as omitted.
	Age *float64
}

// Normalize trims every field and checks required values.
func (in AthleteInput) Normalize() (AthleteInput, error) {
	out := AthleteInput{
		Name:       identity.Name(in.Name),
		Discipline: identity.Name(in.Discipline),
		Coach:      identity.Name(in.Coach),
		Gender:     identity.Name(in.Gender),
		Rank:       identity.Name(in.Rank),
		Email:      identity.Name(in.Email),
	}

	var missing []string
	for _, f := range []struct{ name, val string }{
		{"athleteName", out.Name},
		{"discipline", out.Discipline},
		{"coachName", out.Coach},
		{"gender", out.Gender},
		{"rank", out.Rank},
	} {
		if f.val == "" {
			missing = append(missing, f.name)
		}
	}
	if len(missing) > 0 {
		return AthleteInput{}, fmt.Errorf("%w: missing required fields: %s", ErrValidation, strings.Join(missing, ", "))
	}

	if in.Age != nil && !math.IsNaN(*in.Age) && !math.IsInf(*in.Age, 0) {
		if *in.Age < 0 {
			return AthleteInput{}, fmt.Errorf("%w: age must not be negative", ErrValidation)
		}
		age := *in.Age
		out.Age = &age
	}
	return out, nil
}

// Apply copies normalized input onto a, leaving ID and CreatedAt alone.
func (a *Athlete) Apply(in AthleteInput) {
	a.Name = in.Name
	a.Discipline = in.Discipline
	a.Coach = in.Coach
	a.CoachNormalized = identity.Key(in.Coach)
	a.Gender = in.Gender
	a.Rank = in.Rank
	a.Email = in.Email
	a.Age = nil
	if in.Age != nil {
		age := int(math.Trunc(*in.Age))
		a.Age = &age
	}
}

// NewAthlete validates in and builds a profile created at now.
func NewAthlete(in AthleteInput, now time.Time) (Athlete, error) {
	clean, err := in.Normalize()
	if err != nil {
		return Athlete{}, err
	}
	a := Athlete{CreatedAt: now.UTC()}
	a.Apply(clean)
	return a, nil
}
