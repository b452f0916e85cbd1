// Package view assembles read models for the dashboard and athlete pages.
package view

import (
	"sort"
	"time"

	"golang.org/x/text/collate"
	"golang.org/x/text/language"

	"github.com/okian/coachboard/internal/domain/badge"
	"github.com/okian/coachboard/internal/domain/identity"
	"github.com/okian/coachboard/internal/domain/model"
)

// Option sources.
const (
	SourceAthlete    = "athlete"
	SourceEvaluation = "evaluation"
)

const fallbackLabel = "Athlet"

// AthleteOption is one entry of the athlete picker.
type AthleteOption struct {
	ID         string `json:"id"`
	Label      string `json:"label"`
	Discipline string `json:"discipline"`
	Coach      string `json:"coachName"`
	Gender     string `json:"gender,omitempty"`
	Age        *int   `json:"age,omitempty"`
	Rank       string `json:"rank,omitempty"`
	Email      string `json:"email,omitempty"`
	Source     string `json:"source"`
}

// Evaluation is an evaluation as rendered in lists.
type Evaluation struct {
	model.Evaluation
	Name      string `json:"name"`
	DateLabel string `json:"dateLabel"`
}

// Summary aggregates an athlete's evaluations.
type Summary struct {
	Count        int         `json:"count"`
	AverageScore *float64    `json:"averageScore"`
	LatestScore  *float64    `json:"latestScore"`
	LatestDate   string      `json:"latestDate,omitempty"`
	Badge        badge.Badge `json:"badge"`
}

// FormatDate renders t as a Swiss date (D.M.YYYY). The zero time renders empty.
func FormatDate(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format("2.1.2006")
}

// NewEvaluation decorates ev with its display name and date label.
func NewEvaluation(ev model.Evaluation) Evaluation {
	date := ev.Date
	if date.IsZero() {
		date = ev.CreatedAt
	}
	return Evaluation{
		Evaluation: ev,
		Name:       ev.Athlete + " - " + ev.Discipline,
		DateLabel:  FormatDate(date),
	}
}

// NewEvaluations decorates every record of list.
func NewEvaluations(list []model.Evaluation) []Evaluation {
	out := make([]Evaluation, 0, len(list))
	for _, ev := range list {
		out = append(out, NewEvaluation(ev))
	}
	return out
}

func evaluationKey(ev model.Evaluation) string {
	if ev.ID != "" {
		return ev.ID
	}
	date := ev.Date
	if date.IsZero() {
		date = ev.CreatedAt
	}
	stamp := ""
	if !date.IsZero() {
		stamp = date.UTC().Format(time.RFC3339Nano)
	}
	return identity.Name(ev.Athlete) + "-" + identity.Name(ev.Discipline) + "-" + stamp
}

// DedupeEvaluations drops repeated records, keeping the first occurrence.
// Records are keyed by id, or by athlete, discipline and date when the id is
// missing.
func DedupeEvaluations(list []model.Evaluation) []model.Evaluation {
	seen := make(map[string]struct{}, len(list))
	out := make([]model.Evaluation, 0, len(list))
	for _, ev := range list {
		k := evaluationKey(ev)
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, ev)
	}
	return out
}

// BuildAthleteOptions merges stored profiles with athlete names that only
// appear on evaluations. Profiles win; options are sorted by label in German
// collation order.
func BuildAthleteOptions(athletes []model.Athlete, evaluations []model.Evaluation) []AthleteOption {
	byKey := make(map[string]AthleteOption, len(athletes))
	byLabel := make(map[string]struct{}, len(athletes))
	order := make([]string, 0, len(athletes))

	for _, a := range athletes {
		label := identity.Name(a.Name)
		id := a.ID
		if id == "" {
			id = label
		}
		key := identity.Key(id)
		if key == "" {
			continue
		}
		if label == "" {
			label = fallbackLabel
		}
		if _, ok := byKey[key]; !ok {
			order = append(order, key)
		}
		byKey[key] = AthleteOption{
			ID:         id,
			Label:      label,
			Discipline: a.Discipline,
			Coach:      a.Coach,
			Gender:     a.Gender,
			Age:        a.Age,
			Rank:       a.Rank,
			Email:      a.Email,
			Source:     SourceAthlete,
		}
		byLabel[identity.Key(label)] = struct{}{}
	}

	for _, ev := range evaluations {
		label := identity.Name(ev.Athlete)
		key := identity.Key(label)
		if key == "" {
			continue
		}
		if _, ok := byLabel[key]; ok {
			continue
		}
		if _, ok := byKey[key]; ok {
			continue
		}
		order = append(order, key)
		byKey[key] = AthleteOption{
			ID:         label,
			Label:      label,
			Discipline: ev.Discipline,
			Coach:      ev.Coach,
			Source:     SourceEvaluation,
		}
		byLabel[key] = struct{}{}
	}

	out := make([]AthleteOption, 0, len(order))
	for _, k := range order {
		out = append(out, byKey[k])
	}

	col := collate.New(language.German)
	sort.SliceStable(out, func(i, j int) bool {
		return col.CompareString(out[i].Label, out[j].Label) < 0
	})
	return out
}

// FindAthleteOption resolves a selection against options by exact id, then
// by case-insensitive id or label.
func FindAthleteOption(options []AthleteOption, selection string) (AthleteOption, bool) {
	if selection == "" {
		return AthleteOption{}, false
	}
	norm := identity.Key(selection)
	for _, opt := range options {
		if opt.ID == selection || identity.Key(opt.ID) == norm || identity.Key(opt.Label) == norm {
			return opt, true
		}
	}
	return AthleteOption{}, false
}

// EvaluationsFor returns the deduplicated records of the named athlete,
// newest first.
func EvaluationsFor(evaluations []model.Evaluation, athlete string) []model.Evaluation {
	key := identity.Key(athlete)
	var out []model.Evaluation
	for _, ev := range DedupeEvaluations(evaluations) {
		if identity.Key(ev.Athlete) == key {
			out = append(out, ev)
		}
	}
	SortNewestFirst(out)
	return out
}

// SortNewestFirst orders records by date, newest first.
func SortNewestFirst(list []model.Evaluation) {
	sort.SliceStable(list, func(i, j int) bool {
		return list[i].Date.After(list[j].Date)
	})
}

// Summarize aggregates list, which must be sorted newest first. The badge is
// derived from the latest score at read time.
func Summarize(list []model.Evaluation) Summary {
	s := Summary{Count: len(list), Badge: badge.ForScore(nil, "", "")}
	if len(list) == 0 {
		return s
	}

	var (
		sum    float64
		scored int
	)
	for _, ev := range list {
		if ev.Score != nil {
			sum += *ev.Score
			scored++
		}
	}
	if scored > 0 {
		avg := sum / float64(scored)
		s.AverageScore = &avg
	}

	latest := list[0]
	s.LatestScore = latest.Score
	s.LatestDate = FormatDate(latest.Date)
	s.Badge = badge.ForScore(latest.Score, latest.Badge, latest.BadgeTone)
	return s
}
