package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/okian/coachboard/internal/domain/model"
)

const maxBodyBytes = 1 << 20

// athleteRequest accepts both the current field names and the legacy short
// ones (athlete, coach, previousAthlete).
type athleteRequest struct {
	ID                  string          `json:"id"`
	AthleteName         string          `json:"athleteName"`
	Athlete             string          `json:"athlete"`
	Discipline          string          `json:"discipline"`
	CoachName           string          `json:"coachName"`
	Coach               string          `json:"coach"`
	Gender              string          `json:"gender"`
	Age                 json.RawMessage `json:"age"`
	Rank                string          `json:"rank"`
	Email               string          `json:"email"`
	PreviousAthleteName string          `json:"previousAthleteName"`
	PreviousAthlete     string          `json:"previousAthlete"`
}

func firstNonBlank(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

func (a athleteRequest) input() model.AthleteInput {
	return model.AthleteInput{
		Name:       firstNonBlank(a.AthleteName, a.Athlete),
		Discipline: a.Discipline,
		Coach:      firstNonBlank(a.CoachName, a.Coach),
		Gender:     a.Gender,
		Rank:       a.Rank,
		Email:      a.Email,
		Age:        lenientNumber(a.Age),
	}
}

func (a athleteRequest) previousName() string {
	return firstNonBlank(a.PreviousAthleteName, a.PreviousAthlete)
}

type detailRequest struct {
	Label string          `json:"label"`
	Value json.RawMessage `json:"value"`
}

type evaluationRequest struct {
	AthleteName string          `json:"athleteName"`
	Athlete     string          `json:"athlete"`
	Discipline  string          `json:"discipline"`
	CoachName   string          `json:"coachName"`
	Coach       string          `json:"coach"`
	Score       json.RawMessage `json:"score"`
	Badge       string          `json:"badge"`
	BadgeTone   string          `json:"badgeTone"`
	Comment     string          `json:"comment"`
	Details     json.RawMessage `json:"details"`
	Date        string          `json:"date"`
}

func (e evaluationRequest) input() model.EvaluationInput {
	return model.EvaluationInput{
		Athlete:    firstNonBlank(e.AthleteName, e.Athlete),
		Discipline: e.Discipline,
		Coach:      firstNonBlank(e.CoachName, e.Coach),
		Score:      strictNumber(e.Score),
		Badge:      e.Badge,
		BadgeTone:  e.BadgeTone,
		Comment:    e.Comment,
		Details:    details(e.Details),
		Date:       e.Date,
	}
}

// strictNumber returns raw as a number when it is a JSON number and nil
// otherwise.
func strictNumber(raw json.RawMessage) *float64 {
	if len(raw) == 0 || bytes.Equal(bytes.TrimSpace(raw), []byte("null")) {
		return nil
	}
	var f float64
	if err := json.Unmarshal(raw, &f); err != nil {
		return nil
	}
	return &f
}

// lenientNumber also accepts numeric strings. Blank or non-numeric values
// yield nil.
func lenientNumber(raw json.RawMessage) *float64 {
	if f := strictNumber(raw); f != nil {
		return f
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return nil
	}
	return &f
}

// details keeps labelled entries with numeric values. Anything but an array
// yields an empty list.
func details(raw json.RawMessage) []model.Detail {
	var in []detailRequest
	if len(raw) == 0 || json.Unmarshal(raw, &in) != nil {
		return []model.Detail{}
	}
	out := make([]model.Detail, 0, len(in))
	for _, d := range in {
		v := lenientNumber(d.Value)
		if v == nil {
			continue
		}
		out = append(out, model.Detail{Label: strings.TrimSpace(d.Label), Value: *v})
	}
	return out
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		return fmt.Errorf("%w: reading body: %w", ErrBadRequest, err)
	}
	if len(strings.TrimSpace(string(body))) == 0 {
		return fmt.Errorf("%w: empty body", ErrBadRequest)
	}
	if err := json.Unmarshal(body, v); err != nil {
		return fmt.Errorf("%w: invalid json: %w", ErrBadRequest, err)
	}
	return nil
}
