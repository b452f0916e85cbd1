package model_test

import (
	"errors"
	"testing"
	"time"

	"github.com/okian/coachboard/internal/domain/model"
	. "github.com/smartystreets/goconvey/convey"
)

func f(v float64) *float64 { return &v }

var now = time.Date(2025, 3, 14, 9, 30, 0, 0, time.UTC)

func validAthlete() model.AthleteInput {
	return model.AthleteInput{
		Name:       " Anna ",
		Discipline: "Boden",
		Coach:      " Daniel ",
		Gender:     "w",
		Rank:       "P3",
		Email:      " ",
	}
}

func TestNewAthlete(t *testing.T) {
	Convey("Given a valid athlete input", t, func() {
		in := validAthlete()

		Convey("When the age is omitted", func() {
			a, err := model.NewAthlete(in, now)

			Convey("Then the profile is trimmed, normalized and has no age", func() {
				So(err, ShouldBeNil)
				So(a.Name, ShouldEqual, "Anna")
				So(a.Coach, ShouldEqual, "Daniel")
				So(a.CoachNormalized, ShouldEqual, "daniel")
				So(a.Email, ShouldEqual, "")
				So(a.Age, ShouldBeNil)
				So(a.CreatedAt, ShouldEqual, now)
			})
		})

		Convey("When the age is fractional", func() {
			in.Age = f(12.7)
			a, err := model.NewAthlete(in, now)

			Convey("Then it is truncated", func() {
				So(err, ShouldBeNil)
				So(*a.Age, ShouldEqual, 12)
			})
		})

		Convey("When the age is negative", func() {
			in.Age = f(-1)
			_, err := model.NewAthlete(in, now)

			Convey("Then a validation error is returned", func() {
				So(errors.Is(err, model.ErrValidation), ShouldBeTrue)
			})
		})

		Convey("When any required field is blank", func() {
			blankers := []func(*model.AthleteInput){
				func(i *model.AthleteInput) { i.Name = " " },
				func(i *model.AthleteInput) { i.Discipline = "" },
				func(i *model.AthleteInput) { i.Coach = "" },
				func(i *model.AthleteInput) { i.Gender = "" },
				func(i *model.AthleteInput) { i.Rank = "\t" },
			}

			Convey("Then each one fails validation", func() {
				for _, blank := range blankers {
					bad := validAthlete()
					blank(&bad)
					_, err := model.NewAthlete(bad, now)
					So(errors.Is(err, model.ErrValidation), ShouldBeTrue)
				}
			})
		})
	})
}

func TestAthleteApply(t *testing.T) {
	Convey("Given a stored athlete", t, func() {
		a, _ := model.NewAthlete(validAthlete(), now)
		a.ID = "abc"

		Convey("When new input is applied", func() {
			in := validAthlete()
			in.Name = "Anna B."
			in.Email = "anna@example.com"
			clean, err := in.Normalize()
			So(err, ShouldBeNil)
			a.Apply(clean)

			Convey("Then mutable fields change and identity is preserved", func() {
				So(a.ID, ShouldEqual, "abc")
				So(a.CreatedAt, ShouldEqual, now)
				So(a.Name, ShouldEqual, "Anna B.")
				So(a.Email, ShouldEqual, "anna@example.com")
			})
		})
	})
}

func TestNewEvaluation(t *testing.T) {
	Convey("Given an evaluation input", t, func() {
		in := model.EvaluationInput{Athlete: "Anna", Discipline: "Boden", Score: f(85)}

		Convey("When no badge is supplied", func() {
			ev, err := model.NewEvaluation(in, "Coach", now)

			Convey("Then the badge is classified and defaults are applied", func() {
				So(err, ShouldBeNil)
				So(ev.Badge, ShouldEqual, "Sehr gut")
				So(ev.BadgeTone, ShouldEqual, "green")
				So(ev.Coach, ShouldEqual, "Coach")
				So(ev.Date, ShouldEqual, now)
				So(ev.CreatedAt, ShouldEqual, now)
				So(ev.Details, ShouldNotBeNil)
				So(ev.Details, ShouldBeEmpty)
			})
		})

		Convey("When an explicit badge is supplied", func() {
			in.Badge = "Custom"
			in.Score = f(12)
			ev, err := model.NewEvaluation(in, "Coach", now)

			Convey("Then it is preserved regardless of score", func() {
				So(err, ShouldBeNil)
				So(ev.Badge, ShouldEqual, "Custom")
				So(ev.BadgeTone, ShouldEqual, "red")
			})
		})

		Convey("When the score is missing", func() {
			in.Score = nil
			ev, err := model.NewEvaluation(in, "Coach", now)

			Convey("Then the lowest tier is stored", func() {
				So(err, ShouldBeNil)
				So(ev.Score, ShouldBeNil)
				So(ev.Badge, ShouldEqual, "Ungenügend")
			})
		})

		Convey("When athlete or discipline is blank", func() {
			_, errA := model.NewEvaluation(model.EvaluationInput{Discipline: "Boden"}, "Coach", now)
			_, errD := model.NewEvaluation(model.EvaluationInput{Athlete: "Anna", Discipline: " "}, "Coach", now)

			Convey("Then validation fails", func() {
				So(errors.Is(errA, model.ErrValidation), ShouldBeTrue)
				So(errors.Is(errD, model.ErrValidation), ShouldBeTrue)
			})
		})

		Convey("When a date is supplied", func() {
			in.Date = "2024-05-02"
			ev, err := model.NewEvaluation(in, "Coach", now)

			Convey("Then it is used instead of now", func() {
				So(err, ShouldBeNil)
				So(ev.Date, ShouldEqual, time.Date(2024, 5, 2, 0, 0, 0, 0, time.UTC))
				So(ev.CreatedAt, ShouldEqual, now)
			})
		})
	})
}

func TestParseDate(t *testing.T) {
	Convey("Given supported date formats", t, func() {
		want := time.Date(2024, 5, 2, 0, 0, 0, 0, time.UTC)

		Convey("Then each parses to the same day", func() {
			for _, s := range []string{"2024-05-02", "2.5.2024", "02.05.2024", "2024-05-02T00:00:00Z", "2024-05-02T02:00:00+02:00"} {
				got, err := model.ParseDate(s, now)
				So(err, ShouldBeNil)
				So(got.Equal(want), ShouldBeTrue)
			}
		})

		Convey("Then blank input yields now", func() {
			got, err := model.ParseDate("  ", now)
			So(err, ShouldBeNil)
			So(got, ShouldEqual, now)
		})

		Convey("Then garbage is rejected", func() {
			_, err := model.ParseDate("yesterday", now)
			So(errors.Is(err, model.ErrValidation), ShouldBeTrue)
		})
	})
}
