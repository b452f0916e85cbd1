package view_test

import (
	"testing"
	"time"

	"github.com/okian/coachboard/internal/domain/model"
	"github.com/okian/coachboard/internal/domain/view"
	. "github.com/smartystreets/goconvey/convey"
)

func f(v float64) *float64 { return &v }

func day(y int, m time.Month, d int) time.Time { return time.Date(y, m, d, 10, 0, 0, 0, time.UTC) }

func TestFormatDate(t *testing.T) {
	Convey("Given dates to render", t, func() {
		So(view.FormatDate(day(2024, time.March, 5)), ShouldEqual, "5.3.2024")
		So(view.FormatDate(day(2024, time.December, 24)), ShouldEqual, "24.12.2024")
		So(view.FormatDate(time.Time{}), ShouldEqual, "")
	})
}

func TestNewEvaluation(t *testing.T) {
	Convey("Given a stored evaluation", t, func() {
		ev := model.Evaluation{ID: "1", Athlete: "Anna", Discipline: "Boden", Date: day(2024, time.May, 2)}

		Convey("Then the view carries name and date label", func() {
			v := view.NewEvaluation(ev)
			So(v.Name, ShouldEqual, "Anna - Boden")
			So(v.DateLabel, ShouldEqual, "2.5.2024")
			So(v.ID, ShouldEqual, "1")
		})

		Convey("Then a missing date falls back to createdAt", func() {
			ev.Date = time.Time{}
			ev.CreatedAt = day(2023, time.January, 9)
			So(view.NewEvaluation(ev).DateLabel, ShouldEqual, "9.1.2023")
		})
	})
}

func TestDedupeEvaluations(t *testing.T) {
	Convey("Given a list with repeated records", t, func() {
		list := []model.Evaluation{
			{ID: "a", Athlete: "Anna", Score: f(1)},
			{ID: "a", Athlete: "Anna", Score: f(2)},
			{Athlete: "Ben", Discipline: "Sprung", Date: day(2024, time.May, 2)},
			{Athlete: " Ben ", Discipline: "Sprung", Date: day(2024, time.May, 2)},
			{Athlete: "Ben", Discipline: "Sprung", Date: day(2024, time.May, 3)},
		}

		out := view.DedupeEvaluations(list)

		Convey("Then only the first occurrence of each key survives", func() {
			So(len(out), ShouldEqual, 3)
			So(*out[0].Score, ShouldEqual, 1)
			So(out[2].Date, ShouldEqual, day(2024, time.May, 3))
		})
	})
}

func TestBuildAthleteOptions(t *testing.T) {
	Convey("Given profiles and evaluations", t, func() {
		age := 14
		athletes := []model.Athlete{
			{ID: "id-zoe", Name: "Zoë", Discipline: "Balken", Coach: "Daniel", Age: &age},
			{ID: "id-anna", Name: "Anna", Discipline: "Boden", Coach: "Daniel"},
			{ID: "id-oeli", Name: "Öli", Discipline: "Reck", Coach: "Petra"},
		}
		evaluations := []model.Evaluation{
			{Athlete: "anna", Discipline: "Boden", Coach: "Daniel"},
			{Athlete: "Otto", Discipline: "Sprung", Coach: "Petra"},
			{Athlete: "otto ", Discipline: "Sprung", Coach: "Petra"},
			{Athlete: " ", Discipline: "Sprung"},
		}

		opts := view.BuildAthleteOptions(athletes, evaluations)

		Convey("Then profiles win and evaluation-only names are added once", func() {
			So(len(opts), ShouldEqual, 4)
			labels := make([]string, 0, len(opts))
			for _, o := range opts {
				labels = append(labels, o.Label)
			}
			So(labels, ShouldResemble, []string{"Anna", "Öli", "Otto", "Zoë"})
		})

		Convey("Then sources and profile fields are carried", func() {
			So(opts[0].Source, ShouldEqual, view.SourceAthlete)
			So(opts[0].ID, ShouldEqual, "id-anna")
			So(opts[2].Source, ShouldEqual, view.SourceEvaluation)
			So(opts[2].ID, ShouldEqual, "Otto")
			So(*opts[3].Age, ShouldEqual, 14)
		})

		Convey("When finding an option", func() {
			byID, ok1 := view.FindAthleteOption(opts, "id-anna")
			byLabel, ok2 := view.FindAthleteOption(opts, " OTTO ")
			_, ok3 := view.FindAthleteOption(opts, "Nobody")
			_, ok4 := view.FindAthleteOption(opts, "")

			Convey("Then id and case-insensitive label both match", func() {
				So(ok1, ShouldBeTrue)
				So(byID.Label, ShouldEqual, "Anna")
				So(ok2, ShouldBeTrue)
				So(byLabel.ID, ShouldEqual, "Otto")
				So(ok3, ShouldBeFalse)
				So(ok4, ShouldBeFalse)
			})
		})
	})
}

func TestSummarize(t *testing.T) {
	Convey("Given an athlete's evaluations", t, func() {
		list := []model.Evaluation{
			{ID: "1", Athlete: "Anna", Score: f(50), Date: day(2022, time.June, 1), Badge: "Genügend", BadgeTone: "yellow"},
			{ID: "2", Athlete: "ANNA", Score: f(90), Date: day(2024, time.June, 1), Badge: "Custom", BadgeTone: "purple"},
			{ID: "2", Athlete: "ANNA", Score: f(90), Date: day(2024, time.June, 1)},
			{ID: "3", Athlete: "Ben", Score: f(10), Date: day(2025, time.June, 1)},
		}

		mine := view.EvaluationsFor(list, "anna")
		s := view.Summarize(mine)

		Convey("Then only that athlete's unique records are used, newest first", func() {
			So(len(mine), ShouldEqual, 2)
			So(mine[0].ID, ShouldEqual, "2")
		})

		Convey("Then the summary derives the badge from the latest score", func() {
			So(s.Count, ShouldEqual, 2)
			So(*s.AverageScore, ShouldEqual, 70)
			So(*s.LatestScore, ShouldEqual, 90)
			So(s.LatestDate, ShouldEqual, "1.6.2024")
			So(s.Badge.Label, ShouldEqual, "Sehr gut")
		})

		Convey("Then an empty list is open", func() {
			empty := view.Summarize(nil)
			So(empty.Count, ShouldEqual, 0)
			So(empty.AverageScore, ShouldBeNil)
			So(empty.Badge.Label, ShouldEqual, "Offen")
		})

		Convey("Then a missing latest score keeps the stored badge", func() {
			s := view.Summarize([]model.Evaluation{{Badge: "Gut", BadgeTone: "blue", Date: day(2024, time.May, 1)}})
			So(s.Badge.Label, ShouldEqual, "Gut")
			So(s.AverageScore, ShouldBeNil)
		})
	})
}
