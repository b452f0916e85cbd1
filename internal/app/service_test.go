package service_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/okian/coachboard/internal/adapters/mq/publisher"
	repository "github.com/okian/coachboard/internal/adapters/repository"
	service "github.com/okian/coachboard/internal/app"
	"github.com/okian/coachboard/internal/domain/badge"
	"github.com/okian/coachboard/internal/domain/model"
	"github.com/okian/coachboard/pkg/logger"
	. "github.com/smartystreets/goconvey/convey"
)

func init() {
	// Initialize logging for tests
	if err := logger.Init(); err != nil {
		panic(err)
	}
}

func score(v float64) *float64 { return &v }

func age(v float64) *float64 { return &v }

// flakyStore fails the first failures rename calls, and every rename onto
// unreachable when set.
type flakyStore struct {
	*repository.MemoryStore
	failures    int32
	unreachable string
	calls       atomic.Int32
}

func (f *flakyStore) RenameAthlete(ctx context.Context, oldNames []string, newName string) (int64, error) {
	if f.calls.Add(1) <= f.failures || (f.unreachable != "" && newName == f.unreachable) {
		return 0, errors.New("store unavailable")
	}
	return f.MemoryStore.RenameAthlete(ctx, oldNames, newName)
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []publisher.Event
}

func (r *recordingPublisher) Publish(_ context.Context, e publisher.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
	return nil
}

func (r *recordingPublisher) Close() error { return nil }

func (r *recordingPublisher) kinds() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.events))
	for _, e := range r.events {
		out = append(out, e.Kind)
	}
	return out
}

func anna() model.AthleteInput {
	return model.AthleteInput{
		Name: "Anna", Discipline: "Boden", Coach: "Daniel", Gender: "w", Rank: "P1", Age: age(14.7),
	}
}

func evaluationFor(name, date string) model.EvaluationInput {
	return model.EvaluationInput{Athlete: name, Discipline: "Boden", Coach: "Daniel", Score: score(72), Date: date}
}

func athleteNames(list []model.Evaluation) []string {
	out := make([]string, 0, len(list))
	for _, ev := range list {
		out = append(out, ev.Athlete)
	}
	return out
}

func TestService_Athletes(t *testing.T) {
	Convey("Given a service over an empty memory store", t, func() {
		ctx := context.Background()
		pub := &recordingPublisher{}
		svc := service.New(repository.NewMemoryStore(), service.WithPublisher(pub))

		Convey("When an athlete is created", func() {
			a, err := svc.CreateAthlete(ctx, anna())

			Convey("Then it is stored with derived fields", func() {
				So(err, ShouldBeNil)
				So(a.ID, ShouldNotBeEmpty)
				So(a.CoachNormalized, ShouldEqual, "daniel")
				So(*a.Age, ShouldEqual, 14)
				So(a.CreatedAt.IsZero(), ShouldBeFalse)
				So(pub.kinds(), ShouldResemble, []string{publisher.KindAthleteCreated})
			})
		})

		Convey("When a required field is blank", func() {
			in := anna()
			in.Rank = "  "
			_, err := svc.CreateAthlete(ctx, in)

			Convey("Then a validation error is returned", func() {
				So(errors.Is(err, model.ErrValidation), ShouldBeTrue)
			})
		})

		Convey("When the age is negative", func() {
			in := anna()
			in.Age = age(-1)
			_, err := svc.CreateAthlete(ctx, in)

			Convey("Then a validation error is returned", func() {
				So(errors.Is(err, model.ErrValidation), ShouldBeTrue)
			})
		})

		Convey("When updating without an id", func() {
			_, err := svc.UpdateAthlete(ctx, " ", anna(), "")

			Convey("Then a validation error is returned", func() {
				So(errors.Is(err, model.ErrValidation), ShouldBeTrue)
			})
		})

		Convey("When updating an unknown id", func() {
			_, err := svc.UpdateAthlete(ctx, "missing", anna(), "")

			Convey("Then a not-found error is returned", func() {
				So(errors.Is(err, repository.ErrNotFound), ShouldBeTrue)
			})
		})

		Convey("When deleting the same athlete twice", func() {
			a, _ := svc.CreateAthlete(ctx, anna())
			first := svc.DeleteAthlete(ctx, a.ID)
			second := svc.DeleteAthlete(ctx, a.ID)

			Convey("Then the second delete reports not found", func() {
				So(first, ShouldBeNil)
				So(errors.Is(second, repository.ErrNotFound), ShouldBeTrue)
			})
		})
	})
}

func TestService_RenamePropagation(t *testing.T) {
	Convey("Given an athlete with evaluations under several spellings", t, func() {
		ctx := context.Background()
		pub := &recordingPublisher{}
		svc := service.New(repository.NewMemoryStore(), service.WithPublisher(pub))

		a, err := svc.CreateAthlete(ctx, anna())
		So(err, ShouldBeNil)
		for _, in := range []model.EvaluationInput{
			evaluationFor("Anna", "2024-01-05"),
			evaluationFor("anna ", "2024-02-05"),
			evaluationFor("Ann", "2024-03-05"),
			evaluationFor("Bea", "2024-04-05"),
		} {
			_, err := svc.CreateEvaluation(ctx, in)
			So(err, ShouldBeNil)
		}

		Convey("When the athlete is renamed", func() {
			in := anna()
			in.Name = "Anna B."
			in.Rank = "P2"
			updated, err := svc.UpdateAthlete(ctx, a.ID, in, "")

			Convey("Then the profile keeps its identity and creation time", func() {
				So(err, ShouldBeNil)
				So(updated.ID, ShouldEqual, a.ID)
				So(updated.CreatedAt, ShouldEqual, a.CreatedAt)
				So(updated.Rank, ShouldEqual, "P2")
			})

			Convey("Then evaluations under the stored name follow", func() {
				list, err := svc.ListEvaluations(ctx, "")
				So(err, ShouldBeNil)
				So(athleteNames(list), ShouldResemble, []string{"Bea", "Ann", "Anna B.", "Anna B."})
				So(pub.kinds(), ShouldContain, publisher.KindAthleteRenamed)
			})
		})

		Convey("When the previous name is supplied as well", func() {
			in := anna()
			in.Name = "Anna B."
			_, err := svc.UpdateAthlete(ctx, a.ID, in, "Ann")

			Convey("Then evaluations under both names follow", func() {
				So(err, ShouldBeNil)
				list, _ := svc.ListEvaluations(ctx, "")
				So(athleteNames(list), ShouldResemble, []string{"Bea", "Anna B.", "Anna B.", "Anna B."})
			})
		})

		Convey("When only other fields change", func() {
			in := anna()
			in.Discipline = "Sprung"
			_, err := svc.UpdateAthlete(ctx, a.ID, in, "Anna")

			Convey("Then no evaluation is touched", func() {
				So(err, ShouldBeNil)
				list, _ := svc.ListEvaluations(ctx, "")
				So(athleteNames(list), ShouldResemble, []string{"Bea", "Ann", "anna", "Anna"})
				So(pub.kinds(), ShouldNotContain, publisher.KindAthleteRenamed)
			})
		})
	})
}

func TestService_RenameRetry(t *testing.T) {
	Convey("Given a store whose first rename fails", t, func() {
		ctx := context.Background()
		store := &flakyStore{MemoryStore: repository.NewMemoryStore(), failures: 1}
		svc := service.New(store, service.WithRetryPolicy(3, 10*time.Millisecond), service.WithWorkerCount(1))
		So(svc.Start(ctx), ShouldBeNil)
		defer svc.Stop()

		a, err := svc.CreateAthlete(ctx, anna())
		So(err, ShouldBeNil)
		_, err = svc.CreateEvaluation(ctx, evaluationFor("Anna", "2024-01-05"))
		So(err, ShouldBeNil)

		Convey("When the athlete is renamed", func() {
			in := anna()
			in.Name = "Anna B."
			updated, err := svc.UpdateAthlete(ctx, a.ID, in, "")

			Convey("Then the profile update succeeds regardless", func() {
				So(err, ShouldBeNil)
				So(updated.Name, ShouldEqual, "Anna B.")
			})

			Convey("Then the rename is applied by a retry", func() {
				deadline := time.Now().Add(2 * time.Second)
				var names []string
				for time.Now().Before(deadline) {
					list, _ := svc.ListEvaluations(ctx, "")
					names = athleteNames(list)
					if len(names) == 1 && names[0] == "Anna B." {
						break
					}
					time.Sleep(10 * time.Millisecond)
				}
				So(names, ShouldResemble, []string{"Anna B."})
				So(store.calls.Load(), ShouldBeGreaterThanOrEqualTo, 2)
			})
		})
	})
}

func TestService_RenameRetryAfterSecondRename(t *testing.T) {
	Convey("Given a store that cannot complete the first rename", t, func() {
		ctx := context.Background()
		store := &flakyStore{MemoryStore: repository.NewMemoryStore(), unreachable: "Anna B."}
		svc := service.New(store, service.WithRetryPolicy(5, 10*time.Millisecond), service.WithWorkerCount(1))
		So(svc.Start(ctx), ShouldBeNil)
		defer svc.Stop()

		a, err := svc.CreateAthlete(ctx, anna())
		So(err, ShouldBeNil)
		_, err = svc.CreateEvaluation(ctx, evaluationFor("Anna", "2024-01-05"))
		So(err, ShouldBeNil)

		Convey("When the athlete is renamed twice before the retry succeeds", func() {
			in := anna()
			in.Name = "Anna B."
			_, err := svc.UpdateAthlete(ctx, a.ID, in, "")
			So(err, ShouldBeNil)
			in.Name = "Anna C."
			latest, err := svc.UpdateAthlete(ctx, a.ID, in, "")
			So(err, ShouldBeNil)
			So(latest.Name, ShouldEqual, "Anna C.")

			Convey("Then the evaluations end on the latest name", func() {
				deadline := time.Now().Add(2 * time.Second)
				var names []string
				for time.Now().Before(deadline) {
					list, _ := svc.ListEvaluations(ctx, "")
					names = athleteNames(list)
					if len(names) == 1 && names[0] == "Anna C." {
						break
					}
					time.Sleep(10 * time.Millisecond)
				}
				So(names, ShouldResemble, []string{"Anna C."})

				time.Sleep(100 * time.Millisecond)
				list, err := svc.ListEvaluations(ctx, "")
				So(err, ShouldBeNil)
				So(athleteNames(list), ShouldResemble, []string{"Anna C."})

				stored, err := store.GetAthlete(ctx, a.ID)
				So(err, ShouldBeNil)
				So(stored.Name, ShouldEqual, "Anna C.")
			})
		})

		Convey("When the athlete is deleted before the retry", func() {
			in := anna()
			in.Name = "Anna B."
			_, err := svc.UpdateAthlete(ctx, a.ID, in, "")
			So(err, ShouldBeNil)
			So(svc.DeleteAthlete(ctx, a.ID), ShouldBeNil)

			Convey("Then the evaluations keep their name", func() {
				time.Sleep(100 * time.Millisecond)
				list, err := svc.ListEvaluations(ctx, "")
				So(err, ShouldBeNil)
				So(athleteNames(list), ShouldResemble, []string{"Anna"})
			})
		})
	})
}

func TestService_Evaluations(t *testing.T) {
	Convey("Given a service over an empty memory store", t, func() {
		ctx := context.Background()
		svc := service.New(repository.NewMemoryStore(), service.WithEvaluationListLimit(2))

		Convey("When an evaluation without coach and badge is created", func() {
			ev, err := svc.CreateEvaluation(ctx, model.EvaluationInput{
				Athlete: " Anna ", Discipline: "Boden", Score: score(85),
			})

			Convey("Then coach, badge and dates are filled in", func() {
				So(err, ShouldBeNil)
				So(ev.Athlete, ShouldEqual, "Anna")
				So(ev.Coach, ShouldEqual, "Coach")
				So(ev.Badge, ShouldEqual, badge.LabelExcellent)
				So(ev.BadgeTone, ShouldEqual, badge.ToneGreen)
				So(ev.Date.IsZero(), ShouldBeFalse)
				So(ev.Details, ShouldNotBeNil)
			})
		})

		Convey("When an explicit badge is supplied", func() {
			ev, err := svc.CreateEvaluation(ctx, model.EvaluationInput{
				Athlete: "Anna", Discipline: "Boden", Score: score(30), Badge: "Custom",
			})

			Convey("Then the label is kept and the tone derived", func() {
				So(err, ShouldBeNil)
				So(ev.Badge, ShouldEqual, "Custom")
				So(ev.BadgeTone, ShouldEqual, badge.ToneRed)
			})
		})

		Convey("When the date cannot be parsed", func() {
			_, err := svc.CreateEvaluation(ctx, model.EvaluationInput{Athlete: "Anna", Discipline: "Boden", Date: "soon"})

			Convey("Then a validation error is returned", func() {
				So(errors.Is(err, model.ErrValidation), ShouldBeTrue)
			})
		})

		Convey("When more evaluations exist than the limit", func() {
			for _, d := range []string{"2024-01-01", "2024-03-01", "2024-02-01"} {
				_, err := svc.CreateEvaluation(ctx, evaluationFor("Anna", d))
				So(err, ShouldBeNil)
			}
			list, err := svc.ListEvaluations(ctx, "daniel")

			Convey("Then the newest ones are returned", func() {
				So(err, ShouldBeNil)
				So(len(list), ShouldEqual, 2)
				So(list[0].Date.Month(), ShouldEqual, time.March)
				So(list[1].Date.Month(), ShouldEqual, time.February)
			})
		})

		Convey("When deleting by athlete twice", func() {
			_, _ = svc.CreateEvaluation(ctx, evaluationFor("Anna", "2024-01-01"))
			_, _ = svc.CreateEvaluation(ctx, evaluationFor("ANNA", "2024-01-02"))
			_, _ = svc.CreateEvaluation(ctx, evaluationFor("Bea", "2024-01-03"))
			first, err1 := svc.DeleteEvaluationsByAthlete(ctx, "anna")
			second, err2 := svc.DeleteEvaluationsByAthlete(ctx, "anna")

			Convey("Then the second call succeeds with zero", func() {
				So(err1, ShouldBeNil)
				So(err2, ShouldBeNil)
				So(first, ShouldEqual, 2)
				So(second, ShouldEqual, 0)
			})
		})

		Convey("When deleting by a blank athlete", func() {
			_, err := svc.DeleteEvaluationsByAthlete(ctx, " ")

			Convey("Then a validation error is returned", func() {
				So(errors.Is(err, model.ErrValidation), ShouldBeTrue)
			})
		})

		Convey("When deleting one evaluation twice", func() {
			ev, _ := svc.CreateEvaluation(ctx, evaluationFor("Anna", "2024-01-01"))
			first := svc.DeleteEvaluation(ctx, ev.ID)
			second := svc.DeleteEvaluation(ctx, ev.ID)

			Convey("Then the second delete reports not found", func() {
				So(first, ShouldBeNil)
				So(errors.Is(second, repository.ErrNotFound), ShouldBeTrue)
			})
		})

		Convey("When deleting everything", func() {
			_, _ = svc.CreateEvaluation(ctx, evaluationFor("Anna", "2024-01-01"))
			_, _ = svc.CreateEvaluation(ctx, evaluationFor("Bea", "2024-01-01"))
			n, err := svc.DeleteAllEvaluations(ctx)

			Convey("Then the count is reported and nothing remains", func() {
				So(err, ShouldBeNil)
				So(n, ShouldEqual, 2)
				list, _ := svc.ListEvaluations(ctx, "")
				So(list, ShouldBeEmpty)
			})
		})
	})
}

func TestService_Views(t *testing.T) {
	Convey("Given athletes and evaluations of two coaches", t, func() {
		ctx := context.Background()
		svc := service.New(repository.NewMemoryStore(), service.WithDefaultCoach("Daniel"))

		_, _ = svc.CreateAthlete(ctx, anna())
		petra := anna()
		petra.Name, petra.Coach = "Cleo", "Petra"
		_, _ = svc.CreateAthlete(ctx, petra)
		_, _ = svc.CreateEvaluation(ctx, evaluationFor("Anna", "2024-01-05"))
		late := evaluationFor("Anna", "2024-06-05")
		late.Score = score(91)
		_, _ = svc.CreateEvaluation(ctx, late)
		_, _ = svc.CreateEvaluation(ctx, evaluationFor("Zoe", "2024-02-05"))

		Convey("When the dashboard is loaded without a coach", func() {
			d, err := svc.Dashboard(ctx, "")

			Convey("Then the default coach is used", func() {
				So(err, ShouldBeNil)
				So(d.CoachName, ShouldEqual, "Daniel")
				So(len(d.Athletes), ShouldEqual, 1)
				So(len(d.AllAthletes), ShouldEqual, 2)
				So(len(d.Evaluations), ShouldEqual, 3)
				So(d.Evaluations[0].Name, ShouldEqual, "Anna - Boden")
				So(d.Evaluations[0].DateLabel, ShouldEqual, "5.6.2024")
			})

			Convey("Then options merge profiles with evaluation-only names", func() {
				labels := make([]string, 0, len(d.AthleteOptions))
				for _, o := range d.AthleteOptions {
					labels = append(labels, o.Label)
				}
				So(labels, ShouldResemble, []string{"Anna", "Cleo", "Zoe"})
			})
		})

		Convey("When an athlete view is requested", func() {
			v, err := svc.AthleteView(ctx, "anna")

			Convey("Then the athlete's evaluations are summarised", func() {
				So(err, ShouldBeNil)
				So(v.Selected, ShouldNotBeNil)
				So(v.Selected.Label, ShouldEqual, "Anna")
				So(len(v.Evaluations), ShouldEqual, 2)
				So(v.Summary.Count, ShouldEqual, 2)
				So(*v.Summary.LatestScore, ShouldEqual, 91)
				So(v.Summary.Badge.Tone, ShouldEqual, badge.ToneGreen)
			})
		})

		Convey("When an unknown athlete is requested", func() {
			v, err := svc.AthleteView(ctx, "nobody")

			Convey("Then only the options are returned", func() {
				So(err, ShouldBeNil)
				So(v.Selected, ShouldBeNil)
				So(v.Evaluations, ShouldBeEmpty)
				So(len(v.Options), ShouldEqual, 3)
			})
		})
	})
}
