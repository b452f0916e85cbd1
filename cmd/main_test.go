package main

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/okian/coachboard/internal/adapters/mq/publisher"
	repository "github.com/okian/coachboard/internal/adapters/repository"
	"github.com/okian/coachboard/internal/config"
	"github.com/okian/coachboard/pkg/logger"
	"github.com/smartystreets/goconvey/convey"
)

func init() {
	if err := logger.Init(); err != nil {
		panic(err)
	}
}

func TestMainConfiguration(t *testing.T) {
	convey.Convey("Given the main application", t, func() {
		convey.Convey("When configuration comes from the environment", func() {
			_ = os.Setenv("COACH_ADDR", ":8080")
			_ = os.Setenv("COACH_PROPAGATION_WORKERS", "4")
			_ = os.Setenv("COACH_DEFAULT_COACH_NAME", "Mira")
			defer func() {
				_ = os.Unsetenv("COACH_ADDR")
				_ = os.Unsetenv("COACH_PROPAGATION_WORKERS")
				_ = os.Unsetenv("COACH_DEFAULT_COACH_NAME")
			}()

			convey.Convey("Then it is loaded over the defaults", func() {
				cfg, err := config.Load(context.Background())
				convey.So(err, convey.ShouldBeNil)
				convey.So(cfg.Addr, convey.ShouldEqual, ":8080")
				convey.So(cfg.PropagationWorkers, convey.ShouldEqual, 4)
				convey.So(cfg.DefaultCoachName, convey.ShouldEqual, "Mira")
				convey.So(cfg.Driver(), convey.ShouldEqual, config.DriverMemory)
			})
		})

		convey.Convey("When the address is blanked out", func() {
			_ = os.Setenv("COACH_ADDR", "")
			defer func() { _ = os.Unsetenv("COACH_ADDR") }()

			convey.Convey("Then loading fails", func() {
				cfg, err := config.Load(context.Background())
				convey.So(err, convey.ShouldNotBeNil)
				convey.So(cfg, convey.ShouldBeNil)
			})
		})
	})
}

func TestMainWiring(t *testing.T) {
	convey.Convey("Given a service wired from the default configuration", t, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		cfg := config.New()
		cfg.DefaultCoachName = "Mira"
		store := repository.NewMemoryStore()
		svc := newService(cfg, store, publisher.Noop{})
		convey.So(svc.Start(ctx), convey.ShouldBeNil)
		defer svc.Stop()

		ensureIndexes(ctx, store)
		srv := httptest.NewServer(newRouter(ctx, cfg, svc))
		defer srv.Close()

		convey.Convey("Then the configured default coach is served", func() {
			resp, err := http.Get(srv.URL + "/api/dashboard")
			convey.So(err, convey.ShouldBeNil)
			defer resp.Body.Close()
			convey.So(resp.StatusCode, convey.ShouldEqual, http.StatusOK)

			var body struct {
				CoachName string `json:"coachName"`
			}
			convey.So(json.NewDecoder(resp.Body).Decode(&body), convey.ShouldBeNil)
			convey.So(body.CoachName, convey.ShouldEqual, "Mira")
		})

		convey.Convey("Then an athlete can be created", func() {
			resp, err := http.Post(srv.URL+"/api/athletes", "application/json", strings.NewReader(
				`{"athleteName":"Anna","discipline":"Kata","coachName":"Mira","gender":"w","rank":"P1"}`))
			convey.So(err, convey.ShouldBeNil)
			defer resp.Body.Close()
			convey.So(resp.StatusCode, convey.ShouldEqual, http.StatusCreated)
		})

		convey.Convey("Then the documentation is mounted next to the API", func() {
			for _, path := range []string{"/api-docs", "/openapi.yaml", "/healthz", "/metrics"} {
				resp, err := http.Get(srv.URL + path)
				convey.So(err, convey.ShouldBeNil)
				convey.So(resp.StatusCode, convey.ShouldEqual, http.StatusOK)
				_ = resp.Body.Close()
			}
		})

		convey.Convey("Then the metrics updaters do not panic", func() {
			convey.So(updateSystemMetrics, convey.ShouldNotPanic)
			convey.So(func() { updateServiceMetrics(ctx, svc) }, convey.ShouldNotPanic)

			short, stop := context.WithTimeout(ctx, 50*time.Millisecond)
			defer stop()
			convey.So(func() { startSystemMetricsUpdater(short) }, convey.ShouldNotPanic)
		})
	})
}
