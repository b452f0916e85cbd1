package config_test

import (
	"testing"

	"github.com/okian/coachboard/internal/config"
	"github.com/smartystreets/goconvey/convey"
)

func TestConfig_New(t *testing.T) {
	convey.Convey("Given a new config with default options", t, func() {
		cfg := config.New()

		convey.Convey("Then it should have sensible defaults", func() {
			convey.So(cfg.Addr, convey.ShouldEqual, ":9080")
			convey.So(cfg.MongoDB, convey.ShouldEqual, "kpe")
			convey.So(cfg.AthleteListLimit, convey.ShouldEqual, 100)
			convey.So(cfg.EvaluationListLimit, convey.ShouldEqual, 1000)
			convey.So(cfg.DefaultCoachName, convey.ShouldEqual, "Daniel")
			convey.So(cfg.PlaceholderCoachName, convey.ShouldEqual, "Coach")
			convey.So(cfg.PropagationMaxAttempts, convey.ShouldEqual, 5)
			convey.So(cfg.Validate(), convey.ShouldBeNil)
		})
	})
}

func TestConfig_Driver(t *testing.T) {
	convey.Convey("Given a config without an explicit store driver", t, func() {
		cfg := config.New()

		convey.Convey("When nothing is configured", func() {
			convey.Convey("Then the memory driver is used", func() {
				convey.So(cfg.Driver(), convey.ShouldEqual, config.DriverMemory)
			})
		})

		convey.Convey("When a firestore project is configured", func() {
			cfg.FirestoreProject = "coach-prod"

			convey.Convey("Then firestore is used", func() {
				convey.So(cfg.Driver(), convey.ShouldEqual, config.DriverFirestore)
			})
		})

		convey.Convey("When a mongo uri is configured", func() {
			cfg.FirestoreProject = "coach-prod"
			cfg.MongoURI = "mongodb://localhost:27017"

			convey.Convey("Then mongo wins", func() {
				convey.So(cfg.Driver(), convey.ShouldEqual, config.DriverMongo)
			})
		})

		convey.Convey("When the driver is set explicitly", func() {
			cfg.StoreDriver = config.DriverMemory
			cfg.MongoURI = "mongodb://localhost:27017"

			convey.Convey("Then the explicit value is kept", func() {
				convey.So(cfg.Driver(), convey.ShouldEqual, config.DriverMemory)
			})
		})
	})
}
