// Package config defines service configuration structures and loading hooks.
//
// Conventions:
// - New() builds a Config with defaults; Load layers file and env on top.
// - External errors are wrapped with this package's sentinel kinds.
package config

// Store drivers understood by the repository factory.
const (
	DriverMongo     = "mongo"
	DriverFirestore = "firestore"
	DriverMemory    = "memory"
)

// Config contains process configuration.
type Config struct {
	// LogLevel controls verbosity: debug, info, warn, error.
	LogLevel string `koanf:"log_level"`

	// LogFormat selects text or json output.
	LogFormat string `koanf:"log_format"`

	// Addr configures the HTTP listen address, e.g. ":8080".
	Addr string `koanf:"addr"`

	// RequestTimeoutS bounds a single HTTP request, in seconds.
	RequestTimeoutS int `koanf:"request_timeout_s"`

	// StoreDriver picks the document store. Empty means auto-detect:
	// mongo when MongoURI is set, firestore when FirestoreProject is set,
	// memory otherwise.
	StoreDriver string `koanf:"store_driver"`

	MongoURI         string `koanf:"mongo_uri"`
	MongoDB          string `koanf:"mongo_db"`
	FirestoreProject string `koanf:"firestore_project"`

	// AthleteListLimit caps GET /api/athletes.
	AthleteListLimit int `koanf:"athlete_list_limit"`

	// EvaluationListLimit caps GET /api/evaluations.
	EvaluationListLimit int `koanf:"evaluation_list_limit"`

	// DefaultCoachName is used by the dashboard when neither query nor cookie name a coach.
	DefaultCoachName string `koanf:"default_coach_name"`

	// PlaceholderCoachName replaces a blank coach on new evaluations.
	PlaceholderCoachName string `koanf:"placeholder_coach_name"`

	// Rename propagation retry pipeline.
	PropagationQueueSize    int `koanf:"propagation_queue_size"`
	PropagationWorkers      int `koanf:"propagation_workers"`
	PropagationMaxAttempts  int `koanf:"propagation_max_attempts"`
	PropagationRetryDelayMS int `koanf:"propagation_retry_delay_ms"`
	PropagationDedupeSize   int `koanf:"propagation_dedupe_size"`

	CORSAllowedOrigins []string `koanf:"cors_allowed_origins"`

	// KafkaBrokers enables the change feed when non-empty.
	KafkaBrokers []string `koanf:"kafka_brokers"`
	KafkaTopic   string   `koanf:"kafka_topic"`
}

// New creates a Config populated with defaults.
func New() *Config {
	return &Config{
		LogLevel:                "info",
		LogFormat:               "text",
		Addr:                    ":9080",
		RequestTimeoutS:         15,
		MongoDB:                 "kpe",
		AthleteListLimit:        100,
		EvaluationListLimit:     1000,
		DefaultCoachName:        "Daniel",
		PlaceholderCoachName:    "Coach",
		PropagationQueueSize:    1024,
		PropagationWorkers:      2,
		PropagationMaxAttempts:  5,
		PropagationRetryDelayMS: 2000,
		PropagationDedupeSize:   4096,
		CORSAllowedOrigins:      []string{"*"},
		KafkaTopic:              "coachboard.changes",
	}
}

// Driver returns the effective store driver.
func (c *Config) Driver() string {
	if c.StoreDriver != "" {
		return c.StoreDriver
	}
	switch {
	case c.MongoURI != "":
		return DriverMongo
	case c.FirestoreProject != "":
		return DriverFirestore
	default:
		return DriverMemory
	}
}
