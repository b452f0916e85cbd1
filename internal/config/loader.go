package config

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"

	"github.com/go-viper/mapstructure/v2"
	"github.com/joho/godotenv"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

const envPrefix = "COACH_"

// Load builds a Config by layering defaults, optional file, and env vars.
// Order of precedence (low -> high):
//  1. defaults (New())
//  2. .env file (COACH_ENV_FILE, default ".env"); never overrides real env
//  3. file (YAML) if COACH_CONFIG is set
//  4. env (prefix COACH_)
//  5. legacy MONGODB_URI / MONGODB_DB when the prefixed keys are unset
func Load(_ context.Context) (*Config, error) {
	base := New()

	envFile := os.Getenv(envPrefix + "ENV_FILE")
	if envFile == "" {
		envFile = ".env"
	}
	if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: env file %s: %w", ErrLoadConfig, envFile, err)
	}

	k := koanf.New(".")

	if path := os.Getenv(envPrefix + "CONFIG"); path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrLoadConfig, err)
		}
	}

	// COACH_MONGO_URI -> mongo_uri; underscores are kept to match koanf tags.
	envProvider := env.Provider(envPrefix, ".", func(s string) string {
		return strings.TrimPrefix(strings.ToLower(s), strings.ToLower(envPrefix))
	})
	if err := k.Load(envProvider, nil); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrLoadConfig, err)
	}

	cfg := *base
	// Env values arrive as plain strings; comma lists become slices.
	uc := koanf.UnmarshalConf{
		Tag: "koanf",
		DecoderConfig: &mapstructure.DecoderConfig{
			DecodeHook: mapstructure.ComposeDecodeHookFunc(
				mapstructure.StringToTimeDurationHookFunc(),
				mapstructure.StringToSliceHookFunc(","),
				mapstructure.TextUnmarshallerHookFunc(),
			),
			Result:           &cfg,
			WeaklyTypedInput: true,
		},
	}
	if err := k.UnmarshalWithConf("", &cfg, uc); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrLoadConfig, err)
	}

	if !k.Exists("mongo_uri") {
		if v := os.Getenv("MONGODB_URI"); v != "" {
			cfg.MongoURI = v
		}
	}
	if !k.Exists("mongo_db") {
		if v := os.Getenv("MONGODB_DB"); v != "" {
			cfg.MongoDB = v
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks the invariants the service relies on at start-up.
func (c *Config) Validate() error {
	if c.Addr == "" {
		return fmt.Errorf("%w: addr must not be empty", ErrInvalidConfig)
	}
	switch c.Driver() {
	case DriverMongo:
		if c.MongoURI == "" {
			return fmt.Errorf("%w: mongo driver requires mongo_uri", ErrInvalidConfig)
		}
		if c.MongoDB == "" {
			return fmt.Errorf("%w: mongo driver requires mongo_db", ErrInvalidConfig)
		}
	case DriverFirestore:
		if c.FirestoreProject == "" {
			return fmt.Errorf("%w: firestore driver requires firestore_project", ErrInvalidConfig)
		}
	case DriverMemory:
	default:
		return fmt.Errorf("%w: unknown store_driver %q", ErrInvalidConfig, c.StoreDriver)
	}
	if c.AthleteListLimit <= 0 || c.EvaluationListLimit <= 0 {
		return fmt.Errorf("%w: list limits must be positive", ErrInvalidConfig)
	}
	if c.PropagationQueueSize <= 0 || c.PropagationWorkers <= 0 || c.PropagationMaxAttempts <= 0 {
		return fmt.Errorf("%w: propagation queue, workers and attempts must be positive", ErrInvalidConfig)
	}
	if c.PropagationRetryDelayMS < 0 || c.RequestTimeoutS < 0 {
		return fmt.Errorf("%w: durations must not be negative", ErrInvalidConfig)
	}
	return nil
}
