package repository

import (
	"context"
	"fmt"

	"github.com/okian/coachboard/internal/config"
)

// Open builds the store selected by cfg. Remote clients connect lazily.
func Open(_ context.Context, cfg *config.Config) (Store, error) {
	switch cfg.Driver() {
	case config.DriverMongo:
		return NewMongoStore(cfg.MongoURI, cfg.MongoDB), nil
	case config.DriverFirestore:
		return NewFirestoreStore(cfg.FirestoreProject), nil
	case config.DriverMemory:
		return NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("%w: unknown store driver %q", config.ErrInvalidConfig, cfg.Driver())
	}
}
