package repository

import (
	"errors"
	"fmt"
	"time"

	"github.com/okian/coachboard/pkg/metrics"
)

// observe records the outcome and latency of one store call.
func observe(collection, op string, start time.Time, err error) {
	outcome := metrics.OutcomeOK
	switch {
	case errors.Is(err, ErrNotFound):
		outcome = metrics.OutcomeNotFound
	case err != nil:
		outcome = metrics.OutcomeError
	}
	metrics.RecordStoreOperation(collection, op, outcome, float64(time.Since(start).Microseconds())/1000)
}

// storageErr wraps a driver error as ErrStorage.
func storageErr(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, ErrStorage, err)
}

// isoLayout matches the timestamps written by the original deployment and
// sorts lexicographically.
const isoLayout = "2006-01-02T15:04:05.000Z"

func formatTime(t time.Time) string {
	return t.UTC().Format(isoLayout)
}

// parseTime tolerates the representations found in stored documents.
func parseTime(v any) time.Time {
	switch t := v.(type) {
	case time.Time:
		return t.UTC()
	case string:
		for _, layout := range []string{time.RFC3339Nano, "2006-01-02"} {
			if parsed, err := time.Parse(layout, t); err == nil {
				return parsed.UTC()
			}
		}
	case interface{ Time() time.Time }:
		return t.Time().UTC()
	}
	return time.Time{}
}
