package collector

import (
	"context"
	"time"

	"EquitySync/internal/model"
)

// Fetcher defines the interface for fetching data from the external provider.
// An empty result with a nil error means "nothing available", not a failure.
type Fetcher interface {
	// FetchSeries returns daily rows for entity from start (inclusive) to today.
	FetchSeries(ctx context.Context, entity model.Entity, start time.Time) ([]model.RawBar, error)
	// FetchAttributes returns the descriptive attribute set, or nil if none.
	FetchAttributes(ctx context.Context, entity model.Entity) (*model.Attributes, error)
	// FetchDerived returns annual and quarterly financial statement rows.
	FetchDerived(ctx context.Context, entity model.Entity) ([]model.DerivedRow, error)
	Name() string
}

// Exists reports whether the provider knows entity, judged by recent price
// history being available.
func Exists(ctx context.Context, f Fetcher, entity model.Entity, now time.Time) (bool, error) {
	rows, err := f.FetchSeries(ctx, entity, model.Day(now).AddDate(0, 0, -7))
	if err != nil {
		return false, err
	}
	return len(rows) > 0, nil
}
