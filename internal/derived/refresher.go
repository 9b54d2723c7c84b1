// Package derived refreshes the per-entity financial statement tables. Each
// refresh fully replaces the stored table; there is no delta logic.
package derived

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"EquitySync/internal/collector"
	"EquitySync/internal/model"
	"EquitySync/internal/storage"
)

type Refresher struct {
	fetcher      collector.Fetcher
	store        storage.DerivedStore
	workers      int
	fetchTimeout time.Duration
}

func NewRefresher(fetcher collector.Fetcher, store storage.DerivedStore, workers int, fetchTimeout time.Duration) *Refresher {
	return &Refresher{fetcher: fetcher, store: store, workers: workers, fetchTimeout: fetchTimeout}
}

// Refresh overwrites each entity's table with freshly fetched rows. An empty
// fetch leaves the stored table untouched.
func (r *Refresher) Refresh(ctx context.Context, entities []model.Entity) []model.EntityResult {
	entities = model.UniqueEntities(entities)
	fetched := collector.Gather(ctx, entities, r.workers, r.fetchTimeout, r.fetcher.FetchDerived)

	out := make([]model.EntityResult, 0, len(entities))
	for _, e := range entities {
		res := model.EntityResult{Entity: e, Stage: model.StageDerived}
		f := fetched[e]
		switch {
		case f.Err != nil:
			log.Warn().Str("entity", string(e)).Err(f.Err).Msg("financials fetch failed")
			res.Outcome = model.OutcomeFailed
			res.Err = f.Err.Error()
		case len(f.Value) == 0:
			res.Outcome = model.OutcomeEmpty
		default:
			rows := f.Value
			for i := range rows {
				rows[i].Ticker = e
			}
			if err := r.store.SaveDerived(e, rows); err != nil {
				err = fmt.Errorf("save financials: %w", err)
				log.Error().Str("entity", string(e)).Err(err).Msg("financials not saved")
				res.Outcome = model.OutcomeFailed
				res.Err = err.Error()
				break
			}
			res.Outcome = model.OutcomeUpdated
			res.Rows = len(rows)
			res.LastDate = latest(rows)
		}
		out = append(out, res)
	}
	return out
}

// latest is the newest period date; providers do not promise an order.
func latest(rows []model.DerivedRow) time.Time {
	var last time.Time
	for _, r := range rows {
		if r.Date.After(last) {
			last = r.Date
		}
	}
	return last
}
