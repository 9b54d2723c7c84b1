// Package prices keeps each entity's stored daily series in step with the
// provider by fetching only the missing delta.
package prices

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"EquitySync/internal/collector"
	"EquitySync/internal/freshness"
	"EquitySync/internal/model"
	"EquitySync/internal/storage"
	"EquitySync/internal/validate"
)

// Options are the policy knobs of a synchronization pass.
type Options struct {
	RetentionYears int
	MaxFillRun     int
	Workers        int
	FetchTimeout   time.Duration
}

// Synchronizer runs the per-entity delta/merge/persist cycle.
type Synchronizer struct {
	fetcher collector.Fetcher
	store   storage.SeriesStore
	opts    Options
	now     func() time.Time
}

// NewSynchronizer creates a Synchronizer. now defaults to time.Now.
func NewSynchronizer(fetcher collector.Fetcher, store storage.SeriesStore, opts Options, now func() time.Time) *Synchronizer {
	if opts.RetentionYears <= 0 {
		opts.RetentionYears = 5
	}
	if now == nil {
		now = time.Now
	}
	return &Synchronizer{fetcher: fetcher, store: store, opts: opts, now: now}
}

// Sync brings every entity up to date. Fetches run concurrently; merge,
// persist and index update run one entity at a time so an index entry is only
// ever written after its series was stored. A failure for one entity never
// stops the others. The index is not persisted here.
func (s *Synchronizer) Sync(ctx context.Context, idx *freshness.Index, entities []model.Entity) []model.EntityResult {
	entities = model.UniqueEntities(entities)
	if len(entities) == 0 {
		return nil
	}

	now := s.now()
	today := model.Day(now)
	cutoff := Cutoff(today, s.opts.RetentionYears)

	results := make(map[model.Entity]model.EntityResult, len(entities))
	plans := make(map[model.Entity]Plan, len(entities))
	var toFetch []model.Entity

	for _, e := range entities {
		last, ok := idx.Get(e)
		if !ok {
			// Restored storage without an index entry: resume from storage.
			if n := idx.Rebuild([]model.Entity{e}, s.store); n > 0 {
				last, ok = idx.Get(e)
				log.Info().Str("entity", string(e)).Time("last", last).Msg("recovered index entry from storage")
			}
		}
		p := PlanStart(e, last, ok, today, cutoff)
		plans[e] = p
		if p.Current {
			results[e] = model.EntityResult{Entity: e, Stage: model.StagePrices, Outcome: model.OutcomeCurrent, LastDate: last}
			continue
		}
		toFetch = append(toFetch, e)
	}

	fetched := collector.Gather(ctx, toFetch, s.opts.Workers, s.opts.FetchTimeout,
		func(ctx context.Context, e model.Entity) ([]model.RawBar, error) {
			log.Debug().Str("entity", string(e)).Time("start", plans[e].Start).Msg("fetching prices")
			return s.fetcher.FetchSeries(ctx, e, plans[e].Start)
		})

	// Validate everything that arrived in one batch, then split per entity.
	var batch []model.RawBar
	for _, e := range toFetch {
		r := fetched[e]
		if r.Err != nil {
			continue
		}
		for _, row := range r.Value {
			row.Entity = e
			batch = append(batch, row)
		}
	}
	cleaned := validate.Clean(batch, validate.Options{MaxFillRun: s.opts.MaxFillRun})
	deltas := make(map[model.Entity][]model.Bar, len(toFetch))
	for _, tb := range cleaned {
		deltas[tb.Entity] = append(deltas[tb.Entity], tb.Bar)
	}

	for _, e := range toFetch {
		if r := fetched[e]; r.Err != nil {
			log.Warn().Str("entity", string(e)).Err(r.Err).Msg("price fetch failed, keeping stored data")
			results[e] = model.EntityResult{Entity: e, Stage: model.StagePrices, Outcome: model.OutcomeFailed, Err: r.Err.Error()}
			continue
		}
		results[e] = s.apply(idx, e, deltas[e], cutoff)
	}

	out := make([]model.EntityResult, 0, len(entities))
	for _, e := range entities {
		out = append(out, results[e])
	}
	return out
}

// apply merges one entity's cleaned delta into storage and then records the
// new last date.
func (s *Synchronizer) apply(idx *freshness.Index, e model.Entity, delta []model.Bar, cutoff time.Time) model.EntityResult {
	res := model.EntityResult{Entity: e, Stage: model.StagePrices}
	if len(delta) == 0 {
		return s.expire(idx, e, cutoff, res)
	}

	existing, err := s.store.LoadSeries(e)
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		return failed(res, fmt.Errorf("load series: %w", err))
	}

	merged := Merge(existing, delta, cutoff)
	if len(merged) == 0 {
		// Everything fetched predates the retention window.
		if len(existing) > 0 {
			if err := storage.IgnoreNotFound(s.store.DeleteSeries(e)); err != nil {
				return failed(res, fmt.Errorf("delete expired series: %w", err))
			}
		}
		idx.Remove(e)
		res.Outcome = model.OutcomeEmpty
		return res
	}

	EnforceSchema(merged)
	if err := s.store.SaveSeries(e, merged); err != nil {
		return failed(res, fmt.Errorf("save series: %w", err))
	}

	last, _ := model.LastDate(merged)
	idx.Record(e, last)
	log.Info().Str("entity", string(e)).Int("rows", len(delta)).Time("last", last).Msg("prices updated")

	res.Outcome = model.OutcomeUpdated
	res.Rows = len(delta)
	res.LastDate = last
	return res
}

// expire handles a pass with nothing new: stored rows that fell out of the
// retention window are still dropped, anything else is left byte-for-byte.
func (s *Synchronizer) expire(idx *freshness.Index, e model.Entity, cutoff time.Time, res model.EntityResult) model.EntityResult {
	res.Outcome = model.OutcomeEmpty
	res.LastDate, _ = idx.Get(e)

	existing, err := s.store.LoadSeries(e)
	if errors.Is(err, storage.ErrNotFound) {
		if _, ok := idx.Get(e); ok {
			// The series vanished under the entry; the next pass backfills.
			idx.Remove(e)
			res.LastDate = time.Time{}
			log.Warn().Str("entity", string(e)).Msg("index entry without stored series dropped")
		}
		return res
	}
	if err != nil {
		return failed(res, fmt.Errorf("load series: %w", err))
	}
	kept := Prune(existing, cutoff)
	if len(kept) == len(existing) {
		return res
	}

	if len(kept) == 0 {
		if err := storage.IgnoreNotFound(s.store.DeleteSeries(e)); err != nil {
			return failed(res, fmt.Errorf("delete expired series: %w", err))
		}
		idx.Remove(e)
		res.LastDate = time.Time{}
		log.Info().Str("entity", string(e)).Msg("series aged out of retention")
		return res
	}
	if err := s.store.SaveSeries(e, kept); err != nil {
		return failed(res, fmt.Errorf("save series: %w", err))
	}
	log.Info().Str("entity", string(e)).Int("dropped", len(existing)-len(kept)).Msg("pruned expired rows")
	return res
}

func failed(res model.EntityResult, err error) model.EntityResult {
	log.Error().Str("entity", string(res.Entity)).Err(err).Msg("price sync failed")
	res.Outcome = model.OutcomeFailed
	res.Err = err.Error()
	return res
}
