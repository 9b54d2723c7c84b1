// Package attributes maintains the attribute snapshot table: one row of
// descriptive fields per entity, refreshed when older than a TTL.
package attributes

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog/log"

	"EquitySync/internal/collector"
	"EquitySync/internal/model"
	"EquitySync/internal/storage"
)

// DefaultTTL is how long a snapshot row stays fresh.
const DefaultTTL = 7 * 24 * time.Hour

// ETFSector replaces the provider's sector for configured funds.
const ETFSector = "ETF"

type Options struct {
	TTL          time.Duration
	ETFs         []model.Entity
	Workers      int
	FetchTimeout time.Duration
}

// Refresher refetches stale attribute rows and upserts them.
type Refresher struct {
	fetcher collector.Fetcher
	store   storage.AttributeStore
	ttl     time.Duration
	etfs    map[model.Entity]bool
	opts    Options
	now     func() time.Time
}

func NewRefresher(fetcher collector.Fetcher, store storage.AttributeStore, opts Options, now func() time.Time) *Refresher {
	if opts.TTL <= 0 {
		opts.TTL = DefaultTTL
	}
	if now == nil {
		now = time.Now
	}
	etfs := make(map[model.Entity]bool, len(opts.ETFs))
	for _, e := range opts.ETFs {
		etfs[model.NormalizeEntity(string(e))] = true
	}
	return &Refresher{fetcher: fetcher, store: store, ttl: opts.TTL, etfs: etfs, opts: opts, now: now}
}

// Refresh returns the updated snapshot table. Rows younger than the TTL are
// not refetched. A missing or unreadable table means every entity is stale
// and the table is rewritten. Per-entity
// fetch failures are reported in the results and leave no row behind; the
// returned error is only for a table that could not be read or written.
func (r *Refresher) Refresh(ctx context.Context, entities []model.Entity) ([]model.Attributes, []model.EntityResult, error) {
	entities = model.UniqueEntities(entities)

	table, err := r.store.LoadAttributes()
	corrupt := false
	switch {
	case errors.Is(err, storage.ErrNotFound):
		log.Info().Msg("attribute table missing, populating all entities")
		table = nil
	case errors.Is(err, storage.ErrCorrupt):
		log.Warn().Err(err).Msg("attribute table unreadable, starting fresh")
		table = nil
		corrupt = true
	case err != nil:
		return nil, nil, fmt.Errorf("load attribute table: %w", err)
	}

	rows := Dedup(table)
	current := make(map[model.Entity]model.Attributes, len(rows))
	for _, a := range rows {
		current[a.Ticker] = a
	}

	now := r.now()
	results := make(map[model.Entity]model.EntityResult, len(entities))
	var stale []model.Entity
	for _, e := range entities {
		if a, ok := current[e]; ok && r.fresh(a, now) {
			results[e] = model.EntityResult{Entity: e, Stage: model.StageAttributes, Outcome: model.OutcomeCurrent, LastDate: a.LastUpdated}
			continue
		}
		stale = append(stale, e)
	}

	fetched := collector.Gather(ctx, stale, r.opts.Workers, r.opts.FetchTimeout, r.fetcher.FetchAttributes)

	changed := corrupt || len(rows) != len(table)
	for _, e := range stale {
		res := fetched[e]
		switch {
		case res.Err != nil:
			log.Warn().Str("entity", string(e)).Err(res.Err).Msg("attribute fetch failed")
			results[e] = model.EntityResult{Entity: e, Stage: model.StageAttributes, Outcome: model.OutcomeFailed, Err: res.Err.Error()}
		case res.Value == nil:
			results[e] = model.EntityResult{Entity: e, Stage: model.StageAttributes, Outcome: model.OutcomeEmpty}
		default:
			a := *res.Value
			a.Ticker = e
			if r.etfs[e] {
				a.Sector = ETFSector
			}
			// Stamped at write time so the TTL runs from persistence.
			a.LastUpdated = r.now().UTC().Truncate(time.Second)
			rows = Upsert(rows, a)
			changed = true
			results[e] = model.EntityResult{Entity: e, Stage: model.StageAttributes, Outcome: model.OutcomeUpdated, Rows: 1, LastDate: a.LastUpdated}
		}
	}

	if changed {
		if err := r.store.SaveAttributes(rows); err != nil {
			return rows, ordered(entities, results), fmt.Errorf("save attribute table: %w", err)
		}
		log.Info().Int("rows", len(rows)).Msg("attribute table saved")
	}
	return rows, ordered(entities, results), nil
}

// Remove drops entity's row. A missing table or row is not an error.
func (r *Refresher) Remove(entity model.Entity) (bool, error) {
	table, err := r.store.LoadAttributes()
	if errors.Is(err, storage.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("load attribute table: %w", err)
	}
	out := table[:0:0]
	for _, a := range table {
		if a.Ticker != entity {
			out = append(out, a)
		}
	}
	if len(out) == len(table) {
		return false, nil
	}
	if err := r.store.SaveAttributes(out); err != nil {
		return false, fmt.Errorf("save attribute table: %w", err)
	}
	return true, nil
}

func (r *Refresher) fresh(a model.Attributes, now time.Time) bool {
	if a.LastUpdated.IsZero() {
		return false
	}
	return now.Sub(a.LastUpdated) < r.ttl
}

// Upsert replaces entity's row or appends it.
func Upsert(rows []model.Attributes, a model.Attributes) []model.Attributes {
	for i := range rows {
		if rows[i].Ticker == a.Ticker {
			rows[i] = a
			return rows
		}
	}
	return append(rows, a)
}

// Dedup keeps one row per entity, the one with the newest LastUpdated; on a
// tie the later row wins. Order of first appearance is kept.
func Dedup(rows []model.Attributes) []model.Attributes {
	pos := make(map[model.Entity]int, len(rows))
	out := make([]model.Attributes, 0, len(rows))
	for _, a := range rows {
		i, ok := pos[a.Ticker]
		if !ok {
			pos[a.Ticker] = len(out)
			out = append(out, a)
			continue
		}
		if !a.LastUpdated.Before(out[i].LastUpdated) {
			out[i] = a
		}
	}
	return out
}

// Sorted returns a copy of rows ordered by ticker.
func Sorted(rows []model.Attributes) []model.Attributes {
	out := append([]model.Attributes(nil), rows...)
	sort.Slice(out, func(i, j int) bool { return out[i].Ticker < out[j].Ticker })
	return out
}

func ordered(entities []model.Entity, results map[model.Entity]model.EntityResult) []model.EntityResult {
	out := make([]model.EntityResult, 0, len(entities))
	for _, e := range entities {
		out = append(out, results[e])
	}
	return out
}
