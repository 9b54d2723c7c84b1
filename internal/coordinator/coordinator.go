// Package coordinator owns the freshness index and runs passes and removal
// cascades so that the index and storage never disagree for long.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"EquitySync/internal/attributes"
	"EquitySync/internal/derived"
	"EquitySync/internal/freshness"
	"EquitySync/internal/metrics"
	"EquitySync/internal/model"
	"EquitySync/internal/notifier"
	"EquitySync/internal/prices"
	"EquitySync/internal/recorder"
	"EquitySync/internal/registry"
	"EquitySync/internal/storage"
)

// ErrPassInProgress is returned when a pass is requested while one runs.
var ErrPassInProgress = errors.New("coordinator: pass already in progress")

// Deps are the collaborators of a Coordinator. Recorder and Notifier may be
// nil.
type Deps struct {
	Registry   registry.Registry
	IndexStore freshness.Store
	Store      storage.Store
	Prices     *prices.Synchronizer
	Attributes *attributes.Refresher
	Derived    *derived.Refresher
	Recorder   recorder.Recorder
	Notifier   notifier.Notifier
	Now        func() time.Time
}

type Coordinator struct {
	d       Deps
	mu      sync.Mutex
	running atomic.Bool
	idx     *freshness.Index
}

func New(d Deps) *Coordinator {
	if d.Recorder == nil {
		d.Recorder = recorder.NewNoopRecorder()
	}
	if d.Notifier == nil {
		d.Notifier = notifier.Noop{}
	}
	if d.Now == nil {
		d.Now = time.Now
	}
	return &Coordinator{d: d}
}

// Reconcile loads the index and repairs it against storage. Every pass does
// this first; removals and status reuse the last reconciled index.
func (c *Coordinator) Reconcile() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.reconcile()
}

func (c *Coordinator) reconcile() error {
	idx := freshness.Load(c.d.IndexStore, c.d.Store)
	entities, err := c.d.Registry.List()
	if err != nil {
		return fmt.Errorf("list registry: %w", err)
	}
	if n := idx.Rebuild(entities, c.d.Store); n > 0 {
		log.Info().Int("rebuilt", n).Msg("index entries recovered for registry entities")
	}
	if _, err := idx.PersistIfDirty(); err != nil {
		return fmt.Errorf("persist index: %w", err)
	}
	c.idx = idx
	metrics.SetIndexEntries(idx.Len())
	return nil
}

func (c *Coordinator) ensureIndex() error {
	if c.idx != nil {
		return nil
	}
	return c.reconcile()
}

// Status returns the current index entries.
func (c *Coordinator) Status() ([]freshness.Entry, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.ensureIndex(); err != nil {
		return nil, err
	}
	return c.idx.Entries(), nil
}

// RunPass synchronizes prices, then attributes, then derived tables for every
// registry entity. Per-entity failures are part of the report, not errors.
func (c *Coordinator) RunPass(ctx context.Context) (*model.PassReport, error) {
	if !c.running.CompareAndSwap(false, true) {
		return nil, ErrPassInProgress
	}
	defer c.running.Store(false)
	c.mu.Lock()
	defer c.mu.Unlock()

	// Storage may have changed since the last pass; never plan from a stale
	// last date.
	if err := c.reconcile(); err != nil {
		return nil, err
	}
	entities, err := c.d.Registry.List()
	if err != nil {
		return nil, fmt.Errorf("list registry: %w", err)
	}

	report := &model.PassReport{ID: uuid.NewString(), StartedAt: c.d.Now(), Entities: len(entities)}
	if len(entities) == 0 {
		log.Info().Msg("registry is empty, nothing to synchronize")
		report.FinishedAt = c.d.Now()
		return report, nil
	}
	log.Info().Str("pass", report.ID).Int("entities", len(entities)).Msg("pass started")

	report.Results = append(report.Results, c.d.Prices.Sync(ctx, c.idx, entities)...)
	if _, err := c.idx.PersistIfDirty(); err != nil {
		// Storage is ahead of the persisted index; the next load repairs it.
		log.Error().Err(err).Msg("persist freshness index")
	}
	metrics.SetIndexEntries(c.idx.Len())

	if c.d.Attributes != nil {
		_, results, err := c.d.Attributes.Refresh(ctx, entities)
		if err != nil {
			log.Error().Err(err).Msg("attribute refresh")
			if results == nil {
				results = failAll(entities, model.StageAttributes, err)
			}
		}
		report.Results = append(report.Results, results...)
	}

	if c.d.Derived != nil {
		report.Results = append(report.Results, c.d.Derived.Refresh(ctx, entities)...)
	}

	report.FinishedAt = c.d.Now()
	c.finish(ctx, report)
	return report, nil
}

func (c *Coordinator) finish(ctx context.Context, report *model.PassReport) {
	log.Info().
		Str("pass", report.ID).
		Int("prices_updated", report.Count(model.StagePrices, model.OutcomeUpdated)).
		Int("failed", len(report.Failed())).
		Dur("duration", report.Duration()).
		Msg("pass finished")

	metrics.ObservePass(report)
	if err := c.d.Recorder.RecordPass(report); err != nil {
		log.Error().Err(err).Msg("record pass")
	}
	if err := c.d.Notifier.Notify(ctx, notifier.FormatPassSummary(report)); err != nil {
		log.Error().Err(err).Msg("send pass summary")
	}
}

func failAll(entities []model.Entity, stage model.Stage, err error) []model.EntityResult {
	out := make([]model.EntityResult, 0, len(entities))
	for _, e := range entities {
		out = append(out, model.EntityResult{Entity: e, Stage: stage, Outcome: model.OutcomeFailed, Err: err.Error()})
	}
	return out
}
