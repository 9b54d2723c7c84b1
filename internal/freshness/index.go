// Package freshness maintains the entity -> last confirmed date index.
//
// The index is a cache over price storage, never the source of truth. Load
// repairs it against storage in both directions: entries without a stored
// series are dropped, stored series without an entry are re-derived. Neither
// case is an error.
package freshness

import (
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"EquitySync/internal/model"
	"EquitySync/internal/storage"
)

const dateLayout = "2006-01-02"

// Index maps entities to the last date confirmed present in storage.
type Index struct {
	mu      sync.Mutex
	entries map[model.Entity]time.Time
	store   Store
	dirty   bool
}

// Entry is one index row.
type Entry struct {
	Entity model.Entity
	Date   time.Time
}

// New returns an empty index persisted through store.
func New(store Store) *Index {
	return &Index{entries: make(map[model.Entity]time.Time), store: store}
}

// Load reads the persisted index and reconciles it with series storage. If
// anything was repaired the index is rewritten immediately. A missing or
// corrupt file yields an index rebuilt entirely from storage.
func Load(store Store, series storage.SeriesStore) *Index {
	idx := New(store)

	raw, err := store.Read()
	if err != nil {
		if errors.Is(err, ErrCorrupt) {
			log.Warn().Err(err).Msg("freshness index unreadable, rebuilding from storage")
		} else {
			log.Warn().Err(err).Msg("read freshness index failed, rebuilding from storage")
		}
		raw = map[string]string{}
		idx.dirty = true
	}

	dropped := 0
	for name, dateStr := range raw {
		entity := model.NormalizeEntity(name)
		d, err := time.Parse(dateLayout, dateStr)
		if err != nil || entity == "" {
			log.Warn().Str("entity", name).Str("date", dateStr).Msg("dropping malformed index entry")
			dropped++
			idx.dirty = true
			continue
		}
		ok, err := series.HasSeries(entity)
		if err != nil {
			// Can't prove the series is gone; keep the entry and let the
			// synchronizer surface the storage problem.
			log.Warn().Str("entity", string(entity)).Err(err).Msg("check series storage")
			idx.entries[entity] = d
			continue
		}
		if !ok {
			dropped++
			idx.dirty = true
			continue
		}
		idx.entries[entity] = d
		if string(entity) != name {
			idx.dirty = true
		}
	}

	stored, err := series.ListSeries()
	if err != nil {
		log.Warn().Err(err).Msg("list series storage")
	}
	rebuilt := idx.Rebuild(stored, series)

	if dropped > 0 || rebuilt > 0 {
		log.Info().Int("dropped", dropped).Int("rebuilt", rebuilt).Msg("synchronized freshness index with storage")
	}
	if idx.dirty {
		if err := idx.Persist(); err != nil {
			log.Error().Err(err).Msg("rewrite freshness index")
		}
	}
	return idx
}

// Rebuild derives entries for entities that have a non-empty stored series
// but no index entry. It returns how many entries were added.
func (i *Index) Rebuild(entities []model.Entity, series storage.SeriesStore) int {
	added := 0
	for _, e := range entities {
		if _, ok := i.Get(e); ok {
			continue
		}
		bars, err := series.LoadSeries(e)
		if err != nil {
			if !errors.Is(err, storage.ErrNotFound) {
				log.Warn().Str("entity", string(e)).Err(err).Msg("rebuild index entry")
			}
			continue
		}
		last, ok := model.LastDate(bars)
		if !ok {
			continue
		}
		i.Record(e, last)
		added++
	}
	return added
}

// Get returns the last confirmed date for entity.
func (i *Index) Get(entity model.Entity) (time.Time, bool) {
	i.mu.Lock()
	defer i.mu.Unlock()
	d, ok := i.entries[entity]
	return d, ok
}

// Record sets the entry for entity. It does not persist.
func (i *Index) Record(entity model.Entity, date time.Time) {
	i.mu.Lock()
	defer i.mu.Unlock()
	d := model.Day(date)
	if old, ok := i.entries[entity]; ok && old.Equal(d) {
		return
	}
	i.entries[entity] = d
	i.dirty = true
}

// Remove deletes the entry for entity if present.
func (i *Index) Remove(entity model.Entity) {
	i.mu.Lock()
	defer i.mu.Unlock()
	if _, ok := i.entries[entity]; ok {
		delete(i.entries, entity)
		i.dirty = true
	}
}

// Len returns the number of entries.
func (i *Index) Len() int {
	i.mu.Lock()
	defer i.mu.Unlock()
	return len(i.entries)
}

// Dirty reports whether the index changed since it was last persisted.
func (i *Index) Dirty() bool {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.dirty
}

// Entries returns all entries sorted by entity.
func (i *Index) Entries() []Entry {
	i.mu.Lock()
	defer i.mu.Unlock()
	out := make([]Entry, 0, len(i.entries))
	for e, d := range i.entries {
		out = append(out, Entry{Entity: e, Date: d})
	}
	sort.Slice(out, func(a, b int) bool { return out[a].Entity < out[b].Entity })
	return out
}

// Persist writes the full mapping, replacing the previous version.
func (i *Index) Persist() error {
	i.mu.Lock()
	defer i.mu.Unlock()
	out := make(map[string]string, len(i.entries))
	for e, d := range i.entries {
		out[string(e)] = d.Format(dateLayout)
	}
	if err := i.store.Write(out); err != nil {
		return err
	}
	i.dirty = false
	return nil
}

// PersistIfDirty persists only when something changed.
func (i *Index) PersistIfDirty() (bool, error) {
	if !i.Dirty() {
		return false, nil
	}
	return true, i.Persist()
}
