package storage

import (
	"sync"

	"EquitySync/internal/model"
)

// MemoryStore is an in-process Store used by tests and dry runs.
type MemoryStore struct {
	mu         sync.Mutex
	series     map[model.Entity][]model.Bar
	derived    map[model.Entity][]model.DerivedRow
	attributes []model.Attributes
	hasTable   bool

	// FailSave makes the next SaveSeries for an entity fail with the mapped error.
	FailSave map[model.Entity]error
}

// NewMemoryStore returns an empty store with no attribute table.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		series:   make(map[model.Entity][]model.Bar),
		derived:  make(map[model.Entity][]model.DerivedRow),
		FailSave: make(map[model.Entity]error),
	}
}

func (m *MemoryStore) LoadSeries(entity model.Entity) ([]model.Bar, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	bars, ok := m.series[entity]
	if !ok {
		return nil, ErrNotFound
	}
	return append([]model.Bar(nil), bars...), nil
}

func (m *MemoryStore) SaveSeries(entity model.Entity, bars []model.Bar) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err, ok := m.FailSave[entity]; ok {
		delete(m.FailSave, entity)
		return err
	}
	m.series[entity] = append([]model.Bar(nil), bars...)
	return nil
}

func (m *MemoryStore) DeleteSeries(entity model.Entity) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.series[entity]; !ok {
		return ErrNotFound
	}
	delete(m.series, entity)
	return nil
}

func (m *MemoryStore) HasSeries(entity model.Entity) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.series[entity]) > 0, nil
}

func (m *MemoryStore) ListSeries() ([]model.Entity, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]model.Entity, 0, len(m.series))
	for e := range m.series {
		out = append(out, e)
	}
	return model.SortEntities(out), nil
}

func (m *MemoryStore) LoadAttributes() ([]model.Attributes, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.hasTable {
		return nil, ErrNotFound
	}
	return append([]model.Attributes(nil), m.attributes...), nil
}

func (m *MemoryStore) SaveAttributes(rows []model.Attributes) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.attributes = append([]model.Attributes(nil), rows...)
	m.hasTable = true
	return nil
}

func (m *MemoryStore) LoadDerived(entity model.Entity) ([]model.DerivedRow, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rows, ok := m.derived[entity]
	if !ok {
		return nil, ErrNotFound
	}
	return append([]model.DerivedRow(nil), rows...), nil
}

func (m *MemoryStore) SaveDerived(entity model.Entity, rows []model.DerivedRow) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.derived[entity] = append([]model.DerivedRow(nil), rows...)
	return nil
}

func (m *MemoryStore) DeleteDerived(entity model.Entity) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.derived[entity]; !ok {
		return ErrNotFound
	}
	delete(m.derived, entity)
	return nil
}
