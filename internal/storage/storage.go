// Package storage holds the persistence ports of the engine and their file
// and in-memory implementations. Storage is the source of truth: the
// freshness index is derived from it.
package storage

import (
	"errors"

	"EquitySync/internal/model"
)

// ErrNotFound is returned when the requested object does not exist.
var ErrNotFound = errors.New("storage: object not found")

// ErrInvalidEntity is returned for names that cannot address a stored object.
var ErrInvalidEntity = errors.New("storage: invalid entity name")

// ErrCorrupt wraps decode failures of a stored object.
var ErrCorrupt = errors.New("storage: object corrupt")

// SeriesStore persists one price series object per entity.
type SeriesStore interface {
	// LoadSeries returns the stored bars sorted by date, or ErrNotFound.
	LoadSeries(entity model.Entity) ([]model.Bar, error)
	// SaveSeries replaces the entity's series.
	SaveSeries(entity model.Entity, bars []model.Bar) error
	// DeleteSeries removes the entity's series, or returns ErrNotFound.
	DeleteSeries(entity model.Entity) error
	// HasSeries reports whether a non-empty series exists for entity.
	HasSeries(entity model.Entity) (bool, error)
	// ListSeries returns every entity with a stored series object.
	ListSeries() ([]model.Entity, error)
}

// AttributeStore persists the consolidated attribute snapshot table.
type AttributeStore interface {
	// LoadAttributes returns the full table, or ErrNotFound if it was never written.
	LoadAttributes() ([]model.Attributes, error)
	SaveAttributes(rows []model.Attributes) error
}

// DerivedStore persists the per-entity derived (financial statement) table.
type DerivedStore interface {
	LoadDerived(entity model.Entity) ([]model.DerivedRow, error)
	SaveDerived(entity model.Entity, rows []model.DerivedRow) error
	DeleteDerived(entity model.Entity) error
}

// Store bundles every persistence port.
type Store interface {
	SeriesStore
	AttributeStore
	DerivedStore
}

// IgnoreNotFound maps ErrNotFound to nil.
func IgnoreNotFound(err error) error {
	if errors.Is(err, ErrNotFound) {
		return nil
	}
	return err
}
