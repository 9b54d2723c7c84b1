// Package registry is the list of tracked entities. The engine only reads it
// during a pass; add and remove are user operations.
package registry

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/rs/zerolog/log"

	"EquitySync/internal/atomicio"
	"EquitySync/internal/model"
)

// ErrNoValidEntities is returned by Add when none of the names exist.
var ErrNoValidEntities = errors.New("registry: no valid entities to add")

const header = "Ticker"

// Registry lists the tracked entities in registry order.
type Registry interface {
	List() ([]model.Entity, error)
}

// ExistsFunc checks an entity against the provider.
type ExistsFunc func(ctx context.Context, e model.Entity) (bool, error)

// AddResult splits the requested names by what happened to them.
type AddResult struct {
	Added    []model.Entity
	Existing []model.Entity
	Rejected []model.Entity
}

// FileRegistry keeps the list as a one-column CSV file.
type FileRegistry struct {
	mu   sync.Mutex
	path string
}

func NewFileRegistry(path string) *FileRegistry {
	return &FileRegistry{path: path}
}

func (r *FileRegistry) Path() string { return r.path }

// List returns the registry. A missing file is an empty registry.
func (r *FileRegistry) List() ([]model.Entity, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.read()
}

// Add validates and appends names. Names already present are left alone;
// malformed names and names the provider does not know are rejected. If nothing new is valid and
// nothing was already present, ErrNoValidEntities is returned.
func (r *FileRegistry) Add(ctx context.Context, names []string, exists ExistsFunc) (AddResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var res AddResult
	current, err := r.read()
	if err != nil {
		return res, err
	}
	have := make(map[model.Entity]bool, len(current))
	for _, e := range current {
		have[e] = true
	}

	valid, invalid := model.SplitEntities(strings.Join(names, " "))
	for _, name := range invalid {
		log.Warn().Str("name", name).Msg("not a valid ticker symbol")
		res.Rejected = append(res.Rejected, model.Entity(name))
	}
	for _, e := range valid {
		if have[e] {
			res.Existing = append(res.Existing, e)
			continue
		}
		if exists != nil {
			ok, err := exists(ctx, e)
			if err != nil {
				log.Warn().Str("entity", string(e)).Err(err).Msg("existence check failed")
			}
			if err != nil || !ok {
				res.Rejected = append(res.Rejected, e)
				continue
			}
		}
		res.Added = append(res.Added, e)
		have[e] = true
	}

	if len(res.Added) == 0 {
		if len(res.Existing) == 0 {
			return res, ErrNoValidEntities
		}
		return res, nil
	}
	if err := r.write(append(current, res.Added...)); err != nil {
		return res, err
	}
	log.Info().Int("added", len(res.Added)).Msg("registry updated")
	return res, nil
}

// Remove drops names and returns the ones that were actually present.
func (r *FileRegistry) Remove(names []string) ([]model.Entity, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	current, err := r.read()
	if err != nil {
		return nil, err
	}
	drop := make(map[model.Entity]bool)
	for _, e := range normalize(names) {
		drop[e] = true
	}
	var kept, removed []model.Entity
	for _, e := range current {
		if drop[e] {
			removed = append(removed, e)
			continue
		}
		kept = append(kept, e)
	}
	if len(removed) == 0 {
		return nil, nil
	}
	if err := r.write(kept); err != nil {
		return nil, err
	}
	return removed, nil
}

func normalize(names []string) []model.Entity {
	return model.ParseEntities(strings.Join(names, " "))
}

func (r *FileRegistry) read() ([]model.Entity, error) {
	data, err := os.ReadFile(r.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read registry: %w", err)
	}
	cr := csv.NewReader(bytes.NewReader(data))
	cr.FieldsPerRecord = -1
	var raw []model.Entity
	first := true
	for {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("decode registry: %w", err)
		}
		if len(rec) == 0 {
			continue
		}
		if first {
			first = false
			if strings.EqualFold(strings.TrimSpace(rec[0]), header) {
				continue
			}
		}
		raw = append(raw, model.Entity(rec[0]))
	}
	return model.UniqueEntities(raw), nil
}

func (r *FileRegistry) write(entities []model.Entity) error {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	_ = w.Write([]string{header})
	for _, e := range entities {
		_ = w.Write([]string{string(e)})
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return fmt.Errorf("encode registry: %w", err)
	}
	return atomicio.WriteFile(r.path, buf.Bytes(), 0o644)
}
