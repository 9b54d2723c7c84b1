package collector

import (
	"context"
	"fmt"
	"sync"
	"time"

	"EquitySync/internal/model"
)

// MockFetcher returns controllable fixed data for development and testing.
type MockFetcher struct {
	mu         sync.Mutex
	Series     map[model.Entity][]model.RawBar
	Attributes map[model.Entity]*model.Attributes
	Derived    map[model.Entity][]model.DerivedRow
	Errors     map[model.Entity]error
	// Delay is applied to every call; it honours ctx cancellation.
	Delay time.Duration
	Calls map[string]int
}

// NewMockFetcher returns an empty mock.
func NewMockFetcher() *MockFetcher {
	return &MockFetcher{
		Series:     make(map[model.Entity][]model.RawBar),
		Attributes: make(map[model.Entity]*model.Attributes),
		Derived:    make(map[model.Entity][]model.DerivedRow),
		Errors:     make(map[model.Entity]error),
		Calls:      make(map[string]int),
	}
}

func (m *MockFetcher) Name() string { return "mock" }

func (m *MockFetcher) call(ctx context.Context, kind string, entity model.Entity) error {
	m.mu.Lock()
	m.Calls[kind+":"+string(entity)]++
	err := m.Errors[entity]
	delay := m.Delay
	m.mu.Unlock()
	if delay > 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
	return err
}

// CallCount returns how often kind ("series", "attributes", "derived") was
// requested for entity.
func (m *MockFetcher) CallCount(kind string, entity model.Entity) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.Calls[kind+":"+string(entity)]
}

func (m *MockFetcher) FetchSeries(ctx context.Context, entity model.Entity, start time.Time) ([]model.RawBar, error) {
	if err := m.call(ctx, "series", entity); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.RawBar
	for _, r := range m.Series[entity] {
		if !r.Date.Before(start) {
			r.Entity = entity
			out = append(out, r)
		}
	}
	return out, nil
}

func (m *MockFetcher) FetchAttributes(ctx context.Context, entity model.Entity) (*model.Attributes, error) {
	if err := m.call(ctx, "attributes", entity); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.Attributes[entity]
	if !ok || a == nil {
		return nil, nil
	}
	cp := *a
	return &cp, nil
}

func (m *MockFetcher) FetchDerived(ctx context.Context, entity model.Entity) ([]model.DerivedRow, error) {
	if err := m.call(ctx, "derived", entity); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]model.DerivedRow(nil), m.Derived[entity]...), nil
}

// Result is the outcome of one per-entity fetch.
type Result[T any] struct {
	Value T
	Err   error
}

// Gather runs fetch for every entity on at most workers goroutines. Each call
// gets its own deadline so one slow entity cannot stall the pass; a timeout
// surfaces as that entity's error. Fetches share no mutable state.
func Gather[T any](ctx context.Context, entities []model.Entity, workers int, timeout time.Duration,
	fetch func(ctx context.Context, e model.Entity) (T, error)) map[model.Entity]Result[T] {

	if workers < 1 {
		workers = 1
	}
	out := make(map[model.Entity]Result[T], len(entities))
	var mu sync.Mutex
	var wg sync.WaitGroup
	jobs := make(chan model.Entity)

	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for e := range jobs {
				v, err := fetchOne(ctx, e, timeout, fetch)
				mu.Lock()
				out[e] = Result[T]{Value: v, Err: err}
				mu.Unlock()
			}
		}()
	}

	for _, e := range entities {
		jobs <- e
	}
	close(jobs)
	wg.Wait()
	return out
}

func fetchOne[T any](ctx context.Context, e model.Entity, timeout time.Duration,
	fetch func(ctx context.Context, e model.Entity) (T, error)) (v T, err error) {

	if err := ctx.Err(); err != nil {
		return v, err
	}
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("fetch %s panicked: %v", e, r)
		}
	}()
	return fetch(ctx, e)
}
