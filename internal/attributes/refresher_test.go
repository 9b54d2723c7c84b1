package attributes

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"EquitySync/internal/collector"
	"EquitySync/internal/model"
	"EquitySync/internal/storage"
)

var now = time.Date(2026, 1, 9, 12, 0, 0, 0, time.UTC)

func clock() time.Time { return now }

func attrs(name string) *model.Attributes {
	return &model.Attributes{ShortName: name, Sector: "Technology", MarketCap: model.Float(1e9)}
}

func TestRefresh_TTLGating(t *testing.T) {
	store := storage.NewMemoryStore()
	require.NoError(t, store.SaveAttributes([]model.Attributes{
		{Ticker: "FRESH", ShortName: "old fresh", LastUpdated: now.Add(-3 * 24 * time.Hour)},
		{Ticker: "STALE", ShortName: "old stale", LastUpdated: now.Add(-8 * 24 * time.Hour)},
	}))
	f := collector.NewMockFetcher()
	f.Attributes["FRESH"] = attrs("new fresh")
	f.Attributes["STALE"] = attrs("new stale")

	r := NewRefresher(f, store, Options{}, clock)
	table, results, err := r.Refresh(context.Background(), []model.Entity{"FRESH", "STALE"})
	require.NoError(t, err)

	assert.Equal(t, 0, f.CallCount("attributes", "FRESH"))
	assert.Equal(t, 1, f.CallCount("attributes", "STALE"))
	assert.Equal(t, model.OutcomeCurrent, results[0].Outcome)
	assert.Equal(t, model.OutcomeUpdated, results[1].Outcome)

	require.Len(t, table, 2)
	assert.Equal(t, "old fresh", table[0].ShortName)
	assert.Equal(t, "new stale", table[1].ShortName)
	assert.Equal(t, now, table[1].LastUpdated, "stamped at write time")
}

func TestRefresh_MissingTablePopulatesEverything(t *testing.T) {
	store := storage.NewMemoryStore()
	f := collector.NewMockFetcher()
	f.Attributes["AAA"] = attrs("Alpha")
	f.Attributes["BBB"] = attrs("Beta")

	r := NewRefresher(f, store, Options{}, clock)
	_, results, err := r.Refresh(context.Background(), []model.Entity{"AAA", "BBB"})
	require.NoError(t, err)
	for _, res := range results {
		assert.Equal(t, model.OutcomeUpdated, res.Outcome)
	}

	saved, err := store.LoadAttributes()
	require.NoError(t, err)
	assert.Len(t, saved, 2)
}

func TestRefresh_CorruptTableStartsFresh(t *testing.T) {
	store, err := storage.NewFileStore(t.TempDir())
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(store.AttributesPath(), []byte("Ticker,shortName\nAAA,bad\"quote\n"), 0o644))
	_, err = store.LoadAttributes()
	require.ErrorIs(t, err, storage.ErrCorrupt)

	f := collector.NewMockFetcher()
	f.Attributes["AAA"] = attrs("Alpha")

	r := NewRefresher(f, store, Options{}, clock)
	_, results, err := r.Refresh(context.Background(), []model.Entity{"AAA"})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, model.OutcomeUpdated, results[0].Outcome)

	table, err := store.LoadAttributes()
	require.NoError(t, err, "table rewritten in a readable form")
	require.Len(t, table, 1)
	assert.Equal(t, "Alpha", table[0].ShortName)
}

func TestRefresh_FailureWritesNoRow(t *testing.T) {
	store := storage.NewMemoryStore()
	f := collector.NewMockFetcher()
	f.Errors["BAD"] = errors.New("timeout")
	f.Attributes["GOOD"] = attrs("Good")

	r := NewRefresher(f, store, Options{}, clock)
	table, results, err := r.Refresh(context.Background(), []model.Entity{"BAD", "GOOD", "NONE"})
	require.NoError(t, err)

	assert.Equal(t, model.OutcomeFailed, results[0].Outcome)
	assert.Equal(t, model.OutcomeUpdated, results[1].Outcome)
	assert.Equal(t, model.OutcomeEmpty, results[2].Outcome)
	require.Len(t, table, 1)
	assert.Equal(t, model.Entity("GOOD"), table[0].Ticker)
}

func TestRefresh_NothingStaleDoesNotRewrite(t *testing.T) {
	store := storage.NewMemoryStore()
	row := model.Attributes{Ticker: "AAA", LastUpdated: now.Add(-time.Hour)}
	require.NoError(t, store.SaveAttributes([]model.Attributes{row}))
	f := collector.NewMockFetcher()

	r := NewRefresher(f, store, Options{}, clock)
	table, _, err := r.Refresh(context.Background(), []model.Entity{"AAA"})
	require.NoError(t, err)
	assert.Equal(t, []model.Attributes{row}, table)
}

func TestRefresh_ETFOverride(t *testing.T) {
	store := storage.NewMemoryStore()
	f := collector.NewMockFetcher()
	f.Attributes["SPY"] = attrs("SPDR S&P 500")

	r := NewRefresher(f, store, Options{ETFs: []model.Entity{"spy"}}, clock)
	table, _, err := r.Refresh(context.Background(), []model.Entity{"SPY"})
	require.NoError(t, err)
	require.Len(t, table, 1)
	assert.Equal(t, ETFSector, table[0].Sector)
}

func TestDedup_NewestWins(t *testing.T) {
	rows := []model.Attributes{
		{Ticker: "AAA", ShortName: "new", LastUpdated: now},
		{Ticker: "BBB", ShortName: "b", LastUpdated: now},
		{Ticker: "AAA", ShortName: "old", LastUpdated: now.Add(-time.Hour)},
		{Ticker: "BBB", ShortName: "b2", LastUpdated: now},
	}
	got := Dedup(rows)
	require.Len(t, got, 2)
	assert.Equal(t, "new", got[0].ShortName)
	assert.Equal(t, "b2", got[1].ShortName, "later row wins a tie")
}

func TestRefresh_DuplicateRowsAreCollapsedOnSave(t *testing.T) {
	store := storage.NewMemoryStore()
	require.NoError(t, store.SaveAttributes([]model.Attributes{
		{Ticker: "AAA", LastUpdated: now.Add(-time.Hour)},
		{Ticker: "AAA", LastUpdated: now.Add(-2 * time.Hour)},
	}))
	r := NewRefresher(collector.NewMockFetcher(), store, Options{}, clock)
	_, _, err := r.Refresh(context.Background(), []model.Entity{"AAA"})
	require.NoError(t, err)

	saved, err := store.LoadAttributes()
	require.NoError(t, err)
	assert.Len(t, saved, 1)
}

func TestRemove(t *testing.T) {
	store := storage.NewMemoryStore()
	r := NewRefresher(collector.NewMockFetcher(), store, Options{}, clock)

	removed, err := r.Remove("XYZ")
	require.NoError(t, err, "missing table is fine")
	assert.False(t, removed)

	require.NoError(t, store.SaveAttributes([]model.Attributes{{Ticker: "XYZ"}, {Ticker: "AAA"}}))
	removed, err = r.Remove("XYZ")
	require.NoError(t, err)
	assert.True(t, removed)
	saved, err := store.LoadAttributes()
	require.NoError(t, err)
	require.Len(t, saved, 1)
	assert.Equal(t, model.Entity("AAA"), saved[0].Ticker)
}
