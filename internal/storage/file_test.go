package storage

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"EquitySync/internal/model"
)

func newFileStore(t *testing.T) *FileStore {
	t.Helper()
	s, err := NewFileStore(t.TempDir())
	require.NoError(t, err)
	return s
}

func TestFileStore_SeriesRoundTrip(t *testing.T) {
	s := newFileStore(t)
	bars := []model.Bar{
		{Date: time.Date(2026, 1, 6, 0, 0, 0, 0, time.UTC), Open: model.Float(10), High: model.Float(11), Low: model.Float(9.5), Close: model.Float(10.25), Volume: model.Int(1200), Dividends: model.Float(0), StockSplits: model.Float(0)},
		{Date: time.Date(2026, 1, 5, 0, 0, 0, 0, time.UTC), Close: model.Float(9.75), Volume: model.Int(0)},
	}
	require.NoError(t, s.SaveSeries("AAA", bars))

	got, err := s.LoadSeries("AAA")
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "2026-01-05", got[0].Date.Format("2006-01-02"), "loaded series is date ordered")
	assert.Nil(t, got[0].Open, "absent cells stay absent")
	assert.Equal(t, int64(0), *got[0].Volume)
	assert.Equal(t, 10.25, *got[1].Close)
}

func TestFileStore_MissingObjects(t *testing.T) {
	s := newFileStore(t)

	_, err := s.LoadSeries("NOPE")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, s.DeleteSeries("NOPE"), ErrNotFound)
	assert.ErrorIs(t, s.DeleteDerived("NOPE"), ErrNotFound)
	_, err = s.LoadAttributes()
	assert.ErrorIs(t, err, ErrNotFound)

	ok, err := s.HasSeries("NOPE")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestFileStore_HeaderOnlySeriesIsEmpty(t *testing.T) {
	s := newFileStore(t)
	require.NoError(t, s.SaveSeries("AAA", nil))

	ok, err := s.HasSeries("AAA")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestFileStore_ToleratesSchemaDrift(t *testing.T) {
	s := newFileStore(t)
	content := "Date,close,extra\n2026-01-05 00:00:00,12.5,x\nnot-a-date,1,y\n"
	require.NoError(t, os.WriteFile(filepath.Join(s.Dir, "prices", "OLD.csv"), []byte(content), 0o644))

	got, err := s.LoadSeries("OLD")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, 12.5, *got[0].Close)
	assert.Nil(t, got[0].Open)
	assert.Nil(t, got[0].Volume)
}

func TestFileStore_ListSeries(t *testing.T) {
	s := newFileStore(t)
	require.NoError(t, s.SaveSeries("BBB", nil))
	require.NoError(t, s.SaveSeries("AAA", nil))

	got, err := s.ListSeries()
	require.NoError(t, err)
	assert.Equal(t, []model.Entity{"AAA", "BBB"}, got)
}

func TestFileStore_Attributes(t *testing.T) {
	s := newFileStore(t)
	ts := time.Date(2026, 10, 1, 8, 30, 0, 0, time.UTC)
	rows := []model.Attributes{{Ticker: "AAA", ShortName: "Alpha, Inc.", Sector: "Tech", Beta: model.Float(1.2), LastUpdated: ts}}
	require.NoError(t, s.SaveAttributes(rows))

	got, err := s.LoadAttributes()
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "Alpha, Inc.", got[0].ShortName)
	assert.Equal(t, 1.2, *got[0].Beta)
	assert.Nil(t, got[0].MarketCap)
	assert.True(t, ts.Equal(got[0].LastUpdated))
}

func TestFileStore_DerivedOverwrite(t *testing.T) {
	s := newFileStore(t)
	d := time.Date(2025, 12, 31, 0, 0, 0, 0, time.UTC)
	first := []model.DerivedRow{{Ticker: "AAA", Date: d, PeriodType: model.PeriodAnnual, Values: map[string]*float64{"TotalRevenue": model.Float(100), "NetIncome": model.Float(10)}}}
	second := []model.DerivedRow{{Ticker: "AAA", Date: d, PeriodType: model.PeriodAnnual, Values: map[string]*float64{"TotalRevenue": model.Float(120)}}}

	require.NoError(t, s.SaveDerived("AAA", first))
	require.NoError(t, s.SaveDerived("AAA", second))

	got, err := s.LoadDerived("AAA")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, 120.0, *got[0].Values["TotalRevenue"])
	_, stale := got[0].Values["NetIncome"]
	assert.False(t, stale, "overwrite leaves nothing of the previous snapshot")
}

func TestFileStore_RejectsNamesOutsideDataDir(t *testing.T) {
	root := t.TempDir()
	s, err := NewFileStore(filepath.Join(root, "data"))
	require.NoError(t, err)
	victim := filepath.Join(root, "VICTIM.csv")
	require.NoError(t, os.WriteFile(victim, []byte("keep"), 0o644))

	assert.ErrorIs(t, s.DeleteSeries("../../VICTIM"), ErrInvalidEntity)
	assert.ErrorIs(t, s.DeleteDerived("../../VICTIM"), ErrInvalidEntity)
	assert.ErrorIs(t, s.SaveSeries("A/B", nil), ErrInvalidEntity)
	_, err = s.LoadSeries("..")
	assert.ErrorIs(t, err, ErrInvalidEntity)

	_, err = os.Stat(victim)
	assert.NoError(t, err, "file outside the data dir untouched")
}

func TestFileStore_CorruptAttributeTable(t *testing.T) {
	s := newFileStore(t)
	require.NoError(t, os.WriteFile(s.AttributesPath(), []byte("Ticker\n\"AAA\n"), 0o644))
	_, err := s.LoadAttributes()
	assert.ErrorIs(t, err, ErrCorrupt)
}
