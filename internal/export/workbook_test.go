package export

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"EquitySync/internal/freshness"
	"EquitySync/internal/model"
)

func TestWorkbook(t *testing.T) {
	path := filepath.Join(t.TempDir(), "equitysync.xlsx")
	attrs := []model.Attributes{{
		Ticker:      "AAA",
		ShortName:   "Alpha",
		Sector:      "Technology",
		MarketCap:   model.Float(1.5e9),
		LastUpdated: time.Date(2026, 1, 9, 12, 0, 0, 0, time.UTC),
	}}
	entries := []freshness.Entry{{Entity: "AAA", Date: time.Date(2026, 1, 9, 0, 0, 0, 0, time.UTC)}}

	require.NoError(t, Workbook(path, attrs, entries))

	f, err := excelize.OpenFile(path)
	require.NoError(t, err)
	defer f.Close()

	assert.Equal(t, []string{attributesSheet, freshnessSheet}, f.GetSheetList())

	rows, err := f.GetRows(attributesSheet)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "Ticker", rows[0][0])
	assert.Equal(t, "Alpha", rows[1][1])
	assert.Equal(t, "2026-01-09 12:00:00", rows[1][14])

	rows, err = f.GetRows(freshnessSheet)
	require.NoError(t, err)
	assert.Equal(t, [][]string{{"Ticker", "Last Date"}, {"AAA", "2026-01-09"}}, rows)
}
