package storage

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/rs/zerolog/log"

	"EquitySync/internal/atomicio"
	"EquitySync/internal/model"
)

var seriesHeader = []string{"Date", "open", "high", "low", "close", "volume", "dividends", "stockSplits"}

var attributeHeader = []string{
	"Ticker", "shortName", "sector", "industry", "country", "marketCap", "beta",
	"dividendYield", "52WeekHigh", "52WeekLow", "forwardPE", "priceToBook",
	"enterpriseToEbitda", "returnOnAssets", "lastUpdated",
}

// FileStore keeps every table as a CSV file under one data directory:
//
//	<dir>/prices/<ENTITY>.csv
//	<dir>/financials/<ENTITY>.csv
//	<dir>/dim_ticker.csv
type FileStore struct {
	Dir string
}

// NewFileStore creates the directory layout if needed.
func NewFileStore(dir string) (*FileStore, error) {
	for _, sub := range []string{"prices", "financials"} {
		if err := os.MkdirAll(filepath.Join(dir, sub), 0o755); err != nil {
			return nil, fmt.Errorf("create %s dir: %w", sub, err)
		}
	}
	return &FileStore{Dir: dir}, nil
}

func (s *FileStore) seriesPath(e model.Entity) (string, error) {
	return s.objectPath("prices", e)
}

func (s *FileStore) derivedPath(e model.Entity) (string, error) {
	return s.objectPath("financials", e)
}

// objectPath keeps every per-entity file inside its subdirectory.
func (s *FileStore) objectPath(sub string, e model.Entity) (string, error) {
	if !model.ValidEntity(e) {
		return "", fmt.Errorf("%w: %q", ErrInvalidEntity, string(e))
	}
	return filepath.Join(s.Dir, sub, string(e)+".csv"), nil
}

// AttributesPath is the location of the snapshot table.
func (s *FileStore) AttributesPath() string {
	return filepath.Join(s.Dir, "dim_ticker.csv")
}

func readFile(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrNotFound
	}
	return data, err
}

func removeFile(path string) error {
	err := os.Remove(path)
	if errors.Is(err, os.ErrNotExist) {
		return ErrNotFound
	}
	return err
}

func (s *FileStore) LoadSeries(entity model.Entity) ([]model.Bar, error) {
	path, err := s.seriesPath(entity)
	if err != nil {
		return nil, err
	}
	data, err := readFile(path)
	if err != nil {
		return nil, err
	}
	t, err := readTable(data)
	if err != nil {
		return nil, fmt.Errorf("decode series %s: %w: %w", entity, ErrCorrupt, err)
	}
	bars := make([]model.Bar, 0, len(t.rows))
	for _, row := range t.rows {
		d, err := parseDate(t.get(row, "Date"))
		if err != nil {
			log.Warn().Str("entity", string(entity)).Err(err).Msg("skipping series row")
			continue
		}
		bars = append(bars, model.Bar{
			Date:        model.Day(d),
			Open:        parseFloat(t.get(row, "open")),
			High:        parseFloat(t.get(row, "high")),
			Low:         parseFloat(t.get(row, "low")),
			Close:       parseFloat(t.get(row, "close")),
			Volume:      parseInt(t.get(row, "volume")),
			Dividends:   parseFloat(t.get(row, "dividends")),
			StockSplits: parseFloat(t.get(row, "stockSplits")),
		})
	}
	model.SortBars(bars)
	return bars, nil
}

func (s *FileStore) SaveSeries(entity model.Entity, bars []model.Bar) error {
	path, err := s.seriesPath(entity)
	if err != nil {
		return err
	}
	rows := make([][]string, 0, len(bars))
	for _, b := range bars {
		rows = append(rows, []string{
			b.Date.Format(dateLayout),
			formatFloat(b.Open), formatFloat(b.High), formatFloat(b.Low), formatFloat(b.Close),
			formatInt(b.Volume),
			formatFloat(b.Dividends), formatFloat(b.StockSplits),
		})
	}
	data, err := writeTable(seriesHeader, rows)
	if err != nil {
		return fmt.Errorf("encode series %s: %w", entity, err)
	}
	return atomicio.WriteFile(path, data, 0o644)
}

func (s *FileStore) DeleteSeries(entity model.Entity) error {
	path, err := s.seriesPath(entity)
	if err != nil {
		return err
	}
	return removeFile(path)
}

func (s *FileStore) HasSeries(entity model.Entity) (bool, error) {
	bars, err := s.LoadSeries(entity)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return len(bars) > 0, nil
}

func (s *FileStore) ListSeries() ([]model.Entity, error) {
	entries, err := os.ReadDir(filepath.Join(s.Dir, "prices"))
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var out []model.Entity
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, ".csv") || strings.HasPrefix(name, ".") {
			continue
		}
		e := model.Entity(strings.TrimSuffix(name, ".csv"))
		if !model.ValidEntity(e) {
			continue
		}
		out = append(out, e)
	}
	return model.SortEntities(out), nil
}

func (s *FileStore) LoadAttributes() ([]model.Attributes, error) {
	data, err := readFile(s.AttributesPath())
	if err != nil {
		return nil, err
	}
	t, err := readTable(data)
	if err != nil {
		return nil, fmt.Errorf("decode attributes: %w: %w", ErrCorrupt, err)
	}
	out := make([]model.Attributes, 0, len(t.rows))
	for _, row := range t.rows {
		a := model.Attributes{
			Ticker:             model.NormalizeEntity(t.get(row, "Ticker")),
			ShortName:          t.get(row, "shortName"),
			Sector:             t.get(row, "sector"),
			Industry:           t.get(row, "industry"),
			Country:            t.get(row, "country"),
			MarketCap:          parseFloat(t.get(row, "marketCap")),
			Beta:               parseFloat(t.get(row, "beta")),
			DividendYield:      parseFloat(t.get(row, "dividendYield")),
			High52w:            parseFloat(t.get(row, "52WeekHigh")),
			Low52w:             parseFloat(t.get(row, "52WeekLow")),
			ForwardPE:          parseFloat(t.get(row, "forwardPE")),
			PriceToBook:        parseFloat(t.get(row, "priceToBook")),
			EnterpriseToEbitda: parseFloat(t.get(row, "enterpriseToEbitda")),
			ReturnOnAssets:     parseFloat(t.get(row, "returnOnAssets")),
		}
		if a.Ticker == "" {
			continue
		}
		// An unparseable timestamp leaves LastUpdated zero, which reads as stale.
		if ts, err := parseDate(t.get(row, "lastUpdated")); err == nil {
			a.LastUpdated = ts
		}
		out = append(out, a)
	}
	return out, nil
}

func (s *FileStore) SaveAttributes(rows []model.Attributes) error {
	out := make([][]string, 0, len(rows))
	for _, a := range rows {
		updated := ""
		if !a.LastUpdated.IsZero() {
			updated = a.LastUpdated.UTC().Format(timestampLayout)
		}
		out = append(out, []string{
			string(a.Ticker), a.ShortName, a.Sector, a.Industry, a.Country,
			formatFloat(a.MarketCap), formatFloat(a.Beta), formatFloat(a.DividendYield),
			formatFloat(a.High52w), formatFloat(a.Low52w), formatFloat(a.ForwardPE),
			formatFloat(a.PriceToBook), formatFloat(a.EnterpriseToEbitda),
			formatFloat(a.ReturnOnAssets), updated,
		})
	}
	data, err := writeTable(attributeHeader, out)
	if err != nil {
		return fmt.Errorf("encode attributes: %w", err)
	}
	return atomicio.WriteFile(s.AttributesPath(), data, 0o644)
}

func (s *FileStore) LoadDerived(entity model.Entity) ([]model.DerivedRow, error) {
	path, err := s.derivedPath(entity)
	if err != nil {
		return nil, err
	}
	data, err := readFile(path)
	if err != nil {
		return nil, err
	}
	t, err := readTable(data)
	if err != nil {
		return nil, fmt.Errorf("decode financials %s: %w: %w", entity, ErrCorrupt, err)
	}
	var metrics []string
	for col := range t.columns {
		if col != "Date" && col != "Ticker" && col != "PeriodType" {
			metrics = append(metrics, col)
		}
	}
	out := make([]model.DerivedRow, 0, len(t.rows))
	for _, row := range t.rows {
		d, err := parseDate(t.get(row, "Date"))
		if err != nil {
			continue
		}
		r := model.DerivedRow{
			Ticker:     model.NormalizeEntity(t.get(row, "Ticker")),
			Date:       model.Day(d),
			PeriodType: model.PeriodType(t.get(row, "PeriodType")),
			Values:     make(map[string]*float64, len(metrics)),
		}
		for _, m := range metrics {
			r.Values[m] = parseFloat(t.get(row, m))
		}
		out = append(out, r)
	}
	return out, nil
}

func (s *FileStore) SaveDerived(entity model.Entity, rows []model.DerivedRow) error {
	path, err := s.derivedPath(entity)
	if err != nil {
		return err
	}
	seen := map[string]bool{}
	var metrics []string
	for _, r := range rows {
		for m := range r.Values {
			if !seen[m] {
				seen[m] = true
				metrics = append(metrics, m)
			}
		}
	}
	sort.Strings(metrics)

	header := append([]string{"Date", "Ticker", "PeriodType"}, metrics...)
	out := make([][]string, 0, len(rows))
	for _, r := range rows {
		rec := []string{r.Date.Format(dateLayout), string(r.Ticker), string(r.PeriodType)}
		for _, m := range metrics {
			rec = append(rec, formatFloat(r.Values[m]))
		}
		out = append(out, rec)
	}
	data, err := writeTable(header, out)
	if err != nil {
		return fmt.Errorf("encode financials %s: %w", entity, err)
	}
	return atomicio.WriteFile(path, data, 0o644)
}

func (s *FileStore) DeleteDerived(entity model.Entity) error {
	path, err := s.derivedPath(entity)
	if err != nil {
		return err
	}
	return removeFile(path)
}
