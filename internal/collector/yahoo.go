package collector

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"EquitySync/internal/model"
)

const defaultYahooBaseURL = "https://query1.finance.yahoo.com"

// derivedMetrics are the income statement lines requested from the
// fundamentals time-series endpoint, without the annual/quarterly prefix.
var derivedMetrics = []string{
	"TotalRevenue", "CostOfRevenue", "GrossProfit", "OperatingIncome",
	"NetIncome", "EBITDA", "DilutedEPS", "BasicEPS",
}

// YahooFetcher implements Fetcher using Yahoo Finance public API.
type YahooFetcher struct {
	client  *resty.Client
	BaseURL string
	now     func() time.Time
}

// NewYahooFetcher creates a new Yahoo Finance fetcher.
func NewYahooFetcher(baseURL, proxyURL string, timeout time.Duration) *YahooFetcher {
	if baseURL == "" {
		baseURL = defaultYahooBaseURL
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	client := resty.New().
		SetBaseURL(strings.TrimRight(baseURL, "/")).
		SetTimeout(timeout).
		SetHeader("User-Agent", "Mozilla/5.0").
		SetHeader("Accept", "application/json")
	if proxyURL != "" {
		client.SetProxy(proxyURL)
	}
	return &YahooFetcher{client: client, BaseURL: baseURL, now: time.Now}
}

func (f *YahooFetcher) Name() string { return "yahoo" }

// yahooChart is the response structure from Yahoo Finance chart API.
type yahooChart struct {
	Chart struct {
		Result []struct {
			Meta struct {
				ExchangeTimezoneName string `json:"exchangeTimezoneName"`
				GMTOffset            int    `json:"gmtoffset"`
			} `json:"meta"`
			Timestamp []int64 `json:"timestamp"`
			Events    struct {
				Dividends map[string]struct {
					Amount float64 `json:"amount"`
					Date   int64   `json:"date"`
				} `json:"dividends"`
				Splits map[string]struct {
					Date        int64   `json:"date"`
					Numerator   float64 `json:"numerator"`
					Denominator float64 `json:"denominator"`
				} `json:"splits"`
			} `json:"events"`
			Indicators struct {
				Quote []struct {
					Open   []interface{} `json:"open"`
					High   []interface{} `json:"high"`
					Low    []interface{} `json:"low"`
					Close  []interface{} `json:"close"`
					Volume []interface{} `json:"volume"`
				} `json:"quote"`
			} `json:"indicators"`
		} `json:"result"`
		Error *yahooError `json:"error"`
	} `json:"chart"`
}

type yahooError struct {
	Code        string `json:"code"`
	Description string `json:"description"`
}

// notFound reports provider errors that mean "no data for this symbol/range".
func (e *yahooError) notFound() bool {
	return e != nil && (e.Code == "Not Found" || strings.Contains(strings.ToLower(e.Description), "no data found"))
}

func cellAt(cells []interface{}, i int) interface{} {
	if i < len(cells) {
		return cells[i]
	}
	return nil
}

func (f *YahooFetcher) get(ctx context.Context, path string, query url.Values, out interface{}) (int, error) {
	resp, err := f.client.R().
		SetContext(ctx).
		SetQueryParamsFromValues(query).
		Get(path)
	if err != nil {
		return 0, fmt.Errorf("yahoo fetch: %w", err)
	}
	body := resp.Body()
	if err := json.Unmarshal(body, out); err != nil {
		if resp.StatusCode() != http.StatusOK {
			return resp.StatusCode(), fmt.Errorf("yahoo: status %d, body: %.200s", resp.StatusCode(), string(body))
		}
		return resp.StatusCode(), fmt.Errorf("yahoo decode: %w", err)
	}
	return resp.StatusCode(), nil
}

// FetchSeries requests daily bars from start through today, including
// dividend and split events.
func (f *YahooFetcher) FetchSeries(ctx context.Context, entity model.Entity, start time.Time) ([]model.RawBar, error) {
	end := model.Day(f.now()).AddDate(0, 0, 1)
	q := url.Values{}
	q.Set("period1", strconv.FormatInt(model.Day(start).Unix(), 10))
	q.Set("period2", strconv.FormatInt(end.Unix(), 10))
	q.Set("interval", "1d")
	q.Set("events", "div,split")

	var chart yahooChart
	status, err := f.get(ctx, "/v8/finance/chart/"+url.PathEscape(string(entity)), q, &chart)
	if err != nil {
		return nil, err
	}
	if chart.Chart.Error != nil {
		if chart.Chart.Error.notFound() {
			return nil, nil
		}
		return nil, fmt.Errorf("yahoo api error: %s", chart.Chart.Error.Description)
	}
	if status != http.StatusOK {
		return nil, fmt.Errorf("yahoo: status %d", status)
	}
	if len(chart.Chart.Result) == 0 || len(chart.Chart.Result[0].Timestamp) == 0 {
		return nil, nil
	}

	result := chart.Chart.Result[0]
	if len(result.Indicators.Quote) == 0 {
		return nil, nil
	}
	quote := result.Indicators.Quote[0]

	// Bars are stamped at the session open, so the trading date is the
	// calendar date on the exchange's clock.
	loc := exchangeLocation(result.Meta.ExchangeTimezoneName, result.Meta.GMTOffset)
	tradingDay := func(ts int64) time.Time { return model.Day(time.Unix(ts, 0).In(loc)) }

	dividends := make(map[time.Time]float64)
	for _, d := range result.Events.Dividends {
		dividends[tradingDay(d.Date)] += d.Amount
	}
	splits := make(map[time.Time]float64)
	for _, s := range result.Events.Splits {
		if s.Denominator != 0 {
			splits[tradingDay(s.Date)] = s.Numerator / s.Denominator
		}
	}

	rows := make([]model.RawBar, 0, len(result.Timestamp))
	for i, ts := range result.Timestamp {
		d := tradingDay(ts)
		rows = append(rows, model.RawBar{
			Entity:      entity,
			Date:        d,
			Open:        cellAt(quote.Open, i),
			High:        cellAt(quote.High, i),
			Low:         cellAt(quote.Low, i),
			Close:       cellAt(quote.Close, i),
			Volume:      cellAt(quote.Volume, i),
			Dividends:   dividends[d],
			StockSplits: splits[d],
		})
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].Date.Before(rows[j].Date) })
	return rows, nil
}

// exchangeLocation resolves the exchange time zone, falling back to the
// fixed offset the chart reports and then to UTC.
func exchangeLocation(name string, gmtOffset int) *time.Location {
	if name != "" {
		if loc, err := time.LoadLocation(name); err == nil {
			return loc
		}
	}
	if gmtOffset != 0 {
		return time.FixedZone(name, gmtOffset)
	}
	return time.UTC
}

// yahooValue is the {"raw": 1.23, "fmt": "1.23"} wrapper quoteSummary uses.
type yahooValue struct {
	Raw *float64 `json:"raw"`
}

type yahooQuoteSummary struct {
	QuoteSummary struct {
		Result []struct {
			Price struct {
				ShortName string     `json:"shortName"`
				MarketCap yahooValue `json:"marketCap"`
			} `json:"price"`
			SummaryProfile struct {
				Sector   string `json:"sector"`
				Industry string `json:"industry"`
				Country  string `json:"country"`
			} `json:"summaryProfile"`
			SummaryDetail struct {
				Beta             yahooValue `json:"beta"`
				DividendYield    yahooValue `json:"dividendYield"`
				FiftyTwoWeekHigh yahooValue `json:"fiftyTwoWeekHigh"`
				FiftyTwoWeekLow  yahooValue `json:"fiftyTwoWeekLow"`
				ForwardPE        yahooValue `json:"forwardPE"`
			} `json:"summaryDetail"`
			DefaultKeyStatistics struct {
				PriceToBook        yahooValue `json:"priceToBook"`
				EnterpriseToEbitda yahooValue `json:"enterpriseToEbitda"`
			} `json:"defaultKeyStatistics"`
			FinancialData struct {
				ReturnOnAssets yahooValue `json:"returnOnAssets"`
			} `json:"financialData"`
		} `json:"result"`
		Error *yahooError `json:"error"`
	} `json:"quoteSummary"`
}

// FetchAttributes requests descriptive and valuation fields. LastUpdated is
// left zero; the refresher stamps it at write time.
func (f *YahooFetcher) FetchAttributes(ctx context.Context, entity model.Entity) (*model.Attributes, error) {
	q := url.Values{}
	q.Set("modules", "price,summaryProfile,summaryDetail,defaultKeyStatistics,financialData")

	var qs yahooQuoteSummary
	status, err := f.get(ctx, "/v10/finance/quoteSummary/"+url.PathEscape(string(entity)), q, &qs)
	if err != nil {
		return nil, err
	}
	if qs.QuoteSummary.Error != nil {
		if qs.QuoteSummary.Error.notFound() {
			return nil, nil
		}
		return nil, fmt.Errorf("yahoo api error: %s", qs.QuoteSummary.Error.Description)
	}
	if status != http.StatusOK {
		return nil, fmt.Errorf("yahoo: status %d", status)
	}
	if len(qs.QuoteSummary.Result) == 0 {
		return nil, nil
	}
	r := qs.QuoteSummary.Result[0]
	a := &model.Attributes{
		Ticker:             entity,
		ShortName:          r.Price.ShortName,
		Sector:             r.SummaryProfile.Sector,
		Industry:           r.SummaryProfile.Industry,
		Country:            r.SummaryProfile.Country,
		MarketCap:          r.Price.MarketCap.Raw,
		Beta:               r.SummaryDetail.Beta.Raw,
		DividendYield:      r.SummaryDetail.DividendYield.Raw,
		High52w:            r.SummaryDetail.FiftyTwoWeekHigh.Raw,
		Low52w:             r.SummaryDetail.FiftyTwoWeekLow.Raw,
		ForwardPE:          r.SummaryDetail.ForwardPE.Raw,
		PriceToBook:        r.DefaultKeyStatistics.PriceToBook.Raw,
		EnterpriseToEbitda: r.DefaultKeyStatistics.EnterpriseToEbitda.Raw,
		ReturnOnAssets:     r.FinancialData.ReturnOnAssets.Raw,
	}
	return a, nil
}

type yahooTimeseries struct {
	Timeseries struct {
		Result []map[string]json.RawMessage `json:"result"`
		Error  *yahooError                  `json:"error"`
	} `json:"timeseries"`
}

type yahooTimeseriesPoint struct {
	AsOfDate      string     `json:"asOfDate"`
	ReportedValue yahooValue `json:"reportedValue"`
}

// FetchDerived requests annual and quarterly income statement lines and
// pivots them into one row per (period type, date).
func (f *YahooFetcher) FetchDerived(ctx context.Context, entity model.Entity) ([]model.DerivedRow, error) {
	var types []string
	for _, m := range derivedMetrics {
		types = append(types, "annual"+m, "quarterly"+m)
	}
	q := url.Values{}
	q.Set("type", strings.Join(types, ","))
	q.Set("period1", "493590046")
	q.Set("period2", strconv.FormatInt(f.now().Unix(), 10))

	var ts yahooTimeseries
	path := "/ws/fundamentals-timeseries/v1/finance/timeseries/" + url.PathEscape(string(entity))
	status, err := f.get(ctx, path, q, &ts)
	if err != nil {
		return nil, err
	}
	if ts.Timeseries.Error != nil {
		if ts.Timeseries.Error.notFound() {
			return nil, nil
		}
		return nil, fmt.Errorf("yahoo api error: %s", ts.Timeseries.Error.Description)
	}
	if status != http.StatusOK {
		return nil, fmt.Errorf("yahoo: status %d", status)
	}

	type key struct {
		period model.PeriodType
		date   time.Time
	}
	rows := map[key]*model.DerivedRow{}
	for _, result := range ts.Timeseries.Result {
		for field, raw := range result {
			period, metric, ok := splitMetricType(field)
			if !ok {
				continue
			}
			var points []*yahooTimeseriesPoint
			if err := json.Unmarshal(raw, &points); err != nil {
				continue
			}
			for _, p := range points {
				if p == nil {
					continue
				}
				d, err := time.Parse("2006-01-02", p.AsOfDate)
				if err != nil {
					continue
				}
				k := key{period: period, date: d}
				row, ok := rows[k]
				if !ok {
					row = &model.DerivedRow{Ticker: entity, Date: d, PeriodType: period, Values: map[string]*float64{}}
					rows[k] = row
				}
				row.Values[metric] = p.ReportedValue.Raw
			}
		}
	}

	out := make([]model.DerivedRow, 0, len(rows))
	for _, r := range rows {
		out = append(out, *r)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].PeriodType != out[j].PeriodType {
			return out[i].PeriodType < out[j].PeriodType
		}
		return out[i].Date.Before(out[j].Date)
	})
	return out, nil
}

func splitMetricType(field string) (model.PeriodType, string, bool) {
	switch {
	case strings.HasPrefix(field, "annual"):
		return model.PeriodAnnual, strings.TrimPrefix(field, "annual"), true
	case strings.HasPrefix(field, "quarterly"):
		return model.PeriodQuarterly, strings.TrimPrefix(field, "quarterly"), true
	}
	return "", "", false
}
