package model

import "time"

// Attributes is one row of the attribute snapshot table.
type Attributes struct {
	Ticker             Entity
	ShortName          string
	Sector             string
	Industry           string
	Country            string
	MarketCap          *float64
	Beta               *float64
	DividendYield      *float64
	High52w            *float64
	Low52w             *float64
	ForwardPE          *float64
	PriceToBook        *float64
	EnterpriseToEbitda *float64
	ReturnOnAssets     *float64
	LastUpdated        time.Time
}

// PeriodType distinguishes annual from quarterly statement rows.
type PeriodType string

const (
	PeriodAnnual    PeriodType = "Annual"
	PeriodQuarterly PeriodType = "Quarterly"
)

// DerivedRow is one period of an entity's financial statements.
type DerivedRow struct {
	Ticker     Entity
	Date       time.Time
	PeriodType PeriodType
	Values     map[string]*float64
}
