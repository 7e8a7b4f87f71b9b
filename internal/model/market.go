package model

import (
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
)

// DateLayout is the provider and storage format for trading dates.
const DateLayout = "2006-01-02"

// MarketBar is one normalized daily OHLCV record for a ticker.
type MarketBar struct {
	Ticker string          `validate:"required,min=1,max=10"`
	Date   time.Time       `validate:"required"`
	Open   decimal.Decimal `validate:"gt=0"`
	High   decimal.Decimal `validate:"gt=0"`
	Low    decimal.Decimal `validate:"gt=0"`
	Close  decimal.Decimal `validate:"gt=0"`
	Volume int64           `validate:"gt=0"`
}

// Key returns the (ticker, date) identity of the bar.
func (b MarketBar) Key() string {
	return b.Ticker + "|" + FormatDate(b.Date)
}

// StoredRecord is a MarketBar accepted by storage.
type StoredRecord struct {
	ID int64
	MarketBar
	CreatedAt time.Time
	UpdatedAt time.Time
}

// BarUpdate carries the mutable fields of a stored record. Nil fields are left untouched.
type BarUpdate struct {
	Open   *decimal.Decimal `json:"open,omitempty" validate:"omitempty,gt=0"`
	High   *decimal.Decimal `json:"high,omitempty" validate:"omitempty,gt=0"`
	Low    *decimal.Decimal `json:"low,omitempty" validate:"omitempty,gt=0"`
	Close  *decimal.Decimal `json:"close,omitempty" validate:"omitempty,gt=0"`
	Volume *int64           `json:"volume,omitempty" validate:"omitempty,gt=0"`
}

// Empty reports whether the update changes nothing.
func (u BarUpdate) Empty() bool {
	return u.Open == nil && u.High == nil && u.Low == nil && u.Close == nil && u.Volume == nil
}

// Apply returns a copy of bar with the update's fields applied.
func (u BarUpdate) Apply(bar MarketBar) MarketBar {
	if u.Open != nil {
		bar.Open = *u.Open
	}
	if u.High != nil {
		bar.High = *u.High
	}
	if u.Low != nil {
		bar.Low = *u.Low
	}
	if u.Close != nil {
		bar.Close = *u.Close
	}
	if u.Volume != nil {
		bar.Volume = *u.Volume
	}
	return bar
}

// NewValidator returns a validator that understands decimal.Decimal fields.
func NewValidator() *validator.Validate {
	v := validator.New()
	v.RegisterCustomTypeFunc(func(field reflect.Value) interface{} {
		if d, ok := field.Interface().(decimal.Decimal); ok {
			f, _ := d.Float64()
			return f
		}
		return nil
	}, decimal.Decimal{})
	return v
}

// DateOf truncates t to its civil date in t's location, returned as midnight UTC.
func DateOf(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// ParseDate parses a YYYY-MM-DD trading date.
func ParseDate(s string) (time.Time, error) {
	t, err := time.Parse(DateLayout, strings.TrimSpace(s))
	if err != nil {
		return time.Time{}, fmt.Errorf("parse date %q: %w", s, err)
	}
	return t, nil
}

// FormatDate renders a trading date as YYYY-MM-DD.
func FormatDate(t time.Time) string {
	return t.Format(DateLayout)
}
