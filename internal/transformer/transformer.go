package transformer

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"MarketPipeline/internal/collector"
	"MarketPipeline/internal/model"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// dailyEntry is one date's values in the provider series. All fields are
// decimal strings.
type dailyEntry struct {
	Open   string `json:"1. open"`
	High   string `json:"2. high"`
	Low    string `json:"3. low"`
	Close  string `json:"4. close"`
	Volume string `json:"5. volume"`
}

// Transformer turns raw provider payloads into validated market bars.
type Transformer struct {
	Logger   *zap.Logger
	Now      func() time.Time
	Location *time.Location

	validate *validator.Validate
}

// New creates a transformer. Today's date for the future-date check is taken
// from now in loc.
func New(logger *zap.Logger, now func() time.Time, loc *time.Location) *Transformer {
	if now == nil {
		now = time.Now
	}
	if loc == nil {
		loc = time.Local
	}
	return &Transformer{
		Logger:   logger.Named("transformer"),
		Now:      now,
		Location: loc,
		validate: model.NewValidator(),
	}
}

// Transform converts every entry of the payload into a MarketBar. Entries with
// an unparseable date, number or out-of-range field are logged and dropped.
// The result is ordered by date ascending.
func (t *Transformer) Transform(ticker string, raw *collector.RawPayload) []model.MarketBar {
	ticker = strings.ToUpper(strings.TrimSpace(ticker))
	if raw == nil {
		return nil
	}

	bars := make([]model.MarketBar, 0, len(raw.TimeSeries))
	for dateStr, entry := range raw.TimeSeries {
		bar, err := t.parseEntry(ticker, dateStr, entry)
		if err != nil {
			t.Logger.Warn("failed to parse data point",
				zap.String("ticker", ticker),
				zap.String("date", dateStr),
				zap.Error(err))
			continue
		}
		bars = append(bars, bar)
	}
	sort.Slice(bars, func(i, j int) bool { return bars[i].Date.Before(bars[j].Date) })

	t.Logger.Info("data transformation completed",
		zap.String("ticker", ticker),
		zap.Int("records_transformed", len(bars)))
	return bars
}

func (t *Transformer) parseEntry(ticker, dateStr string, raw json.RawMessage) (model.MarketBar, error) {
	date, err := model.ParseDate(dateStr)
	if err != nil {
		return model.MarketBar{}, err
	}
	var e dailyEntry
	if err := json.Unmarshal(raw, &e); err != nil {
		return model.MarketBar{}, fmt.Errorf("decode entry: %w", err)
	}

	bar := model.MarketBar{Ticker: ticker, Date: date}
	fields := []struct {
		name string
		in   string
		out  *decimal.Decimal
	}{
		{"open", e.Open, &bar.Open},
		{"high", e.High, &bar.High},
		{"low", e.Low, &bar.Low},
		{"close", e.Close, &bar.Close},
	}
	for _, f := range fields {
		d, err := decimal.NewFromString(strings.TrimSpace(f.in))
		if err != nil {
			return model.MarketBar{}, fmt.Errorf("parse %s %q: %w", f.name, f.in, err)
		}
		*f.out = d.Round(2)
	}
	vol, err := strconv.ParseInt(strings.TrimSpace(e.Volume), 10, 64)
	if err != nil {
		return model.MarketBar{}, fmt.Errorf("parse volume %q: %w", e.Volume, err)
	}
	bar.Volume = vol

	if err := t.validate.Struct(bar); err != nil {
		return model.MarketBar{}, err
	}
	return bar, nil
}

// Validate checks the price ordering and that the bar is not dated in the future.
func (t *Transformer) Validate(bar model.MarketBar) bool {
	log := t.Logger.With(zap.String("ticker", bar.Ticker), zap.String("date", model.FormatDate(bar.Date)))

	if bar.Open.LessThan(bar.Low) || bar.Open.GreaterThan(bar.High) {
		log.Warn("invalid price relationship: open")
		return false
	}
	if bar.Close.LessThan(bar.Low) || bar.Close.GreaterThan(bar.High) {
		log.Warn("invalid price relationship: close")
		return false
	}
	if bar.Date.After(t.today()) {
		log.Warn("future date detected")
		return false
	}
	return true
}

// TransformBatch transforms each ticker independently. Tickers that produce
// no bars are left out of the result.
func (t *Transformer) TransformBatch(raw map[string]*collector.RawPayload) map[string][]model.MarketBar {
	out := make(map[string][]model.MarketBar, len(raw))
	total := 0
	for ticker, payload := range raw {
		bars := t.Transform(ticker, payload)
		if len(bars) == 0 {
			continue
		}
		out[strings.ToUpper(ticker)] = bars
		total += len(bars)
	}
	t.Logger.Info("batch transformation completed",
		zap.Int("tickers", len(out)),
		zap.Int("total_records", total))
	return out
}

func (t *Transformer) today() time.Time {
	return model.DateOf(t.Now().In(t.Location))
}
