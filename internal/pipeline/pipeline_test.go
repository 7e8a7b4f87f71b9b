package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"MarketPipeline/internal/collector"
	"MarketPipeline/internal/loader"
	"MarketPipeline/internal/model"
	"MarketPipeline/internal/store"
	"MarketPipeline/internal/transformer"

	"github.com/moznion/go-optional"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// Wednesday afternoon.
var testNow = time.Date(2024, 1, 17, 15, 0, 0, 0, time.UTC)

func fixedNow() time.Time { return testNow }

type spyTransformer struct {
	inner      Transformer
	transforms atomic.Int32
	panicOn    string
}

func (s *spyTransformer) Transform(ticker string, raw *collector.RawPayload) []model.MarketBar {
	s.transforms.Add(1)
	if ticker == s.panicOn {
		panic("boom in transform")
	}
	return s.inner.Transform(ticker, raw)
}

func (s *spyTransformer) Validate(bar model.MarketBar) bool { return s.inner.Validate(bar) }

type fakeLoader struct {
	latest    map[string]time.Time
	latestErr error
	loadZero  bool
	batches   [][]model.MarketBar
}

func (f *fakeLoader) UpsertBatch(_ context.Context, bars []model.MarketBar) int {
	f.batches = append(f.batches, bars)
	if f.loadZero {
		return 0
	}
	return len(bars)
}

func (f *fakeLoader) LatestDateFor(_ context.Context, ticker string) (optional.Option[time.Time], error) {
	if f.latestErr != nil {
		return optional.None[time.Time](), f.latestErr
	}
	if d, ok := f.latest[ticker]; ok {
		return optional.Some(d), nil
	}
	return optional.None[time.Time](), nil
}

type staticFetcher struct {
	payloads map[string]*collector.RawPayload
}

func (s *staticFetcher) Name() string { return "static" }

func (s *staticFetcher) Fetch(_ context.Context, ticker string) (*collector.RawPayload, error) {
	if p, ok := s.payloads[ticker]; ok {
		return p, nil
	}
	return nil, errors.New("no payload")
}

func payload(entries map[string][5]string) *collector.RawPayload {
	p := &collector.RawPayload{TimeSeries: map[string]json.RawMessage{}}
	for date, v := range entries {
		raw, _ := json.Marshal(map[string]string{
			"1. open": v[0], "2. high": v[1], "3. low": v[2], "4. close": v[3], "5. volume": v[4],
		})
		p.TimeSeries[date] = raw
	}
	return p
}

func newTestPipeline(f collector.Fetcher, t Transformer, l Loader, tickers ...string) *Pipeline {
	p := New(f, t, l, tickers, time.UTC, zap.NewNop())
	p.Now = fixedNow
	return p
}

func realTransformer() *transformer.Transformer {
	return transformer.New(zap.NewNop(), fixedNow, time.UTC)
}

func TestRunForTicker_ErrorMessageNeverTransforms(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"Error Message": "Invalid API call."}`))
	}))
	defer srv.Close()

	f := collector.NewAlphaVantageFetcher(srv.URL, "k", "compact", time.Second, "", zap.NewNop())
	spy := &spyTransformer{inner: realTransformer()}
	l := &fakeLoader{}

	stats := newTestPipeline(f, spy, l).RunForTicker(context.Background(), "aapl", true, false)

	assert.Equal(t, "AAPL", stats.Ticker)
	assert.Equal(t, model.StatusFailed, stats.Status)
	assert.True(t, strings.HasPrefix(stats.Reason, ReasonExtractFailed+": "))
	assert.Zero(t, stats.Extracted)
	assert.Zero(t, spy.transforms.Load())
	assert.Empty(t, l.batches)
}

func TestRunBatch_SkipsCurrentTickerAndLoadsNewOne(t *testing.T) {
	ctx := context.Background()
	s, err := store.Open(ctx, "sqlite", ":memory:", zap.NewNop())
	require.NoError(t, err)
	defer s.Close()
	l := loader.New(s, zap.NewNop())

	today := model.DateOf(testNow)
	seeded := l.UpsertBatch(ctx, []model.MarketBar{{
		Ticker: "AAPL", Date: today,
		Open: decimal.NewFromInt(185), High: decimal.NewFromInt(186), Low: decimal.NewFromInt(184), Close: decimal.NewFromInt(185),
		Volume: 100,
	}})
	require.Equal(t, 1, seeded)

	f := &collector.MockFetcher{Now: fixedNow, Days: 5}
	p := newTestPipeline(f, realTransformer(), l)

	batch := p.RunBatch(ctx, []string{"AAPL", "GOOGL"}, false, true)

	require.Len(t, batch.Details, 2)
	assert.NotEmpty(t, batch.RunID)
	assert.Equal(t, 2, batch.TotalTickers)

	aapl := batch.Details[0]
	assert.Equal(t, "AAPL", aapl.Ticker)
	assert.Equal(t, model.StatusSkipped, aapl.Status)
	assert.True(t, aapl.Skipped)
	assert.Equal(t, "data_current_last_update_2024-01-17", aapl.Reason)

	googl := batch.Details[1]
	assert.Equal(t, "GOOGL", googl.Ticker)
	assert.Equal(t, model.StatusSuccess, googl.Status)
	assert.Equal(t, 5, googl.Extracted)
	assert.Equal(t, 5, googl.Transformed)
	assert.Equal(t, 5, googl.Loaded)

	assert.Equal(t, 1, batch.Successful)
	assert.Equal(t, 1, batch.Skipped)
	assert.Equal(t, 0, batch.Failed)
	assert.Equal(t, 5, batch.TotalLoaded)

	latest, err := l.LatestDateFor(ctx, "GOOGL")
	require.NoError(t, err)
	assert.Equal(t, "2024-01-17", model.FormatDate(latest.Unwrap()))
}

func TestRunBatch_PanicIsolatedToTicker(t *testing.T) {
	f := &collector.MockFetcher{Now: fixedNow, Days: 3}
	spy := &spyTransformer{inner: realTransformer(), panicOn: "GOOGL"}
	l := &fakeLoader{}

	batch := newTestPipeline(f, spy, l).RunBatch(context.Background(), []string{"AAPL", "GOOGL", "MSFT"}, true, false)

	require.Len(t, batch.Details, 3)
	assert.Equal(t, model.StatusSuccess, batch.Details[0].Status)
	assert.Equal(t, model.StatusError, batch.Details[1].Status)
	assert.Equal(t, "boom in transform", batch.Details[1].Reason)
	assert.Equal(t, 3, batch.Details[1].Extracted)
	assert.Equal(t, model.StatusSuccess, batch.Details[2].Status)
	assert.Equal(t, 2, batch.Successful)
	assert.Equal(t, 1, batch.Failed)
	assert.Equal(t, 6, batch.TotalLoaded)
}

func TestRunForTicker_NoNewData(t *testing.T) {
	f := &staticFetcher{payloads: map[string]*collector.RawPayload{
		"IBM": payload(map[string][5]string{
			"2024-01-10": {"10", "11", "9", "10", "100"},
			"2024-01-11": {"10", "11", "9", "10", "100"},
		}),
	}}
	l := &fakeLoader{latest: map[string]time.Time{"IBM": time.Date(2024, 1, 12, 0, 0, 0, 0, time.UTC)}}

	stats := newTestPipeline(f, realTransformer(), l).RunForTicker(context.Background(), "IBM", false, true)

	assert.Equal(t, model.StatusNoNewData, stats.Status)
	assert.Equal(t, ReasonNoNewData, stats.Reason)
	assert.Equal(t, 2, stats.Transformed)
	assert.Empty(t, l.batches)

	var batch model.BatchStats
	batch.Add(stats)
	assert.Equal(t, 1, batch.Failed)
}

func TestRunForTicker_IncrementalKeepsSameDayBar(t *testing.T) {
	f := &staticFetcher{payloads: map[string]*collector.RawPayload{
		"IBM": payload(map[string][5]string{
			"2024-01-12": {"10", "11", "9", "10", "100"},
			"2024-01-16": {"10", "11", "9", "10.5", "100"},
			"2024-01-17": {"10", "11", "9", "10.7", "100"},
		}),
	}}
	l := &fakeLoader{latest: map[string]time.Time{"IBM": time.Date(2024, 1, 16, 0, 0, 0, 0, time.UTC)}}

	stats := newTestPipeline(f, realTransformer(), l).RunForTicker(context.Background(), "IBM", true, true)

	assert.Equal(t, model.StatusSuccess, stats.Status)
	assert.Equal(t, 2, stats.Loaded)
	require.Len(t, l.batches, 1)
	assert.Equal(t, "2024-01-16", model.FormatDate(l.batches[0][0].Date))
}

func TestRunForTicker_NoDataTransformed(t *testing.T) {
	f := &staticFetcher{payloads: map[string]*collector.RawPayload{
		"IBM": payload(map[string][5]string{"not-a-date": {"10", "11", "9", "10", "100"}}),
	}}
	stats := newTestPipeline(f, realTransformer(), &fakeLoader{}).RunForTicker(context.Background(), "IBM", true, false)

	assert.Equal(t, model.StatusFailed, stats.Status)
	assert.Equal(t, ReasonNoDataTransformed, stats.Reason)
	assert.Equal(t, 1, stats.Extracted)
}

func TestRunForTicker_NoValidData(t *testing.T) {
	f := &staticFetcher{payloads: map[string]*collector.RawPayload{
		// high below low, and a future date
		"IBM": payload(map[string][5]string{
			"2024-01-16": {"10", "8", "9", "10", "100"},
			"2024-01-18": {"10", "11", "9", "10", "100"},
		}),
	}}
	stats := newTestPipeline(f, realTransformer(), &fakeLoader{}).RunForTicker(context.Background(), "IBM", true, false)

	assert.Equal(t, model.StatusFailed, stats.Status)
	assert.Equal(t, ReasonNoValidData, stats.Reason)
	assert.Equal(t, 2, stats.Transformed)
}

func TestRunForTicker_LoadFailed(t *testing.T) {
	f := &collector.MockFetcher{Now: fixedNow, Days: 2}
	l := &fakeLoader{loadZero: true}

	stats := newTestPipeline(f, realTransformer(), l).RunForTicker(context.Background(), "IBM", true, false)

	assert.Equal(t, model.StatusFailed, stats.Status)
	assert.Equal(t, ReasonLoadFailed, stats.Reason)
	assert.Zero(t, stats.Loaded)
}

func TestRunForTicker_LatestDateErrorIsError(t *testing.T) {
	f := &collector.MockFetcher{Now: fixedNow}
	l := &fakeLoader{latestErr: errors.New("db down")}

	stats := newTestPipeline(f, realTransformer(), l).RunForTicker(context.Background(), "IBM", false, true)

	assert.Equal(t, model.StatusError, stats.Status)
	assert.Contains(t, stats.Reason, "db down")
}

func TestRunBatch_DefaultTickers(t *testing.T) {
	f := &collector.MockFetcher{Now: fixedNow, Days: 1, Errors: map[string]error{"TSLA": collector.ErrRateLimited}}
	p := newTestPipeline(f, realTransformer(), &fakeLoader{}, "AAPL", "TSLA")

	batch := p.RunBatch(context.Background(), nil, true, false)

	require.Len(t, batch.Details, 2)
	assert.Equal(t, "AAPL", batch.Details[0].Ticker)
	assert.Equal(t, model.StatusFailed, batch.Details[1].Status)
	assert.Contains(t, batch.Details[1].Reason, "rate limit")
	assert.Equal(t, 1, batch.Successful)
	assert.Equal(t, 1, batch.Failed)
	assert.Equal(t, testNow, batch.StartedAt)
}
