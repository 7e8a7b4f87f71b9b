package store

import (
	"context"
	"sync"
	"testing"
	"time"

	"MarketPipeline/internal/model"

	"github.com/moznion/go-optional"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/suite"
	"go.uber.org/zap"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func testBar(ticker, date, close string) model.MarketBar {
	d, err := model.ParseDate(date)
	if err != nil {
		panic(err)
	}
	c := decimal.RequireFromString(close)
	return model.MarketBar{
		Ticker: ticker,
		Date:   d,
		Open:   c,
		High:   c.Add(decimal.NewFromInt(1)),
		Low:    c.Sub(decimal.NewFromInt(1)),
		Close:  c,
		Volume: 1000,
	}
}

// StoreTestSuite runs store operations against an in-memory SQLite database.
type StoreTestSuite struct {
	suite.Suite
	store *Store
	clock *fakeClock
	ctx   context.Context
}

func TestStoreSuite(t *testing.T) {
	suite.Run(t, new(StoreTestSuite))
}

func (suite *StoreTestSuite) SetupTest() {
	suite.ctx = context.Background()
	suite.clock = &fakeClock{now: time.Date(2024, 1, 17, 12, 0, 0, 0, time.UTC)}
	s, err := Open(suite.ctx, "sqlite", ":memory:", zap.NewNop(), WithClock(suite.clock.Now))
	suite.Require().NoError(err)
	suite.store = s
}

func (suite *StoreTestSuite) TearDownTest() {
	suite.Require().NoError(suite.store.Close())
}

func (suite *StoreTestSuite) TestOpen_UnknownDriver() {
	_, err := Open(suite.ctx, "mysql", "x", zap.NewNop())
	suite.Error(err)
}

func (suite *StoreTestSuite) TestMigrate_Idempotent() {
	suite.NoError(suite.store.migrate(suite.ctx))
	suite.Equal("sqlite", suite.store.Driver())
	suite.NoError(suite.store.Ping(suite.ctx))
}

func (suite *StoreTestSuite) TestUpsert_IsIdempotent() {
	first, err := suite.store.Upsert(suite.ctx, testBar("aapl", "2024-01-15", "185.50"))
	suite.Require().NoError(err)
	suite.Equal("AAPL", first.Ticker)
	suite.Equal(first.CreatedAt, first.UpdatedAt)

	suite.clock.Advance(time.Minute)
	second, err := suite.store.Upsert(suite.ctx, testBar("AAPL", "2024-01-15", "190.00"))
	suite.Require().NoError(err)

	suite.Equal(first.ID, second.ID)
	suite.True(second.Close.Equal(decimal.RequireFromString("190.00")))
	suite.Equal(first.CreatedAt, second.CreatedAt)
	suite.True(second.UpdatedAt.After(first.UpdatedAt))

	page, err := suite.store.List(suite.ctx, Filter{Ticker: "AAPL"})
	suite.Require().NoError(err)
	suite.Equal(1, page.Total)
}

func (suite *StoreTestSuite) TestUpsertBatch_InsertsAndOverwrites() {
	n, err := suite.store.UpsertBatch(suite.ctx, []model.MarketBar{
		testBar("AAPL", "2024-01-15", "185.50"),
		testBar("AAPL", "2024-01-16", "186.00"),
	})
	suite.Require().NoError(err)
	suite.Equal(2, n)

	orig, err := suite.store.Get(suite.ctx, 1)
	suite.Require().NoError(err)

	suite.clock.Advance(time.Hour)
	n, err = suite.store.UpsertBatch(suite.ctx, []model.MarketBar{
		testBar("AAPL", "2024-01-16", "187.00"),
		testBar("AAPL", "2024-01-17", "188.00"),
	})
	suite.Require().NoError(err)
	suite.Equal(2, n)

	page, err := suite.store.List(suite.ctx, Filter{Ticker: "AAPL"})
	suite.Require().NoError(err)
	suite.Equal(3, page.Total)
	suite.Equal("2024-01-17", model.FormatDate(page.Items[0].Date))
	suite.True(page.Items[1].Close.Equal(decimal.RequireFromString("187.00")))
	suite.Equal(orig.CreatedAt, page.Items[2].CreatedAt)
}

func (suite *StoreTestSuite) TestUpsertBatch_DuplicateKeysLastWins() {
	n, err := suite.store.UpsertBatch(suite.ctx, []model.MarketBar{
		testBar("AAPL", "2024-01-15", "185.50"),
		testBar("aapl", "2024-01-15", "199.00"),
	})
	suite.Require().NoError(err)
	suite.Equal(1, n)

	rec, err := suite.store.Get(suite.ctx, 1)
	suite.Require().NoError(err)
	suite.True(rec.Close.Equal(decimal.RequireFromString("199.00")))
}

func (suite *StoreTestSuite) TestUpsertBatch_Empty() {
	n, err := suite.store.UpsertBatch(suite.ctx, nil)
	suite.NoError(err)
	suite.Zero(n)
}

func (suite *StoreTestSuite) TestUpsertBatch_RollsBackOnFailure() {
	ctx, cancel := context.WithCancel(suite.ctx)
	cancel()
	n, err := suite.store.UpsertBatch(ctx, []model.MarketBar{testBar("AAPL", "2024-01-15", "185.50")})
	suite.Error(err)
	suite.Zero(n)

	latest, err := suite.store.LatestDate(suite.ctx, "AAPL")
	suite.Require().NoError(err)
	suite.True(latest.IsNone())
}

func (suite *StoreTestSuite) TestUpsertBatch_FailureInLaterChunkRollsBackEarlierChunks() {
	_, err := suite.store.db.ExecContext(suite.ctx, `CREATE TRIGGER reject_bad BEFORE INSERT ON market_data
		WHEN NEW.ticker = 'BAD'
		BEGIN SELECT RAISE(ABORT, 'bad row'); END`)
	suite.Require().NoError(err)

	start, _ := model.ParseDate("2020-01-01")
	bars := make([]model.MarketBar, 0, batchChunk+100)
	for i := 0; i < batchChunk+100; i++ {
		b := testBar("AAPL", "2020-01-01", "100.00")
		b.Date = start.AddDate(0, 0, i)
		bars = append(bars, b)
	}
	bars[batchChunk+50].Ticker = "BAD"

	n, err := suite.store.UpsertBatch(suite.ctx, bars)
	suite.Error(err)
	suite.Zero(n)

	page, err := suite.store.List(suite.ctx, Filter{})
	suite.Require().NoError(err)
	suite.Zero(page.Total)
}

func (suite *StoreTestSuite) TestUpsertBatch_ConcurrentWritersSameKey() {
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := suite.store.UpsertBatch(suite.ctx, []model.MarketBar{testBar("MSFT", "2024-01-15", "400.00")})
			suite.NoError(err)
		}()
	}
	wg.Wait()

	page, err := suite.store.List(suite.ctx, Filter{Ticker: "MSFT"})
	suite.Require().NoError(err)
	suite.Equal(1, page.Total)
}

func (suite *StoreTestSuite) TestLatestDate() {
	latest, err := suite.store.LatestDate(suite.ctx, "AAPL")
	suite.Require().NoError(err)
	suite.True(latest.IsNone())

	_, err = suite.store.UpsertBatch(suite.ctx, []model.MarketBar{
		testBar("AAPL", "2024-01-12", "180.00"),
		testBar("AAPL", "2024-01-16", "186.00"),
		testBar("MSFT", "2024-01-17", "400.00"),
	})
	suite.Require().NoError(err)

	latest, err = suite.store.LatestDate(suite.ctx, "aapl")
	suite.Require().NoError(err)
	suite.True(latest.IsSome())
	suite.Equal("2024-01-16", model.FormatDate(latest.Unwrap()))
}

func (suite *StoreTestSuite) TestList_FiltersAndPaginates() {
	var bars []model.MarketBar
	for _, d := range []string{"2024-01-08", "2024-01-09", "2024-01-10", "2024-01-11", "2024-01-12"} {
		bars = append(bars, testBar("AAPL", d, "100.00"), testBar("GOOGL", d, "140.00"))
	}
	_, err := suite.store.UpsertBatch(suite.ctx, bars)
	suite.Require().NoError(err)

	all, err := suite.store.List(suite.ctx, Filter{Size: 3, Page: 2})
	suite.Require().NoError(err)
	suite.Equal(10, all.Total)
	suite.Equal(4, all.Pages)
	suite.Require().Len(all.Items, 3)
	// date DESC, ticker ASC: page 1 = 12 AAPL, 12 GOOGL, 11 AAPL
	suite.Equal("GOOGL", all.Items[0].Ticker)
	suite.Equal("2024-01-11", model.FormatDate(all.Items[0].Date))

	start, _ := model.ParseDate("2024-01-09")
	end, _ := model.ParseDate("2024-01-10")
	ranged, err := suite.store.List(suite.ctx, Filter{
		Ticker: "googl",
		Start:  optional.Some(start),
		End:    optional.Some(end),
	})
	suite.Require().NoError(err)
	suite.Equal(2, ranged.Total)
	suite.Equal(DefaultPageSize, ranged.Size)
	for _, r := range ranged.Items {
		suite.Equal("GOOGL", r.Ticker)
	}

	capped, err := suite.store.List(suite.ctx, Filter{Size: 1000})
	suite.Require().NoError(err)
	suite.Equal(MaxPageSize, capped.Size)
}

func (suite *StoreTestSuite) TestCreateGetUpdateDelete() {
	rec, err := suite.store.Create(suite.ctx, testBar("TSLA", "2024-01-15", "220.00"))
	suite.Require().NoError(err)

	_, err = suite.store.Create(suite.ctx, testBar("TSLA", "2024-01-15", "221.00"))
	suite.ErrorIs(err, ErrConflict)

	got, err := suite.store.Get(suite.ctx, rec.ID)
	suite.Require().NoError(err)
	suite.Equal(rec.ID, got.ID)
	suite.Equal("220.00", got.Close.StringFixed(2))

	suite.clock.Advance(time.Second)
	vol := int64(42)
	closePrice := decimal.RequireFromString("220.55")
	upd, err := suite.store.Update(suite.ctx, rec.ID, model.BarUpdate{Close: &closePrice, Volume: &vol})
	suite.Require().NoError(err)
	suite.Equal(int64(42), upd.Volume)
	suite.Equal("220.55", upd.Close.StringFixed(2))
	suite.True(upd.UpdatedAt.After(rec.UpdatedAt))
	suite.Equal(rec.CreatedAt, upd.CreatedAt)

	same, err := suite.store.Update(suite.ctx, rec.ID, model.BarUpdate{})
	suite.Require().NoError(err)
	suite.Equal(upd.UpdatedAt, same.UpdatedAt)

	_, err = suite.store.Update(suite.ctx, 999, model.BarUpdate{Volume: &vol})
	suite.ErrorIs(err, ErrNotFound)

	suite.Require().NoError(suite.store.Delete(suite.ctx, rec.ID))
	suite.ErrorIs(suite.store.Delete(suite.ctx, rec.ID), ErrNotFound)
	_, err = suite.store.Get(suite.ctx, rec.ID)
	suite.ErrorIs(err, ErrNotFound)
}

func (suite *StoreTestSuite) TestTickers() {
	tickers, err := suite.store.Tickers(suite.ctx)
	suite.Require().NoError(err)
	suite.Empty(tickers)

	_, err = suite.store.UpsertBatch(suite.ctx, []model.MarketBar{
		testBar("MSFT", "2024-01-15", "400.00"),
		testBar("AAPL", "2024-01-15", "185.00"),
		testBar("AAPL", "2024-01-16", "186.00"),
	})
	suite.Require().NoError(err)

	tickers, err = suite.store.Tickers(suite.ctx)
	suite.Require().NoError(err)
	suite.Equal([]string{"AAPL", "MSFT"}, tickers)
}

func (suite *StoreTestSuite) TestDateColScan() {
	var d dateCol
	suite.NoError(d.Scan(nil))
	suite.False(d.valid)
	suite.NoError(d.Scan("2024-01-15T00:00:00Z"))
	suite.Equal("2024-01-15", model.FormatDate(d.t))
	suite.NoError(d.Scan(time.Date(2024, 1, 16, 0, 0, 0, 0, time.UTC)))
	suite.Equal("2024-01-16", model.FormatDate(d.t))
	suite.Error(d.Scan(42))
}
