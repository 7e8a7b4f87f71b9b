package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"MarketPipeline/internal/model"

	"github.com/Masterminds/squirrel"
	"github.com/moznion/go-optional"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const (
	table = "market_data"

	DefaultPageSize = 50
	MaxPageSize     = 100

	// batchChunk bounds the number of rows per INSERT so the statement stays
	// under driver parameter limits.
	batchChunk = 500
)

var (
	insertColumns = []string{"ticker", "date", "open", "high", "low", "close", "volume", "created_at", "updated_at"}
	recordColumns = append([]string{"id"}, insertColumns...)
)

// upsertSuffix overwrites prices and volume on a (ticker, date) conflict.
// created_at is left untouched, preserving the first insert time.
const upsertSuffix = `ON CONFLICT (ticker, date) DO UPDATE SET
	open = excluded.open,
	high = excluded.high,
	low = excluded.low,
	close = excluded.close,
	volume = excluded.volume,
	updated_at = excluded.updated_at`

// Filter selects records for List. Zero Page/Size fall back to defaults.
type Filter struct {
	Ticker string
	Start  optional.Option[time.Time]
	End    optional.Option[time.Time]
	Page   int
	Size   int
}

func (f *Filter) normalize() {
	if f.Page < 1 {
		f.Page = 1
	}
	if f.Size < 1 {
		f.Size = DefaultPageSize
	}
	if f.Size > MaxPageSize {
		f.Size = MaxPageSize
	}
}

// Upsert inserts the bar or, if (ticker, date) exists, overwrites its prices
// and volume in one statement.
func (s *Store) Upsert(ctx context.Context, bar model.MarketBar) (model.StoredRecord, error) {
	now := s.now().UTC()
	query, args, err := s.sq.Insert(table).
		Columns(insertColumns...).
		Values(barValues(bar, now)...).
		Suffix(upsertSuffix + " RETURNING " + strings.Join(recordColumns, ", ")).
		ToSql()
	if err != nil {
		return model.StoredRecord{}, fmt.Errorf("build upsert: %w", err)
	}
	rec, err := scanRecord(s.db.QueryRowContext(ctx, query, args...))
	if err != nil {
		return model.StoredRecord{}, fmt.Errorf("upsert %s %s: %w", bar.Ticker, model.FormatDate(bar.Date), err)
	}
	return rec, nil
}

// UpsertBatch upserts all bars inside one transaction and returns the number of
// distinct (ticker, date) rows written. Any failure rolls the whole batch back.
func (s *Store) UpsertBatch(ctx context.Context, bars []model.MarketBar) (int, error) {
	bars = dedupe(bars)
	if len(bars) == 0 {
		return 0, nil
	}

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{})
	if err != nil {
		return 0, fmt.Errorf("begin tx: %w", err)
	}

	now := s.now().UTC()
	for start := 0; start < len(bars); start += batchChunk {
		end := min(start+batchChunk, len(bars))
		q := s.sq.Insert(table).Columns(insertColumns...)
		for _, b := range bars[start:end] {
			q = q.Values(barValues(b, now)...)
		}
		query, args, err := q.Suffix(upsertSuffix).ToSql()
		if err != nil {
			_ = tx.Rollback()
			return 0, fmt.Errorf("build batch upsert: %w", err)
		}
		if _, err := tx.ExecContext(ctx, query, args...); err != nil {
			_ = tx.Rollback()
			return 0, fmt.Errorf("exec batch upsert: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit batch upsert: %w", err)
	}
	return len(bars), nil
}

// LatestDate returns the most recent stored trading date for ticker.
func (s *Store) LatestDate(ctx context.Context, ticker string) (optional.Option[time.Time], error) {
	query, args, err := s.sq.Select("MAX(date)").
		From(table).
		Where(squirrel.Eq{"ticker": strings.ToUpper(ticker)}).
		ToSql()
	if err != nil {
		return optional.None[time.Time](), fmt.Errorf("build latest date query: %w", err)
	}
	var d dateCol
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(&d); err != nil {
		return optional.None[time.Time](), fmt.Errorf("latest date for %s: %w", ticker, err)
	}
	if !d.valid {
		return optional.None[time.Time](), nil
	}
	return optional.Some(d.t), nil
}

// List returns one page of records matching the filter, newest date first.
func (s *Store) List(ctx context.Context, f Filter) (model.Page[model.StoredRecord], error) {
	f.normalize()

	where := squirrel.And{}
	if f.Ticker != "" {
		where = append(where, squirrel.Eq{"ticker": strings.ToUpper(f.Ticker)})
	}
	if f.Start.IsSome() {
		where = append(where, squirrel.GtOrEq{"date": model.FormatDate(f.Start.Unwrap())})
	}
	if f.End.IsSome() {
		where = append(where, squirrel.LtOrEq{"date": model.FormatDate(f.End.Unwrap())})
	}

	countQ, countArgs, err := s.sq.Select("COUNT(*)").From(table).Where(where).ToSql()
	if err != nil {
		return model.Page[model.StoredRecord]{}, fmt.Errorf("build count query: %w", err)
	}
	var total int
	if err := s.db.QueryRowContext(ctx, countQ, countArgs...).Scan(&total); err != nil {
		return model.Page[model.StoredRecord]{}, fmt.Errorf("count records: %w", err)
	}

	query, args, err := s.sq.Select(recordColumns...).
		From(table).
		Where(where).
		OrderBy("date DESC", "ticker").
		Limit(uint64(f.Size)).
		Offset(uint64((f.Page - 1) * f.Size)).
		ToSql()
	if err != nil {
		return model.Page[model.StoredRecord]{}, fmt.Errorf("build list query: %w", err)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return model.Page[model.StoredRecord]{}, fmt.Errorf("list records: %w", err)
	}
	defer rows.Close()

	items := make([]model.StoredRecord, 0, f.Size)
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return model.Page[model.StoredRecord]{}, err
		}
		items = append(items, rec)
	}
	if err := rows.Err(); err != nil {
		return model.Page[model.StoredRecord]{}, fmt.Errorf("iterate records: %w", err)
	}
	return model.NewPage(items, total, f.Page, f.Size), nil
}

// Get returns the record with the given id.
func (s *Store) Get(ctx context.Context, id int64) (model.StoredRecord, error) {
	query, args, err := s.sq.Select(recordColumns...).From(table).Where(squirrel.Eq{"id": id}).ToSql()
	if err != nil {
		return model.StoredRecord{}, fmt.Errorf("build get query: %w", err)
	}
	rec, err := scanRecord(s.db.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return model.StoredRecord{}, ErrNotFound
	}
	if err != nil {
		return model.StoredRecord{}, fmt.Errorf("get record %d: %w", id, err)
	}
	return rec, nil
}

// Create inserts a new record and fails with ErrConflict if (ticker, date) exists.
func (s *Store) Create(ctx context.Context, bar model.MarketBar) (model.StoredRecord, error) {
	now := s.now().UTC()
	query, args, err := s.sq.Insert(table).
		Columns(insertColumns...).
		Values(barValues(bar, now)...).
		Suffix("ON CONFLICT (ticker, date) DO NOTHING RETURNING " + strings.Join(recordColumns, ", ")).
		ToSql()
	if err != nil {
		return model.StoredRecord{}, fmt.Errorf("build insert: %w", err)
	}
	rec, err := scanRecord(s.db.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return model.StoredRecord{}, ErrConflict
	}
	if err != nil {
		return model.StoredRecord{}, fmt.Errorf("create record: %w", err)
	}
	s.logger.Info("created market data", zap.String("ticker", rec.Ticker), zap.String("date", model.FormatDate(rec.Date)))
	return rec, nil
}

// Update applies a partial update and refreshes updated_at.
func (s *Store) Update(ctx context.Context, id int64, u model.BarUpdate) (model.StoredRecord, error) {
	if u.Empty() {
		return s.Get(ctx, id)
	}
	q := s.sq.Update(table).Set("updated_at", s.now().UTC().UnixMicro())
	if u.Open != nil {
		q = q.Set("open", priceValue(*u.Open))
	}
	if u.High != nil {
		q = q.Set("high", priceValue(*u.High))
	}
	if u.Low != nil {
		q = q.Set("low", priceValue(*u.Low))
	}
	if u.Close != nil {
		q = q.Set("close", priceValue(*u.Close))
	}
	if u.Volume != nil {
		q = q.Set("volume", *u.Volume)
	}
	query, args, err := q.Where(squirrel.Eq{"id": id}).
		Suffix("RETURNING " + strings.Join(recordColumns, ", ")).
		ToSql()
	if err != nil {
		return model.StoredRecord{}, fmt.Errorf("build update: %w", err)
	}
	rec, err := scanRecord(s.db.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return model.StoredRecord{}, ErrNotFound
	}
	if err != nil {
		return model.StoredRecord{}, fmt.Errorf("update record %d: %w", id, err)
	}
	s.logger.Info("updated market data", zap.Int64("record_id", id))
	return rec, nil
}

// Delete removes the record with the given id.
func (s *Store) Delete(ctx context.Context, id int64) error {
	query, args, err := s.sq.Delete(table).Where(squirrel.Eq{"id": id}).ToSql()
	if err != nil {
		return fmt.Errorf("build delete: %w", err)
	}
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("delete record %d: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete record %d: %w", id, err)
	}
	if n == 0 {
		return ErrNotFound
	}
	s.logger.Info("deleted market data", zap.Int64("record_id", id))
	return nil
}

// Tickers returns the distinct stored tickers in order.
func (s *Store) Tickers(ctx context.Context) ([]string, error) {
	query, args, err := s.sq.Select("DISTINCT ticker").From(table).OrderBy("ticker").ToSql()
	if err != nil {
		return nil, fmt.Errorf("build tickers query: %w", err)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list tickers: %w", err)
	}
	defer rows.Close()

	tickers := []string{}
	for rows.Next() {
		var t string
		if err := rows.Scan(&t); err != nil {
			return nil, fmt.Errorf("scan ticker: %w", err)
		}
		tickers = append(tickers, t)
	}
	return tickers, rows.Err()
}

// dedupe keeps the last bar for each (ticker, date) so a single INSERT never
// touches the same row twice. Order of first appearance is preserved.
func dedupe(bars []model.MarketBar) []model.MarketBar {
	idx := make(map[string]int, len(bars))
	out := make([]model.MarketBar, 0, len(bars))
	for _, b := range bars {
		b.Ticker = strings.ToUpper(b.Ticker)
		if i, ok := idx[b.Key()]; ok {
			out[i] = b
			continue
		}
		idx[b.Key()] = len(out)
		out = append(out, b)
	}
	return out
}

func barValues(b model.MarketBar, now time.Time) []interface{} {
	ts := now.UnixMicro()
	return []interface{}{
		strings.ToUpper(b.Ticker),
		model.FormatDate(b.Date),
		priceValue(b.Open),
		priceValue(b.High),
		priceValue(b.Low),
		priceValue(b.Close),
		b.Volume,
		ts,
		ts,
	}
}

func priceValue(d decimal.Decimal) string {
	return d.StringFixed(2)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (model.StoredRecord, error) {
	var (
		rec                  model.StoredRecord
		date                 dateCol
		createdAt, updatedAt int64
	)
	err := row.Scan(&rec.ID, &rec.Ticker, &date,
		&rec.Open, &rec.High, &rec.Low, &rec.Close, &rec.Volume,
		&createdAt, &updatedAt)
	if err != nil {
		return model.StoredRecord{}, err
	}
	rec.Date = date.t
	rec.CreatedAt = time.UnixMicro(createdAt).UTC()
	rec.UpdatedAt = time.UnixMicro(updatedAt).UTC()
	return rec, nil
}

// dateCol scans a trading date stored as TEXT (SQLite) or DATE (Postgres).
type dateCol struct {
	t     time.Time
	valid bool
}

func (d *dateCol) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		d.valid = false
		return nil
	case time.Time:
		d.t, d.valid = model.DateOf(v), true
		return nil
	case string:
		return d.parse(v)
	case []byte:
		return d.parse(string(v))
	default:
		return fmt.Errorf("unsupported date type %T", src)
	}
}

func (d *dateCol) parse(s string) error {
	// Postgres text output may carry a time component.
	if len(s) > len(model.DateLayout) {
		s = s[:len(model.DateLayout)]
	}
	t, err := model.ParseDate(s)
	if err != nil {
		return err
	}
	d.t, d.valid = t, true
	return nil
}
