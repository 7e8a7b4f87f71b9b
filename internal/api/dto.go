package api

import (
	"time"

	"MarketPipeline/internal/model"

	"github.com/shopspring/decimal"
)

// createRequest is the body of POST /market-data.
type createRequest struct {
	Ticker string          `json:"ticker" validate:"required,min=1,max=10"`
	Date   string          `json:"date" validate:"required,datetime=2006-01-02"`
	Open   decimal.Decimal `json:"open" validate:"gt=0"`
	High   decimal.Decimal `json:"high" validate:"gt=0"`
	Low    decimal.Decimal `json:"low" validate:"gt=0"`
	Close  decimal.Decimal `json:"close" validate:"gt=0"`
	Volume int64           `json:"volume" validate:"gt=0"`
}

func (r createRequest) bar() (model.MarketBar, error) {
	d, err := model.ParseDate(r.Date)
	if err != nil {
		return model.MarketBar{}, err
	}
	return model.MarketBar{
		Ticker: r.Ticker,
		Date:   d,
		Open:   r.Open.Round(2),
		High:   r.High.Round(2),
		Low:    r.Low.Round(2),
		Close:  r.Close.Round(2),
		Volume: r.Volume,
	}, nil
}

type recordResponse struct {
	ID        int64     `json:"id"`
	Ticker    string    `json:"ticker"`
	Date      string    `json:"date"`
	Open      string    `json:"open"`
	High      string    `json:"high"`
	Low       string    `json:"low"`
	Close     string    `json:"close"`
	Volume    int64     `json:"volume"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func toResponse(r model.StoredRecord) recordResponse {
	return recordResponse{
		ID:        r.ID,
		Ticker:    r.Ticker,
		Date:      model.FormatDate(r.Date),
		Open:      r.Open.StringFixed(2),
		High:      r.High.StringFixed(2),
		Low:       r.Low.StringFixed(2),
		Close:     r.Close.StringFixed(2),
		Volume:    r.Volume,
		CreatedAt: r.CreatedAt,
		UpdatedAt: r.UpdatedAt,
	}
}

func toPageResponse(p model.Page[model.StoredRecord]) model.Page[recordResponse] {
	items := make([]recordResponse, len(p.Items))
	for i, r := range p.Items {
		items[i] = toResponse(r)
	}
	return model.Page[recordResponse]{Items: items, Total: p.Total, Page: p.Page, Size: p.Size, Pages: p.Pages}
}

type healthResponse struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
	Version   string    `json:"version"`
	Database  string    `json:"database"`
}

type errorResponse struct {
	Detail string `json:"detail"`
}
