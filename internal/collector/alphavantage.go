package collector

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"go.uber.org/zap"
)

const functionTimeSeriesDaily = "TIME_SERIES_DAILY"

// AlphaVantageFetcher implements Fetcher against the Alpha Vantage query API.
type AlphaVantageFetcher struct {
	BaseURL    string
	APIKey     string
	OutputSize string
	Client     *http.Client
	Logger     *zap.Logger
}

// NewAlphaVantageFetcher creates a fetcher with a bounded timeout and optional proxy support.
func NewAlphaVantageFetcher(baseURL, apiKey, outputSize string, timeout time.Duration, proxyURL string, logger *zap.Logger) *AlphaVantageFetcher {
	transport := &http.Transport{Proxy: http.ProxyFromEnvironment}
	if proxyURL != "" {
		if u, err := url.Parse(proxyURL); err == nil {
			transport.Proxy = http.ProxyURL(u)
		}
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	if outputSize == "" {
		outputSize = "compact"
	}
	return &AlphaVantageFetcher{
		BaseURL:    baseURL,
		APIKey:     apiKey,
		OutputSize: outputSize,
		Client: &http.Client{
			Timeout:   timeout,
			Transport: transport,
		},
		Logger: logger.Named("extractor"),
	}
}

func (f *AlphaVantageFetcher) Name() string { return "alphavantage" }

// Fetch issues one request for the ticker's daily series. Only a response
// carrying the time-series container yields a payload; every other shape,
// status or transport failure is returned as an error.
func (f *AlphaVantageFetcher) Fetch(ctx context.Context, ticker string) (*RawPayload, error) {
	log := f.Logger.With(zap.String("ticker", ticker))

	q := url.Values{}
	q.Set("function", functionTimeSeriesDaily)
	q.Set("symbol", ticker)
	q.Set("apikey", f.APIKey)
	q.Set("outputsize", f.OutputSize)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.BaseURL+"?"+q.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}

	log.Info("fetching data for ticker")
	resp, err := f.Client.Do(req)
	if err != nil {
		log.Error("http error while fetching data", zap.Error(err))
		return nil, fmt.Errorf("fetch %s: %w", ticker, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		log.Error("read response body", zap.Error(err))
		return nil, fmt.Errorf("read body: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		log.Error("unexpected http status", zap.Int("status", resp.StatusCode))
		return nil, fmt.Errorf("fetch %s: status %d, body: %s", ticker, resp.StatusCode, truncate(body, 200))
	}

	out, err := Classify(body)
	if err != nil {
		log.Error("unexpected error while decoding data", zap.Error(err))
		return nil, err
	}

	switch out.Kind {
	case OutcomeErrorMessage:
		log.Error("api error", zap.String("error", out.Message))
	case OutcomeRateLimit:
		log.Warn("api rate limit or notice", zap.String("note", out.Message))
	case OutcomeInformation:
		log.Warn("api information message", zap.String("info", out.Message))
	case OutcomeTimeSeries:
		log.Info("successfully fetched data", zap.Int("data_points", out.Payload.Len()))
		return out.Payload, nil
	default:
		log.Error("unexpected api response format", zap.Strings("keys", out.Keys))
	}
	return nil, out.Err()
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
