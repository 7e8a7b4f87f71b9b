package notifier

import (
	"fmt"
	"html"
	"strings"
	"time"

	"MarketPipeline/internal/model"
)

var statusIcon = map[model.Status]string{
	model.StatusSuccess:   "✅",
	model.StatusSkipped:   "⏭",
	model.StatusNoNewData: "➖",
	model.StatusFailed:    "❌",
	model.StatusError:     "💥",
}

// FormatBatchReport formats a batch run into a Telegram message.
func FormatBatchReport(stats *model.BatchStats) string {
	var b strings.Builder

	b.WriteString(fmt.Sprintf("📊 <b>Market ETL</b> | %s\n", stats.StartedAt.Format("2006-01-02 15:04")))
	b.WriteString(fmt.Sprintf("Run: <code>%s</code>\n\n", stats.RunID))

	b.WriteString(fmt.Sprintf("Tickers: %d | ✅ %d | ❌ %d | ⏭ %d\n",
		stats.TotalTickers, stats.Successful, stats.Failed, stats.Skipped))
	b.WriteString(fmt.Sprintf("Records loaded: %d\n", stats.TotalLoaded))
	if !stats.FinishedAt.IsZero() {
		b.WriteString(fmt.Sprintf("Elapsed: %s\n", stats.FinishedAt.Sub(stats.StartedAt).Round(time.Millisecond)))
	}

	if len(stats.Details) > 0 {
		b.WriteString("\n")
	}
	for _, d := range stats.Details {
		b.WriteString(fmt.Sprintf("%s <b>%s</b> %s", statusIcon[d.Status], d.Ticker, d.Status))
		if d.Status == model.StatusSuccess {
			b.WriteString(fmt.Sprintf(" (%d loaded)", d.Loaded))
		} else if d.Reason != "" {
			b.WriteString(" · " + html.EscapeString(d.Reason))
		}
		b.WriteString("\n")
	}
	return b.String()
}

// FormatTickers lists stored tickers.
func FormatTickers(tickers []string) string {
	if len(tickers) == 0 {
		return "No market data stored yet."
	}
	return fmt.Sprintf("📦 <b>Stored tickers</b> (%d)\n%s", len(tickers), strings.Join(tickers, ", "))
}
