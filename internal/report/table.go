package report

import (
	"fmt"
	"time"

	"marketfeed/internal/memorystore"
	"marketfeed/internal/stream"

	"github.com/jedib0t/go-pretty/v6/table"
)

// Streams renders the live feeds as a text table.
func Streams(metas []stream.StreamMeta, now time.Time) string {
	t := table.NewWriter()
	t.SetStyle(table.StyleLight)
	t.AppendHeader(table.Row{"ID", "Kind", "Status", "Failures", "Last update", "Run"})
	for _, m := range metas {
		t.AppendRow(table.Row{m.ID, m.Kind.String(), m.Status.String(), m.Failures, age(m.LastUpdate, now), shortID(m.RunID)})
	}
	t.AppendFooter(table.Row{"", "", "", "", "feeds", len(metas)})
	return t.Render()
}

// Series renders the buffered kline series as a text table.
func Series(series []memorystore.SeriesMeta) string {
	t := table.NewWriter()
	t.SetStyle(table.StyleLight)
	t.AppendHeader(table.Row{"Symbol", "Interval", "Buffered", "Last update"})
	total := 0
	for _, s := range series {
		last := "-"
		if s.LastUpdate > 0 {
			last = time.UnixMilli(s.LastUpdate).UTC().Format(time.RFC3339)
		}
		t.AppendRow(table.Row{s.Symbol, s.Interval, s.Count, last})
		total += s.Count
	}
	t.AppendFooter(table.Row{"", "total", total, ""})
	return t.Render()
}

func age(ts, now time.Time) string {
	if ts.IsZero() {
		return "never"
	}
	return fmt.Sprintf("%s ago", now.Sub(ts).Truncate(time.Millisecond))
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
