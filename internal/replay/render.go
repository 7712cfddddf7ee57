package replay

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/goccy/go-json"
	"github.com/hako/durafmt"
	"github.com/olekukonko/tablewriter"
	"github.com/olekukonko/tablewriter/renderer"
	"github.com/olekukonko/tablewriter/tw"

	"github.com/mbd888/scoreguard/internal/risk"
)

const (
	FormatTable = "table"
	FormatJSON  = "json"
)

// durationDisplayUnits is how many units a session duration is shown with.
const durationDisplayUnits = 2

// ErrUnknownFormat is returned by Render for unsupported output formats.
var ErrUnknownFormat = errors.New("unknown output format")

// Render writes results to w in the given format.
func Render(w io.Writer, format string, results []Result) error {
	switch format {
	case FormatJSON:
		return renderJSON(w, results)
	case FormatTable, "":
		return renderTable(w, results)
	default:
		return fmt.Errorf("%w: %q (want %s or %s)", ErrUnknownFormat, format, FormatTable, FormatJSON)
	}
}

func renderJSON(w io.Writer, results []Result) error {
	if results == nil {
		results = []Result{}
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(results)
}

var tableHeaders = []string{"Session", "Risk", "Blocked", "Observations", "Last Score", "Rate/s", "Consistency", "Duration", "Flags"}

func renderTable(w io.Writer, results []Result) error {
	var buf bytes.Buffer

	t := tablewriter.NewTable(&buf,
		tablewriter.WithRenderer(renderer.NewBlueprint(tw.Rendition{
			Symbols: tw.NewSymbols(tw.StyleRounded),
		})),
		tablewriter.WithPadding(tw.Padding{Left: " ", Right: " "}),
	)
	t.Header(tableHeaders)

	for _, r := range results {
		if err := t.Append(tableRow(r)); err != nil {
			return fmt.Errorf("append row %s: %w", r.SessionID, err)
		}
	}
	if err := t.Render(); err != nil {
		return fmt.Errorf("render table: %w", err)
	}

	blocked := 0
	for _, r := range results {
		if r.WasBlocked() {
			blocked++
		}
	}
	fmt.Fprintf(&buf, "%s sessions, %s blocked\n",
		humanize.Comma(int64(len(results))), humanize.Comma(int64(blocked)))

	_, err := w.Write(buf.Bytes())
	return err
}

func tableRow(r Result) []string {
	rep := r.Report
	blocked := "no"
	if r.WasBlocked() {
		blocked = fmt.Sprintf("yes (obs %d)", r.BlockedAtObservation)
	}
	return []string{
		r.SessionID,
		rep.RiskLevel.String(),
		blocked,
		humanize.Comma(int64(rep.TotalObservations)),
		humanize.Commaf(rep.LastScore),
		humanize.FormatFloat("#,###.##", rep.AverageScoreRatePerSecond),
		fmt.Sprintf("%.3f", rep.TimingConsistency),
		formatDuration(rep.SessionDurationSeconds),
		flagSummary(rep.ActiveFlags),
	}
}

func formatDuration(seconds float64) string {
	d := time.Duration(seconds * float64(time.Second))
	if d < time.Second {
		return d.Round(time.Millisecond).String()
	}
	return durafmt.Parse(d.Round(time.Second)).LimitFirstN(durationDisplayUnits).String()
}

// flagSummary lists distinct flag kinds in first-seen order.
func flagSummary(flags []risk.Flag) string {
	if len(flags) == 0 {
		return "-"
	}
	seen := make(map[risk.FlagKind]bool, len(flags))
	kinds := make([]string, 0, len(flags))
	for _, f := range flags {
		if seen[f.Kind] {
			continue
		}
		seen[f.Kind] = true
		kinds = append(kinds, f.Kind.String())
	}
	return strings.Join(kinds, ", ")
}
