package watch

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/mtlynch/sia-load-tester/internal/status"
)

const (
	colorReset  = "\033[0m"
	colorRed    = "\033[31m"
	colorGreen  = "\033[32m"
	colorYellow = "\033[33m"
	colorCyan   = "\033[36m"
)

// View is what the watcher knows about the run.
type View struct {
	URL      string
	Snapshot status.Snapshot
	Received bool
	Updated  time.Time
}

func colorize(s string, color string, enabled bool) string {
	if !enabled || color == "" {
		return s
	}
	return color + s + colorReset
}

func phaseColor(s status.Snapshot) string {
	switch {
	case s.Stalled:
		return colorRed
	case s.Phase == "draining":
		return colorYellow
	default:
		return colorGreen
	}
}

func renderTTY(v View, now time.Time) string {
	var b strings.Builder
	fmt.Fprintf(&b, "watching %s\n", v.URL)
	if !v.Received {
		b.WriteString("waiting for status...")
		return b.String()
	}
	s := v.Snapshot
	header := fmt.Sprintf("run %s  phase=%s  elapsed=%s", s.RunID, s.Phase, formatElapsed(s.At.Sub(s.StartedAt)))
	if s.Stalled {
		header += "  STALLED"
	}
	fmt.Fprintln(&b, colorize(header, phaseColor(s), true))

	headers := []string{"queued", "dispatched", "retries", "failed", "in flight"}
	widths := []int{8, 10, 7, 6, 9}
	renderTable(&b, headers, [][]string{{
		formatCount(s.Queued),
		formatCount(s.Dispatched),
		formatCount(s.Retries),
		formatCount(s.Failed),
		formatCount(s.InFlight),
	}}, widths)

	fmt.Fprintln(&b, colorize(formatWindow(s), colorCyan, true))
	fmt.Fprintln(&b, colorize(formatRates(s), colorCyan, true))
	fmt.Fprintf(&b, "updated %s ago", formatAge(now.Sub(v.Updated)))
	return b.String()
}

// formatLine is the single-line rendering used when output is not a TTY.
func formatLine(s status.Snapshot) string {
	line := fmt.Sprintf("phase=%s queued=%d dispatched=%d retries=%d failed=%d in_flight=%d window=%s complete=%t mbps=%.2f ewma=%s",
		s.Phase, s.Queued, s.Dispatched, s.Retries, s.Failed, s.InFlight,
		formatBytes(s.WindowDelta), s.WindowComplete, s.WindowMbps, formatRate(s.EwmaBps))
	if s.Stalled {
		line += " stalled=true"
	}
	return line
}

func formatWindow(s status.Snapshot) string {
	label := "since start"
	if s.WindowComplete {
		label = "last window"
	}
	return fmt.Sprintf("%s: %s uploaded (%.2f Mbps)", label, formatBytes(s.WindowDelta), s.WindowMbps)
}

func formatRates(s status.Snapshot) string {
	return fmt.Sprintf("total %s  ewma %s  avg %s  peak %s",
		formatBytes(s.UploadedBytes), formatRate(s.EwmaBps), formatRate(s.AvgBps), formatRate(s.PeakBps))
}

func renderTable(w io.Writer, headers []string, rows [][]string, widths []int) int {
	lines := 0
	border := buildBorder(widths)
	fmt.Fprintln(w, border)
	fmt.Fprintln(w, buildRow(headers, widths))
	fmt.Fprintln(w, border)
	lines += 3
	for _, row := range rows {
		fmt.Fprintln(w, buildRow(row, widths))
		lines++
	}
	fmt.Fprintln(w, border)
	return lines + 1
}

func buildBorder(widths []int) string {
	var b strings.Builder
	b.WriteString("+")
	for _, width := range widths {
		b.WriteString(strings.Repeat("-", width+2))
		b.WriteString("+")
	}
	return b.String()
}

func buildRow(values []string, widths []int) string {
	var b strings.Builder
	b.WriteString("|")
	for i, width := range widths {
		val := ""
		if i < len(values) {
			val = values[i]
		}
		b.WriteString(" ")
		b.WriteString(padRight(val, width))
		b.WriteString(" |")
	}
	return b.String()
}

func padRight(s string, width int) string {
	if len(s) >= width {
		return s[:width]
	}
	return s + strings.Repeat(" ", width-len(s))
}

func formatBytes(n int64) string {
	if n < 0 {
		return "-" + humanize.IBytes(uint64(-n))
	}
	return humanize.IBytes(uint64(n))
}

func formatRate(bps float64) string {
	if bps <= 0 {
		return "0 B/s"
	}
	return humanize.IBytes(uint64(bps)) + "/s"
}

func formatCount(n int) string {
	if n < 0 {
		n = 0
	}
	return humanize.Comma(int64(n))
}

func formatElapsed(d time.Duration) string {
	if d <= 0 {
		return "00:00:00"
	}
	secs := int(d.Seconds())
	h := secs / 3600
	m := (secs % 3600) / 60
	s := secs % 60
	return fmt.Sprintf("%02d:%02d:%02d", h, m, s)
}

func formatAge(d time.Duration) string {
	if d < time.Second {
		return "0s"
	}
	return d.Truncate(time.Second).String()
}
