package api

import (
	"bytes"
	"fmt"
	"net/http"
	"sort"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"
	"gonum.org/v1/gonum/stat"

	"github.com/banshee-data/sightline/internal/eventlog"
)

// handleSessionReport renders an HTML report for one session: event
// counts by zone and by label, plus inter-event timing statistics.
func (s *Server) handleSessionReport(w http.ResponseWriter, r *http.Request, sessionID string) {
	zones, err := s.db.ZoneCounts(sessionID)
	if err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("zone counts: %v", err))
		return
	}
	labels, err := s.db.LabelCounts(sessionID)
	if err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("label counts: %v", err))
		return
	}
	events, err := s.db.ListNotifications(sessionID)
	if err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("events: %v", err))
		return
	}
	if len(events) == 0 {
		s.writeJSONError(w, http.StatusNotFound, "no events recorded for session "+sessionID)
		return
	}

	subtitle := fmt.Sprintf("session=%s events=%d %s", sessionID, len(events), intervalSummary(events))

	zoneBar := charts.NewBar()
	zoneBar.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: "Session Report", Width: "100%", Height: "480px"}),
		charts.WithTitleOpts(opts.Title{Title: "Events by Zone", Subtitle: subtitle}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
	)
	// Fixed order so the chart reads left to right like the frame.
	zoneOrder := []string{"left", "center", "right"}
	zoneVals := make([]opts.BarData, 0, len(zoneOrder))
	for _, z := range zoneOrder {
		zoneVals = append(zoneVals, opts.BarData{Value: zones[z]})
	}
	zoneBar.SetXAxis(zoneOrder).
		AddSeries("events", zoneVals,
			charts.WithLabelOpts(opts.Label{Show: opts.Bool(true), Position: "top"}),
		)

	labelNames := make([]string, 0, len(labels))
	for name := range labels {
		labelNames = append(labelNames, name)
	}
	sort.Slice(labelNames, func(i, j int) bool {
		if labels[labelNames[i]] != labels[labelNames[j]] {
			return labels[labelNames[i]] > labels[labelNames[j]]
		}
		return labelNames[i] < labelNames[j]
	})
	labelVals := make([]opts.BarData, 0, len(labelNames))
	for _, name := range labelNames {
		labelVals = append(labelVals, opts.BarData{Value: labels[name]})
	}
	labelBar := charts.NewBar()
	labelBar.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{Width: "100%", Height: "480px"}),
		charts.WithTitleOpts(opts.Title{Title: "Events by Object Class"}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
	)
	labelBar.SetXAxis(labelNames).
		AddSeries("events", labelVals,
			charts.WithLabelOpts(opts.Label{Show: opts.Bool(true), Position: "top"}),
		)

	timeline := charts.NewLine()
	timeline.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{Width: "100%", Height: "480px"}),
		charts.WithTitleOpts(opts.Title{Title: "Cumulative Events"}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
	)
	xs := make([]string, 0, len(events))
	ys := make([]opts.LineData, 0, len(events))
	for i, ev := range events {
		xs = append(xs, ev.At.Format("15:04:05"))
		ys = append(ys, opts.LineData{Value: i + 1})
	}
	timeline.SetXAxis(xs).AddSeries("events", ys)

	page := components.NewPage()
	page.AddCharts(zoneBar, labelBar, timeline)

	var buf bytes.Buffer
	if err := page.Render(&buf); err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("render error: %v", err))
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(buf.Bytes())
}

// intervalSummary characterises the gaps between consecutive events.
// Quantiles need sorted samples.
func intervalSummary(events []eventlog.Notification) string {
	if len(events) < 2 {
		return "single event"
	}
	gaps := make([]float64, 0, len(events)-1)
	for i := 1; i < len(events); i++ {
		gaps = append(gaps, events[i].At.Sub(events[i-1].At).Seconds())
	}
	mean := stat.Mean(gaps, nil)
	sort.Float64s(gaps)
	p50 := stat.Quantile(0.5, stat.Empirical, gaps, nil)
	p95 := stat.Quantile(0.95, stat.Empirical, gaps, nil)
	return fmt.Sprintf("gap mean=%.1fs p50=%.1fs p95=%.1fs", mean, p50, p95)
}
