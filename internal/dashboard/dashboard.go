// Package dashboard renders a live terminal view of a running load test.
package dashboard

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	ui "github.com/gizak/termui/v3"
	"github.com/gizak/termui/v3/widgets"

	"github.com/torosent/mqfire/internal/metrics"
)

const historySize = 100

// RunInfo describes the run for the summary panel.
type RunInfo struct {
	Target           string // host:port
	Transport        string
	QueueManager     string
	Queue            string
	ReplyQueue       string
	VUs              int
	Duration         time.Duration // 0 = unlimited
	Iterations       int           // 0 = unlimited
	Rate             int           // 0 = unlimited
	OperationTimeout time.Duration
	WriteAttempts    int
	ConfigFile       string
}

// Dashboard renders a live terminal UI for load test metrics.
type Dashboard struct {
	collector    *metrics.Collector
	openConns    func() int
	ctx          context.Context
	cancel       context.CancelFunc
	shutdownFunc func()
	wg           sync.WaitGroup
	mu           sync.Mutex

	grid           *ui.Grid
	latencySpark   *widgets.SparklineGroup
	latencyPara    *widgets.Paragraph
	opsGauge       *widgets.Gauge
	failureList    *widgets.List
	operationList  *widgets.List
	summaryPara    *widgets.Paragraph
	metricsPara    *widgets.Paragraph
	connPara       *widgets.Paragraph
	latencyHistory []float64
	peakOps        float64
	lastTotal      int64
	lastTick       time.Time
	info           RunInfo
}

// New initialises the terminal and builds the widgets. openConns reports the
// number of open broker connections and may be nil. shutdownFunc is called
// when the user presses q or Ctrl-C.
func New(collector *metrics.Collector, info RunInfo, openConns func() int, shutdownFunc func()) (*Dashboard, error) {
	if err := ui.Init(); err != nil {
		return nil, fmt.Errorf("failed to initialize termui: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	d := &Dashboard{
		collector:      collector,
		openConns:      openConns,
		ctx:            ctx,
		cancel:         cancel,
		shutdownFunc:   shutdownFunc,
		latencyHistory: make([]float64, 0, historySize),
		lastTick:       time.Now(),
		info:           info,
	}
	d.initWidgets()
	d.setupGrid()
	return d, nil
}

func (d *Dashboard) initWidgets() {
	sparkline := widgets.NewSparkline()
	sparkline.Title = "Mean latency (ms)"
	sparkline.LineColor = ui.ColorGreen
	sparkline.Data = []float64{0}

	d.latencySpark = widgets.NewSparklineGroup(sparkline)
	d.latencySpark.Title = "Real-time Latency"
	d.latencySpark.BorderStyle.Fg = ui.ColorCyan

	d.latencyPara = widgets.NewParagraph()
	d.latencyPara.Title = "Latency Stats"
	d.latencyPara.Text = "Min: 0ms\nMean: 0ms\nP50: 0ms\nP95: 0ms\nP99: 0ms"
	d.latencyPara.BorderStyle.Fg = ui.ColorCyan

	d.opsGauge = widgets.NewGauge()
	d.opsGauge.Title = "Operations Per Second"
	d.opsGauge.BarColor = ui.ColorBlue
	d.opsGauge.BorderStyle.Fg = ui.ColorCyan
	d.opsGauge.LabelStyle = ui.NewStyle(ui.ColorWhite)

	d.failureList = widgets.NewList()
	d.failureList.Title = "Failures"
	d.failureList.Rows = []string{"No failures"}
	d.failureList.TextStyle = ui.NewStyle(ui.ColorYellow)
	d.failureList.BorderStyle.Fg = ui.ColorCyan

	d.operationList = widgets.NewList()
	d.operationList.Title = "Operations"
	d.operationList.Rows = []string{"Awaiting data"}
	d.operationList.TextStyle = ui.NewStyle(ui.ColorCyan)
	d.operationList.BorderStyle.Fg = ui.ColorCyan

	d.summaryPara = widgets.NewParagraph()
	d.summaryPara.Title = "Run Summary"
	d.summaryPara.Text = "Initializing..."
	d.summaryPara.BorderStyle.Fg = ui.ColorCyan

	d.metricsPara = widgets.NewParagraph()
	d.metricsPara.Title = "Metrics"
	d.metricsPara.Text = "Waiting for data..."
	d.metricsPara.BorderStyle.Fg = ui.ColorCyan

	d.connPara = widgets.NewParagraph()
	d.connPara.Title = "Connections"
	d.connPara.Text = "No connection data"
	d.connPara.TextStyle = ui.NewStyle(ui.ColorGreen)
	d.connPara.BorderStyle.Fg = ui.ColorCyan
}

func (d *Dashboard) setupGrid() {
	termWidth, termHeight := ui.TerminalDimensions()

	d.grid = ui.NewGrid()
	d.grid.SetRect(0, 0, termWidth, termHeight)
	d.grid.Set(
		ui.NewRow(0.14,
			ui.NewCol(1.0, d.summaryPara),
		),
		ui.NewRow(0.18,
			ui.NewCol(0.5, d.opsGauge),
			ui.NewCol(0.5, d.metricsPara),
		),
		ui.NewRow(0.26,
			ui.NewCol(0.65, d.latencySpark),
			ui.NewCol(0.35, d.latencyPara),
		),
		ui.NewRow(0.14,
			ui.NewCol(1.0, d.connPara),
		),
		ui.NewRow(0.28,
			ui.NewCol(0.5, d.operationList),
			ui.NewCol(0.5, d.failureList),
		),
	)
}

// Start begins the update loop.
func (d *Dashboard) Start() {
	d.wg.Add(1)
	go d.run()
}

// Stop ends the update loop and restores the terminal.
func (d *Dashboard) Stop() {
	d.cancel()
	d.wg.Wait()
	ui.Close()
	// Give the terminal time to restore.
	time.Sleep(100 * time.Millisecond)
}

func (d *Dashboard) run() {
	defer d.wg.Done()

	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()

	uiEvents := ui.PollEvents()
	d.render()

	for {
		select {
		case <-d.ctx.Done():
			for len(uiEvents) > 0 {
				<-uiEvents
			}
			return
		case e := <-uiEvents:
			select {
			case <-d.ctx.Done():
				return
			default:
			}
			switch e.ID {
			case "q", "<C-c>":
				if d.shutdownFunc != nil {
					d.shutdownFunc()
				}
			case "<Resize>":
				payload := e.Payload.(ui.Resize)
				d.grid.SetRect(0, 0, payload.Width, payload.Height)
				ui.Clear()
				d.render()
			}
		case <-ticker.C:
			d.update(d.collector.Stats(d.collector.Elapsed()), time.Now())
			d.render()
		}
	}
}

// update refreshes every widget from stats, taken at now.
func (d *Dashboard) update(stats metrics.Stats, now time.Time) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if stats.Total > 0 {
		d.latencyHistory = append(d.latencyHistory, stats.MeanLatencyMs)
		if len(d.latencyHistory) > historySize {
			d.latencyHistory = d.latencyHistory[1:]
		}
		d.latencySpark.Sparklines[0].Data = d.latencyHistory
		d.latencySpark.Title = fmt.Sprintf(
			"Real-time Latency | Mean: %.2fms | Min: %.2fms | Max: %.2fms",
			stats.MeanLatencyMs, stats.MinLatencyMs, stats.MaxLatencyMs,
		)
	}

	current := d.currentRate(stats.Total, now)
	if current > d.peakOps {
		d.peakOps = current
	}
	d.opsGauge.Percent = gaugePercent(current, d.peakOps)
	d.opsGauge.Label = fmt.Sprintf("%.1f ops/s (avg %.1f)", current, stats.OpsPerSec)

	successRate := 0.0
	if stats.Total > 0 {
		successRate = float64(stats.Successes) / float64(stats.Total) * 100
	}

	d.summaryPara.Text = fmt.Sprintf(
		"Target: %s\n%s\nElapsed: %s | Operations: %d | Success Rate: %.1f%%",
		d.info.Target,
		d.formatRunParams(),
		stats.Duration.Round(time.Second),
		stats.Total,
		successRate,
	)

	d.metricsPara.Text = fmt.Sprintf(
		"Operations:   %d\nSuccessful:   %d\nFailed:       %d\nBytes:        %d\nAvg ops/s:    %.2f\nSuccess Rate: %.1f%%",
		stats.Total,
		stats.Successes,
		stats.Failures,
		stats.Bytes,
		stats.OpsPerSec,
		successRate,
	)

	d.latencyPara.Text = fmt.Sprintf(
		"Min:  %.2fms\nMean: %.2fms\nP50:  %.2fms\nP95:  %.2fms\nP99:  %.2fms",
		stats.MinLatencyMs,
		stats.MeanLatencyMs,
		stats.P50LatencyMs,
		stats.P95LatencyMs,
		stats.P99LatencyMs,
	)

	d.failureList.Rows = formatFailureRows(stats)
	d.updateOperationList(stats)
	d.updateConnections(stats)
}

// currentRate is the operation rate since the previous tick.
func (d *Dashboard) currentRate(total int64, now time.Time) float64 {
	elapsed := now.Sub(d.lastTick)
	delta := total - d.lastTotal
	d.lastTick = now
	d.lastTotal = total
	if elapsed <= 0 || delta <= 0 {
		return 0
	}
	return float64(delta) / elapsed.Seconds()
}

func gaugePercent(current, peak float64) int {
	if peak <= 0 {
		return 0
	}
	pct := int(current / peak * 100)
	if pct > 100 {
		pct = 100
	}
	return pct
}

func (d *Dashboard) render() {
	d.mu.Lock()
	defer d.mu.Unlock()
	ui.Render(d.grid)
}

func (d *Dashboard) updateOperationList(stats metrics.Stats) {
	names := stats.OperationNames()
	if len(names) == 0 {
		d.operationList.Rows = []string{"[No operations yet](fg:green)"}
		return
	}
	sort.SliceStable(names, func(i, j int) bool {
		return stats.Operations[names[i]].Total > stats.Operations[names[j]].Total
	})
	rows := make([]string, 0, len(names))
	for _, name := range names {
		op := stats.Operations[name]
		share := 0.0
		if stats.Total > 0 {
			share = float64(op.Total) / float64(stats.Total) * 100
		}
		outcomes := summarizeOutcomes(op, 2)
		if outcomes == "" {
			outcomes = "all ok"
		}
		rows = append(rows, fmt.Sprintf("[%s](fg:cyan) | %5.1f%% | %5.1f ops/s | P99 %5.1fms | Err %d | %s",
			name, share, op.OpsPerSec, op.P99LatencyMs, op.Failures, outcomes))
	}
	d.operationList.Rows = rows
}

func (d *Dashboard) updateConnections(stats metrics.Stats) {
	var lines []string
	if d.openConns != nil {
		lines = append(lines, fmt.Sprintf("[open:](fg:white) [%d](fg:yellow) of %d VUs", d.openConns(), d.info.VUs))
	}
	if connect, ok := stats.Operations["connect"]; ok {
		lines = append(lines, fmt.Sprintf("[connects:](fg:white) [%d](fg:yellow) | failed [%d](fg:red) | P95 %.2fms",
			connect.Total, connect.Failures, connect.P95LatencyMs))
	}
	if lost := stats.Outcomes["connection_lost"]; lost > 0 {
		lines = append(lines, fmt.Sprintf("[lost:](fg:white) [%d](fg:red)", lost))
	}
	if len(lines) == 0 {
		d.connPara.Text = "[No connection data](fg:green)"
		return
	}
	d.connPara.Text = strings.Join(lines, "\n")
}

func formatFailureRows(stats metrics.Stats) []string {
	rows := metrics.FailureBuckets(stats)
	if len(rows) == 0 {
		return []string{"[No failures](fg:green)"}
	}
	if len(rows) > 10 {
		rows = rows[:10]
	}
	formatted := make([]string, 0, len(rows))
	for _, row := range rows {
		formatted = append(formatted, fmt.Sprintf("[%s %s](fg:red) %d", strings.ToUpper(row.Operation), metrics.OutcomeLabel(row.Outcome), row.Count))
	}
	return formatted
}

// summarizeOutcomes lists the most frequent non-success outcomes of op.
func summarizeOutcomes(op metrics.OperationStats, limit int) string {
	type entry struct {
		outcome string
		count   int64
	}
	var entries []entry
	for outcome, count := range op.Outcomes {
		if outcome == metrics.OutcomeSuccess || count == 0 {
			continue
		}
		entries = append(entries, entry{outcome, count})
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].count == entries[j].count {
			return entries[i].outcome < entries[j].outcome
		}
		return entries[i].count > entries[j].count
	})
	if limit > 0 && len(entries) > limit {
		entries = entries[:limit]
	}
	parts := make([]string, 0, len(entries))
	for _, e := range entries {
		parts = append(parts, fmt.Sprintf("%s x%d", e.outcome, e.count))
	}
	return strings.Join(parts, ", ")
}

func (d *Dashboard) formatRunParams() string {
	var parts []string

	if d.info.Transport != "" && d.info.Transport != "tcp" {
		parts = append(parts, fmt.Sprintf("Transport: %s", d.info.Transport))
	}
	if d.info.QueueManager != "" {
		parts = append(parts, fmt.Sprintf("QM: %s", d.info.QueueManager))
	}
	if d.info.Queue != "" {
		queues := d.info.Queue
		if d.info.ReplyQueue != "" && d.info.ReplyQueue != d.info.Queue {
			queues += " -> " + d.info.ReplyQueue
		}
		parts = append(parts, fmt.Sprintf("Queue: %s", queues))
	}
	if d.info.VUs > 0 {
		parts = append(parts, fmt.Sprintf("VUs: %d", d.info.VUs))
	}
	if d.info.Rate > 0 {
		parts = append(parts, fmt.Sprintf("Rate: %d/s", d.info.Rate))
	} else {
		parts = append(parts, "Rate: unlimited")
	}
	if d.info.Duration > 0 {
		parts = append(parts, fmt.Sprintf("Duration: %s", d.info.Duration))
	}
	if d.info.Iterations > 0 {
		parts = append(parts, fmt.Sprintf("Iterations: %d", d.info.Iterations))
	}
	if d.info.OperationTimeout > 0 {
		parts = append(parts, fmt.Sprintf("Timeout: %s", d.info.OperationTimeout))
	}
	if d.info.WriteAttempts > 1 {
		parts = append(parts, fmt.Sprintf("Write attempts: %d", d.info.WriteAttempts))
	}
	if d.info.ConfigFile != "" {
		parts = append(parts, fmt.Sprintf("Config: %s", d.info.ConfigFile))
	}
	return strings.Join(parts, " | ")
}
