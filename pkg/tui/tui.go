// Package tui provides a terminal user interface for the PDV tester.
package tui

import (
	"fmt"
	"time"

	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"
)

// Stats represents real-time PDV measurement statistics.
type Stats struct {
	Side      string // "forward" / "reverse"
	State     string
	Progress  float64

	FramesSent     uint64
	FramesReceived uint64
	FramesLost     uint64
	NumCorrected   int

	Dmin float64 // ms
	Dmax float64 // ms
	D999 float64 // ms
	PDV  float64 // ms

	StartTime time.Time
	Elapsed   time.Duration
}

// Result represents one completed direction's PDV measurement.
type Result struct {
	Side      string
	Dmin      float64
	Dmax      float64
	D999      float64
	PDV       float64
	FramesLost uint64
	Timestamp time.Time
}

// App represents the TUI application.
type App struct {
	app         *tview.Application
	pages       *tview.Pages
	statsView   *tview.Table
	resultsView *tview.Table
	logView     *tview.TextView
	progressBar *tview.TextView
	statusBar   *tview.TextView

	stats   Stats
	results []Result

	OnStart  func()
	OnStop   func()
	OnCancel func()
	OnQuit   func()
}

// New creates a new TUI application.
func New() *App {
	a := &App{
		app:     tview.NewApplication(),
		pages:   tview.NewPages(),
		results: make([]Result, 0),
	}
	a.build()
	return a
}

func (a *App) build() {
	a.statsView = tview.NewTable().
		SetBorders(false).
		SetSelectable(false, false)
	a.statsView.SetTitle(" PDV Statistics ").SetBorder(true)
	a.initStatsView()

	a.resultsView = tview.NewTable().
		SetBorders(true).
		SetSelectable(true, false)
	a.resultsView.SetTitle(" Results ").SetBorder(true)
	a.initResultsView()

	a.progressBar = tview.NewTextView().
		SetDynamicColors(true).
		SetTextAlign(tview.AlignCenter)
	a.progressBar.SetTitle(" Progress ").SetBorder(true)
	a.updateProgressBar(0)

	a.logView = tview.NewTextView().
		SetDynamicColors(true).
		SetScrollable(true).
		SetChangedFunc(func() {
			a.app.Draw()
		})
	a.logView.SetTitle(" Log ").SetBorder(true)

	a.statusBar = tview.NewTextView().
		SetDynamicColors(true).
		SetTextAlign(tview.AlignCenter)
	a.statusBar.SetText("[yellow]PDV Tester[white] | [green]F1[white] Start | [red]F2[white] Stop | [blue]F10[white] Quit")

	topRow := tview.NewFlex().
		AddItem(a.statsView, 0, 1, false).
		AddItem(a.resultsView, 0, 2, false)

	mainFlex := tview.NewFlex().SetDirection(tview.FlexRow).
		AddItem(topRow, 0, 3, false).
		AddItem(a.progressBar, 3, 0, false).
		AddItem(a.logView, 0, 1, false).
		AddItem(a.statusBar, 1, 0, false)

	a.pages.AddPage("main", mainFlex, true, true)

	a.app.SetInputCapture(func(event *tcell.EventKey) *tcell.EventKey {
		switch event.Key() {
		case tcell.KeyF1:
			if a.OnStart != nil {
				go a.OnStart()
			}
			return nil
		case tcell.KeyF2:
			if a.OnStop != nil {
				go a.OnStop()
			}
			return nil
		case tcell.KeyF10, tcell.KeyEscape:
			if a.OnQuit != nil {
				a.OnQuit()
			}
			a.app.Stop()
			return nil
		case tcell.KeyCtrlC:
			if a.OnCancel != nil {
				a.OnCancel()
			}
			return nil
		}
		return event
	})

	a.app.SetRoot(a.pages, true)
}

func (a *App) initStatsView() {
	labels := []string{
		"Side:",
		"State:",
		"Progress:",
		"",
		"Frames Sent:",
		"Frames Received:",
		"Frames Lost:",
		"Corrected:",
		"",
		"Dmin:",
		"Dmax:",
		"D99.9:",
		"PDV:",
		"",
		"Elapsed:",
	}

	for i, label := range labels {
		a.statsView.SetCell(i, 0, tview.NewTableCell(label).
			SetTextColor(tcell.ColorYellow).
			SetAlign(tview.AlignRight))
		a.statsView.SetCell(i, 1, tview.NewTableCell("-").
			SetTextColor(tcell.ColorWhite).
			SetAlign(tview.AlignLeft))
	}
}

func (a *App) initResultsView() {
	headers := []string{"Side", "Dmin ms", "Dmax ms", "D99.9 ms", "PDV ms", "Lost"}
	for i, h := range headers {
		a.resultsView.SetCell(0, i, tview.NewTableCell(h).
			SetTextColor(tcell.ColorYellow).
			SetAlign(tview.AlignCenter).
			SetSelectable(false))
	}
}

// UpdateStats updates the statistics display.
func (a *App) UpdateStats(s Stats) {
	a.stats = s
	a.app.QueueUpdateDraw(func() {
		values := []string{
			s.Side,
			s.State,
			fmt.Sprintf("%.1f%%", s.Progress),
			"",
			fmt.Sprintf("%d", s.FramesSent),
			fmt.Sprintf("%d", s.FramesReceived),
			fmt.Sprintf("%d", s.FramesLost),
			fmt.Sprintf("%d", s.NumCorrected),
			"",
			fmt.Sprintf("%.4f ms", s.Dmin),
			fmt.Sprintf("%.4f ms", s.Dmax),
			fmt.Sprintf("%.4f ms", s.D999),
			fmt.Sprintf("%.4f ms", s.PDV),
			"",
			s.Elapsed.Round(time.Millisecond).String(),
		}

		for i, v := range values {
			a.statsView.SetCell(i, 1, tview.NewTableCell(v).
				SetTextColor(tcell.ColorWhite).
				SetAlign(tview.AlignLeft))
		}
		a.updateProgressBar(s.Progress)
	})
}

// AddResult adds a completed direction's result to the results table.
func (a *App) AddResult(r Result) {
	a.results = append(a.results, r)
	a.app.QueueUpdateDraw(func() {
		row := len(a.results)
		a.resultsView.SetCell(row, 0, tview.NewTableCell(r.Side).SetAlign(tview.AlignCenter))
		a.resultsView.SetCell(row, 1, tview.NewTableCell(fmt.Sprintf("%.4f", r.Dmin)).SetAlign(tview.AlignCenter))
		a.resultsView.SetCell(row, 2, tview.NewTableCell(fmt.Sprintf("%.4f", r.Dmax)).SetAlign(tview.AlignCenter))
		a.resultsView.SetCell(row, 3, tview.NewTableCell(fmt.Sprintf("%.4f", r.D999)).SetAlign(tview.AlignCenter))
		a.resultsView.SetCell(row, 4, tview.NewTableCell(fmt.Sprintf("%.4f", r.PDV)).SetAlign(tview.AlignCenter))
		a.resultsView.SetCell(row, 5, tview.NewTableCell(fmt.Sprintf("%d", r.FramesLost)).SetAlign(tview.AlignCenter))
	})
}

// Log adds a message to the log view.
func (a *App) Log(format string, args ...interface{}) {
	msg := fmt.Sprintf(format, args...)
	timestamp := time.Now().Format("15:04:05")
	a.app.QueueUpdateDraw(func() {
		fmt.Fprintf(a.logView, "[gray]%s[white] %s\n", timestamp, msg)
		a.logView.ScrollToEnd()
	})
}

// LogInfo logs an info message.
func (a *App) LogInfo(format string, args ...interface{}) {
	msg := fmt.Sprintf(format, args...)
	timestamp := time.Now().Format("15:04:05")
	a.app.QueueUpdateDraw(func() {
		fmt.Fprintf(a.logView, "[gray]%s [green][INFO][white] %s\n", timestamp, msg)
		a.logView.ScrollToEnd()
	})
}

// LogError logs an error message.
func (a *App) LogError(format string, args ...interface{}) {
	msg := fmt.Sprintf(format, args...)
	timestamp := time.Now().Format("15:04:05")
	a.app.QueueUpdateDraw(func() {
		fmt.Fprintf(a.logView, "[gray]%s [red][ERROR][white] %s\n", timestamp, msg)
		a.logView.ScrollToEnd()
	})
}

func (a *App) updateProgressBar(pct float64) {
	width := 50
	filled := int(pct / 100.0 * float64(width))
	if filled > width {
		filled = width
	}

	bar := ""
	for i := 0; i < width; i++ {
		if i < filled {
			bar += "[green]█"
		} else {
			bar += "[gray]░"
		}
	}
	a.progressBar.SetText(fmt.Sprintf("%s[white] %.1f%%", bar, pct))
}

// SetStatus updates the status bar.
func (a *App) SetStatus(msg string) {
	a.app.QueueUpdateDraw(func() {
		a.statusBar.SetText(msg)
	})
}

// Run starts the TUI application.
func (a *App) Run() error {
	return a.app.Run()
}

// Stop stops the TUI application.
func (a *App) Stop() {
	a.app.Stop()
}

// ClearResults clears the results table.
func (a *App) ClearResults() {
	a.results = a.results[:0]
	a.app.QueueUpdateDraw(func() {
		a.resultsView.Clear()
		a.initResultsView()
	})
}
