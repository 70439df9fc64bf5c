// Package progress renders bars for long scans such as reply correlation.
package progress

import (
	"io"
	"time"

	"github.com/jedib0t/go-pretty/v6/progress"
	"github.com/jedib0t/go-pretty/v6/text"
)

// Writer draws trackers on an output stream.
type Writer struct {
	pw progress.Writer
}

// NewWriter creates a writer on out. Quiet writers render into io.Discard.
func NewWriter(out io.Writer, quiet bool) *Writer {
	pw := progress.NewWriter()
	pw.SetAutoStop(false)
	if quiet {
		out = io.Discard
	}
	pw.SetOutputWriter(out)
	pw.SetTrackerLength(30)
	pw.SetMessageLength(60)
	pw.SetStyle(progress.StyleDefault)
	pw.SetTrackerPosition(progress.PositionRight)
	pw.SetUpdateFrequency(100 * time.Millisecond)

	style := pw.Style()
	style.Colors = progress.StyleColors{
		Message: text.Colors{text.FgHiCyan},
		Error:   text.Colors{text.BgRed, text.FgBlack},
		Percent: text.Colors{text.FgHiGreen},
		Stats:   text.Colors{text.FgHiBlack},
		Time:    text.Colors{text.FgHiBlack},
		Tracker: text.Colors{text.FgYellow},
		Value:   text.Colors{text.FgCyan},
	}
	style.Chars = progress.StyleChars{
		BoxLeft:    "⡇",
		BoxRight:   "⢸",
		Finished:   "⣿",
		Finished25: "⣀",
		Finished50: "⣤",
		Finished75: "⣶",
		Unfinished: "⣀",
	}
	style.Visibility.ETA = false
	style.Visibility.TrackerOverall = false
	style.Visibility.Time = true
	style.Visibility.Value = true
	style.Visibility.Percentage = true
	style.Options.Separator = " "
	style.Options.DoneString = text.Colors{text.FgGreen}.Sprint("✓ done")
	style.Options.ErrorString = text.Colors{text.FgRed}.Sprint("✗ error")
	style.Options.TimeDonePrecision = time.Millisecond

	return &Writer{pw: pw}
}

// Track appends a tracker for total units of work.
func (w *Writer) Track(message string, total int) *Tracker {
	t := &progress.Tracker{
		Message: message,
		Total:   int64(total),
		Units:   progress.UnitsDefault,
	}
	w.pw.AppendTracker(t)
	return &Tracker{t: t}
}

// Start renders in the background until Stop.
func (w *Writer) Start() {
	go w.pw.Render()
	for !w.pw.IsRenderInProgress() {
		time.Sleep(time.Millisecond)
	}
}

// Stop ends rendering and waits for the last frame.
func (w *Writer) Stop() {
	w.pw.Stop()
	for w.pw.IsRenderInProgress() {
		time.Sleep(10 * time.Millisecond)
	}
}

// Tracker is one bar.
type Tracker struct {
	t *progress.Tracker
}

// Set moves the bar to settled of total. Its signature matches the
// correlator's progress callback.
func (t *Tracker) Set(settled, total int) {
	if int64(total) != t.t.Total {
		t.t.UpdateTotal(int64(total))
	}
	t.t.SetValue(int64(settled))
}

// Done marks the bar finished.
func (t *Tracker) Done() {
	t.t.MarkAsDone()
}

// Fail marks the bar errored.
func (t *Tracker) Fail() {
	t.t.MarkAsErrored()
}
