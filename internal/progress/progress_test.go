package progress

import (
	"bytes"
	"testing"
)

func TestTrackerSet(t *testing.T) {
	tests := []struct {
		name      string
		settled   int
		total     int
		wantValue int64
		wantTotal int64
	}{
		{name: "partial", settled: 3, total: 10, wantValue: 3, wantTotal: 10},
		{name: "grown total", settled: 5, total: 20, wantValue: 5, wantTotal: 20},
		{name: "complete", settled: 10, total: 10, wantValue: 10, wantTotal: 10},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := NewWriter(&bytes.Buffer{}, true)
			tr := w.Track("correlating", 10)
			tr.Set(tt.settled, tt.total)

			if got := tr.t.Value(); got != tt.wantValue {
				t.Errorf("Value() = %d; want %d", got, tt.wantValue)
			}
			if tr.t.Total != tt.wantTotal {
				t.Errorf("Total = %d; want %d", tr.t.Total, tt.wantTotal)
			}
		})
	}
}

func TestTrackerDoneAndFail(t *testing.T) {
	w := NewWriter(&bytes.Buffer{}, true)

	done := w.Track("a", 2)
	done.Done()
	if !done.t.IsDone() {
		t.Error("expected tracker to be done")
	}

	failed := w.Track("b", 2)
	failed.Fail()
	if !failed.t.IsErrored() {
		t.Error("expected tracker to be errored")
	}
}

func TestStartStop(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf, false)
	tr := w.Track("scan", 1)
	w.Start()
	tr.Set(1, 1)
	tr.Done()
	w.Stop()
}
