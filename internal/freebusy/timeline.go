package freebusy

import (
	"slices"
	"time"

	"github.com/greeddj/mailbridge-go/internal/model"
)

// Run is a contiguous span with a single status.
type Run struct {
	Start  time.Time
	End    time.Time
	Status model.BusyStatus
}

// Timeline covers w with status runs for one attendee. Uncovered time is free,
// overlaps take the strongest status and equal neighbours are merged.
func Timeline(intervals []model.BusyInterval, w model.Window) []Run {
	if !w.Valid() {
		return nil
	}

	cuts := []time.Time{w.Start, w.End}
	for _, iv := range intervals {
		if !w.Overlaps(iv.Start, iv.End) {
			continue
		}
		cuts = append(cuts, later(iv.Start, w.Start), earlier(iv.End, w.End))
	}
	slices.SortFunc(cuts, func(a, b time.Time) int { return a.Compare(b) })
	cuts = slices.CompactFunc(cuts, func(a, b time.Time) bool { return a.Equal(b) })

	var runs []Run
	for i := 0; i+1 < len(cuts); i++ {
		start, end := cuts[i], cuts[i+1]
		status := model.StatusFree
		for _, iv := range intervals {
			if iv.Start.Before(end) && iv.End.After(start) && iv.Status > status {
				status = iv.Status
			}
		}
		if n := len(runs); n > 0 && runs[n-1].Status == status {
			runs[n-1].End = end
			continue
		}
		runs = append(runs, Run{Start: start, End: end, Status: status})
	}
	return runs
}
