package model

import (
	"fmt"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// BusyStatus is the free/busy state of an interval.
type BusyStatus int

const (
	StatusFree BusyStatus = iota
	StatusTentative
	StatusBusy
	StatusOutOfOffice
)

func (s BusyStatus) String() string {
	switch s {
	case StatusFree:
		return "free"
	case StatusTentative:
		return "tentative"
	case StatusBusy:
		return "busy"
	case StatusOutOfOffice:
		return "oof"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

// ParseBusyStatus accepts names and the single-digit free/busy codes (0..3).
func ParseBusyStatus(s string) (BusyStatus, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "busy", "2":
		return StatusBusy, nil
	case "free", "0":
		return StatusFree, nil
	case "tentative", "1":
		return StatusTentative, nil
	case "oof", "out_of_office", "away", "3":
		return StatusOutOfOffice, nil
	default:
		return 0, fmt.Errorf("unknown busy status %q", s)
	}
}

// MarshalYAML writes the status by name.
func (s BusyStatus) MarshalYAML() (any, error) {
	return s.String(), nil
}

// UnmarshalYAML reads the status by name or code.
func (s *BusyStatus) UnmarshalYAML(node *yaml.Node) error {
	v, err := ParseBusyStatus(node.Value)
	if err != nil {
		return err
	}
	*s = v
	return nil
}

// BusyInterval is one span reported by a free/busy query.
type BusyInterval struct {
	Attendee string
	Start    time.Time
	End      time.Time
	Status   BusyStatus
}

// Exception overrides one occurrence of a series, keyed by its original start.
type Exception struct {
	Original  time.Time `yaml:"original"`
	Cancelled bool      `yaml:"cancelled,omitempty"`
	Start     time.Time `yaml:"start,omitempty"`
	End       time.Time `yaml:"end,omitempty"`
	Subject   string    `yaml:"subject,omitempty"`
}

// Moved reports whether the exception reschedules the occurrence.
func (e Exception) Moved() bool {
	return !e.Cancelled && !e.Start.IsZero()
}

// Series is a calendar entry as stored by the provider: a single event, or a recurring
// pattern plus its exceptions.
type Series struct {
	Ref        string      `yaml:"ref"`
	Calendar   string      `yaml:"calendar"`
	Subject    string      `yaml:"subject"`
	Organizer  string      `yaml:"organizer"`
	Location   string      `yaml:"location,omitempty"`
	Attendees  []string    `yaml:"attendees,omitempty"`
	Start      time.Time   `yaml:"start"`
	End        time.Time   `yaml:"end"`
	Rule       string      `yaml:"rule,omitempty"`
	Exceptions []Exception `yaml:"exceptions,omitempty"`
	ShowAs     BusyStatus  `yaml:"show_as,omitempty"`
	Body       string      `yaml:"body,omitempty"`
}

// Recurring reports whether the series carries a recurrence rule.
func (s Series) Recurring() bool {
	return strings.TrimSpace(s.Rule) != ""
}

// Duration is the length of one occurrence.
func (s Series) Duration() time.Duration {
	return s.End.Sub(s.Start)
}

// Involves reports whether addr organizes or attends the series.
func (s Series) Involves(addr string) bool {
	addr = NormalizeAddress(addr)
	if NormalizeAddress(s.Organizer) == addr {
		return true
	}
	for _, a := range s.Attendees {
		if NormalizeAddress(a) == addr {
			return true
		}
	}
	return false
}
