// Package model holds the domain types shared by providers, the engine and the CLI.
package model

import (
	"fmt"
	"slices"
	"strings"
	"time"
)

// Kind identifies the item family an ordinal belongs to.
type Kind int

const (
	// KindMessage is a mail message.
	KindMessage Kind = iota + 1
	// KindEvent is a calendar event or one occurrence of a series.
	KindEvent
	// KindTask is a to-do item.
	KindTask
)

// Kinds lists every kind in table order.
var Kinds = []Kind{KindMessage, KindEvent, KindTask}

func (k Kind) String() string {
	switch k {
	case KindMessage:
		return "mail"
	case KindEvent:
		return "event"
	case KindTask:
		return "task"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// ParseKind accepts the CLI spelling of a kind.
func ParseKind(s string) (Kind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "mail", "message", "messages", "email":
		return KindMessage, nil
	case "event", "events", "calendar":
		return KindEvent, nil
	case "task", "tasks", "todo":
		return KindTask, nil
	default:
		return 0, fmt.Errorf("unknown kind %q; supported: mail, event, task", s)
	}
}

// Window is a half-open time range [Start, End).
type Window struct {
	Start time.Time
	End   time.Time
}

// Valid reports whether the window has a positive length.
func (w Window) Valid() bool {
	return !w.Start.IsZero() && !w.End.IsZero() && w.End.After(w.Start)
}

// Contains reports whether t falls inside the window.
func (w Window) Contains(t time.Time) bool {
	return !t.Before(w.Start) && t.Before(w.End)
}

// Overlaps reports whether [start, end) intersects the window.
func (w Window) Overlaps(start, end time.Time) bool {
	return start.Before(w.End) && end.After(w.Start)
}

// Duration returns End - Start.
func (w Window) Duration() time.Duration {
	return w.End.Sub(w.Start)
}

func (w Window) String() string {
	return fmt.Sprintf("%s..%s", w.Start.Format(time.RFC3339), w.End.Format(time.RFC3339))
}

// Common message flags, spelled the IMAP way.
const (
	FlagSeen     = `\Seen`
	FlagAnswered = `\Answered`
	FlagFlagged  = `\Flagged`
	FlagDeleted  = `\Deleted`
)

// Item is the provider-neutral snapshot of one listed object.
type Item struct {
	Ref            string    `json:"ref"                       yaml:"ref"`                       // Provider-stable reference.
	Kind           Kind      `json:"kind"                      yaml:"-"`                         // Item family.
	Collection     string    `json:"collection"                yaml:"collection"`                // Folder, calendar or task list.
	Subject        string    `json:"subject"                   yaml:"subject"`                   // Subject or title.
	From           string    `json:"from,omitempty"            yaml:"from,omitempty"`            // Display sender or organizer.
	FromAddress    string    `json:"from_address,omitempty"    yaml:"from_address,omitempty"`    // Normalized sender address.
	To             []string  `json:"to,omitempty"              yaml:"to,omitempty"`              // Recipient or attendee addresses.
	Timestamp      time.Time `json:"timestamp"                 yaml:"timestamp"`                 // Received, start or due time.
	End            time.Time `json:"end,omitzero"              yaml:"end,omitempty"`             // Event end.
	ConversationID string    `json:"conversation_id,omitempty" yaml:"conversation_id,omitempty"` // Native thread id.
	MessageID      string    `json:"message_id,omitempty"      yaml:"message_id,omitempty"`      // RFC 5322 Message-ID.
	Flags          []string  `json:"flags,omitempty"           yaml:"flags,omitempty"`           // Message flags.
	Preview        string    `json:"preview,omitempty"         yaml:"preview,omitempty"`         // Plain-text body preview.
	Location       string    `json:"location,omitempty"        yaml:"location,omitempty"`        // Event location.
	Recurring      bool      `json:"recurring,omitempty"       yaml:"recurring,omitempty"`       // Occurrence of a series.
	Completed      bool      `json:"completed,omitempty"       yaml:"completed,omitempty"`       // Task state.
	Size           uint32    `json:"size,omitempty"            yaml:"size,omitempty"`            // Raw size in bytes.
}

// HasFlag reports whether the item carries flag (case-insensitive).
func (i Item) HasFlag(flag string) bool {
	return slices.ContainsFunc(i.Flags, func(f string) bool {
		return strings.EqualFold(f, flag)
	})
}

// Attachment describes one attached part of a message.
type Attachment struct {
	Name        string `json:"name"`
	ContentType string `json:"content_type"`
	Size        uint64 `json:"size"`
}

// AttachmentContent is an attachment with its decoded bytes.
type AttachmentContent struct {
	Attachment
	Data []byte
}

// Detail is the full content of an item.
type Detail struct {
	Item
	Body        string       `json:"body"`
	HTMLBody    string       `json:"html_body,omitempty"`
	Cc          []string     `json:"cc,omitempty"`
	InReplyTo   string       `json:"in_reply_to,omitempty"`
	References  []string     `json:"references,omitempty"`
	Attachments []Attachment `json:"attachments,omitempty"`
}

// CollectionInfo describes a folder, calendar or task list.
type CollectionInfo struct {
	Name  string `json:"name"`
	Kind  Kind   `json:"kind"`
	Items uint32 `json:"items"`
	Size  uint64 `json:"size"`
}

// NormalizeAddress lowercases an address and strips a display name and angle brackets.
func NormalizeAddress(addr string) string {
	addr = strings.TrimSpace(addr)
	if i := strings.LastIndex(addr, "<"); i >= 0 {
		if j := strings.Index(addr[i:], ">"); j > 0 {
			addr = addr[i+1 : i+j]
		}
	}
	addr = strings.Trim(addr, "<>\"' ")
	return strings.ToLower(addr)
}

// PreviewLength is the default length of Item.Preview.
const PreviewLength = 220

// Preview collapses whitespace in text and cuts it to at most n runes.
func Preview(text string, n int) string {
	text = strings.Join(strings.Fields(text), " ")
	if r := []rune(text); len(r) > n {
		return strings.TrimSpace(string(r[:n])) + "..."
	}
	return text
}
