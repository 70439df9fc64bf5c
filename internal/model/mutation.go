package model

import (
	"fmt"
	"strings"
	"time"
)

// MutationKind names an action applied to a single item.
type MutationKind string

const (
	MutationReply      MutationKind = "reply"
	MutationForward    MutationKind = "forward"
	MutationMove       MutationKind = "move"
	MutationArchive    MutationKind = "archive"
	MutationMarkRead   MutationKind = "mark_read"
	MutationMarkUnread MutationKind = "mark_unread"
	MutationFlag       MutationKind = "flag"
	MutationUnflag     MutationKind = "unflag"
	MutationDelete     MutationKind = "delete"
	MutationComplete   MutationKind = "complete"
	MutationCancel     MutationKind = "cancel"
	MutationCreate     MutationKind = "create"
	MutationUpdate     MutationKind = "update"
)

var mutationKinds = map[Kind][]MutationKind{
	KindMessage: {
		MutationReply, MutationForward, MutationMove, MutationArchive, MutationMarkRead,
		MutationMarkUnread, MutationFlag, MutationUnflag, MutationDelete, MutationCreate,
	},
	KindEvent: {MutationDelete, MutationCancel, MutationCreate},
	KindTask:  {MutationComplete, MutationUpdate, MutationDelete, MutationCreate},
}

// ParseMutationKind accepts the CLI spelling of a mutation ("mark-read" and "mark_read" both work).
func ParseMutationKind(s string) (MutationKind, error) {
	m := MutationKind(strings.ReplaceAll(strings.ToLower(strings.TrimSpace(s)), "-", "_"))
	for _, kinds := range mutationKinds {
		for _, k := range kinds {
			if k == m {
				return m, nil
			}
		}
	}
	return "", fmt.Errorf("unknown action %q", s)
}

// Supports reports whether the mutation applies to items of kind k.
func (m MutationKind) Supports(k Kind) bool {
	for _, mk := range mutationKinds[k] {
		if mk == m {
			return true
		}
	}
	return false
}

// Destructive reports whether the mutation removes the item from its collection.
func (m MutationKind) Destructive() bool {
	switch m {
	case MutationMove, MutationArchive, MutationDelete, MutationCancel:
		return true
	}
	return false
}

// Mutation is an action request plus its parameters.
type Mutation struct {
	Kind     MutationKind
	Body     string    // Reply, forward or new message text; event or task notes.
	Folder   string    // Move target.
	ReplyAll bool      // Reply to every recipient.
	To       []string  // Forward or create recipients; event attendees.
	Subject  string    // Create subject or title.
	Start    time.Time // Create event start.
	End      time.Time // Create event end.
	Due      time.Time // Create task due date.
	Location string    // Create event location.
	Rule     string    // Create event recurrence rule.
	Calendar string    // Create event or task collection.
}

// HasUpdate reports whether an update mutation changes anything.
func (m Mutation) HasUpdate() bool {
	return m.Subject != "" || m.Body != "" || !m.Due.IsZero()
}
