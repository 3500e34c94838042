// Package conversation holds the append-only audit trail attached to an issue.
package conversation

import (
	"time"

	"github.com/google/uuid"
)

// Type tags a conversation entry.
type Type string

const (
	TypeMessage            Type = "message"
	TypeStateChange        Type = "state_change"
	TypeSummaryCreated     Type = "summary_created"
	TypeSummaryAccepted    Type = "summary_accepted"
	TypeSummaryDeclined    Type = "summary_declined"
	TypePredecessorAdded   Type = "predecessor_added"
	TypePredecessorRemoved Type = "predecessor_removed"
	TypeChildIssueAdded    Type = "child_issue_added"
	TypeChildIssueRemoved  Type = "child_issue_removed"
)

var knownTypes = map[Type]bool{
	TypeMessage:            true,
	TypeStateChange:        true,
	TypeSummaryCreated:     true,
	TypeSummaryAccepted:    true,
	TypeSummaryDeclined:    true,
	TypePredecessorAdded:   true,
	TypePredecessorRemoved: true,
	TypeChildIssueAdded:    true,
	TypeChildIssueRemoved:  true,
}

// Valid reports whether t is one of the known entry types.
func (t Type) Valid() bool {
	return knownTypes[t]
}

// Entry is one immutable record in an issue's conversation.
type Entry struct {
	ID           string    `json:"id"`
	CreatorID    string    `json:"creator_id"`
	Type         Type      `json:"type"`
	Data         string    `json:"data"`
	OtherIssueID *string   `json:"other_issue_id,omitempty"`
	Requirements []string  `json:"requirements,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

// Log is an insertion-ordered sequence of entries. Entries can only be
// appended; there is no way to remove or reorder them.
type Log struct {
	entries []Entry
	stored  int
}

// Restore rebuilds a log from persisted entries, in position order. All
// restored entries count as already stored.
func Restore(entries []Entry) Log {
	cp := make([]Entry, len(entries))
	copy(cp, entries)
	return Log{entries: cp, stored: len(cp)}
}

// Append adds e to the end of the log.
func (l *Log) Append(e Entry) {
	e.Requirements = cloneStrings(e.Requirements)
	l.entries = append(l.entries, e)
}

// Len returns the number of entries.
func (l Log) Len() int {
	return len(l.entries)
}

// Entries returns a copy of all entries in insertion order.
func (l Log) Entries() []Entry {
	out := make([]Entry, len(l.entries))
	for i, e := range l.entries {
		e.Requirements = cloneStrings(e.Requirements)
		out[i] = e
	}
	return out
}

// Pending returns the entries appended since the log was restored together
// with the position of the first one.
func (l Log) Pending() (int, []Entry) {
	return l.stored, l.Entries()[l.stored:]
}

// MarkStored records that every current entry has been persisted.
func (l *Log) MarkStored() {
	l.stored = len(l.entries)
}

// Clone returns an independent copy of the log.
func (l Log) Clone() Log {
	return Log{entries: l.Entries(), stored: l.stored}
}

func cloneStrings(in []string) []string {
	if in == nil {
		return nil
	}
	out := make([]string, len(in))
	copy(out, in)
	return out
}

// Recorder stamps new entries with a time-ordered id and creation time.
type Recorder struct {
	Now   func() time.Time
	NewID func() string
}

// Record fills in the identity of e and appends it to log.
func (r Recorder) Record(log *Log, e Entry) Entry {
	if r.Now == nil {
		r.Now = time.Now
	}
	if r.NewID == nil {
		r.NewID = NewID
	}
	e.ID = r.NewID()
	e.CreatedAt = r.Now().UTC()
	log.Append(e)
	return e
}

// NewID returns a UUIDv7 string. Successive ids from one process sort in
// creation order.
func NewID() string {
	return uuid.Must(uuid.NewV7()).String()
}
