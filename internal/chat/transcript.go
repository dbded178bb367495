package chat

import "time"

type EntryKind int

const (
	EntryUser EntryKind = iota
	EntryAI
	EntryNotice
)

type Severity string

const (
	SeverityInfo  Severity = "info"
	SeverityError Severity = "error"
)

// Usage is the opaque token accounting attached to some AI replies.
// The client renders it but never interprets it.
type Usage struct {
	TotalTokens int `json:"total_tokens"`
}

type Entry struct {
	Kind      EntryKind
	Text      string
	Timestamp time.Time
	Usage     *Usage
	Severity  Severity
}

// Transcript is the append-only list of conversation entries. Insertion
// order is display order; entries are never mutated or removed.
type Transcript struct {
	entries []Entry
	now     func() time.Time
}

func NewTranscript() *Transcript {
	return &Transcript{now: time.Now}
}

func (t *Transcript) AppendUser(text string) {
	t.entries = append(t.entries, Entry{Kind: EntryUser, Text: text, Timestamp: t.now()})
}

func (t *Transcript) AppendAI(text string, usage *Usage) {
	t.entries = append(t.entries, Entry{Kind: EntryAI, Text: text, Timestamp: t.now(), Usage: usage})
}

func (t *Transcript) AppendNotice(sev Severity, text string) {
	t.entries = append(t.entries, Entry{Kind: EntryNotice, Text: text, Timestamp: t.now(), Severity: sev})
}

func (t *Transcript) Len() int {
	return len(t.entries)
}

// Entries returns a copy; callers cannot reach back into the transcript.
func (t *Transcript) Entries() []Entry {
	out := make([]Entry, len(t.entries))
	copy(out, t.entries)
	return out
}
