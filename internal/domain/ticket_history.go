package domain

import (
	"fmt"
	"time"

	"github.com/guregu/null/v5"
)

// SystemActor is attributed to every history entry; there are no user accounts.
const SystemActor = "System"

// ActionTicketCreated is the action text of the first history entry.
const ActionTicketCreated = "Ticket erstellt"

// ActionHistoryArchived marks an entry whose Details hold a stored history
// value that could not be read.
const ActionHistoryArchived = "Unlesbarer Verlauf archiviert"

// HistoryEntry is an immutable audit trail entry embedded in a ticket.
type HistoryEntry struct {
	ID        string      `json:"id"`
	Timestamp time.Time   `json:"timestamp"`
	Action    string      `json:"action"`
	User      string      `json:"user"`
	Details   null.String `json:"details"`
}

// NewHistoryEntry stamps a new entry with a fresh id.
func NewHistoryEntry(action, actor string, at time.Time) HistoryEntry {
	return HistoryEntry{
		ID:        NewID(),
		Timestamp: at.UTC(),
		Action:    action,
		User:      actor,
	}
}

// AppendHistory returns a new sequence with entry added at the end. The input
// slice is never modified.
func AppendHistory(history []HistoryEntry, entry HistoryEntry) []HistoryEntry {
	out := make([]HistoryEntry, 0, len(history)+1)
	out = append(out, history...)
	return append(out, entry)
}

// CreatedEntry is the seed entry of every new ticket.
func CreatedEntry(at time.Time) HistoryEntry {
	return NewHistoryEntry(ActionTicketCreated, SystemActor, at)
}

// ArchivedHistoryEntry keeps an unreadable history value verbatim.
func ArchivedHistoryEntry(raw string, at time.Time) HistoryEntry {
	entry := NewHistoryEntry(ActionHistoryArchived, SystemActor, at)
	entry.Details = null.StringFrom(raw)
	return entry
}

// StatusChangedEntry describes a transition to status.
func StatusChangedEntry(status TicketStatus, at time.Time) HistoryEntry {
	return NewHistoryEntry(StatusChangedAction(status), SystemActor, at)
}

// StatusChangedAction is the action text recorded for a status change.
func StatusChangedAction(status TicketStatus) string {
	return "Status geändert zu: " + StatusLabel(status)
}

// StatusLabel maps a status to its display label. Statuses reach this point
// only through ParseStatus, so an unmapped value is a programming error.
func StatusLabel(status TicketStatus) string {
	switch status {
	case TicketStatusOpen:
		return "Offen"
	case TicketStatusInProgress:
		return "In Bearbeitung"
	case TicketStatusCompleted:
		return "Fertig"
	}
	panic(fmt.Sprintf("domain: no label for status %q", status))
}
