package repository

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotFound is returned when the referenced ticket does not exist.
	ErrNotFound = errors.New("repository: ticket not found")
	// ErrConflict is returned when an optimistic update lost every retry.
	ErrConflict = errors.New("repository: concurrent update")
)

// TicketRecord is a ticket as stored at rest. Sensitive columns may hold
// ciphertext or legacy plaintext; the JSON columns are passed through raw so
// that decoding policy lives in one place above the backends.
type TicketRecord struct {
	ID            string
	Subject       string
	Description   string
	Contact       string
	Date          time.Time
	Status        string
	Priority      string
	AssignedUsers []byte
	Files         []byte
	History       []byte
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// HistoryAppender receives the stored history column and returns its replacement.
type HistoryAppender func(stored []byte) ([]byte, error)

// TicketRepository encapsulates ticket persistence. Every binding must keep
// UpdateStatus atomic: the history read, the append and the write of status,
// history and updated_at happen as one unit.
type TicketRepository interface {
	Create(ctx context.Context, record *TicketRecord) error
	// List returns every ticket ordered by created_at descending.
	List(ctx context.Context) ([]TicketRecord, error)
	Get(ctx context.Context, id string) (*TicketRecord, error)
	UpdateStatus(ctx context.Context, id, status string, updatedAt time.Time, appendHistory HistoryAppender) error
	UpdateSensitive(ctx context.Context, id, subject, description, contact string) error
	Delete(ctx context.Context, id string) error
	Ping(ctx context.Context) error
}

func orEmptyArray(raw []byte) []byte {
	if len(raw) == 0 {
		return []byte("[]")
	}
	return raw
}
