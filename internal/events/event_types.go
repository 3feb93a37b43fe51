package events

import (
	"time"

	"github.com/nico-hl/ticketkp/internal/domain"
)

// EventType enumerates supported event identifiers.
type EventType string

const (
	EventTicketCreated       EventType = "ticket_created"
	EventTicketStatusChanged EventType = "ticket_status_changed"
	EventTicketDeleted       EventType = "ticket_deleted"
)

// Event represents a domain event emitted by services. Payloads never carry
// the sensitive ticket fields.
type Event struct {
	ID        string      `json:"id"`
	Type      EventType   `json:"type"`
	TicketID  string      `json:"ticket_id"`
	Actor     string      `json:"actor"`
	Timestamp time.Time   `json:"timestamp"`
	Payload   interface{} `json:"payload"`
}

// TicketCreatedPayload payload.
type TicketCreatedPayload struct {
	Priority      domain.TicketPriority `json:"priority"`
	AssignedUsers []domain.AssignedUser `json:"assigned_users"`
	FileCount     int                   `json:"file_count"`
	FailedFiles   int                   `json:"failed_files"`
}

// TicketStatusChangedPayload payload.
type TicketStatusChangedPayload struct {
	NewStatus domain.TicketStatus `json:"new_status"`
}

// TicketDeletedPayload payload.
type TicketDeletedPayload struct {
	FileCount         int      `json:"file_count"`
	FailedAttachments []string `json:"failed_attachments,omitempty"`
}
