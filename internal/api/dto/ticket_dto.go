package dto

import (
	"time"

	"github.com/guregu/null/v5"

	"github.com/nico-hl/ticketkp/internal/domain"
)

// CreateTicketRequest is the JSON form of ticket creation. Multipart requests
// carry the same fields as form values plus the uploaded files.
type CreateTicketRequest struct {
	Subject       string                `json:"subject"`
	Description   string                `json:"description"`
	Contact       string                `json:"contact"`
	Date          string                `json:"date"`
	Priority      domain.TicketPriority `json:"priority"`
	AssignedUsers []domain.AssignedUser `json:"assignedUsers"`
}

// UpdateStatusRequest payload.
type UpdateStatusRequest struct {
	Status domain.TicketStatus `json:"status"`
}

// TicketResponse is the decrypted ticket.
type TicketResponse struct {
	ID            string                `json:"id"`
	Subject       string                `json:"subject"`
	Description   string                `json:"description"`
	Contact       string                `json:"contact"`
	Date          time.Time             `json:"date"`
	Status        domain.TicketStatus   `json:"status"`
	Priority      domain.TicketPriority `json:"priority"`
	AssignedUsers []domain.AssignedUser `json:"assignedUsers"`
	Files         []FileResponse        `json:"files"`
	History       []HistoryResponse     `json:"history"`
	CreatedAt     time.Time             `json:"createdAt"`
	UpdatedAt     time.Time             `json:"updatedAt"`
}

// FileResponse describes one attachment.
type FileResponse struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	URL     string `json:"url"`
	Type    string `json:"type"`
	Size    int64  `json:"size"`
	IsImage bool   `json:"isImage"`
}

// HistoryResponse is one audit entry.
type HistoryResponse struct {
	ID        string      `json:"id"`
	Timestamp time.Time   `json:"timestamp"`
	Action    string      `json:"action"`
	User      string      `json:"user"`
	Details   null.String `json:"details"`
}

// DeleteTicketResponse reports attachment cleanup.
type DeleteTicketResponse struct {
	ID                string   `json:"id"`
	RemovedFiles      int      `json:"removedFiles"`
	FailedAttachments []string `json:"failedAttachments,omitempty"`
}

// NewTicketResponse maps a domain ticket for output.
func NewTicketResponse(t *domain.Ticket) TicketResponse {
	files := make([]FileResponse, 0, len(t.Files))
	for _, f := range t.Files {
		files = append(files, FileResponse(f))
	}
	history := make([]HistoryResponse, 0, len(t.History))
	for _, h := range t.History {
		history = append(history, NewHistoryResponse(h))
	}
	assignees := t.AssignedUsers
	if assignees == nil {
		assignees = []domain.AssignedUser{}
	}
	return TicketResponse{
		ID:            t.ID,
		Subject:       t.Subject,
		Description:   t.Description,
		Contact:       t.Contact,
		Date:          t.Date,
		Status:        t.Status,
		Priority:      t.Priority,
		AssignedUsers: assignees,
		Files:         files,
		History:       history,
		CreatedAt:     t.CreatedAt,
		UpdatedAt:     t.UpdatedAt,
	}
}

// NewHistoryResponse maps one history entry.
func NewHistoryResponse(h domain.HistoryEntry) HistoryResponse {
	return HistoryResponse(h)
}
