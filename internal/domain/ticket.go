package domain

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// TicketStatus enumerates lifecycle states for tickets.
type TicketStatus string

const (
	TicketStatusOpen       TicketStatus = "open"
	TicketStatusInProgress TicketStatus = "in_progress"
	TicketStatusCompleted  TicketStatus = "completed"
)

// TicketStatuses lists every status in display order.
var TicketStatuses = []TicketStatus{TicketStatusOpen, TicketStatusInProgress, TicketStatusCompleted}

// TicketPriority enumerates urgency.
type TicketPriority string

const (
	TicketPriorityLow    TicketPriority = "low"
	TicketPriorityMedium TicketPriority = "medium"
	TicketPriorityHigh   TicketPriority = "high"
)

// AssignedUser is one of the fixed team members a ticket can be assigned to.
type AssignedUser string

const (
	AssigneeNico   AssignedUser = "nico"
	AssigneeFinnja AssignedUser = "finnja"
)

// Assignees lists the known assignees.
var Assignees = []AssignedUser{AssigneeNico, AssigneeFinnja}

// ParseStatus validates a raw status value.
func ParseStatus(raw string) (TicketStatus, error) {
	status := TicketStatus(strings.TrimSpace(raw))
	switch status {
	case TicketStatusOpen, TicketStatusInProgress, TicketStatusCompleted:
		return status, nil
	}
	return "", fmt.Errorf("unknown status %q", raw)
}

// ParsePriority validates a raw priority value. Empty input yields medium.
func ParsePriority(raw string) (TicketPriority, error) {
	priority := TicketPriority(strings.ToLower(strings.TrimSpace(raw)))
	switch priority {
	case "":
		return TicketPriorityMedium, nil
	case TicketPriorityLow, TicketPriorityMedium, TicketPriorityHigh:
		return priority, nil
	}
	return "", fmt.Errorf("unknown priority %q", raw)
}

// ParseAssignee validates a raw assignee name.
func ParseAssignee(raw string) (AssignedUser, error) {
	user := AssignedUser(strings.ToLower(strings.TrimSpace(raw)))
	switch user {
	case AssigneeNico, AssigneeFinnja:
		return user, nil
	}
	return "", fmt.Errorf("unknown assignee %q", raw)
}

// Ticket is the aggregate for support requests.
type Ticket struct {
	ID            string
	Subject       string
	Description   string
	Contact       string
	Date          time.Time
	Status        TicketStatus
	Priority      TicketPriority
	AssignedUsers []AssignedUser
	Files         []TicketFile
	History       []HistoryEntry
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// TicketFile describes an attachment stored in the attachment backend.
type TicketFile struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	URL     string `json:"url"`
	Type    string `json:"type"`
	Size    int64  `json:"size"`
	IsImage bool   `json:"isImage"`
}

// NewTicketFile builds a file record; IsImage is derived from the media type.
func NewTicketFile(id, name, url, mediaType string, size int64) TicketFile {
	return TicketFile{
		ID:      id,
		Name:    name,
		URL:     url,
		Type:    mediaType,
		Size:    size,
		IsImage: strings.HasPrefix(mediaType, "image/"),
	}
}

// StorageKey is the attachment backend path for a file owned by ticketID.
func (f TicketFile) StorageKey(ticketID string) string {
	return AttachmentKey(ticketID, f.ID, f.Name)
}

// AttachmentKey scopes a blob path by ticket and file id.
func AttachmentKey(ticketID, fileID, name string) string {
	return ticketID + "/" + fileID + "-" + SanitizeFileName(name)
}

// SanitizeFileName strips path components and separators from an uploaded name.
func SanitizeFileName(name string) string {
	name = strings.TrimSpace(name)
	if idx := strings.LastIndexAny(name, `/\`); idx >= 0 {
		name = name[idx+1:]
	}
	name = strings.Map(func(r rune) rune {
		if r < 0x20 || r == 0x7f {
			return -1
		}
		return r
	}, name)
	if name == "" || name == "." || name == ".." {
		return "file"
	}
	return name
}

// NewID returns a fresh opaque identifier.
func NewID() string {
	return uuid.NewString()
}
