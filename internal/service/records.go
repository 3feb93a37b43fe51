package service

import (
	"bytes"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/araddon/dateparse"
	"github.com/guregu/null/v5"
	jsoniter "github.com/json-iterator/go"

	"github.com/nico-hl/ticketkp/internal/domain"
	"github.com/nico-hl/ticketkp/internal/encryption"
	"github.com/nico-hl/ticketkp/internal/repository"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// decodeIssue names a column that fell back to an empty value while decoding.
type decodeIssue struct {
	Column string
	Err    error
}

// storedFile mirrors TicketFile at rest. IsImage is recomputed on read.
type storedFile struct {
	ID   string          `json:"id"`
	Name string          `json:"name"`
	URL  string          `json:"url"`
	Type string          `json:"type"`
	Size jsoniter.Number `json:"size"`
}

// storedHistoryEntry tolerates the timestamp shapes older rows were written with.
type storedHistoryEntry struct {
	ID        string              `json:"id"`
	Timestamp jsoniter.RawMessage `json:"timestamp"`
	Action    string              `json:"action"`
	User      string              `json:"user"`
	Details   null.String         `json:"details"`
}

// unwrapJSON returns the JSON document inside raw. Some rows store arrays as
// a JSON string containing the serialized array; those are unwrapped once.
func unwrapJSON(raw []byte) []byte {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || trimmed[0] != '"' {
		return trimmed
	}
	var inner string
	if err := json.Unmarshal(trimmed, &inner); err != nil {
		return trimmed
	}
	return bytes.TrimSpace([]byte(inner))
}

func isNullJSON(raw []byte) bool {
	return len(raw) == 0 || string(raw) == "null"
}

// decodeAssignees accepts a JSON array or a postgres array literal. Names
// outside the assignee set are dropped and reported through the error.
func decodeAssignees(raw []byte) ([]domain.AssignedUser, error) {
	doc := unwrapJSON(raw)
	if isNullJSON(doc) {
		return []domain.AssignedUser{}, nil
	}
	var names []string
	if inner, ok := postgresArrayLiteral(doc); ok {
		for _, part := range strings.Split(inner, ",") {
			if part = strings.Trim(strings.TrimSpace(part), `"`); part != "" {
				names = append(names, part)
			}
		}
	} else if err := json.Unmarshal(doc, &names); err != nil {
		return []domain.AssignedUser{}, err
	}

	out := make([]domain.AssignedUser, 0, len(names))
	var unknown []string
	for _, name := range names {
		user, err := domain.ParseAssignee(name)
		if err != nil {
			unknown = append(unknown, name)
			continue
		}
		out = append(out, user)
	}
	if len(unknown) > 0 {
		return out, fmt.Errorf("dropped unknown assignees %q", unknown)
	}
	return out, nil
}

// postgresArrayLiteral returns the inside of a literal like {nico,finnja}.
// A JSON object is not a literal.
func postgresArrayLiteral(doc []byte) (string, bool) {
	if len(doc) < 2 || doc[0] != '{' || doc[len(doc)-1] != '}' {
		return "", false
	}
	inner := string(doc[1 : len(doc)-1])
	if strings.Contains(inner, ":") {
		return "", false
	}
	return inner, true
}

func decodeFiles(raw []byte) ([]domain.TicketFile, error) {
	doc := unwrapJSON(raw)
	if isNullJSON(doc) {
		return []domain.TicketFile{}, nil
	}
	var stored []storedFile
	if err := json.Unmarshal(doc, &stored); err != nil {
		return []domain.TicketFile{}, err
	}
	out := make([]domain.TicketFile, 0, len(stored))
	for _, f := range stored {
		size, _ := f.Size.Float64()
		out = append(out, domain.NewTicketFile(f.ID, f.Name, f.URL, f.Type, int64(size)))
	}
	return out, nil
}

func encodeFiles(files []domain.TicketFile) ([]byte, error) {
	if files == nil {
		files = []domain.TicketFile{}
	}
	return json.Marshal(files)
}

// decodeHistory never fails the read: a missing or unparseable column yields
// an empty sequence, and a missing or unparseable timestamp becomes now.
func decodeHistory(raw []byte, now time.Time) ([]domain.HistoryEntry, error) {
	doc := unwrapJSON(raw)
	if isNullJSON(doc) {
		return []domain.HistoryEntry{}, nil
	}
	var stored []storedHistoryEntry
	if err := json.Unmarshal(doc, &stored); err != nil {
		return []domain.HistoryEntry{}, err
	}
	out := make([]domain.HistoryEntry, 0, len(stored))
	for _, h := range stored {
		out = append(out, domain.HistoryEntry{
			ID:        h.ID,
			Timestamp: normalizeTimestamp(h.Timestamp, now),
			Action:    h.Action,
			User:      h.User,
			Details:   h.Details,
		})
	}
	return out, nil
}

func normalizeTimestamp(raw jsoniter.RawMessage, now time.Time) time.Time {
	if isNullJSON(raw) {
		return now
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
			return t.UTC()
		}
		if t, err := dateparse.ParseIn(s, time.UTC); err == nil {
			return t.UTC()
		}
		return now
	}
	var ms float64
	if err := json.Unmarshal(raw, &ms); err == nil && !math.IsNaN(ms) && ms > 0 {
		return time.UnixMilli(int64(ms)).UTC()
	}
	return now
}

// appendHistoryJSON appends entry to the stored history column while keeping
// every prior entry byte-for-byte. An unparseable column is not dropped: it
// becomes the Details of an archive entry placed before entry.
func appendHistoryJSON(stored []byte, entry domain.HistoryEntry) ([]byte, bool, error) {
	var entries []jsoniter.RawMessage
	archived := false
	if doc := unwrapJSON(stored); !isNullJSON(doc) {
		if err := json.Unmarshal(doc, &entries); err != nil {
			archive, err := json.Marshal(domain.ArchivedHistoryEntry(string(stored), entry.Timestamp))
			if err != nil {
				return nil, false, err
			}
			entries = []jsoniter.RawMessage{archive}
			archived = true
		}
	}
	encoded, err := json.Marshal(entry)
	if err != nil {
		return nil, archived, err
	}
	entries = append(entries, encoded)
	out, err := json.Marshal(entries)
	return out, archived, err
}

// toRecord encodes a ticket for storage, sealing the sensitive fields.
func toRecord(ticket *domain.Ticket, codec *encryption.Codec) (*repository.TicketRecord, error) {
	sealed, err := codec.Seal(encryption.SensitiveFields{
		Subject:     ticket.Subject,
		Description: ticket.Description,
		Contact:     ticket.Contact,
	})
	if err != nil {
		return nil, err
	}
	assignees := ticket.AssignedUsers
	if assignees == nil {
		assignees = []domain.AssignedUser{}
	}
	assigned, err := json.Marshal(assignees)
	if err != nil {
		return nil, err
	}
	files, err := encodeFiles(ticket.Files)
	if err != nil {
		return nil, err
	}
	history, err := json.Marshal(ticket.History)
	if err != nil {
		return nil, err
	}
	return &repository.TicketRecord{
		ID:            ticket.ID,
		Subject:       sealed.Subject,
		Description:   sealed.Description,
		Contact:       sealed.Contact,
		Date:          ticket.Date,
		Status:        string(ticket.Status),
		Priority:      string(ticket.Priority),
		AssignedUsers: assigned,
		Files:         files,
		History:       history,
		CreatedAt:     ticket.CreatedAt,
		UpdatedAt:     ticket.UpdatedAt,
	}, nil
}

// fromRecord decodes a stored row. It never fails; every problem is reported
// through the returned issues and the affected value falls back.
func fromRecord(record *repository.TicketRecord, codec *encryption.Codec, now time.Time) (domain.Ticket, []decodeIssue) {
	var issues []decodeIssue

	opened, fieldErrs := codec.Open(encryption.SensitiveFields{
		Subject:     record.Subject,
		Description: record.Description,
		Contact:     record.Contact,
	})
	for _, err := range fieldErrs {
		issues = append(issues, decodeIssue{Column: "sensitive", Err: err})
	}

	assignees, err := decodeAssignees(record.AssignedUsers)
	if err != nil {
		issues = append(issues, decodeIssue{Column: "assigned_users", Err: err})
	}
	files, err := decodeFiles(record.Files)
	if err != nil {
		issues = append(issues, decodeIssue{Column: "files", Err: err})
	}
	history, err := decodeHistory(record.History, now)
	if err != nil {
		issues = append(issues, decodeIssue{Column: "history", Err: err})
	}

	return domain.Ticket{
		ID:            record.ID,
		Subject:       opened.Subject,
		Description:   opened.Description,
		Contact:       opened.Contact,
		Date:          record.Date,
		Status:        domain.TicketStatus(record.Status),
		Priority:      domain.TicketPriority(record.Priority),
		AssignedUsers: assignees,
		Files:         files,
		History:       history,
		CreatedAt:     record.CreatedAt,
		UpdatedAt:     record.UpdatedAt,
	}, issues
}
