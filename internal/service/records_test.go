package service

import (
	"strings"
	"testing"
	"time"

	"github.com/nico-hl/ticketkp/internal/domain"
	"github.com/nico-hl/ticketkp/internal/encryption"
	"github.com/nico-hl/ticketkp/internal/repository"
)

func TestDecodeAssignees(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		want    []domain.AssignedUser
		wantErr bool
	}{
		{name: "json array", raw: `["nico","finnja"]`, want: []domain.AssignedUser{"nico", "finnja"}},
		{name: "double encoded", raw: `"[\"nico\"]"`, want: []domain.AssignedUser{"nico"}},
		{name: "postgres literal", raw: `{nico,"finnja"}`, want: []domain.AssignedUser{"nico", "finnja"}},
		{name: "empty literal", raw: `{}`, want: []domain.AssignedUser{}},
		{name: "null", raw: `null`, want: []domain.AssignedUser{}},
		{name: "missing", raw: ``, want: []domain.AssignedUser{}},
		{name: "garbage", raw: `nico`, want: []domain.AssignedUser{}, wantErr: true},
		{name: "json object", raw: `{"a":1}`, want: []domain.AssignedUser{}, wantErr: true},
		{name: "unknown name in array", raw: `["nico","bob"]`, want: []domain.AssignedUser{"nico"}, wantErr: true},
		{name: "unknown name in literal", raw: `{finnja,mallory}`, want: []domain.AssignedUser{"finnja"}, wantErr: true},
		{name: "mixed case", raw: `["Nico"]`, want: []domain.AssignedUser{"nico"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := decodeAssignees([]byte(tt.raw))
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if got == nil {
				t.Fatal("expected non-nil slice")
			}
			if len(got) != len(tt.want) {
				t.Fatalf("got %v want %v", got, tt.want)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Errorf("got %v want %v", got, tt.want)
				}
			}
		})
	}
}

func TestDecodeFiles(t *testing.T) {
	files, err := decodeFiles([]byte(`[{"id":"f1","name":"shot.png","url":"/files/x","type":"image/png","size":120}]`))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(files) != 1 || !files[0].IsImage || files[0].Size != 120 {
		t.Errorf("unexpected files %+v", files)
	}

	files, err = decodeFiles([]byte(`"[{\"id\":\"f2\",\"name\":\"a.pdf\",\"type\":\"application/pdf\",\"size\":3.0}]"`))
	if err != nil {
		t.Fatalf("decode double encoded: %v", err)
	}
	if len(files) != 1 || files[0].IsImage || files[0].Size != 3 {
		t.Errorf("unexpected files %+v", files)
	}

	files, err = decodeFiles([]byte(`{broken`))
	if err == nil || len(files) != 0 || files == nil {
		t.Errorf("expected empty fallback with error, got %v %v", files, err)
	}
}

func TestDecodeHistoryTimestamps(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	raw := `[
		{"id":"a","timestamp":"2025-03-01T10:00:00.5Z","action":"Ticket erstellt","user":"System"},
		{"id":"b","timestamp":"2025-03-02 08:30:00","action":"x","user":"System","details":"note"},
		{"id":"c","timestamp":1740823200000,"action":"x","user":"System"},
		{"id":"d","action":"x","user":"System"},
		{"id":"e","timestamp":"not a date","action":"x","user":"System"}
	]`
	history, err := decodeHistory([]byte(raw), now)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	want := []time.Time{
		time.Date(2025, 3, 1, 10, 0, 0, 500000000, time.UTC),
		time.Date(2025, 3, 2, 8, 30, 0, 0, time.UTC),
		time.UnixMilli(1740823200000).UTC(),
		now,
		now,
	}
	if len(history) != len(want) {
		t.Fatalf("expected %d entries, got %d", len(want), len(history))
	}
	for i, entry := range history {
		if !entry.Timestamp.Equal(want[i]) {
			t.Errorf("entry %s: timestamp %v want %v", entry.ID, entry.Timestamp, want[i])
		}
	}
	if !history[1].Details.Valid || history[1].Details.String != "note" {
		t.Errorf("details lost: %+v", history[1].Details)
	}
	if history[0].Details.Valid {
		t.Errorf("expected absent details, got %+v", history[0].Details)
	}
}

func TestDecodeHistoryFallback(t *testing.T) {
	for _, raw := range []string{``, `null`, `"null"`, `{"no":"array"}`, `[1,`} {
		history, _ := decodeHistory([]byte(raw), time.Now())
		if history == nil || len(history) != 0 {
			t.Errorf("%q: expected empty history, got %v", raw, history)
		}
	}
}

func TestAppendHistoryJSONPreservesPriorEntries(t *testing.T) {
	prior := `[{"id":"a","timestamp":"2025-03-01T10:00:00Z","action":"Ticket erstellt","user":"System","extra":{"k":1}}]`
	entry := domain.StatusChangedEntry(domain.TicketStatusCompleted, time.Date(2025, 3, 2, 0, 0, 0, 0, time.UTC))

	out, reset, err := appendHistoryJSON([]byte(prior), entry)
	if err != nil || reset {
		t.Fatalf("append: reset=%v err=%v", reset, err)
	}
	history, err := decodeHistory(out, time.Now())
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(history) != 2 || history[1].Action != "Status geändert zu: Fertig" {
		t.Errorf("unexpected history %+v", history)
	}
	if want := `{"id":"a","timestamp":"2025-03-01T10:00:00Z","action":"Ticket erstellt","user":"System","extra":{"k":1}}`; !strings.Contains(string(out), want) {
		t.Errorf("prior entry rewritten: %s", out)
	}

}

func TestAppendHistoryJSONArchivesUnreadableColumn(t *testing.T) {
	entry := domain.StatusChangedEntry(domain.TicketStatusCompleted, time.Date(2025, 3, 2, 0, 0, 0, 0, time.UTC))
	tests := []struct {
		name   string
		stored string
	}{
		{name: "garbage", stored: `{garbage`},
		{name: "object instead of array", stored: `{"id":"a"}`},
		{name: "double encoded garbage", stored: `"[{broken"`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, archived, err := appendHistoryJSON([]byte(tt.stored), entry)
			if err != nil || !archived {
				t.Fatalf("archived=%v err=%v", archived, err)
			}
			history, err := decodeHistory(out, time.Now())
			if err != nil {
				t.Fatalf("decode: %v", err)
			}
			if len(history) != 2 {
				t.Fatalf("expected archive and new entry, got %+v", history)
			}
			if history[0].Action != domain.ActionHistoryArchived || history[0].Details.ValueOrZero() != tt.stored {
				t.Errorf("archive entry = %+v", history[0])
			}
			if history[1].ID != entry.ID || !history[0].Timestamp.Equal(entry.Timestamp) {
				t.Errorf("new entry = %+v", history[1])
			}
		})
	}
}

func TestRecordRoundTrip(t *testing.T) {
	codec, err := encryption.NewCodec("test-secret")
	if err != nil {
		t.Fatalf("codec: %v", err)
	}
	now := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	ticket := &domain.Ticket{
		ID:            "t-1",
		Subject:       "Printer broken",
		Description:   "Paper jam",
		Contact:       "jane@x.com",
		Date:          now,
		Status:        domain.TicketStatusOpen,
		Priority:      domain.TicketPriorityHigh,
		AssignedUsers: []domain.AssignedUser{domain.AssigneeNico},
		History:       []domain.HistoryEntry{domain.CreatedEntry(now)},
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	record, err := toRecord(ticket, codec)
	if err != nil {
		t.Fatalf("toRecord: %v", err)
	}
	for _, field := range []string{record.Subject, record.Description, record.Contact} {
		if !encryption.IsEncoded(field) {
			t.Errorf("field stored in plaintext: %q", field)
		}
	}
	if string(record.Files) != "[]" {
		t.Errorf("files = %s", record.Files)
	}

	got, issues := fromRecord(record, codec, now)
	if len(issues) != 0 {
		t.Fatalf("unexpected issues %v", issues)
	}
	if got.Subject != ticket.Subject || got.Description != ticket.Description || got.Contact != ticket.Contact {
		t.Errorf("plaintext mismatch %+v", got)
	}
	if len(got.History) != 1 || got.History[0].Action != domain.ActionTicketCreated {
		t.Errorf("history %+v", got.History)
	}
}

func TestFromRecordCorruptField(t *testing.T) {
	codec, _ := encryption.NewCodec("test-secret")
	subject, _ := codec.Encrypt("Printer broken")
	record := &repository.TicketRecord{
		ID:          "t-1",
		Subject:     subject,
		Description: encryption.Marker + "AAAA",
		Contact:     "legacy@x.com",
		Status:      "open",
		Priority:    "low",
	}
	got, issues := fromRecord(record, codec, time.Now())
	if got.Subject != "Printer broken" {
		t.Errorf("subject = %q", got.Subject)
	}
	if got.Description != encryption.ErrorPlaceholder {
		t.Errorf("description = %q", got.Description)
	}
	if got.Contact != "legacy@x.com" {
		t.Errorf("contact = %q", got.Contact)
	}
	if len(issues) != 1 {
		t.Errorf("expected one issue, got %v", issues)
	}
	if got.AssignedUsers == nil || got.Files == nil || got.History == nil {
		t.Errorf("expected empty containers, got %+v", got)
	}
}
