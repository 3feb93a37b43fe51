package repository

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"
)

// runContract exercises the behavior every binding must share.
func runContract(t *testing.T, newRepo func(t *testing.T) TicketRepository) {
	t.Run("create and get", func(t *testing.T) {
		repo := newRepo(t)
		ctx := context.Background()
		rec := sampleRecord("t-1", time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC))
		if err := repo.Create(ctx, rec); err != nil {
			t.Fatalf("create: %v", err)
		}
		got, err := repo.Get(ctx, "t-1")
		if err != nil {
			t.Fatalf("get: %v", err)
		}
		if got.Subject != rec.Subject || got.Contact != rec.Contact || got.Status != "open" {
			t.Errorf("unexpected record %+v", got)
		}
		if !got.CreatedAt.Equal(rec.CreatedAt) || !got.Date.Equal(rec.Date) {
			t.Errorf("timestamps changed: created %v date %v", got.CreatedAt, got.Date)
		}
		if !jsonEqual(t, got.History, rec.History) {
			t.Errorf("history changed: %s", got.History)
		}
	})

	t.Run("get missing", func(t *testing.T) {
		repo := newRepo(t)
		if _, err := repo.Get(context.Background(), "nope"); !errors.Is(err, ErrNotFound) {
			t.Errorf("expected ErrNotFound, got %v", err)
		}
	})

	t.Run("list newest first", func(t *testing.T) {
		repo := newRepo(t)
		ctx := context.Background()
		base := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
		for i, id := range []string{"a", "b", "c"} {
			if err := repo.Create(ctx, sampleRecord(id, base.Add(time.Duration(i)*time.Minute))); err != nil {
				t.Fatalf("create %s: %v", id, err)
			}
		}
		list, err := repo.List(ctx)
		if err != nil {
			t.Fatalf("list: %v", err)
		}
		var ids []string
		for _, rec := range list {
			ids = append(ids, rec.ID)
		}
		if strings.Join(ids, ",") != "c,b,a" {
			t.Errorf("expected c,b,a got %v", ids)
		}
	})

	t.Run("list empty", func(t *testing.T) {
		repo := newRepo(t)
		list, err := repo.List(context.Background())
		if err != nil {
			t.Fatalf("list: %v", err)
		}
		if len(list) != 0 {
			t.Errorf("expected empty list, got %d", len(list))
		}
	})

	t.Run("update status appends", func(t *testing.T) {
		repo := newRepo(t)
		ctx := context.Background()
		rec := sampleRecord("t-2", time.Now().UTC().Truncate(time.Microsecond))
		if err := repo.Create(ctx, rec); err != nil {
			t.Fatalf("create: %v", err)
		}
		later := rec.CreatedAt.Add(time.Hour)
		err := repo.UpdateStatus(ctx, "t-2", "completed", later, func(stored []byte) ([]byte, error) {
			if !jsonEqual(t, stored, rec.History) {
				t.Errorf("appender saw %s", stored)
			}
			return []byte(`[{"id":"h1"},{"id":"h2"}]`), nil
		})
		if err != nil {
			t.Fatalf("update: %v", err)
		}
		got, _ := repo.Get(ctx, "t-2")
		if got.Status != "completed" {
			t.Errorf("status = %q", got.Status)
		}
		if !got.UpdatedAt.Equal(later) {
			t.Errorf("updated_at = %v, want %v", got.UpdatedAt, later)
		}
		if !jsonEqual(t, got.History, []byte(`[{"id":"h1"},{"id":"h2"}]`)) {
			t.Errorf("history = %s", got.History)
		}
	})

	t.Run("update status missing", func(t *testing.T) {
		repo := newRepo(t)
		err := repo.UpdateStatus(context.Background(), "nope", "open", time.Now(), func(b []byte) ([]byte, error) {
			t.Error("appender must not run for a missing ticket")
			return b, nil
		})
		if !errors.Is(err, ErrNotFound) {
			t.Errorf("expected ErrNotFound, got %v", err)
		}
	})

	t.Run("update status appender error rolls back", func(t *testing.T) {
		repo := newRepo(t)
		ctx := context.Background()
		rec := sampleRecord("t-3", time.Now().UTC())
		_ = repo.Create(ctx, rec)
		boom := errors.New("boom")
		err := repo.UpdateStatus(ctx, "t-3", "completed", time.Now(), func([]byte) ([]byte, error) { return nil, boom })
		if !errors.Is(err, boom) {
			t.Fatalf("expected boom, got %v", err)
		}
		got, _ := repo.Get(ctx, "t-3")
		if got.Status != "open" {
			t.Errorf("status changed despite failed append: %q", got.Status)
		}
	})

	t.Run("concurrent status updates keep every entry", func(t *testing.T) {
		repo := newRepo(t)
		ctx := context.Background()
		_ = repo.Create(ctx, sampleRecord("t-4", time.Now().UTC()))

		const writers = 8
		var wg sync.WaitGroup
		errs := make(chan error, writers)
		for i := 0; i < writers; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				errs <- repo.UpdateStatus(ctx, "t-4", "in_progress", time.Now(), func(stored []byte) ([]byte, error) {
					var entries []string
					if err := json.Unmarshal(stored, &entries); err != nil {
						entries = nil
					}
					entries = append(entries, "x")
					return json.Marshal(entries)
				})
			}()
		}
		wg.Wait()
		close(errs)
		failed := 0
		for err := range errs {
			if err != nil {
				if !errors.Is(err, ErrConflict) {
					t.Fatalf("update: %v", err)
				}
				failed++
			}
		}
		got, _ := repo.Get(ctx, "t-4")
		var entries []string
		if err := json.Unmarshal(got.History, &entries); err != nil {
			t.Fatalf("history: %v", err)
		}
		if len(entries) != writers-failed {
			t.Errorf("expected %d entries, got %d", writers-failed, len(entries))
		}
	})

	t.Run("update sensitive", func(t *testing.T) {
		repo := newRepo(t)
		ctx := context.Background()
		_ = repo.Create(ctx, sampleRecord("t-5", time.Now().UTC()))
		if err := repo.UpdateSensitive(ctx, "t-5", "s2", "d2", "c2"); err != nil {
			t.Fatalf("update sensitive: %v", err)
		}
		got, _ := repo.Get(ctx, "t-5")
		if got.Subject != "s2" || got.Description != "d2" || got.Contact != "c2" {
			t.Errorf("unexpected fields %+v", got)
		}
		if err := repo.UpdateSensitive(ctx, "nope", "a", "b", "c"); !errors.Is(err, ErrNotFound) {
			t.Errorf("expected ErrNotFound, got %v", err)
		}
	})

	t.Run("delete", func(t *testing.T) {
		repo := newRepo(t)
		ctx := context.Background()
		_ = repo.Create(ctx, sampleRecord("t-6", time.Now().UTC()))
		if err := repo.Delete(ctx, "t-6"); err != nil {
			t.Fatalf("delete: %v", err)
		}
		if _, err := repo.Get(ctx, "t-6"); !errors.Is(err, ErrNotFound) {
			t.Errorf("expected ErrNotFound after delete, got %v", err)
		}
		if err := repo.Delete(ctx, "t-6"); !errors.Is(err, ErrNotFound) {
			t.Errorf("expected ErrNotFound on second delete, got %v", err)
		}
		list, _ := repo.List(ctx)
		if len(list) != 0 {
			t.Errorf("deleted ticket still listed")
		}
	})
}

func sampleRecord(id string, created time.Time) *TicketRecord {
	return &TicketRecord{
		ID:            id,
		Subject:       "enc:v1:subject-" + id,
		Description:   "legacy description",
		Contact:       "jane@x.com",
		Date:          time.Date(2025, 2, 28, 0, 0, 0, 0, time.UTC),
		Status:        "open",
		Priority:      "high",
		AssignedUsers: []byte(`["nico"]`),
		Files:         []byte(`[]`),
		History:       []byte(`[{"id":"h1","timestamp":"2025-03-01T10:00:00Z","action":"Ticket erstellt","user":"System"}]`),
		CreatedAt:     created,
		UpdatedAt:     created,
	}
}

func jsonEqual(t *testing.T, a, b []byte) bool {
	t.Helper()
	var va, vb any
	if err := json.Unmarshal(a, &va); err != nil {
		t.Fatalf("unmarshal %s: %v", a, err)
	}
	if err := json.Unmarshal(b, &vb); err != nil {
		t.Fatalf("unmarshal %s: %v", b, err)
	}
	ja, _ := json.Marshal(va)
	jb, _ := json.Marshal(vb)
	return string(ja) == string(jb)
}
