package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/araddon/dateparse"
)

// sqliteTimeLayout is fixed width so that text ordering matches time ordering.
const sqliteTimeLayout = "2006-01-02T15:04:05.000000000Z07:00"

type sqliteTicketRepository struct {
	db *sql.DB
}

// NewSQLiteTicketRepository wraps an open sqlite handle and creates the schema.
func NewSQLiteTicketRepository(ctx context.Context, db *sql.DB) (TicketRepository, error) {
	r := &sqliteTicketRepository{db: db}
	if err := r.migrate(ctx); err != nil {
		return nil, err
	}
	return r, nil
}

func (r *sqliteTicketRepository) migrate(ctx context.Context) error {
	_, err := r.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS tickets (
			id             TEXT PRIMARY KEY,
			subject        TEXT NOT NULL,
			description    TEXT NOT NULL,
			contact        TEXT NOT NULL,
			date           TEXT NOT NULL,
			status         TEXT NOT NULL DEFAULT 'open',
			priority       TEXT NOT NULL DEFAULT 'medium',
			assigned_users TEXT NOT NULL DEFAULT '[]',
			files          TEXT NOT NULL DEFAULT '[]',
			history        TEXT NOT NULL DEFAULT '[]',
			created_at     TEXT NOT NULL,
			updated_at     TEXT NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_tickets_created_at ON tickets(created_at);
	`)
	if err != nil {
		return fmt.Errorf("ticket store: migrate: %w", err)
	}
	return nil
}

func (r *sqliteTicketRepository) Create(ctx context.Context, record *TicketRecord) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO tickets (id, subject, description, contact, date, status, priority, assigned_users, files, history, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		record.ID,
		record.Subject,
		record.Description,
		record.Contact,
		formatSQLiteTime(record.Date),
		record.Status,
		record.Priority,
		string(orEmptyArray(record.AssignedUsers)),
		string(orEmptyArray(record.Files)),
		string(orEmptyArray(record.History)),
		formatSQLiteTime(record.CreatedAt),
		formatSQLiteTime(record.UpdatedAt),
	)
	return err
}

func (r *sqliteTicketRepository) List(ctx context.Context) ([]TicketRecord, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+ticketColumns+` FROM tickets ORDER BY created_at DESC, id DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []TicketRecord
	for rows.Next() {
		record, err := scanSQLiteTicket(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *record)
	}
	return result, rows.Err()
}

func (r *sqliteTicketRepository) Get(ctx context.Context, id string) (*TicketRecord, error) {
	record, err := scanSQLiteTicket(r.db.QueryRowContext(ctx, `SELECT `+ticketColumns+` FROM tickets WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return record, err
}

func (r *sqliteTicketRepository) UpdateStatus(ctx context.Context, id, status string, updatedAt time.Time, appendHistory HistoryAppender) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback() //nolint:errcheck

	var stored sql.NullString
	err = tx.QueryRowContext(ctx, `SELECT history FROM tickets WHERE id = ?`, id).Scan(&stored)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return err
	}

	next, err := appendHistory([]byte(stored.String))
	if err != nil {
		return err
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE tickets SET status = ?, history = ?, updated_at = ? WHERE id = ?`,
		status, string(next), formatSQLiteTime(updatedAt), id); err != nil {
		return err
	}
	return tx.Commit()
}

func (r *sqliteTicketRepository) UpdateSensitive(ctx context.Context, id, subject, description, contact string) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE tickets SET subject = ?, description = ?, contact = ? WHERE id = ?`,
		subject, description, contact, id)
	if err != nil {
		return err
	}
	return requireAffected(res)
}

func (r *sqliteTicketRepository) Delete(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM tickets WHERE id = ?`, id)
	if err != nil {
		return err
	}
	return requireAffected(res)
}

func (r *sqliteTicketRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

func requireAffected(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSQLiteTicket(row rowScanner) (*TicketRecord, error) {
	var (
		record                        TicketRecord
		date, createdAt, updatedAt    string
		assignedUsers, files, history sql.NullString
	)
	if err := row.Scan(
		&record.ID,
		&record.Subject,
		&record.Description,
		&record.Contact,
		&date,
		&record.Status,
		&record.Priority,
		&assignedUsers,
		&files,
		&history,
		&createdAt,
		&updatedAt,
	); err != nil {
		return nil, err
	}
	record.Date = parseSQLiteTime(date)
	record.CreatedAt = parseSQLiteTime(createdAt)
	record.UpdatedAt = parseSQLiteTime(updatedAt)
	if assignedUsers.Valid {
		record.AssignedUsers = []byte(assignedUsers.String)
	}
	if files.Valid {
		record.Files = []byte(files.String)
	}
	if history.Valid {
		record.History = []byte(history.String)
	}
	return &record, nil
}

func formatSQLiteTime(t time.Time) string {
	return t.UTC().Format(sqliteTimeLayout)
}

// parseSQLiteTime accepts the canonical layout and anything older rows were
// written with. Unparseable values become the zero time.
func parseSQLiteTime(raw string) time.Time {
	if t, err := time.Parse(sqliteTimeLayout, raw); err == nil {
		return t
	}
	if t, err := dateparse.ParseIn(raw, time.UTC); err == nil {
		return t.UTC()
	}
	return time.Time{}
}
