package repository

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const ticketColumns = `id, subject, description, contact, date, status, priority,
               assigned_users, files, history, created_at, updated_at`

type postgresTicketRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresTicketRepository instantiates the relational binding.
func NewPostgresTicketRepository(pool *pgxpool.Pool) TicketRepository {
	return &postgresTicketRepository{pool: pool}
}

func (r *postgresTicketRepository) Create(ctx context.Context, record *TicketRecord) error {
	const query = `
        INSERT INTO tickets (id, subject, description, contact, date, status, priority, assigned_users, files, history, created_at, updated_at)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8::jsonb,$9::jsonb,$10::jsonb,$11,$12)`
	_, err := r.pool.Exec(ctx, query,
		record.ID,
		record.Subject,
		record.Description,
		record.Contact,
		record.Date,
		record.Status,
		record.Priority,
		string(orEmptyArray(record.AssignedUsers)),
		string(orEmptyArray(record.Files)),
		string(orEmptyArray(record.History)),
		record.CreatedAt,
		record.UpdatedAt,
	)
	return err
}

func (r *postgresTicketRepository) List(ctx context.Context) ([]TicketRecord, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+ticketColumns+` FROM tickets ORDER BY created_at DESC, id DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []TicketRecord
	for rows.Next() {
		record, err := scanPostgresTicket(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *record)
	}
	return result, rows.Err()
}

func (r *postgresTicketRepository) Get(ctx context.Context, id string) (*TicketRecord, error) {
	record, err := scanPostgresTicket(r.pool.QueryRow(ctx, `SELECT `+ticketColumns+` FROM tickets WHERE id=$1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return record, err
}

func (r *postgresTicketRepository) UpdateStatus(ctx context.Context, id, status string, updatedAt time.Time, appendHistory HistoryAppender) error {
	return pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		var stored []byte
		err := tx.QueryRow(ctx, `SELECT history FROM tickets WHERE id=$1 FOR UPDATE`, id).Scan(&stored)
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrNotFound
		}
		if err != nil {
			return err
		}

		next, err := appendHistory(stored)
		if err != nil {
			return err
		}

		_, err = tx.Exec(ctx,
			`UPDATE tickets SET status=$1, history=$2::jsonb, updated_at=$3 WHERE id=$4`,
			status, string(next), updatedAt, id)
		return err
	})
}

func (r *postgresTicketRepository) UpdateSensitive(ctx context.Context, id, subject, description, contact string) error {
	cmd, err := r.pool.Exec(ctx,
		`UPDATE tickets SET subject=$1, description=$2, contact=$3 WHERE id=$4`,
		subject, description, contact, id)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *postgresTicketRepository) Delete(ctx context.Context, id string) error {
	cmd, err := r.pool.Exec(ctx, `DELETE FROM tickets WHERE id=$1`, id)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *postgresTicketRepository) Ping(ctx context.Context) error {
	return r.pool.Ping(ctx)
}

func scanPostgresTicket(row pgx.Row) (*TicketRecord, error) {
	var record TicketRecord
	if err := row.Scan(
		&record.ID,
		&record.Subject,
		&record.Description,
		&record.Contact,
		&record.Date,
		&record.Status,
		&record.Priority,
		&record.AssignedUsers,
		&record.Files,
		&record.History,
		&record.CreatedAt,
		&record.UpdatedAt,
	); err != nil {
		return nil, err
	}
	return &record, nil
}
