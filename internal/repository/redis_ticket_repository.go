package repository

import (
	"context"
	"errors"
	"math"
	"time"

	"github.com/araddon/dateparse"
	jsoniter "github.com/json-iterator/go"
	"github.com/redis/go-redis/v9"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const redisMaxRetries = 5

// redisTicket is the JSON document stored per ticket key.
type redisTicket struct {
	ID            string              `json:"id"`
	Subject       string              `json:"subject"`
	Description   string              `json:"description"`
	Contact       string              `json:"contact"`
	Date          time.Time           `json:"date"`
	Status        string              `json:"status"`
	Priority      string              `json:"priority"`
	AssignedUsers jsoniter.RawMessage `json:"assigned_users"`
	Files         jsoniter.RawMessage `json:"files"`
	History       jsoniter.RawMessage `json:"history"`
	CreatedAt     time.Time           `json:"created_at"`
	UpdatedAt     time.Time           `json:"updated_at"`
}

type redisTicketRepository struct {
	client *redis.Client
	prefix string
}

// NewRedisTicketRepository stores each ticket as a JSON document and keeps a
// sorted set of ids scored by creation time for ordered listing.
func NewRedisTicketRepository(client *redis.Client, prefix string) TicketRepository {
	if prefix == "" {
		prefix = "ticketkp"
	}
	return &redisTicketRepository{client: client, prefix: prefix}
}

func (r *redisTicketRepository) ticketKey(id string) string {
	return r.prefix + ":ticket:" + id
}

func (r *redisTicketRepository) indexKey() string {
	return r.prefix + ":tickets:by_created"
}

func (r *redisTicketRepository) Create(ctx context.Context, record *TicketRecord) error {
	payload, err := json.Marshal(toRedisTicket(record))
	if err != nil {
		return err
	}
	_, err = r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, r.ticketKey(record.ID), payload, 0)
		pipe.ZAdd(ctx, r.indexKey(), redis.Z{
			Score:  float64(record.CreatedAt.UnixMicro()),
			Member: record.ID,
		})
		return nil
	})
	return err
}

func (r *redisTicketRepository) List(ctx context.Context) ([]TicketRecord, error) {
	ids, err := r.client.ZRevRange(ctx, r.indexKey(), 0, -1).Result()
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = r.ticketKey(id)
	}
	values, err := r.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, err
	}

	result := make([]TicketRecord, 0, len(values))
	for i, value := range values {
		raw, ok := value.(string)
		if !ok {
			// index entry without a document; deleted between the two reads
			continue
		}
		result = append(result, *decodeRedisTicket(ids[i], []byte(raw)))
	}
	return result, nil
}

func (r *redisTicketRepository) Get(ctx context.Context, id string) (*TicketRecord, error) {
	raw, err := r.client.Get(ctx, r.ticketKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return decodeRedisTicket(id, raw), nil
}

func (r *redisTicketRepository) UpdateStatus(ctx context.Context, id, status string, updatedAt time.Time, appendHistory HistoryAppender) error {
	return r.modify(ctx, id, func(doc redisDocument) error {
		next, err := appendHistory(doc["history"])
		if err != nil {
			return err
		}
		doc.set("status", status)
		doc["history"] = next
		doc.set("updated_at", updatedAt)
		return nil
	})
}

func (r *redisTicketRepository) UpdateSensitive(ctx context.Context, id, subject, description, contact string) error {
	return r.modify(ctx, id, func(doc redisDocument) error {
		doc.set("subject", subject)
		doc.set("description", description)
		doc.set("contact", contact)
		return nil
	})
}

// modify runs a WATCH/MULTI compare-and-swap on one ticket document. Only
// the keys mutate touches are rewritten; everything else is kept as stored.
func (r *redisTicketRepository) modify(ctx context.Context, id string, mutate func(doc redisDocument) error) error {
	key := r.ticketKey(id)
	txf := func(tx *redis.Tx) error {
		raw, err := tx.Get(ctx, key).Bytes()
		if errors.Is(err, redis.Nil) {
			return ErrNotFound
		}
		if err != nil {
			return err
		}
		doc := parseRedisDocument(id, raw)
		if err := mutate(doc); err != nil {
			return err
		}
		payload, err := json.Marshal(doc)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, payload, 0)
			return nil
		})
		return err
	}

	for i := 0; i < redisMaxRetries; i++ {
		err := r.client.Watch(ctx, txf, key)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return err
	}
	return ErrConflict
}

func (r *redisTicketRepository) Delete(ctx context.Context, id string) error {
	var del *redis.IntCmd
	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		del = pipe.Del(ctx, r.ticketKey(id))
		pipe.ZRem(ctx, r.indexKey(), id)
		return nil
	})
	if err != nil {
		return err
	}
	if del.Val() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *redisTicketRepository) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

func toRedisTicket(record *TicketRecord) redisTicket {
	return redisTicket{
		ID:            record.ID,
		Subject:       record.Subject,
		Description:   record.Description,
		Contact:       record.Contact,
		Date:          record.Date,
		Status:        record.Status,
		Priority:      record.Priority,
		AssignedUsers: orEmptyArray(record.AssignedUsers),
		Files:         orEmptyArray(record.Files),
		History:       orEmptyArray(record.History),
		CreatedAt:     record.CreatedAt,
		UpdatedAt:     record.UpdatedAt,
	}
}

// redisDocument holds a stored ticket field by field so that one malformed
// value cannot hide the others.
type redisDocument map[string]jsoniter.RawMessage

// parseRedisDocument never fails. A value that is not a JSON object is
// treated as a document holding only its id.
func parseRedisDocument(id string, raw []byte) redisDocument {
	doc := redisDocument{}
	if err := json.Unmarshal(raw, &doc); err != nil || doc == nil {
		doc = redisDocument{}
	}
	if doc.stringField("id") == "" {
		doc.set("id", id)
	}
	return doc
}

func (d redisDocument) set(key string, value interface{}) {
	if encoded, err := json.Marshal(value); err == nil {
		d[key] = encoded
	}
}

func (d redisDocument) stringField(key string) string {
	var s string
	if err := json.Unmarshal(d[key], &s); err != nil {
		return ""
	}
	return s
}

// timeField accepts RFC 3339, anything dateparse understands and epoch
// milliseconds. Everything else is the zero time.
func (d redisDocument) timeField(key string) time.Time {
	raw := d[key]
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
			return t.UTC()
		}
		if t, err := dateparse.ParseIn(s, time.UTC); err == nil {
			return t.UTC()
		}
		return time.Time{}
	}
	var ms float64
	if err := json.Unmarshal(raw, &ms); err == nil && !math.IsNaN(ms) && ms > 0 {
		return time.UnixMilli(int64(ms)).UTC()
	}
	return time.Time{}
}

func decodeRedisTicket(id string, raw []byte) *TicketRecord {
	doc := parseRedisDocument(id, raw)
	return &TicketRecord{
		ID:            doc.stringField("id"),
		Subject:       doc.stringField("subject"),
		Description:   doc.stringField("description"),
		Contact:       doc.stringField("contact"),
		Date:          doc.timeField("date"),
		Status:        doc.stringField("status"),
		Priority:      doc.stringField("priority"),
		AssignedUsers: doc["assigned_users"],
		Files:         doc["files"],
		History:       doc["history"],
		CreatedAt:     doc.timeField("created_at"),
		UpdatedAt:     doc.timeField("updated_at"),
	}
}
