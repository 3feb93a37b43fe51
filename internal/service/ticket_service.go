package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/nico-hl/ticketkp/internal/domain"
	"github.com/nico-hl/ticketkp/internal/encryption"
	"github.com/nico-hl/ticketkp/internal/events"
	"github.com/nico-hl/ticketkp/internal/repository"
	"github.com/nico-hl/ticketkp/internal/storage"
	apperrors "github.com/nico-hl/ticketkp/pkg/util/errorutil"
)

const defaultUploadConcurrency = 4

// TicketService applies the ticket lifecycle rules on top of any persistence binding.
type TicketService struct {
	tickets           repository.TicketRepository
	attachments       storage.AttachmentStore
	codec             *encryption.Codec
	dispatcher        events.Dispatcher
	logger            *zap.Logger
	uploadConcurrency int
	now               func() time.Time
}

// TicketDependencies bundles collaborators for the ticket service.
type TicketDependencies struct {
	TicketRepo        repository.TicketRepository
	Attachments       storage.AttachmentStore
	Codec             *encryption.Codec
	Dispatcher        events.Dispatcher
	Logger            *zap.Logger
	UploadConcurrency int
	// Clock overrides time.Now in tests.
	Clock func() time.Time
}

// TicketCreateInput describes ticket creation payload.
type TicketCreateInput struct {
	Subject       string
	Description   string
	Contact       string
	Date          time.Time
	Priority      domain.TicketPriority
	AssignedUsers []domain.AssignedUser
	Files         []FileUpload
}

// FileUpload is one attachment received at the boundary.
type FileUpload struct {
	Name        string
	ContentType string
	Data        []byte
}

// DeleteResult reports attachment cleanup after a ticket was removed.
type DeleteResult struct {
	RemovedFiles      int
	FailedAttachments []string
}

// ReencryptReport summarizes a legacy re-encryption pass.
type ReencryptReport struct {
	Scanned       int
	RowsUpdated   int
	FieldsSealed  int
	RowsFailed    int
	CorruptFields int
}

// NewTicketService constructs the service.
func NewTicketService(deps TicketDependencies) *TicketService {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	codec := deps.Codec
	if codec == nil {
		codec = encryption.NewPlaintextCodec()
	}
	dispatcher := deps.Dispatcher
	if dispatcher == nil {
		dispatcher = events.NewInMemoryDispatcher(logger)
	}
	concurrency := deps.UploadConcurrency
	if concurrency <= 0 {
		concurrency = defaultUploadConcurrency
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	return &TicketService{
		tickets:           deps.TicketRepo,
		attachments:       deps.Attachments,
		codec:             codec,
		dispatcher:        dispatcher,
		logger:            logger,
		uploadConcurrency: concurrency,
		now:               clock,
	}
}

// timestamps are kept at microsecond precision, the finest every backend stores
func (s *TicketService) timestamp() time.Time {
	return s.now().UTC().Truncate(time.Microsecond)
}

// CreateTicket stores a new ticket and returns it with plaintext fields.
func (s *TicketService) CreateTicket(ctx context.Context, input TicketCreateInput) (*domain.Ticket, error) {
	input, err := normalizeCreateInput(input)
	if err != nil {
		return nil, err
	}

	now := s.timestamp()
	ticketID := domain.NewID()
	date := input.Date
	if date.IsZero() {
		date = now
	}

	files := s.uploadFiles(ctx, ticketID, input.Files)

	ticket := &domain.Ticket{
		ID:            ticketID,
		Subject:       input.Subject,
		Description:   input.Description,
		Contact:       input.Contact,
		Date:          date.UTC(),
		Status:        domain.TicketStatusOpen,
		Priority:      input.Priority,
		AssignedUsers: input.AssignedUsers,
		Files:         files,
		History:       []domain.HistoryEntry{domain.CreatedEntry(now)},
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	record, err := toRecord(ticket, s.codec)
	if err != nil {
		s.discardUploads(ctx, ticketID, files)
		return nil, apperrors.NewInternalError(err)
	}
	if err := s.tickets.Create(ctx, record); err != nil {
		s.discardUploads(ctx, ticketID, files)
		return nil, apperrors.NewPersistenceError("create ticket", err)
	}

	s.publishEvent(ctx, events.EventTicketCreated, ticket.ID, events.TicketCreatedPayload{
		Priority:      ticket.Priority,
		AssignedUsers: ticket.AssignedUsers,
		FileCount:     len(files),
		FailedFiles:   len(input.Files) - len(files),
	})
	return ticket, nil
}

func normalizeCreateInput(input TicketCreateInput) (TicketCreateInput, error) {
	input.Subject = strings.TrimSpace(input.Subject)
	input.Description = strings.TrimSpace(input.Description)
	input.Contact = strings.TrimSpace(input.Contact)

	var missing []string
	if input.Subject == "" {
		missing = append(missing, "subject")
	}
	if input.Description == "" {
		missing = append(missing, "description")
	}
	if input.Contact == "" {
		missing = append(missing, "contact")
	}
	if len(missing) > 0 {
		return input, apperrors.NewValidationError("required fields missing", map[string]any{"fields": missing})
	}

	priority, err := domain.ParsePriority(string(input.Priority))
	if err != nil {
		return input, apperrors.NewValidationError(err.Error(), nil)
	}
	input.Priority = priority

	seen := make(map[domain.AssignedUser]struct{}, len(input.AssignedUsers))
	assignees := make([]domain.AssignedUser, 0, len(input.AssignedUsers))
	for _, raw := range input.AssignedUsers {
		user, err := domain.ParseAssignee(string(raw))
		if err != nil {
			return input, apperrors.NewValidationError(err.Error(), nil)
		}
		if _, dup := seen[user]; dup {
			continue
		}
		seen[user] = struct{}{}
		assignees = append(assignees, user)
	}
	input.AssignedUsers = assignees
	return input, nil
}

// uploadFiles stores every upload concurrently. Failed uploads are logged and
// skipped; the result keeps input order.
func (s *TicketService) uploadFiles(ctx context.Context, ticketID string, uploads []FileUpload) []domain.TicketFile {
	if len(uploads) == 0 {
		return []domain.TicketFile{}
	}
	slots := make([]*domain.TicketFile, len(uploads))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.uploadConcurrency)
	for i, upload := range uploads {
		i, upload := i, upload
		g.Go(func() error {
			fileID := domain.NewID()
			key := domain.AttachmentKey(ticketID, fileID, upload.Name)
			url, err := s.attachments.Put(gctx, key, upload.Data, upload.ContentType)
			if err != nil {
				s.logger.Warn("attachment upload failed",
					zap.String("ticket_id", ticketID),
					zap.String("file_id", fileID),
					zap.String("file_name", upload.Name),
					zap.Error(err))
				return nil
			}
			file := domain.NewTicketFile(fileID, domain.SanitizeFileName(upload.Name), url, upload.ContentType, int64(len(upload.Data)))
			slots[i] = &file
			return nil
		})
	}
	_ = g.Wait()

	files := make([]domain.TicketFile, 0, len(uploads))
	for _, slot := range slots {
		if slot != nil {
			files = append(files, *slot)
		}
	}
	return files
}

func (s *TicketService) discardUploads(ctx context.Context, ticketID string, files []domain.TicketFile) {
	if len(files) == 0 {
		return
	}
	keys := make([]string, 0, len(files))
	for _, f := range files {
		keys = append(keys, f.StorageKey(ticketID))
	}
	if err := s.attachments.Delete(ctx, keys); err != nil {
		s.logger.Warn("orphaned attachments after failed create",
			zap.String("ticket_id", ticketID),
			zap.Strings("keys", storage.FailedKeys(err)),
			zap.Error(err))
	}
}

// ListTickets returns every ticket, newest first, with plaintext fields.
// Rows that fail to decrypt or parse are still returned with fallbacks.
func (s *TicketService) ListTickets(ctx context.Context) ([]domain.Ticket, error) {
	records, err := s.tickets.List(ctx)
	if err != nil {
		return nil, apperrors.NewPersistenceError("list tickets", err)
	}
	now := s.timestamp()
	tickets := make([]domain.Ticket, 0, len(records))
	for i := range records {
		tickets = append(tickets, s.decode(&records[i], now))
	}
	return tickets, nil
}

// GetTicket returns one ticket with plaintext fields.
func (s *TicketService) GetTicket(ctx context.Context, ticketID string) (*domain.Ticket, error) {
	record, err := s.tickets.Get(ctx, ticketID)
	if err != nil {
		return nil, s.mapRepoError("get ticket", ticketID, err)
	}
	ticket := s.decode(record, s.timestamp())
	return &ticket, nil
}

func (s *TicketService) decode(record *repository.TicketRecord, now time.Time) domain.Ticket {
	ticket, issues := fromRecord(record, s.codec, now)
	for _, issue := range issues {
		s.logger.Warn("ticket column fell back",
			zap.String("ticket_id", record.ID),
			zap.String("column", issue.Column),
			zap.Error(issue.Err))
	}
	return ticket
}

// UpdateStatus sets a new status and appends the matching history entry in
// one atomic backend operation. Setting the current status again still
// records an entry.
func (s *TicketService) UpdateStatus(ctx context.Context, ticketID string, status domain.TicketStatus) (*domain.HistoryEntry, error) {
	status, err := domain.ParseStatus(string(status))
	if err != nil {
		return nil, apperrors.NewValidationError(err.Error(), nil)
	}

	now := s.timestamp()
	entry := domain.StatusChangedEntry(status, now)
	err = s.tickets.UpdateStatus(ctx, ticketID, string(status), now, func(stored []byte) ([]byte, error) {
		next, archived, err := appendHistoryJSON(stored, entry)
		if archived {
			s.logger.Warn("unparseable history archived on status change", zap.String("ticket_id", ticketID))
		}
		return next, err
	})
	if err != nil {
		return nil, s.mapRepoError("update ticket status", ticketID, err)
	}

	s.publishEvent(ctx, events.EventTicketStatusChanged, ticketID, events.TicketStatusChangedPayload{NewStatus: status})
	return &entry, nil
}

// DeleteTicket removes the record and then every attachment it owns.
// Attachment failures are logged and reported, never returned as errors.
func (s *TicketService) DeleteTicket(ctx context.Context, ticketID string) (*DeleteResult, error) {
	record, err := s.tickets.Get(ctx, ticketID)
	if err != nil {
		return nil, s.mapRepoError("delete ticket", ticketID, err)
	}
	files, err := decodeFiles(record.Files)
	if err != nil {
		s.logger.Warn("cannot read attachments of deleted ticket", zap.String("ticket_id", ticketID), zap.Error(err))
	}

	if err := s.tickets.Delete(ctx, ticketID); err != nil {
		return nil, s.mapRepoError("delete ticket", ticketID, err)
	}

	result := &DeleteResult{}
	if len(files) > 0 {
		keys := make([]string, 0, len(files))
		for _, f := range files {
			keys = append(keys, f.StorageKey(ticketID))
		}
		if err := s.attachments.Delete(ctx, keys); err != nil {
			result.FailedAttachments = storage.FailedKeys(err)
			if len(result.FailedAttachments) == 0 {
				result.FailedAttachments = keys
			}
			s.logger.Warn("attachment cleanup failed",
				zap.String("ticket_id", ticketID),
				zap.Strings("keys", result.FailedAttachments),
				zap.Error(err))
		}
		result.RemovedFiles = len(keys) - len(result.FailedAttachments)
	}

	s.publishEvent(ctx, events.EventTicketDeleted, ticketID, events.TicketDeletedPayload{
		FileCount:         len(files),
		FailedAttachments: result.FailedAttachments,
	})
	return result, nil
}

// OpenAttachment streams a stored attachment.
func (s *TicketService) OpenAttachment(ctx context.Context, key string) (*storage.Blob, error) {
	blob, err := s.attachments.Open(ctx, key)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, apperrors.NewNotFound("file", nil)
	}
	if err != nil {
		return nil, apperrors.NewInternalError(err)
	}
	return blob, nil
}

// ReencryptLegacy seals every sensitive field still stored as legacy
// plaintext. Encrypted and corrupt values are left alone.
func (s *TicketService) ReencryptLegacy(ctx context.Context, dryRun bool) (*ReencryptReport, error) {
	if !s.codec.Enabled() {
		return nil, apperrors.NewValidationError("encryption is disabled", nil)
	}
	records, err := s.tickets.List(ctx)
	if err != nil {
		return nil, apperrors.NewPersistenceError("list tickets", err)
	}

	report := &ReencryptReport{}
	for _, record := range records {
		report.Scanned++
		fields := []*string{&record.Subject, &record.Description, &record.Contact}
		sealed := 0
		failed := false
		for _, field := range fields {
			if encryption.IsEncoded(*field) {
				if _, err := s.codec.Decrypt(*field); err != nil {
					report.CorruptFields++
				}
				continue
			}
			enc, err := s.codec.Encrypt(*field)
			if err != nil {
				failed = true
				break
			}
			*field = enc
			sealed++
		}
		if failed {
			report.RowsFailed++
			continue
		}
		if sealed == 0 {
			continue
		}
		if !dryRun {
			if err := s.tickets.UpdateSensitive(ctx, record.ID, record.Subject, record.Description, record.Contact); err != nil {
				s.logger.Warn("re-encrypt failed", zap.String("ticket_id", record.ID), zap.Error(err))
				report.RowsFailed++
				continue
			}
		}
		report.RowsUpdated++
		report.FieldsSealed += sealed
	}

	s.logger.Info("legacy re-encryption finished",
		zap.Bool("dry_run", dryRun),
		zap.Int("scanned", report.Scanned),
		zap.Int("rows_updated", report.RowsUpdated),
		zap.Int("fields_sealed", report.FieldsSealed),
		zap.Int("rows_failed", report.RowsFailed),
		zap.Int("corrupt_fields", report.CorruptFields))
	return report, nil
}

func (s *TicketService) mapRepoError(op, ticketID string, err error) error {
	switch {
	case errors.Is(err, repository.ErrNotFound):
		return apperrors.NewNotFound("ticket", map[string]any{"id": ticketID})
	case errors.Is(err, repository.ErrConflict):
		return apperrors.NewConflict("ticket was modified concurrently, retry", map[string]any{"id": ticketID})
	}
	s.logger.Error(op+" failed", zap.String("ticket_id", ticketID), zap.Error(err))
	return apperrors.NewPersistenceError(op, err)
}

func (s *TicketService) publishEvent(ctx context.Context, eventType events.EventType, ticketID string, payload interface{}) {
	event := events.Event{
		ID:        domain.NewID(),
		Type:      eventType,
		TicketID:  ticketID,
		Actor:     domain.SystemActor,
		Timestamp: s.timestamp(),
		Payload:   payload,
	}
	if err := s.dispatcher.Publish(ctx, event); err != nil {
		s.logger.Warn("publish event failed", zap.String("event_type", string(eventType)), zap.Error(err))
	}
}
