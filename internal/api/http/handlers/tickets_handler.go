package handlers

import (
	"bytes"
	"io"
	"mime/multipart"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/araddon/dateparse"
	"github.com/gabriel-vasile/mimetype"
	"github.com/gofiber/fiber/v2"
	jsoniter "github.com/json-iterator/go"

	"github.com/nico-hl/ticketkp/internal/api/dto"
	"github.com/nico-hl/ticketkp/internal/domain"
	"github.com/nico-hl/ticketkp/internal/service"
	apperrors "github.com/nico-hl/ticketkp/pkg/util/errorutil"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// UploadLimits bounds attachments accepted per create request.
type UploadLimits struct {
	MaxBytes int64
	MaxFiles int
}

// TicketsHandler serves the ticket endpoints.
type TicketsHandler struct {
	service *service.TicketService
	limits  UploadLimits
}

// NewTicketsHandler constructs handler.
func NewTicketsHandler(ticketService *service.TicketService, limits UploadLimits) *TicketsHandler {
	return &TicketsHandler{service: ticketService, limits: limits}
}

// CreateTicket POST /tickets. Accepts multipart/form-data or JSON.
func (h *TicketsHandler) CreateTicket(c *fiber.Ctx) error {
	var (
		input service.TicketCreateInput
		err   error
	)
	if strings.HasPrefix(string(c.Request().Header.ContentType()), fiber.MIMEMultipartForm) {
		input, err = h.parseMultipart(c)
	} else {
		input, err = parseJSONCreate(c)
	}
	if err != nil {
		return err
	}

	ticket, err := h.service.CreateTicket(c.UserContext(), input)
	if err != nil {
		return err
	}
	return c.Status(http.StatusCreated).JSON(fiber.Map{"data": dto.NewTicketResponse(ticket)})
}

func parseJSONCreate(c *fiber.Ctx) (service.TicketCreateInput, error) {
	var req dto.CreateTicketRequest
	if err := json.Unmarshal(c.Body(), &req); err != nil {
		return service.TicketCreateInput{}, apperrors.NewValidationError("invalid payload", nil)
	}
	date, err := parseDate(req.Date)
	if err != nil {
		return service.TicketCreateInput{}, err
	}
	return service.TicketCreateInput{
		Subject:       req.Subject,
		Description:   req.Description,
		Contact:       req.Contact,
		Date:          date,
		Priority:      req.Priority,
		AssignedUsers: req.AssignedUsers,
	}, nil
}

func (h *TicketsHandler) parseMultipart(c *fiber.Ctx) (service.TicketCreateInput, error) {
	form, err := c.MultipartForm()
	if err != nil {
		return service.TicketCreateInput{}, apperrors.NewValidationError("invalid multipart payload", nil)
	}
	value := func(key string) string {
		if v := form.Value[key]; len(v) > 0 {
			return v[0]
		}
		return ""
	}

	date, err := parseDate(value("date"))
	if err != nil {
		return service.TicketCreateInput{}, err
	}
	assignees, err := parseAssignees(form.Value["assignedUsers"])
	if err != nil {
		return service.TicketCreateInput{}, err
	}

	headers := orderedFiles(form)
	if h.limits.MaxFiles > 0 && len(headers) > h.limits.MaxFiles {
		return service.TicketCreateInput{}, apperrors.NewValidationError("too many files", map[string]any{"max": h.limits.MaxFiles})
	}
	uploads := make([]service.FileUpload, 0, len(headers))
	for _, fh := range headers {
		if h.limits.MaxBytes > 0 && fh.Size > h.limits.MaxBytes {
			return service.TicketCreateInput{}, apperrors.NewValidationError("file too large", map[string]any{
				"file": fh.Filename,
				"max":  h.limits.MaxBytes,
			})
		}
		upload, err := readUpload(fh)
		if err != nil {
			return service.TicketCreateInput{}, apperrors.NewValidationError("unreadable file", map[string]any{"file": fh.Filename})
		}
		uploads = append(uploads, upload)
	}

	return service.TicketCreateInput{
		Subject:       value("subject"),
		Description:   value("description"),
		Contact:       value("contact"),
		Date:          date,
		Priority:      domain.TicketPriority(value("priority")),
		AssignedUsers: assignees,
		Files:         uploads,
	}, nil
}

// orderedFiles returns parts named "files" first, then file_0, file_1, ...
func orderedFiles(form *multipart.Form) []*multipart.FileHeader {
	out := append([]*multipart.FileHeader{}, form.File["files"]...)

	type indexed struct {
		n       int
		headers []*multipart.FileHeader
	}
	var numbered []indexed
	for key, headers := range form.File {
		suffix, ok := strings.CutPrefix(key, "file_")
		if !ok {
			continue
		}
		n, err := strconv.Atoi(suffix)
		if err != nil {
			continue
		}
		numbered = append(numbered, indexed{n: n, headers: headers})
	}
	sort.Slice(numbered, func(i, j int) bool { return numbered[i].n < numbered[j].n })
	for _, group := range numbered {
		out = append(out, group.headers...)
	}
	return out
}

func readUpload(fh *multipart.FileHeader) (service.FileUpload, error) {
	f, err := fh.Open()
	if err != nil {
		return service.FileUpload{}, err
	}
	defer f.Close()
	data, err := io.ReadAll(f)
	if err != nil {
		return service.FileUpload{}, err
	}

	contentType := fh.Header.Get(fiber.HeaderContentType)
	if contentType == "" || contentType == fiber.MIMEOctetStream {
		detected, err := mimetype.DetectReader(bytes.NewReader(data))
		if err == nil {
			contentType = detected.String()
		}
	}
	return service.FileUpload{Name: fh.Filename, ContentType: contentType, Data: data}, nil
}

// parseAssignees accepts a JSON array, a comma separated list or repeated values.
func parseAssignees(values []string) ([]domain.AssignedUser, error) {
	var out []domain.AssignedUser
	for _, raw := range values {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}
		if strings.HasPrefix(raw, "[") {
			var names []domain.AssignedUser
			if err := json.Unmarshal([]byte(raw), &names); err != nil {
				return nil, apperrors.NewValidationError("assignedUsers must be a JSON array", nil)
			}
			out = append(out, names...)
			continue
		}
		for _, part := range strings.Split(raw, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, domain.AssignedUser(part))
			}
		}
	}
	return out, nil
}

func parseDate(raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(time.RFC3339Nano, raw); err == nil {
		return t.UTC(), nil
	}
	t, err := dateparse.ParseIn(raw, time.UTC)
	if err != nil {
		return time.Time{}, apperrors.NewValidationError("invalid date", map[string]any{"date": raw})
	}
	return t.UTC(), nil
}

// ListTickets GET /tickets.
func (h *TicketsHandler) ListTickets(c *fiber.Ctx) error {
	tickets, err := h.service.ListTickets(c.UserContext())
	if err != nil {
		return err
	}
	items := make([]dto.TicketResponse, 0, len(tickets))
	for i := range tickets {
		items = append(items, dto.NewTicketResponse(&tickets[i]))
	}
	return c.JSON(fiber.Map{"data": items})
}

// GetTicket GET /tickets/:id.
func (h *TicketsHandler) GetTicket(c *fiber.Ctx) error {
	ticket, err := h.service.GetTicket(c.UserContext(), c.Params("id"))
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": dto.NewTicketResponse(ticket)})
}

// UpdateStatus PATCH|PUT /tickets/:id.
func (h *TicketsHandler) UpdateStatus(c *fiber.Ctx) error {
	var req dto.UpdateStatusRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}
	status := domain.TicketStatus(strings.TrimSpace(string(req.Status)))
	if status == "" {
		return apperrors.NewValidationError("status required", nil)
	}
	entry, err := h.service.UpdateStatus(c.UserContext(), c.Params("id"), status)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": fiber.Map{
		"id":      c.Params("id"),
		"status":  status,
		"history": dto.NewHistoryResponse(*entry),
	}})
}

// DeleteTicket DELETE /tickets/:id.
func (h *TicketsHandler) DeleteTicket(c *fiber.Ctx) error {
	id := c.Params("id")
	result, err := h.service.DeleteTicket(c.UserContext(), id)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": dto.DeleteTicketResponse{
		ID:                id,
		RemovedFiles:      result.RemovedFiles,
		FailedAttachments: result.FailedAttachments,
	}})
}
