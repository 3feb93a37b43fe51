package handlers

import (
	"net/url"

	"github.com/gofiber/fiber/v2"

	"github.com/nico-hl/ticketkp/internal/links"
	"github.com/nico-hl/ticketkp/internal/service"
	apperrors "github.com/nico-hl/ticketkp/pkg/util/errorutil"
)

// FilesHandler streams attachments behind signed links.
type FilesHandler struct {
	service *service.TicketService
	signer  *links.Signer
}

// NewFilesHandler constructs handler.
func NewFilesHandler(ticketService *service.TicketService, signer *links.Signer) *FilesHandler {
	return &FilesHandler{service: ticketService, signer: signer}
}

// Download GET /files/*?token=.
func (h *FilesHandler) Download(c *fiber.Ctx) error {
	key, err := url.PathUnescape(c.Params("*"))
	if err != nil || key == "" {
		return apperrors.NewNotFound("file", nil)
	}
	if err := h.signer.Verify(c.Query("token"), key); err != nil {
		return apperrors.NewForbidden("invalid download token")
	}

	blob, err := h.service.OpenAttachment(c.UserContext(), key)
	if err != nil {
		return err
	}
	if blob.ContentType != "" {
		c.Set(fiber.HeaderContentType, blob.ContentType)
	}
	c.Set(fiber.HeaderCacheControl, "private, max-age=3600")
	size := -1
	if blob.Size > 0 {
		size = int(blob.Size)
	}
	// fasthttp closes the body once it has been written
	return c.SendStream(blob.Body, size)
}
