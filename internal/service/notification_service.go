package service

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/nico-hl/ticketkp/internal/config"
	"github.com/nico-hl/ticketkp/internal/domain"
	"github.com/nico-hl/ticketkp/internal/events"
)

// Notification channels.
const (
	ChannelEmail   = "email"
	ChannelWebhook = "webhook"
)

// Notification is one outgoing message about a ticket event. Summary is
// built from event payloads only and never contains sensitive ticket fields.
type Notification struct {
	Channel   string
	Target    string
	EventType events.EventType
	TicketID  string
	Summary   string
}

// NotificationService writes an audit record for every ticket event and
// queues notifications on the configured channels.
type NotificationService struct {
	dispatcher events.Dispatcher
	logger     *zap.Logger
	cfg        config.NotificationConfig
}

// NewNotificationService creates the service.
func NewNotificationService(dispatcher events.Dispatcher, logger *zap.Logger, cfg config.NotificationConfig) *NotificationService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &NotificationService{
		dispatcher: dispatcher,
		logger:     logger.Named("notifications"),
		cfg:        cfg,
	}
}

// RegisterHandlers subscribes to the ticket lifecycle events.
func (n *NotificationService) RegisterHandlers() {
	if n.dispatcher == nil {
		return
	}
	n.dispatcher.Subscribe(events.EventTicketCreated, n.handle)
	n.dispatcher.Subscribe(events.EventTicketStatusChanged, n.handle)
	n.dispatcher.Subscribe(events.EventTicketDeleted, n.handle)
}

func (n *NotificationService) handle(ctx context.Context, event events.Event) error {
	fields, summary, err := describeEvent(event)
	if err != nil {
		return err
	}
	n.logger.Info("ticket event", append([]zap.Field{
		zap.String("event_id", event.ID),
		zap.String("event_type", string(event.Type)),
		zap.String("ticket_id", event.TicketID),
		zap.String("actor", event.Actor),
		zap.Time("at", event.Timestamp),
	}, fields...)...)

	for _, notification := range n.route(event, summary) {
		n.deliver(ctx, notification)
	}
	return nil
}

// route picks the channels for an event. E-mail goes out for new and
// removed tickets, the webhook receives every event.
func (n *NotificationService) route(event events.Event, summary string) []Notification {
	var out []Notification
	base := Notification{EventType: event.Type, TicketID: event.TicketID, Summary: summary}
	if from := strings.TrimSpace(n.cfg.EmailFrom); from != "" && event.Type != events.EventTicketStatusChanged {
		email := base
		email.Channel, email.Target = ChannelEmail, from
		out = append(out, email)
	}
	if url := strings.TrimSpace(n.cfg.WebhookURL); url != "" {
		hook := base
		hook.Channel, hook.Target = ChannelWebhook, url
		out = append(out, hook)
	}
	return out
}

// deliver is a stub; delivery is recorded but nothing leaves the process.
func (n *NotificationService) deliver(_ context.Context, notification Notification) {
	n.logger.Info("notification queued",
		zap.String("channel", notification.Channel),
		zap.String("target", notification.Target),
		zap.String("event_type", string(notification.EventType)),
		zap.String("ticket_id", notification.TicketID),
		zap.String("summary", notification.Summary))
}

func describeEvent(event events.Event) ([]zap.Field, string, error) {
	switch payload := event.Payload.(type) {
	case events.TicketCreatedPayload:
		assignees := make([]string, 0, len(payload.AssignedUsers))
		for _, a := range payload.AssignedUsers {
			assignees = append(assignees, string(a))
		}
		fields := []zap.Field{
			zap.String("priority", string(payload.Priority)),
			zap.Strings("assigned_users", assignees),
			zap.Int("file_count", payload.FileCount),
			zap.Int("failed_files", payload.FailedFiles),
		}
		summary := fmt.Sprintf("Neues Ticket (Priorität %s, %d Dateien)", payload.Priority, payload.FileCount)
		return fields, summary, nil

	case events.TicketStatusChangedPayload:
		fields := []zap.Field{zap.String("new_status", string(payload.NewStatus))}
		return fields, domain.StatusChangedAction(payload.NewStatus), nil

	case events.TicketDeletedPayload:
		fields := []zap.Field{
			zap.Int("file_count", payload.FileCount),
			zap.Strings("failed_attachments", payload.FailedAttachments),
		}
		summary := "Ticket gelöscht"
		if len(payload.FailedAttachments) > 0 {
			summary += fmt.Sprintf(" (%d Anhänge nicht entfernt)", len(payload.FailedAttachments))
		}
		return fields, summary, nil
	}
	return nil, "", fmt.Errorf("unexpected payload %T for %s", event.Payload, event.Type)
}
