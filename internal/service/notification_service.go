package service

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/spec-kit/lead-service/internal/events"
	"github.com/spec-kit/lead-service/internal/mail"
	"github.com/spec-kit/lead-service/internal/repository"
)

// NotificationService handles emitting notifications for domain events.
type NotificationService struct {
	dispatcher events.Dispatcher
	users      repository.UserRepository
	mailer     mail.Mailer
	logger     *zap.Logger
}

// NewNotificationService creates the service. A nil mailer disables email.
func NewNotificationService(dispatcher events.Dispatcher, users repository.UserRepository, mailer mail.Mailer, logger *zap.Logger) *NotificationService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &NotificationService{
		dispatcher: dispatcher,
		users:      users,
		mailer:     mailer,
		logger:     logger,
	}
}

// HandlerWrapper decorates a named event handler, for example to run it on a
// background queue.
type HandlerWrapper func(name string, handler events.EventHandler) events.EventHandler

// RegisterHandlers subscribes to events. Mail delivery goes through wrap; a
// nil wrap runs it inline.
func (n *NotificationService) RegisterHandlers(wrap HandlerWrapper) {
	if n.dispatcher == nil {
		return
	}
	mailHandler := events.EventHandler(n.handleLeadAssigned)
	if wrap != nil {
		mailHandler = wrap("assignment_mail", mailHandler)
	}
	n.dispatcher.SubscribeAll(n.logEvent)
	n.dispatcher.Subscribe(events.EventLeadAssigned, mailHandler)
}

func (n *NotificationService) logEvent(_ context.Context, event events.Event) error {
	n.logger.Info("domain event",
		zap.String("event_id", event.ID),
		zap.String("event_type", string(event.Type)),
		zap.String("actor_id", event.ActorID),
		zap.String("target_id", event.TargetID),
		zap.Any("payload", event.Payload))
	return nil
}

// handleLeadAssigned mails the new assignee. Unassignments have no target.
func (n *NotificationService) handleLeadAssigned(ctx context.Context, event events.Event) error {
	if n.mailer == nil || event.TargetID == "" {
		return nil
	}
	assignee, err := n.users.GetByID(ctx, event.TargetID)
	if err != nil {
		return fmt.Errorf("load assignee %s: %w", event.TargetID, err)
	}

	data := mail.AssignmentData{AssigneeName: assignee.Name, LeadCount: leadCount(event.Payload)}
	if name, ok := event.Payload["lead_name"].(string); ok {
		data.LeadName = name
	}
	if phone, ok := event.Payload["lead_phone"].(string); ok {
		data.LeadPhone = phone
	}
	body, err := mail.RenderAssignment(data)
	if err != nil {
		return err
	}
	subject := "New lead assigned"
	if data.LeadCount != 1 {
		subject = fmt.Sprintf("%d new leads assigned", data.LeadCount)
	}
	if err := n.mailer.Send(ctx, assignee.Email, subject, body); err != nil {
		return fmt.Errorf("send assignment mail: %w", err)
	}
	n.logger.Debug("assignment mail sent", zap.String("to", assignee.Email), zap.Int("leads", data.LeadCount))
	return nil
}

func leadCount(payload map[string]any) int {
	switch ids := payload["lead_ids"].(type) {
	case []string:
		return len(ids)
	case []any:
		return len(ids)
	}
	return 1
}
