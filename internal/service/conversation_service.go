package service

import (
	"context"
	"errors"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/spec-kit/guest-messaging/internal/config"
	"github.com/spec-kit/guest-messaging/internal/domain"
	"github.com/spec-kit/guest-messaging/internal/events"
	"github.com/spec-kit/guest-messaging/internal/ratelimit"
	"github.com/spec-kit/guest-messaging/internal/repository"
	apperrors "github.com/spec-kit/guest-messaging/pkg/util/errorutil"
)

// ConversationService coordinates conversation and message workflows. It is
// shared by the REST handlers and the realtime gateway so both paths enforce
// the same rules and emit the same events.
type ConversationService struct {
	conversations repository.ConversationRepository
	messages      repository.MessageRepository
	dispatcher    events.Dispatcher
	limiter       ratelimit.Limiter
	cfg           config.ChatConfig
	logger        *zap.Logger
	// sends holds a conversation from insert until its event is published,
	// so listeners see messages in seq order.
	sends *conversationLocks
}

// ConversationDependencies bundles collaborators for the service.
type ConversationDependencies struct {
	ConversationRepo repository.ConversationRepository
	MessageRepo      repository.MessageRepository
	Dispatcher       events.Dispatcher
	Limiter          ratelimit.Limiter
	Config           config.ChatConfig
	Logger           *zap.Logger
}

// CreateConversationInput describes a create-or-get request. Empty fields
// are filled from the caller's token when the caller is the customer.
type CreateConversationInput struct {
	CustomerID    *int64
	CustomerEmail string
	CustomerName  string
}

// ConversationListInput describes listing parameters.
type ConversationListInput struct {
	Status string
	Limit  int
	Offset int
}

// NewConversationService constructs the service.
func NewConversationService(deps ConversationDependencies) *ConversationService {
	svc := &ConversationService{
		conversations: deps.ConversationRepo,
		messages:      deps.MessageRepo,
		dispatcher:    deps.Dispatcher,
		limiter:       deps.Limiter,
		cfg:           deps.Config,
		logger:        deps.Logger,
		sends:         newConversationLocks(),
	}
	if svc.limiter == nil {
		svc.limiter = ratelimit.Unlimited{}
	}
	if svc.logger == nil {
		svc.logger = zap.NewNop()
	}
	return svc
}

// CreateOrGet returns the customer's open conversation, creating it when
// none exists. created is false when an existing conversation was reused.
func (s *ConversationService) CreateOrGet(ctx context.Context, caller domain.Identity, in CreateConversationInput) (*domain.Conversation, bool, error) {
	conv := &domain.Conversation{
		CustomerEmail: strings.TrimSpace(in.CustomerEmail),
		CustomerName:  strings.TrimSpace(in.CustomerName),
	}

	switch {
	case in.CustomerID != nil:
		conv.CustomerID = *in.CustomerID
	case caller.IsStaff():
		return nil, false, apperrors.NewValidationError("customer_id required", nil)
	default:
		conv.CustomerID = caller.ID
	}
	if conv.CustomerID <= 0 {
		return nil, false, apperrors.NewValidationError("customer_id must be positive", nil)
	}
	if !domain.CanCreateFor(caller, conv.CustomerID) {
		return nil, false, apperrors.NewForbidden("cannot open a conversation for another customer")
	}
	if !caller.IsStaff() {
		if conv.CustomerEmail == "" {
			conv.CustomerEmail = caller.Email
		}
		if conv.CustomerName == "" {
			conv.CustomerName = caller.Name
		}
	}

	created, err := s.conversations.CreateOpen(ctx, conv)
	if err != nil {
		return nil, false, mapRepoError(err, "conversation")
	}
	if created {
		s.publishEvent(ctx, events.Event{
			Type:           events.EventConversationCreated,
			ConversationID: conv.ID,
			CustomerID:     conv.CustomerID,
			Actor:          events.ActorFromIdentity(caller),
			Payload:        events.ConversationCreatedPayload{Conversation: *conv},
		})
	}
	return conv, created, nil
}

// List returns the caller's visible conversations, most recently active first.
func (s *ConversationService) List(ctx context.Context, caller domain.Identity, in ConversationListInput) ([]domain.Conversation, error) {
	filter := repository.ConversationFilter{
		Limit:  clampLimit(in.Limit, s.cfg.DefaultListLimit, s.cfg.MaxListLimit),
		Offset: in.Offset,
		Viewer: caller,
	}
	if !caller.IsStaff() {
		customerID := caller.ID
		filter.CustomerID = &customerID
	}
	if status := strings.ToLower(strings.TrimSpace(in.Status)); status != "" {
		st := domain.ConversationStatus(status)
		if !st.Valid() {
			return nil, apperrors.NewValidationError("invalid status filter", map[string]any{"status": in.Status})
		}
		filter.Status = &st
	}
	convs, err := s.conversations.List(ctx, filter)
	if err != nil {
		return nil, apperrors.MapError(err)
	}
	return convs, nil
}

// Get returns a conversation the caller may access.
func (s *ConversationService) Get(ctx context.Context, caller domain.Identity, id string) (*domain.Conversation, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, apperrors.NewNotFound("conversation", map[string]any{"id": id})
	}
	conv, err := s.conversations.GetByID(ctx, id)
	if err != nil {
		return nil, mapRepoError(err, "conversation")
	}
	if !domain.CanAccess(caller, conv) {
		return nil, apperrors.NewForbidden("not a participant of this conversation")
	}
	return conv, nil
}

// ListMessages returns a page of history in chronological order.
func (s *ConversationService) ListMessages(ctx context.Context, caller domain.Identity, id string, skip, limit int) ([]domain.Message, error) {
	conv, err := s.Get(ctx, caller, id)
	if err != nil {
		return nil, err
	}
	if skip < 0 {
		return nil, apperrors.NewValidationError("skip must not be negative", nil)
	}
	msgs, err := s.messages.ListByConversation(ctx, conv.ID, skip, clampLimit(limit, s.cfg.DefaultHistoryLimit, s.cfg.MaxHistoryLimit))
	if err != nil {
		return nil, apperrors.MapError(err)
	}
	return msgs, nil
}

// RecentMessages returns the snapshot sent to a connection that joins a
// conversation: the latest messages, oldest first.
func (s *ConversationService) RecentMessages(ctx context.Context, caller domain.Identity, id string) (*domain.Conversation, []domain.Message, error) {
	conv, err := s.Get(ctx, caller, id)
	if err != nil {
		return nil, nil, err
	}
	limit := s.cfg.JoinSnapshotLimit
	if limit <= 0 {
		limit = 100
	}
	msgs, err := s.messages.ListRecent(ctx, conv.ID, limit)
	if err != nil {
		return nil, nil, apperrors.MapError(err)
	}
	return conv, msgs, nil
}

// SendMessage validates, persists and announces a new message.
func (s *ConversationService) SendMessage(ctx context.Context, caller domain.Identity, id, content string) (*domain.Message, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return nil, apperrors.NewValidationError("content must not be empty", nil)
	}
	if maxLen := s.cfg.MaxMessageLength; maxLen > 0 && utf8.RuneCountInString(content) > maxLen {
		return nil, apperrors.NewValidationError("content too long", map[string]any{"max_length": maxLen})
	}

	conv, err := s.Get(ctx, caller, id)
	if err != nil {
		return nil, err
	}

	allowed, err := s.limiter.Allow(ctx, "send:"+caller.Key())
	if err != nil {
		s.logger.Warn("rate limiter unavailable", zap.Error(err), zap.String("identity", caller.Key()))
	} else if !allowed {
		return nil, apperrors.NewRateLimited("too many messages, slow down")
	}

	unlock := s.sends.lock(conv.ID)
	defer unlock()

	if !conv.IsOpen() {
		if err := s.reopenForReply(ctx, caller, conv); err != nil {
			return nil, err
		}
	}

	msg := &domain.Message{
		ConversationID: conv.ID,
		SenderID:       caller.ID,
		SenderType:     caller.SenderType(),
		SenderName:     s.senderName(caller, conv),
		Content:        content,
	}
	if err := s.messages.Create(ctx, msg); err != nil {
		return nil, mapRepoError(err, "conversation")
	}

	var staffID *int64
	if caller.IsStaff() {
		id := caller.ID
		staffID = &id
	}
	if err := s.conversations.TouchLastMessage(ctx, conv.ID, msg.Content, msg.CreatedAt, staffID); err != nil {
		// the message is durable; a stale preview is preferable to failing the send
		s.logger.Warn("update last message failed", zap.Error(err), zap.String("conversation_id", conv.ID))
	}

	s.publishEvent(ctx, events.Event{
		Type:           events.EventMessageCreated,
		ConversationID: conv.ID,
		CustomerID:     conv.CustomerID,
		Actor:          events.ActorFromIdentity(caller),
		Timestamp:      msg.CreatedAt,
		Payload:        events.MessageCreatedPayload{Message: *msg},
	})
	return msg, nil
}

// MarkRead marks every unread message written by the other party as read.
// Repeating the call changes nothing.
func (s *ConversationService) MarkRead(ctx context.Context, caller domain.Identity, id string) (int64, error) {
	conv, err := s.Get(ctx, caller, id)
	if err != nil {
		return 0, err
	}
	updated, err := s.messages.MarkRead(ctx, conv.ID, caller)
	if err != nil {
		return 0, apperrors.MapError(err)
	}
	s.publishEvent(ctx, events.Event{
		Type:           events.EventMessagesRead,
		ConversationID: conv.ID,
		CustomerID:     conv.CustomerID,
		Actor:          events.ActorFromIdentity(caller),
		Payload: events.MessagesReadPayload{
			ReaderID:   caller.ID,
			ReaderType: caller.SenderType(),
			Updated:    updated,
		},
	})
	return updated, nil
}

// Close marks a conversation closed. Only staff may close; closing an
// already closed conversation is a no-op.
func (s *ConversationService) Close(ctx context.Context, caller domain.Identity, id string) (*domain.Conversation, error) {
	if !domain.CanClose(caller) {
		return nil, apperrors.NewForbidden("only staff can close conversations")
	}
	conv, err := s.Get(ctx, caller, id)
	if err != nil {
		return nil, err
	}
	if !conv.IsOpen() {
		return conv, nil
	}
	if err := s.conversations.UpdateStatus(ctx, conv.ID, domain.ConversationStatusClosed); err != nil {
		return nil, mapRepoError(err, "conversation")
	}
	conv.Status = domain.ConversationStatusClosed
	conv.UpdatedAt = time.Now()

	s.publishEvent(ctx, events.Event{
		Type:           events.EventConversationClosed,
		ConversationID: conv.ID,
		CustomerID:     conv.CustomerID,
		Actor:          events.ActorFromIdentity(caller),
		Payload:        events.ConversationStatusPayload{Status: conv.Status},
	})
	return conv, nil
}

// reopenForReply applies the closed-conversation policy for a send.
func (s *ConversationService) reopenForReply(ctx context.Context, caller domain.Identity, conv *domain.Conversation) error {
	if caller.IsStaff() || !s.cfg.ReopenOnCustomerReply {
		return apperrors.NewConflict("conversation is closed", map[string]any{"conversation_id": conv.ID})
	}
	if err := s.conversations.UpdateStatus(ctx, conv.ID, domain.ConversationStatusOpen); err != nil {
		if errors.Is(err, repository.ErrConflict) {
			return apperrors.NewConflict("customer already has an open conversation", map[string]any{"conversation_id": conv.ID})
		}
		return mapRepoError(err, "conversation")
	}
	conv.Status = domain.ConversationStatusOpen

	s.publishEvent(ctx, events.Event{
		Type:           events.EventConversationReopened,
		ConversationID: conv.ID,
		CustomerID:     conv.CustomerID,
		Actor:          events.ActorFromIdentity(caller),
		Payload:        events.ConversationStatusPayload{Status: conv.Status},
	})
	return nil
}

func (s *ConversationService) senderName(caller domain.Identity, conv *domain.Conversation) string {
	if caller.IsStaff() {
		if name := strings.TrimSpace(caller.Name); name != "" {
			return name
		}
		if s.cfg.StaffDisplayName != "" {
			return s.cfg.StaffDisplayName
		}
		return "Hotel Staff"
	}
	for _, candidate := range []string{conv.CustomerName, caller.Name, caller.Email} {
		if name := strings.TrimSpace(candidate); name != "" {
			return name
		}
	}
	return "Guest"
}

func (s *ConversationService) publishEvent(ctx context.Context, event events.Event) {
	if s.dispatcher == nil {
		return
	}
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	if err := s.dispatcher.Publish(ctx, event); err != nil {
		s.logger.Warn("event handlers failed",
			zap.Error(err),
			zap.String("event_type", string(event.Type)),
			zap.String("conversation_id", event.ConversationID))
	}
}

func mapRepoError(err error, resource string) error {
	switch {
	case errors.Is(err, repository.ErrNotFound):
		return apperrors.NewNotFound(resource, nil)
	case errors.Is(err, repository.ErrConflict):
		return apperrors.NewConflict(resource+" conflict", nil)
	default:
		return apperrors.MapError(err)
	}
}

func clampLimit(requested, fallback, ceiling int) int {
	if requested <= 0 {
		requested = fallback
	}
	if ceiling > 0 && requested > ceiling {
		requested = ceiling
	}
	return requested
}
