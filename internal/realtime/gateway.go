package realtime

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/gofiber/contrib/websocket"
	"go.uber.org/zap"

	"github.com/spec-kit/guest-messaging/internal/api/dto"
	"github.com/spec-kit/guest-messaging/internal/auth"
	"github.com/spec-kit/guest-messaging/internal/config"
	"github.com/spec-kit/guest-messaging/internal/domain"
	"github.com/spec-kit/guest-messaging/internal/events"
	"github.com/spec-kit/guest-messaging/internal/observability"
	apperrors "github.com/spec-kit/guest-messaging/pkg/util/errorutil"
)

// ConversationService is the part of the conversation service the gateway
// drives. Every state change goes through it.
type ConversationService interface {
	Get(ctx context.Context, caller domain.Identity, id string) (*domain.Conversation, error)
	RecentMessages(ctx context.Context, caller domain.Identity, id string) (*domain.Conversation, []domain.Message, error)
	SendMessage(ctx context.Context, caller domain.Identity, id, content string) (*domain.Message, error)
	MarkRead(ctx context.Context, caller domain.Identity, id string) (int64, error)
	Close(ctx context.Context, caller domain.Identity, id string) (*domain.Conversation, error)
}

// Gateway serves authenticated websocket connections and fans domain
// events out to them.
type Gateway struct {
	service  ConversationService
	topics   *Topics
	broker   Broker
	presence Presence
	cfg      config.RealtimeConfig
	logger   *zap.Logger
	metrics  *observability.Metrics

	staffName string
}

// GatewayDependencies bundles collaborators for the gateway.
type GatewayDependencies struct {
	Service  ConversationService
	Topics   *Topics
	Broker   Broker
	Presence Presence
	Config   config.RealtimeConfig
	Logger   *zap.Logger
	Metrics  *observability.Metrics
	// StaffDisplayName labels typing indicators of staff without a name.
	StaffDisplayName string
}

// NewGateway constructs a gateway. Missing topics, broker or presence fall
// back to single-instance implementations.
func NewGateway(deps GatewayDependencies) *Gateway {
	g := &Gateway{
		service:  deps.Service,
		topics:   deps.Topics,
		broker:   deps.Broker,
		presence: deps.Presence,
		cfg:      deps.Config,
		logger:   deps.Logger,
		metrics:  deps.Metrics,

		staffName: deps.StaffDisplayName,
	}
	if g.topics == nil {
		g.topics = NewTopics()
	}
	if g.broker == nil {
		g.broker = NewLocalBroker(g.topics)
	}
	if g.presence == nil {
		g.presence = NewMemoryPresence()
	}
	if g.logger == nil {
		g.logger = zap.NewNop()
	}
	return g
}

// Serve runs one websocket connection until it disconnects. The socket
// must have passed the authentication gate.
func (g *Gateway) Serve(ws *websocket.Conn) {
	identity, ok := auth.IdentityFromConn(ws)
	if !ok {
		_ = ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "unauthenticated"),
			time.Now().Add(writeWait))
		return
	}

	conn := newConnection(ws, *identity, g.cfg.SendBufferSize)
	logger := g.logger.With(zap.String("connection_id", conn.ID()), zap.String("identity", identity.Key()))

	pongWait := g.cfg.PongWait()
	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		conn.writeLoop(pongWait * 9 / 10)
	}()

	g.attach(conn)
	g.metrics.ConnectionOpened()
	logger.Debug("realtime connection opened")

	defer func() {
		g.detach(conn)
		conn.Close(websocket.CloseNormalClosure, "")
		<-writerDone
		g.metrics.ConnectionClosed()
		logger.Debug("realtime connection closed")
	}()

	g.readLoop(conn, pongWait, logger)
}

func (g *Gateway) readLoop(conn *Connection, pongWait time.Duration, logger *zap.Logger) {
	ws := conn.ws
	if g.cfg.MaxFrameBytes > 0 {
		ws.SetReadLimit(g.cfg.MaxFrameBytes)
	}
	_ = ws.SetReadDeadline(time.Now().Add(pongWait))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		messageType, frame, err := ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				logger.Debug("realtime read failed", zap.Error(err))
			}
			return
		}
		_ = ws.SetReadDeadline(time.Now().Add(pongWait))
		if messageType != websocket.TextMessage {
			continue
		}
		g.handleFrame(conn, frame)
	}
}

// attach subscribes a new connection to its standing topics and announces
// staff presence.
func (g *Gateway) attach(conn *Connection) {
	identity := conn.Identity()
	g.topics.Subscribe(UserTopic(conn.UserKey()), conn)
	g.topics.Subscribe(TopicAll, conn)

	ctx, cancel := context.WithTimeout(context.Background(), g.cfg.OperationTimeout())
	defer cancel()

	if identity.IsStaff() {
		g.topics.Subscribe(TopicStaff, conn)
		first, err := g.presence.StaffConnected(ctx, identity.ID)
		if err != nil {
			g.logger.Warn("presence update failed", zap.Error(err), zap.Int64("staff_id", identity.ID))
		}
		if first {
			g.broadcast(ctx, EventAdminOnline, AdminPresencePayload{AdminID: identity.ID}, "", TopicAll)
		}
		return
	}

	online, err := g.presence.OnlineStaff(ctx)
	if err != nil {
		g.logger.Warn("presence lookup failed", zap.Error(err))
		return
	}
	for _, staffID := range online {
		g.sendTo(conn, EventAdminOnline, AdminPresencePayload{AdminID: staffID})
	}
}

func (g *Gateway) detach(conn *Connection) {
	g.topics.UnsubscribeAll(conn)

	identity := conn.Identity()
	if !identity.IsStaff() {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), g.cfg.OperationTimeout())
	defer cancel()
	last, err := g.presence.StaffDisconnected(ctx, identity.ID)
	if err != nil {
		g.logger.Warn("presence update failed", zap.Error(err), zap.Int64("staff_id", identity.ID))
	}
	if last {
		g.broadcast(ctx, EventAdminOffline, AdminPresencePayload{AdminID: identity.ID}, "", TopicAll)
	}
}

func (g *Gateway) handleFrame(conn *Connection, frame []byte) {
	env, err := Decode(frame)
	if err != nil {
		g.sendError(conn, apperrors.NewValidationError("malformed frame", nil))
		return
	}
	g.metrics.RecordRealtimeEvent(env.Event, "in")

	ctx, cancel := context.WithTimeout(context.Background(), g.cfg.OperationTimeout())
	defer cancel()

	switch env.Event {
	case EventJoinConversation:
		err = g.handleJoin(ctx, conn, env.Data)
	case EventLeaveConversation:
		err = g.handleLeave(conn, env.Data)
	case EventSendMessage:
		err = g.handleSend(ctx, conn, env.Data)
	case EventTyping:
		err = g.handleTyping(ctx, conn, env.Data)
	case EventMarkRead:
		err = g.handleMarkRead(ctx, conn, env.Data)
	case EventCloseConversation:
		err = g.handleClose(ctx, conn, env.Data)
	default:
		err = apperrors.NewValidationError("unknown event "+env.Event, nil)
	}
	if err != nil {
		g.sendError(conn, err)
	}
}

func (g *Gateway) handleJoin(ctx context.Context, conn *Connection, data json.RawMessage) error {
	id, err := conversationID(data)
	if err != nil {
		return err
	}
	if _, err := g.service.Get(ctx, conn.Identity(), id); err != nil {
		return err
	}
	// subscribe before reading the snapshot so nothing sent in between is lost
	g.topics.Subscribe(ConversationTopic(id), conn)
	_, msgs, err := g.service.RecentMessages(ctx, conn.Identity(), id)
	if err != nil {
		g.topics.Unsubscribe(ConversationTopic(id), conn)
		return err
	}
	g.sendTo(conn, EventConversationMessages, dto.NewMessageResponses(msgs))
	return nil
}

func (g *Gateway) handleLeave(conn *Connection, data json.RawMessage) error {
	id, err := conversationID(data)
	if err != nil {
		return err
	}
	g.topics.Unsubscribe(ConversationTopic(id), conn)
	return nil
}

func (g *Gateway) handleSend(ctx context.Context, conn *Connection, data json.RawMessage) error {
	var payload SendMessagePayload
	if err := json.Unmarshal(data, &payload); err != nil {
		return apperrors.NewValidationError("invalid send_message payload", nil)
	}
	if strings.TrimSpace(payload.ConversationID) == "" {
		return apperrors.NewValidationError("conversation_id required", nil)
	}
	_, err := g.service.SendMessage(ctx, conn.Identity(), payload.ConversationID, payload.Content)
	return err
}

func (g *Gateway) handleTyping(ctx context.Context, conn *Connection, data json.RawMessage) error {
	var payload TypingPayload
	if err := json.Unmarshal(data, &payload); err != nil {
		return apperrors.NewValidationError("invalid typing payload", nil)
	}
	topic := ConversationTopic(payload.ConversationID)
	if payload.ConversationID == "" || !g.topics.IsSubscribed(topic, conn) {
		return apperrors.NewForbidden("join the conversation before typing")
	}
	identity := conn.Identity()
	name := identity.Name
	if name == "" && identity.IsStaff() {
		name = g.staffName
	}
	g.broadcast(ctx, EventUserTyping, UserTypingPayload{
		ConversationID: payload.ConversationID,
		UserID:         identity.ID,
		UserName:       name,
		IsTyping:       payload.IsTyping,
	}, conn.UserKey(), topic)
	return nil
}

func (g *Gateway) handleMarkRead(ctx context.Context, conn *Connection, data json.RawMessage) error {
	id, err := conversationID(data)
	if err != nil {
		return err
	}
	_, err = g.service.MarkRead(ctx, conn.Identity(), id)
	return err
}

func (g *Gateway) handleClose(ctx context.Context, conn *Connection, data json.RawMessage) error {
	if !domain.CanClose(conn.Identity()) {
		return apperrors.NewForbidden("only staff can close conversations")
	}
	id, err := conversationID(data)
	if err != nil {
		return err
	}
	_, err = g.service.Close(ctx, conn.Identity(), id)
	return err
}

// RegisterHandlers subscribes the gateway to domain events so that REST and
// realtime writes fan out identically.
func (g *Gateway) RegisterHandlers(dispatcher events.Dispatcher) {
	dispatcher.Subscribe(events.EventMessageCreated, g.onMessageCreated)
	dispatcher.Subscribe(events.EventMessagesRead, g.onMessagesRead)
	dispatcher.Subscribe(events.EventConversationClosed, g.onConversationClosed)
	dispatcher.Subscribe(events.EventConversationReopened, g.onConversationReopened)
	dispatcher.Subscribe(events.EventConversationCreated, g.onConversationCreated)
}

func (g *Gateway) onMessageCreated(ctx context.Context, event events.Event) error {
	payload, ok := event.Payload.(events.MessageCreatedPayload)
	if !ok {
		return nil
	}
	msg := payload.Message
	topics := []string{ConversationTopic(event.ConversationID)}
	if msg.SenderType == domain.SenderTypeCustomer {
		topics = append(topics, TopicStaff)
	} else {
		topics = append(topics, CustomerTopic(event.CustomerID))
	}
	return g.broadcast(ctx, EventNewMessage, dto.NewMessageResponse(&msg), "", topics...)
}

func (g *Gateway) onMessagesRead(ctx context.Context, event events.Event) error {
	payload, ok := event.Payload.(events.MessagesReadPayload)
	if !ok {
		return nil
	}
	return g.broadcast(ctx, EventMessagesRead, MessagesReadPayload{
		ConversationID: event.ConversationID,
		ReaderID:       payload.ReaderID,
	}, "", ConversationTopic(event.ConversationID))
}

func (g *Gateway) onConversationClosed(ctx context.Context, event events.Event) error {
	return g.broadcast(ctx, EventConversationClosed,
		ConversationStatusPayload{ConversationID: event.ConversationID}, "",
		ConversationTopic(event.ConversationID), CustomerTopic(event.CustomerID))
}

func (g *Gateway) onConversationReopened(ctx context.Context, event events.Event) error {
	return g.broadcast(ctx, EventConversationReopened,
		ConversationStatusPayload{ConversationID: event.ConversationID}, "",
		ConversationTopic(event.ConversationID), TopicStaff)
}

func (g *Gateway) onConversationCreated(ctx context.Context, event events.Event) error {
	payload, ok := event.Payload.(events.ConversationCreatedPayload)
	if !ok {
		return nil
	}
	return g.broadcast(ctx, EventNewConversation, dto.NewConversationResponse(&payload.Conversation), "", TopicStaff)
}

func (g *Gateway) broadcast(ctx context.Context, event string, data any, excludeUserKey string, topics ...string) error {
	frame, err := Encode(event, data)
	if err != nil {
		return err
	}
	g.metrics.RecordRealtimeEvent(event, "out")
	if err := g.broker.Publish(ctx, Delivery{Topics: topics, ExcludeUserKey: excludeUserKey, Frame: frame}); err != nil {
		g.logger.Warn("realtime publish failed", zap.Error(err), zap.String("event", event))
		return err
	}
	return nil
}

func (g *Gateway) sendTo(conn *Connection, event string, data any) {
	frame, err := Encode(event, data)
	if err != nil {
		g.logger.Error("encode realtime frame", zap.Error(err), zap.String("event", event))
		return
	}
	g.metrics.RecordRealtimeEvent(event, "out")
	conn.Send(frame)
}

func (g *Gateway) sendError(conn *Connection, err error) {
	de := apperrors.ToDomainError(err)
	if de.HTTPStatus >= 500 {
		g.logger.Error("realtime operation failed", zap.Error(err), zap.String("connection_id", conn.ID()))
	}
	g.sendTo(conn, EventError, ErrorPayload{Message: de.Message, Code: de.Code})
}

func conversationID(data json.RawMessage) (string, error) {
	var ref ConversationRef
	if len(data) == 0 || json.Unmarshal(data, &ref) != nil {
		return "", apperrors.NewValidationError("conversation_id required", nil)
	}
	id := strings.TrimSpace(ref.ConversationID)
	if id == "" {
		return "", apperrors.NewValidationError("conversation_id required", nil)
	}
	return id, nil
}
