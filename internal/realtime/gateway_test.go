package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"testing"
	"time"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	gws "github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spec-kit/guest-messaging/internal/api/dto"
	"github.com/spec-kit/guest-messaging/internal/auth"
	"github.com/spec-kit/guest-messaging/internal/config"
	"github.com/spec-kit/guest-messaging/internal/domain"
	"github.com/spec-kit/guest-messaging/internal/events"
	"github.com/spec-kit/guest-messaging/internal/repository"
	"github.com/spec-kit/guest-messaging/internal/service"
	apperrors "github.com/spec-kit/guest-messaging/pkg/util/errorutil"
)

const readTimeout = 2 * time.Second

var (
	alice = domain.Identity{ID: 10, Email: "alice@example.com", Name: "Alice", Role: domain.RoleCustomer}
	bob   = domain.Identity{ID: 11, Email: "bob@example.com", Name: "Bob", Role: domain.RoleCustomer}
	desk  = domain.Identity{ID: 1, Email: "desk@example.com", Role: domain.RoleAdmin}
)

type testServer struct {
	url    string
	tokens *auth.TokenManager
	svc    *service.ConversationService
}

func startServer(t *testing.T) *testServer {
	t.Helper()

	store := repository.NewMemoryStore()
	dispatcher := events.NewInMemoryDispatcher()
	svc := service.NewConversationService(service.ConversationDependencies{
		ConversationRepo: store.Conversations(),
		MessageRepo:      store.Messages(),
		Dispatcher:       dispatcher,
		Config: config.ChatConfig{
			MaxMessageLength:    4000,
			DefaultListLimit:    50,
			MaxListLimit:        100,
			DefaultHistoryLimit: 100,
			MaxHistoryLimit:     500,
			JoinSnapshotLimit:   100,
			StaffDisplayName:    "Hotel Staff",
		},
	})
	gw := NewGateway(GatewayDependencies{
		Service: svc,
		Config: config.RealtimeConfig{
			SendBufferSize:       64,
			MaxFrameBytes:        8192,
			PongWaitSeconds:      60,
			OperationTimeoutSecs: 5,
		},
		StaffDisplayName: "Hotel Staff",
	})
	gw.RegisterHandlers(dispatcher)

	tokens := auth.NewTokenManager("gateway-secret", 60)
	app := fiber.New(fiber.Config{DisableStartupMessage: true})
	app.Get("/ws", auth.NewAuthMiddleware(tokens).HandleUpgrade, websocket.New(gw.Serve))

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	go func() { _ = app.Listener(ln) }()
	t.Cleanup(func() { _ = app.ShutdownWithTimeout(time.Second) })

	return &testServer{
		url:    fmt.Sprintf("ws://%s/ws", ln.Addr().String()),
		tokens: tokens,
		svc:    svc,
	}
}

type wsClient struct {
	t      *testing.T
	conn   *gws.Conn
	frames chan Envelope
	// backlog holds frames already read off the socket by sync and not yet
	// consumed by next.
	backlog []Envelope
}

func (s *testServer) connect(t *testing.T, who domain.Identity) *wsClient {
	t.Helper()
	token, _, err := s.tokens.GenerateToken(who)
	require.NoError(t, err)

	conn, resp, err := gws.DefaultDialer.Dial(s.url+"?token="+token, nil)
	require.NoError(t, err)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}

	c := &wsClient{t: t, conn: conn, frames: make(chan Envelope, 128)}
	go func() {
		defer close(c.frames)
		for {
			_, frame, err := conn.ReadMessage()
			if err != nil {
				return
			}
			var env Envelope
			if json.Unmarshal(frame, &env) == nil {
				c.frames <- env
			}
		}
	}()
	t.Cleanup(func() { _ = conn.Close() })

	// keep the presence snapshot sent during attach for next to find
	c.backlog = c.sync()
	return c
}

func (c *wsClient) send(event string, data any) {
	c.t.Helper()
	frame, err := Encode(event, data)
	require.NoError(c.t, err)
	require.NoError(c.t, c.conn.WriteMessage(gws.TextMessage, frame))
}

// next skips frames until one named event arrives.
func (c *wsClient) next(event string) json.RawMessage {
	c.t.Helper()
	for i, env := range c.backlog {
		if env.Event == event {
			c.backlog = c.backlog[i+1:]
			return env.Data
		}
	}
	c.backlog = nil
	deadline := time.After(readTimeout)
	for {
		select {
		case env, ok := <-c.frames:
			require.True(c.t, ok, "connection closed while waiting for %s", event)
			if env.Event == event {
				return env.Data
			}
		case <-deadline:
			require.FailNow(c.t, "timed out waiting for "+event)
		}
	}
}

// sync round-trips an unknown event. The server answers in order, so every
// frame queued before the reply is returned.
func (c *wsClient) sync() []Envelope {
	c.t.Helper()
	c.send("sync", nil)
	seen := c.backlog
	c.backlog = nil
	deadline := time.After(readTimeout)
	for {
		select {
		case env, ok := <-c.frames:
			require.True(c.t, ok, "connection closed during sync")
			if env.Event == EventError {
				var p ErrorPayload
				require.NoError(c.t, json.Unmarshal(env.Data, &p))
				if p.Message == "unknown event sync" {
					return seen
				}
			}
			seen = append(seen, env)
		case <-deadline:
			require.FailNow(c.t, "timed out during sync")
		}
	}
}

func (c *wsClient) join(conversationID string) []dto.MessageResponse {
	c.t.Helper()
	c.send(EventJoinConversation, conversationID)
	var msgs []dto.MessageResponse
	require.NoError(c.t, json.Unmarshal(c.next(EventConversationMessages), &msgs))
	return msgs
}

func countEvents(frames []Envelope, event string) int {
	n := 0
	for _, f := range frames {
		if f.Event == event {
			n++
		}
	}
	return n
}

func openConversation(t *testing.T, s *testServer, who domain.Identity) *domain.Conversation {
	t.Helper()
	conv, _, err := s.svc.CreateOrGet(context.Background(), who, service.CreateConversationInput{})
	require.NoError(t, err)
	return conv
}

func TestGateway_RejectsUnauthenticatedHandshake(t *testing.T) {
	s := startServer(t)

	_, resp, err := gws.DefaultDialer.Dial(s.url, nil)
	require.Error(t, err)
	if resp != nil {
		assert.NotEqual(t, fiber.StatusSwitchingProtocols, resp.StatusCode)
		_ = resp.Body.Close()
	}

	_, resp, err = gws.DefaultDialer.Dial(s.url+"?token=garbage", nil)
	require.Error(t, err)
	if resp != nil {
		_ = resp.Body.Close()
	}
}

func TestGateway_NewMessageReachesCustomerAndStaffOnce(t *testing.T) {
	s := startServer(t)
	conv := openConversation(t, s, alice)

	staff := s.connect(t, desk)
	guest := s.connect(t, alice)
	guest.join(conv.ID)
	// staff joining as well must not duplicate deliveries
	staff.join(conv.ID)

	guest.send(EventSendMessage, SendMessagePayload{ConversationID: conv.ID, Content: "  Need towels  "})

	var got dto.MessageResponse
	require.NoError(t, json.Unmarshal(staff.next(EventNewMessage), &got))
	assert.Equal(t, "Need towels", got.Content)
	assert.Equal(t, domain.SenderTypeCustomer, got.SenderType)
	assert.Equal(t, "Alice", got.SenderName)
	assert.Zero(t, countEvents(staff.sync(), EventNewMessage))

	require.NoError(t, json.Unmarshal(guest.next(EventNewMessage), &got))
	assert.Equal(t, conv.ID, got.ConversationID)
	assert.Zero(t, countEvents(guest.sync(), EventNewMessage))

	staff.send(EventSendMessage, SendMessagePayload{ConversationID: conv.ID, Content: "On the way"})
	require.NoError(t, json.Unmarshal(guest.next(EventNewMessage), &got))
	assert.Equal(t, domain.SenderTypeAdmin, got.SenderType)
	assert.Equal(t, "Hotel Staff", got.SenderName)
}

func TestGateway_CustomerReceivesStaffReplyWithoutJoining(t *testing.T) {
	s := startServer(t)
	conv := openConversation(t, s, alice)
	guest := s.connect(t, alice)

	_, err := s.svc.SendMessage(context.Background(), desk, conv.ID, "Welcome!")
	require.NoError(t, err)

	var got dto.MessageResponse
	require.NoError(t, json.Unmarshal(guest.next(EventNewMessage), &got))
	assert.Equal(t, "Welcome!", got.Content)
}

func TestGateway_TypingExcludesSender(t *testing.T) {
	s := startServer(t)
	conv := openConversation(t, s, alice)

	staff := s.connect(t, desk)
	guest := s.connect(t, alice)
	otherTab := s.connect(t, alice)
	staff.join(conv.ID)
	guest.join(conv.ID)
	otherTab.join(conv.ID)

	guest.send(EventTyping, TypingPayload{ConversationID: conv.ID, IsTyping: true})

	var typing UserTypingPayload
	require.NoError(t, json.Unmarshal(staff.next(EventUserTyping), &typing))
	assert.Equal(t, UserTypingPayload{ConversationID: conv.ID, UserID: alice.ID, UserName: "Alice", IsTyping: true}, typing)

	assert.Zero(t, countEvents(guest.sync(), EventUserTyping))
	assert.Zero(t, countEvents(otherTab.sync(), EventUserTyping))
}

func TestGateway_TypingRequiresJoin(t *testing.T) {
	s := startServer(t)
	conv := openConversation(t, s, alice)
	guest := s.connect(t, alice)

	guest.send(EventTyping, TypingPayload{ConversationID: conv.ID, IsTyping: true})

	var p ErrorPayload
	require.NoError(t, json.Unmarshal(guest.next(EventError), &p))
	assert.Equal(t, apperrors.CodeForbidden, p.Code)
}

func TestGateway_StaffPresence(t *testing.T) {
	s := startServer(t)
	guest := s.connect(t, alice)

	staff := s.connect(t, desk)
	var p AdminPresencePayload
	require.NoError(t, json.Unmarshal(guest.next(EventAdminOnline), &p))
	assert.Equal(t, desk.ID, p.AdminID)

	secondTab := s.connect(t, desk)
	assert.Zero(t, countEvents(guest.sync(), EventAdminOnline))

	latecomer := s.connect(t, bob)
	require.NoError(t, json.Unmarshal(latecomer.next(EventAdminOnline), &p))
	assert.Equal(t, desk.ID, p.AdminID)
	assert.Zero(t, countEvents(latecomer.sync(), EventAdminOnline), "one snapshot per online staff member")

	require.NoError(t, secondTab.conn.Close())
	assert.Zero(t, countEvents(guest.sync(), EventAdminOffline))

	require.NoError(t, staff.conn.Close())
	require.NoError(t, json.Unmarshal(guest.next(EventAdminOffline), &p))
	assert.Equal(t, desk.ID, p.AdminID)
}

func TestGateway_JoinDeniedForOtherCustomer(t *testing.T) {
	s := startServer(t)
	conv := openConversation(t, s, alice)
	intruder := s.connect(t, bob)

	intruder.send(EventJoinConversation, map[string]string{"conversation_id": conv.ID})

	var p ErrorPayload
	require.NoError(t, json.Unmarshal(intruder.next(EventError), &p))
	assert.Equal(t, apperrors.CodeForbidden, p.Code)

	_, err := s.svc.SendMessage(context.Background(), alice, conv.ID, "private")
	require.NoError(t, err)
	assert.Zero(t, countEvents(intruder.sync(), EventNewMessage))
}

func TestGateway_JoinSnapshotMatchesHistory(t *testing.T) {
	s := startServer(t)
	conv := openConversation(t, s, alice)
	ctx := context.Background()
	for i, who := range []domain.Identity{alice, desk, alice} {
		_, err := s.svc.SendMessage(ctx, who, conv.ID, fmt.Sprintf("message %d", i))
		require.NoError(t, err)
	}

	guest := s.connect(t, alice)
	snapshot := guest.join(conv.ID)

	history, err := s.svc.ListMessages(ctx, alice, conv.ID, 0, 0)
	require.NoError(t, err)
	require.Len(t, snapshot, len(history))
	for i := range history {
		assert.Equal(t, history[i].ID, snapshot[i].ID)
		assert.Equal(t, history[i].Content, snapshot[i].Content)
	}
}

func TestGateway_MarkReadNotifiesParticipants(t *testing.T) {
	s := startServer(t)
	conv := openConversation(t, s, alice)
	_, err := s.svc.SendMessage(context.Background(), alice, conv.ID, "hello")
	require.NoError(t, err)

	guest := s.connect(t, alice)
	staff := s.connect(t, desk)
	guest.join(conv.ID)
	staff.join(conv.ID)

	staff.send(EventMarkRead, conv.ID)

	var p MessagesReadPayload
	require.NoError(t, json.Unmarshal(guest.next(EventMessagesRead), &p))
	assert.Equal(t, MessagesReadPayload{ConversationID: conv.ID, ReaderID: desk.ID}, p)
}

func TestGateway_CloseConversation(t *testing.T) {
	s := startServer(t)
	conv := openConversation(t, s, alice)
	guest := s.connect(t, alice)
	staff := s.connect(t, desk)

	guest.send(EventCloseConversation, conv.ID)
	var e ErrorPayload
	require.NoError(t, json.Unmarshal(guest.next(EventError), &e))
	assert.Equal(t, apperrors.CodeForbidden, e.Code)

	staff.send(EventCloseConversation, conv.ID)
	var p ConversationStatusPayload
	require.NoError(t, json.Unmarshal(guest.next(EventConversationClosed), &p))
	assert.Equal(t, conv.ID, p.ConversationID)

	got, err := s.svc.Get(context.Background(), alice, conv.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.ConversationStatusClosed, got.Status)
}

func TestGateway_NewConversationAnnouncedToStaff(t *testing.T) {
	s := startServer(t)
	staff := s.connect(t, desk)

	conv := openConversation(t, s, alice)

	var got dto.ConversationResponse
	require.NoError(t, json.Unmarshal(staff.next(EventNewConversation), &got))
	assert.Equal(t, conv.ID, got.ID)
	assert.Equal(t, alice.ID, got.CustomerID)
}

func TestGateway_ValidationErrors(t *testing.T) {
	s := startServer(t)
	conv := openConversation(t, s, alice)
	guest := s.connect(t, alice)

	require.NoError(t, guest.conn.WriteMessage(gws.TextMessage, []byte("not json")))
	var e ErrorPayload
	require.NoError(t, json.Unmarshal(guest.next(EventError), &e))
	assert.Equal(t, apperrors.CodeValidation, e.Code)

	guest.send(EventSendMessage, SendMessagePayload{ConversationID: conv.ID, Content: "   "})
	require.NoError(t, json.Unmarshal(guest.next(EventError), &e))
	assert.Equal(t, apperrors.CodeValidation, e.Code)

	guest.send(EventJoinConversation, "not-a-uuid")
	require.NoError(t, json.Unmarshal(guest.next(EventError), &e))
	assert.Equal(t, apperrors.CodeNotFound, e.Code)
}
