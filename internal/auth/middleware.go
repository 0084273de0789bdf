package auth

import (
	"strings"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/guest-messaging/internal/domain"
	apperrors "github.com/spec-kit/guest-messaging/pkg/util/errorutil"
)

// IdentityKey is the fiber Locals key holding the authenticated identity.
// It is a plain string so the websocket upgrade copies it onto the socket.
const IdentityKey = "auth_identity"

// AuthMiddleware validates bearer tokens and stores the caller identity.
type AuthMiddleware struct {
	tokens *TokenManager
}

// NewAuthMiddleware constructs middleware.
func NewAuthMiddleware(tokens *TokenManager) *AuthMiddleware {
	return &AuthMiddleware{tokens: tokens}
}

// Handle enforces authentication for protected REST routes.
func (m *AuthMiddleware) Handle(c *fiber.Ctx) error {
	authHeader := c.Get(fiber.HeaderAuthorization)
	if authHeader == "" {
		return apperrors.NewUnauthorized("missing authorization header")
	}
	token, ok := bearerToken(authHeader)
	if !ok {
		return apperrors.NewUnauthorized("invalid authorization header")
	}
	return m.authenticate(c, token)
}

// HandleUpgrade gates the websocket handshake. The token may arrive as a
// bearer header or as the token query parameter, since browsers cannot set
// headers on websocket requests. Rejected handshakes are never upgraded.
func (m *AuthMiddleware) HandleUpgrade(c *fiber.Ctx) error {
	if !websocket.IsWebSocketUpgrade(c) {
		return fiber.ErrUpgradeRequired
	}
	token := strings.TrimSpace(c.Query("token"))
	if token == "" {
		if header := c.Get(fiber.HeaderAuthorization); header != "" {
			token, _ = bearerToken(header)
		}
	}
	if token == "" {
		return apperrors.NewUnauthorized("missing token")
	}
	return m.authenticate(c, token)
}

func (m *AuthMiddleware) authenticate(c *fiber.Ctx, token string) error {
	claims, err := m.tokens.ParseToken(token)
	if err != nil {
		return apperrors.NewUnauthorized("invalid token")
	}
	identity := claims.Identity()
	c.Locals(IdentityKey, &identity)
	return c.Next()
}

func bearerToken(header string) (string, bool) {
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return "", false
	}
	token := strings.TrimSpace(parts[1])
	return token, token != ""
}

// IdentityFromContext retrieves the authenticated caller of a REST request.
func IdentityFromContext(c *fiber.Ctx) (*domain.Identity, bool) {
	return identityFromValue(c.Locals(IdentityKey))
}

// IdentityFromConn retrieves the caller bound to an upgraded websocket.
func IdentityFromConn(conn *websocket.Conn) (*domain.Identity, bool) {
	return identityFromValue(conn.Locals(IdentityKey))
}

func identityFromValue(val interface{}) (*domain.Identity, bool) {
	if val == nil {
		return nil, false
	}
	identity, ok := val.(*domain.Identity)
	return identity, ok && identity != nil
}
