package observability

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestMetrics_NilSafe(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.RecordRequest("/x", "GET", 200, time.Millisecond)
		m.RecordError("/x", "GET", "NOT_FOUND")
		m.ConnectionOpened()
		m.ConnectionClosed()
		m.RecordRealtimeEvent("typing", "in")
	})
}

func scrape(t *testing.T, app *fiber.App) string {
	t.Helper()
	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return string(body)
}

func TestMetrics_ExposedThroughFiber(t *testing.T) {
	m := NewMetrics("chat")
	app := fiber.New()
	app.Use(RequestLogger(zap.NewNop(), m))
	app.Get("/api/conversations/:id", func(c *fiber.Ctx) error {
		return c.SendStatus(http.StatusNoContent)
	})
	app.Get("/metrics", adaptor.HTTPHandler(m.Handler()))

	m.ConnectionOpened()
	m.ConnectionOpened()
	m.ConnectionClosed()
	m.RecordRealtimeEvent("send_message", "in")

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/api/conversations/abc", nil))
	require.NoError(t, err)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	body := scrape(t, app)
	assert.Contains(t, body, `chat_http_requests_total{method="GET",route="/api/conversations/:id",status="204"} 1`)
	assert.Contains(t, body, "chat_realtime_connections 1")
	assert.Contains(t, body, `chat_realtime_events_total{direction="in",event="send_message"} 1`)
}
