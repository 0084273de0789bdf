package realtime

import (
	"sync"
	"time"

	"github.com/gofiber/contrib/websocket"
	"github.com/google/uuid"

	"github.com/spec-kit/guest-messaging/internal/domain"
)

const writeWait = 10 * time.Second

// Connection wraps one websocket and serialises outbound writes through a
// buffered queue drained by a single writer goroutine.
type Connection struct {
	id       string
	identity domain.Identity

	ws   *websocket.Conn
	send chan []byte
	done chan struct{}
	once sync.Once
}

func newConnection(ws *websocket.Conn, identity domain.Identity, buffer int) *Connection {
	if buffer <= 0 {
		buffer = 256
	}
	return &Connection{
		id:       uuid.NewString(),
		identity: identity,
		ws:       ws,
		send:     make(chan []byte, buffer),
		done:     make(chan struct{}),
	}
}

// ID implements Subscriber.
func (c *Connection) ID() string { return c.id }

// UserKey implements Subscriber.
func (c *Connection) UserKey() string { return c.identity.Key() }

// Identity returns the authenticated caller behind the socket.
func (c *Connection) Identity() domain.Identity { return c.identity }

// Send implements Subscriber. A client too slow to drain its queue is
// disconnected rather than allowed to stall publishers.
func (c *Connection) Send(frame []byte) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.send <- frame:
		return true
	default:
		go c.Close(websocket.ClosePolicyViolation, "send buffer full")
		return false
	}
}

// Close terminates the connection. Only the first call has an effect and
// it returns after the socket is closed.
func (c *Connection) Close(code int, reason string) {
	c.once.Do(func() {
		close(c.done)
		_ = c.ws.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), time.Now().Add(writeWait))
		_ = c.ws.Close()
	})
}

// Done is closed once the connection is shutting down.
func (c *Connection) Done() <-chan struct{} { return c.done }

func (c *Connection) writeLoop(pingPeriod time.Duration) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case frame := <-c.send:
			if err := c.write(websocket.TextMessage, frame); err != nil {
				c.Close(websocket.CloseInternalServerErr, "write failed")
				return
			}
		case <-ticker.C:
			if err := c.write(websocket.PingMessage, nil); err != nil {
				c.Close(websocket.CloseGoingAway, "ping failed")
				return
			}
		}
	}
}

func (c *Connection) write(messageType int, payload []byte) error {
	if err := c.ws.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	return c.ws.WriteMessage(messageType, payload)
}
