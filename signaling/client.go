package signaling

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/opd-ai/chamber/identity"
)

// Client is a peer's connection to a signaling Server.
type Client struct {
	self string
	conn *websocket.Conn

	writeMu sync.Mutex

	mu      sync.Mutex
	handler func(Envelope)
	backlog []Envelope

	done chan struct{}
	once sync.Once
}

// WSURL builds the registration URL for self from a base such as
// ws://host:port or http://host:port.
func WSURL(base, self string) (string, error) {
	u, err := url.Parse(strings.TrimRight(base, "/"))
	if err != nil {
		return "", fmt.Errorf("invalid signaling url: %w", err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return "", fmt.Errorf("invalid signaling url scheme %q", u.Scheme)
	}
	u.Path += "/ws"
	u.RawQuery = url.Values{"id": {self}}.Encode()
	return u.String(), nil
}

// Dial registers self with the signaling server at base.
func Dial(ctx context.Context, base, self string) (*Client, error) {
	target, err := WSURL(base, self)
	if err != nil {
		return nil, err
	}

	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, target, nil)
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusConflict {
			return nil, ErrDuplicateID
		}
		return nil, fmt.Errorf("failed to reach signaling server: %w", err)
	}

	c := &Client{self: self, conn: conn, done: make(chan struct{})}
	go c.readLoop()

	logrus.WithFields(logrus.Fields{
		"function": "signaling.Dial",
		"self":     identity.Short(self),
	}).Info("Registered with signaling server")

	return c, nil
}

// Self returns the public ID the client registered as.
func (c *Client) Self() string { return c.self }

// OnEnvelope registers the handler for incoming envelopes. Envelopes that
// arrived earlier are delivered to it first.
func (c *Client) OnEnvelope(fn func(Envelope)) {
	c.mu.Lock()
	c.handler = fn
	backlog := c.backlog
	c.backlog = nil
	c.mu.Unlock()
	for _, env := range backlog {
		fn(env)
	}
}

// Send writes one envelope to the server.
func (c *Client) Send(env Envelope) error {
	select {
	case <-c.done:
		return ErrClientClosed
	default:
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := c.conn.WriteJSON(env); err != nil {
		return fmt.Errorf("failed to send %s envelope: %w", env.Type, err)
	}
	return nil
}

// Done is closed when the connection to the server ends.
func (c *Client) Done() <-chan struct{} { return c.done }

// Close unregisters from the server.
func (c *Client) Close() error {
	c.writeMu.Lock()
	c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
	c.writeMu.Unlock()
	c.shutdown()
	return nil
}

func (c *Client) shutdown() {
	c.once.Do(func() {
		close(c.done)
		c.conn.Close()
	})
}

func (c *Client) readLoop() {
	defer c.shutdown()
	for {
		var env Envelope
		if err := c.conn.ReadJSON(&env); err != nil {
			select {
			case <-c.done:
			default:
				logrus.WithFields(logrus.Fields{
					"function": "Client.readLoop",
					"self":     identity.Short(c.self),
					"error":    err.Error(),
				}).Debug("Signaling connection ended")
			}
			return
		}

		c.mu.Lock()
		fn := c.handler
		if fn == nil {
			c.backlog = append(c.backlog, env)
		}
		c.mu.Unlock()
		if fn != nil {
			fn(env)
		}
	}
}
