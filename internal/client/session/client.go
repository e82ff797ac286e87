// Package session maintains the single persistent connection a client
// holds to the hub: heartbeating, reconnection with bounded backoff,
// and FIFO queueing of messages requested while disconnected.
package session

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/CH563/web-transfer/internal/hub/signaling"
)

const (
	writeWait      = 10 * time.Second
	readWait       = 60 * time.Second
	maxMessageSize = 64 * 1024

	// Application-level heartbeat: ping every heartbeatPeriod, declare
	// the session half-open when no pong arrived within pongDeadline.
	heartbeatPeriod = 30 * time.Second
	pongDeadline    = 60 * time.Second

	maxReconnectAttempts = 5
	maxReconnectDelay    = 30 * time.Second
)

// ReconnectDelay is the capped exponential backoff before reconnect
// attempt n (n starting at 1).
func ReconnectDelay(attempt int) time.Duration {
	d := time.Second << (attempt - 1)
	if d > maxReconnectDelay || d <= 0 {
		return maxReconnectDelay
	}
	return d
}

// Client manages the WebSocket session to the hub. Messages of type
// device-list and transfer-offer are dispatched to the UI subscriber,
// everything else to the engine subscriber.
type Client struct {
	serverURL string

	// register is replayed as the first message of every (re)connect
	// so the hub rebinds presence.
	register *signaling.Message

	onUI     func(*signaling.Message)
	onEngine func(*signaling.Message)

	mu        sync.Mutex
	conn      *websocket.Conn
	connected bool
	queue     []*signaling.Message
	lastPong  time.Time
	rtt       time.Duration
	closed    bool

	// outgoing feeds the writer of the current connection generation.
	outgoing chan *signaling.Message
	done     chan struct{}
}

// NewClient creates a client for the given ws URL and register message.
func NewClient(serverURL string, register *signaling.Message) *Client {
	return &Client{
		serverURL: serverURL,
		register:  register,
		outgoing:  make(chan *signaling.Message, 64),
		done:      make(chan struct{}),
	}
}

// OnUIEvent sets the subscriber for device-list and transfer-offer.
func (c *Client) OnUIEvent(fn func(*signaling.Message)) { c.onUI = fn }

// OnEngineEvent sets the subscriber for every other message.
func (c *Client) OnEngineEvent(fn func(*signaling.Message)) { c.onEngine = fn }

// Connect dials the hub, registers, and starts the session goroutines.
// Reconnection after that is automatic.
func (c *Client) Connect() error {
	conn, err := c.dial()
	if err != nil {
		return fmt.Errorf("connect to hub: %w", err)
	}
	readResult := c.attach(conn)
	go c.supervise(readResult)
	return nil
}

func (c *Client) dial() (*websocket.Conn, error) {
	conn, _, err := websocket.DefaultDialer.Dial(c.serverURL, nil)
	if err != nil {
		return nil, err
	}
	conn.SetReadLimit(maxMessageSize)
	return conn, nil
}

// attach makes conn the live generation: registers, flushes the
// disconnect queue FIFO, and starts the reader, writer and heartbeat.
// The returned channel yields the reader's terminal error.
func (c *Client) attach(conn *websocket.Conn) <-chan error {
	c.mu.Lock()
	c.conn = conn
	c.connected = true
	c.lastPong = time.Now()
	pending := c.queue
	c.queue = nil
	c.mu.Unlock()

	gen := make(chan struct{})
	go c.writePump(conn, gen)
	go c.heartbeat(conn, gen)

	c.enqueue(c.register)
	for _, msg := range pending {
		c.enqueue(msg)
	}

	readResult := make(chan error, 1)
	go func() {
		err := c.readPump(conn)
		close(gen)

		c.mu.Lock()
		if c.conn == conn {
			c.connected = false
		}
		c.mu.Unlock()

		readResult <- err
	}()
	return readResult
}

// supervise waits for the current connection to die and reconnects
// with capped exponential backoff, at most maxReconnectAttempts times.
// Clean closes (1000, 1001) end the session for good.
func (c *Client) supervise(readResult <-chan error) {
	for {
		err := <-readResult
		if c.isClosed() || isCleanClose(err) {
			return
		}

		var conn *websocket.Conn
		for attempt := 1; conn == nil; attempt++ {
			if attempt > maxReconnectAttempts {
				slog.Error("giving up on hub connection", "attempts", maxReconnectAttempts)
				return
			}
			delay := ReconnectDelay(attempt)
			slog.Info("reconnecting to hub", "attempt", attempt, "delay", delay)

			select {
			case <-time.After(delay):
			case <-c.done:
				return
			}

			var dialErr error
			if conn, dialErr = c.dial(); dialErr != nil {
				slog.Warn("redial failed", "attempt", attempt, "err", dialErr)
				conn = nil
			}
		}
		readResult = c.attach(conn)
	}
}

func isCleanClose(err error) bool {
	var closeErr *websocket.CloseError
	if errors.As(err, &closeErr) {
		return closeErr.Code == websocket.CloseNormalClosure || closeErr.Code == websocket.CloseGoingAway
	}
	return false
}

// readPump reads until the connection dies and dispatches inbound
// messages to the subscribers.
func (c *Client) readPump(conn *websocket.Conn) error {
	defer conn.Close()
	conn.SetReadDeadline(time.Now().Add(readWait))

	for {
		var msg signaling.Message
		if err := conn.ReadJSON(&msg); err != nil {
			return err
		}
		conn.SetReadDeadline(time.Now().Add(readWait))
		c.dispatch(&msg)
	}
}

func (c *Client) dispatch(msg *signaling.Message) {
	switch msg.Type {
	case signaling.TypePong:
		c.mu.Lock()
		c.lastPong = time.Now()
		if msg.OriginalTimestamp > 0 {
			c.rtt = time.Since(time.UnixMilli(msg.OriginalTimestamp))
		}
		c.mu.Unlock()

	case signaling.TypeDeviceList, signaling.TypeTransferOffer:
		if c.onUI != nil {
			c.onUI(msg)
		}

	default:
		if c.onEngine != nil {
			c.onEngine(msg)
		}
	}
}

// writePump drains outgoing onto this connection generation.
func (c *Client) writePump(conn *websocket.Conn, gen <-chan struct{}) {
	for {
		select {
		case msg := <-c.outgoing:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(msg); err != nil {
				// Connection is going down; requeue so the message
				// survives the reconnect.
				c.requeue(msg)
				return
			}
		case <-gen:
			return
		case <-c.done:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}

// heartbeat pings the hub and force-closes a half-open connection so
// the supervisor reconnects.
func (c *Client) heartbeat(conn *websocket.Conn, gen <-chan struct{}) {
	ticker := time.NewTicker(heartbeatPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.Send(&signaling.Message{
				Type:      signaling.TypePing,
				Timestamp: time.Now().UnixMilli(),
			})

			c.mu.Lock()
			stale := time.Since(c.lastPong) > pongDeadline
			c.mu.Unlock()
			if stale {
				slog.Warn("no pong from hub, forcing reconnect")
				conn.Close()
				return
			}
		case <-gen:
			return
		case <-c.done:
			return
		}
	}
}

// Send queues a message for the hub. While disconnected, messages are
// held and flushed FIFO once the session reopens.
func (c *Client) Send(msg *signaling.Message) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	if !c.connected {
		// Pings are moment-bound; one queued here would be stale by
		// the time the session reopens.
		if msg.Type != signaling.TypePing {
			c.queue = append(c.queue, msg)
		}
		c.mu.Unlock()
		return
	}
	c.mu.Unlock()
	c.enqueue(msg)
}

// requeue preserves a message that failed to write so it survives the
// reconnect. Pings are generation-bound and dropped instead.
func (c *Client) requeue(msg *signaling.Message) {
	if msg.Type == signaling.TypePing {
		return
	}
	c.mu.Lock()
	c.queue = append(c.queue, msg)
	c.mu.Unlock()
}

func (c *Client) enqueue(msg *signaling.Message) {
	select {
	case c.outgoing <- msg:
	case <-c.done:
	}
}

// RTT returns the last measured heartbeat round-trip.
func (c *Client) RTT() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.rtt
}

func (c *Client) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// Close shuts the session down cleanly. No reconnect follows.
func (c *Client) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	conn := c.conn
	c.mu.Unlock()

	close(c.done)
	if conn != nil {
		// Give the close frame a moment to flush before tearing down.
		time.Sleep(50 * time.Millisecond)
		conn.Close()
	}
}
