package signaling

import (
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer. SDP blobs fit easily.
	maxMessageSize = 64 * 1024
)

// Session is a wrapper for a single websocket connection. It stays
// unbound until the client sends device-register; after that DeviceID
// identifies it in the hub's session index.
type Session struct {
	Hub *Hub

	Conn *websocket.Conn

	// DeviceID the session is bound to, empty until register.
	// Only the hub's run loop mutates it.
	DeviceID string

	// Send is the session mailbox. WritePump is the only reader.
	Send chan *Message

	closeOnce sync.Once
}

// close shuts the mailbox down exactly once. WritePump notices the
// closed channel and tears the connection down.
func (s *Session) close() {
	s.closeOnce.Do(func() {
		close(s.Send)
	})
}

// trySend queues a message without blocking. A session that cannot
// keep up loses messages rather than stalling the hub; forwarding is
// best-effort.
func (s *Session) trySend(msg *Message) {
	defer func() {
		// Send raced with close; the session is gone, drop the message.
		recover()
	}()
	select {
	case s.Send <- msg:
	default:
		slog.Warn("session mailbox full, dropping message", "device", s.DeviceID, "type", msg.Type)
	}
}

// ReadPump pumps messages from the websocket connection to the hub.
//
// The application runs ReadPump in a per-connection goroutine. All
// reads happen here so there is at most one reader per connection.
func (s *Session) ReadPump() {
	defer func() {
		s.Hub.Unregister <- s
		s.Conn.Close()
	}()

	s.Conn.SetReadLimit(maxMessageSize)
	s.Conn.SetReadDeadline(time.Now().Add(pongWait))
	s.Conn.SetPongHandler(func(string) error {
		s.Conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := s.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				slog.Error("session read", "err", err)
			}
			return
		}

		var msg Message
		if err := json.Unmarshal(data, &msg); err != nil {
			// Protocol error: one error reply, session stays open, no
			// state is touched.
			s.trySend(&Message{Type: TypeError, Message: "malformed message"})
			continue
		}

		msg.session = s
		s.Hub.Inbound <- &msg
	}
}

// WritePump pumps messages from the session mailbox to the websocket
// connection and keeps the transport-level ping/pong alive.
//
// All writes happen here so there is at most one writer per connection.
func (s *Session) WritePump() {
	ticker := time.NewTicker(pingPeriod)

	defer func() {
		ticker.Stop()
		s.Conn.Close()
	}()

	for {
		select {
		case message, ok := <-s.Send:
			s.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// The hub closed the mailbox.
				s.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := s.Conn.WriteJSON(message); err != nil {
				slog.Error("session write", "err", err)
				return
			}

		case <-ticker.C:
			s.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
