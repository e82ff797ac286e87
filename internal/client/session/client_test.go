package session

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/CH563/web-transfer/internal/hub/signaling"
)

func TestReconnectDelaySchedule(t *testing.T) {
	assert.Equal(t, time.Second, ReconnectDelay(1))
	assert.Equal(t, 2*time.Second, ReconnectDelay(2))
	assert.Equal(t, 4*time.Second, ReconnectDelay(3))
	assert.Equal(t, 8*time.Second, ReconnectDelay(4))
	assert.Equal(t, 16*time.Second, ReconnectDelay(5))
	assert.Equal(t, 30*time.Second, ReconnectDelay(6))
	assert.Equal(t, 30*time.Second, ReconnectDelay(99))
}

// echoHub is a minimal ws endpoint collecting whatever clients send.
type echoHub struct {
	srv      *httptest.Server
	received chan *signaling.Message
}

func newEchoHub(t *testing.T) *echoHub {
	t.Helper()

	h := &echoHub{received: make(chan *signaling.Message, 64)}
	upgrader := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
	h.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for {
			var msg signaling.Message
			if err := conn.ReadJSON(&msg); err != nil {
				return
			}
			if msg.Type == signaling.TypePing {
				conn.WriteJSON(&signaling.Message{
					Type:              signaling.TypePong,
					Timestamp:         time.Now().UnixMilli(),
					OriginalTimestamp: msg.Timestamp,
				})
			}
			h.received <- &msg
		}
	}))
	t.Cleanup(h.srv.Close)
	return h
}

func (h *echoHub) wsURL() string {
	return "ws" + strings.TrimPrefix(h.srv.URL, "http")
}

func (h *echoHub) next(t *testing.T) *signaling.Message {
	t.Helper()

	select {
	case msg := <-h.received:
		return msg
	case <-time.After(2 * time.Second):
		t.Fatal("no message arrived")
		return nil
	}
}

func register() *signaling.Message {
	return &signaling.Message{
		Type:     signaling.TypeDeviceRegister,
		DeviceID: "test-device",
	}
}

func TestConnectSendsRegisterFirst(t *testing.T) {
	hub := newEchoHub(t)

	c := NewClient(hub.wsURL(), register())
	require.NoError(t, c.Connect())
	defer c.Close()

	got := hub.next(t)
	assert.Equal(t, signaling.TypeDeviceRegister, got.Type)
	assert.Equal(t, "test-device", got.DeviceID)
}

func TestQueuedMessagesFlushFIFOAfterRegister(t *testing.T) {
	hub := newEchoHub(t)

	c := NewClient(hub.wsURL(), register())

	// Queued while disconnected; order must survive.
	c.Send(&signaling.Message{Type: signaling.TypeProgress, TransferID: "first"})
	c.Send(&signaling.Message{Type: signaling.TypeProgress, TransferID: "second"})
	c.Send(&signaling.Message{Type: signaling.TypeProgress, TransferID: "third"})

	require.NoError(t, c.Connect())
	defer c.Close()

	assert.Equal(t, signaling.TypeDeviceRegister, hub.next(t).Type)
	assert.Equal(t, "first", hub.next(t).TransferID)
	assert.Equal(t, "second", hub.next(t).TransferID)
	assert.Equal(t, "third", hub.next(t).TransferID)
}

func TestStalePingsAreDroppedNotQueued(t *testing.T) {
	hub := newEchoHub(t)

	c := NewClient(hub.wsURL(), register())

	// Heartbeats fired while disconnected must not survive into the
	// next connection; application traffic must.
	c.Send(&signaling.Message{Type: signaling.TypePing, Timestamp: 1})
	c.Send(&signaling.Message{Type: signaling.TypeProgress, TransferID: "t1"})

	require.NoError(t, c.Connect())
	defer c.Close()

	assert.Equal(t, signaling.TypeDeviceRegister, hub.next(t).Type)
	got := hub.next(t)
	assert.Equal(t, signaling.TypeProgress, got.Type)
	assert.Equal(t, "t1", got.TransferID)
}

func TestRequeueDropsPings(t *testing.T) {
	c := NewClient("ws://unused", register())

	c.requeue(&signaling.Message{Type: signaling.TypePing, Timestamp: 1})
	c.requeue(&signaling.Message{Type: signaling.TypeProgress, TransferID: "t1"})

	c.mu.Lock()
	defer c.mu.Unlock()
	require.Len(t, c.queue, 1)
	assert.Equal(t, "t1", c.queue[0].TransferID)
}

func TestDispatchSplitsUIAndEngineTraffic(t *testing.T) {
	c := NewClient("ws://unused", register())

	var ui, engine []string
	c.OnUIEvent(func(m *signaling.Message) { ui = append(ui, m.Type) })
	c.OnEngineEvent(func(m *signaling.Message) { engine = append(engine, m.Type) })

	c.dispatch(&signaling.Message{Type: signaling.TypeDeviceList})
	c.dispatch(&signaling.Message{Type: signaling.TypeTransferOffer})
	c.dispatch(&signaling.Message{Type: signaling.TypeWebRTCOffer})
	c.dispatch(&signaling.Message{Type: signaling.TypeComplete})
	c.dispatch(&signaling.Message{Type: signaling.TypePong})

	assert.Equal(t, []string{signaling.TypeDeviceList, signaling.TypeTransferOffer}, ui)
	assert.Equal(t, []string{signaling.TypeWebRTCOffer, signaling.TypeComplete}, engine)
}

func TestPongUpdatesRTT(t *testing.T) {
	c := NewClient("ws://unused", register())

	c.dispatch(&signaling.Message{
		Type:              signaling.TypePong,
		OriginalTimestamp: time.Now().Add(-20 * time.Millisecond).UnixMilli(),
	})
	assert.GreaterOrEqual(t, c.RTT(), 20*time.Millisecond)
}

func TestSendAfterCloseIsDropped(t *testing.T) {
	hub := newEchoHub(t)

	c := NewClient(hub.wsURL(), register())
	require.NoError(t, c.Connect())
	hub.next(t) // register

	c.Close()
	c.Send(&signaling.Message{Type: signaling.TypeProgress, TransferID: "late"})

	select {
	case msg := <-hub.received:
		t.Fatalf("unexpected message after close: %s", msg.Type)
	case <-time.After(200 * time.Millisecond):
	}
}
