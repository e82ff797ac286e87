// Package engine drives transfers on a client: per-transfer state
// machines for offer, acceptance, peer negotiation, streaming, and
// the relay fallback when the direct path cannot be established.
package engine

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	pion "github.com/pion/webrtc/v4"

	"github.com/CH563/web-transfer/internal/client/config"
	"github.com/CH563/web-transfer/internal/client/session"
	"github.com/CH563/web-transfer/internal/hub/signaling"
)

// State of a single transfer on this client.
type State string

const (
	StatePending      State = "pending"
	StateConnecting   State = "connecting"
	StateConnected    State = "connected"
	StateTransferring State = "transferring"
	StateCompleted    State = "completed"
	StateFailed       State = "failed"
	StateRejected     State = "rejected"
)

// Terminal reports whether no further state changes are allowed.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateFailed || s == StateRejected
}

// Timeouts and guard cool-downs.
const (
	negotiationTimeout = 3 * time.Second
	fallbackCooldown   = 5 * time.Second
	downloadCooldown   = 30 * time.Second
)

// SaveHandler receives the reassembled bytes of a completed inbound
// transfer, exactly once per transfer.
type SaveHandler func(fileName, relativePath string, data []byte) error

// Notify reports a transfer's state and progress to the UI layer.
type Notify func(transferID string, state State, progress int)

// transfer is the per-transfer state machine instance.
type transfer struct {
	id         string
	fileName   string
	fileSize   int64
	fileType   string
	senderID   string
	receiverID string
	outbound   bool

	state    State
	progress int

	// sender side
	data     []byte
	answerCh chan bool
	doneCh   chan error

	// receiver side
	chunks      [][]byte
	totalChunks int
	received    int
	accepted    bool
	gotPeerData bool
	relPath     string

	pc *pion.PeerConnection
	dc *pion.DataChannel

	// pendingCandidates buffers remote candidates that arrive before
	// the remote description is applied.
	pendingCandidates []json.RawMessage
	remoteSet         bool

	// Sticky duplicate-suppression flags. Cleared on terminal state or
	// after their cool-down.
	negotiationStarted bool
	fallbackStarted    bool
	downloadStarted    bool
}

// Engine coordinates all transfers for one device. All exported
// methods are safe for concurrent use; the engine serializes state
// behind one mutex, and everything slow happens on its own goroutine.
type Engine struct {
	cfg  *config.Config
	sess *session.Client
	http *http.Client

	save   SaveHandler
	notify Notify

	mu        sync.Mutex
	transfers map[string]*transfer
}

// New creates an engine bound to a hub session.
func New(cfg *config.Config, sess *session.Client, save SaveHandler, notify Notify) *Engine {
	e := &Engine{
		cfg:       cfg,
		sess:      sess,
		http:      &http.Client{},
		save:      save,
		notify:    notify,
		transfers: make(map[string]*transfer),
	}
	sess.OnEngineEvent(e.handleMessage)
	return e
}

func (e *Engine) get(id string) (*transfer, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	t, ok := e.transfers[id]
	return t, ok
}

// setState moves a transfer forward. Terminal states are sticky:
// later transitions are ignored, so completion and failure cannot
// race each other into a double notification.
func (e *Engine) setState(t *transfer, state State) bool {
	e.mu.Lock()
	if t.state.Terminal() {
		e.mu.Unlock()
		return false
	}
	t.state = state
	if state == StateCompleted {
		t.progress = 100
	}
	if state.Terminal() {
		t.negotiationStarted = false
		t.fallbackStarted = false
		t.downloadStarted = false
	}
	progress := t.progress
	e.mu.Unlock()

	if e.notify != nil {
		e.notify(t.id, state, progress)
	}
	return true
}

// setProgress max-merges progress; server pushes and local updates
// both land here and the value never moves backwards.
func (e *Engine) setProgress(t *transfer, progress int) {
	e.mu.Lock()
	if t.state.Terminal() || progress <= t.progress {
		e.mu.Unlock()
		return
	}
	t.progress = min(progress, 100)
	state := t.state
	progress = t.progress
	e.mu.Unlock()

	if e.notify != nil {
		e.notify(t.id, state, progress)
	}
}

// handleMessage is the engine's inbound dispatch, fed by the session
// client with everything that is not a UI event.
func (e *Engine) handleMessage(msg *signaling.Message) {
	switch msg.Type {
	case signaling.TypeTransferAnswer:
		e.handleAnswer(msg)

	case signaling.TypeWebRTCOffer:
		go e.handlePeerOffer(msg)

	case signaling.TypeWebRTCAnswer:
		e.handlePeerAnswer(msg)

	case signaling.TypeWebRTCCandidate:
		e.handleCandidate(msg)

	case signaling.TypeProgress:
		if t, ok := e.get(msg.TransferID); ok && msg.Progress != nil {
			e.setProgress(t, *msg.Progress)
		}

	case signaling.TypeComplete:
		e.handleComplete(msg)

	case signaling.TypeTransferError:
		if t, ok := e.get(msg.TransferID); ok {
			e.setState(t, StateFailed)
			e.finish(t, ErrRelayFailed)
		}

	case signaling.TypeError:
		slog.Warn("hub error", "message", msg.Message)

	default:
		slog.Debug("unhandled message", "type", msg.Type)
	}
}

// finish delivers the terminal result to a waiting sender, once.
func (e *Engine) finish(t *transfer, err error) {
	if t.doneCh == nil {
		return
	}
	select {
	case t.doneCh <- err:
	default:
	}
}

// closePeer tears down the peer connection quietly.
func closePeer(t *transfer) {
	if t.dc != nil {
		t.dc.Close()
	}
	if t.pc != nil {
		t.pc.Close()
	}
}
