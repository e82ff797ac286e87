package signaling

import (
	"log/slog"
	"sync"
	"time"

	"github.com/CH563/web-transfer/internal/hub/presence"
	"github.com/CH563/web-transfer/internal/hub/relay"
	"github.com/CH563/web-transfer/internal/hub/store"
)

// Hub routes signaling messages between device sessions and drives
// transfer state transitions. A single Run loop owns all routing
// decisions; per-session mailboxes decouple slow sockets from it.
type Hub struct {
	Registry  *presence.Registry
	Transfers *store.Store
	Relay     *relay.Buffer

	// Register is for new sessions, Unregister for closing ones.
	Register   chan *Session
	Unregister chan *Session

	// Inbound carries every parsed client message.
	Inbound chan *Message

	// sessions indexes bound sessions by device id. The run loop is
	// the only writer; the mutex lets relay handlers read it.
	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewHub wires the hub to its shared services.
func NewHub(registry *presence.Registry, transfers *store.Store, relayBuf *relay.Buffer) *Hub {
	return &Hub{
		Registry:   registry,
		Transfers:  transfers,
		Relay:      relayBuf,
		Register:   make(chan *Session),
		Unregister: make(chan *Session),
		Inbound:    make(chan *Message),
		sessions:   make(map[string]*Session),
	}
}

// Run is the hub's main processing loop. Exactly one goroutine runs
// it; all session binding and message routing is serialized here.
func (h *Hub) Run() {
	for {
		select {
		case sess := <-h.Register:
			slog.Debug("session opened", "remote", sess.Conn.RemoteAddr())

		case sess := <-h.Unregister:
			h.dropSession(sess)

		case msg := <-h.Inbound:
			h.route(msg)
		}
	}
}

// dropSession evicts the device bound to a closing session. Sessions
// that were already replaced by a newer registration leave the newer
// binding alone.
func (h *Hub) dropSession(sess *Session) {
	slog.Debug("session closed", "remote", sess.Conn.RemoteAddr(), "device", sess.DeviceID)

	if sess.DeviceID != "" {
		h.mu.Lock()
		current, ok := h.sessions[sess.DeviceID]
		if ok && current == sess {
			delete(h.sessions, sess.DeviceID)
		}
		h.mu.Unlock()

		if ok && current == sess {
			h.Registry.MarkOffline(sess.DeviceID)
			h.broadcastDeviceList()
		}
	}

	sess.close()
}

func (h *Hub) route(msg *Message) {
	sess := msg.session

	switch msg.Type {
	case TypeDeviceRegister:
		h.handleRegister(sess, msg)

	case TypeDeviceUpdate:
		h.handleUpdate(sess, msg)

	case TypeTransferOffer:
		h.handleOffer(sess, msg)

	case TypeTransferAnswer:
		h.handleAnswer(sess, msg)

	case TypeWebRTCOffer:
		h.forwardToEndpoint(msg, false)

	case TypeWebRTCAnswer:
		h.forwardToEndpoint(msg, true)

	case TypeWebRTCCandidate:
		h.handleCandidate(sess, msg)

	case TypeProgress:
		h.handleProgress(sess, msg)

	case TypeComplete:
		h.handleComplete(sess, msg)

	case TypeTransferError:
		h.handleTransferError(sess, msg)

	case TypePing:
		sess.trySend(&Message{
			Type:              TypePong,
			Timestamp:         time.Now().UnixMilli(),
			OriginalTimestamp: msg.Timestamp,
		})

	default:
		slog.Warn("unknown message type", "type", msg.Type, "device", sess.DeviceID)
	}
}

// handleRegister upserts the device record and binds the session. A
// prior session bound to the same id is closed first so the device id
// maps to at most one session at any moment.
func (h *Hub) handleRegister(sess *Session, msg *Message) {
	if msg.DeviceID == "" {
		sess.trySend(&Message{Type: TypeError, Message: "deviceId is required"})
		return
	}

	h.Registry.Register(msg.DeviceID, msg.DeviceName, msg.DeviceType)

	h.mu.Lock()
	prior := h.sessions[msg.DeviceID]
	h.sessions[msg.DeviceID] = sess
	h.mu.Unlock()

	if prior != nil && prior != sess {
		slog.Info("replacing session", "device", msg.DeviceID)
		prior.DeviceID = ""
		prior.close()
	}
	sess.DeviceID = msg.DeviceID

	sess.trySend(h.deviceListFor(msg.DeviceID))
	h.broadcastDeviceList()
}

func (h *Hub) handleUpdate(sess *Session, msg *Message) {
	if sess.DeviceID == "" {
		sess.trySend(&Message{Type: TypeError, Message: "register first"})
		return
	}

	patch := presence.Patch{}
	if msg.DeviceName != "" {
		patch.Name = &msg.DeviceName
	}
	if msg.Status != "" {
		patch.Status = &msg.Status
	}
	if _, ok := h.Registry.Update(sess.DeviceID, patch); !ok {
		slog.Warn("update for unknown device", "device", sess.DeviceID)
		return
	}
	h.broadcastDeviceList()
}

// handleOffer creates the transfer record and forwards the offer to
// the receiver if it is connected. An offline receiver still gets the
// record: it shows up in the inventory endpoint after reconnect.
func (h *Hub) handleOffer(sess *Session, msg *Message) {
	if sess.DeviceID == "" {
		sess.trySend(&Message{Type: TypeError, Message: "register first"})
		return
	}
	if msg.SenderID == msg.ReceiverID {
		sess.trySend(&Message{Type: TypeError, Message: "sender and receiver must differ"})
		return
	}

	_, err := h.Transfers.Create(store.Transfer{
		ID:         msg.TransferID,
		FileName:   msg.FileName,
		FileSize:   msg.FileSize,
		FileType:   msg.FileType,
		SenderID:   msg.SenderID,
		ReceiverID: msg.ReceiverID,
	})
	if err != nil {
		// Duplicate offer for a known transfer id; the first one won.
		slog.Warn("transfer offer dropped", "transfer", msg.TransferID, "err", err)
		return
	}
	h.Registry.Touch(sess.DeviceID)

	h.SendToDevice(msg.ReceiverID, msg)
}

func (h *Hub) handleAnswer(sess *Session, msg *Message) {
	if msg.Accepted == nil {
		sess.trySend(&Message{Type: TypeError, Message: "accepted is required"})
		return
	}
	t, ok := h.Transfers.Get(msg.TransferID)
	if !ok || sess.DeviceID != t.ReceiverID {
		slog.Warn("transfer answer dropped", "transfer", msg.TransferID, "device", sess.DeviceID)
		return
	}

	status := store.StatusRejected
	if *msg.Accepted {
		status = store.StatusAccepted
	}
	if _, err := h.Transfers.Update(msg.TransferID, store.Patch{Status: status}); err != nil {
		slog.Warn("transfer answer dropped", "transfer", msg.TransferID, "err", err)
		return
	}

	if *msg.Accepted {
		// Authorizes the relay download should the transfer fall back.
		h.Relay.Authorize(msg.TransferID)
	}
	h.Registry.Touch(sess.DeviceID)

	h.SendToDevice(t.SenderID, msg)

	if *msg.Accepted && h.Relay.Processed(msg.TransferID) {
		// The payload already reached the relay: folder batches upload
		// before any answer. Finish the transfer now that the receiver
		// said yes.
		if _, err := h.Transfers.Update(msg.TransferID, store.Patch{Status: store.StatusCompleted}); err == nil {
			h.NotifyTransferComplete(msg.TransferID, t.ReceiverID)
		}
	}
}

// forwardToEndpoint relays a negotiation blob to one endpoint of the
// transfer: the receiver for offers, the sender for answers.
func (h *Hub) forwardToEndpoint(msg *Message, toSender bool) {
	t, ok := h.Transfers.Get(msg.TransferID)
	if !ok {
		slog.Warn("signal for unknown transfer", "type", msg.Type, "transfer", msg.TransferID)
		return
	}
	target := t.ReceiverID
	if toSender {
		target = t.SenderID
	}
	h.SendToDevice(target, msg)
}

// handleCandidate relays an ICE candidate to the other endpoint of
// the transfer, whichever side it came from.
func (h *Hub) handleCandidate(sess *Session, msg *Message) {
	t, ok := h.Transfers.Get(msg.TransferID)
	if !ok {
		slog.Warn("candidate for unknown transfer", "transfer", msg.TransferID)
		return
	}
	target := t.ReceiverID
	if sess.DeviceID == t.ReceiverID {
		target = t.SenderID
	}
	h.SendToDevice(target, msg)
}

// boundToEndpoint reports whether the session is registered as one of
// the transfer's two endpoints. Transfer state only moves on input
// from the devices it belongs to.
func boundToEndpoint(sess *Session, t store.Transfer) bool {
	return sess.DeviceID != "" && (sess.DeviceID == t.SenderID || sess.DeviceID == t.ReceiverID)
}

func (h *Hub) handleProgress(sess *Session, msg *Message) {
	if msg.Progress == nil {
		return
	}
	t, ok := h.Transfers.Get(msg.TransferID)
	if !ok || !boundToEndpoint(sess, t) {
		slog.Warn("progress dropped", "transfer", msg.TransferID, "device", sess.DeviceID)
		return
	}
	status := store.StatusTransferring
	if *msg.Progress >= 100 {
		status = store.StatusCompleted
	}
	if _, err := h.Transfers.Update(msg.TransferID, store.Patch{Status: status, Progress: msg.Progress}); err != nil {
		slog.Warn("progress dropped", "transfer", msg.TransferID, "err", err)
		return
	}
	h.SendToDevice(t.SenderID, msg)
	h.SendToDevice(t.ReceiverID, msg)
}

// handleComplete finalizes the transfer and forwards a single
// completion notice to the receiver, however many times senders or
// retries emit it.
func (h *Hub) handleComplete(sess *Session, msg *Message) {
	t, ok := h.Transfers.Get(msg.TransferID)
	if !ok || !boundToEndpoint(sess, t) {
		slog.Warn("complete dropped", "transfer", msg.TransferID, "device", sess.DeviceID)
		return
	}
	if _, err := h.Transfers.Update(msg.TransferID, store.Patch{Status: store.StatusCompleted}); err != nil {
		t2, ok := h.Transfers.Get(msg.TransferID)
		if !ok || t2.Status != store.StatusCompleted {
			slog.Warn("complete dropped", "transfer", msg.TransferID, "err", err)
			return
		}
	}
	if h.Transfers.MarkCompleteNotified(msg.TransferID) {
		h.SendToDevice(t.ReceiverID, msg)
	}
}

func (h *Hub) handleTransferError(sess *Session, msg *Message) {
	t, ok := h.Transfers.Get(msg.TransferID)
	if !ok || !boundToEndpoint(sess, t) {
		slog.Warn("transfer error dropped", "transfer", msg.TransferID, "device", sess.DeviceID)
		return
	}
	if _, err := h.Transfers.Update(msg.TransferID, store.Patch{Status: store.StatusFailed}); err != nil {
		slog.Warn("transfer error dropped", "transfer", msg.TransferID, "err", err)
		return
	}
	h.SendToDevice(t.SenderID, msg)
	h.SendToDevice(t.ReceiverID, msg)
}

// SendToDevice queues a message for the session bound to a device id.
// Unroutable recipients are ignored silently; callers that care check
// the return value. Safe to call from any goroutine.
func (h *Hub) SendToDevice(deviceID string, msg *Message) bool {
	h.mu.RLock()
	sess, ok := h.sessions[deviceID]
	h.mu.RUnlock()

	if !ok {
		return false
	}
	sess.trySend(msg)
	return true
}

// NotifyTransferComplete pushes a transfer-complete to the receiver on
// behalf of the relay upload handler, at most once per transfer.
func (h *Hub) NotifyTransferComplete(transferID, receiverID string) {
	if !h.Transfers.MarkCompleteNotified(transferID) {
		return
	}
	progress := 100
	h.SendToDevice(receiverID, &Message{
		Type:       TypeComplete,
		TransferID: transferID,
		ReceiverID: receiverID,
		Progress:   &progress,
	})
}

// OfferToReceiver synthesizes a transfer-offer for uploads that reach
// the relay without a prior signaling offer (folder batches). The
// receiver still accepts or declines through the normal flow.
func (h *Hub) OfferToReceiver(t store.Transfer) {
	h.SendToDevice(t.ReceiverID, &Message{
		Type:       TypeTransferOffer,
		TransferID: t.ID,
		FileName:   t.FileName,
		FileSize:   t.FileSize,
		FileType:   t.FileType,
		SenderID:   t.SenderID,
		ReceiverID: t.ReceiverID,
	})
}

// deviceListFor builds a device-list that omits the addressee's own
// record.
func (h *Hub) deviceListFor(deviceID string) *Message {
	return &Message{
		Type:    TypeDeviceList,
		Devices: h.Registry.ListReachable(deviceID),
	}
}

// broadcastDeviceList pushes a fresh, per-client device list to every
// bound session.
func (h *Hub) broadcastDeviceList() {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for id, sess := range h.sessions {
		sess.trySend(h.deviceListFor(id))
	}
}
