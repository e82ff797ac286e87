package engine

import (
	"log/slog"

	pion "github.com/pion/webrtc/v4"

	"github.com/CH563/web-transfer/internal/hub/signaling"
)

// Offer describes an inbound transfer awaiting the user's decision.
type Offer struct {
	TransferID string
	FileName   string
	FileSize   int64
	FileType   string
	SenderID   string
}

// RegisterOffer records an inbound transfer-offer surfaced by the UI
// layer. The engine refuses peer negotiation for ids it never saw.
func (e *Engine) RegisterOffer(msg *signaling.Message) Offer {
	t := &transfer{
		id:         msg.TransferID,
		fileName:   msg.FileName,
		fileSize:   msg.FileSize,
		fileType:   msg.FileType,
		senderID:   msg.SenderID,
		receiverID: msg.ReceiverID,
		state:      StatePending,
	}

	e.mu.Lock()
	if existing, ok := e.transfers[t.id]; ok {
		// Duplicate offer; keep the original state machine.
		t = existing
	} else {
		e.transfers[t.id] = t
	}
	e.mu.Unlock()

	return Offer{
		TransferID: t.id,
		FileName:   t.fileName,
		FileSize:   t.fileSize,
		FileType:   t.fileType,
		SenderID:   t.senderID,
	}
}

// Accept answers an offer positively and arms the receive path.
func (e *Engine) Accept(transferID string) error {
	t, ok := e.get(transferID)
	if !ok {
		return ErrUnknownTransfer
	}

	e.mu.Lock()
	t.accepted = true
	e.mu.Unlock()

	accepted := true
	e.sess.Send(&signaling.Message{
		Type:       signaling.TypeTransferAnswer,
		TransferID: transferID,
		SenderID:   t.senderID,
		ReceiverID: t.receiverID,
		Accepted:   &accepted,
	})
	return nil
}

// Reject declines an offer and drops the transfer.
func (e *Engine) Reject(transferID string) error {
	t, ok := e.get(transferID)
	if !ok {
		return ErrUnknownTransfer
	}

	accepted := false
	e.sess.Send(&signaling.Message{
		Type:       signaling.TypeTransferAnswer,
		TransferID: transferID,
		SenderID:   t.senderID,
		ReceiverID: t.receiverID,
		Accepted:   &accepted,
	})
	e.setState(t, StateRejected)
	return nil
}

// handlePeerOffer answers the sender's SDP offer. Negotiation is
// refused for transfers the engine does not know or the user did not
// accept.
func (e *Engine) handlePeerOffer(msg *signaling.Message) {
	t, ok := e.get(msg.TransferID)
	if !ok {
		slog.Warn("refusing negotiation for unknown transfer", "transfer", msg.TransferID)
		return
	}
	e.mu.Lock()
	refused := !t.accepted || t.negotiationStarted || t.state.Terminal()
	if !refused {
		t.negotiationStarted = true
	}
	e.mu.Unlock()
	if refused {
		return
	}
	e.setState(t, StateConnecting)

	pc, err := NewPeerConnection(e.cfg)
	if err != nil {
		slog.Warn("peer connection failed, waiting for relay", "transfer", t.id, "err", err)
		return
	}

	e.mu.Lock()
	t.pc = pc
	e.mu.Unlock()

	forwardCandidates(pc, e.sess.Send, t.id)

	pc.OnDataChannel(func(dc *pion.DataChannel) {
		e.mu.Lock()
		t.dc = dc
		e.mu.Unlock()

		dc.OnOpen(func() {
			e.setState(t, StateConnected)
		})
		dc.OnMessage(func(m pion.DataChannelMessage) {
			e.handleChannelData(t, m.Data)
		})
	})

	offer, err := decodeDescription(msg.Offer)
	if err != nil {
		slog.Warn("bad peer offer", "transfer", t.id, "err", err)
		return
	}
	answer, err := CreateAnswer(pc, offer)
	if err != nil {
		slog.Warn("answer failed, waiting for relay", "transfer", t.id, "err", err)
		return
	}
	e.flushCandidates(t)

	raw, err := encodeDescription(answer)
	if err != nil {
		return
	}
	e.sess.Send(&signaling.Message{
		Type:       signaling.TypeWebRTCAnswer,
		TransferID: t.id,
		Answer:     raw,
	})
}

// handleChannelData consumes one data channel frame on the receiver.
func (e *Engine) handleChannelData(t *transfer, data []byte) {
	env, err := ParseEnvelope(data)
	if err != nil {
		slog.Warn("bad frame", "transfer", t.id, "err", err)
		return
	}

	switch env.Type {
	case envelopeMetadata:
		e.mu.Lock()
		t.gotPeerData = true
		t.totalChunks = env.TotalChunks
		t.chunks = make([][]byte, env.TotalChunks)
		t.received = 0
		if env.FileName != "" {
			t.fileName = env.FileName
		}
		e.mu.Unlock()
		e.setState(t, StateTransferring)
		if env.TotalChunks == 0 {
			// Zero-byte file: no chunks will follow.
			e.completeReceive(t)
		}

	case envelopeChunk:
		e.acceptChunk(t, env)

	default:
		slog.Warn("unknown frame type", "transfer", t.id, "type", env.Type)
	}
}

func (e *Engine) acceptChunk(t *transfer, env Envelope) {
	e.mu.Lock()
	if t.chunks == nil || env.Index < 0 || env.Index >= len(t.chunks) {
		e.mu.Unlock()
		slog.Warn("chunk out of range", "transfer", t.id, "index", env.Index)
		return
	}
	if t.chunks[env.Index] == nil {
		t.received++
	}
	t.chunks[env.Index] = env.Data
	received, total := t.received, t.totalChunks
	e.mu.Unlock()

	progress := ChunkProgress(received, total)
	e.setProgress(t, progress)
	p := progress
	e.sess.Send(&signaling.Message{
		Type:       signaling.TypeProgress,
		TransferID: t.id,
		Progress:   &p,
	})

	if received == total {
		e.completeReceive(t)
	}
}

// completeReceive reassembles the file, hands it to the save handler
// and reports completion.
func (e *Engine) completeReceive(t *transfer) {
	e.mu.Lock()
	chunks := t.chunks
	e.mu.Unlock()

	data, err := Reassemble(chunks)
	if err != nil {
		e.fail(t, err)
		return
	}

	if err := e.save(t.fileName, t.relPath, data); err != nil {
		e.fail(t, NewFileError("save", t.fileName, err))
		return
	}

	if !e.setState(t, StateCompleted) {
		return
	}
	e.sess.Send(&signaling.Message{
		Type:       signaling.TypeComplete,
		TransferID: t.id,
	})
	closePeer(t)
}

// handleComplete reacts to the hub's completion notice. When it lands
// without any peer data, the relay path is active and the payload is
// waiting on the hub.
func (e *Engine) handleComplete(msg *signaling.Message) {
	t, ok := e.get(msg.TransferID)
	if !ok {
		slog.Warn("complete for unknown transfer", "transfer", msg.TransferID)
		return
	}

	e.mu.Lock()
	relayActive := !t.outbound && !t.gotPeerData && !t.state.Terminal()
	e.mu.Unlock()

	if relayActive {
		go e.downloadFromRelay(t)
	}
}

// fail moves the transfer to failed and tells the hub.
func (e *Engine) fail(t *transfer, err error) {
	slog.Error("transfer failed", "transfer", t.id, "err", err)
	if !e.setState(t, StateFailed) {
		return
	}
	e.sess.Send(&signaling.Message{
		Type:       signaling.TypeTransferError,
		TransferID: t.id,
		Reason:     err.Error(),
	})
	closePeer(t)
	e.finish(t, err)
}
