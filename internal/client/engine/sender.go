package engine

import (
	"context"
	"log/slog"
	"mime"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	pion "github.com/pion/webrtc/v4"

	"github.com/CH563/web-transfer/internal/hub/signaling"
)

// SendFile offers a file to a receiver, negotiates a direct channel
// once the receiver accepts, streams it, and falls back to the relay
// when the direct path does not come up. It blocks until the transfer
// reaches a terminal state or ctx ends.
func (e *Engine) SendFile(ctx context.Context, receiverID, path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", NewFileError("read", path, err)
	}

	fileName := filepath.Base(path)
	fileType := mime.TypeByExtension(filepath.Ext(fileName))
	if fileType == "" {
		fileType = "application/octet-stream"
	}

	t := &transfer{
		id:         uuid.NewString(),
		fileName:   fileName,
		fileSize:   int64(len(data)),
		fileType:   fileType,
		senderID:   e.cfg.DeviceID,
		receiverID: receiverID,
		outbound:   true,
		state:      StatePending,
		data:       data,
		answerCh:   make(chan bool, 1),
		doneCh:     make(chan error, 1),
	}

	e.mu.Lock()
	e.transfers[t.id] = t
	e.mu.Unlock()

	if e.notify != nil {
		e.notify(t.id, StatePending, 0)
	}

	// Offer first; peer negotiation waits for the acceptance.
	e.sess.Send(&signaling.Message{
		Type:       signaling.TypeTransferOffer,
		TransferID: t.id,
		FileName:   t.fileName,
		FileSize:   t.fileSize,
		FileType:   t.fileType,
		SenderID:   t.senderID,
		ReceiverID: t.receiverID,
	})

	select {
	case accepted := <-t.answerCh:
		if !accepted {
			e.setState(t, StateRejected)
			return t.id, ErrDeclined
		}
	case <-ctx.Done():
		e.setState(t, StateFailed)
		return t.id, WrapError("offer", ErrTimeout, "no answer")
	}

	e.startNegotiation(t)

	select {
	case err := <-t.doneCh:
		return t.id, err
	case <-ctx.Done():
		e.setState(t, StateFailed)
		closePeer(t)
		return t.id, ctx.Err()
	}
}

// handleAnswer resolves the sender's wait on transfer-answer.
func (e *Engine) handleAnswer(msg *signaling.Message) {
	t, ok := e.get(msg.TransferID)
	if !ok || !t.outbound || msg.Accepted == nil {
		slog.Warn("answer for unknown transfer", "transfer", msg.TransferID)
		return
	}
	select {
	case t.answerCh <- *msg.Accepted:
	default:
	}
}

// startNegotiation opens the peer session and data channel and sends
// the SDP offer. Guarded by the sticky negotiation flag so a repeated
// answer cannot start it twice.
func (e *Engine) startNegotiation(t *transfer) {
	e.mu.Lock()
	if t.negotiationStarted || t.state.Terminal() {
		e.mu.Unlock()
		return
	}
	t.negotiationStarted = true
	t.state = StateConnecting
	e.mu.Unlock()

	if e.notify != nil {
		e.notify(t.id, StateConnecting, t.progress)
	}

	pc, err := NewPeerConnection(e.cfg)
	if err != nil {
		slog.Warn("peer connection failed, using relay", "transfer", t.id, "err", err)
		go e.fallback(t)
		return
	}

	dc, err := CreateFileChannel(pc)
	if err != nil {
		pc.Close()
		go e.fallback(t)
		return
	}

	e.mu.Lock()
	t.pc, t.dc = pc, dc
	e.mu.Unlock()

	forwardCandidates(pc, e.sess.Send, t.id)

	pc.OnICEConnectionStateChange(func(state pion.ICEConnectionState) {
		if state == pion.ICEConnectionStateFailed || state == pion.ICEConnectionStateDisconnected {
			go e.fallback(t)
		}
	})

	dc.OnOpen(func() {
		if !e.setState(t, StateConnected) {
			return
		}
		go e.stream(t)
	})

	offer, err := CreateOffer(pc)
	if err != nil {
		slog.Warn("offer failed, using relay", "transfer", t.id, "err", err)
		go e.fallback(t)
		return
	}
	raw, err := encodeDescription(offer)
	if err != nil {
		go e.fallback(t)
		return
	}
	e.sess.Send(&signaling.Message{
		Type:       signaling.TypeWebRTCOffer,
		TransferID: t.id,
		Offer:      raw,
	})

	// The direct path gets negotiationTimeout to come up; after that
	// the relay takes over.
	time.AfterFunc(negotiationTimeout, func() {
		e.mu.Lock()
		stuck := t.state == StateConnecting
		e.mu.Unlock()
		if stuck {
			slog.Info("negotiation timed out, using relay", "transfer", t.id)
			e.fallback(t)
		}
	})
}

// handlePeerAnswer applies the receiver's SDP answer.
func (e *Engine) handlePeerAnswer(msg *signaling.Message) {
	t, ok := e.get(msg.TransferID)
	if !ok || t.pc == nil {
		slog.Warn("peer answer for unknown transfer", "transfer", msg.TransferID)
		return
	}
	desc, err := decodeDescription(msg.Answer)
	if err != nil {
		slog.Warn("bad peer answer", "transfer", msg.TransferID, "err", err)
		return
	}
	if err := t.pc.SetRemoteDescription(*desc); err != nil {
		slog.Warn("apply peer answer", "transfer", msg.TransferID, "err", err)
		return
	}
	e.flushCandidates(t)
}

// handleCandidate applies a remote ICE candidate, buffering it when
// it outruns the remote description.
func (e *Engine) handleCandidate(msg *signaling.Message) {
	t, ok := e.get(msg.TransferID)
	if !ok {
		slog.Warn("candidate for unknown transfer", "transfer", msg.TransferID)
		return
	}

	e.mu.Lock()
	if t.pc == nil || !t.remoteSet {
		t.pendingCandidates = append(t.pendingCandidates, msg.Candidate)
		e.mu.Unlock()
		return
	}
	pc := t.pc
	e.mu.Unlock()

	if err := addCandidate(pc, msg.Candidate); err != nil {
		slog.Debug("candidate dropped", "transfer", msg.TransferID, "err", err)
	}
}

// flushCandidates replays candidates buffered before the remote
// description landed.
func (e *Engine) flushCandidates(t *transfer) {
	e.mu.Lock()
	t.remoteSet = true
	pending := t.pendingCandidates
	t.pendingCandidates = nil
	pc := t.pc
	e.mu.Unlock()

	for _, raw := range pending {
		if err := addCandidate(pc, raw); err != nil {
			slog.Debug("buffered candidate dropped", "transfer", t.id, "err", err)
		}
	}
}

// stream pushes the file through the open data channel: metadata
// first, then ordered chunks, yielding periodically so the channel
// buffer drains.
func (e *Engine) stream(t *transfer) {
	if !e.setState(t, StateTransferring) {
		return
	}

	chunks := SplitChunks(t.data)
	meta := MetadataEnvelope(t.fileName, t.fileSize, t.fileType, len(chunks))
	if err := e.sendEnvelope(t, meta); err != nil {
		go e.fallback(t)
		return
	}

	for i, chunk := range chunks {
		if err := e.sendEnvelope(t, ChunkEnvelope(i, chunk)); err != nil {
			go e.fallback(t)
			return
		}
		if (i+1)%YieldEvery == 0 {
			time.Sleep(YieldPause)
		}

		progress := ChunkProgress(i+1, len(chunks))
		e.setProgress(t, progress)
		p := progress
		e.sess.Send(&signaling.Message{
			Type:       signaling.TypeProgress,
			TransferID: t.id,
			Progress:   &p,
		})
	}

	e.drain(t)

	if !e.setState(t, StateCompleted) {
		return
	}
	e.sess.Send(&signaling.Message{
		Type:       signaling.TypeComplete,
		TransferID: t.id,
	})
	closePeer(t)
	e.finish(t, nil)
}

func (e *Engine) sendEnvelope(t *transfer, env Envelope) error {
	if t.dc == nil || t.dc.ReadyState() != pion.DataChannelStateOpen {
		return ErrChannelNotOpen
	}
	data, err := env.Encode()
	if err != nil {
		return err
	}
	if err := t.dc.Send(data); err != nil {
		return NewError("send chunk", err)
	}
	return nil
}

// drain waits briefly for the channel buffer to flush before the
// completion notice goes out.
func (e *Engine) drain(t *transfer) {
	deadline := time.Now().Add(10 * time.Second)
	for t.dc != nil && t.dc.BufferedAmount() > 0 && time.Now().Before(deadline) {
		if t.dc.ReadyState() != pion.DataChannelStateOpen {
			return
		}
		time.Sleep(50 * time.Millisecond)
	}
}
