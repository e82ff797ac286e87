package relay

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/CH563/web-transfer/internal/hub/presence"
	"github.com/CH563/web-transfer/internal/hub/store"
)

// Upload limits.
const (
	DefaultMaxUploadBytes  = 2 << 30 // 2 GiB
	DefaultUploadIdleLimit = 30 * time.Second
)

// Upload request headers. Filename and relative path are URL-encoded
// so arbitrary unicode names survive the header.
const (
	HeaderFilename        = "X-Filename"
	HeaderRelativePath    = "X-Relative-Path"
	HeaderRetryCount      = "X-Retry-Count"
	HeaderClientTimestamp = "X-Client-Timestamp"
	HeaderSenderID        = "X-Sender-Id"
	HeaderReceiverID      = "X-Receiver-Id"
)

// Notifier is the slice of the signaling hub the relay endpoints need:
// pushing a completion notice and surfacing offers for uploads that
// bypassed signaling.
type Notifier interface {
	NotifyTransferComplete(transferID, receiverID string)
	OfferToReceiver(t store.Transfer)
}

// Handler serves the relay upload/download endpoints and the
// per-device transfer inventory.
type Handler struct {
	Buffer    *Buffer
	Transfers *store.Store
	Registry  *presence.Registry
	Notifier  Notifier

	MaxUploadBytes int64
	UploadIdle     time.Duration
}

// NewHandler builds a handler with the default limits.
func NewHandler(buf *Buffer, transfers *store.Store, registry *presence.Registry, notifier Notifier) *Handler {
	return &Handler{
		Buffer:         buf,
		Transfers:      transfers,
		Registry:       registry,
		Notifier:       notifier,
		MaxUploadBytes: DefaultMaxUploadBytes,
		UploadIdle:     DefaultUploadIdleLimit,
	}
}

// Routes mounts the relay endpoints on a chi router.
func (h *Handler) Routes(r chi.Router) {
	r.Post("/transfer/{transferID}/upload", h.Upload)
	r.Get("/transfer/{transferID}/download", h.Download)
	r.Get("/transfers/{deviceID}", h.Inventory)
	r.Get("/devices", h.Devices)
}

// idleReader refreshes the connection read deadline before every read
// so a stalled upload fails after UploadIdle rather than hanging the
// handler forever.
type idleReader struct {
	r    io.Reader
	rc   *http.ResponseController
	idle time.Duration
}

func (ir *idleReader) Read(p []byte) (int, error) {
	ir.rc.SetReadDeadline(time.Now().Add(ir.idle))
	return ir.r.Read(p)
}

// Upload receives the payload of a transfer that fell back to the
// relay. Retries after a completed upload succeed without consuming
// the body.
func (h *Handler) Upload(w http.ResponseWriter, r *http.Request) {
	transferID := chi.URLParam(r, "transferID")

	if h.Buffer.Processed(transferID) {
		writeJSON(w, http.StatusOK, map[string]any{"success": true})
		return
	}

	fileName, err := url.QueryUnescape(r.Header.Get(HeaderFilename))
	if err != nil || fileName == "" {
		http.Error(w, "missing or malformed X-Filename", http.StatusBadRequest)
		return
	}
	relPath, _ := url.QueryUnescape(r.Header.Get(HeaderRelativePath))
	fileType := r.Header.Get("Content-Type")
	if fileType == "" {
		fileType = "application/octet-stream"
	}
	if retry := r.Header.Get(HeaderRetryCount); retry != "" && retry != "0" {
		slog.Info("upload retry", "transfer", transferID, "attempt", retry)
	}

	t, known := h.Transfers.Get(transferID)
	if !known {
		senderID := r.Header.Get(HeaderSenderID)
		receiverID := r.Header.Get(HeaderReceiverID)
		if senderID == "" || receiverID == "" || senderID == receiverID {
			http.Error(w, "unknown transfer", http.StatusNotFound)
			return
		}
		// Folder batches upload straight to the relay without a prior
		// signaling offer. The record is created pending and the
		// receiver is offered the transfer; download stays gated on
		// acceptance.
		t, err = h.Transfers.Create(store.Transfer{
			ID:         transferID,
			FileName:   fileName,
			FileSize:   r.ContentLength,
			FileType:   fileType,
			SenderID:   senderID,
			ReceiverID: receiverID,
		})
		if err != nil {
			http.Error(w, "unknown transfer", http.StatusNotFound)
			return
		}
		h.Notifier.OfferToReceiver(t)
	}

	body := &idleReader{
		r:    http.MaxBytesReader(w, r.Body, h.MaxUploadBytes),
		rc:   http.NewResponseController(w),
		idle: h.UploadIdle,
	}

	var buf bytes.Buffer
	if _, err := io.Copy(&buf, body); err != nil {
		var maxErr *http.MaxBytesError
		switch {
		case errors.As(err, &maxErr):
			http.Error(w, "payload too large", http.StatusRequestEntityTooLarge)
		case errors.Is(err, os.ErrDeadlineExceeded):
			http.Error(w, "upload timed out", http.StatusRequestTimeout)
		default:
			// Client abort mid-body. Not marked processed, so a retry
			// can succeed.
			slog.Warn("upload aborted", "transfer", transferID, "err", err)
			http.Error(w, "upload aborted", 499)
		}
		return
	}

	h.Buffer.Put(transferID, Entry{
		Data:         buf.Bytes(),
		FileName:     fileName,
		FileType:     fileType,
		RelativePath: relPath,
	})

	if !h.Buffer.MarkProcessed(transferID) {
		// A concurrent retry beat us to it; the payload is stored
		// either way.
		writeJSON(w, http.StatusOK, map[string]any{"success": true})
		return
	}

	if _, err := h.Transfers.Update(transferID, store.Patch{Status: store.StatusCompleted}); err != nil {
		if errors.Is(err, store.ErrBadTransition) {
			// The receiver has not accepted yet: folder batches upload
			// before any answer exists. The completion notice goes out
			// when the acceptance arrives.
			writeJSON(w, http.StatusOK, map[string]any{"success": true})
			return
		}
		if !errors.Is(err, store.ErrTerminal) {
			slog.Error("upload status update", "transfer", transferID, "err", err)
		}
	}
	h.Notifier.NotifyTransferComplete(transferID, t.ReceiverID)

	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

// Download streams a buffered payload to the receiver. Unaccepted
// transfer ids get a 403 without revealing whether the id exists.
func (h *Handler) Download(w http.ResponseWriter, r *http.Request) {
	transferID := chi.URLParam(r, "transferID")

	if !h.Buffer.Authorized(transferID) {
		http.Error(w, "transfer not accepted", http.StatusForbidden)
		return
	}

	entry, ok := h.Buffer.Get(transferID)
	if !ok {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", entry.FileType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", entry.FileName))
	w.Header().Set("Content-Length", fmt.Sprintf("%d", len(entry.Data)))
	w.Header().Set(HeaderRelativePath, url.QueryEscape(entry.RelativePath))
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(entry.Data); err != nil {
		slog.Warn("download interrupted", "transfer", transferID, "err", err)
	}
}

// Inventory returns a device's active and historical transfers.
func (h *Handler) Inventory(w http.ResponseWriter, r *http.Request) {
	deviceID := chi.URLParam(r, "deviceID")

	active := h.Transfers.ActiveFor(deviceID)
	history := h.Transfers.HistoryFor(deviceID, store.DefaultHistoryLimit)
	if active == nil {
		active = []store.Transfer{}
	}
	if history == nil {
		history = []store.Transfer{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"active":  active,
		"history": history,
	})
}

// Devices returns every reachable device.
func (h *Handler) Devices(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.Registry.ListReachable(""))
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("write response", "err", err)
	}
}
