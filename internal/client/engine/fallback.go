package engine

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/CH563/web-transfer/internal/hub/relay"
)

// Fallback upload policy: bounded retry with exponential backoff and
// a hard per-attempt deadline.
const (
	fallbackMaxAttempts = 3
	fallbackMaxDelay    = 8 * time.Second
	attemptTimeout      = 30 * time.Second
)

// FallbackDelay is the backoff before retry attempt n (1 s, 2 s, 4 s,
// capped at fallbackMaxDelay).
func FallbackDelay(attempt int) time.Duration {
	d := time.Second << (attempt - 1)
	if d > fallbackMaxDelay || d <= 0 {
		return fallbackMaxDelay
	}
	return d
}

// fallback uploads the payload to the hub's relay buffer. The sticky
// per-transfer lock makes concurrent triggers (timeout racing an ICE
// failure) collapse into one run.
func (e *Engine) fallback(t *transfer) {
	e.mu.Lock()
	if t.fallbackStarted || t.state.Terminal() || !t.outbound {
		e.mu.Unlock()
		return
	}
	t.fallbackStarted = true
	e.mu.Unlock()

	closePeer(t)
	slog.Info("falling back to relay upload", "transfer", t.id)

	var lastErr error
	for attempt := 1; attempt <= fallbackMaxAttempts; attempt++ {
		if attempt > 1 {
			time.Sleep(FallbackDelay(attempt - 1))
		}
		if lastErr = e.uploadOnce(t, attempt); lastErr == nil {
			e.setState(t, StateCompleted)
			e.finish(t, nil)
			return
		}
		slog.Warn("relay upload attempt failed", "transfer", t.id, "attempt", attempt, "err", lastErr)
	}

	e.fail(t, WrapError("relay upload", ErrRelayFailed, lastErr.Error()))

	// Lock release for the non-terminal edge case: fail() above is
	// normally terminal, but if a completion raced in, let a later
	// trigger retry after the cool-down.
	time.AfterFunc(fallbackCooldown, func() {
		e.mu.Lock()
		if !t.state.Terminal() {
			t.fallbackStarted = false
		}
		e.mu.Unlock()
	})
}

// uploadOnce performs one POST of the payload with a 30-second
// deadline. The hub answers success for a transfer it already holds,
// so retries are harmless.
func (e *Engine) uploadOnce(t *transfer, attempt int) error {
	ctx, cancel := context.WithTimeout(context.Background(), attemptTimeout)
	defer cancel()

	endpoint := fmt.Sprintf("%s/transfer/%s/upload", e.cfg.APIBaseURL, t.id)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(t.data))
	if err != nil {
		return NewError("build upload request", err)
	}
	req.Header.Set(relay.HeaderFilename, url.QueryEscape(t.fileName))
	req.Header.Set("Content-Type", t.fileType)
	req.Header.Set(relay.HeaderRetryCount, strconv.Itoa(attempt-1))
	req.Header.Set(relay.HeaderClientTimestamp, strconv.FormatInt(time.Now().UnixMilli(), 10))
	req.Header.Set(relay.HeaderSenderID, t.senderID)
	req.Header.Set(relay.HeaderReceiverID, t.receiverID)

	resp, err := e.http.Do(req)
	if err != nil {
		return NewError("upload", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusOK {
		return WrapError("upload", ErrRelayFailed, resp.Status)
	}
	return nil
}

// downloadFromRelay pulls the payload the hub buffered for this
// transfer. Guarded by the sticky download flag with a cool-down, and
// by local acceptance; the hub enforces the same server-side.
func (e *Engine) downloadFromRelay(t *transfer) {
	e.mu.Lock()
	if t.downloadStarted || t.state.Terminal() {
		e.mu.Unlock()
		return
	}
	if !t.accepted {
		e.mu.Unlock()
		slog.Warn("relay download refused, transfer not accepted", "transfer", t.id)
		return
	}
	t.downloadStarted = true
	e.mu.Unlock()

	time.AfterFunc(downloadCooldown, func() {
		e.mu.Lock()
		if !t.state.Terminal() {
			t.downloadStarted = false
		}
		e.mu.Unlock()
	})

	ctx, cancel := context.WithTimeout(context.Background(), attemptTimeout)
	defer cancel()

	endpoint := fmt.Sprintf("%s/transfer/%s/download", e.cfg.APIBaseURL, t.id)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		e.fail(t, NewError("build download request", err))
		return
	}

	resp, err := e.http.Do(req)
	if err != nil {
		e.fail(t, NewError("download", err))
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		e.fail(t, WrapError("download", ErrRelayFailed, resp.Status))
		return
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		e.fail(t, NewError("read download", err))
		return
	}

	if rel, err := url.QueryUnescape(resp.Header.Get(relay.HeaderRelativePath)); err == nil && rel != "" {
		t.relPath = rel
	}

	if err := e.save(t.fileName, t.relPath, data); err != nil {
		e.fail(t, NewFileError("save", t.fileName, err))
		return
	}
	e.setState(t, StateCompleted)
}
