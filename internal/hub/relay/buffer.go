// Package relay implements the fallback path: when two peers cannot
// open a direct data channel, the sender uploads the payload here and
// the receiver pulls it over HTTP.
package relay

import (
	"sync"
	"time"
)

// Retention windows. Entries are short-lived on purpose: the hub is a
// drop box, not storage.
const (
	DefaultUnusedTTL     = 30 * time.Second
	DefaultDownloadedTTL = 60 * time.Second
)

// Entry is one buffered payload, keyed by transfer id.
type Entry struct {
	Data         []byte
	FileName     string
	FileType     string
	RelativePath string
	UploadedAt   time.Time
}

// Buffer owns relay payloads together with the two bookkeeping sets
// the transfer flow needs: which transfer ids the receiver accepted
// (download authorization) and which uploads already completed
// (idempotent retry). Safe for concurrent use.
type Buffer struct {
	mu        sync.Mutex
	entries   map[string]*Entry
	accepted  map[string]bool
	processed map[string]bool
	timers    map[string]*time.Timer

	// TTLs are fields so tests can shrink them.
	UnusedTTL     time.Duration
	DownloadedTTL time.Duration
}

// NewBuffer creates an empty buffer with the default retention windows.
func NewBuffer() *Buffer {
	return &Buffer{
		entries:       make(map[string]*Entry),
		accepted:      make(map[string]bool),
		processed:     make(map[string]bool),
		timers:        make(map[string]*time.Timer),
		UnusedTTL:     DefaultUnusedTTL,
		DownloadedTTL: DefaultDownloadedTTL,
	}
}

// Put stores a payload and arms the unused-entry timer. An earlier
// entry for the same transfer is replaced.
func (b *Buffer) Put(transferID string, e Entry) {
	if e.RelativePath == "" {
		e.RelativePath = e.FileName
	}
	e.UploadedAt = time.Now()

	b.mu.Lock()
	defer b.mu.Unlock()

	b.entries[transferID] = &e
	b.scheduleLocked(transferID, b.UnusedTTL)
}

// Get returns the entry for a transfer id, if any, and reschedules its
// removal for DownloadedTTL from now. The caller streams the payload
// to the receiver; the entry outlives the response briefly so a
// truncated download can retry.
func (b *Buffer) Get(transferID string) (Entry, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	e, ok := b.entries[transferID]
	if !ok {
		return Entry{}, false
	}
	b.scheduleLocked(transferID, b.DownloadedTTL)
	return *e, true
}

// Has reports whether a payload is buffered without touching timers.
func (b *Buffer) Has(transferID string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, ok := b.entries[transferID]
	return ok
}

// Authorize flags a transfer id as accepted by its receiver. Download
// refuses ids that were never authorized.
func (b *Buffer) Authorize(transferID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.accepted[transferID] = true
}

// Authorized reports whether the receiver accepted the transfer.
func (b *Buffer) Authorized(transferID string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.accepted[transferID]
}

// MarkProcessed records a completed upload and reports whether this
// call was the first. Retried uploads after a success are no-ops.
func (b *Buffer) MarkProcessed(transferID string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.processed[transferID] {
		return false
	}
	b.processed[transferID] = true
	return true
}

// Processed reports whether an upload already completed for this id.
func (b *Buffer) Processed(transferID string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.processed[transferID]
}

// Discard drops the entry and the acceptance flag immediately.
func (b *Buffer) Discard(transferID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.removeLocked(transferID)
}

func (b *Buffer) scheduleLocked(transferID string, ttl time.Duration) {
	if t, ok := b.timers[transferID]; ok {
		t.Stop()
	}
	b.timers[transferID] = time.AfterFunc(ttl, func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		b.removeLocked(transferID)
	})
}

func (b *Buffer) removeLocked(transferID string) {
	delete(b.entries, transferID)
	delete(b.accepted, transferID)
	if t, ok := b.timers[transferID]; ok {
		t.Stop()
		delete(b.timers, transferID)
	}
}
