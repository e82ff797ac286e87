// Package store holds the in-memory transfer records and enforces
// their status lifecycle.
package store

import (
	"errors"
	"sort"
	"sync"
	"time"
)

// Transfer statuses.
const (
	StatusPending      = "pending"
	StatusAccepted     = "accepted"
	StatusTransferring = "transferring"
	StatusCompleted    = "completed"
	StatusFailed       = "failed"
	StatusRejected     = "rejected"
)

// DefaultHistoryLimit caps HistoryFor when the caller passes 0.
const DefaultHistoryLimit = 10

var (
	ErrAlreadyExists = errors.New("transfer already exists")
	ErrNotFound      = errors.New("transfer not found")
	ErrTerminal      = errors.New("transfer is in a terminal state")
	ErrBadTransition = errors.New("illegal status transition")
)

// Transfer is one file flowing from a sender device to a receiver
// device. Identifier and file fields are immutable after Create.
type Transfer struct {
	ID          string    `json:"id"`
	FileName    string    `json:"fileName"`
	FileSize    int64     `json:"fileSize"`
	FileType    string    `json:"fileType"`
	SenderID    string    `json:"senderId"`
	ReceiverID  string    `json:"receiverId"`
	Status      string    `json:"status"`
	Progress    int       `json:"progress"`
	CreatedAt   time.Time `json:"createdAt"`
	CompletedAt time.Time `json:"completedAt,omitzero"`
}

// Terminal reports whether a status permits no further updates.
func Terminal(status string) bool {
	return status == StatusCompleted || status == StatusFailed || status == StatusRejected
}

// Patch carries a status update. Progress below the stored value is
// ignored; the server push is the source of truth and clients
// max-merge, so the store does too.
type Patch struct {
	Status   string
	Progress *int
}

// Store owns all transfer records plus the completion-notice dedupe
// set. Safe for concurrent use.
type Store struct {
	mu        sync.RWMutex
	transfers map[string]*Transfer
	notified  map[string]bool

	now func() time.Time
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{
		transfers: make(map[string]*Transfer),
		notified:  make(map[string]bool),
		now:       time.Now,
	}
}

// Create inserts a new transfer record. The record must carry sender,
// receiver and file metadata; status defaults to pending.
func (s *Store) Create(t Transfer) (Transfer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.transfers[t.ID]; ok {
		return Transfer{}, ErrAlreadyExists
	}
	if t.Status == "" {
		t.Status = StatusPending
	}
	t.CreatedAt = s.now()
	stored := t
	s.transfers[t.ID] = &stored
	return t, nil
}

// validTransitions lists every legal non-terminal edge. A fallback
// upload completes an accepted transfer without ever passing through
// transferring, so accepted -> completed is legal.
var validTransitions = map[string][]string{
	StatusPending:      {StatusAccepted, StatusRejected},
	StatusAccepted:     {StatusTransferring, StatusCompleted, StatusFailed},
	StatusTransferring: {StatusCompleted, StatusFailed},
}

func transitionAllowed(from, to string) bool {
	if from == to {
		return true
	}
	for _, t := range validTransitions[from] {
		if t == to {
			return true
		}
	}
	return false
}

// Update applies a patch. A transition into a terminal state stamps
// completed-at and freezes the record; later updates return
// ErrTerminal. Progress only moves forward and is forced to 100 when
// the status becomes completed.
func (s *Store) Update(id string, patch Patch) (Transfer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.transfers[id]
	if !ok {
		return Transfer{}, ErrNotFound
	}
	if Terminal(t.Status) {
		return *t, ErrTerminal
	}

	if patch.Status != "" && patch.Status != t.Status {
		if !transitionAllowed(t.Status, patch.Status) {
			return *t, ErrBadTransition
		}
		t.Status = patch.Status
		if Terminal(t.Status) {
			t.CompletedAt = s.now()
		}
	}
	if patch.Progress != nil && *patch.Progress > t.Progress {
		t.Progress = min(*patch.Progress, 100)
	}
	if t.Status == StatusCompleted {
		t.Progress = 100
	}
	return *t, nil
}

// Get returns a copy of a transfer record.
func (s *Store) Get(id string) (Transfer, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	t, ok := s.transfers[id]
	if !ok {
		return Transfer{}, false
	}
	return *t, true
}

// ActiveFor returns non-terminal transfers where the device is sender
// or receiver.
func (s *Store) ActiveFor(deviceID string) []Transfer {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []Transfer
	for _, t := range s.transfers {
		if t.SenderID != deviceID && t.ReceiverID != deviceID {
			continue
		}
		if Terminal(t.Status) {
			continue
		}
		out = append(out, *t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out
}

// HistoryFor returns terminal transfers involving the device, newest
// first, truncated to limit (DefaultHistoryLimit when 0).
func (s *Store) HistoryFor(deviceID string, limit int) []Transfer {
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []Transfer
	for _, t := range s.transfers {
		if t.SenderID != deviceID && t.ReceiverID != deviceID {
			continue
		}
		if !Terminal(t.Status) {
			continue
		}
		out = append(out, *t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out
}

// MarkCompleteNotified records that a completion notice went out for
// this transfer and reports whether the caller won the race. At most
// one transfer-complete ever reaches the receiver, whichever path
// (signaling or relay upload) finishes first.
func (s *Store) MarkCompleteNotified(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.notified[id] {
		return false
	}
	s.notified[id] = true
	return true
}
