package store

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTransfer(id, sender, receiver string) Transfer {
	return Transfer{
		ID:         id,
		FileName:   "report.pdf",
		FileSize:   4096,
		FileType:   "application/pdf",
		SenderID:   sender,
		ReceiverID: receiver,
	}
}

func TestCreateDefaultsToPending(t *testing.T) {
	s := NewStore()

	created, err := s.Create(newTransfer("t1", "a", "b"))
	require.NoError(t, err)
	assert.Equal(t, StatusPending, created.Status)
	assert.False(t, created.CreatedAt.IsZero())

	_, err = s.Create(newTransfer("t1", "a", "b"))
	assert.ErrorIs(t, err, ErrAlreadyExists)
}

func TestLifecycleTransitions(t *testing.T) {
	cases := []struct {
		name string
		path []string
		err  error
	}{
		{"happy path", []string{StatusAccepted, StatusTransferring, StatusCompleted}, nil},
		{"rejected", []string{StatusRejected}, nil},
		{"relay fallback skips transferring", []string{StatusAccepted, StatusCompleted}, nil},
		{"failure mid transfer", []string{StatusAccepted, StatusTransferring, StatusFailed}, nil},
		{"pending cannot complete", []string{StatusCompleted}, ErrBadTransition},
		{"pending cannot transfer", []string{StatusTransferring}, ErrBadTransition},
		{"no un-reject", []string{StatusRejected, StatusAccepted}, ErrTerminal},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			s := NewStore()
			_, err := s.Create(newTransfer("t1", "a", "b"))
			require.NoError(t, err)

			for _, status := range tc.path {
				_, err = s.Update("t1", Patch{Status: status})
			}
			if tc.err != nil {
				assert.ErrorIs(t, err, tc.err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestTerminalStampsCompletedAt(t *testing.T) {
	s := NewStore()
	s.Create(newTransfer("t1", "a", "b"))

	s.Update("t1", Patch{Status: StatusAccepted})
	got, err := s.Update("t1", Patch{Status: StatusCompleted})
	require.NoError(t, err)
	assert.False(t, got.CompletedAt.IsZero())
	assert.Equal(t, 100, got.Progress)

	// Terminal records are frozen.
	_, err = s.Update("t1", Patch{Status: StatusFailed})
	assert.ErrorIs(t, err, ErrTerminal)
}

func TestProgressOnlyMovesForward(t *testing.T) {
	s := NewStore()
	s.Create(newTransfer("t1", "a", "b"))
	s.Update("t1", Patch{Status: StatusAccepted})
	s.Update("t1", Patch{Status: StatusTransferring})

	p := 40
	got, err := s.Update("t1", Patch{Progress: &p})
	require.NoError(t, err)
	assert.Equal(t, 40, got.Progress)

	// A late, out-of-order report must not move the bar backwards.
	p = 25
	got, _ = s.Update("t1", Patch{Progress: &p})
	assert.Equal(t, 40, got.Progress)

	p = 250
	got, _ = s.Update("t1", Patch{Progress: &p})
	assert.Equal(t, 100, got.Progress)
}

func TestUpdateUnknownTransfer(t *testing.T) {
	s := NewStore()
	_, err := s.Update("nope", Patch{Status: StatusAccepted})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestActiveAndHistorySplit(t *testing.T) {
	s := NewStore()

	clock := time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return clock }

	for i, id := range []string{"t1", "t2", "t3", "t4"} {
		clock = clock.Add(time.Duration(i) * time.Minute)
		_, err := s.Create(newTransfer(id, "a", "b"))
		require.NoError(t, err)
	}
	s.Create(newTransfer("other", "x", "y"))

	s.Update("t1", Patch{Status: StatusRejected})
	s.Update("t2", Patch{Status: StatusAccepted})
	s.Update("t2", Patch{Status: StatusCompleted})
	s.Update("t3", Patch{Status: StatusAccepted})

	active := s.ActiveFor("a")
	require.Len(t, active, 2)
	// Newest first.
	assert.Equal(t, "t4", active[0].ID)
	assert.Equal(t, "t3", active[1].ID)

	history := s.HistoryFor("b", 0)
	require.Len(t, history, 2)
	assert.Equal(t, "t2", history[0].ID)
	assert.Equal(t, "t1", history[1].ID)

	assert.Len(t, s.HistoryFor("b", 1), 1)
	assert.Empty(t, s.ActiveFor("stranger"))
}

func TestHistoryDefaultLimit(t *testing.T) {
	s := NewStore()

	clock := time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return clock }

	for i := 0; i < DefaultHistoryLimit+5; i++ {
		clock = clock.Add(time.Minute)
		id := string(rune('a' + i))
		s.Create(newTransfer(id, "a", "b"))
		s.Update(id, Patch{Status: StatusRejected})
	}
	assert.Len(t, s.HistoryFor("a", 0), DefaultHistoryLimit)
}

func TestMarkCompleteNotifiedOnce(t *testing.T) {
	s := NewStore()
	assert.True(t, s.MarkCompleteNotified("t1"))
	assert.False(t, s.MarkCompleteNotified("t1"))
	assert.True(t, s.MarkCompleteNotified("t2"))
}
