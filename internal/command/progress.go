package command

import (
	"sync"

	"github.com/CH563/web-transfer/internal/client/engine"
	"github.com/CH563/web-transfer/internal/client/ui"
)

// progressTracker adapts engine notifications to a live progress line.
// One bar at a time; transfers on a CLI run sequentially anyway.
type progressTracker struct {
	mu      sync.Mutex
	model   *ui.ProgressModel
	done    chan struct{}
	stopped bool
}

func newProgressTracker(fileName string, size int64) *progressTracker {
	t := &progressTracker{
		model: ui.NewProgressModel(fileName, size),
		done:  make(chan struct{}),
	}
	go ui.RunLoop(t.done, t.model.View)
	return t
}

// Notify is the engine.Notify hook.
func (t *progressTracker) Notify(transferID string, state engine.State, progress int) {
	t.model.Set(progress, string(state))
	if state.Terminal() {
		t.stop()
	}
}

func (t *progressTracker) stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.stopped {
		t.stopped = true
		close(t.done)
	}
}
