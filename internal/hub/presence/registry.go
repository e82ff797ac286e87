// Package presence tracks which devices are currently reachable.
package presence

import (
	"sync"
	"time"
)

// LivenessWindow is how long a device stays reachable after its last
// register, update, or signaling activity.
const LivenessWindow = 5 * time.Minute

// Device type tags reported by clients on register.
const (
	TypeLaptop = "laptop"
	TypeMobile = "mobile"
	TypeTablet = "tablet"
)

// Device statuses.
const (
	StatusAvailable = "available"
	StatusBusy      = "busy"
	StatusOffline   = "offline"
)

// Device is a registered client. IDs are opaque, client-assigned and
// case sensitive.
type Device struct {
	ID       string    `json:"id"`
	Name     string    `json:"name"`
	Type     string    `json:"type"`
	Status   string    `json:"status"`
	LastSeen time.Time `json:"lastSeen"`
}

// Patch carries the mutable fields of a device-update. Nil fields are
// left untouched.
type Patch struct {
	Name   *string
	Status *string
}

// Registry is the in-memory device registry. All methods are safe for
// concurrent use.
type Registry struct {
	mu      sync.RWMutex
	devices map[string]*Device

	// now is swapped out by tests to control the liveness clock.
	now func() time.Time
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		devices: make(map[string]*Device),
		now:     time.Now,
	}
}

// Register upserts a device record. Name and type are overwritten,
// status resets to available and last-seen is stamped.
func (r *Registry) Register(id, name, deviceType string) Device {
	r.mu.Lock()
	defer r.mu.Unlock()

	d, ok := r.devices[id]
	if !ok {
		d = &Device{ID: id}
		r.devices[id] = d
	}
	d.Name = name
	d.Type = deviceType
	d.Status = StatusAvailable
	d.LastSeen = r.now()
	return *d
}

// Update applies a patch to an existing device and stamps last-seen.
// Returns false if the device was never registered.
func (r *Registry) Update(id string, patch Patch) (Device, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	d, ok := r.devices[id]
	if !ok {
		return Device{}, false
	}
	if patch.Name != nil {
		d.Name = *patch.Name
	}
	if patch.Status != nil {
		d.Status = *patch.Status
	}
	d.LastSeen = r.now()
	return *d, true
}

// MarkOffline flips a device to offline without removing the record.
func (r *Registry) MarkOffline(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if d, ok := r.devices[id]; ok {
		d.Status = StatusOffline
	}
}

// Touch stamps last-seen for a device, keeping it inside the liveness
// window while its session is active.
func (r *Registry) Touch(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if d, ok := r.devices[id]; ok {
		d.LastSeen = r.now()
	}
}

// Get returns a copy of the device record.
func (r *Registry) Get(id string) (Device, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	d, ok := r.devices[id]
	if !ok {
		return Device{}, false
	}
	return *d, true
}

// ListReachable returns every device that is reachable right now,
// excluding excludeID. A stored status other than offline does not
// help a device whose last-seen fell outside the liveness window.
func (r *Registry) ListReachable(excludeID string) []Device {
	r.mu.RLock()
	defer r.mu.RUnlock()

	cutoff := r.now().Add(-LivenessWindow)
	out := make([]Device, 0, len(r.devices))
	for _, d := range r.devices {
		if d.ID == excludeID {
			continue
		}
		if d.Status == StatusOffline || d.LastSeen.Before(cutoff) {
			continue
		}
		out = append(out, *d)
	}
	return out
}
