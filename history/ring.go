// Package history keeps the most recent prediction results in memory for the dashboard.
package history

import (
	"sync"

	"github.com/Tutortoise/object-detection-service/models"
)

const DefaultCapacity = 20

// Ring is a bounded, newest-first list of request records. Inserts go to the
// front and the oldest entries fall off the tail once capacity is reached.
type Ring struct {
	mu       sync.RWMutex
	capacity int
	entries  []models.RequestRecord
}

func New(capacity int) *Ring {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Ring{
		capacity: capacity,
		entries:  make([]models.RequestRecord, 0, capacity),
	}
}

func (r *Ring) Record(rec models.RequestRecord) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.entries) < r.capacity {
		r.entries = append(r.entries, models.RequestRecord{})
	}
	copy(r.entries[1:], r.entries[:len(r.entries)-1])
	r.entries[0] = rec
}

// Snapshot returns a copy of the records, newest first.
func (r *Ring) Snapshot() []models.RequestRecord {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]models.RequestRecord, len(r.entries))
	copy(out, r.entries)
	return out
}

func (r *Ring) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

func (r *Ring) Capacity() int {
	return r.capacity
}
