package core

import (
	"fmt"
	"sync"

	"github.com/google/uuid"
)

// Identifiers hands out small reusable integer ids. Released ids are reused
// lowest-first, so slot indices stay dense.
type Identifiers struct {
	mu     sync.Mutex
	owners []interface{}
}

func NewIdentifiers(capacity int) *Identifiers {
	return &Identifiers{owners: make([]interface{}, 0, capacity)}
}

func (ids *Identifiers) Acquire(owner interface{}) uint32 {
	ids.mu.Lock()
	defer ids.mu.Unlock()

	for i := range ids.owners {
		// Existing free spot. Take it.
		if ids.owners[i] == nil {
			ids.owners[i] = owner
			return uint32(i)
		}
	}

	// If here, no existing free slots. Need a new id, so push one.
	ids.owners = append(ids.owners, owner)
	return uint32(len(ids.owners) - 1)
}

func (ids *Identifiers) Release(id uint32) error {
	ids.mu.Lock()
	defer ids.mu.Unlock()

	if int(id) >= len(ids.owners) {
		return fmt.Errorf("identifier release: id '%d' out of range (max=%d). Nothing was done", id, len(ids.owners))
	}
	// Just zero out the entry, making it available for use.
	ids.owners[id] = nil
	return nil
}

func (ids *Identifiers) Owner(id uint32) interface{} {
	ids.mu.Lock()
	defer ids.mu.Unlock()
	if int(id) >= len(ids.owners) {
		return nil
	}
	return ids.owners[id]
}

// DefaultLabel builds a unique debug label for an object of the given kind.
func DefaultLabel(kind string) string {
	return kind + "-" + uuid.NewString()[:8]
}
