package rendezvous

import (
	"sync"
	"time"

	"github.com/unixpickle/ringsync/fault"
)

// A HashStore is an in-process Store for participants that
// share memory, such as goroutines in a test or simulation.
//
// Waiters sleep on a condition variable guarded by the
// same lock as the map, so a Set can never slip in between
// a waiter's check and its sleep.
type HashStore struct {
	v1Ops

	lock   sync.Mutex
	cond   *sync.Cond
	values map[string][]byte
}

// NewHashStore creates an empty HashStore.
func NewHashStore() *HashStore {
	h := &HashStore{values: map[string][]byte{}}
	h.cond = sync.NewCond(&h.lock)
	h.v1Ops = v1Ops{kv: h}
	return h
}

// Set stores a copy of value and wakes every waiter.
func (h *HashStore) Set(key string, value []byte) error {
	h.lock.Lock()
	defer h.lock.Unlock()
	h.values[key] = copyBytes(value)
	h.cond.Broadcast()
	return nil
}

// Get returns a copy of the stored value, or a
// fault.NotFound error.
func (h *HashStore) Get(key string) ([]byte, error) {
	h.lock.Lock()
	defer h.lock.Unlock()
	value, ok := h.values[key]
	if !ok {
		return nil, fault.MissingKey(key)
	}
	return copyBytes(value), nil
}

// Wait blocks until all keys are present.
//
// With NoTimeout it waits indefinitely.
func (h *HashStore) Wait(keys []string, timeout time.Duration) error {
	h.lock.Lock()
	defer h.lock.Unlock()

	var deadline time.Time
	if timeout != NoTimeout {
		deadline = time.Now().Add(timeout)
		timer := time.AfterFunc(timeout, func() {
			h.lock.Lock()
			h.cond.Broadcast()
			h.lock.Unlock()
		})
		defer timer.Stop()
	}

	for {
		if h.hasAll(keys) {
			return nil
		}
		if timeout != NoTimeout && !time.Now().Before(deadline) {
			return fault.TimedOut("wait timeout after %s for %d keys", timeout, len(keys))
		}
		h.cond.Wait()
	}
}

// hasAll must be called with the lock held.
func (h *HashStore) hasAll(keys []string) bool {
	for _, key := range keys {
		if _, ok := h.values[key]; !ok {
			return false
		}
	}
	return true
}
