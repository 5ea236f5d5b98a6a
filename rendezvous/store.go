// Package rendezvous implements key/value stores that let
// independent processes discover each other before a
// transport connects them.
package rendezvous

import (
	"encoding/binary"
	"time"

	"github.com/unixpickle/ringsync/fault"
)

const (
	// DefaultTimeout is the wait timeout used when callers
	// have no better value.
	DefaultTimeout = 30 * time.Second

	// NoTimeout makes Wait block until every key is set.
	NoTimeout time.Duration = 0

	// PollInterval is how often polling backends re-check
	// for keys during Wait.
	PollInterval = 10 * time.Millisecond
)

// A KV is the minimal capability every backend provides.
type KV interface {
	// Set stores value under key.
	Set(key string, value []byte) error

	// Get returns the value stored under key.
	//
	// The error kind for a missing key differs between
	// backends; use fault.IsMissing to detect it.
	Get(key string) ([]byte, error)

	// Wait blocks until every key has been set or the
	// timeout elapses, in which case a fault.Timeout error
	// is returned.
	Wait(keys []string, timeout time.Duration) error
}

// A Store is a rendezvous key/value exchange.
//
// Backends without v2 support synthesize the batch and
// read-modify-write operations from Get and Set.
// On that path MultiGet and MultiSet are not atomic across
// the batch, and Append and Add are not atomic against
// concurrent writers of the same key: two concurrent
// Appends may lose one of the updates.
type Store interface {
	KV

	// HasV2Support reports whether the backend implements
	// the extended operations natively (and atomically).
	HasV2Support() bool

	MultiGet(keys []string) ([][]byte, error)
	MultiSet(keys []string, values [][]byte) error
	Append(key string, data []byte) error
	Add(key string, delta int64) (int64, error)
}

// v1Ops provides the extended operations in terms of a
// KV's Get and Set.
type v1Ops struct {
	kv KV
}

func (v v1Ops) HasV2Support() bool {
	return false
}

func (v v1Ops) MultiGet(keys []string) ([][]byte, error) {
	res := make([][]byte, 0, len(keys))
	for _, key := range keys {
		value, err := v.kv.Get(key)
		if err != nil {
			return nil, err
		}
		res = append(res, value)
	}
	return res, nil
}

func (v v1Ops) MultiSet(keys []string, values [][]byte) error {
	if len(keys) != len(values) {
		return fault.Errorf("multi_set: %d keys but %d values", len(keys), len(values))
	}
	for i, key := range keys {
		if err := v.kv.Set(key, values[i]); err != nil {
			return err
		}
	}
	return nil
}

// Append reads, concatenates and writes back.
// This is not atomic.
func (v v1Ops) Append(key string, data []byte) error {
	existing, err := v.kv.Get(key)
	if err != nil && !fault.IsMissing(err) {
		return err
	}
	joined := make([]byte, 0, len(existing)+len(data))
	joined = append(joined, existing...)
	joined = append(joined, data...)
	return v.kv.Set(key, joined)
}

// Add reads, increments and writes back a counter.
// This is not atomic.
func (v v1Ops) Add(key string, delta int64) (int64, error) {
	existing, err := v.kv.Get(key)
	if err != nil && !fault.IsMissing(err) {
		return 0, err
	}
	current := decodeCounter(existing) + delta
	if err := v.kv.Set(key, encodeCounter(current)); err != nil {
		return 0, err
	}
	return current, nil
}

// decodeCounter reads a counter value.
// Values of any width other than 8 bytes count as zero.
func decodeCounter(data []byte) int64 {
	if len(data) != 8 {
		return 0
	}
	return int64(binary.LittleEndian.Uint64(data))
}

func encodeCounter(value int64) []byte {
	res := make([]byte, 8)
	binary.LittleEndian.PutUint64(res, uint64(value))
	return res
}

func copyBytes(data []byte) []byte {
	if data == nil {
		return []byte{}
	}
	res := make([]byte, len(data))
	copy(res, data)
	return res
}
