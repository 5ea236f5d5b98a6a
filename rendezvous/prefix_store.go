package rendezvous

import "time"

// A PrefixStore namespaces another Store by prepending a
// fixed prefix to every key, so several rendezvous sessions
// can share one physical store.
//
// The extended operations are forwarded to the delegate
// when it has v2 support; otherwise they are synthesized
// from this store's own (prefixed) Get and Set.
type PrefixStore struct {
	prefix   string
	delegate Store
	fallback v1Ops
}

// NewPrefixStore wraps delegate with a key prefix.
func NewPrefixStore(prefix string, delegate Store) *PrefixStore {
	p := &PrefixStore{prefix: prefix, delegate: delegate}
	p.fallback = v1Ops{kv: p}
	return p
}

// Prefix returns the prefix added to keys.
func (p *PrefixStore) Prefix() string {
	return p.prefix
}

// Set stores value under the prefixed key.
func (p *PrefixStore) Set(key string, value []byte) error {
	return p.delegate.Set(p.joinKey(key), value)
}

// Get reads the prefixed key.
func (p *PrefixStore) Get(key string) ([]byte, error) {
	return p.delegate.Get(p.joinKey(key))
}

// Wait waits for the prefixed keys.
func (p *PrefixStore) Wait(keys []string, timeout time.Duration) error {
	return p.delegate.Wait(p.joinKeys(keys), timeout)
}

// HasV2Support forwards to the delegate.
func (p *PrefixStore) HasV2Support() bool {
	return p.delegate.HasV2Support()
}

func (p *PrefixStore) MultiGet(keys []string) ([][]byte, error) {
	if !p.delegate.HasV2Support() {
		return p.fallback.MultiGet(keys)
	}
	return p.delegate.MultiGet(p.joinKeys(keys))
}

func (p *PrefixStore) MultiSet(keys []string, values [][]byte) error {
	if !p.delegate.HasV2Support() {
		return p.fallback.MultiSet(keys, values)
	}
	return p.delegate.MultiSet(p.joinKeys(keys), values)
}

func (p *PrefixStore) Append(key string, data []byte) error {
	if !p.delegate.HasV2Support() {
		return p.fallback.Append(key, data)
	}
	return p.delegate.Append(p.joinKey(key), data)
}

func (p *PrefixStore) Add(key string, delta int64) (int64, error) {
	if !p.delegate.HasV2Support() {
		return p.fallback.Add(key, delta)
	}
	return p.delegate.Add(p.joinKey(key), delta)
}

func (p *PrefixStore) joinKey(key string) string {
	return p.prefix + key
}

func (p *PrefixStore) joinKeys(keys []string) []string {
	res := make([]string, len(keys))
	for i, key := range keys {
		res[i] = p.joinKey(key)
	}
	return res
}
