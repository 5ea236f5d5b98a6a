package rendezvous

import (
	"os"
	"path/filepath"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/unixpickle/ringsync/fault"
	bolt "go.etcd.io/bbolt"
)

var boltBucket = []byte("rendezvous")

// A BoltStore is a durable Store backed by a bbolt database.
//
// It has v2 support: every batch and read-modify-write
// operation runs in a single transaction and is therefore
// atomic with respect to other callers in the process.
type BoltStore struct {
	path string
	db   *bolt.DB
	log  logrus.FieldLogger
}

// OpenBoltStore opens (or creates) the database file at
// path.
func OpenBoltStore(path string, logger logrus.FieldLogger) (*BoltStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o777); err != nil {
		return nil, fault.IOFailure("mkdir", filepath.Dir(path), err)
	}
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fault.IOFailure("open", path, err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(boltBucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fault.IOFailure("create bucket", path, err)
	}
	logger.WithField("path", path).Debug("opened bolt rendezvous store")
	return &BoltStore{path: path, db: db, log: logger}, nil
}

// Close releases the database file.
func (b *BoltStore) Close() error {
	return b.db.Close()
}

// Set stores value under key.
func (b *BoltStore) Set(key string, value []byte) error {
	err := b.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(boltBucket).Put([]byte(key), copyBytes(value))
	})
	if err != nil {
		return fault.IOFailure("put", b.path, err)
	}
	return nil
}

// Get returns the value under key, or a fault.NotFound
// error.
func (b *BoltStore) Get(key string) ([]byte, error) {
	var res []byte
	var found bool
	err := b.db.View(func(tx *bolt.Tx) error {
		value := tx.Bucket(boltBucket).Get([]byte(key))
		if value != nil {
			found = true
			res = copyBytes(value)
		}
		return nil
	})
	if err != nil {
		return nil, fault.IOFailure("get", b.path, err)
	}
	if !found {
		return nil, fault.MissingKey(key)
	}
	return res, nil
}

// Wait polls for the keys every PollInterval.
func (b *BoltStore) Wait(keys []string, timeout time.Duration) error {
	start := time.Now()
	for {
		var ready bool
		err := b.db.View(func(tx *bolt.Tx) error {
			bucket := tx.Bucket(boltBucket)
			for _, key := range keys {
				if bucket.Get([]byte(key)) == nil {
					return nil
				}
			}
			ready = true
			return nil
		})
		if err != nil {
			return fault.IOFailure("view", b.path, err)
		}
		if ready {
			return nil
		}
		if timeout != NoTimeout && time.Since(start) > timeout {
			return fault.TimedOut("timeout after %s waiting for keys", timeout)
		}
		time.Sleep(PollInterval)
	}
}

// HasV2Support is always true.
func (b *BoltStore) HasV2Support() bool {
	return true
}

// MultiGet reads every key in one transaction.
// Any missing key fails the whole batch.
func (b *BoltStore) MultiGet(keys []string) ([][]byte, error) {
	res := make([][]byte, len(keys))
	var missing string
	err := b.db.View(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(boltBucket)
		for i, key := range keys {
			value := bucket.Get([]byte(key))
			if value == nil {
				missing = key
				return nil
			}
			res[i] = copyBytes(value)
		}
		return nil
	})
	if err != nil {
		return nil, fault.IOFailure("multi_get", b.path, err)
	}
	if missing != "" {
		return nil, fault.MissingKey(missing)
	}
	return res, nil
}

// MultiSet writes every key in one transaction.
func (b *BoltStore) MultiSet(keys []string, values [][]byte) error {
	if len(keys) != len(values) {
		return fault.Errorf("multi_set: %d keys but %d values", len(keys), len(values))
	}
	err := b.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(boltBucket)
		for i, key := range keys {
			if err := bucket.Put([]byte(key), copyBytes(values[i])); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fault.IOFailure("multi_set", b.path, err)
	}
	return nil
}

// Append atomically concatenates data to the key's value.
func (b *BoltStore) Append(key string, data []byte) error {
	err := b.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(boltBucket)
		existing := bucket.Get([]byte(key))
		joined := make([]byte, 0, len(existing)+len(data))
		joined = append(joined, existing...)
		joined = append(joined, data...)
		return bucket.Put([]byte(key), joined)
	})
	if err != nil {
		return fault.IOFailure("append", b.path, err)
	}
	return nil
}

// Add atomically increments the key's counter.
func (b *BoltStore) Add(key string, delta int64) (int64, error) {
	var current int64
	err := b.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(boltBucket)
		current = decodeCounter(bucket.Get([]byte(key))) + delta
		return bucket.Put([]byte(key), encodeCounter(current))
	})
	if err != nil {
		return 0, fault.IOFailure("add", b.path, err)
	}
	return current, nil
}
