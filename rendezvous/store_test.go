package rendezvous

import (
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/unixpickle/ringsync/fault"
)

func storeFactories() map[string]func(t *testing.T) Store {
	return map[string]func(t *testing.T) Store{
		"Hash": func(t *testing.T) Store {
			return NewHashStore()
		},
		"File": func(t *testing.T) Store {
			s, err := NewFileStore(filepath.Join(t.TempDir(), "store"))
			require.NoError(t, err)
			return s
		},
		"Bolt": func(t *testing.T) Store {
			logger, _ := test.NewNullLogger()
			s, err := OpenBoltStore(filepath.Join(t.TempDir(), "store.db"), logger)
			require.NoError(t, err)
			t.Cleanup(func() { s.Close() })
			return s
		},
		"PrefixOverHash": func(t *testing.T) Store {
			return NewPrefixStore("session/", NewHashStore())
		},
	}
}

func TestStores(t *testing.T) {
	for name, factory := range storeFactories() {
		t.Run(name, func(t *testing.T) {
			t.Run("RoundTrip", func(t *testing.T) {
				s := factory(t)
				value := []byte{0, 1, 2, 0xff, 'x'}
				require.NoError(t, s.Set("addr", value))
				got, err := s.Get("addr")
				require.NoError(t, err)
				assert.Equal(t, value, got)
			})

			t.Run("GetMissing", func(t *testing.T) {
				s := factory(t)
				_, err := s.Get("never-set")
				require.Error(t, err)
				assert.True(t, fault.IsMissing(err), "unexpected error: %v", err)
			})

			t.Run("WaitTimeout", func(t *testing.T) {
				s := factory(t)
				start := time.Now()
				err := s.Wait([]string{"never-set"}, 100*time.Millisecond)
				elapsed := time.Since(start)
				require.Error(t, err)
				assert.True(t, fault.Is(err, fault.Timeout), "unexpected error: %v", err)
				assert.GreaterOrEqual(t, elapsed, 100*time.Millisecond)
				assert.Less(t, elapsed, 200*time.Millisecond)

				_, err = s.Get("never-set")
				assert.True(t, fault.IsMissing(err))
			})

			t.Run("WaitUnblocksOnLastKey", func(t *testing.T) {
				s := factory(t)
				done := make(chan error, 1)
				go func() {
					done <- s.Wait([]string{"k1", "k2"}, 5*time.Second)
				}()

				require.NoError(t, s.Set("k1", []byte("1")))
				select {
				case err := <-done:
					t.Fatalf("wait returned before k2 was set: %v", err)
				case <-time.After(50 * time.Millisecond):
				}

				require.NoError(t, s.Set("k2", []byte("2")))
				select {
				case err := <-done:
					assert.NoError(t, err)
				case <-time.After(time.Second):
					t.Fatal("wait did not return after both keys were set")
				}
			})

			t.Run("MultiOps", func(t *testing.T) {
				s := factory(t)
				keys := []string{"a", "b", "c"}
				values := [][]byte{[]byte("x"), []byte("yy"), []byte("zzz")}
				require.NoError(t, s.MultiSet(keys, values))
				got, err := s.MultiGet(keys)
				require.NoError(t, err)
				assert.Equal(t, values, got)

				err = s.MultiSet(keys, values[:1])
				assert.Error(t, err)
			})

			t.Run("AppendAndAdd", func(t *testing.T) {
				s := factory(t)
				require.NoError(t, s.Append("log", []byte("ab")))
				require.NoError(t, s.Append("log", []byte("cd")))
				got, err := s.Get("log")
				require.NoError(t, err)
				assert.Equal(t, []byte("abcd"), got)

				v, err := s.Add("counter", 5)
				require.NoError(t, err)
				assert.EqualValues(t, 5, v)
				v, err = s.Add("counter", -7)
				require.NoError(t, err)
				assert.EqualValues(t, -2, v)

				raw, err := s.Get("counter")
				require.NoError(t, err)
				assert.Len(t, raw, 8)
			})
		})
	}
}

func TestHashStoreNoTimeout(t *testing.T) {
	s := NewHashStore()
	done := make(chan error, 1)
	go func() {
		done <- s.Wait([]string{"late"}, NoTimeout)
	}()
	select {
	case err := <-done:
		t.Fatalf("unexpected early return: %v", err)
	case <-time.After(100 * time.Millisecond):
	}
	require.NoError(t, s.Set("late", nil))
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("waiter never woke")
	}
}

func TestHashStoreCopiesValues(t *testing.T) {
	s := NewHashStore()
	value := []byte("abc")
	require.NoError(t, s.Set("k", value))
	value[0] = 'z'
	got, err := s.Get("k")
	require.NoError(t, err)
	assert.Equal(t, []byte("abc"), got)
	got[1] = 'z'
	again, _ := s.Get("k")
	assert.Equal(t, []byte("abc"), again)
}

func TestFileStoreLayout(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "rdv")
	s, err := NewFileStore(dir)
	require.NoError(t, err)

	// Opening an existing directory is fine.
	_, err = NewFileStore(dir)
	require.NoError(t, err)

	require.NoError(t, s.Set("rank/0", []byte("10.0.0.1:5000")))
	other, err := NewFileStore(dir)
	require.NoError(t, err)
	got, err := other.Get("rank/0")
	require.NoError(t, err)
	assert.Equal(t, "10.0.0.1:5000", string(got))

	_, err = s.Get("missing")
	assert.True(t, fault.Is(err, fault.IO), "file store reports missing keys as IO errors")
}

func TestFileStoreBadBase(t *testing.T) {
	_, err := NewFileStore(filepath.Join(t.TempDir(), "no", "parent"))
	require.Error(t, err)
	assert.True(t, fault.Is(err, fault.IO))
}

func TestDefaultAppendLosesConcurrentUpdate(t *testing.T) {
	s := NewHashStore()
	require.NoError(t, s.Set("k", []byte("a")))

	// Another writer appends between our read and our write.
	var otherValue []byte
	interleaved := &interleavingKV{KV: s, between: func() {
		require.NoError(t, s.Append("k", []byte("b")))
		otherValue, _ = s.Get("k")
	}}
	ops := v1Ops{kv: interleaved}
	require.NoError(t, ops.Append("k", []byte("c")))

	assert.Equal(t, []byte("ab"), otherValue)
	got, err := s.Get("k")
	require.NoError(t, err)
	assert.Equal(t, []byte("ac"), got, "the default append is a plain read-modify-write")
}

// interleavingKV runs between() after the first Get has
// read its value but before it returns.
type interleavingKV struct {
	KV
	between func()
	done    bool
}

func (i *interleavingKV) Get(key string) ([]byte, error) {
	value, err := i.KV.Get(key)
	if !i.done {
		i.done = true
		i.between()
	}
	return value, err
}

func TestBoltStoreAtomicAdd(t *testing.T) {
	logger, _ := test.NewNullLogger()
	s, err := OpenBoltStore(filepath.Join(t.TempDir(), "counter.db"), logger)
	require.NoError(t, err)
	defer s.Close()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				_, err := s.Add("n", 1)
				assert.NoError(t, err)
			}
		}()
	}
	wg.Wait()

	v, err := s.Add("n", 0)
	require.NoError(t, err)
	assert.EqualValues(t, 400, v)
}

func TestPrefixStore(t *testing.T) {
	t.Run("Namespacing", func(t *testing.T) {
		base := NewHashStore()
		p := NewPrefixStore("p/", base)
		require.NoError(t, p.Set("a", []byte("v")))

		got, err := p.Get("a")
		require.NoError(t, err)
		assert.Equal(t, []byte("v"), got)

		got, err = base.Get("p/a")
		require.NoError(t, err)
		assert.Equal(t, []byte("v"), got)

		_, err = base.Get("a")
		assert.True(t, fault.Is(err, fault.NotFound))

		require.NoError(t, p.Wait([]string{"a"}, 10*time.Millisecond))
		assert.False(t, p.HasV2Support())
	})

	t.Run("SessionsDoNotCollide", func(t *testing.T) {
		base := NewHashStore()
		s1 := NewPrefixStore("s1/", base)
		s2 := NewPrefixStore("s2/", base)
		require.NoError(t, s1.Set("rank/0", []byte("one")))
		require.NoError(t, s2.Set("rank/0", []byte("two")))
		for store, expected := range map[*PrefixStore]string{s1: "one", s2: "two"} {
			got, err := store.Get("rank/0")
			require.NoError(t, err)
			assert.Equal(t, expected, string(got))
		}
	})

	t.Run("FallbackUsesPrefixedKeys", func(t *testing.T) {
		base, err := NewFileStore(filepath.Join(t.TempDir(), "fs"))
		require.NoError(t, err)
		p := NewPrefixStore("job/", base)
		_, err = p.Add("ctr", 3)
		require.NoError(t, err)
		raw, err := base.Get("job/ctr")
		require.NoError(t, err)
		assert.EqualValues(t, 3, decodeCounter(raw))
	})

	t.Run("ForwardsV2", func(t *testing.T) {
		logger, _ := test.NewNullLogger()
		base, err := OpenBoltStore(filepath.Join(t.TempDir(), "v2.db"), logger)
		require.NoError(t, err)
		defer base.Close()

		p := NewPrefixStore("job/", base)
		assert.True(t, p.HasV2Support())
		require.NoError(t, p.MultiSet([]string{"x", "y"}, [][]byte{[]byte("1"), []byte("2")}))
		require.NoError(t, p.Append("x", []byte("!")))
		v, err := p.Add("ctr", 9)
		require.NoError(t, err)
		assert.EqualValues(t, 9, v)

		got, err := base.MultiGet([]string{"job/x", "job/y"})
		require.NoError(t, err)
		assert.Equal(t, [][]byte{[]byte("1!"), []byte("2")}, got)
	})
}

func BenchmarkHashStoreSetGet(b *testing.B) {
	s := NewHashStore()
	for i := 0; i < b.N; i++ {
		key := fmt.Sprintf("k%d", i%64)
		s.Set(key, []byte("v"))
		s.Get(key)
	}
}
