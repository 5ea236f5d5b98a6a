package rendezvous

import (
	"os"
	"path/filepath"
	"time"

	"github.com/pkg/errors"
	"github.com/unixpickle/ringsync/fault"
)

// A FileStore keeps each key in its own file under a base
// directory, so processes that share a filesystem can
// rendezvous without sharing memory.
//
// A file's contents are exactly the stored bytes.
// There is no cross-process signaling, so Wait polls.
type FileStore struct {
	v1Ops

	basePath string
}

// NewFileStore creates a FileStore rooted at path.
// The directory is created if it does not exist.
func NewFileStore(path string) (*FileStore, error) {
	if err := os.Mkdir(path, 0o777); err != nil && !os.IsExist(err) {
		return nil, fault.IOFailure("mkdir", path, err)
	}
	f := &FileStore{basePath: path}
	f.v1Ops = v1Ops{kv: f}
	return f, nil
}

// Path returns the base directory.
func (f *FileStore) Path() string {
	return f.basePath
}

// Set writes value to the key's file.
//
// The value is written to a temporary file and renamed into
// place, so readers never observe a partial value.
func (f *FileStore) Set(key string, value []byte) error {
	path := f.realPath(key)
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o777); err != nil {
		return fault.IOFailure("mkdir", dir, err)
	}
	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return fault.IOFailure("create", dir, err)
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(value); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fault.IOFailure("write", tmpPath, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fault.IOFailure("close", tmpPath, err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fault.IOFailure("rename", path, err)
	}
	return nil
}

// Get reads the key's file.
//
// A key that was never set yields a fault.IO error wrapping
// fs.ErrNotExist.
func (f *FileStore) Get(key string) ([]byte, error) {
	path := f.realPath(key)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fault.IOFailure("read", path, err)
	}
	return data, nil
}

// Wait polls for the keys' files every PollInterval.
func (f *FileStore) Wait(keys []string, timeout time.Duration) error {
	start := time.Now()
	for {
		ready, err := f.allExist(keys)
		if err != nil {
			return err
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

func (f *FileStore) allExist(keys []string) (bool, error) {
	for _, key := range keys {
		path := f.realPath(key)
		if _, err := os.Stat(path); err != nil {
			if errors.Is(err, os.ErrNotExist) {
				return false, nil
			}
			return false, fault.IOFailure("stat", path, err)
		}
	}
	return true, nil
}

func (f *FileStore) realPath(key string) string {
	return filepath.Join(f.basePath, filepath.FromSlash(key))
}
