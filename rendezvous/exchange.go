package rendezvous

import (
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/unixpickle/ringsync/fault"
)

// An Exchange swaps network addresses between the ranks of
// a group through a Store.
//
// Every rank publishes its own address and then collects
// the addresses of all ranks, which are handed to whatever
// establishes the actual connections.
type Exchange struct {
	Store Store
	Rank  int
	Size  int

	// Timeout bounds the wait for peers.
	// Zero means DefaultTimeout.
	Timeout time.Duration

	// Backoff controls retries of failed publishes.
	// If nil, a short exponential backoff is used.
	Backoff backoff.BackOff

	Logger logrus.FieldLogger
}

// AddressKey is the store key holding a rank's address.
func AddressKey(rank int) string {
	return fmt.Sprintf("rank/%d", rank)
}

// Publish stores this rank's address.
//
// The store itself never retries, so transient IO failures
// are retried here. Other failures are returned at once.
func (e *Exchange) Publish(addr string) error {
	if e.Rank < 0 || e.Rank >= e.Size {
		return fault.Invalid("rank %d outside group of size %d", e.Rank, e.Size)
	}
	key := AddressKey(e.Rank)
	op := func() error {
		err := e.Store.Set(key, []byte(addr))
		if err != nil && !fault.Is(err, fault.IO) {
			return backoff.Permanent(err)
		}
		return err
	}
	notify := func(err error, next time.Duration) {
		e.logger().WithError(err).WithField("retry_in", next).Warn("publish address failed")
	}
	if err := backoff.RetryNotify(op, e.backoff(), notify); err != nil {
		return errors.Wrapf(err, "publish address of rank %d", e.Rank)
	}
	e.logger().WithField("addr", addr).Debug("published address")
	return nil
}

// Peers waits for every rank's address and returns them
// indexed by rank.
//
// A wait timeout is fatal and is not retried.
func (e *Exchange) Peers() ([]string, error) {
	keys := make([]string, e.Size)
	for i := range keys {
		keys[i] = AddressKey(i)
	}
	timeout := e.Timeout
	if timeout == 0 {
		timeout = DefaultTimeout
	}
	if err := e.Store.Wait(keys, timeout); err != nil {
		return nil, errors.Wrapf(err, "rank %d waiting for %d peers", e.Rank, e.Size)
	}
	values, err := e.Store.MultiGet(keys)
	if err != nil {
		return nil, errors.Wrap(err, "read peer addresses")
	}
	addrs := make([]string, len(values))
	for i, value := range values {
		addrs[i] = string(value)
	}
	e.logger().WithField("peers", len(addrs)).Info("rendezvous complete")
	return addrs, nil
}

// Run publishes addr and then returns all peer addresses.
func (e *Exchange) Run(addr string) ([]string, error) {
	if err := e.Publish(addr); err != nil {
		return nil, err
	}
	return e.Peers()
}

func (e *Exchange) backoff() backoff.BackOff {
	if e.Backoff != nil {
		return e.Backoff
	}
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 20 * time.Millisecond
	b.MaxElapsedTime = 5 * time.Second
	return b
}

func (e *Exchange) logger() logrus.FieldLogger {
	logger := e.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return logger.WithField("rank", e.Rank)
}
