package blockstore

import (
	"time"

	"github.com/NebulousLabs/errors"
)

// retryDelay is how long Retrying sleeps between attempts after a
// throttled call. It is a var, not a const, so tests can shrink it.
var retryDelay = time.Second

// Retrying wraps a Store so that ErrThrottled is never observed by a
// caller: every method retries forever, sleeping retryDelay between
// attempts, until the underlying store stops throttling. This is the
// "coroutine-ish retry" contract item — a throughput governor, not an
// error path.
type Retrying struct {
	Store
}

// NewRetrying wraps store in a Retrying.
func NewRetrying(store Store) *Retrying {
	return &Retrying{Store: store}
}

// PutChunk retries on ErrThrottled until it succeeds.
func (r *Retrying) PutChunk(table Table, key Key, value []byte) error {
	for {
		err := r.Store.PutChunk(table, key, value)
		if errors.Contains(err, ErrThrottled) {
			time.Sleep(retryDelay)
			continue
		}
		return err
	}
}

// QueryChunks retries on ErrThrottled until it succeeds.
func (r *Retrying) QueryChunks(table Table, name string, afterTime int64) ([]Chunk, error) {
	for {
		chunks, err := r.Store.QueryChunks(table, name, afterTime)
		if errors.Contains(err, ErrThrottled) {
			time.Sleep(retryDelay)
			continue
		}
		return chunks, err
	}
}

// ScanKeys retries on ErrThrottled until it succeeds.
func (r *Retrying) ScanKeys(table Table, pageToken string) ([]string, string, error) {
	for {
		names, next, err := r.Store.ScanKeys(table, pageToken)
		if errors.Contains(err, ErrThrottled) {
			time.Sleep(retryDelay)
			continue
		}
		return names, next, err
	}
}

// DeleteKey retries on ErrThrottled until it succeeds.
func (r *Retrying) DeleteKey(table Table, name string) error {
	for {
		err := r.Store.DeleteKey(table, name)
		if errors.Contains(err, ErrThrottled) {
			time.Sleep(retryDelay)
			continue
		}
		return err
	}
}
