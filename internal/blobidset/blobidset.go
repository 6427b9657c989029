// Package blobidset is a concurrent membership set of blob ids.
//
// Ids are split into 256 buckets by their leading byte, each guarded by its
// own lock, so callers working on different buckets never contend. The
// leading byte is used as the index as-is; this relies on ids being digests
// with a near-uniform first byte.
package blobidset

import (
	"errors"
	"fmt"
	"sync"

	"github.com/luhtaf/blobseen/internal/blobid"
)

const (
	// NumBuckets equals the size of the partition key space.
	NumBuckets = 256

	bucketCapacity = 1024
)

// ErrPoisoned marks a bucket left unusable by a panic raised while its
// exclusive lock was held.
var ErrPoisoned = errors.New("blobidset: bucket poisoned")

// PoisonedError is the panic value raised when touching a poisoned bucket.
type PoisonedError struct {
	Bucket uint8
}

func (e *PoisonedError) Error() string {
	return fmt.Sprintf("%v: bucket %#02x", ErrPoisoned, e.Bucket)
}

func (e *PoisonedError) Unwrap() error { return ErrPoisoned }

type bucket struct {
	mu       sync.RWMutex
	ids      map[blobid.ID]struct{}
	poisoned bool
	key      uint8
}

// Set is safe for concurrent use. The zero value is not usable; call New.
type Set struct {
	buckets [NumBuckets]bucket
}

// New returns an empty set.
func New() *Set {
	s := &Set{}
	for i := range s.buckets {
		s.buckets[i].ids = make(map[blobid.ID]struct{}, bucketCapacity)
		s.buckets[i].key = uint8(i)
	}
	return s
}

func (s *Set) bucket(id blobid.ID) *bucket {
	return &s.buckets[id.PartitionKey()]
}

// Insert adds id and reports whether the set changed.
func (s *Set) Insert(id blobid.ID) bool {
	return s.update(id, func(ids map[blobid.ID]struct{}) bool {
		if _, ok := ids[id]; ok {
			return false
		}
		ids[id] = struct{}{}
		return true
	})
}

// Contains reports whether id has been inserted.
func (s *Set) Contains(id blobid.ID) bool {
	b := s.bucket(id)
	b.mu.RLock()
	defer b.mu.RUnlock()
	b.checkLocked()
	_, ok := b.ids[id]
	return ok
}

// Len sums the bucket sizes, locking one bucket at a time. Under concurrent
// inserts the result need not match the set at any single instant.
func (s *Set) Len() int {
	n := 0
	for i := range s.buckets {
		n += s.BucketLen(uint8(i))
	}
	return n
}

// BucketLen returns the number of ids sharing partition key key.
func (s *Set) BucketLen(key uint8) int {
	b := &s.buckets[key]
	b.mu.RLock()
	defer b.mu.RUnlock()
	b.checkLocked()
	return len(b.ids)
}

// update runs fn with the bucket of id exclusively locked.
func (s *Set) update(id blobid.ID, fn func(map[blobid.ID]struct{}) bool) bool {
	b := s.bucket(id)
	b.mu.Lock()
	defer b.release()
	b.checkLocked()
	return fn(b.ids)
}

func (b *bucket) checkLocked() {
	if b.poisoned {
		panic(&PoisonedError{Bucket: b.key})
	}
}

// release unlocks an exclusively held bucket. A panic in flight poisons the
// bucket before it propagates.
func (b *bucket) release() {
	if r := recover(); r != nil {
		b.poisoned = true
		b.mu.Unlock()
		panic(r)
	}
	b.mu.Unlock()
}
