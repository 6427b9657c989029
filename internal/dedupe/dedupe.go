package dedupe

import (
	"github.com/luhtaf/blobseen/internal/blobid"
	"github.com/luhtaf/blobseen/internal/blobidset"
)

// InMemory is a non-persistent dedupe set backed by a sharded blob id set.
type InMemory struct {
	set *blobidset.Set
}

// NewInMemory constructs an in-memory dedupe set.
func NewInMemory() *InMemory { return &InMemory{set: blobidset.New()} }

// Seen reports whether id exists.
func (d *InMemory) Seen(id blobid.ID) bool { return d.set.Contains(id) }

// Mark records id as seen and reports whether it was new.
func (d *InMemory) Mark(id blobid.ID) bool { return d.set.Insert(id) }

// Len is approximate while other goroutines are marking.
func (d *InMemory) Len() int { return d.set.Len() }
