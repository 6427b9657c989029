// Package input enumerates candidate files for scanning.
package input

import (
	"context"
	"time"
)

// FileEvent is a single file to be hashed.
type FileEvent struct {
	Path    string
	Name    string // display name; defaults to Path
	Size    int64  // 0 when unknown
	ModTime time.Time
}

// Source emits file events until its input is exhausted or ctx is done.
// The events channel is closed when the source finishes.
type Source interface {
	Start(ctx context.Context) error
	Events() <-chan FileEvent
}

func emit(ctx context.Context, out chan<- FileEvent, fe FileEvent) bool {
	select {
	case out <- fe:
		return true
	case <-ctx.Done():
		return false
	}
}
