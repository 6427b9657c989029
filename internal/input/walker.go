package input

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/luhtaf/blobseen/internal/log"
)

// Walker walks directory trees and emits every regular file.
type Walker struct {
	roots   []string
	exclude map[string]struct{}
	maxSize int64
	out     chan FileEvent
}

// NewWalker constructs a Walker. Directories whose base name is in exclude
// are skipped, as are files larger than maxSize when maxSize > 0.
func NewWalker(roots, exclude []string, maxSize int64) *Walker {
	ex := make(map[string]struct{}, len(exclude))
	for _, e := range exclude {
		ex[e] = struct{}{}
	}
	return &Walker{roots: roots, exclude: ex, maxSize: maxSize, out: make(chan FileEvent, 1024)}
}

// Events returns the consumer channel.
func (w *Walker) Events() <-chan FileEvent { return w.out }

// Start checks that every root exists and walks them in the background.
func (w *Walker) Start(ctx context.Context) error {
	for _, root := range w.roots {
		if _, err := os.Stat(root); err != nil {
			return err
		}
	}
	go func() {
		defer close(w.out)
		for _, root := range w.roots {
			if err := filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
				return w.visit(ctx, p, d, err)
			}); err != nil {
				if ctx.Err() == nil {
					log.L.Warnw("walk", "root", root, "err", err)
				}
				return
			}
		}
	}()
	return nil
}

func (w *Walker) visit(ctx context.Context, p string, d fs.DirEntry, err error) error {
	if err != nil {
		log.L.Warnw("walk_skip", "event", "walk_skip", "path", p, "err", err)
		if d != nil && d.IsDir() {
			return fs.SkipDir
		}
		return nil
	}
	if d.IsDir() {
		if _, skip := w.exclude[d.Name()]; skip {
			return fs.SkipDir
		}
		return nil
	}
	if !d.Type().IsRegular() {
		return nil
	}
	fi, err := d.Info()
	if err != nil {
		log.L.Warnw("walk_skip", "event", "walk_skip", "path", p, "err", err)
		return nil
	}
	if w.maxSize > 0 && fi.Size() > w.maxSize {
		log.L.Debugw("skip_large", "event", "skip_large", "path", p, "size", fi.Size())
		return nil
	}
	if !emit(ctx, w.out, FileEvent{Path: p, Name: p, Size: fi.Size(), ModTime: fi.ModTime()}) {
		return ctx.Err()
	}
	return nil
}
