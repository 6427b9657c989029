// Package scan hashes enumerated files and processes each distinct blob once.
package scan

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"github.com/sourcegraph/conc/pool"
	"go.uber.org/multierr"

	"github.com/luhtaf/blobseen/internal/blobid"
	"github.com/luhtaf/blobseen/internal/config"
	"github.com/luhtaf/blobseen/internal/dedupe"
	"github.com/luhtaf/blobseen/internal/input"
	"github.com/luhtaf/blobseen/internal/log"
	"github.com/luhtaf/blobseen/internal/meta"
)

// maxKeptErrors bounds the per-file errors returned from Run.
const maxKeptErrors = 100

// Catalog persists unique blobs.
type Catalog interface {
	Mark(ctx context.Context, rec dedupe.Record) error
	Touch(ctx context.Context, id blobid.ID) (bool, error)
}

// Archiver stores blob content and returns its object key.
type Archiver interface {
	Upload(ctx context.Context, bm meta.BlobMeta) (string, error)
}

// Stats summarises a run.
type Stats struct {
	Files      int64
	Unique     int64
	Duplicates int64
	Bytes      int64
	Errors     int64
}

type Scanner struct {
	cfg      config.ScanCfg
	seen     *dedupe.InMemory
	catalog  Catalog
	archiver Archiver
	runID    string

	files, unique, duplicates, bytes, errors atomic.Int64

	mu   sync.Mutex
	errs error
}

// New constructs a Scanner. catalog and archiver may be nil.
func New(cfg config.ScanCfg, seen *dedupe.InMemory, catalog Catalog, archiver Archiver) *Scanner {
	if cfg.Workers < 1 {
		cfg.Workers = 1
	}
	if cfg.MaxRetries < 1 {
		cfg.MaxRetries = 1
	}
	return &Scanner{
		cfg:      cfg,
		seen:     seen,
		catalog:  catalog,
		archiver: archiver,
		runID:    uuid.NewString(),
	}
}

// RunID identifies this scanner in logs.
func (s *Scanner) RunID() string { return s.runID }

// Stats returns the counters so far.
func (s *Scanner) Stats() Stats {
	return Stats{
		Files:      s.files.Load(),
		Unique:     s.unique.Load(),
		Duplicates: s.duplicates.Load(),
		Bytes:      s.bytes.Load(),
		Errors:     s.errors.Load(),
	}
}

// Run drains src through the worker pool. The returned error combines the
// first per-file failures; the stats are valid either way.
func (s *Scanner) Run(ctx context.Context, src input.Source) (Stats, error) {
	if err := src.Start(ctx); err != nil {
		return s.Stats(), fmt.Errorf("start source: %w", err)
	}
	start := time.Now()
	log.L.Infow("scan_start", "event", "scan_start", "component", "blobseen", "run_id", s.runID, "workers", s.cfg.Workers)

	p := pool.New().WithMaxGoroutines(s.cfg.Workers)
	for fe := range src.Events() {
		fe := fe
		p.Go(func() { s.process(ctx, fe) })
	}
	p.Wait()

	st := s.Stats()
	log.L.Infow("scan_complete",
		"event", "scan_complete",
		"component", "blobseen",
		"run_id", s.runID,
		"files", st.Files,
		"unique", st.Unique,
		"duplicates", st.Duplicates,
		"errors", st.Errors,
		"bytes", humanize.Bytes(uint64(st.Bytes)),
		"seen_total", s.seen.Len(),
		"duration_ms", time.Since(start).Milliseconds(),
	)
	s.mu.Lock()
	defer s.mu.Unlock()
	return st, s.errs
}

func (s *Scanner) fail(err error) {
	if s.errors.Add(1) > maxKeptErrors {
		return
	}
	s.mu.Lock()
	s.errs = multierr.Append(s.errs, err)
	s.mu.Unlock()
}

func (s *Scanner) process(ctx context.Context, fe input.FileEvent) {
	if ctx.Err() != nil {
		return
	}
	id, size, err := blobid.FromFile(fe.Path)
	if err != nil {
		log.L.Warnw("hash", "path", fe.Path, "err", err)
		s.fail(err)
		return
	}
	s.files.Add(1)
	s.bytes.Add(size)

	if !s.seen.Mark(id) {
		s.duplicates.Add(1)
		log.L.Debugw("skip_duplicate", "event", "skip_duplicate", "component", "blobseen", "blob_id", id, "path", fe.Path)
		// Touch never inserts, so a blob whose first sighting failed to
		// archive stays out of the catalog.
		if s.catalog != nil {
			if _, err := s.catalog.Touch(ctx, id); err != nil {
				log.L.Warnw("catalog touch", "blob_id", id, "err", err)
				s.fail(fmt.Errorf("catalog %s: %w", id, err))
			}
		}
		return
	}
	s.unique.Add(1)

	bm := meta.BlobMeta{
		Path:    fe.Path,
		Name:    fe.Name,
		ID:      id,
		MIME:    meta.GuessMIME(fe.Name),
		ModTime: fe.ModTime,
		Size:    size,
	}

	var key string
	if s.archiver != nil {
		if key, err = s.archive(ctx, bm); err != nil {
			log.L.Errorw("upload_failed",
				"event", "upload_failed",
				"component", "blobseen",
				"blob_id", id,
				"err", err,
				"path", fe.Path,
			)
			s.fail(fmt.Errorf("archive %s: %w", fe.Path, err))
			// Left uncatalogued so the next run archives it again.
			return
		}
	}

	if s.catalog != nil {
		rec := dedupe.Record{ID: id, Path: fe.Path, Size: size, MIME: bm.MIME, ObjectKey: key}
		if err := s.catalog.Mark(ctx, rec); err != nil {
			log.L.Warnw("catalog mark", "blob_id", id, "err", err)
			s.fail(fmt.Errorf("catalog %s: %w", id, err))
		}
	}
	log.L.Infow("blob_new",
		"event", "blob_new",
		"component", "blobseen",
		"blob_id", id,
		"path", fe.Path,
		"size", size,
		"mime", bm.MIME,
		"key", key,
	)
}

// archive uploads with linear backoff.
func (s *Scanner) archive(ctx context.Context, bm meta.BlobMeta) (string, error) {
	var lastErr error
	for attempt := 1; attempt <= s.cfg.MaxRetries; attempt++ {
		key, err := s.archiver.Upload(ctx, bm)
		if err == nil {
			return key, nil
		}
		lastErr = err
		if attempt == s.cfg.MaxRetries {
			break
		}
		d := config.BackoffDuration(s.cfg.BackoffMS, attempt)
		log.L.Warnw("upload_retry",
			"event", "upload_retry",
			"component", "blobseen",
			"blob_id", bm.ID,
			"attempt", attempt,
			"delay", d.String(),
			"err", err,
		)
		select {
		case <-time.After(d):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	return "", lastErr
}
