package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"
	"go.uber.org/multierr"

	"github.com/luhtaf/blobseen/internal/config"
	"github.com/luhtaf/blobseen/internal/dedupe"
	"github.com/luhtaf/blobseen/internal/input"
	"github.com/luhtaf/blobseen/internal/log"
	"github.com/luhtaf/blobseen/internal/scan"
	"github.com/luhtaf/blobseen/internal/uploader"
)

func main() {
	fs := pflag.NewFlagSet("blobseen", pflag.ExitOnError)
	cfgPath := fs.String("config", os.Getenv("CONFIG_PATH"), "Path to YAML config file")
	fs.StringSlice("root", nil, "Directory to scan (repeatable)")
	fs.String("manifest", "", "JSON-lines file listing paths to scan")
	fs.Int("workers", 0, "Number of hashing workers")
	fs.String("log-level", "", "debug|info|warn|error")
	_ = fs.Parse(os.Args[1:])

	cfg, err := config.Load(*cfgPath, fs)
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(2)
	}
	if err := log.InitWithConfig(cfg.Logging.Level, cfg.Logging.Format); err != nil {
		fmt.Fprintln(os.Stderr, "logging:", err)
		os.Exit(2)
	}
	defer log.Sync()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, cfg); err != nil {
		log.L.Errorw("run", "err", err)
		log.Sync()
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Config) (err error) {
	src, err := source(cfg.Input)
	if err != nil {
		return err
	}

	seen := dedupe.NewInMemory()
	var catalog scan.Catalog
	if cfg.Dedupe.Enabled {
		db, derr := dedupe.OpenSQLite(cfg.Dedupe.SQLitePath)
		if derr != nil {
			return fmt.Errorf("dedupe open sqlite %s: %w", cfg.Dedupe.SQLitePath, derr)
		}
		defer func() { err = multierr.Append(err, db.Close()) }()

		removed, gerr := db.GC(ctx, cfg.Dedupe.RetentionDays)
		if gerr != nil {
			return fmt.Errorf("dedupe gc: %w", gerr)
		}
		if removed > 0 {
			log.L.Infow("dedupe_gc", "event", "dedupe_gc", "removed", removed)
		}
		n, lerr := db.Load(ctx, seen)
		if lerr != nil {
			return fmt.Errorf("dedupe load: %w", lerr)
		}
		log.L.Infow("dedupe_loaded", "event", "dedupe_loaded", "blobs", n, "path", cfg.Dedupe.SQLitePath)
		catalog = db
	}

	var archiver scan.Archiver
	if cfg.S3.Enabled {
		u, uerr := uploader.New(cfg.S3.Endpoint, cfg.S3.AccessKey, cfg.S3.SecretKey, cfg.S3.Bucket, cfg.S3.Prefix, cfg.S3.UseSSL)
		if uerr != nil {
			return fmt.Errorf("uploader: %w", uerr)
		}
		if uerr := u.EnsureBucket(ctx); uerr != nil {
			return fmt.Errorf("ensure bucket %s: %w", cfg.S3.Bucket, uerr)
		}
		archiver = u
	}

	s := scan.New(cfg.Scan, seen, catalog, archiver)
	st, serr := s.Run(ctx, src)
	if serr != nil {
		// Only a source that failed to start leaves the error counter at zero.
		if st.Errors == 0 {
			return serr
		}
		log.L.Warnw("scan_errors", "event", "scan_errors", "run_id", s.RunID(), "errors", st.Errors, "first", multierr.Errors(serr)[0])
	}
	if ctx.Err() != nil {
		log.L.Info("shutting down")
	}
	return nil
}

func source(in config.InputCfg) (input.Source, error) {
	switch {
	case in.Manifest != "" && len(in.Roots) > 0:
		return nil, fmt.Errorf("input: set either roots or manifest, not both")
	case in.Manifest != "":
		return input.NewManifest(in.Manifest), nil
	case len(in.Roots) > 0:
		return input.NewWalker(in.Roots, in.Exclude, in.MaxFileSize), nil
	default:
		return nil, fmt.Errorf("input: no roots or manifest configured")
	}
}
