package storage

import (
	"context"
	"fmt"
	"log/slog"

	"callsense/internal/config"
)

// Open builds the Router for cfg. cfg.Backend picks the writer; both schemes stay
// readable under either setting so records written before a backend switch still
// resolve. The returned close func releases the object storage client if one was dialed.
//
// A gcs backend that cannot reach its bucket still yields a Router: writes then
// fail with ErrStorageConfig and the process keeps serving.
func Open(ctx context.Context, cfg config.StorageConfig, log *slog.Logger) (*Router, func() error, error) {
	noop := func() error { return nil }

	remote, closeRemote := NewLazyGCSBackend(cfg.GCSEndpoint, cfg.Bucket, cfg.KMSKeyName)

	switch cfg.Backend {
	case config.StorageBackendLocal:
		local, err := NewLocalBackend(cfg.LocalDir)
		if err != nil {
			return nil, noop, err
		}
		return NewRouter(local, remote), closeRemote, nil

	case config.StorageBackendGCS:
		if err := remote.Configured(); err != nil {
			log.Error("recording storage misconfigured; ingestion will fail until fixed", "err", err)
		} else if err := remote.Dial(ctx); err != nil {
			log.Error("object storage client unavailable; retrying on first use", "err", err)
		}
		return NewRouter(remote, LocalReader()), closeRemote, nil

	default:
		return nil, noop, fmt.Errorf("%w: unknown backend %q", ErrStorageConfig, cfg.Backend)
	}
}
