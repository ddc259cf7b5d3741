// Package cleanup enforces data retention on the artifact store.
package cleanup

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"go.uber.org/multierr"

	"github.com/autoqa/autoqa/pkg/artifact"
	"github.com/autoqa/autoqa/pkg/config"
	"github.com/autoqa/autoqa/pkg/ids"
)

// artifactPrefix scopes the sweep to artifact blobs. Reports are kept: they
// are the durable record of an execution and carry no timestamp in their key.
const artifactPrefix = "artifacts/"

// Service periodically deletes artifacts past their retention age. Artifact
// age is read from the sortable timestamp embedded in the blob key, so the
// sweep needs no metadata lookups. All operations are idempotent.
type Service struct {
	cfg    *config.RetentionConfig
	store  artifact.BlobStore
	logger *slog.Logger

	cancel context.CancelFunc
	done   chan struct{}
}

// NewService creates a retention service over store.
func NewService(cfg *config.RetentionConfig, store artifact.BlobStore) *Service {
	return &Service{
		cfg:    cfg,
		store:  store,
		logger: slog.With("component", "cleanup"),
	}
}

// Start launches the background sweep loop.
func (s *Service) Start(ctx context.Context) {
	if s.cancel != nil {
		return
	}
	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})

	go s.run(ctx)

	s.logger.Info("Cleanup service started",
		"artifact_max_age", s.cfg.ArtifactMaxAge,
		"sweep_interval", s.cfg.SweepInterval)
}

// Stop signals the sweep loop to exit and waits for it to finish.
func (s *Service) Stop() {
	if s.cancel == nil {
		return
	}
	s.cancel()
	<-s.done
	s.logger.Info("Cleanup service stopped")
}

func (s *Service) run(ctx context.Context) {
	defer close(s.done)

	s.sweep(ctx)

	ticker := time.NewTicker(s.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sweep(ctx)
		}
	}
}

// sweep deletes every artifact older than ArtifactMaxAge. Keys without a
// parseable timestamp are left alone.
func (s *Service) sweep(ctx context.Context) {
	keys, err := s.store.List(ctx, artifactPrefix)
	if err != nil {
		s.logger.Error("Retention: listing artifacts failed", "error", err)
		return
	}

	cutoff := time.Now().Add(-s.cfg.ArtifactMaxAge)
	deleted := 0
	var errs error
	for _, key := range keys {
		ts, ok := keyTimestamp(key)
		if !ok || !ts.Before(cutoff) {
			continue
		}
		if err := s.store.Delete(ctx, key); err != nil {
			errs = multierr.Append(errs, err)
			continue
		}
		deleted++
	}

	if errs != nil {
		s.logger.Error("Retention: artifact deletes failed", "error", errs)
	}
	if deleted > 0 {
		s.logger.Info("Retention: deleted expired artifacts", "count", deleted)
	}
}

// keyTimestamp extracts the capture time from an artifact blob key:
//
//	artifacts/{testId}/{executionId}/{kind}/{sortable-timestamp}.{ext}
func keyTimestamp(key string) (time.Time, bool) {
	parts := strings.Split(key, "/")
	if len(parts) != 5 {
		return time.Time{}, false
	}
	segment := parts[4]
	i := strings.Index(segment, "Z.")
	if i < 0 {
		return time.Time{}, false
	}
	ts, err := ids.ParseSortableTimestamp(segment[:i+1])
	if err != nil {
		return time.Time{}, false
	}
	return ts, true
}
