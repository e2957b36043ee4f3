// Package queue implements the work-distribution engine: job admission and
// ordering, atomic segment claiming with stale reclamation, the job/segment
// status state machine and run-time estimation. Every decision is re-derived
// from the store, so any number of service instances may run side by side.
package queue

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/DavidJBarnes/wanly-api/internal/domain"
	"github.com/DavidJBarnes/wanly-api/internal/infra"
	"github.com/DavidJBarnes/wanly-api/internal/resolver"
)

// DefaultStaleAfter is the claim age after which a silent worker loses its segment.
const DefaultStaleAfter = 30 * time.Minute

// Finalizer schedules the stitch pipeline for a video. Implementations must
// return promptly; the pipeline runs after the triggering request returns.
type Finalizer interface {
	Finalize(videoID, jobID string)
}

// ObjectStore is the subset of object storage the queue reads, writes and
// cleans up.
type ObjectStore interface {
	Store(ctx context.Context, data []byte, key string) (string, error)
	Fetch(ctx context.Context, ref string) ([]byte, error)
	Delete(ctx context.Context, ref string) error
	DeletePrefix(ctx context.Context, prefix string) (int, error)
}

// Options configures a Service.
type Options struct {
	Store      domain.Store
	Catalog    domain.Catalog
	Objects    ObjectStore
	Finalizer  Finalizer
	Logger     *infra.Logger
	StaleAfter time.Duration
	Now        func() time.Time
}

// Service exposes the queue operations.
type Service struct {
	store      domain.Store
	resolver   *resolver.Resolver
	objects    ObjectStore
	finalizer  Finalizer
	logger     zerolog.Logger
	staleAfter time.Duration
	now        func() time.Time
}

// New constructs a Service.
func New(opts Options) *Service {
	svc := &Service{
		store:      opts.Store,
		resolver:   resolver.New(opts.Catalog),
		objects:    opts.Objects,
		finalizer:  opts.Finalizer,
		logger:     zerolog.Nop(),
		staleAfter: opts.StaleAfter,
		now:        opts.Now,
	}
	if opts.Logger != nil {
		svc.logger = opts.Logger.With().Str("component", "queue").Logger()
	}
	if svc.staleAfter <= 0 {
		svc.staleAfter = DefaultStaleAfter
	}
	if svc.now == nil {
		svc.now = func() time.Time { return time.Now().UTC() }
	}
	return svc
}

// Resolver exposes the reference resolver, mainly for tests that need a
// deterministic option picker.
func (s *Service) Resolver() *resolver.Resolver {
	return s.resolver
}

// StaleAfter returns the configured reclamation threshold.
func (s *Service) StaleAfter() time.Duration {
	return s.staleAfter
}

// log returns the request-scoped logger carried by ctx, tagged with this
// component, or the service logger when ctx has none.
func (s *Service) log(ctx context.Context) *zerolog.Logger {
	if l := zerolog.Ctx(ctx); l.GetLevel() != zerolog.Disabled {
		scoped := l.With().Str("component", "queue").Logger()
		return &scoped
	}
	return &s.logger
}

func (s *Service) dispatchFinalize(videoID, jobID string) {
	if s.finalizer == nil {
		s.logger.Warn().Str("video_id", videoID).Str("job_id", jobID).Msg("queue: no finalizer configured, video left pending")
		return
	}
	s.logger.Info().Str("video_id", videoID).Str("job_id", jobID).Msg("queue: finalize dispatched")
	s.finalizer.Finalize(videoID, jobID)
}

// removeObjects deletes stored artifacts after a commit. Failures are logged only.
func (s *Service) removeObjects(ctx context.Context, refs []string) {
	if s.objects == nil {
		return
	}
	for _, ref := range refs {
		if ref == "" {
			continue
		}
		if err := s.objects.Delete(ctx, ref); err != nil {
			s.logger.Warn().Err(err).Str("ref", ref).Msg("queue: delete object failed")
		}
	}
}
