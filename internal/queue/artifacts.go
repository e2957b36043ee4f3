package queue

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/DavidJBarnes/wanly-api/internal/domain"
)

// SegmentOutput is a worker's rendered clip and its final frame.
type SegmentOutput struct {
	WorkerID  *string
	Video     []byte
	LastFrame []byte
}

// UploadSegmentOutput stores a worker's render under the job's prefix and
// completes the segment with the stored references, resolving the job the
// same way a completed report does.
func (s *Service) UploadSegmentOutput(ctx context.Context, segmentID string, out SegmentOutput) (*domain.Segment, error) {
	if len(out.Video) == 0 || len(out.LastFrame) == 0 {
		return nil, fmt.Errorf("%w: video and last_frame are required", domain.ErrValidation)
	}
	if s.objects == nil {
		return nil, fmt.Errorf("%w: object storage not configured", domain.ErrUpstreamIO)
	}

	// A segment that is no longer claimed is rejected before anything is written.
	var seg *domain.Segment
	err := s.store.WithTx(ctx, func(tx domain.Tx) error {
		var err error
		seg, err = tx.GetSegment(ctx, segmentID)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("upload segment %s: %w", segmentID, err)
	}
	if !canReport(seg.Status, domain.SegmentStatusCompleted) {
		return nil, fmt.Errorf("%w: cannot upload output for a %s segment", domain.ErrInvalidTransition, seg.Status)
	}
	if out.WorkerID != nil && (seg.WorkerID == nil || *seg.WorkerID != *out.WorkerID) {
		return nil, fmt.Errorf("%w: segment %s is not claimed by worker %s", domain.ErrInvalidTransition, segmentID, *out.WorkerID)
	}

	var videoRef, frameRef string
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		ref, err := s.objects.Store(gctx, out.Video, fmt.Sprintf("%s/%d_output.mp4", seg.JobID, seg.Index))
		if err != nil {
			return fmt.Errorf("%w: store video: %v", domain.ErrUpstreamIO, err)
		}
		videoRef = ref
		return nil
	})
	g.Go(func() error {
		ref, err := s.objects.Store(gctx, out.LastFrame, fmt.Sprintf("%s/%d_last_frame.png", seg.JobID, seg.Index))
		if err != nil {
			return fmt.Errorf("%w: store last frame: %v", domain.ErrUpstreamIO, err)
		}
		frameRef = ref
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("upload segment %s: %w", segmentID, err)
	}

	completed := domain.SegmentStatusCompleted
	return s.ReportSegmentStatus(ctx, segmentID, SegmentReport{
		Status:        &completed,
		OutputPath:    &videoRef,
		LastFramePath: &frameRef,
		WorkerID:      out.WorkerID,
	})
}

// FetchObject reads a stored artifact so workers without storage
// credentials can pull start and face-swap images.
func (s *Service) FetchObject(ctx context.Context, ref string) ([]byte, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return nil, fmt.Errorf("%w: path is required", domain.ErrValidation)
	}
	if s.objects == nil {
		return nil, fmt.Errorf("%w: object storage not configured", domain.ErrUpstreamIO)
	}
	data, err := s.objects.Fetch(ctx, ref)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) || errors.Is(err, domain.ErrValidation) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: fetch %s: %v", domain.ErrUpstreamIO, ref, err)
	}
	return data, nil
}
