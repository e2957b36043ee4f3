package queue

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/DavidJBarnes/wanly-api/internal/domain"
)

// ClaimNext hands the next pending segment to a worker. It returns nil when
// there is no work. Stale claims are swept in the same transaction.
func (s *Service) ClaimNext(ctx context.Context, workerID string, workerName *string) (*domain.SegmentClaim, error) {
	workerID = strings.TrimSpace(workerID)
	if workerID == "" {
		return nil, fmt.Errorf("%w: worker_id is required", domain.ErrValidation)
	}
	if workerName != nil && strings.TrimSpace(*workerName) == "" {
		workerName = nil
	}

	now := s.now()
	var claim *domain.SegmentClaim
	err := s.store.WithTx(ctx, func(tx domain.Tx) error {
		reclaimed, err := tx.ReclaimStale(ctx, now.Add(-s.staleAfter))
		if err != nil {
			return fmt.Errorf("reclaim stale: %w", err)
		}
		if reclaimed > 0 {
			s.log(ctx).Warn().Int("count", reclaimed).Dur("stale_after", s.staleAfter).Msg("queue: reclaimed stale segments")
		}

		seg, job, err := lockClaimable(ctx, tx)
		if errors.Is(err, domain.ErrNoWork) {
			return nil
		}
		if err != nil {
			return err
		}

		seg.Status = domain.SegmentStatusClaimed
		seg.WorkerID = &workerID
		seg.WorkerName = workerName
		claimedAt := now
		seg.ClaimedAt = &claimedAt
		seg.CompletedAt = nil
		seg.ProgressLog = nil
		if err := tx.UpdateSegment(ctx, seg); err != nil {
			return err
		}
		if job.Status == domain.JobStatusPending {
			job.Status = domain.JobStatusProcessing
			if err := tx.UpdateJob(ctx, job); err != nil {
				return err
			}
		}

		start, err := effectiveStartImage(ctx, tx, seg, job)
		if err != nil {
			return err
		}
		claim = newClaim(seg, job, start)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("claim next segment: %w", err)
	}
	if claim != nil {
		s.log(ctx).Info().
			Str("segment_id", claim.ID).
			Str("job_id", claim.JobID).
			Int("index", claim.Index).
			Str("worker_id", workerID).
			Msg("queue: segment claimed")
	}
	return claim, nil
}

// maxClaimAttempts bounds how many candidates one claim inspects when their
// jobs stop being dispatchable between selection and locking.
const maxClaimAttempts = 8

// lockClaimable locks the next pending segment together with its job. A
// candidate whose job was paused or finalized after selection is passed over
// and the next one is tried.
func lockClaimable(ctx context.Context, tx domain.Tx) (*domain.Segment, *domain.Job, error) {
	for attempt := 0; attempt < maxClaimAttempts; attempt++ {
		seg, err := tx.LockNextClaimable(ctx)
		if err != nil {
			if errors.Is(err, domain.ErrNoWork) {
				return nil, nil, err
			}
			return nil, nil, fmt.Errorf("select claimable: %w", err)
		}
		job, err := tx.LockJob(ctx, seg.JobID)
		if err != nil {
			return nil, nil, err
		}
		if job.Status.Dispatchable() {
			return seg, job, nil
		}
	}
	return nil, nil, domain.ErrNoWork
}

// effectiveStartImage follows the segment chain: an explicit start image
// wins, index 0 falls back to the job's starting image, later segments use
// the previous segment's last frame. Nothing is persisted.
func effectiveStartImage(ctx context.Context, tx domain.Tx, seg *domain.Segment, job *domain.Job) (*string, error) {
	if seg.StartImage != nil {
		return seg.StartImage, nil
	}
	if seg.Index == 0 {
		return job.StartingImage, nil
	}
	prev, err := tx.SegmentAt(ctx, job.ID, seg.Index-1)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return prev.LastFramePath, nil
}

func newClaim(seg *domain.Segment, job *domain.Job, start *string) *domain.SegmentClaim {
	return &domain.SegmentClaim{
		ID:              seg.ID,
		JobID:           seg.JobID,
		Index:           seg.Index,
		Prompt:          seg.Prompt,
		DurationSeconds: seg.DurationSeconds,
		Speed:           seg.Speed,
		StartImage:      start,
		Modifiers:       seg.Modifiers,
		FaceSwap:        seg.FaceSwap,
		Width:           job.Width,
		Height:          job.Height,
		FPS:             job.FPS,
		Seed:            job.Seed,
	}
}
