package queue

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/DavidJBarnes/wanly-api/internal/domain"
	"github.com/DavidJBarnes/wanly-api/internal/domain/jsoncfg"
)

// SegmentReport is a worker's progress or completion report. Nil fields are
// left untouched.
type SegmentReport struct {
	Status        *domain.SegmentStatus
	OutputPath    *string
	LastFramePath *string
	ErrorMessage  *string
	ProgressLog   *string
	// WorkerID, when set, must match the current claim holder.
	WorkerID *string
}

// newSegment resolves placeholders and modifier references once, producing
// the record that will be stored.
func (s *Service) newSegment(ctx context.Context, jobID string, index int, spec jsoncfg.SegmentSpec) (*domain.Segment, error) {
	prompt, template, err := s.resolver.ResolvePrompt(ctx, spec.Prompt)
	if err != nil {
		return nil, err
	}
	modifiers, err := s.resolver.ResolveModifiers(ctx, spec.Modifiers)
	if err != nil {
		return nil, err
	}
	return &domain.Segment{
		ID:              uuid.NewString(),
		JobID:           jobID,
		Index:           index,
		Prompt:          prompt,
		PromptTemplate:  template,
		DurationSeconds: spec.DurationSeconds,
		Speed:           spec.Speed,
		StartImage:      spec.StartImage,
		Modifiers:       modifiers,
		FaceSwap:        spec.FaceSwap,
		AutoFinalize:    spec.AutoFinalize,
		Status:          domain.SegmentStatusPending,
		CreatedAt:       s.now(),
	}, nil
}

// AddSegment appends a segment to an awaiting or failed job and queues the
// job for dispatch again.
func (s *Service) AddSegment(ctx context.Context, userID, jobID string, spec jsoncfg.SegmentSpec) (*domain.Segment, error) {
	spec.Normalize()
	if err := spec.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrValidation, err)
	}
	seg, err := s.newSegment(ctx, jobID, 0, spec)
	if err != nil {
		return nil, err
	}
	err = s.store.WithTx(ctx, func(tx domain.Tx) error {
		job, err := tx.LockJob(ctx, jobID)
		if err != nil {
			return err
		}
		if job.UserID != userID {
			return fmt.Errorf("job %s: %w", jobID, domain.ErrNotFound)
		}
		if !acceptsSegments(job.Status) {
			return fmt.Errorf("%w: job must be awaiting or failed to add segments (current: %s)", domain.ErrInvalidTransition, job.Status)
		}
		existing, err := tx.ListSegments(ctx, jobID)
		if err != nil {
			return err
		}
		seg.Index = len(existing)
		if err := tx.InsertSegment(ctx, seg); err != nil {
			return err
		}
		job.Status = domain.JobStatusPending
		return tx.UpdateJob(ctx, job)
	})
	if err != nil {
		return nil, fmt.Errorf("add segment: %w", err)
	}
	s.log(ctx).Info().Str("job_id", jobID).Str("segment_id", seg.ID).Int("index", seg.Index).Msg("queue: segment added")
	return seg, nil
}

// ReportSegmentStatus records a worker report. When a terminal status leaves
// the job without active segments the job status is resolved, and an
// auto-finalizing completion schedules the finalize pipeline.
func (s *Service) ReportSegmentStatus(ctx context.Context, segmentID string, report SegmentReport) (*domain.Segment, error) {
	var (
		updated *domain.Segment
		videoID string
	)
	err := s.store.WithTx(ctx, func(tx domain.Tx) error {
		seg, err := tx.LockSegment(ctx, segmentID)
		if err != nil {
			return err
		}
		if report.WorkerID != nil && (seg.WorkerID == nil || *seg.WorkerID != *report.WorkerID) {
			return fmt.Errorf("%w: segment %s is not claimed by worker %s", domain.ErrInvalidTransition, segmentID, *report.WorkerID)
		}
		target := seg.Status
		if report.Status != nil {
			target = *report.Status
			if !target.Valid() {
				return fmt.Errorf("%w: unknown segment status %q", domain.ErrValidation, target)
			}
		}
		if !canReport(seg.Status, target) {
			return fmt.Errorf("%w: cannot report %s on a %s segment", domain.ErrInvalidTransition, target, seg.Status)
		}
		// Terminal reports hold the job row before the segment write becomes
		// visible, so concurrent reporters count the active set one at a time.
		var job *domain.Job
		if target.Terminal() {
			if job, err = tx.LockJob(ctx, seg.JobID); err != nil {
				return err
			}
		}

		seg.Status = target
		if report.OutputPath != nil {
			seg.OutputPath = report.OutputPath
		}
		if report.LastFramePath != nil {
			seg.LastFramePath = report.LastFramePath
		}
		if report.ErrorMessage != nil {
			seg.ErrorMessage = report.ErrorMessage
		}
		if report.ProgressLog != nil {
			seg.ProgressLog = report.ProgressLog
		}
		if target.Terminal() {
			completedAt := s.now()
			seg.CompletedAt = &completedAt
		}
		if err := tx.UpdateSegment(ctx, seg); err != nil {
			return err
		}
		updated = seg
		if job == nil {
			return nil
		}

		active, err := tx.CountActiveSegments(ctx, job.ID)
		if err != nil {
			return err
		}
		if active > 0 {
			return nil
		}
		outcome := jobOutcome(seg)
		if outcome == domain.JobStatusFinalized {
			videos, err := tx.ListVideos(ctx, job.ID)
			if err != nil {
				return err
			}
			if hasOpenVideo(videos) {
				s.log(ctx).Warn().Str("job_id", job.ID).Msg("queue: finalize already outstanding, skipping trigger")
			} else {
				video := &domain.Video{ID: uuid.NewString(), JobID: job.ID, Status: domain.VideoStatusPending, CreatedAt: s.now()}
				if err := tx.InsertVideo(ctx, video); err != nil {
					return err
				}
				videoID = video.ID
			}
		}
		job.Status = outcome
		return tx.UpdateJob(ctx, job)
	})
	if err != nil {
		return nil, fmt.Errorf("report segment %s: %w", segmentID, err)
	}
	if videoID != "" {
		s.dispatchFinalize(videoID, updated.JobID)
	}
	return updated, nil
}

// RetrySegment returns a failed segment to pending with every claim, output
// and error field cleared.
func (s *Service) RetrySegment(ctx context.Context, segmentID string) (*domain.Segment, error) {
	var retried *domain.Segment
	err := s.store.WithTx(ctx, func(tx domain.Tx) error {
		seg, err := tx.LockSegment(ctx, segmentID)
		if err != nil {
			return err
		}
		if seg.Status != domain.SegmentStatusFailed {
			return fmt.Errorf("%w: only failed segments can be retried (current: %s)", domain.ErrInvalidTransition, seg.Status)
		}
		seg.Status = domain.SegmentStatusPending
		seg.ClearClaim()
		seg.CompletedAt = nil
		seg.OutputPath = nil
		seg.LastFramePath = nil
		seg.ErrorMessage = nil
		if err := tx.UpdateSegment(ctx, seg); err != nil {
			return err
		}
		job, err := tx.LockJob(ctx, seg.JobID)
		if err != nil {
			return err
		}
		if acceptsSegments(job.Status) {
			job.Status = domain.JobStatusPending
			if err := tx.UpdateJob(ctx, job); err != nil {
				return err
			}
		}
		retried = seg
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("retry segment %s: %w", segmentID, err)
	}
	return retried, nil
}

// DeleteSegment removes a pending, completed or failed segment that is not
// the job's only segment, then renumbers the rest to 0..N-1.
func (s *Service) DeleteSegment(ctx context.Context, segmentID string) error {
	var artifacts []string
	err := s.store.WithTx(ctx, func(tx domain.Tx) error {
		seg, err := tx.LockSegment(ctx, segmentID)
		if err != nil {
			return err
		}
		if !deletableSegment(seg.Status) {
			return fmt.Errorf("%w: cannot delete a %s segment", domain.ErrInvalidTransition, seg.Status)
		}
		job, err := tx.LockJob(ctx, seg.JobID)
		if err != nil {
			return err
		}
		siblings, err := tx.ListSegments(ctx, job.ID)
		if err != nil {
			return err
		}
		if len(siblings) <= 1 {
			return fmt.Errorf("%w: cannot delete the only segment", domain.ErrValidation)
		}
		if err := tx.DeleteSegment(ctx, seg.ID); err != nil {
			return err
		}
		if err := tx.ReindexSegments(ctx, job.ID); err != nil {
			return err
		}
		if job.Status.Dispatchable() {
			active, err := tx.CountActiveSegments(ctx, job.ID)
			if err != nil {
				return err
			}
			if active == 0 {
				job.Status = domain.JobStatusAwaiting
				if err := tx.UpdateJob(ctx, job); err != nil {
					return err
				}
			}
		}
		for _, ref := range []*string{seg.OutputPath, seg.LastFramePath} {
			if ref != nil {
				artifacts = append(artifacts, *ref)
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("delete segment %s: %w", segmentID, err)
	}
	s.removeObjects(ctx, artifacts)
	return nil
}
