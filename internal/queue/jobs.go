package queue

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/DavidJBarnes/wanly-api/internal/domain"
	"github.com/DavidJBarnes/wanly-api/internal/domain/jsoncfg"
)

const (
	defaultListLimit = 50
	maxListLimit     = 200
)

// JobDetail is a job with its segments, videos and run totals.
type JobDetail struct {
	Job                   domain.Job
	Segments              []domain.Segment
	Videos                []domain.Video
	CompletedSegmentCount int
	TotalRunTime          float64
	TotalVideoTime        float64
}

// JobUpdate is a user edit. Nil fields are left untouched.
type JobUpdate struct {
	Name   *string
	Status *domain.JobStatus
}

func ownedJob(ctx context.Context, tx domain.Tx, userID, jobID string, lock bool) (*domain.Job, error) {
	var (
		job *domain.Job
		err error
	)
	if lock {
		job, err = tx.LockJob(ctx, jobID)
	} else {
		job, err = tx.GetJob(ctx, jobID)
	}
	if err != nil {
		return nil, err
	}
	if job.UserID != userID {
		return nil, fmt.Errorf("job %s: %w", jobID, domain.ErrNotFound)
	}
	return job, nil
}

// GetJob loads a job owned by userID with its segments and videos.
func (s *Service) GetJob(ctx context.Context, userID, jobID string) (*JobDetail, error) {
	var detail *JobDetail
	err := s.store.WithTx(ctx, func(tx domain.Tx) error {
		job, err := ownedJob(ctx, tx, userID, jobID, false)
		if err != nil {
			return err
		}
		segments, err := tx.ListSegments(ctx, jobID)
		if err != nil {
			return err
		}
		videos, err := tx.ListVideos(ctx, jobID)
		if err != nil {
			return err
		}
		detail = buildDetail(*job, segments, videos)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return detail, nil
}

func buildDetail(job domain.Job, segments []domain.Segment, videos []domain.Video) *JobDetail {
	detail := &JobDetail{Job: job, Segments: segments, Videos: videos}
	for _, seg := range segments {
		if seg.Status != domain.SegmentStatusCompleted {
			continue
		}
		detail.CompletedSegmentCount++
		detail.TotalVideoTime += seg.DurationSeconds
		if seg.ClaimedAt != nil && seg.CompletedAt != nil {
			detail.TotalRunTime += seg.CompletedAt.Sub(*seg.ClaimedAt).Seconds()
		}
	}
	return detail
}

// ListJobs pages through an owner's jobs.
func (s *Service) ListJobs(ctx context.Context, filter domain.JobFilter) ([]domain.Job, int, error) {
	if filter.Limit <= 0 {
		filter.Limit = defaultListLimit
	}
	if filter.Limit > maxListLimit {
		filter.Limit = maxListLimit
	}
	if filter.Offset < 0 {
		filter.Offset = 0
	}
	for _, st := range filter.Statuses {
		if !st.Valid() {
			return nil, 0, fmt.Errorf("%w: unknown job status %q", domain.ErrValidation, st)
		}
	}
	filter.ExcludeFinished = len(filter.Statuses) == 0
	var (
		jobs  []domain.Job
		total int
	)
	err := s.store.WithTx(ctx, func(tx domain.Tx) error {
		var err error
		jobs, total, err = tx.ListJobs(ctx, filter)
		return err
	})
	if err != nil {
		return nil, 0, err
	}
	return jobs, total, nil
}

// UpdateJob renames a job and/or applies a user status transition. Moving an
// awaiting job to finalized creates a video and schedules the finalize pipeline.
func (s *Service) UpdateJob(ctx context.Context, userID, jobID string, upd JobUpdate) (*domain.Job, error) {
	if upd.Name != nil {
		name := strings.TrimSpace(*upd.Name)
		if name == "" || len(name) > jsoncfg.MaxJobNameLength {
			return nil, fmt.Errorf("%w: name must be 1..%d characters", domain.ErrValidation, jsoncfg.MaxJobNameLength)
		}
		upd.Name = &name
	}
	var (
		updated *domain.Job
		videoID string
	)
	err := s.store.WithTx(ctx, func(tx domain.Tx) error {
		job, err := ownedJob(ctx, tx, userID, jobID, true)
		if err != nil {
			return err
		}
		if upd.Name != nil {
			job.Name = *upd.Name
		}
		if upd.Status != nil {
			target := *upd.Status
			if !CanTransition(job.Status, target) {
				return fmt.Errorf("%w: cannot transition from %s to %s", domain.ErrInvalidTransition, job.Status, target)
			}
			if target == domain.JobStatusFinalized {
				videos, err := tx.ListVideos(ctx, job.ID)
				if err != nil {
					return err
				}
				if hasOpenVideo(videos) {
					return fmt.Errorf("%w: job %s already has a finalize in progress", domain.ErrConflict, job.ID)
				}
				video := &domain.Video{ID: uuid.NewString(), JobID: job.ID, Status: domain.VideoStatusPending, CreatedAt: s.now()}
				if err := tx.InsertVideo(ctx, video); err != nil {
					return err
				}
				videoID = video.ID
			}
			job.Status = target
		}
		if err := tx.UpdateJob(ctx, job); err != nil {
			return err
		}
		updated = job
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("update job %s: %w", jobID, err)
	}
	if videoID != "" {
		s.dispatchFinalize(videoID, jobID)
	}
	return updated, nil
}

// ReopenJob moves a finalized job back to awaiting and discards its videos.
func (s *Service) ReopenJob(ctx context.Context, userID, jobID string) (*JobDetail, error) {
	var outputs []string
	err := s.store.WithTx(ctx, func(tx domain.Tx) error {
		job, err := ownedJob(ctx, tx, userID, jobID, true)
		if err != nil {
			return err
		}
		if job.Status != domain.JobStatusFinalized {
			return fmt.Errorf("%w: only finalized jobs can be re-opened (current: %s)", domain.ErrInvalidTransition, job.Status)
		}
		videos, err := tx.ListVideos(ctx, jobID)
		if err != nil {
			return err
		}
		for _, v := range videos {
			if v.OutputPath != nil {
				outputs = append(outputs, *v.OutputPath)
			}
		}
		if err := tx.DeleteVideos(ctx, jobID); err != nil {
			return err
		}
		job.Status = domain.JobStatusAwaiting
		return tx.UpdateJob(ctx, job)
	})
	if err != nil {
		return nil, fmt.Errorf("reopen job %s: %w", jobID, err)
	}
	s.removeObjects(ctx, outputs)
	return s.GetJob(ctx, userID, jobID)
}

// DeleteJob removes a job with its segments and videos. Jobs that are
// processing or finalizing cannot be deleted.
func (s *Service) DeleteJob(ctx context.Context, userID, jobID string) error {
	err := s.store.WithTx(ctx, func(tx domain.Tx) error {
		if _, err := ownedJob(ctx, tx, userID, jobID, false); err != nil {
			return err
		}
		if _, err := tx.LockJobSegments(ctx, jobID); err != nil {
			return err
		}
		job, err := tx.LockJob(ctx, jobID)
		if err != nil {
			return err
		}
		if job.Status == domain.JobStatusProcessing || job.Status == domain.JobStatusFinalizing {
			return fmt.Errorf("%w: cannot delete a job that is currently %s", domain.ErrInvalidTransition, job.Status)
		}
		return tx.DeleteJob(ctx, jobID)
	})
	if err != nil {
		return fmt.Errorf("delete job %s: %w", jobID, err)
	}
	if s.objects != nil {
		deleted, err := s.objects.DeletePrefix(ctx, jobID+"/")
		if err != nil {
			s.log(ctx).Warn().Err(err).Str("job_id", jobID).Msg("queue: delete job objects failed")
		} else {
			s.log(ctx).Info().Int("objects", deleted).Str("job_id", jobID).Msg("queue: job deleted")
		}
	}
	return nil
}

// Stats summarizes an owner's queue and worker throughput.
func (s *Service) Stats(ctx context.Context, userID string) (*domain.Stats, error) {
	var stats *domain.Stats
	err := s.store.WithTx(ctx, func(tx domain.Tx) error {
		var err error
		stats, err = tx.Stats(ctx, userID)
		return err
	})
	return stats, err
}
