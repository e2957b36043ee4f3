package queue

import (
	"context"
	"fmt"
	"math"
	"math/rand/v2"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"github.com/DavidJBarnes/wanly-api/internal/domain"
	"github.com/DavidJBarnes/wanly-api/internal/domain/jsoncfg"
)

// Upload is a file supplied alongside a new job.
type Upload struct {
	Filename string
	Data     []byte
}

// JobUploads carries the optional images uploaded with a job.
type JobUploads struct {
	StartingImage *Upload
	FaceSwapImage *Upload
}

// EnqueueJob creates a job at the tail of the owner's queue together with its
// first segment.
func (s *Service) EnqueueJob(ctx context.Context, userID string, spec jsoncfg.JobSpec, uploads JobUploads) (*domain.Job, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, fmt.Errorf("%w: owner is required", domain.ErrValidation)
	}
	spec.Normalize()
	if err := spec.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrValidation, err)
	}

	jobID := uuid.NewString()
	seed := rand.Int64N(math.MaxInt64)
	if spec.Seed != nil {
		seed = *spec.Seed
	}
	now := s.now()
	job := &domain.Job{
		ID:        jobID,
		UserID:    userID,
		Name:      spec.Name,
		Width:     spec.Width,
		Height:    spec.Height,
		FPS:       spec.FPS,
		Seed:      seed,
		Status:    domain.JobStatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}

	var uploaded []string
	if uploads.StartingImage != nil {
		ref, err := s.upload(ctx, jobID, "starting_image", ".png", uploads.StartingImage)
		if err != nil {
			return nil, err
		}
		uploaded = append(uploaded, ref)
		job.StartingImage = &ref
	}
	if uploads.FaceSwapImage != nil {
		ref, err := s.upload(ctx, jobID, "faceswap_source", ".png", uploads.FaceSwapImage)
		if err != nil {
			s.removeObjects(ctx, uploaded)
			return nil, err
		}
		uploaded = append(uploaded, ref)
		spec.FirstSegment.FaceSwap.Image = &ref
	}

	seg, err := s.newSegment(ctx, jobID, 0, spec.FirstSegment)
	if err != nil {
		s.removeObjects(ctx, uploaded)
		return nil, err
	}

	err = s.store.WithTx(ctx, func(tx domain.Tx) error {
		maxPriority, err := tx.MaxPriority(ctx, userID)
		if err != nil {
			return err
		}
		job.Priority = maxPriority + 1
		if err := tx.InsertJob(ctx, job); err != nil {
			return err
		}
		return tx.InsertSegment(ctx, seg)
	})
	if err != nil {
		s.removeObjects(ctx, uploaded)
		return nil, fmt.Errorf("enqueue job: %w", err)
	}
	s.log(ctx).Info().Str("job_id", job.ID).Str("user_id", userID).Int("priority", job.Priority).Msg("queue: job enqueued")
	return job, nil
}

func (s *Service) upload(ctx context.Context, jobID, name, defaultExt string, up *Upload) (string, error) {
	if s.objects == nil {
		return "", fmt.Errorf("%w: object storage not configured", domain.ErrUpstreamIO)
	}
	ext := filepath.Ext(up.Filename)
	if ext == "" {
		ext = defaultExt
	}
	ref, err := s.objects.Store(ctx, up.Data, fmt.Sprintf("%s/%s%s", jobID, name, strings.ToLower(ext)))
	if err != nil {
		return "", fmt.Errorf("%w: store %s: %v", domain.ErrUpstreamIO, name, err)
	}
	return ref, nil
}

// ReorderJobs assigns priorities 0..N-1 following ids. The id set must match
// the owner's current jobs exactly.
func (s *Service) ReorderJobs(ctx context.Context, userID string, ids []string) ([]domain.Job, error) {
	if len(ids) == 0 {
		return nil, fmt.Errorf("%w: job_ids must not be empty", domain.ErrValidation)
	}
	var ordered []domain.Job
	err := s.store.WithTx(ctx, func(tx domain.Tx) error {
		jobs, err := tx.LockOwnerJobs(ctx, userID)
		if err != nil {
			return err
		}
		byID, err := matchJobSet(jobs, ids)
		if err != nil {
			return err
		}
		ordered = make([]domain.Job, 0, len(ids))
		for i, id := range ids {
			job := byID[id]
			if job.Priority != i {
				job.Priority = i
				if err := tx.UpdateJob(ctx, &job); err != nil {
					return err
				}
			}
			ordered = append(ordered, job)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return ordered, nil
}

// matchJobSet indexes jobs by id and verifies ids names each of them exactly once.
func matchJobSet(jobs []domain.Job, ids []string) (map[string]domain.Job, error) {
	byID := make(map[string]domain.Job, len(jobs))
	for _, job := range jobs {
		byID[job.ID] = job
	}
	if len(ids) != len(jobs) {
		return nil, fmt.Errorf("%w: job_ids must list all %d of the owner's jobs, got %d", domain.ErrValidation, len(jobs), len(ids))
	}
	seen := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		if _, ok := byID[id]; !ok {
			return nil, fmt.Errorf("%w: job %s not found or not owned", domain.ErrValidation, id)
		}
		if _, dup := seen[id]; dup {
			return nil, fmt.Errorf("%w: job %s listed twice", domain.ErrValidation, id)
		}
		seen[id] = struct{}{}
	}
	return byID, nil
}
