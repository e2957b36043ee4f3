package memory

import (
	"context"
	"fmt"
	"sort"

	"github.com/DavidJBarnes/wanly-api/internal/domain"
)

func (t *txn) InsertVideo(_ context.Context, video *domain.Video) error {
	s := t.store
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.videos[video.ID]; ok {
		return fmt.Errorf("video %s: %w", video.ID, domain.ErrConflict)
	}
	if _, ok := s.jobs[video.JobID]; !ok {
		return notFound("job", video.JobID)
	}
	if video.CreatedAt.IsZero() {
		video.CreatedAt = nowUTC()
	}
	s.videos[video.ID] = *video
	id := video.ID
	t.undo = append(t.undo, func() { delete(s.videos, id) })
	return nil
}

func (t *txn) GetVideo(_ context.Context, videoID string) (*domain.Video, error) {
	s := t.store
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.videos[videoID]
	if !ok {
		return nil, notFound("video", videoID)
	}
	return &v, nil
}

func (t *txn) ListVideos(_ context.Context, jobID string) ([]domain.Video, error) {
	s := t.store
	s.mu.Lock()
	defer s.mu.Unlock()
	videos := []domain.Video{}
	for _, v := range s.videos {
		if v.JobID == jobID {
			videos = append(videos, v)
		}
	}
	sort.Slice(videos, func(i, j int) bool {
		if !videos[i].CreatedAt.Equal(videos[j].CreatedAt) {
			return videos[i].CreatedAt.Before(videos[j].CreatedAt)
		}
		return videos[i].ID < videos[j].ID
	})
	return videos, nil
}

func (t *txn) UpdateVideo(_ context.Context, video *domain.Video) error {
	s := t.store
	s.mu.Lock()
	defer s.mu.Unlock()
	prev, ok := s.videos[video.ID]
	if !ok {
		return notFound("video", video.ID)
	}
	s.videos[video.ID] = *video
	t.undo = append(t.undo, func() { s.videos[prev.ID] = prev })
	return nil
}

func (t *txn) DeleteVideos(_ context.Context, jobID string) error {
	s := t.store
	s.mu.Lock()
	defer s.mu.Unlock()
	removed := map[string]domain.Video{}
	for id, v := range s.videos {
		if v.JobID == jobID {
			removed[id] = v
			delete(s.videos, id)
		}
	}
	t.undo = append(t.undo, func() {
		for id, v := range removed {
			s.videos[id] = v
		}
	})
	return nil
}

// completedRuns visits every completed segment of userID's jobs that has both
// claim and completion timestamps.
func (s *Store) completedRuns(userID string, visit func(job domain.Job, seg domain.Segment, run float64)) {
	for _, row := range s.segments {
		seg := row.seg
		if seg.Status != domain.SegmentStatusCompleted || seg.ClaimedAt == nil || seg.CompletedAt == nil {
			continue
		}
		job, ok := s.jobs[seg.JobID]
		if !ok || job.job.UserID != userID {
			continue
		}
		visit(job.job, seg, seg.CompletedAt.Sub(*seg.ClaimedAt).Seconds())
	}
}

func (t *txn) RateSamples(_ context.Context, userID string) ([]domain.RateSample, error) {
	s := t.store
	s.mu.Lock()
	defer s.mu.Unlock()
	var samples []domain.RateSample
	s.completedRuns(userID, func(job domain.Job, seg domain.Segment, run float64) {
		if seg.DurationSeconds <= 0 {
			return
		}
		samples = append(samples, domain.RateSample{
			Width:           job.Width,
			Height:          job.Height,
			FPS:             job.FPS,
			WorkerName:      seg.WorkerName,
			RunSeconds:      run,
			DurationSeconds: seg.DurationSeconds,
		})
	})
	return samples, nil
}

func (t *txn) Stats(_ context.Context, userID string) (*domain.Stats, error) {
	s := t.store
	s.mu.Lock()
	defer s.mu.Unlock()

	stats := &domain.Stats{
		JobsByStatus:     map[domain.JobStatus]int{},
		SegmentsByStatus: map[domain.SegmentStatus]int{},
		Workers:          []domain.WorkerStats{},
	}
	for _, row := range s.jobs {
		if row.job.UserID == userID {
			stats.JobsByStatus[row.job.Status]++
		}
	}
	for _, row := range s.segments {
		job, ok := s.jobs[row.seg.JobID]
		if ok && job.job.UserID == userID {
			stats.SegmentsByStatus[row.seg.Status]++
		}
	}

	var runSum float64
	var runCount int
	workers := map[string]*domain.WorkerStats{}
	s.completedRuns(userID, func(_ domain.Job, seg domain.Segment, run float64) {
		runSum += run
		runCount++
		stats.TotalSegmentsComplete++
		stats.TotalVideoTime += seg.DurationSeconds
		if seg.WorkerName == nil || *seg.WorkerName == "" {
			return
		}
		w := workers[*seg.WorkerName]
		if w == nil {
			w = &domain.WorkerStats{WorkerName: *seg.WorkerName}
			workers[*seg.WorkerName] = w
		}
		// AvgRunTime accumulates the sum until the final pass.
		w.AvgRunTime += run
		w.SegmentsCompleted++
		if seg.CompletedAt.After(w.LastSeen) {
			w.LastSeen = *seg.CompletedAt
		}
	})
	if runCount > 0 {
		avg := runSum / float64(runCount)
		stats.AvgSegmentRunTime = &avg
	}
	for _, w := range workers {
		w.AvgRunTime /= float64(w.SegmentsCompleted)
		stats.Workers = append(stats.Workers, *w)
	}
	sort.Slice(stats.Workers, func(i, j int) bool {
		return stats.Workers[i].WorkerName < stats.Workers[j].WorkerName
	})
	return stats, nil
}
