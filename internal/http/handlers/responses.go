package handlers

import (
	"time"

	"github.com/DavidJBarnes/wanly-api/internal/domain"
	"github.com/DavidJBarnes/wanly-api/internal/queue"
)

type jobResponse struct {
	ID            string           `json:"id"`
	Name          string           `json:"name"`
	Width         int              `json:"width"`
	Height        int              `json:"height"`
	FPS           int              `json:"fps"`
	Seed          int64            `json:"seed"`
	StartingImage *string          `json:"starting_image"`
	Priority      int              `json:"priority"`
	Status        domain.JobStatus `json:"status"`
	CreatedAt     time.Time        `json:"created_at"`
	UpdatedAt     time.Time        `json:"updated_at"`
}

func toJob(j domain.Job) jobResponse {
	return jobResponse{
		ID:            j.ID,
		Name:          j.Name,
		Width:         j.Width,
		Height:        j.Height,
		FPS:           j.FPS,
		Seed:          j.Seed,
		StartingImage: j.StartingImage,
		Priority:      j.Priority,
		Status:        j.Status,
		CreatedAt:     j.CreatedAt,
		UpdatedAt:     j.UpdatedAt,
	}
}

func toJobs(jobs []domain.Job) []jobResponse {
	out := make([]jobResponse, 0, len(jobs))
	for _, j := range jobs {
		out = append(out, toJob(j))
	}
	return out
}

type segmentResponse struct {
	ID              string               `json:"id"`
	JobID           string               `json:"job_id"`
	Index           int                  `json:"index"`
	Prompt          string               `json:"prompt"`
	PromptTemplate  *string              `json:"prompt_template"`
	DurationSeconds float64              `json:"duration_seconds"`
	Speed           float64              `json:"speed"`
	StartImage      *string              `json:"start_image"`
	Modifiers       domain.ModifierSlots `json:"loras"`
	domain.FaceSwap
	AutoFinalize  bool                 `json:"auto_finalize"`
	Status        domain.SegmentStatus `json:"status"`
	WorkerID      *string              `json:"worker_id"`
	WorkerName    *string              `json:"worker_name"`
	OutputPath    *string              `json:"output_path"`
	LastFramePath *string              `json:"last_frame_path"`
	CreatedAt     time.Time            `json:"created_at"`
	ClaimedAt     *time.Time           `json:"claimed_at"`
	CompletedAt   *time.Time           `json:"completed_at"`
	ErrorMessage  *string              `json:"error_message"`
	ProgressLog   *string              `json:"progress_log"`
}

func toSegment(s domain.Segment) segmentResponse {
	return segmentResponse{
		ID:              s.ID,
		JobID:           s.JobID,
		Index:           s.Index,
		Prompt:          s.Prompt,
		PromptTemplate:  s.PromptTemplate,
		DurationSeconds: s.DurationSeconds,
		Speed:           s.Speed,
		StartImage:      s.StartImage,
		Modifiers:       s.Modifiers,
		FaceSwap:        s.FaceSwap,
		AutoFinalize:    s.AutoFinalize,
		Status:          s.Status,
		WorkerID:        s.WorkerID,
		WorkerName:      s.WorkerName,
		OutputPath:      s.OutputPath,
		LastFramePath:   s.LastFramePath,
		CreatedAt:       s.CreatedAt,
		ClaimedAt:       s.ClaimedAt,
		CompletedAt:     s.CompletedAt,
		ErrorMessage:    s.ErrorMessage,
		ProgressLog:     s.ProgressLog,
	}
}

type videoResponse struct {
	ID              string             `json:"id"`
	JobID           string             `json:"job_id"`
	OutputPath      *string            `json:"output_path"`
	DurationSeconds *float64           `json:"duration_seconds"`
	Status          domain.VideoStatus `json:"status"`
	ErrorMessage    *string            `json:"error_message"`
	CreatedAt       time.Time          `json:"created_at"`
	CompletedAt     *time.Time         `json:"completed_at"`
}

func toVideo(v domain.Video) videoResponse {
	return videoResponse{
		ID:              v.ID,
		JobID:           v.JobID,
		OutputPath:      v.OutputPath,
		DurationSeconds: v.DurationSeconds,
		Status:          v.Status,
		ErrorMessage:    v.ErrorMessage,
		CreatedAt:       v.CreatedAt,
		CompletedAt:     v.CompletedAt,
	}
}

type jobDetailResponse struct {
	jobResponse
	Segments              []segmentResponse `json:"segments"`
	Videos                []videoResponse   `json:"videos"`
	SegmentCount          int               `json:"segment_count"`
	CompletedSegmentCount int               `json:"completed_segment_count"`
	TotalRunTime          float64           `json:"total_run_time"`
	TotalVideoTime        float64           `json:"total_video_time"`
}

func toJobDetail(d *queue.JobDetail) jobDetailResponse {
	out := jobDetailResponse{
		jobResponse:           toJob(d.Job),
		Segments:              make([]segmentResponse, 0, len(d.Segments)),
		Videos:                make([]videoResponse, 0, len(d.Videos)),
		SegmentCount:          len(d.Segments),
		CompletedSegmentCount: d.CompletedSegmentCount,
		TotalRunTime:          d.TotalRunTime,
		TotalVideoTime:        d.TotalVideoTime,
	}
	for _, s := range d.Segments {
		out.Segments = append(out.Segments, toSegment(s))
	}
	for _, v := range d.Videos {
		out.Videos = append(out.Videos, toVideo(v))
	}
	return out
}

type jobListResponse struct {
	Items  []jobResponse `json:"items"`
	Total  int           `json:"total"`
	Limit  int           `json:"limit"`
	Offset int           `json:"offset"`
}
