package domain

import "time"

// JobStatus enumerates job lifecycle states.
type JobStatus string

const (
	JobStatusPending    JobStatus = "pending"
	JobStatusProcessing JobStatus = "processing"
	JobStatusAwaiting   JobStatus = "awaiting"
	JobStatusFailed     JobStatus = "failed"
	JobStatusPaused     JobStatus = "paused"
	JobStatusFinalizing JobStatus = "finalizing"
	JobStatusFinalized  JobStatus = "finalized"
)

// Valid reports whether s is a known job status.
func (s JobStatus) Valid() bool {
	switch s {
	case JobStatusPending, JobStatusProcessing, JobStatusAwaiting, JobStatusFailed,
		JobStatusPaused, JobStatusFinalizing, JobStatusFinalized:
		return true
	}
	return false
}

// Dispatchable reports whether segments of a job in this status may be claimed.
func (s JobStatus) Dispatchable() bool {
	return s == JobStatusPending || s == JobStatusProcessing
}

// Job is a unit of user work split into ordered segments.
type Job struct {
	ID            string
	UserID        string
	Name          string
	Width         int
	Height        int
	FPS           int
	Seed          int64
	StartingImage *string
	Priority      int
	Status        JobStatus
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// VideoStatus enumerates finalized video states.
type VideoStatus string

const (
	VideoStatusPending    VideoStatus = "pending"
	VideoStatusProcessing VideoStatus = "processing"
	VideoStatusCompleted  VideoStatus = "completed"
	VideoStatusFailed     VideoStatus = "failed"
)

// Open reports whether a finalize run for the video is still outstanding.
func (s VideoStatus) Open() bool {
	return s == VideoStatusPending || s == VideoStatusProcessing
}

// Video is the concatenation of a job's completed segments.
type Video struct {
	ID              string
	JobID           string
	OutputPath      *string
	DurationSeconds *float64
	Status          VideoStatus
	ErrorMessage    *string
	CreatedAt       time.Time
	CompletedAt     *time.Time
}
