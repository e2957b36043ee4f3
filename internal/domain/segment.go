package domain

import "time"

// SegmentStatus enumerates segment lifecycle states.
type SegmentStatus string

const (
	SegmentStatusPending    SegmentStatus = "pending"
	SegmentStatusClaimed    SegmentStatus = "claimed"
	SegmentStatusProcessing SegmentStatus = "processing"
	SegmentStatusCompleted  SegmentStatus = "completed"
	SegmentStatusFailed     SegmentStatus = "failed"
)

// Valid reports whether s is a known segment status.
func (s SegmentStatus) Valid() bool {
	switch s {
	case SegmentStatusPending, SegmentStatusClaimed, SegmentStatusProcessing,
		SegmentStatusCompleted, SegmentStatusFailed:
		return true
	}
	return false
}

// Active reports whether the segment still counts toward the job's unfinished work.
func (s SegmentStatus) Active() bool {
	return s == SegmentStatusPending || s == SegmentStatusClaimed || s == SegmentStatusProcessing
}

// Terminal reports whether s is completed or failed.
func (s SegmentStatus) Terminal() bool {
	return s == SegmentStatusCompleted || s == SegmentStatusFailed
}

// FaceSwap holds the optional face substitution parameters of a segment.
type FaceSwap struct {
	Enabled    bool    `json:"faceswap_enabled"`
	Method     *string `json:"faceswap_method"`
	SourceType *string `json:"faceswap_source_type"`
	Image      *string `json:"faceswap_image"`
	FacesOrder *string `json:"faceswap_faces_order"`
	FacesIndex *string `json:"faceswap_faces_index"`
}

// Segment is one sub-clip within a job.
type Segment struct {
	ID              string
	JobID           string
	Index           int
	Prompt          string
	PromptTemplate  *string
	DurationSeconds float64
	Speed           float64
	StartImage      *string
	Modifiers       ModifierSlots
	FaceSwap        FaceSwap
	AutoFinalize    bool
	Status          SegmentStatus
	WorkerID        *string
	WorkerName      *string
	OutputPath      *string
	LastFramePath   *string
	ProgressLog     *string
	ErrorMessage    *string
	CreatedAt       time.Time
	ClaimedAt       *time.Time
	CompletedAt     *time.Time
}

// ClearClaim resets every field owned by a claim holder.
func (s *Segment) ClearClaim() {
	s.WorkerID = nil
	s.WorkerName = nil
	s.ClaimedAt = nil
	s.ProgressLog = nil
}

// SegmentClaim is the view handed to a worker on a successful claim. It
// merges job-level render settings with the segment's own fields and carries
// the effective start image.
type SegmentClaim struct {
	ID              string        `json:"id"`
	JobID           string        `json:"job_id"`
	Index           int           `json:"index"`
	Prompt          string        `json:"prompt"`
	DurationSeconds float64       `json:"duration_seconds"`
	Speed           float64       `json:"speed"`
	StartImage      *string       `json:"start_image"`
	Modifiers       ModifierSlots `json:"loras"`
	FaceSwap
	Width  int   `json:"width"`
	Height int   `json:"height"`
	FPS    int   `json:"fps"`
	Seed   int64 `json:"seed"`
}

// RateSample is one completed segment observation used by the estimator.
type RateSample struct {
	Width           int
	Height          int
	FPS             int
	WorkerName      *string
	RunSeconds      float64
	DurationSeconds float64
}
