package jsoncfg

import (
	"fmt"
	"strings"

	"github.com/DavidJBarnes/wanly-api/internal/domain"
)

const (
	// DefaultSegmentDuration is applied when a segment omits duration_seconds.
	DefaultSegmentDuration = 5.0
	// DefaultSegmentSpeed is applied when a segment omits speed.
	DefaultSegmentSpeed = 1.0
	// MinSegmentSpeed and MaxSegmentSpeed bound the playback speed multiplier.
	MinSegmentSpeed = 0.25
	MaxSegmentSpeed = 4.0
	// MaxJobNameLength matches the jobs.name column width.
	MaxJobNameLength = 255
	// MaxFrameDimension caps width and height.
	MaxFrameDimension = 4096
	// MaxFPS caps the frame rate.
	MaxFPS = 120
)

// SegmentSpec is the client contract for a new segment.
type SegmentSpec struct {
	Prompt          string               `json:"prompt"`
	DurationSeconds float64              `json:"duration_seconds"`
	Speed           float64              `json:"speed"`
	StartImage      *string              `json:"start_image"`
	Modifiers       domain.ModifierSlots `json:"loras"`
	domain.FaceSwap
	AutoFinalize bool `json:"auto_finalize"`
}

// JobSpec is the client contract for a new job and its first segment.
type JobSpec struct {
	Name         string      `json:"name"`
	Width        int         `json:"width"`
	Height       int         `json:"height"`
	FPS          int         `json:"fps"`
	Seed         *int64      `json:"seed"`
	FirstSegment SegmentSpec `json:"first_segment"`
}

// Normalize applies server defaults.
func (s *SegmentSpec) Normalize() {
	if s == nil {
		return
	}
	s.Prompt = strings.TrimSpace(s.Prompt)
	if s.DurationSeconds == 0 {
		s.DurationSeconds = DefaultSegmentDuration
	}
	if s.Speed == 0 {
		s.Speed = DefaultSegmentSpeed
	}
	if s.StartImage != nil && strings.TrimSpace(*s.StartImage) == "" {
		s.StartImage = nil
	}
}

// Validate ensures the segment spec satisfies the contract before resolution.
func (s SegmentSpec) Validate() error {
	if s.Prompt == "" {
		return fmt.Errorf("prompt is required")
	}
	if s.DurationSeconds <= 0 {
		return fmt.Errorf("duration_seconds must be positive")
	}
	if s.Speed < MinSegmentSpeed || s.Speed > MaxSegmentSpeed {
		return fmt.Errorf("speed must be between %.2f and %.1f", MinSegmentSpeed, MaxSegmentSpeed)
	}
	return nil
}

// Normalize applies server defaults to the job and its first segment.
func (j *JobSpec) Normalize() {
	if j == nil {
		return
	}
	j.Name = strings.TrimSpace(j.Name)
	j.FirstSegment.Normalize()
}

// Validate ensures the job spec satisfies the contract.
func (j JobSpec) Validate() error {
	if j.Name == "" {
		return fmt.Errorf("name is required")
	}
	if len(j.Name) > MaxJobNameLength {
		return fmt.Errorf("name must be at most %d characters", MaxJobNameLength)
	}
	if j.Width <= 0 || j.Width > MaxFrameDimension || j.Height <= 0 || j.Height > MaxFrameDimension {
		return fmt.Errorf("width and height must be between 1 and %d", MaxFrameDimension)
	}
	if j.FPS <= 0 || j.FPS > MaxFPS {
		return fmt.Errorf("fps must be between 1 and %d", MaxFPS)
	}
	if j.Seed != nil && *j.Seed < 0 {
		return fmt.Errorf("seed must be non-negative")
	}
	if err := j.FirstSegment.Validate(); err != nil {
		return fmt.Errorf("first_segment: %w", err)
	}
	return nil
}
