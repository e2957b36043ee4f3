package domain

import (
	"context"
	"time"
)

// Store opens units of work against the shared job/segment tables.
type Store interface {
	// WithTx runs fn in one transaction. fn's error rolls the transaction back.
	WithTx(ctx context.Context, fn func(tx Tx) error) error
}

// Tx is the capability contract the queue relies on. Methods named Lock*
// take a row lock held until the transaction ends; callers always lock
// segment rows before the owning job row.
type Tx interface {
	InsertJob(ctx context.Context, job *Job) error
	GetJob(ctx context.Context, jobID string) (*Job, error)
	LockJob(ctx context.Context, jobID string) (*Job, error)
	LockOwnerJobs(ctx context.Context, userID string) ([]Job, error)
	ListJobs(ctx context.Context, filter JobFilter) ([]Job, int, error)
	MaxPriority(ctx context.Context, userID string) (int, error)
	UpdateJob(ctx context.Context, job *Job) error
	DeleteJob(ctx context.Context, jobID string) error

	InsertSegment(ctx context.Context, seg *Segment) error
	GetSegment(ctx context.Context, segmentID string) (*Segment, error)
	LockSegment(ctx context.Context, segmentID string) (*Segment, error)
	LockJobSegments(ctx context.Context, jobID string) ([]Segment, error)
	ListSegments(ctx context.Context, jobID string) ([]Segment, error)
	SegmentAt(ctx context.Context, jobID string, index int) (*Segment, error)
	UpdateSegment(ctx context.Context, seg *Segment) error
	DeleteSegment(ctx context.Context, segmentID string) error
	ReindexSegments(ctx context.Context, jobID string) error
	CountActiveSegments(ctx context.Context, jobID string) (int, error)

	// ReclaimStale reverts claimed/processing segments claimed before cutoff.
	ReclaimStale(ctx context.Context, cutoff time.Time) (int, error)
	// LockNextClaimable returns the first pending segment of a dispatchable
	// job ordered by (job priority, segment created_at), skipping rows locked
	// by other transactions. Returns ErrNoWork when nothing qualifies.
	LockNextClaimable(ctx context.Context) (*Segment, error)

	InsertVideo(ctx context.Context, video *Video) error
	GetVideo(ctx context.Context, videoID string) (*Video, error)
	ListVideos(ctx context.Context, jobID string) ([]Video, error)
	UpdateVideo(ctx context.Context, video *Video) error
	DeleteVideos(ctx context.Context, jobID string) error

	RateSamples(ctx context.Context, userID string) ([]RateSample, error)
	Stats(ctx context.Context, userID string) (*Stats, error)
}

// Catalog resolves indirect references at segment creation.
type Catalog interface {
	LookupModifier(ctx context.Context, id string) (*Modifier, error)
	// LookupOptionLists returns the options of every named list found.
	// Missing names are absent from the result.
	LookupOptionLists(ctx context.Context, names []string) (map[string][]string, error)
}

// JobFilter narrows ListJobs.
type JobFilter struct {
	UserID   string
	Statuses []JobStatus
	// ExcludeFinished hides finalized and finalizing jobs when Statuses is empty.
	ExcludeFinished bool
	SortByPriority  bool
	Limit           int
	Offset          int
}

// Stats summarizes an owner's queue.
type Stats struct {
	JobsByStatus          map[JobStatus]int     `json:"jobs_by_status"`
	SegmentsByStatus      map[SegmentStatus]int `json:"segments_by_status"`
	AvgSegmentRunTime     *float64              `json:"avg_segment_run_time"`
	TotalSegmentsComplete int                   `json:"total_segments_completed"`
	TotalVideoTime        float64               `json:"total_video_time"`
	Workers               []WorkerStats         `json:"worker_stats"`
}

// WorkerStats aggregates completed work by worker name.
type WorkerStats struct {
	WorkerName        string    `json:"worker_name"`
	SegmentsCompleted int       `json:"segments_completed"`
	AvgRunTime        float64   `json:"avg_run_time"`
	LastSeen          time.Time `json:"last_seen"`
}
