package queue

import "github.com/DavidJBarnes/wanly-api/internal/domain"

// userTransitions lists the job status changes a user may request. Every
// other job status change is a side effect of segment activity.
var userTransitions = map[domain.JobStatus][]domain.JobStatus{
	domain.JobStatusPending:    {domain.JobStatusPaused},
	domain.JobStatusProcessing: {domain.JobStatusPaused},
	domain.JobStatusAwaiting:   {domain.JobStatusPaused, domain.JobStatusFinalized},
	domain.JobStatusFailed:     {domain.JobStatusPaused},
	domain.JobStatusPaused:     {domain.JobStatusPending, domain.JobStatusProcessing, domain.JobStatusAwaiting},
}

// CanTransition reports whether a user may move a job from one status to another.
func CanTransition(from, to domain.JobStatus) bool {
	for _, allowed := range userTransitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// AllowedTransitions returns the user targets reachable from a status.
func AllowedTransitions(from domain.JobStatus) []domain.JobStatus {
	return append([]domain.JobStatus(nil), userTransitions[from]...)
}

// reportTransitions lists the status changes a claim holder may report.
var reportTransitions = map[domain.SegmentStatus][]domain.SegmentStatus{
	domain.SegmentStatusClaimed: {
		domain.SegmentStatusClaimed,
		domain.SegmentStatusProcessing,
		domain.SegmentStatusCompleted,
		domain.SegmentStatusFailed,
	},
	domain.SegmentStatusProcessing: {
		domain.SegmentStatusProcessing,
		domain.SegmentStatusCompleted,
		domain.SegmentStatusFailed,
	},
}

func canReport(from, to domain.SegmentStatus) bool {
	for _, allowed := range reportTransitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// deletableSegment reports whether a segment in status s may be removed.
func deletableSegment(s domain.SegmentStatus) bool {
	return s == domain.SegmentStatusPending || s == domain.SegmentStatusCompleted || s == domain.SegmentStatusFailed
}

// jobOutcome is the job status once the last active segment of a job has
// reached seg's terminal status.
func jobOutcome(seg *domain.Segment) domain.JobStatus {
	switch {
	case seg.Status == domain.SegmentStatusFailed:
		return domain.JobStatusFailed
	case seg.AutoFinalize:
		return domain.JobStatusFinalized
	default:
		return domain.JobStatusAwaiting
	}
}

// acceptsSegments reports whether new segments may be appended in status s.
func acceptsSegments(s domain.JobStatus) bool {
	return s == domain.JobStatusAwaiting || s == domain.JobStatusFailed
}

// hasOpenVideo reports whether a finalize run is already outstanding.
func hasOpenVideo(videos []domain.Video) bool {
	for _, v := range videos {
		if v.Status.Open() {
			return true
		}
	}
	return false
}
