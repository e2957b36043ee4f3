package repo

import (
	"context"
	"time"

	"github.com/DavidJBarnes/wanly-api/internal/domain"
	"github.com/DavidJBarnes/wanly-api/internal/sqlinline"
)

func (t *txPG) RateSamples(ctx context.Context, userID string) ([]domain.RateSample, error) {
	rows, err := t.exec.Query(ctx, sqlinline.QRateSamples, userID)
	if err != nil {
		return nil, mapErr(err, "rate samples of", userID)
	}
	defer rows.Close()
	var samples []domain.RateSample
	for rows.Next() {
		var s domain.RateSample
		if err := rows.Scan(&s.Width, &s.Height, &s.FPS, &s.WorkerName, &s.RunSeconds, &s.DurationSeconds); err != nil {
			return nil, mapErr(err, "rate samples of", userID)
		}
		samples = append(samples, s)
	}
	return samples, rows.Err()
}

func (t *txPG) Stats(ctx context.Context, userID string) (*domain.Stats, error) {
	stats := &domain.Stats{
		JobsByStatus:     map[domain.JobStatus]int{},
		SegmentsByStatus: map[domain.SegmentStatus]int{},
		Workers:          []domain.WorkerStats{},
	}

	if err := t.countByStatus(ctx, sqlinline.QJobStatusCounts, userID, func(status string, n int) {
		stats.JobsByStatus[domain.JobStatus(status)] = n
	}); err != nil {
		return nil, err
	}
	if err := t.countByStatus(ctx, sqlinline.QSegmentStatusCounts, userID, func(status string, n int) {
		stats.SegmentsByStatus[domain.SegmentStatus(status)] = n
	}); err != nil {
		return nil, err
	}

	if err := t.exec.QueryRow(ctx, sqlinline.QCompletedTotals, userID).Scan(
		&stats.TotalSegmentsComplete,
		&stats.AvgSegmentRunTime,
		&stats.TotalVideoTime,
	); err != nil {
		return nil, mapErr(err, "completed totals of", userID)
	}

	rows, err := t.exec.Query(ctx, sqlinline.QWorkerStats, userID)
	if err != nil {
		return nil, mapErr(err, "worker stats of", userID)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			w        domain.WorkerStats
			lastSeen time.Time
		)
		if err := rows.Scan(&w.WorkerName, &w.SegmentsCompleted, &w.AvgRunTime, &lastSeen); err != nil {
			return nil, mapErr(err, "worker stats of", userID)
		}
		w.LastSeen = lastSeen.UTC()
		stats.Workers = append(stats.Workers, w)
	}
	if err := rows.Err(); err != nil {
		return nil, mapErr(err, "worker stats of", userID)
	}
	return stats, nil
}

func (t *txPG) countByStatus(ctx context.Context, query, userID string, put func(status string, n int)) error {
	rows, err := t.exec.Query(ctx, query, userID)
	if err != nil {
		return mapErr(err, "status counts of", userID)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			status string
			n      int
		)
		if err := rows.Scan(&status, &n); err != nil {
			return mapErr(err, "status counts of", userID)
		}
		put(status, n)
	}
	return rows.Err()
}
