package repo

import (
	"context"

	"github.com/DavidJBarnes/wanly-api/internal/domain"
	"github.com/DavidJBarnes/wanly-api/internal/sqlinline"
)

func scanJob(row rowScanner) (*domain.Job, error) {
	var job domain.Job
	if err := row.Scan(
		&job.ID,
		&job.UserID,
		&job.Name,
		&job.Width,
		&job.Height,
		&job.FPS,
		&job.Seed,
		&job.StartingImage,
		&job.Priority,
		&job.Status,
		&job.CreatedAt,
		&job.UpdatedAt,
	); err != nil {
		return nil, err
	}
	return &job, nil
}

func (t *txPG) queryJobs(ctx context.Context, query string, args ...any) ([]domain.Job, error) {
	rows, err := t.exec.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	jobs := []domain.Job{}
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, *job)
	}
	return jobs, rows.Err()
}

func (t *txPG) InsertJob(ctx context.Context, job *domain.Job) error {
	_, err := t.exec.Exec(ctx, sqlinline.QInsertJob,
		job.ID,
		job.UserID,
		job.Name,
		job.Width,
		job.Height,
		job.FPS,
		job.Seed,
		job.StartingImage,
		job.Priority,
		job.Status,
		job.CreatedAt,
		job.UpdatedAt,
	)
	return mapErr(err, "job", job.ID)
}

func (t *txPG) GetJob(ctx context.Context, jobID string) (*domain.Job, error) {
	job, err := scanJob(t.exec.QueryRow(ctx, sqlinline.QGetJob, jobID))
	if err != nil {
		return nil, mapErr(err, "job", jobID)
	}
	return job, nil
}

func (t *txPG) LockJob(ctx context.Context, jobID string) (*domain.Job, error) {
	job, err := scanJob(t.exec.QueryRow(ctx, sqlinline.QLockJob, jobID))
	if err != nil {
		return nil, mapErr(err, "job", jobID)
	}
	return job, nil
}

func (t *txPG) lockOwner(ctx context.Context, userID string) error {
	_, err := t.exec.Exec(ctx, sqlinline.QLockOwner, userID)
	return mapErr(err, "owner", userID)
}

func (t *txPG) LockOwnerJobs(ctx context.Context, userID string) ([]domain.Job, error) {
	if err := t.lockOwner(ctx, userID); err != nil {
		return nil, err
	}
	jobs, err := t.queryJobs(ctx, sqlinline.QLockOwnerJobs, userID)
	if err != nil {
		return nil, mapErr(err, "owner jobs", userID)
	}
	return jobs, nil
}

func (t *txPG) MaxPriority(ctx context.Context, userID string) (int, error) {
	if err := t.lockOwner(ctx, userID); err != nil {
		return 0, err
	}
	var max int
	if err := t.exec.QueryRow(ctx, sqlinline.QMaxPriority, userID).Scan(&max); err != nil {
		return 0, mapErr(err, "max priority", userID)
	}
	return max, nil
}

func (t *txPG) ListJobs(ctx context.Context, filter domain.JobFilter) ([]domain.Job, int, error) {
	statuses := make([]string, 0, len(filter.Statuses))
	for _, st := range filter.Statuses {
		statuses = append(statuses, string(st))
	}
	var total int
	if err := t.exec.QueryRow(ctx, sqlinline.QCountJobs, filter.UserID, statuses, filter.ExcludeFinished).Scan(&total); err != nil {
		return nil, 0, mapErr(err, "jobs of", filter.UserID)
	}
	jobs, err := t.queryJobs(ctx, sqlinline.QListJobs,
		filter.UserID, statuses, filter.ExcludeFinished, filter.SortByPriority, filter.Limit, filter.Offset)
	if err != nil {
		return nil, 0, mapErr(err, "jobs of", filter.UserID)
	}
	return jobs, total, nil
}

func (t *txPG) UpdateJob(ctx context.Context, job *domain.Job) error {
	err := t.exec.QueryRow(ctx, sqlinline.QUpdateJob,
		job.ID,
		job.Name,
		job.StartingImage,
		job.Priority,
		job.Status,
	).Scan(&job.UpdatedAt)
	return mapErr(err, "job", job.ID)
}

func (t *txPG) DeleteJob(ctx context.Context, jobID string) error {
	tag, err := t.exec.Exec(ctx, sqlinline.QDeleteJob, jobID)
	if err == nil && tag.RowsAffected() == 0 {
		err = errNoRows
	}
	return mapErr(err, "job", jobID)
}
