package repo

import (
	"context"

	"github.com/DavidJBarnes/wanly-api/internal/domain"
	"github.com/DavidJBarnes/wanly-api/internal/sqlinline"
)

func scanVideo(row rowScanner) (*domain.Video, error) {
	var v domain.Video
	if err := row.Scan(
		&v.ID,
		&v.JobID,
		&v.OutputPath,
		&v.DurationSeconds,
		&v.Status,
		&v.ErrorMessage,
		&v.CreatedAt,
		&v.CompletedAt,
	); err != nil {
		return nil, err
	}
	return &v, nil
}

func (t *txPG) InsertVideo(ctx context.Context, video *domain.Video) error {
	_, err := t.exec.Exec(ctx, sqlinline.QInsertVideo,
		video.ID,
		video.JobID,
		video.OutputPath,
		video.DurationSeconds,
		video.Status,
		video.ErrorMessage,
		video.CreatedAt,
		video.CompletedAt,
	)
	return mapErr(err, "video", video.ID)
}

func (t *txPG) GetVideo(ctx context.Context, videoID string) (*domain.Video, error) {
	v, err := scanVideo(t.exec.QueryRow(ctx, sqlinline.QGetVideo, videoID))
	if err != nil {
		return nil, mapErr(err, "video", videoID)
	}
	return v, nil
}

func (t *txPG) ListVideos(ctx context.Context, jobID string) ([]domain.Video, error) {
	rows, err := t.exec.Query(ctx, sqlinline.QListVideos, jobID)
	if err != nil {
		return nil, mapErr(err, "videos of job", jobID)
	}
	defer rows.Close()
	videos := []domain.Video{}
	for rows.Next() {
		v, err := scanVideo(rows)
		if err != nil {
			return nil, mapErr(err, "videos of job", jobID)
		}
		videos = append(videos, *v)
	}
	return videos, rows.Err()
}

func (t *txPG) UpdateVideo(ctx context.Context, video *domain.Video) error {
	tag, err := t.exec.Exec(ctx, sqlinline.QUpdateVideo,
		video.ID,
		video.OutputPath,
		video.DurationSeconds,
		video.Status,
		video.ErrorMessage,
		video.CompletedAt,
	)
	if err == nil && tag.RowsAffected() == 0 {
		err = errNoRows
	}
	return mapErr(err, "video", video.ID)
}

func (t *txPG) DeleteVideos(ctx context.Context, jobID string) error {
	_, err := t.exec.Exec(ctx, sqlinline.QDeleteVideos, jobID)
	return mapErr(err, "videos of job", jobID)
}
