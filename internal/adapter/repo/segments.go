package repo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/DavidJBarnes/wanly-api/internal/domain"
	"github.com/DavidJBarnes/wanly-api/internal/sqlinline"
)

var errNoRows = pgx.ErrNoRows

func scanSegment(row rowScanner) (*domain.Segment, error) {
	var (
		seg   domain.Segment
		loras []byte
	)
	if err := row.Scan(
		&seg.ID,
		&seg.JobID,
		&seg.Index,
		&seg.Prompt,
		&seg.PromptTemplate,
		&seg.DurationSeconds,
		&seg.Speed,
		&seg.StartImage,
		&loras,
		&seg.FaceSwap.Enabled,
		&seg.FaceSwap.Method,
		&seg.FaceSwap.SourceType,
		&seg.FaceSwap.Image,
		&seg.FaceSwap.FacesOrder,
		&seg.FaceSwap.FacesIndex,
		&seg.AutoFinalize,
		&seg.Status,
		&seg.WorkerID,
		&seg.WorkerName,
		&seg.OutputPath,
		&seg.LastFramePath,
		&seg.ProgressLog,
		&seg.ErrorMessage,
		&seg.CreatedAt,
		&seg.ClaimedAt,
		&seg.CompletedAt,
	); err != nil {
		return nil, err
	}
	if len(loras) > 0 && string(loras) != "null" {
		if err := json.Unmarshal(loras, &seg.Modifiers); err != nil {
			return nil, fmt.Errorf("decode loras of segment %s: %w", seg.ID, err)
		}
	}
	return &seg, nil
}

// encodeModifiers returns nil for an absent list so the column stays NULL.
func encodeModifiers(slots domain.ModifierSlots) ([]byte, error) {
	if slots == nil {
		return nil, nil
	}
	return json.Marshal(slots)
}

func (t *txPG) querySegments(ctx context.Context, query string, args ...any) ([]domain.Segment, error) {
	rows, err := t.exec.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	segments := []domain.Segment{}
	for rows.Next() {
		seg, err := scanSegment(rows)
		if err != nil {
			return nil, err
		}
		segments = append(segments, *seg)
	}
	return segments, rows.Err()
}

func (t *txPG) InsertSegment(ctx context.Context, seg *domain.Segment) error {
	loras, err := encodeModifiers(seg.Modifiers)
	if err != nil {
		return fmt.Errorf("encode loras: %w", err)
	}
	_, err = t.exec.Exec(ctx, sqlinline.QInsertSegment,
		seg.ID,
		seg.JobID,
		seg.Index,
		seg.Prompt,
		seg.PromptTemplate,
		seg.DurationSeconds,
		seg.Speed,
		seg.StartImage,
		loras,
		seg.FaceSwap.Enabled,
		seg.FaceSwap.Method,
		seg.FaceSwap.SourceType,
		seg.FaceSwap.Image,
		seg.FaceSwap.FacesOrder,
		seg.FaceSwap.FacesIndex,
		seg.AutoFinalize,
		seg.Status,
		seg.WorkerID,
		seg.WorkerName,
		seg.OutputPath,
		seg.LastFramePath,
		seg.ProgressLog,
		seg.ErrorMessage,
		seg.CreatedAt,
		seg.ClaimedAt,
		seg.CompletedAt,
	)
	return mapErr(err, "segment", seg.ID)
}

func (t *txPG) GetSegment(ctx context.Context, segmentID string) (*domain.Segment, error) {
	seg, err := scanSegment(t.exec.QueryRow(ctx, sqlinline.QGetSegment, segmentID))
	if err != nil {
		return nil, mapErr(err, "segment", segmentID)
	}
	return seg, nil
}

func (t *txPG) LockSegment(ctx context.Context, segmentID string) (*domain.Segment, error) {
	seg, err := scanSegment(t.exec.QueryRow(ctx, sqlinline.QLockSegment, segmentID))
	if err != nil {
		return nil, mapErr(err, "segment", segmentID)
	}
	return seg, nil
}

func (t *txPG) LockJobSegments(ctx context.Context, jobID string) ([]domain.Segment, error) {
	segments, err := t.querySegments(ctx, sqlinline.QLockJobSegments, jobID)
	if err != nil {
		return nil, mapErr(err, "segments of job", jobID)
	}
	return segments, nil
}

func (t *txPG) ListSegments(ctx context.Context, jobID string) ([]domain.Segment, error) {
	segments, err := t.querySegments(ctx, sqlinline.QListSegments, jobID)
	if err != nil {
		return nil, mapErr(err, "segments of job", jobID)
	}
	return segments, nil
}

func (t *txPG) SegmentAt(ctx context.Context, jobID string, index int) (*domain.Segment, error) {
	seg, err := scanSegment(t.exec.QueryRow(ctx, sqlinline.QSegmentAt, jobID, index))
	if err != nil {
		return nil, mapErr(err, "segment", fmt.Sprintf("%s#%d", jobID, index))
	}
	return seg, nil
}

func (t *txPG) UpdateSegment(ctx context.Context, seg *domain.Segment) error {
	loras, err := encodeModifiers(seg.Modifiers)
	if err != nil {
		return fmt.Errorf("encode loras: %w", err)
	}
	tag, err := t.exec.Exec(ctx, sqlinline.QUpdateSegment,
		seg.ID,
		seg.Index,
		seg.Prompt,
		seg.PromptTemplate,
		seg.DurationSeconds,
		seg.Speed,
		seg.StartImage,
		loras,
		seg.FaceSwap.Enabled,
		seg.FaceSwap.Method,
		seg.FaceSwap.SourceType,
		seg.FaceSwap.Image,
		seg.FaceSwap.FacesOrder,
		seg.FaceSwap.FacesIndex,
		seg.AutoFinalize,
		seg.Status,
		seg.WorkerID,
		seg.WorkerName,
		seg.OutputPath,
		seg.LastFramePath,
		seg.ProgressLog,
		seg.ErrorMessage,
		seg.ClaimedAt,
		seg.CompletedAt,
	)
	if err == nil && tag.RowsAffected() == 0 {
		err = errNoRows
	}
	return mapErr(err, "segment", seg.ID)
}

func (t *txPG) DeleteSegment(ctx context.Context, segmentID string) error {
	tag, err := t.exec.Exec(ctx, sqlinline.QDeleteSegment, segmentID)
	if err == nil && tag.RowsAffected() == 0 {
		err = errNoRows
	}
	return mapErr(err, "segment", segmentID)
}

func (t *txPG) ReindexSegments(ctx context.Context, jobID string) error {
	if _, err := t.exec.Exec(ctx, sqlinline.QReindexSegmentsShift, jobID); err != nil {
		return mapErr(err, "reindex job", jobID)
	}
	if _, err := t.exec.Exec(ctx, sqlinline.QReindexSegmentsRenumber, jobID); err != nil {
		return mapErr(err, "reindex job", jobID)
	}
	return nil
}

func (t *txPG) CountActiveSegments(ctx context.Context, jobID string) (int, error) {
	var count int
	if err := t.exec.QueryRow(ctx, sqlinline.QCountActiveSegments, jobID).Scan(&count); err != nil {
		return 0, mapErr(err, "active segments of job", jobID)
	}
	return count, nil
}

func (t *txPG) ReclaimStale(ctx context.Context, cutoff time.Time) (int, error) {
	tag, err := t.exec.Exec(ctx, sqlinline.QReclaimStale, cutoff)
	if err != nil {
		return 0, fmt.Errorf("reclaim stale: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

func (t *txPG) LockNextClaimable(ctx context.Context) (*domain.Segment, error) {
	seg, err := scanSegment(t.exec.QueryRow(ctx, sqlinline.QLockNextClaimable))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrNoWork
	}
	if err != nil {
		return nil, fmt.Errorf("select claimable: %w", err)
	}
	return seg, nil
}
