package memory

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/DavidJBarnes/wanly-api/internal/domain"
)

func nowUTC() time.Time { return time.Now().UTC() }

func (t *txn) InsertSegment(_ context.Context, seg *domain.Segment) error {
	s := t.store
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.segments[seg.ID]; ok {
		return fmt.Errorf("segment %s: %w", seg.ID, domain.ErrConflict)
	}
	if _, ok := s.jobs[seg.JobID]; !ok {
		return notFound("job", seg.JobID)
	}
	for _, other := range s.segments {
		if other.seg.JobID == seg.JobID && other.seg.Index == seg.Index {
			return fmt.Errorf("segment %s index %d: %w", seg.JobID, seg.Index, domain.ErrConflict)
		}
	}
	if seg.CreatedAt.IsZero() {
		seg.CreatedAt = nowUTC()
	}
	row := &segmentRow{lock: newRowLock(), seq: t.nextSeq(), seg: *seg}
	s.segments[seg.ID] = row
	row.lock.tryLock()
	t.held[row.lock] = struct{}{}
	id := seg.ID
	t.undo = append(t.undo, func() { delete(s.segments, id) })
	return nil
}

func (t *txn) GetSegment(_ context.Context, segmentID string) (*domain.Segment, error) {
	s := t.store
	s.mu.Lock()
	defer s.mu.Unlock()
	row, ok := s.segments[segmentID]
	if !ok {
		return nil, notFound("segment", segmentID)
	}
	seg := row.seg
	return &seg, nil
}

func (t *txn) segmentRow(segmentID string) (*segmentRow, bool) {
	t.store.mu.Lock()
	defer t.store.mu.Unlock()
	row, ok := t.store.segments[segmentID]
	return row, ok
}

func (t *txn) LockSegment(ctx context.Context, segmentID string) (*domain.Segment, error) {
	row, ok := t.segmentRow(segmentID)
	if !ok {
		return nil, notFound("segment", segmentID)
	}
	if err := t.acquire(ctx, row.lock); err != nil {
		return nil, err
	}
	return t.GetSegment(ctx, segmentID)
}

// jobSegmentRows returns the rows of a job ordered by index.
func (t *txn) jobSegmentRows(jobID string) []*segmentRow {
	s := t.store
	s.mu.Lock()
	defer s.mu.Unlock()
	var rows []*segmentRow
	for _, row := range s.segments {
		if row.seg.JobID == jobID {
			rows = append(rows, row)
		}
	}
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].seg.Index != rows[j].seg.Index {
			return rows[i].seg.Index < rows[j].seg.Index
		}
		return rows[i].seq < rows[j].seq
	})
	return rows
}

func (t *txn) LockJobSegments(ctx context.Context, jobID string) ([]domain.Segment, error) {
	rows := t.jobSegmentRows(jobID)
	for _, row := range rows {
		if err := t.acquire(ctx, row.lock); err != nil {
			return nil, err
		}
	}
	return t.ListSegments(ctx, jobID)
}

func (t *txn) ListSegments(_ context.Context, jobID string) ([]domain.Segment, error) {
	rows := t.jobSegmentRows(jobID)
	t.store.mu.Lock()
	defer t.store.mu.Unlock()
	segments := make([]domain.Segment, 0, len(rows))
	for _, row := range rows {
		if _, ok := t.store.segments[row.seg.ID]; ok {
			segments = append(segments, row.seg)
		}
	}
	return segments, nil
}

func (t *txn) SegmentAt(_ context.Context, jobID string, index int) (*domain.Segment, error) {
	s := t.store
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, row := range s.segments {
		if row.seg.JobID == jobID && row.seg.Index == index {
			seg := row.seg
			return &seg, nil
		}
	}
	return nil, notFound("segment", fmt.Sprintf("%s#%d", jobID, index))
}

func (t *txn) UpdateSegment(_ context.Context, seg *domain.Segment) error {
	s := t.store
	s.mu.Lock()
	defer s.mu.Unlock()
	row, ok := s.segments[seg.ID]
	if !ok {
		return notFound("segment", seg.ID)
	}
	prev := row.seg
	row.seg = *seg
	t.undo = append(t.undo, func() { row.seg = prev })
	return nil
}

func (t *txn) DeleteSegment(_ context.Context, segmentID string) error {
	s := t.store
	s.mu.Lock()
	defer s.mu.Unlock()
	row, ok := s.segments[segmentID]
	if !ok {
		return notFound("segment", segmentID)
	}
	delete(s.segments, segmentID)
	t.undo = append(t.undo, func() { s.segments[segmentID] = row })
	return nil
}

func (t *txn) ReindexSegments(_ context.Context, jobID string) error {
	rows := t.jobSegmentRows(jobID)
	s := t.store
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, row := range rows {
		if row.seg.Index == i {
			continue
		}
		prev := row.seg.Index
		row.seg.Index = i
		r := row
		t.undo = append(t.undo, func() { r.seg.Index = prev })
	}
	return nil
}

func (t *txn) CountActiveSegments(_ context.Context, jobID string) (int, error) {
	s := t.store
	s.mu.Lock()
	defer s.mu.Unlock()
	count := 0
	for _, row := range s.segments {
		if row.seg.JobID == jobID && row.seg.Status.Active() {
			count++
		}
	}
	return count, nil
}

// ReclaimStale resets stale claims it can lock without waiting. Rows held by
// another transaction are left for a later sweep.
func (t *txn) ReclaimStale(_ context.Context, cutoff time.Time) (int, error) {
	s := t.store
	s.mu.Lock()
	var stale []*segmentRow
	for _, row := range s.segments {
		st := row.seg.Status
		if (st == domain.SegmentStatusClaimed || st == domain.SegmentStatusProcessing) &&
			row.seg.ClaimedAt != nil && row.seg.ClaimedAt.Before(cutoff) {
			stale = append(stale, row)
		}
	}
	s.mu.Unlock()

	reclaimed := 0
	for _, row := range stale {
		ok, fresh := t.try(row.lock)
		if !ok {
			continue
		}
		s.mu.Lock()
		st := row.seg.Status
		stillStale := (st == domain.SegmentStatusClaimed || st == domain.SegmentStatusProcessing) &&
			row.seg.ClaimedAt != nil && row.seg.ClaimedAt.Before(cutoff)
		if stillStale {
			prev := row.seg
			row.seg.Status = domain.SegmentStatusPending
			row.seg.ClearClaim()
			r := row
			t.undo = append(t.undo, func() { r.seg = prev })
			reclaimed++
		}
		s.mu.Unlock()
		if !stillStale && fresh {
			t.drop(row.lock)
		}
	}
	return reclaimed, nil
}

type candidate struct {
	row      *segmentRow
	priority int
	created  time.Time
}

// LockNextClaimable walks pending segments of dispatchable jobs in
// (job priority, segment creation) order and returns the first one it can
// lock without waiting.
func (t *txn) LockNextClaimable(_ context.Context) (*domain.Segment, error) {
	s := t.store
	s.mu.Lock()
	var candidates []candidate
	for _, row := range s.segments {
		if row.seg.Status != domain.SegmentStatusPending {
			continue
		}
		job, ok := s.jobs[row.seg.JobID]
		if !ok || !job.job.Status.Dispatchable() {
			continue
		}
		candidates = append(candidates, candidate{row: row, priority: job.job.Priority, created: row.seg.CreatedAt})
	}
	s.mu.Unlock()

	sort.Slice(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		if a.priority != b.priority {
			return a.priority < b.priority
		}
		if !a.created.Equal(b.created) {
			return a.created.Before(b.created)
		}
		return a.row.seq < b.row.seq
	})

	for _, c := range candidates {
		ok, fresh := t.try(c.row.lock)
		if !ok {
			continue
		}
		s.mu.Lock()
		_, exists := s.segments[c.row.seg.ID]
		seg := c.row.seg
		job, jobOK := s.jobs[seg.JobID]
		eligible := exists && seg.Status == domain.SegmentStatusPending && jobOK && job.job.Status.Dispatchable()
		s.mu.Unlock()
		if eligible {
			return &seg, nil
		}
		if fresh {
			t.drop(c.row.lock)
		}
	}
	return nil, domain.ErrNoWork
}
