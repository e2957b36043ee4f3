// Package memory is an in-process implementation of domain.Store and
// domain.Catalog. Rows carry their own lock that is held until the owning
// transaction ends; claim selection only ever try-locks, so concurrent
// claimants skip each other's candidates the way SKIP LOCKED does in Postgres.
//
// Writes are applied in place and undone on rollback. Readers outside the
// writing transaction may observe uncommitted data, which the queue tolerates
// because every decision it takes is made under a row lock.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/DavidJBarnes/wanly-api/internal/domain"
)

// rowLock is a mutex that can be acquired with a context or tried without waiting.
type rowLock chan struct{}

func newRowLock() rowLock { return make(rowLock, 1) }

func (l rowLock) lock(ctx context.Context) error {
	select {
	case l <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (l rowLock) tryLock() bool {
	select {
	case l <- struct{}{}:
		return true
	default:
		return false
	}
}

func (l rowLock) unlock() { <-l }

type jobRow struct {
	lock rowLock
	job  domain.Job
}

type segmentRow struct {
	lock rowLock
	seq  int64
	seg  domain.Segment
}

// Store keeps jobs, segments and videos in maps guarded by mu.
type Store struct {
	mu       sync.Mutex
	seq      int64
	jobs     map[string]*jobRow
	segments map[string]*segmentRow
	videos   map[string]domain.Video
	owners   map[string]rowLock

	catalogMu sync.RWMutex
	modifiers map[string]domain.Modifier
	options   map[string][]string
}

// New returns an empty store.
func New() *Store {
	return &Store{
		jobs:      make(map[string]*jobRow),
		segments:  make(map[string]*segmentRow),
		videos:    make(map[string]domain.Video),
		owners:    make(map[string]rowLock),
		modifiers: make(map[string]domain.Modifier),
		options:   make(map[string][]string),
	}
}

// WithTx runs fn in a transaction. Row locks are released when fn returns;
// an error or panic from fn undoes every write made through the transaction.
func (s *Store) WithTx(ctx context.Context, fn func(tx domain.Tx) error) (err error) {
	tx := &txn{store: s, held: make(map[rowLock]struct{})}
	defer func() {
		if p := recover(); p != nil {
			tx.rollback()
			tx.release()
			panic(p)
		}
		if err != nil {
			tx.rollback()
		}
		tx.release()
	}()
	return fn(tx)
}

type txn struct {
	store *Store
	held  map[rowLock]struct{}
	undo  []func()
}

func (t *txn) rollback() {
	t.store.mu.Lock()
	defer t.store.mu.Unlock()
	for i := len(t.undo) - 1; i >= 0; i-- {
		t.undo[i]()
	}
	t.undo = nil
}

func (t *txn) release() {
	for l := range t.held {
		l.unlock()
	}
	t.held = nil
}

// acquire blocks until l is held by this transaction.
func (t *txn) acquire(ctx context.Context, l rowLock) error {
	if _, ok := t.held[l]; ok {
		return nil
	}
	if err := l.lock(ctx); err != nil {
		return err
	}
	t.held[l] = struct{}{}
	return nil
}

// try acquires l without waiting. fresh is true when the lock was not
// already held by this transaction.
func (t *txn) try(l rowLock) (ok, fresh bool) {
	if _, held := t.held[l]; held {
		return true, false
	}
	if !l.tryLock() {
		return false, false
	}
	t.held[l] = struct{}{}
	return true, true
}

func (t *txn) drop(l rowLock) {
	if _, ok := t.held[l]; ok {
		delete(t.held, l)
		l.unlock()
	}
}

func (t *txn) nextSeq() int64 {
	t.store.seq++
	return t.store.seq
}

func notFound(kind, id string) error {
	return fmt.Errorf("%s %s: %w", kind, id, domain.ErrNotFound)
}

// ---- jobs ----

func (t *txn) InsertJob(_ context.Context, job *domain.Job) error {
	s := t.store
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.jobs[job.ID]; ok {
		return fmt.Errorf("job %s: %w", job.ID, domain.ErrConflict)
	}
	if job.CreatedAt.IsZero() {
		job.CreatedAt = nowUTC()
	}
	job.UpdatedAt = job.CreatedAt
	row := &jobRow{lock: newRowLock(), job: *job}
	s.jobs[job.ID] = row
	// The inserting transaction owns the new row until it ends.
	row.lock.tryLock()
	t.held[row.lock] = struct{}{}
	id := job.ID
	t.undo = append(t.undo, func() { delete(s.jobs, id) })
	return nil
}

func (t *txn) GetJob(_ context.Context, jobID string) (*domain.Job, error) {
	s := t.store
	s.mu.Lock()
	defer s.mu.Unlock()
	row, ok := s.jobs[jobID]
	if !ok {
		return nil, notFound("job", jobID)
	}
	job := row.job
	return &job, nil
}

func (t *txn) jobRow(jobID string) (*jobRow, bool) {
	t.store.mu.Lock()
	defer t.store.mu.Unlock()
	row, ok := t.store.jobs[jobID]
	return row, ok
}

func (t *txn) LockJob(ctx context.Context, jobID string) (*domain.Job, error) {
	row, ok := t.jobRow(jobID)
	if !ok {
		return nil, notFound("job", jobID)
	}
	if err := t.acquire(ctx, row.lock); err != nil {
		return nil, err
	}
	// The row may have been deleted while we waited.
	return t.GetJob(ctx, jobID)
}

func (t *txn) ownerLock(userID string) rowLock {
	s := t.store
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.owners[userID]
	if !ok {
		l = newRowLock()
		s.owners[userID] = l
	}
	return l
}

func (t *txn) LockOwnerJobs(ctx context.Context, userID string) ([]domain.Job, error) {
	if err := t.acquire(ctx, t.ownerLock(userID)); err != nil {
		return nil, err
	}
	s := t.store
	s.mu.Lock()
	var rows []*jobRow
	for _, row := range s.jobs {
		if row.job.UserID == userID {
			rows = append(rows, row)
		}
	}
	s.mu.Unlock()
	sort.Slice(rows, func(i, j int) bool { return rows[i].job.ID < rows[j].job.ID })

	jobs := make([]domain.Job, 0, len(rows))
	for _, row := range rows {
		job, err := t.LockJob(ctx, row.job.ID)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, *job)
	}
	sortJobs(jobs, true)
	return jobs, nil
}

func (t *txn) MaxPriority(ctx context.Context, userID string) (int, error) {
	if err := t.acquire(ctx, t.ownerLock(userID)); err != nil {
		return 0, err
	}
	s := t.store
	s.mu.Lock()
	defer s.mu.Unlock()
	max := -1
	for _, row := range s.jobs {
		if row.job.UserID == userID && row.job.Priority > max {
			max = row.job.Priority
		}
	}
	return max, nil
}

func (t *txn) ListJobs(_ context.Context, filter domain.JobFilter) ([]domain.Job, int, error) {
	s := t.store
	s.mu.Lock()
	var jobs []domain.Job
	for _, row := range s.jobs {
		if filter.UserID != "" && row.job.UserID != filter.UserID {
			continue
		}
		if !matchesStatus(row.job.Status, filter) {
			continue
		}
		jobs = append(jobs, row.job)
	}
	s.mu.Unlock()

	sortJobs(jobs, filter.SortByPriority)
	total := len(jobs)
	if filter.Offset >= total {
		return []domain.Job{}, total, nil
	}
	end := total
	if filter.Limit > 0 && filter.Offset+filter.Limit < end {
		end = filter.Offset + filter.Limit
	}
	return jobs[filter.Offset:end], total, nil
}

func matchesStatus(status domain.JobStatus, filter domain.JobFilter) bool {
	if len(filter.Statuses) == 0 {
		return !filter.ExcludeFinished || (status != domain.JobStatusFinalized && status != domain.JobStatusFinalizing)
	}
	for _, st := range filter.Statuses {
		if st == status {
			return true
		}
	}
	return false
}

func sortJobs(jobs []domain.Job, byPriority bool) {
	sort.SliceStable(jobs, func(i, j int) bool {
		if byPriority && jobs[i].Priority != jobs[j].Priority {
			return jobs[i].Priority < jobs[j].Priority
		}
		if !jobs[i].CreatedAt.Equal(jobs[j].CreatedAt) {
			if byPriority {
				return jobs[i].CreatedAt.Before(jobs[j].CreatedAt)
			}
			return jobs[i].CreatedAt.After(jobs[j].CreatedAt)
		}
		return jobs[i].ID < jobs[j].ID
	})
}

func (t *txn) UpdateJob(_ context.Context, job *domain.Job) error {
	s := t.store
	s.mu.Lock()
	defer s.mu.Unlock()
	row, ok := s.jobs[job.ID]
	if !ok {
		return notFound("job", job.ID)
	}
	prev := row.job
	job.UpdatedAt = nowUTC()
	row.job = *job
	t.undo = append(t.undo, func() { row.job = prev })
	return nil
}

func (t *txn) DeleteJob(_ context.Context, jobID string) error {
	s := t.store
	s.mu.Lock()
	defer s.mu.Unlock()
	row, ok := s.jobs[jobID]
	if !ok {
		return notFound("job", jobID)
	}
	delete(s.jobs, jobID)
	segs := map[string]*segmentRow{}
	for id, seg := range s.segments {
		if seg.seg.JobID == jobID {
			segs[id] = seg
			delete(s.segments, id)
		}
	}
	videos := map[string]domain.Video{}
	for id, v := range s.videos {
		if v.JobID == jobID {
			videos[id] = v
			delete(s.videos, id)
		}
	}
	t.undo = append(t.undo, func() {
		s.jobs[jobID] = row
		for id, seg := range segs {
			s.segments[id] = seg
		}
		for id, v := range videos {
			s.videos[id] = v
		}
	})
	return nil
}
