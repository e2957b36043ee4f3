package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/DavidJBarnes/wanly-api/internal/domain"
)

func TestClaimNextReturnsNilWithoutWork(t *testing.T) {
	h := newHarness(t)
	if claim := h.claim(t, "w1"); claim != nil {
		t.Fatalf("expected no work, got segment %s", claim.ID)
	}
}

func TestClaimNextRequiresWorkerID(t *testing.T) {
	h := newHarness(t)
	_, err := h.svc.ClaimNext(context.Background(), "  ", nil)
	if !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("expected ErrValidation, got %v", err)
	}
}

func TestClaimNextMarksSegmentAndPromotesJob(t *testing.T) {
	h := newHarness(t)
	job := h.enqueue(t, "u1", "clip")

	claim := h.claim(t, "w1")
	if claim == nil {
		t.Fatalf("expected a claim")
	}
	if claim.JobID != job.ID || claim.Index != 0 {
		t.Fatalf("claim = %+v, want job %s index 0", claim, job.ID)
	}
	if claim.Width != 640 || claim.Height != 480 || claim.FPS != 16 || claim.Seed != 42 {
		t.Fatalf("claim did not merge job settings: %+v", claim)
	}

	detail := h.detail(t, "u1", job.ID)
	if detail.Job.Status != domain.JobStatusProcessing {
		t.Fatalf("job status = %s, want processing", detail.Job.Status)
	}
	seg := detail.Segments[0]
	if seg.Status != domain.SegmentStatusClaimed {
		t.Fatalf("segment status = %s, want claimed", seg.Status)
	}
	if seg.WorkerID == nil || *seg.WorkerID != "w1" || seg.WorkerName == nil || *seg.WorkerName != "w1-host" {
		t.Fatalf("claim holder not recorded: %+v", seg)
	}
	if seg.ClaimedAt == nil || !seg.ClaimedAt.Equal(h.clock.Now()) {
		t.Fatalf("claimed_at = %v, want %v", seg.ClaimedAt, h.clock.Now())
	}

	if again := h.claim(t, "w2"); again != nil {
		t.Fatalf("segment handed out twice: %s", again.ID)
	}
}

func TestClaimNextOrdersByPriorityThenCreation(t *testing.T) {
	h := newHarness(t)
	first := h.enqueue(t, "u1", "first")
	h.clock.Advance(time.Second)
	second := h.enqueue(t, "u1", "second")

	if _, err := h.svc.ReorderJobs(context.Background(), "u1", []string{second.ID, first.ID}); err != nil {
		t.Fatalf("ReorderJobs error: %v", err)
	}

	if claim := h.claim(t, "w1"); claim == nil || claim.JobID != second.ID {
		t.Fatalf("expected the reordered job first, got %+v", claim)
	}
	if claim := h.claim(t, "w1"); claim == nil || claim.JobID != first.ID {
		t.Fatalf("expected the remaining job next, got %+v", claim)
	}
}

func TestClaimNextSkipsPausedJobs(t *testing.T) {
	h := newHarness(t)
	job := h.enqueue(t, "u1", "paused")
	paused := domain.JobStatusPaused
	if _, err := h.svc.UpdateJob(context.Background(), "u1", job.ID, JobUpdate{Status: &paused}); err != nil {
		t.Fatalf("UpdateJob error: %v", err)
	}
	if claim := h.claim(t, "w1"); claim != nil {
		t.Fatalf("claimed a segment of a paused job: %+v", claim)
	}

	resume := domain.JobStatusPending
	if _, err := h.svc.UpdateJob(context.Background(), "u1", job.ID, JobUpdate{Status: &resume}); err != nil {
		t.Fatalf("UpdateJob error: %v", err)
	}
	if claim := h.claim(t, "w1"); claim == nil {
		t.Fatalf("expected resumed job to be claimable")
	}
}

func TestConcurrentClaimsNeverShareASegment(t *testing.T) {
	h := newHarness(t)
	const segments = 24
	for i := 0; i < segments; i++ {
		h.enqueue(t, fmt.Sprintf("u%d", i%3), fmt.Sprintf("job-%d", i))
	}

	const workers = 32
	var (
		wg     sync.WaitGroup
		mu     sync.Mutex
		seen   = make(map[string]string)
		errs   []error
		misses int
	)
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(worker string) {
			defer wg.Done()
			claim, err := h.svc.ClaimNext(context.Background(), worker, nil)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				errs = append(errs, err)
				return
			}
			if claim == nil {
				misses++
				return
			}
			if prev, dup := seen[claim.ID]; dup {
				errs = append(errs, fmt.Errorf("segment %s returned to %s and %s", claim.ID, prev, worker))
				return
			}
			seen[claim.ID] = worker
		}(fmt.Sprintf("w%d", w))
	}
	wg.Wait()

	for _, err := range errs {
		t.Error(err)
	}
	if len(seen)+misses != workers {
		t.Fatalf("claims %d + misses %d != workers %d", len(seen), misses, workers)
	}
	// Skipped candidates may leave a caller empty-handed; drain the rest.
	for {
		claim := h.claim(t, "drain")
		if claim == nil {
			break
		}
		if _, dup := seen[claim.ID]; dup {
			t.Fatalf("segment %s claimed twice", claim.ID)
		}
		seen[claim.ID] = "drain"
	}
	if len(seen) != segments {
		t.Fatalf("claimed %d distinct segments, want %d", len(seen), segments)
	}
}

func TestStaleClaimIsReclaimedAfterThreshold(t *testing.T) {
	h := newHarness(t)
	job := h.enqueue(t, "u1", "stale")

	first := h.claim(t, "w1")
	if first == nil {
		t.Fatalf("expected a claim")
	}

	h.clock.Advance(29 * time.Minute)
	if claim := h.claim(t, "w2"); claim != nil {
		t.Fatalf("segment reclaimed before the threshold")
	}

	h.clock.Advance(2 * time.Minute)
	second := h.claim(t, "w2")
	if second == nil || second.ID != first.ID {
		t.Fatalf("expected stale segment %s to be reclaimed, got %+v", first.ID, second)
	}

	seg := h.detail(t, "u1", job.ID).Segments[0]
	if seg.WorkerID == nil || *seg.WorkerID != "w2" {
		t.Fatalf("claim holder = %v, want w2", seg.WorkerID)
	}
	if seg.ProgressLog != nil {
		t.Fatalf("progress log should be cleared on reclaim")
	}

	// The original holder no longer owns the segment.
	done := domain.SegmentStatusCompleted
	_, err := h.svc.ReportSegmentStatus(context.Background(), first.ID, SegmentReport{Status: &done, WorkerID: strPtr("w1")})
	if !errors.Is(err, domain.ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition for the displaced worker, got %v", err)
	}
}

func TestStaleProcessingSegmentIsReclaimed(t *testing.T) {
	h := newHarness(t)
	h.enqueue(t, "u1", "stale-processing")
	claim := h.claim(t, "w1")
	h.report(t, claim.ID, domain.SegmentStatusProcessing, func(r *SegmentReport) {
		r.ProgressLog = strPtr("step 3/20")
	})

	h.clock.Advance(31 * time.Minute)
	if again := h.claim(t, "w2"); again == nil || again.ID != claim.ID {
		t.Fatalf("expected processing segment to be reclaimed, got %+v", again)
	}
}

func TestStartImageChaining(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	spec := jobSpec("chain")
	job, err := h.svc.EnqueueJob(ctx, "u1", spec, JobUploads{StartingImage: &Upload{Filename: "first.JPG", Data: []byte("img")}})
	if err != nil {
		t.Fatalf("EnqueueJob error: %v", err)
	}
	if job.StartingImage == nil || *job.StartingImage != "mem://"+job.ID+"/starting_image.jpg" {
		t.Fatalf("starting image = %v", job.StartingImage)
	}

	first := h.claim(t, "w1")
	if first.StartImage == nil || *first.StartImage != *job.StartingImage {
		t.Fatalf("index 0 start image = %v, want job starting image", first.StartImage)
	}
	h.report(t, first.ID, domain.SegmentStatusCompleted, func(r *SegmentReport) {
		r.OutputPath = strPtr("mem://out/0.mp4")
		r.LastFramePath = strPtr("mem://out/0.png")
	})

	if _, err := h.svc.AddSegment(ctx, "u1", job.ID, spec.FirstSegment); err != nil {
		t.Fatalf("AddSegment error: %v", err)
	}
	second := h.claim(t, "w1")
	if second.Index != 1 || second.StartImage == nil || *second.StartImage != "mem://out/0.png" {
		t.Fatalf("index 1 start image = %v, want previous last frame", second.StartImage)
	}
	h.report(t, second.ID, domain.SegmentStatusCompleted, nil)

	explicit := spec.FirstSegment
	explicit.StartImage = strPtr("mem://custom.png")
	if _, err := h.svc.AddSegment(ctx, "u1", job.ID, explicit); err != nil {
		t.Fatalf("AddSegment error: %v", err)
	}
	third := h.claim(t, "w1")
	if third.StartImage == nil || *third.StartImage != "mem://custom.png" {
		t.Fatalf("explicit start image = %v", third.StartImage)
	}

	// Chaining is computed at claim time only.
	stored := h.detail(t, "u1", job.ID).Segments[1]
	if stored.StartImage != nil {
		t.Fatalf("effective start image must not be persisted, got %v", *stored.StartImage)
	}
}

// pauseOnLockStore pauses one job the first time a transaction locks it,
// standing in for a user pause that commits between selection and locking.
type pauseOnLockStore struct {
	domain.Store
	jobID  string
	paused bool
}

func (s *pauseOnLockStore) WithTx(ctx context.Context, fn func(tx domain.Tx) error) error {
	return s.Store.WithTx(ctx, func(tx domain.Tx) error {
		return fn(&pauseOnLockTx{Tx: tx, store: s})
	})
}

type pauseOnLockTx struct {
	domain.Tx
	store *pauseOnLockStore
}

func (t *pauseOnLockTx) LockJob(ctx context.Context, jobID string) (*domain.Job, error) {
	job, err := t.Tx.LockJob(ctx, jobID)
	if err != nil || jobID != t.store.jobID || t.store.paused {
		return job, err
	}
	t.store.paused = true
	job.Status = domain.JobStatusPaused
	if err := t.Tx.UpdateJob(ctx, job); err != nil {
		return nil, err
	}
	return job, nil
}

func TestClaimNextPassesOverJobPausedAfterSelection(t *testing.T) {
	h := newHarness(t)
	first := h.enqueue(t, "u1", "first")
	h.clock.Advance(time.Second)
	second := h.enqueue(t, "u1", "second")

	svc := New(Options{
		Store:     &pauseOnLockStore{Store: h.store, jobID: first.ID},
		Catalog:   h.store,
		Finalizer: h.finalizer,
		Now:       h.clock.Now,
	})
	claim, err := svc.ClaimNext(context.Background(), "w1", nil)
	if err != nil {
		t.Fatalf("ClaimNext error: %v", err)
	}
	if claim == nil || claim.JobID != second.ID {
		t.Fatalf("expected the next eligible job, got %+v", claim)
	}
	detail := h.detail(t, "u1", first.ID)
	if detail.Job.Status != domain.JobStatusPaused {
		t.Fatalf("first job status = %s, want paused", detail.Job.Status)
	}
	if detail.Segments[0].Status != domain.SegmentStatusPending {
		t.Fatalf("paused job segment status = %s, want pending", detail.Segments[0].Status)
	}
}
