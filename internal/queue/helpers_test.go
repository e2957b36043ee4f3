package queue

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/DavidJBarnes/wanly-api/internal/adapter/memory"
	"github.com/DavidJBarnes/wanly-api/internal/domain"
	"github.com/DavidJBarnes/wanly-api/internal/domain/jsoncfg"
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type recordingFinalizer struct {
	mu    sync.Mutex
	calls [][2]string
}

func (f *recordingFinalizer) Finalize(videoID, jobID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, [2]string{videoID, jobID})
}

func (f *recordingFinalizer) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

type memObjects struct {
	mu      sync.Mutex
	objects map[string][]byte
}

func newMemObjects() *memObjects {
	return &memObjects{objects: make(map[string][]byte)}
}

func (m *memObjects) Store(_ context.Context, data []byte, key string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[key] = append([]byte(nil), data...)
	return "mem://" + key, nil
}

func (m *memObjects) Fetch(_ context.Context, ref string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.objects[strings.TrimPrefix(ref, "mem://")]
	if !ok {
		return nil, fmt.Errorf("object %s: %w", ref, domain.ErrNotFound)
	}
	return data, nil
}

func (m *memObjects) Delete(_ context.Context, ref string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.objects, strings.TrimPrefix(ref, "mem://"))
	return nil
}

func (m *memObjects) DeletePrefix(_ context.Context, prefix string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for key := range m.objects {
		if strings.HasPrefix(key, prefix) {
			delete(m.objects, key)
			n++
		}
	}
	return n, nil
}

func (m *memObjects) has(key string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.objects[key]
	return ok
}

type harness struct {
	svc       *Service
	store     *memory.Store
	clock     *testClock
	finalizer *recordingFinalizer
	objects   *memObjects
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		store:     memory.New(),
		clock:     &testClock{now: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)},
		finalizer: &recordingFinalizer{},
		objects:   newMemObjects(),
	}
	h.svc = New(Options{
		Store:     h.store,
		Catalog:   h.store,
		Objects:   h.objects,
		Finalizer: h.finalizer,
		Now:       h.clock.Now,
	})
	return h
}

func jobSpec(name string) jsoncfg.JobSpec {
	seed := int64(42)
	return jsoncfg.JobSpec{
		Name:   name,
		Width:  640,
		Height: 480,
		FPS:    16,
		Seed:   &seed,
		FirstSegment: jsoncfg.SegmentSpec{
			Prompt: "a lighthouse at dusk",
		},
	}
}

func (h *harness) enqueue(t *testing.T, userID, name string) *domain.Job {
	t.Helper()
	job, err := h.svc.EnqueueJob(context.Background(), userID, jobSpec(name), JobUploads{})
	if err != nil {
		t.Fatalf("EnqueueJob(%s) error: %v", name, err)
	}
	return job
}

func (h *harness) claim(t *testing.T, workerID string) *domain.SegmentClaim {
	t.Helper()
	name := workerID + "-host"
	claim, err := h.svc.ClaimNext(context.Background(), workerID, &name)
	if err != nil {
		t.Fatalf("ClaimNext(%s) error: %v", workerID, err)
	}
	return claim
}

func (h *harness) report(t *testing.T, segmentID string, status domain.SegmentStatus, mutate func(*SegmentReport)) *domain.Segment {
	t.Helper()
	report := SegmentReport{Status: &status}
	if mutate != nil {
		mutate(&report)
	}
	seg, err := h.svc.ReportSegmentStatus(context.Background(), segmentID, report)
	if err != nil {
		t.Fatalf("ReportSegmentStatus(%s, %s) error: %v", segmentID, status, err)
	}
	return seg
}

func (h *harness) detail(t *testing.T, userID, jobID string) *JobDetail {
	t.Helper()
	detail, err := h.svc.GetJob(context.Background(), userID, jobID)
	if err != nil {
		t.Fatalf("GetJob(%s) error: %v", jobID, err)
	}
	return detail
}

func strPtr(s string) *string { return &s }
