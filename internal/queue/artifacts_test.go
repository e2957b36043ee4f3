package queue

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/DavidJBarnes/wanly-api/internal/domain"
)

func TestUploadSegmentOutputCompletesSegment(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	job := h.enqueue(t, "u1", "upload")
	claim := h.claim(t, "w1")

	seg, err := h.svc.UploadSegmentOutput(ctx, claim.ID, SegmentOutput{
		WorkerID:  strPtr("w1"),
		Video:     []byte("mp4"),
		LastFrame: []byte("png"),
	})
	if err != nil {
		t.Fatalf("UploadSegmentOutput error: %v", err)
	}
	if seg.Status != domain.SegmentStatusCompleted || seg.CompletedAt == nil {
		t.Fatalf("segment = %+v", seg)
	}
	wantVideo := fmt.Sprintf("mem://%s/0_output.mp4", job.ID)
	wantFrame := fmt.Sprintf("mem://%s/0_last_frame.png", job.ID)
	if seg.OutputPath == nil || *seg.OutputPath != wantVideo || seg.LastFramePath == nil || *seg.LastFramePath != wantFrame {
		t.Fatalf("refs = %v, %v", seg.OutputPath, seg.LastFramePath)
	}
	if !h.objects.has(job.ID + "/0_output.mp4") {
		t.Fatalf("video not stored")
	}
	if got := h.detail(t, "u1", job.ID).Job.Status; got != domain.JobStatusAwaiting {
		t.Fatalf("job status = %s, want awaiting", got)
	}

	data, err := h.svc.FetchObject(ctx, wantFrame)
	if err != nil || string(data) != "png" {
		t.Fatalf("FetchObject = %q, %v", data, err)
	}
}

func TestUploadSegmentOutputRejections(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	job := h.enqueue(t, "u1", "upload")
	claim := h.claim(t, "w1")
	full := SegmentOutput{Video: []byte("mp4"), LastFrame: []byte("png")}

	if _, err := h.svc.UploadSegmentOutput(ctx, claim.ID, SegmentOutput{Video: []byte("mp4")}); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("missing last frame error = %v", err)
	}
	other := full
	other.WorkerID = strPtr("w2")
	if _, err := h.svc.UploadSegmentOutput(ctx, claim.ID, other); !errors.Is(err, domain.ErrInvalidTransition) {
		t.Fatalf("foreign worker error = %v", err)
	}
	if h.objects.has(job.ID + "/0_output.mp4") {
		t.Fatalf("rejected upload wrote an object")
	}
	if _, err := h.svc.UploadSegmentOutput(ctx, "missing", full); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("unknown segment error = %v", err)
	}

	h.report(t, claim.ID, domain.SegmentStatusFailed, nil)
	if _, err := h.svc.UploadSegmentOutput(ctx, claim.ID, full); !errors.Is(err, domain.ErrInvalidTransition) {
		t.Fatalf("upload to failed segment error = %v", err)
	}
}

func TestFetchObjectErrors(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	if _, err := h.svc.FetchObject(ctx, "  "); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("empty path error = %v", err)
	}
	if _, err := h.svc.FetchObject(ctx, "mem://nope.png"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("missing object error = %v", err)
	}
}
