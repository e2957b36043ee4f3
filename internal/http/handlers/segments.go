package handlers

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/DavidJBarnes/wanly-api/internal/domain"
	"github.com/DavidJBarnes/wanly-api/internal/domain/jsoncfg"
	"github.com/DavidJBarnes/wanly-api/internal/queue"
)

func (a *App) AddSegment(w http.ResponseWriter, r *http.Request) {
	var spec jsoncfg.SegmentSpec
	if !a.decode(w, r, &spec) {
		return
	}
	seg, err := a.Queue.AddSegment(r.Context(), a.currentUserID(r), chi.URLParam(r, "job_id"), spec)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	a.json(w, http.StatusCreated, toSegment(*seg))
}

// NextSegment hands the next claimable segment to a worker, or 204 when the
// queue is empty.
func (a *App) NextSegment(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	workerID := strings.TrimSpace(q.Get("worker_id"))
	if workerID == "" {
		a.error(w, http.StatusBadRequest, "bad_request", "worker_id is required")
		return
	}
	var workerName *string
	if name := strings.TrimSpace(q.Get("worker_name")); name != "" {
		workerName = &name
	}
	claim, err := a.Queue.ClaimNext(r.Context(), workerID, workerName)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	if claim == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	a.json(w, http.StatusOK, claim)
}

type segmentUpdateRequest struct {
	Status        *string `json:"status"`
	OutputPath    *string `json:"output_path"`
	LastFramePath *string `json:"last_frame_path"`
	ErrorMessage  *string `json:"error_message"`
	ProgressLog   *string `json:"progress_log"`
	WorkerID      *string `json:"worker_id"`
}

func (a *App) UpdateSegment(w http.ResponseWriter, r *http.Request) {
	var req segmentUpdateRequest
	if !a.decode(w, r, &req) {
		return
	}
	report := queue.SegmentReport{
		OutputPath:    req.OutputPath,
		LastFramePath: req.LastFramePath,
		ErrorMessage:  req.ErrorMessage,
		ProgressLog:   req.ProgressLog,
		WorkerID:      req.WorkerID,
	}
	if req.Status != nil {
		st := domain.SegmentStatus(*req.Status)
		report.Status = &st
	}
	seg, err := a.Queue.ReportSegmentStatus(r.Context(), chi.URLParam(r, "segment_id"), report)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	a.json(w, http.StatusOK, toSegment(*seg))
}

func (a *App) RetrySegment(w http.ResponseWriter, r *http.Request) {
	seg, err := a.Queue.RetrySegment(r.Context(), chi.URLParam(r, "segment_id"))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	a.json(w, http.StatusOK, toSegment(*seg))
}

func (a *App) DeleteSegment(w http.ResponseWriter, r *http.Request) {
	if err := a.Queue.DeleteSegment(r.Context(), chi.URLParam(r, "segment_id")); err != nil {
		a.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// UploadSegment accepts a worker's rendered files as multipart fields
// `video` and `last_frame` and completes the segment with the stored refs.
func (a *App) UploadSegment(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, a.MaxUploadBytes)
	if err := r.ParseMultipartForm(a.MaxUploadBytes); err != nil {
		a.error(w, http.StatusBadRequest, "bad_request", "invalid multipart form: "+err.Error())
		return
	}
	defer r.MultipartForm.RemoveAll()

	video, err := formUpload(r.MultipartForm, "video")
	if err != nil {
		a.error(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}
	frame, err := formUpload(r.MultipartForm, "last_frame")
	if err != nil {
		a.error(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}
	if video == nil || frame == nil {
		a.error(w, http.StatusBadRequest, "bad_request", "video and last_frame files are required")
		return
	}
	out := queue.SegmentOutput{Video: video.Data, LastFrame: frame.Data}
	if workerID := strings.TrimSpace(r.FormValue("worker_id")); workerID != "" {
		out.WorkerID = &workerID
	}
	seg, err := a.Queue.UploadSegmentOutput(r.Context(), chi.URLParam(r, "segment_id"), out)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	a.json(w, http.StatusOK, toSegment(*seg))
}
