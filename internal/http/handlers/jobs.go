package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/DavidJBarnes/wanly-api/internal/domain"
	"github.com/DavidJBarnes/wanly-api/internal/domain/jsoncfg"
	"github.com/DavidJBarnes/wanly-api/internal/queue"
)

const (
	sortPriorityAsc = "priority_asc"
	maxListLimit    = 200
	defaultLimit    = 50
)

// CreateJob accepts either a multipart form (a "data" JSON field plus optional
// "starting_image" and "faceswap_image" files) or a plain JSON body.
func (a *App) CreateJob(w http.ResponseWriter, r *http.Request) {
	var (
		spec    jsoncfg.JobSpec
		uploads queue.JobUploads
	)
	r.Body = http.MaxBytesReader(w, r.Body, a.MaxUploadBytes)
	if strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data") {
		if err := r.ParseMultipartForm(a.MaxUploadBytes); err != nil {
			a.error(w, http.StatusBadRequest, "bad_request", "invalid multipart form: "+err.Error())
			return
		}
		if err := json.Unmarshal([]byte(r.FormValue("data")), &spec); err != nil {
			a.error(w, http.StatusBadRequest, "bad_request", "invalid JSON in data field: "+err.Error())
			return
		}
		var err error
		if uploads.StartingImage, err = formUpload(r.MultipartForm, "starting_image"); err != nil {
			a.error(w, http.StatusBadRequest, "bad_request", err.Error())
			return
		}
		if uploads.FaceSwapImage, err = formUpload(r.MultipartForm, "faceswap_image"); err != nil {
			a.error(w, http.StatusBadRequest, "bad_request", err.Error())
			return
		}
	} else if !a.decode(w, r, &spec) {
		return
	}

	job, err := a.Queue.EnqueueJob(r.Context(), a.currentUserID(r), spec, uploads)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	a.json(w, http.StatusCreated, toJob(*job))
}

func formUpload(form *multipart.Form, field string) (*queue.Upload, error) {
	if form == nil || len(form.File[field]) == 0 {
		return nil, nil
	}
	header := form.File[field][0]
	f, err := header.Open()
	if err != nil {
		return nil, errors.New(field + ": " + err.Error())
	}
	defer f.Close()
	data, err := io.ReadAll(f)
	if err != nil {
		return nil, errors.New(field + ": " + err.Error())
	}
	if len(data) == 0 {
		return nil, nil
	}
	return &queue.Upload{Filename: header.Filename, Data: data}, nil
}

func (a *App) ListJobs(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, err := queryInt(q.Get("limit"), defaultLimit)
	if err != nil || limit < 1 || limit > maxListLimit {
		a.error(w, http.StatusBadRequest, "bad_request", "limit must be between 1 and 200")
		return
	}
	offset, err := queryInt(q.Get("offset"), 0)
	if err != nil || offset < 0 {
		a.error(w, http.StatusBadRequest, "bad_request", "offset must be non-negative")
		return
	}
	filter := domain.JobFilter{
		UserID:         a.currentUserID(r),
		SortByPriority: q.Get("sort") == sortPriorityAsc,
		Limit:          limit,
		Offset:         offset,
	}
	for _, raw := range strings.Split(q.Get("status"), ",") {
		if st := strings.TrimSpace(raw); st != "" {
			filter.Statuses = append(filter.Statuses, domain.JobStatus(st))
		}
	}

	jobs, total, err := a.Queue.ListJobs(r.Context(), filter)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	a.json(w, http.StatusOK, jobListResponse{Items: toJobs(jobs), Total: total, Limit: limit, Offset: offset})
}

func queryInt(raw string, def int) (int, error) {
	if raw == "" {
		return def, nil
	}
	return strconv.Atoi(raw)
}

type reorderRequest struct {
	JobIDs []string `json:"job_ids"`
}

func (a *App) ReorderJobs(w http.ResponseWriter, r *http.Request) {
	var req reorderRequest
	if !a.decode(w, r, &req) {
		return
	}
	jobs, err := a.Queue.ReorderJobs(r.Context(), a.currentUserID(r), req.JobIDs)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	a.json(w, http.StatusOK, toJobs(jobs))
}

func (a *App) GetJob(w http.ResponseWriter, r *http.Request) {
	detail, err := a.Queue.GetJob(r.Context(), a.currentUserID(r), chi.URLParam(r, "job_id"))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	a.json(w, http.StatusOK, toJobDetail(detail))
}

type jobUpdateRequest struct {
	Name   *string `json:"name"`
	Status *string `json:"status"`
}

func (a *App) UpdateJob(w http.ResponseWriter, r *http.Request) {
	var req jobUpdateRequest
	if !a.decode(w, r, &req) {
		return
	}
	upd := queue.JobUpdate{Name: req.Name}
	if req.Status != nil {
		st := domain.JobStatus(*req.Status)
		if !st.Valid() {
			a.error(w, http.StatusBadRequest, "bad_request", "unknown status "+strconv.Quote(*req.Status))
			return
		}
		upd.Status = &st
	}
	job, err := a.Queue.UpdateJob(r.Context(), a.currentUserID(r), chi.URLParam(r, "job_id"), upd)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	a.json(w, http.StatusOK, toJob(*job))
}

func (a *App) ReopenJob(w http.ResponseWriter, r *http.Request) {
	detail, err := a.Queue.ReopenJob(r.Context(), a.currentUserID(r), chi.URLParam(r, "job_id"))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	a.json(w, http.StatusOK, toJobDetail(detail))
}

func (a *App) DeleteJob(w http.ResponseWriter, r *http.Request) {
	if err := a.Queue.DeleteJob(r.Context(), a.currentUserID(r), chi.URLParam(r, "job_id")); err != nil {
		a.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
