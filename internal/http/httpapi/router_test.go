package httpapi

import (
	"bytes"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/rs/zerolog"

	"github.com/DavidJBarnes/wanly-api/internal/adapter/memory"
	"github.com/DavidJBarnes/wanly-api/internal/http/handlers"
	"github.com/DavidJBarnes/wanly-api/internal/queue"
	"github.com/DavidJBarnes/wanly-api/internal/storage"
)

const jobBody = `{"name":"harbor","width":640,"height":480,"fps":16,"seed":7,
	"first_segment":{"prompt":"boats at dawn","duration_seconds":4}}`

type finalizeCalls struct {
	mu    sync.Mutex
	calls []string
}

func (f *finalizeCalls) Finalize(videoID, jobID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, videoID+"/"+jobID)
}

type server struct {
	t         *testing.T
	handler   http.Handler
	finalizer *finalizeCalls
}

func newServer(t *testing.T) *server {
	t.Helper()
	objects, err := storage.NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileStore error: %v", err)
	}
	store := memory.New()
	finalizer := &finalizeCalls{}
	svc := queue.New(queue.Options{Store: store, Catalog: store, Objects: objects, Finalizer: finalizer})
	app := handlers.NewApp(svc, zerolog.Nop())
	return &server{t: t, handler: NewRouter(app, Options{Logger: zerolog.Nop()}), finalizer: finalizer}
}

func (s *server) do(method, path, user string, body string) *httptest.ResponseRecorder {
	s.t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if user != "" {
		req.Header.Set("X-User-ID", user)
	}
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)
	return rec
}

func decodeInto(t *testing.T, rec *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.NewDecoder(rec.Body).Decode(v); err != nil {
		t.Fatalf("decode response: %v (body %q)", err, rec.Body.String())
	}
}

func (s *server) createJob(user string) map[string]any {
	s.t.Helper()
	rec := s.do(http.MethodPost, "/jobs", user, jobBody)
	if rec.Code != http.StatusCreated {
		s.t.Fatalf("create job status = %d body = %s", rec.Code, rec.Body.String())
	}
	var job map[string]any
	decodeInto(s.t, rec, &job)
	return job
}

func TestHealth(t *testing.T) {
	s := newServer(t)
	rec := s.do(http.MethodGet, "/v1/healthz", "", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("healthz status = %d", rec.Code)
	}
	if rec.Header().Get("X-Request-ID") == "" {
		t.Fatalf("request id header missing")
	}
}

func TestJobRoutesRequireOwner(t *testing.T) {
	s := newServer(t)
	if rec := s.do(http.MethodGet, "/jobs", "", ""); rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
}

func TestCreateListAndGetJob(t *testing.T) {
	s := newServer(t)
	job := s.createJob("u1")
	if job["status"] != "pending" || job["priority"] != float64(0) || job["seed"] != float64(7) {
		t.Fatalf("unexpected job: %v", job)
	}
	id := job["id"].(string)

	rec := s.do(http.MethodGet, "/jobs?sort=priority_asc", "u1", "")
	var list struct {
		Items []map[string]any `json:"items"`
		Total int              `json:"total"`
		Limit int              `json:"limit"`
	}
	decodeInto(t, rec, &list)
	if list.Total != 1 || len(list.Items) != 1 || list.Limit != 50 {
		t.Fatalf("list = %+v", list)
	}

	if rec := s.do(http.MethodGet, "/jobs/"+id, "u2", ""); rec.Code != http.StatusNotFound {
		t.Fatalf("foreign owner status = %d, want 404", rec.Code)
	}
	rec = s.do(http.MethodGet, "/jobs/"+id, "u1", "")
	var detail struct {
		ID           string           `json:"id"`
		Segments     []map[string]any `json:"segments"`
		SegmentCount int              `json:"segment_count"`
	}
	decodeInto(t, rec, &detail)
	if detail.ID != id || detail.SegmentCount != 1 || detail.Segments[0]["prompt"] != "boats at dawn" {
		t.Fatalf("detail = %+v", detail)
	}
}

func TestCreateJobValidation(t *testing.T) {
	s := newServer(t)
	cases := map[string]string{
		"malformed":   `{"name":`,
		"no name":     `{"width":640,"height":480,"fps":16,"first_segment":{"prompt":"p"}}`,
		"fast speed":  `{"name":"n","width":640,"height":480,"fps":16,"first_segment":{"prompt":"p","speed":9}}`,
		"zero height": `{"name":"n","width":640,"height":0,"fps":16,"first_segment":{"prompt":"p"}}`,
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			if rec := s.do(http.MethodPost, "/jobs", "u1", body); rec.Code != http.StatusBadRequest {
				t.Fatalf("status = %d, want 400 (body %s)", rec.Code, rec.Body.String())
			}
		})
	}
}

func TestCreateJobMultipart(t *testing.T) {
	s := newServer(t)
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	if err := mw.WriteField("data", jobBody); err != nil {
		t.Fatal(err)
	}
	part, err := mw.CreateFormFile("starting_image", "first.JPG")
	if err != nil {
		t.Fatal(err)
	}
	_, _ = part.Write([]byte("jpeg-bytes"))
	_ = mw.Close()

	req := httptest.NewRequest(http.MethodPost, "/jobs", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("X-User-ID", "u1")
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d body = %s", rec.Code, rec.Body.String())
	}
	var job struct {
		StartingImage *string `json:"starting_image"`
	}
	decodeInto(t, rec, &job)
	if job.StartingImage == nil || !strings.HasSuffix(*job.StartingImage, "/starting_image.jpg") {
		t.Fatalf("starting_image = %v", job.StartingImage)
	}
}

func TestWorkerProtocol(t *testing.T) {
	s := newServer(t)
	if rec := s.do(http.MethodGet, "/segments/next?worker_id=w1", "", ""); rec.Code != http.StatusNoContent {
		t.Fatalf("empty queue status = %d, want 204", rec.Code)
	}
	if rec := s.do(http.MethodGet, "/segments/next", "", ""); rec.Code != http.StatusBadRequest {
		t.Fatalf("missing worker status = %d, want 400", rec.Code)
	}

	job := s.createJob("u1")
	rec := s.do(http.MethodGet, "/segments/next?worker_id=w1&worker_name=gpu-01", "", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("claim status = %d", rec.Code)
	}
	var claim struct {
		ID     string `json:"id"`
		JobID  string `json:"job_id"`
		Width  int    `json:"width"`
		Seed   int64  `json:"seed"`
		Prompt string `json:"prompt"`
	}
	decodeInto(t, rec, &claim)
	if claim.JobID != job["id"] || claim.Width != 640 || claim.Seed != 7 {
		t.Fatalf("claim = %+v", claim)
	}

	rec = s.do(http.MethodPatch, "/segments/"+claim.ID, "", `{"status":"processing","worker_id":"w2"}`)
	if rec.Code != http.StatusConflict {
		t.Fatalf("foreign worker report status = %d, want 409", rec.Code)
	}
	rec = s.do(http.MethodPatch, "/segments/"+claim.ID, "", `{"status":"completed","worker_id":"w1","output_path":"file:///out.mp4"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("complete status = %d body = %s", rec.Code, rec.Body.String())
	}

	rec = s.do(http.MethodGet, "/jobs/"+claim.JobID, "u1", "")
	var detail struct {
		Status string `json:"status"`
	}
	decodeInto(t, rec, &detail)
	if detail.Status != "awaiting" {
		t.Fatalf("job status = %s, want awaiting", detail.Status)
	}

	rec = s.do(http.MethodPost, "/segments/"+claim.ID+"/retry", "", "")
	if rec.Code != http.StatusConflict {
		t.Fatalf("retry completed segment status = %d, want 409", rec.Code)
	}

	rec = s.do(http.MethodPatch, "/jobs/"+claim.JobID, "u1", `{"status":"finalized"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("finalize status = %d body = %s", rec.Code, rec.Body.String())
	}
	if len(s.finalizer.calls) != 1 {
		t.Fatalf("finalize calls = %v", s.finalizer.calls)
	}
}

func TestUpdateJobErrors(t *testing.T) {
	s := newServer(t)
	id := s.createJob("u1")["id"].(string)

	if rec := s.do(http.MethodPatch, "/jobs/"+id, "u1", `{"status":"exploded"}`); rec.Code != http.StatusBadRequest {
		t.Fatalf("unknown status = %d, want 400", rec.Code)
	}
	if rec := s.do(http.MethodPatch, "/jobs/"+id, "u1", `{"status":"finalized"}`); rec.Code != http.StatusConflict {
		t.Fatalf("pending->finalized = %d, want 409", rec.Code)
	}
	if rec := s.do(http.MethodPatch, "/jobs/"+id, "u1", `{"name":"renamed"}`); rec.Code != http.StatusOK {
		t.Fatalf("rename = %d", rec.Code)
	}
	if rec := s.do(http.MethodPost, "/jobs/"+id+"/reopen", "u1", ""); rec.Code != http.StatusConflict {
		t.Fatalf("reopen pending = %d, want 409", rec.Code)
	}
}

func TestReorderAndDelete(t *testing.T) {
	s := newServer(t)
	a := s.createJob("u1")["id"].(string)
	b := s.createJob("u1")["id"].(string)

	if rec := s.do(http.MethodPut, "/jobs/reorder", "u1", `{"job_ids":["`+a+`"]}`); rec.Code != http.StatusBadRequest {
		t.Fatalf("partial reorder = %d, want 400", rec.Code)
	}
	rec := s.do(http.MethodPut, "/jobs/reorder", "u1", `{"job_ids":["`+b+`","`+a+`"]}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("reorder = %d body = %s", rec.Code, rec.Body.String())
	}
	var jobs []map[string]any
	decodeInto(t, rec, &jobs)
	if jobs[0]["id"] != b || jobs[0]["priority"] != float64(0) {
		t.Fatalf("reorder result = %v", jobs)
	}

	if rec := s.do(http.MethodDelete, "/jobs/"+a, "u1", ""); rec.Code != http.StatusNoContent {
		t.Fatalf("delete = %d body = %s", rec.Code, rec.Body.String())
	}
	if rec := s.do(http.MethodGet, "/jobs/"+a, "u1", ""); rec.Code != http.StatusNotFound {
		t.Fatalf("deleted job = %d, want 404", rec.Code)
	}
}

func TestEstimateAndStats(t *testing.T) {
	s := newServer(t)
	if rec := s.do(http.MethodGet, "/estimate?width=640", "u1", ""); rec.Code != http.StatusBadRequest {
		t.Fatalf("missing params = %d, want 400", rec.Code)
	}
	rec := s.do(http.MethodGet, "/estimate?width=640&height=480&fps=16&duration=5", "u1", "")
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"estimated_run_time":null`) {
		t.Fatalf("estimate = %d %s", rec.Code, rec.Body.String())
	}
	rec = s.do(http.MethodGet, "/stats", "u1", "")
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "jobs_by_status") {
		t.Fatalf("stats = %d %s", rec.Code, rec.Body.String())
	}
}

func (s *server) uploadOutput(segmentID, workerID string, files map[string]string) *httptest.ResponseRecorder {
	s.t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	if workerID != "" {
		_ = mw.WriteField("worker_id", workerID)
	}
	for field, content := range files {
		part, err := mw.CreateFormFile(field, field+".bin")
		if err != nil {
			s.t.Fatal(err)
		}
		_, _ = part.Write([]byte(content))
	}
	_ = mw.Close()
	req := httptest.NewRequest(http.MethodPost, "/segments/"+segmentID+"/upload", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)
	return rec
}

func TestSegmentUploadAndFileFetch(t *testing.T) {
	s := newServer(t)
	s.createJob("u1")
	rec := s.do(http.MethodGet, "/segments/next?worker_id=w1", "", "")
	var claim struct {
		ID    string `json:"id"`
		JobID string `json:"job_id"`
	}
	decodeInto(t, rec, &claim)

	if rec := s.uploadOutput(claim.ID, "w1", map[string]string{"video": "mp4"}); rec.Code != http.StatusBadRequest {
		t.Fatalf("missing frame = %d, want 400", rec.Code)
	}
	if rec := s.uploadOutput(claim.ID, "w2", map[string]string{"video": "mp4", "last_frame": "png"}); rec.Code != http.StatusConflict {
		t.Fatalf("foreign worker upload = %d, want 409", rec.Code)
	}
	rec = s.uploadOutput(claim.ID, "w1", map[string]string{"video": "mp4-bytes", "last_frame": "png-bytes"})
	if rec.Code != http.StatusOK {
		t.Fatalf("upload = %d body = %s", rec.Code, rec.Body.String())
	}
	var seg struct {
		Status        string  `json:"status"`
		OutputPath    *string `json:"output_path"`
		LastFramePath *string `json:"last_frame_path"`
	}
	decodeInto(t, rec, &seg)
	if seg.Status != "completed" || seg.LastFramePath == nil || *seg.LastFramePath != claim.JobID+"/0_last_frame.png" {
		t.Fatalf("segment = %+v", seg)
	}

	rec = s.do(http.MethodGet, "/files?path="+*seg.OutputPath, "", "")
	if rec.Code != http.StatusOK || rec.Body.String() != "mp4-bytes" {
		t.Fatalf("fetch = %d %q", rec.Code, rec.Body.String())
	}
	if ct := rec.Header().Get("Content-Type"); ct != "video/mp4" {
		t.Fatalf("content type = %q", ct)
	}

	cases := map[string]int{
		"/files":                    http.StatusBadRequest,
		"/files?path=../etc/passwd": http.StatusBadRequest,
		"/files?path=" + claim.JobID + "/9_output.mp4": http.StatusNotFound,
	}
	for path, want := range cases {
		if rec := s.do(http.MethodGet, path, "", ""); rec.Code != want {
			t.Fatalf("GET %s = %d, want %d", path, rec.Code, want)
		}
	}
}
