// Package client is the worker-side API client for the segment claim protocol.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/DavidJBarnes/wanly-api/internal/domain"
)

// ErrConflict is returned when the API rejects a report, typically because the
// claim was reclaimed after going stale.
var ErrConflict = errors.New("api: conflict")

// ErrNotFound is returned when the requested segment or file does not exist.
var ErrNotFound = errors.New("api: not found")

type Options struct {
	BaseURL    string
	HTTPClient *http.Client
	Timeout    time.Duration
}

type Client struct {
	httpClient *http.Client
	baseURL    string
}

func New(opts Options) *Client {
	base := strings.TrimRight(opts.BaseURL, "/")
	if base == "" {
		base = "http://localhost:8080"
	}
	client := opts.HTTPClient
	if client == nil {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = 30 * time.Second
		}
		client = &http.Client{Timeout: timeout}
	}
	return &Client{httpClient: client, baseURL: base}
}

// Report is a segment status update. Nil fields are omitted.
type Report struct {
	Status        *domain.SegmentStatus `json:"status,omitempty"`
	OutputPath    *string               `json:"output_path,omitempty"`
	LastFramePath *string               `json:"last_frame_path,omitempty"`
	ErrorMessage  *string               `json:"error_message,omitempty"`
	ProgressLog   *string               `json:"progress_log,omitempty"`
	WorkerID      *string               `json:"worker_id,omitempty"`
}

type apiError struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// Next claims the next segment. It returns nil, nil when the queue is empty.
func (c *Client) Next(ctx context.Context, workerID, workerName string) (*domain.SegmentClaim, error) {
	q := url.Values{"worker_id": {workerID}}
	if workerName != "" {
		q.Set("worker_name", workerName)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/segments/next?"+q.Encode(), nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNoContent {
		return nil, nil
	}
	if err := checkStatus(resp); err != nil {
		return nil, err
	}
	var claim domain.SegmentClaim
	if err := json.NewDecoder(resp.Body).Decode(&claim); err != nil {
		return nil, fmt.Errorf("api: decode claim: %w", err)
	}
	return &claim, nil
}

// Report sends a status update for a claimed segment.
func (c *Client) Report(ctx context.Context, segmentID string, report Report) error {
	body, err := json.Marshal(report)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPatch, c.baseURL+"/segments/"+url.PathEscape(segmentID), bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return checkStatus(resp)
}

// Upload streams the rendered video and last frame for a claimed segment.
// The API stores both files and completes the segment.
func (c *Client) Upload(ctx context.Context, segmentID, workerID, videoPath, framePath string) error {
	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)
	go func() {
		pw.CloseWithError(writeUploadForm(mw, workerID, videoPath, framePath))
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/segments/"+url.PathEscape(segmentID)+"/upload", pr)
	if err != nil {
		pr.Close()
		return err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return checkStatus(resp)
}

func writeUploadForm(mw *multipart.Writer, workerID, videoPath, framePath string) error {
	if workerID != "" {
		if err := mw.WriteField("worker_id", workerID); err != nil {
			return err
		}
	}
	if err := copyFormFile(mw, "video", videoPath); err != nil {
		return err
	}
	if err := copyFormFile(mw, "last_frame", framePath); err != nil {
		return err
	}
	return mw.Close()
}

func copyFormFile(mw *multipart.Writer, field, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("api: open %s: %w", field, err)
	}
	defer f.Close()
	part, err := mw.CreateFormFile(field, filepath.Base(path))
	if err != nil {
		return err
	}
	_, err = io.Copy(part, f)
	return err
}

// Fetch downloads a stored artifact such as a job's starting image.
func (c *Client) Fetch(ctx context.Context, ref string) ([]byte, error) {
	q := url.Values{"path": {ref}}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/files?"+q.Encode(), nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if err := checkStatus(resp); err != nil {
		return nil, err
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("api: read file: %w", err)
	}
	return data, nil
}

func checkStatus(resp *http.Response) error {
	if resp.StatusCode < http.StatusBadRequest {
		return nil
	}
	var out apiError
	message := ""
	if err := json.NewDecoder(resp.Body).Decode(&out); err == nil {
		message = out.Error.Message
	}
	switch resp.StatusCode {
	case http.StatusConflict:
		return fmt.Errorf("%w: %s", ErrConflict, message)
	case http.StatusNotFound:
		return fmt.Errorf("%w: %s", ErrNotFound, message)
	}
	if message != "" {
		return fmt.Errorf("api: http %d: %s", resp.StatusCode, message)
	}
	return fmt.Errorf("api: http %d", resp.StatusCode)
}
