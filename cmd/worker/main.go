package main

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"os/signal"
	"path"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/DavidJBarnes/wanly-api/internal/client"
	"github.com/DavidJBarnes/wanly-api/internal/domain"
	"github.com/DavidJBarnes/wanly-api/internal/infra"
)

const (
	maxErrorOutput  = 2000
	progressLogTail = 20
)

type segmentAPI interface {
	Next(ctx context.Context, workerID, workerName string) (*domain.SegmentClaim, error)
	Report(ctx context.Context, segmentID string, report client.Report) error
	Upload(ctx context.Context, segmentID, workerID, videoPath, framePath string) error
	Fetch(ctx context.Context, ref string) ([]byte, error)
}

// renderJob is one claim plus its scratch directory and downloaded inputs.
// Input paths are empty when the claim carries no such image.
type renderJob struct {
	Claim             *domain.SegmentClaim
	WorkDir           string
	StartImagePath    string
	FaceSwapImagePath string
}

// renderFunc runs the render command for a job. It returns the command's
// stdout; progress lines are passed to onLine as they arrive.
type renderFunc func(ctx context.Context, job renderJob, onLine func(string)) ([]byte, error)

// renderResult is the JSON object the render command prints as its last line.
type renderResult struct {
	OutputPath    string `json:"output_path"`
	LastFramePath string `json:"last_frame_path"`
}

type segmentWorker struct {
	api           segmentAPI
	render        renderFunc
	logger        infra.Logger
	workerID      string
	workerName    string
	pollInterval  time.Duration
	progressEvery time.Duration
}

func main() {
	_ = godotenv.Load()

	cfg, err := infra.LoadWorkerConfig()
	if err != nil {
		panic(err)
	}
	logger := infra.Component(infra.NewLogger(cfg.AppEnv), "worker").
		With().Str("worker_id", cfg.WorkerID).Logger()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	worker := &segmentWorker{
		api:           client.New(client.Options{BaseURL: cfg.APIBaseURL, Timeout: cfg.RequestTimeout}),
		render:        commandRenderer(cfg.Command),
		logger:        logger,
		workerID:      cfg.WorkerID,
		workerName:    cfg.WorkerName,
		pollInterval:  cfg.PollInterval,
		progressEvery: cfg.ProgressEvery,
	}

	if err := worker.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Fatal().Err(err).Msg("worker: stopped with error")
	}
	logger.Info().Msg("worker: stopped")
}

func (w *segmentWorker) Run(ctx context.Context) error {
	w.logger.Info().Str("worker_name", w.workerName).Msg("worker: started")
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		claim, err := w.api.Next(ctx, w.workerID, w.workerName)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			w.logger.Error().Err(err).Msg("worker: failed to claim segment")
			w.sleep(ctx)
			continue
		}
		if claim == nil {
			w.sleep(ctx)
			continue
		}

		w.handleSegment(ctx, claim)
	}
}

func (w *segmentWorker) sleep(ctx context.Context) {
	timer := time.NewTimer(w.pollInterval)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}

func (w *segmentWorker) handleSegment(ctx context.Context, claim *domain.SegmentClaim) {
	log := w.logger.With().Str("segment_id", claim.ID).Str("job_id", claim.JobID).Int("index", claim.Index).Logger()
	log.Info().Msg("worker: picked segment")

	processing := domain.SegmentStatusProcessing
	if err := w.report(ctx, claim.ID, client.Report{Status: &processing}); err != nil {
		log.Error().Err(err).Msg("worker: could not mark segment processing")
		return
	}

	workDir, err := os.MkdirTemp("", "segment-"+claim.ID+"-")
	if err != nil {
		log.Error().Err(err).Msg("worker: could not create work dir")
		return
	}
	defer os.RemoveAll(workDir)

	progress := newProgressTail(progressLogTail)
	result, err := w.process(ctx, claim, workDir, progress)
	var delivery *deliveryError
	switch {
	case err == nil:
		log.Info().Str("output", result.OutputPath).Msg("worker: segment completed")
		return
	case errors.As(err, &delivery):
		log.Error().Err(delivery.err).Msg("worker: completion report failed")
		return
	}

	// The failure report must survive a shutdown signal.
	reportCtx := context.WithoutCancel(ctx)
	log.Error().Err(err).Msg("worker: segment failed")
	failed := domain.SegmentStatusFailed
	message := keepTail(strings.TrimSpace(err.Error()+"\n"+progress.String()), maxErrorOutput)
	if err := w.report(reportCtx, claim.ID, client.Report{Status: &failed, ErrorMessage: &message}); err != nil {
		log.Error().Err(err).Msg("worker: failure report failed")
	}
}

// deliveryError marks a completion that reached the API and was rejected or
// lost. The segment is not reported failed in that case.
type deliveryError struct{ err error }

func (e *deliveryError) Error() string { return e.err.Error() }
func (e *deliveryError) Unwrap() error { return e.err }

// process fetches inputs, renders and delivers the output of one claim.
func (w *segmentWorker) process(ctx context.Context, claim *domain.SegmentClaim, workDir string, progress *progressTail) (renderResult, error) {
	job, err := w.prepareInputs(ctx, claim, workDir)
	if err != nil {
		return renderResult{}, err
	}
	stopProgress := w.reportProgress(ctx, claim.ID, progress)
	stdout, err := w.render(ctx, job, progress.add)
	stopProgress()
	if err != nil {
		return renderResult{}, err
	}
	result, err := parseResult(stdout)
	if err != nil {
		return result, err
	}
	// Completion must survive a shutdown signal.
	return result, w.deliver(context.WithoutCancel(ctx), job, result)
}

// prepareInputs downloads the claim's start and face swap images into workDir.
func (w *segmentWorker) prepareInputs(ctx context.Context, claim *domain.SegmentClaim, workDir string) (renderJob, error) {
	job := renderJob{Claim: claim, WorkDir: workDir}
	var err error
	if claim.StartImage != nil && *claim.StartImage != "" {
		if job.StartImagePath, err = w.download(ctx, *claim.StartImage, workDir, "start_image"); err != nil {
			return job, fmt.Errorf("fetch start image: %w", err)
		}
	}
	if claim.FaceSwap.Enabled && claim.FaceSwap.Image != nil && *claim.FaceSwap.Image != "" {
		if job.FaceSwapImagePath, err = w.download(ctx, *claim.FaceSwap.Image, workDir, "faceswap_image"); err != nil {
			return job, fmt.Errorf("fetch face swap image: %w", err)
		}
	}
	return job, nil
}

func (w *segmentWorker) download(ctx context.Context, ref, dir, name string) (string, error) {
	data, err := w.api.Fetch(ctx, ref)
	if err != nil {
		return "", err
	}
	dest := filepath.Join(dir, name+strings.ToLower(path.Ext(ref)))
	if err := os.WriteFile(dest, data, 0o644); err != nil {
		return "", err
	}
	return dest, nil
}

// deliver completes the segment. Results naming remote refs are reported
// as-is; local files are uploaded.
func (w *segmentWorker) deliver(ctx context.Context, job renderJob, result renderResult) error {
	claimID := job.Claim.ID
	if isRemoteRef(result.OutputPath) {
		completed := domain.SegmentStatusCompleted
		report := client.Report{Status: &completed, OutputPath: &result.OutputPath}
		if result.LastFramePath != "" {
			report.LastFramePath = &result.LastFramePath
		}
		if err := w.report(ctx, claimID, report); err != nil {
			return &deliveryError{err: err}
		}
		return nil
	}
	if result.LastFramePath == "" {
		return errors.New("render result has no last_frame_path for local output")
	}
	video := localPath(job.WorkDir, result.OutputPath)
	frame := localPath(job.WorkDir, result.LastFramePath)
	for _, p := range []string{video, frame} {
		if _, err := os.Stat(p); err != nil {
			return fmt.Errorf("render output: %w", err)
		}
	}
	if err := w.api.Upload(ctx, claimID, w.workerID, video, frame); err != nil {
		if errors.Is(err, client.ErrConflict) {
			w.logger.Warn().Err(err).Str("segment_id", claimID).Msg("worker: claim no longer held")
		}
		return &deliveryError{err: err}
	}
	return nil
}

func isRemoteRef(p string) bool {
	return strings.Contains(p, "://")
}

func localPath(workDir, p string) string {
	if filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(workDir, p)
}

func (w *segmentWorker) report(ctx context.Context, segmentID string, report client.Report) error {
	report.WorkerID = &w.workerID
	err := w.api.Report(ctx, segmentID, report)
	if errors.Is(err, client.ErrConflict) {
		w.logger.Warn().Err(err).Str("segment_id", segmentID).Msg("worker: claim no longer held")
	}
	return err
}

// reportProgress pushes the output tail on a ticker until the returned stop
// function is called.
func (w *segmentWorker) reportProgress(ctx context.Context, segmentID string, progress *progressTail) func() {
	if w.progressEvery <= 0 {
		return func() {}
	}
	done := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		ticker := time.NewTicker(w.progressEvery)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
				text := progress.String()
				if text == "" {
					continue
				}
				if err := w.report(ctx, segmentID, client.Report{ProgressLog: &text}); err != nil {
					w.logger.Warn().Err(err).Str("segment_id", segmentID).Msg("worker: progress report failed")
				}
			}
		}
	}()
	return func() {
		close(done)
		wg.Wait()
	}
}

// commandRenderer runs command through the shell inside the job's work
// dir with the claim JSON on stdin. Stderr lines are treated as progress.
func commandRenderer(command string) renderFunc {
	return func(ctx context.Context, job renderJob, onLine func(string)) ([]byte, error) {
		claim := job.Claim
		payload, err := json.Marshal(claim)
		if err != nil {
			return nil, err
		}
		cmd := exec.CommandContext(ctx, "sh", "-c", command)
		cmd.Dir = job.WorkDir
		cmd.Stdin = bytes.NewReader(payload)
		cmd.Env = append(os.Environ(),
			"SEGMENT_ID="+claim.ID,
			"JOB_ID="+claim.JobID,
			fmt.Sprintf("SEGMENT_INDEX=%d", claim.Index),
			"WORK_DIR="+job.WorkDir,
			"START_IMAGE_PATH="+job.StartImagePath,
			"FACESWAP_IMAGE_PATH="+job.FaceSwapImagePath,
		)
		var stdout bytes.Buffer
		cmd.Stdout = &stdout
		stderr, err := cmd.StderrPipe()
		if err != nil {
			return nil, err
		}
		if err := cmd.Start(); err != nil {
			return nil, fmt.Errorf("start render command: %w", err)
		}
		scanner := bufio.NewScanner(stderr)
		for scanner.Scan() {
			onLine(scanner.Text())
		}
		if err := cmd.Wait(); err != nil {
			return stdout.Bytes(), fmt.Errorf("render command: %w", err)
		}
		return stdout.Bytes(), nil
	}
}

func parseResult(stdout []byte) (renderResult, error) {
	lines := strings.Split(strings.TrimSpace(string(stdout)), "\n")
	last := strings.TrimSpace(lines[len(lines)-1])
	var result renderResult
	if last == "" {
		return result, errors.New("render command printed no result")
	}
	if err := json.Unmarshal([]byte(last), &result); err != nil {
		return result, fmt.Errorf("render result: %w", err)
	}
	if result.OutputPath == "" {
		return result, errors.New("render result has no output_path")
	}
	return result, nil
}

type progressTail struct {
	mu    sync.Mutex
	max   int
	lines []string
}

func newProgressTail(max int) *progressTail {
	return &progressTail{max: max}
}

func (p *progressTail) add(line string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.lines = append(p.lines, line)
	if len(p.lines) > p.max {
		p.lines = p.lines[len(p.lines)-p.max:]
	}
}

func (p *progressTail) String() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return strings.Join(p.lines, "\n")
}

func keepTail(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return strings.ToValidUTF8(s[len(s)-n:], "")
}
