// Package finalize stitches a job's completed segments into one video. The
// pipeline runs outside the request that triggered it, either in-process or
// behind an AMQP queue.
package finalize

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/DavidJBarnes/wanly-api/internal/domain"
	"github.com/DavidJBarnes/wanly-api/internal/infra"
)

const (
	defaultTimeout       = 5 * time.Minute
	defaultDownloadLimit = 4
	maxErrorMessage      = 2000
	maxToolOutput        = 500
)

// Objects is the storage subset the pipeline needs.
type Objects interface {
	Fetch(ctx context.Context, ref string) ([]byte, error)
	Store(ctx context.Context, data []byte, key string) (string, error)
}

// CommandRunner executes an external program in dir and returns its
// combined output.
type CommandRunner func(ctx context.Context, dir, name string, args ...string) ([]byte, error)

// ExecRunner runs commands through os/exec.
func ExecRunner(ctx context.Context, dir, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = dir
	return cmd.CombinedOutput()
}

// Options configures a Pipeline.
type Options struct {
	Store         domain.Store
	Objects       Objects
	FFmpegPath    string
	Runner        CommandRunner
	Logger        *infra.Logger
	Now           func() time.Time
	Timeout       time.Duration
	DownloadLimit int
	TempDir       string
}

// Pipeline downloads segment outputs, concatenates them with ffmpeg and
// records the result on the video row.
type Pipeline struct {
	store         domain.Store
	objects       Objects
	ffmpeg        string
	run           CommandRunner
	logger        zerolog.Logger
	now           func() time.Time
	timeout       time.Duration
	downloadLimit int
	tempDir       string
}

// NewPipeline constructs a Pipeline.
func NewPipeline(opts Options) *Pipeline {
	p := &Pipeline{
		store:         opts.Store,
		objects:       opts.Objects,
		ffmpeg:        opts.FFmpegPath,
		run:           opts.Runner,
		logger:        zerolog.Nop(),
		now:           opts.Now,
		timeout:       opts.Timeout,
		downloadLimit: opts.DownloadLimit,
		tempDir:       opts.TempDir,
	}
	if opts.Logger != nil {
		p.logger = infra.Component(*opts.Logger, "finalize")
	}
	if p.ffmpeg == "" {
		p.ffmpeg = "ffmpeg"
	}
	if p.run == nil {
		p.run = ExecRunner
	}
	if p.now == nil {
		p.now = func() time.Time { return time.Now().UTC() }
	}
	if p.timeout <= 0 {
		p.timeout = defaultTimeout
	}
	if p.downloadLimit <= 0 {
		p.downloadLimit = defaultDownloadLimit
	}
	return p
}

// Run executes the pipeline for one video. Any failure, including a panic,
// leaves the video failed and the job finalized; the returned error is for
// logging only.
func (p *Pipeline) Run(ctx context.Context, videoID, jobID string) (err error) {
	log := p.logger.With().Str("video_id", videoID).Str("job_id", jobID).Logger()
	start := p.now()

	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("%w: finalize panic: %v", domain.ErrInternal, rec)
		}
		if err != nil {
			log.Error().Err(err).Msg("finalize: failed")
			if markErr := p.markFailed(context.WithoutCancel(ctx), videoID, jobID, err); markErr != nil {
				log.Error().Err(markErr).Msg("finalize: could not record failure")
			}
			return
		}
		log.Info().Dur("took", p.now().Sub(start)).Msg("finalize: completed")
	}()

	segments, err := p.begin(ctx, videoID, jobID)
	if err != nil {
		return err
	}

	workDir, err := os.MkdirTemp(p.tempDir, "finalize-"+jobID+"-")
	if err != nil {
		return fmt.Errorf("%w: temp dir: %v", domain.ErrInternal, err)
	}
	defer os.RemoveAll(workDir)

	runCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	names, err := p.download(runCtx, workDir, segments)
	if err != nil {
		return err
	}
	if err := writeConcatList(workDir, names); err != nil {
		return err
	}

	output, err := p.run(runCtx, workDir, p.ffmpeg,
		"-y", "-f", "concat", "-safe", "0", "-i", "concat.txt", "-c", "copy", "final.mp4")
	if err != nil {
		return fmt.Errorf("%w: ffmpeg concat: %v: %s", domain.ErrUpstreamIO, err, tail(strings.TrimSpace(string(output)), maxToolOutput))
	}

	data, err := os.ReadFile(filepath.Join(workDir, "final.mp4"))
	if err != nil {
		return fmt.Errorf("%w: read stitched output: %v", domain.ErrInternal, err)
	}
	ref, err := p.objects.Store(runCtx, data, jobID+"/final.mp4")
	if err != nil {
		return fmt.Errorf("%w: store stitched output: %v", domain.ErrUpstreamIO, err)
	}

	var total float64
	for _, seg := range segments {
		total += seg.DurationSeconds
	}
	return p.complete(ctx, videoID, jobID, ref, total)
}

// begin flips the job to finalizing and the video to processing, then loads
// the completed segments in index order.
func (p *Pipeline) begin(ctx context.Context, videoID, jobID string) ([]domain.Segment, error) {
	var completed []domain.Segment
	err := p.store.WithTx(ctx, func(tx domain.Tx) error {
		job, err := tx.LockJob(ctx, jobID)
		if err != nil {
			return err
		}
		video, err := tx.GetVideo(ctx, videoID)
		if err != nil {
			return err
		}
		if video.JobID != jobID {
			return fmt.Errorf("%w: video %s belongs to job %s", domain.ErrValidation, videoID, video.JobID)
		}
		if !video.Status.Open() {
			return fmt.Errorf("%w: video %s is %s", domain.ErrInvalidTransition, videoID, video.Status)
		}
		job.Status = domain.JobStatusFinalizing
		if err := tx.UpdateJob(ctx, job); err != nil {
			return err
		}
		video.Status = domain.VideoStatusProcessing
		if err := tx.UpdateVideo(ctx, video); err != nil {
			return err
		}

		segments, err := tx.ListSegments(ctx, jobID)
		if err != nil {
			return err
		}
		for _, seg := range segments {
			if seg.Status != domain.SegmentStatusCompleted {
				continue
			}
			if seg.OutputPath == nil || *seg.OutputPath == "" {
				return fmt.Errorf("%w: segment %d has no output", domain.ErrValidation, seg.Index)
			}
			completed = append(completed, seg)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("finalize begin: %w", err)
	}
	if len(completed) == 0 {
		return nil, fmt.Errorf("%w: job %s has no completed segments", domain.ErrValidation, jobID)
	}
	return completed, nil
}

func (p *Pipeline) download(ctx context.Context, dir string, segments []domain.Segment) ([]string, error) {
	names := make([]string, len(segments))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.downloadLimit)
	for i, seg := range segments {
		name := fmt.Sprintf("seg_%03d.mp4", i)
		names[i] = name
		ref := *seg.OutputPath
		index := seg.Index
		g.Go(func() error {
			data, err := p.objects.Fetch(gctx, ref)
			if err != nil {
				return fmt.Errorf("%w: fetch segment %d: %v", domain.ErrUpstreamIO, index, err)
			}
			if err := os.WriteFile(filepath.Join(dir, name), data, 0o600); err != nil {
				return fmt.Errorf("%w: write segment %d: %v", domain.ErrInternal, index, err)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return names, nil
}

func writeConcatList(dir string, names []string) error {
	var b strings.Builder
	for _, name := range names {
		fmt.Fprintf(&b, "file '%s'\n", name)
	}
	if err := os.WriteFile(filepath.Join(dir, "concat.txt"), []byte(b.String()), 0o600); err != nil {
		return fmt.Errorf("%w: write concat list: %v", domain.ErrInternal, err)
	}
	return nil
}

func (p *Pipeline) complete(ctx context.Context, videoID, jobID, ref string, duration float64) error {
	err := p.store.WithTx(ctx, func(tx domain.Tx) error {
		job, err := tx.LockJob(ctx, jobID)
		if err != nil {
			return err
		}
		video, err := tx.GetVideo(ctx, videoID)
		if err != nil {
			return err
		}
		completedAt := p.now()
		video.Status = domain.VideoStatusCompleted
		video.OutputPath = &ref
		video.DurationSeconds = &duration
		video.CompletedAt = &completedAt
		video.ErrorMessage = nil
		if err := tx.UpdateVideo(ctx, video); err != nil {
			return err
		}
		job.Status = domain.JobStatusFinalized
		return tx.UpdateJob(ctx, job)
	})
	if err != nil {
		return fmt.Errorf("finalize complete: %w", err)
	}
	return nil
}

// markFailed records cause on the video when it is still open. A settled or
// deleted video (redelivery, reopen) leaves both rows alone.
func (p *Pipeline) markFailed(ctx context.Context, videoID, jobID string, cause error) error {
	message := truncate(cause.Error(), maxErrorMessage)
	return p.store.WithTx(ctx, func(tx domain.Tx) error {
		job, err := tx.LockJob(ctx, jobID)
		if errors.Is(err, domain.ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		video, err := tx.GetVideo(ctx, videoID)
		if errors.Is(err, domain.ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		if !video.Status.Open() || video.JobID != jobID {
			return nil
		}
		video.Status = domain.VideoStatusFailed
		video.ErrorMessage = &message
		if err := tx.UpdateVideo(ctx, video); err != nil {
			return err
		}
		job.Status = domain.JobStatusFinalized
		return tx.UpdateJob(ctx, job)
	})
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return strings.ToValidUTF8(s[:n], "")
}

func tail(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}
