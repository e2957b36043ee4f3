package finalize

import (
	"context"
	"sync"

	"github.com/rs/zerolog"

	"github.com/DavidJBarnes/wanly-api/internal/infra"
)

// Runner executes one finalize run.
type Runner interface {
	Run(ctx context.Context, videoID, jobID string) error
}

// InlineDispatcher runs the pipeline on a goroutine of the API process.
type InlineDispatcher struct {
	runner Runner
	ctx    context.Context
	logger zerolog.Logger
	wg     sync.WaitGroup
}

// NewInlineDispatcher constructs an InlineDispatcher. Runs inherit ctx's
// values but not its cancellation, so a draining server lets them finish.
func NewInlineDispatcher(ctx context.Context, runner Runner, logger *infra.Logger) *InlineDispatcher {
	d := &InlineDispatcher{runner: runner, ctx: context.WithoutCancel(ctx), logger: zerolog.Nop()}
	if logger != nil {
		d.logger = infra.Component(*logger, "finalize-inline")
	}
	return d
}

// Finalize starts a run and returns immediately.
func (d *InlineDispatcher) Finalize(videoID, jobID string) {
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		if err := d.runner.Run(d.ctx, videoID, jobID); err != nil {
			d.logger.Debug().Err(err).Str("video_id", videoID).Msg("finalize: run ended with error")
		}
	}()
}

// Wait blocks until every started run has returned.
func (d *InlineDispatcher) Wait() {
	d.wg.Wait()
}
