package queue

import (
	"context"
	"fmt"
	"math"

	"github.com/DavidJBarnes/wanly-api/internal/domain"
)

type configKey struct {
	width, height, fps int
}

type workerKey struct {
	configKey
	worker string
}

type average struct {
	sum   float64
	count int
}

func (a *average) add(v float64) {
	a.sum += v
	a.count++
}

func (a average) value() float64 {
	return a.sum / float64(a.count)
}

// Rates holds processing-seconds-per-output-second averages at three levels
// of specificity.
type Rates struct {
	worker map[workerKey]float64
	config map[configKey]float64
	global *float64
}

// BuildRates averages the run-time rate of every usable sample.
func BuildRates(samples []domain.RateSample) Rates {
	workerAvg := make(map[workerKey]*average)
	configAvg := make(map[configKey]*average)
	var globalAvg average

	for _, sample := range samples {
		if sample.DurationSeconds <= 0 || sample.RunSeconds < 0 {
			continue
		}
		rate := sample.RunSeconds / sample.DurationSeconds
		ck := configKey{sample.Width, sample.Height, sample.FPS}
		if configAvg[ck] == nil {
			configAvg[ck] = &average{}
		}
		configAvg[ck].add(rate)
		if sample.WorkerName != nil && *sample.WorkerName != "" {
			wk := workerKey{ck, *sample.WorkerName}
			if workerAvg[wk] == nil {
				workerAvg[wk] = &average{}
			}
			workerAvg[wk].add(rate)
		}
		globalAvg.add(rate)
	}

	rates := Rates{
		worker: make(map[workerKey]float64, len(workerAvg)),
		config: make(map[configKey]float64, len(configAvg)),
	}
	for k, a := range workerAvg {
		rates.worker[k] = a.value()
	}
	for k, a := range configAvg {
		rates.config[k] = a.value()
	}
	if globalAvg.count > 0 {
		g := globalAvg.value()
		rates.global = &g
	}
	return rates
}

// Rate returns the most specific rate for the configuration: worker and
// config, then config, then global.
func (r Rates) Rate(width, height, fps int, worker string) (float64, bool) {
	ck := configKey{width, height, fps}
	if worker != "" {
		if rate, ok := r.worker[workerKey{ck, worker}]; ok {
			return rate, true
		}
	}
	if rate, ok := r.config[ck]; ok {
		return rate, true
	}
	if r.global != nil {
		return *r.global, true
	}
	return 0, false
}

// Estimate predicts run seconds for a segment, rounded to one decimal place.
func (r Rates) Estimate(width, height, fps int, duration float64, worker string) *float64 {
	rate, ok := r.Rate(width, height, fps, worker)
	if !ok {
		return nil
	}
	est := math.Round(rate*duration*10) / 10
	return &est
}

// EstimateQuery describes the segment to estimate.
type EstimateQuery struct {
	Width           int
	Height          int
	FPS             int
	DurationSeconds float64
	Worker          string
}

// EstimateRunTime predicts run seconds from the owner's full completed
// history. It returns nil when there is no history at all.
func (s *Service) EstimateRunTime(ctx context.Context, userID string, q EstimateQuery) (*float64, error) {
	if q.Width <= 0 || q.Height <= 0 || q.FPS <= 0 || q.DurationSeconds <= 0 {
		return nil, fmt.Errorf("%w: width, height, fps and duration must be positive", domain.ErrValidation)
	}
	var samples []domain.RateSample
	err := s.store.WithTx(ctx, func(tx domain.Tx) error {
		var err error
		samples, err = tx.RateSamples(ctx, userID)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("estimate run time: %w", err)
	}
	return BuildRates(samples).Estimate(q.Width, q.Height, q.FPS, q.DurationSeconds, q.Worker), nil
}
