// Package fleet applies a desired-state document across many targets
// at once. Targets are independent of each other, so they run on a
// bounded worker pool; within one target the domains stay strictly
// ordered. Transient failures (busy device, dropped session) are
// retried with exponential backoff before the target is given up.
package fleet

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/piwi3910/iloctl/pkg/domain"
	"github.com/piwi3910/iloctl/pkg/reconcile"
)

// Job is the ordered reconciliation work for one target.
type Job struct {
	// Target is the inventory name.
	Target string

	// Requests converge in slice order. Power intentionally comes
	// first in documents so later domains see a powered host.
	Requests []domain.Request
}

// Reconciler applies one request to one target end to end. The command
// layer supplies one that connects, runs the engine, and records the
// run.
type Reconciler func(ctx context.Context, target string, req domain.Request) error

// Options tune the pool.
type Options struct {
	// MaxParallel bounds concurrent targets. Zero means 4; iLO
	// sessions are cheap but the jump hosts in front of them are not.
	MaxParallel int

	// MaxRetries is the number of additional attempts granted to a
	// request that failed with a retryable class.
	MaxRetries int

	// BaseBackoff is the first retry delay. Zero means 2s. Device-busy
	// failures start from a longer delay since firmware operations
	// take their time.
	BaseBackoff time.Duration

	Logger zerolog.Logger
}

// TargetResult is the outcome for one target.
type TargetResult struct {
	Target string `json:"target"`

	// Applied counts the requests that converged.
	Applied int `json:"applied"`

	// Attempts counts request executions including retries.
	Attempts int `json:"attempts"`

	Duration time.Duration `json:"duration"`

	Err error `json:"-"`
}

// Summary aggregates a fleet run.
type Summary struct {
	Total     int            `json:"total"`
	Succeeded int            `json:"succeeded"`
	Failed    int            `json:"failed"`
	Results   []TargetResult `json:"results"`
}

// Err joins the per-target failures, nil when everything converged.
func (s *Summary) Err() error {
	var errs []error
	for _, r := range s.Results {
		if r.Err != nil {
			errs = append(errs, fmt.Errorf("target %s: %w", r.Target, r.Err))
		}
	}
	return errors.Join(errs...)
}

// Runner fans jobs out over the pool.
type Runner struct {
	reconcile Reconciler
	opts      Options
}

// NewRunner builds a runner around the given per-request reconciler.
func NewRunner(reconcile Reconciler, opts Options) *Runner {
	if opts.MaxParallel <= 0 {
		opts.MaxParallel = 4
	}
	if opts.BaseBackoff <= 0 {
		opts.BaseBackoff = 2 * time.Second
	}
	return &Runner{reconcile: reconcile, opts: opts}
}

// Run executes every job and reports per-target outcomes. It only
// returns early when the context is cancelled; one target failing
// never stops the others.
func (r *Runner) Run(ctx context.Context, jobs []Job) *Summary {
	summary := &Summary{
		Total:   len(jobs),
		Results: make([]TargetResult, len(jobs)),
	}
	if len(jobs) == 0 {
		return summary
	}

	workerCount := r.opts.MaxParallel
	if len(jobs) < workerCount {
		workerCount = len(jobs)
	}

	type indexedJob struct {
		index int
		job   Job
	}
	queue := make(chan indexedJob, len(jobs))
	for i, job := range jobs {
		queue <- indexedJob{index: i, job: job}
	}
	close(queue)

	var wg sync.WaitGroup
	for i := 0; i < workerCount; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for item := range queue {
				summary.Results[item.index] = r.runTarget(ctx, item.job)
				select {
				case <-ctx.Done():
					return
				default:
				}
			}
		}()
	}
	wg.Wait()

	for i := range summary.Results {
		if summary.Results[i].Target == "" {
			// Never dequeued, the context died first.
			summary.Results[i] = TargetResult{
				Target: jobs[i].Target,
				Err:    ctx.Err(),
			}
		}
		if summary.Results[i].Err != nil {
			summary.Failed++
		} else {
			summary.Succeeded++
		}
	}
	return summary
}

// runTarget converges one target's requests in order. The first
// unrecoverable failure stops the target since later domains may
// depend on the earlier ones.
func (r *Runner) runTarget(ctx context.Context, job Job) TargetResult {
	started := time.Now()
	result := TargetResult{Target: job.Target}
	logger := r.opts.Logger.With().Str("target", job.Target).Logger()

	for _, req := range job.Requests {
		err := r.applyWithRetry(ctx, logger, job.Target, req, &result.Attempts)
		if err != nil {
			result.Err = err
			break
		}
		result.Applied++
	}
	result.Duration = time.Since(started)
	return result
}

func (r *Runner) applyWithRetry(ctx context.Context, logger zerolog.Logger, target string, req domain.Request, attempts *int) error {
	var err error
	for attempt := 0; ; attempt++ {
		*attempts++
		err = r.reconcile(ctx, target, req)
		if err == nil {
			return nil
		}
		if !reconcile.IsRetryable(err) || attempt >= r.opts.MaxRetries {
			return err
		}

		delay := r.backoff(attempt, err)
		logger.Warn().
			Err(err).
			Str("domain", string(req.Kind())).
			Dur("backoff", delay).
			Int("attempt", attempt+1).
			Msg("retrying after transient failure")

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return err
		}
	}
}

// backoff grows exponentially per attempt, capped at one minute, with
// jitter so a fleet of retries does not reconverge on the device in
// lockstep.
func (r *Runner) backoff(attempt int, err error) time.Duration {
	base := r.opts.BaseBackoff
	if reconcile.ClassOf(err) == reconcile.ClassDeviceBusy {
		base *= 2
	}
	delay := time.Duration(float64(base) * math.Pow(2, float64(attempt)))
	if delay > time.Minute {
		delay = time.Minute
	}
	jitter := time.Duration(rand.Int63n(int64(delay)/4 + 1))
	return delay + jitter
}
