package dispatcher

import (
	"context"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"toonify/internal/domain"
	"toonify/internal/infra"
	"toonify/internal/pipeline"
)

// Queue finds the next job awaiting processing.
type Queue interface {
	NextQueued(ctx context.Context) (*domain.ImageJob, error)
}

// Invoker runs the processing handler for one job, in process or remotely.
type Invoker interface {
	Process(ctx context.Context, id string) (pipeline.Result, error)
}

type Options struct {
	Interval time.Duration
	// InvokeTimeout bounds one processing call. The call is not cancelled by
	// Stop so a claimed job is never abandoned half way.
	InvokeTimeout time.Duration
	Logger        *infra.Logger
	// OnResult observes finished invocations. It is not called after Stop.
	OnResult func(jobID string, res pipeline.Result, err error)
}

// Dispatcher polls for queued jobs and processes them one at a time.
type Dispatcher struct {
	queue         Queue
	invoker       Invoker
	interval      time.Duration
	invokeTimeout time.Duration
	logger        *infra.Logger
	onResult      func(string, pipeline.Result, error)

	processing atomic.Bool
}

func New(queue Queue, invoker Invoker, opts Options) *Dispatcher {
	interval := opts.Interval
	if interval <= 0 {
		interval = 5 * time.Second
	}
	invokeTimeout := opts.InvokeTimeout
	if invokeTimeout <= 0 {
		invokeTimeout = 5 * time.Minute
	}
	logger := opts.Logger
	if logger == nil {
		discard := zerolog.New(io.Discard)
		logger = &discard
	}
	return &Dispatcher{
		queue:         queue,
		invoker:       invoker,
		interval:      interval,
		invokeTimeout: invokeTimeout,
		logger:        logger,
		onResult:      opts.OnResult,
	}
}

// IsProcessing reports whether an invocation is in flight.
func (d *Dispatcher) IsProcessing() bool {
	return d.processing.Load()
}

// Handle controls a running dispatcher loop.
type Handle struct {
	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once
}

// Stop prevents further ticks. It does not wait; use Done for that.
func (h *Handle) Stop() {
	h.once.Do(h.cancel)
}

// Done is closed once the loop has exited, after any in-flight invocation.
func (h *Handle) Done() <-chan struct{} {
	return h.done
}

// Start runs the first tick immediately and then one per interval until ctx
// is cancelled or Stop is called.
func (d *Dispatcher) Start(ctx context.Context) *Handle {
	ctx, cancel := context.WithCancel(ctx)
	h := &Handle{cancel: cancel, done: make(chan struct{})}

	go func() {
		defer close(h.done)
		d.tick(ctx)

		ticker := time.NewTicker(d.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				d.logger.Debug().Msg("dispatcher: stopped")
				return
			case <-ticker.C:
				d.tick(ctx)
			}
		}
	}()
	return h
}

func (d *Dispatcher) tick(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	job, err := d.queue.NextQueued(ctx)
	if err != nil {
		if ctx.Err() == nil {
			d.logger.Error().Err(err).Msg("dispatcher: poll queued jobs")
		}
		return
	}
	if job == nil || ctx.Err() != nil {
		return
	}

	d.processing.Store(true)
	defer d.processing.Store(false)

	invokeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), d.invokeTimeout)
	defer cancel()
	d.logger.Info().Str("job_id", job.ID).Msg("dispatcher: processing job")
	res, err := d.invoker.Process(invokeCtx, job.ID)

	if ctx.Err() != nil {
		d.logger.Debug().Str("job_id", job.ID).Msg("dispatcher: result ignored after stop")
		return
	}
	if err != nil {
		d.logger.Warn().Err(err).Str("job_id", job.ID).Msg("dispatcher: processing failed")
	} else {
		d.logger.Info().Str("job_id", job.ID).Str("image_url", res.ImageURL).Msg("dispatcher: processing complete")
	}
	if d.onResult != nil {
		d.onResult(job.ID, res, err)
	}
}
