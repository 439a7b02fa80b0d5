package tasks

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/staccDOTsol/rebalanc00r/logging"
)

var ErrInvalidTask = errors.New("invalid task")

// RandomSource reads secure random bytes.
type RandomSource interface {
	ReadRandom(ctx context.Context, n int) ([]byte, error)
}

// PoolConfig configures the compile worker pool.
type PoolConfig struct {
	// Workers is the number of compile workers. Default: 8
	Workers int `yaml:"workers"`

	// CompileAttempts is how many times a random read is tried per compile. Default: 3
	CompileAttempts int `yaml:"compile_attempts"`

	// CompileRetryDelay is the wait between random read attempts. Default: 10ms
	CompileRetryDelay time.Duration `yaml:"compile_retry_delay"`

	// IdleSleep is how long a worker sleeps on an empty queue. Default: 50ms
	IdleSleep time.Duration `yaml:"idle_sleep"`
}

// DefaultPoolConfig returns the default pool configuration.
func DefaultPoolConfig() PoolConfig {
	return PoolConfig{
		Workers:           8,
		CompileAttempts:   3,
		CompileRetryDelay: 10 * time.Millisecond,
		IdleSleep:         50 * time.Millisecond,
	}
}

func (c PoolConfig) withDefaults() PoolConfig {
	def := DefaultPoolConfig()
	if c.Workers <= 0 {
		c.Workers = def.Workers
	}
	if c.CompileAttempts <= 0 {
		c.CompileAttempts = def.CompileAttempts
	}
	if c.CompileRetryDelay <= 0 {
		c.CompileRetryDelay = def.CompileRetryDelay
	}
	if c.IdleSleep <= 0 {
		c.IdleSleep = def.IdleSleep
	}
	return c
}

// WorkerPool compiles queued tasks and hands them to the outbox.
type WorkerPool struct {
	logger logging.Logger
	config PoolConfig
	queue  *Queue
	random RandomSource
	store  *ResultStore
	outbox *Outbox[CompiledTask]

	shutdown atomic.Bool
	wg       sync.WaitGroup
}

// NewWorkerPool creates a pool. Call Start to launch the workers.
func NewWorkerPool(
	logger logging.Logger,
	config PoolConfig,
	queue *Queue,
	random RandomSource,
	store *ResultStore,
	outbox *Outbox[CompiledTask],
) *WorkerPool {
	return &WorkerPool{
		logger: logging.ForComponent(logger, logging.ComponentWorkerPool),
		config: config.withDefaults(),
		queue:  queue,
		random: random,
		store:  store,
		outbox: outbox,
	}
}

// Start launches the workers.
func (p *WorkerPool) Start(ctx context.Context) {
	for i := 0; i < p.config.Workers; i++ {
		p.wg.Add(1)
		id := i
		go func() {
			defer p.wg.Done()
			logging.RecoverGoRoutine(p.logger, fmt.Sprintf("compile_worker_%d", id), func(ctx context.Context) {
				p.work(ctx, id)
			})(ctx)
		}()
	}
	p.logger.Info().Int(logging.FieldCount, p.config.Workers).Msg("worker pool started")
}

// Shutdown tells workers to exit once the queue is drained.
func (p *WorkerPool) Shutdown() {
	p.shutdown.Store(true)
}

// Wait blocks until every worker exited.
func (p *WorkerPool) Wait() {
	p.wg.Wait()
}

func (p *WorkerPool) work(ctx context.Context, id int) {
	logger := p.logger.With().Int(logging.FieldWorker, id).Logger()

	for {
		task, ok := p.queue.Steal()
		if !ok {
			if p.shutdown.Load() || ctx.Err() != nil {
				return
			}
			select {
			case <-ctx.Done():
			case <-time.After(p.config.IdleSleep):
			}
			continue
		}

		start := time.Now()
		compiled, err := p.Compile(ctx, task)
		compileDurationSeconds.Observe(time.Since(start).Seconds())

		if err != nil {
			switch {
			case errors.Is(err, ErrInvalidTask):
				tasksCompiled.WithLabelValues("invalid").Inc()
				logger.Error().Err(err).Str(logging.FieldRequest, task.Request.String()).Msg("dropping invalid task")
				p.queue.Release(task.Request)
			case ctx.Err() != nil:
				p.queue.Release(task.Request)
			default:
				tasksCompiled.WithLabelValues("error").Inc()
				logger.Warn().Err(err).Str(logging.FieldRequest, task.Request.String()).Msg("compile failed, requeueing")
				p.queue.Requeue(task)
			}
			continue
		}

		tasksCompiled.WithLabelValues("ok").Inc()
		if !p.outbox.Send(compiled) {
			logger.Debug().Str(logging.FieldRequest, task.Request.String()).Msg("outbox closed, dropping compiled task")
			p.queue.Release(task.Request)
			continue
		}

		logger.Debug().
			Str(logging.FieldRequest, task.Request.String()).
			Uint8(logging.FieldNumBytes, task.NumBytes).
			Msg("task compiled")
	}
}

// Compile produces the CompiledTask for task, reusing a stored result when
// the request was compiled before.
func (p *WorkerPool) Compile(ctx context.Context, task TaskInput) (CompiledTask, error) {
	if task.Kind != KindSimpleRandomnessV1 {
		return CompiledTask{}, fmt.Errorf("%w: unsupported kind %s", ErrInvalidTask, task.Kind)
	}
	if task.NumBytes == 0 {
		return CompiledTask{}, fmt.Errorf("%w: zero bytes requested", ErrInvalidTask)
	}

	result, err := p.store.GetOrCreate(ctx, task.Request, func(ctx context.Context) ([]byte, error) {
		return p.readRandom(ctx, int(task.NumBytes))
	})
	if err != nil {
		return CompiledTask{}, err
	}
	return CompiledTask{Input: task, Result: result}, nil
}

func (p *WorkerPool) readRandom(ctx context.Context, n int) ([]byte, error) {
	var lastErr error
	for attempt := 1; attempt <= p.config.CompileAttempts; attempt++ {
		out, err := p.random.ReadRandom(ctx, n)
		if err == nil {
			return out, nil
		}
		lastErr = err
		if attempt == p.config.CompileAttempts {
			break
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(p.config.CompileRetryDelay):
		}
	}
	return nil, fmt.Errorf("failed to read secure random after %d attempts: %w", p.config.CompileAttempts, lastErr)
}
