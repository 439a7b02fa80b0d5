package relayer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/alitto/pond/v2"
	"github.com/gagliardetto/solana-go"
	"github.com/rs/zerolog"

	"github.com/staccDOTsol/rebalanc00r/keys"
	"github.com/staccDOTsol/rebalanc00r/ledger"
	"github.com/staccDOTsol/rebalanc00r/logging"
	"github.com/staccDOTsol/rebalanc00r/signer"
	"github.com/staccDOTsol/rebalanc00r/tasks"
	"github.com/staccDOTsol/rebalanc00r/tx"
)

// Submitter sends one settlement and waits for it to be processed.
type Submitter interface {
	Submit(
		ctx context.Context,
		task tasks.CompiledTask,
		payer solana.PrivateKey,
		enclaveSigner solana.PrivateKey,
		checkpoint ledger.Checkpoint,
	) (solana.Signature, error)
}

// SignerSource waits for the active enclave signer.
type SignerSource interface {
	LoadSigner(ctx context.Context) (solana.PrivateKey, error)
}

// CheckpointSource returns the latest blockhash checkpoint.
type CheckpointSource interface {
	Checkpoint() (ledger.Checkpoint, bool)
}

// Settlement outcomes.
const (
	outcomeSettled        = "settled"
	outcomeAlreadySettled = "already_settled"
	outcomeExhausted      = "exhausted"
	outcomeInvalid        = "invalid"
	outcomeNoCheckpoint   = "no_checkpoint"
	outcomeCancelled      = "cancelled"
)

type outcome struct {
	request   solana.PublicKey
	kind      string
	signature solana.Signature
	attempts  int
	err       error
}

// Batcher groups compiled tasks and settles every batch concurrently.
type Batcher struct {
	logger      logging.Logger
	config      BatchConfig
	maxAttempts int
	retryDelay  time.Duration

	input       <-chan tasks.CompiledTask
	submitter   Submitter
	signers     SignerSource
	payer       keys.PayerProvider
	checkpoints CheckpointSource
	queue       *tasks.Queue
	store       *tasks.ResultStore
	leader      signer.LeaderChecker
	classifier  *tx.Classifier

	pool    pond.ResultPool[outcome]
	process func(ctx context.Context, batch []tasks.CompiledTask) error

	wg    sync.WaitGroup
	fatal chan error
}

// NewBatcher creates a batcher reading compiled tasks from input. leader
// may be nil when leader election is disabled.
func NewBatcher(
	logger logging.Logger,
	config BatchConfig,
	submit SubmitConfig,
	input <-chan tasks.CompiledTask,
	submitter Submitter,
	signers SignerSource,
	payer keys.PayerProvider,
	checkpoints CheckpointSource,
	queue *tasks.Queue,
	store *tasks.ResultStore,
	leader signer.LeaderChecker,
) *Batcher {
	if config.Size <= 0 {
		config.Size = 10
	}
	if config.Interval <= 0 {
		config.Interval = 100 * time.Millisecond
	}
	if config.Concurrency <= 0 {
		config.Concurrency = 32
	}
	if submit.MaxAttempts <= 0 {
		submit.MaxAttempts = 3
	}
	if submit.RetryDelay <= 0 {
		submit.RetryDelay = 3 * time.Second
	}

	b := &Batcher{
		logger:      logging.ForComponent(logger, logging.ComponentBatcher),
		config:      config,
		maxAttempts: submit.MaxAttempts,
		retryDelay:  submit.RetryDelay,
		input:       input,
		submitter:   submitter,
		signers:     signers,
		payer:       payer,
		checkpoints: checkpoints,
		queue:       queue,
		store:       store,
		leader:      leader,
		classifier:  tx.NewClassifier(logger),
		pool:        pond.NewResultPool[outcome](config.Concurrency),
		fatal:       make(chan error, 1),
	}
	b.process = b.processBatch
	return b
}

// Run batches tasks until input is closed, flushing whenever a batch is
// full or Interval passed since the last flush. The remainder is flushed
// when input closes. A batch that cannot get a signer in time stops Run
// with an error.
func (b *Batcher) Run(ctx context.Context) error {
	defer b.pool.StopAndWait()

	ticker := time.NewTicker(b.config.Interval)
	defer ticker.Stop()

	batch := make([]tasks.CompiledTask, 0, b.config.Size)
	flush := func() {
		if len(batch) > 0 {
			b.dispatch(ctx, batch)
			batch = make([]tasks.CompiledTask, 0, b.config.Size)
		}
		ticker.Reset(b.config.Interval)
	}

	b.logger.Info().
		Int(logging.FieldBatchSize, b.config.Size).
		Dur("interval", b.config.Interval).
		Msg("batcher started")

	for {
		select {
		case err := <-b.fatal:
			b.releaseAll(batch)
			b.wg.Wait()
			return err

		case task, ok := <-b.input:
			if !ok {
				flush()
				b.wg.Wait()
				select {
				case err := <-b.fatal:
					return err
				default:
				}
				b.logger.Info().Msg("compiled task channel closed, batcher stopped")
				return nil
			}
			batch = append(batch, task)
			if len(batch) >= b.config.Size {
				flush()
			}

		case <-ticker.C:
			flush()
		}
	}
}

func (b *Batcher) dispatch(ctx context.Context, batch []tasks.CompiledTask) {
	batchSize.Observe(float64(len(batch)))

	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		logging.RecoverGoRoutine(b.logger, "settle_batch", func(ctx context.Context) {
			if err := b.process(ctx, batch); err != nil {
				select {
				case b.fatal <- err:
				default:
				}
			}
		})(ctx)
	}()
}

func (b *Batcher) processBatch(ctx context.Context, batch []tasks.CompiledTask) error {
	logger := b.logger.With().Int(logging.FieldBatchSize, len(batch)).Logger()

	if b.leader != nil && !b.leader.IsLeader() {
		batchesTotal.WithLabelValues("standby").Inc()
		b.releaseAll(batch)
		logger.Debug().Msg("standby replica, releasing batch without submitting")
		return nil
	}

	enclaveSigner, err := b.signers.LoadSigner(ctx)
	if err != nil {
		b.releaseAll(batch)
		if errors.Is(err, signer.ErrSignerLoadTimeout) {
			batchesTotal.WithLabelValues("signer_timeout").Inc()
			logger.Error().Err(err).Msg("no enclave signer became ready")
			return fmt.Errorf("failed to load enclave signer: %w", err)
		}
		batchesTotal.WithLabelValues("cancelled").Inc()
		return nil
	}
	payer := b.payer.Payer()

	start := time.Now()
	group := b.pool.NewGroup()
	for _, task := range batch {
		group.Submit(func() outcome {
			return b.settle(ctx, task, payer, enclaveSigner)
		})
	}

	results, err := group.Wait()
	observeOperation(logging.ComponentBatcher, "settle_batch", start, err)
	if err != nil {
		batchesTotal.WithLabelValues("error").Inc()
		logger.Error().Err(err).Msg("batch settlement failed")
		b.releaseAll(batch)
		return nil
	}
	batchesTotal.WithLabelValues("processed").Inc()

	// Results come back in the order the tasks were enqueued.
	for _, res := range results {
		settlementOutcomes.WithLabelValues(res.kind).Inc()
		settlementAttempts.Observe(float64(res.attempts))

		level := zerolog.WarnLevel
		switch res.kind {
		case outcomeSettled:
			level = zerolog.InfoLevel
		case outcomeInvalid:
			level = zerolog.ErrorLevel
		case outcomeAlreadySettled, outcomeCancelled:
			level = zerolog.DebugLevel
		}
		ev := logger.WithLevel(level).Str(logging.FieldRequest, res.request.String()).
			Str(logging.FieldOutcome, res.kind).
			Int(logging.FieldAttempt, res.attempts)
		if !res.signature.IsZero() {
			ev = ev.Str(logging.FieldSignature, res.signature.String())
		}
		if res.err != nil {
			ev = ev.Err(res.err)
		}
		ev.Msg("settlement finished")
	}
	return nil
}

// settle sends task until it lands, is found already settled, or runs out of
// attempts. Every attempt reuses the same compiled bytes; resends back off
// from retryDelay, doubling each time, and pick up the latest checkpoint.
func (b *Batcher) settle(
	ctx context.Context,
	task tasks.CompiledTask,
	payer solana.PrivateKey,
	enclaveSigner solana.PrivateKey,
) outcome {
	request := task.Request()
	out := outcome{request: request}
	delay := b.retryDelay

	for {
		checkpoint, ok := b.checkpoints.Checkpoint()
		if !ok {
			out.kind = outcomeNoCheckpoint
			b.queue.Release(request)
			return out
		}

		out.attempts++
		sig, err := b.submitter.Submit(ctx, task, payer, enclaveSigner, checkpoint)
		if err == nil {
			out.kind = outcomeSettled
			out.signature = sig
			out.err = nil
			b.queue.Release(request)
			return out
		}
		out.err = err

		// Invalid callbacks never become valid; keep the request marked in
		// flight so the scan does not pick it up again.
		if errors.Is(err, tx.ErrBuildFailed) {
			out.kind = outcomeInvalid
			return out
		}
		if ctx.Err() != nil {
			out.kind = outcomeCancelled
			b.queue.Release(request)
			return out
		}

		decision := b.classifier.Classify(err)
		if decision.AlreadySettled || !decision.Retryable {
			out.kind = outcomeAlreadySettled
			b.queue.Release(request)
			if ferr := b.store.Forget(ctx, request); ferr != nil {
				b.logger.Warn().Err(ferr).Str(logging.FieldRequest, request.String()).Msg("failed to forget settled result")
			}
			return out
		}

		if out.attempts >= b.maxAttempts {
			out.kind = outcomeExhausted
			b.queue.Release(request)
			return out
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			out.kind = outcomeCancelled
			b.queue.Release(request)
			return out
		case <-timer.C:
		}
		delay *= 2
	}
}

func (b *Batcher) releaseAll(batch []tasks.CompiledTask) {
	for _, task := range batch {
		b.queue.Release(task.Request())
	}
}
