// Package relayer wires discovery, compilation, signer rotation and
// settlement into the relay service.
package relayer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/staccDOTsol/rebalanc00r/client"
	"github.com/staccDOTsol/rebalanc00r/keys"
	"github.com/staccDOTsol/rebalanc00r/leader"
	"github.com/staccDOTsol/rebalanc00r/ledger"
	"github.com/staccDOTsol/rebalanc00r/logging"
	"github.com/staccDOTsol/rebalanc00r/observability"
	"github.com/staccDOTsol/rebalanc00r/publish"
	"github.com/staccDOTsol/rebalanc00r/signer"
	"github.com/staccDOTsol/rebalanc00r/tasks"
	"github.com/staccDOTsol/rebalanc00r/tee"
	redistransport "github.com/staccDOTsol/rebalanc00r/transport/redis"
	"github.com/staccDOTsol/rebalanc00r/tx"
)

var (
	ErrNotInitialized = errors.New("relay service not initialized")
	ErrLoopExited     = errors.New("relay service loop exited")
)

// Leadership is the subset of leader.Elector the service uses.
type Leadership interface {
	IsLeader() bool
	OnElected(callback leader.Callback)
}

// Dependencies holds the external capabilities of the service.
type Dependencies struct {
	Logger    logging.Logger
	Ledger    ledger.Client
	Pubsub    client.Subscriber
	Payer     keys.PayerProvider
	Enclave   tee.Enclave
	Publisher publish.Publisher

	// RedisClient shares compiled results between replicas. Nil keeps them
	// in memory.
	RedisClient *redistransport.Client

	// Leader gates rotation and submission. Nil runs as the only replica.
	Leader Leadership
}

// Service is the relay service.
type Service struct {
	logger logging.Logger
	config *Config
	deps   Dependencies

	sc          *ServiceContext
	accounts    *accountCache
	queue       *tasks.Queue
	store       *tasks.ResultStore
	outbox      *tasks.Outbox[tasks.CompiledTask]
	pool        *tasks.WorkerPool
	signer      *signer.SecureSigner
	settlement  *tx.SettlementClient
	checkpoints *client.CheckpointTracker
	batcher     *Batcher
	rotation    *signer.RotationRoutine

	signals chan struct{}
	ready   atomic.Bool
}

// NewService validates config and deps. No network calls are made until
// Initialize.
func NewService(config *Config, deps Dependencies) (*Service, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	switch {
	case deps.Ledger == nil:
		return nil, errors.New("ledger client is required")
	case deps.Pubsub == nil:
		return nil, errors.New("pubsub client is required")
	case deps.Payer == nil:
		return nil, errors.New("payer provider is required")
	case deps.Enclave == nil:
		return nil, errors.New("enclave is required")
	case deps.Publisher == nil:
		return nil, errors.New("publisher is required")
	}

	s := &Service{
		logger:   logging.ForComponent(deps.Logger, logging.ComponentRelayService),
		config:   config,
		deps:     deps,
		accounts: &accountCache{},
		signals:  make(chan struct{}, 1),
	}

	if deps.Leader != nil {
		deps.Leader.OnElected(func(context.Context) {
			s.requestRotation("elected")
		})
	}
	return s, nil
}

// Initialize resolves the service context, builds the pipeline and attests
// the first enclave signer. Standby replicas skip the initial rotation; they
// rotate once elected.
func (s *Service) Initialize(ctx context.Context) error {
	phase := time.Now()
	sc, err := NewServiceContext(ctx, s.deps.Ledger, s.deps.Payer, s.config)
	if err != nil {
		return fmt.Errorf("failed to build service context: %w", err)
	}
	s.sc = sc
	observability.StartupDurationSeconds.WithLabelValues(logging.ComponentServiceContext).Set(time.Since(phase).Seconds())

	serviceData, err := sc.FetchServiceData(ctx)
	if err != nil {
		return err
	}
	functionData, err := sc.FetchFunctionData(ctx)
	if err != nil {
		return err
	}
	s.accounts.setService(serviceData)
	s.accounts.setFunction(functionData)

	s.queue = tasks.NewQueue(nil)
	s.store = tasks.NewResultStore(s.deps.Logger, s.deps.RedisClient, s.config.ResultTTL)
	s.outbox = tasks.NewOutbox[tasks.CompiledTask]()
	s.pool = tasks.NewWorkerPool(s.deps.Logger, s.config.Pool, s.queue, s.deps.Enclave, s.store, s.outbox)

	s.signer = signer.NewSecureSigner(
		s.deps.Logger,
		signer.Config{
			AttestationProgram: sc.AttestationProgram,
			Service:            sc.Service,
			Function:           sc.Function,
			AttestationQueue:   sc.AttestationQueue,
		},
		s.deps.Ledger,
		sc,
		s.deps.Payer,
		s.deps.Enclave,
		s.deps.Publisher,
	)

	s.settlement = tx.NewSettlementClient(s.deps.Logger, s.deps.Ledger, sc.SettlementAccounts(), tx.SettlementConfig{
		SubmitRate:  s.config.Submit.Rate,
		SubmitBurst: s.config.Submit.Burst,
		Confirm: ledger.ConfirmOptions{
			Timeout: s.config.Submit.ConfirmTimeout,
		},
	})

	s.checkpoints = client.NewCheckpointTracker(s.deps.Logger, s.deps.Ledger, s.config.CheckpointInterval)
	if err := s.checkpoints.Refresh(ctx); err != nil {
		s.logger.Warn().Err(err).Msg("initial blockhash fetch failed, will retry on the next tick")
	}

	var leaderChecker signer.LeaderChecker
	if s.deps.Leader != nil {
		leaderChecker = s.deps.Leader
	}
	s.batcher = NewBatcher(
		s.deps.Logger,
		s.config.Batch,
		s.config.Submit,
		s.outbox.Receive(),
		s.settlement,
		s.signer,
		s.deps.Payer,
		s.checkpoints,
		s.queue,
		s.store,
		leaderChecker,
	)
	s.rotation = signer.NewRotationRoutine(s.deps.Logger, s.config.RotationSchedule, s.accounts, s.signals, leaderChecker)

	if s.isLeader() {
		phase = time.Now()
		if err := s.signer.RotateWithRetry(ctx); err != nil {
			return fmt.Errorf("failed to attest initial enclave signer: %w", err)
		}
		if err := s.refreshService(ctx); err != nil {
			s.logger.Warn().Err(err).Msg("failed to refresh service after rotation")
		}
		observability.StartupDurationSeconds.WithLabelValues(logging.ComponentSecureSigner).Set(time.Since(phase).Seconds())
		// An election that fired during startup is covered by this rotation.
		select {
		case <-s.signals:
		default:
		}
	} else {
		s.logger.Info().Msg("standby replica, deferring signer rotation until elected")
	}

	s.ready.Store(true)
	serviceReady.Set(1)
	s.logger.Info().
		Str(logging.FieldProgram, sc.Program.ProgramID.String()).
		Str(logging.FieldAccount, sc.Service.String()).
		Msg("relay service initialized")
	return nil
}

// Ready reports whether Initialize completed. It serves as the /ready check.
func (s *Service) Ready(context.Context) error {
	if !s.ready.Load() {
		return ErrNotInitialized
	}
	return nil
}

// Signer returns the enclave signer. Nil before Initialize.
func (s *Service) Signer() *signer.SecureSigner {
	return s.signer
}

// Run starts every loop and blocks until ctx is cancelled or one of them
// exits. A loop exiting while ctx is live is an error.
func (s *Service) Run(ctx context.Context) error {
	if !s.ready.Load() {
		return ErrNotInitialized
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	type exit struct {
		name string
		err  error
	}
	exits := make(chan exit, 16)
	var wg sync.WaitGroup

	start := func(name string, fn func(ctx context.Context) error) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			var err error
			logging.RecoverGoRoutine(s.logger, name, func(ctx context.Context) {
				err = fn(ctx)
			})(ctx)
			if err == nil && ctx.Err() == nil {
				err = ErrLoopExited
			}
			exits <- exit{name: name, err: err}
		}()
	}

	s.pool.Start(ctx)

	// The batcher outlives ctx so it can drain what the workers compiled.
	batcherDone := make(chan error, 1)
	go func() {
		batcherDone <- s.batcher.Run(ctx)
	}()

	start("signer_rotation", func(ctx context.Context) error {
		return s.signer.Start(ctx, s.signals)
	})
	start("rotation_routine", s.rotation.Run)
	start("service_watcher", s.newAccountWatcher("service", s.sc.Service, s.applyService).Run)
	start("service_poller", s.pollAccounts("service", s.refreshService))
	start("function_watcher", s.newAccountWatcher("function", s.sc.Function, s.applyFunction).Run)
	start("function_poller", s.pollAccounts("function", s.refreshFunction))
	start("request_watcher", s.newRequestWatcher().Run)
	start("checkpoint_tracker", s.checkpoints.Run)
	start("reconciliation_scan", s.runReconciliation)

	s.logger.Info().Msg("relay service running")

	var result error
	batcherExited := false
	select {
	case <-ctx.Done():
	case e := <-exits:
		if ctx.Err() == nil {
			s.logger.Error().Err(e.err).Str(logging.FieldOperation, e.name).Msg("relay service loop exited")
			result = fmt.Errorf("%s: %w", e.name, e.err)
		}
	case err := <-batcherDone:
		batcherExited = true
		if err == nil {
			err = ErrLoopExited
		}
		s.logger.Error().Err(err).Msg("batcher exited")
		result = fmt.Errorf("batcher: %w", err)
	}

	cancel()
	wg.Wait()

	s.pool.Shutdown()
	s.pool.Wait()
	s.outbox.Close()
	if !batcherExited {
		if err := <-batcherDone; err != nil && result == nil && !errors.Is(err, context.Canceled) {
			result = fmt.Errorf("batcher: %w", err)
		}
	}

	s.ready.Store(false)
	serviceReady.Set(0)
	s.logger.Info().Msg("relay service stopped")
	return result
}

func (s *Service) isLeader() bool {
	return s.deps.Leader == nil || s.deps.Leader.IsLeader()
}

func (s *Service) requestRotation(reason string) {
	select {
	case s.signals <- struct{}{}:
		s.logger.Info().Str(logging.FieldReason, reason).Msg("requested signer rotation")
	default:
	}
}

// newRequestWatcher streams the randomness program's logs.
func (s *Service) newRequestWatcher() *client.Watcher {
	program := s.sc.Program.ProgramID
	return client.NewWatcher(
		s.deps.Logger,
		"requests",
		func(ctx context.Context) (client.Subscription, error) {
			return s.deps.Pubsub.LogsSubscribe(ctx, program)
		},
		s.handleLogs,
		client.WithBackoff(s.config.Reconnect),
	)
}

func (s *Service) handleLogs(ctx context.Context, n client.Notification) {
	value, err := client.DecodeLogs(n)
	if err != nil {
		s.logger.Warn().Err(err).Msg("failed to decode logs notification")
		return
	}
	if value.Failed {
		return
	}
	s.handleEvents(ctx, ledger.ParseEvents(value.Logs))
}

func (s *Service) handleEvents(ctx context.Context, events []ledger.Event) {
	for _, ev := range events {
		switch ev := ev.(type) {
		case ledger.RequestedEvent:
			if s.queue.Push(tasks.FromRequestedEvent(ev)) {
				tasksDiscovered.WithLabelValues("logs").Inc()
				s.logger.Debug().
					Str(logging.FieldRequest, ev.Request.String()).
					Str(logging.FieldUser, ev.User.String()).
					Uint8(logging.FieldNumBytes, ev.NumBytes).
					Msg("request discovered")
			}
		case ledger.SettledEvent:
			tasksSettledEvents.Inc()
			s.queue.Release(ev.Request)
			if err := s.store.Forget(ctx, ev.Request); err != nil {
				s.logger.Warn().Err(err).Str(logging.FieldRequest, ev.Request.String()).Msg("failed to forget settled result")
			}
		}
	}
}

// runReconciliation scans request accounts immediately and then on every
// interval, pushing every uncompleted request and pruning expired results.
func (s *Service) runReconciliation(ctx context.Context) error {
	logger := logging.ForComponent(s.deps.Logger, logging.ComponentReconciliation)

	ticker := time.NewTicker(s.config.ReconcileInterval)
	defer ticker.Stop()

	for {
		if _, err := s.Reconcile(ctx); err != nil && ctx.Err() == nil {
			logger.Warn().Err(err).Msg("reconciliation scan failed")
		}
		if pruned := s.store.Prune(); pruned > 0 {
			logger.Debug().Int("pruned", pruned).Msg("dropped expired compiled results")
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// Reconcile scans every request account once and returns how many requests
// were newly queued.
func (s *Service) Reconcile(ctx context.Context) (int, error) {
	start := time.Now()
	accounts, err := s.deps.Ledger.GetProgramAccounts(ctx, s.sc.Program.ProgramID, ledger.RequestAccountDiscriminator)
	if err != nil {
		reconcileScans.WithLabelValues("error").Inc()
		observeOperation(logging.ComponentReconciliation, "scan", start, err)
		return 0, fmt.Errorf("failed to scan request accounts: %w", err)
	}

	pending, pushed := 0, 0
	for _, keyed := range accounts {
		acct, err := ledger.DecodeRequestAccount(keyed.Data)
		if err != nil {
			s.logger.Debug().Err(err).Str(logging.FieldRequest, keyed.Address.String()).Msg("skipping undecodable request account")
			continue
		}
		if acct.Completed() {
			continue
		}
		pending++
		if s.queue.Push(tasks.FromRequestAccount(keyed.Address, acct)) {
			pushed++
		}
	}

	reconcileScans.WithLabelValues("ok").Inc()
	observeOperation(logging.ComponentReconciliation, "scan", start, nil)
	reconcilePending.Set(float64(pending))
	tasksDiscovered.WithLabelValues("scan").Add(float64(pushed))
	if pushed > 0 {
		s.logger.Info().
			Int(logging.FieldCount, pushed).
			Dur(logging.FieldDuration, time.Since(start)).
			Msg("reconciliation scan queued requests")
	}
	return pushed, nil
}
