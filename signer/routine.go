package signer

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/staccDOTsol/rebalanc00r/ledger"
	"github.com/staccDOTsol/rebalanc00r/logging"
)

// DefaultRotationSchedule checks the service every 15 seconds. The first
// check happens one period after start.
const DefaultRotationSchedule = "@every 15s"

// AccountSource exposes the cached service account and the function's
// rotation interval.
type AccountSource interface {
	ServiceData() *ledger.ServiceAccount
	RotationInterval() int64
}

// LeaderChecker reports whether this replica is the leader.
type LeaderChecker interface {
	IsLeader() bool
}

// RotationRoutine raises rotation signals when the service's enclave signer
// is due for rotation.
type RotationRoutine struct {
	logger   logging.Logger
	schedule string
	source   AccountSource
	signals  chan<- struct{}
	leader   LeaderChecker
	now      func() time.Time
}

// NewRotationRoutine creates a routine on schedule. leader may be nil when
// leader election is disabled.
func NewRotationRoutine(
	logger logging.Logger,
	schedule string,
	source AccountSource,
	signals chan<- struct{},
	leader LeaderChecker,
) *RotationRoutine {
	if schedule == "" {
		schedule = DefaultRotationSchedule
	}
	return &RotationRoutine{
		logger:   logging.ForComponent(logger, logging.ComponentRotationRoutine),
		schedule: schedule,
		source:   source,
		signals:  signals,
		leader:   leader,
		now:      time.Now,
	}
}

// Run checks on the schedule until ctx is done.
func (r *RotationRoutine) Run(ctx context.Context) error {
	c := cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))
	if _, err := c.AddFunc(r.schedule, func() { r.Check() }); err != nil {
		return fmt.Errorf("invalid rotation schedule %q: %w", r.schedule, err)
	}

	r.logger.Info().Str("schedule", r.schedule).Msg("rotation routine started")
	c.Start()
	<-ctx.Done()
	<-c.Stop().Done()
	return ctx.Err()
}

// Check raises a rotation signal if one is due. A signal already pending is
// not duplicated. Returns whether a rotation is pending after the check.
func (r *RotationRoutine) Check() bool {
	if r.leader != nil && !r.leader.IsLeader() {
		rotationSignalsTotal.WithLabelValues("not_leader").Inc()
		return false
	}

	service := r.source.ServiceData()
	if service == nil {
		return false
	}
	if !service.ReadyForQuoteRotation(r.source.RotationInterval(), r.now()) {
		return false
	}

	select {
	case r.signals <- struct{}{}:
		rotationSignalsTotal.WithLabelValues("sent").Inc()
		r.logger.Info().
			Str(logging.FieldSigner, service.Enclave.EnclaveSigner.String()).
			Msg("enclave signer due for rotation")
	default:
		rotationSignalsTotal.WithLabelValues("pending").Inc()
	}
	return true
}
