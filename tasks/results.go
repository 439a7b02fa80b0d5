package tasks

import (
	"context"
	"fmt"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/puzpuzpuz/xsync/v4"

	"github.com/staccDOTsol/rebalanc00r/logging"
	redistransport "github.com/staccDOTsol/rebalanc00r/transport/redis"
)

// DefaultResultTTL bounds how long a compiled result is kept, locally and in Redis.
const DefaultResultTTL = 24 * time.Hour

type storedResult struct {
	data    []byte
	expires time.Time
}

// GenerateFunc produces a fresh result.
type GenerateFunc func(ctx context.Context) ([]byte, error)

// ResultStore remembers the first result compiled for each request so a
// request is never re-rolled, including across restarts and replicas when
// Redis is configured.
//
// Levels:
//   - L1: in-memory xsync map, entries expire after ttl
//   - L2: Redis, written with SETNX so concurrent replicas agree on one value
type ResultStore struct {
	logger logging.Logger
	local  *xsync.Map[solana.PublicKey, storedResult]
	redis  *redistransport.Client
	ttl    time.Duration
	now    func() time.Time
}

// NewResultStore creates a store. redisClient may be nil for single-replica deployments.
func NewResultStore(logger logging.Logger, redisClient *redistransport.Client, ttl time.Duration) *ResultStore {
	if ttl <= 0 {
		ttl = DefaultResultTTL
	}
	return &ResultStore{
		logger: logging.ForComponent(logger, logging.ComponentResultStore),
		local:  xsync.NewMap[solana.PublicKey, storedResult](),
		redis:  redisClient,
		ttl:    ttl,
		now:    time.Now,
	}
}

// load returns the unexpired local result for request.
func (s *ResultStore) load(request solana.PublicKey) ([]byte, bool) {
	cached, ok := s.local.Load(request)
	if !ok {
		return nil, false
	}
	if !s.now().Before(cached.expires) {
		s.local.Compute(request, func(old storedResult, loaded bool) (storedResult, xsync.ComputeOp) {
			if loaded && !s.now().Before(old.expires) {
				return old, xsync.DeleteOp
			}
			return old, xsync.CancelOp
		})
		return nil, false
	}
	return cached.data, true
}

// store keeps data for request unless an unexpired result is already held,
// returning whichever result is kept.
func (s *ResultStore) store(request solana.PublicKey, data []byte) []byte {
	kept, _ := s.local.Compute(request, func(old storedResult, loaded bool) (storedResult, xsync.ComputeOp) {
		if loaded && s.now().Before(old.expires) {
			return old, xsync.CancelOp
		}
		return storedResult{data: data, expires: s.now().Add(s.ttl)}, xsync.UpdateOp
	})
	return kept.data
}

// GetOrCreate returns the stored result for request, generating and storing
// one when none exists. Whoever stores first wins; later callers get that value.
func (s *ResultStore) GetOrCreate(ctx context.Context, request solana.PublicKey, generate GenerateFunc) ([]byte, error) {
	if cached, ok := s.load(request); ok {
		resultLookups.WithLabelValues("l1").Inc()
		return cached, nil
	}

	var key string
	if s.redis != nil {
		key = s.redis.KB().ResultKey(request.String())
		stored, err := s.redis.Get(ctx, key).Bytes()
		switch {
		case err == nil:
			resultLookups.WithLabelValues("l2").Inc()
			return s.store(request, stored), nil
		case !redistransport.IsNil(err):
			return nil, fmt.Errorf("failed to read stored result: %w", err)
		}
	}

	fresh, err := generate(ctx)
	if err != nil {
		return nil, err
	}
	resultLookups.WithLabelValues("generated").Inc()

	if s.redis != nil {
		won, err := s.redis.SetNX(ctx, key, fresh, s.ttl).Result()
		if err != nil {
			return nil, fmt.Errorf("failed to store result: %w", err)
		}
		if !won {
			// Another replica stored first.
			stored, err := s.redis.Get(ctx, key).Bytes()
			if err != nil {
				return nil, fmt.Errorf("failed to read winning result: %w", err)
			}
			resultConflicts.Inc()
			s.logger.Debug().Str(logging.FieldRequest, request.String()).Msg("adopted result stored by another replica")
			fresh = stored
		}
	}

	return s.store(request, fresh), nil
}

// Get returns the stored result, if any.
func (s *ResultStore) Get(ctx context.Context, request solana.PublicKey) ([]byte, bool, error) {
	if cached, ok := s.load(request); ok {
		return cached, true, nil
	}
	if s.redis == nil {
		return nil, false, nil
	}
	stored, err := s.redis.Get(ctx, s.redis.KB().ResultKey(request.String())).Bytes()
	if redistransport.IsNil(err) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return stored, true, nil
}

// Forget drops the result of a settled request.
func (s *ResultStore) Forget(ctx context.Context, request solana.PublicKey) error {
	s.local.Delete(request)
	if s.redis == nil {
		return nil
	}
	return s.redis.Del(ctx, s.redis.KB().ResultKey(request.String())).Err()
}

// Prune drops expired local results and returns how many were dropped.
// Results of requests whose settled event was never observed would
// otherwise stay in memory for the life of the process.
func (s *ResultStore) Prune() int {
	now := s.now()
	pruned := 0
	s.local.Range(func(request solana.PublicKey, cached storedResult) bool {
		if !now.Before(cached.expires) {
			s.local.Compute(request, func(old storedResult, loaded bool) (storedResult, xsync.ComputeOp) {
				if loaded && !now.Before(old.expires) {
					pruned++
					return old, xsync.DeleteOp
				}
				return old, xsync.CancelOp
			})
		}
		return true
	})
	if pruned > 0 {
		resultsPruned.Add(float64(pruned))
	}
	return pruned
}

// Size returns the number of locally cached results.
func (s *ResultStore) Size() int {
	return s.local.Size()
}
