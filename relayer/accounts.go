package relayer

import (
	"context"
	"sync"
	"time"

	"github.com/gagliardetto/solana-go"

	"github.com/staccDOTsol/rebalanc00r/client"
	"github.com/staccDOTsol/rebalanc00r/ledger"
	"github.com/staccDOTsol/rebalanc00r/logging"
)

// accountCache holds the latest service and function accounts. The stream
// and the poller both write; the last write wins.
type accountCache struct {
	mu       sync.RWMutex
	service  *ledger.ServiceAccount
	function *ledger.FunctionAccount
}

func (c *accountCache) setService(service *ledger.ServiceAccount) {
	c.mu.Lock()
	c.service = service
	c.mu.Unlock()
}

func (c *accountCache) setFunction(function *ledger.FunctionAccount) {
	c.mu.Lock()
	c.function = function
	c.mu.Unlock()
}

// ServiceData returns the cached service account.
func (c *accountCache) ServiceData() *ledger.ServiceAccount {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.service
}

// FunctionData returns the cached function account.
func (c *accountCache) FunctionData() *ledger.FunctionAccount {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.function
}

// RotationInterval is the function's signer rotation interval in seconds.
func (c *accountCache) RotationInterval() int64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.function == nil {
		return 0
	}
	return c.function.ServicesSignerRotationInterval
}

func (s *Service) newAccountWatcher(name string, account solana.PublicKey, apply func(data []byte) error) *client.Watcher {
	logger := logging.ForComponent(s.deps.Logger, logging.ComponentAccountPoller).With().
		Str(logging.FieldAccount, account.String()).
		Logger()

	return client.NewWatcher(
		s.deps.Logger,
		name,
		func(ctx context.Context) (client.Subscription, error) {
			return s.deps.Pubsub.AccountSubscribe(ctx, account)
		},
		func(_ context.Context, n client.Notification) {
			data, err := client.DecodeAccountData(n)
			if err == nil {
				err = apply(data)
			}
			if err != nil {
				accountRefreshes.WithLabelValues(name, "stream", "error").Inc()
				logger.Warn().Err(err).Msg("failed to apply account notification")
				return
			}
			accountRefreshes.WithLabelValues(name, "stream", "ok").Inc()
		},
		client.WithBackoff(s.config.Reconnect),
	)
}

func (s *Service) applyService(data []byte) error {
	service, err := ledger.DecodeServiceAccount(data)
	if err != nil {
		return err
	}
	s.accounts.setService(service)
	return nil
}

func (s *Service) applyFunction(data []byte) error {
	function, err := ledger.DecodeFunctionAccount(data)
	if err != nil {
		return err
	}
	s.accounts.setFunction(function)
	return nil
}

func (s *Service) refreshService(ctx context.Context) error {
	service, err := s.sc.FetchServiceData(ctx)
	if err != nil {
		return err
	}
	s.accounts.setService(service)
	return nil
}

func (s *Service) refreshFunction(ctx context.Context) error {
	function, err := s.sc.FetchFunctionData(ctx)
	if err != nil {
		return err
	}
	s.accounts.setFunction(function)
	return nil
}

// pollAccounts re-fetches an account on every AccountPollInterval so the
// cache recovers from missed notifications. Fetch failures are logged.
func (s *Service) pollAccounts(name string, refresh func(ctx context.Context) error) func(ctx context.Context) error {
	logger := logging.ForComponent(s.deps.Logger, logging.ComponentAccountPoller).With().
		Str(logging.FieldSource, name).
		Logger()

	return func(ctx context.Context) error {
		ticker := time.NewTicker(s.config.AccountPollInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-ticker.C:
				if err := refresh(ctx); err != nil {
					if ctx.Err() != nil {
						return ctx.Err()
					}
					accountRefreshes.WithLabelValues(name, "poll", "error").Inc()
					logger.Warn().Err(err).Msg("failed to refresh account")
					continue
				}
				accountRefreshes.WithLabelValues(name, "poll", "ok").Inc()
			}
		}
	}
}
