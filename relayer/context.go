package relayer

import (
	"context"
	"errors"
	"fmt"

	"github.com/gagliardetto/solana-go"

	"github.com/staccDOTsol/rebalanc00r/keys"
	"github.com/staccDOTsol/rebalanc00r/ledger"
	"github.com/staccDOTsol/rebalanc00r/tx"
)

var ErrServiceWorkerUnset = errors.New("service has no service worker")

// ServiceContext is the immutable set of accounts and capabilities the
// relayer works against. It is built once at startup.
type ServiceContext struct {
	Ledger ledger.Client
	Payer  keys.PayerProvider

	Service          solana.PublicKey
	ServiceWorker    solana.PublicKey
	AttestationQueue solana.PublicKey
	Function         solana.PublicKey

	AttestationProgram solana.PublicKey
	Program            ledger.ProgramAddresses
}

// NewServiceContext resolves the service and function accounts and derives
// the randomness program addresses. It fails when the service has no
// service worker or the function account cannot be read.
func NewServiceContext(ctx context.Context, client ledger.Client, payer keys.PayerProvider, cfg *Config) (*ServiceContext, error) {
	service, err := cfg.ServicePubkey()
	if err != nil {
		return nil, fmt.Errorf("invalid service key: %w", err)
	}
	function, err := cfg.FunctionPubkey()
	if err != nil {
		return nil, fmt.Errorf("invalid function key: %w", err)
	}
	programID, err := cfg.RandomnessProgram()
	if err != nil {
		return nil, fmt.Errorf("invalid program id: %w", err)
	}
	attestationProgram, err := cfg.AttestationProgram()
	if err != nil {
		return nil, fmt.Errorf("invalid attestation program id: %w", err)
	}

	sc := &ServiceContext{
		Ledger:             client,
		Payer:              payer,
		Service:            service,
		AttestationProgram: attestationProgram,
	}

	serviceData, err := sc.FetchServiceData(ctx)
	if err != nil {
		return nil, err
	}
	if serviceData.ServiceWorker.IsZero() {
		return nil, fmt.Errorf("%w: %s", ErrServiceWorkerUnset, service)
	}
	sc.ServiceWorker = serviceData.ServiceWorker
	sc.AttestationQueue = serviceData.AttestationQueue

	if function.IsZero() {
		function = serviceData.Function
	}
	sc.Function = function
	if _, err := sc.FetchFunctionData(ctx); err != nil {
		return nil, err
	}

	sc.Program, err = ledger.DeriveProgramAddresses(programID)
	if err != nil {
		return nil, fmt.Errorf("failed to derive program addresses: %w", err)
	}

	return sc, nil
}

// FetchServiceData reads the service account.
func (sc *ServiceContext) FetchServiceData(ctx context.Context) (*ledger.ServiceAccount, error) {
	data, err := sc.Ledger.GetAccountData(ctx, sc.Service)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch service %s: %w", sc.Service, err)
	}
	service, err := ledger.DecodeServiceAccount(data)
	if err != nil {
		return nil, fmt.Errorf("failed to decode service %s: %w", sc.Service, err)
	}
	return service, nil
}

// FetchFunctionData reads the function account.
func (sc *ServiceContext) FetchFunctionData(ctx context.Context) (*ledger.FunctionAccount, error) {
	data, err := sc.Ledger.GetAccountData(ctx, sc.Function)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch function %s: %w", sc.Function, err)
	}
	function, err := ledger.DecodeFunctionAccount(data)
	if err != nil {
		return nil, fmt.Errorf("failed to decode function %s: %w", sc.Function, err)
	}
	return function, nil
}

// SettlementAccounts returns the accounts every settlement references.
func (sc *ServiceContext) SettlementAccounts() tx.Accounts {
	return tx.Accounts{
		Program:  sc.Program,
		Service:  sc.Service,
		Function: sc.Function,
	}
}
