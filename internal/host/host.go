package host

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"weather-oracle/internal/auth"
	"weather-oracle/internal/oracle"
	"weather-oracle/internal/storage"
)

var (
	// ErrMethodMismatch means the signed call names a different entry point.
	ErrMethodMismatch = errors.New("host: signed call is for another method")
	// ErrWrongContract means the signed call targets another contract.
	ErrWrongContract = errors.New("host: signed call is for another contract")
	// ErrArgsMismatch means the invocation would run with arguments other than the signed ones.
	ErrArgsMismatch = errors.New("host: signed arguments differ from invocation")
	// ErrStaleRequest means the signed call was issued outside the accepted window.
	ErrStaleRequest = errors.New("host: signed call is outside the request window")
	// ErrReplayedRequest means the exact signed call was already executed.
	ErrReplayedRequest = errors.New("host: signed call already executed")
)

// DefaultRequestWindow bounds how far a call's issue time may be from host time.
const DefaultRequestWindow = 5 * time.Minute

// executedPrefix namespaces executed-call digests away from contract keys.
const executedPrefix = 0xff

func executedKey(digest []byte) []byte {
	return append([]byte{executedPrefix}, digest...)
}

// Txn is one invocation's access to contract state and the asset ledger.
type Txn interface {
	oracle.Storage
	oracle.PaymentLedger
	Mint(ctx context.Context, asset, holder common.Address, amount uint64) error
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

// Backend opens transactions. Read-write transactions must be serialised by
// the backend.
type Backend interface {
	Begin(ctx context.Context) (Txn, error)
	BeginReadOnly(ctx context.Context) (Txn, error)
}

type memoryBackend struct{ m *storage.Memory }

// Memory adapts the in-process backend.
func Memory(m *storage.Memory) Backend { return memoryBackend{m} }

func (b memoryBackend) Begin(ctx context.Context) (Txn, error) {
	tx, err := b.m.Begin(ctx)
	if err != nil {
		return nil, err
	}
	return tx, nil
}

func (b memoryBackend) BeginReadOnly(ctx context.Context) (Txn, error) {
	return b.Begin(ctx)
}

type postgresBackend struct{ s *storage.Store }

// Postgres adapts the PostgreSQL backend.
func Postgres(s *storage.Store) Backend { return postgresBackend{s} }

func (b postgresBackend) Begin(ctx context.Context) (Txn, error) {
	tx, err := b.s.Begin(ctx)
	if err != nil {
		return nil, err
	}
	return tx, nil
}

func (b postgresBackend) BeginReadOnly(ctx context.Context) (Txn, error) {
	tx, err := b.s.BeginReadOnly(ctx)
	if err != nil {
		return nil, err
	}
	return tx, nil
}

// ContractFunc runs against a contract bound to one transaction.
type ContractFunc func(ctx context.Context, c *oracle.Contract) error

// Host executes contract invocations one at a time, each as an all-or-nothing
// unit over the backend.
type Host struct {
	backend  Backend
	clock    oracle.TimeSource
	contract common.Address
	logger   zerolog.Logger
	window   uint64
}

// New constructs a host for the contract deployed at address contract.
func New(backend Backend, clock oracle.TimeSource, contract common.Address, logger zerolog.Logger) *Host {
	return &Host{
		backend:  backend,
		clock:    clock,
		contract: contract,
		logger:   logger.With().Str("component", "host").Str("contract", contract.Hex()).Logger(),
		window:   uint64(DefaultRequestWindow / time.Second),
	}
}

// WithRequestWindow changes how far a signed call's issue time may drift from
// host time in either direction. Non-positive values keep the current window.
func (h *Host) WithRequestWindow(d time.Duration) *Host {
	if d >= time.Second {
		h.window = uint64(d / time.Second)
	}
	return h
}

// Contract returns the contract's own identity.
func (h *Host) Contract() common.Address {
	return h.contract
}

// Now returns the host time in unix seconds.
func (h *Host) Now() uint64 {
	return h.clock.Now()
}

// Invoke verifies req, runs fn inside a read-write transaction and commits
// only if fn succeeds. args are the arguments fn passes to the contract and
// must equal the signed ones. A signed call executes at most once. A nil req
// runs the invocation unauthenticated.
func (h *Host) Invoke(ctx context.Context, req *auth.Request, method string, args []uint64, fn ContractFunc) error {
	logger := h.logger.With().Str("invocation", uuid.NewString()).Str("method", method).Logger()

	var digest []byte
	if req != nil {
		logger = logger.With().Str("caller", req.Caller.Hex()).Logger()
		if err := h.checkCall(req.Call, method, args); err != nil {
			logger.Warn().Err(err).Msg("rejected invocation")
			return err
		}
		var err error
		if digest, err = req.Call.Digest(); err != nil {
			return err
		}
	}
	witness, err := auth.Verify(req)
	if err != nil {
		logger.Warn().Err(err).Msg("rejected invocation")
		return err
	}

	return h.run(ctx, false, witness, logger, func(ctx context.Context, c *oracle.Contract, tx Txn) error {
		if err := fn(ctx, c); err != nil {
			return err
		}
		if digest == nil {
			return nil
		}
		key := executedKey(digest)
		seen, err := tx.Has(ctx, key)
		if err != nil {
			return err
		}
		if seen {
			return ErrReplayedRequest
		}
		return tx.Set(ctx, key, []byte{1})
	})
}

func (h *Host) checkCall(call auth.Call, method string, args []uint64) error {
	if call.Method != method {
		return fmt.Errorf("%w: %q", ErrMethodMismatch, call.Method)
	}
	if call.Contract != h.contract {
		return fmt.Errorf("%w: %s", ErrWrongContract, call.Contract.Hex())
	}
	if !slices.Equal(call.Args, args) {
		return fmt.Errorf("%w: signed %v, invoked with %v", ErrArgsMismatch, call.Args, args)
	}
	now := h.clock.Now()
	if call.Issued+h.window < now || call.Issued > now+h.window {
		return fmt.Errorf("%w: issued %d, host time %d", ErrStaleRequest, call.Issued, now)
	}
	return nil
}

// Query runs fn in a read-only transaction that is always discarded.
func (h *Host) Query(ctx context.Context, fn ContractFunc) error {
	return h.run(ctx, true, auth.Anonymous(), h.logger, func(ctx context.Context, c *oracle.Contract, _ Txn) error {
		return fn(ctx, c)
	})
}

func (h *Host) run(ctx context.Context, readOnly bool, witness oracle.Authorizer, logger zerolog.Logger, fn func(context.Context, *oracle.Contract, Txn) error) error {
	begin := h.backend.Begin
	if readOnly {
		begin = h.backend.BeginReadOnly
	}
	tx, err := begin(ctx)
	if err != nil {
		return fmt.Errorf("begin invocation: %w", err)
	}
	// Releases the backend on every path, including panics; no-op after Commit.
	defer func() { _ = tx.Rollback(context.Background()) }()

	now := h.clock.Now()
	contract := oracle.New(oracle.Env{
		Storage: tx,
		Auth:    witness,
		Clock:   oracle.TimeFunc(func() uint64 { return now }),
		Ledger:  tx,
		Self:    h.contract,
	})

	if err := fn(ctx, contract, tx); err != nil {
		if !readOnly {
			logger.Warn().Err(err).Uint64("now", now).Msg("invocation aborted")
		}
		return err
	}
	if readOnly {
		return nil
	}
	if err := tx.Commit(ctx); err != nil {
		logger.Error().Err(err).Msg("commit failed")
		return err
	}
	logger.Debug().Uint64("now", now).Msg("invocation committed")
	return nil
}

// Mint credits holder with amount of asset. It stands in for the asset
// issuer and is used to fund the escrow.
func (h *Host) Mint(ctx context.Context, asset, holder common.Address, amount uint64) error {
	tx, err := h.backend.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin mint: %w", err)
	}
	defer func() { _ = tx.Rollback(context.Background()) }()

	if err := tx.Mint(ctx, asset, holder, amount); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return err
	}
	h.logger.Info().Str("asset", asset.Hex()).Str("holder", holder.Hex()).Uint64("amount", amount).Msg("minted")
	return nil
}

// Balance reads holder's committed balance of asset.
func (h *Host) Balance(ctx context.Context, asset, holder common.Address) (uint64, error) {
	tx, err := h.backend.BeginReadOnly(ctx)
	if err != nil {
		return 0, fmt.Errorf("begin balance query: %w", err)
	}
	defer func() { _ = tx.Rollback(context.Background()) }()
	return tx.Balance(ctx, asset, holder)
}
