package oracle

import (
	"context"

	"github.com/ethereum/go-ethereum/common"
)

// Identity addresses an account known to the host: owner, relayer, recipient,
// the contract itself or an asset.
type Identity = common.Address

// Storage is the key-value view of contract state for one invocation.
type Storage interface {
	Get(ctx context.Context, key []byte) ([]byte, bool, error)
	Set(ctx context.Context, key, value []byte) error
	Has(ctx context.Context, key []byte) (bool, error)
}

// Authorizer reports whether the identity authenticated the current invocation.
type Authorizer interface {
	Authorize(id Identity) bool
}

// TimeSource yields unix seconds. Values never decrease.
type TimeSource interface {
	Now() uint64
}

// PaymentLedger holds asset balances outside contract storage.
type PaymentLedger interface {
	Balance(ctx context.Context, asset, holder Identity) (uint64, error)
	Transfer(ctx context.Context, asset, from, to Identity, amount uint64) error
}

// Env bundles the host capabilities available to a single invocation.
type Env struct {
	Storage Storage
	Auth    Authorizer
	Clock   TimeSource
	Ledger  PaymentLedger
	// Self is the contract's own account on the ledger.
	Self Identity
}

// TimeFunc adapts a plain function to TimeSource.
type TimeFunc func() uint64

// Now implements TimeSource.
func (f TimeFunc) Now() uint64 { return f() }

type denyAll struct{}

func (denyAll) Authorize(Identity) bool { return false }
