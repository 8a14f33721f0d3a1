package storage

import (
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
)

var (
	// ErrNotConfigured indicates the storage pool was not initialised.
	ErrNotConfigured = errors.New("storage: pool not configured")
	// ErrTxClosed is returned by operations on a committed or rolled back transaction.
	ErrTxClosed = errors.New("storage: transaction closed")
	// ErrInsufficientFunds rejects transfers above the sender's balance.
	ErrInsufficientFunds = errors.New("storage: insufficient funds")
	// ErrBalanceOverflow rejects credits that would exceed uint64.
	ErrBalanceOverflow = errors.New("storage: balance overflow")
)

func insufficient(holder common.Address, have, want uint64) error {
	return fmt.Errorf("%w: %s holds %d, transfer needs %d", ErrInsufficientFunds, holder.Hex(), have, want)
}
