package storage

import (
	"context"
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

type balanceKey struct {
	asset  common.Address
	holder common.Address
}

// Memory is a process-local backend. Transactions are exclusive: Begin blocks
// until the previous transaction commits or rolls back.
type Memory struct {
	gate     chan struct{}
	mu       sync.RWMutex
	state    map[string][]byte
	balances map[balanceKey]uint64
}

// NewMemory returns an empty backend.
func NewMemory() *Memory {
	return &Memory{
		gate:     make(chan struct{}, 1),
		state:    make(map[string][]byte),
		balances: make(map[balanceKey]uint64),
	}
}

// Begin opens an exclusive transaction.
func (m *Memory) Begin(ctx context.Context) (*MemoryTx, error) {
	select {
	case m.gate <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return &MemoryTx{
		m:        m,
		writes:   make(map[string][]byte),
		balances: make(map[balanceKey]uint64),
	}, nil
}

// BeginReadOnly opens a transaction for queries. Memory transactions are
// always exclusive, so this is Begin.
func (m *Memory) BeginReadOnly(ctx context.Context) (*MemoryTx, error) {
	return m.Begin(ctx)
}

// MemoryTx buffers the writes of one invocation.
type MemoryTx struct {
	m        *Memory
	writes   map[string][]byte
	balances map[balanceKey]uint64
	done     bool
}

// Get implements oracle.Storage.
func (tx *MemoryTx) Get(ctx context.Context, key []byte) ([]byte, bool, error) {
	if tx.done {
		return nil, false, ErrTxClosed
	}
	if v, ok := tx.writes[string(key)]; ok {
		return append([]byte(nil), v...), true, nil
	}
	tx.m.mu.RLock()
	defer tx.m.mu.RUnlock()
	v, ok := tx.m.state[string(key)]
	if !ok {
		return nil, false, nil
	}
	return append([]byte(nil), v...), true, nil
}

// Set implements oracle.Storage.
func (tx *MemoryTx) Set(ctx context.Context, key, value []byte) error {
	if tx.done {
		return ErrTxClosed
	}
	tx.writes[string(key)] = append([]byte(nil), value...)
	return nil
}

// Has implements oracle.Storage.
func (tx *MemoryTx) Has(ctx context.Context, key []byte) (bool, error) {
	_, ok, err := tx.Get(ctx, key)
	return ok, err
}

func (tx *MemoryTx) balance(k balanceKey) uint64 {
	if v, ok := tx.balances[k]; ok {
		return v
	}
	tx.m.mu.RLock()
	defer tx.m.mu.RUnlock()
	return tx.m.balances[k]
}

// Balance implements oracle.PaymentLedger.
func (tx *MemoryTx) Balance(ctx context.Context, asset, holder common.Address) (uint64, error) {
	if tx.done {
		return 0, ErrTxClosed
	}
	return tx.balance(balanceKey{asset, holder}), nil
}

// Transfer implements oracle.PaymentLedger. A zero amount succeeds without
// touching balances.
func (tx *MemoryTx) Transfer(ctx context.Context, asset, from, to common.Address, amount uint64) error {
	if tx.done {
		return ErrTxClosed
	}
	if amount == 0 {
		return nil
	}
	src := balanceKey{asset, from}
	dst := balanceKey{asset, to}
	have := tx.balance(src)
	if have < amount {
		return insufficient(from, have, amount)
	}
	tx.balances[src] = have - amount
	next := tx.balance(dst) + amount
	if next < amount {
		return ErrBalanceOverflow
	}
	tx.balances[dst] = next
	return nil
}

// Mint credits holder with amount of asset.
func (tx *MemoryTx) Mint(ctx context.Context, asset, holder common.Address, amount uint64) error {
	if tx.done {
		return ErrTxClosed
	}
	k := balanceKey{asset, holder}
	next := tx.balance(k) + amount
	if next < amount {
		return ErrBalanceOverflow
	}
	tx.balances[k] = next
	return nil
}

// Commit publishes buffered writes and releases the backend.
func (tx *MemoryTx) Commit(ctx context.Context) error {
	if tx.done {
		return ErrTxClosed
	}
	tx.m.mu.Lock()
	for k, v := range tx.writes {
		tx.m.state[k] = v
	}
	for k, v := range tx.balances {
		tx.m.balances[k] = v
	}
	tx.m.mu.Unlock()
	tx.release()
	return nil
}

// Rollback drops buffered writes. It is safe to call after Commit.
func (tx *MemoryTx) Rollback(ctx context.Context) error {
	if tx.done {
		return nil
	}
	tx.release()
	return nil
}

func (tx *MemoryTx) release() {
	tx.done = true
	tx.writes = nil
	tx.balances = nil
	<-tx.m.gate
}
