package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

const (
	getStateSQL = `SELECT value FROM oracle_state WHERE key = $1;`

	hasStateSQL = `SELECT EXISTS (SELECT 1 FROM oracle_state WHERE key = $1);`

	putStateSQL = `INSERT INTO oracle_state (key, value)
    VALUES ($1, $2)
    ON CONFLICT (key) DO UPDATE
    SET value      = EXCLUDED.value,
        updated_at = now();`

	getBalanceSQL = `SELECT amount::text
    FROM asset_balances
    WHERE asset = $1
      AND holder = $2;`

	lockBalanceSQL = `SELECT amount::text
    FROM asset_balances
    WHERE asset = $1
      AND holder = $2
    FOR UPDATE;`

	putBalanceSQL = `INSERT INTO asset_balances (asset, holder, amount)
    VALUES ($1, $2, $3::numeric)
    ON CONFLICT (asset, holder) DO UPDATE
    SET amount     = EXCLUDED.amount,
        updated_at = now();`

	advisoryXactLockSQL = `SELECT pg_advisory_xact_lock($1);`
	tryAdvisoryLockSQL  = `SELECT pg_try_advisory_lock($1);`
	advisoryUnlockSQL   = `SELECT pg_advisory_unlock($1);`
)

// AdvisoryLocker exposes advisory lock helpers.
type AdvisoryLocker interface {
	TryAdvisoryLock(ctx context.Context, key int64) (unlock func(), acquired bool, err error)
}

// Store is the PostgreSQL backend. Every read-write transaction takes the
// same transaction-scoped advisory lock, so invocations run one at a time.
type Store struct {
	pool    *pgxpool.Pool
	lockKey int64
}

// NewStore wires a pgx pool into a Store.
func NewStore(pool *pgxpool.Pool, lockKey int64) *Store {
	return &Store{pool: pool, lockKey: lockKey}
}

// Close releases the underlying pool resources.
func (s *Store) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

func (s *Store) getPool() (*pgxpool.Pool, error) {
	if s == nil || s.pool == nil {
		return nil, ErrNotConfigured
	}
	return s.pool, nil
}

// TryAdvisoryLock attempts to acquire a session advisory lock and returns a release func.
func (s *Store) TryAdvisoryLock(ctx context.Context, key int64) (func(), bool, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, false, err
	}

	conn, err := pool.Acquire(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("acquire connection: %w", err)
	}

	var acquired bool
	if err := conn.QueryRow(ctx, tryAdvisoryLockSQL, key).Scan(&acquired); err != nil {
		conn.Release()
		return nil, false, fmt.Errorf("try advisory lock: %w", err)
	}
	if !acquired {
		conn.Release()
		return nil, false, nil
	}

	unlock := func() {
		ctxUnlock, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		// best effort: the lock dies with the session anyway
		_, _ = conn.Exec(ctxUnlock, advisoryUnlockSQL, key)
		conn.Release()
	}
	return unlock, true, nil
}

// Begin opens a transaction holding the invocation lock. The lock is the first
// statement, so every later read in the transaction sees all invocations that
// committed before it; read committed is enough once writers are serialised.
func (s *Store) Begin(ctx context.Context) (*Tx, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}
	tx, err := pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	if _, err := tx.Exec(ctx, advisoryXactLockSQL, s.lockKey); err != nil {
		_ = tx.Rollback(ctx)
		return nil, fmt.Errorf("acquire invocation lock: %w", err)
	}
	return &Tx{tx: tx}, nil
}

// BeginReadOnly opens a read-only snapshot transaction without the lock.
func (s *Store) BeginReadOnly(ctx context.Context) (*Tx, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}
	tx, err := pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.RepeatableRead, AccessMode: pgx.ReadOnly})
	if err != nil {
		return nil, fmt.Errorf("begin read-only transaction: %w", err)
	}
	return &Tx{tx: tx}, nil
}

// Tx is one invocation's view of the PostgreSQL backend.
type Tx struct {
	tx pgx.Tx
}

// Get implements oracle.Storage.
func (t *Tx) Get(ctx context.Context, key []byte) ([]byte, bool, error) {
	var value []byte
	err := t.tx.QueryRow(ctx, getStateSQL, key).Scan(&value)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("get state: %w", err)
	}
	return value, true, nil
}

// Set implements oracle.Storage.
func (t *Tx) Set(ctx context.Context, key, value []byte) error {
	if _, err := t.tx.Exec(ctx, putStateSQL, key, value); err != nil {
		return fmt.Errorf("put state: %w", err)
	}
	return nil
}

// Has implements oracle.Storage.
func (t *Tx) Has(ctx context.Context, key []byte) (bool, error) {
	var exists bool
	if err := t.tx.QueryRow(ctx, hasStateSQL, key).Scan(&exists); err != nil {
		return false, fmt.Errorf("has state: %w", err)
	}
	return exists, nil
}

func (t *Tx) readBalance(ctx context.Context, query string, asset, holder common.Address) (uint64, error) {
	var amountStr string
	err := t.tx.QueryRow(ctx, query, asset.Bytes(), holder.Bytes()).Scan(&amountStr)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read balance: %w", err)
	}
	return parseAmount(amountStr)
}

func (t *Tx) writeBalance(ctx context.Context, asset, holder common.Address, amount uint64) error {
	amountStr := decimal.NewFromUint64(amount).String()
	if _, err := t.tx.Exec(ctx, putBalanceSQL, asset.Bytes(), holder.Bytes(), amountStr); err != nil {
		return fmt.Errorf("write balance: %w", err)
	}
	return nil
}

// Balance implements oracle.PaymentLedger.
func (t *Tx) Balance(ctx context.Context, asset, holder common.Address) (uint64, error) {
	return t.readBalance(ctx, getBalanceSQL, asset, holder)
}

// Transfer implements oracle.PaymentLedger. A zero amount succeeds without
// touching balances.
func (t *Tx) Transfer(ctx context.Context, asset, from, to common.Address, amount uint64) error {
	if amount == 0 {
		return nil
	}
	have, err := t.readBalance(ctx, lockBalanceSQL, asset, from)
	if err != nil {
		return err
	}
	if have < amount {
		return insufficient(from, have, amount)
	}
	if err := t.writeBalance(ctx, asset, from, have-amount); err != nil {
		return err
	}
	dst, err := t.readBalance(ctx, lockBalanceSQL, asset, to)
	if err != nil {
		return err
	}
	if dst+amount < amount {
		return ErrBalanceOverflow
	}
	return t.writeBalance(ctx, asset, to, dst+amount)
}

// Mint credits holder with amount of asset.
func (t *Tx) Mint(ctx context.Context, asset, holder common.Address, amount uint64) error {
	have, err := t.readBalance(ctx, lockBalanceSQL, asset, holder)
	if err != nil {
		return err
	}
	if have+amount < amount {
		return ErrBalanceOverflow
	}
	return t.writeBalance(ctx, asset, holder, have+amount)
}

// Commit commits the transaction.
func (t *Tx) Commit(ctx context.Context) error {
	if err := t.tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// Rollback aborts the transaction. It is a no-op after Commit.
func (t *Tx) Rollback(ctx context.Context) error {
	err := t.tx.Rollback(ctx)
	if err != nil && !errors.Is(err, pgx.ErrTxClosed) {
		return fmt.Errorf("rollback: %w", err)
	}
	return nil
}

func parseAmount(s string) (uint64, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, fmt.Errorf("parse amount: %w", err)
	}
	if !d.IsInteger() || d.IsNegative() {
		return 0, fmt.Errorf("parse amount: %s is not a balance", s)
	}
	b := d.BigInt()
	if !b.IsUint64() {
		return 0, fmt.Errorf("parse amount: %w", ErrBalanceOverflow)
	}
	return b.Uint64(), nil
}
