package host

import (
	"context"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"weather-oracle/internal/config"
	"weather-oracle/internal/oracle"
	"weather-oracle/internal/storage"
)

// openPostgres connects to WEATHERORACLE_TEST_DSN and empties the oracle tables.
func openPostgres(t *testing.T) *storage.Store {
	t.Helper()
	dsn := os.Getenv("WEATHERORACLE_TEST_DSN")
	if dsn == "" {
		t.Skip("WEATHERORACLE_TEST_DSN not set")
	}
	ctx := context.Background()

	pool, err := storage.NewPool(ctx, config.DatabaseConfig{DSN: dsn, MaxOpenConns: 8})
	require.NoError(t, err)
	store := storage.NewStore(pool, 0x746573)
	t.Cleanup(store.Close)

	require.NoError(t, store.EnsureSchema(ctx, ""))
	_, err = pool.Exec(ctx, `TRUNCATE oracle_state, asset_balances`)
	require.NoError(t, err)
	return store
}

func TestReferenceScenarioOverPostgres(t *testing.T) {
	store := openPostgres(t)
	ctx := context.Background()

	d := newDeployment(t, Postgres(store))
	d.initialize(t, 2)
	require.NoError(t, d.host.Mint(ctx, assetAddr, contractAddr, 1000))

	d.clock.Advance(2 * day)
	r, err := d.setValue(t, d.relayer, 50, 1)
	require.NoError(t, err)
	require.Zero(t, r.Payout)

	d.clock.Advance(day)
	r, err = d.setValue(t, d.relayer, 50, 2)
	require.NoError(t, err)
	require.EqualValues(t, 1000, r.Payout)

	bal, err := d.host.Balance(ctx, assetAddr, recipientAddr)
	require.NoError(t, err)
	require.EqualValues(t, 1000, bal)
	bal, err = d.host.Balance(ctx, assetAddr, contractAddr)
	require.NoError(t, err)
	require.Zero(t, bal)
}

func TestConcurrentReportsOverPostgres(t *testing.T) {
	store := openPostgres(t)

	d := newDeployment(t, Postgres(store))
	d.initialize(t, 100)
	d.clock.Advance(3 * day)

	// Racing submissions of the same epoch: exactly one may win.
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		accepted int
	)
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := d.setValue(t, d.relayer, 50, 1); err == nil {
				mu.Lock()
				accepted++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	require.Equal(t, 1, accepted)
	require.EqualValues(t, 1, d.snapshot(t).LatestUpdate)
}

func TestAdvisoryLockOverPostgres(t *testing.T) {
	store := openPostgres(t)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	unlock, ok, err := store.TryAdvisoryLock(ctx, 0x72656c)
	require.NoError(t, err)
	require.True(t, ok)

	_, ok, err = store.TryAdvisoryLock(ctx, 0x72656c)
	require.NoError(t, err)
	require.False(t, ok)

	unlock()
	unlock2, ok, err := store.TryAdvisoryLock(ctx, 0x72656c)
	require.NoError(t, err)
	require.True(t, ok)
	unlock2()

	var snapErr error
	_ = New(Postgres(store), NewManualClock(0), contractAddr, zerolog.Nop()).Query(ctx, func(ctx context.Context, c *oracle.Contract) error {
		_, snapErr = c.Snapshot(ctx)
		return nil
	})
	require.ErrorIs(t, snapErr, oracle.ErrNotInitialized)
}
