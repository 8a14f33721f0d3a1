package relayer

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"weather-oracle/internal/alerting"
	"weather-oracle/internal/auth"
	"weather-oracle/internal/config"
	"weather-oracle/internal/fetcher"
	"weather-oracle/internal/host"
	"weather-oracle/internal/oracle"
	"weather-oracle/internal/storage"
)

const day = 24 * time.Hour

var (
	contractAddr  = common.HexToAddress("0x000000000000000000000000000000000000c0de")
	assetAddr     = common.HexToAddress("0x0000000000000000000000000000000000000a55")
	recipientAddr = common.HexToAddress("0x000000000000000000000000000000000000beef")
)

type recordingNotifier struct {
	mu    sync.Mutex
	notes []alerting.Notification
}

func (r *recordingNotifier) Notify(_ context.Context, n alerting.Notification) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.notes = append(r.notes, n)
	return nil
}

type fakeLocker struct {
	acquired bool
	unlocked bool
}

func (f *fakeLocker) TryAdvisoryLock(context.Context, int64) (func(), bool, error) {
	if !f.acquired {
		return nil, false, nil
	}
	return func() { f.unlocked = true }, true, nil
}

type windowSource struct {
	values map[int64]decimal.Decimal
}

func (w windowSource) FetchMeasurement(_ context.Context, from, _ time.Time) (decimal.Decimal, error) {
	v, ok := w.values[from.Unix()]
	if !ok {
		return decimal.Decimal{}, fetcher.ErrNoSamples
	}
	return v, nil
}

type fixture struct {
	host     *host.Host
	clock    *host.ManualClock
	relayer  *auth.Signer
	notifier *recordingNotifier
	cfg      *config.Config
}

func newFixture(t *testing.T, requirement uint32) *fixture {
	t.Helper()
	ctx := context.Background()

	owner, err := auth.GenerateSigner()
	require.NoError(t, err)
	relayerKey, err := auth.GenerateSigner()
	require.NoError(t, err)

	clock := host.NewManualClock(0)
	h := host.New(host.Memory(storage.NewMemory()), clock, contractAddr, zerolog.Nop())

	req, err := owner.Sign(auth.Call{Contract: contractAddr, Method: "initialize"})
	require.NoError(t, err)
	require.NoError(t, h.Invoke(ctx, req, "initialize", nil, func(ctx context.Context, c *oracle.Contract) error {
		return c.Initialize(ctx, owner.Address(), oracle.InitParams{
			Relayer:               relayerKey.Address(),
			EpochDuration:         uint32(day / time.Second),
			ContinuityRequirement: requirement,
			Threshold:             10,
			Asset:                 assetAddr,
			Recipient:             recipientAddr,
		})
	}))
	require.NoError(t, h.Mint(ctx, assetAddr, contractAddr, 1000))

	cfg := &config.Config{}
	cfg.Source.Scale = 1
	cfg.Scheduler.MaxReportsPerTick = 30

	return &fixture{host: h, clock: clock, relayer: relayerKey, notifier: &recordingNotifier{}, cfg: cfg}
}

func (f *fixture) service(source fetcher.MeasurementFetcher, locker storage.AdvisoryLocker) *Service {
	return New(f.cfg, nil, f.host, source, f.relayer, f.notifier, locker, zerolog.Nop())
}

func (f *fixture) latest(t *testing.T) uint32 {
	t.Helper()
	var latest uint32
	require.NoError(t, f.host.Query(context.Background(), func(ctx context.Context, c *oracle.Contract) error {
		var err error
		latest, err = c.LastUpdateTime(ctx)
		return err
	}))
	return latest
}

func TestProcessTickCatchesUpAndPays(t *testing.T) {
	f := newFixture(t, 2)
	f.clock.Advance(3*day + time.Hour)

	svc := f.service(fetcher.Static{Value: decimal.RequireFromString("50.4")}, nil)
	receipts, err := svc.ProcessTick(context.Background(), time.Now())
	require.NoError(t, err)
	require.Len(t, receipts, 2)
	require.Equal(t, oracle.Receipt{Epoch: 1, Value: 50, Streak: 1}, receipts[0])
	require.Equal(t, oracle.Receipt{Epoch: 2, Value: 50, Streak: 2, Payout: 1000}, receipts[1])
	require.EqualValues(t, 2, f.latest(t))

	require.Len(t, f.notifier.notes, 1)
	note := f.notifier.notes[0]
	require.EqualValues(t, 2, note.Epoch)
	require.EqualValues(t, 1000, note.Payout)
	require.EqualValues(t, 2, note.Requirement)
	require.Equal(t, recipientAddr, note.Recipient)

	bal, err := f.host.Balance(context.Background(), assetAddr, recipientAddr)
	require.NoError(t, err)
	require.EqualValues(t, 1000, bal)

	// Nothing left to report inside the same epoch.
	receipts, err = svc.ProcessTick(context.Background(), time.Now())
	require.NoError(t, err)
	require.Empty(t, receipts)
}

func TestProcessTickRespectsLimit(t *testing.T) {
	f := newFixture(t, 5)
	f.cfg.Scheduler.MaxReportsPerTick = 1
	f.clock.Advance(10 * day)

	svc := f.service(fetcher.Static{Value: decimal.NewFromInt(50)}, nil)
	receipts, err := svc.ProcessTick(context.Background(), time.Now())
	require.NoError(t, err)
	require.Len(t, receipts, 1)
	require.EqualValues(t, 1, f.latest(t))

	receipts, err = svc.ProcessTick(context.Background(), time.Now())
	require.NoError(t, err)
	require.Len(t, receipts, 1)
	require.EqualValues(t, 2, f.latest(t))
}

func TestProcessTickStopsAtFirstFailure(t *testing.T) {
	f := newFixture(t, 2)
	f.clock.Advance(5 * day)

	dayStart := int64(day / time.Second)
	source := windowSource{values: map[int64]decimal.Decimal{
		1 * dayStart: decimal.NewFromInt(50),
		// epoch 2 has no data
		3 * dayStart: decimal.NewFromInt(50),
	}}
	svc := f.service(source, nil)

	receipts, err := svc.ProcessTick(context.Background(), time.Now())
	require.ErrorIs(t, err, fetcher.ErrNoSamples)
	require.Len(t, receipts, 1)
	require.EqualValues(t, 1, f.latest(t))
	require.Empty(t, f.notifier.notes)
}

func TestProcessTickRejectsForeignKey(t *testing.T) {
	f := newFixture(t, 2)
	f.clock.Advance(3 * day)

	other, err := auth.GenerateSigner()
	require.NoError(t, err)
	svc := New(f.cfg, nil, f.host, fetcher.Static{Value: decimal.NewFromInt(50)}, other, nil, nil, zerolog.Nop())

	_, err = svc.ProcessTick(context.Background(), time.Now())
	require.ErrorIs(t, err, ErrNotRelayer)
	require.Zero(t, f.latest(t))
}

func TestProcessTickHonoursAdvisoryLock(t *testing.T) {
	f := newFixture(t, 2)
	f.cfg.Scheduler.AdvisoryLockKey = 42
	f.clock.Advance(3 * day)

	busy := &fakeLocker{}
	svc := f.service(fetcher.Static{Value: decimal.NewFromInt(50)}, busy)
	receipts, err := svc.ProcessTick(context.Background(), time.Now())
	require.NoError(t, err)
	require.Empty(t, receipts)
	require.Zero(t, f.latest(t))

	free := &fakeLocker{acquired: true}
	svc = f.service(fetcher.Static{Value: decimal.NewFromInt(50)}, free)
	receipts, err = svc.ProcessTick(context.Background(), time.Now())
	require.NoError(t, err)
	require.Len(t, receipts, 2)
	require.True(t, free.unlocked)
}

func TestSubmitSurfacesContractErrors(t *testing.T) {
	f := newFixture(t, 2)
	f.clock.Advance(3 * day)

	_, err := Submit(context.Background(), f.host, f.relayer, 50, 2)
	require.ErrorIs(t, err, oracle.ErrNonSequentialEpoch)

	_, err = Submit(context.Background(), f.host, f.relayer, 50, 1)
	require.NoError(t, err)

	_, err = Submit(context.Background(), f.host, f.relayer, 50, 3)
	require.True(t, errors.Is(err, oracle.ErrFutureOrPresentEpoch))
}

func TestPreviewDoesNotSubmit(t *testing.T) {
	f := newFixture(t, 2)
	f.clock.Advance(3 * day)

	svc := f.service(fetcher.Static{Value: decimal.RequireFromString("49.6")}, nil)
	plans, err := svc.Preview(context.Background())
	require.NoError(t, err)
	require.Len(t, plans, 2)
	require.EqualValues(t, 1, plans[0].Epoch)
	require.EqualValues(t, 50, plans[0].Value)
	require.True(t, plans[1].From.Equal(time.Unix(2*int64(day/time.Second), 0)))
	require.True(t, plans[1].To.Equal(time.Unix(3*int64(day/time.Second), 0)))

	require.Zero(t, f.latest(t))
	require.Empty(t, f.notifier.notes)
}
