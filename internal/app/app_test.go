package app

import (
	"bytes"
	"context"
	"encoding/csv"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"weather-oracle/internal/auth"
	"weather-oracle/internal/config"
	"weather-oracle/internal/host"
	"weather-oracle/internal/oracle"
	"weather-oracle/internal/storage"
)

const (
	ownerKey   = "b71c71a67e1177ad4e901695e1b4b9ee17ae16c6668d313eac2f96dbcda3f291"
	relayerKey = "4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318"
	day        = 24 * time.Hour
)

var (
	contractAddr  = common.HexToAddress("0x000000000000000000000000000000000000c0de")
	assetAddr     = common.HexToAddress("0x0000000000000000000000000000000000000a55")
	recipientAddr = common.HexToAddress("0x000000000000000000000000000000000000beef")
)

type harness struct {
	app   *App
	host  *host.Host
	clock *host.ManualClock
	out   *bytes.Buffer
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	relayer, err := auth.ParseKey(relayerKey)
	require.NoError(t, err)

	cfg := &config.Config{}
	cfg.Oracle = config.OracleConfig{
		Contract:              contractAddr.Hex(),
		Relayer:               relayer.Address().Hex(),
		Asset:                 assetAddr.Hex(),
		Recipient:             recipientAddr.Hex(),
		EpochDuration:         day,
		ContinuityRequirement: 2,
		Threshold:             10,
	}
	cfg.Keys = config.KeysConfig{Owner: ownerKey, Relayer: relayerKey}
	cfg.Scheduler.MaxReportsPerTick = 30
	cfg.Source.Kind = "static"
	cfg.Source.Scale = 1
	cfg.Source.StaticValue = 50
	cfg.Export.MaxDataPoints = 100

	clock := host.NewManualClock(0)
	h := host.New(host.Memory(storage.NewMemory()), clock, contractAddr, zerolog.Nop())

	out := &bytes.Buffer{}
	a := NewApp(cfg, zerolog.Nop()).WithHost(h)
	a.Out = out
	return &harness{app: a, host: h, clock: clock, out: out}
}

func (hs *harness) snapshot(t *testing.T) oracle.Snapshot {
	t.Helper()
	var snap oracle.Snapshot
	require.NoError(t, hs.host.Query(context.Background(), func(ctx context.Context, c *oracle.Contract) error {
		var err error
		snap, err = c.Snapshot(ctx)
		return err
	}))
	return snap
}

func TestSimulateReferenceScenario(t *testing.T) {
	out := &bytes.Buffer{}
	a := NewApp(&config.Config{}, zerolog.Nop())
	a.Out = out

	steps, err := a.Simulate(context.Background(), SimulateOptions{})
	require.NoError(t, err)
	require.Len(t, steps, 2)

	require.EqualValues(t, 1, steps[0].Receipt.Streak)
	require.EqualValues(t, 1000, steps[0].EscrowBalance)
	require.EqualValues(t, 2*86400, steps[0].Now)

	require.EqualValues(t, 2, steps[1].Receipt.Streak)
	require.EqualValues(t, 1000, steps[1].Receipt.Payout)
	require.Zero(t, steps[1].EscrowBalance)
	require.EqualValues(t, 1000, steps[1].RecipientBalance)

	require.Contains(t, out.String(), "Streak")
}

func TestSimulateResetsStreak(t *testing.T) {
	a := NewApp(&config.Config{}, zerolog.Nop())
	a.Out = &bytes.Buffer{}

	steps, err := a.Simulate(context.Background(), SimulateOptions{Values: []uint32{50, 5, 50, 50, 50}})
	require.NoError(t, err)
	require.Len(t, steps, 5)

	streaks := make([]uint32, len(steps))
	for i, s := range steps {
		streaks[i] = s.Receipt.Streak
	}
	require.Equal(t, []uint32{1, 0, 1, 2, 3}, streaks)
	require.EqualValues(t, 1000, steps[3].Receipt.Payout)
	// Already drained: the repeated payout moves nothing.
	require.Zero(t, steps[4].Receipt.Payout)
	require.EqualValues(t, 1000, steps[4].RecipientBalance)
}

func TestSimulateZeroRequirementAndThreshold(t *testing.T) {
	a := NewApp(&config.Config{}, zerolog.Nop())
	a.Out = &bytes.Buffer{}

	zero := uint32(0)
	steps, err := a.Simulate(context.Background(), SimulateOptions{
		Requirement: &zero,
		Threshold:   &zero,
		Values:      []uint32{0, 1},
	})
	require.NoError(t, err)
	require.Len(t, steps, 2)

	// A zero requirement releases the escrow on the first report, even at a zero streak.
	require.Zero(t, steps[0].Receipt.Streak)
	require.EqualValues(t, 1000, steps[0].Receipt.Payout)
	require.EqualValues(t, 1000, steps[0].RecipientBalance)
	// With a zero threshold any positive value extends the streak.
	require.EqualValues(t, 1, steps[1].Receipt.Streak)
	require.Zero(t, steps[1].Receipt.Payout)
}

func TestSimulateUnfunded(t *testing.T) {
	a := NewApp(&config.Config{}, zerolog.Nop())
	a.Out = &bytes.Buffer{}

	fund := uint64(0)
	steps, err := a.Simulate(context.Background(), SimulateOptions{Fund: &fund})
	require.NoError(t, err)
	require.EqualValues(t, 2, steps[1].Receipt.Streak)
	require.Zero(t, steps[1].Receipt.Payout)
	require.Zero(t, steps[1].RecipientBalance)
}

func TestAdminFlow(t *testing.T) {
	ctx := context.Background()
	hs := newHarness(t)

	require.NoError(t, hs.app.Initialize(ctx))
	require.ErrorIs(t, hs.app.Initialize(ctx), oracle.ErrAlreadyInitialized)
	require.NoError(t, hs.app.Fund(ctx, 1000, ""))

	hs.clock.Set(uint64(2 * day / time.Second))
	require.NoError(t, hs.app.Submit(ctx, 50, 1))
	hs.clock.Set(uint64(3 * day / time.Second))
	require.NoError(t, hs.app.Submit(ctx, 50, 2))

	bal, err := hs.host.Balance(ctx, assetAddr, recipientAddr)
	require.NoError(t, err)
	require.EqualValues(t, 1000, bal)

	require.NoError(t, hs.app.SetThreshold(ctx, 60))
	require.NoError(t, hs.app.SetContinuityRequirement(ctx, 3))
	snap := hs.snapshot(t)
	require.EqualValues(t, 60, snap.Threshold)
	require.EqualValues(t, 3, snap.ContinuityRequirement)
	require.EqualValues(t, 2, snap.LatestUpdate)

	hs.out.Reset()
	require.NoError(t, hs.app.Status(ctx))
	require.Contains(t, hs.out.String(), "Recipient balance")
	require.Contains(t, hs.out.String(), contractAddr.Hex())

	hs.out.Reset()
	require.NoError(t, hs.app.Show(ctx, ShowOptions{Limit: 2}))
	require.Contains(t, hs.out.String(), "Epoch")
	require.Contains(t, hs.out.String(), "1970-01-03T00:00:00Z")
	require.NotContains(t, hs.out.String(), "1970-01-01T00:00:00Z")
}

func TestSubmitRequiresRelayerKey(t *testing.T) {
	ctx := context.Background()
	hs := newHarness(t)
	require.NoError(t, hs.app.Initialize(ctx))

	hs.app.Config.Keys.Relayer = ownerKey
	hs.clock.Set(uint64(2 * day / time.Second))
	require.ErrorIs(t, hs.app.Submit(ctx, 50, 1), oracle.ErrUnauthorized)
}

func TestBackfill(t *testing.T) {
	ctx := context.Background()
	hs := newHarness(t)
	require.NoError(t, hs.app.Initialize(ctx))
	hs.clock.Set(uint64(5*day/time.Second) + 60)

	require.NoError(t, hs.app.Backfill(ctx, BackfillOptions{DryRun: true}))
	require.Contains(t, hs.out.String(), "1970-01-05T00:00:00Z")
	require.Zero(t, hs.snapshot(t).LatestUpdate)

	hs.app.Config.Scheduler.MaxReportsPerTick = 3
	require.NoError(t, hs.app.Backfill(ctx, BackfillOptions{}))
	require.EqualValues(t, 4, hs.snapshot(t).LatestUpdate)
	require.Contains(t, hs.out.String(), "reported 4 epochs")
}

func TestExportCSV(t *testing.T) {
	ctx := context.Background()
	hs := newHarness(t)
	require.NoError(t, hs.app.Initialize(ctx))
	hs.clock.Set(uint64(4 * day / time.Second))
	require.NoError(t, hs.app.Submit(ctx, 50, 1))
	require.NoError(t, hs.app.Submit(ctx, 7, 2))
	require.NoError(t, hs.app.Submit(ctx, 11, 3))

	path := filepath.Join(t.TempDir(), "out", "series.csv")
	from := uint32(1)
	require.NoError(t, hs.app.Export(ctx, ExportOptions{CSVPath: path, FromEpoch: &from}))

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	rows, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)
	require.Equal(t, [][]string{
		{"epoch", "window_start", "value", "threshold", "above_threshold"},
		{"1", "1970-01-02T00:00:00Z", "50", "10", "true"},
		{"2", "1970-01-03T00:00:00Z", "7", "10", "false"},
		{"3", "1970-01-04T00:00:00Z", "11", "10", "true"},
	}, rows)

	require.Error(t, hs.app.Export(ctx, ExportOptions{}))
}

func TestDownsampleRecords(t *testing.T) {
	records := make([]oracle.Record, 10)
	for i := range records {
		records[i] = oracle.Record{Epoch: uint32(i)}
	}
	got := downsampleRecords(records, 4)
	require.Len(t, got, 4)
	require.EqualValues(t, 0, got[0].Epoch)
	require.EqualValues(t, 9, got[3].Epoch)
	require.Len(t, downsampleRecords(records, 1), 1)
	require.Len(t, downsampleRecords(records, 20), 10)
}

func TestFirstOfLast(t *testing.T) {
	require.EqualValues(t, 3, firstOfLast(5, 3))
	require.EqualValues(t, 1, firstOfLast(5, 5))
	require.EqualValues(t, 0, firstOfLast(5, 6))
	require.EqualValues(t, 0, firstOfLast(5, 0))
}
