package oracle

import (
	"context"
	"fmt"
	"math"
)

// Config is the contract configuration fixed by Initialize. Only Threshold
// and ContinuityRequirement change afterwards.
type Config struct {
	Owner                 Identity
	Relayer               Identity
	EpochDuration         uint32
	ContinuityRequirement uint32
	Threshold             uint32
	Asset                 Identity
	Recipient             Identity
}

// InitParams carries the Initialize arguments. The caller becomes the owner.
type InitParams struct {
	Relayer               Identity
	EpochDuration         uint32
	ContinuityRequirement uint32
	Threshold             uint32
	Asset                 Identity
	Recipient             Identity
}

// Record is one reported epoch value.
type Record struct {
	Epoch uint32
	Value uint32
}

// Receipt describes the effects of an accepted report.
type Receipt struct {
	Epoch  uint32
	Value  uint32
	Streak uint32
	// Payout is the amount moved to the recipient, zero when the streak is
	// below the requirement or the escrow was already drained.
	Payout uint64
}

// Snapshot is the full readable state of an initialized contract.
type Snapshot struct {
	Config
	LatestUpdate uint32
	Continuity   uint32
	CurrentEpoch uint32
}

// Contract executes oracle entry points against one invocation's Env. It
// never commits anything itself: the host decides whether the writes made
// through Env.Storage survive.
type Contract struct {
	env Env
}

// New binds a contract to env. Storage and Clock are mandatory.
func New(env Env) *Contract {
	if env.Storage == nil || env.Clock == nil {
		panic("oracle: storage and clock are required")
	}
	if env.Auth == nil {
		env.Auth = denyAll{}
	}
	return &Contract{env: env}
}

// Initialize stores the configuration and seeds the series with a zero value
// at the current epoch, so the first report must target the next one.
func (c *Contract) Initialize(ctx context.Context, caller Identity, p InitParams) error {
	done, err := c.env.Storage.Has(ctx, KeyInitialized.Bytes())
	if err != nil {
		return fmt.Errorf("check initialized: %w", err)
	}
	if done {
		return ErrAlreadyInitialized
	}

	current, err := EpochAt(c.env.Clock.Now(), p.EpochDuration)
	if err != nil {
		return err
	}

	writes := []struct {
		key   []byte
		value any
	}{
		{KeyContractOwner.Bytes(), caller},
		{KeyInitialized.Bytes(), true},
		{KeyRelayer.Bytes(), p.Relayer},
		{KeyEpochDuration.Bytes(), p.EpochDuration},
		{KeyContinuityRequirement.Bytes(), p.ContinuityRequirement},
		{KeyThreshold.Bytes(), p.Threshold},
		{KeyToken.Bytes(), p.Asset},
		{KeyRecipient.Bytes(), p.Recipient},
		{KeyContinuity.Bytes(), uint32(0)},
		{EpochDataKey(current), epochData{Value: 0}},
		{KeyLatestUpdate.Bytes(), current},
	}
	for _, w := range writes {
		if err := put(ctx, c.env.Storage, w.key, w.value); err != nil {
			return err
		}
	}
	return nil
}

// SetValue records the relayer's report for a fully elapsed epoch, updates
// the continuity streak and releases the escrow once the streak meets the
// requirement. Any error leaves the invocation to be rolled back.
func (c *Contract) SetValue(ctx context.Context, caller Identity, value, epoch uint32) (Receipt, error) {
	cfg, err := c.Config(ctx)
	if err != nil {
		return Receipt{}, err
	}
	if !c.env.Auth.Authorize(caller) || caller != cfg.Relayer {
		return Receipt{}, fmt.Errorf("%w: %s is not the relayer", ErrUnauthorized, caller.Hex())
	}

	current, err := EpochAt(c.env.Clock.Now(), cfg.EpochDuration)
	if err != nil {
		return Receipt{}, err
	}
	if epoch >= current {
		return Receipt{}, fmt.Errorf("%w: epoch %d, current %d", ErrFutureOrPresentEpoch, epoch, current)
	}

	latest, err := mustLoad[uint32](ctx, c.env.Storage, KeyLatestUpdate.Bytes())
	if err != nil {
		return Receipt{}, err
	}
	if latest == math.MaxUint32 || epoch != latest+1 {
		return Receipt{}, fmt.Errorf("%w: epoch %d, latest %d", ErrNonSequentialEpoch, epoch, latest)
	}

	if err := put(ctx, c.env.Storage, EpochDataKey(epoch), epochData{Value: value}); err != nil {
		return Receipt{}, err
	}
	if err := put(ctx, c.env.Storage, KeyLatestUpdate.Bytes(), epoch); err != nil {
		return Receipt{}, err
	}

	streak, err := mustLoad[uint32](ctx, c.env.Storage, KeyContinuity.Bytes())
	if err != nil {
		return Receipt{}, err
	}
	if value > cfg.Threshold {
		if streak < math.MaxUint32 {
			streak++
		}
	} else {
		streak = 0
	}
	if err := put(ctx, c.env.Storage, KeyContinuity.Bytes(), streak); err != nil {
		return Receipt{}, err
	}

	receipt := Receipt{Epoch: epoch, Value: value, Streak: streak}
	// Evaluated on every accepted report, not only on the crossing one.
	if streak >= cfg.ContinuityRequirement {
		paid, err := c.payout(ctx, cfg)
		if err != nil {
			return Receipt{}, err
		}
		receipt.Payout = paid
	}
	return receipt, nil
}

func (c *Contract) payout(ctx context.Context, cfg Config) (uint64, error) {
	if c.env.Ledger == nil {
		return 0, fmt.Errorf("%w: no ledger attached", ErrTransferFailed)
	}
	balance, err := c.env.Ledger.Balance(ctx, cfg.Asset, c.env.Self)
	if err != nil {
		return 0, fmt.Errorf("%w: balance: %w", ErrTransferFailed, err)
	}
	if err := c.env.Ledger.Transfer(ctx, cfg.Asset, c.env.Self, cfg.Recipient, balance); err != nil {
		return 0, fmt.Errorf("%w: %w", ErrTransferFailed, err)
	}
	return balance, nil
}

// SetThreshold replaces the threshold used by subsequent reports.
func (c *Contract) SetThreshold(ctx context.Context, caller Identity, threshold uint32) error {
	if err := c.requireOwner(ctx, caller); err != nil {
		return err
	}
	return put(ctx, c.env.Storage, KeyThreshold.Bytes(), threshold)
}

// SetContinuityRequirement replaces the streak length that triggers payout.
func (c *Contract) SetContinuityRequirement(ctx context.Context, caller Identity, requirement uint32) error {
	if err := c.requireOwner(ctx, caller); err != nil {
		return err
	}
	return put(ctx, c.env.Storage, KeyContinuityRequirement.Bytes(), requirement)
}

func (c *Contract) requireOwner(ctx context.Context, caller Identity) error {
	owner, err := c.ContractOwner(ctx)
	if err != nil {
		return err
	}
	if !c.env.Auth.Authorize(caller) || caller != owner {
		return fmt.Errorf("%w: %s is not the owner", ErrUnauthorized, caller.Hex())
	}
	return nil
}

// GetValue returns the value reported for epoch.
func (c *Contract) GetValue(ctx context.Context, epoch uint32) (uint32, error) {
	d, ok, err := load[epochData](ctx, c.env.Storage, EpochDataKey(epoch))
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, fmt.Errorf("%w: epoch %d", ErrRecordNotFound, epoch)
	}
	return d.Value, nil
}

// Records returns the reported values in [from, to], ascending. The range is
// clipped to the latest reported epoch and to the genesis record.
func (c *Contract) Records(ctx context.Context, from, to uint32) ([]Record, error) {
	latest, err := c.LastUpdateTime(ctx)
	if err != nil {
		return nil, err
	}
	if to > latest {
		to = latest
	}
	if from > to {
		return nil, nil
	}

	var out []Record
	for e := to; ; e-- {
		d, ok, err := load[epochData](ctx, c.env.Storage, EpochDataKey(e))
		if err != nil {
			return nil, err
		}
		if !ok {
			break
		}
		out = append(out, Record{Epoch: e, Value: d.Value})
		if e == from {
			break
		}
	}
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

// Config reads the whole configuration.
func (c *Contract) Config(ctx context.Context) (Config, error) {
	var (
		cfg Config
		err error
	)
	s := c.env.Storage
	if _, err = mustLoad[bool](ctx, s, KeyInitialized.Bytes()); err != nil {
		return Config{}, err
	}
	if cfg.Owner, err = mustLoad[Identity](ctx, s, KeyContractOwner.Bytes()); err != nil {
		return Config{}, err
	}
	if cfg.Relayer, err = mustLoad[Identity](ctx, s, KeyRelayer.Bytes()); err != nil {
		return Config{}, err
	}
	if cfg.EpochDuration, err = mustLoad[uint32](ctx, s, KeyEpochDuration.Bytes()); err != nil {
		return Config{}, err
	}
	if cfg.ContinuityRequirement, err = mustLoad[uint32](ctx, s, KeyContinuityRequirement.Bytes()); err != nil {
		return Config{}, err
	}
	if cfg.Threshold, err = mustLoad[uint32](ctx, s, KeyThreshold.Bytes()); err != nil {
		return Config{}, err
	}
	if cfg.Asset, err = mustLoad[Identity](ctx, s, KeyToken.Bytes()); err != nil {
		return Config{}, err
	}
	if cfg.Recipient, err = mustLoad[Identity](ctx, s, KeyRecipient.Bytes()); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Snapshot reads configuration and streak state in one call.
func (c *Contract) Snapshot(ctx context.Context) (Snapshot, error) {
	cfg, err := c.Config(ctx)
	if err != nil {
		return Snapshot{}, err
	}
	snap := Snapshot{Config: cfg}
	if snap.LatestUpdate, err = c.LastUpdateTime(ctx); err != nil {
		return Snapshot{}, err
	}
	if snap.Continuity, err = c.Continuity(ctx); err != nil {
		return Snapshot{}, err
	}
	if snap.CurrentEpoch, err = EpochAt(c.env.Clock.Now(), cfg.EpochDuration); err != nil {
		return Snapshot{}, err
	}
	return snap, nil
}

// ContractOwner returns the identity allowed to change threshold and requirement.
func (c *Contract) ContractOwner(ctx context.Context) (Identity, error) {
	return mustLoad[Identity](ctx, c.env.Storage, KeyContractOwner.Bytes())
}

// Relayer returns the only identity allowed to report values.
func (c *Contract) Relayer(ctx context.Context) (Identity, error) {
	return mustLoad[Identity](ctx, c.env.Storage, KeyRelayer.Bytes())
}

// Asset returns the escrowed asset.
func (c *Contract) Asset(ctx context.Context) (Identity, error) {
	return mustLoad[Identity](ctx, c.env.Storage, KeyToken.Bytes())
}

// Recipient returns the identity the escrow is released to.
func (c *Contract) Recipient(ctx context.Context) (Identity, error) {
	return mustLoad[Identity](ctx, c.env.Storage, KeyRecipient.Bytes())
}

// Threshold returns the value a report must exceed to extend the streak.
func (c *Contract) Threshold(ctx context.Context) (uint32, error) {
	return mustLoad[uint32](ctx, c.env.Storage, KeyThreshold.Bytes())
}

// ContinuityRequirement returns the streak length that releases the escrow.
func (c *Contract) ContinuityRequirement(ctx context.Context) (uint32, error) {
	return mustLoad[uint32](ctx, c.env.Storage, KeyContinuityRequirement.Bytes())
}

// EpochDuration returns the epoch length in seconds.
func (c *Contract) EpochDuration(ctx context.Context) (uint32, error) {
	return mustLoad[uint32](ctx, c.env.Storage, KeyEpochDuration.Bytes())
}

// LastUpdateTime returns the epoch index of the latest accepted report.
func (c *Contract) LastUpdateTime(ctx context.Context) (uint32, error) {
	return mustLoad[uint32](ctx, c.env.Storage, KeyLatestUpdate.Bytes())
}

// Continuity returns the current streak of consecutive reports above threshold.
func (c *Contract) Continuity(ctx context.Context) (uint32, error) {
	return mustLoad[uint32](ctx, c.env.Storage, KeyContinuity.Bytes())
}

// CurrentEpoch returns the epoch index containing the host's current time.
func (c *Contract) CurrentEpoch(ctx context.Context) (uint32, error) {
	duration, err := c.EpochDuration(ctx)
	if err != nil {
		return 0, err
	}
	return EpochClock{Source: c.env.Clock, Duration: duration}.Current()
}
