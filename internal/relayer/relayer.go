// Package relayer reports measurements to the oracle contract.
//
// On every tick the service catches up on all fully elapsed epochs that have
// not been reported yet, oldest first. Each report is a separate signed
// invocation, so a failure leaves every earlier report committed and the next
// tick resumes from the first missing epoch.
package relayer

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"weather-oracle/internal/alerting"
	"weather-oracle/internal/auth"
	"weather-oracle/internal/config"
	"weather-oracle/internal/fetcher"
	"weather-oracle/internal/host"
	"weather-oracle/internal/oracle"
	"weather-oracle/internal/scheduler"
	"weather-oracle/internal/storage"
)

// ErrNotRelayer means the configured key is not the contract's relayer.
var ErrNotRelayer = errors.New("relayer: signing key is not the contract relayer")

// Submit signs and submits one set_value invocation.
func Submit(ctx context.Context, h *host.Host, signer *auth.Signer, value, epoch uint32) (oracle.Receipt, error) {
	args := []uint64{uint64(value), uint64(epoch)}
	req, err := signer.Sign(auth.Call{
		Contract: h.Contract(),
		Method:   "set_value",
		Args:     args,
		Issued:   h.Now(),
	})
	if err != nil {
		return oracle.Receipt{}, err
	}

	var receipt oracle.Receipt
	err = h.Invoke(ctx, req, "set_value", args, func(ctx context.Context, c *oracle.Contract) error {
		var err error
		receipt, err = c.SetValue(ctx, req.Caller, value, epoch)
		return err
	})
	return receipt, err
}

// Service orchestrates fetching, submission and alerting.
type Service struct {
	scheduler *scheduler.Scheduler
	host      *host.Host
	source    fetcher.MeasurementFetcher
	signer    *auth.Signer
	notifier  alerting.Notifier
	logger    zerolog.Logger

	scale      float64
	maxReports int
	locker     storage.AdvisoryLocker
	lockKey    int64
}

// New constructs the relayer service. locker may be nil.
func New(cfg *config.Config, sched *scheduler.Scheduler, h *host.Host, source fetcher.MeasurementFetcher, signer *auth.Signer, notifier alerting.Notifier, locker storage.AdvisoryLocker, logger zerolog.Logger) *Service {
	if notifier == nil {
		notifier = alerting.Discard{}
	}
	maxReports := cfg.Scheduler.MaxReportsPerTick
	if maxReports <= 0 {
		maxReports = 1
	}
	return &Service{
		scheduler:  sched,
		host:       h,
		source:     source,
		signer:     signer,
		notifier:   notifier,
		logger:     logger.With().Str("component", "relayer").Str("relayer", signer.Address().Hex()).Logger(),
		scale:      cfg.Source.Scale,
		maxReports: maxReports,
		locker:     locker,
		lockKey:    cfg.Scheduler.AdvisoryLockKey,
	}
}

// Run begins the epoch-aligned reporting loop.
func (s *Service) Run(ctx context.Context) error {
	if s.scheduler == nil {
		return fmt.Errorf("scheduler not configured")
	}
	return s.scheduler.Run(ctx, func(ctx context.Context, at time.Time) error {
		_, err := s.ProcessTick(ctx, at)
		return err
	})
}

// ProcessTick reports every pending epoch, up to the per-tick limit, and
// returns the accepted receipts.
func (s *Service) ProcessTick(ctx context.Context, at time.Time) ([]oracle.Receipt, error) {
	unlock, proceed, err := s.acquireLock(ctx)
	if err != nil {
		return nil, err
	}
	if !proceed {
		s.logger.Debug().Time("at", at).Msg("skip tick because advisory lock held elsewhere")
		return nil, nil
	}
	if unlock != nil {
		defer unlock()
	}

	return s.catchUp(ctx)
}

// Planned is a report the service would submit.
type Planned struct {
	Epoch       uint32
	From, To    time.Time
	Measurement decimal.Decimal
	Value       uint32
}

// Preview fetches and converts the pending epochs without submitting them.
func (s *Service) Preview(ctx context.Context) ([]Planned, error) {
	snap, err := s.snapshot(ctx)
	if err != nil {
		return nil, err
	}
	var plans []Planned
	for _, epoch := range s.pending(snap) {
		p, err := s.plan(ctx, snap, epoch)
		if err != nil {
			return plans, err
		}
		plans = append(plans, p)
	}
	return plans, nil
}

func (s *Service) snapshot(ctx context.Context) (oracle.Snapshot, error) {
	var snap oracle.Snapshot
	err := s.host.Query(ctx, func(ctx context.Context, c *oracle.Contract) error {
		var err error
		snap, err = c.Snapshot(ctx)
		return err
	})
	if err != nil {
		return oracle.Snapshot{}, fmt.Errorf("read oracle state: %w", err)
	}
	if snap.Relayer != s.signer.Address() {
		return oracle.Snapshot{}, fmt.Errorf("%w: contract expects %s", ErrNotRelayer, snap.Relayer.Hex())
	}
	return snap, nil
}

// pending lists the unreported, fully elapsed epochs, oldest first, capped at
// the per-tick limit.
func (s *Service) pending(snap oracle.Snapshot) []uint32 {
	if snap.LatestUpdate == math.MaxUint32 || snap.LatestUpdate+1 >= snap.CurrentEpoch {
		s.logger.Debug().Uint32("latest", snap.LatestUpdate).Uint32("current", snap.CurrentEpoch).Msg("nothing to report")
		return nil
	}
	total := snap.CurrentEpoch - snap.LatestUpdate - 1
	n := total
	if n > uint32(s.maxReports) {
		n = uint32(s.maxReports)
		s.logger.Warn().Uint32("pending", total).Int("limit", s.maxReports).Msg("report limit reached, continuing next tick")
	}
	epochs := make([]uint32, 0, n)
	for i := uint32(1); i <= n; i++ {
		epochs = append(epochs, snap.LatestUpdate+i)
	}
	return epochs
}

func (s *Service) catchUp(ctx context.Context) ([]oracle.Receipt, error) {
	snap, err := s.snapshot(ctx)
	if err != nil {
		return nil, err
	}

	var receipts []oracle.Receipt
	for _, epoch := range s.pending(snap) {
		receipt, err := s.report(ctx, snap, epoch)
		if err != nil {
			return receipts, err
		}
		receipts = append(receipts, receipt)
	}
	return receipts, nil
}

func (s *Service) plan(ctx context.Context, snap oracle.Snapshot, epoch uint32) (Planned, error) {
	start, end := oracle.EpochWindow(epoch, snap.EpochDuration)
	p := Planned{
		Epoch: epoch,
		From:  time.Unix(int64(start), 0).UTC(),
		To:    time.Unix(int64(end), 0).UTC(),
	}

	m, err := s.source.FetchMeasurement(ctx, p.From, p.To)
	if err != nil {
		return p, fmt.Errorf("fetch measurement for epoch %d: %w", epoch, err)
	}
	value, err := fetcher.ToValue(m, s.scale)
	if err != nil {
		return p, fmt.Errorf("convert measurement for epoch %d: %w", epoch, err)
	}
	p.Measurement, p.Value = m, value
	return p, nil
}

func (s *Service) report(ctx context.Context, snap oracle.Snapshot, epoch uint32) (oracle.Receipt, error) {
	p, err := s.plan(ctx, snap, epoch)
	if err != nil {
		return oracle.Receipt{}, err
	}
	value := p.Value

	receipt, err := Submit(ctx, s.host, s.signer, value, epoch)
	if err != nil {
		return oracle.Receipt{}, fmt.Errorf("submit epoch %d: %w", epoch, err)
	}

	s.logger.Info().
		Uint32("epoch", epoch).
		Str("measurement", p.Measurement.String()).
		Uint32("value", value).
		Uint32("streak", receipt.Streak).
		Uint64("payout", receipt.Payout).
		Msg("report accepted")

	if receipt.Payout > 0 {
		note := alerting.Notification{
			Epoch:       epoch,
			Value:       value,
			Streak:      receipt.Streak,
			Requirement: snap.ContinuityRequirement,
			Payout:      receipt.Payout,
			Asset:       snap.Asset,
			Recipient:   snap.Recipient,
			At:          time.Now().UTC(),
		}
		if err := s.notifier.Notify(ctx, note); err != nil {
			s.logger.Error().Err(err).Uint32("epoch", epoch).Msg("failed to dispatch payout alert")
		}
	}
	return receipt, nil
}

func (s *Service) acquireLock(ctx context.Context) (func(), bool, error) {
	if s.lockKey == 0 || s.locker == nil {
		return nil, true, nil
	}
	unlock, acquired, err := s.locker.TryAdvisoryLock(ctx, s.lockKey)
	if err != nil {
		return nil, false, fmt.Errorf("acquire advisory lock: %w", err)
	}
	if !acquired {
		return nil, false, nil
	}
	return unlock, true, nil
}
