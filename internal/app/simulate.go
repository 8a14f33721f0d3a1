package app

import (
	"context"
	"errors"
	"fmt"
	"text/tabwriter"

	"github.com/ethereum/go-ethereum/common"

	"weather-oracle/internal/alerting"
	"weather-oracle/internal/auth"
	"weather-oracle/internal/host"
	"weather-oracle/internal/oracle"
	"weather-oracle/internal/relayer"
	"weather-oracle/internal/storage"
)

// SimulateOptions describe an in-memory replay. Unset fields take the
// reference scenario's values.
type SimulateOptions struct {
	EpochDuration uint32
	Requirement   *uint32
	Threshold     *uint32
	Fund          *uint64
	Values        []uint32
	// Alert sends the configured payout alert when the escrow is released.
	Alert bool
}

func (o *SimulateOptions) applyDefaults() {
	if o.EpochDuration == 0 {
		o.EpochDuration = 86400
	}
	if o.Requirement == nil {
		requirement := uint32(2)
		o.Requirement = &requirement
	}
	if o.Threshold == nil {
		threshold := uint32(10)
		o.Threshold = &threshold
	}
	if o.Fund == nil {
		fund := uint64(1000)
		o.Fund = &fund
	}
	if len(o.Values) == 0 {
		o.Values = []uint32{50, 50}
	}
}

// SimulationStep is the outcome of one simulated report.
type SimulationStep struct {
	Receipt          oracle.Receipt
	Now              uint64
	EscrowBalance    uint64
	RecipientBalance uint64
}

// Simulate deploys a fresh contract on an in-memory host, funds it and
// reports Values for epochs 1, 2, ..., each one epoch after it closed.
func (a *App) Simulate(ctx context.Context, opts SimulateOptions) ([]SimulationStep, error) {
	opts.applyDefaults()

	owner, err := auth.GenerateSigner()
	if err != nil {
		return nil, err
	}
	relayerKey, err := auth.GenerateSigner()
	if err != nil {
		return nil, err
	}
	recipient, err := auth.GenerateSigner()
	if err != nil {
		return nil, err
	}
	contract := common.BytesToAddress([]byte("weather-oracle"))
	asset := common.BytesToAddress([]byte("escrow-asset"))

	clock := host.NewManualClock(0)
	h := host.New(host.Memory(storage.NewMemory()), clock, contract, a.Logger)

	err = invoke(ctx, h, owner, "initialize", nil, func(ctx context.Context, c *oracle.Contract, caller common.Address) error {
		return c.Initialize(ctx, caller, oracle.InitParams{
			Relayer:               relayerKey.Address(),
			EpochDuration:         opts.EpochDuration,
			ContinuityRequirement: *opts.Requirement,
			Threshold:             *opts.Threshold,
			Asset:                 asset,
			Recipient:             recipient.Address(),
		})
	})
	if err != nil {
		return nil, fmt.Errorf("initialize: %w", err)
	}
	if err := h.Mint(ctx, asset, contract, *opts.Fund); err != nil {
		return nil, fmt.Errorf("fund escrow: %w", err)
	}

	var notifier alerting.Notifier = alerting.Discard{}
	if opts.Alert {
		if notifier, err = a.newNotifier(); err != nil {
			return nil, err
		}
	}

	steps := make([]SimulationStep, 0, len(opts.Values))
	for i, value := range opts.Values {
		epoch := uint32(i + 1)
		clock.Set(uint64(epoch+1) * uint64(opts.EpochDuration))

		receipt, err := relayer.Submit(ctx, h, relayerKey, value, epoch)
		if err != nil {
			return steps, fmt.Errorf("report epoch %d: %w", epoch, err)
		}
		step := SimulationStep{Receipt: receipt, Now: clock.Now()}
		if step.EscrowBalance, err = h.Balance(ctx, asset, contract); err != nil {
			return steps, err
		}
		if step.RecipientBalance, err = h.Balance(ctx, asset, recipient.Address()); err != nil {
			return steps, err
		}
		steps = append(steps, step)

		if receipt.Payout > 0 {
			note := alerting.Notification{
				Epoch:       epoch,
				Value:       value,
				Streak:      receipt.Streak,
				Requirement: *opts.Requirement,
				Payout:      receipt.Payout,
				Asset:       asset,
				Recipient:   recipient.Address(),
			}
			if err := notifier.Notify(ctx, note); err != nil {
				return steps, fmt.Errorf("send payout alert: %w", err)
			}
		}
	}

	if err := a.printSteps(steps); err != nil {
		return steps, err
	}
	if len(steps) > 0 && steps[len(steps)-1].RecipientBalance == 0 {
		a.Logger.Info().Msg("escrow not released during simulation")
	}
	return steps, nil
}

func (a *App) printSteps(steps []SimulationStep) error {
	if len(steps) == 0 {
		return errors.New("no simulated reports")
	}
	w := tabwriter.NewWriter(a.Out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "Time\tEpoch\tValue\tStreak\tPayout\tEscrow\tRecipient")
	for _, s := range steps {
		fmt.Fprintf(w, "%d\t%d\t%d\t%d\t%d\t%d\t%d\n",
			s.Now, s.Receipt.Epoch, s.Receipt.Value, s.Receipt.Streak, s.Receipt.Payout, s.EscrowBalance, s.RecipientBalance)
	}
	return w.Flush()
}
