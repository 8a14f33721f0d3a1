package app

import (
	"context"
	"errors"
	"fmt"
	"text/tabwriter"

	"github.com/ethereum/go-ethereum/common"

	"weather-oracle/internal/auth"
	"weather-oracle/internal/host"
	"weather-oracle/internal/oracle"
	"weather-oracle/internal/relayer"
)

// invoke signs method with signer and runs fn as one invocation.
func invoke(ctx context.Context, h *host.Host, signer *auth.Signer, method string, args []uint64, fn func(ctx context.Context, c *oracle.Contract, caller common.Address) error) error {
	req, err := signer.Sign(auth.Call{Contract: h.Contract(), Method: method, Args: args, Issued: h.Now()})
	if err != nil {
		return err
	}
	return h.Invoke(ctx, req, method, args, func(ctx context.Context, c *oracle.Contract) error {
		return fn(ctx, c, req.Caller)
	})
}

func parseIdentity(name, hex string) (common.Address, error) {
	if !common.IsHexAddress(hex) {
		return common.Address{}, fmt.Errorf("%s is not a hex address: %q", name, hex)
	}
	return common.HexToAddress(hex), nil
}

// Initialize deploys the configured parameters. The owner key becomes the
// contract owner.
func (a *App) Initialize(ctx context.Context) error {
	owner, err := a.ownerSigner()
	if err != nil {
		return err
	}
	oc := a.Config.Oracle
	params := oracle.InitParams{
		EpochDuration:         oc.EpochSeconds(),
		ContinuityRequirement: oc.ContinuityRequirement,
		Threshold:             oc.Threshold,
	}
	if params.Relayer, err = parseIdentity("oracle.relayer", oc.Relayer); err != nil {
		return err
	}
	if params.Asset, err = parseIdentity("oracle.asset", oc.Asset); err != nil {
		return err
	}
	if params.Recipient, err = parseIdentity("oracle.recipient", oc.Recipient); err != nil {
		return err
	}

	h, closeHost, err := a.openHost(ctx)
	if err != nil {
		return err
	}
	defer closeHost()

	err = invoke(ctx, h, owner, "initialize", nil, func(ctx context.Context, c *oracle.Contract, caller common.Address) error {
		return c.Initialize(ctx, caller, params)
	})
	if err != nil {
		return err
	}
	a.Logger.Info().Str("owner", owner.Address().Hex()).Str("relayer", params.Relayer.Hex()).Msg("oracle initialized")
	fmt.Fprintf(a.Out, "initialized contract %s (owner %s)\n", h.Contract().Hex(), owner.Address().Hex())
	return nil
}

// SetThreshold replaces the threshold, signed by the owner key.
func (a *App) SetThreshold(ctx context.Context, threshold uint32) error {
	return a.ownerCall(ctx, "set_threshold", threshold, func(ctx context.Context, c *oracle.Contract, caller common.Address) error {
		return c.SetThreshold(ctx, caller, threshold)
	})
}

// SetContinuityRequirement replaces the streak requirement, signed by the owner key.
func (a *App) SetContinuityRequirement(ctx context.Context, requirement uint32) error {
	return a.ownerCall(ctx, "set_continuity_requirement", requirement, func(ctx context.Context, c *oracle.Contract, caller common.Address) error {
		return c.SetContinuityRequirement(ctx, caller, requirement)
	})
}

func (a *App) ownerCall(ctx context.Context, method string, value uint32, fn func(ctx context.Context, c *oracle.Contract, caller common.Address) error) error {
	owner, err := a.ownerSigner()
	if err != nil {
		return err
	}
	h, closeHost, err := a.openHost(ctx)
	if err != nil {
		return err
	}
	defer closeHost()

	if err := invoke(ctx, h, owner, method, []uint64{uint64(value)}, fn); err != nil {
		return err
	}
	fmt.Fprintf(a.Out, "%s: %d\n", method, value)
	return nil
}

// Submit reports value for epoch with the relayer key.
func (a *App) Submit(ctx context.Context, value, epoch uint32) error {
	signer, err := a.relayerSigner()
	if err != nil {
		return err
	}
	h, closeHost, err := a.openHost(ctx)
	if err != nil {
		return err
	}
	defer closeHost()

	receipt, err := relayer.Submit(ctx, h, signer, value, epoch)
	if err != nil {
		return err
	}
	fmt.Fprintf(a.Out, "epoch %d value %d accepted, streak %d, payout %d\n", receipt.Epoch, receipt.Value, receipt.Streak, receipt.Payout)
	return nil
}

// Fund mints amount of the configured asset to holder, the contract itself
// when holder is empty.
func (a *App) Fund(ctx context.Context, amount uint64, holder string) error {
	if amount == 0 {
		return errors.New("amount must be greater than zero")
	}
	asset, err := parseIdentity("oracle.asset", a.Config.Oracle.Asset)
	if err != nil {
		return err
	}

	h, closeHost, err := a.openHost(ctx)
	if err != nil {
		return err
	}
	defer closeHost()

	to := h.Contract()
	if holder != "" {
		if to, err = parseIdentity("--holder", holder); err != nil {
			return err
		}
	}
	if err := h.Mint(ctx, asset, to, amount); err != nil {
		return err
	}
	balance, err := h.Balance(ctx, asset, to)
	if err != nil {
		return err
	}
	fmt.Fprintf(a.Out, "funded %s with %d, balance %d\n", to.Hex(), amount, balance)
	return nil
}

// Status prints every accessor and the escrow balances.
func (a *App) Status(ctx context.Context) error {
	h, closeHost, err := a.openHost(ctx)
	if err != nil {
		return err
	}
	defer closeHost()

	var snap oracle.Snapshot
	err = h.Query(ctx, func(ctx context.Context, c *oracle.Contract) error {
		var err error
		snap, err = c.Snapshot(ctx)
		return err
	})
	if err != nil {
		return err
	}
	escrow, err := h.Balance(ctx, snap.Asset, h.Contract())
	if err != nil {
		return err
	}
	paid, err := h.Balance(ctx, snap.Asset, snap.Recipient)
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(a.Out, 0, 4, 2, ' ', 0)
	rows := [][2]string{
		{"Contract", h.Contract().Hex()},
		{"Owner", snap.Owner.Hex()},
		{"Relayer", snap.Relayer.Hex()},
		{"Asset", snap.Asset.Hex()},
		{"Recipient", snap.Recipient.Hex()},
		{"Epoch duration", fmt.Sprintf("%ds", snap.EpochDuration)},
		{"Threshold", fmt.Sprint(snap.Threshold)},
		{"Continuity requirement", fmt.Sprint(snap.ContinuityRequirement)},
		{"Continuity", fmt.Sprint(snap.Continuity)},
		{"Latest epoch", fmt.Sprint(snap.LatestUpdate)},
		{"Current epoch", fmt.Sprint(snap.CurrentEpoch)},
		{"Escrow balance", fmt.Sprint(escrow)},
		{"Recipient balance", fmt.Sprint(paid)},
	}
	for _, r := range rows {
		fmt.Fprintf(w, "%s\t%s\n", r[0], r[1])
	}
	return w.Flush()
}
