package fetcher

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

const aggregatorABIJSON = `[{"inputs":[],"name":"latestAnswer","outputs":[{"internalType":"int256","name":"","type":"int256"}],"stateMutability":"view","type":"function"}]`

var aggregatorABI abi.ABI

func init() {
	parsed, err := abi.JSON(strings.NewReader(aggregatorABIJSON))
	if err != nil {
		panic("failed to parse aggregator ABI: " + err.Error())
	}
	aggregatorABI = parsed
}

// FeedOptions parameterise the on-chain feed fetcher.
type FeedOptions struct {
	RPCURL   string
	Address  string
	Decimals int32
	Timeout  time.Duration
}

// Feed reads the latest answer of an EVM aggregator contract. The feed only
// publishes a rolling value, so it serves the most recently closed window and
// refuses older ones with ErrWindowUnavailable.
type Feed struct {
	opts      FeedOptions
	logger    zerolog.Logger
	now       func() time.Time
	client    *ethclient.Client
	clientMux sync.Mutex
}

// NewFeed builds an on-chain feed fetcher.
func NewFeed(opts FeedOptions, logger zerolog.Logger) *Feed {
	return &Feed{opts: opts, logger: logger.With().Str("component", "feed_fetcher").Logger(), now: time.Now}
}

// servable reports whether [from, to) is closed and no older than one window
// length.
func (f *Feed) servable(from, to time.Time) error {
	now := f.now()
	if now.Before(to) {
		return fmt.Errorf("%w: window ending %s has not closed", ErrWindowUnavailable, to.UTC().Format(time.RFC3339))
	}
	if !now.Before(to.Add(to.Sub(from))) {
		return fmt.Errorf("%w: feed has no history for window ending %s, submit it manually", ErrWindowUnavailable, to.UTC().Format(time.RFC3339))
	}
	return nil
}

// FetchMeasurement implements MeasurementFetcher.
func (f *Feed) FetchMeasurement(ctx context.Context, from, to time.Time) (decimal.Decimal, error) {
	if err := f.servable(from, to); err != nil {
		return decimal.Decimal{}, err
	}
	if f.opts.RPCURL == "" {
		return decimal.Decimal{}, errors.New("feed rpc url not configured")
	}
	if !common.IsHexAddress(f.opts.Address) {
		return decimal.Decimal{}, fmt.Errorf("feed contract address not configured: %q", f.opts.Address)
	}

	timeout := f.opts.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	var cancel context.CancelFunc
	ctx, cancel = context.WithTimeout(ctx, timeout)
	defer cancel()

	client, err := f.getClient(ctx)
	if err != nil {
		return decimal.Decimal{}, err
	}

	addr := common.HexToAddress(f.opts.Address)
	payload, err := aggregatorABI.Pack("latestAnswer")
	if err != nil {
		return decimal.Decimal{}, err
	}

	res, err := client.CallContract(ctx, ethereum.CallMsg{To: &addr, Data: payload}, nil)
	if err != nil {
		return decimal.Decimal{}, err
	}

	answer, err := decodeLatestAnswer(res)
	if err != nil {
		return decimal.Decimal{}, err
	}

	m := decimal.NewFromBigInt(answer, -f.opts.Decimals)
	f.logger.Debug().Str("feed", addr.Hex()).Str("measurement", m.String()).Msg("fetched measurement")
	return m, nil
}

func decodeLatestAnswer(res []byte) (*big.Int, error) {
	outputs, err := aggregatorABI.Unpack("latestAnswer", res)
	if err != nil {
		return nil, err
	}
	if len(outputs) != 1 {
		return nil, errors.New("unexpected latestAnswer response")
	}
	answer, ok := outputs[0].(*big.Int)
	if !ok {
		return nil, errors.New("failed to decode latestAnswer output")
	}
	return answer, nil
}

func (f *Feed) getClient(ctx context.Context) (*ethclient.Client, error) {
	f.clientMux.Lock()
	defer f.clientMux.Unlock()

	if f.client != nil {
		return f.client, nil
	}

	client, err := ethclient.DialContext(ctx, f.opts.RPCURL)
	if err != nil {
		return nil, err
	}
	f.client = client
	return client, nil
}

// Close releases the RPC connection, if one was opened.
func (f *Feed) Close() {
	f.clientMux.Lock()
	defer f.clientMux.Unlock()
	if f.client != nil {
		f.client.Close()
		f.client = nil
	}
}

var _ MeasurementFetcher = (*Feed)(nil)
