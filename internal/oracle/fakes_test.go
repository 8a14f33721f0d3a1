package oracle

import (
	"context"
	"errors"

	"github.com/ethereum/go-ethereum/common"
)

type mapStorage map[string][]byte

func (m mapStorage) Get(_ context.Context, key []byte) ([]byte, bool, error) {
	v, ok := m[string(key)]
	return v, ok, nil
}

func (m mapStorage) Set(_ context.Context, key, value []byte) error {
	m[string(key)] = append([]byte(nil), value...)
	return nil
}

func (m mapStorage) Has(_ context.Context, key []byte) (bool, error) {
	_, ok := m[string(key)]
	return ok, nil
}

func (m mapStorage) clone() mapStorage {
	out := make(mapStorage, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

type signers map[Identity]bool

func (s signers) Authorize(id Identity) bool { return s[id] }

type manualTime struct{ now uint64 }

func (m *manualTime) Now() uint64 { return m.now }

var errLedgerDown = errors.New("ledger unavailable")

type fakeLedger struct {
	balances map[Identity]uint64
	fail     bool
	calls    int
}

func newFakeLedger() *fakeLedger {
	return &fakeLedger{balances: map[Identity]uint64{}}
}

func (l *fakeLedger) Balance(_ context.Context, _, holder Identity) (uint64, error) {
	return l.balances[holder], nil
}

func (l *fakeLedger) Transfer(_ context.Context, _, from, to Identity, amount uint64) error {
	l.calls++
	if l.fail {
		return errLedgerDown
	}
	if l.balances[from] < amount {
		return errors.New("insufficient funds")
	}
	l.balances[from] -= amount
	l.balances[to] += amount
	return nil
}

const day = 24 * 60 * 60

var (
	owner     = common.HexToAddress("0x00000000000000000000000000000000000000a1")
	relayer   = common.HexToAddress("0x00000000000000000000000000000000000000b2")
	recipient = common.HexToAddress("0x00000000000000000000000000000000000000c3")
	asset     = common.HexToAddress("0x00000000000000000000000000000000000000d4")
	self      = common.HexToAddress("0x00000000000000000000000000000000000000e5")
	stranger  = common.HexToAddress("0x00000000000000000000000000000000000000f6")
)

type fixture struct {
	storage mapStorage
	clock   *manualTime
	ledger  *fakeLedger
	auth    signers
}

func newFixture() *fixture {
	return &fixture{
		storage: mapStorage{},
		clock:   &manualTime{},
		ledger:  newFakeLedger(),
		auth:    signers{owner: true, relayer: true, stranger: true},
	}
}

func (f *fixture) contract() *Contract {
	return New(Env{Storage: f.storage, Auth: f.auth, Clock: f.clock, Ledger: f.ledger, Self: self})
}

func defaultParams() InitParams {
	return InitParams{
		Relayer:               relayer,
		EpochDuration:         day,
		ContinuityRequirement: 2,
		Threshold:             10,
		Asset:                 asset,
		Recipient:             recipient,
	}
}
