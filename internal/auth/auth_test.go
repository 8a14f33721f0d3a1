package auth

import (
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"
)

// Well-known development key (go-ethereum test fixtures).
const devKey = "b71c71a67e1177ad4e901695e1b4b9ee17ae16c6668d313eac2f96dbcda3f291"

func TestParseKey(t *testing.T) {
	s, err := ParseKey("0x" + devKey)
	require.NoError(t, err)
	require.Equal(t, common.HexToAddress("0x71562b71999873DB5b286dF957af199Ec94617F7"), s.Address())

	_, err = ParseKey("not-a-key")
	require.Error(t, err)
}

func TestSignAndVerify(t *testing.T) {
	s, err := GenerateSigner()
	require.NoError(t, err)
	other, err := GenerateSigner()
	require.NoError(t, err)

	call := Call{Contract: common.HexToAddress("0x01"), Method: "set_value", Args: []uint64{50, 1}, Issued: 1700000000}
	req, err := s.Sign(call)
	require.NoError(t, err)

	w, err := Verify(req)
	require.NoError(t, err)
	require.True(t, w.Authorize(s.Address()))
	require.False(t, w.Authorize(other.Address()))
	signer, ok := w.Signer()
	require.True(t, ok)
	require.Equal(t, s.Address(), signer)
}

func TestVerifyRejectsTampering(t *testing.T) {
	s, err := GenerateSigner()
	require.NoError(t, err)
	other, err := GenerateSigner()
	require.NoError(t, err)

	req, err := s.Sign(Call{Method: "set_value", Args: []uint64{50, 1}})
	require.NoError(t, err)

	// Claiming someone else's identity.
	forged := *req
	forged.Caller = other.Address()
	_, err = Verify(&forged)
	require.ErrorIs(t, err, ErrSignerMismatch)

	// Changing the signed arguments recovers a different key.
	altered := *req
	altered.Call.Args = []uint64{51, 1}
	_, err = Verify(&altered)
	require.Error(t, err)

	broken := *req
	broken.Signature = []byte{1, 2, 3}
	_, err = Verify(&broken)
	require.ErrorIs(t, err, ErrBadSignature)
}

func TestAnonymous(t *testing.T) {
	w, err := Verify(nil)
	require.NoError(t, err)
	require.False(t, w.Authorize(common.Address{}))
	_, ok := w.Signer()
	require.False(t, ok)
}
