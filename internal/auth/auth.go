// Package auth authenticates contract invocations with secp256k1 signatures.
//
// A caller signs the Keccak-256 hash of the RLP-encoded Call. The host
// verifies the signature before running the invocation and hands the
// resulting Witness to the contract, which then decides whether the
// authenticated identity also holds the role the operation needs.
package auth

import (
	"crypto/ecdsa"
	"errors"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rlp"
)

var (
	// ErrBadSignature means the signature could not be recovered.
	ErrBadSignature = errors.New("auth: malformed signature")
	// ErrSignerMismatch means the signature was made by a key other than the claimed caller.
	ErrSignerMismatch = errors.New("auth: signer does not match caller")
)

// Call is the signed part of a request.
type Call struct {
	Contract common.Address
	Method   string
	Args     []uint64
	// Issued is the unix time the caller built the call.
	Issued uint64
}

// Digest returns the hash that is signed.
func (c Call) Digest() ([]byte, error) {
	enc, err := rlp.EncodeToBytes(c)
	if err != nil {
		return nil, fmt.Errorf("encode call: %w", err)
	}
	return crypto.Keccak256(enc), nil
}

// Request is a signed call.
type Request struct {
	Caller    common.Address
	Call      Call
	Signature []byte
}

// Signer holds a private key.
type Signer struct {
	key  *ecdsa.PrivateKey
	addr common.Address
}

// NewSigner wraps key.
func NewSigner(key *ecdsa.PrivateKey) *Signer {
	return &Signer{key: key, addr: crypto.PubkeyToAddress(key.PublicKey)}
}

// ParseKey builds a signer from a hex private key, with or without 0x.
func ParseKey(hexKey string) (*Signer, error) {
	key, err := crypto.HexToECDSA(strings.TrimPrefix(strings.TrimSpace(hexKey), "0x"))
	if err != nil {
		return nil, fmt.Errorf("parse private key: %w", err)
	}
	return NewSigner(key), nil
}

// GenerateSigner creates a signer with a fresh random key.
func GenerateSigner() (*Signer, error) {
	key, err := crypto.GenerateKey()
	if err != nil {
		return nil, fmt.Errorf("generate key: %w", err)
	}
	return NewSigner(key), nil
}

// Address returns the identity the signer authenticates as.
func (s *Signer) Address() common.Address {
	return s.addr
}

// Sign produces a request for call.
func (s *Signer) Sign(call Call) (*Request, error) {
	digest, err := call.Digest()
	if err != nil {
		return nil, err
	}
	sig, err := crypto.Sign(digest, s.key)
	if err != nil {
		return nil, fmt.Errorf("sign call: %w", err)
	}
	return &Request{Caller: s.addr, Call: call, Signature: sig}, nil
}

// Witness records which identity, if any, authenticated an invocation.
type Witness struct {
	signer common.Address
	ok     bool
}

// Anonymous is the witness of an unsigned invocation.
func Anonymous() Witness {
	return Witness{}
}

// Authorize reports whether id signed the invocation.
func (w Witness) Authorize(id common.Address) bool {
	return w.ok && w.signer == id
}

// Signer returns the authenticated identity.
func (w Witness) Signer() (common.Address, bool) {
	return w.signer, w.ok
}

// Verify checks req's signature. A nil request yields the anonymous witness.
func Verify(req *Request) (Witness, error) {
	if req == nil {
		return Anonymous(), nil
	}
	digest, err := req.Call.Digest()
	if err != nil {
		return Witness{}, err
	}
	pub, err := crypto.SigToPub(digest, req.Signature)
	if err != nil {
		return Witness{}, fmt.Errorf("%w: %v", ErrBadSignature, err)
	}
	if crypto.PubkeyToAddress(*pub) != req.Caller {
		return Witness{}, ErrSignerMismatch
	}
	return Witness{signer: req.Caller, ok: true}, nil
}
