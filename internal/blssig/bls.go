// Package blssig implements BLS12-381 signatures in pure Go on top of
// gnark-crypto: key generation, signing, verification, and signature/key
// aggregation. Tendermint macro-block voting (internal/tendermint) and the
// light-client proof chain (internal/zkp) both build on these primitives.
package blssig

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"math/big"
	"sync"

	bls12381 "github.com/consensys/gnark-crypto/ecc/bls12-381"
	"github.com/consensys/gnark-crypto/ecc/bls12-381/fr"
)

// Domain separation tags, one per signed artifact kind. Distinct from the
// tagged-signing registry in internal/primitives (those cover Ed25519/P-256
// proofs over non-transaction payloads); these cover BLS-specific signing
// in Tendermint and the ZK prover.
const (
	DomainTendermintPrevote   = "ALBATROSS_TENDERMINT_PREVOTE_V1"
	DomainTendermintPrecommit = "ALBATROSS_TENDERMINT_PRECOMMIT_V1"
	DomainTendermintProposal  = "ALBATROSS_TENDERMINT_PROPOSAL_V1"
	DomainMacroBlockHeader    = "ALBATROSS_MACRO_HEADER_V1"
)

const (
	PrivateKeySize = 32
	PublicKeySize  = 96
	SignatureSize  = 48
)

var (
	initOnce sync.Once
	g1Gen    bls12381.G1Affine
	g2Gen    bls12381.G2Affine
)

// Initialize caches the curve generators. Idempotent; callers need not
// guard against repeat calls.
func Initialize() error {
	initOnce.Do(func() {
		_, _, g1, g2 := bls12381.Generators()
		g1Gen = g1
		g2Gen = g2
	})
	return nil
}

// PrivateKey is a BLS12-381 scalar in Fr.
type PrivateKey struct{ scalar fr.Element }

// PublicKey is a point on G2.
type PublicKey struct{ point bls12381.G2Affine }

// Signature is a point on G1.
type Signature struct{ point bls12381.G1Affine }

// GenerateKeyPair draws a fresh key pair from a secure random source.
func GenerateKeyPair() (*PrivateKey, *PublicKey, error) {
	if err := Initialize(); err != nil {
		return nil, nil, err
	}
	var sk fr.Element
	if _, err := sk.SetRandom(); err != nil {
		return nil, nil, fmt.Errorf("blssig: generate random scalar: %w", err)
	}
	priv := &PrivateKey{scalar: sk}
	return priv, priv.PublicKey(), nil
}

// GenerateKeyPairFromSeed deterministically derives a key pair from a seed,
// for tests and key-recovery flows.
func GenerateKeyPairFromSeed(seed []byte) (*PrivateKey, *PublicKey, error) {
	if err := Initialize(); err != nil {
		return nil, nil, err
	}
	if len(seed) < 32 {
		return nil, nil, errors.New("blssig: seed must be at least 32 bytes")
	}
	hash := sha256.Sum256(seed)
	var sk fr.Element
	sk.SetBytes(hash[:])
	priv := &PrivateKey{scalar: sk}
	return priv, priv.PublicKey(), nil
}

func PrivateKeyFromBytes(data []byte) (*PrivateKey, error) {
	if err := Initialize(); err != nil {
		return nil, err
	}
	if len(data) != PrivateKeySize {
		return nil, fmt.Errorf("blssig: invalid private key size: got %d, want %d", len(data), PrivateKeySize)
	}
	var sk fr.Element
	sk.SetBytes(data)
	return &PrivateKey{scalar: sk}, nil
}

func (sk *PrivateKey) Bytes() []byte {
	b := sk.scalar.Bytes()
	return b[:]
}

func (sk *PrivateKey) Hex() string { return hex.EncodeToString(sk.Bytes()) }

// PublicKey derives the G2 public key pk = sk * g2.
func (sk *PrivateKey) PublicKey() *PublicKey {
	var skBig big.Int
	sk.scalar.BigInt(&skBig)
	var pk bls12381.G2Affine
	pk.ScalarMultiplication(&g2Gen, &skBig)
	return &PublicKey{point: pk}
}

// Sign produces sig = sk * H(msg) over G1, without domain separation.
func (sk *PrivateKey) Sign(message []byte) (*Signature, error) {
	if err := Initialize(); err != nil {
		return nil, err
	}
	h := hashToG1(message)
	var skBig big.Int
	sk.scalar.BigInt(&skBig)
	var sig bls12381.G1Affine
	sig.ScalarMultiplication(&h, &skBig)
	return &Signature{point: sig}, nil
}

// SignWithDomain signs H(domain || message) instead of H(message),
// preventing cross-domain signature replay between e.g. prevotes and
// precommits at the same height/round.
func (sk *PrivateKey) SignWithDomain(domain string, message []byte) (*Signature, error) {
	return sk.Sign(computeDomainMessage(domain, message))
}

func PublicKeyFromBytes(data []byte) (*PublicKey, error) {
	if err := Initialize(); err != nil {
		return nil, err
	}
	if len(data) != PublicKeySize {
		return nil, fmt.Errorf("blssig: invalid public key size: got %d, want %d", len(data), PublicKeySize)
	}
	var pk bls12381.G2Affine
	if _, err := pk.SetBytes(data); err != nil {
		return nil, fmt.Errorf("blssig: invalid public key encoding: %w", err)
	}
	return &PublicKey{point: pk}, nil
}

func (pk *PublicKey) Bytes() []byte {
	b := pk.point.Bytes()
	return b[:]
}

func (pk *PublicKey) Hex() string { return hex.EncodeToString(pk.Bytes()) }

// Verify checks sig against message using the pairing equality
// e(sig, g2) == e(H(message), pk).
func (pk *PublicKey) Verify(sig *Signature, message []byte) bool {
	if err := Initialize(); err != nil {
		return false
	}
	h := hashToG1(message)
	var negPk bls12381.G2Affine
	negPk.Neg(&pk.point)
	ok, err := bls12381.PairingCheck(
		[]bls12381.G1Affine{sig.point, h},
		[]bls12381.G2Affine{g2Gen, negPk},
	)
	return err == nil && ok
}

// VerifyWithDomain checks a domain-separated signature produced by
// SignWithDomain.
func (pk *PublicKey) VerifyWithDomain(sig *Signature, domain string, message []byte) bool {
	return pk.Verify(sig, computeDomainMessage(domain, message))
}

func SignatureFromBytes(data []byte) (*Signature, error) {
	if err := Initialize(); err != nil {
		return nil, err
	}
	if len(data) != SignatureSize {
		return nil, fmt.Errorf("blssig: invalid signature size: got %d, want %d", len(data), SignatureSize)
	}
	var sig bls12381.G1Affine
	if _, err := sig.SetBytes(data); err != nil {
		return nil, fmt.Errorf("blssig: invalid signature encoding: %w", err)
	}
	return &Signature{point: sig}, nil
}

func (sig *Signature) Bytes() []byte {
	b := sig.point.Bytes()
	return b[:]
}

func (sig *Signature) Hex() string { return hex.EncodeToString(sig.Bytes()) }

// AggregateSignatures sums signatures on G1 (Jacobian coordinates for
// efficiency). Used to fold a Tendermint commit's individual BLS
// signatures into the single aggregate carried on the macro block header.
func AggregateSignatures(signatures []*Signature) (*Signature, error) {
	if err := Initialize(); err != nil {
		return nil, err
	}
	if len(signatures) == 0 {
		return nil, errors.New("blssig: no signatures to aggregate")
	}
	var acc bls12381.G1Jac
	acc.FromAffine(&signatures[0].point)
	for _, s := range signatures[1:] {
		var jac bls12381.G1Jac
		jac.FromAffine(&s.point)
		acc.AddAssign(&jac)
	}
	var result bls12381.G1Affine
	result.FromJacobian(&acc)
	return &Signature{point: result}, nil
}

// AggregatePublicKeys sums public keys on G2.
func AggregatePublicKeys(publicKeys []*PublicKey) (*PublicKey, error) {
	if err := Initialize(); err != nil {
		return nil, err
	}
	if len(publicKeys) == 0 {
		return nil, errors.New("blssig: no public keys to aggregate")
	}
	var acc bls12381.G2Jac
	acc.FromAffine(&publicKeys[0].point)
	for _, pk := range publicKeys[1:] {
		var jac bls12381.G2Jac
		jac.FromAffine(&pk.point)
		acc.AddAssign(&jac)
	}
	var result bls12381.G2Affine
	result.FromJacobian(&acc)
	return &PublicKey{point: result}, nil
}

// VerifyAggregateSignature verifies an aggregate signature against the set
// of public keys whose signatures were folded into it. All signers must
// have signed the same message.
func VerifyAggregateSignature(aggSig *Signature, publicKeys []*PublicKey, message []byte) bool {
	if len(publicKeys) == 0 {
		return false
	}
	aggPk, err := AggregatePublicKeys(publicKeys)
	if err != nil {
		return false
	}
	return aggPk.Verify(aggSig, message)
}

// VerifyAggregateSignatureWithDomain is VerifyAggregateSignature over a
// domain-separated message.
func VerifyAggregateSignatureWithDomain(aggSig *Signature, publicKeys []*PublicKey, domain string, message []byte) bool {
	return VerifyAggregateSignature(aggSig, publicKeys, computeDomainMessage(domain, message))
}

// hashToG1 deterministically maps a message to a point on G1 ("hash and
// pray": hash, try to decode as a point, else hash-to-scalar and multiply
// the generator).
func hashToG1(message []byte) bls12381.G1Affine {
	h := sha256.New()
	h.Write([]byte("ALBATROSS_BLS_SIG_BLS12381G1_XMD_SHA256_SSWU_RO_"))
	h.Write(message)

	var counter uint64
	for {
		h2 := sha256.New()
		h2.Write(h.Sum(nil))
		binary.Write(h2, binary.BigEndian, counter)
		hash := h2.Sum(nil)

		var point bls12381.G1Affine
		if _, err := point.SetBytes(hash); err == nil && !point.IsInfinity() {
			return point
		}

		var scalar fr.Element
		scalar.SetBytes(hash)
		var scalarBig big.Int
		scalar.BigInt(&scalarBig)

		var result bls12381.G1Affine
		result.ScalarMultiplication(&g1Gen, &scalarBig)
		if !result.IsInfinity() {
			return result
		}

		counter++
		if counter > 1000 {
			return g1Gen
		}
	}
}

func computeDomainMessage(domain string, message []byte) []byte {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write(message)
	return h.Sum(nil)
}

// GenerateRandomBytes reads n cryptographically secure random bytes.
func GenerateRandomBytes(n int) ([]byte, error) {
	b := make([]byte, n)
	if _, err := io.ReadFull(rand.Reader, b); err != nil {
		return nil, err
	}
	return b, nil
}

// ValidatePublicKeySubgroup rejects public keys that don't decode, aren't
// on the curve, are the identity, or aren't in the correct G2 subgroup —
// the last check matters for resistance to rogue-key attacks during
// aggregation.
func ValidatePublicKeySubgroup(data []byte) error {
	if err := Initialize(); err != nil {
		return err
	}
	if len(data) != PublicKeySize {
		return fmt.Errorf("blssig: invalid public key size: got %d, want %d", len(data), PublicKeySize)
	}
	var pk bls12381.G2Affine
	if _, err := pk.SetBytes(data); err != nil {
		return fmt.Errorf("blssig: invalid public key encoding: %w", err)
	}
	if !pk.IsOnCurve() {
		return errors.New("blssig: public key not on BLS12-381 G2 curve")
	}
	if pk.IsInfinity() {
		return errors.New("blssig: public key is the identity point")
	}
	if !pk.IsInSubGroup() {
		return errors.New("blssig: public key not in the correct G2 subgroup")
	}
	return nil
}

// ValidateSignatureSubgroup is ValidatePublicKeySubgroup's G1 counterpart.
func ValidateSignatureSubgroup(data []byte) error {
	if err := Initialize(); err != nil {
		return err
	}
	if len(data) != SignatureSize {
		return fmt.Errorf("blssig: invalid signature size: got %d, want %d", len(data), SignatureSize)
	}
	var sig bls12381.G1Affine
	if _, err := sig.SetBytes(data); err != nil {
		return fmt.Errorf("blssig: invalid signature encoding: %w", err)
	}
	if !sig.IsOnCurve() {
		return errors.New("blssig: signature not on BLS12-381 G1 curve")
	}
	if sig.IsInfinity() {
		return errors.New("blssig: signature is the identity point")
	}
	if !sig.IsInSubGroup() {
		return errors.New("blssig: signature not in the correct G1 subgroup")
	}
	return nil
}
