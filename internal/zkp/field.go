// Package zkp implements the recursive light-client proof chain: pk-tree,
// macro-block, macro-block-wrapper, merger, and merger-wrapper Groth16
// circuits over BN254, chained by MiMC commitments instead of the
// MNT4-753/MNT6-753 curve cycle the original protocol uses (gnark-crypto
// has no implementation of that cycle — see DESIGN.md's resolved Open
// Question). Recursion itself is approximated the same way the teacher's
// pkg/crypto/bls_zkp avoids an in-circuit pairing check: each wrapper/
// merger stage re-commits its predecessor's public output rather than
// verifying a nested Groth16 proof natively in-circuit.
package zkp

import (
	"math/big"

	bn254fr "github.com/consensys/gnark-crypto/ecc/bn254/fr"
	mimchash "github.com/consensys/gnark-crypto/ecc/bn254/fr/mimc"

	"github.com/albatross-go/node/internal/primitives"
)

// fieldModulus is BN254's scalar field order, used to reduce values (hashes,
// serialized curve coordinates) that may exceed it before they're used as
// circuit witnesses.
var fieldModulus = bn254fr.Modulus()

// fieldElement reduces an arbitrary byte string into a value in [0,
// fieldModulus), for use as a frontend.Variable witness.
func fieldElement(b []byte) *big.Int {
	v := new(big.Int).SetBytes(b)
	return v.Mod(v, fieldModulus)
}

// hashToField reduces an internal/primitives.Hash into a field element.
func hashToField(h primitives.Hash) *big.Int {
	return fieldElement(h[:])
}

// mimcCommit computes the off-circuit MiMC hash of a sequence of field
// elements, matching the in-circuit accumulation the corresponding circuit's
// Define method performs: each element is padded to 32 bytes and written to
// a single MiMC sponge before Sum.
func mimcCommit(elements ...*big.Int) *big.Int {
	h := mimchash.NewMiMC()
	for _, e := range elements {
		var buf [32]byte
		e.FillBytes(buf[:])
		h.Write(buf[:])
	}
	return fieldElement(h.Sum(nil))
}

// mimcFold folds a single new element into a running accumulator, used for
// the pk-tree's sequential commitment chain (leaf[0], then leaf[1], ...).
func mimcFold(acc, next *big.Int) *big.Int {
	return mimcCommit(acc, next)
}
