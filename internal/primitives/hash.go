// Package primitives implements the wire-level building blocks shared by
// every higher component: hashes, addresses, coin amounts, the Basic/
// Extended transaction formats and their signature proofs, and the
// domain-tagged signing scheme used for non-transaction payloads.
package primitives

import (
	"encoding/hex"
	"fmt"

	"golang.org/x/crypto/blake2b"
)

// HashSize is the width, in bytes, of every hash in this chain: block
// hashes, transaction hashes, and MMR node hashes alike.
const HashSize = 32

// Hash is a Blake2b-256 digest.
type Hash [HashSize]byte

// ComputeHash returns the Blake2b-256 digest of data.
func ComputeHash(data []byte) Hash {
	return ComputeTaggedHash(nil, data)
}

// ComputeTaggedHash hashes tag||data under Blake2b-256, with tag folded
// into the hash input rather than the key, so a nil tag degrades to a
// plain hash. Used to domain-separate MMR leaf/internal/peak-bag nodes
// (internal/mmr) and historic-transaction hashing (internal/history) so
// that, e.g., a leaf and an internal node with the same byte content never
// collide.
func ComputeTaggedHash(tag []byte, data []byte) Hash {
	h, err := blake2b.New256(nil)
	if err != nil {
		// blake2b.New256 only fails for an over-long key, which we never
		// pass; this would indicate a library contract violation.
		panic(fmt.Sprintf("primitives: blake2b.New256: %v", err))
	}
	if len(tag) > 0 {
		h.Write(tag)
	}
	h.Write(data)
	var out Hash
	copy(out[:], h.Sum(nil))
	return out
}

// CombineHashes hashes the concatenation of two child hashes, used to build
// the multisig Merkle path nodes EdDSASignatureProof walks (internal/mmr
// uses its own domain-tagged node hash instead).
func CombineHashes(left, right Hash) Hash {
	buf := make([]byte, 0, 2*HashSize)
	buf = append(buf, left[:]...)
	buf = append(buf, right[:]...)
	return ComputeHash(buf)
}

func (h Hash) Bytes() []byte { return h[:] }

func (h Hash) Hex() string { return hex.EncodeToString(h[:]) }

func (h Hash) String() string { return h.Hex() }

// IsZero reports whether h is the all-zero hash, which the accounts trie
// uses as its "no node" marker (the empty MMR root is mmr.EmptyRoot, not
// zero).
func (h Hash) IsZero() bool {
	for _, b := range h {
		if b != 0 {
			return false
		}
	}
	return true
}

// HashFromHex decodes a hex-encoded hash.
func HashFromHex(s string) (Hash, error) {
	b, err := hex.DecodeString(s)
	if err != nil {
		return Hash{}, fmt.Errorf("primitives: decode hash hex: %w", err)
	}
	if len(b) != HashSize {
		return Hash{}, fmt.Errorf("primitives: invalid hash length: got %d, want %d", len(b), HashSize)
	}
	var h Hash
	copy(h[:], b)
	return h, nil
}
