// Package mmr implements a Merkle Mountain Range: an append-only
// accumulator of leaf hashes that supports O(log n) inclusion proofs
// without ever rewriting earlier nodes. internal/history layers the
// historic-transaction epoch index on top of this; Full keeps every node
// (answers inclusion/range/size proofs), Peaks keeps only the current
// peak hashes (enough to push, verify a root, and report leaf count, but
// nothing else) — mirroring the full-vs-light split a node operates in.
package mmr

import (
	"errors"
	"fmt"

	"github.com/albatross-go/node/internal/primitives"
)

var (
	ErrEmpty            = errors.New("mmr: empty range")
	ErrIndexOutOfRange   = errors.New("mmr: leaf index out of range")
	ErrInvalidProof      = errors.New("mmr: proof verification failed")
)

// Domain-separation tags, folded into the hash input so a leaf node and an
// internal node with identical underlying bytes never collide, and so a
// bagged-peaks root is never confusable with an ordinary internal node.
var (
	leafTag    = []byte("albatross-mmr-leaf")
	internalTag = []byte("albatross-mmr-node")
	peakBagTag  = []byte("albatross-mmr-peak-bag")
	emptyRootTag = []byte("albatross-mmr-empty")
)

// LeafHash hashes a leaf's raw content under the leaf domain tag.
func LeafHash(data []byte) primitives.Hash {
	return primitives.ComputeTaggedHash(leafTag, data)
}

func nodeHash(left, right primitives.Hash) primitives.Hash {
	buf := make([]byte, 0, 2*primitives.HashSize)
	buf = append(buf, left[:]...)
	buf = append(buf, right[:]...)
	return primitives.ComputeTaggedHash(internalTag, buf)
}

// EmptyRoot is the canonical root of an MMR with zero leaves.
func EmptyRoot() primitives.Hash {
	return primitives.ComputeTaggedHash(emptyRootTag, nil)
}

// bagPeaks combines the peak list (ordered from tallest to most recent,
// i.e. construction order) into a single root. Peaks are bagged
// right-to-left: the root is H(peak[0], H(peak[1], ... H(peak[n-2], peak[n-1])...)),
// so a change to any single peak changes the root.
func bagPeaks(peaks []peak) primitives.Hash {
	if len(peaks) == 0 {
		return EmptyRoot()
	}
	acc := peaks[len(peaks)-1].hash
	for i := len(peaks) - 2; i >= 0; i-- {
		buf := make([]byte, 0, 2*primitives.HashSize)
		buf = append(buf, peaks[i].hash[:]...)
		buf = append(buf, acc[:]...)
		acc = primitives.ComputeTaggedHash(peakBagTag, buf)
	}
	return acc
}

type peak struct {
	hash   primitives.Hash
	height uint8
}

// Peaks is the light variant: it tracks only the current peaks and leaf
// count, enough to push new leaves and report a verifiable root, but
// cannot answer an inclusion proof for a past leaf (the nodes needed to
// build one were never kept).
type Peaks struct {
	peaks     []peak
	numLeaves uint64
}

// NewPeaks creates an empty peaks-only MMR.
func NewPeaks() *Peaks {
	return &Peaks{}
}

// PeakHeights returns the height of each peak an MMR with numLeaves leaves
// has, tallest/leftmost first — derived purely from numLeaves's binary
// representation (one peak per set bit), with no node data required. Used
// to restore a Peaks value from a persisted (numLeaves, peak hashes) pair.
func PeakHeights(numLeaves uint64) []uint8 {
	var out []uint8
	for h := 63; h >= 0; h-- {
		if numLeaves&(uint64(1)<<uint(h)) != 0 {
			out = append(out, uint8(h))
		}
	}
	return out
}

// RestorePeaks reconstructs a Peaks value from a previously persisted leaf
// count and peak-hash list (e.g. Peaks.PeakHashes/ProveSize's output),
// ready to accept further Push calls.
func RestorePeaks(numLeaves uint64, peakHashes []primitives.Hash) (*Peaks, error) {
	heights := PeakHeights(numLeaves)
	if len(heights) != len(peakHashes) {
		return nil, fmt.Errorf("%w: %d leaves need %d peaks, got %d", ErrInvalidProof, numLeaves, len(heights), len(peakHashes))
	}
	peaks := make([]peak, len(heights))
	for i, h := range heights {
		peaks[i] = peak{hash: peakHashes[i], height: h}
	}
	return &Peaks{peaks: peaks, numLeaves: numLeaves}, nil
}

// Push appends a new leaf and returns its assigned index (0-based, in leaf
// order — not the MMR's internal node position).
func (p *Peaks) Push(data []byte) uint64 {
	h := LeafHash(data)
	p.peaks = append(p.peaks, peak{hash: h, height: 0})
	p.numLeaves++

	// Merge while the two most recent peaks are the same height: that's
	// exactly when they complete a perfect subtree one level taller.
	for len(p.peaks) >= 2 {
		last := p.peaks[len(p.peaks)-1]
		prev := p.peaks[len(p.peaks)-2]
		if last.height != prev.height {
			break
		}
		merged := peak{hash: nodeHash(prev.hash, last.hash), height: last.height + 1}
		p.peaks = p.peaks[:len(p.peaks)-2]
		p.peaks = append(p.peaks, merged)
	}
	return p.numLeaves - 1
}

// NumLeaves returns the count of leaves pushed so far.
func (p *Peaks) NumLeaves() uint64 { return p.numLeaves }

// Root returns the current bagged-peaks root.
func (p *Peaks) Root() primitives.Hash { return bagPeaks(p.peaks) }

// PeakHashes returns a copy of the current peak hashes, tallest-subtree
// first, for inclusion in a SizeProof.
func (p *Peaks) PeakHashes() []primitives.Hash {
	out := make([]primitives.Hash, len(p.peaks))
	for i, pk := range p.peaks {
		out[i] = pk.hash
	}
	return out
}

// SizeProof attests that an MMR with the given leaf count has the given
// root, without requiring the verifier to have any of the leaves: it
// carries the peak hashes directly, and the verifier just re-bags them.
type SizeProof struct {
	NumLeaves uint64
	Peaks     []primitives.Hash
}

// ProveSize returns a SizeProof for the MMR's current state.
func (p *Peaks) ProveSize() SizeProof {
	return SizeProof{NumLeaves: p.numLeaves, Peaks: p.PeakHashes()}
}

// VerifySizeProof checks that bagging proof.Peaks reproduces root, and
// that the peak list is structurally consistent with proof.NumLeaves (the
// number of 1-bits in NumLeaves's binary representation must equal the
// peak count — an MMR's peak count is exactly the popcount of its leaf
// count).
func VerifySizeProof(root primitives.Hash, proof SizeProof) error {
	if popcount(proof.NumLeaves) != len(proof.Peaks) {
		return fmt.Errorf("%w: peak count %d inconsistent with %d leaves", ErrInvalidProof, len(proof.Peaks), proof.NumLeaves)
	}
	peaks := make([]peak, len(proof.Peaks))
	for i, h := range proof.Peaks {
		peaks[i] = peak{hash: h}
	}
	if bagPeaks(peaks) != root {
		return ErrInvalidProof
	}
	return nil
}

func popcount(v uint64) int {
	n := 0
	for v != 0 {
		n += int(v & 1)
		v >>= 1
	}
	return n
}
