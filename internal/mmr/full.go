package mmr

import (
	"fmt"

	"github.com/albatross-go/node/internal/primitives"
)

// Full is the full variant: every node at every height is retained
// (levels[h] holds height-h nodes in left-to-right construction order),
// so any past leaf can still produce an inclusion proof. Leaf pairing
// always merges strictly adjacent same-height nodes — pushing a leaf
// behaves exactly like incrementing a binary counter, with "carries"
// propagating merges up through the levels — so a node's position within
// its level is recoverable purely from arithmetic, without needing parent
// pointers.
type Full struct {
	levels    [][]primitives.Hash
	numLeaves uint64
}

// NewFull creates an empty full MMR.
func NewFull() *Full {
	return &Full{}
}

func (f *Full) ensureLevel(h int) {
	for len(f.levels) <= h {
		f.levels = append(f.levels, nil)
	}
}

// Push appends a new leaf and returns its leaf index.
func (f *Full) Push(data []byte) uint64 {
	h := LeafHash(data)
	f.ensureLevel(0)
	f.levels[0] = append(f.levels[0], h)
	idx := uint64(len(f.levels[0]) - 1)
	height := 0

	// Carry-propagate exactly like incrementing a binary counter: merge
	// while the freshly placed node has a completed sibling.
	for {
		siblingIdx := idx ^ 1
		if siblingIdx >= uint64(len(f.levels[height])) {
			break
		}
		var left, right primitives.Hash
		if idx%2 == 0 {
			left, right = f.levels[height][idx], f.levels[height][siblingIdx]
		} else {
			left, right = f.levels[height][siblingIdx], f.levels[height][idx]
		}
		parent := nodeHash(left, right)

		height++
		f.ensureLevel(height)
		f.levels[height] = append(f.levels[height], parent)
		idx = uint64(len(f.levels[height]) - 1)
	}

	f.numLeaves++
	return f.numLeaves - 1
}

func (f *Full) NumLeaves() uint64 { return f.numLeaves }

// peakPosition is a peak's coordinates: height above the leaves, and index
// within that height's level.
type peakPosition struct {
	height uint8
	index  uint64
}

// peakPositions decomposes numLeaves into its constituent peaks purely
// from its binary representation: each set bit h contributes one peak of
// height h, covering the next 2^h leaves. This matches the order
// Push's carry-propagation actually builds peaks in (tallest/leftmost
// first), so it lines up with bagPeaks's expected order.
func peakPositions(numLeaves uint64) []peakPosition {
	var out []peakPosition
	var leafOffset uint64
	for h := 63; h >= 0; h-- {
		bit := uint64(1) << uint(h)
		if numLeaves&bit == 0 {
			continue
		}
		out = append(out, peakPosition{height: uint8(h), index: leafOffset >> uint(h)})
		leafOffset += bit
	}
	return out
}

func (f *Full) peaks() []peak {
	positions := peakPositions(f.numLeaves)
	out := make([]peak, len(positions))
	for i, p := range positions {
		out[i] = peak{hash: f.levels[p.height][p.index], height: p.height}
	}
	return out
}

// Root returns the current bagged-peaks root.
func (f *Full) Root() primitives.Hash { return bagPeaks(f.peaks()) }

// PathNode is one step of an inclusion proof: a sibling hash and whether
// that sibling sits to the right of the node being proved.
type PathNode struct {
	Hash    primitives.Hash
	IsRight bool
}

// InclusionProof proves a single leaf's membership in the MMR as of the
// state where it had TotalLeaves leaves.
type InclusionProof struct {
	LeafIndex  uint64
	LeafHash   primitives.Hash
	Path       []PathNode // sibling path from the leaf up to its containing peak
	OtherPeaks []primitives.Hash
	TotalLeaves uint64
}

// Prove builds an InclusionProof for leafIndex against the MMR's current
// state.
func (f *Full) Prove(leafIndex uint64) (*InclusionProof, error) {
	if leafIndex >= f.numLeaves {
		return nil, fmt.Errorf("%w: index %d, have %d leaves", ErrIndexOutOfRange, leafIndex, f.numLeaves)
	}

	idx := leafIndex
	height := 0
	var path []PathNode
	for {
		siblingIdx := idx ^ 1
		if siblingIdx >= uint64(len(f.levels[height])) {
			break
		}
		path = append(path, PathNode{Hash: f.levels[height][siblingIdx], IsRight: idx%2 == 0})
		idx >>= 1
		height++
	}

	containingHeight := uint8(height)
	var otherPeaks []primitives.Hash
	var containingIndex uint64 = idx
	found := false
	for _, p := range peakPositions(f.numLeaves) {
		if !found && p.height == containingHeight && p.index == containingIndex {
			found = true
			continue
		}
		otherPeaks = append(otherPeaks, f.levels[p.height][p.index])
	}
	if !found {
		return nil, fmt.Errorf("%w: leaf %d has no containing peak at height %d", ErrInvalidProof, leafIndex, containingHeight)
	}

	return &InclusionProof{
		LeafIndex:   leafIndex,
		LeafHash:    f.levels[0][leafIndex],
		Path:        path,
		OtherPeaks:  otherPeaks,
		TotalLeaves: f.numLeaves,
	}, nil
}

// VerifyInclusionProof checks that proof attests leafData's membership
// under root.
func VerifyInclusionProof(root primitives.Hash, leafData []byte, proof InclusionProof) error {
	if LeafHash(leafData) != proof.LeafHash {
		return fmt.Errorf("%w: leaf hash mismatch", ErrInvalidProof)
	}

	cur := proof.LeafHash
	for _, step := range proof.Path {
		if step.IsRight {
			cur = nodeHash(cur, step.Hash)
		} else {
			cur = nodeHash(step.Hash, cur)
		}
	}

	positions := peakPositions(proof.TotalLeaves)
	containingHeight := uint8(len(proof.Path))
	peaks := make([]peak, 0, len(positions))
	otherIdx := 0
	placed := false
	for _, p := range positions {
		if !placed && p.height == containingHeight {
			peaks = append(peaks, peak{hash: cur, height: p.height})
			placed = true
			continue
		}
		if otherIdx >= len(proof.OtherPeaks) {
			return fmt.Errorf("%w: not enough other-peak hashes supplied", ErrInvalidProof)
		}
		peaks = append(peaks, peak{hash: proof.OtherPeaks[otherIdx], height: p.height})
		otherIdx++
	}
	if !placed {
		return fmt.Errorf("%w: proof's path length doesn't match any peak height for %d leaves", ErrInvalidProof, proof.TotalLeaves)
	}

	if bagPeaks(peaks) != root {
		return ErrInvalidProof
	}
	return nil
}

// RangeProof proves that leaves[Start:Start+len(LeafHashes)] are exactly
// the contiguous run of leaf data at those positions. Every peak the MMR
// decomposes into is either fully inside the range (rebuilt purely from
// LeafHashes), fully outside it (one hash in BoundaryHashes stands in for
// the whole peak), or straddles one of the range's two edges (recursed
// into, contributing one BoundaryHashes entry per external child
// encountered along the way down to the boundary leaf). Only the two
// edge peaks can straddle, so BoundaryHashes holds O(log TotalLeaves)
// entries regardless of range size — the proof is self-contained against
// the MMR root without a separate InclusionProof per boundary.
type RangeProof struct {
	Start          uint64
	LeafHashes     []primitives.Hash
	BoundaryHashes []primitives.Hash
	TotalLeaves    uint64
}

// ProveRange returns the raw leaf hashes for [start, end) plus the
// boundary hashes needed to recompute every peak the range touches — the
// chunked history-proof building block: combined with TotalLeaves, a
// verifier can recompute the full bagged-peaks root from this proof
// alone.
func (f *Full) ProveRange(start, end uint64) (*RangeProof, error) {
	if start >= end || end > f.numLeaves {
		return nil, fmt.Errorf("%w: range [%d,%d) invalid for %d leaves", ErrInvalidProof, start, end, f.numLeaves)
	}
	hashes := make([]primitives.Hash, end-start)
	copy(hashes, f.levels[0][start:end])

	var boundary []primitives.Hash
	var leafOffset uint64
	for _, p := range peakPositions(f.numLeaves) {
		boundary = append(boundary, f.rangeBoundaryHashes(p.height, p.index, leafOffset, start, end)...)
		leafOffset += uint64(1) << p.height
	}

	return &RangeProof{
		Start:          start,
		LeafHashes:     hashes,
		BoundaryHashes: boundary,
		TotalLeaves:    f.numLeaves,
	}, nil
}

// rangeBoundaryHashes walks the subtree rooted at (height, levelIndex),
// covering leaves [nodeStart, nodeStart+2^height), collecting in
// left-to-right order the hash of every maximal child subtree that lies
// entirely outside [rangeStart, rangeEnd). Subtrees entirely inside the
// range contribute nothing — the verifier rebuilds them from the range's
// own leaf hashes instead.
func (f *Full) rangeBoundaryHashes(height uint8, levelIndex, nodeStart, rangeStart, rangeEnd uint64) []primitives.Hash {
	size := uint64(1) << height
	nodeEnd := nodeStart + size
	if nodeEnd <= rangeStart || nodeStart >= rangeEnd {
		return []primitives.Hash{f.levels[height][levelIndex]}
	}
	if rangeStart <= nodeStart && nodeEnd <= rangeEnd {
		return nil
	}
	mid := nodeStart + size/2
	left := f.rangeBoundaryHashes(height-1, levelIndex*2, nodeStart, rangeStart, rangeEnd)
	right := f.rangeBoundaryHashes(height-1, levelIndex*2+1, mid, rangeStart, rangeEnd)
	return append(left, right...)
}

// VerifyRangeProof recomputes every peak proof.TotalLeaves decomposes
// into — rebuilding range-covered peaks from proof.LeafHashes and
// external peaks/subtrees from proof.BoundaryHashes, in the same
// left-to-right order ProveRange emitted them in — and checks the
// result bags to root. Self-contained: it needs nothing beyond the
// proof itself.
func VerifyRangeProof(root primitives.Hash, proof RangeProof) error {
	if len(proof.LeafHashes) == 0 {
		return ErrEmpty
	}
	end := proof.Start + uint64(len(proof.LeafHashes))
	if end > proof.TotalLeaves {
		return fmt.Errorf("%w: range exceeds declared total leaves", ErrInvalidProof)
	}

	var leafPos, boundaryPos int
	var leafOffset uint64
	positions := peakPositions(proof.TotalLeaves)
	peaks := make([]peak, 0, len(positions))
	for _, p := range positions {
		h, err := reconstructRange(p.height, leafOffset, proof.Start, end, proof.LeafHashes, &leafPos, proof.BoundaryHashes, &boundaryPos)
		if err != nil {
			return err
		}
		peaks = append(peaks, peak{hash: h, height: p.height})
		leafOffset += uint64(1) << p.height
	}
	if leafPos != len(proof.LeafHashes) || boundaryPos != len(proof.BoundaryHashes) {
		return fmt.Errorf("%w: proof carries unused leaf or boundary hashes", ErrInvalidProof)
	}

	if bagPeaks(peaks) != root {
		return ErrInvalidProof
	}
	return nil
}

// reconstructRange is rangeBoundaryHashes's verifier-side mirror: it
// recomputes the hash of the subtree covering [nodeStart,
// nodeStart+2^height) by consuming proof.LeafHashes for leaves inside
// [rangeStart, rangeEnd) and proof.BoundaryHashes for whatever lies
// outside it, in the exact traversal order ProveRange produced them in.
func reconstructRange(height uint8, nodeStart, rangeStart, rangeEnd uint64, leaves []primitives.Hash, leafPos *int, boundary []primitives.Hash, boundaryPos *int) (primitives.Hash, error) {
	size := uint64(1) << height
	nodeEnd := nodeStart + size

	if nodeEnd <= rangeStart || nodeStart >= rangeEnd {
		if *boundaryPos >= len(boundary) {
			return primitives.Hash{}, fmt.Errorf("%w: missing boundary hash", ErrInvalidProof)
		}
		h := boundary[*boundaryPos]
		*boundaryPos++
		return h, nil
	}
	if height == 0 {
		if *leafPos >= len(leaves) {
			return primitives.Hash{}, fmt.Errorf("%w: missing leaf hash", ErrInvalidProof)
		}
		h := leaves[*leafPos]
		*leafPos++
		return h, nil
	}

	mid := nodeStart + size/2
	left, err := reconstructRange(height-1, nodeStart, rangeStart, rangeEnd, leaves, leafPos, boundary, boundaryPos)
	if err != nil {
		return primitives.Hash{}, err
	}
	right, err := reconstructRange(height-1, mid, rangeStart, rangeEnd, leaves, leafPos, boundary, boundaryPos)
	if err != nil {
		return primitives.Hash{}, err
	}
	return nodeHash(left, right), nil
}
