package mmr

import "testing"

func leafData(i int) []byte {
	return []byte{byte(i), byte(i >> 8), byte(i >> 16)}
}

func TestPeaksAndFullAgreeOnRoot(t *testing.T) {
	peaks := NewPeaks()
	full := NewFull()
	for i := 0; i < 37; i++ {
		d := leafData(i)
		if got, want := peaks.Push(d), full.Push(d); got != want {
			t.Fatalf("leaf index mismatch at %d: peaks=%d full=%d", i, got, want)
		}
		if peaks.Root() != full.Root() {
			t.Fatalf("root mismatch after %d leaves", i+1)
		}
	}
	if peaks.NumLeaves() != full.NumLeaves() {
		t.Fatalf("NumLeaves mismatch: %d vs %d", peaks.NumLeaves(), full.NumLeaves())
	}
}

func TestEmptyMMRRoot(t *testing.T) {
	if NewPeaks().Root() != EmptyRoot() {
		t.Fatalf("empty Peaks root mismatch")
	}
	if NewFull().Root() != EmptyRoot() {
		t.Fatalf("empty Full root mismatch")
	}
}

func TestPushIsOrderSensitive(t *testing.T) {
	a := NewPeaks()
	a.Push(leafData(1))
	a.Push(leafData(2))

	b := NewPeaks()
	b.Push(leafData(2))
	b.Push(leafData(1))

	if a.Root() == b.Root() {
		t.Fatalf("expected different roots for different leaf orderings")
	}
}

func TestSizeProofRoundTrip(t *testing.T) {
	p := NewPeaks()
	for i := 0; i < 13; i++ {
		p.Push(leafData(i))
	}
	proof := p.ProveSize()
	if err := VerifySizeProof(p.Root(), proof); err != nil {
		t.Fatalf("VerifySizeProof: %v", err)
	}
}

func TestSizeProofRejectsTamperedPeak(t *testing.T) {
	p := NewPeaks()
	for i := 0; i < 13; i++ {
		p.Push(leafData(i))
	}
	proof := p.ProveSize()
	proof.Peaks[0][0] ^= 0xff
	if err := VerifySizeProof(p.Root(), proof); err == nil {
		t.Fatalf("expected VerifySizeProof to reject a tampered peak")
	}
}

func TestSizeProofRejectsInconsistentLeafCount(t *testing.T) {
	p := NewPeaks()
	for i := 0; i < 13; i++ {
		p.Push(leafData(i))
	}
	proof := p.ProveSize()
	proof.NumLeaves = 14
	if err := VerifySizeProof(p.Root(), proof); err == nil {
		t.Fatalf("expected VerifySizeProof to reject an inconsistent leaf count")
	}
}

func TestInclusionProofRoundTripAcrossSizes(t *testing.T) {
	for _, n := range []int{1, 2, 3, 4, 7, 8, 15, 16, 31, 63} {
		full := NewFull()
		leaves := make([][]byte, n)
		for i := 0; i < n; i++ {
			leaves[i] = leafData(i)
			full.Push(leaves[i])
		}
		root := full.Root()
		for i := 0; i < n; i++ {
			proof, err := full.Prove(uint64(i))
			if err != nil {
				t.Fatalf("n=%d Prove(%d): %v", n, i, err)
			}
			if err := VerifyInclusionProof(root, leaves[i], *proof); err != nil {
				t.Fatalf("n=%d VerifyInclusionProof(%d): %v", n, i, err)
			}
		}
	}
}

func TestInclusionProofRejectsWrongLeaf(t *testing.T) {
	full := NewFull()
	for i := 0; i < 10; i++ {
		full.Push(leafData(i))
	}
	proof, err := full.Prove(3)
	if err != nil {
		t.Fatalf("Prove: %v", err)
	}
	if err := VerifyInclusionProof(full.Root(), leafData(4), *proof); err == nil {
		t.Fatalf("expected VerifyInclusionProof to reject mismatched leaf data")
	}
}

func TestInclusionProofRejectsTamperedSibling(t *testing.T) {
	full := NewFull()
	for i := 0; i < 10; i++ {
		full.Push(leafData(i))
	}
	proof, err := full.Prove(3)
	if err != nil {
		t.Fatalf("Prove: %v", err)
	}
	if len(proof.Path) == 0 {
		t.Fatalf("expected a non-empty sibling path for leaf 3 of 10")
	}
	proof.Path[0].Hash[0] ^= 0xff
	if err := VerifyInclusionProof(full.Root(), leafData(3), *proof); err == nil {
		t.Fatalf("expected VerifyInclusionProof to reject a tampered sibling hash")
	}
}

func TestProveRejectsOutOfRangeIndex(t *testing.T) {
	full := NewFull()
	full.Push(leafData(0))
	if _, err := full.Prove(5); err == nil {
		t.Fatalf("expected Prove to reject an out-of-range leaf index")
	}
}

func TestRangeProofFullCoverageRoundTrip(t *testing.T) {
	full := NewFull()
	for i := 0; i < 20; i++ {
		full.Push(leafData(i))
	}
	proof, err := full.ProveRange(0, 20)
	if err != nil {
		t.Fatalf("ProveRange: %v", err)
	}
	if err := VerifyRangeProof(full.Root(), *proof); err != nil {
		t.Fatalf("VerifyRangeProof: %v", err)
	}
}

func TestRangeProofPartialRangeVerifiesAlone(t *testing.T) {
	full := NewFull()
	for i := 0; i < 20; i++ {
		full.Push(leafData(i))
	}
	proof, err := full.ProveRange(5, 10)
	if err != nil {
		t.Fatalf("ProveRange: %v", err)
	}
	if err := VerifyRangeProof(full.Root(), *proof); err != nil {
		t.Fatalf("VerifyRangeProof: %v", err)
	}
	for i, h := range proof.LeafHashes {
		if h != LeafHash(leafData(5+i)) {
			t.Fatalf("leaf hash %d does not match expected leaf data", i)
		}
	}
}

func TestRangeProofAcrossPeakBoundaryVerifies(t *testing.T) {
	// 20 leaves decomposes into peaks of height 4 and 2 (16+4 leaves):
	// a range straddling leaf 16 crosses from the first peak into the
	// second, exercising the straddling recursion on both sides.
	full := NewFull()
	for i := 0; i < 20; i++ {
		full.Push(leafData(i))
	}
	proof, err := full.ProveRange(14, 18)
	if err != nil {
		t.Fatalf("ProveRange: %v", err)
	}
	if err := VerifyRangeProof(full.Root(), *proof); err != nil {
		t.Fatalf("VerifyRangeProof: %v", err)
	}
}

func TestRangeProofRejectsTamperedLeafHash(t *testing.T) {
	full := NewFull()
	for i := 0; i < 20; i++ {
		full.Push(leafData(i))
	}
	proof, err := full.ProveRange(5, 10)
	if err != nil {
		t.Fatalf("ProveRange: %v", err)
	}
	proof.LeafHashes[0][0] ^= 0xff
	if err := VerifyRangeProof(full.Root(), *proof); err == nil {
		t.Fatalf("expected VerifyRangeProof to reject a tampered leaf hash")
	}
}

func TestRangeProofRejectsTamperedBoundaryHash(t *testing.T) {
	full := NewFull()
	for i := 0; i < 20; i++ {
		full.Push(leafData(i))
	}
	proof, err := full.ProveRange(5, 10)
	if err != nil {
		t.Fatalf("ProveRange: %v", err)
	}
	if len(proof.BoundaryHashes) == 0 {
		t.Fatalf("expected a partial range to carry at least one boundary hash")
	}
	proof.BoundaryHashes[0][0] ^= 0xff
	if err := VerifyRangeProof(full.Root(), *proof); err == nil {
		t.Fatalf("expected VerifyRangeProof to reject a tampered boundary hash")
	}
}

func TestRestorePeaksRoundTripAndContinuesPushing(t *testing.T) {
	p := NewPeaks()
	for i := 0; i < 23; i++ {
		p.Push(leafData(i))
	}
	restored, err := RestorePeaks(p.NumLeaves(), p.PeakHashes())
	if err != nil {
		t.Fatalf("RestorePeaks: %v", err)
	}
	if restored.Root() != p.Root() {
		t.Fatalf("restored root mismatch")
	}

	for i := 23; i < 40; i++ {
		p.Push(leafData(i))
		restored.Push(leafData(i))
	}
	if restored.Root() != p.Root() {
		t.Fatalf("roots diverged after continued pushing")
	}
}

func TestRestorePeaksRejectsInconsistentPeakCount(t *testing.T) {
	p := NewPeaks()
	for i := 0; i < 10; i++ {
		p.Push(leafData(i))
	}
	_, err := RestorePeaks(p.NumLeaves(), p.PeakHashes()[1:])
	if err == nil {
		t.Fatalf("expected RestorePeaks to reject a peak count mismatch")
	}
}

func TestPeakPositionsPopcountMatchesPeakCount(t *testing.T) {
	for n := uint64(0); n < 64; n++ {
		positions := peakPositions(n)
		if len(positions) != popcount(n) {
			t.Fatalf("n=%d: got %d peak positions, want popcount %d", n, len(positions), popcount(n))
		}
	}
}
