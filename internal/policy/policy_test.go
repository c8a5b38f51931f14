package policy

import (
	"sync"
	"testing"
)

// resetForTest restores package state for test isolation. Init uses
// sync.Once in production; tests reach around it since each test wants its
// own calendar.
func resetForTest(p Policy) {
	once = sync.Once{}
	active = p
	isReady = true
}

func TestBatchAndEpochArithmetic(t *testing.T) {
	resetForTest(Test) // blocks_per_batch=32, batches_per_epoch=4 -> blocks_per_epoch=128

	if got := BatchAt(BlocksPerBatch()); got != 1 {
		t.Errorf("BatchAt(blocks_per_batch) = %d, want 1", got)
	}
	if got := BatchAt(BlocksPerBatch() + 1); got != 2 {
		t.Errorf("BatchAt(blocks_per_batch+1) = %d, want 2", got)
	}
	if got := BatchIndexAt(BlocksPerBatch()); got != BlocksPerBatch()-1 {
		t.Errorf("BatchIndexAt(blocks_per_batch) = %d, want %d", got, BlocksPerBatch()-1)
	}
	if got := EpochAt(BlocksPerEpoch()); got != 1 {
		t.Errorf("EpochAt(blocks_per_epoch) = %d, want 1", got)
	}
	if got := EpochAt(BlocksPerEpoch() + 1); got != 2 {
		t.Errorf("EpochAt(blocks_per_epoch+1) = %d, want 2", got)
	}
}

func TestMacroAndElectionBlocks(t *testing.T) {
	resetForTest(Test)

	bpb := BlocksPerBatch()
	bpe := BlocksPerEpoch()

	if !IsMacroBlockAt(bpb) {
		t.Errorf("IsMacroBlockAt(%d) = false, want true", bpb)
	}
	if IsMicroBlockAt(bpb) {
		t.Errorf("IsMicroBlockAt(%d) = true, want false", bpb)
	}
	if !IsElectionBlockAt(bpe) {
		t.Errorf("IsElectionBlockAt(%d) = false, want true", bpe)
	}
	if got := MacroBlockAfter(1); got != bpb {
		t.Errorf("MacroBlockAfter(1) = %d, want %d", got, bpb)
	}
	if got := ElectionBlockAfter(1); got != bpe {
		t.Errorf("ElectionBlockAfter(1) = %d, want %d", got, bpe)
	}
	if got := LastMacroBlock(bpb); got != bpb {
		t.Errorf("LastMacroBlock(%d) = %d, want %d", bpb, got, bpb)
	}
}

func TestFirstBlockHelpersRejectZero(t *testing.T) {
	resetForTest(Test)

	defer func() {
		if recover() == nil {
			t.Error("FirstBlockOf(0) should panic")
		}
	}()
	FirstBlockOf(0)
}

func TestSupplyAtClampsToTotalSupply(t *testing.T) {
	resetForTest(Default)

	// A very distant future time should saturate at TotalSupply once the
	// genesis supply plus the curve's limit (velocity/decay, about
	// 1.86e15) exceeds the cap.
	got := SupplyAt(TotalSupply/2, 0, 1<<62)
	if got != TotalSupply {
		t.Errorf("SupplyAt far future = %d, want %d", got, TotalSupply)
	}

	// At t=genesisTime, supply equals genesisSupply exactly.
	if got := SupplyAt(1000, 500, 500); got != 1000 {
		t.Errorf("SupplyAt(t=genesis) = %d, want 1000", got)
	}
}

func TestBatchDelayPenaltyBounds(t *testing.T) {
	if got := BatchDelayPenalty(0); got != 1.0 {
		t.Errorf("BatchDelayPenalty(0) = %f, want 1.0", got)
	}
	if got := BatchDelayPenalty(1 << 40); got < MinimumRewardsPercentage-1e-9 || got > MinimumRewardsPercentage+1e-9 {
		t.Errorf("BatchDelayPenalty(huge delay) = %f, want ~%f", got, MinimumRewardsPercentage)
	}
}

func TestTransactionValidityWindowByCalendar(t *testing.T) {
	resetForTest(Test)
	if got := TransactionValidityWindow(); got != 64 {
		t.Errorf("TransactionValidityWindow() = %d, want 64", got)
	}

	resetForTest(Default)
	if got := TransactionValidityWindow(); got != 7200 {
		t.Errorf("TransactionValidityWindow() = %d, want 7200", got)
	}
}

func TestQuorumConstants(t *testing.T) {
	if TwoFPlusOne != 342 {
		t.Errorf("TwoFPlusOne = %d, want 342", TwoFPlusOne)
	}
	if FPlusOne != 171 {
		t.Errorf("FPlusOne = %d, want 171", FPlusOne)
	}
}
