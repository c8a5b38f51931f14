package zkp

import (
	"math/big"
	"testing"
	"time"

	"github.com/albatross-go/node/internal/blssig"
	"github.com/albatross-go/node/internal/chain"
	"github.com/albatross-go/node/internal/primitives"
)

// packBitmapForTest builds a per-slot signer bitmap (LSB-first) in which
// all slotsEach slots of validator i are set when signed[i] is true.
func packBitmapForTest(signed []bool, slotsEach int) []byte {
	out := make([]byte, (len(signed)*slotsEach+7)/8)
	for i, s := range signed {
		for slot := i * slotsEach; s && slot < (i+1)*slotsEach; slot++ {
			out[slot/8] |= 1 << uint(slot%8)
		}
	}
	return out
}

func testValidatorSet(t *testing.T, n int, slotsEach uint16) chain.ValidatorSet {
	t.Helper()
	slots := make([]chain.Slot, n)
	for i := 0; i < n; i++ {
		priv, err := blssig.GenerateKeyPairFromSeed([]byte{byte(i + 1)})
		if err != nil {
			t.Fatalf("generate key pair: %v", err)
		}
		var addr primitives.Address
		addr[0] = byte(i + 1)
		slots[i] = chain.Slot{
			Validator: primitives.ValidatorRecord{
				ValidatorAddress: addr,
				BLSPublicKey:     priv.PublicKey().Bytes(),
				RewardAddress:    addr,
			},
			FirstSlot: uint16(i) * slotsEach,
			NumSlots:  slotsEach,
		}
	}
	return chain.ValidatorSet{Epoch: 1, Slots: slots}
}

func testHeaderHash(salt byte) primitives.Hash {
	var h primitives.Hash
	h[0] = salt
	return h
}

// runElection drives a Prover.StartElection synchronously for tests.
func runElection(t *testing.T, p *Prover, genesisHash *big.Int, prev EpochState, record ElectionRecord) *ChainProof {
	t.Helper()
	done := make(chan struct{})
	var result *ChainProof
	var resultErr error
	p.StartElection(genesisHash, prev, record, func(cp *ChainProof, err error) {
		result, resultErr = cp, err
		close(done)
	})
	select {
	case <-done:
	case <-time.After(30 * time.Second):
		t.Fatal("election proof did not complete in time")
	}
	if resultErr != nil {
		t.Fatalf("prove election: %v", resultErr)
	}
	return result
}

// TestProofChainAcceptedByLightClient exercises proving epochs 1 and 2 and
// a light client, holding only the genesis header hash and the circuits'
// verifying key/commitment, accepting the epoch-2 proof and recovering its
// header hash.
func TestProofChainAcceptedByLightClient(t *testing.T) {
	keys, err := Setup()
	if err != nil {
		t.Fatalf("setup: %v", err)
	}
	prover := NewProver(keys)

	vs := testValidatorSet(t, 4, 128)
	genesisHash := hashToField(testHeaderHash(0xFF))

	record1 := ElectionRecord{
		HeaderHash:   testHeaderHash(1),
		Validators:   vs,
		SignerBitmap: packBitmapForTest([]bool{true, true, true, false}, 128),
		SlotCount:    512,
		AggregateSig: []byte{1, 2, 3, 4},
	}
	proof1 := runElection(t, prover, genesisHash, Genesis(), record1)
	if !fieldElementsEqual(proof1.GenesisHeaderHash, genesisHash) {
		t.Fatal("epoch 1 proof recorded wrong genesis hash")
	}

	record2 := ElectionRecord{
		HeaderHash:   testHeaderHash(2),
		Validators:   vs,
		SignerBitmap: packBitmapForTest([]bool{true, false, true, true}, 128),
		SlotCount:    512,
		AggregateSig: []byte{5, 6, 7, 8},
	}
	proof2 := runElection(t, prover, genesisHash, proof1.Next, record2)

	lc := NewLightClient(testHeaderHash(0xFF), keys.MergerWrapperVK, keys.VksCommitment())
	finalHash, err := lc.Accept(proof2)
	if err != nil {
		t.Fatalf("light client rejected proof chain: %v", err)
	}
	if !fieldElementsEqual(finalHash, hashToField(testHeaderHash(2))) {
		t.Fatal("light client recovered the wrong final header hash")
	}
}

func TestLightClientRejectsWrongGenesis(t *testing.T) {
	keys, err := Setup()
	if err != nil {
		t.Fatalf("setup: %v", err)
	}
	prover := NewProver(keys)

	vs := testValidatorSet(t, 4, 128)
	genesisHash := hashToField(testHeaderHash(0xFF))
	record := ElectionRecord{
		HeaderHash:   testHeaderHash(1),
		Validators:   vs,
		SignerBitmap: packBitmapForTest([]bool{true, true, true, false}, 128),
		SlotCount:    512,
		AggregateSig: []byte{1, 2, 3, 4},
	}
	proof := runElection(t, prover, genesisHash, Genesis(), record)

	lc := NewLightClient(testHeaderHash(0xAA), keys.MergerWrapperVK, keys.VksCommitment())
	if _, err := lc.Accept(proof); err != ErrGenesisMismatch {
		t.Fatalf("expected ErrGenesisMismatch, got %v", err)
	}
}

func TestProverCancelsSupersededElection(t *testing.T) {
	keys, err := Setup()
	if err != nil {
		t.Fatalf("setup: %v", err)
	}
	prover := NewProver(keys)
	vs := testValidatorSet(t, 4, 128)
	genesisHash := hashToField(testHeaderHash(0xFF))

	record := ElectionRecord{
		HeaderHash:   testHeaderHash(1),
		Validators:   vs,
		SignerBitmap: packBitmapForTest([]bool{true, true, true, false}, 128),
		SlotCount:    512,
		AggregateSig: []byte{1, 2, 3, 4},
	}

	firstDone := make(chan error, 1)
	prover.StartElection(genesisHash, Genesis(), record, func(cp *ChainProof, err error) {
		firstDone <- err
	})
	prover.CancelInFlight()

	select {
	case err := <-firstDone:
		if err != ErrCancelled {
			t.Fatalf("expected ErrCancelled, got %v", err)
		}
	case <-time.After(30 * time.Second):
		t.Fatal("cancelled election never called back")
	}
}
