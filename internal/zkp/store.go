package zkp

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math/big"

	"github.com/consensys/gnark-crypto/ecc"
	"github.com/consensys/gnark/backend/groth16"

	"github.com/albatross-go/node/internal/storage"
)

// storedChainProof is ChainProof's on-disk encoding: the Groth16 proof
// serialized through its own WriteTo (mirroring pkg/crypto/bls_zkp's
// save/load split for proving/verifying keys), with the public inputs and
// next-epoch state carried alongside as big.Int byte strings.
type storedChainProof struct {
	GenesisHeaderHash []byte
	FinalHeaderHash   []byte
	VksCommitment     []byte
	Proof             []byte

	NextStateCommitment  []byte
	NextMergerCommitment []byte
	NextIsGenesis        bool
}

func epochKey(epoch uint64) []byte {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], epoch)
	return b[:]
}

// SaveProof persists cp under TableZKPState, keyed by epoch, inside an
// already-open write transaction. Callers commit the transaction alongside
// whatever else the election block's finalization touches (validator set
// rotation, history-root update), so a crash never leaves a proof recorded
// without its election block or vice versa.
func SaveProof(wtx storage.WriteTransaction, epoch uint64, cp *ChainProof) error {
	var proofBuf bytes.Buffer
	if _, err := cp.Proof.WriteTo(&proofBuf); err != nil {
		return fmt.Errorf("zkp: serialize proof: %w", err)
	}

	record := storedChainProof{
		GenesisHeaderHash:    cp.GenesisHeaderHash.Bytes(),
		FinalHeaderHash:      cp.FinalHeaderHash.Bytes(),
		VksCommitment:        cp.VksCommitment.Bytes(),
		Proof:                proofBuf.Bytes(),
		NextStateCommitment:  cp.Next.StateCommitment.Bytes(),
		NextMergerCommitment: cp.Next.MergerCommitment.Bytes(),
		NextIsGenesis:        cp.Next.IsGenesis,
	}
	raw, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("zkp: marshal proof record: %w", err)
	}
	return wtx.Put(storage.TableZKPState, epochKey(epoch), raw)
}

// LoadProof reads back the proof stored for epoch, or storage.ErrNotFound
// if no epoch has been proven yet.
func LoadProof(rtx storage.ReadTransaction, epoch uint64) (*ChainProof, error) {
	raw, err := rtx.Get(storage.TableZKPState, epochKey(epoch))
	if err != nil {
		return nil, err
	}
	var record storedChainProof
	if err := json.Unmarshal(raw, &record); err != nil {
		return nil, fmt.Errorf("zkp: unmarshal proof record: %w", err)
	}

	proof := groth16.NewProof(ecc.BN254)
	if _, err := proof.ReadFrom(bytes.NewReader(record.Proof)); err != nil {
		return nil, fmt.Errorf("zkp: deserialize proof: %w", err)
	}

	return &ChainProof{
		GenesisHeaderHash: new(big.Int).SetBytes(record.GenesisHeaderHash),
		FinalHeaderHash:   new(big.Int).SetBytes(record.FinalHeaderHash),
		VksCommitment:     new(big.Int).SetBytes(record.VksCommitment),
		Proof:             proof,
		Next: EpochState{
			StateCommitment:  new(big.Int).SetBytes(record.NextStateCommitment),
			MergerCommitment: new(big.Int).SetBytes(record.NextMergerCommitment),
			IsGenesis:        record.NextIsGenesis,
		},
	}, nil
}

// LoadEpochState returns just the chained state needed to prove the next
// epoch, without deserializing the (expensive to re-verify, unneeded here)
// Groth16 proof bytes.
func LoadEpochState(rtx storage.ReadTransaction, epoch uint64) (EpochState, error) {
	raw, err := rtx.Get(storage.TableZKPState, epochKey(epoch))
	if err != nil {
		return EpochState{}, err
	}
	var record storedChainProof
	if err := json.Unmarshal(raw, &record); err != nil {
		return EpochState{}, fmt.Errorf("zkp: unmarshal proof record: %w", err)
	}
	return EpochState{
		StateCommitment:  new(big.Int).SetBytes(record.NextStateCommitment),
		MergerCommitment: new(big.Int).SetBytes(record.NextMergerCommitment),
		IsGenesis:        record.NextIsGenesis,
	}, nil
}
