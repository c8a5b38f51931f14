package zkp

import (
	"errors"
	"math/big"

	"github.com/consensys/gnark/backend/groth16"

	"github.com/albatross-go/node/internal/primitives"
)

// ErrGenesisMismatch is returned when a ChainProof's recorded genesis
// header hash doesn't match the hash the light client trusts.
var ErrGenesisMismatch = errors.New("zkp: proof's genesis header hash does not match trusted genesis")

// ErrVksMismatch is returned when a ChainProof's recorded verifying-key
// commitment doesn't match the light client's own copy of the verifying
// keys — i.e. the proof was built against a different circuit version.
var ErrVksMismatch = errors.New("zkp: proof's verifying-key commitment does not match trusted circuit version")

// LightClient verifies merger-wrapper proofs against a single trusted
// genesis header hash, per spec.md §4.8: a light client holding nothing
// but that hash can accept any later header the chain of proofs covers.
type LightClient struct {
	genesisHeaderHash *big.Int
	vksCommitment     *big.Int
	vk                groth16.VerifyingKey
}

// NewLightClient builds a LightClient pinned to genesisHeaderHash, trusting
// vk (and the VksCommitment it was built from) as the circuit version to
// accept proofs for.
func NewLightClient(genesisHeaderHash primitives.Hash, vk groth16.VerifyingKey, vksCommitment *big.Int) *LightClient {
	return &LightClient{
		genesisHeaderHash: hashToField(genesisHeaderHash),
		vksCommitment:     vksCommitment,
		vk:                vk,
	}
}

// Accept verifies cp and, on success, returns the field-element
// representation of the header hash the light client should now consider
// final. Callers that need the original primitives.Hash must have tracked
// it themselves; the field element only round-trips equality checks, not
// full recovery of the original 32 bytes.
func (lc *LightClient) Accept(cp *ChainProof) (*big.Int, error) {
	if !fieldElementsEqual(cp.GenesisHeaderHash, lc.genesisHeaderHash) {
		return nil, ErrGenesisMismatch
	}
	if !fieldElementsEqual(cp.VksCommitment, lc.vksCommitment) {
		return nil, ErrVksMismatch
	}
	if err := VerifyMergerWrapper(lc.vk, cp); err != nil {
		return nil, err
	}
	return cp.FinalHeaderHash, nil
}
