package chain

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/albatross-go/node/internal/primitives"
	"github.com/albatross-go/node/internal/storage"
)

var (
	headKey      = []byte("head")
	macroHeadKey = []byte("macro-head")
)

// ErrNoHead is returned by GetHead/GetMacroHead before genesis has been
// pushed.
var ErrNoHead = errors.New("chain: no head block yet")

// GetHead returns the current main-chain head's ChainInfo.
func GetHead(rtx storage.ReadTransaction) (ChainInfo, error) {
	raw, err := rtx.Get(storage.TableChainInfo, headKey)
	if errors.Is(err, storage.ErrNotFound) {
		return ChainInfo{}, ErrNoHead
	}
	if err != nil {
		return ChainInfo{}, fmt.Errorf("chain: load head: %w", err)
	}
	var hash primitives.Hash
	copy(hash[:], raw)
	return GetChainInfo(rtx, hash)
}

func setHead(wtx storage.WriteTransaction, hash primitives.Hash) error {
	return wtx.Put(storage.TableChainInfo, headKey, hash[:])
}

// GetMacroHead returns the most recently finalized macro block's
// ChainInfo — the floor below which Push classifies a candidate as
// Ignored rather than Orphan.
func GetMacroHead(rtx storage.ReadTransaction) (ChainInfo, error) {
	raw, err := rtx.Get(storage.TableChainInfo, macroHeadKey)
	if errors.Is(err, storage.ErrNotFound) {
		return ChainInfo{}, ErrNoHead
	}
	if err != nil {
		return ChainInfo{}, fmt.Errorf("chain: load macro head: %w", err)
	}
	var hash primitives.Hash
	copy(hash[:], raw)
	return GetChainInfo(rtx, hash)
}

func setMacroHead(wtx storage.WriteTransaction, hash primitives.Hash) error {
	return wtx.Put(storage.TableChainInfo, macroHeadKey, hash[:])
}

// PutValidatorSet persists the validator set that becomes active the
// block after an election block, keyed by the epoch it governs. Unlike
// MacroHeader.SerializeContent (the hashed/signed wire form), this is a
// local KV persistence value, so it goes through plain JSON like every
// other receipt/pointer record in this codebase.
func PutValidatorSet(wtx storage.WriteTransaction, vs ValidatorSet) error {
	raw, err := json.Marshal(vs)
	if err != nil {
		return fmt.Errorf("chain: encode validator set for epoch %d: %w", vs.Epoch, err)
	}
	return wtx.Put(storage.TableValidatorSets, epochKeyBytes(vs.Epoch), raw)
}

// GetValidatorSet loads the validator set governing epoch.
func GetValidatorSet(rtx storage.ReadTransaction, epoch uint32) (ValidatorSet, error) {
	raw, err := rtx.Get(storage.TableValidatorSets, epochKeyBytes(epoch))
	if errors.Is(err, storage.ErrNotFound) {
		return ValidatorSet{}, fmt.Errorf("chain: no validator set recorded for epoch %d", epoch)
	}
	if err != nil {
		return ValidatorSet{}, fmt.Errorf("chain: load validator set for epoch %d: %w", epoch, err)
	}
	var vs ValidatorSet
	if err := json.Unmarshal(raw, &vs); err != nil {
		return ValidatorSet{}, fmt.Errorf("chain: decode validator set for epoch %d: %w", epoch, err)
	}
	return vs, nil
}

func epochKeyBytes(epoch uint32) []byte {
	var b [4]byte
	b[0] = byte(epoch >> 24)
	b[1] = byte(epoch >> 16)
	b[2] = byte(epoch >> 8)
	b[3] = byte(epoch)
	return b[:]
}
