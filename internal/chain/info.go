package chain

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/albatross-go/node/internal/primitives"
	"github.com/albatross-go/node/internal/storage"
)

// ErrBlockNotFound is returned when a hash or height has no ChainInfo.
var ErrBlockNotFound = errors.New("chain: block not found")

// ChainInfo is a block together with the fork-choice bookkeeping spec.md
// §3 names: cumulative work/length, whether it sits on the main chain, and
// whether it has been pruned down to header-only.
type ChainInfo struct {
	BlockHash       primitives.Hash
	ParentHash      primitives.Hash
	HeightField     uint32
	Kind            Kind
	CumulativeWork  uint64
	OnMainChain     bool
	Seed            []byte // carried forward for LeaderAt on descendants

	// Inherents are the protocol-derived state transitions (reward,
	// slash, jail) this block carried, supplied by the caller at push
	// time and persisted here — not just for the main chain — so that a
	// later rebranch can re-apply a previously-forked block without its
	// caller having to reconstruct the same inherents a second time.
	Inherents []primitives.Inherent

	// Block is the full block this info describes. Nil once pruned (only
	// the header-derived fields above remain).
	Block Block
}

// chainInfoRecord is ChainInfo's JSON-over-KV persisted shape. Block is
// stored separately from the fields needed for fast fork-choice/height
// lookups so a pruned entry can drop Block without touching the rest.
type chainInfoRecord struct {
	ParentHash     primitives.Hash `json:"parent_hash"`
	Height         uint32          `json:"height"`
	Kind           Kind            `json:"kind"`
	CumulativeWork uint64               `json:"cumulative_work"`
	OnMainChain    bool                 `json:"on_main_chain"`
	Seed           []byte               `json:"seed"`
	Inherents      []primitives.Inherent `json:"inherents,omitempty"`
	MicroBlock     *MicroBlock          `json:"micro_block,omitempty"`
	MacroBlock     *MacroBlock          `json:"macro_block,omitempty"`
}

func heightKey(height uint32) []byte {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], height)
	return b[:]
}

func toRecord(info ChainInfo) chainInfoRecord {
	rec := chainInfoRecord{
		ParentHash:     info.ParentHash,
		Height:         info.HeightField,
		Kind:           info.Kind,
		CumulativeWork: info.CumulativeWork,
		OnMainChain:    info.OnMainChain,
		Seed:           info.Seed,
		Inherents:      info.Inherents,
	}
	switch b := info.Block.(type) {
	case *MicroBlock:
		rec.MicroBlock = b
	case *MacroBlock:
		rec.MacroBlock = b
	}
	return rec
}

func (rec chainInfoRecord) toInfo(hash primitives.Hash) ChainInfo {
	info := ChainInfo{
		BlockHash:      hash,
		ParentHash:     rec.ParentHash,
		HeightField:    rec.Height,
		Kind:           rec.Kind,
		CumulativeWork: rec.CumulativeWork,
		OnMainChain:    rec.OnMainChain,
		Seed:           rec.Seed,
		Inherents:      rec.Inherents,
	}
	if rec.MicroBlock != nil {
		info.Block = rec.MicroBlock
	} else if rec.MacroBlock != nil {
		info.Block = rec.MacroBlock
	}
	return info
}

// PutChainInfo persists info, keyed by its block hash, and (when
// info.OnMainChain) updates the height index so GetChainInfoAt(height) can
// find it without a main-chain walk.
func PutChainInfo(wtx storage.WriteTransaction, info ChainInfo) error {
	raw, err := json.Marshal(toRecord(info))
	if err != nil {
		return fmt.Errorf("chain: encode chain info for block %d: %w", info.HeightField, err)
	}
	if err := wtx.Put(storage.TableChainInfo, info.BlockHash[:], raw); err != nil {
		return err
	}
	if info.OnMainChain {
		if err := wtx.Put(storage.TableBlockHeightIndex, heightKey(info.HeightField), info.BlockHash[:]); err != nil {
			return err
		}
	}
	return nil
}

// GetChainInfo loads the ChainInfo for hash.
func GetChainInfo(rtx storage.ReadTransaction, hash primitives.Hash) (ChainInfo, error) {
	raw, err := rtx.Get(storage.TableChainInfo, hash[:])
	if errors.Is(err, storage.ErrNotFound) {
		return ChainInfo{}, fmt.Errorf("%w: hash %s", ErrBlockNotFound, hash)
	}
	if err != nil {
		return ChainInfo{}, fmt.Errorf("chain: load chain info for %s: %w", hash, err)
	}
	var rec chainInfoRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return ChainInfo{}, fmt.Errorf("chain: decode chain info for %s: %w", hash, err)
	}
	return rec.toInfo(hash), nil
}

// GetChainInfoAt loads the main-chain ChainInfo at height via the height
// index, without walking parent links.
func GetChainInfoAt(rtx storage.ReadTransaction, height uint32) (ChainInfo, error) {
	raw, err := rtx.Get(storage.TableBlockHeightIndex, heightKey(height))
	if errors.Is(err, storage.ErrNotFound) {
		return ChainInfo{}, fmt.Errorf("%w: height %d", ErrBlockNotFound, height)
	}
	if err != nil {
		return ChainInfo{}, fmt.Errorf("chain: load height index at %d: %w", height, err)
	}
	var hash primitives.Hash
	copy(hash[:], raw)
	return GetChainInfo(rtx, hash)
}

// ClearHeightIndex removes height's main-chain pointer, used when
// demoting a branch during rebranch.
func ClearHeightIndex(wtx storage.WriteTransaction, height uint32) error {
	return wtx.Delete(storage.TableBlockHeightIndex, heightKey(height))
}
