package chain

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/albatross-go/node/internal/accounts"
	"github.com/albatross-go/node/internal/history"
	"github.com/albatross-go/node/internal/metrics"
	"github.com/albatross-go/node/internal/policy"
	"github.com/albatross-go/node/internal/primitives"
	"github.com/albatross-go/node/internal/storage"
)

// PushResult classifies the outcome of pushing a single candidate block,
// mirroring spec.md §4.6's push algorithm.
type PushResult uint8

const (
	PushKnown PushResult = iota
	PushIgnored
	PushOrphan
	PushExtended
	PushRebranched
	PushForked
)

func (r PushResult) String() string {
	switch r {
	case PushKnown:
		return "Known"
	case PushIgnored:
		return "Ignored"
	case PushOrphan:
		return "Orphan"
	case PushExtended:
		return "Extended"
	case PushRebranched:
		return "Rebranched"
	case PushForked:
		return "Forked"
	default:
		return fmt.Sprintf("PushResult(%d)", uint8(r))
	}
}

var (
	// ErrMalformedBlock wraps whatever a Verifier rejected a candidate
	// for — a header/body root mismatch, a signature that doesn't check
	// out, a slot the producer doesn't own.
	ErrMalformedBlock = errors.New("chain: malformed block")

	// ErrEquivocatingBlock is returned by a Verifier (and propagated by
	// Push unwrapped, unlike other verification failures) when the
	// candidate itself is equivocation evidence — two blocks for the
	// same slot — rather than an ordinary validity defect.
	ErrEquivocatingBlock = errors.New("chain: equivocating block")

	errGenesisAlreadyPushed = errors.New("chain: genesis has already been pushed")
)

// Verifier performs a candidate block's intrinsic verification — the
// checks that don't depend on the push outcome itself (signature checks,
// slot ownership, header/body root consistency). Kept separate from
// Pipeline so the push/extend/rebranch/revert machinery can be exercised
// without wiring a full Tendermint/BLS verifier.
type Verifier interface {
	VerifyIntrinsic(rtx storage.ReadTransaction, candidate Block) error
}

// Pipeline drives the push/extend/rebranch/revert algorithm: every
// candidate block is applied against the accounts trie and history engine
// (or reverted) inside the same write transaction that updates the chain
// store, so a crash mid-block never leaves the three stores disagreeing.
type Pipeline struct {
	Accounts *accounts.Store
	History  history.Store
	Notifier *Notifier

	// Verifier is optional; a nil Verifier skips intrinsic verification
	// entirely (useful for tests that push pre-trusted blocks).
	Verifier Verifier
}

// NewPipeline builds a Pipeline over the given accounts/history engines,
// emitting events on notifier.
func NewPipeline(acct *accounts.Store, hist history.Store, notifier *Notifier) *Pipeline {
	return &Pipeline{Accounts: acct, History: hist, Notifier: notifier}
}

// PushGenesis bootstraps the chain with its first block: no parent lookup,
// no fork choice, unconditionally applied and adopted as head. Returns
// errGenesisAlreadyPushed if a head already exists.
func (p *Pipeline) PushGenesis(wtx storage.WriteTransaction, block Block, inherents []primitives.Inherent) error {
	if _, err := GetHead(wtx); err == nil {
		return errGenesisAlreadyPushed
	} else if !errors.Is(err, ErrNoHead) {
		return err
	}

	var seed []byte
	if mb, ok := block.(*MicroBlock); ok {
		seed = mb.Header.Seed
	}
	info := ChainInfo{
		BlockHash:      block.Hash(),
		ParentHash:     block.ParentHash(),
		HeightField:    block.Height(),
		Kind:           block.BlockKind(),
		CumulativeWork: 1,
		OnMainChain:    true,
		Seed:           seed,
		Inherents:      inherents,
		Block:          block,
	}
	if err := p.applyForward(wtx, info, inherents); err != nil {
		return err
	}
	if err := PutChainInfo(wtx, info); err != nil {
		return err
	}
	if err := setHead(wtx, info.BlockHash); err != nil {
		return err
	}
	if err := p.finalizeMacroState(wtx, info); err != nil {
		return err
	}
	metrics.ChainHeight.Set(float64(info.HeightField))
	p.notifyExtended(info)
	p.notifyFinalizedIfMacro(info)
	return nil
}

// Push runs the push algorithm for a single candidate block: classify as
// Known/Ignored/Orphan, otherwise verify, locate the parent, and either
// extend the current head, adopt a better-weighted fork (rebranch), or
// accept-but-not-adopt a fork that doesn't yet win (Forked). inherents are
// this block's protocol-derived state transitions (reward/slash/jail),
// computed by the caller (Tendermint participation, equivocation
// evidence) and persisted alongside the block so a later rebranch can
// replay them without the caller supplying them again.
func (p *Pipeline) Push(wtx storage.WriteTransaction, block Block, inherents []primitives.Inherent) (PushResult, error) {
	hash := block.Hash()

	if _, err := GetChainInfo(wtx, hash); err == nil {
		return PushKnown, nil
	} else if !errors.Is(err, ErrBlockNotFound) {
		return 0, err
	}

	if macroHead, err := GetMacroHead(wtx); err == nil {
		if block.Height() <= macroHead.HeightField {
			return PushIgnored, nil
		}
	} else if !errors.Is(err, ErrNoHead) {
		return 0, err
	}

	if p.Verifier != nil {
		if verr := p.Verifier.VerifyIntrinsic(wtx, block); verr != nil {
			if errors.Is(verr, ErrEquivocatingBlock) {
				return 0, verr
			}
			return 0, fmt.Errorf("%w: %v", ErrMalformedBlock, verr)
		}
	}

	parent, err := GetChainInfo(wtx, block.ParentHash())
	if errors.Is(err, ErrBlockNotFound) {
		return PushOrphan, nil
	}
	if err != nil {
		return 0, err
	}

	seed := parent.Seed
	if mb, ok := block.(*MicroBlock); ok && len(mb.Header.Seed) > 0 {
		seed = mb.Header.Seed
	}
	candidate := ChainInfo{
		BlockHash:      hash,
		ParentHash:     parent.BlockHash,
		HeightField:    block.Height(),
		Kind:           block.BlockKind(),
		CumulativeWork: parent.CumulativeWork + 1,
		OnMainChain:    false,
		Seed:           seed,
		Inherents:      inherents,
		Block:          block,
	}

	head, err := GetHead(wtx)
	if errors.Is(err, ErrNoHead) {
		return 0, fmt.Errorf("chain: Push called before PushGenesis: %w", err)
	}
	if err != nil {
		return 0, err
	}

	if candidate.ParentHash == head.BlockHash {
		return p.extend(wtx, candidate)
	}

	if !winsForkChoice(candidate, head) {
		if err := PutChainInfo(wtx, candidate); err != nil {
			return 0, err
		}
		metrics.ForksTotal.Inc()
		return PushForked, nil
	}
	return p.rebranch(wtx, head, candidate)
}

// winsForkChoice reports whether candidate should replace head: strictly
// higher cumulative work, or on an exact tie the lower block hash. Every
// block (Micro or Macro) contributes a fixed weight of 1 to cumulative
// work — spec.md gives no PoW-style difficulty function for this
// proof-of-stake chain, so fork choice here reduces to "longest chain,
// ties broken by hash".
func winsForkChoice(candidate, head ChainInfo) bool {
	if candidate.CumulativeWork != head.CumulativeWork {
		return candidate.CumulativeWork > head.CumulativeWork
	}
	return bytes.Compare(candidate.BlockHash[:], head.BlockHash[:]) < 0
}

func (p *Pipeline) extend(wtx storage.WriteTransaction, candidate ChainInfo) (PushResult, error) {
	candidate.OnMainChain = true
	if err := p.applyForward(wtx, candidate, candidate.Inherents); err != nil {
		return 0, err
	}
	if err := PutChainInfo(wtx, candidate); err != nil {
		return 0, err
	}
	if err := setHead(wtx, candidate.BlockHash); err != nil {
		return 0, err
	}
	if err := p.finalizeMacroState(wtx, candidate); err != nil {
		return 0, err
	}
	metrics.ChainHeight.Set(float64(candidate.HeightField))
	p.notifyExtended(candidate)
	p.notifyFinalizedIfMacro(candidate)
	return PushExtended, nil
}

// rebranch adopts candidate's branch in place of the current head: the
// shared ancestor is located by walking both chains' parent pointers back
// to equal height and then in lockstep, the old branch is reverted from
// its tip down to (but not including) the ancestor, and the new branch is
// then applied from just above the ancestor up to candidate.
func (p *Pipeline) rebranch(wtx storage.WriteTransaction, head, candidate ChainInfo) (PushResult, error) {
	_, oldPath, newPath, err := findCommonAncestor(wtx, head, candidate)
	if err != nil {
		return 0, err
	}

	for _, info := range oldPath {
		if err := p.Accounts.RevertBlock(wtx, info.HeightField); err != nil {
			return 0, err
		}
		if err := p.History.RemoveBlock(wtx, info.HeightField); err != nil {
			return 0, err
		}
		if err := ClearHeightIndex(wtx, info.HeightField); err != nil {
			return 0, err
		}
		info.OnMainChain = false
		if err := PutChainInfo(wtx, info); err != nil {
			return 0, err
		}
	}

	reverted := make([]primitives.Hash, len(oldPath))
	for i, info := range oldPath {
		reverted[i] = info.BlockHash
	}
	adopted := make([]primitives.Hash, len(newPath))
	for i := range newPath {
		// newPath is ordered tip-to-ancestor (descending height);
		// adopted must list ancestor-to-tip (ascending) to match the
		// order blocks were actually re-applied in below.
		adopted[i] = newPath[len(newPath)-1-i].BlockHash
	}

	for i := len(newPath) - 1; i >= 0; i-- {
		info := newPath[i]
		info.OnMainChain = true
		if err := p.applyForward(wtx, info, info.Inherents); err != nil {
			return 0, err
		}
		if err := PutChainInfo(wtx, info); err != nil {
			return 0, err
		}
	}

	if err := setHead(wtx, candidate.BlockHash); err != nil {
		return 0, err
	}
	if err := p.finalizeMacroState(wtx, candidate); err != nil {
		return 0, err
	}

	metrics.ChainHeight.Set(float64(candidate.HeightField))
	metrics.RebranchesTotal.Inc()
	p.Notifier.Emit(Event{
		Type:     EventRebranched,
		OldHead:  head.BlockHash,
		NewHead:  candidate.BlockHash,
		Reverted: reverted,
		Adopted:  adopted,
	})
	p.notifyFinalizedIfMacro(candidate)
	return PushRebranched, nil
}

// ancestryPath walks from's parent chain down to (but not including)
// toHeight, returning the visited entries in descending-height order and
// the entry found at toHeight.
func ancestryPath(rtx storage.ReadTransaction, from ChainInfo, toHeight uint32) ([]ChainInfo, ChainInfo, error) {
	var path []ChainInfo
	cur := from
	for cur.HeightField > toHeight {
		path = append(path, cur)
		parent, err := GetChainInfo(rtx, cur.ParentHash)
		if err != nil {
			return nil, ChainInfo{}, err
		}
		cur = parent
	}
	return path, cur, nil
}

// findCommonAncestor returns the nearest block both a and b descend from,
// plus each branch's path back to it (exclusive), in descending-height
// order (tip first).
func findCommonAncestor(rtx storage.ReadTransaction, a, b ChainInfo) (ChainInfo, []ChainInfo, []ChainInfo, error) {
	var aPath, bPath []ChainInfo
	var err error

	switch {
	case a.HeightField > b.HeightField:
		aPath, a, err = ancestryPath(rtx, a, b.HeightField)
	case b.HeightField > a.HeightField:
		bPath, b, err = ancestryPath(rtx, b, a.HeightField)
	}
	if err != nil {
		return ChainInfo{}, nil, nil, err
	}

	for a.BlockHash != b.BlockHash {
		aPath = append(aPath, a)
		bPath = append(bPath, b)
		a, err = GetChainInfo(rtx, a.ParentHash)
		if err != nil {
			return ChainInfo{}, nil, nil, err
		}
		b, err = GetChainInfo(rtx, b.ParentHash)
		if err != nil {
			return ChainInfo{}, nil, nil, err
		}
	}
	return a, aPath, bPath, nil
}

// applyForward runs a block's transactions and inherents against the
// accounts trie and appends the resulting leaves to the history engine.
// Shared by PushGenesis, extend, and rebranch's adopt phase — the same
// work regardless of why this particular block is being applied now.
func (p *Pipeline) applyForward(wtx storage.WriteTransaction, info ChainInfo, inherents []primitives.Inherent) error {
	var txs []primitives.Transaction
	var equivocations []primitives.Hash
	if mb, ok := info.Block.(*MicroBlock); ok {
		txs = mb.Body.Transactions
		for _, eq := range mb.Body.EquivocationProofs {
			equivocations = append(equivocations, eq.Hash())
		}
	}

	_, outcomes, err := p.Accounts.ApplyBlock(wtx, info.HeightField, txs, inherents)
	if err != nil {
		return err
	}

	var executed []history.ExecutedTransaction
	if mb, ok := info.Block.(*MicroBlock); ok {
		executed = ExecutedTransactions(mb.Body, outcomes)
	}
	leaves := history.BuildHistoricTransactions(
		info.Block.Network(), info.HeightField, info.Block.Timestamp(),
		executed, inherents, equivocations,
	)
	epoch := policy.EpochAt(info.HeightField)
	if _, _, err := p.History.AddBlock(wtx, epoch, info.HeightField, leaves); err != nil {
		return fmt.Errorf("chain: add block %d to history: %w", info.HeightField, err)
	}
	return nil
}

// finalizeMacroState updates the macro head and, on an election block,
// persists the next epoch's validator set. A no-op for Micro blocks. Kept
// separate from event emission so Extended always fires before
// Finalized/EpochFinalized, per spec.md §4.6 step 6.
func (p *Pipeline) finalizeMacroState(wtx storage.WriteTransaction, info ChainInfo) error {
	mb, ok := info.Block.(*MacroBlock)
	if !ok {
		return nil
	}
	if err := setMacroHead(wtx, info.BlockHash); err != nil {
		return err
	}
	if mb.Header.Election && mb.Header.NextValidators != nil {
		if err := PutValidatorSet(wtx, *mb.Header.NextValidators); err != nil {
			return err
		}
	}
	return nil
}

func (p *Pipeline) notifyExtended(info ChainInfo) {
	p.Notifier.Emit(Event{Type: EventExtended, Hash: info.BlockHash})
}

func (p *Pipeline) notifyFinalizedIfMacro(info ChainInfo) {
	mb, ok := info.Block.(*MacroBlock)
	if !ok {
		return
	}
	if mb.Header.Election {
		p.Notifier.Emit(Event{Type: EventEpochFinalized, Hash: info.BlockHash})
		return
	}
	p.Notifier.Emit(Event{Type: EventFinalized, Hash: info.BlockHash})
}
