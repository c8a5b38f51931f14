package accounts

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/albatross-go/node/internal/primitives"
	"github.com/albatross-go/node/internal/storage"
)

// ErrNoReceipt is returned by RevertBlock when the block has no recorded
// receipt to undo.
var ErrNoReceipt = errors.New("accounts: no receipt for block")

var rootPointerKey = []byte("root")

// blockReceipt records the trie root immediately before a block's
// mutations were applied. Because the trie is content-addressed and Put
// never overwrites or deletes an existing node, reverting a block is
// exactly restoring this prior root — no need to enumerate which accounts
// the block touched.
type blockReceipt struct {
	PriorRoot primitives.Hash `json:"prior_root"`
}

// Store is the accounts-trie-backed generic commit/revert engine C7's
// block pipeline drives per block, alongside the history engine.
type Store struct{}

// NewStore creates an accounts store.
func NewStore() *Store { return &Store{} }

func blockKey(blockNumber uint32) []byte {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], blockNumber)
	return b[:]
}

// Root returns the current committed trie root, or EmptyRoot() if no
// account has ever been written.
func (s *Store) Root(rtx storage.ReadTransaction) (primitives.Hash, error) {
	raw, err := rtx.Get(storage.TableAccountsTree, rootPointerKey)
	if errors.Is(err, storage.ErrNotFound) {
		return EmptyRoot(), nil
	}
	if err != nil {
		return primitives.Hash{}, fmt.Errorf("accounts: load root: %w", err)
	}
	if len(raw) != primitives.HashSize {
		return primitives.Hash{}, fmt.Errorf("accounts: root pointer has %d bytes, want %d", len(raw), primitives.HashSize)
	}
	var h primitives.Hash
	copy(h[:], raw)
	return h, nil
}

func (s *Store) saveRoot(wtx storage.WriteTransaction, root primitives.Hash) error {
	return wtx.Put(storage.TableAccountsTree, rootPointerKey, root[:])
}

// Get returns the account stored at addr, or a zero-balance Basic account
// if none exists yet (every address is implicitly a Basic account with
// zero balance until first credited).
func (s *Store) Get(rtx storage.ReadTransaction, addr primitives.Address) (*Account, error) {
	root, err := s.Root(rtx)
	if err != nil {
		return nil, err
	}
	return s.getOrDefault(rtx, root, addr)
}

func (s *Store) getOrDefault(rtx storage.ReadTransaction, root primitives.Hash, addr primitives.Address) (*Account, error) {
	acct, err := Get(rtx, root, addr)
	if errors.Is(err, ErrAccountNotFound) {
		return NewBasic(0), nil
	}
	if err != nil {
		return nil, err
	}
	return acct, nil
}

// ApplyBlock applies a block's transactions (in order) then its inherents
// against the accounts trie in one pass, persists a receipt letting
// RevertBlock undo the whole block in O(1), and returns the new root
// together with each transaction's outcome (in the same order as txs) for
// the caller to fold into the block's history leaves.
//
// Whether a transaction succeeds is decided here, not by the caller: fee
// affordability is the mempool's admission-time responsibility (out of
// scope for this engine), so the only thing that can fail at execution
// time is the value transfer itself. A transaction that cannot afford its
// value still pays its fee and is recorded as failed rather than rejected
// (spec.md §3's "hash is stable over the executed/failed discriminator").
func (s *Store) ApplyBlock(wtx storage.WriteTransaction, blockNumber uint32, txs []primitives.Transaction, inherents []primitives.Inherent) (primitives.Hash, []bool, error) {
	priorRoot, err := s.Root(wtx)
	if err != nil {
		return primitives.Hash{}, nil, err
	}

	root := priorRoot
	outcomes := make([]bool, len(txs))
	for i, tx := range txs {
		var ok bool
		root, ok, err = s.applyTransaction(wtx, root, blockNumber, tx)
		if err != nil {
			return primitives.Hash{}, nil, fmt.Errorf("accounts: apply transaction %d of block %d: %w", i, blockNumber, err)
		}
		outcomes[i] = ok
	}
	for i, inh := range inherents {
		root, err = s.applyInherent(wtx, root, inh)
		if err != nil {
			return primitives.Hash{}, nil, fmt.Errorf("accounts: apply inherent %d of block %d: %w", i, blockNumber, err)
		}
	}

	raw, err := json.Marshal(blockReceipt{PriorRoot: priorRoot})
	if err != nil {
		return primitives.Hash{}, nil, fmt.Errorf("accounts: encode block %d receipt: %w", blockNumber, err)
	}
	if err := wtx.Put(storage.TableAccountsReceipts, blockKey(blockNumber), raw); err != nil {
		return primitives.Hash{}, nil, err
	}
	if err := s.saveRoot(wtx, root); err != nil {
		return primitives.Hash{}, nil, err
	}
	return root, outcomes, nil
}

// RevertBlock restores the trie root to what it was immediately before
// ApplyBlock(blockNumber, ...) ran.
func (s *Store) RevertBlock(wtx storage.WriteTransaction, blockNumber uint32) error {
	raw, err := wtx.Get(storage.TableAccountsReceipts, blockKey(blockNumber))
	if errors.Is(err, storage.ErrNotFound) {
		return fmt.Errorf("%w: block %d", ErrNoReceipt, blockNumber)
	}
	if err != nil {
		return fmt.Errorf("accounts: load block %d receipt: %w", blockNumber, err)
	}
	var receipt blockReceipt
	if err := json.Unmarshal(raw, &receipt); err != nil {
		return fmt.Errorf("accounts: decode block %d receipt: %w", blockNumber, err)
	}
	if err := s.saveRoot(wtx, receipt.PriorRoot); err != nil {
		return err
	}
	return wtx.Delete(storage.TableAccountsReceipts, blockKey(blockNumber))
}

func (s *Store) applyTransaction(wtx storage.WriteTransaction, root primitives.Hash, blockNumber uint32, tx primitives.Transaction) (primitives.Hash, bool, error) {
	sender, err := s.getOrDefault(wtx, root, tx.Sender)
	if err != nil {
		return primitives.Hash{}, false, err
	}

	ok := true
	if err := sender.DebitOutgoing(tx.Value, tx.Fee, blockNumber); err != nil {
		if !errors.Is(err, ErrInsufficientBalance) {
			return primitives.Hash{}, false, err
		}
		// Can't afford the value; fall back to a fee-only debit. Fee
		// affordability is guaranteed before a transaction is ever
		// admitted to a block, so this is expected to succeed.
		if err := sender.DebitOutgoing(0, tx.Fee, blockNumber); err != nil {
			return primitives.Hash{}, false, fmt.Errorf("fee-only debit also failed: %w", err)
		}
		ok = false
	}
	root, err = Put(wtx, root, tx.Sender, sender)
	if err != nil {
		return primitives.Hash{}, false, err
	}

	if !ok || tx.Value == 0 {
		return root, ok, nil
	}
	recipient, err := s.getOrDefault(wtx, root, tx.Recipient)
	if err != nil {
		return primitives.Hash{}, false, err
	}
	recipient.CreditIncoming(tx.Value)
	root, err = Put(wtx, root, tx.Recipient, recipient)
	if err != nil {
		return primitives.Hash{}, false, err
	}
	return root, true, nil
}

func (s *Store) applyInherent(wtx storage.WriteTransaction, root primitives.Hash, inh primitives.Inherent) (primitives.Hash, error) {
	switch inh.Type {
	case primitives.InherentReward:
		target, err := s.getOrDefault(wtx, root, inh.Target)
		if err != nil {
			return primitives.Hash{}, err
		}
		target.CreditIncoming(inh.Value)
		return Put(wtx, root, inh.Target, target)

	case primitives.InherentSlash:
		return s.slashStakingDeposit(wtx, root, inh.ValidatorID, inh.Value)

	case primitives.InherentJail, primitives.InherentEquivocation:
		// Jailing and equivocation evidence are validator-set and
		// chain-store status changes (C7/C8), not balance mutations;
		// the accounts trie has nothing to do for either.
		return root, nil

	default:
		return primitives.Hash{}, fmt.Errorf("accounts: unknown inherent type %d", inh.Type)
	}
}

func (s *Store) slashStakingDeposit(wtx storage.WriteTransaction, root primitives.Hash, validator primitives.Address, amount uint64) (primitives.Hash, error) {
	contract, err := s.getOrDefault(wtx, root, primitives.StakingContractAddress)
	if err != nil {
		return primitives.Hash{}, err
	}
	if contract.Type != TypeStaking {
		contract = &Account{Type: TypeStaking, Staking: &StakingData{Deposits: map[primitives.Address]uint64{}}}
	}
	if contract.Staking == nil {
		contract.Staking = &StakingData{Deposits: map[primitives.Address]uint64{}}
	}
	deposit := contract.Staking.Deposits[validator]
	if amount > deposit {
		amount = deposit
	}
	// Clamp against the contract's own aggregate balance too, so a
	// bookkeeping divergence between Balance and the sum of Deposits can
	// never underflow it.
	if amount > contract.Balance {
		amount = contract.Balance
	}
	contract.Staking.Deposits[validator] = deposit - amount
	contract.Balance -= amount
	return Put(wtx, root, primitives.StakingContractAddress, contract)
}
