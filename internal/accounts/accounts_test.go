package accounts

import (
	"errors"
	"testing"

	"github.com/albatross-go/node/internal/primitives"
	"github.com/albatross-go/node/internal/storage"
)

func testAddress(b byte) primitives.Address {
	var a primitives.Address
	a[primitives.AddressSize-1] = b
	return a
}

func withWrite(t *testing.T, db *storage.Memory, fn func(storage.WriteTransaction) error) {
	t.Helper()
	wtx, err := db.NewWriteTransaction()
	if err != nil {
		t.Fatalf("NewWriteTransaction: %v", err)
	}
	if err := fn(wtx); err != nil {
		wtx.Abort()
		t.Fatalf("write transaction: %v", err)
	}
	if err := wtx.Commit(); err != nil {
		t.Fatalf("Commit: %v", err)
	}
}

func withRead[T any](t *testing.T, db *storage.Memory, fn func(storage.ReadTransaction) (T, error)) T {
	t.Helper()
	rtx, err := db.NewReadTransaction()
	if err != nil {
		t.Fatalf("NewReadTransaction: %v", err)
	}
	defer rtx.Close()
	v, err := fn(rtx)
	if err != nil {
		t.Fatalf("read transaction: %v", err)
	}
	return v
}

func TestTriePutGetRoundTrip(t *testing.T) {
	db := storage.NewMemory()
	a1 := testAddress(1)
	a2 := testAddress(2)

	var root primitives.Hash
	withWrite(t, db, func(wtx storage.WriteTransaction) error {
		var err error
		root, err = Put(wtx, EmptyRoot(), a1, NewBasic(100))
		if err != nil {
			return err
		}
		root, err = Put(wtx, root, a2, NewBasic(200))
		return err
	})

	got1 := withRead(t, db, func(rtx storage.ReadTransaction) (*Account, error) { return Get(rtx, root, a1) })
	got2 := withRead(t, db, func(rtx storage.ReadTransaction) (*Account, error) { return Get(rtx, root, a2) })
	if got1.Balance != 100 || got2.Balance != 200 {
		t.Fatalf("got balances %d, %d; want 100, 200", got1.Balance, got2.Balance)
	}
}

func TestTrieGetMissingReturnsErrAccountNotFound(t *testing.T) {
	db := storage.NewMemory()
	rtx, err := db.NewReadTransaction()
	if err != nil {
		t.Fatalf("NewReadTransaction: %v", err)
	}
	defer rtx.Close()
	if _, err := Get(rtx, EmptyRoot(), testAddress(9)); !errors.Is(err, ErrAccountNotFound) {
		t.Errorf("Get on empty trie error = %v, want ErrAccountNotFound", err)
	}
}

func TestTrieOverwritePreservesOtherEntries(t *testing.T) {
	db := storage.NewMemory()
	a1 := testAddress(1)
	a2 := testAddress(2)

	var root primitives.Hash
	withWrite(t, db, func(wtx storage.WriteTransaction) error {
		var err error
		root, err = Put(wtx, EmptyRoot(), a1, NewBasic(100))
		if err != nil {
			return err
		}
		root, err = Put(wtx, root, a2, NewBasic(200))
		if err != nil {
			return err
		}
		root, err = Put(wtx, root, a1, NewBasic(999))
		return err
	})

	got1 := withRead(t, db, func(rtx storage.ReadTransaction) (*Account, error) { return Get(rtx, root, a1) })
	got2 := withRead(t, db, func(rtx storage.ReadTransaction) (*Account, error) { return Get(rtx, root, a2) })
	if got1.Balance != 999 {
		t.Errorf("overwritten balance = %d, want 999", got1.Balance)
	}
	if got2.Balance != 200 {
		t.Errorf("other account balance = %d, want 200 (unaffected by overwrite)", got2.Balance)
	}
}

func TestTrieDeleteRemovesOnlyTargetedAccount(t *testing.T) {
	db := storage.NewMemory()
	a1 := testAddress(1)
	a2 := testAddress(2)

	var root primitives.Hash
	withWrite(t, db, func(wtx storage.WriteTransaction) error {
		var err error
		root, err = Put(wtx, EmptyRoot(), a1, NewBasic(100))
		if err != nil {
			return err
		}
		root, err = Put(wtx, root, a2, NewBasic(200))
		if err != nil {
			return err
		}
		root, err = Delete(wtx, root, a1)
		return err
	})

	rtx, err := db.NewReadTransaction()
	if err != nil {
		t.Fatalf("NewReadTransaction: %v", err)
	}
	defer rtx.Close()
	if _, err := Get(rtx, root, a1); !errors.Is(err, ErrAccountNotFound) {
		t.Errorf("Get(deleted account) error = %v, want ErrAccountNotFound", err)
	}
	got2, err := Get(rtx, root, a2)
	if err != nil || got2.Balance != 200 {
		t.Errorf("Get(untouched account) = %v, %v; want balance 200", got2, err)
	}
}

func TestVestingReleasedAtClampsToTotal(t *testing.T) {
	v := VestingData{VestingStart: 100, VestingStepBlocks: 10, VestingStepAmount: 5, VestingTotalAmount: 12}
	if got := v.ReleasedAt(50); got != 0 {
		t.Errorf("ReleasedAt before start = %d, want 0", got)
	}
	if got := v.ReleasedAt(110); got != 5 {
		t.Errorf("ReleasedAt one step in = %d, want 5", got)
	}
	if got := v.ReleasedAt(1000); got != 12 {
		t.Errorf("ReleasedAt long after = %d, want 12 (clamped to total)", got)
	}
}

func TestDebitOutgoingRejectsInsufficientBalance(t *testing.T) {
	a := NewBasic(10)
	if err := a.DebitOutgoing(5, 10, 1); !errors.Is(err, ErrInsufficientBalance) {
		t.Errorf("DebitOutgoing over balance error = %v, want ErrInsufficientBalance", err)
	}
}

func TestDebitOutgoingRespectsVestingLock(t *testing.T) {
	a := &Account{
		Type:    TypeVesting,
		Balance: 100,
		Vesting: &VestingData{VestingStart: 0, VestingStepBlocks: 1, VestingStepAmount: 10, VestingTotalAmount: 100},
	}
	// At block 0, nothing has released yet, so no outgoing spend should succeed.
	if err := a.DebitOutgoing(1, 0, 0); !errors.Is(err, ErrInsufficientBalance) {
		t.Errorf("DebitOutgoing before any vesting release error = %v, want ErrInsufficientBalance", err)
	}
	// At block 5, 50 has released.
	if err := a.DebitOutgoing(50, 0, 5); err != nil {
		t.Errorf("DebitOutgoing within released amount: %v", err)
	}
}

func TestAccountSerializeRoundTrip(t *testing.T) {
	a := &Account{
		Type: TypeStaking,
		Staking: &StakingData{Deposits: map[primitives.Address]uint64{
			testAddress(1): 100,
			testAddress(2): 200,
		}},
		Balance: 300,
	}
	decoded, err := DecodeAccount(a.SerializeContent())
	if err != nil {
		t.Fatalf("DecodeAccount: %v", err)
	}
	if decoded.Balance != 300 || len(decoded.Staking.Deposits) != 2 {
		t.Fatalf("decoded = %+v, want balance 300 with 2 deposits", decoded)
	}
	if decoded.Staking.Deposits[testAddress(1)] != 100 || decoded.Staking.Deposits[testAddress(2)] != 200 {
		t.Errorf("decoded deposits = %v, want {1:100, 2:200}", decoded.Staking.Deposits)
	}
}

func TestStoreApplyBlockCreditsAndDebits(t *testing.T) {
	db := storage.NewMemory()
	store := NewStore()
	sender := testAddress(1)
	recipient := testAddress(2)

	withWrite(t, db, func(wtx storage.WriteTransaction) error {
		root, err := Put(wtx, EmptyRoot(), sender, NewBasic(1000))
		if err != nil {
			return err
		}
		return (&Store{}).saveRoot(wtx, root)
	})

	tx := primitives.Transaction{Sender: sender, Recipient: recipient, Value: 100, Fee: 1}
	var outcomes []bool
	withWrite(t, db, func(wtx storage.WriteTransaction) error {
		var err error
		_, outcomes, err = store.ApplyBlock(wtx, 1, []primitives.Transaction{tx}, nil)
		return err
	})
	if len(outcomes) != 1 || !outcomes[0] {
		t.Errorf("outcomes = %v, want [true]", outcomes)
	}

	senderAcct := withRead(t, db, func(rtx storage.ReadTransaction) (*Account, error) { return store.Get(rtx, sender) })
	recipientAcct := withRead(t, db, func(rtx storage.ReadTransaction) (*Account, error) { return store.Get(rtx, recipient) })
	if senderAcct.Balance != 899 {
		t.Errorf("sender balance = %d, want 899", senderAcct.Balance)
	}
	if recipientAcct.Balance != 100 {
		t.Errorf("recipient balance = %d, want 100", recipientAcct.Balance)
	}
}

func TestStoreFailedTransactionOnlyConsumesFee(t *testing.T) {
	db := storage.NewMemory()
	store := NewStore()
	sender := testAddress(1)
	recipient := testAddress(2)

	// Sender can afford the fee but not the value: ApplyBlock must fall
	// back to a fee-only debit and report the transaction as failed,
	// rather than rejecting it outright.
	withWrite(t, db, func(wtx storage.WriteTransaction) error {
		root, err := Put(wtx, EmptyRoot(), sender, NewBasic(1))
		if err != nil {
			return err
		}
		return store.saveRoot(wtx, root)
	})

	tx := primitives.Transaction{Sender: sender, Recipient: recipient, Value: 100, Fee: 1}
	var outcomes []bool
	withWrite(t, db, func(wtx storage.WriteTransaction) error {
		var err error
		_, outcomes, err = store.ApplyBlock(wtx, 1, []primitives.Transaction{tx}, nil)
		return err
	})
	if len(outcomes) != 1 || outcomes[0] {
		t.Errorf("outcomes = %v, want [false]", outcomes)
	}

	senderAcct := withRead(t, db, func(rtx storage.ReadTransaction) (*Account, error) { return store.Get(rtx, sender) })
	recipientAcct := withRead(t, db, func(rtx storage.ReadTransaction) (*Account, error) { return store.Get(rtx, recipient) })
	if senderAcct.Balance != 0 {
		t.Errorf("sender balance after failed tx = %d, want 0 (fee only)", senderAcct.Balance)
	}
	if recipientAcct.Balance != 0 {
		t.Errorf("recipient balance after failed tx = %d, want 0", recipientAcct.Balance)
	}
}

func TestStoreRevertBlockRestoresPriorRoot(t *testing.T) {
	db := storage.NewMemory()
	store := NewStore()
	sender := testAddress(1)
	recipient := testAddress(2)

	withWrite(t, db, func(wtx storage.WriteTransaction) error {
		root, err := Put(wtx, EmptyRoot(), sender, NewBasic(1000))
		if err != nil {
			return err
		}
		return store.saveRoot(wtx, root)
	})
	rootBefore := withRead(t, db, func(rtx storage.ReadTransaction) (primitives.Hash, error) { return store.Root(rtx) })

	tx := primitives.Transaction{Sender: sender, Recipient: recipient, Value: 100, Fee: 1}
	withWrite(t, db, func(wtx storage.WriteTransaction) error {
		_, _, err := store.ApplyBlock(wtx, 7, []primitives.Transaction{tx}, nil)
		return err
	})
	withWrite(t, db, func(wtx storage.WriteTransaction) error {
		return store.RevertBlock(wtx, 7)
	})

	rootAfter := withRead(t, db, func(rtx storage.ReadTransaction) (primitives.Hash, error) { return store.Root(rtx) })
	if rootAfter != rootBefore {
		t.Fatalf("root after revert = %s, want %s (pre-block root)", rootAfter, rootBefore)
	}
	senderAcct := withRead(t, db, func(rtx storage.ReadTransaction) (*Account, error) { return store.Get(rtx, sender) })
	if senderAcct.Balance != 1000 {
		t.Errorf("sender balance after revert = %d, want 1000", senderAcct.Balance)
	}
}

func TestStoreRewardInherentCreditsTarget(t *testing.T) {
	db := storage.NewMemory()
	store := NewStore()
	validator := testAddress(5)

	withWrite(t, db, func(wtx storage.WriteTransaction) error {
		_, _, err := store.ApplyBlock(wtx, 1, nil, []primitives.Inherent{
			{Type: primitives.InherentReward, Target: validator, Value: 50},
		})
		return err
	})

	acct := withRead(t, db, func(rtx storage.ReadTransaction) (*Account, error) { return store.Get(rtx, validator) })
	if acct.Balance != 50 {
		t.Errorf("validator balance after reward = %d, want 50", acct.Balance)
	}
}
