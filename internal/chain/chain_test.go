package chain

import (
	"sync"
	"testing"

	"github.com/albatross-go/node/internal/accounts"
	"github.com/albatross-go/node/internal/history"
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

func newPipeline() *Pipeline {
	return NewPipeline(accounts.NewStore(), history.NewFull(), NewNotifier(16))
}

func genesisBlock() *MicroBlock {
	return &MicroBlock{Header: MicroHeader{
		Network:     primitives.NetworkDevAlbatross,
		HeightField: 0,
		Seed:        []byte("genesis-seed"),
		TimestampMS: 0,
	}}
}

func microBlock(height uint32, parent primitives.Hash, seedTag string, txs []primitives.Transaction) *MicroBlock {
	return &MicroBlock{Header: MicroHeader{
		Network:     primitives.NetworkDevAlbatross,
		HeightField: height,
		Parent:      parent,
		Seed:        []byte(seedTag),
		TimestampMS: uint64(height) * 1000,
	}, Body: MicroBody{Transactions: txs}}
}

func TestPushGenesisBecomesHead(t *testing.T) {
	db := storage.NewMemory()
	p := newPipeline()
	g := genesisBlock()

	withWrite(t, db, func(wtx storage.WriteTransaction) error {
		return p.PushGenesis(wtx, g, nil)
	})

	head := withRead(t, db, func(rtx storage.ReadTransaction) (ChainInfo, error) { return GetHead(rtx) })
	if head.BlockHash != g.Hash() || !head.OnMainChain {
		t.Fatalf("head = %+v, want genesis on main chain", head)
	}

	select {
	case ev := <-p.Notifier.Events():
		if ev.Type != EventExtended || ev.Hash != g.Hash() {
			t.Errorf("event = %+v, want Extended(genesis)", ev)
		}
	default:
		t.Fatal("expected an Extended event from genesis push")
	}
}

func TestPushExtendsHead(t *testing.T) {
	db := storage.NewMemory()
	p := newPipeline()
	g := genesisBlock()
	sender := testAddress(1)
	recipient := testAddress(2)

	withWrite(t, db, func(wtx storage.WriteTransaction) error {
		return p.PushGenesis(wtx, g, []primitives.Inherent{
			{Type: primitives.InherentReward, Target: sender, Value: 1000},
		})
	})

	tx := primitives.Transaction{Sender: sender, Recipient: recipient, Value: 100, Fee: 1}
	a := microBlock(1, g.Hash(), "a", []primitives.Transaction{tx})

	var result PushResult
	withWrite(t, db, func(wtx storage.WriteTransaction) error {
		var err error
		result, err = p.Push(wtx, a, nil)
		return err
	})
	if result != PushExtended {
		t.Fatalf("Push result = %v, want Extended", result)
	}

	head := withRead(t, db, func(rtx storage.ReadTransaction) (ChainInfo, error) { return GetHead(rtx) })
	if head.BlockHash != a.Hash() || head.HeightField != 1 {
		t.Fatalf("head = %+v, want block a at height 1", head)
	}
	recipientAcct := withRead(t, db, func(rtx storage.ReadTransaction) (*accounts.Account, error) {
		return p.Accounts.Get(rtx, recipient)
	})
	if recipientAcct.Balance != 100 {
		t.Errorf("recipient balance = %d, want 100", recipientAcct.Balance)
	}
}

func TestPushKnownForDuplicate(t *testing.T) {
	db := storage.NewMemory()
	p := newPipeline()
	g := genesisBlock()
	withWrite(t, db, func(wtx storage.WriteTransaction) error { return p.PushGenesis(wtx, g, nil) })

	a := microBlock(1, g.Hash(), "a", nil)
	withWrite(t, db, func(wtx storage.WriteTransaction) error {
		_, err := p.Push(wtx, a, nil)
		return err
	})

	var result PushResult
	withWrite(t, db, func(wtx storage.WriteTransaction) error {
		var err error
		result, err = p.Push(wtx, a, nil)
		return err
	})
	if result != PushKnown {
		t.Errorf("Push of an already-stored block = %v, want Known", result)
	}
}

func TestPushOrphanForUnknownParent(t *testing.T) {
	db := storage.NewMemory()
	p := newPipeline()
	g := genesisBlock()
	withWrite(t, db, func(wtx storage.WriteTransaction) error { return p.PushGenesis(wtx, g, nil) })

	var unknownParent primitives.Hash
	unknownParent[0] = 0xff
	orphan := microBlock(5, unknownParent, "orphan", nil)

	var result PushResult
	withWrite(t, db, func(wtx storage.WriteTransaction) error {
		var err error
		result, err = p.Push(wtx, orphan, nil)
		return err
	})
	if result != PushOrphan {
		t.Errorf("Push of a block with an unknown parent = %v, want Orphan", result)
	}
}

// TestForkChoiceRebranchRevertsLoserAndAdoptsWinner builds two competing
// micro blocks on top of genesis, lets the pipeline decide a winner by
// fork choice, then extends whichever one lost with a second block —
// forcing a rebranch regardless of which block initially won the tie —
// and checks that only the adopted branch's transactions are reflected in
// the final account balances.
func TestForkChoiceRebranchRevertsLoserAndAdoptsWinner(t *testing.T) {
	db := storage.NewMemory()
	p := newPipeline()
	g := genesisBlock()
	sender := testAddress(1)
	recipientA := testAddress(2)
	recipientB := testAddress(3)
	recipientC := testAddress(4)

	withWrite(t, db, func(wtx storage.WriteTransaction) error {
		return p.PushGenesis(wtx, g, []primitives.Inherent{
			{Type: primitives.InherentReward, Target: sender, Value: 1000},
		})
	})

	txA := primitives.Transaction{Sender: sender, Recipient: recipientA, Value: 100, Fee: 1}
	txB := primitives.Transaction{Sender: sender, Recipient: recipientB, Value: 100, Fee: 1}
	a := microBlock(1, g.Hash(), "branch-a", []primitives.Transaction{txA})
	b := microBlock(1, g.Hash(), "branch-b", []primitives.Transaction{txB})

	withWrite(t, db, func(wtx storage.WriteTransaction) error {
		_, err := p.Push(wtx, a, nil)
		return err
	})
	withWrite(t, db, func(wtx storage.WriteTransaction) error {
		_, err := p.Push(wtx, b, nil)
		return err
	})

	headAfterFork := withRead(t, db, func(rtx storage.ReadTransaction) (ChainInfo, error) { return GetHead(rtx) })
	var loser *MicroBlock
	var loserRecipient primitives.Address
	if headAfterFork.BlockHash == a.Hash() {
		loser, loserRecipient = b, recipientB
	} else {
		loser, loserRecipient = a, recipientA
	}

	txC := primitives.Transaction{Sender: sender, Recipient: recipientC, Value: 50, Fee: 1}
	c := microBlock(2, loser.Hash(), "extends-loser", []primitives.Transaction{txC})

	var result PushResult
	withWrite(t, db, func(wtx storage.WriteTransaction) error {
		var err error
		result, err = p.Push(wtx, c, nil)
		return err
	})
	if result != PushRebranched {
		t.Fatalf("Push of block extending the losing fork = %v, want Rebranched", result)
	}

	head := withRead(t, db, func(rtx storage.ReadTransaction) (ChainInfo, error) { return GetHead(rtx) })
	if head.BlockHash != c.Hash() {
		t.Fatalf("head after rebranch = %s, want block c %s", head.BlockHash, c.Hash())
	}

	senderAcct := withRead(t, db, func(rtx storage.ReadTransaction) (*accounts.Account, error) { return p.Accounts.Get(rtx, sender) })
	if senderAcct.Balance != 1000-101-51 {
		t.Errorf("sender balance after rebranch = %d, want %d", senderAcct.Balance, 1000-101-51)
	}
	loserRecipientAcct := withRead(t, db, func(rtx storage.ReadTransaction) (*accounts.Account, error) {
		return p.Accounts.Get(rtx, loserRecipient)
	})
	if loserRecipientAcct.Balance != 100 {
		t.Errorf("adopted branch's recipient balance = %d, want 100", loserRecipientAcct.Balance)
	}
	cRecipientAcct := withRead(t, db, func(rtx storage.ReadTransaction) (*accounts.Account, error) { return p.Accounts.Get(rtx, recipientC) })
	if cRecipientAcct.Balance != 50 {
		t.Errorf("c's recipient balance = %d, want 50", cRecipientAcct.Balance)
	}

	var rebranchEvent *Event
	drain := true
	for drain {
		select {
		case ev := <-p.Notifier.Events():
			if ev.Type == EventRebranched {
				e := ev
				rebranchEvent = &e
			}
		default:
			drain = false
		}
	}
	if rebranchEvent == nil {
		t.Fatal("expected a Rebranched event")
	}
	if rebranchEvent.NewHead != c.Hash() {
		t.Errorf("Rebranched.NewHead = %s, want %s", rebranchEvent.NewHead, c.Hash())
	}
	if len(rebranchEvent.Reverted) == 0 || len(rebranchEvent.Adopted) == 0 {
		t.Errorf("Rebranched event = %+v, want non-empty Reverted and Adopted", rebranchEvent)
	}
}

func TestWinsForkChoiceTieBreaksOnLowerHash(t *testing.T) {
	low := ChainInfo{CumulativeWork: 5, BlockHash: primitives.Hash{0x01}}
	high := ChainInfo{CumulativeWork: 5, BlockHash: primitives.Hash{0x02}}
	if !winsForkChoice(low, high) {
		t.Error("lower hash at equal work should win fork choice")
	}
	if winsForkChoice(high, low) {
		t.Error("higher hash at equal work should not win fork choice")
	}

	heavier := ChainInfo{CumulativeWork: 6, BlockHash: primitives.Hash{0xff}}
	if !winsForkChoice(heavier, high) {
		t.Error("strictly higher cumulative work should win regardless of hash")
	}
}

func TestGuardUpgradableReadSerializesUpgrades(t *testing.T) {
	var g Guard
	var counter int

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = g.UpgradableRead(func(upgrade func(func())) error {
				upgrade(func() { counter++ })
				return nil
			})
		}()
	}
	wg.Wait()
	if counter != 8 {
		t.Errorf("counter = %d, want 8 (every upgrade must run exactly once)", counter)
	}
}

func TestNotifierSubscribeRunsBeforeChannelDelivery(t *testing.T) {
	n := NewNotifier(1)
	var handlerRan bool
	n.Subscribe(func(ev Event) {
		handlerRan = true
		if ev.Type != EventFinalized {
			t.Errorf("handler saw %v, want Finalized", ev.Type)
		}
	})
	n.Emit(Event{Type: EventFinalized})
	if !handlerRan {
		t.Error("registered handler did not run")
	}
	select {
	case ev := <-n.Events():
		if ev.Type != EventFinalized {
			t.Errorf("channel event = %v, want Finalized", ev.Type)
		}
	default:
		t.Error("expected the event on the channel too")
	}
}
