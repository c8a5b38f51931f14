// Package accounts implements the accounts trie and the generic
// commit/revert contract transactions and inherents apply against it: a
// Merkle-Patricia trie over address nibbles, persisted as a
// content-addressed node DAG, plus the four account record kinds (Basic,
// Vesting, HTLC, Staking). Account-type-specific execution rules beyond
// the generic balance commit/revert contract (vesting release schedules,
// HTLC hash-lock redemption, staking reward/slash bookkeeping details) are
// out of scope here; this package only guarantees that an applied mutation
// can always be undone from its receipt.
package accounts

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/albatross-go/node/internal/primitives"
)

var (
	// ErrInsufficientBalance is returned when an outgoing transaction or
	// inherent would take an account's balance negative.
	ErrInsufficientBalance = errors.New("accounts: insufficient balance")

	// ErrWrongAccountType reports an operation against an account of an
	// incompatible type. No function in this package returns it: an
	// outgoing transaction from a Vesting account beyond its released
	// balance fails with ErrInsufficientBalance instead.
	ErrWrongAccountType = errors.New("accounts: wrong account type for this operation")
)

// Type discriminates the four account record kinds spec.md §3 names.
type Type uint8

const (
	TypeBasic   Type = 0
	TypeVesting Type = 1
	TypeHTLC    Type = 2
	TypeStaking Type = 3
)

func (t Type) String() string {
	switch t {
	case TypeBasic:
		return "basic"
	case TypeVesting:
		return "vesting"
	case TypeHTLC:
		return "htlc"
	case TypeStaking:
		return "staking"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(t))
	}
}

// VestingData is the type-specific payload of a Vesting account: balance
// releases linearly from VestingStart in VestingStepAmount increments
// every VestingStepBlocks blocks, up to VestingTotalAmount.
type VestingData struct {
	Owner              primitives.Address
	VestingStart       uint64
	VestingStepBlocks  uint32
	VestingStepAmount  uint64
	VestingTotalAmount uint64
}

// ReleasedAt returns the portion of VestingTotalAmount unlocked as of
// blockNumber.
func (v VestingData) ReleasedAt(blockNumber uint32) uint64 {
	if uint64(blockNumber) < v.VestingStart || v.VestingStepBlocks == 0 {
		return 0
	}
	steps := (uint64(blockNumber) - v.VestingStart) / uint64(v.VestingStepBlocks)
	released := steps * v.VestingStepAmount
	if released > v.VestingTotalAmount {
		released = v.VestingTotalAmount
	}
	return released
}

// HTLCData is the type-specific payload of a hashed-timelock-contract
// account: it pays Recipient if the correct preimage chain is presented
// before Timeout, else refunds Sender.
type HTLCData struct {
	Sender      primitives.Address
	Recipient   primitives.Address
	HashRoot    primitives.Hash
	HashCount   uint8
	Timeout     uint64
	TotalAmount uint64
}

// StakingData is the type-specific payload of the singleton staking
// contract account (primitives.StakingContractAddress): each validator's
// active deposit, keyed by validator address.
type StakingData struct {
	Deposits map[primitives.Address]uint64
}

// Account is a discriminated record: Balance plus, depending on Type, one
// of the type-specific payloads below.
type Account struct {
	Type    Type
	Balance uint64

	Vesting *VestingData
	HTLC    *HTLCData
	Staking *StakingData
}

// NewBasic creates a Basic account with the given balance.
func NewBasic(balance uint64) *Account {
	return &Account{Type: TypeBasic, Balance: balance}
}

// CreditIncoming applies an incoming transaction or reward inherent: it
// always succeeds for a Basic account and is the generic case for the
// other types too (the recipient side of a transfer never needs
// type-specific logic, only the sender side does).
func (a *Account) CreditIncoming(value uint64) {
	a.Balance += value
}

// DebitOutgoing applies an outgoing transaction's value and fee. For a
// Vesting account, only the released-at-blockNumber portion of the
// balance may be spent; every other type may spend its full balance.
func (a *Account) DebitOutgoing(value, fee uint64, blockNumber uint32) error {
	total := value + fee
	spendable := a.Balance
	if a.Type == TypeVesting && a.Vesting != nil {
		locked := a.Vesting.VestingTotalAmount - a.Vesting.ReleasedAt(blockNumber)
		if locked > spendable {
			spendable = 0
		} else {
			spendable -= locked
		}
	}
	if total > spendable {
		return fmt.Errorf("%w: balance %d, spendable %d, need %d", ErrInsufficientBalance, a.Balance, spendable, total)
	}
	a.Balance -= total
	return nil
}

// RevertDebitOutgoing undoes a prior DebitOutgoing.
func (a *Account) RevertDebitOutgoing(value, fee uint64) {
	a.Balance += value + fee
}

// RevertCreditIncoming undoes a prior CreditIncoming.
func (a *Account) RevertCreditIncoming(value uint64) error {
	if value > a.Balance {
		return fmt.Errorf("%w: balance %d, reverting credit of %d", ErrInsufficientBalance, a.Balance, value)
	}
	a.Balance -= value
	return nil
}

// SerializeContent produces the deterministic byte layout hashed as this
// account's leaf value in the accounts trie. Field order and width are
// block-header-root sensitive and must never change once blocks
// referencing it exist on chain.
func (a Account) SerializeContent() []byte {
	buf := make([]byte, 0, 16)
	buf = append(buf, byte(a.Type))
	buf = appendUint64(buf, a.Balance)

	switch a.Type {
	case TypeVesting:
		v := a.Vesting
		if v == nil {
			v = &VestingData{}
		}
		buf = append(buf, v.Owner[:]...)
		buf = appendUint64(buf, v.VestingStart)
		buf = appendUint32(buf, v.VestingStepBlocks)
		buf = appendUint64(buf, v.VestingStepAmount)
		buf = appendUint64(buf, v.VestingTotalAmount)
	case TypeHTLC:
		h := a.HTLC
		if h == nil {
			h = &HTLCData{}
		}
		buf = append(buf, h.Sender[:]...)
		buf = append(buf, h.Recipient[:]...)
		buf = append(buf, h.HashRoot[:]...)
		buf = append(buf, h.HashCount)
		buf = appendUint64(buf, h.Timeout)
		buf = appendUint64(buf, h.TotalAmount)
	case TypeStaking:
		s := a.Staking
		if s == nil {
			s = &StakingData{}
		}
		addrs := make([]primitives.Address, 0, len(s.Deposits))
		for addr := range s.Deposits {
			addrs = append(addrs, addr)
		}
		sortAddresses(addrs)
		buf = appendUint32(buf, uint32(len(addrs)))
		for _, addr := range addrs {
			buf = append(buf, addr[:]...)
			buf = appendUint64(buf, s.Deposits[addr])
		}
	}
	return buf
}

// DecodeAccount parses the byte layout SerializeContent produces. It is
// the inverse used when reading a leaf value back out of the trie.
func DecodeAccount(buf []byte) (*Account, error) {
	if len(buf) < 9 {
		return nil, fmt.Errorf("accounts: decode: buffer too short (%d bytes)", len(buf))
	}
	a := &Account{Type: Type(buf[0]), Balance: binary.BigEndian.Uint64(buf[1:9])}
	rest := buf[9:]

	switch a.Type {
	case TypeBasic:
		return a, nil
	case TypeVesting:
		want := primitives.AddressSize + 8 + 4 + 8 + 8
		if len(rest) != want {
			return nil, fmt.Errorf("accounts: decode vesting: want %d bytes, got %d", want, len(rest))
		}
		v := &VestingData{}
		copy(v.Owner[:], rest[:primitives.AddressSize])
		rest = rest[primitives.AddressSize:]
		v.VestingStart = binary.BigEndian.Uint64(rest[:8])
		rest = rest[8:]
		v.VestingStepBlocks = binary.BigEndian.Uint32(rest[:4])
		rest = rest[4:]
		v.VestingStepAmount = binary.BigEndian.Uint64(rest[:8])
		rest = rest[8:]
		v.VestingTotalAmount = binary.BigEndian.Uint64(rest[:8])
		a.Vesting = v
		return a, nil
	case TypeHTLC:
		want := 2*primitives.AddressSize + primitives.HashSize + 1 + 8 + 8
		if len(rest) != want {
			return nil, fmt.Errorf("accounts: decode htlc: want %d bytes, got %d", want, len(rest))
		}
		h := &HTLCData{}
		copy(h.Sender[:], rest[:primitives.AddressSize])
		rest = rest[primitives.AddressSize:]
		copy(h.Recipient[:], rest[:primitives.AddressSize])
		rest = rest[primitives.AddressSize:]
		copy(h.HashRoot[:], rest[:primitives.HashSize])
		rest = rest[primitives.HashSize:]
		h.HashCount = rest[0]
		rest = rest[1:]
		h.Timeout = binary.BigEndian.Uint64(rest[:8])
		rest = rest[8:]
		h.TotalAmount = binary.BigEndian.Uint64(rest[:8])
		a.HTLC = h
		return a, nil
	case TypeStaking:
		if len(rest) < 4 {
			return nil, fmt.Errorf("accounts: decode staking: buffer too short")
		}
		count := binary.BigEndian.Uint32(rest[:4])
		rest = rest[4:]
		entrySize := primitives.AddressSize + 8
		if len(rest) != int(count)*entrySize {
			return nil, fmt.Errorf("accounts: decode staking: want %d entries worth of bytes, got %d", count, len(rest))
		}
		s := &StakingData{Deposits: make(map[primitives.Address]uint64, count)}
		for i := uint32(0); i < count; i++ {
			var addr primitives.Address
			copy(addr[:], rest[:primitives.AddressSize])
			rest = rest[primitives.AddressSize:]
			s.Deposits[addr] = binary.BigEndian.Uint64(rest[:8])
			rest = rest[8:]
		}
		a.Staking = s
		return a, nil
	default:
		return nil, fmt.Errorf("accounts: decode: unknown account type %d", a.Type)
	}
}

func sortAddresses(addrs []primitives.Address) {
	for i := 1; i < len(addrs); i++ {
		for j := i; j > 0; j-- {
			var a, b = addrs[j-1], addrs[j]
			less := false
			for k := 0; k < primitives.AddressSize; k++ {
				if a[k] != b[k] {
					less = a[k] < b[k]
					break
				}
			}
			if less {
				break
			}
			addrs[j-1], addrs[j] = addrs[j], addrs[j-1]
		}
	}
}

func appendUint32(buf []byte, v uint32) []byte {
	var tmp [4]byte
	binary.BigEndian.PutUint32(tmp[:], v)
	return append(buf, tmp[:]...)
}

func appendUint64(buf []byte, v uint64) []byte {
	var tmp [8]byte
	binary.BigEndian.PutUint64(tmp[:], v)
	return append(buf, tmp[:]...)
}
