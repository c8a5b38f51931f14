package primitives

import "fmt"

// TransactionFormat distinguishes the common-case Basic transaction from
// the Extended format carrying arbitrary recipient/sender data.
type TransactionFormat uint8

const (
	FormatBasic    TransactionFormat = 0
	FormatExtended TransactionFormat = 1
)

// Transaction flag bits.
const (
	FlagContractCreation uint8 = 0b01
	FlagSignaling        uint8 = 0b10
)

// NetworkID distinguishes mainnet/testnet/devnet wire content, included in
// SerializeContent so a transaction signed for one network can never be
// replayed on another.
type NetworkID uint8

const (
	NetworkMainAlbatross NetworkID = 24
	NetworkTestAlbatross NetworkID = 25
	NetworkDevAlbatross  NetworkID = 26
)

// Transaction is the common shape for both Basic and Extended transactions;
// Format determines which optional fields are meaningful and which ones
// SerializeContent emits.
type Transaction struct {
	Format               TransactionFormat
	SenderData            []byte // Extended only
	Sender                Address
	SenderType            uint8
	Recipient             Address
	RecipientType         uint8
	RecipientData         []byte // both formats: empty for Basic
	Value                 uint64
	Fee                   uint64
	ValidityStartHeight   uint32
	Network               NetworkID
	Flags                 uint8
	Proof                 []byte
}

// SerializeContent produces the exact byte layout that gets hashed and
// signed. Field order and width are hard-fork sensitive and must never
// change once blocks referencing it exist on chain:
//
//	u16 recipient-data length, recipient data,
//	sender (20 bytes), sender type (1 byte),
//	recipient (20 bytes), recipient type (1 byte),
//	value (u64 BE), fee (u64 BE),
//	validity-start-height (u32 BE),
//	network (1 byte), flags (1 byte),
//	[Extended only] sender data (u16 length-prefixed)
//
// The signature Proof is never part of this content.
func (t Transaction) SerializeContent() []byte {
	buf := make([]byte, 0, 2+len(t.RecipientData)+AddressSize+1+AddressSize+1+8+8+4+1+1)

	buf = appendUint16(buf, uint16(len(t.RecipientData)))
	buf = append(buf, t.RecipientData...)

	buf = append(buf, t.Sender[:]...)
	buf = append(buf, t.SenderType)

	buf = append(buf, t.Recipient[:]...)
	buf = append(buf, t.RecipientType)

	buf = appendUint64(buf, t.Value)
	buf = appendUint64(buf, t.Fee)

	buf = appendUint32(buf, t.ValidityStartHeight)

	buf = append(buf, byte(t.Network))
	buf = append(buf, t.Flags)

	if t.Format == FormatExtended {
		buf = appendUint16(buf, uint16(len(t.SenderData)))
		buf = append(buf, t.SenderData...)
	}

	return buf
}

// Hash returns the Blake2b-256 hash of SerializeContent(), the transaction
// hash used as its identity throughout history/MMR storage.
func (t Transaction) Hash() Hash {
	return ComputeHash(t.SerializeContent())
}

// IsContractCreation reports whether the contract-creation flag is set.
func (t Transaction) IsContractCreation() bool {
	return t.Flags&FlagContractCreation != 0
}

// IsSignaling reports whether the signaling flag is set (value must be 0
// for signaling transactions — enforced by the caller, not here).
func (t Transaction) IsSignaling() bool {
	return t.Flags&FlagSignaling != 0
}

// ContractCreationAddress derives the address of a contract created by
// this transaction: the low 20 bytes of the hash of the transaction
// content together with the sender, preventing two transactions with
// identical content from colliding on the same contract address.
func (t Transaction) ContractCreationAddress() Address {
	content := t.SerializeContent()
	buf := make([]byte, 0, len(content)+AddressSize)
	buf = append(buf, t.Sender[:]...)
	buf = append(buf, content...)
	h := ComputeTaggedHash([]byte("contract-creation"), buf)
	var a Address
	copy(a[:], h[len(h)-AddressSize:])
	return a
}

// IsValidAt reports whether the transaction, whose validity window opens
// blocksPerBatch blocks before ValidityStartHeight and stays open for
// window blocks, may be included in a block at height h.
func (t Transaction) IsValidAt(h uint32, blocksPerBatch, window uint32) bool {
	var lowerBound uint32
	if t.ValidityStartHeight > blocksPerBatch {
		lowerBound = t.ValidityStartHeight - blocksPerBatch
	}
	return h >= lowerBound && h < t.ValidityStartHeight+window
}

// InherentType distinguishes the non-transaction state transitions applied
// at macro-block boundaries and on equivocation detection.
type InherentType uint8

const (
	InherentReward       InherentType = 0
	InherentSlash        InherentType = 1
	InherentJail         InherentType = 2
	InherentEquivocation InherentType = 3
)

// Inherent is a validator-protocol-driven state transition (reward payout,
// slash, jail, or equivocation record) that, unlike a Transaction, is not
// signed by an account — it is authorized by the macro block itself.
type Inherent struct {
	Type        InherentType
	Target      Address
	Value       uint64
	ValidatorID Address
	// EvidenceHash references the equivocation/misbehavior evidence for
	// Slash/Jail/Equivocation inherents; zero for Reward.
	EvidenceHash Hash
}

func (i Inherent) SerializeContent() []byte {
	buf := make([]byte, 0, 1+AddressSize+8+AddressSize+HashSize)
	buf = append(buf, byte(i.Type))
	buf = append(buf, i.Target[:]...)
	buf = appendUint64(buf, i.Value)
	buf = append(buf, i.ValidatorID[:]...)
	buf = append(buf, i.EvidenceHash[:]...)
	return buf
}

func (i Inherent) Hash() Hash { return ComputeHash(i.SerializeContent()) }

func (i Inherent) String() string {
	return fmt.Sprintf("Inherent{type=%d target=%s value=%d validator=%s}",
		i.Type, i.Target.Hex(), i.Value, i.ValidatorID.Hex())
}
