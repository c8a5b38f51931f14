// Package wire declares the request/response Go types for the external
// wire protocol named in spec.md §6 — not a running transport (the
// network layer is an explicit Non-goal), just the typed payloads a
// transport would carry, plus the per-tag request caps and gossipsub
// topic constants a transport implementation binds against.
//
// Shapes follow original_source/consensus/src/messages/mod.rs's request/
// response pairs one-for-one, with Rust's Option<T> rendered as a Go
// pointer and Result<T, E> rendered as a plain value plus a separate
// error return at the call site rather than a tagged union field.
package wire

import (
	"github.com/albatross-go/node/internal/chain"
	"github.com/albatross-go/node/internal/history"
	"github.com/albatross-go/node/internal/primitives"
)

// Tag identifies a wire message's type, one per request/response pair, as
// a single little-endian uint16 prefixing the framed payload.
type Tag uint16

const (
	TagRequestMacroChain                  Tag = 200
	TagRequestBatchSet                    Tag = 202
	TagRequestHistoryChunk                Tag = 204
	TagRequestBlock                       Tag = 207
	TagRequestMissingBlocks                Tag = 209
	TagRequestHead                        Tag = 210
	TagRequestTransactionsProof           Tag = 213
	TagRequestTransactionReceiptsByAddress Tag = 214
	TagRequestTrieProof                   Tag = 215
	TagRequestBlocksProof                 Tag = 216
	TagRequestSubscribeToAddress          Tag = 217
)

// MaxRequests is the per-peer in-flight cap for each tag, named after
// original_source's MAX_REQUEST_RESPONSE_* / MAX_REQUEST_* constants.
var MaxRequests = map[Tag]uint32{
	TagRequestMacroChain:                  1000,
	TagRequestBatchSet:                    1000,
	TagRequestHistoryChunk:                1000,
	TagRequestBlock:                       1000,
	TagRequestMissingBlocks:                1000,
	TagRequestHead:                        1000,
	TagRequestTransactionsProof:           1000,
	TagRequestTransactionReceiptsByAddress: 1000,
	TagRequestTrieProof:                   1000,
	TagRequestBlocksProof:                 1000,
	TagRequestSubscribeToAddress:          10,
}

// RequestMacroChain asks for the macro block hashes of every epoch after
// the caller's locators, capped at MaxEpochs.
type RequestMacroChain struct {
	Locators  []primitives.Hash
	MaxEpochs uint16
}

// Checkpoint names a non-election macro block the responder is partway
// through an epoch on.
type Checkpoint struct {
	BlockNumber uint32
	Hash        primitives.Hash
}

// MacroChain is RequestMacroChain's response: one election-block hash per
// epoch, plus an optional trailing checkpoint if the responder's head is
// mid-epoch.
type MacroChain struct {
	Epochs     []primitives.Hash
	Checkpoint *Checkpoint
}

// RequestBatchSet asks for every batch (and the election block, if any)
// belonging to the epoch containing Hash.
type RequestBatchSet struct {
	Hash primitives.Hash
}

// BatchSet pairs one epoch's macro (checkpoint) block with the
// cumulative history length up to and including it.
type BatchSet struct {
	MacroBlock *chain.MacroBlock
	HistoryLen uint64
}

// BatchSetInfo is RequestBatchSet's response.
type BatchSetInfo struct {
	ElectionMacroBlock *chain.MacroBlock
	BatchSets          []BatchSet
}

// RequestHistoryChunk asks for one chunk of an epoch's history tree.
type RequestHistoryChunk struct {
	Epoch      uint32
	Block      uint32
	ChunkIndex uint64
}

// HistoryChunk is RequestHistoryChunk's response.
type HistoryChunk struct {
	Chunk history.Chunk
}

// RequestBlock asks for a single block by hash, optionally including its
// body (micro blocks only — macro blocks have no separate body to omit).
type RequestBlock struct {
	Hash          primitives.Hash
	IncludeBody bool
}

// RequestMissingBlocks asks for every block between the responder's
// knowledge of Locators and TargetHash.
type RequestMissingBlocks struct {
	TargetHash    primitives.Hash
	IncludeBody bool
	Locators      []primitives.Hash
}

// ResponseBlocks is RequestMissingBlocks's response.
type ResponseBlocks struct {
	Blocks []chain.Block
}

// RequestHead asks for the responder's current main-chain head hash.
type RequestHead struct{}

// RequestTransactionsProof asks for an inclusion proof of the named
// transaction hashes, optionally pinned to a specific block.
type RequestTransactionsProof struct {
	Hashes      []primitives.Hash
	BlockNumber *uint32
}

// ResponseTransactionsProof is RequestTransactionsProof's response.
type ResponseTransactionsProof struct {
	Proof history.Chunk
	Block chain.Block
}

// RequestTransactionReceiptsByAddress asks for up to Max transaction
// receipts touching Address, most recent first.
type RequestTransactionReceiptsByAddress struct {
	Address primitives.Address
	Max     *uint16
}

// TransactionReceipt pairs a transaction hash with the block height it
// was included at.
type TransactionReceipt struct {
	Hash        primitives.Hash
	BlockNumber uint32
}

// ResponseTransactionReceiptsByAddress is
// RequestTransactionReceiptsByAddress's response.
type ResponseTransactionReceiptsByAddress struct {
	Receipts []TransactionReceipt
}

// RequestTrieProof asks for an accounts-trie inclusion proof of the named
// keys (nibble-encoded addresses).
type RequestTrieProof struct {
	Keys [][]byte
}

// ResponseTrieProof is RequestTrieProof's response.
type ResponseTrieProof struct {
	Proof     []byte // serialized trie proof; internal/accounts owns the concrete shape
	BlockHash primitives.Hash
}

// RequestBlocksProof asks for an inclusion proof that Blocks are part of
// the chain ending at ElectionHead, for a light client that has already
// verified the ZK proof chain up to that election block.
type RequestBlocksProof struct {
	ElectionHead uint32
	Blocks       []uint32
}

// ResponseBlocksProof is RequestBlocksProof's response; Proof is nil if
// the responder can't produce one (e.g. the blocks are outside its
// retained window).
type ResponseBlocksProof struct {
	Proof []byte
}

// AddressSubscriptionOperation selects Subscribe vs Unsubscribe for
// RequestSubscribeToAddress.
type AddressSubscriptionOperation uint8

const (
	AddressSubscribe AddressSubscriptionOperation = iota
	AddressUnsubscribe
)

// RequestSubscribeToAddress adds or removes addresses from the caller's
// AddressNotification subscription.
type RequestSubscribeToAddress struct {
	Operation AddressSubscriptionOperation
	Addresses []primitives.Address
}

// ResponseSubscribeToAddress is RequestSubscribeToAddress's response; Err
// is nil on success.
type ResponseSubscribeToAddress struct {
	Err error
}

// NotificationEvent classifies what triggered an AddressNotification.
type NotificationEvent uint8

const (
	NotificationBlockchainExtend NotificationEvent = iota
)

// AddressNotification reports transaction receipts touching a subscribed
// address as new blocks extend the chain.
type AddressNotification struct {
	Event    NotificationEvent
	Receipts []TransactionReceipt
}

// GossipTopic names a pubsub topic and the buffer size recorded for it.
// No code in this module allocates or drains a topic buffer, so no
// overflow handling is implemented here.
type GossipTopic struct {
	Name          string
	BufferSize    int
	ValidatorsOnly bool
}

var (
	TopicTransactions        = GossipTopic{Name: "transactions", BufferSize: 1024}
	TopicControlTransactions = GossipTopic{Name: "control-transactions", BufferSize: 1024, ValidatorsOnly: true}
	TopicTendermintProposal  = GossipTopic{Name: "tendermint-proposal", BufferSize: 8}
	TopicAddressNotification = GossipTopic{Name: "address-notification", BufferSize: 1024}
	TopicZKProof             = GossipTopic{Name: "zk-proof", BufferSize: 4}
)
