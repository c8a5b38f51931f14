// Package policy implements the chain's slot and epoch calendar: the pure
// arithmetic that maps a block height to its epoch, batch, and macro/micro
// classification. It is process-global and immutable after Init, mirroring
// the teacher's package-level, env-loaded Config singleton.
package policy

import (
	"fmt"
	"math"
	"sync"
)

// Policy holds the genesis-relative calendar parameters. Exactly one
// instance is active per process, set once via Init.
type Policy struct {
	BlocksPerBatch      uint32
	BatchesPerEpoch      uint16
	GenesisBlockNumber   uint32
	TendermintTimeoutInit  uint64
	TendermintTimeoutDelta uint64

	// TransactionValidityWindow is how many blocks a transaction stays
	// valid for (and how long the validity store must remember its hash
	// to reject replays). Should be a multiple of BlocksPerBatch.
	TransactionValidityWindow uint32

	// StateChunksMaxSize bounds how many accounts-trie nodes a single
	// state-sync chunk may carry.
	StateChunksMaxSize uint32
}

// Protocol-wide constants, independent of the active Policy.
const (
	// Slots is the total number of validator slots per epoch.
	Slots uint16 = 512

	// TwoFPlusOne is ceil(Slots*2/3), the quorum needed to finalize a
	// macro block or a Tendermint round.
	TwoFPlusOne uint16 = (2*Slots + 3 - 1) / 3

	// FPlusOne is ceil(Slots/3), the minimum to prove misbehavior evidence
	// came from distinct validators.
	FPlusOne uint16 = (Slots + 3 - 1) / 3

	// JailEpochs is how many epochs a jailed validator is barred from
	// producing/voting.
	JailEpochs uint32 = 8

	// TotalSupply is the hard coin supply cap, in the smallest unit.
	TotalSupply uint64 = 2_100_000_000_000_000

	// InitialSupplyVelocity and SupplyDecay parameterize SupplyAt's decay
	// curve (coins per millisecond at genesis, and the decay constant).
	InitialSupplyVelocity float64 = 875.0
	SupplyDecay           float64 = 4.692821935e-13

	// BlocksDelayDecay and MinimumRewardsPercentage parameterize
	// BatchDelayPenalty.
	BlocksDelayDecay         float64 = 1.1e-9
	MinimumRewardsPercentage float64 = 0.5

	// HistoryChunksMaxSize bounds a single history chunk proof response.
	HistoryChunksMaxSize uint64 = 25 * 1024 * 1024

	// ValidatorDeposit is the minimum stake to register as a validator.
	ValidatorDeposit uint64 = 1_000_000_000
)

// Default is the production calendar: 60 blocks/batch, 360 batches/epoch.
var Default = Policy{
	BlocksPerBatch:            60,
	BatchesPerEpoch:           360,
	GenesisBlockNumber:        0,
	TendermintTimeoutInit:     4000,
	TendermintTimeoutDelta:    2000,
	TransactionValidityWindow: 7200,
	StateChunksMaxSize:        200,
}

// Test is a smaller calendar used by tests that need multiple epochs/batches
// without a slow setup.
var Test = Policy{
	BlocksPerBatch:            32,
	BatchesPerEpoch:           4,
	GenesisBlockNumber:        0,
	TendermintTimeoutInit:     4000,
	TendermintTimeoutDelta:    2000,
	TransactionValidityWindow: 64,
	StateChunksMaxSize:        2,
}

var (
	once    sync.Once
	active  Policy
	isReady bool
	mu      sync.RWMutex
)

// Init sets the process-wide active policy. Only the first call takes
// effect, matching the original's get_or_init semantics: later callers can
// rely on the value already chosen at startup instead of racing to change
// it mid-run.
func Init(p Policy) {
	once.Do(func() {
		mu.Lock()
		active = p
		isReady = true
		mu.Unlock()
	})
}

func get() Policy {
	// Mirrors GLOBAL_POLICY.get_or_init(Self::default): the first read
	// implicitly activates the default calendar; Init is idempotent.
	mu.RLock()
	ready := isReady
	mu.RUnlock()
	if !ready {
		Init(Default)
	}
	mu.RLock()
	defer mu.RUnlock()
	return active
}

func BlocksPerBatch() uint32    { return get().BlocksPerBatch }
func BatchesPerEpoch() uint16   { return get().BatchesPerEpoch }
func GenesisBlockNumber() uint32 { return get().GenesisBlockNumber }
func TendermintTimeoutInit() uint64  { return get().TendermintTimeoutInit }
func TendermintTimeoutDelta() uint64 { return get().TendermintTimeoutDelta }
func TransactionValidityWindow() uint32 { return get().TransactionValidityWindow }
func StateChunksMaxSize() uint32        { return get().StateChunksMaxSize }

// BlocksPerEpoch is BlocksPerBatch * BatchesPerEpoch.
func BlocksPerEpoch() uint32 {
	p := get()
	return p.BlocksPerBatch * uint32(p.BatchesPerEpoch)
}

// EpochAt returns the epoch number containing the given block height.
func EpochAt(blockNumber uint32) uint32 {
	genesis := GenesisBlockNumber()
	if blockNumber <= genesis {
		return 0
	}
	bn := blockNumber - genesis
	bpe := BlocksPerEpoch()
	return (bn + bpe - 1) / bpe
}

// EpochIndexAt returns the height's offset within its epoch; the first
// block of any epoch has index 0.
func EpochIndexAt(blockNumber uint32) uint32 {
	genesis := GenesisBlockNumber()
	if blockNumber < genesis {
		return blockNumber
	}
	bpe := BlocksPerEpoch()
	bn := blockNumber - genesis
	return (bn + bpe - 1) % bpe
}

// BatchAt returns the batch number containing the given block height.
func BatchAt(blockNumber uint32) uint32 {
	genesis := GenesisBlockNumber()
	if blockNumber <= genesis {
		return 0
	}
	bn := blockNumber - genesis
	bpb := BlocksPerBatch()
	return (bn + bpb - 1) / bpb
}

// BatchIndexAt returns the height's offset within its batch; the first
// block of any batch has index 0.
func BatchIndexAt(blockNumber uint32) uint32 {
	genesis := GenesisBlockNumber()
	if blockNumber < genesis {
		return blockNumber
	}
	bpb := BlocksPerBatch()
	bn := blockNumber - genesis
	return (bn + bpb - 1) % bpb
}

// ElectionBlockAfter returns the height of the next election macro block
// strictly after blockNumber.
func ElectionBlockAfter(blockNumber uint32) uint32 {
	genesis := GenesisBlockNumber()
	if blockNumber < genesis {
		return genesis
	}
	bpe := BlocksPerEpoch()
	bn := blockNumber - genesis
	return (bn/bpe+1)*bpe + genesis
}

// ElectionBlockBefore returns the height of the election macro block
// preceding blockNumber. Panics for heights before genesis.
func ElectionBlockBefore(blockNumber uint32) uint32 {
	genesis := GenesisBlockNumber()
	switch {
	case blockNumber < genesis:
		panic("policy: no election blocks before the genesis block")
	case blockNumber == genesis:
		return genesis
	default:
		bpe := BlocksPerEpoch()
		bn := blockNumber - genesis
		return (bn-1)/bpe*bpe + genesis
	}
}

// LastElectionBlock returns the election macro block at or before
// blockNumber (it is blockNumber itself if blockNumber is one).
func LastElectionBlock(blockNumber uint32) uint32 {
	genesis := GenesisBlockNumber()
	if blockNumber < genesis {
		panic("policy: no election blocks before the genesis block")
	}
	bpe := BlocksPerEpoch()
	bn := blockNumber - genesis
	return bn/bpe*bpe + genesis
}

// IsElectionBlockAt reports whether blockNumber is an election macro block.
func IsElectionBlockAt(blockNumber uint32) bool {
	return EpochIndexAt(blockNumber) == BlocksPerEpoch()-1
}

// MacroBlockAfter returns the height of the next macro block (checkpoint or
// election) strictly after blockNumber.
func MacroBlockAfter(blockNumber uint32) uint32 {
	genesis := GenesisBlockNumber()
	if blockNumber < genesis {
		return genesis
	}
	bpb := BlocksPerBatch()
	bn := blockNumber - genesis
	return (bn/bpb+1)*bpb + genesis
}

// MacroBlockBefore returns the height of the macro block preceding
// blockNumber. Panics at or before genesis.
func MacroBlockBefore(blockNumber uint32) uint32 {
	genesis := GenesisBlockNumber()
	if blockNumber <= genesis {
		panic("policy: no macro blocks before the genesis block")
	}
	bpb := BlocksPerBatch()
	bn := blockNumber - genesis
	return (bn-1)/bpb*bpb + genesis
}

// LastMacroBlock returns the macro block at or before blockNumber.
func LastMacroBlock(blockNumber uint32) uint32 {
	genesis := GenesisBlockNumber()
	if blockNumber < genesis {
		panic("policy: no macro blocks before the genesis block")
	}
	bpb := BlocksPerBatch()
	bn := blockNumber - genesis
	return bn/bpb*bpb + genesis
}

// IsMacroBlockAt reports whether blockNumber is a macro block (checkpoint
// or election).
func IsMacroBlockAt(blockNumber uint32) bool {
	if blockNumber < GenesisBlockNumber() {
		return false
	}
	return BatchIndexAt(blockNumber) == BlocksPerBatch()-1
}

// IsMicroBlockAt reports whether blockNumber is a micro block.
func IsMicroBlockAt(blockNumber uint32) bool {
	if blockNumber < GenesisBlockNumber() {
		return false
	}
	return BatchIndexAt(blockNumber) != BlocksPerBatch()-1
}

// FirstBlockOf returns the first (micro) block of the given epoch, or an
// error if the result overflows uint32. Panics if epoch is zero.
func FirstBlockOf(epoch uint32) (uint32, error) {
	if epoch == 0 {
		panic("policy: FirstBlockOf called for epoch 0")
	}
	bpe := uint64(BlocksPerEpoch())
	v := uint64(epoch-1)*bpe + 1 + uint64(GenesisBlockNumber())
	if v > math.MaxUint32 {
		return 0, fmt.Errorf("policy: FirstBlockOf(%d) overflows block height", epoch)
	}
	return uint32(v), nil
}

// FirstBlockOfBatch returns the first (micro) block of the given batch, or
// an error if the result overflows uint32. Panics if batch is zero.
func FirstBlockOfBatch(batch uint32) (uint32, error) {
	if batch == 0 {
		panic("policy: FirstBlockOfBatch called for batch 0")
	}
	bpb := uint64(BlocksPerBatch())
	v := uint64(batch-1)*bpb + 1 + uint64(GenesisBlockNumber())
	if v > math.MaxUint32 {
		return 0, fmt.Errorf("policy: FirstBlockOfBatch(%d) overflows block height", batch)
	}
	return uint32(v), nil
}

// ElectionBlockOf returns the election macro block (always the last block)
// of the given epoch.
func ElectionBlockOf(epoch uint32) (uint32, error) {
	bpe := uint64(BlocksPerEpoch())
	v := uint64(epoch)*bpe + uint64(GenesisBlockNumber())
	if v > math.MaxUint32 {
		return 0, fmt.Errorf("policy: ElectionBlockOf(%d) overflows block height", epoch)
	}
	return uint32(v), nil
}

// MacroBlockOf returns the macro block (checkpoint or election, always the
// last block) of the given batch.
func MacroBlockOf(batch uint32) (uint32, error) {
	bpb := uint64(BlocksPerBatch())
	v := uint64(batch)*bpb + uint64(GenesisBlockNumber())
	if v > math.MaxUint32 {
		return 0, fmt.Errorf("policy: MacroBlockOf(%d) overflows block height", batch)
	}
	return uint32(v), nil
}

// FirstBatchOfEpoch reports whether blockNumber falls in the first batch of
// its epoch.
func FirstBatchOfEpoch(blockNumber uint32) bool {
	return EpochIndexAt(blockNumber) < BlocksPerBatch()
}

// LastBlockOfReportingWindow returns the last height at which evidence of
// misbehavior committed at blockNumber may still be reported.
func LastBlockOfReportingWindow(blockNumber uint32) uint32 {
	return blockNumber + BlocksPerEpoch()
}

// BlockAfterReportingWindow returns the first height after the reporting
// window for blockNumber has closed.
func BlockAfterReportingWindow(blockNumber uint32) uint32 {
	return LastBlockOfReportingWindow(blockNumber) + 1
}

// BlockAfterJail returns the first height at which a validator jailed at
// blockNumber may resume participating.
func BlockAfterJail(blockNumber uint32) uint32 {
	return blockNumber + BlocksPerEpoch()*JailEpochs + 1
}

// SupplyAt returns the total coin supply at currentTime (Unix millis),
// given the supply and time at genesis. Follows:
//
//	Supply(t) = genesisSupply + velocity/decay * (1 - e^(-decay*t))
//
// clamped to TotalSupply. Panics if currentTime < genesisTime.
func SupplyAt(genesisSupply, genesisTime, currentTime uint64) uint64 {
	if currentTime < genesisTime {
		panic("policy: SupplyAt called with currentTime before genesisTime")
	}
	t := float64(currentTime - genesisTime)
	exponent := -SupplyDecay * t
	supply := genesisSupply + uint64(InitialSupplyVelocity/SupplyDecay*(1-math.Exp(exponent)))
	if supply > TotalSupply {
		return TotalSupply
	}
	return supply
}

// BatchDelayPenalty returns the reward multiplier, in [MinimumRewardsPercentage, 1],
// to apply when a batch finalizes delay milliseconds late.
func BatchDelayPenalty(delay uint64) float64 {
	t := float64(delay)
	exponent := -BlocksDelayDecay * t * t
	return (1-MinimumRewardsPercentage)*math.Exp(exponent) + MinimumRewardsPercentage
}
