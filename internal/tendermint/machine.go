package tendermint

import (
	"fmt"
	"sync"
	"time"

	"github.com/albatross-go/node/internal/blssig"
	"github.com/albatross-go/node/internal/chain"
	"github.com/albatross-go/node/internal/metrics"
	"github.com/albatross-go/node/internal/policy"
	"github.com/albatross-go/node/internal/primitives"
)

// Timer abstracts time.AfterFunc so tests can drive rounds without real
// timeouts elapsing.
type Timer interface {
	Stop() bool
}

// Clock is the time source a Machine schedules its round timeouts
// against. Production code uses RealClock; tests substitute a fake one
// that fires on demand.
type Clock interface {
	AfterFunc(d time.Duration, f func()) Timer
}

// RealClock schedules timeouts with the standard library's time.AfterFunc.
type RealClock struct{}

func (RealClock) AfterFunc(d time.Duration, f func()) Timer { return time.AfterFunc(d, f) }

// Broadcaster is how a Machine publishes its own proposals and votes to
// the rest of the validator set. Implementations hand off to gossipsub in
// production and to an in-process router in tests.
type Broadcaster interface {
	BroadcastProposal(Proposal)
	BroadcastVote(Vote)
}

// BlockSource supplies this validator's candidate macro block when it is
// the proposer for (height, round) and holds no earlier valid value to
// re-propose.
type BlockSource interface {
	ProposeBlock(height, round uint32) (*chain.MacroBlock, error)
}

// roundTimeout is T0 + r*ΔT, per spec.md §4.7.
func roundTimeout(round uint32) time.Duration {
	ms := policy.TendermintTimeoutInit() + uint64(round)*policy.TendermintTimeoutDelta()
	return time.Duration(ms) * time.Millisecond
}

// Machine is the single persistent state machine for one macro-block
// height, spanning as many rounds as it takes to reach 2f+1 precommits.
// Proposals and votes may be delivered out of order and duplicated; both
// are handled idempotently.
type Machine struct {
	mu sync.Mutex

	height     uint32
	validators chain.ValidatorSet

	selfSlot    uint16
	isValidator bool
	self        *blssig.PrivateKey

	broadcaster Broadcaster
	blockSource BlockSource
	clock       Clock
	onDecided   func(Decision)
	onEquivocation func(chain.EquivocationProof)

	round       uint32
	step        Step
	lockedValue *primitives.Hash
	lockedRound int32
	validValue  *primitives.Hash
	validRound  int32

	proposals  map[uint32]Proposal
	prevotes   map[uint32]*voteSet
	precommits map[uint32]*voteSet

	timer     Timer
	decided   *Decision
	cancelled bool
	done      chan struct{}
}

// Config bundles a Machine's fixed dependencies.
type Config struct {
	Height         uint32
	Validators     chain.ValidatorSet
	SelfSlot       uint16 // ignored if IsValidator is false
	IsValidator    bool
	Signer         *blssig.PrivateKey // nil for a non-validator (follower) Machine, which only observes
	Broadcaster    Broadcaster
	BlockSource    BlockSource // only required if IsValidator
	Clock          Clock       // defaults to RealClock{}
	OnDecided      func(Decision)
	OnEquivocation func(chain.EquivocationProof)
}

// NewMachine builds a Machine for cfg.Height; round 0's Propose step is
// entered by Start, not here.
func NewMachine(cfg Config) *Machine {
	clock := cfg.Clock
	if clock == nil {
		clock = RealClock{}
	}
	m := &Machine{
		height:         cfg.Height,
		validators:     cfg.Validators,
		selfSlot:       cfg.SelfSlot,
		isValidator:    cfg.IsValidator,
		self:           cfg.Signer,
		broadcaster:    cfg.Broadcaster,
		blockSource:    cfg.BlockSource,
		clock:          clock,
		onDecided:      cfg.OnDecided,
		onEquivocation: cfg.OnEquivocation,
		lockedRound:    -1,
		validRound:     -1,
		proposals:      make(map[uint32]Proposal),
		prevotes:       make(map[uint32]*voteSet),
		precommits:     make(map[uint32]*voteSet),
		done:           make(chan struct{}),
	}
	return m
}

// Start enters round 0. Must be called once, before any ReceiveProposal/
// ReceiveVote.
func (m *Machine) Start() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.startRoundLocked(0)
}

// Done is closed once the Machine has decided or been cancelled.
func (m *Machine) Done() <-chan struct{} { return m.done }

// Decision returns the decided value, or nil if the Machine hasn't
// decided (yet, or ever — it may have been cancelled).
func (m *Machine) Decision() *Decision {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.decided
}

// Cancel tears the Machine down without deciding, discarding any
// in-flight round timer. Used when the block for this height arrives via
// normal sync before local consensus decides.
func (m *Machine) Cancel() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.decided != nil || m.cancelled {
		return
	}
	m.cancelled = true
	if m.timer != nil {
		m.timer.Stop()
	}
	close(m.done)
}

func (m *Machine) startRoundLocked(round uint32) {
	m.round = round
	m.step = StepPropose
	metrics.TendermintRound.Set(float64(round))
	if m.timer != nil {
		m.timer.Stop()
	}

	proposer, err := m.validators.TendermintProposer(m.height, round)
	if err == nil && m.isValidator && addressEqual(proposer.ValidatorAddress, m.selfAddress()) {
		m.proposeLocked(round)
	}

	m.timer = m.clock.AfterFunc(roundTimeout(round), func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		m.onProposeTimeoutLocked(round)
	})
}

func (m *Machine) selfAddress() primitives.Address {
	if !m.isValidator {
		return primitives.Address{}
	}
	owner, err := m.validators.SlotOwner(m.selfSlot)
	if err != nil {
		return primitives.Address{}
	}
	return owner.ValidatorAddress
}

func addressEqual(a, b primitives.Address) bool { return a == b }

// proposeLocked broadcasts this validator's proposal for round: either
// its valid (locked-in) value if one exists, or a fresh block from
// blockSource.
func (m *Machine) proposeLocked(round uint32) {
	if m.blockSource == nil || m.self == nil {
		return
	}
	var block *chain.MacroBlock
	validRound := int32(-1)
	if m.validValue != nil {
		b, ok := m.blockForHash(*m.validValue)
		if ok {
			block = b
			validRound = m.validRound
		}
	}
	if block == nil {
		b, err := m.blockSource.ProposeBlock(m.height, round)
		if err != nil || b == nil {
			return
		}
		block = b
	}
	p := Proposal{Height: m.height, Round: round, ValidRound: validRound, Block: block, Slot: m.selfSlot}
	sig, err := m.self.SignWithDomain(blssig.DomainTendermintProposal, p.signedContent())
	if err != nil {
		return
	}
	p.Signature = sig
	m.proposals[round] = p
	if m.broadcaster != nil {
		m.broadcaster.BroadcastProposal(p)
	}
}

// blockForHash recovers the *chain.MacroBlock behind a previously seen
// proposal matching hash, so a re-proposal of a locked value doesn't
// require the caller to have cached it separately.
func (m *Machine) blockForHash(hash primitives.Hash) (*chain.MacroBlock, bool) {
	for _, p := range m.proposals {
		if p.Block != nil && p.Block.Hash() == hash {
			return p.Block, true
		}
	}
	return nil, false
}

// ReceiveProposal processes a (possibly out-of-order, possibly
// duplicate) proposal. Signature verification against the proposer's
// published BLS key is the caller's responsibility (it requires the
// staking contract's validator record lookup, which this package does
// not own); a Verify func is accepted here instead for that reason.
func (m *Machine) ReceiveProposal(p Proposal, verify func(Proposal) bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cancelled || m.decided != nil {
		return ErrCancelled
	}
	if p.Height != m.height {
		return fmt.Errorf("tendermint: proposal for height %d delivered to height %d machine", p.Height, m.height)
	}
	if verify != nil && !verify(p) {
		return fmt.Errorf("tendermint: proposal signature invalid")
	}
	if _, ok := m.proposals[p.Round]; ok {
		return nil // idempotent duplicate
	}
	m.proposals[p.Round] = p
	if p.Round == m.round && m.step == StepPropose {
		m.onValidProposalLocked(p)
	}
	// A precommit quorum for this proposal's value may already have been
	// reached on p.Round before the proposal itself arrived (the quorum
	// check in onPrecommitUpdateLocked bails out without the block). Now
	// that we have it, recheck.
	if m.precommits[p.Round] != nil {
		m.onPrecommitUpdateLocked(p.Round)
	}
	return nil
}

func (m *Machine) onValidProposalLocked(p Proposal) {
	hash := p.Block.Hash()
	accept := p.ValidRound < 0
	if p.ValidRound >= 0 {
		pv := m.prevotes[uint32(p.ValidRound)]
		accept = pv != nil && pv.HasQuorum(hash)
	}

	var vote *primitives.Hash
	if accept && (m.lockedRound == -1 || (m.lockedValue != nil && *m.lockedValue == hash) || int32(p.Round) > m.lockedRound) {
		vote = &hash
	}
	m.castVoteLocked(StepPrevote, vote)
	m.step = StepPrevote
}

// ReceiveVote processes a (possibly out-of-order, possibly duplicate)
// vote. A detected equivocation is handed to the OnEquivocation callback
// and is not itself a failure: ReceiveVote still returns a nil error for
// it, per spec.md §4.7's "Equivocations ... are recorded as evidence", not
// rejected.
func (m *Machine) ReceiveVote(v Vote, verify func(Vote) bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cancelled || m.decided != nil {
		return ErrCancelled
	}
	if v.Height != m.height {
		return fmt.Errorf("tendermint: vote for height %d delivered to height %d machine", v.Height, m.height)
	}
	if verify != nil && !verify(v) {
		return fmt.Errorf("tendermint: vote signature invalid")
	}

	set := m.setFor(v.Round, v.Step)
	_, equiv, err := set.Add(v)
	if err != nil {
		return err
	}
	if equiv != nil && m.onEquivocation != nil {
		m.onEquivocation(m.equivocationProof(v, *equiv))
	}

	switch v.Step {
	case StepPrevote:
		m.onPrevoteUpdateLocked(v.Round)
	case StepPrecommit:
		m.onPrecommitUpdateLocked(v.Round)
	}
	return nil
}

func (m *Machine) setFor(round uint32, step Step) *voteSet {
	var table map[uint32]*voteSet
	if step == StepPrevote {
		table = m.prevotes
	} else {
		table = m.precommits
	}
	if table[round] == nil {
		table[round] = newVoteSet(m.validators)
	}
	return table[round]
}

func (m *Machine) equivocationProof(a, b Vote) chain.EquivocationProof {
	owner, _ := m.validators.SlotOwner(a.Slot)
	return chain.EquivocationProof{
		Offender:    owner.ValidatorAddress,
		BlockHeight: m.height,
		EvidenceA:   a.signedContent(),
		EvidenceB:   b.signedContent(),
	}
}

// onPrevoteUpdateLocked applies the lock rule once the current round's
// prevotes reach quorum for some value (spec.md §4.7: "On receiving a
// valid proposal plus 2f+1 prevotes for the same hash, a validator locks
// on that hash").
func (m *Machine) onPrevoteUpdateLocked(round uint32) {
	if round != m.round || m.step != StepPrevote {
		return
	}
	set := m.prevotes[round]
	key, isNil, ok := set.QuorumValue()
	if !ok {
		return
	}
	if isNil {
		m.castVoteLocked(StepPrecommit, nil)
	} else {
		v := key
		m.lockedValue = &v
		m.lockedRound = int32(round)
		m.validValue = &v
		m.validRound = int32(round)
		m.castVoteLocked(StepPrecommit, &v)
	}
	m.step = StepPrecommit
}

// onPrecommitUpdateLocked decides as soon as any round's precommits reach
// quorum for a non-nil value — spec.md §4.7's "On receiving 2f+1
// precommits for a hash, the validator decides that block", which may
// happen for an earlier round than the one currently running.
func (m *Machine) onPrecommitUpdateLocked(round uint32) {
	if m.decided != nil {
		return
	}
	set := m.precommits[round]
	key, isNil, ok := set.QuorumValue()
	if !ok {
		return
	}
	if isNil {
		if round == m.round && m.step == StepPrecommit {
			m.advanceRoundLocked()
		}
		return
	}

	block, found := m.blockForHash(key)
	if !found {
		// We have quorum on a value we never saw the proposal for; wait
		// for it to arrive (a later ReceiveProposal re-triggers this
		// path) instead of deciding on an incomplete block.
		return
	}
	proof, err := set.Aggregate(round, key)
	if err != nil {
		return
	}
	block.Proof = proof
	decision := Decision{Block: block, Proof: proof}
	m.decided = &decision
	m.step = StepCommit
	metrics.TendermintDecisionsTotal.Inc()
	if m.timer != nil {
		m.timer.Stop()
	}
	if m.onDecided != nil {
		m.onDecided(decision)
	}
	close(m.done)
}

func (m *Machine) onProposeTimeoutLocked(round uint32) {
	if round != m.round || m.decided != nil || m.cancelled {
		return
	}
	switch m.step {
	case StepPropose:
		m.castVoteLocked(StepPrevote, nil)
		m.step = StepPrevote
		m.timer = m.clock.AfterFunc(roundTimeout(round), func() {
			m.mu.Lock()
			defer m.mu.Unlock()
			m.onProposeTimeoutLocked(round)
		})
	case StepPrevote:
		m.castVoteLocked(StepPrecommit, nil)
		m.step = StepPrecommit
		m.timer = m.clock.AfterFunc(roundTimeout(round), func() {
			m.mu.Lock()
			defer m.mu.Unlock()
			m.onProposeTimeoutLocked(round)
		})
	case StepPrecommit:
		m.advanceRoundLocked()
	}
}

func (m *Machine) advanceRoundLocked() {
	if m.decided != nil || m.cancelled {
		return
	}
	m.startRoundLocked(m.round + 1)
}

func (m *Machine) castVoteLocked(step Step, hash *primitives.Hash) {
	if !m.isValidator || m.self == nil {
		return
	}
	v := Vote{Height: m.height, Round: m.round, Step: step, Slot: m.selfSlot}
	if hash == nil {
		v.Nil = true
	} else {
		v.BlockHash = *hash
	}
	sig, err := m.self.SignWithDomain(domainForStep(step), v.signedContent())
	if err != nil {
		return
	}
	v.Signature = sig
	set := m.setFor(m.round, step)
	set.Add(v)
	if m.broadcaster != nil {
		m.broadcaster.BroadcastVote(v)
	}
}
