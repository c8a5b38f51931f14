package tendermint

import (
	"sync"

	"github.com/albatross-go/node/internal/chain"
)

// Manager runs one Machine per in-flight macro-block height, buffering
// proposals/votes for a height whose Machine hasn't started yet (spec.md
// §4.7's pipelining: "Proposals for height h may be received while height
// h-1 is still committing"). Once StartHeight(h) runs, any buffered
// messages for h are replayed into the new Machine before live delivery
// resumes.
type Manager struct {
	mu                sync.Mutex
	machines          map[uint32]*Machine
	bufferedProposals map[uint32][]bufferedProposal
	bufferedVotes     map[uint32][]bufferedVote
}

type bufferedProposal struct {
	p      Proposal
	verify func(Proposal) bool
}

type bufferedVote struct {
	v      Vote
	verify func(Vote) bool
}

// NewManager builds an empty Manager.
func NewManager() *Manager {
	return &Manager{
		machines:          make(map[uint32]*Machine),
		bufferedProposals: make(map[uint32][]bufferedProposal),
		bufferedVotes:     make(map[uint32][]bufferedVote),
	}
}

// StartHeight creates and starts height's Machine, replaying any messages
// that arrived for it early while an earlier height was still deciding.
func (mgr *Manager) StartHeight(cfg Config) *Machine {
	mgr.mu.Lock()
	m := NewMachine(cfg)
	mgr.machines[cfg.Height] = m
	proposals := mgr.bufferedProposals[cfg.Height]
	delete(mgr.bufferedProposals, cfg.Height)
	votes := mgr.bufferedVotes[cfg.Height]
	delete(mgr.bufferedVotes, cfg.Height)
	mgr.mu.Unlock()

	m.Start()
	for _, bp := range proposals {
		_ = m.ReceiveProposal(bp.p, bp.verify)
	}
	for _, bv := range votes {
		_ = m.ReceiveVote(bv.v, bv.verify)
	}
	return m
}

// Machine returns the running Machine for height, if one has been
// started.
func (mgr *Manager) Machine(height uint32) (*Machine, bool) {
	mgr.mu.Lock()
	defer mgr.mu.Unlock()
	m, ok := mgr.machines[height]
	return m, ok
}

// HandleProposal dispatches to height's Machine if it's running, or
// buffers the message for when StartHeight(height) is eventually called.
func (mgr *Manager) HandleProposal(p Proposal, verify func(Proposal) bool) error {
	mgr.mu.Lock()
	m, ok := mgr.machines[p.Height]
	if !ok {
		mgr.bufferedProposals[p.Height] = append(mgr.bufferedProposals[p.Height], bufferedProposal{p, verify})
		mgr.mu.Unlock()
		return nil
	}
	mgr.mu.Unlock()
	return m.ReceiveProposal(p, verify)
}

// HandleVote is HandleProposal's vote counterpart.
func (mgr *Manager) HandleVote(v Vote, verify func(Vote) bool) error {
	mgr.mu.Lock()
	m, ok := mgr.machines[v.Height]
	if !ok {
		mgr.bufferedVotes[v.Height] = append(mgr.bufferedVotes[v.Height], bufferedVote{v, verify})
		mgr.mu.Unlock()
		return nil
	}
	mgr.mu.Unlock()
	return m.ReceiveVote(v, verify)
}

// CancelHeight tears down height's Machine (if running) and drops any
// messages still buffered for it — used when a block for that height
// arrives via normal sync before local consensus decides, per spec.md
// §4.7's cancellation rule.
func (mgr *Manager) CancelHeight(height uint32) {
	mgr.mu.Lock()
	m := mgr.machines[height]
	delete(mgr.machines, height)
	delete(mgr.bufferedProposals, height)
	delete(mgr.bufferedVotes, height)
	mgr.mu.Unlock()
	if m != nil {
		m.Cancel()
	}
}

// Retire drops height's Machine after it has decided (or been
// cancelled), freeing its vote/proposal tables. Callers normally call this
// once the decided block has been pushed through chain.Pipeline.
func (mgr *Manager) Retire(height uint32) {
	mgr.mu.Lock()
	defer mgr.mu.Unlock()
	delete(mgr.machines, height)
}

// DecidedMacroBlock is a convenience accessor returning the finalized
// *chain.MacroBlock for height, if its Machine has decided.
func (mgr *Manager) DecidedMacroBlock(height uint32) (*chain.MacroBlock, bool) {
	m, ok := mgr.Machine(height)
	if !ok {
		return nil, false
	}
	d := m.Decision()
	if d == nil {
		return nil, false
	}
	return d.Block, true
}
