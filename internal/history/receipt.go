package history

import "github.com/albatross-go/node/internal/primitives"

// peaksState is the persisted form of an epoch's history MMR in its
// peaks-only representation: enough to restore a live mmr.Peaks and keep
// pushing, or to answer Root/TotalLenAtEpoch in O(1) without touching any
// leaf data. Both Light (its only state) and Full (a fast-path cache
// alongside the full leaf table) persist this shape.
type peaksState struct {
	NumLeaves uint64          `json:"num_leaves"`
	Peaks     []primitives.Hash `json:"peaks"`
}

// blockReceipt records what AddBlock did to an epoch's tree, so
// RemoveBlock can undo it without recomputing anything: the peaks-only
// state immediately before the block's leaves were pushed, and how many
// leaves it added (the full store also needs the count to know which leaf
// keys to delete).
type blockReceipt struct {
	Epoch         uint32          `json:"epoch"`
	LeavesAdded   uint64          `json:"leaves_added"`
	PrevNumLeaves uint64          `json:"prev_num_leaves"`
	PrevPeaks     []primitives.Hash `json:"prev_peaks"`
}
