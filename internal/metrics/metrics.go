// Package metrics declares the Prometheus instrumentation points named in
// SPEC_FULL.md's ambient stack: chain height, fork count, Tendermint
// rounds, and proof latency. This package only registers and exposes
// collectors — there is no HTTP server here (running one is an explicit
// Non-goal of the underlying spec); a caller that does run one mounts
// promhttp.Handler() against the default registry itself.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ChainHeight is the current main-chain head height.
	ChainHeight = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "albatross",
		Subsystem: "chain",
		Name:      "height",
		Help:      "Current main-chain head block height.",
	})

	// ForksTotal counts every Push outcome that created or extended a
	// non-main-chain branch (PushForked), whether or not it later won
	// fork choice.
	ForksTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "albatross",
		Subsystem: "chain",
		Name:      "forks_total",
		Help:      "Number of candidate blocks accepted onto a non-main-chain branch.",
	})

	// RebranchesTotal counts fork-choice-driven head changes (reorgs).
	RebranchesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "albatross",
		Subsystem: "chain",
		Name:      "rebranches_total",
		Help:      "Number of times fork choice replaced the main-chain head.",
	})

	// TendermintRound is the current round number the consensus machine
	// is running at its active height.
	TendermintRound = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "albatross",
		Subsystem: "tendermint",
		Name:      "round",
		Help:      "Current Tendermint round at the active height.",
	})

	// TendermintDecisionsTotal counts heights that reached a decision.
	TendermintDecisionsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "albatross",
		Subsystem: "tendermint",
		Name:      "decisions_total",
		Help:      "Number of heights for which the consensus machine decided a macro block.",
	})

	// ProofStageLatency records wall-clock time per ZK proof-chain stage,
	// labeled by stage name (pk-tree, macro-block, macro-block-wrapper,
	// merger, merger-wrapper).
	ProofStageLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "albatross",
		Subsystem: "zkp",
		Name:      "stage_latency_seconds",
		Help:      "Wall-clock seconds spent proving one proof-chain stage.",
		Buckets:   prometheus.ExponentialBuckets(0.1, 2, 12),
	}, []string{"stage"})

	// ProofChainFailuresTotal counts proving pipelines that ended in an
	// error other than cancellation.
	ProofChainFailuresTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "albatross",
		Subsystem: "zkp",
		Name:      "chain_failures_total",
		Help:      "Number of proof-chain runs that failed for a reason other than cancellation.",
	})
)
