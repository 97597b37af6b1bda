// Package forest implements the generic random-forest engine: tree memory
// layout, training (bagging, split search, recursion), prediction
// traversals, and the persisted text model format. It is generic over a
// label type L, a node distribution Dn, and an output distribution Do; the
// label/impurity/split semantics are supplied by a Specialization, the
// capability-trait stand-in for the source library's CRTP derived class
// (see spec.md section 9 and DESIGN.md).
package forest

import (
	"bufio"
	"io"
)

// NodeDist is the capability set required of a leaf (or, when
// FitSplitNodes is set, split-node) distribution.
type NodeDist[L any] interface {
	Reset()
	Fit(labels []L)
	Pdf(label L) float64
	Normalise()
	WriteTo(w *bufio.Writer) error
	ReadFrom(r *bufio.Reader) error
}

// OutputDist is the capability set required of the distribution produced by
// combining leaf distributions across an ensemble of trees. Dn and Do are
// frequently the same concrete type (as in both specializations this engine
// ships), but the engine treats them as distinct capability sets per
// spec.md section 9.
type OutputDist[L any, Dn any] interface {
	NodeDist[L]
	Combine(leaf Dn)
}

// ScoreID pairs a computed feature score with the internal training index
// (a position into the caller's id/label slices) of the sample it came
// from. Slices of ScoreID are sorted ascending by Score during split
// evaluation.
type ScoreID struct {
	Score float64
	ID    int
}

// BestSplitResult is returned by a Specialization's BestSplit.
type BestSplitResult struct {
	Threshold float64
	InfoGain  float64
	Valid     bool // false if no candidate split was usable (e.g. all scores tied)
}

// Specialization supplies the label/impurity/split logic that binds the
// generic engine to a concrete problem (classification, circular
// regression, ...). Every method corresponds to one bullet in spec.md
// section 4.D's "Specialization contract".
type Specialization[L any, Dn any] interface {
	// NewNodeDist allocates a fresh, unfitted node distribution.
	NewNodeDist() Dn
	// InitNodeDist prepares dist for fitting (e.g. setting its class
	// count); called immediately after NewNodeDist for every node about
	// to be fit.
	InitNodeDist(dist Dn)
	// NumParams returns P, the feature-parameter tuple arity.
	NumParams() int
	// TrainingPrecalculations is called once, before any tree is fit, with
	// the full training label/id sets (not a per-tree bag).
	TrainingPrecalculations(labels []L, ids []int)
	// CleanupPrecalculations releases any state built by
	// TrainingPrecalculations; called once after all trees are fit.
	CleanupPrecalculations()
	// SingleNodeImpurity scores the impurity of the labels referenced by
	// bag (indices into the training label slice) before splitting.
	SingleNodeImpurity(labels []L, bag []int) float64
	// BestSplit evaluates a single trial's score-sorted sample list and
	// returns the best threshold found for that trial, plus the resulting
	// information gain relative to initialImpurity.
	BestSplit(pairs []ScoreID, labels []L, initialImpurity float64) BestSplitResult
	// MinInfoGain returns the information-gain threshold below which a
	// node's best split is rejected and the node becomes a leaf instead.
	MinInfoGain(tree, node int) float64
	// PrintHeaderDescription writes a human-readable, ignored-on-read
	// description of the header fields that follow.
	PrintHeaderDescription(w io.Writer)
	// PrintHeaderData writes the specialization's header line(s).
	PrintHeaderData(w *bufio.Writer) error
	// ReadHeader parses the specialization's header line(s).
	ReadHeader(r *bufio.Reader) error
}

// FeatureFunc evaluates a batch of ids under a single parameter tuple,
// writing one score per id into out. Must be safe for concurrent
// invocation from different trees.
type FeatureFunc func(ids []int, params []int, out []float64)

// SingleFeatureFunc evaluates one id under a single parameter tuple. Used
// by PredictDistSingle/ProbabilitySingle. Must be safe for concurrent
// invocation.
type SingleFeatureFunc func(id int, params []int) float64

// ParamFunc fills params with a fresh random parameter tuple. Must be safe
// for concurrent invocation (the default generator in package params
// achieves this by guarding its PRNG with a mutex).
type ParamFunc func(params []int)
