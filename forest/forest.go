package forest

import (
	"github.com/google/uuid"
)

// Forest is an ensemble of numTrees decision trees over label type L, each
// storing distributions of type Dn at its leaves (and, if configured, at
// split nodes too) and producing an aggregate distribution of type Do at
// prediction time. The label/impurity/split semantics live entirely in
// spec; the engine itself never inspects L.
type Forest[L any, Dn NodeDist[L], Do OutputDist[L, Dn]] struct {
	trees         []tree[Dn]
	numTrees      int
	numLevels     int
	fitSplitNodes bool
	trained       bool

	spec      Specialization[L, Dn]
	newOutput func() Do

	// runTag identifies one trained model instance; stamped at Train time
	// and persisted so two files produced from equivalent but distinct
	// training runs are distinguishable at a glance.
	runTag string
}

// NewForest constructs an untrained forest with numTrees trees, each with
// numLevels splitting levels below the root. spec supplies the label
// semantics; newOutput allocates a fresh output distribution for
// prediction aggregation.
func NewForest[L any, Dn NodeDist[L], Do OutputDist[L, Dn]](
	numTrees, numLevels int,
	spec Specialization[L, Dn],
	newOutput func() Do,
) (*Forest[L, Dn, Do], error) {
	if numTrees < 1 {
		return nil, newConfigError("numTrees must be >= 1")
	}
	if numLevels < 1 {
		return nil, newConfigError("numLevels must be >= 1")
	}
	if spec == nil {
		return nil, newConfigError("spec must not be nil")
	}
	if newOutput == nil {
		return nil, newConfigError("newOutput must not be nil")
	}
	return &Forest[L, Dn, Do]{
		numTrees:  numTrees,
		numLevels: numLevels,
		spec:      spec,
		newOutput: newOutput,
	}, nil
}

// NumTrees returns T.
func (f *Forest[L, Dn, Do]) NumTrees() int { return f.numTrees }

// NumLevels returns L, the number of splitting levels below the root.
func (f *Forest[L, Dn, Do]) NumLevels() int { return f.numLevels }

// Trained reports whether Train has completed successfully on this forest.
func (f *Forest[L, Dn, Do]) Trained() bool { return f.trained }

// RunTag returns the identifier stamped on this model at training time, or
// the empty string for an untrained (or not-yet-loaded) forest.
func (f *Forest[L, Dn, Do]) RunTag() string { return f.runTag }

// ForEachNodeDist calls fn once for every node (leaf, or split node when
// FitSplitNodes was set) that carries a fitted distribution, across every
// tree. Used by specializations to implement broadcast operations such as
// temperature smoothing without the engine needing to know what such an
// operation means for a given L.
func (f *Forest[L, Dn, Do]) ForEachNodeDist(fn func(Dn)) {
	for t := range f.trees {
		for n := range f.trees[t].nodes {
			if f.trees[t].nodes[n].hasDist {
				fn(f.trees[t].nodes[n].dist)
			}
		}
	}
}

// VarImp aggregates the information-gain contributed by splits using each
// feature parameter tuple, bucketed by classify(params). It supplements
// the base engine (spec.md does not describe it) but is grounded on the
// teacher's own VarImp method: split nodes already remember the gain they
// were chosen for, so accumulating it by feature is a cheap ex-post pass
// over the flat node arrays rather than a training-time cost.
func (f *Forest[L, Dn, Do]) VarImp(numFeatures int, classify func(params []int) int) []float64 {
	imp := make([]float64, numFeatures)
	for t := range f.trees {
		for n := range f.trees[t].nodes {
			nd := &f.trees[t].nodes[n]
			if nd.isLeaf || nd.params == nil {
				continue
			}
			feat := classify(nd.params)
			if feat >= 0 && feat < numFeatures {
				imp[feat] += nd.gain
			}
		}
	}
	return imp
}

func newRunTag() string {
	return uuid.NewString()
}
