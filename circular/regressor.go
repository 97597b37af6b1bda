// Package circular binds the generic forest engine to circular regression:
// von Mises leaves and a fixed-trial threshold sweep, since (unlike
// discrete class counts) circular variance cannot be updated incrementally
// as samples move from one side of a candidate split to the other.
package circular

import (
	"bufio"
	"fmt"
	"io"
	"math"
	"sort"

	"github.com/cpbridge/canopy/dist"
	"github.com/cpbridge/canopy/forest"
)

// defaultMinInfoGain and numSplitTrials mirror the source library's
// compiled-in circular-regressor thresholds.
const (
	defaultMinInfoGain = 0.1
	numSplitTrials     = 100
)

// Regressor is a forest.Specialization[float64, *dist.VonMisesDist] for
// angle-valued (radian) regression targets.
type Regressor struct {
	numFeatures int
	minInfoGain float64

	// sinPrecalc/cosPrecalc hold sin/cos of every training label,
	// computed once before any tree is fit so every node's circular
	// variance is a pair of running sums rather than a pass of trig calls.
	sinPrecalc []float64
	cosPrecalc []float64
}

// Option configures a Regressor at construction time.
type Option func(*Regressor)

// WithMinInfoGain overrides the information-gain threshold below which a
// candidate split is rejected in favor of a leaf.
func WithMinInfoGain(g float64) Option {
	return func(r *Regressor) { r.minInfoGain = g }
}

// NewRegressor returns a Regressor. numFeatures is recorded but not used by
// the split search: every split trial's parameter tuple comes from the
// ParamFunc passed to Train.
func NewRegressor(numFeatures int, opts ...Option) *Regressor {
	r := &Regressor{numFeatures: numFeatures, minInfoGain: defaultMinInfoGain}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// New builds a ready-to-train forest over this regressor.
func New(numTrees, numLevels, numFeatures int, opts ...Option) (*forest.Forest[float64, *dist.VonMisesDist, *dist.VonMisesDist], *Regressor, error) {
	r := NewRegressor(numFeatures, opts...)
	newOutput := func() *dist.VonMisesDist { return dist.NewVonMisesDist() }
	f, err := forest.NewForest[float64, *dist.VonMisesDist, *dist.VonMisesDist](numTrees, numLevels, r, newOutput)
	return f, r, err
}

// NumParams returns 1: a single parameter, the candidate feature index.
func (r *Regressor) NumParams() int { return 1 }

// NewNodeDist allocates an unfitted von Mises distribution.
func (r *Regressor) NewNodeDist() *dist.VonMisesDist { return dist.NewVonMisesDist() }

// InitNodeDist resets dist ahead of fitting.
func (r *Regressor) InitNodeDist(d *dist.VonMisesDist) { d.Reset() }

// TrainingPrecalculations precomputes sin/cos of every training label.
func (r *Regressor) TrainingPrecalculations(labels []float64, ids []int) {
	r.sinPrecalc = make([]float64, len(labels))
	r.cosPrecalc = make([]float64, len(labels))
	for i, l := range labels {
		r.sinPrecalc[i] = math.Sin(l)
		r.cosPrecalc[i] = math.Cos(l)
	}
}

// CleanupPrecalculations releases the sin/cos tables.
func (r *Regressor) CleanupPrecalculations() {
	r.sinPrecalc = nil
	r.cosPrecalc = nil
}

// circularSSD returns the sum of squared circular deviations from the
// mean direction of the samples referenced by ids: Sum[0.5*(1-cos(l_i -
// mu))]^2, where mu is the circular mean direction of the bag. Unlike a
// normalised circular variance this grows with bag size, so it cannot be
// compared across bags of different sizes without weighting.
func (r *Regressor) circularSSD(ids []int) float64 {
	if len(ids) == 0 {
		return 0
	}
	var s, c float64
	for _, id := range ids {
		s += r.sinPrecalc[id]
		c += r.cosPrecalc[id]
	}
	norm := math.Hypot(s, c)
	muCos, muSin := 1.0, 0.0
	if norm > 0 {
		muCos, muSin = c/norm, s/norm
	}

	var ssd float64
	for _, id := range ids {
		cosDiff := r.cosPrecalc[id]*muCos + r.sinPrecalc[id]*muSin
		dev := 0.5 * (1 - cosDiff)
		ssd += dev * dev
	}
	return ssd
}

// SingleNodeImpurity returns the circular sum-of-squared-deviations
// impurity of the labels referenced by bag.
func (r *Regressor) SingleNodeImpurity(labels []float64, bag []int) float64 {
	return r.circularSSD(bag)
}

// BestSplit evaluates numSplitTrials evenly spaced candidate thresholds
// across the trial's score range rather than every data-point boundary:
// circular SSD has no O(1) incremental update as samples cross the
// threshold, so each candidate's cost is already O(n) and a fixed trial
// budget bounds the total work regardless of bag size. Consecutive trials
// whose threshold falls in the same gap between sorted scores land on the
// same partition, which is evaluated only once, at the first such trial;
// the threshold recorded for it is the midpoint of the two sorted scores
// bounding the gap, not a swept fraction.
func (r *Regressor) BestSplit(pairs []forest.ScoreID, labels []float64, initialImpurity float64) forest.BestSplitResult {
	n := len(pairs)
	lo, hi := pairs[0].Score, pairs[n-1].Score

	var best forest.BestSplitResult
	prevIdx := -1
	for t := 1; t < numSplitTrials; t++ {
		frac := float64(t) / float64(numSplitTrials)
		candidate := lo + frac*(hi-lo)

		idx := sort.Search(n, func(i int) bool { return pairs[i].Score >= candidate })
		if idx == 0 || idx == n || idx == prevIdx {
			continue
		}
		prevIdx = idx

		threshold := (pairs[idx-1].Score + pairs[idx].Score) / 2

		leftIDs := make([]int, idx)
		rightIDs := make([]int, n-idx)
		for i := 0; i < idx; i++ {
			leftIDs[i] = pairs[i].ID
		}
		for i := idx; i < n; i++ {
			rightIDs[i-idx] = pairs[i].ID
		}

		childrenImpurity := r.circularSSD(leftIDs) + r.circularSSD(rightIDs)
		gain := initialImpurity - childrenImpurity
		if !best.Valid || gain > best.InfoGain {
			best = forest.BestSplitResult{Threshold: threshold, InfoGain: gain, Valid: true}
		}
	}
	return best
}

// MinInfoGain returns the same threshold for every tree/node.
func (r *Regressor) MinInfoGain(tree, node int) float64 { return r.minInfoGain }

// PrintHeaderDescription documents the (empty) header for a human reading
// the persisted file.
func (r *Regressor) PrintHeaderDescription(w io.Writer) {
	fmt.Fprintln(w, "# circular regressor header: (none)")
}

// PrintHeaderData writes nothing; the regressor carries no header state
// beyond what the engine itself persists.
func (r *Regressor) PrintHeaderData(w *bufio.Writer) error { return nil }

// ReadHeader reads nothing, matching PrintHeaderData.
func (r *Regressor) ReadHeader(br *bufio.Reader) error { return nil }
