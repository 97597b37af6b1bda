// Package classifier binds the generic forest engine to discrete-label
// classification: class-frequency leaves and an incremental entropy split
// search that sweeps the sorted candidate thresholds in a single pass
// rather than recomputing the class histogram from scratch at each one.
package classifier

import (
	"bufio"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"

	"github.com/pkg/errors"

	"github.com/cpbridge/canopy/dist"
	"github.com/cpbridge/canopy/forest"
)

// defaultMinInfoGain mirrors the source library's compiled-in classifier
// threshold.
const defaultMinInfoGain = 0.05

// Classifier is a forest.Specialization[int, *dist.DiscreteDist] for
// K-class problems. Labels are class indices in [0, K).
type Classifier struct {
	numClasses  int
	numFeatures int
	minInfoGain float64
	classNames  []string

	// xlogx[i] = i*ln(i), precalculated once per Train call over the
	// full training set so SingleNodeImpurity and BestSplit never call
	// math.Log in their hot inner loops.
	xlogx []float64
}

// Option configures a Classifier at construction time.
type Option func(*Classifier)

// WithMinInfoGain overrides the information-gain threshold below which a
// candidate split is rejected in favor of a leaf.
func WithMinInfoGain(g float64) Option {
	return func(c *Classifier) { c.minInfoGain = g }
}

// WithClassNames attaches human-readable names to class indices, persisted
// in the model header. len(names) must equal numClasses.
func WithClassNames(names []string) Option {
	return func(c *Classifier) { c.classNames = names }
}

// NewClassifier returns a Classifier over numClasses labels. numFeatures is
// recorded but not used by the split search: every split trial's parameter
// tuple comes from the ParamFunc passed to Train.
func NewClassifier(numClasses, numFeatures int, opts ...Option) *Classifier {
	c := &Classifier{
		numClasses:  numClasses,
		numFeatures: numFeatures,
		minInfoGain: defaultMinInfoGain,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.classNames == nil {
		c.classNames = defaultClassNames(numClasses)
	}
	return c
}

func defaultClassNames(k int) []string {
	names := make([]string, k)
	for i := range names {
		names[i] = fmt.Sprintf("Class %d", i)
	}
	return names
}

// New builds a ready-to-train forest over this classifier.
func New(numTrees, numLevels, numClasses, numFeatures int, opts ...Option) (*forest.Forest[int, *dist.DiscreteDist, *dist.DiscreteDist], *Classifier, error) {
	c := NewClassifier(numClasses, numFeatures, opts...)
	newOutput := func() *dist.DiscreteDist { return dist.NewDiscreteDist(numClasses) }
	f, err := forest.NewForest[int, *dist.DiscreteDist, *dist.DiscreteDist](numTrees, numLevels, c, newOutput)
	return f, c, err
}

// NumParams returns 1: a single parameter, the candidate feature index.
func (c *Classifier) NumParams() int { return 1 }

// NewNodeDist allocates an unfitted class-frequency distribution.
func (c *Classifier) NewNodeDist() *dist.DiscreteDist {
	return dist.NewDiscreteDist(c.numClasses)
}

// InitNodeDist resets dist ahead of fitting.
func (c *Classifier) InitNodeDist(d *dist.DiscreteDist) { d.Reset() }

// TrainingPrecalculations builds the xlogx lookup table sized to the full
// training set.
func (c *Classifier) TrainingPrecalculations(labels []int, ids []int) {
	n := len(labels)
	c.xlogx = make([]float64, n+1)
	for i := 1; i <= n; i++ {
		x := float64(i)
		c.xlogx[i] = x * math.Log(x)
	}
}

// CleanupPrecalculations releases the xlogx table.
func (c *Classifier) CleanupPrecalculations() { c.xlogx = nil }

func (c *Classifier) xlogxAt(x int) float64 {
	if x <= 0 {
		return 0
	}
	if x < len(c.xlogx) {
		return c.xlogx[x]
	}
	fx := float64(x)
	return fx * math.Log(fx)
}

// entropy computes the Shannon entropy (natural log) of a class histogram of n
// total samples via the xlogx identity
//
//	H = (xlogx(n) - sum_c xlogx(counts[c])) / n
func (c *Classifier) entropy(counts []int, n int) float64 {
	if n == 0 {
		return 0
	}
	sum := c.xlogxAt(n)
	for _, cnt := range counts {
		sum -= c.xlogxAt(cnt)
	}
	return sum / float64(n)
}

// SingleNodeImpurity returns the entropy of the labels referenced by bag.
func (c *Classifier) SingleNodeImpurity(labels []int, bag []int) float64 {
	counts := make([]int, c.numClasses)
	for _, id := range bag {
		counts[labels[id]]++
	}
	return c.entropy(counts, len(bag))
}

// BestSplit sweeps pairs (already sorted ascending by score) once,
// maintaining running left/right class histograms and only evaluating a
// candidate threshold where the score actually changes between two
// samples — ties never straddle a threshold. When several consecutive
// scores are equal the candidate threshold sits at the midpoint between
// the last sample of that run and the first sample of the next distinct
// value (the plateau-midpoint rule).
func (c *Classifier) BestSplit(pairs []forest.ScoreID, labels []int, initialImpurity float64) forest.BestSplitResult {
	n := len(pairs)
	left := make([]int, c.numClasses)
	right := make([]int, c.numClasses)
	for _, p := range pairs {
		right[labels[p.ID]]++
	}

	var best forest.BestSplitResult
	i := 0
	for i < n {
		j := i
		for j < n && pairs[j].Score == pairs[i].Score {
			cls := labels[pairs[j].ID]
			left[cls]++
			right[cls]--
			j++
		}
		if j < n {
			nLeft, nRight := j, n-j
			weighted := (float64(nLeft)*c.entropy(left, nLeft) + float64(nRight)*c.entropy(right, nRight)) / float64(n)
			gain := initialImpurity - weighted
			if !best.Valid || gain > best.InfoGain {
				best = forest.BestSplitResult{
					Threshold: 0.5 * (pairs[j-1].Score + pairs[j].Score),
					InfoGain:  gain,
					Valid:     true,
				}
			}
		}
		i = j
	}
	return best
}

// MinInfoGain returns the same threshold for every tree/node; classifiers
// do not vary it spatially.
func (c *Classifier) MinInfoGain(tree, node int) float64 { return c.minInfoGain }

// PrintHeaderDescription documents the header line for a human reading the
// persisted file; ignored on read.
func (c *Classifier) PrintHeaderDescription(w io.Writer) {
	fmt.Fprintln(w, "# classifier header: numClasses className...")
}

// PrintHeaderData writes "K name_0 ... name_{K-1}".
func (c *Classifier) PrintHeaderData(w *bufio.Writer) error {
	if _, err := w.WriteString(strconv.Itoa(c.numClasses)); err != nil {
		return errors.Wrap(err, "writing classifier header")
	}
	for _, name := range c.classNames {
		if _, err := w.WriteString(" " + name); err != nil {
			return errors.Wrap(err, "writing classifier header")
		}
	}
	return nil
}

// ReadHeader parses "K name_0 ... name_{K-1}" and validates K against the
// classifier's own configured class count.
func (c *Classifier) ReadHeader(r *bufio.Reader) error {
	kTok, err := readToken(r)
	if err != nil {
		return errors.Wrap(err, "reading class count")
	}
	k, err := strconv.Atoi(kTok)
	if err != nil {
		return errors.Wrap(err, "parsing class count")
	}
	if k != c.numClasses {
		return errors.Errorf("class count mismatch: file has %d, classifier expects %d", k, c.numClasses)
	}

	names := make([]string, k)
	for i := 0; i < k; i++ {
		tok, err := readToken(r)
		if err != nil {
			return errors.Wrapf(err, "reading class name %d", i)
		}
		names[i] = tok
	}
	c.classNames = names
	return nil
}

// ClassNames returns the names attached to each class index.
func (c *Classifier) ClassNames() []string {
	return c.classNames
}

// RaiseNodeTemperature applies softmax-with-temperature smoothing (see
// dist.DiscreteDist.RaiseTemperature) to every fitted node distribution in
// f. Smoothing the leaves after training counteracts overconfident class
// frequencies from small leaf bags without retraining.
func RaiseNodeTemperature(f *forest.Forest[int, *dist.DiscreteDist, *dist.DiscreteDist], temperature float64) {
	f.ForEachNodeDist(func(d *dist.DiscreteDist) {
		d.RaiseTemperature(temperature)
	})
}

// readToken reads the next whitespace-delimited token from r.
func readToken(r *bufio.Reader) (string, error) {
	var b strings.Builder
	for {
		ch, err := r.ReadByte()
		if err != nil {
			return "", err
		}
		if !isSpace(ch) {
			if err := r.UnreadByte(); err != nil {
				return "", err
			}
			break
		}
	}
	for {
		ch, err := r.ReadByte()
		if err != nil {
			if b.Len() > 0 {
				return b.String(), nil
			}
			return "", err
		}
		if isSpace(ch) {
			if err := r.UnreadByte(); err != nil {
				return "", err
			}
			return b.String(), nil
		}
		b.WriteByte(ch)
	}
}

func isSpace(c byte) bool {
	return c == ' ' || c == '\t' || c == '\n' || c == '\r'
}
