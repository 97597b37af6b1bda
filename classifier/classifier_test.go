package classifier

import (
	"bytes"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cpbridge/canopy/dist"
	"github.com/cpbridge/canopy/forest"
	"github.com/cpbridge/canopy/params"
)

// bruteForceBestSplit recomputes the weighted entropy at every candidate
// boundary from scratch, the reference this test checks the incremental
// sweep in BestSplit against (universal property 7).
func bruteForceBestSplit(c *Classifier, pairs []forest.ScoreID, labels []int, initialImpurity float64) forest.BestSplitResult {
	n := len(pairs)
	var best forest.BestSplitResult
	for j := 1; j < n; j++ {
		if pairs[j].Score == pairs[j-1].Score {
			continue
		}
		leftCounts := make([]int, c.numClasses)
		rightCounts := make([]int, c.numClasses)
		for i := 0; i < j; i++ {
			leftCounts[labels[pairs[i].ID]]++
		}
		for i := j; i < n; i++ {
			rightCounts[labels[pairs[i].ID]]++
		}
		weighted := (float64(j)*c.entropy(leftCounts, j) + float64(n-j)*c.entropy(rightCounts, n-j)) / float64(n)
		gain := initialImpurity - weighted
		if !best.Valid || gain > best.InfoGain {
			best = forest.BestSplitResult{
				Threshold: 0.5 * (pairs[j-1].Score + pairs[j].Score),
				InfoGain:  gain,
				Valid:     true,
			}
		}
	}
	return best
}

func TestFastEntropySplitMatchesBruteForce(t *testing.T) {
	c := NewClassifier(3, 1)
	c.xlogx = make([]float64, 200)
	for i := 1; i < 200; i++ {
		c.xlogx[i] = float64(i) * math.Log(float64(i))
	}

	labels := []int{0, 0, 1, 2, 1, 0, 2, 2, 1, 0, 1, 2}
	scores := []float64{0.1, 0.5, 0.2, 0.9, 0.3, 0.7, 0.15, 0.6, 0.8, 0.05, 0.95, 0.4}

	pairs := make([]forest.ScoreID, len(scores))
	for i, s := range scores {
		pairs[i] = forest.ScoreID{Score: s, ID: i}
	}
	for i := 0; i < len(pairs); i++ {
		for j := i + 1; j < len(pairs); j++ {
			if pairs[j].Score < pairs[i].Score {
				pairs[i], pairs[j] = pairs[j], pairs[i]
			}
		}
	}

	counts := make([]int, 3)
	for _, l := range labels {
		counts[l]++
	}
	initial := c.entropy(counts, len(labels))

	fast := c.BestSplit(pairs, labels, initial)
	ref := bruteForceBestSplit(c, pairs, labels, initial)

	require.True(t, fast.Valid)
	require.True(t, ref.Valid)
	assert.InDelta(t, ref.InfoGain, fast.InfoGain, 1e-12)
	assert.InDelta(t, ref.Threshold, fast.Threshold, 1e-12)
}

func TestDegenerateClassifierSingleClassNeverSplits(t *testing.T) {
	c := NewClassifier(2, 1)
	c.TrainingPrecalculations(make([]int, 20), nil)

	labels := make([]int, 20)
	bag := make([]int, 20)
	scores := make([]float64, 20)
	for i := range bag {
		bag[i] = i
		scores[i] = float64(i)
	}
	initial := c.SingleNodeImpurity(labels, bag)
	assert.Equal(t, 0.0, initial)

	pairs := make([]forest.ScoreID, len(bag))
	for i, id := range bag {
		pairs[i] = forest.ScoreID{Score: scores[i], ID: id}
	}
	result := c.BestSplit(pairs, labels, initial)
	assert.LessOrEqual(t, result.InfoGain, 0.0)
}

func TestSeparableTwoClassesSplitCleanly(t *testing.T) {
	c := NewClassifier(2, 1)
	c.TrainingPrecalculations(make([]int, 10), nil)

	labels := []int{0, 0, 0, 0, 0, 1, 1, 1, 1, 1}
	scores := []float64{0.1, 0.2, 0.3, 0.4, 0.5, 0.6, 0.7, 0.8, 0.9, 1.0}
	pairs := make([]forest.ScoreID, 10)
	for i := range pairs {
		pairs[i] = forest.ScoreID{Score: scores[i], ID: i}
	}

	counts := []int{5, 5}
	initial := c.entropy(counts, 10)
	assert.InDelta(t, math.Ln2, initial, 1e-12)

	result := c.BestSplit(pairs, labels, initial)
	require.True(t, result.Valid)
	assert.InDelta(t, math.Ln2, result.InfoGain, 1e-12)
	assert.InDelta(t, 0.55, result.Threshold, 1e-12)
}

// axisAlignedFeature treats params[0] as a column index into a row-major
// feature matrix shared by closure capture, the simplest possible
// FeatureFunc for tests and a stand-in for a real dataset accessor.
func axisAlignedFeature(x [][]float64) forest.FeatureFunc {
	return func(ids []int, p []int, out []float64) {
		col := p[0]
		for i, id := range ids {
			out[i] = x[id][col]
		}
	}
}

func axisAlignedSingleFeature(x [][]float64) forest.SingleFeatureFunc {
	return func(id int, p []int) float64 {
		return x[id][p[0]]
	}
}

func TestTrainPredictSeparableDataset(t *testing.T) {
	x := make([][]float64, 0, 40)
	labels := make([]int, 0, 40)
	for i := 0; i < 20; i++ {
		x = append(x, []float64{float64(i), 0})
		labels = append(labels, 0)
	}
	for i := 0; i < 20; i++ {
		x = append(x, []float64{float64(100 + i), 0})
		labels = append(labels, 1)
	}

	f, _, err := New(5, 4, 2, 2, WithMinInfoGain(0.01))
	require.NoError(t, err)

	gen := params.NewUniformGenerator(1, 1)
	err = f.Train(labels, axisAlignedFeature(x), gen.Generate, forest.WithBagging(false), forest.WithMinTrainingData(2))
	require.NoError(t, err)
	assert.True(t, f.Trained())

	ids := make([]int, len(x))
	for i := range ids {
		ids[i] = i
	}
	dists := f.PredictDistGroupwise(ids, axisAlignedFeature(x))
	correct := 0
	for i, d := range dists {
		predicted := 0
		if d.Pdf(1) > d.Pdf(0) {
			predicted = 1
		}
		if predicted == labels[i] {
			correct++
		}
	}
	assert.Equal(t, len(labels), correct)
}

func TestPersistenceRoundTripPreservesPredictions(t *testing.T) {
	x := [][]float64{{0}, {1}, {2}, {10}, {11}, {12}}
	labels := []int{0, 0, 0, 1, 1, 1}

	f, _, err := New(3, 3, 2, 1, WithClassNames([]string{"low", "high"}))
	require.NoError(t, err)

	gen := params.NewUniformGenerator(1, 0)
	require.NoError(t, f.Train(labels, axisAlignedFeature(x), gen.Generate,
		forest.WithBagging(false), forest.WithMinTrainingData(1), forest.WithSeed(42)))

	var buf bytes.Buffer
	require.NoError(t, f.WriteTo(&buf))

	loadSpec := NewClassifier(2, 1)
	loaded, err := forest.LoadForest[int, *dist.DiscreteDist, *dist.DiscreteDist](
		&buf, loadSpec, func() *dist.DiscreteDist { return dist.NewDiscreteDist(2) })
	require.NoError(t, err)

	ids := []int{0, 1, 2, 3, 4, 5}
	before := f.PredictDistGroupwise(ids, axisAlignedFeature(x))
	after := loaded.PredictDistGroupwise(ids, axisAlignedFeature(x))

	for i := range before {
		assert.InDelta(t, before[i].Pdf(0), after[i].Pdf(0), 1e-12)
		assert.InDelta(t, before[i].Pdf(1), after[i].Pdf(1), 1e-12)
	}
	assert.Equal(t, []string{"low", "high"}, loadSpec.ClassNames())
}

func TestGroupwiseAndSingleAgree(t *testing.T) {
	x := [][]float64{{0}, {1}, {2}, {10}, {11}, {12}}
	labels := []int{0, 0, 0, 1, 1, 1}

	f, _, err := New(4, 3, 2, 1)
	require.NoError(t, err)
	gen := params.NewUniformGenerator(1, 0)
	require.NoError(t, f.Train(labels, axisAlignedFeature(x), gen.Generate,
		forest.WithBagging(false), forest.WithMinTrainingData(1), forest.WithSeed(7)))

	ids := []int{0, 1, 2, 3, 4, 5}
	group := f.PredictDistGroupwise(ids, axisAlignedFeature(x))
	for _, id := range ids {
		single := f.PredictDistSingle(id, axisAlignedSingleFeature(x))
		assert.InDelta(t, group[id].Pdf(0), single.Pdf(0), 1e-12)
		assert.InDelta(t, group[id].Pdf(1), single.Pdf(1), 1e-12)
	}
}

func TestRaiseNodeTemperatureSmoothsLeaves(t *testing.T) {
	x := [][]float64{{0}, {1}, {2}, {10}, {11}, {12}}
	labels := []int{0, 0, 0, 1, 1, 1}

	f, _, err := New(1, 3, 2, 1)
	require.NoError(t, err)
	gen := params.NewUniformGenerator(1, 0)
	require.NoError(t, f.Train(labels, axisAlignedFeature(x), gen.Generate,
		forest.WithBagging(false), forest.WithMinTrainingData(1), forest.WithSeed(3)))

	before := f.PredictDistSingle(0, axisAlignedSingleFeature(x)).Pdf(0)
	RaiseNodeTemperature(f, 5.0)
	after := f.PredictDistSingle(0, axisAlignedSingleFeature(x)).Pdf(0)

	assert.NotEqual(t, before, after)
}
