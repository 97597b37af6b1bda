package forest_test

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cpbridge/canopy/classifier"
	"github.com/cpbridge/canopy/dist"
	"github.com/cpbridge/canopy/forest"
	"github.com/cpbridge/canopy/params"
)

// dropLine removes the n-th (0-indexed) newline-delimited line from data.
func dropLine(data []byte, n int) []byte {
	lines := bytes.Split(data, []byte("\n"))
	lines = append(lines[:n], lines[n+1:]...)
	return bytes.Join(lines, []byte("\n"))
}

func axisAlignedFeature(x [][]float64) forest.FeatureFunc {
	return func(ids []int, p []int, out []float64) {
		col := p[0]
		for i, id := range ids {
			out[i] = x[id][col]
		}
	}
}

func TestNewForestRejectsInvalidConfig(t *testing.T) {
	spec := classifier.NewClassifier(2, 1)
	newOutput := func() *dist.DiscreteDist { return dist.NewDiscreteDist(2) }

	_, err := forest.NewForest[int, *dist.DiscreteDist, *dist.DiscreteDist](0, 3, spec, newOutput)
	assert.Error(t, err)

	_, err = forest.NewForest[int, *dist.DiscreteDist, *dist.DiscreteDist](5, 0, spec, newOutput)
	assert.Error(t, err)
}

func TestTrainRejectsBadBagProportion(t *testing.T) {
	f, _, err := classifier.New(3, 3, 2, 1)
	require.NoError(t, err)

	gen := params.NewUniformGenerator(1, 0)
	x := [][]float64{{0}, {1}, {2}, {3}}
	labels := []int{0, 0, 1, 1}
	err = f.Train(labels, axisAlignedFeature(x), gen.Generate, forest.WithBagProportion(1.5))
	assert.Error(t, err)
}

func TestTrainTwiceReturnsConfigError(t *testing.T) {
	f, _, err := classifier.New(2, 3, 2, 1)
	require.NoError(t, err)
	gen := params.NewUniformGenerator(1, 0)
	x := [][]float64{{0}, {1}, {10}, {11}}
	labels := []int{0, 0, 1, 1}
	require.NoError(t, f.Train(labels, axisAlignedFeature(x), gen.Generate,
		forest.WithBagging(false), forest.WithMinTrainingData(1)))

	err = f.Train(labels, axisAlignedFeature(x), gen.Generate, forest.WithBagging(false))
	assert.Error(t, err)
}

func TestDeterministicTrainingGivenSeed(t *testing.T) {
	x := make([][]float64, 0, 60)
	labels := make([]int, 0, 60)
	for i := 0; i < 30; i++ {
		x = append(x, []float64{float64(i)})
		labels = append(labels, 0)
	}
	for i := 0; i < 30; i++ {
		x = append(x, []float64{float64(50 + i)})
		labels = append(labels, 1)
	}

	train := func() []byte {
		f, _, err := classifier.New(6, 4, 2, 1)
		require.NoError(t, err)
		gen := params.NewUniformGenerator(1, 0)
		require.NoError(t, f.Train(labels, axisAlignedFeature(x), gen.Generate,
			forest.WithSeed(1234), forest.WithNumWorkers(4), forest.WithMinTrainingData(2)))
		var buf bytes.Buffer
		require.NoError(t, f.WriteTo(&buf))
		return buf.Bytes()
	}

	a := train()
	b := train()
	// Identical model files below the run tag line: same seed, same
	// workers, same data must produce the same ensemble regardless of
	// goroutine scheduling order, since each tree's PRNG is derived solely
	// from the seed and tree index. The run tag itself is a fresh random
	// identifier every call by design and is excluded from the comparison.
	assert.Equal(t, dropLine(a, 1), dropLine(b, 1))
}

func TestLoadForestTruncatesTreesAndLevels(t *testing.T) {
	x := [][]float64{{0}, {1}, {2}, {3}, {10}, {11}, {12}, {13}}
	labels := []int{0, 0, 0, 0, 1, 1, 1, 1}

	f, _, err := classifier.New(5, 3, 2, 1)
	require.NoError(t, err)
	gen := params.NewUniformGenerator(1, 0)
	require.NoError(t, f.Train(labels, axisAlignedFeature(x), gen.Generate,
		forest.WithBagging(false), forest.WithMinTrainingData(1), forest.WithSeed(9)))

	var buf bytes.Buffer
	require.NoError(t, f.WriteTo(&buf))

	loaded, err := forest.LoadForest[int, *dist.DiscreteDist, *dist.DiscreteDist](
		&buf,
		classifier.NewClassifier(2, 1),
		func() *dist.DiscreteDist { return dist.NewDiscreteDist(2) },
		forest.WithMaxTrees(2),
		forest.WithMaxLevels(1),
	)
	require.NoError(t, err)
	assert.Equal(t, 2, loaded.NumTrees())
	assert.Equal(t, 1, loaded.NumLevels())
}

func TestLoadForestRejectsUnsatisfiableTruncation(t *testing.T) {
	x := [][]float64{{0}, {1}, {2}, {3}, {10}, {11}, {12}, {13}}
	labels := []int{0, 0, 1, 1, 2, 2, 3, 3}

	f, _, err := classifier.New(2, 3, 4, 1)
	require.NoError(t, err)
	gen := params.NewUniformGenerator(1, 0)
	require.NoError(t, f.Train(labels, axisAlignedFeature(x), gen.Generate,
		forest.WithBagging(false), forest.WithMinTrainingData(1)))

	var buf bytes.Buffer
	require.NoError(t, f.WriteTo(&buf))

	_, err = forest.LoadForest[int, *dist.DiscreteDist, *dist.DiscreteDist](
		&buf, classifier.NewClassifier(4, 1),
		func() *dist.DiscreteDist { return dist.NewDiscreteDist(4) },
		forest.WithMaxTrees(5),
	)
	assert.Error(t, err, "requesting more trees than the file has must be rejected")

	buf.Reset()
	f2, _, err := classifier.New(2, 3, 4, 1)
	require.NoError(t, err)
	require.NoError(t, f2.Train(labels, axisAlignedFeature(x), gen.Generate,
		forest.WithBagging(false), forest.WithMinTrainingData(1), forest.WithFitSplitNodes(false)))
	require.NoError(t, f2.WriteTo(&buf))

	_, err = forest.LoadForest[int, *dist.DiscreteDist, *dist.DiscreteDist](
		&buf, classifier.NewClassifier(4, 1),
		func() *dist.DiscreteDist { return dist.NewDiscreteDist(4) },
		forest.WithMaxLevels(1),
	)
	assert.Error(t, err, "truncating levels without split-node distributions in the file must be rejected")
}

func TestLoadForestFlattensTruncatedSplitNodesToLeaves(t *testing.T) {
	// Four well-separated classes along one axis: a single threshold at
	// the root only gets the data halfway split, so nodes 1 and 2 (the
	// first layer of children) are genuine split nodes in the full
	// three-level file, not leaves.
	x := [][]float64{{0}, {1}, {2}, {3}, {10}, {11}, {12}, {13}}
	labels := []int{0, 0, 1, 1, 2, 2, 3, 3}

	f, _, err := classifier.New(3, 3, 4, 1)
	require.NoError(t, err)
	gen := params.NewUniformGenerator(1, 0)
	require.NoError(t, f.Train(labels, axisAlignedFeature(x), gen.Generate,
		forest.WithBagging(false), forest.WithMinTrainingData(1), forest.WithFitSplitNodes(true)))

	var buf bytes.Buffer
	require.NoError(t, f.WriteTo(&buf))

	loaded, err := forest.LoadForest[int, *dist.DiscreteDist, *dist.DiscreteDist](
		&buf, classifier.NewClassifier(4, 1),
		func() *dist.DiscreteDist { return dist.NewDiscreteDist(4) },
		forest.WithMaxLevels(1),
	)
	require.NoError(t, err)
	assert.Equal(t, 1, loaded.NumLevels())

	ids := make([]int, len(x))
	for i := range ids {
		ids[i] = i
	}
	// Must not panic walking into what would have been a deeper subtree
	// on disk; the node at the new bottom layer was flattened to a leaf.
	assert.NotPanics(t, func() {
		loaded.PredictDistGroupwise(ids, axisAlignedFeature(x))
	})
}

func TestOrphanNodesDoNotPanicOnPersist(t *testing.T) {
	// A tiny, instantly-pure dataset forces the root straight to leaf
	// status at depth 0, orphaning every node below it.
	x := [][]float64{{0}, {0}, {0}, {0}}
	labels := []int{0, 0, 0, 0}

	f, _, err := classifier.New(2, 5, 1, 1)
	require.NoError(t, err)
	gen := params.NewUniformGenerator(1, 0)
	require.NoError(t, f.Train(labels, axisAlignedFeature(x), gen.Generate,
		forest.WithBagging(false), forest.WithMinTrainingData(1)))

	var buf bytes.Buffer
	require.NoError(t, f.WriteTo(&buf))
	assert.NotEmpty(t, buf.Bytes())
}
