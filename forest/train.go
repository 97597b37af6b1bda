package forest

import (
	cryptorand "crypto/rand"
	"encoding/binary"
	"math"
	"math/rand/v2"
	"runtime"
	"sort"
	"sync"

	"gonum.org/v1/gonum/floats"
)

// TrainConfig holds the tunables of a single Train call. Use
// DefaultTrainConfig and the With* options rather than constructing one
// directly.
type TrainConfig struct {
	Bagging         bool
	BagProportion   float64
	FitSplitNodes   bool
	MinTrainingData int
	NumParamCombos  int
	NumWorkers      int
	// Seed, if non-zero, makes tree-level PRNG seeding deterministic
	// (seed derived per tree from Seed and the tree index). Zero means
	// each tree is seeded independently from OS entropy.
	Seed int64
}

// DefaultTrainConfig mirrors the source library's compiled-in defaults:
// bagging at proportion 0.5, distributions fitted at split nodes too, a
// minimum of 50 training samples per node, and 10 random parameter trials
// per split.
func DefaultTrainConfig() TrainConfig {
	return TrainConfig{
		Bagging:         true,
		BagProportion:   0.5,
		FitSplitNodes:   true,
		MinTrainingData: 50,
		NumParamCombos:  10,
		NumWorkers:      runtime.GOMAXPROCS(0),
	}
}

// TrainOption mutates a TrainConfig; passed variadically to Train.
type TrainOption func(*TrainConfig)

func WithBagging(b bool) TrainOption               { return func(c *TrainConfig) { c.Bagging = b } }
func WithBagProportion(p float64) TrainOption      { return func(c *TrainConfig) { c.BagProportion = p } }
func WithFitSplitNodes(b bool) TrainOption         { return func(c *TrainConfig) { c.FitSplitNodes = b } }
func WithMinTrainingData(n int) TrainOption        { return func(c *TrainConfig) { c.MinTrainingData = n } }
func WithNumParamCombos(n int) TrainOption         { return func(c *TrainConfig) { c.NumParamCombos = n } }
func WithNumWorkers(n int) TrainOption             { return func(c *TrainConfig) { c.NumWorkers = n } }
func WithSeed(seed int64) TrainOption              { return func(c *TrainConfig) { c.Seed = seed } }

// Train fits every tree in the ensemble against labels[0..N), where
// feature(ids, params, out) evaluates the given parameter tuple for the
// given internal training indices and paramGen draws a fresh parameter
// tuple per split trial. Trees are trained in parallel across
// cfg.NumWorkers goroutines; the split search and per-tree bagging inside
// a single tree are otherwise sequential.
func (f *Forest[L, Dn, Do]) Train(labels []L, feature FeatureFunc, paramGen ParamFunc, opts ...TrainOption) error {
	if f.trained {
		return newConfigError("forest has already been trained")
	}
	if len(labels) == 0 {
		return newConfigError("labels must not be empty")
	}

	cfg := DefaultTrainConfig()
	for _, opt := range opts {
		opt(&cfg)
	}

	if cfg.Bagging && (cfg.BagProportion <= 0 || cfg.BagProportion > 1) {
		return newConfigError("bag proportion must be in (0, 1]")
	}
	if cfg.MinTrainingData < 1 {
		return newConfigError("minTrainingData must be >= 1")
	}
	if cfg.NumParamCombos < 1 {
		return newConfigError("numParamCombos must be >= 1")
	}
	if cfg.NumWorkers < 1 {
		cfg.NumWorkers = 1
	}

	ids := make([]int, len(labels))
	for i := range ids {
		ids[i] = i
	}

	f.spec.TrainingPrecalculations(labels, ids)
	defer f.spec.CleanupPrecalculations()

	f.fitSplitNodes = cfg.FitSplitNodes
	f.trees = make([]tree[Dn], f.numTrees)

	seeds := make([][2]uint64, f.numTrees)
	for t := range seeds {
		seeds[t] = deriveSeed(cfg.Seed, t)
	}

	jobs := make(chan int, f.numTrees)
	for t := 0; t < f.numTrees; t++ {
		jobs <- t
	}
	close(jobs)

	var wg sync.WaitGroup
	for w := 0; w < cfg.NumWorkers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for t := range jobs {
				rng := rand.New(rand.NewPCG(seeds[t][0], seeds[t][1]))
				f.trees[t] = f.growTree(t, labels, feature, paramGen, cfg, rng)
			}
		}()
	}
	wg.Wait()

	f.trained = true
	f.runTag = newRunTag()
	return nil
}

// growTree fits a single tree's flat node array. It owns rng exclusively
// (each call runs in its own goroutine on its own tree), so no
// synchronization is needed inside it.
func (f *Forest[L, Dn, Do]) growTree(t int, labels []L, feature FeatureFunc, paramGen ParamFunc, cfg TrainConfig, rng *rand.Rand) tree[Dn] {
	n := len(labels)
	tr := newTree[Dn](f.numLevels)
	capacity := len(tr.nodes)
	bags := make([][]int, capacity)

	root := make([]int, n)
	for i := range root {
		root[i] = i
	}
	if cfg.Bagging {
		rng.Shuffle(n, func(i, j int) { root[i], root[j] = root[j], root[i] })
		keep := int(float64(n) * cfg.BagProportion)
		if keep < 1 {
			keep = 1
		}
		root = root[:keep]
	}
	bags[0] = root

	maxInterior := maxInteriorIndex(f.numLevels)
	numParams := f.spec.NumParams()
	eps := math.SmallestNonzeroFloat64 * float64(n)

	scores := make([]float64, 0)
	params := make([]int, numParams)

	for nd := 0; nd < capacity; nd++ {
		if tr.nodes[nd].isLeaf {
			f.fitLeafNode(&tr, nd, bags, labels, maxInterior)
			continue
		}

		bag := bags[nd]
		if nd > maxInterior || len(bag) < cfg.MinTrainingData {
			f.fitLeafNode(&tr, nd, bags, labels, maxInterior)
			continue
		}

		initialImpurity := f.spec.SingleNodeImpurity(labels, bag)

		bestGain := math.Inf(-1)
		bestValid := false
		var bestParams []int
		var bestThreshold float64
		var bestPairs []ScoreID

		if cap(scores) < len(bag) {
			scores = make([]float64, len(bag))
		}
		scores = scores[:len(bag)]

		for trial := 0; trial < cfg.NumParamCombos; trial++ {
			paramGen(params)
			feature(bag, params, scores)

			pairs := make([]ScoreID, len(bag))
			for i, id := range bag {
				pairs[i] = ScoreID{Score: scores[i], ID: id}
			}
			if floats.Max(scores)-floats.Min(scores) <= eps {
				continue
			}

			sort.Slice(pairs, func(i, j int) bool { return pairs[i].Score < pairs[j].Score })

			result := f.spec.BestSplit(pairs, labels, initialImpurity)
			if result.Valid && result.InfoGain > bestGain {
				bestGain = result.InfoGain
				bestValid = true
				bestThreshold = result.Threshold
				bestParams = append([]int(nil), params...)
				bestPairs = pairs
			}
		}

		if bestValid && bestGain > f.spec.MinInfoGain(t, nd) {
			splitAt := 0
			for splitAt < len(bestPairs) && bestPairs[splitAt].Score < bestThreshold {
				splitAt++
			}
			left := make([]int, splitAt)
			right := make([]int, len(bestPairs)-splitAt)
			for i := 0; i < splitAt; i++ {
				left[i] = bestPairs[i].ID
			}
			for i := splitAt; i < len(bestPairs); i++ {
				right[i-splitAt] = bestPairs[i].ID
			}
			if len(left) == 0 || len(right) == 0 {
				panic("forest: chosen split produced an empty partition")
			}

			tr.nodes[nd].params = bestParams
			tr.nodes[nd].threshold = bestThreshold
			tr.nodes[nd].gain = bestGain
			tr.nodes[nd].isLeaf = false

			bags[leftChild(nd)] = left
			bags[rightChild(nd)] = right

			if f.fitSplitNodes {
				d := f.spec.NewNodeDist()
				f.spec.InitNodeDist(d)
				d.Fit(gatherLabels(labels, bag))
				tr.nodes[nd].dist = d
				tr.nodes[nd].hasDist = true
			}
		} else {
			f.fitLeafNode(&tr, nd, bags, labels, maxInterior)
		}

		bags[nd] = nil
	}

	return tr
}

// fitLeafNode marks node n a leaf and, unless n is an orphan (its parent
// is already a leaf), fits its distribution and pre-marks both children as
// leaves so the walk skips them as orphans too.
func (f *Forest[L, Dn, Do]) fitLeafNode(tr *tree[Dn], n int, bags [][]int, labels []L, maxInterior int) {
	tr.nodes[n].isLeaf = true

	isRoot := n == 0
	parentIsLeaf := !isRoot && tr.nodes[parentOf(n)].isLeaf
	if isRoot || !parentIsLeaf {
		d := f.spec.NewNodeDist()
		f.spec.InitNodeDist(d)
		d.Fit(gatherLabels(labels, bags[n]))
		tr.nodes[n].dist = d
		tr.nodes[n].hasDist = true

		if n <= maxInterior {
			if l := leftChild(n); l < len(tr.nodes) {
				tr.nodes[l].isLeaf = true
			}
			if r := rightChild(n); r < len(tr.nodes) {
				tr.nodes[r].isLeaf = true
			}
		}
	}
	bags[n] = nil
}

func gatherLabels[L any](labels []L, bag []int) []L {
	out := make([]L, len(bag))
	for i, id := range bag {
		out[i] = labels[id]
	}
	return out
}

// deriveSeed returns the two-word PCG seed for a given tree. A non-zero
// base seed makes the whole forest's training deterministic; a zero base
// seed draws independent per-tree entropy from the OS so unattended
// production training is not accidentally reproducible/predictable.
func deriveSeed(base int64, treeIdx int) [2]uint64 {
	if base != 0 {
		state := uint64(base) + uint64(treeIdx)*0x9E3779B97F4A7C15
		return [2]uint64{splitmix64(&state), splitmix64(&state)}
	}
	var buf [16]byte
	if _, err := cryptorand.Read(buf[:]); err == nil {
		return [2]uint64{binary.LittleEndian.Uint64(buf[0:8]), binary.LittleEndian.Uint64(buf[8:16])}
	}
	return [2]uint64{0x5eed1 + uint64(treeIdx), 0x5eed2 + uint64(treeIdx)}
}

func splitmix64(state *uint64) uint64 {
	*state += 0x9E3779B97F4A7C15
	z := *state
	z = (z ^ (z >> 30)) * 0xBF58476D1CE4E5B9
	z = (z ^ (z >> 27)) * 0x94D049BB133111EB
	return z ^ (z >> 31)
}
