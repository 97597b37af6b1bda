package forest

// PredictDistGroupwise predicts an output distribution for every id in
// ids, evaluating feature once per (tree node, batch of ids currently at
// that node) rather than once per sample per node — the cache-friendly
// traversal order, useful when ids all share a backing dataset the feature
// function can address in bulk.
func (f *Forest[L, Dn, Do]) PredictDistGroupwise(ids []int, feature FeatureFunc) []Do {
	n := len(ids)
	outputs := make([]Do, n)
	for i := range outputs {
		outputs[i] = f.newOutput()
		outputs[i].Reset()
	}

	for t := range f.trees {
		tr := &f.trees[t]
		positions := make([][]int, len(tr.nodes))
		all := make([]int, n)
		for i := range all {
			all[i] = i
		}
		positions[0] = all

		for nd := 0; nd < len(tr.nodes); nd++ {
			pos := positions[nd]
			if len(pos) == 0 {
				continue
			}

			if tr.nodes[nd].isLeaf {
				if tr.nodes[nd].hasDist {
					for _, p := range pos {
						outputs[p].Combine(tr.nodes[nd].dist)
					}
				}
				continue
			}

			batchIDs := make([]int, len(pos))
			for i, p := range pos {
				batchIDs[i] = ids[p]
			}
			scores := make([]float64, len(pos))
			feature(batchIDs, tr.nodes[nd].params, scores)

			left := make([]int, 0, len(pos))
			right := make([]int, 0, len(pos))
			for i, p := range pos {
				if scores[i] < tr.nodes[nd].threshold {
					left = append(left, p)
				} else {
					right = append(right, p)
				}
			}
			positions[leftChild(nd)] = left
			positions[rightChild(nd)] = right
		}
	}

	for i := range outputs {
		outputs[i].Normalise()
	}
	return outputs
}

// PredictDistSingle predicts an output distribution for one id, walking
// each tree root-to-leaf and evaluating singleFeature once per internal
// node visited. Useful for online/one-at-a-time prediction where batching
// is not available.
func (f *Forest[L, Dn, Do]) PredictDistSingle(id int, singleFeature SingleFeatureFunc) Do {
	out := f.newOutput()
	out.Reset()

	for t := range f.trees {
		tr := &f.trees[t]
		nd := 0
		for {
			if tr.nodes[nd].isLeaf {
				if tr.nodes[nd].hasDist {
					out.Combine(tr.nodes[nd].dist)
				}
				break
			}
			score := singleFeature(id, tr.nodes[nd].params)
			if score < tr.nodes[nd].threshold {
				nd = leftChild(nd)
			} else {
				nd = rightChild(nd)
			}
		}
	}

	out.Normalise()
	return out
}

// ProbabilityGroupwise is PredictDistGroupwise followed by Pdf(label) on
// each resulting distribution, a convenience for callers only interested
// in the mass/density assigned to one particular label.
func (f *Forest[L, Dn, Do]) ProbabilityGroupwise(ids []int, feature FeatureFunc, label L) []float64 {
	dists := f.PredictDistGroupwise(ids, feature)
	p := make([]float64, len(dists))
	for i := range dists {
		p[i] = dists[i].Pdf(label)
	}
	return p
}

// ProbabilitySingle is PredictDistSingle followed by Pdf(label).
func (f *Forest[L, Dn, Do]) ProbabilitySingle(id int, singleFeature SingleFeatureFunc, label L) float64 {
	return f.PredictDistSingle(id, singleFeature).Pdf(label)
}
