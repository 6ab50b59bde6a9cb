package gbt

import (
	"errors"
	"fmt"
	"math"
	"math/rand"
	"sort"
)

// Config holds the fixed training hyperparameters. There is no tuning: every
// horizon's model trains with the same settings and the same seed, so a
// retrain on the same table reproduces the same model.
type Config struct {
	NumTrees        int     `json:"num_trees"`
	MaxDepth        int     `json:"max_depth"`
	LearningRate    float64 `json:"learning_rate"`
	Subsample       float64 `json:"subsample"`
	ColsampleByTree float64 `json:"colsample_by_tree"`
	MinLeafSamples  int     `json:"min_leaf_samples"`
	Seed            int64   `json:"seed"`
}

func DefaultConfig() Config {
	return Config{
		NumTrees:        500,
		MaxDepth:        5,
		LearningRate:    0.05,
		Subsample:       0.8,
		ColsampleByTree: 0.8,
		MinLeafSamples:  2,
		Seed:            42,
	}
}

// Node is one node of a regression tree. A node with no children is a leaf
// and Value is its prediction; otherwise rows with feature < Threshold go
// left and everything else, including missing (NaN) values, goes right.
type Node struct {
	Feature   int     `json:"feature,omitempty"`
	Threshold float64 `json:"threshold,omitempty"`
	Value     float64 `json:"value,omitempty"`
	Left      *Node   `json:"left,omitempty"`
	Right     *Node   `json:"right,omitempty"`
}

func (n *Node) isLeaf() bool {
	return n.Left == nil && n.Right == nil
}

func (n *Node) eval(features []float64) float64 {
	for !n.isLeaf() {
		// NaN < threshold is false, so missing values route right.
		if features[n.Feature] < n.Threshold {
			n = n.Left
		} else {
			n = n.Right
		}
	}
	return n.Value
}

// Regressor is a gradient-boosted ensemble of regression trees on squared
// error. All state is exported with JSON tags so a trained model can be
// persisted and reloaded byte-for-byte.
type Regressor struct {
	Config      Config  `json:"config"`
	NumFeatures int     `json:"num_features"`
	BaseScore   float64 `json:"base_score"`
	Trees       []*Node `json:"trees"`
	Fitted      bool    `json:"fitted"`
}

func New(cfg Config) *Regressor {
	return &Regressor{Config: cfg}
}

// Fit trains the ensemble. Each round fits one depth-limited tree to the
// current residuals over a row and column subsample drawn from a seeded
// generator, then shrinks its contribution by the learning rate.
func (r *Regressor) Fit(features [][]float64, targets []float64) error {
	n := len(targets)
	if n == 0 {
		return errors.New("no training examples")
	}
	if len(features) != n {
		return fmt.Errorf("feature/target length mismatch: %d vs %d", len(features), n)
	}
	r.NumFeatures = len(features[0])
	if r.NumFeatures == 0 {
		return errors.New("no features")
	}

	rng := rand.New(rand.NewSource(r.Config.Seed))

	var sum float64
	for _, y := range targets {
		sum += y
	}
	r.BaseScore = sum / float64(n)

	pred := make([]float64, n)
	for i := range pred {
		pred[i] = r.BaseScore
	}

	residual := make([]float64, n)
	r.Trees = make([]*Node, 0, r.Config.NumTrees)
	for t := 0; t < r.Config.NumTrees; t++ {
		for i := range residual {
			residual[i] = targets[i] - pred[i]
		}

		rowIdx := sampleIndices(rng, n, r.Config.Subsample)
		colIdx := sampleIndices(rng, r.NumFeatures, r.Config.ColsampleByTree)

		tree := r.buildTree(features, residual, rowIdx, colIdx, 0)
		r.Trees = append(r.Trees, tree)

		for i := range pred {
			pred[i] += r.Config.LearningRate * tree.eval(features[i])
		}
	}

	r.Fitted = true
	return nil
}

// Predict scores a single feature vector.
func (r *Regressor) Predict(features []float64) (float64, error) {
	if !r.Fitted {
		return 0, errors.New("model is not fitted")
	}
	if len(features) != r.NumFeatures {
		return 0, fmt.Errorf("feature count mismatch: expected %d, got %d", r.NumFeatures, len(features))
	}
	out := r.BaseScore
	for _, tree := range r.Trees {
		out += r.Config.LearningRate * tree.eval(features)
	}
	return out, nil
}

// sampleIndices draws floor(n*fraction) distinct indices, at least one,
// returned sorted for deterministic tree construction.
func sampleIndices(rng *rand.Rand, n int, fraction float64) []int {
	k := int(float64(n) * fraction)
	if k < 1 {
		k = 1
	}
	if k > n {
		k = n
	}
	idx := rng.Perm(n)[:k]
	sort.Ints(idx)
	return idx
}

func (r *Regressor) buildTree(features [][]float64, residual []float64, rows, cols []int, depth int) *Node {
	if depth >= r.Config.MaxDepth || len(rows) < 2*r.Config.MinLeafSamples {
		return &Node{Value: meanResidual(residual, rows)}
	}

	best, ok := r.bestSplit(features, residual, rows, cols)
	if !ok {
		return &Node{Value: meanResidual(residual, rows)}
	}

	var left, right []int
	for _, i := range rows {
		if features[i][best.feature] < best.threshold {
			left = append(left, i)
		} else {
			right = append(right, i)
		}
	}

	return &Node{
		Feature:   best.feature,
		Threshold: best.threshold,
		Left:      r.buildTree(features, residual, left, cols, depth+1),
		Right:     r.buildTree(features, residual, right, cols, depth+1),
	}
}

type split struct {
	feature   int
	threshold float64
	score     float64
}

// bestSplit greedily maximizes the squared-error reduction over every
// candidate threshold of every sampled column. Rows with a missing value on
// the split column are counted on the right side, matching eval.
func (r *Regressor) bestSplit(features [][]float64, residual []float64, rows, cols []int) (split, bool) {
	var total float64
	for _, i := range rows {
		total += residual[i]
	}
	baseScore := total * total / float64(len(rows))

	best := split{score: baseScore}
	found := false

	type pair struct {
		value    float64
		residual float64
	}
	for _, col := range cols {
		pairs := make([]pair, 0, len(rows))
		nanCount := 0
		for _, i := range rows {
			v := features[i][col]
			if math.IsNaN(v) {
				nanCount++
				continue
			}
			pairs = append(pairs, pair{value: v, residual: residual[i]})
		}
		if len(pairs) < 2 {
			continue
		}
		sort.Slice(pairs, func(a, b int) bool { return pairs[a].value < pairs[b].value })

		var leftSum float64
		for k := 1; k < len(pairs); k++ {
			leftSum += pairs[k-1].residual
			if pairs[k].value == pairs[k-1].value {
				continue
			}
			leftCnt := k
			rightCnt := len(pairs) - k + nanCount
			if leftCnt < r.Config.MinLeafSamples || rightCnt < r.Config.MinLeafSamples {
				continue
			}
			rightSum := total - leftSum
			score := leftSum*leftSum/float64(leftCnt) + rightSum*rightSum/float64(rightCnt)
			if score > best.score {
				best = split{
					feature:   col,
					threshold: (pairs[k-1].value + pairs[k].value) / 2,
					score:     score,
				}
				found = true
			}
		}
	}
	return best, found
}

func meanResidual(residual []float64, rows []int) float64 {
	if len(rows) == 0 {
		return 0
	}
	var sum float64
	for _, i := range rows {
		sum += residual[i]
	}
	return sum / float64(len(rows))
}
