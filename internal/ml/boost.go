package ml

import (
	"cmp"
	"errors"
	"fmt"
	"math"
	"slices"

	"plant-backend/internal/models"
)

// BoostConfig holds the gradient boosting hyper-parameters
type BoostConfig struct {
	Rounds         int
	LearningRate   float64
	MaxDepth       int
	Lambda         float64 // L2 regularisation on leaf values
	MinChildWeight float64 // minimum hessian sum per child
}

// DefaultBoostConfig mirrors the reference deployment: 100 rounds, shrinkage 0.1, depth 4
func DefaultBoostConfig() BoostConfig {
	return BoostConfig{
		Rounds:         100,
		LearningRate:   0.1,
		MaxDepth:       4,
		Lambda:         1,
		MinChildWeight: 0.1,
	}
}

// TreeNode is one node of a regression tree. Samples with
// v[Feature] < Threshold go left.
type TreeNode struct {
	Leaf      bool      `json:"leaf,omitempty"`
	Value     float64   `json:"value,omitempty"`
	Feature   int       `json:"feature,omitempty"`
	Threshold float64   `json:"threshold,omitempty"`
	Left      *TreeNode `json:"left,omitempty"`
	Right     *TreeNode `json:"right,omitempty"`
}

func (n *TreeNode) eval(v models.FeatureVector) float64 {
	for !n.Leaf {
		if v[n.Feature] < n.Threshold {
			n = n.Left
		} else {
			n = n.Right
		}
	}
	return n.Value
}

func (n *TreeNode) validate() error {
	if n == nil {
		return errors.New("nil tree node")
	}
	if n.Leaf {
		return nil
	}
	if n.Feature < 0 || n.Feature >= models.NumFeatures {
		return fmt.Errorf("split on unknown feature %d", n.Feature)
	}
	if err := n.Left.validate(); err != nil {
		return err
	}
	return n.Right.validate()
}

// BoostedClassifier is a multi-class gradient-boosted tree ensemble with
// softmax loss. Each round grows one tree per class.
type BoostedClassifier struct {
	Classes      int           `json:"classes"`
	LearningRate float64       `json:"learning_rate"`
	BaseScores   []float64     `json:"base_scores"`
	Trees        [][]*TreeNode `json:"trees"`

	cfg BoostConfig
}

// NewBoostedClassifier returns an untrained classifier
func NewBoostedClassifier(cfg BoostConfig) *BoostedClassifier {
	def := DefaultBoostConfig()
	if cfg.Rounds <= 0 {
		cfg.Rounds = def.Rounds
	}
	if cfg.LearningRate <= 0 {
		cfg.LearningRate = def.LearningRate
	}
	if cfg.MaxDepth <= 0 {
		cfg.MaxDepth = def.MaxDepth
	}
	if cfg.Lambda < 0 {
		cfg.Lambda = def.Lambda
	}
	return &BoostedClassifier{cfg: cfg, LearningRate: cfg.LearningRate}
}

// Fit trains the ensemble on feature vectors X with integer labels y in [0, classes)
func (c *BoostedClassifier) Fit(X []models.FeatureVector, y []int, classes int) error {
	if len(X) == 0 {
		return errors.New("no classifier training samples")
	}
	if len(X) != len(y) {
		return fmt.Errorf("%d samples but %d labels", len(X), len(y))
	}
	if classes < 1 {
		return fmt.Errorf("invalid class count %d", classes)
	}
	counts := make([]float64, classes)
	for i, label := range y {
		if label < 0 || label >= classes {
			return fmt.Errorf("sample %d has label %d outside [0,%d)", i, label, classes)
		}
		counts[label]++
	}

	c.Classes = classes
	c.LearningRate = c.cfg.LearningRate
	c.Trees = nil
	// smoothed log priors keep classes absent from the split finite
	c.BaseScores = make([]float64, classes)
	for k := range counts {
		c.BaseScores[k] = math.Log((counts[k] + 1) / float64(len(X)+classes))
	}
	if classes == 1 {
		return nil
	}

	n := len(X)
	scores := make([][]float64, n)
	for i := range scores {
		scores[i] = slices.Clone(c.BaseScores)
	}
	probs := make([][]float64, n)
	g := make([]float64, n)
	h := make([]float64, n)
	all := make([]int, n)
	for i := range all {
		all[i] = i
	}

	for round := 0; round < c.cfg.Rounds; round++ {
		for i := range scores {
			probs[i] = softmax(scores[i])
		}
		trees := make([]*TreeNode, classes)
		for k := 0; k < classes; k++ {
			for i := 0; i < n; i++ {
				p := probs[i][k]
				target := 0.0
				if y[i] == k {
					target = 1
				}
				g[i] = p - target
				h[i] = math.Max(p*(1-p), 1e-6)
			}
			trees[k] = c.grow(X, g, h, all, 0)
		}
		for i := range scores {
			for k, t := range trees {
				scores[i][k] += c.LearningRate * t.eval(X[i])
			}
		}
		c.Trees = append(c.Trees, trees)
	}
	return nil
}

func (c *BoostedClassifier) grow(X []models.FeatureVector, g, h []float64, idx []int, depth int) *TreeNode {
	var G, H float64
	for _, i := range idx {
		G += g[i]
		H += h[i]
	}
	lambda := c.cfg.Lambda
	leaf := &TreeNode{Leaf: true, Value: -G / (H + lambda)}
	if depth >= c.cfg.MaxDepth || len(idx) < 2 {
		return leaf
	}

	parent := G * G / (H + lambda)
	bestGain, bestFeature, bestThreshold := 0.0, -1, 0.0
	sorted := slices.Clone(idx)
	for f := 0; f < models.NumFeatures; f++ {
		slices.SortStableFunc(sorted, func(a, b int) int { return cmp.Compare(X[a][f], X[b][f]) })
		var gl, hl float64
		for p := 0; p < len(sorted)-1; p++ {
			i := sorted[p]
			gl += g[i]
			hl += h[i]
			lo, hi := X[i][f], X[sorted[p+1]][f]
			if lo == hi {
				continue
			}
			gr, hr := G-gl, H-hl
			if hl < c.cfg.MinChildWeight || hr < c.cfg.MinChildWeight {
				continue
			}
			gain := gl*gl/(hl+lambda) + gr*gr/(hr+lambda) - parent
			if gain > bestGain+1e-12 {
				bestGain, bestFeature, bestThreshold = gain, f, lo+(hi-lo)/2
			}
		}
	}
	if bestFeature < 0 {
		return leaf
	}

	var left, right []int
	for _, i := range idx {
		if X[i][bestFeature] < bestThreshold {
			left = append(left, i)
		} else {
			right = append(right, i)
		}
	}
	if len(left) == 0 || len(right) == 0 {
		return leaf
	}
	return &TreeNode{
		Feature:   bestFeature,
		Threshold: bestThreshold,
		Left:      c.grow(X, g, h, left, depth+1),
		Right:     c.grow(X, g, h, right, depth+1),
	}
}

// Predict returns the most probable class code and the full probability
// distribution over classes. Ties resolve to the lowest code.
func (c *BoostedClassifier) Predict(v models.FeatureVector) (int, []float64) {
	if c.Classes <= 1 {
		return 0, []float64{1}
	}
	scores := slices.Clone(c.BaseScores)
	for _, round := range c.Trees {
		for k, t := range round {
			scores[k] += c.LearningRate * t.eval(v)
		}
	}
	probs := softmax(scores)
	best := 0
	for k, p := range probs {
		if p > probs[best] {
			best = k
		}
	}
	return best, probs
}

// Accuracy is the fraction of samples whose predicted code equals the label
func (c *BoostedClassifier) Accuracy(X []models.FeatureVector, y []int) float64 {
	if len(X) == 0 {
		return 0
	}
	hits := 0
	for i, v := range X {
		if code, _ := c.Predict(v); code == y[i] {
			hits++
		}
	}
	return float64(hits) / float64(len(X))
}

// Validate checks the ensemble shape
func (c *BoostedClassifier) Validate() error {
	if c == nil {
		return errors.New("classifier missing")
	}
	if c.Classes < 1 {
		return fmt.Errorf("classifier has %d classes", c.Classes)
	}
	if len(c.BaseScores) != c.Classes {
		return fmt.Errorf("classifier has %d base scores for %d classes", len(c.BaseScores), c.Classes)
	}
	for r, round := range c.Trees {
		if len(round) != c.Classes {
			return fmt.Errorf("boosting round %d has %d trees, want %d", r, len(round), c.Classes)
		}
		for _, t := range round {
			if err := t.validate(); err != nil {
				return fmt.Errorf("boosting round %d: %w", r, err)
			}
		}
	}
	return nil
}

func softmax(scores []float64) []float64 {
	out := make([]float64, len(scores))
	m := slices.Max(scores)
	var sum float64
	for k, s := range scores {
		out[k] = math.Exp(s - m)
		sum += out[k]
	}
	for k := range out {
		out[k] /= sum
	}
	return out
}
