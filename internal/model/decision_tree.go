// Package model evaluates the pre-trained pedestrian-count regressor.
package model

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/smartcity/hardbruecke/internal/domain"
)

const leaf = -1

// DecisionTree is a regression tree exported from scikit-learn's tree_
// attributes. It is immutable after loading and safe for concurrent use.
type DecisionTree struct {
	featureNames  []string
	childrenLeft  []int
	childrenRight []int
	feature       []int
	threshold     []float64
	value         []float64
}

type treeArtifact struct {
	FeatureNames  []string        `json:"feature_names"`
	ChildrenLeft  []int           `json:"children_left"`
	ChildrenRight []int           `json:"children_right"`
	Feature       []int           `json:"feature"`
	Threshold     []float64       `json:"threshold"`
	Value         json.RawMessage `json:"value"`
}

// Load reads a tree artifact from path
func Load(path string) (*DecisionTree, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("model: failed to open %s: %w", path, err)
	}
	defer f.Close()
	return Decode(f)
}

// Decode reads a tree artifact from r and validates its node arrays
func Decode(r io.Reader) (*DecisionTree, error) {
	var art treeArtifact
	if err := json.NewDecoder(r).Decode(&art); err != nil {
		return nil, fmt.Errorf("model: failed to decode tree: %w", err)
	}

	values, err := decodeValues(art.Value)
	if err != nil {
		return nil, err
	}

	n := len(art.ChildrenLeft)
	if n == 0 {
		return nil, errors.New("model: tree has no nodes")
	}
	if len(art.ChildrenRight) != n || len(art.Feature) != n || len(art.Threshold) != n || len(values) != n {
		return nil, fmt.Errorf("model: node arrays differ in length (left=%d right=%d feature=%d threshold=%d value=%d)",
			n, len(art.ChildrenRight), len(art.Feature), len(art.Threshold), len(values))
	}
	if len(art.FeatureNames) == 0 {
		return nil, errors.New("model: tree has no feature names")
	}

	for i := 0; i < n; i++ {
		l, r := art.ChildrenLeft[i], art.ChildrenRight[i]
		if l == leaf && r == leaf {
			continue
		}
		// children are always stored after their parent, so traversal terminates
		if l <= i || r <= i || l >= n || r >= n {
			return nil, fmt.Errorf("model: node %d has invalid children %d/%d", i, l, r)
		}
		if art.Feature[i] < 0 || art.Feature[i] >= len(art.FeatureNames) {
			return nil, fmt.Errorf("model: node %d splits on unknown feature %d", i, art.Feature[i])
		}
	}

	return &DecisionTree{
		featureNames:  art.FeatureNames,
		childrenLeft:  art.ChildrenLeft,
		childrenRight: art.ChildrenRight,
		feature:       art.Feature,
		threshold:     art.Threshold,
		value:         values,
	}, nil
}

// decodeValues accepts both a flat list and scikit-learn's
// [n_nodes][n_outputs][1] nesting.
func decodeValues(raw json.RawMessage) ([]float64, error) {
	var flat []float64
	if err := json.Unmarshal(raw, &flat); err == nil {
		return flat, nil
	}
	var nested [][][]float64
	if err := json.Unmarshal(raw, &nested); err != nil {
		return nil, fmt.Errorf("model: failed to decode node values: %w", err)
	}
	values := make([]float64, len(nested))
	for i, v := range nested {
		if len(v) == 0 || len(v[0]) == 0 {
			return nil, fmt.Errorf("model: node %d has no value", i)
		}
		values[i] = v[0][0]
	}
	return values, nil
}

// FeatureNames returns the input order the tree was trained with
func (t *DecisionTree) FeatureNames() []string {
	names := make([]string, len(t.featureNames))
	copy(names, t.featureNames)
	return names
}

// Predict evaluates every feature vector. Each vector must have exactly one
// value per feature name.
func (t *DecisionTree) Predict(ctx context.Context, features [][]float64) ([]float64, error) {
	out := make([]float64, len(features))
	for i, x := range features {
		if len(x) != len(t.featureNames) {
			return nil, &domain.FeatureVectorMismatchError{Row: i, Want: len(t.featureNames), Got: len(x)}
		}
		if i%4096 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		out[i] = t.evaluate(x)
	}
	return out, nil
}

func (t *DecisionTree) evaluate(x []float64) float64 {
	node := 0
	for t.childrenLeft[node] != leaf {
		if x[t.feature[node]] <= t.threshold[node] {
			node = t.childrenLeft[node]
		} else {
			node = t.childrenRight[node]
		}
	}
	return t.value[node]
}
