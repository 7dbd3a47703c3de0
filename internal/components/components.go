// Package components implements the sub-models plugged into the landmark detector: the backbone,
// global and region pooling, feature fusion, the landmark feature extractor and the visibility and
// regression heads.
//
// Each role has a closed set of variants, created from a config.Component by a factory function
// (NewBackbone, NewGlobalPool, etc.). Components store their hyperparameters in the GoMLX context
// (in their own scope) when initialized, and create their variables lazily when their graph is built.
//
// Contract violations found while building a graph (e.g. mismatched shapes) are raised with
// exceptions.Panicf, following GoMLX convention: the detector converts them back to errors.
package components

import (
	"github.com/gomlx/exceptions"
	. "github.com/gomlx/gomlx/graph"
	"github.com/gomlx/gomlx/ml/context"
	"github.com/janpfeifer/landmarks/internal/config"
	"github.com/janpfeifer/landmarks/internal/parameters"
	"github.com/pkg/errors"
)

// ParamNumLandmarks is the model-wide hyperparameter with the number of landmarks predicted.
// It is set by the detector in the root scope before the components are initialized.
const ParamNumLandmarks = "num_landmarks"

// Initializer is implemented by all components, except the Backbone which also takes the pretrained source.
type Initializer interface {
	// Init writes the component hyperparameters in the context. ctx is already scoped for the component.
	Init(ctx *context.Context) error
}

// Backbone maps images shaped [batch, height, width, channels] to a spatial feature map
// shaped [batch, h, w, c].
type Backbone interface {
	// Init writes the backbone hyperparameters and, if pretrained is not empty, loads the pretrained
	// weights from the checkpoint directory.
	Init(ctx *context.Context, pretrained string) error

	FeatureMap(ctx *context.Context, images *Node) *Node
}

// GlobalPool reduces a feature map to one vector per example, shaped [batch, 1, 1, d]:
// the spatial axes are kept with dimension 1, callers flatten it if needed.
type GlobalPool interface {
	Initializer
	Pool(ctx *context.Context, featureMap *Node) *Node
}

// RegionPool pools one local feature vector per landmark, shaped [batch, numLandmarks, c],
// from the feature map and the region descriptors (normalized region centers) shaped [batch, numLandmarks, 2].
type RegionPool interface {
	Initializer
	Pool(ctx *context.Context, featureMap, regions *Node) *Node
}

// FeatureFuser combines the flat global features [batch, d] with the local features [batch, numLandmarks, c].
// The fused output is shaped [batch, d]: the same width as the global features.
type FeatureFuser interface {
	Initializer
	Fuse(ctx *context.Context, global, local *Node) *Node
}

// FeatureExtractor transforms fused (or global) features of any shape [batch, ...] to a landmark
// embedding shaped [batch, embeddingDims].
type FeatureExtractor interface {
	Initializer
	Extract(ctx *context.Context, features *Node) *Node
}

// VisibilityHead predicts which landmarks are visible.
//
// The predicted visibility is shaped [batch, numLandmarks], float32, with 1 for landmarks
// predicted visible and 0 otherwise.
type VisibilityHead interface {
	Initializer

	// LossAndPredict returns the scalar visibility loss, given the ground-truth labels shaped
	// [batch, numLandmarks] (landmarks.Visibility values), and the predicted visibility.
	LossAndPredict(ctx *context.Context, embedding, labels *Node) (loss, visible *Node)

	// Predict returns the predicted visibility.
	Predict(ctx *context.Context, embedding *Node) (visible *Node)
}

// RegressionHead predicts the normalized landmark coordinates, conditioned on the predicted visibility.
type RegressionHead interface {
	Initializer

	// Loss returns the scalar coordinates loss, given the predicted visibility, the ground-truth
	// visibility labels [batch, numLandmarks] and the ground-truth coordinates [batch, numLandmarks, 2].
	// Only landmarks visible in the ground-truth contribute to the loss.
	Loss(ctx *context.Context, embedding, predictedVisible, labels, coordinates *Node) *Node

	// Predict returns the coordinates shaped [batch, numLandmarks, 2].
	Predict(ctx *context.Context, embedding, predictedVisible *Node) *Node
}

// base holds the configuration common to all components.
type base struct {
	role   string
	config *config.Component
}

func newBase(role string, cfg *config.Component) (base, error) {
	if cfg == nil {
		return base{}, errors.Errorf("%s configuration missing", role)
	}
	return base{role: role, config: cfg.Clone()}, nil
}

// String implements fmt.Stringer.
func (b *base) String() string {
	return b.role + ":" + b.config.String()
}

// initParams writes defaults and the configured parameters as hyperparameters in ctx.
func (b *base) initParams(ctx *context.Context, defaults map[string]any) error {
	return parameters.ToContext(b.String(), b.config.Params.Clone(), ctx, defaults)
}

func unknownType(role, typeName string, validTypes ...string) error {
	return errors.Errorf("unknown %s type %q, valid types are %q", role, typeName, validTypes)
}

// checkNumLandmarks returns an error if the model-wide number of landmarks is not set.
func checkNumLandmarks(ctx *context.Context, role string) error {
	if context.GetParamOr(ctx, ParamNumLandmarks, 0) <= 0 {
		return errors.Errorf("%s requires the hyperparameter %q to be set to a positive value", role, ParamNumLandmarks)
	}
	return nil
}

// numLandmarks returns the model-wide number of landmarks.
func numLandmarks(ctx *context.Context) int {
	n := context.GetParamOr(ctx, ParamNumLandmarks, 0)
	if n <= 0 {
		exceptions.Panicf("hyperparameter %q not set", ParamNumLandmarks)
	}
	return n
}

// assertDims panics with a contract error if x is not shaped as dims. A negative dimension matches anything.
func assertDims(role, name string, x *Node, dims ...int) {
	if x.Rank() != len(dims) {
		exceptions.Panicf("%s: %s must be shaped %v, got %s", role, name, dims, x.Shape())
	}
	for axis, dim := range dims {
		if dim >= 0 && x.Shape().Dim(axis) != dim {
			exceptions.Panicf("%s: %s must be shaped %v, got %s", role, name, dims, x.Shape())
		}
	}
}
