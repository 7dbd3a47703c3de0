package components

import (
	"github.com/gomlx/exceptions"
	. "github.com/gomlx/gomlx/graph"
	"github.com/gomlx/gomlx/ml/context"
	"github.com/gomlx/gomlx/ml/layers"
	"github.com/gomlx/gomlx/ml/layers/activations"
	fnnLayer "github.com/gomlx/gomlx/ml/layers/fnn"
	"github.com/gomlx/gomlx/ml/layers/kan"
	"github.com/gomlx/gomlx/ml/layers/regularizers"
	"github.com/janpfeifer/landmarks/internal/config"
)

// NewFeatureFuser creates the feature fuser selected by cfg.Type. Only "concat" is supported: the global
// features and the flattened local features are concatenated and projected back to the width of the
// global features with a dense layer followed by the activation.
//
// Keeping the fused width equal to the global width is what allows the inference pipelines to feed the
// global features directly to the landmark feature extractor.
func NewFeatureFuser(cfg *config.Component) (FeatureFuser, error) {
	b, err := newBase("feature fuser", cfg)
	if err != nil {
		return nil, err
	}
	if cfg.Type != "concat" {
		return nil, unknownType(b.role, cfg.Type, "concat")
	}
	return &concatFuser{base: b}, nil
}

type concatFuser struct {
	base
}

// Init implements FeatureFuser.
func (f *concatFuser) Init(ctx *context.Context) error {
	return f.initParams(ctx, map[string]any{
		activations.ParamActivation: "relu",
	})
}

// Fuse implements FeatureFuser.
func (f *concatFuser) Fuse(ctx *context.Context, global, local *Node) *Node {
	assertDims(f.role, "global features", global, -1, -1)
	batchSize, globalDims := global.Shape().Dim(0), global.Shape().Dim(1)
	assertDims(f.role, "local features", local, batchSize, -1, -1)
	local = Reshape(local, batchSize, local.Shape().Dim(1)*local.Shape().Dim(2))
	fused := Concatenate([]*Node{global, ConvertDType(local, global.DType())}, 1)
	fused = layers.Dense(ctx.In("dense"), fused, true, globalDims)
	return activations.ApplyFromContext(ctx, fused)
}

// NewFeatureExtractor creates the landmark feature extractor selected by cfg.Type:
//
//   - "fnn": a feed-forward network, configured with the GoMLX fnn hyperparameters.
//   - "kan": a Kolmogorov-Arnold network, configured with the GoMLX kan hyperparameters.
//
// Both output "embedding_dims" features, followed by the activation.
func NewFeatureExtractor(cfg *config.Component) (FeatureExtractor, error) {
	b, err := newBase("landmark feature extractor", cfg)
	if err != nil {
		return nil, err
	}
	switch cfg.Type {
	case "fnn":
		return &featureExtractor{base: b}, nil
	case "kan":
		return &featureExtractor{base: b, useKAN: true}, nil
	}
	return nil, unknownType(b.role, cfg.Type, "fnn", "kan")
}

type featureExtractor struct {
	base
	useKAN bool
}

// Init implements FeatureExtractor.
func (e *featureExtractor) Init(ctx *context.Context) error {
	defaults := map[string]any{
		"embedding_dims":            32,
		activations.ParamActivation: "relu",
		layers.ParamDropoutRate:     0.0,
		regularizers.ParamL2:        0.0,
	}
	if e.useKAN {
		defaults[kan.ParamNumControlPoints] = 10
		defaults[kan.ParamNumHiddenNodes] = 32
		defaults[kan.ParamNumHiddenLayers] = 1
		defaults[kan.ParamBSplineDegree] = 2
		defaults[kan.ParamResidual] = true
	} else {
		defaults[fnnLayer.ParamNumHiddenLayers] = 1
		defaults[fnnLayer.ParamNumHiddenNodes] = 32
		defaults[fnnLayer.ParamResidual] = true
		defaults[fnnLayer.ParamNormalization] = "layer"
	}
	return e.initParams(ctx, defaults)
}

// Extract implements FeatureExtractor.
func (e *featureExtractor) Extract(ctx *context.Context, features *Node) *Node {
	if features.Rank() < 2 {
		exceptions.Panicf("%s: features must be shaped [batch, ...], got %s", e.role, features.Shape())
	}
	batchSize := features.Shape().Dim(0)
	x := Reshape(features, batchSize, features.Shape().Size()/batchSize)
	embeddingDims := context.GetParamOr(ctx, "embedding_dims", 32)
	if e.useKAN {
		x = kan.New(ctx.In("kan"), x, embeddingDims).Done()
	} else {
		x = fnnLayer.New(ctx.In("fnn"), x, embeddingDims).Done()
	}
	return activations.ApplyFromContext(ctx, x)
}
