package components

import (
	"fmt"
	. "github.com/gomlx/gomlx/graph"
	"github.com/gomlx/gomlx/ml/context"
	"github.com/gomlx/gomlx/ml/context/checkpoints"
	"github.com/gomlx/gomlx/ml/layers"
	"github.com/gomlx/gomlx/ml/layers/activations"
	"github.com/janpfeifer/landmarks/internal/config"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
	"strings"
)

// NewBackbone creates the backbone selected by cfg.Type:
//
//   - "cnn": stacked convolutions, each followed by the activation and a 2x2 max-pooling.
//     Parameters: num_layers, filters (of the first layer, doubled at each layer), kernel_size, activation.
//   - "identity": the images are the feature map. Mostly for testing.
func NewBackbone(cfg *config.Component) (Backbone, error) {
	b, err := newBase("backbone", cfg)
	if err != nil {
		return nil, err
	}
	switch cfg.Type {
	case "cnn":
		return &cnnBackbone{base: b}, nil
	case "identity":
		return &identityBackbone{base: b}, nil
	}
	return nil, unknownType(b.role, cfg.Type, "cnn", "identity")
}

type cnnBackbone struct {
	base
}

// Init implements Backbone.
func (b *cnnBackbone) Init(ctx *context.Context, pretrained string) error {
	err := b.initParams(ctx, map[string]any{
		"num_layers":                2,
		"filters":                   8,
		"kernel_size":               3,
		activations.ParamActivation: "relu",
	})
	if err != nil {
		return err
	}
	if pretrained == "" {
		return nil
	}
	return loadPretrained(ctx, pretrained)
}

// FeatureMap implements Backbone.
func (b *cnnBackbone) FeatureMap(ctx *context.Context, images *Node) *Node {
	assertDims(b.role, "images", images, -1, -1, -1, -1)
	numLayers := context.GetParamOr(ctx, "num_layers", 2)
	filters := context.GetParamOr(ctx, "filters", 8)
	kernelSize := context.GetParamOr(ctx, "kernel_size", 3)
	x := images
	for layerIdx := range numLayers {
		layerCtx := ctx.In(fmt.Sprintf("conv_%d", layerIdx))
		x = layers.Convolution(layerCtx, x).Filters(filters).KernelSize(kernelSize).PadSame().Done()
		x = activations.ApplyFromContext(layerCtx, x)
		if x.Shape().Dim(1) >= 2 && x.Shape().Dim(2) >= 2 {
			x = MaxPool(x).Window(2).Done()
		}
		filters *= 2
	}
	return x
}

type identityBackbone struct {
	base
}

// Init implements Backbone.
func (b *identityBackbone) Init(ctx *context.Context, pretrained string) error {
	if pretrained != "" {
		klog.Warningf("%s has no weights, pretrained weights %q ignored", b, pretrained)
	}
	return b.initParams(ctx, nil)
}

// FeatureMap implements Backbone.
func (b *identityBackbone) FeatureMap(_ *context.Context, images *Node) *Node {
	assertDims(b.role, "images", images, -1, -1, -1, -1)
	return images
}

// loadPretrained copies the variables under the scope of ctx from the most recent checkpoint in the
// directory pretrained. Other variables in the checkpoint (heads, optimizer state) and its hyperparameters
// are ignored: the configured ones are kept.
//
// It fails if the directory doesn't exist, holds no checkpoint, or the checkpoint has no variables in
// the scope of ctx.
func loadPretrained(ctx *context.Context, pretrained string) error {
	// The checkpoint is loaded into a scratch context, so its loader is never attached to ctx.
	handler, err := checkpoints.Load(context.New()).
		Dir(pretrained).
		ExcludeAllParams().
		Done()
	if err != nil {
		return err
	}
	scope := ctx.Scope()
	ctxToSet := ctx.Checked(false)
	var numLoaded int
	for paramName, value := range handler.LoadedVariables() {
		varScope, name := context.VariableScopeAndNameFromParameterName(paramName)
		if varScope != scope && !strings.HasPrefix(varScope, scope+context.ScopeSeparator) {
			continue
		}
		if v := ctxToSet.GetVariableByScopeAndName(varScope, name); v != nil {
			v.SetValue(value)
		} else {
			ctxToSet.InAbsPath(varScope).VariableWithValue(name, value)
		}
		numLoaded++
	}
	if numLoaded == 0 {
		return errors.Errorf("checkpoint in %q has no variables under scope %q", pretrained, scope)
	}
	klog.V(1).Infof("Loaded %d pretrained variables under %q from %q", numLoaded, scope, pretrained)
	return nil
}
