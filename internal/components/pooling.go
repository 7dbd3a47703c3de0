package components

import (
	. "github.com/gomlx/gomlx/graph"
	"github.com/gomlx/gomlx/ml/context"
	"github.com/gomlx/gomlx/ml/layers"
	"github.com/gomlx/gomlx/ml/layers/activations"
	"github.com/gomlx/gomlx/types/shapes"
	"github.com/janpfeifer/landmarks/internal/config"
)

// NewGlobalPool creates the global pooling selected by cfg.Type, "mean" or "max".
//
// If the parameter "dims" is > 0, the pooled vector is projected to that many dimensions with a dense
// layer followed by the activation.
func NewGlobalPool(cfg *config.Component) (GlobalPool, error) {
	b, err := newBase("global pool", cfg)
	if err != nil {
		return nil, err
	}
	switch cfg.Type {
	case "mean":
		return &globalPool{base: b}, nil
	case "max":
		return &globalPool{base: b, useMax: true}, nil
	}
	return nil, unknownType(b.role, cfg.Type, "mean", "max")
}

type globalPool struct {
	base
	useMax bool
}

// Init implements GlobalPool.
func (p *globalPool) Init(ctx *context.Context) error {
	return p.initParams(ctx, map[string]any{
		"dims":                      0,
		activations.ParamActivation: "relu",
	})
}

// Pool implements GlobalPool.
func (p *globalPool) Pool(ctx *context.Context, featureMap *Node) *Node {
	assertDims(p.role, "feature map", featureMap, -1, -1, -1, -1)
	batchSize := featureMap.Shape().Dim(0)
	var pooled *Node
	if p.useMax {
		pooled = ReduceMax(featureMap, 1, 2)
	} else {
		pooled = ReduceMean(featureMap, 1, 2)
	}
	if dims := context.GetParamOr(ctx, "dims", 0); dims > 0 {
		pooled = layers.Dense(ctx.In("dense"), pooled, true, dims)
		pooled = activations.ApplyFromContext(ctx, pooled)
	}
	return Reshape(pooled, batchSize, 1, 1, pooled.Shape().Dim(1))
}

// NewRegionPool creates the region pooling selected by cfg.Type, "mean" or "max".
//
// For each landmark it pools the cells of the feature map within a window of roi_size x roi_size cells
// (parameter "roi_size") centered on the landmark's region descriptor. Regions that don't cover any
// cell (e.g. far outside the image) pool to zeros.
func NewRegionPool(cfg *config.Component) (RegionPool, error) {
	b, err := newBase("roi pool", cfg)
	if err != nil {
		return nil, err
	}
	switch cfg.Type {
	case "mean":
		return &regionPool{base: b}, nil
	case "max":
		return &regionPool{base: b, useMax: true}, nil
	}
	return nil, unknownType(b.role, cfg.Type, "mean", "max")
}

type regionPool struct {
	base
	useMax bool
}

// Init implements RegionPool.
func (p *regionPool) Init(ctx *context.Context) error {
	if err := checkNumLandmarks(ctx, p.role); err != nil {
		return err
	}
	return p.initParams(ctx, map[string]any{
		"roi_size": 3,
	})
}

// Pool implements RegionPool.
func (p *regionPool) Pool(ctx *context.Context, featureMap, regions *Node) *Node {
	assertDims(p.role, "feature map", featureMap, -1, -1, -1, -1)
	dims := featureMap.Shape().Dimensions
	batchSize, height, width, channels := dims[0], dims[1], dims[2], dims[3]
	numRegions := numLandmarks(ctx)
	assertDims(p.role, "regions", regions, batchSize, numRegions, 2)
	regions = ConvertDType(regions, featureMap.DType())

	roiSize := context.GetParamOr(ctx, "roi_size", 3)
	mask := regionsMask(regions, height, width, roiSize) // [batch, numRegions, height, width]
	numCells := ReduceSum(mask, 2, 3)                    // [batch, numRegions]
	numCells = BroadcastToDims(Reshape(numCells, batchSize, numRegions, 1), batchSize, numRegions, channels)

	if !p.useMax {
		sum := Einsum("blhw,bhwc->blc", mask, featureMap)
		return Div(sum, Max(numCells, OnesLike(numCells)))
	}

	fullDims := []int{batchSize, numRegions, height, width, channels}
	mask = BroadcastToDims(Reshape(mask, batchSize, numRegions, height, width, 1), fullDims...)
	values := BroadcastToDims(Reshape(featureMap, batchSize, 1, height, width, channels), fullDims...)
	// Cells outside the region are pushed far below any feature value before taking the max.
	outside := MulScalar(Sub(OnesLike(mask), mask), -1e9)
	pooled := ReduceMax(Add(Mul(values, mask), outside), 2, 3)
	return Mul(pooled, Min(numCells, OnesLike(numCells)))
}

// regionsMask returns a float mask shaped [batch, numRegions, height, width], with 1 for the feature map cells
// within roiSize/2 cells of the region center.
func regionsMask(regions *Node, height, width, roiSize int) *Node {
	batchSize, numRegions := regions.Shape().Dim(0), regions.Shape().Dim(1)
	centerX := Slice(regions, AxisRange(), AxisRange(), AxisElem(0))
	centerY := Slice(regions, AxisRange(), AxisRange(), AxisElem(1))
	inX := axisMask(centerX, width, roiSize)  // [batch, numRegions, width]
	inY := axisMask(centerY, height, roiSize) // [batch, numRegions, height]
	fullDims := []int{batchSize, numRegions, height, width}
	inX = BroadcastToDims(Reshape(inX, batchSize, numRegions, 1, width), fullDims...)
	inY = BroadcastToDims(Reshape(inY, batchSize, numRegions, height, 1), fullDims...)
	return Mul(inX, inY)
}

// axisMask for one axis: center is shaped [batch, numRegions, 1] with normalized positions, and it returns
// a mask shaped [batch, numRegions, size].
func axisMask(center *Node, size, roiSize int) *Node {
	g := center.Graph()
	dtype := center.DType()
	batchSize, numRegions := center.Shape().Dim(0), center.Shape().Dim(1)
	dims := []int{batchSize, numRegions, size}

	// Normalized position of the center of each cell.
	cells := Iota(g, shapes.Make(dtype, size), 0)
	cells = DivScalar(AddScalar(cells, 0.5), float64(size))
	cells = BroadcastToDims(Reshape(cells, 1, 1, size), dims...)

	halfExtent := float64(roiSize) / float64(2*size)
	distance := Abs(Sub(cells, BroadcastToDims(center, dims...)))
	return ConvertDType(LessOrEqual(distance, Scalar(g, dtype, halfExtent)), dtype)
}
