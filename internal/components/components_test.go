package components

import (
	"fmt"
	"github.com/gomlx/gomlx/graph"
	"github.com/gomlx/gomlx/graph/graphtest"
	"github.com/gomlx/gomlx/ml/context"
	"github.com/gomlx/gomlx/types/tensors"
	"github.com/janpfeifer/landmarks/internal/config"
	"github.com/janpfeifer/landmarks/internal/landmarks"
	"github.com/stretchr/testify/require"
	"testing"

	_ "github.com/gomlx/gomlx/backends/xla"
)

// newTestContext returns a context with the number of landmarks set, as the detector does.
// It is unchecked, so variables can be reused by graphs built more than once.
func newTestContext(numLandmarks int) *context.Context {
	ctx := context.New().Checked(false)
	ctx.SetParam(ParamNumLandmarks, numLandmarks)
	return ctx
}

// featureMap4x4 returns a [1, 4, 4, 1] feature map where the cell at (row, col) holds row*4+col.
func featureMap4x4() *tensors.Tensor {
	values := make([][][][]float32, 1)
	values[0] = make([][][]float32, 4)
	for row := range 4 {
		values[0][row] = make([][]float32, 4)
		for col := range 4 {
			values[0][row][col] = []float32{float32(row*4 + col)}
		}
	}
	return tensors.FromValue(values)
}

func TestFactories(t *testing.T) {
	_, err := NewBackbone(nil)
	require.ErrorContains(t, err, "backbone configuration missing")
	_, err = NewBackbone(config.NewComponent("resnet"))
	require.ErrorContains(t, err, "resnet")
	_, err = NewGlobalPool(config.NewComponent("median"))
	require.ErrorContains(t, err, "median")
	_, err = NewRegionPool(config.NewComponent("align"))
	require.ErrorContains(t, err, "align")
	_, err = NewFeatureFuser(config.NewComponent("sum"))
	require.ErrorContains(t, err, "sum")
	_, err = NewFeatureExtractor(config.NewComponent("transformer"))
	require.ErrorContains(t, err, "transformer")
	_, err = NewVisibilityHead(config.NewComponent("svm"))
	require.ErrorContains(t, err, "svm")
	_, err = NewRegressionHead(nil)
	require.ErrorContains(t, err, "landmark regression configuration missing")

	head, err := NewRegressionHead(config.NewComponent("linear,loss=l1"))
	require.NoError(t, err)
	require.Equal(t, "landmark regression:linear(loss=l1)", fmt.Sprint(head))
}

func TestInitErrors(t *testing.T) {
	// Missing number of landmarks.
	pool, err := NewRegionPool(config.NewComponent("mean"))
	require.NoError(t, err)
	require.ErrorContains(t, pool.Init(context.New().In("roi_pool")), ParamNumLandmarks)

	// Unknown parameter.
	pool, err = NewRegionPool(config.NewComponent("mean,roi_sze=3"))
	require.NoError(t, err)
	require.ErrorContains(t, pool.Init(newTestContext(2).In("roi_pool")), "roi_sze")

	// Invalid loss.
	head, err := NewRegressionHead(config.NewComponent("linear,loss=huber"))
	require.NoError(t, err)
	require.ErrorContains(t, head.Init(newTestContext(2).In("landmark_regression")), "huber")

	// Pretrained weights not found.
	backbone, err := NewBackbone(config.NewComponent("cnn"))
	require.NoError(t, err)
	require.Error(t, backbone.Init(context.New().In("backbone"), t.TempDir()+"/missing"))
}

func TestBackboneAndGlobalPool(t *testing.T) {
	ctx := newTestContext(2)
	backbone, err := NewBackbone(config.NewComponent("cnn,num_layers=2,filters=4"))
	require.NoError(t, err)
	require.NoError(t, backbone.Init(ctx.In("backbone"), ""))
	pool, err := NewGlobalPool(config.NewComponent("max,dims=5"))
	require.NoError(t, err)
	require.NoError(t, pool.Init(ctx.In("global_pool")))

	images := landmarks.SolidImage(8, 8, 3, 0.5).Tensor()
	backend := graphtest.BuildTestBackend()
	outputs := context.ExecOnceN(backend, ctx, func(ctx *context.Context, inputs []*graph.Node) []*graph.Node {
		images := graph.ExpandAxes(inputs[0], 0)
		featureMap := backbone.FeatureMap(ctx.In("backbone"), images)
		return []*graph.Node{featureMap, pool.Pool(ctx.In("global_pool"), featureMap)}
	}, images)
	// Two layers, each halving the spatial dimensions and doubling the filters.
	outputs[0].Shape().AssertDims(1, 2, 2, 8)
	outputs[1].Shape().AssertDims(1, 1, 1, 5)
}

func TestRegionPool(t *testing.T) {
	// Regions are (x, y): the cell centers of a 4x4 feature map are at 0.125, 0.375, 0.625 and 0.875.
	regions := tensors.FromValue([][][]float32{{
		{0.125, 0.125}, // Only the top-left cell, with roi_size=1.
		{0.375, 0.875}, // Only the cell at row 3, column 1.
		{5, 5},         // Outside the feature map.
	}})
	backend := graphtest.BuildTestBackend()
	for _, tc := range []struct {
		config string
		want   []float32
	}{
		{"mean,roi_size=1", []float32{0, 13, 0}},
		{"max,roi_size=1", []float32{0, 13, 0}},
	} {
		t.Run(tc.config, func(t *testing.T) {
			ctx := newTestContext(3)
			pool, err := NewRegionPool(config.NewComponent(tc.config))
			require.NoError(t, err)
			require.NoError(t, pool.Init(ctx.In("roi_pool")))
			output := context.ExecOnce(backend, ctx, func(ctx *context.Context, inputs []*graph.Node) *graph.Node {
				return pool.Pool(ctx.In("roi_pool"), inputs[0], inputs[1])
			}, featureMap4x4(), regions)
			output.Shape().AssertDims(1, 3, 1)
			require.Equal(t, tc.want, tensors.CopyFlatData[float32](output))
		})
	}

	// A 2x2 window centered on the feature map covers rows and columns 1 and 2: values 5, 6, 9 and 10.
	centered := tensors.FromValue([][][]float32{{{0.5, 0.5}}})
	for _, tc := range []struct {
		config string
		want   float32
	}{
		{"mean,roi_size=2", 7.5},
		{"max,roi_size=2", 10},
	} {
		t.Run(tc.config, func(t *testing.T) {
			ctx := newTestContext(1)
			pool, err := NewRegionPool(config.NewComponent(tc.config))
			require.NoError(t, err)
			require.NoError(t, pool.Init(ctx.In("roi_pool")))
			output := context.ExecOnce(backend, ctx, func(ctx *context.Context, inputs []*graph.Node) *graph.Node {
				return pool.Pool(ctx.In("roi_pool"), inputs[0], inputs[1])
			}, featureMap4x4(), centered)
			require.InDelta(t, tc.want, tensors.CopyFlatData[float32](output)[0], 1e-5)
		})
	}
}

func TestRegionPool_MismatchedRegions(t *testing.T) {
	ctx := newTestContext(3)
	pool, err := NewRegionPool(config.NewComponent("mean"))
	require.NoError(t, err)
	require.NoError(t, pool.Init(ctx.In("roi_pool")))
	regions := tensors.FromValue([][][]float32{{{0.5, 0.5}, {0.5, 0.5}}})
	backend := graphtest.BuildTestBackend()
	require.Panics(t, func() {
		_ = context.ExecOnce(backend, ctx, func(ctx *context.Context, inputs []*graph.Node) *graph.Node {
			return pool.Pool(ctx.In("roi_pool"), inputs[0], inputs[1])
		}, featureMap4x4(), regions)
	})
}

func TestFuserAndExtractor(t *testing.T) {
	backend := graphtest.BuildTestBackend()
	for _, extractorConfig := range []string{"fnn,embedding_dims=6", "kan,embedding_dims=6"} {
		t.Run(extractorConfig, func(t *testing.T) {
			ctx := newTestContext(3)
			fuser, err := NewFeatureFuser(config.NewComponent("concat"))
			require.NoError(t, err)
			require.NoError(t, fuser.Init(ctx.In("concat")))
			extractor, err := NewFeatureExtractor(config.NewComponent(extractorConfig))
			require.NoError(t, err)
			require.NoError(t, extractor.Init(ctx.In("landmark_feature_extractor")))

			global := tensors.FromValue([][]float32{{1, 2, 3, 4}, {5, 6, 7, 8}})
			local := tensors.FromValue([][][]float32{
				{{1, 1}, {2, 2}, {3, 3}},
				{{4, 4}, {5, 5}, {6, 6}},
			})
			outputs := context.ExecOnceN(backend, ctx, func(ctx *context.Context, inputs []*graph.Node) []*graph.Node {
				fused := fuser.Fuse(ctx.In("concat"), inputs[0], inputs[1])
				embedding := extractor.Extract(ctx.In("landmark_feature_extractor"), fused)
				return []*graph.Node{fused, embedding}
			}, global, local)
			outputs[0].Shape().AssertDims(2, 4)
			outputs[1].Shape().AssertDims(2, 6)
		})
	}
}

func TestVisibilityHeads(t *testing.T) {
	labels := tensors.FromValue([][]int32{
		{int32(landmarks.Visible), int32(landmarks.Occluded), int32(landmarks.Absent)},
		{int32(landmarks.Absent), int32(landmarks.Visible), int32(landmarks.Visible)},
	})
	embedding := tensors.FromValue([][]float32{{0.1, 0.2, 0.3, 0.4}, {-0.1, -0.2, -0.3, -0.4}})
	backend := graphtest.BuildTestBackend()
	for _, headType := range []string{"softmax", "sigmoid"} {
		t.Run(headType, func(t *testing.T) {
			ctx := newTestContext(3)
			head, err := NewVisibilityHead(config.NewComponent(headType))
			require.NoError(t, err)
			require.NoError(t, head.Init(ctx.In("visibility_classifier")))
			outputs := context.ExecOnceN(backend, ctx, func(ctx *context.Context, inputs []*graph.Node) []*graph.Node {
				loss, visible := head.LossAndPredict(ctx.In("visibility_classifier"), inputs[0], inputs[1])
				return []*graph.Node{loss, visible, head.Predict(ctx.In("visibility_classifier"), inputs[0])}
			}, embedding, labels)
			outputs[0].Shape().AssertScalar()
			require.Greater(t, tensors.ToScalar[float32](outputs[0]), float32(0))
			outputs[1].Shape().AssertDims(2, 3)
			visible := tensors.CopyFlatData[float32](outputs[1])
			for _, v := range visible {
				require.True(t, v == 0 || v == 1, "visibility prediction must be 0 or 1, got %g", v)
			}
			require.Equal(t, visible, tensors.CopyFlatData[float32](outputs[2]))
		})
	}
}

func TestRegressionHead(t *testing.T) {
	const numLandmarks = 4
	embedding := tensors.FromValue([][]float32{{0.1, 0.2, 0.3}, {0.3, 0.2, 0.1}})
	allVisible := tensors.FromValue([][]float32{{1, 1, 1, 1}, {1, 1, 1, 1}})
	noneVisible := tensors.FromValue([][]float32{{0, 0, 0, 0}, {0, 0, 0, 0}})
	visible, occluded, absent := int32(landmarks.Visible), int32(landmarks.Occluded), int32(landmarks.Absent)
	absentLabels := tensors.FromValue([][]int32{{absent, absent, absent, absent}, {absent, absent, absent, absent}})
	coordinates := [][][]float32{
		{{0.1, 0.1}, {0.2, 0.2}, {0.3, 0.3}, {0.4, 0.4}},
		{{0.5, 0.5}, {0.6, 0.6}, {0.7, 0.7}, {0.8, 0.8}},
	}
	// Mixed labels: landmarks not visible have coordinates far off, which must not count in the loss.
	mixedLabels := [][]int32{{visible, occluded, absent, visible}, {absent, visible, absent, absent}}
	mixedCoordinates := [][][]float32{
		{{0.1, 0.1}, {100, 100}, {-100, 100}, {0.4, 0.4}},
		{{100, -100}, {0.6, 0.6}, {100, 100}, {-100, -100}},
	}
	backend := graphtest.BuildTestBackend()
	for _, headConfig := range []string{"linear", "linear,loss=l1"} {
		t.Run(headConfig, func(t *testing.T) {
			ctx := newTestContext(numLandmarks)
			head, err := NewRegressionHead(config.NewComponent(headConfig))
			require.NoError(t, err)
			require.NoError(t, head.Init(ctx.In("landmark_regression")))
			outputs := context.ExecOnceN(backend, ctx, func(ctx *context.Context, inputs []*graph.Node) []*graph.Node {
				ctx = ctx.In("landmark_regression")
				embedding, allVisible, noneVisible := inputs[0], inputs[1], inputs[2]
				return []*graph.Node{
					head.Loss(ctx, embedding, allVisible, inputs[3], inputs[4]),
					head.Predict(ctx, embedding, allVisible),
					head.Predict(ctx, embedding, noneVisible),
					head.Loss(ctx, embedding, allVisible, inputs[5], inputs[6]),
				}
			}, embedding, allVisible, noneVisible, absentLabels, tensors.FromValue(coordinates),
				tensors.FromValue(mixedLabels), tensors.FromValue(mixedCoordinates))

			// No landmark visible in the ground-truth: nothing to regress.
			require.Equal(t, float32(0), tensors.ToScalar[float32](outputs[0]))

			outputs[1].Shape().AssertDims(2, numLandmarks, 2)
			predicted := tensors.CopyFlatData[float32](outputs[1])
			for _, v := range predicted {
				require.True(t, v >= 0 && v <= 1, "coordinates must be normalized, got %g", v)
			}
			require.Equal(t, make([]float32, 2*numLandmarks*2), tensors.CopyFlatData[float32](outputs[2]))

			// Mean distance over the 3 visible landmarks only.
			var want float32
			var count int
			for example := range mixedLabels {
				for landmark, label := range mixedLabels[example] {
					if label != visible {
						continue
					}
					for axis := range 2 {
						diff := predicted[(example*numLandmarks+landmark)*2+axis] - mixedCoordinates[example][landmark][axis]
						if headConfig == "linear" {
							want += diff * diff
						} else if diff < 0 {
							want -= diff
						} else {
							want += diff
						}
					}
					count++
				}
			}
			require.Equal(t, 3, count)
			want /= float32(count)
			require.InDelta(t, want, tensors.ToScalar[float32](outputs[3]), 1e-5)
		})
	}
}
