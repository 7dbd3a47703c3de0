package components

import (
	. "github.com/gomlx/gomlx/graph"
	"github.com/gomlx/gomlx/ml/context"
	"github.com/gomlx/gomlx/ml/layers"
	"github.com/gomlx/gomlx/ml/train/losses"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/janpfeifer/landmarks/internal/config"
	"github.com/janpfeifer/landmarks/internal/landmarks"
	"github.com/pkg/errors"
)

// NewVisibilityHead creates the visibility classifier selected by cfg.Type:
//
//   - "softmax": classifies each landmark as visible, occluded or absent, with a categorical cross-entropy loss.
//     A landmark is predicted visible if "visible" is its most likely class.
//   - "sigmoid": binary classification of visible vs. not visible, with a binary cross-entropy loss.
func NewVisibilityHead(cfg *config.Component) (VisibilityHead, error) {
	b, err := newBase("visibility classifier", cfg)
	if err != nil {
		return nil, err
	}
	switch cfg.Type {
	case "softmax":
		return &visibilityHead{base: b, numClasses: landmarks.NumVisibilityClasses}, nil
	case "sigmoid":
		return &visibilityHead{base: b, numClasses: 1}, nil
	}
	return nil, unknownType(b.role, cfg.Type, "softmax", "sigmoid")
}

type visibilityHead struct {
	base

	// numClasses is 1 for the binary (sigmoid) classifier.
	numClasses int
}

// Init implements VisibilityHead.
func (h *visibilityHead) Init(ctx *context.Context) error {
	if err := checkNumLandmarks(ctx, h.role); err != nil {
		return err
	}
	return h.initParams(ctx, nil)
}

// logits shaped [batch, numLandmarks, numClasses], or [batch, numLandmarks] for the binary classifier.
func (h *visibilityHead) logits(ctx *context.Context, embedding *Node) *Node {
	assertDims(h.role, "embedding", embedding, -1, -1)
	batchSize := embedding.Shape().Dim(0)
	n := numLandmarks(ctx)
	logits := layers.Dense(ctx.In("logits"), embedding, true, n*h.numClasses)
	if h.numClasses == 1 {
		return logits
	}
	return Reshape(logits, batchSize, n, h.numClasses)
}

// visibleFromLogits returns 1 for landmarks predicted visible, 0 otherwise, as float32 [batch, numLandmarks].
func (h *visibilityHead) visibleFromLogits(logits *Node) *Node {
	if h.numClasses == 1 {
		return ConvertDType(GreaterThan(logits, ZerosLike(logits)), dtypes.Float32)
	}
	g := logits.Graph()
	classes := ArgMax(logits, 2, dtypes.Int32)
	return ConvertDType(Equal(classes, Scalar(g, dtypes.Int32, float64(landmarks.Visible))), dtypes.Float32)
}

// LossAndPredict implements VisibilityHead.
func (h *visibilityHead) LossAndPredict(ctx *context.Context, embedding, labels *Node) (loss, visible *Node) {
	logits := h.logits(ctx, embedding)
	batchSize, n := embedding.Shape().Dim(0), numLandmarks(ctx)
	assertDims(h.role, "visibility labels", labels, batchSize, n)
	labels = ConvertDType(labels, dtypes.Int32)
	if h.numClasses == 1 {
		g := labels.Graph()
		isVisible := ConvertDType(Equal(labels, Scalar(g, dtypes.Int32, float64(landmarks.Visible))), logits.DType())
		loss = losses.BinaryCrossentropyLogits([]*Node{isVisible}, []*Node{logits})
	} else {
		loss = losses.SparseCategoricalCrossEntropyLogits(
			[]*Node{Reshape(labels, batchSize, n, 1)}, []*Node{logits})
	}
	if !loss.IsScalar() {
		// Some losses may return one value per example.
		loss = ReduceAllMean(loss)
	}
	return loss, h.visibleFromLogits(logits)
}

// Predict implements VisibilityHead.
func (h *visibilityHead) Predict(ctx *context.Context, embedding *Node) *Node {
	return h.visibleFromLogits(h.logits(ctx, embedding))
}

// NewRegressionHead creates the landmark regression selected by cfg.Type. Only "linear" is supported: a dense
// layer on the embedding concatenated with the predicted visibility, followed by a sigmoid so coordinates are
// normalized to [0, 1].
//
// The parameter "loss" selects "l2" (squared distance, default) or "l1" (absolute distance), averaged over the
// landmarks visible in the ground-truth. If no landmark is visible the loss is 0.
func NewRegressionHead(cfg *config.Component) (RegressionHead, error) {
	b, err := newBase("landmark regression", cfg)
	if err != nil {
		return nil, err
	}
	if cfg.Type != "linear" {
		return nil, unknownType(b.role, cfg.Type, "linear")
	}
	return &regressionHead{base: b}, nil
}

type regressionHead struct {
	base
}

// Init implements RegressionHead.
func (h *regressionHead) Init(ctx *context.Context) error {
	if err := checkNumLandmarks(ctx, h.role); err != nil {
		return err
	}
	if err := h.initParams(ctx, map[string]any{"loss": "l2"}); err != nil {
		return err
	}
	if lossType := context.GetParamOr(ctx, "loss", "l2"); lossType != "l1" && lossType != "l2" {
		return errors.Errorf("%s: invalid loss %q, valid values are \"l1\" or \"l2\"", h, lossType)
	}
	return nil
}

// coordinates predicted for all landmarks, shaped [batch, numLandmarks, 2], regardless of visibility.
func (h *regressionHead) coordinates(ctx *context.Context, embedding, predictedVisible *Node) *Node {
	assertDims(h.role, "embedding", embedding, -1, -1)
	batchSize, n := embedding.Shape().Dim(0), numLandmarks(ctx)
	assertDims(h.role, "predicted visibility", predictedVisible, batchSize, n)
	conditioning := StopGradient(ConvertDType(predictedVisible, embedding.DType()))
	x := Concatenate([]*Node{embedding, conditioning}, 1)
	x = layers.Dense(ctx.In("coordinates"), x, true, n*2)
	return Reshape(Sigmoid(x), batchSize, n, 2)
}

// Loss implements RegressionHead.
func (h *regressionHead) Loss(ctx *context.Context, embedding, predictedVisible, labels, coordinates *Node) *Node {
	predictions := h.coordinates(ctx, embedding, predictedVisible)
	batchSize, n := predictions.Shape().Dim(0), predictions.Shape().Dim(1)
	assertDims(h.role, "visibility labels", labels, batchSize, n)
	assertDims(h.role, "coordinates labels", coordinates, batchSize, n, 2)
	g := predictions.Graph()
	dtype := predictions.DType()

	labels = ConvertDType(labels, dtypes.Int32)
	mask := ConvertDType(Equal(labels, Scalar(g, dtypes.Int32, float64(landmarks.Visible))), dtype)
	diff := Sub(predictions, ConvertDType(coordinates, dtype))
	var distance *Node
	if context.GetParamOr(ctx, "loss", "l2") == "l1" {
		distance = ReduceSum(Abs(diff), 2)
	} else {
		distance = ReduceSum(Square(diff), 2)
	}
	numVisible := ReduceAllSum(mask)
	return Div(ReduceAllSum(Mul(distance, mask)), Max(numVisible, OnesLike(numVisible)))
}

// Predict implements RegressionHead. Coordinates of landmarks not predicted visible are set to 0.
func (h *regressionHead) Predict(ctx *context.Context, embedding, predictedVisible *Node) *Node {
	predictions := h.coordinates(ctx, embedding, predictedVisible)
	batchSize, n := predictions.Shape().Dim(0), predictions.Shape().Dim(1)
	mask := ConvertDType(predictedVisible, predictions.DType())
	mask = BroadcastToDims(Reshape(mask, batchSize, n, 1), batchSize, n, 2)
	return Mul(predictions, mask)
}
