package detector

import (
	"fmt"
	"github.com/gomlx/exceptions"
	. "github.com/gomlx/gomlx/graph"
	"github.com/gomlx/gomlx/ml/context"
	"github.com/gomlx/gomlx/types/tensors"
	"github.com/janpfeifer/landmarks/internal/config"
	"github.com/janpfeifer/landmarks/internal/landmarks"
	"github.com/pkg/errors"
)

// Names of the losses returned by ForwardTrainGraph.
const (
	LossVisibility = "loss_vis"
	LossRegression = "loss_regress"
)

// Losses computed by ForwardTrain.
type Losses struct {
	Visibility, Regression float32
}

// String implements fmt.Stringer.
func (l Losses) String() string {
	return fmt.Sprintf("%s=%.4f, %s=%.4f", LossVisibility, l.Visibility, LossRegression, l.Regression)
}

// ForwardTrainGraph builds the training pipeline and returns the visibility and regression losses, keyed by
// LossVisibility and LossRegression.
//
// Inputs:
//   - images: [batch, height, width, channels].
//   - visibility: ground-truth landmarks.Visibility values, [batch, numLandmarks].
//   - coordinates: ground-truth normalized coordinates, [batch, numLandmarks, 2].
//   - regions: region descriptors used by the region pooling, [batch, numLandmarks, 2].
//   - attributes: optional auxiliary labels, it may be nil. They are accepted but not used.
//
// The regression head is conditioned on the predicted visibility, and the ground-truth visibility selects which
// landmarks are supervised. Mismatched shapes are reported by the components that receive them, with a panic.
func (d *Detector) ForwardTrainGraph(ctx *context.Context, images, visibility, coordinates, regions, attributes *Node) map[string]*Node {
	_ = attributes
	featureMap := d.backbone.FeatureMap(ctx.In(config.TableBackbone), images)
	global := d.globalPool.Pool(ctx.In(config.TableGlobalPool), featureMap)
	batchSize := global.Shape().Dim(0)
	global = Reshape(global, batchSize, global.Shape().Size()/batchSize)
	local := d.roiPool.Pool(ctx.In(config.TableRoIPool), featureMap, regions)
	fused := d.fuser.Fuse(ctx.In(config.TableConcat), global, local)
	embedding := d.extractor.Extract(ctx.In(config.TableFeatureExtractor), fused)
	lossVisibility, predictedVisible := d.visibility.LossAndPredict(
		ctx.In(config.TableVisibilityClassifier), embedding, visibility)
	lossRegression := d.regression.Loss(
		ctx.In(config.TableLandmarkRegression), embedding, predictedVisible, visibility, coordinates)
	return map[string]*Node{
		LossVisibility: lossVisibility,
		LossRegression: lossRegression,
	}
}

// ForwardTrain runs the training pipeline on the given batch and returns the losses.
// It doesn't update the weights.
func (d *Detector) ForwardTrain(batch *landmarks.TrainTensors) (losses Losses, err error) {
	if batch == nil || batch.Images == nil {
		return losses, errors.New("ForwardTrain requires a batch with images")
	}
	inputs := []any{batch.Images, batch.Visibility, batch.Coordinates, batch.Regions}
	if batch.Attributes != nil {
		inputs = append(inputs, batch.Attributes)
	}
	var outputs []*tensors.Tensor
	err = exceptions.TryCatch[error](func() {
		outputs = d.forwardTrainExec.Call(inputs...)
	})
	if err != nil {
		return losses, err
	}
	losses.Visibility = tensors.ToScalar[float32](outputs[0])
	losses.Regression = tensors.ToScalar[float32](outputs[1])
	return losses, nil
}
