package detector

import (
	"github.com/gomlx/exceptions"
	. "github.com/gomlx/gomlx/graph"
	"github.com/gomlx/gomlx/ml/context"
	"github.com/gomlx/gomlx/types/tensors"
	"github.com/janpfeifer/landmarks/internal/config"
	"github.com/janpfeifer/landmarks/internal/landmarks"
	"github.com/pkg/errors"
)

// SimpleTestGraph builds the single image inference pipeline.
//
// The image is shaped [height, width, channels]. The global features are fed directly to the landmark
// feature extractor: no region pooling or fusion is done, since there are no region descriptors at
// inference time.
//
// It returns the visibility (1 for landmarks predicted visible, 0 otherwise) shaped [numLandmarks] and
// the coordinates shaped [numLandmarks, 2], set to 0 for landmarks not predicted visible.
func (d *Detector) SimpleTestGraph(ctx *context.Context, image *Node) (visible, coordinates *Node) {
	if image.Rank() != 3 {
		exceptions.Panicf("SimpleTestGraph requires an image shaped [height, width, channels], got %s", image.Shape())
	}
	visible, coordinates = d.predictGraph(ctx, ExpandAxes(image, 0))
	return Squeeze(visible, 0), Squeeze(coordinates, 0)
}

// AugTestGraph builds the batched inference pipeline, for images shaped [batch, height, width, channels]:
// typically augmented versions of the same image.
//
// It returns the visibility shaped [batch, numLandmarks] and the coordinates shaped [batch, numLandmarks, 2].
// As in SimpleTestGraph, the regression is conditioned on the predicted visibility.
func (d *Detector) AugTestGraph(ctx *context.Context, images *Node) (visible, coordinates *Node) {
	if images.Rank() != 4 {
		exceptions.Panicf("AugTestGraph requires images shaped [batch, height, width, channels], got %s", images.Shape())
	}
	return d.predictGraph(ctx, images)
}

// predictGraph is the inference pipeline shared by SimpleTestGraph and AugTestGraph.
// The global features are not flattened here: the extractor accepts any shape with a leading batch axis.
func (d *Detector) predictGraph(ctx *context.Context, images *Node) (visible, coordinates *Node) {
	featureMap := d.backbone.FeatureMap(ctx.In(config.TableBackbone), images)
	global := d.globalPool.Pool(ctx.In(config.TableGlobalPool), featureMap)
	embedding := d.extractor.Extract(ctx.In(config.TableFeatureExtractor), global)
	visible = d.visibility.Predict(ctx.In(config.TableVisibilityClassifier), embedding)
	coordinates = d.regression.Predict(ctx.In(config.TableLandmarkRegression), embedding, visible)
	return
}

// SimpleTest predicts the landmarks of one image.
func (d *Detector) SimpleTest(image *landmarks.Image) (*landmarks.Prediction, error) {
	if image == nil {
		return nil, errors.New("SimpleTest requires an image")
	}
	if err := image.Validate(); err != nil {
		return nil, err
	}
	var outputs []*tensors.Tensor
	err := exceptions.TryCatch[error](func() {
		outputs = d.simpleTestExec.Call(image.Tensor())
	})
	if err != nil {
		return nil, err
	}
	return landmarks.PredictionFromTensors(outputs[0], outputs[1])
}

// AugTest predicts the landmarks of a batch of images, which must all have the same geometry.
//
// The batch is padded (see landmarks.PaddedBatchSize) to limit the number of graphs compiled, and the
// predictions for the padding are discarded.
func (d *Detector) AugTest(images []*landmarks.Image) ([]*landmarks.Prediction, error) {
	if len(images) == 0 {
		return nil, nil
	}
	imagesT, err := landmarks.NewImagesTensor(images, landmarks.PaddedBatchSize(len(images), d.cfg.BatchSize))
	if err != nil {
		return nil, err
	}
	var outputs []*tensors.Tensor
	err = exceptions.TryCatch[error](func() {
		outputs = d.augTestExec.Call(imagesT)
	})
	if err != nil {
		return nil, err
	}
	return landmarks.PredictionsFromTensors(outputs[0], outputs[1], len(images))
}
