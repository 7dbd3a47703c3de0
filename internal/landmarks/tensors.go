package landmarks

import (
	"github.com/gomlx/gomlx/types/shapes"
	"github.com/gomlx/gomlx/types/tensors"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/janpfeifer/landmarks/internal/generics"
	"github.com/pkg/errors"
	"golang.org/x/image/draw"
	"image"
	"image/color"
)

// Image is a channels-last (height, width, channels) image with float32 values in [0, 1].
type Image struct {
	Height, Width, Channels int
	Pixels                  []float32
}

// NewImage returns a black image of the given dimensions.
func NewImage(height, width, channels int) *Image {
	return &Image{Height: height, Width: width, Channels: channels, Pixels: make([]float32, height*width*channels)}
}

// SolidImage returns an image with all pixels/channels set to value.
func SolidImage(height, width, channels int, value float32) *Image {
	img := NewImage(height, width, channels)
	for ii := range img.Pixels {
		img.Pixels[ii] = value
	}
	return img
}

// FromGoImage scales src to the given height and width (bilinear) and converts it to an Image.
// Channels can be 1 (gray), 3 (RGB) or 4 (RGBA).
func FromGoImage(src image.Image, height, width, channels int) (*Image, error) {
	if channels != 1 && channels != 3 && channels != 4 {
		return nil, errors.Errorf("images with %d channels not supported, only 1, 3 or 4", channels)
	}
	scaled := image.NewNRGBA(image.Rect(0, 0, width, height))
	draw.BiLinear.Scale(scaled, scaled.Bounds(), src, src.Bounds(), draw.Src, nil)
	img := NewImage(height, width, channels)
	pos := 0
	for y := range height {
		for x := range width {
			c := scaled.NRGBAAt(x, y)
			switch channels {
			case 1:
				gray := color.GrayModel.Convert(c).(color.Gray)
				img.Pixels[pos] = float32(gray.Y) / 255
			default:
				rgba := []uint8{c.R, c.G, c.B, c.A}
				for ch := range channels {
					img.Pixels[pos+ch] = float32(rgba[ch]) / 255
				}
			}
			pos += channels
		}
	}
	return img, nil
}

// Tensor returns the image as a tensor shaped [height, width, channels], without a batch axis.
func (img *Image) Tensor() *tensors.Tensor {
	t := tensors.FromShape(shapes.Make(dtypes.Float32, img.Height, img.Width, img.Channels))
	tensors.MutableFlatData(t, func(flat []float32) {
		copy(flat, img.Pixels)
	})
	return t
}

// Validate checks that the image has exactly one value per pixel and channel.
func (img *Image) Validate() error {
	if img == nil {
		return errors.New("image is nil")
	}
	if img.Height <= 0 || img.Width <= 0 || img.Channels <= 0 {
		return errors.Errorf("image has invalid dimensions %dx%dx%d", img.Height, img.Width, img.Channels)
	}
	if len(img.Pixels) != img.Height*img.Width*img.Channels {
		return errors.Errorf("image has %d values, but it should have %dx%dx%d=%d",
			len(img.Pixels), img.Height, img.Width, img.Channels, img.Height*img.Width*img.Channels)
	}
	return nil
}

func (img *Image) geometry() [3]int {
	return [3]int{img.Height, img.Width, img.Channels}
}

func checkImages(images []*Image) error {
	if len(images) == 0 {
		return errors.New("no images given")
	}
	for ii, img := range images {
		if err := img.Validate(); err != nil {
			return errors.WithMessagef(err, "image #%d", ii)
		}
	}
	if !generics.AllEqual(generics.SliceMap(images, (*Image).geometry)) {
		return errors.Errorf("images in a batch must all have the same dimensions, got %v",
			generics.SliceMap(images, (*Image).geometry))
	}
	return nil
}

// PaddedBatchSize returns a padded batch size for the given number of examples.
// This is important so we don't have too many different versions of the program for every different batch size.
func PaddedBatchSize(numExamples, defaultBatchSize int) int {
	if numExamples <= 1 || numExamples == defaultBatchSize {
		return numExamples
	}
	paddedSize := 1
	for paddedSize < numExamples {
		// Increase 1.5x at a time.
		paddedSize = paddedSize + (paddedSize+1)/2
	}
	return paddedSize
}

// NewImagesTensor stacks the images in a tensor shaped [paddedSize, height, width, channels].
// Rows beyond len(images) are zero.
func NewImagesTensor(images []*Image, paddedSize int) (*tensors.Tensor, error) {
	if err := checkImages(images); err != nil {
		return nil, err
	}
	if paddedSize < len(images) {
		return nil, errors.Errorf("padded size %d is smaller than the number of images %d", paddedSize, len(images))
	}
	img0 := images[0]
	imageSize := len(img0.Pixels)
	t := tensors.FromShape(shapes.Make(dtypes.Float32, paddedSize, img0.Height, img0.Width, img0.Channels))
	tensors.MutableFlatData(t, func(flat []float32) {
		for ii, img := range images {
			copy(flat[ii*imageSize:], img.Pixels)
		}
	})
	return t, nil
}

// TrainTensors are the inputs of the training pipeline, for a batch of B samples with L landmarks:
//
//   - Images: float32 [B, height, width, channels].
//   - Visibility: int32 [B, L] with the Visibility labels.
//   - Coordinates: float32 [B, L, 2] with normalized (x, y) labels.
//   - Regions: float32 [B, R, 2] with the region descriptors, R should be L.
//   - Attributes: float32 [B, A] or nil if no sample has attributes.
type TrainTensors struct {
	Images, Visibility, Coordinates, Regions, Attributes *tensors.Tensor
}

// BatchSize returns the number of samples in the batch.
func (tt *TrainTensors) BatchSize() int {
	return tt.Images.Shape().Dim(0)
}

// NewTrainTensors stacks samples into TrainTensors.
//
// Samples must agree on the image dimensions and on the length of each of their per-landmark fields.
// Per-landmark fields are never padded or truncated: checking that they match the number of
// landmarks of a detector is left to the detector components.
func NewTrainTensors(samples []*Sample) (*TrainTensors, error) {
	if len(samples) == 0 {
		return nil, errors.New("no samples given")
	}
	for ii, s := range samples {
		if s == nil {
			return nil, errors.Errorf("sample #%d is nil", ii)
		}
	}
	images := generics.SliceMap(samples, func(s *Sample) *Image { return s.Image })
	if err := checkImages(images); err != nil {
		return nil, err
	}
	batchSize := len(samples)
	tt := &TrainTensors{}
	var err error
	tt.Images, err = NewImagesTensor(images, batchSize)
	if err != nil {
		return nil, err
	}

	numVis, err := commonLength(samples, "visibility", func(s *Sample) int { return len(s.Visibility) })
	if err != nil {
		return nil, err
	}
	tt.Visibility = tensors.FromShape(shapes.Make(dtypes.Int32, batchSize, numVis))
	tensors.MutableFlatData(tt.Visibility, func(flat []int32) {
		for ii, s := range samples {
			for jj, v := range s.Visibility {
				flat[ii*numVis+jj] = int32(v)
			}
		}
	})

	tt.Coordinates, err = pointsTensor(samples, "coordinates", func(s *Sample) []Point { return s.Coordinates })
	if err != nil {
		return nil, err
	}
	tt.Regions, err = pointsTensor(samples, "regions", func(s *Sample) []Point { return s.Regions })
	if err != nil {
		return nil, err
	}

	numAttributes, err := commonLength(samples, "attributes", func(s *Sample) int { return len(s.Attributes) })
	if err != nil {
		return nil, err
	}
	if numAttributes > 0 {
		tt.Attributes = tensors.FromShape(shapes.Make(dtypes.Float32, batchSize, numAttributes))
		tensors.MutableFlatData(tt.Attributes, func(flat []float32) {
			for ii, s := range samples {
				copy(flat[ii*numAttributes:], s.Attributes)
			}
		})
	}
	return tt, nil
}

func commonLength(samples []*Sample, field string, lengthFn func(s *Sample) int) (int, error) {
	lengths := generics.SliceMap(samples, lengthFn)
	if !generics.AllEqual(lengths) {
		return 0, errors.Errorf("samples have different number of %s: %v", field, lengths)
	}
	return lengths[0], nil
}

func pointsTensor(samples []*Sample, field string, pointsFn func(s *Sample) []Point) (*tensors.Tensor, error) {
	numPoints, err := commonLength(samples, field, func(s *Sample) int { return len(pointsFn(s)) })
	if err != nil {
		return nil, err
	}
	t := tensors.FromShape(shapes.Make(dtypes.Float32, len(samples), numPoints, 2))
	tensors.MutableFlatData(t, func(flat []float32) {
		for ii, s := range samples {
			for jj, p := range pointsFn(s) {
				idx := (ii*numPoints + jj) * 2
				flat[idx] = p[0]
				flat[idx+1] = p[1]
			}
		}
	})
	return t, nil
}

// PredictionFromTensors converts the predicted visibility (float32 [L], 1 for visible) and coordinates
// (float32 [L, 2]) of one image to a Prediction.
func PredictionFromTensors(visibility, coordinates *tensors.Tensor) (*Prediction, error) {
	if visibility.Shape().Rank() != 1 || coordinates.Shape().Rank() != 2 {
		return nil, errors.Errorf("single prediction requires visibility shaped [L] and coordinates [L, 2], got %s and %s",
			visibility.Shape(), coordinates.Shape())
	}
	predictions, err := predictionsFromFlat(1, visibility.Shape().Dim(0),
		tensors.CopyFlatData[float32](visibility), tensors.CopyFlatData[float32](coordinates))
	if err != nil {
		return nil, err
	}
	return predictions[0], nil
}

// PredictionsFromTensors converts a batch of predicted visibility (float32 [N, L]) and coordinates
// (float32 [N, L, 2]) to Predictions. Only the first numExamples are converted, the remaining ones are padding.
func PredictionsFromTensors(visibility, coordinates *tensors.Tensor, numExamples int) ([]*Prediction, error) {
	if visibility.Shape().Rank() != 2 || coordinates.Shape().Rank() != 3 {
		return nil, errors.Errorf("batch prediction requires visibility shaped [N, L] and coordinates [N, L, 2], got %s and %s",
			visibility.Shape(), coordinates.Shape())
	}
	if numExamples > visibility.Shape().Dim(0) {
		return nil, errors.Errorf("requested %d predictions, but only %d were given", numExamples, visibility.Shape().Dim(0))
	}
	return predictionsFromFlat(numExamples, visibility.Shape().Dim(1),
		tensors.CopyFlatData[float32](visibility), tensors.CopyFlatData[float32](coordinates))
}

func predictionsFromFlat(numExamples, numLandmarks int, visibility, coordinates []float32) ([]*Prediction, error) {
	if len(coordinates) < 2*len(visibility) {
		return nil, errors.Errorf("got %d coordinate values for %d visibility values", len(coordinates), len(visibility))
	}
	predictions := make([]*Prediction, numExamples)
	for ii := range predictions {
		p := &Prediction{
			Visible:     make([]bool, numLandmarks),
			Coordinates: make([]Point, numLandmarks),
		}
		for jj := range numLandmarks {
			idx := ii*numLandmarks + jj
			p.Visible[jj] = visibility[idx] > 0.5
			p.Coordinates[jj] = Point{coordinates[2*idx], coordinates[2*idx+1]}
		}
		predictions[ii] = p
	}
	return predictions, nil
}
