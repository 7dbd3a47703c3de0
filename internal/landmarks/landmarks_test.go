package landmarks

import (
	"github.com/gomlx/gomlx/types/shapes"
	"github.com/gomlx/gomlx/types/tensors"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"
	"image"
	"image/color"
	"testing"
)

func TestLayoutByName(t *testing.T) {
	layout, err := LayoutByName("Full")
	require.NoError(t, err)
	require.Equal(t, 8, layout.Len())
	require.Equal(t, "left_collar", layout.Landmarks[0])
	require.Equal(t, "right_hem", layout.Landmarks[7])

	layout, err = LayoutByName("upper")
	require.NoError(t, err)
	require.Equal(t, 6, layout.Len())

	_, err = LayoutByName("shoes")
	require.ErrorContains(t, err, "shoes")
}

func TestParseVisibility(t *testing.T) {
	for _, v := range []Visibility{Visible, Occluded, Absent} {
		got, err := ParseVisibility(v.String())
		require.NoError(t, err)
		require.Equal(t, v, got)
	}
	got, err := ParseVisibility("Occluded")
	require.NoError(t, err)
	require.Equal(t, Occluded, got)
	_, err = ParseVisibility("hidden")
	require.ErrorContains(t, err, "hidden")
}

func TestPaddedBatchSize(t *testing.T) {
	wantPaddedSizes := []int{1, 2, 3, 5, 5, 8, 8, 8, 12, 12, 12, 12, 18, 18, 18, 16, 18, 18}
	gotPaddedSizes := make([]int, len(wantPaddedSizes))
	for ii := range wantPaddedSizes {
		gotPaddedSizes[ii] = PaddedBatchSize(ii+1, 16)
	}
	require.Equal(t, wantPaddedSizes, gotPaddedSizes)
}

// makeSample with numLandmarks, all visible, with coordinates and regions along the diagonal.
func makeSample(numLandmarks int, value float32) *Sample {
	s := &Sample{Image: SolidImage(4, 6, 3, value)}
	for ii := range numLandmarks {
		pos := float32(ii+1) / float32(numLandmarks+1)
		s.Visibility = append(s.Visibility, Visible)
		s.Coordinates = append(s.Coordinates, Point{pos, pos})
		s.Regions = append(s.Regions, Point{pos, pos})
	}
	return s
}

func TestNewTrainTensors(t *testing.T) {
	samples := []*Sample{makeSample(3, 0.25), makeSample(3, 0.5)}
	samples[1].Visibility[2] = Absent
	tt, err := NewTrainTensors(samples)
	require.NoError(t, err)
	require.Equal(t, 2, tt.BatchSize())
	require.True(t, tt.Images.Shape().Equal(shapes.Make(dtypes.Float32, 2, 4, 6, 3)))
	require.True(t, tt.Visibility.Shape().Equal(shapes.Make(dtypes.Int32, 2, 3)))
	require.True(t, tt.Coordinates.Shape().Equal(shapes.Make(dtypes.Float32, 2, 3, 2)))
	require.True(t, tt.Regions.Shape().Equal(shapes.Make(dtypes.Float32, 2, 3, 2)))
	require.Nil(t, tt.Attributes)
	require.Equal(t, []int32{0, 0, 0, 0, 0, 2}, tensors.CopyFlatData[int32](tt.Visibility))
	require.Equal(t, []float32{0.25, 0.25, 0.5, 0.5, 0.75, 0.75}, tensors.CopyFlatData[float32](tt.Coordinates)[:6])

	// Images are stacked in order.
	images := tensors.CopyFlatData[float32](tt.Images)
	require.Equal(t, float32(0.25), images[0])
	require.Equal(t, float32(0.5), images[len(images)-1])

	// Attributes are carried if given.
	samples[0].Attributes = []float32{1, 0}
	samples[1].Attributes = []float32{0, 1}
	tt, err = NewTrainTensors(samples)
	require.NoError(t, err)
	require.Equal(t, []float32{1, 0, 0, 1}, tensors.CopyFlatData[float32](tt.Attributes))
}

func TestNewTrainTensors_Errors(t *testing.T) {
	_, err := NewTrainTensors(nil)
	require.Error(t, err)

	// Different number of landmarks across samples.
	_, err = NewTrainTensors([]*Sample{makeSample(3, 0), makeSample(4, 0)})
	require.ErrorContains(t, err, "visibility")

	// Different image sizes.
	s := makeSample(3, 0)
	s.Image = SolidImage(5, 6, 3, 0)
	_, err = NewTrainTensors([]*Sample{makeSample(3, 0), s})
	require.ErrorContains(t, err, "same dimensions")

	// Nil samples and images with the wrong number of values.
	_, err = NewTrainTensors([]*Sample{makeSample(3, 0), nil})
	require.ErrorContains(t, err, "sample #1 is nil")
	s = makeSample(3, 0)
	s.Image.Pixels = s.Image.Pixels[1:]
	_, err = NewTrainTensors([]*Sample{s})
	require.ErrorContains(t, err, "image #0")

	// Region count different from landmark count is not checked here.
	s = makeSample(3, 0)
	s.Regions = s.Regions[:2]
	s2 := makeSample(3, 0)
	s2.Regions = s2.Regions[:2]
	tt, err := NewTrainTensors([]*Sample{s, s2})
	require.NoError(t, err)
	require.Equal(t, 2, tt.Regions.Shape().Dim(1))
}

func TestNewImagesTensor(t *testing.T) {
	images := []*Image{SolidImage(2, 2, 1, 1), SolidImage(2, 2, 1, 0.5)}
	imagesT, err := NewImagesTensor(images, 3)
	require.NoError(t, err)
	require.Equal(t, []int{3, 2, 2, 1}, imagesT.Shape().Dimensions)
	require.Equal(t, []float32{1, 1, 1, 1, 0.5, 0.5, 0.5, 0.5, 0, 0, 0, 0}, tensors.CopyFlatData[float32](imagesT))

	_, err = NewImagesTensor(images, 1)
	require.Error(t, err)
}

func TestImageValidate(t *testing.T) {
	require.NoError(t, SolidImage(2, 3, 1, 0).Validate())
	short := SolidImage(2, 3, 1, 0)
	short.Pixels = short.Pixels[:5]
	require.ErrorContains(t, short.Validate(), "has 5 values")
	long := SolidImage(2, 3, 1, 0)
	long.Pixels = append(long.Pixels, 1)
	require.ErrorContains(t, long.Validate(), "has 7 values")
	require.Error(t, (&Image{}).Validate())
	var nilImage *Image
	require.Error(t, nilImage.Validate())
}

func TestFromGoImage(t *testing.T) {
	src := image.NewNRGBA(image.Rect(0, 0, 8, 8))
	for y := range 8 {
		for x := range 8 {
			src.SetNRGBA(x, y, color.NRGBA{R: 255, G: 0, B: 51, A: 255})
		}
	}
	img, err := FromGoImage(src, 4, 2, 3)
	require.NoError(t, err)
	require.Equal(t, 4, img.Height)
	require.Equal(t, 2, img.Width)
	require.Len(t, img.Pixels, 4*2*3)
	require.InDelta(t, 1.0, img.Pixels[0], 1e-6)
	require.InDelta(t, 0.0, img.Pixels[1], 1e-6)
	require.InDelta(t, 0.2, img.Pixels[2], 1e-6)

	_, err = FromGoImage(src, 4, 4, 2)
	require.Error(t, err)
}

func TestPredictionsFromTensors(t *testing.T) {
	vis := tensors.FromValue([][]float32{{1, 0}, {0, 1}, {0, 0}})
	coords := tensors.FromValue([][][]float32{
		{{0.1, 0.2}, {0, 0}},
		{{0, 0}, {0.7, 0.8}},
		{{0, 0}, {0, 0}},
	})
	predictions, err := PredictionsFromTensors(vis, coords, 2)
	require.NoError(t, err)
	want := []*Prediction{
		{Visible: []bool{true, false}, Coordinates: []Point{{0.1, 0.2}, {0, 0}}},
		{Visible: []bool{false, true}, Coordinates: []Point{{0, 0}, {0.7, 0.8}}},
	}
	if diff := cmp.Diff(want, predictions); diff != "" {
		t.Errorf("PredictionsFromTensors() mismatch (-want +got):\n%s", diff)
	}
	require.Equal(t, "[(0.100,0.200) -]", predictions[0].String())

	single, err := PredictionFromTensors(tensors.FromValue([]float32{0, 1}), tensors.FromValue([][]float32{{0, 0}, {0.5, 0.25}}))
	require.NoError(t, err)
	require.Equal(t, []bool{false, true}, single.Visible)
	require.Equal(t, Point{0.5, 0.25}, single.Coordinates[1])

	// Ranks must match the mode.
	_, err = PredictionFromTensors(vis, coords)
	require.Error(t, err)
	_, err = PredictionsFromTensors(vis, coords, 4)
	require.Error(t, err)
}
