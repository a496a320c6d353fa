package terrain

import (
	"bytes"
	"image/png"
	"testing"

	"github.com/paulmach/orb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestComputeStats(t *testing.T) {
	s := ComputeStats(sampleCloud())

	assert.Equal(t, 2, s.Points)
	assert.Equal(t, 1, s.Obstacles)
	assert.Equal(t, 1, s.Hazards)
	assert.InDelta(t, 0.875, s.MeanHeight, 1e-12)
	assert.InDelta(t, 0.5303300858899106, s.StdDevHeight, 1e-12)
	assert.Equal(t, 0.5, s.MinHeight)
	assert.Equal(t, 1.25, s.MaxHeight)
	assert.InDelta(t, 27.5, s.MeanSlope, 1e-12)
	assert.Equal(t, uint8(40), s.MaxSlope)
	assert.Equal(t, map[uint8]int{128: 1, 3: 1}, s.GroundTypes)
	assert.Equal(t, orb.Bound{Min: orb.Point{11, -4}, Max: orb.Point{12.5, -3}}, s.Bound)
}

func TestComputeStats_SinglePoint(t *testing.T) {
	cloud := &PointCloud{Points: []AggregatedPoint{{}, {X: 1, Y: 2, Z: 3, Slope: 4}}}
	s := ComputeStats(cloud)
	assert.Equal(t, 1, s.Points)
	assert.Equal(t, 3.0, s.MeanHeight)
	assert.Equal(t, 0.0, s.StdDevHeight)
}

func TestComputeStats_EmptyCloud(t *testing.T) {
	s := ComputeStats(&PointCloud{Points: []AggregatedPoint{{X: 5, Y: 6}}})
	assert.Equal(t, 0, s.Points)
	assert.Equal(t, orb.Bound{Min: orb.Point{5, 6}, Max: orb.Point{5, 6}}, s.Bound)
	assert.NotNil(t, s.GroundTypes)

	s = ComputeStats(nil)
	assert.Equal(t, 0, s.Points)
}

func TestWriteSlopeHistogram(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteSlopeHistogram(&buf, "rover1", sampleCloud()))

	img, err := png.Decode(&buf)
	require.NoError(t, err)
	assert.Positive(t, img.Bounds().Dx())
}

func TestWriteSlopeHistogram_EmptyCloud(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteSlopeHistogram(&buf, "rover1", nil))
	assert.Positive(t, buf.Len())
}
