package terrain

import (
	"math"
	"slices"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// pixel is a test fixture for one depth image pixel
type pixel struct {
	x, height, z float32
	misc         Misc
}

// imageOf builds a 1xN depth image holding the given pixels
func imageOf(pixels ...pixel) *DepthImage {
	img := NewDepthImage(len(pixels), 1)
	for i, p := range pixels {
		img.Set(i, 0, p.x, p.height, p.z, p.misc)
	}
	return img
}

func TestUnpackMisc(t *testing.T) {
	tests := []struct {
		name   string
		packed float32
		want   Misc
	}{
		{
			name:   "all fields",
			packed: float32(10 | 128<<8 | 1<<16 | 15<<18),
			want:   Misc{Distance: 10, GroundType: 128, Obstacle: true, Slope: 15},
		},
		{
			name:   "hazard only",
			packed: float32(3 | 1<<17),
			want:   Misc{Distance: 3, Hazard: true},
		},
		{
			name:   "max slope",
			packed: float32(48 | 255<<8 | 63<<18),
			want:   Misc{Distance: 48, GroundType: 255, Slope: 63},
		},
		{
			name:   "fraction is truncated",
			packed: float32(7|2<<8) + 0.75,
			want:   Misc{Distance: 7, GroundType: 2},
		},
		{
			name:   "zero",
			packed: 0,
			want:   Misc{},
		},
		{
			name:   "negative keeps the masked low bits",
			packed: -250,
			want:   Misc{Distance: 6, GroundType: 255, Obstacle: true, Hazard: true, Slope: 63},
		},
		{
			name:   "NaN",
			packed: float32(math.NaN()),
			want:   Misc{},
		},
		{
			name:   "bits above 24 are masked off",
			packed: float32(1<<24 | 8),
			want:   Misc{Distance: 8},
		},
		{
			name:   "beyond 32 bits",
			packed: float32(1 << 32),
			want:   Misc{},
		},
		{
			name:   "infinity",
			packed: float32(math.Inf(-1)),
			want:   Misc{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, UnpackMisc(tt.packed))
		})
	}
}

func TestMiscPack_RoundTrip(t *testing.T) {
	cases := []Misc{
		{Distance: 1},
		{Distance: 10, GroundType: 128, Obstacle: true, Slope: 15},
		{Distance: 255, GroundType: 255, Obstacle: true, Hazard: true, Slope: 63},
		{Distance: 30, Hazard: true, Slope: 40},
	}
	for _, m := range cases {
		assert.Equal(t, m, UnpackMisc(m.Pack()), "round trip of %+v", m)
	}
}

func TestMiscPack_SlopeTruncatedToSixBits(t *testing.T) {
	m := Misc{Distance: 5, Slope: 64 + 9}
	assert.Equal(t, uint8(9), UnpackMisc(m.Pack()).Slope)
}

func TestDepthImage_SetAt(t *testing.T) {
	img := NewDepthImage(3, 2)
	require.NoError(t, img.Validate())

	misc := Misc{Distance: 12, GroundType: 4, Hazard: true, Slope: 7}
	img.Set(2, 1, 1.5, -0.25, 8, misc)

	got := img.At(2, 1)
	assert.Equal(t, float32(1.5), got.WorldX)
	assert.Equal(t, float32(-0.25), got.Height)
	assert.Equal(t, float32(8), got.WorldZ)
	assert.Equal(t, misc, got.Misc)

	assert.Equal(t, Misc{}, img.At(0, 0).Misc)
}

func TestDepthImage_Validate(t *testing.T) {
	assert.NoError(t, NewDepthImage(0, 0).Validate())
	assert.Error(t, (&DepthImage{Width: 2, Height: 2, Pix: make([]float32, 15)}).Validate())
	assert.Error(t, (&DepthImage{Width: -1, Height: 2}).Validate())
	// the product would wrap to zero and match an empty buffer
	assert.Error(t, (&DepthImage{Width: 1 << 62, Height: 4}).Validate())
	assert.Error(t, (&DepthImage{Width: maxImageSide + 1, Height: 1, Pix: make([]float32, (maxImageSide+1)*ChannelsPerPixel)}).Validate())
}

func TestInRange(t *testing.T) {
	origin := Point{}
	tests := []struct {
		name string
		s    DepthSample
		want bool
	}{
		{"valid", DepthSample{WorldX: 5, WorldZ: 3, Misc: Misc{Distance: 10}}, true},
		{"no return", DepthSample{WorldX: 5, WorldZ: 3, Misc: Misc{Distance: 0}}, false},
		{"packed distance at ceiling", DepthSample{WorldX: 5, WorldZ: 3, Misc: Misc{Distance: 49}}, false},
		{"packed distance above ceiling", DepthSample{WorldX: 5, WorldZ: 3, Misc: Misc{Distance: 200}}, false},
		{"packed just below ceiling", DepthSample{WorldX: 48, WorldZ: 0, Misc: Misc{Distance: 48}}, true},
		{"planar distance beyond ceiling", DepthSample{WorldX: 40, WorldZ: 40, Misc: Misc{Distance: 10}}, false},
		{"planar distance exactly at ceiling", DepthSample{WorldX: 0, WorldZ: -49, Misc: Misc{Distance: 48}}, true},
		{"NaN position", DepthSample{WorldX: float32(math.NaN()), WorldZ: 1, Misc: Misc{Distance: 10}}, false},
		{"NaN height", DepthSample{WorldX: 5.1, Height: float32(math.NaN()), WorldZ: 3.1, Misc: Misc{Distance: 6}}, false},
		{"infinite height", DepthSample{WorldX: 5, Height: float32(math.Inf(1)), WorldZ: 3, Misc: Misc{Distance: 6}}, false},
		{"infinite world z", DepthSample{WorldX: 5, WorldZ: float32(math.Inf(-1)), Misc: Misc{Distance: 6}}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, InRange(tt.s, origin, DefaultMaxDistance))
		})
	}
}

func TestInRange_UsesRoverPosition(t *testing.T) {
	s := DepthSample{WorldX: 130, WorldZ: -20, Misc: Misc{Distance: 30}}
	assert.False(t, InRange(s, Point{}, DefaultMaxDistance))
	assert.True(t, InRange(s, Point{X: 100, Y: -20}, DefaultMaxDistance))
}

func TestDecodeDepth_Filters(t *testing.T) {
	img := imageOf(
		pixel{x: 5, height: 1, z: 3, misc: Misc{Distance: 10, GroundType: 1}},
		pixel{x: 6, height: 1, z: 3, misc: Misc{Distance: 0, GroundType: 2}},
		pixel{x: 7, height: 1, z: 3, misc: Misc{Distance: 49, GroundType: 3}},
		pixel{x: 40, height: 1, z: 40, misc: Misc{Distance: 10, GroundType: 4}},
		pixel{x: -8, height: 2, z: -1, misc: Misc{Distance: 8, GroundType: 5}},
	)

	samples := slices.Collect(DecodeDepth(img, Point{}, DefaultMaxDistance))
	require.Len(t, samples, 2)
	assert.Equal(t, uint8(1), samples[0].GroundType)
	assert.Equal(t, uint8(5), samples[1].GroundType)
}

func TestDecodeDepth_ShortBufferVisitsCompletePixelsOnly(t *testing.T) {
	img := &DepthImage{
		Width:  2,
		Height: 1,
		Pix:    []float32{1, 0, 1, Misc{Distance: 2}.Pack(), 3, 0},
	}
	samples := slices.Collect(DecodeDepth(img, Point{}, DefaultMaxDistance))
	assert.Len(t, samples, 1)
}

func TestDecodeDepth_NilImage(t *testing.T) {
	assert.Empty(t, slices.Collect(DecodeDepth(nil, Point{}, DefaultMaxDistance)))
}

func TestDecodeDepth_StopsWhenConsumerBreaks(t *testing.T) {
	img := imageOf(
		pixel{x: 1, z: 1, misc: Misc{Distance: 1}},
		pixel{x: 2, z: 2, misc: Misc{Distance: 2}},
		pixel{x: 3, z: 3, misc: Misc{Distance: 3}},
	)
	n := 0
	for range DecodeDepth(img, Point{}, DefaultMaxDistance) {
		n++
		if n == 2 {
			break
		}
	}
	assert.Equal(t, 2, n)
}
