package terrain

import (
	"math"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSynthesizeCapture_Shape(t *testing.T) {
	cfg := DefaultSynthConfig()
	pose := RoverPose{X: 3, Y: -2, Angle: 30, Timestamp: 42}

	c := SynthesizeCapture(pose, cfg)

	assert.Equal(t, pose, c.Pose)
	assert.True(t, c.Full)
	require.Len(t, c.Images, DirectionCount)
	for _, img := range c.Images {
		assert.NoError(t, img.Validate())
		assert.Equal(t, cfg.Width, img.Width)
	}
	assert.NoError(t, c.Validate())
}

func TestSynthesizeCapture_Deterministic(t *testing.T) {
	pose := RoverPose{X: 1, Y: 1, Angle: 90}
	a := SynthesizeCapture(pose, DefaultSynthConfig())
	b := SynthesizeCapture(pose, DefaultSynthConfig())
	if diff := cmp.Diff(a, b); diff != "" {
		t.Errorf("synthetic capture not deterministic:\n%s", diff)
	}
}

func TestSynthesizeCapture_EmptyCamera(t *testing.T) {
	cfg := DefaultSynthConfig()
	cfg.Width = 0
	c := SynthesizeCapture(RoverPose{}, cfg)
	assert.Empty(t, c.Images)
}

func TestSynthesizeCapture_Aggregates(t *testing.T) {
	cfg := DefaultSynthConfig()
	rover := Point{}
	c := SynthesizeCapture(RoverPose{}, cfg)

	cloud := NewAggregator(cfg.MaxDistance).Aggregate(rover, c.Images...)
	require.Greater(t, cloud.Count(), 100)

	var obstacles, hazards int
	for _, p := range cloud.Terrain() {
		assert.LessOrEqual(t, math.Hypot(p.X, p.Y), float64(cfg.MaxDistance))
		if p.Obstacle {
			obstacles++
			assert.True(t, Disc{Center: cfg.Obstacles[0].Center, Radius: cfg.Obstacles[0].Radius + 1}.Contains(p.X, p.Y))
		}
		if p.Hazard {
			hazards++
			assert.True(t, Disc{Center: cfg.Hazards[0].Center, Radius: cfg.Hazards[0].Radius + 1}.Contains(p.X, p.Y))
		}
		assert.LessOrEqual(t, p.Slope, uint8(slopeMask))
	}
	assert.Positive(t, obstacles)
	assert.Positive(t, hazards)
}

func TestSynthConfig_Terrain(t *testing.T) {
	cfg := DefaultSynthConfig()

	assert.Equal(t, 0.0, cfg.HeightAt(0, 0))
	assert.InDelta(t, cfg.Amplitude, cfg.HeightAt(cfg.Wavelength/4, 0), 1e-9)

	// steepest along x at the origin: atan(A*2pi/L)
	want := math.Atan(cfg.Amplitude*2*math.Pi/cfg.Wavelength) * 180 / math.Pi
	assert.Equal(t, uint8(want), cfg.SlopeAt(0, 0))

	assert.Equal(t, uint8(32), cfg.GroundAt(1, 1))
	assert.Equal(t, uint8(96), cfg.GroundAt(cfg.RingWidth+1, 0))

	m := cfg.MiscAt(10, 0, 10.7)
	assert.Equal(t, uint8(10), m.Distance)
	assert.True(t, m.Obstacle)
	assert.False(t, m.Hazard)

	assert.Equal(t, uint8(255), cfg.MiscAt(0, 0, 400).Distance)
}

func TestSynthConfig_FlatTerrain(t *testing.T) {
	cfg := SynthConfig{}
	assert.Equal(t, 0.0, cfg.HeightAt(3, 4))
	assert.Equal(t, uint8(0), cfg.SlopeAt(3, 4))
	assert.Equal(t, uint8(0), cfg.GroundAt(3, 4))
}
