package terrain

import (
	"math"
)

// Disc is a circular terrain feature on the synthetic heightfield
type Disc struct {
	Center Point   `yaml:"center" json:"center"`
	Radius float64 `yaml:"radius" json:"radius"`
}

// Contains reports whether a planar position lies inside the disc
func (d Disc) Contains(x, z float64) bool {
	return math.Hypot(x-d.Center.X, z-d.Center.Y) <= d.Radius
}

// SynthConfig describes an analytic terrain and the depth cameras that sample it
type SynthConfig struct {
	Width       int     `yaml:"width" json:"width"`
	Height      int     `yaml:"height" json:"height"`
	MaxDistance int     `yaml:"maxDistance" json:"maxDistance"`
	Amplitude   float64 `yaml:"amplitude" json:"amplitude"`
	Wavelength  float64 `yaml:"wavelength" json:"wavelength"`
	RingWidth   float64 `yaml:"ringWidth" json:"ringWidth"`
	Obstacles   []Disc  `yaml:"obstacles" json:"obstacles"`
	Hazards     []Disc  `yaml:"hazards" json:"hazards"`
	// TerrainSize is the side of the square terrain centred on the world origin
	TerrainSize float64 `yaml:"terrainSize,omitempty" json:"terrainSize,omitempty"`
}

// DefaultTerrainSize is the side of the terrain in world units
const DefaultTerrainSize = 1034.8

// Bounds returns the extent of the terrain
func (c SynthConfig) Bounds() MapBounds {
	size := c.TerrainSize
	if size <= 0 {
		size = DefaultTerrainSize
	}
	return MapBounds{XMin: -size / 2, XMax: size / 2, YMin: -size / 2, YMax: size / 2}
}

// DefaultSynthConfig returns a rolling terrain with one obstacle and one hazard
func DefaultSynthConfig() SynthConfig {
	return SynthConfig{
		Width:       64,
		Height:      64,
		MaxDistance: DefaultMaxDistance,
		Amplitude:   1.5,
		Wavelength:  16,
		RingWidth:   8,
		Obstacles:   []Disc{{Center: Point{X: 10, Y: 0}, Radius: 2}},
		Hazards:     []Disc{{Center: Point{X: -6, Y: 18}, Radius: 3}},
	}
}

// rangeOvershoot makes the far rows sample beyond maxDistance, as a real depth
// camera sees terrain past the scan radius.
const rangeOvershoot = 1.2

// HeightAt returns the terrain height at a planar position
func (cfg SynthConfig) HeightAt(x, z float64) float64 {
	if cfg.Wavelength <= 0 {
		return 0
	}
	k := 2 * math.Pi / cfg.Wavelength
	return cfg.Amplitude * math.Sin(k*x) * math.Cos(k*z)
}

// SlopeAt returns the terrain slope in whole degrees, capped to 6 bits
func (cfg SynthConfig) SlopeAt(x, z float64) uint8 {
	if cfg.Wavelength <= 0 {
		return 0
	}
	k := 2 * math.Pi / cfg.Wavelength
	dx := cfg.Amplitude * k * math.Cos(k*x) * math.Cos(k*z)
	dz := -cfg.Amplitude * k * math.Sin(k*x) * math.Sin(k*z)
	deg := math.Atan(math.Hypot(dx, dz)) * 180 / math.Pi
	return uint8(min(deg, slopeMask))
}

// GroundAt returns the ground class: concentric rings around the world origin
func (cfg SynthConfig) GroundAt(x, z float64) uint8 {
	if cfg.RingWidth <= 0 {
		return 0
	}
	ring := int(math.Hypot(x, z) / cfg.RingWidth)
	return uint8(32 + (ring%4)*64)
}

// MiscAt classifies a planar position seen from distance r
func (cfg SynthConfig) MiscAt(x, z, r float64) Misc {
	m := Misc{
		Distance:   uint8(min(math.Floor(r), byteMask)),
		GroundType: cfg.GroundAt(x, z),
		Slope:      cfg.SlopeAt(x, z),
	}
	for _, d := range cfg.Obstacles {
		if d.Contains(x, z) {
			m.Obstacle = true
			break
		}
	}
	for _, d := range cfg.Hazards {
		if d.Contains(x, z) {
			m.Hazard = true
			break
		}
	}
	return m
}

// SynthesizeCapture samples the analytic terrain with four 90 degree depth
// cameras around the pose. Columns sweep the camera's field of view and rows
// step outward in range, so every pixel is a ground hit.
func SynthesizeCapture(pose RoverPose, cfg SynthConfig) *Capture {
	if cfg.MaxDistance <= 0 {
		cfg.MaxDistance = DefaultMaxDistance
	}
	c := &Capture{
		Pose:   pose,
		Full:   true,
		Images: make([]*DepthImage, 0, DirectionCount),
	}
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return c
	}

	far := float64(cfg.MaxDistance) * rangeOvershoot
	for dir := 0; dir < DirectionCount; dir++ {
		img := NewDepthImage(cfg.Width, cfg.Height)
		heading := pose.Angle + float64(dir)*90
		for u := 0; u < cfg.Width; u++ {
			theta := (heading - 45 + 90*(float64(u)+0.5)/float64(cfg.Width)) * math.Pi / 180
			cos, sin := math.Cos(theta), math.Sin(theta)
			for v := 0; v < cfg.Height; v++ {
				r := far * (float64(v) + 0.5) / float64(cfg.Height)
				x := pose.X + r*cos
				z := pose.Y + r*sin
				img.Set(u, v, float32(x), float32(cfg.HeightAt(x, z)), float32(z), cfg.MiscAt(x, z, r))
			}
		}
		c.Images = append(c.Images, img)
	}
	return c
}
