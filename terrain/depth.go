package terrain

import (
	"fmt"
	"iter"
	"math"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/planar"
)

// Bit layout of the packed classification channel:
//
//	bits  0-7   distance to the rover, whole units
//	bits  8-15  ground type
//	bit   16    obstacle
//	bit   17    hazard
//	bits 18-23  slope in degrees
const (
	groundShift   = 8
	obstacleShift = 16
	hazardShift   = 17
	slopeShift    = 18

	byteMask  = 0xFF
	slopeMask = 0x3F

	// maxPacked bounds the magnitude that still truncates to a 32 bit integer.
	maxPacked = 1 << 31
)

// ChannelsPerPixel is the number of float channels in a depth image pixel:
// world x, height, world z and the packed classification.
const ChannelsPerPixel = 4

// Misc holds the fields unpacked from a pixel's classification channel
type Misc struct {
	Distance   uint8
	GroundType uint8
	Obstacle   bool
	Hazard     bool
	Slope      uint8 // 0-63 degrees
}

// UnpackMisc truncates the packed channel to an integer and extracts the
// classification fields by masking, so negative values keep their two's
// complement low bits. Non-finite values and values beyond 32 bits unpack to
// a zero Misc, which the decoder rejects as "no return".
func UnpackMisc(packed float32) Misc {
	f := float64(packed)
	if math.IsNaN(f) || f >= maxPacked || f <= -maxPacked {
		return Misc{}
	}
	v := uint32(int32(f))
	return Misc{
		Distance:   uint8(v & byteMask),
		GroundType: uint8((v >> groundShift) & byteMask),
		Obstacle:   (v>>obstacleShift)&1 == 1,
		Hazard:     (v>>hazardShift)&1 == 1,
		Slope:      uint8((v >> slopeShift) & slopeMask),
	}
}

// Pack encodes the fields into a single float channel value. Slope is
// truncated to 6 bits.
func (m Misc) Pack() float32 {
	v := uint32(m.Distance) |
		uint32(m.GroundType)<<groundShift |
		uint32(m.Slope&slopeMask)<<slopeShift
	if m.Obstacle {
		v |= 1 << obstacleShift
	}
	if m.Hazard {
		v |= 1 << hazardShift
	}
	return float32(v)
}

// DepthSample is one decoded pixel of a depth image
type DepthSample struct {
	WorldX float32
	Height float32
	WorldZ float32
	Misc
}

// DepthImage is an RGBA float image produced by the depth capture. Each pixel
// stores {x, height, z, packedMisc}.
type DepthImage struct {
	Width  int       `json:"width"`
	Height int       `json:"height"`
	Pix    []float32 `json:"pix"`
}

// NewDepthImage allocates a zeroed depth image
func NewDepthImage(width, height int) *DepthImage {
	return &DepthImage{
		Width:  width,
		Height: height,
		Pix:    make([]float32, width*height*ChannelsPerPixel),
	}
}

// Set writes a pixel
func (img *DepthImage) Set(x, y int, worldX, height, worldZ float32, misc Misc) {
	i := (y*img.Width + x) * ChannelsPerPixel
	img.Pix[i] = worldX
	img.Pix[i+1] = height
	img.Pix[i+2] = worldZ
	img.Pix[i+3] = misc.Pack()
}

// At returns the sample stored at a pixel without any range filtering
func (img *DepthImage) At(x, y int) DepthSample {
	i := (y*img.Width + x) * ChannelsPerPixel
	return DepthSample{
		WorldX: img.Pix[i],
		Height: img.Pix[i+1],
		WorldZ: img.Pix[i+2],
		Misc:   UnpackMisc(img.Pix[i+3]),
	}
}

// Validate checks that the pixel buffer matches the declared dimensions
func (img *DepthImage) Validate() error {
	if img.Width < 0 || img.Height < 0 || img.Width > maxImageSide || img.Height > maxImageSide {
		return fmt.Errorf("invalid depth image size %dx%d", img.Width, img.Height)
	}
	if want := img.Width * img.Height * ChannelsPerPixel; len(img.Pix) != want {
		return fmt.Errorf("depth image %dx%d has %d channels, want %d", img.Width, img.Height, len(img.Pix), want)
	}
	return nil
}

// InRange reports whether a sample passes both range filters: the packed
// 8-bit distance must be in (0, maxDistance) and the planar distance from the
// rover must not exceed maxDistance. The packed value is quantized, so the two
// can disagree near the edge. Samples with a non-finite coordinate are dropped.
func InRange(s DepthSample, rover Point, maxDistance int) bool {
	if s.Distance == 0 || int(s.Distance) >= maxDistance {
		return false
	}
	if !finite(s.WorldX) || !finite(s.Height) || !finite(s.WorldZ) {
		return false
	}
	d := planar.Distance(orb.Point{rover.X, rover.Y}, orb.Point{float64(s.WorldX), float64(s.WorldZ)})
	return d <= float64(maxDistance)
}

// DecodeDepth lazily yields every in-range sample of img. Only complete pixels
// are visited, so a short buffer never panics.
func DecodeDepth(img *DepthImage, rover Point, maxDistance int) iter.Seq[DepthSample] {
	return func(yield func(DepthSample) bool) {
		if img == nil {
			return
		}
		pix := img.Pix
		for i := 0; i+ChannelsPerPixel <= len(pix); i += ChannelsPerPixel {
			s := DepthSample{
				WorldX: pix[i],
				Height: pix[i+1],
				WorldZ: pix[i+2],
				Misc:   UnpackMisc(pix[i+3]),
			}
			if !InRange(s, rover, maxDistance) {
				continue
			}
			if !yield(s) {
				return
			}
		}
	}
}

func finite(v float32) bool {
	f := float64(v)
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}
