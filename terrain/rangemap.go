package terrain

import (
	"fmt"
	"image"
	"image/color"
	"image/png"
	"io"
	"math"

	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

// EncodeRangeData writes a cloud into a raw data image with one pixel per
// grid cell: column is the x index, row the y index. Each occupied pixel holds
// the point's colour payload; a ground type of 0 is stored as 1 so occupied
// cells are always distinguishable from empty ones.
func EncodeRangeData(cloud *PointCloud) *image.NRGBA {
	maxDistance := DefaultMaxDistance
	if cloud != nil && cloud.MaxDistance > 0 {
		maxDistance = cloud.MaxDistance
	}
	grid := NewGrid(cloud.Origin(), maxDistance)
	img := image.NewNRGBA(image.Rect(0, 0, grid.Width, grid.Width))

	for _, p := range cloud.Terrain() {
		xi, yi, ok := grid.CellIndex(p.X, p.Y)
		if !ok {
			continue
		}
		c := p.Color()
		if c.R == 0 {
			c.R = 1
		}
		img.SetNRGBA(xi, yi, c)
	}
	return img
}

// DecodeRangeData reads the points of a range data image back. Positions are
// cell centres, heights are lost and ground type 0 reads back as 1.
func DecodeRangeData(img *image.NRGBA, origin Point) (*PointCloud, error) {
	b := img.Bounds()
	if b.Dx() != b.Dy() || b.Dx()%(2*CellsPerUnit) != 0 {
		return nil, fmt.Errorf("range data image %dx%d is not a square grid", b.Dx(), b.Dy())
	}
	grid := NewGrid(origin, b.Dx()/(2*CellsPerUnit))

	points := []AggregatedPoint{{X: origin.X, Y: origin.Y}}
	for xi := 0; xi < grid.Width; xi++ {
		for yi := 0; yi < grid.Width; yi++ {
			c := img.NRGBAAt(b.Min.X+xi, b.Min.Y+yi)
			if c.R == 0 {
				continue
			}
			center := grid.CellCenter(xi, yi)
			points = append(points, PointFromColor(center.X, center.Y, 0, c))
		}
	}
	return &PointCloud{
		MaxDistance: grid.MaxDistance,
		Points:      points,
		Stats:       ScanStats{Cells: len(points) - 1},
	}, nil
}

// RangeMapRenderer draws a cloud as a top-down terrain map
type RangeMapRenderer struct {
	Scale   int    // pixels per grid cell
	Padding int    // border around the grid
	RoverID string // legend title
	Color   color.RGBA
}

// NewRangeMapRenderer creates a renderer with the default scale
func NewRangeMapRenderer(roverID, hexColor string) *RangeMapRenderer {
	return &RangeMapRenderer{
		Scale:   4,
		Padding: 10,
		RoverID: roverID,
		Color:   parseHexColor(hexColor),
	}
}

var (
	backgroundColor = color.RGBA{30, 30, 30, 255}
	rangeRingColor  = color.RGBA{90, 90, 90, 255}
	obstacleColor   = color.RGBA{220, 40, 40, 255}
	hazardColor     = color.RGBA{255, 170, 0, 255}
	legendTextColor = color.RGBA{230, 230, 230, 255}
)

// groundColor shades a ground class by slope: steeper cells are darker
func groundColor(p AggregatedPoint) color.RGBA {
	base := 80 + float64(p.GroundType)*150/255
	shade := 1 - 0.6*float64(p.Slope)/slopeMask
	v := uint8(base * shade)
	return color.RGBA{v, uint8(float64(v) * 0.9), uint8(float64(v) * 0.75), 255}
}

// Render draws the cloud. North (increasing y) is up.
func (r *RangeMapRenderer) Render(cloud *PointCloud) *image.RGBA {
	maxDistance := DefaultMaxDistance
	if cloud != nil && cloud.MaxDistance > 0 {
		maxDistance = cloud.MaxDistance
	}
	grid := NewGrid(cloud.Origin(), maxDistance)
	size := grid.Width*r.Scale + 2*r.Padding
	img := image.NewRGBA(image.Rect(0, 0, size, size))
	fillRect(img, img.Bounds(), backgroundColor)

	toImage := func(xi, yi int) (int, int) {
		return r.Padding + xi*r.Scale, r.Padding + (grid.Width-1-yi)*r.Scale
	}

	// scan radius
	center := float64(size) / 2
	radius := float64(maxDistance * CellsPerUnit * r.Scale)
	for a := 0.0; a < 2*math.Pi; a += 1 / radius {
		img.Set(int(center+radius*math.Cos(a)), int(center+radius*math.Sin(a)), rangeRingColor)
	}

	for _, p := range cloud.Terrain() {
		xi, yi, ok := grid.CellIndex(p.X, p.Y)
		if !ok {
			continue
		}
		c := groundColor(p)
		switch {
		case p.Obstacle:
			c = obstacleColor
		case p.Hazard:
			c = hazardColor
		}
		x, y := toImage(xi, yi)
		fillRect(img, image.Rect(x, y, x+r.Scale, y+r.Scale), c)
	}

	drawCircle(img, int(center), int(center), max(3, r.Scale), r.Color)
	r.drawLegend(img, cloud)
	return img
}

// WritePNG renders the cloud and encodes it as PNG
func (r *RangeMapRenderer) WritePNG(w io.Writer, cloud *PointCloud) error {
	if err := png.Encode(w, r.Render(cloud)); err != nil {
		return fmt.Errorf("encoding range map: %w", err)
	}
	return nil
}

func (r *RangeMapRenderer) drawLegend(img *image.RGBA, cloud *PointCloud) {
	y := 15
	title := fmt.Sprintf("%s  %d points", r.RoverID, cloud.Count())
	drawText(img, 10, y, title, legendTextColor)

	for _, item := range []struct {
		label string
		c     color.RGBA
	}{
		{"obstacle", obstacleColor},
		{"hazard", hazardColor},
	} {
		y += 16
		fillRect(img, image.Rect(10, y-9, 20, y+1), item.c)
		drawText(img, 26, y, item.label, legendTextColor)
	}
}

func fillRect(img *image.RGBA, rect image.Rectangle, c color.RGBA) {
	rect = rect.Intersect(img.Bounds())
	for y := rect.Min.Y; y < rect.Max.Y; y++ {
		for x := rect.Min.X; x < rect.Max.X; x++ {
			img.SetRGBA(x, y, c)
		}
	}
}

// drawCircle draws a filled circle
func drawCircle(img *image.RGBA, cx, cy, radius int, c color.RGBA) {
	for dy := -radius; dy <= radius; dy++ {
		for dx := -radius; dx <= radius; dx++ {
			if dx*dx+dy*dy <= radius*radius {
				img.Set(cx+dx, cy+dy, c)
			}
		}
	}
}

// drawText renders text onto an image at the specified baseline position
func drawText(img *image.RGBA, x, y int, text string, c color.RGBA) {
	d := &font.Drawer{
		Dst:  img,
		Src:  image.NewUniform(c),
		Face: basicfont.Face7x13,
		Dot:  fixed.Point26_6{X: fixed.I(x), Y: fixed.I(y)},
	}
	d.DrawString(text)
}

// parseHexColor parses a hex color string like "#FF6B6B" to color.RGBA,
// falling back to red
func parseHexColor(hex string) color.RGBA {
	defaultColor := color.RGBA{255, 0, 0, 255}

	if len(hex) > 0 && hex[0] == '#' {
		hex = hex[1:]
	}
	if len(hex) != 6 {
		return defaultColor
	}

	var r, g, b uint8
	if _, err := fmt.Sscanf(hex, "%02x%02x%02x", &r, &g, &b); err != nil {
		return defaultColor
	}
	return color.RGBA{r, g, b, 255}
}
