package terrain

import (
	"fmt"
	"image/color"
	"image/png"
	"io"

	"github.com/tdewolff/canvas"
	"github.com/tdewolff/canvas/renderers/rasterizer"
	"github.com/tdewolff/canvas/renderers/svg"
)

// nrgbaToRGBA converts a non-premultiplied color to the premultiplied form
// canvas expects
func nrgbaToRGBA(c color.NRGBA) color.RGBA {
	a := uint32(c.A)
	return color.RGBA{
		R: uint8(uint32(c.R) * a / 255),
		G: uint8(uint32(c.G) * a / 255),
		B: uint8(uint32(c.B) * a / 255),
		A: c.A,
	}
}

// CloudVectorRenderer renders a point cloud as vector cells, one square per
// occupied grid cell
type CloudVectorRenderer struct {
	Cloud      *PointCloud
	Color      color.NRGBA       // rover marker fill
	Scale      float64           // millimetres per world unit
	Padding    float64           // border in millimetres
	ShowRange  bool              // draw the scan radius
	Resolution canvas.Resolution // resolution for PNG output
}

// NewCloudVectorRenderer creates a renderer with default settings
func NewCloudVectorRenderer(cloud *PointCloud, hexColor string) *CloudVectorRenderer {
	c := parseHexColor(hexColor)
	return &CloudVectorRenderer{
		Cloud:      cloud,
		Color:      color.NRGBA{c.R, c.G, c.B, 255},
		Scale:      2,
		Padding:    5,
		ShowRange:  true,
		Resolution: canvas.DPI(72),
	}
}

// canvasRenderer is implemented by both the svg and rasterizer renderers
type canvasRenderer interface {
	RenderPath(path *canvas.Path, style canvas.Style, m canvas.Matrix)
}

func (r *CloudVectorRenderer) maxDistance() int {
	if r.Cloud != nil && r.Cloud.MaxDistance > 0 {
		return r.Cloud.MaxDistance
	}
	return DefaultMaxDistance
}

// size returns the canvas side in millimetres
func (r *CloudVectorRenderer) size() float64 {
	return float64(2*r.maxDistance())*r.Scale + 2*r.Padding
}

// RenderToSVG writes the cloud as an SVG to the provided writer
func (r *CloudVectorRenderer) RenderToSVG(w io.Writer) error {
	side := r.size()
	svgRenderer := svg.New(w, side, side, nil)
	r.renderToCanvas(svgRenderer, side)
	if err := svgRenderer.Close(); err != nil {
		return fmt.Errorf("closing svg: %w", err)
	}
	return nil
}

// RenderToPNG rasterizes the cloud and writes it as a PNG
func (r *CloudVectorRenderer) RenderToPNG(w io.Writer) error {
	side := r.size()
	rast := rasterizer.New(side, side, r.Resolution, canvas.DefaultColorSpace)
	r.renderToCanvas(rast, side)
	if err := png.Encode(w, rast); err != nil {
		return fmt.Errorf("encoding png: %w", err)
	}
	return nil
}

// renderToCanvas draws the shared scene. Canvas y grows upwards, so world y
// maps directly onto it.
func (r *CloudVectorRenderer) renderToCanvas(renderer canvasRenderer, side float64) {
	bgStyle := canvas.DefaultStyle
	bgStyle.Fill = canvas.Paint{Color: backgroundColor}
	bgStyle.Stroke = canvas.Paint{Color: canvas.Transparent}
	renderer.RenderPath(canvas.Rectangle(side, side), bgStyle, canvas.Identity)

	origin := r.Cloud.Origin()
	half := float64(r.maxDistance())
	toCanvas := func(x, y float64) (float64, float64) {
		return (x-origin.X+half)*r.Scale + r.Padding, (y-origin.Y+half)*r.Scale + r.Padding
	}

	if r.ShowRange {
		ringStyle := canvas.DefaultStyle
		ringStyle.Fill = canvas.Paint{Color: canvas.Transparent}
		ringStyle.Stroke = canvas.Paint{Color: rangeRingColor}
		ringStyle.StrokeWidth = 0.5
		ringStyle.Dashes = []float64{2, 2}
		cx, cy := toCanvas(origin.X, origin.Y)
		renderer.RenderPath(canvas.Circle(half*r.Scale).Translate(cx, cy), ringStyle, canvas.Identity)
	}

	cellSide := r.Scale / CellsPerUnit
	cellStyle := canvas.DefaultStyle
	cellStyle.Stroke = canvas.Paint{Color: canvas.Transparent}
	for _, p := range r.Cloud.Terrain() {
		c := groundColor(p)
		switch {
		case p.Obstacle:
			c = obstacleColor
		case p.Hazard:
			c = hazardColor
		}
		cellStyle.Fill = canvas.Paint{Color: c}
		x, y := toCanvas(p.X, p.Y)
		cell := canvas.Rectangle(cellSide, cellSide).Translate(x-cellSide/2, y-cellSide/2)
		renderer.RenderPath(cell, cellStyle, canvas.Identity)
	}

	markerStyle := canvas.DefaultStyle
	markerStyle.Fill = canvas.Paint{Color: nrgbaToRGBA(r.Color)}
	markerStyle.Stroke = canvas.Paint{Color: canvas.Black}
	markerStyle.StrokeWidth = 0.3
	cx, cy := toCanvas(origin.X, origin.Y)
	renderer.RenderPath(canvas.Circle(1.5*r.Scale).Translate(cx, cy), markerStyle, canvas.Identity)
}
