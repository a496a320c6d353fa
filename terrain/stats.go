package terrain

import (
	"fmt"
	"io"

	"github.com/paulmach/orb"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
)

// CloudStats summarizes the terrain points of a cloud
type CloudStats struct {
	Points       int           `json:"points"`
	Obstacles    int           `json:"obstacles"`
	Hazards      int           `json:"hazards"`
	MeanHeight   float64       `json:"meanHeight"`
	StdDevHeight float64       `json:"stdDevHeight"`
	MinHeight    float64       `json:"minHeight"`
	MaxHeight    float64       `json:"maxHeight"`
	MeanSlope    float64       `json:"meanSlope"`
	MaxSlope     uint8         `json:"maxSlope"`
	GroundTypes  map[uint8]int `json:"groundTypes"`
	Bound        orb.Bound     `json:"bound"`
}

// ComputeStats summarizes the terrain points of a cloud. The origin marker is
// not included.
func ComputeStats(cloud *PointCloud) CloudStats {
	terrain := cloud.Terrain()
	s := CloudStats{
		Points:      len(terrain),
		GroundTypes: make(map[uint8]int),
	}
	if len(terrain) == 0 {
		origin := cloud.Origin()
		s.Bound = orb.Point{origin.X, origin.Y}.Bound()
		return s
	}

	heights := make([]float64, len(terrain))
	slopes := make([]float64, len(terrain))
	s.Bound = orb.Point{terrain[0].X, terrain[0].Y}.Bound()
	for i, p := range terrain {
		heights[i] = p.Z
		slopes[i] = float64(p.Slope)
		if p.Obstacle {
			s.Obstacles++
		}
		if p.Hazard {
			s.Hazards++
		}
		if p.Slope > s.MaxSlope {
			s.MaxSlope = p.Slope
		}
		s.GroundTypes[p.GroundType]++
		s.Bound = s.Bound.Extend(orb.Point{p.X, p.Y})
	}

	s.MeanHeight, s.StdDevHeight = stat.MeanStdDev(heights, nil)
	if len(heights) < 2 {
		s.StdDevHeight = 0
	}
	s.MinHeight = floats.Min(heights)
	s.MaxHeight = floats.Max(heights)
	s.MeanSlope = stat.Mean(slopes, nil)
	return s
}

// WriteSlopeHistogram plots the slope distribution of the terrain points as a
// PNG image.
func WriteSlopeHistogram(w io.Writer, roverID string, cloud *PointCloud) error {
	terrain := cloud.Terrain()
	values := make(plotter.Values, len(terrain))
	for i, p := range terrain {
		values[i] = float64(p.Slope)
	}

	p := plot.New()
	p.Title.Text = fmt.Sprintf("%s slope distribution (%d points)", roverID, len(terrain))
	p.X.Label.Text = "slope (deg)"
	p.Y.Label.Text = "cells"
	p.X.Min = 0
	p.X.Max = slopeMask

	if len(values) > 0 {
		hist, err := plotter.NewHist(values, 16)
		if err != nil {
			return fmt.Errorf("building histogram: %w", err)
		}
		p.Add(hist)
	}

	wt, err := p.WriterTo(8*vg.Inch, 4*vg.Inch, "png")
	if err != nil {
		return fmt.Errorf("creating plot writer: %w", err)
	}
	if _, err := wt.WriteTo(w); err != nil {
		return fmt.Errorf("writing histogram: %w", err)
	}
	return nil
}
