package terrain

import (
	"context"
	"fmt"
	"iter"
	"log"
	"math"

	"golang.org/x/sync/errgroup"
)

// GridCell accumulates every sample that falls into one 0.5 unit square
type GridCell struct {
	Valid       bool
	Count       int
	SumX        float64
	SumY        float64 // planar, from world z
	SumZ        float64 // height
	SumGround   int
	SumObstacle int
	SumHazard   int
	SumSlope    int
}

// AggregatedPoint is one output point: the average of a grid cell, or the
// rover origin marker at index 0 of a PointCloud.
type AggregatedPoint struct {
	X          float64 `json:"x"`
	Y          float64 `json:"y"` // planar, world z
	Z          float64 `json:"z"` // height
	GroundType uint8   `json:"groundType"`
	Obstacle   bool    `json:"obstacle"`
	Hazard     bool    `json:"hazard"`
	Slope      uint8   `json:"slope"`
}

// ScanStats reports what happened to the samples of one aggregation
type ScanStats struct {
	Samples   int `json:"samples"`   // samples accumulated into the grid
	OutOfGrid int `json:"outOfGrid"` // in-range samples whose cell index fell outside the grid
	Cells     int `json:"cells"`     // occupied cells
}

// PointCloud is the ordered output of one aggregation. Points[0] is the rover
// origin marker; the terrain points follow in grid scan order.
type PointCloud struct {
	MaxDistance int               `json:"maxDistance"`
	Points      []AggregatedPoint `json:"points"`
	Stats       ScanStats         `json:"stats"`
}

// Origin returns the rover position carried by the marker point
func (pc *PointCloud) Origin() Point {
	if pc == nil || len(pc.Points) == 0 {
		return Point{}
	}
	return Point{X: pc.Points[0].X, Y: pc.Points[0].Y}
}

// Terrain returns the aggregated terrain points without the origin marker
func (pc *PointCloud) Terrain() []AggregatedPoint {
	if pc == nil || len(pc.Points) <= 1 {
		return nil
	}
	return pc.Points[1:]
}

// Count returns the number of terrain points. The origin marker is not
// counted; every transport message states this count explicitly.
func (pc *PointCloud) Count() int {
	if pc == nil || len(pc.Points) == 0 {
		return 0
	}
	return len(pc.Points) - 1
}

// Grid is the fixed-size accumulator for one aggregation, stored as a flat
// arena indexed xIndex*Width + yIndex.
type Grid struct {
	Width       int
	MaxDistance int
	Origin      Point
	Cells       []GridCell
	Stats       ScanStats
}

// NewGrid allocates a zeroed grid centred on the rover
func NewGrid(rover Point, maxDistance int) *Grid {
	width := 2 * CellsPerUnit * maxDistance
	return &Grid{
		Width:       width,
		MaxDistance: maxDistance,
		Origin:      rover,
		Cells:       make([]GridCell, width*width),
	}
}

// CellIndex maps a world position to grid indices. ok is false when the
// position lies outside the grid.
func (g *Grid) CellIndex(worldX, worldZ float64) (xi, yi int, ok bool) {
	md := float64(g.MaxDistance)
	fx := math.Floor((worldX - g.Origin.X + md) * CellsPerUnit)
	fy := math.Floor((worldZ - g.Origin.Y + md) * CellsPerUnit)
	if !(fx >= 0 && fx < float64(g.Width) && fy >= 0 && fy < float64(g.Width)) {
		return 0, 0, false
	}
	return int(fx), int(fy), true
}

// CellCenter returns the world position at the centre of a cell
func (g *Grid) CellCenter(xi, yi int) Point {
	md := float64(g.MaxDistance)
	return Point{
		X: (float64(xi)+0.5)/CellsPerUnit - md + g.Origin.X,
		Y: (float64(yi)+0.5)/CellsPerUnit - md + g.Origin.Y,
	}
}

// Add accumulates one sample. Samples whose cell lies outside the grid break
// the upstream range filter contract; they are counted and skipped.
func (g *Grid) Add(s DepthSample) bool {
	xi, yi, ok := g.CellIndex(float64(s.WorldX), float64(s.WorldZ))
	if !ok {
		g.Stats.OutOfGrid++
		return false
	}
	c := &g.Cells[xi*g.Width+yi]
	if !c.Valid {
		c.Valid = true
		g.Stats.Cells++
	}
	c.Count++
	c.SumX += float64(s.WorldX)
	c.SumY += float64(s.WorldZ)
	c.SumZ += float64(s.Height)
	c.SumGround += int(s.GroundType)
	c.SumObstacle += boolToInt(s.Obstacle)
	c.SumHazard += boolToInt(s.Hazard)
	c.SumSlope += int(s.Slope)
	g.Stats.Samples++
	return true
}

// Merge adds every cell of other into g. Both grids must share origin and size.
func (g *Grid) Merge(other *Grid) error {
	if other.Width != g.Width || other.Origin != g.Origin {
		return fmt.Errorf("merging grid %d@%v into %d@%v", other.Width, other.Origin, g.Width, g.Origin)
	}
	for i := range other.Cells {
		src := &other.Cells[i]
		if !src.Valid {
			continue
		}
		dst := &g.Cells[i]
		if !dst.Valid {
			dst.Valid = true
			g.Stats.Cells++
		}
		dst.Count += src.Count
		dst.SumX += src.SumX
		dst.SumY += src.SumY
		dst.SumZ += src.SumZ
		dst.SumGround += src.SumGround
		dst.SumObstacle += src.SumObstacle
		dst.SumHazard += src.SumHazard
		dst.SumSlope += src.SumSlope
	}
	g.Stats.Samples += other.Stats.Samples
	g.Stats.OutOfGrid += other.Stats.OutOfGrid
	return nil
}

// Emit builds the point cloud: the origin marker, then one averaged point per
// valid cell in row-major order.
func (g *Grid) Emit() *PointCloud {
	points := make([]AggregatedPoint, 0, g.Stats.Cells+1)
	points = append(points, AggregatedPoint{X: g.Origin.X, Y: g.Origin.Y})
	for i := range g.Cells {
		c := &g.Cells[i]
		if !c.Valid {
			continue
		}
		n := float64(c.Count)
		points = append(points, AggregatedPoint{
			X:          c.SumX / n,
			Y:          c.SumY / n,
			Z:          c.SumZ / n,
			GroundType: uint8(c.SumGround / c.Count),
			Obstacle:   c.SumObstacle > 0,
			Hazard:     c.SumHazard > 0,
			Slope:      uint8(c.SumSlope / c.Count),
		})
	}
	return &PointCloud{
		MaxDistance: g.MaxDistance,
		Points:      points,
		Stats:       g.Stats,
	}
}

// Aggregator turns depth captures into binned point clouds
type Aggregator struct {
	MaxDistance int
}

// NewAggregator creates an aggregator for the given scan radius. A
// non-positive radius selects DefaultMaxDistance.
func NewAggregator(maxDistance int) *Aggregator {
	if maxDistance <= 0 {
		maxDistance = DefaultMaxDistance
	}
	return &Aggregator{MaxDistance: maxDistance}
}

// Aggregate decodes and bins all captures synchronously. Nil images are
// skipped.
func (a *Aggregator) Aggregate(rover Point, images ...*DepthImage) *PointCloud {
	streams := make([]iter.Seq[DepthSample], 0, len(images))
	for _, img := range images {
		if img == nil {
			continue
		}
		streams = append(streams, DecodeDepth(img, rover, a.MaxDistance))
	}
	return a.AggregateSamples(rover, streams...)
}

// AggregateSamples bins already decoded sample streams
func (a *Aggregator) AggregateSamples(rover Point, streams ...iter.Seq[DepthSample]) *PointCloud {
	g := NewGrid(rover, a.MaxDistance)
	for _, stream := range streams {
		for s := range stream {
			g.Add(s)
		}
	}
	logOutOfGrid(g.Stats)
	return g.Emit()
}

// AggregateParallel decodes each capture in its own goroutine into a private
// grid, then merges the partial grids in capture order.
func (a *Aggregator) AggregateParallel(ctx context.Context, rover Point, images ...*DepthImage) (*PointCloud, error) {
	partials := make([]*Grid, len(images))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(DirectionCount)

	for i, img := range images {
		if img == nil {
			continue
		}
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			grid := NewGrid(rover, a.MaxDistance)
			n := 0
			for s := range DecodeDepth(img, rover, a.MaxDistance) {
				grid.Add(s)
				n++
				if n%4096 == 0 {
					if err := ctx.Err(); err != nil {
						return err
					}
				}
			}
			partials[i] = grid
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("decoding captures: %w", err)
	}

	merged := NewGrid(rover, a.MaxDistance)
	for _, p := range partials {
		if p == nil {
			continue
		}
		if err := merged.Merge(p); err != nil {
			return nil, err
		}
	}
	logOutOfGrid(merged.Stats)
	return merged.Emit(), nil
}

func logOutOfGrid(stats ScanStats) {
	if stats.OutOfGrid > 0 {
		log.Printf("[SCAN] skipped %d samples outside the grid (%d accepted)", stats.OutOfGrid, stats.Samples)
	}
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
