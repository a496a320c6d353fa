package terrain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// blockCloud builds a cloud with one point per cell in the square
// [0, side) x [0, side) of the grid, far from the rover's footprint. modify
// may change individual cells.
func blockCloud(maxDistance, side int, modify func(xi, yi int, p *AggregatedPoint)) *PointCloud {
	grid := NewGrid(Point{}, maxDistance)
	points := []AggregatedPoint{{}}
	for xi := 0; xi < side; xi++ {
		for yi := 0; yi < side; yi++ {
			c := grid.CellCenter(xi, yi)
			p := AggregatedPoint{X: c.X, Y: c.Y, GroundType: 2, Slope: 3}
			if modify != nil {
				modify(xi, yi, &p)
			}
			points = append(points, p)
		}
	}
	return &PointCloud{MaxDistance: maxDistance, Points: points}
}

func costCell(m *CostMap, xi, yi int) CostCell {
	return m.Cells[xi*m.Width+yi]
}

func TestBuildCostMap_ValidNeedsKnownNeighbours(t *testing.T) {
	m := BuildCostMap(blockCloud(8, 5, nil))
	require.Equal(t, 32, m.Width)

	tests := []struct {
		name    string
		xi, yi  int
		known   bool
		valid   bool
		blocked bool
	}{
		{"inner cell", 2, 2, true, true, false},
		{"grid corner", 0, 0, true, true, false},
		{"block edge", 4, 2, true, false, true},
		{"outside block", 6, 6, false, false, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := costCell(m, tt.xi, tt.yi)
			assert.Equal(t, tt.known, c.Known)
			assert.Equal(t, tt.valid, c.Valid)
			assert.Equal(t, tt.blocked, c.Blocked)
		})
	}
}

func TestBuildCostMap_ObstacleIsDilated(t *testing.T) {
	m := BuildCostMap(blockCloud(8, 5, func(xi, yi int, p *AggregatedPoint) {
		p.Obstacle = xi == 0 && yi == 0
	}))

	assert.Equal(t, uint8(255), costCell(m, 1, 1).Obstacle)
	assert.True(t, costCell(m, 1, 1).Blocked)
	assert.Zero(t, costCell(m, 3, 3).Obstacle)
	assert.False(t, costCell(m, 3, 3).Blocked)
}

func TestBuildCostMap_HazardIsBlurred(t *testing.T) {
	m := BuildCostMap(blockCloud(8, 5, func(xi, yi int, p *AggregatedPoint) {
		p.Hazard = xi == 2 && yi == 2
	}))

	assert.Equal(t, uint8(255), costCell(m, 2, 2).Hazard)
	neighbour := costCell(m, 3, 3)
	assert.Equal(t, uint8(76), neighbour.Hazard)
	assert.False(t, neighbour.Blocked, "hazards raise the cost without blocking")
	assert.InDelta(t, 76.0/128, neighbour.Cost, 1e-9)
	assert.Zero(t, costCell(m, 0, 0).Hazard)
}

func TestBuildCostMap_Thresholds(t *testing.T) {
	m := BuildCostMap(blockCloud(8, 5, func(xi, yi int, p *AggregatedPoint) {
		switch {
		case xi == 1 && yi == 1:
			p.Slope = MaxTraversableSlope
		case xi == 1 && yi == 2:
			p.Slope = MaxTraversableSlope + 1
		case xi == 2 && yi == 1:
			p.GroundType = MaxTraversableGround
		case xi == 2 && yi == 2:
			p.GroundType = MaxTraversableGround + 1
		}
	}))

	assert.False(t, costCell(m, 1, 1).Blocked)
	assert.True(t, costCell(m, 1, 2).Blocked)
	assert.False(t, costCell(m, 2, 1).Blocked)
	assert.True(t, costCell(m, 2, 2).Blocked)
}

func TestCellCost(t *testing.T) {
	tests := []struct {
		name string
		cell CostCell
		want float64
	}{
		{"flat", CostCell{Slope: 5, Ground: 5}, 0},
		{"slope", CostCell{Slope: 10}, 2},
		{"ground", CostCell{Ground: 20}, 2},
		{"hazard", CostCell{Hazard: 128}, 1},
		{"combined", CostCell{Slope: 15, Ground: 30, Hazard: 64}, 3 + 3 + 0.5},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, cellCost(tt.cell), 1e-9)
		})
	}
}

func TestBuildCostMap_RoverFootprintIsTraversable(t *testing.T) {
	m := BuildCostMap(&PointCloud{MaxDistance: 8, Points: []AggregatedPoint{{X: 3, Y: 4}}})

	c, ok := m.At(3, 4)
	require.True(t, ok)
	assert.False(t, c.Known)
	assert.True(t, c.Valid)
	assert.False(t, c.Blocked)

	_, ok = m.At(3+8, 4)
	assert.False(t, ok, "outside the grid")

	s := m.Summary()
	assert.Equal(t, TraversabilitySummary{Cells: 32 * 32, Traversable: 2 * homeRadius * 2 * homeRadius}, s)
}

func TestCostMap_Summary(t *testing.T) {
	m := BuildCostMap(blockCloud(8, 5, func(xi, yi int, p *AggregatedPoint) {
		if xi == 0 && yi == 0 {
			p.Slope = 10
		}
	}))

	s := m.Summary()
	assert.Equal(t, 32*32, s.Cells)
	assert.Equal(t, 25, s.Known)
	assert.Equal(t, 9, s.Blocked)
	assert.Equal(t, 16+2*homeRadius*2*homeRadius, s.Traversable)
	assert.InDelta(t, 2.0, s.MaxCost, 1e-9)
	assert.InDelta(t, 2.0/float64(s.Traversable), s.MeanCost, 1e-9)
}

func TestBuildCostMap_NilCloud(t *testing.T) {
	m := BuildCostMap(nil)
	assert.Equal(t, 2*CellsPerUnit*DefaultMaxDistance, m.Width)
	assert.Zero(t, m.Summary().Known)
}
