package terrain

import (
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// Limits above which a cell cannot be crossed
const (
	MaxTraversableGround = 30
	MaxTraversableSlope  = 15
)

const (
	// neighbourWeight is the blur kernel weight of the 8 neighbours
	neighbourWeight = 0.3
	// homeRadius is the half side, in cells, of the square around the rover
	// that is always traversable. The cameras never see the rover's footprint.
	homeRadius = 4
)

// CostCell is one cell of a CostMap
type CostCell struct {
	Known    bool    `json:"known"`    // a terrain point falls into the cell
	Valid    bool    `json:"valid"`    // known and fully surrounded by known cells
	Slope    uint8   `json:"slope"`
	Ground   uint8   `json:"ground"`
	Obstacle uint8   `json:"obstacle"` // dilated over the 8 neighbours
	Hazard   uint8   `json:"hazard"`   // blurred over the 8 neighbours
	Blocked  bool    `json:"blocked"`
	Cost     float64 `json:"cost"`
}

// CostMap is the traversability grid of one cloud, laid out like the
// aggregation grid (flat, xIndex*Width + yIndex).
type CostMap struct {
	Width       int
	MaxDistance int
	Origin      Point
	Cells       []CostCell
}

// TraversabilitySummary counts the cells of a CostMap
type TraversabilitySummary struct {
	Cells       int     `json:"cells"`
	Known       int     `json:"known"`
	Traversable int     `json:"traversable"`
	Blocked     int     `json:"blocked"`
	MeanCost    float64 `json:"meanCost"`
	MaxCost     float64 `json:"maxCost"`
}

// BuildCostMap classifies every grid cell of a cloud as blocked or
// traversable and assigns a movement cost. Obstacles are dilated by one cell,
// hazards are blurred, and a cell is only valid when all its neighbours hold
// terrain points.
func BuildCostMap(cloud *PointCloud) *CostMap {
	maxDistance := DefaultMaxDistance
	if cloud != nil && cloud.MaxDistance > 0 {
		maxDistance = cloud.MaxDistance
	}
	grid := NewGrid(cloud.Origin(), maxDistance)
	w := grid.Width
	m := &CostMap{
		Width:       w,
		MaxDistance: maxDistance,
		Origin:      grid.Origin,
		Cells:       make([]CostCell, w*w),
	}

	obstacle := make([]uint8, w*w)
	hazard := make([]uint8, w*w)
	for _, p := range cloud.Terrain() {
		xi, yi, ok := grid.CellIndex(p.X, p.Y)
		if !ok {
			continue
		}
		i := xi*w + yi
		c := p.Color()
		m.Cells[i].Known = true
		m.Cells[i].Slope = p.Slope
		m.Cells[i].Ground = p.GroundType
		obstacle[i] = c.G
		hazard[i] = c.B
	}

	for xi := 0; xi < w; xi++ {
		for yi := 0; yi < w; yi++ {
			cell := &m.Cells[xi*w+yi]
			if !cell.Known {
				continue
			}
			var maxObstacle uint8
			var missing, blur float64
			for dx := -1; dx <= 1; dx++ {
				for dy := -1; dy <= 1; dy++ {
					nx, ny := xi+dx, yi+dy
					if nx < 0 || ny < 0 || nx >= w || ny >= w {
						continue
					}
					n := nx*w + ny
					weight := neighbourWeight
					if dx == 0 && dy == 0 {
						weight = 1
					}
					maxObstacle = max(maxObstacle, obstacle[n])
					blur += weight * float64(hazard[n])
					if !m.Cells[n].Known {
						missing++
					}
				}
			}
			cell.Obstacle = maxObstacle
			cell.Hazard = uint8(min(blur, 255))
			cell.Valid = missing == 0
		}
	}

	h := w / 2
	for xi := max(h-homeRadius, 0); xi < min(h+homeRadius, w); xi++ {
		for yi := max(h-homeRadius, 0); yi < min(h+homeRadius, w); yi++ {
			m.Cells[xi*w+yi].Valid = true
		}
	}

	for i := range m.Cells {
		cell := &m.Cells[i]
		cell.Blocked = cell.Obstacle > 0 || !cell.Valid ||
			cell.Ground > MaxTraversableGround || cell.Slope > MaxTraversableSlope
		cell.Cost = cellCost(*cell)
	}
	return m
}

// cellCost is the cost of moving onto a cell
func cellCost(c CostCell) float64 {
	var cost float64
	if slope := float64(c.Slope); slope > 5 {
		cost += slope / 5
	}
	if ground := float64(c.Ground); ground > 5 {
		cost += ground / 10
	}
	return cost + float64(c.Hazard)/128
}

// At returns the cell containing a world position
func (m *CostMap) At(worldX, worldZ float64) (CostCell, bool) {
	grid := Grid{Width: m.Width, MaxDistance: m.MaxDistance, Origin: m.Origin}
	xi, yi, ok := grid.CellIndex(worldX, worldZ)
	if !ok {
		return CostCell{}, false
	}
	return m.Cells[xi*m.Width+yi], true
}

// Summary counts known, traversable and blocked cells. Costs are taken over
// the traversable cells only.
func (m *CostMap) Summary() TraversabilitySummary {
	s := TraversabilitySummary{Cells: len(m.Cells)}
	var costs []float64
	for _, c := range m.Cells {
		if c.Known {
			s.Known++
		}
		if c.Blocked {
			if c.Known {
				s.Blocked++
			}
			continue
		}
		s.Traversable++
		costs = append(costs, c.Cost)
	}
	if len(costs) > 0 {
		s.MeanCost = stat.Mean(costs, nil)
		s.MaxCost = floats.Max(costs)
	}
	return s
}
