package terrain

import (
	"bufio"
	"fmt"
	"image/color"
	"io"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
)

// Color returns the transport colour payload of a terrain point: ground type
// in red, obstacle in green, hazard in blue and slope degrees in alpha.
func (p AggregatedPoint) Color() color.NRGBA {
	c := color.NRGBA{R: p.GroundType, A: p.Slope}
	if p.Obstacle {
		c.G = 255
	}
	if p.Hazard {
		c.B = 255
	}
	return c
}

// PointFromColor rebuilds the classification fields of a point from its
// transport colour payload.
func PointFromColor(x, y, z float64, c color.NRGBA) AggregatedPoint {
	return AggregatedPoint{
		X:          x,
		Y:          y,
		Z:          z,
		GroundType: c.R,
		Obstacle:   c.G > 0,
		Hazard:     c.B > 0,
		Slope:      c.A,
	}
}

// PointCloudMessage is the JSON payload published for a full scan. Points
// includes the origin marker at index 0; Count does not.
type PointCloudMessage struct {
	RoverID     string            `json:"roverId"`
	ScanID      string            `json:"scanId"`
	Timestamp   int64             `json:"timestamp"`
	Pose        RoverPose         `json:"pose"`
	MaxDistance int               `json:"maxDistance"`
	Count       int               `json:"count"`
	Points      []AggregatedPoint `json:"points"`
	Stats       ScanStats         `json:"stats"`
}

// NewPointCloudMessage wraps a cloud for publishing
func NewPointCloudMessage(roverID, scanID string, pose RoverPose, cloud *PointCloud) *PointCloudMessage {
	msg := &PointCloudMessage{
		RoverID:   roverID,
		ScanID:    scanID,
		Timestamp: pose.Timestamp,
		Pose:      pose,
		Points:    []AggregatedPoint{},
	}
	if cloud != nil {
		msg.MaxDistance = cloud.MaxDistance
		msg.Count = cloud.Count()
		msg.Points = cloud.Points
		msg.Stats = cloud.Stats
	}
	return msg
}

// Cloud converts the message back into a PointCloud
func (m *PointCloudMessage) Cloud() (*PointCloud, error) {
	if len(m.Points) == 0 {
		return nil, fmt.Errorf("point cloud message has no origin marker")
	}
	if m.Count != len(m.Points)-1 {
		return nil, fmt.Errorf("point cloud message count %d does not match %d terrain points", m.Count, len(m.Points)-1)
	}
	return &PointCloud{
		MaxDistance: m.MaxDistance,
		Points:      m.Points,
		Stats:       m.Stats,
	}, nil
}

// packRGB packs the colour payload into the PCD integer rgb field
func packRGB(c color.NRGBA) uint32 {
	return uint32(c.A)<<24 | uint32(c.R)<<16 | uint32(c.G)<<8 | uint32(c.B)
}

// WritePCD writes the terrain points as an ASCII PCD v0.7 file. PCD uses
// z up, so height is written as z. The origin marker is carried in the
// VIEWPOINT line instead of as a point.
func WritePCD(w io.Writer, cloud *PointCloud) error {
	terrain := cloud.Terrain()
	origin := cloud.Origin()

	bw := bufio.NewWriter(w)
	_, err := fmt.Fprintf(bw, "# .PCD v0.7 - Point Cloud Data file format\n"+
		"VERSION 0.7\n"+
		"FIELDS x y z rgba\n"+
		"SIZE 4 4 4 4\n"+
		"TYPE F F F U\n"+
		"COUNT 1 1 1 1\n"+
		"WIDTH %d\n"+
		"HEIGHT 1\n"+
		"VIEWPOINT %g %g 0 1 0 0 0\n"+
		"POINTS %d\n"+
		"DATA ascii\n",
		len(terrain), origin.X, origin.Y, len(terrain))
	if err != nil {
		return err
	}

	for _, p := range terrain {
		if _, err := fmt.Fprintf(bw, "%f %f %f %d\n", p.X, p.Y, p.Z, packRGB(p.Color())); err != nil {
			return err
		}
	}
	return bw.Flush()
}

// ToGeoJSON converts a cloud to a feature collection. The rover origin is the
// first feature with kind "rover"; each terrain point follows with its
// classification as properties.
func ToGeoJSON(roverID string, cloud *PointCloud) *geojson.FeatureCollection {
	fc := geojson.NewFeatureCollection()
	if cloud == nil || len(cloud.Points) == 0 {
		return fc
	}

	origin := cloud.Origin()
	rover := geojson.NewFeature(orb.Point{origin.X, origin.Y})
	rover.Properties["kind"] = "rover"
	rover.Properties["roverId"] = roverID
	rover.Properties["count"] = cloud.Count()
	fc.Append(rover)

	for _, p := range cloud.Terrain() {
		f := geojson.NewFeature(orb.Point{p.X, p.Y})
		f.Properties["kind"] = "terrain"
		f.Properties["height"] = p.Z
		f.Properties["groundType"] = int(p.GroundType)
		f.Properties["obstacle"] = p.Obstacle
		f.Properties["hazard"] = p.Hazard
		f.Properties["slope"] = int(p.Slope)
		fc.Append(f)
	}
	return fc
}
