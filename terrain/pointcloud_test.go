package terrain

import (
	"bytes"
	"encoding/json"
	"image/color"
	"strings"
	"testing"

	"github.com/paulmach/orb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleCloud() *PointCloud {
	return &PointCloud{
		MaxDistance: 49,
		Points: []AggregatedPoint{
			{X: 10, Y: -4},
			{X: 11, Y: -4, Z: 0.5, GroundType: 128, Obstacle: true, Slope: 15},
			{X: 12.5, Y: -3, Z: 1.25, GroundType: 3, Hazard: true, Slope: 40},
		},
		Stats: ScanStats{Samples: 5, Cells: 2},
	}
}

func TestAggregatedPoint_Color(t *testing.T) {
	tests := []struct {
		name string
		p    AggregatedPoint
		want color.NRGBA
	}{
		{"plain ground", AggregatedPoint{GroundType: 7, Slope: 3}, color.NRGBA{R: 7, A: 3}},
		{"obstacle", AggregatedPoint{GroundType: 128, Obstacle: true, Slope: 15}, color.NRGBA{R: 128, G: 255, A: 15}},
		{"hazard", AggregatedPoint{Hazard: true}, color.NRGBA{B: 255}},
		{"both", AggregatedPoint{GroundType: 255, Obstacle: true, Hazard: true, Slope: 63}, color.NRGBA{R: 255, G: 255, B: 255, A: 63}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.p.Color())
		})
	}
}

func TestPointFromColor(t *testing.T) {
	p := AggregatedPoint{X: 1, Y: 2, Z: 3, GroundType: 9, Obstacle: true, Slope: 21}
	assert.Equal(t, p, PointFromColor(1, 2, 3, p.Color()))
}

func TestPointCloudMessage_CountExcludesMarker(t *testing.T) {
	pose := RoverPose{X: 10, Y: -4, Angle: 90, Timestamp: 1700000000}
	msg := NewPointCloudMessage("rover1", "scan-1", pose, sampleCloud())

	assert.Equal(t, 2, msg.Count)
	assert.Len(t, msg.Points, 3)
	assert.Equal(t, int64(1700000000), msg.Timestamp)

	data, err := json.Marshal(msg)
	require.NoError(t, err)

	var decoded PointCloudMessage
	require.NoError(t, json.Unmarshal(data, &decoded))
	cloud, err := decoded.Cloud()
	require.NoError(t, err)
	assert.Equal(t, sampleCloud(), cloud)
}

func TestPointCloudMessage_NilCloud(t *testing.T) {
	msg := NewPointCloudMessage("rover1", "scan-1", RoverPose{}, nil)
	assert.Equal(t, 0, msg.Count)
	assert.NotNil(t, msg.Points)

	_, err := msg.Cloud()
	assert.Error(t, err)
}

func TestPointCloudMessage_CloudRejectsBadCount(t *testing.T) {
	msg := NewPointCloudMessage("rover1", "scan-1", RoverPose{}, sampleCloud())
	msg.Count = 3
	_, err := msg.Cloud()
	assert.Error(t, err)
}

func TestWritePCD(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WritePCD(&buf, sampleCloud()))

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 11+2)
	assert.Equal(t, "VERSION 0.7", lines[1])
	assert.Equal(t, "WIDTH 2", lines[6])
	assert.Equal(t, "VIEWPOINT 10 -4 0 1 0 0 0", lines[8])
	assert.Equal(t, "POINTS 2", lines[9])
	assert.Equal(t, "DATA ascii", lines[10])

	// rgba = 15<<24 | 128<<16 | 255<<8
	assert.Equal(t, "11.000000 -4.000000 0.500000 260112128", lines[11])
	assert.True(t, strings.HasPrefix(lines[12], "12.500000 -3.000000 1.250000 "))
}

func TestWritePCD_EmptyCloud(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WritePCD(&buf, &PointCloud{Points: []AggregatedPoint{{}}}))
	assert.Contains(t, buf.String(), "POINTS 0\n")
}

func TestToGeoJSON(t *testing.T) {
	fc := ToGeoJSON("rover1", sampleCloud())
	require.Len(t, fc.Features, 3)

	rover := fc.Features[0]
	assert.Equal(t, orb.Point{10, -4}, rover.Geometry)
	assert.Equal(t, "rover", rover.Properties["kind"])
	assert.Equal(t, 2, rover.Properties["count"])

	obstacle := fc.Features[1]
	assert.Equal(t, orb.Point{11, -4}, obstacle.Geometry)
	assert.Equal(t, 128, obstacle.Properties["groundType"])
	assert.Equal(t, true, obstacle.Properties["obstacle"])

	data, err := fc.MarshalJSON()
	require.NoError(t, err)
	assert.Contains(t, string(data), `"FeatureCollection"`)
}

func TestToGeoJSON_NilCloud(t *testing.T) {
	assert.Empty(t, ToGeoJSON("rover1", nil).Features)
}
