package terrain

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func connectedPublisher(t *testing.T) (*Publisher, *MockClient) {
	t.Helper()
	t.Setenv("MQTT_PUBLISH_PREFIX", "")
	mc := NewMockClient()
	mc.SetConnected(true)
	return NewPublisher(mc), mc
}

func TestNewPublisher(t *testing.T) {
	t.Setenv("MQTT_PUBLISH_PREFIX", "")
	publisher := NewPublisher(nil)
	if publisher == nil {
		t.Fatal("NewPublisher() returned nil")
	}
	if publisher.Prefix() != DefaultPublishPrefix {
		t.Errorf("Default prefix = %s, want %s", publisher.Prefix(), DefaultPublishPrefix)
	}
	if publisher.qos != 0 {
		t.Errorf("Default QoS = %d, want 0", publisher.qos)
	}
	if !publisher.retain {
		t.Error("Default retain should be true")
	}
}

func TestNewPublisher_EnvPrefix(t *testing.T) {
	t.Setenv("MQTT_PUBLISH_PREFIX", "sim")
	publisher := NewPublisher(nil)
	assert.Equal(t, "sim", publisher.Prefix())

	publisher.SetPrefix("")
	assert.Equal(t, "sim", publisher.Prefix())
	publisher.SetPrefix("lab")
	assert.Equal(t, "lab", publisher.Prefix())
}

func TestPublisher_NotConnected(t *testing.T) {
	publisher := NewPublisher(nil)
	assert.Error(t, publisher.PublishPose("rover1", RoverPose{}))
	_, err := publisher.PublishPointCloud("rover1", RoverPose{}, sampleCloud())
	assert.Error(t, err)

	mc := NewMockClient()
	publisher = NewPublisher(mc)
	assert.Error(t, publisher.PublishPose("rover1", RoverPose{}))
}

func TestPublisher_PublishPose(t *testing.T) {
	publisher, mc := connectedPublisher(t)

	require.NoError(t, publisher.PublishPose("rover1", RoverPose{X: 1, Y: 2, Angle: 90, Timestamp: 77}))
	require.NoError(t, publisher.PublishPose("rover2", RoverPose{X: -3, Y: 4}))

	individual := mc.PublishedTo("/rover1/pose")
	require.Len(t, individual, 1)
	assert.Equal(t, "exosim/rover1/pose", individual[0].Topic)
	assert.True(t, individual[0].Retain)

	var pos RoverPosition
	require.NoError(t, json.Unmarshal(individual[0].Payload, &pos))
	assert.Equal(t, RoverPosition{RoverID: "rover1", X: 1, Y: 2, Angle: 90, Timestamp: 77}, pos)

	combined := mc.PublishedTo("exosim/poses")
	require.Len(t, combined, 2)
	var message struct {
		Rovers []RoverPosition `json:"rovers"`
	}
	require.NoError(t, json.Unmarshal(combined[1].Payload, &message))
	assert.Len(t, message.Rovers, 2)

	p2, ok := publisher.GetPose("rover2")
	require.True(t, ok)
	assert.NotZero(t, p2.Timestamp, "missing timestamps are filled in")
}

func TestPublisher_PublishPointCloud(t *testing.T) {
	publisher, mc := connectedPublisher(t)

	scanID, err := publisher.PublishPointCloud("rover1", RoverPose{X: 10, Y: -4, Timestamp: 5}, sampleCloud())
	require.NoError(t, err)
	_, err = uuid.Parse(scanID)
	assert.NoError(t, err)

	msgs := mc.PublishedTo("/points")
	require.Len(t, msgs, 1)
	assert.Equal(t, "exosim/rover1/points", msgs[0].Topic)
	assert.False(t, msgs[0].Retain, "point clouds are never retained")

	var decoded PointCloudMessage
	require.NoError(t, json.Unmarshal(msgs[0].Payload, &decoded))
	assert.Equal(t, scanID, decoded.ScanID)
	assert.Equal(t, 2, decoded.Count)
	assert.Len(t, decoded.Points, 3)
	assert.Equal(t, AggregatedPoint{X: 10, Y: -4}, decoded.Points[0])
}

func TestPublisher_PublishMapBounds(t *testing.T) {
	publisher, mc := connectedPublisher(t)
	publisher.SetRetain(false)

	bounds := MapBounds{XMin: -50, XMax: 50, YMin: -25, YMax: 75}
	require.NoError(t, publisher.PublishMapBounds(bounds))

	msgs := mc.PublishedTo("/map")
	require.Len(t, msgs, 1)
	assert.Equal(t, "exosim/map", msgs[0].Topic)
	assert.True(t, msgs[0].Retain, "bounds are always retained")

	var decoded MapBounds
	require.NoError(t, json.Unmarshal(msgs[0].Payload, &decoded))
	assert.Equal(t, bounds, decoded)

	mc.SetConnected(false)
	assert.Error(t, publisher.PublishMapBounds(bounds))
}

func TestPublisher_PublishError(t *testing.T) {
	publisher, mc := connectedPublisher(t)
	mc.SetPublishError(errors.New("broker full"))

	assert.Error(t, publisher.PublishPose("rover1", RoverPose{}))
	_, err := publisher.PublishPointCloud("rover1", RoverPose{}, sampleCloud())
	assert.Error(t, err)
}

func TestPublisher_GetAllPosesReturnsCopies(t *testing.T) {
	publisher, _ := connectedPublisher(t)
	require.NoError(t, publisher.PublishPose("rover1", RoverPose{X: 1, Timestamp: 1}))

	all := publisher.GetAllPoses()
	all["rover1"].X = 99

	pos, ok := publisher.GetPose("rover1")
	require.True(t, ok)
	assert.Equal(t, 1.0, pos.X)

	publisher.ClearPose("rover1")
	_, ok = publisher.GetPose("rover1")
	assert.False(t, ok)
	assert.Empty(t, publisher.GetAllPoses())
}

func TestPublisher_SetQoSAndRetain(t *testing.T) {
	publisher, mc := connectedPublisher(t)

	publisher.SetQoS(1)
	publisher.SetQoS(3)
	publisher.SetRetain(false)
	require.NoError(t, publisher.PublishPose("rover1", RoverPose{Timestamp: 1}))

	msgs := mc.PublishedTo("/rover1/pose")
	require.Len(t, msgs, 1)
	assert.Equal(t, byte(1), msgs[0].QoS)
	assert.False(t, msgs[0].Retain)
}
