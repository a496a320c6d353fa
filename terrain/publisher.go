package terrain

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
)

// DefaultPublishPrefix is the topic prefix used when neither the config nor
// MQTT_PUBLISH_PREFIX sets one.
const DefaultPublishPrefix = "exosim"

const publishTimeout = 2 * time.Second

// RoverPosition is the pose message published for a rover
type RoverPosition struct {
	RoverID   string  `json:"roverId"`
	X         float64 `json:"x"`
	Y         float64 `json:"y"`
	Angle     float64 `json:"angle"`
	Timestamp int64   `json:"timestamp"`
}

// Publisher manages publishing rover poses and point clouds to MQTT
type Publisher struct {
	client        mqtt.Client
	publishPrefix string
	qos           byte
	retain        bool
	positions     map[string]*RoverPosition
	mu            sync.RWMutex
}

// NewPublisher creates a new publisher
// If client is nil, publishing is disabled (for testing)
func NewPublisher(client mqtt.Client) *Publisher {
	prefix := os.Getenv("MQTT_PUBLISH_PREFIX")
	if prefix == "" {
		prefix = DefaultPublishPrefix
	}

	return &Publisher{
		client:        client,
		publishPrefix: prefix,
		qos:           0,    // fire and forget
		retain:        true, // latest pose survives reconnects
		positions:     make(map[string]*RoverPosition),
	}
}

// SetPrefix overrides the topic prefix. An empty prefix is ignored.
func (p *Publisher) SetPrefix(prefix string) {
	if prefix != "" {
		p.publishPrefix = prefix
	}
}

// Prefix returns the topic prefix
func (p *Publisher) Prefix() string {
	return p.publishPrefix
}

func (p *Publisher) connected() bool {
	return p.client != nil && p.client.IsConnected()
}

// PublishPose publishes a rover's pose to its individual topic and to the
// combined poses topic
func (p *Publisher) PublishPose(roverID string, pose RoverPose) error {
	if !p.connected() {
		return fmt.Errorf("MQTT client not connected")
	}

	ts := pose.Timestamp
	if ts == 0 {
		ts = time.Now().Unix()
	}
	position := &RoverPosition{
		RoverID:   roverID,
		X:         pose.X,
		Y:         pose.Y,
		Angle:     pose.Angle,
		Timestamp: ts,
	}

	p.mu.Lock()
	p.positions[roverID] = position
	p.mu.Unlock()

	if err := p.publishIndividual(position); err != nil {
		log.Printf("[MQTT] Error publishing pose for %s: %v", roverID, err)
		return err
	}
	if err := p.publishCombined(); err != nil {
		log.Printf("[MQTT] Error publishing combined poses: %v", err)
		return err
	}
	return nil
}

// publishIndividual publishes a single rover pose to {prefix}/{rover}/pose
func (p *Publisher) publishIndividual(pos *RoverPosition) error {
	topic := fmt.Sprintf("%s/%s/pose", p.publishPrefix, pos.RoverID)

	payload, err := json.Marshal(pos)
	if err != nil {
		return fmt.Errorf("marshaling pose: %w", err)
	}
	if err := p.publish(topic, p.retain, payload); err != nil {
		return err
	}

	log.Printf("Published pose for %s: (%.2f, %.2f) angle=%.0f°", pos.RoverID, pos.X, pos.Y, pos.Angle)
	return nil
}

// publishCombined publishes all rover poses to {prefix}/poses
func (p *Publisher) publishCombined() error {
	p.mu.RLock()
	positions := make([]*RoverPosition, 0, len(p.positions))
	for _, pos := range p.positions {
		positions = append(positions, pos)
	}
	p.mu.RUnlock()

	if len(positions) == 0 {
		return nil
	}

	message := map[string]interface{}{
		"rovers":    positions,
		"timestamp": time.Now().Unix(),
	}
	payload, err := json.Marshal(message)
	if err != nil {
		return fmt.Errorf("marshaling combined poses: %w", err)
	}
	return p.publish(fmt.Sprintf("%s/poses", p.publishPrefix), p.retain, payload)
}

// PublishPointCloud publishes a full scan to {prefix}/{rover}/points and
// returns the scan ID. Clouds are never retained.
func (p *Publisher) PublishPointCloud(roverID string, pose RoverPose, cloud *PointCloud) (string, error) {
	if !p.connected() {
		return "", fmt.Errorf("MQTT client not connected")
	}

	scanID := uuid.NewString()
	msg := NewPointCloudMessage(roverID, scanID, pose, cloud)
	if msg.Timestamp == 0 {
		msg.Timestamp = time.Now().Unix()
	}

	payload, err := json.Marshal(msg)
	if err != nil {
		return "", fmt.Errorf("marshaling point cloud: %w", err)
	}

	topic := fmt.Sprintf("%s/%s/points", p.publishPrefix, roverID)
	if err := p.publish(topic, false, payload); err != nil {
		return "", err
	}

	log.Printf("Published %d terrain points for %s (scan %s)", msg.Count, roverID, scanID)
	return scanID, nil
}

// PublishMapBounds publishes the terrain extent to {prefix}/map. The message
// is retained so clients can read it whenever they connect.
func (p *Publisher) PublishMapBounds(bounds MapBounds) error {
	if !p.connected() {
		return fmt.Errorf("MQTT client not connected")
	}
	payload, err := json.Marshal(bounds)
	if err != nil {
		return fmt.Errorf("marshaling map bounds: %w", err)
	}
	return p.publish(fmt.Sprintf("%s/map", p.publishPrefix), true, payload)
}

func (p *Publisher) publish(topic string, retain bool, payload []byte) error {
	token := p.client.Publish(topic, p.qos, retain, payload)
	if token.WaitTimeout(publishTimeout) && token.Error() != nil {
		return fmt.Errorf("publishing to %s: %w", topic, token.Error())
	}
	return nil
}

// GetPose returns the last published pose for a rover
func (p *Publisher) GetPose(roverID string) (*RoverPosition, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	pos, ok := p.positions[roverID]
	return pos, ok
}

// GetAllPoses returns all known rover poses
func (p *Publisher) GetAllPoses() map[string]*RoverPosition {
	p.mu.RLock()
	defer p.mu.RUnlock()

	positions := make(map[string]*RoverPosition, len(p.positions))
	for id, pos := range p.positions {
		posCopy := *pos
		positions[id] = &posCopy
	}
	return positions
}

// ClearPose removes a rover's pose (e.g., when offline)
func (p *Publisher) ClearPose(roverID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.positions, roverID)
}

// SetQoS sets the Quality of Service level for publishing (0, 1, or 2)
func (p *Publisher) SetQoS(qos byte) {
	if qos <= 2 {
		p.qos = qos
	}
}

// SetRetain sets whether pose messages should be retained by the broker
func (p *Publisher) SetRetain(retain bool) {
	p.retain = retain
}
