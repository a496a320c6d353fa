package terrain

import "github.com/paulmach/orb"

// DefaultMaxDistance is the scan radius in world units used when the config
// does not set one.
const DefaultMaxDistance = 49

// CellsPerUnit is the grid resolution: 2 cells per unit gives 0.5 unit cells.
const CellsPerUnit = 2

// DirectionCount is the number of 90 degree captures taken around the rover.
const DirectionCount = 4

// Point represents a planar coordinate. Y is the world Z axis of the capture.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// RoverPose is the rover's planar position and heading at capture time
type RoverPose struct {
	X         float64 `json:"x"`
	Y         float64 `json:"y"`
	Angle     float64 `json:"angle"` // degrees
	Timestamp int64   `json:"timestamp"`
}

// Position returns the planar position of the pose
func (p RoverPose) Position() Point {
	return Point{X: p.X, Y: p.Y}
}

// RoverConfig defines a rover from the config file
type RoverConfig struct {
	ID    string `yaml:"id" json:"id"`
	Topic string `yaml:"topic" json:"topic"`
	Color string `yaml:"color,omitempty" json:"color,omitempty"`
	// Full enables point cloud publishing from startup. The command topic can
	// toggle it at runtime.
	Full *bool `yaml:"full,omitempty" json:"full,omitempty"`
}

// FullScan returns whether point clouds are produced for this rover by default
func (rc *RoverConfig) FullScan() bool {
	if rc.Full != nil {
		return *rc.Full
	}
	return true
}

// Config represents the full configuration file
type Config struct {
	MQTT          MQTTConfig    `yaml:"mqtt" json:"mqtt"`
	Rovers        []RoverConfig `yaml:"rovers" json:"rovers"`
	MaxDistance   int           `yaml:"maxDistance,omitempty" json:"maxDistance,omitempty"`
	SnapshotCache string        `yaml:"snapshotCache,omitempty" json:"snapshotCache,omitempty"`
	// Synth overrides the terrain used by synthesize mode
	Synth *SynthConfig `yaml:"synth,omitempty" json:"synth,omitempty"`
	// Map overrides the terrain extent reported to clients
	Map *MapBounds `yaml:"map,omitempty" json:"map,omitempty"`
}

// MapBounds is the planar extent of the terrain. Y runs along world z.
type MapBounds struct {
	XMin float64 `yaml:"xmin" json:"xmin"`
	XMax float64 `yaml:"xmax" json:"xmax"`
	YMin float64 `yaml:"ymin" json:"ymin"`
	YMax float64 `yaml:"ymax" json:"ymax"`
}

// Bound returns the extent as an orb.Bound
func (b MapBounds) Bound() orb.Bound {
	return orb.Bound{Min: orb.Point{b.XMin, b.YMin}, Max: orb.Point{b.XMax, b.YMax}}
}

// Contains reports whether a planar position lies on the terrain
func (b MapBounds) Contains(p Point) bool {
	return b.Bound().Contains(orb.Point{p.X, p.Y})
}

// MQTTConfig holds MQTT connection settings
type MQTTConfig struct {
	Broker        string `yaml:"broker" json:"broker"`
	PublishPrefix string `yaml:"publishPrefix" json:"publishPrefix"`
	ClientID      string `yaml:"clientId" json:"clientId"`
	Username      string `yaml:"username,omitempty" json:"username,omitempty"`
	Password      string `yaml:"password,omitempty" json:"password,omitempty"`
}

// GetRoverByID returns the rover config for the given ID
func (c *Config) GetRoverByID(id string) *RoverConfig {
	for i := range c.Rovers {
		if c.Rovers[i].ID == id {
			return &c.Rovers[i]
		}
	}
	return nil
}

// EffectiveMaxDistance returns the configured scan radius or the default
func (c *Config) EffectiveMaxDistance() int {
	if c == nil || c.MaxDistance <= 0 {
		return DefaultMaxDistance
	}
	return c.MaxDistance
}

// EffectiveSynthConfig returns the configured synthetic terrain or the default
// one, with the scan radius taken from the config.
func (c *Config) EffectiveSynthConfig() SynthConfig {
	cfg := DefaultSynthConfig()
	if c != nil && c.Synth != nil {
		cfg = *c.Synth
	}
	if cfg.MaxDistance <= 0 {
		cfg.MaxDistance = c.EffectiveMaxDistance()
	}
	return cfg
}

// EffectiveMapBounds returns the configured terrain extent, or the extent of
// the synthetic terrain.
func (c *Config) EffectiveMapBounds() MapBounds {
	if c != nil && c.Map != nil {
		return *c.Map
	}
	return c.EffectiveSynthConfig().Bounds()
}
