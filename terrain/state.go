package terrain

import (
	"bufio"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/klauspost/compress/zstd"
)

// DefaultRoverColor is used for rovers without a configured color
const DefaultRoverColor = "#FF0000"

// snapshotVersion is bumped when the snapshot layout changes
const snapshotVersion = 1

// LivePosition represents a rover's latest pose
type LivePosition struct {
	RoverID   string    `json:"roverId"`
	X         float64   `json:"x"`
	Y         float64   `json:"y"`
	Angle     float64   `json:"angle"`
	Timestamp time.Time `json:"timestamp"`
	Color     string    `json:"color"`
}

// ScanRecord is the latest full scan of a rover. The cloud is never mutated
// after it is stored.
type ScanRecord struct {
	RoverID   string      `json:"roverId"`
	ScanID    string      `json:"scanId"`
	Pose      RoverPose   `json:"pose"`
	Cloud     *PointCloud `json:"cloud"`
	Stats     CloudStats  `json:"stats"`
	UpdatedAt time.Time   `json:"updatedAt"`
}

// Snapshot is the persisted form of the tracker's scans
type Snapshot struct {
	Version int                    `json:"version"`
	SavedAt time.Time              `json:"savedAt"`
	Scans   map[string]*ScanRecord `json:"scans"`
}

// StateTracker tracks live rover poses and scans for HTTP endpoints
type StateTracker struct {
	mu        sync.RWMutex
	positions map[string]*LivePosition
	scans     map[string]*ScanRecord
	colors    map[string]string
	cachePath string // zstd snapshot file; empty disables persistence
}

// NewStateTracker creates a new state tracker
func NewStateTracker() *StateTracker {
	return &StateTracker{
		positions: make(map[string]*LivePosition),
		scans:     make(map[string]*ScanRecord),
		colors:    make(map[string]string),
	}
}

// NewStateTrackerWithCache creates a state tracker that persists scans to the
// given snapshot file. If the file exists, its scans are restored.
func NewStateTrackerWithCache(cachePath string) *StateTracker {
	st := NewStateTracker()
	st.cachePath = cachePath
	if cachePath == "" {
		return st
	}

	snap, err := LoadSnapshot(cachePath)
	if err != nil {
		if !os.IsNotExist(err) {
			log.Printf("warning: ignoring scan snapshot %s: %v", cachePath, err)
		}
		return st
	}
	for id, rec := range snap.Scans {
		if rec != nil && rec.Cloud != nil {
			st.scans[id] = rec
		}
	}
	log.Printf("Restored %d scans from %s", len(st.scans), cachePath)
	return st
}

// SetColor sets the color for a rover
func (st *StateTracker) SetColor(roverID, hexColor string) {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.colors[roverID] = hexColor
}

// Color returns the configured color of a rover
func (st *StateTracker) Color(roverID string) string {
	st.mu.RLock()
	defer st.mu.RUnlock()
	if c := st.colors[roverID]; c != "" {
		return c
	}
	return DefaultRoverColor
}

// UpdatePosition records a rover's pose
func (st *StateTracker) UpdatePosition(roverID string, pose RoverPose) {
	ts := time.Now()
	if pose.Timestamp != 0 {
		ts = time.Unix(pose.Timestamp, 0)
	}
	color := st.Color(roverID)

	st.mu.Lock()
	defer st.mu.Unlock()
	st.positions[roverID] = &LivePosition{
		RoverID:   roverID,
		X:         pose.X,
		Y:         pose.Y,
		Angle:     pose.Angle,
		Timestamp: ts,
		Color:     color,
	}
}

// UpdateScan stores a rover's latest scan and persists the snapshot when a
// cache path is set
func (st *StateTracker) UpdateScan(roverID, scanID string, pose RoverPose, cloud *PointCloud) *ScanRecord {
	rec := &ScanRecord{
		RoverID:   roverID,
		ScanID:    scanID,
		Pose:      pose,
		Cloud:     cloud,
		Stats:     ComputeStats(cloud),
		UpdatedAt: time.Now(),
	}

	st.mu.Lock()
	st.scans[roverID] = rec
	cachePath := st.cachePath
	st.mu.Unlock()

	if cachePath != "" {
		if err := SaveSnapshot(cachePath, st.Snapshot()); err != nil {
			log.Printf("warning: failed to save scan snapshot: %v", err)
		}
	}
	return rec
}

// GetPositions returns all current positions
func (st *StateTracker) GetPositions() map[string]*LivePosition {
	st.mu.RLock()
	defer st.mu.RUnlock()

	result := make(map[string]*LivePosition, len(st.positions))
	for k, v := range st.positions {
		copy := *v
		result[k] = &copy
	}
	return result
}

// GetScan returns the latest scan of a rover
func (st *StateTracker) GetScan(roverID string) (*ScanRecord, bool) {
	st.mu.RLock()
	defer st.mu.RUnlock()
	rec, ok := st.scans[roverID]
	if !ok {
		return nil, false
	}
	copy := *rec
	return &copy, true
}

// RoverIDs returns the sorted IDs of every rover with a pose or a scan
func (st *StateTracker) RoverIDs() []string {
	st.mu.RLock()
	defer st.mu.RUnlock()

	seen := make(map[string]bool, len(st.positions)+len(st.scans))
	for id := range st.positions {
		seen[id] = true
	}
	for id := range st.scans {
		seen[id] = true
	}
	ids := make([]string, 0, len(seen))
	for id := range seen {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// HasScans returns true if at least one scan is stored
func (st *StateTracker) HasScans() bool {
	st.mu.RLock()
	defer st.mu.RUnlock()
	return len(st.scans) > 0
}

// Snapshot returns the current scans in persistable form
func (st *StateTracker) Snapshot() *Snapshot {
	st.mu.RLock()
	defer st.mu.RUnlock()

	scans := make(map[string]*ScanRecord, len(st.scans))
	for id, rec := range st.scans {
		copy := *rec
		scans[id] = &copy
	}
	return &Snapshot{Version: snapshotVersion, SavedAt: time.Now(), Scans: scans}
}

// SaveSnapshot writes a snapshot as zstd-compressed JSON. The file is
// replaced atomically.
func SaveSnapshot(path string, snap *Snapshot) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create snapshot directory: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".snapshot-*")
	if err != nil {
		return fmt.Errorf("create snapshot file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if err := writeSnapshot(tmp, snap); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close snapshot file: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("replace snapshot: %w", err)
	}
	return nil
}

func writeSnapshot(f *os.File, snap *Snapshot) error {
	enc, err := zstd.NewWriter(f, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return fmt.Errorf("create zstd writer: %w", err)
	}
	bw := bufio.NewWriterSize(enc, 256*1024)
	if err := json.NewEncoder(bw).Encode(snap); err != nil {
		enc.Close()
		return fmt.Errorf("encode snapshot: %w", err)
	}
	if err := bw.Flush(); err != nil {
		enc.Close()
		return fmt.Errorf("flush snapshot: %w", err)
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("close zstd writer: %w", err)
	}
	return nil
}

// LoadSnapshot reads a snapshot written by SaveSnapshot. Errors from opening
// the file are returned unwrapped so callers can test os.IsNotExist.
func LoadSnapshot(path string) (*Snapshot, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	dec, err := zstd.NewReader(f)
	if err != nil {
		return nil, fmt.Errorf("create zstd reader: %w", err)
	}
	defer dec.Close()

	var snap Snapshot
	if err := json.NewDecoder(bufio.NewReaderSize(dec, 256*1024)).Decode(&snap); err != nil {
		return nil, fmt.Errorf("decode snapshot: %w", err)
	}
	if snap.Version != snapshotVersion {
		return nil, fmt.Errorf("unsupported snapshot version %d", snap.Version)
	}
	return &snap, nil
}
