package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image/png"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/kwv/exosim/terrain"
)

// App encapsulates the application state and dependencies
type App struct {
	Config       *terrain.Config
	StateTracker *terrain.StateTracker
	MQTTClient   *terrain.MQTTClient
	Publisher    *terrain.Publisher

	// CLI Flags (effectively dependencies)
	ConfigFile     string
	MqttMode       bool
	HttpMode       bool
	HttpPort       int
	ReplayFile     string
	SynthesizeFile string
	OutputDir      string
	Format         string
	MaxDistance    int
	Parallel       bool
	RoverID        string
	Pose           terrain.RoverPose

	ctx context.Context
}

// NewApp creates a new App instance
func NewApp() *App {
	return &App{
		StateTracker: terrain.NewStateTracker(),
	}
}

// ApplyOptions applies CLI options to the App instance
func (a *App) ApplyOptions(opts AppOptions) {
	a.ConfigFile = opts.ConfigFile
	a.MqttMode = opts.MqttMode
	a.HttpMode = opts.HttpMode
	a.HttpPort = opts.HttpPort
	a.ReplayFile = opts.ReplayFile
	a.SynthesizeFile = opts.SynthesizeFile
	a.OutputDir = opts.OutputDir
	a.Format = opts.Format
	a.MaxDistance = opts.MaxDistance
	a.Parallel = opts.Parallel
	a.RoverID = opts.RoverID
	a.Pose = opts.Pose
}

// maxDistance returns the scan radius: flag, then config, then default
func (a *App) maxDistance() int {
	if a.MaxDistance > 0 {
		return a.MaxDistance
	}
	return a.Config.EffectiveMaxDistance()
}

func (a *App) context() context.Context {
	if a.ctx != nil {
		return a.ctx
	}
	return context.Background()
}

// loadOptionalConfig loads the config file when it exists. Replay and
// synthesize work without one.
func (a *App) loadOptionalConfig() error {
	if a.Config != nil || a.ConfigFile == "" {
		return nil
	}
	if _, err := os.Stat(a.ConfigFile); err != nil {
		return nil
	}
	config, err := terrain.LoadConfig(a.ConfigFile)
	if err != nil {
		return err
	}
	a.Config = config
	log.Printf("Loaded config from %s", a.ConfigFile)
	return nil
}

// aggregate turns a capture into a point cloud around the capture pose
func (a *App) aggregate(ctx context.Context, c *terrain.Capture) (*terrain.PointCloud, error) {
	agg := terrain.NewAggregator(a.maxDistance())
	rover := c.Pose.Position()
	if a.Parallel {
		return agg.AggregateParallel(ctx, rover, c.Images...)
	}
	return agg.Aggregate(rover, c.Images...), nil
}

// HandleCapture is the MQTT capture callback
func (a *App) HandleCapture(roverID string, c *terrain.Capture, err error) {
	if err != nil {
		log.Printf("[SCAN] Error receiving capture for %s: %v", roverID, err)
		return
	}
	if _, err := a.processCapture(a.context(), roverID, c); err != nil {
		log.Printf("[SCAN] Error processing capture for %s: %v", roverID, err)
	}
}

// processCapture records and publishes the pose of every capture. Full
// captures are also aggregated, published and stored; the stored record is
// returned, or nil for a pose-only capture.
func (a *App) processCapture(ctx context.Context, roverID string, c *terrain.Capture) (*terrain.ScanRecord, error) {
	if c == nil {
		return nil, errors.New("nil capture")
	}
	a.StateTracker.UpdatePosition(roverID, c.Pose)
	if a.Publisher != nil {
		if err := a.Publisher.PublishPose(roverID, c.Pose); err != nil {
			log.Printf("Error publishing pose for %s: %v", roverID, err)
		}
	}
	if !c.Full {
		return nil, nil
	}

	start := time.Now()
	cloud, err := a.aggregate(ctx, c)
	if err != nil {
		return nil, fmt.Errorf("aggregating capture: %w", err)
	}
	log.Printf("[SCAN] %s: pose(%.2f,%.2f,%.0f°) samples=%d outOfGrid=%d cells=%d in %s",
		roverID, c.Pose.X, c.Pose.Y, c.Pose.Angle,
		cloud.Stats.Samples, cloud.Stats.OutOfGrid, cloud.Stats.Cells, time.Since(start).Round(time.Millisecond))

	scanID := uuid.NewString()
	if a.Publisher != nil {
		published, err := a.Publisher.PublishPointCloud(roverID, c.Pose, cloud)
		if err != nil {
			log.Printf("Error publishing point cloud for %s: %v", roverID, err)
		} else {
			scanID = published
		}
	}
	return a.StateTracker.UpdateScan(roverID, scanID, c.Pose, cloud), nil
}

// RunReplay aggregates a recorded capture and writes the outputs
func (a *App) RunReplay() error {
	if err := a.loadOptionalConfig(); err != nil {
		return err
	}
	c, err := terrain.DecodeCaptureFile(a.ReplayFile)
	if err != nil {
		return err
	}
	roverID := a.RoverID
	if roverID == "" {
		roverID = c.RoverID
	}
	if roverID == "" {
		roverID = "replay"
	}
	fmt.Printf("Replaying %s: rover %s, %d images, pose (%.2f, %.2f, %.0f°)\n",
		a.ReplayFile, roverID, len(c.Images), c.Pose.X, c.Pose.Y, c.Pose.Angle)

	// Recorded captures are always aggregated, whatever mode the rover was in
	c.Full = true
	rec, err := a.processCapture(a.context(), roverID, c)
	if err != nil {
		return err
	}
	printStats(rec)

	dir := a.OutputDir
	if dir == "" {
		dir = "."
	}
	return writeOutputs(dir, rec, a.StateTracker.Color(roverID))
}

// RunSynthesize writes a synthetic capture of the analytic terrain. With an
// output directory set, the capture is also aggregated and its outputs written.
func (a *App) RunSynthesize() error {
	if err := a.loadOptionalConfig(); err != nil {
		return err
	}
	compression, err := terrain.ParseCompression(a.Format)
	if err != nil {
		return err
	}

	cfg := a.Config.EffectiveSynthConfig()
	if a.MaxDistance > 0 {
		cfg.MaxDistance = a.MaxDistance
	}
	pose := a.Pose
	if pose.Timestamp == 0 {
		pose.Timestamp = time.Now().Unix()
	}
	c := terrain.SynthesizeCapture(pose, cfg)
	c.RoverID = a.RoverID

	if err := terrain.WriteCaptureFile(a.SynthesizeFile, c, compression); err != nil {
		return err
	}
	fmt.Printf("Wrote synthetic capture %s (%d images of %dx%d, %s)\n",
		a.SynthesizeFile, len(c.Images), cfg.Width, cfg.Height, a.Format)

	if a.OutputDir == "" {
		return nil
	}
	roverID := a.RoverID
	if roverID == "" {
		roverID = "synth"
	}
	rec, err := a.processCapture(a.context(), roverID, c)
	if err != nil {
		return err
	}
	printStats(rec)
	return writeOutputs(a.OutputDir, rec, a.StateTracker.Color(roverID))
}

func printStats(rec *terrain.ScanRecord) {
	s := rec.Stats
	fmt.Printf("  points:    %d (samples %d, out of grid %d)\n", s.Points, rec.Cloud.Stats.Samples, rec.Cloud.Stats.OutOfGrid)
	fmt.Printf("  height:    mean %.3f, stddev %.3f, range [%.3f, %.3f]\n", s.MeanHeight, s.StdDevHeight, s.MinHeight, s.MaxHeight)
	fmt.Printf("  slope:     mean %.1f, max %d\n", s.MeanSlope, s.MaxSlope)
	fmt.Printf("  obstacles: %d, hazards: %d\n", s.Obstacles, s.Hazards)
}

// writeOutputs writes every export of a scan into dir
func writeOutputs(dir string, rec *terrain.ScanRecord, hexColor string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create output directory: %w", err)
	}
	cloud := rec.Cloud

	outputs := []struct {
		name  string
		write func(*bytes.Buffer) error
	}{
		{"points.json", func(b *bytes.Buffer) error {
			enc := json.NewEncoder(b)
			enc.SetIndent("", "  ")
			return enc.Encode(terrain.NewPointCloudMessage(rec.RoverID, rec.ScanID, rec.Pose, cloud))
		}},
		{"points.pcd", func(b *bytes.Buffer) error { return terrain.WritePCD(b, cloud) }},
		{"points.geojson", func(b *bytes.Buffer) error {
			return json.NewEncoder(b).Encode(terrain.ToGeoJSON(rec.RoverID, cloud))
		}},
		{"rangedata.png", func(b *bytes.Buffer) error { return png.Encode(b, terrain.EncodeRangeData(cloud)) }},
		{"rangemap.png", func(b *bytes.Buffer) error {
			return terrain.NewRangeMapRenderer(rec.RoverID, hexColor).WritePNG(b, cloud)
		}},
		{"points.svg", func(b *bytes.Buffer) error {
			return terrain.NewCloudVectorRenderer(cloud, hexColor).RenderToSVG(b)
		}},
		{"slope.png", func(b *bytes.Buffer) error { return terrain.WriteSlopeHistogram(b, rec.RoverID, cloud) }},
		{"traversability.json", func(b *bytes.Buffer) error {
			return json.NewEncoder(b).Encode(terrain.BuildCostMap(cloud).Summary())
		}},
	}

	for _, o := range outputs {
		var buf bytes.Buffer
		if err := o.write(&buf); err != nil {
			return fmt.Errorf("rendering %s: %w", o.name, err)
		}
		path := filepath.Join(dir, o.name)
		if err := os.WriteFile(path, buf.Bytes(), 0644); err != nil {
			return fmt.Errorf("writing %s: %w", path, err)
		}
		fmt.Printf("Created: %s\n", path)
	}
	return nil
}

// RunService starts the combined MQTT and/or HTTP service and blocks until
// interrupted
func (a *App) RunService() error {
	fmt.Println("Starting exosim service...")

	config, err := terrain.LoadConfig(a.ConfigFile)
	if err != nil {
		return fmt.Errorf("failed to load config: %w (looked at %s)", err, a.ConfigFile)
	}
	a.Config = config
	log.Printf("Loaded config from %s", a.ConfigFile)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return a.serve(ctx)
}

// serve runs the configured services until ctx is done
func (a *App) serve(ctx context.Context) error {
	a.ctx = ctx
	config := a.Config

	if config.SnapshotCache != "" {
		a.StateTracker = terrain.NewStateTrackerWithCache(config.SnapshotCache)
	}
	for _, rc := range config.Rovers {
		if rc.Color != "" {
			a.StateTracker.SetColor(rc.ID, rc.Color)
		}
	}

	if a.MqttMode {
		mqttClient, err := terrain.InitMQTT(config, a.HandleCapture)
		if err != nil {
			return fmt.Errorf("failed to initialize MQTT: %w", err)
		}
		if mqttClient == nil {
			return errors.New("MQTT broker not configured in config.yaml")
		}
		a.MQTTClient = mqttClient

		a.Publisher = terrain.NewPublisher(mqttClient.GetClient())
		a.Publisher.SetPrefix(config.MQTT.PublishPrefix)
		if err := a.Publisher.PublishMapBounds(config.EffectiveMapBounds()); err != nil {
			log.Printf("Error publishing map bounds: %v", err)
		}
		fmt.Println("MQTT point cloud publisher initialized")
	}

	var server *http.Server
	serverErr := make(chan error, 1)
	if a.HttpMode {
		server = &http.Server{
			Addr:              fmt.Sprintf("0.0.0.0:%d", a.HttpPort),
			Handler:           newHTTPServer(a.StateTracker, config),
			ReadHeaderTimeout: 10 * time.Second,
		}
		go func() {
			log.Printf("[HTTP] Starting server on %s", server.Addr)
			if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				serverErr <- err
			}
		}()
	}

	a.printServiceInfo()

	var runErr error
	select {
	case <-ctx.Done():
	case err := <-serverErr:
		runErr = fmt.Errorf("[HTTP] server error: %w", err)
	}

	fmt.Println("\nShutting down service...")
	if server != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Printf("[HTTP] Shutdown error: %v", err)
		}
	}
	if a.MQTTClient != nil {
		a.MQTTClient.Disconnect()
	}
	fmt.Println("Service stopped")
	return runErr
}

func (a *App) printServiceInfo() {
	fmt.Println("\nService Running")
	fmt.Println("===============")
	width := 2 * terrain.CellsPerUnit * a.maxDistance()
	fmt.Printf("Scan radius: %d (grid %dx%d cells)\n", a.maxDistance(), width, width)

	if a.MqttMode {
		fmt.Println("\nMQTT:")
		fmt.Println("  Subscribed topics:")
		for _, rc := range a.Config.Rovers {
			fmt.Printf("    - %s (%s, full=%t)\n", rc.Topic, rc.ID, rc.FullScan())
		}
		prefix := terrain.DefaultPublishPrefix
		if a.Publisher != nil {
			prefix = a.Publisher.Prefix()
		}
		fmt.Printf("  Publishing to: %s/{roverID}/pose and %s/{roverID}/points\n", prefix, prefix)
		fmt.Printf("  Combined poses: %s/poses\n", prefix)
		fmt.Printf("  Map bounds (retained): %s/map\n", prefix)
	}

	if a.HttpMode {
		fmt.Printf("\nHTTP endpoints (port %d):\n", a.HttpPort)
		fmt.Println("  GET /health                      - Health check")
		fmt.Println("  GET /map                         - Terrain bounds")
		fmt.Println("  GET /rovers                      - Rovers with pose and scan summary")
		fmt.Println("  GET /rovers/{id}/points.json     - Latest point cloud")
		fmt.Println("  GET /rovers/{id}/points.pcd      - Latest point cloud as PCD")
		fmt.Println("  GET /rovers/{id}/points.geojson  - Latest point cloud as GeoJSON")
		fmt.Println("  GET /rovers/{id}/points.svg      - Vector terrain map")
		fmt.Println("  GET /rovers/{id}/rangemap.png    - Raster terrain map")
		fmt.Println("  GET /rovers/{id}/rangedata.png   - Raw range data image")
		fmt.Println("  GET /rovers/{id}/stats           - Cloud statistics")
		fmt.Println("  GET /rovers/{id}/slope.png       - Slope histogram")
		fmt.Println("  GET /rovers/{id}/traversability  - Blocked and traversable cells")
	}

	fmt.Println("\nPress Ctrl+C to stop")
}
