package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"strconv"
	"strings"

	"github.com/kwv/exosim/terrain"
)

// Version is set at build time via -ldflags
var Version = "dev"

// AppOptions holds the parsed command line
type AppOptions struct {
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
}

// AppRunner is the set of modes main can dispatch to
type AppRunner interface {
	ApplyOptions(opts AppOptions)
	RunReplay() error
	RunSynthesize() error
	RunService() error
}

func main() {
	if err := run(os.Args[1:], os.Stdout, NewApp()); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			os.Exit(0)
		}
		log.Fatal(err)
	}
}

func run(args []string, out io.Writer, app AppRunner) error {
	fs := flag.NewFlagSet("exosim", flag.ContinueOnError)
	fs.SetOutput(out)

	var opts AppOptions
	var pose string
	fs.StringVar(&opts.ConfigFile, "config", "config.yaml", "Path to configuration file")
	fs.BoolVar(&opts.MqttMode, "mqtt", false, "Run MQTT service mode: aggregate rover captures and publish point clouds")
	fs.BoolVar(&opts.HttpMode, "http", false, "Enable HTTP server for serving point clouds and maps")
	fs.IntVar(&opts.HttpPort, "http-port", 8080, "HTTP server port")
	fs.StringVar(&opts.ReplayFile, "replay", "", "Aggregate a recorded capture file and write the outputs")
	fs.StringVar(&opts.SynthesizeFile, "synthesize", "", "Write a synthetic capture of the analytic terrain to this file")
	fs.StringVar(&opts.OutputDir, "output", "", "Directory for replay and synthesize outputs")
	fs.StringVar(&opts.Format, "format", "zstd", "Capture compression for --synthesize: none, zlib or zstd")
	fs.IntVar(&opts.MaxDistance, "max-distance", 0, "Scan radius in world units (default: from config or 49)")
	fs.BoolVar(&opts.Parallel, "parallel", false, "Decode the four directions concurrently")
	fs.StringVar(&opts.RoverID, "rover", "", "Rover ID for replay and synthesize modes")
	fs.StringVar(&pose, "pose", "0,0,0", "Rover pose for --synthesize: X,Y,HEADING")

	if err := fs.Parse(args); err != nil {
		return err
	}
	fmt.Fprintf(out, "exosim version: %s\n", Version)

	p, err := parsePose(pose)
	if err != nil {
		return err
	}
	opts.Pose = p
	if opts.MaxDistance < 0 || opts.MaxDistance > 255 {
		return fmt.Errorf("--max-distance must be between 0 and 255, got %d", opts.MaxDistance)
	}

	app.ApplyOptions(opts)

	switch {
	case opts.SynthesizeFile != "":
		return app.RunSynthesize()
	case opts.ReplayFile != "":
		return app.RunReplay()
	case opts.MqttMode || opts.HttpMode:
		return app.RunService()
	}

	fmt.Fprintln(out, "Use --mqtt to aggregate rover captures from MQTT")
	fmt.Fprintln(out, "Use --http to serve the latest point clouds over HTTP")
	fmt.Fprintln(out, "Use --replay=FILE --output=DIR to aggregate a recorded capture")
	fmt.Fprintln(out, "Use --synthesize=FILE to write a synthetic capture")
	fmt.Fprintln(out, "\nConfiguration:")
	fmt.Fprintln(out, "  config.yaml - MQTT settings, rovers and scan radius")
	return nil
}

// parsePose parses "X,Y,HEADING"; the heading may be omitted
func parsePose(s string) (terrain.RoverPose, error) {
	parts := strings.Split(s, ",")
	if len(parts) < 2 || len(parts) > 3 {
		return terrain.RoverPose{}, fmt.Errorf("invalid pose %q: want X,Y[,HEADING]", s)
	}
	var values [3]float64
	for i, part := range parts {
		v, err := strconv.ParseFloat(strings.TrimSpace(part), 64)
		if err != nil {
			return terrain.RoverPose{}, fmt.Errorf("invalid pose %q: %w", s, err)
		}
		values[i] = v
	}
	return terrain.RoverPose{X: values[0], Y: values[1], Angle: values[2]}, nil
}
