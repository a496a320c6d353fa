package main

import (
	"bytes"
	"encoding/json"
	"image/png"
	"io"
	"log"
	"net/http"
	"time"

	"github.com/kwv/exosim/terrain"
)

// roverSummary is one entry of the /rovers listing
type roverSummary struct {
	ID        string                `json:"id"`
	Color     string                `json:"color"`
	Position  *terrain.LivePosition `json:"position,omitempty"`
	ScanID    string                `json:"scanId,omitempty"`
	Count     int                   `json:"count"`
	UpdatedAt *time.Time            `json:"updatedAt,omitempty"`
}

// newHTTPServer creates an HTTP server with all endpoints
func newHTTPServer(stateTracker *terrain.StateTracker, config *terrain.Config) http.Handler {
	mux := http.NewServeMux()

	// Health check endpoint
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		status := struct {
			Status      string    `json:"status"`
			Timestamp   time.Time `json:"timestamp"`
			HasScans    bool      `json:"hasScans"`
			MaxDistance int       `json:"maxDistance"`
		}{
			Status:      "ok",
			Timestamp:   time.Now(),
			HasScans:    stateTracker.HasScans(),
			MaxDistance: config.EffectiveMaxDistance(),
		}
		writeJSON(w, "application/json", status)
	})

	mux.HandleFunc("GET /map", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, "application/json", config.EffectiveMapBounds())
	})

	mux.HandleFunc("GET /rovers", func(w http.ResponseWriter, r *http.Request) {
		positions := stateTracker.GetPositions()
		rovers := make([]roverSummary, 0)
		for _, id := range stateTracker.RoverIDs() {
			s := roverSummary{ID: id, Color: stateTracker.Color(id), Position: positions[id]}
			if rec, ok := stateTracker.GetScan(id); ok {
				s.ScanID = rec.ScanID
				s.Count = rec.Cloud.Count()
				updated := rec.UpdatedAt
				s.UpdatedAt = &updated
			}
			rovers = append(rovers, s)
		}
		writeJSON(w, "application/json", rovers)
	})

	mux.HandleFunc("GET /rovers/{id}/points.json", scanHandler(stateTracker, func(w http.ResponseWriter, rec *terrain.ScanRecord) {
		writeJSON(w, "application/json", terrain.NewPointCloudMessage(rec.RoverID, rec.ScanID, rec.Pose, rec.Cloud))
	}))

	mux.HandleFunc("GET /rovers/{id}/points.geojson", scanHandler(stateTracker, func(w http.ResponseWriter, rec *terrain.ScanRecord) {
		writeJSON(w, "application/geo+json", terrain.ToGeoJSON(rec.RoverID, rec.Cloud))
	}))

	mux.HandleFunc("GET /rovers/{id}/stats", scanHandler(stateTracker, func(w http.ResponseWriter, rec *terrain.ScanRecord) {
		writeJSON(w, "application/json", rec.Stats)
	}))

	mux.HandleFunc("GET /rovers/{id}/traversability", scanHandler(stateTracker, func(w http.ResponseWriter, rec *terrain.ScanRecord) {
		writeJSON(w, "application/json", terrain.BuildCostMap(rec.Cloud).Summary())
	}))

	mux.HandleFunc("GET /rovers/{id}/points.pcd", scanHandler(stateTracker, func(w http.ResponseWriter, rec *terrain.ScanRecord) {
		writeBuffered(w, "text/plain; charset=utf-8", func(b io.Writer) error {
			return terrain.WritePCD(b, rec.Cloud)
		})
	}))

	mux.HandleFunc("GET /rovers/{id}/rangemap.png", scanHandler(stateTracker, func(w http.ResponseWriter, rec *terrain.ScanRecord) {
		renderer := terrain.NewRangeMapRenderer(rec.RoverID, stateTracker.Color(rec.RoverID))
		writeBuffered(w, "image/png", func(b io.Writer) error {
			return renderer.WritePNG(b, rec.Cloud)
		})
	}))

	mux.HandleFunc("GET /rovers/{id}/rangedata.png", scanHandler(stateTracker, func(w http.ResponseWriter, rec *terrain.ScanRecord) {
		writeBuffered(w, "image/png", func(b io.Writer) error {
			return png.Encode(b, terrain.EncodeRangeData(rec.Cloud))
		})
	}))

	mux.HandleFunc("GET /rovers/{id}/points.svg", scanHandler(stateTracker, func(w http.ResponseWriter, rec *terrain.ScanRecord) {
		renderer := terrain.NewCloudVectorRenderer(rec.Cloud, stateTracker.Color(rec.RoverID))
		writeBuffered(w, "image/svg+xml", renderer.RenderToSVG)
	}))

	mux.HandleFunc("GET /rovers/{id}/points.png", scanHandler(stateTracker, func(w http.ResponseWriter, rec *terrain.ScanRecord) {
		renderer := terrain.NewCloudVectorRenderer(rec.Cloud, stateTracker.Color(rec.RoverID))
		writeBuffered(w, "image/png", renderer.RenderToPNG)
	}))

	mux.HandleFunc("GET /rovers/{id}/slope.png", scanHandler(stateTracker, func(w http.ResponseWriter, rec *terrain.ScanRecord) {
		writeBuffered(w, "image/png", func(b io.Writer) error {
			return terrain.WriteSlopeHistogram(b, rec.RoverID, rec.Cloud)
		})
	}))

	return logRequests(mux)
}

// scanHandler resolves the rover's latest scan, answering 404 when there is none
func scanHandler(stateTracker *terrain.StateTracker, fn func(http.ResponseWriter, *terrain.ScanRecord)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := r.PathValue("id")
		rec, ok := stateTracker.GetScan(id)
		if !ok {
			http.Error(w, "No scan available for "+id, http.StatusNotFound)
			return
		}
		fn(w, rec)
	}
}

func writeJSON(w http.ResponseWriter, contentType string, v any) {
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Cache-Control", "no-cache")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("[HTTP] Error encoding response: %v", err)
	}
}

// writeBuffered renders into memory first so a render failure can still be
// reported as a 500
func writeBuffered(w http.ResponseWriter, contentType string, render func(io.Writer) error) {
	var buf bytes.Buffer
	if err := render(&buf); err != nil {
		log.Printf("[HTTP] Error rendering %s: %v", contentType, err)
		http.Error(w, "Render failed", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Cache-Control", "no-cache")
	if _, err := buf.WriteTo(w); err != nil {
		log.Printf("[HTTP] Error writing response: %v", err)
	}
}

// statusRecorder captures the status code written by a handler
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// logRequests logs every request with its status and duration
func logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		log.Printf("[HTTP] %s %s from %s: %d (%s)", r.Method, r.URL.Path, r.RemoteAddr, rec.status, time.Since(start).Round(time.Microsecond))
	})
}
