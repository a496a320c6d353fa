package terrain

import (
	"bytes"
	"compress/zlib"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"os"

	"github.com/klauspost/compress/zstd"
)

// Compression selects how an encoded capture is wrapped
type Compression int

const (
	CompressionNone Compression = iota
	CompressionZlib
	CompressionZstd
)

// ParseCompression maps a flag value to a Compression
func ParseCompression(name string) (Compression, error) {
	switch name {
	case "", "none":
		return CompressionNone, nil
	case "zlib":
		return CompressionZlib, nil
	case "zstd":
		return CompressionZstd, nil
	}
	return CompressionNone, fmt.Errorf("unknown compression %q", name)
}

const (
	captureMagic   = "EXSC"
	captureVersion = 1
	flagFull       = 1 << 0

	// magic + version + flags + x, y, angle + timestamp + image count
	captureHeaderSize = 4 + 1 + 1 + 3*8 + 8 + 1
	imageHeaderSize   = 4 + 4

	maxImageSide = 1 << 14
)

// zstdMagic starts every zstd frame
var zstdMagic = []byte{0x28, 0xB5, 0x2F, 0xFD}

// Capture is one scan request from the renderer: the rover pose and up to
// four 90 degree depth images taken around it.
type Capture struct {
	RoverID string        `json:"roverId,omitempty"`
	Pose    RoverPose     `json:"pose"`
	Full    bool          `json:"full"`
	Images  []*DepthImage `json:"images"`
}

// Validate checks image count and buffer sizes
func (c *Capture) Validate() error {
	if len(c.Images) > DirectionCount {
		return fmt.Errorf("capture has %d images, at most %d allowed", len(c.Images), DirectionCount)
	}
	for i, img := range c.Images {
		if img == nil {
			continue
		}
		if err := img.Validate(); err != nil {
			return fmt.Errorf("image %d: %w", i, err)
		}
	}
	return nil
}

// EncodeCapture serializes a capture into the framed binary format and wraps
// it with the requested compression.
func EncodeCapture(c *Capture, compression Compression) ([]byte, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}

	size := captureHeaderSize
	for _, img := range c.Images {
		size += imageHeaderSize
		if img != nil {
			size += len(img.Pix) * 4
		}
	}

	buf := make([]byte, 0, size)
	buf = append(buf, captureMagic...)
	buf = append(buf, captureVersion)
	var flags byte
	if c.Full {
		flags |= flagFull
	}
	buf = append(buf, flags)
	buf = binary.LittleEndian.AppendUint64(buf, math.Float64bits(c.Pose.X))
	buf = binary.LittleEndian.AppendUint64(buf, math.Float64bits(c.Pose.Y))
	buf = binary.LittleEndian.AppendUint64(buf, math.Float64bits(c.Pose.Angle))
	buf = binary.LittleEndian.AppendUint64(buf, uint64(c.Pose.Timestamp))
	buf = append(buf, byte(len(c.Images)))

	for _, img := range c.Images {
		if img == nil {
			img = &DepthImage{}
		}
		buf = binary.LittleEndian.AppendUint32(buf, uint32(img.Width))
		buf = binary.LittleEndian.AppendUint32(buf, uint32(img.Height))
		for _, v := range img.Pix {
			buf = binary.LittleEndian.AppendUint32(buf, math.Float32bits(v))
		}
	}

	switch compression {
	case CompressionNone:
		return buf, nil
	case CompressionZlib:
		return deflateZlib(buf)
	case CompressionZstd:
		enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedFastest))
		if err != nil {
			return nil, fmt.Errorf("creating zstd encoder: %w", err)
		}
		defer enc.Close()
		return enc.EncodeAll(buf, nil), nil
	}
	return nil, fmt.Errorf("unknown compression %d", compression)
}

// DecodeCapture decodes a capture from various formats:
// - framed binary (magic "EXSC")
// - raw JSON (fallback for testing)
// - zstd or zlib wrapped frames or JSON
func DecodeCapture(data []byte) (*Capture, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("empty data")
	}

	switch {
	case IsFramedCapture(data):
		return parseFramedCapture(data)
	case data[0] == '{':
		return parseCaptureJSON(data)
	case bytes.HasPrefix(data, zstdMagic):
		raw, err := inflateZstd(data)
		if err != nil {
			return nil, err
		}
		return decodeUnwrapped(raw)
	default:
		raw, err := inflateZlib(data)
		if err != nil {
			return nil, fmt.Errorf("unknown format: not framed, JSON, zstd or zlib-compressed")
		}
		return decodeUnwrapped(raw)
	}
}

// decodeUnwrapped decodes a decompressed payload, which must not be wrapped again
func decodeUnwrapped(data []byte) (*Capture, error) {
	switch {
	case IsFramedCapture(data):
		return parseFramedCapture(data)
	case len(data) > 0 && data[0] == '{':
		return parseCaptureJSON(data)
	}
	return nil, fmt.Errorf("decompressed payload is neither framed nor JSON")
}

// IsFramedCapture checks if data starts with the capture magic bytes
func IsFramedCapture(data []byte) bool {
	return len(data) >= len(captureMagic) && string(data[:len(captureMagic)]) == captureMagic
}

func parseCaptureJSON(data []byte) (*Capture, error) {
	var c Capture
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("parsing capture JSON: %w", err)
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

func parseFramedCapture(data []byte) (*Capture, error) {
	if len(data) < captureHeaderSize {
		return nil, fmt.Errorf("truncated capture header: %d bytes", len(data))
	}
	if v := data[4]; v != captureVersion {
		return nil, fmt.Errorf("unsupported capture version: %d", v)
	}

	le := binary.LittleEndian
	c := &Capture{Full: data[5]&flagFull != 0}
	pos := 6
	c.Pose.X = math.Float64frombits(le.Uint64(data[pos:]))
	c.Pose.Y = math.Float64frombits(le.Uint64(data[pos+8:]))
	c.Pose.Angle = math.Float64frombits(le.Uint64(data[pos+16:]))
	c.Pose.Timestamp = int64(le.Uint64(data[pos+24:]))
	pos += 32

	count := int(data[pos])
	pos++
	if count > DirectionCount {
		return nil, fmt.Errorf("capture has %d images, at most %d allowed", count, DirectionCount)
	}

	c.Images = make([]*DepthImage, 0, count)
	for i := 0; i < count; i++ {
		if pos+imageHeaderSize > len(data) {
			return nil, fmt.Errorf("truncated header of image %d", i)
		}
		width := int(le.Uint32(data[pos:]))
		height := int(le.Uint32(data[pos+4:]))
		pos += imageHeaderSize
		if width > maxImageSide || height > maxImageSide {
			return nil, fmt.Errorf("image %d too large: %dx%d", i, width, height)
		}

		channels := width * height * ChannelsPerPixel
		if pos+channels*4 > len(data) {
			return nil, fmt.Errorf("truncated data of image %d (%dx%d)", i, width, height)
		}
		img := &DepthImage{Width: width, Height: height, Pix: make([]float32, channels)}
		for j := range img.Pix {
			img.Pix[j] = math.Float32frombits(le.Uint32(data[pos:]))
			pos += 4
		}
		c.Images = append(c.Images, img)
	}

	if pos != len(data) {
		return nil, fmt.Errorf("%d trailing bytes after capture", len(data)-pos)
	}
	return c, nil
}

// deflateZlib compresses data with zlib
func deflateZlib(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	w := zlib.NewWriter(&buf)
	if _, err := w.Write(data); err != nil {
		return nil, fmt.Errorf("compressing zlib data: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("closing zlib writer: %w", err)
	}
	return buf.Bytes(), nil
}

// inflateZlib decompresses zlib-compressed data
func inflateZlib(data []byte) ([]byte, error) {
	reader, err := zlib.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("creating zlib reader: %w", err)
	}
	defer func() { _ = reader.Close() }()

	decompressed, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("decompressing zlib data: %w", err)
	}
	return decompressed, nil
}

// inflateZstd decompresses a zstd frame
func inflateZstd(data []byte) ([]byte, error) {
	dec, err := zstd.NewReader(nil)
	if err != nil {
		return nil, fmt.Errorf("creating zstd reader: %w", err)
	}
	defer dec.Close()

	decompressed, err := dec.DecodeAll(data, nil)
	if err != nil {
		return nil, fmt.Errorf("decompressing zstd data: %w", err)
	}
	return decompressed, nil
}

// DecodeCaptureFile reads and decodes a capture file
// This is a convenience function for replay mode
func DecodeCaptureFile(path string) (*Capture, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading file: %w", err)
	}
	return DecodeCapture(data)
}

// WriteCaptureFile encodes a capture and writes it to path
func WriteCaptureFile(path string, c *Capture, compression Compression) error {
	data, err := EncodeCapture(c, compression)
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("writing capture: %w", err)
	}
	return nil
}
