// Package razor decodes binary yaw/pitch/roll frames from a Razor AHRS
// attached over serial.
//
// In binary output mode the sensor streams 16-byte frames: the 4-byte marker
// "YPR:" followed by yaw, pitch and roll as little-endian IEEE-754 float32
// in degrees. The stream carries no other framing, so the decoder reads a
// fixed 32-byte window and scans it for the marker.
package razor

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"sync"
)

const (
	// WindowSize is the number of bytes consumed per decode attempt. Any
	// 32 consecutive bytes of a continuous frame stream contain one whole
	// 16-byte frame.
	WindowSize = 32

	FrameSize   = 16
	PayloadSize = FrameSize - len(Marker)

	Marker = "YPR:"

	// DefaultBaud is the sensor's factory serial speed.
	DefaultBaud = 57600
)

var marker = []byte(Marker)

// Source is a raw sensor byte stream that can report its backlog without
// blocking.
type Source interface {
	io.Reader
	Buffered() (int, error)
}

// Result is the outcome of one decode attempt.
type Result uint8

const (
	// NoData means the source did not have more than WindowSize bytes
	// buffered. Nothing was consumed.
	NoData Result = iota
	// Decoded means a frame was found and the angles were updated.
	Decoded
	// NoFrame means a window was consumed but held no complete frame. The
	// previous angles are kept.
	NoFrame
)

func (r Result) String() string {
	switch r {
	case NoData:
		return "no_data"
	case Decoded:
		return "decoded"
	case NoFrame:
		return "no_frame"
	default:
		return fmt.Sprintf("result(%d)", uint8(r))
	}
}

type Decoder struct {
	src Source

	mu      sync.Mutex
	window  [WindowSize]byte
	yaw     float32
	pitch   float32
	roll    float32
	haveFix bool
}

func NewDecoder(src Source) *Decoder {
	return &Decoder{src: src}
}

// Available reports whether more than WindowSize bytes are buffered.
func (d *Decoder) Available() bool {
	n, err := d.src.Buffered()
	return err == nil && n > WindowSize
}

// Decode consumes one window when enough data is buffered and scans it for
// a frame. The first marker with a complete payload behind it wins.
func (d *Decoder) Decode() (Result, error) {
	n, err := d.src.Buffered()
	if err != nil {
		return NoData, fmt.Errorf("razor: buffered: %w", err)
	}
	if n <= WindowSize {
		return NoData, nil
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if _, err := io.ReadFull(d.src, d.window[:]); err != nil {
		return NoData, fmt.Errorf("razor: read window: %w", err)
	}
	yaw, pitch, roll, ok := FindFrame(d.window[:])
	if !ok {
		return NoFrame, nil
	}
	d.yaw, d.pitch, d.roll = yaw, pitch, roll
	d.haveFix = true
	return Decoded, nil
}

// DecodeMessage is the boolean form of Decode: false only when there was not
// enough data (or the read failed). A window without a frame still returns
// true and leaves the angles unchanged.
func (d *Decoder) DecodeMessage() bool {
	res, err := d.Decode()
	if err != nil {
		return false
	}
	return res != NoData
}

func (d *Decoder) Yaw() float32 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.yaw
}

func (d *Decoder) Pitch() float32 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.pitch
}

func (d *Decoder) Roll() float32 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.roll
}

// HaveFix reports whether any frame has been decoded yet. Before that the
// angles read as zero.
func (d *Decoder) HaveFix() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.haveFix
}

// FindFrame scans buf for the first marker followed by a full payload and
// decodes it.
func FindFrame(buf []byte) (yaw, pitch, roll float32, ok bool) {
	for off := 0; off+FrameSize <= len(buf); off++ {
		if !bytes.Equal(buf[off:off+len(marker)], marker) {
			continue
		}
		p := buf[off+len(marker) : off+FrameSize]
		return DecodeFloat32LE(p[0:4]), DecodeFloat32LE(p[4:8]), DecodeFloat32LE(p[8:12]), true
	}
	return 0, 0, 0, false
}

// DecodeFloat32LE reads a little-endian IEEE-754 single from the first four
// bytes of b.
func DecodeFloat32LE(b []byte) float32 {
	return math.Float32frombits(binary.LittleEndian.Uint32(b))
}

// EncodeFrame builds one binary frame.
func EncodeFrame(yaw, pitch, roll float32) []byte {
	out := make([]byte, FrameSize)
	copy(out, marker)
	binary.LittleEndian.PutUint32(out[4:], math.Float32bits(yaw))
	binary.LittleEndian.PutUint32(out[8:], math.Float32bits(pitch))
	binary.LittleEndian.PutUint32(out[12:], math.Float32bits(roll))
	return out
}

// initCommands switch the sensor to binary, continuous output with error
// messages off.
var initCommands = []string{"#ob", "#o1", "#oe0"}

// Begin configures the sensor for streaming.
func Begin(w io.Writer) error {
	if w == nil {
		return errors.New("razor: nil writer")
	}
	for _, cmd := range initCommands {
		if _, err := io.WriteString(w, cmd); err != nil {
			return fmt.Errorf("razor: send %s: %w", cmd, err)
		}
	}
	return nil
}
