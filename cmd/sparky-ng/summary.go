package main

import (
	"fmt"
	"io"
	"math"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"sparky-ng/internal/razor"
	"sparky-ng/internal/replay"
)

type angleRange struct {
	Min, Max float32
}

func (r *angleRange) add(v float32, first bool) {
	if first || v < r.Min {
		r.Min = v
	}
	if first || v > r.Max {
		r.Max = v
	}
}

type captureSummary struct {
	Segments    int
	Chunks      int
	Bytes       int
	Windows     int
	Frames      int
	MaxDuration time.Duration
	Yaw         angleRange
	Pitch       angleRange
	Roll        angleRange
}

// summarizeCapture walks a recorded capture the way the decoder would:
// consecutive WindowSize-byte windows per segment, first frame per window.
func summarizeCapture(records []replay.Record) captureSummary {
	var s captureSummary
	if len(records) == 0 {
		return s
	}

	var origin time.Duration
	var stream []byte
	hasData := false

	flush := func() {
		for len(stream) >= razor.WindowSize {
			s.Windows++
			yaw, pitch, roll, ok := razor.FindFrame(stream[:razor.WindowSize])
			stream = stream[razor.WindowSize:]
			if !ok || isNaN32(yaw) || isNaN32(pitch) || isNaN32(roll) {
				continue
			}
			first := s.Frames == 0
			s.Frames++
			s.Yaw.add(yaw, first)
			s.Pitch.add(pitch, first)
			s.Roll.add(roll, first)
		}
		stream = stream[:0]
	}

	for _, r := range records {
		if r.Data == nil {
			flush()
			s.Segments++
			origin = r.At
			continue
		}
		hasData = true
		s.Chunks++
		s.Bytes += len(r.Data)
		stream = append(stream, r.Data...)

		at := r.At - origin
		if at < 0 {
			at = 0
		}
		if at > s.MaxDuration {
			s.MaxDuration = at
		}
	}
	flush()
	if s.Segments == 0 && hasData {
		s.Segments = 1
	}
	return s
}

func isNaN32(v float32) bool { return math.IsNaN(float64(v)) }

func printCaptureSummary(w io.Writer, path string) error {
	path = strings.TrimSpace(path)
	if path == "" {
		return fmt.Errorf("path is empty")
	}
	recs, err := replay.ReadFile(path)
	if err != nil {
		return err
	}
	s := summarizeCapture(recs)

	fmt.Fprintf(w, "path: %s\n", path)
	fmt.Fprintf(w, "segments: %d\n", s.Segments)
	fmt.Fprintf(w, "chunks: %d\n", s.Chunks)
	fmt.Fprintf(w, "bytes: %s\n", humanize.Bytes(uint64(s.Bytes)))
	fmt.Fprintf(w, "max_duration: %s\n", s.MaxDuration)
	fmt.Fprintf(w, "windows: %d\n", s.Windows)
	fmt.Fprintf(w, "frames: %d\n", s.Frames)
	if s.Frames > 0 {
		fmt.Fprintf(w, "yaw: %.2f .. %.2f\n", s.Yaw.Min, s.Yaw.Max)
		fmt.Fprintf(w, "pitch: %.2f .. %.2f\n", s.Pitch.Min, s.Pitch.Max)
		fmt.Fprintf(w, "roll: %.2f .. %.2f\n", s.Roll.Min, s.Roll.Max)
	}
	return nil
}
