// Package telemetry keeps the live status of the stabilizer and encodes it
// for the radio downlink and the status API.
package telemetry

import (
	"encoding/json"
	"fmt"
	"log"
	"sync/atomic"
	"time"

	"sparky-ng/internal/attitude"
	"sparky-ng/internal/fixedpoint"
	"sparky-ng/internal/razor"
)

// Status is safe for concurrent use. The control loop writes it, the
// broadcaster and the web API read it.
type Status struct {
	startUnixNano int64
	lastTickNano  int64
	packetsSent   uint64
	decoded       uint64
	noFrame       uint64
	decodeErrors  uint64
	boardTemp     atomic.Value // *float64
	source        atomic.Value // string
	dest          atomic.Value // string
	interval      atomic.Value // string
	control       atomic.Value // attitude.Snapshot
	sensor        atomic.Value // SensorSnapshot
}

func NewStatus() *Status {
	s := &Status{}
	atomic.StoreInt64(&s.startUnixNano, time.Now().UTC().UnixNano())
	s.source.Store("")
	s.dest.Store("")
	s.interval.Store("")
	s.control.Store(attitude.Snapshot{})
	s.sensor.Store(SensorSnapshot{})
	s.boardTemp.Store((*float64)(nil))
	return s
}

// SensorSnapshot is the last decoded Razor frame in degrees.
type SensorSnapshot struct {
	HaveFix  bool    `json:"have_fix"`
	YawDeg   float32 `json:"yaw_deg"`
	PitchDeg float32 `json:"pitch_deg"`
	RollDeg  float32 `json:"roll_deg"`
}

func (s *Status) SetStatic(source, dest string) {
	if source != "" {
		s.source.Store(source)
	}
	if dest != "" {
		s.dest.Store(dest)
	}
}

// SetInterval records the downlink interval currently in effect.
func (s *Status) SetInterval(d time.Duration) {
	s.interval.Store(d.String())
}

// MarkDecode counts one decoder pass. NoData passes are not counted.
func (s *Status) MarkDecode(res razor.Result, err error) {
	switch {
	case err != nil:
		atomic.AddUint64(&s.decodeErrors, 1)
	case res == razor.Decoded:
		atomic.AddUint64(&s.decoded, 1)
	case res == razor.NoFrame:
		atomic.AddUint64(&s.noFrame, 1)
	}
}

func (s *Status) SetSensor(sensor SensorSnapshot) {
	s.sensor.Store(sensor)
}

// SetControl stores the controller state from the latest cycle.
func (s *Status) SetControl(nowUTC time.Time, snap attitude.Snapshot) {
	if nowUTC.IsZero() {
		nowUTC = time.Now().UTC()
	}
	s.control.Store(snap)
	atomic.StoreInt64(&s.lastTickNano, nowUTC.UnixNano())
}

// SetBoardTemp records the flight computer temperature. A read error clears
// it so stale values are not reported.
func (s *Status) SetBoardTemp(c float64, err error) {
	if err != nil {
		s.boardTemp.Store((*float64)(nil))
		return
	}
	s.boardTemp.Store(&c)
}

func (s *Status) MarkSent() {
	atomic.AddUint64(&s.packetsSent, 1)
}

type AxisStatus struct {
	Axis       string  `json:"axis"`
	Desired    int32   `json:"desired"`
	Actual     int32   `json:"actual"`
	ActualDeg  float64 `json:"actual_deg"`
	Error      int64   `json:"error"`
	Integral   int64   `json:"integral"`
	Derivative int64   `json:"derivative"`
	Actuation  int32   `json:"actuation"`
}

type DecoderStatus struct {
	Decoded uint64 `json:"decoded"`
	NoFrame uint64 `json:"no_frame"`
	Errors  uint64 `json:"errors"`
}

type StatusSnapshot struct {
	Service     string         `json:"service"`
	NowUTC      string         `json:"now_utc"`
	UptimeSec   int64          `json:"uptime_sec"`
	Source      string         `json:"source"`
	Dest        string         `json:"dest,omitempty"`
	Interval    string         `json:"interval,omitempty"`
	PacketsSent uint64         `json:"packets_sent"`
	LastTickUTC string         `json:"last_tick_utc,omitempty"`
	Enabled     bool           `json:"enabled"`
	Samples     int            `json:"samples"`
	Axes        []AxisStatus   `json:"axes"`
	Sensor      SensorSnapshot `json:"sensor"`
	Decoder     DecoderStatus  `json:"decoder"`
	BoardTempC  *float64       `json:"board_temp_c,omitempty"`
}

func (s *Status) Snapshot(nowUTC time.Time) StatusSnapshot {
	if nowUTC.IsZero() {
		nowUTC = time.Now().UTC()
	}
	start := time.Unix(0, atomic.LoadInt64(&s.startUnixNano)).UTC()
	ctl := s.control.Load().(attitude.Snapshot)

	snap := StatusSnapshot{
		Service:     "sparky-ng",
		NowUTC:      nowUTC.UTC().Format(time.RFC3339Nano),
		UptimeSec:   int64(nowUTC.Sub(start).Seconds()),
		Source:      s.source.Load().(string),
		Dest:        s.dest.Load().(string),
		Interval:    s.interval.Load().(string),
		PacketsSent: atomic.LoadUint64(&s.packetsSent),
		Enabled:     ctl.Enabled,
		Samples:     ctl.SampleCount,
		Sensor:      s.sensor.Load().(SensorSnapshot),
		BoardTempC:  s.boardTemp.Load().(*float64),
		Decoder: DecoderStatus{
			Decoded: atomic.LoadUint64(&s.decoded),
			NoFrame: atomic.LoadUint64(&s.noFrame),
			Errors:  atomic.LoadUint64(&s.decodeErrors),
		},
	}
	if lt := atomic.LoadInt64(&s.lastTickNano); lt != 0 {
		snap.LastTickUTC = time.Unix(0, lt).UTC().Format(time.RFC3339Nano)
	}
	snap.Axes = make([]AxisStatus, 0, len(attitude.Axes))
	for _, a := range attitude.Axes {
		ax := ctl.Axis(a)
		snap.Axes = append(snap.Axes, AxisStatus{
			Axis:       a.String(),
			Desired:    ax.Desired,
			Actual:     ax.Actual,
			ActualDeg:  fixedpoint.ToDegrees(ax.Actual),
			Error:      ax.Error,
			Integral:   ax.Integral,
			Derivative: ax.Derivative,
			Actuation:  ax.Actuation,
		})
	}
	return snap
}

// Encode renders snap as one JSON line for the downlink.
func Encode(snap StatusSnapshot) ([]byte, error) {
	b, err := json.Marshal(snap)
	if err != nil {
		return nil, fmt.Errorf("telemetry: encode: %w", err)
	}
	return append(b, '\n'), nil
}

// Payload returns a function suitable for udp.Broadcaster.Run. Each call
// encodes a fresh snapshot and counts it as sent. A snapshot that cannot be
// encoded is logged and yields nil, which is not counted.
func (s *Status) Payload() func() []byte {
	return func() []byte {
		b, err := Encode(s.Snapshot(time.Now().UTC()))
		if err != nil {
			log.Printf("telemetry: payload dropped: %v", err)
			return nil
		}
		s.MarkSent()
		return b
	}
}
