package main

import (
	"bytes"
	"context"
	"encoding/hex"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"sparky-ng/internal/attitude"
	"sparky-ng/internal/config"
	"sparky-ng/internal/razor"
	"sparky-ng/internal/web"
)

// writeCapture writes a replay capture holding frames, split into two
// chunks 20ms apart so a looping replay keeps feeding the decoder.
func writeCapture(t *testing.T, frames [][]byte) string {
	t.Helper()
	raw := bytes.Join(frames, nil)
	half := len(raw) / 2
	path := filepath.Join(t.TempDir(), "capture.log")
	contents := fmt.Sprintf("START\n0,%s\n20000000,%s\n",
		hex.EncodeToString(raw[:half]), hex.EncodeToString(raw[half:]))
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	return path
}

func replayCfg(t *testing.T, capture string) config.Config {
	t.Helper()
	cfg := config.Config{
		Razor: config.RazorConfig{
			ReplayPath:   capture,
			ReplayLoop:   true,
			PollInterval: config.Duration(time.Millisecond),
		},
		Control: config.ControlConfig{
			MinUpdateInterval: config.Duration(time.Millisecond),
			EnableOnStart:     true,
			Axes: config.AxesConfig{
				Yaw: config.AxisConfig{P: 10, Plus: 5, Minus: 6},
			},
		},
		Datalog: config.DatalogConfig{Enable: true, Dir: t.TempDir()},
	}
	if err := config.DefaultAndValidate(&cfg); err != nil {
		t.Fatalf("DefaultAndValidate: %v", err)
	}
	return cfg
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestRuntime_ReplayDrivesActuators(t *testing.T) {
	var frames [][]byte
	for i := 0; i < 8; i++ {
		frames = append(frames, razor.EncodeFrame(10, 0, 0))
	}
	cfg := replayCfg(t, writeCapture(t, frames))

	rt, err := newRuntime(cfg, web.NewLogBuffer(100))
	if err != nil {
		t.Fatalf("newRuntime: %v", err)
	}
	out := rt.out
	ctl := rt.ctl

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- rt.Run(ctx) }()

	// Desired yaw 0, measured 10.00 degrees: error -1000, P=10 gives -100 on
	// the minus channel.
	waitFor(t, "yaw minus actuation", func() bool { return out.Level(6) == 100 })
	if out.Level(5) != 0 {
		t.Fatalf("plus level=%d want 0", out.Level(5))
	}

	snap := rt.status.Snapshot(time.Time{})
	if snap.Decoder.Decoded == 0 || !snap.Enabled || snap.Source != "replay:"+cfg.Razor.ReplayPath {
		t.Fatalf("status=%+v", snap)
	}
	if yaw := snap.Axes[attitude.Yaw]; yaw.Actual != 1000 || yaw.Actuation != -100 {
		t.Fatalf("yaw status=%+v", yaw)
	}

	// Commands reach the live controller.
	if reply := rt.dispatcher.Handle("5 0"); reply != "OK" {
		t.Fatalf("disable reply=%q", reply)
	}
	if ctl.Enabled() || out.Level(6) != 0 {
		t.Fatalf("enabled=%v minus=%d after disable", ctl.Enabled(), out.Level(6))
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run: %v", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatalf("Run did not return")
	}
	rt.Close()

	b, err := os.ReadFile(filepath.Join(cfg.Datalog.Dir, "DATA000.CSV"))
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(string(b)), "\r\n")
	if len(lines) < 2 {
		t.Fatalf("datalog has no rows: %q", b)
	}
	if !strings.HasPrefix(lines[0], "Time,Yaw,Time,Pitch,Time,Roll,Time,Enabled,") {
		t.Fatalf("header=%q", lines[0])
	}
	if !strings.Contains(lines[1], ",10.00,") {
		t.Fatalf("first row=%q", lines[1])
	}
}

func TestRuntime_NonFiniteFramesAreDropped(t *testing.T) {
	nan := float32(math.NaN())
	inf := float32(math.Inf(1))
	var frames [][]byte
	for i := 0; i < 4; i++ {
		frames = append(frames, razor.EncodeFrame(nan, 1, 2), razor.EncodeFrame(5, inf, 0))
	}
	cfg := replayCfg(t, writeCapture(t, frames))

	rt, err := newRuntime(cfg, nil)
	if err != nil {
		t.Fatalf("newRuntime: %v", err)
	}
	out := rt.out
	ctl := rt.ctl

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- rt.Run(ctx) }()

	waitFor(t, "dropped windows", func() bool {
		return rt.status.Snapshot(time.Time{}).Decoder.NoFrame >= 4
	})
	snap := rt.status.Snapshot(time.Time{})
	if snap.Decoder.Decoded != 0 || snap.Sensor.HaveFix {
		t.Fatalf("decoder=%+v sensor=%+v want nothing accepted", snap.Decoder, snap.Sensor)
	}
	if s := ctl.Snapshot(); s.SampleCount != 0 {
		t.Fatalf("samples=%d want 0", s.SampleCount)
	}
	if out.Level(5) != 0 || out.Level(6) != 0 {
		t.Fatalf("levels=%d,%d want 0,0", out.Level(5), out.Level(6))
	}
	if p := rt.status.Payload()(); len(p) == 0 {
		t.Fatalf("telemetry payload empty")
	}

	cancel()
	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatalf("Run did not return")
	}
	rt.Close()

	b, err := os.ReadFile(filepath.Join(cfg.Datalog.Dir, "DATA000.CSV"))
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if lines := strings.Split(strings.TrimSpace(string(b)), "\r\n"); len(lines) != 1 {
		t.Fatalf("datalog rows=%d want header only: %q", len(lines)-1, b)
	}
}

func TestRuntime_RateCommandWithoutTelemetryIsRejected(t *testing.T) {
	cfg := replayCfg(t, writeCapture(t, [][]byte{razor.EncodeFrame(0, 0, 0), razor.EncodeFrame(0, 0, 0)}))
	cfg.Datalog.Enable = false
	rt, err := newRuntime(cfg, nil)
	if err != nil {
		t.Fatalf("newRuntime: %v", err)
	}
	defer rt.Close()
	if reply := rt.dispatcher.Handle("1 10"); !strings.HasPrefix(reply, "ERR ") {
		t.Fatalf("reply=%q want ERR", reply)
	}
}

func TestRuntime_TelemetryIntervalCommand(t *testing.T) {
	cfg := replayCfg(t, writeCapture(t, [][]byte{razor.EncodeFrame(0, 0, 0), razor.EncodeFrame(0, 0, 0)}))
	cfg.Datalog.Enable = false
	cfg.Telemetry.Dest = "127.0.0.1:9"
	rt, err := newRuntime(cfg, nil)
	if err != nil {
		t.Fatalf("newRuntime: %v", err)
	}
	defer rt.Close()

	if reply := rt.dispatcher.Handle("1 30"); reply != "OK" {
		t.Fatalf("reply=%q", reply)
	}
	if got := rt.bcast.Interval(); got != 30*time.Second {
		t.Fatalf("interval=%s want 30s", got)
	}
	if got := rt.status.Snapshot(time.Time{}).Interval; got != "30s" {
		t.Fatalf("status interval=%q want 30s", got)
	}
}

func TestNewRuntime_BadReplayPath(t *testing.T) {
	cfg := replayCfg(t, filepath.Join(t.TempDir(), "missing.log"))
	if _, err := newRuntime(cfg, nil); err == nil {
		t.Fatalf("expected error for missing capture")
	}
}
