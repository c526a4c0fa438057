package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math"
	"sync"
	"time"

	"sparky-ng/internal/actuator"
	"sparky-ng/internal/attitude"
	"sparky-ng/internal/command"
	"sparky-ng/internal/config"
	"sparky-ng/internal/datalog"
	"sparky-ng/internal/fixedpoint"
	"sparky-ng/internal/metrics"
	"sparky-ng/internal/razor"
	"sparky-ng/internal/replay"
	"sparky-ng/internal/serial"
	"sparky-ng/internal/telemetry"
	"sparky-ng/internal/udp"
	"sparky-ng/internal/web"
)

// maxWindowsPerPoll bounds the work done per poll so a replay burst cannot
// starve shutdown.
const maxWindowsPerPoll = 64

var datalogFields = []string{
	"Yaw", "Pitch", "Roll", "Enabled",
	"YawError", "YawIntegral", "YawDerivative",
	"PitchActuation", "RollActuation", "YawActuation",
}

type liveRuntime struct {
	cfg    config.Config
	status *telemetry.Status
	logs   *web.LogBuffer

	src       razor.Source
	port      serial.Port
	replayBuf *serial.Buffer
	replayRec []replay.Record
	recorder  *replay.Writer

	dec      *razor.Decoder
	ctl      *attitude.Controller
	out      *actuator.Output
	dlog     datalog.Logger
	dlogFail bool
	badFrame bool
	metrics  *metrics.Metrics

	bcast      *udp.Broadcaster
	dispatcher *command.Dispatcher
	listener   *command.Listener
}

func newRuntime(cfg config.Config, logs *web.LogBuffer) (*liveRuntime, error) {
	c := cfg
	if err := config.DefaultAndValidate(&c); err != nil {
		return nil, err
	}

	r := &liveRuntime{cfg: c, status: telemetry.NewStatus(), logs: logs}
	ok := false
	defer func() {
		if !ok {
			r.Close()
		}
	}()

	if err := r.openSource(); err != nil {
		return nil, err
	}
	r.dec = razor.NewDecoder(r.src)

	if err := r.initControl(); err != nil {
		return nil, err
	}

	m, err := metrics.New(nil)
	if err != nil {
		return nil, fmt.Errorf("metrics: %w", err)
	}
	r.metrics = m

	if c.Datalog.Enable {
		if err := r.openDatalog(); err != nil {
			// Keep running without a data file.
			log.Printf("datalog disabled: %v", err)
		}
	}

	if c.Telemetry.Dest != "" {
		b, err := udp.NewBroadcaster(c.Telemetry.Dest)
		if err != nil {
			return nil, err
		}
		r.bcast = b
		b.SetInterval(c.Telemetry.Interval.Std())
		r.status.SetInterval(c.Telemetry.Interval.Std())
	}

	r.dispatcher = &command.Dispatcher{Target: r.ctl}
	if r.bcast != nil {
		r.dispatcher.SetTransmitInterval = func(d time.Duration) {
			r.bcast.SetInterval(d)
			r.status.SetInterval(d)
			log.Printf("telemetry interval=%s", d)
		}
	}
	if c.Command.Listen != "" {
		l, err := command.Listen(c.Command.Listen, r.dispatcher)
		if err != nil {
			return nil, err
		}
		r.listener = l
	}

	source := c.Razor.Device
	if c.Razor.ReplayPath != "" {
		source = "replay:" + c.Razor.ReplayPath
	}
	r.status.SetStatic(source, c.Telemetry.Dest)
	ok = true
	return r, nil
}

func (r *liveRuntime) openSource() error {
	rc := r.cfg.Razor
	if rc.ReplayPath != "" {
		recs, err := replay.ReadFile(rc.ReplayPath)
		if err != nil {
			return err
		}
		r.replayRec = recs
		r.replayBuf = serial.NewBuffer(serial.DefaultBufferSize)
		r.src = r.replayBuf
		log.Printf("razor replay path=%s records=%d speed=%g loop=%v", rc.ReplayPath, len(recs), rc.ReplaySpeed, rc.ReplayLoop)
		return nil
	}

	p, err := serial.Open(serial.Config{Device: rc.Device, Baud: rc.Baud, Backend: rc.Backend})
	if err != nil {
		return err
	}
	r.port = p
	r.src = p
	if err := razor.Begin(p); err != nil {
		return err
	}
	if rc.RecordPath != "" {
		w, err := replay.CreateWriter(rc.RecordPath)
		if err != nil {
			return err
		}
		r.recorder = w
		r.src = serial.NewTee(p, w)
		log.Printf("razor recording path=%s", rc.RecordPath)
	}
	log.Printf("razor device=%s baud=%d backend=%s", rc.Device, rc.Baud, rc.Backend)
	return nil
}

func (r *liveRuntime) initControl() error {
	cc := r.cfg.Control
	comb, err := attitude.CombinerByName(cc.Combiner)
	if err != nil {
		return err
	}
	pacing, err := attitude.ParsePacing(cc.Pacing)
	if err != nil {
		return err
	}

	axes := []struct {
		axis attitude.Axis
		cfg  config.AxisConfig
	}{
		{attitude.Pitch, cc.Axes.Pitch},
		{attitude.Roll, cc.Axes.Roll},
		{attitude.Yaw, cc.Axes.Yaw},
	}
	var channels []attitude.Channel
	for _, a := range axes {
		if a.cfg.Configured() {
			channels = append(channels, attitude.Channel(a.cfg.Plus), attitude.Channel(a.cfg.Minus))
		}
	}
	out, err := actuator.Open(actuator.Config{
		Backend:      r.cfg.Actuator.Backend,
		Channels:     channels,
		PWMFrequency: r.cfg.Actuator.PWMFrequency,
	})
	if err != nil {
		return err
	}
	r.out = out

	r.ctl = attitude.New(attitude.Config{
		MinUpdateInterval: cc.MinUpdateInterval.Std(),
		Output:            out,
		Combiner:          comb,
		Pacing:            pacing,
	})
	for _, a := range axes {
		r.ctl.SetGains(a.axis, a.cfg.P, a.cfg.I, a.cfg.D)
		r.ctl.SetActuationThreshold(a.cfg.Threshold, a.axis)
		if a.cfg.Configured() {
			r.ctl.SetActuatorPins(a.axis, attitude.Channel(a.cfg.Plus), attitude.Channel(a.cfg.Minus))
		}
	}
	r.ctl.SetDesiredState(cc.Desired.Pitch, cc.Desired.Roll, cc.Desired.Yaw)
	if err := r.ctl.Idle(); err != nil {
		return err
	}
	if cc.EnableOnStart {
		r.ctl.Enable()
		// Give the sensor one interval to settle before the first actuation.
		r.ctl.MarkActuated(r.ctl.Millis())
	}
	log.Printf("control combiner=%s pacing=%s min_update_interval=%s enabled=%v",
		cc.Combiner, pacing, cc.MinUpdateInterval, r.ctl.Enabled())
	return nil
}

func (r *liveRuntime) openDatalog() error {
	l, err := datalog.Open(r.cfg.Datalog.Format, r.cfg.Datalog.Dir)
	if err != nil {
		return err
	}
	for _, f := range datalogFields {
		if err := l.AddField(f); err != nil {
			_ = l.Close()
			return err
		}
	}
	if err := l.WriteHeader(); err != nil {
		_ = l.Close()
		return err
	}
	r.dlog = l
	return nil
}

// Run drives the control loop until ctx is done. Optional services run
// alongside it and stop with ctx.
func (r *liveRuntime) Run(ctx context.Context) error {
	var wg sync.WaitGroup
	spawn := func(name string, fn func() error) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := fn(); err != nil && !errors.Is(err, context.Canceled) {
				log.Printf("%s stopped: %v", name, err)
			}
		}()
	}

	if r.replayBuf != nil {
		rc := r.cfg.Razor
		spawn("replay", func() error {
			err := replay.Play(ctx, r.replayRec, rc.ReplaySpeed, rc.ReplayLoop, nil, func(b []byte) error {
				_, err := r.replayBuf.Write(b)
				return err
			})
			if err == nil {
				log.Printf("replay finished")
			}
			return err
		})
	}
	if r.bcast != nil {
		payload := r.status.Payload()
		spawn("telemetry", func() error {
			return r.bcast.Run(ctx, r.cfg.Telemetry.Interval.Std(), func() []byte {
				r.status.SetBoardTemp(telemetry.ReadBoardTempC(telemetry.ThermalZonePath))
				b := payload()
				if b != nil {
					r.metrics.ObserveSent()
				}
				return b
			}, func(err error) {
				log.Printf("telemetry send failed: %v", err)
			})
		})
	}
	if r.listener != nil {
		log.Printf("command listen=%s", r.listener.Addr())
		spawn("command listener", func() error { return r.listener.Serve(ctx) })
	}
	if addr := r.cfg.Web.Listen; addr != "" {
		log.Printf("web listen=%s", addr)
		spawn("web", func() error {
			return web.Serve(ctx, addr, web.Options{
				Status:   r.status,
				Logs:     r.logs,
				Metrics:  r.metrics.Handler(),
				Commands: r.dispatcher,
			})
		})
	}

	t := time.NewTicker(r.cfg.Razor.PollInterval.Std())
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			wg.Wait()
			return nil
		case <-t.C:
			for i := 0; i < maxWindowsPerPoll && r.dec.Available(); i++ {
				r.step()
			}
		}
	}
}

// step runs one decode and, on a fresh frame, one controller cycle.
func (r *liveRuntime) step() {
	res, err := r.dec.Decode()
	yaw, pitch, roll := r.dec.Yaw(), r.dec.Pitch(), r.dec.Roll()
	if err == nil && res == razor.Decoded {
		// A corrupted payload can still carry the marker.
		finite := isFinite(yaw) && isFinite(pitch) && isFinite(roll)
		switch {
		case !finite && !r.badFrame:
			log.Printf("razor frame dropped: non-finite angles yaw=%v pitch=%v roll=%v", yaw, pitch, roll)
			r.badFrame = true
		case finite && r.badFrame:
			log.Printf("razor frames valid again")
			r.badFrame = false
		}
		if !finite {
			res = razor.NoFrame
		}
	}
	r.status.MarkDecode(res, err)
	r.metrics.ObserveDecode(res, err)
	if err != nil {
		log.Printf("razor decode failed: %v", err)
		return
	}
	if res != razor.Decoded {
		return
	}

	now := r.ctl.Millis()
	r.ctl.UpdateState(fixedpoint.FromDegrees(pitch), fixedpoint.FromDegrees(roll), fixedpoint.FromDegrees(yaw), now)
	r.ctl.UpdateErrors()
	if err := r.ctl.UpdateActuators(); err != nil {
		log.Printf("actuator update failed: %v", err)
	}

	snap := r.ctl.Snapshot()
	r.status.SetSensor(telemetry.SensorSnapshot{HaveFix: true, YawDeg: yaw, PitchDeg: pitch, RollDeg: roll})
	r.status.SetControl(time.Now().UTC(), snap)
	r.metrics.Observe(snap)
	r.writeRow(now, yaw, pitch, roll, snap)
}

func isFinite(v float32) bool {
	f := float64(v)
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}

func (r *liveRuntime) writeRow(now uint32, yaw, pitch, roll float32, snap attitude.Snapshot) {
	if r.dlog == nil {
		return
	}
	y := snap.Axis(attitude.Yaw)
	err := r.dlog.WriteRow(now,
		yaw, pitch, roll, snap.Enabled,
		y.Error, y.Integral, y.Derivative,
		snap.Axis(attitude.Pitch).Actuation, snap.Axis(attitude.Roll).Actuation, y.Actuation,
	)
	switch {
	case err != nil && !r.dlogFail:
		log.Printf("datalog write failed: %v", err)
		r.dlogFail = true
	case err == nil && r.dlogFail:
		log.Printf("datalog write recovered")
		r.dlogFail = false
	}
}

// Close leaves every actuator channel low and releases resources.
func (r *liveRuntime) Close() {
	if r == nil {
		return
	}
	if r.ctl != nil {
		if err := r.ctl.Disable(); err != nil {
			log.Printf("control disable: %v", err)
		}
		r.ctl = nil
	}
	if r.out != nil {
		if err := r.out.Close(); err != nil {
			log.Printf("actuator close: %v", err)
		}
		r.out = nil
	}
	if r.dlog != nil {
		if err := r.dlog.Close(); err != nil {
			log.Printf("datalog close: %v", err)
		}
		r.dlog = nil
	}
	if r.recorder != nil {
		_ = r.recorder.Close()
		r.recorder = nil
	}
	if r.port != nil {
		_ = r.port.Close()
		r.port = nil
	}
	if r.replayBuf != nil {
		_ = r.replayBuf.Close()
	}
	if r.listener != nil {
		_ = r.listener.Close()
		r.listener = nil
	}
	if r.bcast != nil {
		_ = r.bcast.Close()
		r.bcast = nil
	}
}
