// Package pump drives one loopback session: it polls the capture engine at
// a steady cadence and forwards every non-empty chunk of samples to a sink
// until the context is cancelled, the duration limit is reached or the
// endpoint goes away.
package pump

import (
	"context"
	"fmt"
	"runtime"
	"time"

	"github.com/breeze-rmm/loopback/internal/capture"
	"github.com/breeze-rmm/loopback/internal/health"
	"github.com/breeze-rmm/loopback/internal/logging"
	"github.com/breeze-rmm/loopback/internal/sink"
	"github.com/breeze-rmm/loopback/internal/source"
	"github.com/breeze-rmm/loopback/internal/status"
	"github.com/breeze-rmm/loopback/pkg/loopback"
)

const (
	DefaultBufferFrames = 4096
	DefaultIdleWait     = 20 * time.Millisecond
)

// Reason says why Run stopped without an error.
type Reason string

const (
	Cancelled         Reason = "cancelled"
	DurationReached   Reason = "duration_reached"
	DeviceInvalidated Reason = "device_invalidated"
)

// Config controls a pump.
type Config struct {
	Request source.Request
	// BufferFrames is the size of each read in frames.
	BufferFrames int
	// IdleWait is how long to back off after a read that did not fill the
	// buffer. Zero selects DefaultIdleWait; negative disables the back-off.
	IdleWait time.Duration
	// Duration stops the pump after this much audio; zero runs until
	// cancelled.
	Duration time.Duration
}

// Result summarises a finished run.
type Result struct {
	Info   capture.OutputInfo
	Frames int64
	Reason Reason
}

// Pump owns one capture session for the duration of Run.
type Pump struct {
	registry *loopback.Registry
	cfg      Config
	sink     sink.Sink
	monitor  *health.Monitor

	now   func() time.Time
	sleep func(context.Context, time.Duration) error
}

// New returns a pump reading through registry into s. monitor may be nil.
func New(registry *loopback.Registry, cfg Config, s sink.Sink, monitor *health.Monitor) *Pump {
	if cfg.BufferFrames <= 0 {
		cfg.BufferFrames = DefaultBufferFrames
	}
	switch {
	case cfg.IdleWait == 0:
		cfg.IdleWait = DefaultIdleWait
	case cfg.IdleWait < 0:
		cfg.IdleWait = 0
	}
	return &Pump{
		registry: registry,
		cfg:      cfg,
		sink:     s,
		monitor:  monitor,
		now:      time.Now,
		sleep:    sleepContext,
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Run captures until ctx is cancelled, the configured duration is reached
// or the endpoint is invalidated. It logs through the logger carried by ctx,
// if any. The session is created, read and destroyed
// on one locked OS thread, and the sink is always closed.
func (p *Pump) Run(ctx context.Context) (res Result, err error) {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	defer func() {
		if cerr := p.sink.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("close sink: %w", cerr)
		}
	}()

	h := p.registry.Create()
	defer p.registry.Destroy(h)

	device := p.cfg.Request.Device
	logger := logging.FromContext(ctx).With(logging.KeyComponent, "pump", logging.KeyDevice, device)

	infoBuf := make([]byte, loopback.OutputInfoSize)
	if st := p.registry.Initialise(h, infoBuf, p.cfg.Request.DeviceName()); loopback.Failed(st) {
		err := status.FromStatus(st)
		p.report(err, health.Unhealthy)
		return res, fmt.Errorf("initialise loopback %q: %w", p.cfg.Request.Identifier(), err)
	}
	info, _ := capture.ParseOutputInfo(infoBuf)
	res.Info = info

	if err := p.sink.Start(info); err != nil {
		return res, fmt.Errorf("start sink: %w", err)
	}
	p.report(nil, health.Healthy)

	channels := int(info.ChannelCount)
	buf := make([]int16, p.cfg.BufferFrames*channels)
	limit := framesFor(p.cfg.Duration, info.SampleRate)

	logger.Info("pump started",
		logging.KeyChannels, info.ChannelCount,
		logging.KeySampleRate, info.SampleRate,
		"bufferFrames", p.cfg.BufferFrames)

	var lastExhausted time.Time
	for {
		if ctx.Err() != nil {
			res.Reason = Cancelled
			break
		}
		if err := p.waitForData(ctx, lastExhausted); err != nil {
			res.Reason = Cancelled
			break
		}

		want := len(buf)
		if limit > 0 {
			want = min(want, int(limit-res.Frames)*channels)
		}

		n := p.registry.Read(h, buf, want)
		if loopback.Failed(n) {
			if n == loopback.DeviceInvalidated {
				logger.Debug("device has been invalidated, ending stream")
				p.update(health.Unhealthy, "device invalidated")
				res.Reason = DeviceInvalidated
				break
			}
			err := status.FromStatus(n)
			p.report(err, health.Unhealthy)
			return res, fmt.Errorf("read loopback: %w", err)
		}

		if int(n) < len(buf) {
			lastExhausted = p.now()
		}
		if n == 0 {
			continue
		}

		if err := p.sink.Write(buf[:n]); err != nil {
			p.report(err, health.Degraded)
			return res, fmt.Errorf("write samples: %w", err)
		}
		res.Frames += n / int64(channels)

		if limit > 0 && res.Frames >= limit {
			res.Reason = DurationReached
			break
		}
	}

	logger.Info("pump stopped", "reason", string(res.Reason), "frames", res.Frames)
	return res, nil
}

// waitForData sleeps until IdleWait has passed since the last read that
// came back short.
func (p *Pump) waitForData(ctx context.Context, lastExhausted time.Time) error {
	if lastExhausted.IsZero() {
		return nil
	}
	wait := lastExhausted.Add(p.cfg.IdleWait).Sub(p.now())
	if wait <= 0 {
		return nil
	}
	return p.sleep(ctx, wait)
}

func (p *Pump) update(s health.Status, message string) {
	if p.monitor == nil {
		return
	}
	p.monitor.Update(health.Capture, s, message)
}

func (p *Pump) report(err error, s health.Status) {
	if p.monitor == nil {
		return
	}
	p.monitor.Report(health.Capture, err, s)
}

func framesFor(d time.Duration, sampleRate int32) int64 {
	if d <= 0 || sampleRate <= 0 {
		return 0
	}
	return int64(d) * int64(sampleRate) / int64(time.Second)
}
