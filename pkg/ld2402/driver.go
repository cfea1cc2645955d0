// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package ld2402

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"
)

// Config holds driver settings. The zero value is not usable; start from
// DefaultConfig or pass Options to New.
type Config struct {
	Logger *zap.Logger
	Clock  Clock
	Sink   Sink

	DistanceThrottle    time.Duration
	EngineeringThrottle time.Duration
	ResponseTimeout     time.Duration

	// MotionGates and StillGates are how many per-gate energies are
	// published from engineering frames. Zero for both disables decoding.
	MotionGates int
	StillGates  int

	// StartupChecks schedules the firmware and power interference queries
	// after Start.
	StartupChecks      bool
	FirmwareCheckDelay time.Duration
	PowerCheckDelay    time.Duration
	StatusInterval     time.Duration

	// FrameHandler, when set, receives every data frame the driver sees.
	FrameHandler func(at time.Time, frameType byte, frame []byte)
}

// DefaultConfig returns the settings New starts from.
func DefaultConfig() Config {
	return Config{
		Logger:              zap.NewNop(),
		Clock:               SystemClock(),
		Sink:                discardSink{},
		DistanceThrottle:    DefaultDistanceThrottle,
		EngineeringThrottle: DefaultEngineeringThrottle,
		ResponseTimeout:     DefaultResponseTimeout,
		MotionGates:         DefaultGates,
		StillGates:          DefaultGates,
		StartupChecks:       true,
		FirmwareCheckDelay:  20 * time.Second,
		PowerCheckDelay:     3 * time.Second,
		StatusInterval:      10 * time.Second,
	}
}

// Option adjusts a Config.
type Option func(*Config)

func WithLogger(l *zap.Logger) Option { return func(c *Config) { c.Logger = l } }
func WithClock(clk Clock) Option      { return func(c *Config) { c.Clock = clk } }
func WithSink(s Sink) Option          { return func(c *Config) { c.Sink = s } }

func WithDistanceThrottle(d time.Duration) Option {
	return func(c *Config) { c.DistanceThrottle = d }
}

func WithEngineeringThrottle(d time.Duration) Option {
	return func(c *Config) { c.EngineeringThrottle = d }
}

func WithResponseTimeout(d time.Duration) Option {
	return func(c *Config) { c.ResponseTimeout = d }
}

// WithGates sets how many motion and still gate energies are published.
func WithGates(motion, still int) Option {
	return func(c *Config) {
		c.MotionGates = motion
		c.StillGates = still
	}
}

func WithStartupChecks(enabled bool) Option {
	return func(c *Config) { c.StartupChecks = enabled }
}

func WithFrameHandler(fn func(at time.Time, frameType byte, frame []byte)) Option {
	return func(c *Config) { c.FrameHandler = fn }
}

func clampGates(n int) int {
	return max(0, min(n, DefaultGates))
}

// Driver owns the device session: its state, the command engine and the
// stream classifier. Methods are not safe for concurrent use; use Run and
// Submit to drive it from several goroutines.
type Driver struct {
	cfg        Config
	transport  Transport
	clock      Clock
	logger     *zap.Logger
	sink       Sink
	stats      *Statistics
	engine     *Engine
	classifier *Classifier

	state State

	distanceThrottle    throttle
	engineeringThrottle throttle

	started           bool
	startedAt         time.Time
	firmwareChecked   bool
	firmwareCheckedAt time.Time
	powerChecked      bool

	lastStatus  time.Time
	statusBytes uint64
	seenBytes   uint64
	watchdog    engineeringWatchdog

	requests chan func()
}

// New creates a driver over transport.
func New(transport Transport, opts ...Option) *Driver {
	cfg := DefaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.Clock == nil {
		cfg.Clock = SystemClock()
	}
	if cfg.Sink == nil {
		cfg.Sink = discardSink{}
	}
	if cfg.ResponseTimeout <= 0 {
		cfg.ResponseTimeout = DefaultResponseTimeout
	}
	cfg.MotionGates = clampGates(cfg.MotionGates)
	cfg.StillGates = clampGates(cfg.StillGates)

	now := cfg.Clock.Now()
	stats := NewStatistics(now)
	d := &Driver{
		cfg:                 cfg,
		transport:           transport,
		clock:               cfg.Clock,
		logger:              cfg.Logger,
		sink:                cfg.Sink,
		stats:               stats,
		engine:              NewEngine(transport, cfg.Clock, cfg.Logger.Named("engine"), stats),
		classifier:          NewClassifier(transport, cfg.Clock, cfg.Logger.Named("stream"), stats),
		distanceThrottle:    throttle{interval: cfg.DistanceThrottle},
		engineeringThrottle: throttle{interval: cfg.EngineeringThrottle},
		lastStatus:          now,
		requests:            make(chan func()),
	}
	d.state.LastByteAt = now

	d.classifier.Engineering = func() bool { return d.state.Mode == ModeEngineering }
	d.classifier.OnLine = d.handleLine
	d.classifier.OnEngineeringFrame = func(frame []byte) { d.HandleEngineeringFrame(frame) }
	d.classifier.OnDataFrame = d.handleDataFrame
	return d
}

// State returns a copy of the driver state.
func (d *Driver) State() State { return d.state }

// Statistics returns a copy of the counters.
func (d *Driver) Statistics() Statistics {
	s := *d.stats
	s.LastUpdateTime = d.clock.Now()
	s.CalculateRates(s.LastUpdateTime)
	return s
}

// CaptureState returns the engineering capture state.
func (d *Driver) CaptureState() CaptureState { return d.classifier.State() }

// Logger returns the driver's logger.
func (d *Driver) Logger() *zap.Logger { return d.logger }

func (d *Driver) publish(e Event) {
	e.Time = d.clock.Now()
	d.sink.Publish(e)
}

func (d *Driver) updateMode(m OperatingMode) {
	d.state.Mode = m
	d.publish(Event{Kind: EventOperatingMode, Text: m.String()})
}

func (d *Driver) updateFirmware(version string) {
	d.state.FirmwareVersion = version
	d.publish(Event{Kind: EventFirmwareVersion, Text: version})
}

// Start runs the startup handshake: force the device into normal mode and
// publish the defaults. A failed handshake is logged and returned, but the
// driver stays usable.
func (d *Driver) Start() error {
	now := d.clock.Now()
	d.started = true
	d.startedAt = now
	d.lastStatus = now
	d.state.LastByteAt = now
	d.distanceThrottle.hold(now)

	d.logger.Info("setting up LD2402")
	d.engine.Drain()

	err := StartupPolicy.Do(d.clock, func(attempt int) error {
		if attempt > 0 {
			d.logger.Info("retrying config mode", zap.Int("attempt", attempt+1))
		}
		return d.EnterConfig()
	})
	if err != nil {
		d.logger.Warn("failed to enter config mode during setup, continuing", zap.Error(err))
	} else {
		if merr := d.SetMode(ModeNormal); merr != nil {
			d.logger.Warn("failed to set normal mode during setup", zap.Error(merr))
		}
		if xerr := d.ExitConfig(); xerr != nil {
			d.logger.Warn("failed to leave config mode during setup", zap.Error(xerr))
		}
		d.clock.Sleep(200 * time.Millisecond)
	}

	d.updateFirmware(VersionDefault)
	d.updateMode(ModeNormal)
	d.logger.Info("LD2402 setup complete")
	return err
}

// Poll performs one cooperative step: stream processing, calibration
// polling, scheduled checks and the engineering watchdog.
func (d *Driver) Poll() {
	if d.state.reconcile() {
		d.logger.Info("engineering data enabled outside engineering mode, disabling")
	}

	d.classifier.Poll()

	now := d.clock.Now()
	if d.stats.BytesReceived != d.seenBytes {
		d.seenBytes = d.stats.BytesReceived
		d.state.LastByteAt = now
	}

	d.pollCalibration(now)
	d.runScheduledChecks(now)
	d.checkEngineeringWatchdog(now)
	d.logStatus(now)
}

// Run polls every interval until ctx is cancelled, executing submitted
// requests between polls.
func (d *Driver) Run(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case req := <-d.requests:
			req()
		case <-ticker.C:
			d.Poll()
		}
	}
}

// Submit queues fn to run on the Run goroutine. It returns once fn has been
// picked up, not when it finishes.
func (d *Driver) Submit(ctx context.Context, fn func(*Driver)) error {
	select {
	case d.requests <- func() { fn(d) }:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Call runs fn on the Run goroutine and waits for it to return.
func (d *Driver) Call(ctx context.Context, fn func(*Driver) error) error {
	done := make(chan error, 1)
	if err := d.Submit(ctx, func(d *Driver) { done <- fn(d) }); err != nil {
		return err
	}
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (d *Driver) runScheduledChecks(now time.Time) {
	if !d.started || !d.cfg.StartupChecks {
		return
	}
	if !d.firmwareChecked && now.Sub(d.startedAt) > d.cfg.FirmwareCheckDelay {
		d.logger.Info("performing firmware version check")
		if _, err := d.ReadFirmwareVersion(); err != nil {
			d.logger.Warn("firmware version check failed", zap.Error(err))
		}
		d.firmwareChecked = true
		d.firmwareCheckedAt = d.clock.Now()
		return
	}
	if d.firmwareChecked && !d.powerChecked && now.Sub(d.firmwareCheckedAt) > d.cfg.PowerCheckDelay {
		d.logger.Info("performing power interference check")
		if _, err := d.CheckPowerInterference(); err != nil {
			d.logger.Warn("power interference check failed", zap.Error(err))
		}
		d.powerChecked = true
	}
}

func (d *Driver) logStatus(now time.Time) {
	if d.cfg.StatusInterval <= 0 || now.Sub(d.lastStatus) < d.cfg.StatusInterval {
		return
	}
	window := d.stats.BytesReceived - d.statusBytes
	d.logger.Info("stream status",
		zap.Uint64("bytes", window),
		zap.Duration("window", now.Sub(d.lastStatus)),
		zap.String("mode", d.state.Mode.String()),
		zap.Stringer("capture", d.classifier.State()))
	d.statusBytes = d.stats.BytesReceived
	d.lastStatus = now
}

// engineeringWatchdog re-triggers the data flow when engineering mode goes
// quiet.
type engineeringWatchdog struct {
	since     time.Time
	lastRetry time.Time
	retries   int
	warned    bool
}

// Watchdog limits
const (
	watchdogSilence  = 10 * time.Second
	watchdogInterval = 15 * time.Second
	watchdogRetries  = 3
	watchdogGiveUp   = 60 * time.Second
)

func (d *Driver) checkEngineeringWatchdog(now time.Time) {
	w := &d.watchdog
	if d.state.Mode != ModeEngineering {
		*w = engineeringWatchdog{}
		return
	}
	if w.since.IsZero() {
		w.since = now
	}

	quiet := now.Sub(d.state.LastByteAt) > watchdogSilence && now.Sub(w.since) > watchdogSilence
	if !quiet {
		w.retries = 0
		w.warned = false
		return
	}

	switch {
	case w.retries < watchdogRetries && (w.lastRetry.IsZero() || now.Sub(w.lastRetry) > watchdogInterval):
		w.retries++
		w.lastRetry = now
		d.logger.Warn("no data in engineering mode, re-triggering data flow",
			zap.Int("attempt", w.retries),
			zap.Int("max", watchdogRetries))
		payload := []byte{byte(ParamMaxDistance), byte(ParamMaxDistance >> 8)}
		if err := d.engine.Send(CmdGetParams, payload); err != nil {
			d.logger.Warn("failed to re-trigger engineering data", zap.Error(err))
		}
	case w.retries >= watchdogRetries && !w.warned && now.Sub(w.since) > watchdogGiveUp:
		w.warned = true
		d.logger.Warn("engineering mode not producing data frames after retries, try power cycling the device")
	}
}

// handleLine publishes the readings carried by a text status line.
func (d *Driver) handleLine(line string) {
	d.logger.Debug("line", zap.String("text", line))
	d.detectVersion(line)

	r := ParseLine(line)
	switch r.Kind {
	case LineOff:
		d.setPresence(false, false)
		if d.distanceThrottle.allow(d.clock.Now()) {
			d.state.Distance = 0
			d.publish(Event{Kind: EventDistance, Value: 0})
		}
	case LineDistance:
		d.setPresence(r.Presence(), r.Micromovement())
		if d.distanceThrottle.allow(d.clock.Now()) {
			d.state.Distance = r.Distance
			d.publish(Event{Kind: EventDistance, Value: r.Distance})
		}
	default:
		d.logger.Debug("unrecognized line", zap.String("text", line))
	}
}

func (d *Driver) setPresence(presence, micro bool) {
	d.state.Presence = presence
	d.state.Micromovement = micro
	d.publish(Event{Kind: EventPresence, State: presence})
	d.publish(Event{Kind: EventMicromovement, State: micro})
}

// detectVersion picks a version number out of free text while only the
// model name is known.
func (d *Driver) detectVersion(line string) {
	fw := d.state.FirmwareVersion
	if !strings.HasPrefix(fw, VersionDefault) || strings.Contains(fw, "v") {
		return
	}
	if version, ok := DetectVersion(line); ok {
		d.logger.Info("firmware version detected from output", zap.String("version", version))
		d.updateFirmware(version)
	}
}

// DetectVersion extracts "v<digits.digits>" from a line that mentions a
// version.
func DetectVersion(line string) (string, bool) {
	if !strings.ContainsAny(line, "vV") {
		return "", false
	}
	for i := 0; i < len(line); i++ {
		start := -1
		switch {
		case line[i] == 'v' || line[i] == 'V':
			start = i + 1
		case i+2 < len(line) && isDigit(line[i]) && line[i+1] == '.' && isDigit(line[i+2]):
			start = i
		}
		if start < 0 {
			continue
		}
		end := start
		for end < len(line) && (isDigit(line[end]) || line[end] == '.') {
			end++
		}
		if end > start && isDigit(line[start]) {
			return "v" + line[start:end], true
		}
	}
	return "", false
}

func isDigit(c byte) bool { return c >= '0' && c <= '9' }

func (d *Driver) handleDataFrame(frameType byte, frame []byte) {
	if d.cfg.FrameHandler != nil {
		d.cfg.FrameHandler(d.clock.Now(), frameType, frame)
	}
}

// HandleEngineeringFrame decodes an engineering frame and publishes its
// readings. It reports whether the frame was accepted.
func (d *Driver) HandleEngineeringFrame(frame []byte) bool {
	if !d.state.EngineeringEnabled {
		d.logger.Debug("engineering data disabled, ignoring frame")
		return false
	}
	if d.cfg.MotionGates == 0 && d.cfg.StillGates == 0 {
		d.logger.Debug("no gate energies configured, ignoring frame")
		return false
	}

	f, err := DecodeEngineering(frame)
	if err != nil {
		d.stats.RejectedFrames++
		d.logger.Debug("rejected engineering frame", zap.Error(err))
		return false
	}
	d.stats.EngineeringFrames++
	if d.cfg.FrameHandler != nil {
		d.cfg.FrameHandler(d.clock.Now(), DataTypeEngineering, frame)
	}
	if !f.Complete {
		d.logger.Debug("engineering frame shorter than declared",
			zap.Int("size", len(frame)),
			zap.Uint16("declared", f.DeclaredLength))
	}

	if !d.engineeringThrottle.allow(d.clock.Now()) {
		return true
	}

	d.state.Distance = float64(f.Distance)
	d.publish(Event{Kind: EventDistance, Value: float64(f.Distance)})
	d.setPresence(f.Presence(), f.Micromovement())

	for i := 0; i < len(f.Motion) && i < d.cfg.MotionGates; i++ {
		d.publish(Event{Kind: EventMotionEnergy, Gate: i, Value: f.Motion[i]})
	}
	for i := 0; i < len(f.Still) && i < d.cfg.StillGates; i++ {
		d.publish(Event{Kind: EventStillEnergy, Gate: i, Value: f.Still[i]})
	}
	return true
}
