// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package ld2402

import (
	"encoding/binary"
	"fmt"
	"math"
	"time"

	"go.uber.org/zap"
)

// Parameter exchange timings
const (
	paramDelay      = 100 * time.Millisecond
	slowParamDelay  = 500 * time.Millisecond
	batchDelay      = 200 * time.Millisecond
	batchTimeout    = 2000 * time.Millisecond
	batchDataOffset = 10
)

// DBToThreshold converts a threshold in dB to the raw value the device
// stores.
func DBToThreshold(db float64) uint32 {
	return uint32(math.Round(math.Pow(10, db/10)))
}

// ThresholdToDB converts a raw threshold to dB. Zero maps to 0 dB.
func ThresholdToDB(raw uint32) float64 {
	return EnergyDB(raw)
}

// ClampThresholdDB limits a threshold to 0-95 dB.
func ClampThresholdDB(db float64) float64 {
	return math.Max(0, math.Min(MaxThresholdDB, db))
}

// WithConfig runs fn inside config mode, entering and leaving it only if it
// was not already active.
func (d *Driver) WithConfig(fn func() error) error {
	entered := false
	if !d.state.ConfigActive {
		if err := d.EnterConfig(); err != nil {
			return err
		}
		entered = true
	}
	err := fn()
	if entered {
		d.ExitConfig()
	}
	return err
}

// GetParameter reads one parameter. Config mode must be active.
func (d *Driver) GetParameter(id uint16) (uint32, error) {
	payload := binary.LittleEndian.AppendUint16(nil, id)

	delay, timeout := paramDelay, d.cfg.ResponseTimeout
	if id == ParamPowerInterference {
		delay, timeout = slowParamDelay, SlowParameterTimeout
	}

	resp, err := d.engine.Exchange(CmdGetParams, payload, delay, timeout)
	if err != nil {
		return 0, fmt.Errorf("get %s: %w", ParameterName(id), err)
	}

	shape, ok := MatchShape(GetParameterShapes, resp)
	if !ok {
		d.stats.MalformedResponses++
		return 0, &MalformedResponseError{Command: CmdGetParams, Response: resp}
	}
	value := shape.Value(resp)
	d.logger.Debug("parameter read",
		zap.String("param", ParameterName(id)),
		zap.Uint32("value", value),
		zap.String("shape", shape.Name))
	return value, nil
}

// SetParameter writes one parameter. Config mode must be active. Replies
// other than the explicit error marker count as success.
func (d *Driver) SetParameter(id uint16, value uint32) error {
	payload := binary.LittleEndian.AppendUint16(nil, id)
	payload = binary.LittleEndian.AppendUint32(payload, value)

	resp, err := d.engine.Exchange(CmdSetParams, payload, paramDelay, d.cfg.ResponseTimeout)
	if err != nil {
		return fmt.Errorf("set %s: %w", ParameterName(id), err)
	}

	shape, ok := MatchShape(SetParameterShapes, resp)
	if !ok {
		d.stats.MalformedResponses++
		return &MalformedResponseError{Command: CmdSetParams, Response: resp}
	}
	if shape.Name == "error" {
		return fmt.Errorf("%w: %s = %d", ErrRejected, ParameterName(id), value)
	}
	d.logger.Debug("parameter written",
		zap.String("param", ParameterName(id)),
		zap.Uint32("value", value))
	return nil
}

// GetParameters reads several parameters in one exchange. Config mode must
// be active.
func (d *Driver) GetParameters(ids []uint16) ([]uint32, error) {
	payload := binary.LittleEndian.AppendUint16(nil, uint16(len(ids)))
	for _, id := range ids {
		payload = binary.LittleEndian.AppendUint16(payload, id)
	}

	resp, err := d.engine.Exchange(CmdGetParams, payload, batchDelay, batchTimeout)
	if err != nil {
		return nil, fmt.Errorf("batch get: %w", err)
	}
	if len(resp) < batchDataOffset+4*len(ids) {
		d.stats.MalformedResponses++
		return nil, &MalformedResponseError{Command: CmdGetParams, Response: resp}
	}

	values := make([]uint32, len(ids))
	for i := range ids {
		offset := batchDataOffset + 4*i
		values[i] = binary.LittleEndian.Uint32(resp[offset : offset+4])
	}
	return values, nil
}

// SetMotionThreshold writes the motion trigger threshold of one gate.
func (d *Driver) SetMotionThreshold(gate int, db float64) error {
	return d.setThreshold(ParamTriggerThreshold, gate, db)
}

// SetMicromotionThreshold writes the micromotion threshold of one gate.
func (d *Driver) SetMicromotionThreshold(gate int, db float64) error {
	return d.setThreshold(ParamMicroThreshold, gate, db)
}

func (d *Driver) setThreshold(base uint16, gate int, db float64) error {
	if gate < 0 || gate >= DefaultGates {
		return &InvalidGateError{Gate: gate}
	}
	db = ClampThresholdDB(db)
	raw := DBToThreshold(db)
	id := base + uint16(gate)

	return d.WithConfig(func() error {
		if err := d.SetParameter(id, raw); err != nil {
			d.logger.Warn("failed to set threshold",
				zap.String("param", ParameterName(id)),
				zap.Error(err))
			return err
		}
		d.logger.Info("threshold set",
			zap.Int("gate", gate),
			zap.Float64("db", db),
			zap.Uint32("raw", raw))
		return nil
	})
}

// ReadMotionThresholds reads and publishes all motion thresholds in dB.
func (d *Driver) ReadMotionThresholds() ([]float64, error) {
	return d.readThresholds(ParamTriggerThreshold, EventMotionThreshold)
}

// ReadMicromotionThresholds reads and publishes all micromotion thresholds
// in dB.
func (d *Driver) ReadMicromotionThresholds() ([]float64, error) {
	return d.readThresholds(ParamMicroThreshold, EventMicromotionThreshold)
}

func (d *Driver) readThresholds(base uint16, kind EventKind) ([]float64, error) {
	ids := make([]uint16, DefaultGates)
	for i := range ids {
		ids[i] = base + uint16(i)
	}

	var dbs []float64
	err := d.WithConfig(func() error {
		values, err := d.GetParameters(ids)
		if err != nil {
			return err
		}
		dbs = make([]float64, len(values))
		for i, v := range values {
			dbs[i] = ThresholdToDB(v)
			d.publish(Event{Kind: kind, Gate: i, Value: dbs[i]})
		}
		return nil
	})
	return dbs, err
}

// DeviceConfig is the pair of settings the factory reset restores.
type DeviceConfig struct {
	MaxDistance float64 // metres
	Timeout     uint32  // seconds
}

// ReadDeviceConfig reads the maximum distance and presence timeout.
func (d *Driver) ReadDeviceConfig() (DeviceConfig, error) {
	var cfg DeviceConfig
	err := d.WithConfig(func() error {
		dist, err := d.GetParameter(ParamMaxDistance)
		if err != nil {
			return err
		}
		timeout, err := d.GetParameter(ParamTimeout)
		if err != nil {
			return err
		}
		cfg = DeviceConfig{MaxDistance: float64(dist) / 10, Timeout: timeout}
		return nil
	})
	return cfg, err
}

// WriteDeviceConfig writes the maximum distance and presence timeout.
func (d *Driver) WriteDeviceConfig(cfg DeviceConfig) error {
	if cfg.MaxDistance < MinMaxDistance || cfg.MaxDistance > MaxMaxDistance {
		return fmt.Errorf("max distance %.1f m out of range %.1f-%.1f", cfg.MaxDistance, MinMaxDistance, MaxMaxDistance)
	}
	if cfg.Timeout > MaxTimeout {
		return fmt.Errorf("timeout %d s out of range 0-%d", cfg.Timeout, MaxTimeout)
	}
	return d.WithConfig(func() error {
		if err := d.SetParameter(ParamMaxDistance, uint32(math.Round(cfg.MaxDistance*10))); err != nil {
			return err
		}
		return d.SetParameter(ParamTimeout, cfg.Timeout)
	})
}
