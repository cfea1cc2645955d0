// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package ld2402

import (
	"encoding/binary"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// Mode transition delays
const (
	configSettle      = 200 * time.Millisecond
	engineeringSettle = 300 * time.Millisecond
	engineeringReply  = 2000 * time.Millisecond
)

// awaitShape reads responses until one matches shapes or window elapses.
// Responses that match nothing are logged and skipped.
func (d *Driver) awaitShape(command uint16, shapes []Shape, window time.Duration) (Shape, []byte, error) {
	deadline := d.clock.Now().Add(window)
	var last []byte
	for {
		remaining := deadline.Sub(d.clock.Now())
		if remaining <= 0 {
			break
		}
		resp, err := d.engine.Await(remaining)
		if err != nil {
			break
		}
		if s, ok := MatchShape(shapes, resp); ok {
			return s, resp, nil
		}
		last = resp
		d.stats.MalformedResponses++
		d.logger.Debug("unexpected response",
			zap.String("command", CommandName(command)),
			zap.String("body", FormatHex(resp)))
	}
	if last != nil {
		return Shape{}, nil, &MalformedResponseError{Command: command, Response: last}
	}
	return Shape{}, nil, fmt.Errorf("%s: %w", CommandName(command), ErrResponseTimeout)
}

// EnterConfig puts the device into config mode. It is a no-op when config
// mode is already active.
func (d *Driver) EnterConfig() error {
	if d.state.ConfigActive {
		return nil
	}

	d.logger.Debug("entering config mode")
	d.engine.Drain()

	err := ConfigEntryPolicy.Do(d.clock, func(attempt int) error {
		if err := d.engine.Send(CmdEnableConfig, nil); err != nil {
			return err
		}
		d.clock.Sleep(configSettle)
		shape, _, err := d.awaitShape(CmdEnableConfig, EnterConfigShapes, ConfigReplyWindow)
		if err != nil {
			d.logger.Debug("config mode attempt failed",
				zap.Int("attempt", attempt+1),
				zap.Error(err))
			return err
		}
		d.logger.Debug("config mode acknowledged", zap.String("shape", shape.Name))
		return nil
	})
	if err != nil {
		d.logger.Warn("failed to enter config mode", zap.Error(err))
		return fmt.Errorf("%w: %w", ErrConfigFailed, err)
	}

	d.state.ConfigActive = true
	d.updateMode(ModeConfig)
	return nil
}

// ExitConfig leaves config mode. The device's reply is optional; the driver
// always considers config mode closed afterwards.
func (d *Driver) ExitConfig() error {
	if !d.state.ConfigActive {
		return nil
	}

	d.logger.Debug("exiting config mode")
	err := d.engine.Send(CmdDisableConfig, nil)
	if err == nil {
		d.clock.Sleep(configSettle)
		if _, rerr := d.engine.Await(ExitConfigReplyTimeout); rerr != nil {
			d.logger.Debug("no reply to exit config, continuing")
		}
	}

	d.state.ConfigActive = false
	if d.state.Mode == ModeConfig {
		d.updateMode(ModeNormal)
	}
	d.engine.Drain()
	return err
}

func setModePayload(value uint32) []byte {
	payload := make([]byte, 6)
	binary.LittleEndian.PutUint32(payload[2:], value)
	return payload
}

// SetMode switches the work mode. Config mode must already be active.
func (d *Driver) SetMode(mode OperatingMode) error {
	return d.requestMode(mode, d.cfg.ResponseTimeout)
}

func (d *Driver) requestMode(mode OperatingMode, timeout time.Duration) error {
	value, ok := modeValue(mode)
	if !ok {
		return fmt.Errorf("%w: %s", ErrInvalidMode, mode)
	}
	if !d.state.ConfigActive {
		return ErrNotInConfig
	}

	d.logger.Debug("setting work mode", zap.Stringer("mode", mode), zap.Uint32("value", value))
	resp, err := d.engine.Exchange(CmdSetMode, setModePayload(value), 0, timeout)
	if err != nil {
		return err
	}

	shape, ok := MatchShape(SetModeShapes(value), resp)
	if !ok {
		d.stats.MalformedResponses++
		return &MalformedResponseError{Command: CmdSetMode, Response: resp}
	}
	d.logger.Debug("work mode acknowledged", zap.String("shape", shape.Name))

	d.state.EngineeringEnabled = mode == ModeEngineering
	d.updateMode(mode)
	d.engine.Drain()
	return nil
}

// EnterEngineering switches the device into engineering mode and enables
// engineering frame decoding. It leaves config mode afterwards.
func (d *Driver) EnterEngineering() error {
	if d.state.Mode == ModeEngineering {
		return nil
	}

	d.logger.Info("switching to engineering mode")
	d.state.EngineeringEnabled = false

	if d.state.ConfigActive {
		d.ExitConfig()
		d.clock.Sleep(engineeringSettle)
	}

	d.engine.Drain()
	d.clock.Sleep(100 * time.Millisecond)
	d.engine.Drain()
	d.clock.Sleep(configSettle)

	if err := d.EnterConfig(); err != nil {
		return err
	}
	d.engine.Drain()
	d.clock.Sleep(configSettle)

	resp, err := d.engine.Exchange(CmdSetMode, setModePayload(ModeValueEngineering), 0, engineeringReply)
	if err == nil {
		if _, ok := MatchShape(EngineeringEntryShapes, resp); !ok {
			d.stats.MalformedResponses++
			err = &MalformedResponseError{Command: CmdSetMode, Response: resp}
		}
	}
	if err != nil {
		d.logger.Warn("failed to set engineering mode", zap.Error(err))
		d.ExitConfig()
		return err
	}

	d.state.EngineeringEnabled = true
	d.updateMode(ModeEngineering)

	d.ExitConfig()
	d.clock.Sleep(engineeringSettle)
	d.engine.Drain()
	d.classifier.Reset()
	d.logger.Info("engineering mode active")
	return nil
}

// EnterNormal switches the device back to normal (production) mode.
func (d *Driver) EnterNormal() error {
	d.logger.Info("switching to normal mode")
	d.state.EngineeringEnabled = false

	if err := d.EnterConfig(); err != nil {
		return err
	}
	err := d.SetMode(ModeNormal)
	if err != nil {
		d.logger.Warn("failed to set normal mode", zap.Error(err))
	}
	d.ExitConfig()
	d.engine.Drain()
	d.classifier.Reset()
	return err
}

// ToggleEngineering switches to normal mode from engineering mode and to
// engineering mode from anything else.
func (d *Driver) ToggleEngineering() error {
	if d.state.Mode == ModeEngineering {
		return d.EnterNormal()
	}
	return d.EnterEngineering()
}
