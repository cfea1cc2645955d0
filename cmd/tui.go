// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/Thermoquad/ld2402ctl/pkg/ld2402"
	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"go.uber.org/zap/zapcore"
)

// driverCaller runs functions on the driver goroutine.
type driverCaller interface {
	Call(ctx context.Context, fn func(*ld2402.Driver) error) error
}

// Event log entry
type watchLogEntry struct {
	timestamp time.Time
	message   string
	isError   bool
}

// watchModel is the Bubble Tea model for the watch dashboard
type watchModel struct {
	ctx      context.Context
	driver   driverCaller
	connInfo string

	// Readings
	distance      float64
	presence      bool
	micromovement bool
	mode          string
	firmware      string
	serial        string
	interference  bool
	haveReading   bool

	// Engineering data, dB per gate
	motion     []float64
	still      []float64
	energiesAt time.Time

	// Thresholds, dB per gate
	motionThreshold []float64
	microThreshold  []float64

	// Calibration
	calibrating bool
	calProgress float64

	stats ld2402.Statistics

	// Log
	log           []watchLogEntry
	maxLogEntries int

	// Widgets
	calBar    progress.Model
	energyBar progress.Model
	prompt    textinput.Model
	prompting bool

	busy     string
	width    int
	height   int
	quitting bool
}

//////////////////////////////////////////////////////////////
// Messages
//////////////////////////////////////////////////////////////

type watchTickMsg time.Time

type eventMsg ld2402.Event

type logMsg logEntry

type statsMsg struct {
	stats ld2402.Statistics
	state ld2402.State
}

type actionDoneMsg struct {
	name string
	err  error
}

func initialWatchModel(ctx context.Context, driver driverCaller, connInfo string) watchModel {
	ti := textinput.New()
	ti.Placeholder = "motion 3 45.0"
	ti.Prompt = "threshold> "
	ti.CharLimit = 32
	ti.Width = 30

	return watchModel{
		ctx:             ctx,
		driver:          driver,
		connInfo:        connInfo,
		mode:            "Unknown",
		firmware:        ld2402.VersionDefault,
		motion:          make([]float64, ld2402.DefaultGates),
		still:           make([]float64, ld2402.DefaultGates),
		motionThreshold: make([]float64, 0, ld2402.DefaultGates),
		microThreshold:  make([]float64, 0, ld2402.DefaultGates),
		maxLogEntries:   100,
		calBar:          progress.New(progress.WithDefaultGradient(), progress.WithWidth(40)),
		energyBar:       progress.New(progress.WithSolidFill("12"), progress.WithoutPercentage(), progress.WithWidth(24)),
		prompt:          ti,
		width:           80,
		height:          24,
	}
}

func (m watchModel) Init() tea.Cmd {
	return watchTickCmd()
}

func watchTickCmd() tea.Cmd {
	return tea.Tick(time.Second, func(t time.Time) tea.Msg {
		return watchTickMsg(t)
	})
}

// call runs fn on the driver and reports completion as an actionDoneMsg.
func (m watchModel) call(name string, fn func(*ld2402.Driver) error) tea.Cmd {
	if m.driver == nil {
		return nil
	}
	ctx, driver := m.ctx, m.driver
	return func() tea.Msg {
		return actionDoneMsg{name: name, err: driver.Call(ctx, fn)}
	}
}

func (m watchModel) fetchStats() tea.Cmd {
	if m.driver == nil {
		return nil
	}
	ctx, driver := m.ctx, m.driver
	return func() tea.Msg {
		var msg statsMsg
		err := driver.Call(ctx, func(d *ld2402.Driver) error {
			msg.stats = d.Statistics()
			msg.state = d.State()
			return nil
		})
		if err != nil {
			return nil
		}
		return msg
	}
}

// startAction marks the model busy and returns the command, unless another
// action is still running.
func (m *watchModel) startAction(name string, fn func(*ld2402.Driver) error) tea.Cmd {
	if m.busy != "" {
		m.addLogEntry(fmt.Sprintf("%s still running, ignoring %s", m.busy, name), true)
		return nil
	}
	m.busy = name
	m.addLogEntry(name+"...", false)
	return m.call(name, fn)
}

func (m watchModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		if m.prompting {
			return m.updatePrompt(msg)
		}
		switch msg.String() {
		case "q", "ctrl+c":
			m.quitting = true
			return m, tea.Quit
		case "e":
			return m, m.startAction("toggle engineering", (*ld2402.Driver).ToggleEngineering)
		case "c":
			return m, m.startAction("calibrate", (*ld2402.Driver).Calibrate)
		case "s":
			return m, m.startAction("save", (*ld2402.Driver).SaveConfig)
		case "r":
			return m, m.startAction("read thresholds", func(d *ld2402.Driver) error {
				return d.WithConfig(func() error {
					if _, err := d.ReadMotionThresholds(); err != nil {
						return err
					}
					_, err := d.ReadMicromotionThresholds()
					return err
				})
			})
		case "t":
			m.prompting = true
			m.prompt.SetValue("")
			return m, m.prompt.Focus()
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height

	case watchTickMsg:
		return m, tea.Batch(watchTickCmd(), m.fetchStats())

	case statsMsg:
		m.stats = msg.stats
		m.stats.CalculateRates(time.Now())
		m.calibrating = msg.state.Calibration.InProgress
		m.mode = msg.state.Mode.String()

	case eventMsg:
		m.applyEvent(ld2402.Event(msg))

	case logMsg:
		m.addLogEntryAt(msg.timestamp, msg.message, msg.level >= zapcore.WarnLevel)

	case actionDoneMsg:
		m.busy = ""
		if msg.err != nil {
			m.addLogEntry(fmt.Sprintf("%s failed: %v", msg.name, msg.err), true)
		} else {
			m.addLogEntry(msg.name+" done", false)
		}
	}

	return m, nil
}

func (m watchModel) updatePrompt(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.Type {
	case tea.KeyEsc:
		m.prompting = false
		m.prompt.Blur()
		return m, nil
	case tea.KeyEnter:
		m.prompting = false
		m.prompt.Blur()
		req, err := parseThresholdArgs(strings.Fields(m.prompt.Value()))
		if err != nil {
			m.addLogEntry(err.Error(), true)
			return m, nil
		}
		return m, m.startAction("set "+req.String(), req.apply)
	}

	var cmd tea.Cmd
	m.prompt, cmd = m.prompt.Update(msg)
	return m, cmd
}

func (m *watchModel) applyEvent(e ld2402.Event) {
	switch e.Kind {
	case ld2402.EventDistance:
		m.distance = e.Value
		m.haveReading = true
	case ld2402.EventPresence:
		m.presence = e.State
		m.haveReading = true
	case ld2402.EventMicromovement:
		m.micromovement = e.State
	case ld2402.EventOperatingMode:
		m.mode = e.Text
		m.addLogEntryAt(e.Time, "mode: "+e.Text, false)
	case ld2402.EventFirmwareVersion:
		m.firmware = e.Text
	case ld2402.EventSerialNumber:
		m.serial = e.Text
	case ld2402.EventPowerInterference:
		m.interference = e.State
		if e.State {
			m.addLogEntryAt(e.Time, "power interference detected", true)
		}
	case ld2402.EventCalibrationProgress:
		m.calProgress = e.Value
		m.calibrating = e.Value < 100
	case ld2402.EventMotionEnergy:
		setGate(m.motion, e.Gate, e.Value)
		m.energiesAt = e.Time
	case ld2402.EventStillEnergy:
		setGate(m.still, e.Gate, e.Value)
		m.energiesAt = e.Time
	case ld2402.EventMotionThreshold:
		m.motionThreshold = setGrow(m.motionThreshold, e.Gate, e.Value)
	case ld2402.EventMicromotionThreshold:
		m.microThreshold = setGrow(m.microThreshold, e.Gate, e.Value)
	}
}

func setGate(values []float64, gate int, v float64) {
	if gate >= 0 && gate < len(values) {
		values[gate] = v
	}
}

func setGrow(values []float64, gate int, v float64) []float64 {
	if gate < 0 || gate >= ld2402.DefaultGates {
		return values
	}
	for len(values) <= gate {
		values = append(values, 0)
	}
	values[gate] = v
	return values
}

func (m *watchModel) addLogEntry(message string, isError bool) {
	m.addLogEntryAt(time.Now(), message, isError)
}

func (m *watchModel) addLogEntryAt(at time.Time, message string, isError bool) {
	m.log = append(m.log, watchLogEntry{timestamp: at, message: message, isError: isError})

	// Keep only last N entries
	if len(m.log) > m.maxLogEntries {
		m.log = m.log[len(m.log)-m.maxLogEntries:]
	}
}

//////////////////////////////////////////////////////////////
// View
//////////////////////////////////////////////////////////////

func (m watchModel) View() string {
	if m.quitting {
		return "Shutting down...\n"
	}

	titleStyle := lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("12")).
		Background(lipgloss.Color("235")).
		Padding(0, 1)

	headerStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("241"))

	labelStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("12")).
		Bold(true)

	valueStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("10"))

	errorStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("9")).
		Bold(true)

	warningStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("11"))

	boxStyle := lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color("240")).
		Padding(0, 1)

	var s strings.Builder
	s.WriteString(titleStyle.Render("LD2402 - WATCH"))
	s.WriteString("\n")
	s.WriteString(headerStyle.Render(fmt.Sprintf("%s | e: engineering  c: calibrate  s: save  r: thresholds  t: set threshold  q: quit", m.connInfo)))
	s.WriteString("\n\n")

	// Readings
	readings := strings.Builder{}
	if !m.haveReading {
		readings.WriteString(warningStyle.Render("⏳ Waiting for sensor output..."))
		readings.WriteString("\n")
	} else {
		presence := headerStyle.Render("none")
		if m.presence {
			presence = valueStyle.Render("PRESENT")
		}
		micro := headerStyle.Render("no")
		if m.micromovement {
			micro = valueStyle.Render("yes")
		}
		readings.WriteString(fmt.Sprintf("%s %s   %s %s   %s %s\n",
			labelStyle.Render("Distance:"), valueStyle.Render(fmt.Sprintf("%.1f cm", m.distance)),
			labelStyle.Render("Presence:"), presence,
			labelStyle.Render("Micromovement:"), micro,
		))
	}

	power := valueStyle.Render("none")
	if m.interference {
		power = errorStyle.Render("DETECTED")
	}
	readings.WriteString(fmt.Sprintf("%s %s   %s %s   %s %s",
		labelStyle.Render("Mode:"), valueStyle.Render(m.mode),
		labelStyle.Render("Firmware:"), valueStyle.Render(m.firmware),
		labelStyle.Render("Interference:"), power,
	))
	if m.serial != "" {
		readings.WriteString(fmt.Sprintf("   %s %s", labelStyle.Render("SN:"), valueStyle.Render(m.serial)))
	}
	s.WriteString(boxStyle.Render(readings.String()))
	s.WriteString("\n")

	// Calibration
	if m.calibrating || m.calProgress > 0 {
		s.WriteString(labelStyle.Render("Calibration: "))
		s.WriteString(m.calBar.ViewAs(m.calProgress / 100))
		s.WriteString("\n")
	}

	// Gate energies
	if !m.energiesAt.IsZero() {
		s.WriteString("\n")
		s.WriteString(labelStyle.Render("Gate Energies (dB):"))
		s.WriteString(headerStyle.Render(" updated " + m.energiesAt.Format("15:04:05")))
		s.WriteString("\n")
		s.WriteString(boxStyle.Render(m.renderEnergies(headerStyle)))
		s.WriteString("\n")
	}

	// Thresholds
	if len(m.motionThreshold) > 0 || len(m.microThreshold) > 0 {
		var b strings.Builder
		printThresholds(&b, m.motionThreshold, m.microThreshold)
		s.WriteString(labelStyle.Render("Thresholds:"))
		s.WriteString("\n")
		s.WriteString(boxStyle.Render(strings.TrimRight(b.String(), "\n")))
		s.WriteString("\n")
	}

	// Statistics
	s.WriteString(headerStyle.Render(fmt.Sprintf("bytes %d (%.0f B/s) | lines %d | frames %d (%.1f/s) | errors %.1f/s",
		m.stats.BytesReceived, m.stats.ByteRate, m.stats.LinesParsed,
		m.stats.DataFrames+m.stats.EngineeringFrames, m.stats.FrameRate, m.stats.ErrorRate)))
	s.WriteString("\n")

	if m.prompting {
		s.WriteString(m.prompt.View())
		s.WriteString(headerStyle.Render("  (<motion|micromotion> <gate> <dB>, esc to cancel)"))
		s.WriteString("\n")
	} else if m.busy != "" {
		s.WriteString(warningStyle.Render("… " + m.busy))
		s.WriteString("\n")
	}

	// Event log
	s.WriteString("\n")
	s.WriteString(labelStyle.Render("Recent Events:"))
	s.WriteString("\n")

	logHeight := m.height - 20
	if !m.energiesAt.IsZero() {
		logHeight -= ld2402.DefaultGates
	}
	if logHeight < 5 {
		logHeight = 5
	}

	logContent := strings.Builder{}
	startIdx := len(m.log) - logHeight
	if startIdx < 0 {
		startIdx = 0
	}

	if len(m.log) == 0 {
		logContent.WriteString(headerStyle.Render("  (no events yet)"))
	} else {
		for i := startIdx; i < len(m.log); i++ {
			entry := m.log[i]
			timestamp := entry.timestamp.Format("15:04:05.000")
			if entry.isError {
				logContent.WriteString(fmt.Sprintf("%s %s\n",
					headerStyle.Render(timestamp),
					errorStyle.Render("✗ "+entry.message),
				))
			} else {
				logContent.WriteString(fmt.Sprintf("%s %s\n",
					headerStyle.Render(timestamp),
					warningStyle.Render("ℹ "+entry.message),
				))
			}
		}
	}

	s.WriteString(boxStyle.Width(max(m.width-4, 20)).Render(logContent.String()))

	return s.String()
}

// renderEnergies draws one row per gate with motion and still bars.
func (m watchModel) renderEnergies(headerStyle lipgloss.Style) string {
	var b strings.Builder
	for gate := 0; gate < ld2402.DefaultGates; gate++ {
		fmt.Fprintf(&b, "%s %s %6.1f  %s %6.1f",
			headerStyle.Render(fmt.Sprintf("%2d %4.1fm", gate, float64(gate)*ld2402.GateSize)),
			m.energyBar.ViewAs(m.motion[gate]/100), m.motion[gate],
			m.energyBar.ViewAs(m.still[gate]/100), m.still[gate])
		if gate < ld2402.DefaultGates-1 {
			b.WriteString("\n")
		}
	}
	return b.String()
}
