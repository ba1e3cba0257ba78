// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync/atomic"
	"time"

	"github.com/Thermoquad/spikelink/pkg/capture"
	"github.com/Thermoquad/spikelink/pkg/hub"
	"github.com/Thermoquad/spikelink/pkg/spike"
	"github.com/charmbracelet/bubbles/table"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"
)

//////////////////////////////////////////////////////////////
// Command
//////////////////////////////////////////////////////////////

var (
	monitorRecordPath string
	monitorSlot       uint8
)

var monitorCmd = &cobra.Command{
	Use:   "monitor",
	Short: "Interactive dashboard of hub telemetry and program output",
	Long: `Connect to the hub and show a live dashboard: the device attached to
each port, battery and orientation, frame statistics and an event log with
console output of the running program.

Keys:
  q  quit
  s  stop the running program
  r  start the program in --slot`,
	Args: cobra.NoArgs,
	RunE: runMonitor,
}

func init() {
	rootCmd.AddCommand(monitorCmd)
	monitorCmd.Flags().StringVar(&monitorRecordPath, "record", "", "Write a capture file")
	monitorCmd.Flags().Uint8VarP(&monitorSlot, "slot", "s", 0, "Slot started by the r key")
}

const (
	monitorBatchInterval = 50 * time.Millisecond
	monitorQueueSize     = 256
)

func runMonitor(cmd *cobra.Command, args []string) error {
	ctx, cancel := signalContext()
	defer cancel()

	feed := newMonitorFeed()
	if monitorRecordPath != "" {
		f, err := os.Create(monitorRecordPath)
		if err != nil {
			return fmt.Errorf("failed to create capture: %w", err)
		}
		rec, err := capture.NewRecorder(f, "monitor")
		if err != nil {
			f.Close()
			return err
		}
		feed.rec = rec
		defer func() {
			if err := rec.Close(); err != nil {
				fmt.Fprintf(os.Stderr, "Capture error: %v\n", err)
				return
			}
			fmt.Printf("Wrote %d frames to %s\n", rec.Count(), monitorRecordPath)
		}()
	}

	fmt.Printf("Connecting...\n")
	client, connInfo, err := OpenHub(ctx, feed.tap, feed.install)
	if err != nil {
		return err
	}
	defer client.Disconnect()

	caps, _ := client.Capabilities()
	m := initialMonitorModel(client, connInfo, caps, monitorSlot)
	p := tea.NewProgram(m, tea.WithAltScreen())

	done := make(chan struct{})
	defer close(done)
	go feed.run(p, done)
	go func() {
		select {
		case <-ctx.Done():
			p.Quit()
		case <-done:
		}
	}()

	if _, err := p.Run(); err != nil {
		return fmt.Errorf("TUI error: %v", err)
	}
	return nil
}

//////////////////////////////////////////////////////////////
// Event Feed
//////////////////////////////////////////////////////////////

type monitorEventKind uint8

const (
	eventFrame monitorEventKind = iota
	eventTelemetry
	eventConsole
	eventFlow
	eventState
)

// monitorEvent is one observation from the hub goroutines, delivered to the
// model in batches.
type monitorEvent struct {
	kind    monitorEventKind
	at      time.Time
	msg     spike.Message
	err     error
	ports   spike.PortState
	text    string
	stopped bool
	state   hub.State
}

type monitorBatchMsg struct {
	events  []monitorEvent
	dropped int
}

// monitorFeed queues events from the client callbacks. Callbacks never block;
// events beyond the queue size are counted and dropped.
type monitorFeed struct {
	events  chan monitorEvent
	dropped atomic.Int64
	rec     *capture.Recorder
}

func newMonitorFeed() *monitorFeed {
	return &monitorFeed{events: make(chan monitorEvent, monitorQueueSize)}
}

func (f *monitorFeed) push(ev monitorEvent) {
	ev.at = time.Now()
	select {
	case f.events <- ev:
	default:
		f.dropped.Add(1)
	}
}

func (f *monitorFeed) tap(dir spike.Direction, frame []byte) {
	if f.rec != nil {
		f.rec.Record(dir, frame)
	}
	if dir != spike.DirRX {
		return
	}
	m, err := spike.DecodeFrame(frame)
	f.push(monitorEvent{kind: eventFrame, msg: m, err: err})
}

func (f *monitorFeed) install(c *hub.Client) {
	c.OnTelemetry(func(s spike.PortState) {
		f.push(monitorEvent{kind: eventTelemetry, ports: s})
	})
	c.OnConsoleText(func(text string) {
		f.push(monitorEvent{kind: eventConsole, text: text})
	})
	c.OnProgramFlow(func(stopped bool) {
		f.push(monitorEvent{kind: eventFlow, stopped: stopped})
	})
	c.OnStateChange(func(s hub.State) {
		f.push(monitorEvent{kind: eventState, state: s})
	})
}

// run sends batched events to the program at a fixed rate until done.
func (f *monitorFeed) run(p *tea.Program, done <-chan struct{}) {
	ticker := time.NewTicker(monitorBatchInterval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			batch := monitorBatchMsg{dropped: int(f.dropped.Swap(0))}
		drainLoop:
			for {
				select {
				case ev := <-f.events:
					batch.events = append(batch.events, ev)
				default:
					break drainLoop
				}
			}
			if batch.dropped > 0 || len(batch.events) > 0 {
				p.Send(batch)
			}
		}
	}
}

//////////////////////////////////////////////////////////////
// Model
//////////////////////////////////////////////////////////////

// Event log entry
type errorLogEntry struct {
	timestamp time.Time
	message   string
	isError   bool
}

type monitorModel struct {
	client      *hub.Client
	connInfo    string
	caps        hub.Capabilities
	slot        uint8
	connectedAt time.Time

	state        hub.State
	ports        spike.PortState
	hasTelemetry bool
	running      bool
	portTable    table.Model

	stats         *spike.Statistics
	errorLog      []errorLogEntry
	maxLogEntries int
	consoleLine   strings.Builder

	width    int
	height   int
	quitting bool
}

type monitorTickMsg time.Time

type commandResultMsg struct {
	action string
	err    error
}

func initialMonitorModel(client *hub.Client, connInfo string, caps hub.Capabilities, slot uint8) *monitorModel {
	t := table.New(
		table.WithColumns([]table.Column{
			{Title: "Port", Width: 4},
			{Title: "Device", Width: 16},
			{Title: "Reading", Width: 28},
		}),
		table.WithHeight(spike.NumPorts+1),
		table.WithFocused(false),
	)
	styles := table.DefaultStyles()
	styles.Header = styles.Header.
		BorderStyle(lipgloss.NormalBorder()).
		BorderForeground(lipgloss.Color("240")).
		BorderBottom(true).
		Bold(true).
		Foreground(lipgloss.Color("12"))
	styles.Selected = lipgloss.NewStyle()
	t.SetStyles(styles)

	m := &monitorModel{
		client:        client,
		connInfo:      connInfo,
		caps:          caps,
		slot:          slot,
		connectedAt:   time.Now(),
		state:         hub.StateReady,
		portTable:     t,
		stats:         spike.NewStatistics(),
		maxLogEntries: 100,
		width:         80,
		height:        24,
	}
	m.updatePortTable()
	m.addLogEntry(fmt.Sprintf("Connected to %s (firmware %s)", connInfo, caps.FirmwareVersion), false)
	return m
}

//////////////////////////////////////////////////////////////
// Bubble Tea Interface
//////////////////////////////////////////////////////////////

func (m *monitorModel) Init() tea.Cmd {
	return monitorTickCmd()
}

func monitorTickCmd() tea.Cmd {
	return tea.Tick(time.Second, func(t time.Time) tea.Msg {
		return monitorTickMsg(t)
	})
}

func (m *monitorModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.handleKeyMsg(msg)

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height

	case monitorTickMsg:
		m.stats.CalculateRates()
		return m, monitorTickCmd()

	case monitorBatchMsg:
		if msg.dropped > 0 {
			m.addLogEntry(fmt.Sprintf("Display fell behind, %d events dropped", msg.dropped), true)
		}
		for _, ev := range msg.events {
			m.processEvent(ev)
		}

	case commandResultMsg:
		if msg.err != nil {
			m.addLogEntry(fmt.Sprintf("%s failed: %v", msg.action, msg.err), true)
		} else {
			m.addLogEntry(msg.action+" ok", false)
		}
	}

	return m, nil
}

func (m *monitorModel) handleKeyMsg(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "q", "ctrl+c":
		m.quitting = true
		return m, tea.Quit

	case "s":
		if m.state != hub.StateReady {
			m.addLogEntry("Cannot stop program: hub is "+m.state.String(), true)
			return m, nil
		}
		return m, m.hubCmd("Stop program", func(ctx context.Context) error {
			return m.client.StopProgram(ctx, m.slot)
		})

	case "r":
		if m.state != hub.StateReady {
			m.addLogEntry("Cannot start program: hub is "+m.state.String(), true)
			return m, nil
		}
		slot := m.slot
		return m, m.hubCmd(fmt.Sprintf("Start slot %d", slot), func(ctx context.Context) error {
			return m.client.StartProgram(ctx, slot)
		})
	}
	return m, nil
}

// hubCmd runs a client call off the UI goroutine.
func (m *monitorModel) hubCmd(action string, fn func(context.Context) error) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
		defer cancel()
		return commandResultMsg{action: action, err: fn(ctx)}
	}
}

//////////////////////////////////////////////////////////////
// Data Processing
//////////////////////////////////////////////////////////////

func (m *monitorModel) processEvent(ev monitorEvent) {
	switch ev.kind {
	case eventFrame:
		m.stats.Update(ev.msg, ev.err)
		if ev.err != nil {
			m.addLogEntryAt(ev.at, fmt.Sprintf("DECODE ERROR: %v", ev.err), true)
		}

	case eventTelemetry:
		m.ports = ev.ports
		m.hasTelemetry = true
		m.updatePortTable()

	case eventConsole:
		m.appendConsole(ev.at, ev.text)

	case eventFlow:
		m.running = !ev.stopped
		if ev.stopped {
			m.flushConsole(ev.at)
			m.addLogEntryAt(ev.at, "Program stopped", false)
		} else {
			m.addLogEntryAt(ev.at, "Program started", false)
		}

	case eventState:
		prev := m.state
		m.state = ev.state
		if prev != ev.state {
			m.addLogEntryAt(ev.at, fmt.Sprintf("Link %s -> %s", prev, ev.state), ev.state == hub.StateDisconnected)
		}
		if ev.state == hub.StateReady {
			if caps, ok := m.client.Capabilities(); ok {
				m.caps = caps
			}
		}
	}
}

// appendConsole logs console output one line at a time. A partial line is
// held until its newline arrives or the program stops.
func (m *monitorModel) appendConsole(at time.Time, text string) {
	for {
		i := strings.IndexByte(text, '\n')
		if i < 0 {
			m.consoleLine.WriteString(text)
			return
		}
		m.consoleLine.WriteString(text[:i])
		m.flushConsole(at)
		text = text[i+1:]
	}
}

func (m *monitorModel) flushConsole(at time.Time) {
	if m.consoleLine.Len() == 0 {
		return
	}
	m.addLogEntryAt(at, "> "+strings.TrimRight(m.consoleLine.String(), "\r"), false)
	m.consoleLine.Reset()
}

func (m *monitorModel) updatePortTable() {
	rows := make([]table.Row, 0, spike.NumPorts)
	for p := spike.PortA; p < spike.NumPorts; p++ {
		dev := m.ports.Port(p)
		kind := "-"
		if dev != nil {
			kind = spike.DeviceKindName(dev.Kind())
		}
		rows = append(rows, table.Row{p.String(), kind, spike.FormatDeviceSummary(dev)})
	}
	m.portTable.SetRows(rows)
}

func (m *monitorModel) addLogEntry(message string, isError bool) {
	m.addLogEntryAt(time.Now(), message, isError)
}

func (m *monitorModel) addLogEntryAt(ts time.Time, message string, isError bool) {
	m.errorLog = append(m.errorLog, errorLogEntry{
		timestamp: ts,
		message:   message,
		isError:   isError,
	})

	if len(m.errorLog) > m.maxLogEntries {
		m.errorLog = m.errorLog[len(m.errorLog)-m.maxLogEntries:]
	}
}

//////////////////////////////////////////////////////////////
// View
//////////////////////////////////////////////////////////////

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("12")).
			Background(lipgloss.Color("235")).
			Padding(0, 1)

	headerStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("241"))

	labelStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("12")).
			Bold(true)

	valueStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("10"))

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("9")).
			Bold(true)

	warningStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("11"))

	boxStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("240")).
			Padding(0, 1)
)

func (m *monitorModel) View() string {
	if m.quitting {
		return "Shutting down...\n"
	}

	var s strings.Builder

	s.WriteString(titleStyle.Render("SPIKELINK MONITOR"))
	s.WriteString(" ")
	connStatus := m.connInfo
	if m.state != hub.StateReady {
		connStatus = warningStyle.Render(m.state.String())
	}
	s.WriteString(headerStyle.Render(fmt.Sprintf("| %s | q=quit s=stop r=run slot %d", connStatus, m.slot)))
	s.WriteString("\n")
	s.WriteString(fmt.Sprintf(" %s %s  %s %s\n\n",
		labelStyle.Render("Firmware:"), valueStyle.Render(m.caps.FirmwareVersion.String()),
		labelStyle.Render("Connected:"), valueStyle.Render(formatUptime(uint64(time.Since(m.connectedAt).Milliseconds())))))

	portPanel := boxStyle.Render(m.portTable.View())
	hubPanel := boxStyle.Render(m.renderHubPanel())
	s.WriteString(lipgloss.JoinHorizontal(lipgloss.Top, portPanel, " ", hubPanel))
	s.WriteString("\n")

	s.WriteString(m.renderStatisticsBar())
	s.WriteString("\n")

	s.WriteString(m.renderEventLog())
	return s.String()
}

func (m *monitorModel) renderHubPanel() string {
	var s strings.Builder

	program := headerStyle.Render("idle")
	if m.running {
		program = valueStyle.Render("running")
	}
	s.WriteString(fmt.Sprintf("%s %s\n", labelStyle.Render("Program:"), program))

	if !m.hasTelemetry {
		s.WriteString(headerStyle.Render("Waiting for telemetry..."))
		return s.String()
	}

	if m.ports.Battery != nil {
		level := fmt.Sprintf("%d%%", m.ports.Battery.Level)
		if m.ports.Battery.Level < 20 {
			level = errorStyle.Render(level)
		} else {
			level = valueStyle.Render(level)
		}
		s.WriteString(fmt.Sprintf("%s %s\n", labelStyle.Render("Battery:"), level))
	}
	if imu := m.ports.IMU; imu != nil {
		s.WriteString(fmt.Sprintf("%s %s\n", labelStyle.Render("Yaw/Pitch/Roll:"),
			valueStyle.Render(fmt.Sprintf("%d / %d / %d", imu.Yaw, imu.Pitch, imu.Roll))))
		s.WriteString(fmt.Sprintf("%s %s\n", labelStyle.Render("Accel:"),
			valueStyle.Render(fmt.Sprintf("%d %d %d", imu.AccelX, imu.AccelY, imu.AccelZ))))
		s.WriteString(fmt.Sprintf("%s %s\n", labelStyle.Render("Gyro:"),
			valueStyle.Render(fmt.Sprintf("%d %d %d", imu.GyroX, imu.GyroY, imu.GyroZ))))
	}
	if d := m.ports.Display; d != nil {
		s.WriteString(labelStyle.Render("Display:"))
		s.WriteString("\n")
		for row := 0; row < 5; row++ {
			s.WriteString("  ")
			for col := 0; col < 5; col++ {
				if d.Pixels[row*5+col] > 0 {
					s.WriteString(valueStyle.Render("#"))
				} else {
					s.WriteString(headerStyle.Render("."))
				}
			}
			s.WriteString("\n")
		}
	}
	return strings.TrimRight(s.String(), "\n")
}

func (m *monitorModel) renderStatisticsBar() string {
	var validPercent, errorPercent float64
	if m.stats.TotalFrames > 0 {
		validPercent = float64(m.stats.ValidFrames) * 100.0 / float64(m.stats.TotalFrames)
		errorPercent = float64(m.stats.Errors()) * 100.0 / float64(m.stats.TotalFrames)
	}

	errors := valueStyle.Render("0.0%")
	if errorPercent > 0 {
		errors = errorStyle.Render(fmt.Sprintf("%.1f%%", errorPercent))
	}
	content := fmt.Sprintf("%s %s  %s %s  %s %s  %s %s  %s %s",
		labelStyle.Render("Frames:"), valueStyle.Render(fmt.Sprintf("%d", m.stats.TotalFrames)),
		labelStyle.Render("Valid:"), valueStyle.Render(fmt.Sprintf("%.1f%%", validPercent)),
		labelStyle.Render("Errors:"), errors,
		labelStyle.Render("Rate:"), valueStyle.Render(fmt.Sprintf("%.1f frames/s", m.stats.FrameRate)),
		labelStyle.Render("Notifications:"), valueStyle.Render(fmt.Sprintf("%d", m.stats.Notifications)),
	)
	return boxStyle.Width(m.width - 4).Render(content)
}

func (m *monitorModel) renderEventLog() string {
	var s strings.Builder
	s.WriteString(labelStyle.Render("EVENTS"))
	s.WriteString("\n")

	// Header, panels and statistics take about 17 rows
	logHeight := m.height - 17
	if logHeight < 5 {
		logHeight = 5
	}
	startIdx := len(m.errorLog) - logHeight
	if startIdx < 0 {
		startIdx = 0
	}

	if len(m.errorLog) == 0 {
		s.WriteString(headerStyle.Render("  (no events yet)"))
	} else {
		for i := startIdx; i < len(m.errorLog); i++ {
			entry := m.errorLog[i]
			icon := "i"
			style := warningStyle
			if entry.isError {
				icon = "x"
				style = errorStyle
			}
			s.WriteString(fmt.Sprintf("%s %s %s\n",
				headerStyle.Render(entry.timestamp.Format("15:04:05.000")),
				style.Render(icon),
				entry.message))
		}
	}

	return boxStyle.Width(m.width - 4).Render(strings.TrimRight(s.String(), "\n"))
}

// formatUptime formats a duration in milliseconds as "1 hour, 2 minutes and 3 seconds".
func formatUptime(ms uint64) string {
	seconds := ms / 1000
	units := []struct {
		name string
		size uint64
	}{
		{"day", 86400},
		{"hour", 3600},
		{"minute", 60},
		{"second", 1},
	}

	parts := []string{}
	for _, u := range units {
		n := seconds / u.size
		seconds %= u.size
		if n == 0 && !(u.size == 1 && len(parts) == 0) {
			continue
		}
		if n == 1 {
			parts = append(parts, "1 "+u.name)
		} else {
			parts = append(parts, fmt.Sprintf("%d %ss", n, u.name))
		}
	}

	if len(parts) == 1 {
		return parts[0]
	}
	return strings.Join(parts[:len(parts)-1], ", ") + " and " + parts[len(parts)-1]
}
