// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/table"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/Thermoquad/cadence/pkg/device"
	"github.com/Thermoquad/cadence/pkg/link"
)

// Event log entry
type logEntry struct {
	timestamp time.Time
	message   string
	isError   bool // true for errors, false for info
}

// Latest value of one telemetry field
type fieldValue struct {
	value   float64
	updated time.Time
}

// TUI model
type monitorModel struct {
	endpoint      *link.Endpoint
	connInfo      string
	fields        *link.FieldSet
	regs          *device.RegisterMap
	showAll       bool
	stats         *link.Statistics
	values        map[string]fieldValue
	table         table.Model
	input         textinput.Model
	typing        bool
	eventLog      []logEntry
	maxLogEntries int
	synchronized  bool
	lastHealth    string
	width         int
	height        int
	quitting      bool
	lost          bool
}

// Messages
type tickMsg time.Time

type commandResultMsg struct {
	line string
	resp *link.Response
	err  error
}

func initialMonitorModel(endpoint *link.Endpoint, connInfo string, fields *link.FieldSet, regs *device.RegisterMap, showAll bool) monitorModel {
	columns := []table.Column{
		{Title: "Field", Width: 24},
		{Title: "Value", Width: 12},
		{Title: "Unit", Width: 8},
		{Title: "Age", Width: 8},
	}
	t := table.New(
		table.WithColumns(columns),
		table.WithHeight(fields.Len()+1),
	)
	s := table.DefaultStyles()
	s.Header = s.Header.
		BorderStyle(lipgloss.NormalBorder()).
		BorderForeground(lipgloss.Color("240")).
		BorderBottom(true).
		Bold(true)
	s.Selected = s.Selected.Foreground(lipgloss.NoColor{}).Bold(false)
	t.SetStyles(s)

	ti := textinput.New()
	ti.Prompt = ": "
	ti.Placeholder = "set_rate fast_ms=100"
	ti.CharLimit = 120
	ti.Width = 50

	m := monitorModel{
		endpoint:      endpoint,
		connInfo:      connInfo,
		fields:        fields,
		regs:          regs,
		showAll:       showAll,
		stats:         link.NewStatistics(),
		values:        make(map[string]fieldValue),
		table:         t,
		input:         ti,
		eventLog:      make([]logEntry, 0),
		maxLogEntries: 100,
		width:         80,
		height:        24,
	}
	m.refreshTable(time.Now())
	return m
}

func (m monitorModel) Init() tea.Cmd {
	return tickCmd()
}

func tickCmd() tea.Cmd {
	return tea.Tick(time.Second, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func (m monitorModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.handleKey(msg)

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height

	case tickMsg:
		m.stats.UpdateCounters(m.endpoint.Counters())
		m.stats.CalculateRates()
		m.refreshTable(time.Time(msg))
		return m, tickCmd()

	case frameMsg:
		m.handleFrame(msg.frame)

	case commandResultMsg:
		if msg.err != nil {
			m.addLogEntry(fmt.Sprintf("%s: %v", msg.line, msg.err), true)
		} else {
			text := fmt.Sprintf("%s -> %s", msg.line, msg.resp.Status)
			if body := link.FormatArgs(msg.resp.Body); body != "" {
				text += " " + body
			}
			m.addLogEntry(text, msg.resp.Status != link.StatusOK)
		}

	case connectionLostMsg:
		m.lost = true
		if msg.err != nil {
			m.addLogEntry(fmt.Sprintf("Connection lost: %v", msg.err), true)
		} else {
			m.addLogEntry("Connection closed", true)
		}
	}

	return m, nil
}

func (m monitorModel) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if m.typing {
		switch msg.String() {
		case "esc":
			m.typing = false
			m.input.Blur()
			m.input.Reset()
			return m, nil
		case "enter":
			line := strings.TrimSpace(m.input.Value())
			m.typing = false
			m.input.Blur()
			m.input.Reset()
			if line == "" {
				return m, nil
			}
			return m, m.sendCommand(line)
		case "ctrl+c":
			m.quitting = true
			return m, tea.Quit
		}
		var cmd tea.Cmd
		m.input, cmd = m.input.Update(msg)
		return m, cmd
	}

	switch msg.String() {
	case "q", "ctrl+c":
		m.quitting = true
		return m, tea.Quit
	case ":":
		m.typing = true
		return m, m.input.Focus()
	case "r":
		m.stats.Reset(m.endpoint.Counters())
		m.addLogEntry("Statistics reset", false)
	}
	return m, nil
}

// sendCommand parses a command line and runs the request off the UI loop
func (m *monitorModel) sendCommand(line string) tea.Cmd {
	if m.lost {
		m.addLogEntry("Cannot send command: connection lost", true)
		return nil
	}
	id, args, err := parseCommandLine(strings.Fields(line))
	if err != nil {
		m.addLogEntry(err.Error(), true)
		return nil
	}

	endpoint := m.endpoint
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		resp, err := endpoint.Request(ctx, id, args)
		return commandResultMsg{line: line, resp: resp, err: err}
	}
}

func (m *monitorModel) handleFrame(f *link.Frame) {
	if !m.synchronized {
		m.synchronized = true
		m.addLogEntry("Synchronized", false)
	}
	m.stats.Update(f)

	switch f.Type() {
	case link.TypeTelemetry:
		_, values, err := link.DecodeTelemetry(m.fields.Names(), f.Payload())
		if err != nil {
			m.addLogEntry(fmt.Sprintf("TELEMETRY seq=%d: %v", f.Seq(), err), true)
			return
		}
		for name, v := range values {
			m.values[name] = fieldValue{value: v, updated: f.Timestamp()}
		}
		if m.showAll {
			m.addLogEntry(fmt.Sprintf("TELEMETRY seq=%d (%d fields)", f.Seq(), len(values)), false)
		}

	case link.TypeEvent:
		ev, err := link.ParseEvent(f)
		if err != nil {
			m.addLogEntry(fmt.Sprintf("EVENT seq=%d: %v", f.Seq(), err), true)
			return
		}
		switch ev.Code {
		case link.EventLinkHealth:
			m.lastHealth = link.FormatArgs(ev.Fields)
			if m.showAll {
				m.addLogEntry("link_health "+m.lastHealth, false)
			}
		case link.EventBusFault:
			m.addLogEntry("Motor bus fault "+link.FormatArgs(ev.Fields), true)
		default:
			m.addLogEntry(fmt.Sprintf("%s %s", ev.Code, link.FormatArgs(ev.Fields)), false)
		}

	case link.TypeCommand:
		if cmd, err := link.ParseCommand(f); cmd != nil {
			text := fmt.Sprintf("COMMAND %s %s", cmd.ID, link.FormatArgs(cmd.Args))
			m.addLogEntry(strings.TrimSpace(text), err != nil)
		}

	case link.TypeResponse:
		// Our own requests are reported by commandResultMsg
		if m.showAll {
			if resp, err := link.ParseResponse(f); err == nil {
				m.addLogEntry(fmt.Sprintf("RESPONSE %s -> %s", resp.Command, resp.Status), false)
			}
		}

	default:
		m.addLogEntry(fmt.Sprintf("Unknown frame type 0x%02X", uint8(f.Type())), true)
	}
}

func (m *monitorModel) refreshTable(now time.Time) {
	rows := make([]table.Row, 0, m.fields.Len())
	for _, name := range m.fields.Names() {
		unit := ""
		if spec, ok := m.regs.Lookup(name); ok {
			unit = spec.Unit
		}
		value, age := "-", "-"
		if fv, ok := m.values[name]; ok {
			if math.IsNaN(fv.value) {
				value = "unavailable"
			} else {
				value = fmt.Sprintf("%.2f", fv.value)
			}
			age = now.Sub(fv.updated).Truncate(100 * time.Millisecond).String()
		}
		rows = append(rows, table.Row{name, value, unit, age})
	}
	m.table.SetRows(rows)
}

func (m *monitorModel) addLogEntry(message string, isError bool) {
	entry := logEntry{
		timestamp: time.Now(),
		message:   message,
		isError:   isError,
	}
	m.eventLog = append(m.eventLog, entry)

	// Keep only last N entries
	if len(m.eventLog) > m.maxLogEntries {
		m.eventLog = m.eventLog[len(m.eventLog)-m.maxLogEntries:]
	}
}

func (m monitorModel) View() string {
	if m.quitting {
		return "Shutting down...\n"
	}

	// Styles
	titleStyle := lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("12")).
		Background(lipgloss.Color("235")).
		Padding(0, 1)

	headerStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("241"))

	statsLabelStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("12")).
		Bold(true)

	statsValueStyle := lipgloss.NewStyle().
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
	s.WriteString(titleStyle.Render("CADENCE - LINK MONITOR"))
	s.WriteString("\n")
	s.WriteString(headerStyle.Render(fmt.Sprintf("%s | ':' command, 'r' reset stats, 'q' quit", m.connInfo)))
	s.WriteString("\n\n")

	switch {
	case m.lost:
		s.WriteString(errorStyle.Render("✗ Connection lost"))
	case !m.synchronized:
		s.WriteString(warningStyle.Render("⏳ Waiting for synchronization..."))
	default:
		s.WriteString(statsValueStyle.Render("✓ Synchronized"))
	}
	s.WriteString("\n\n")

	// Statistics
	var errorPercent float64
	if m.stats.TotalFrames > 0 {
		errorPercent = float64(m.stats.Errors()) * 100.0 / float64(m.stats.TotalFrames+m.stats.Errors())
	}

	statsContent := strings.Builder{}
	statsContent.WriteString(fmt.Sprintf("%s %s   %s %s   %s %s\n",
		statsLabelStyle.Render("Frames:"), statsValueStyle.Render(fmt.Sprintf("%d", m.stats.TotalFrames)),
		statsLabelStyle.Render("Telemetry:"), statsValueStyle.Render(fmt.Sprintf("%d", m.stats.TelemetryFrames)),
		statsLabelStyle.Render("Errors:"), errorStyle.Render(fmt.Sprintf("%d (%.1f%%)", m.stats.Errors(), errorPercent)),
	))

	if m.stats.Errors() > 0 {
		statsContent.WriteString(fmt.Sprintf("%s %s   %s %s   %s %s\n",
			statsLabelStyle.Render("Framing:"), errorStyle.Render(fmt.Sprintf("%d", m.stats.FramingErrors)),
			statsLabelStyle.Render("Length:"), errorStyle.Render(fmt.Sprintf("%d", m.stats.LengthErrors)),
			statsLabelStyle.Render("CRC:"), errorStyle.Render(fmt.Sprintf("%d", m.stats.CRCErrors)),
		))
	}

	statsContent.WriteString(fmt.Sprintf("%s %s   %s %s",
		statsLabelStyle.Render("Frame Rate:"), statsValueStyle.Render(fmt.Sprintf("%.1f frames/s", m.stats.FrameRate)),
		statsLabelStyle.Render("Error Rate:"), func() string {
			if m.stats.ErrorRate > 0 {
				return errorStyle.Render(fmt.Sprintf("%.1f err/s", m.stats.ErrorRate))
			}
			return statsValueStyle.Render(fmt.Sprintf("%.1f err/s", m.stats.ErrorRate))
		}(),
	))
	if m.lastHealth != "" {
		statsContent.WriteString("\n")
		statsContent.WriteString(fmt.Sprintf("%s %s", statsLabelStyle.Render("Peer:"), headerStyle.Render(m.lastHealth)))
	}

	s.WriteString(boxStyle.Render(statsContent.String()))
	s.WriteString("\n\n")

	s.WriteString(statsLabelStyle.Render("Latest Telemetry:"))
	s.WriteString("\n")
	s.WriteString(boxStyle.Render(m.table.View()))
	s.WriteString("\n\n")

	s.WriteString(statsLabelStyle.Render("Recent Events:"))
	s.WriteString("\n")

	// Calculate how many log entries we can show
	logHeight := m.height - m.fields.Len() - 20
	if logHeight < 5 {
		logHeight = 5
	}

	logContent := strings.Builder{}
	startIdx := len(m.eventLog) - logHeight
	if startIdx < 0 {
		startIdx = 0
	}

	if len(m.eventLog) == 0 {
		logContent.WriteString(headerStyle.Render("  (no events yet)"))
	} else {
		for i := startIdx; i < len(m.eventLog); i++ {
			entry := m.eventLog[i]
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

	s.WriteString(boxStyle.Width(m.width - 4).Render(logContent.String()))
	s.WriteString("\n")

	if m.typing {
		s.WriteString(m.input.View())
	} else {
		s.WriteString(headerStyle.Render("Press ':' to send a command"))
	}

	return s.String()
}
