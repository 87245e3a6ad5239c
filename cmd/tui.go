// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/Thermoquad/bmsstat/internal/poller"
	"github.com/Thermoquad/bmsstat/pkg/bms"
)

// Event log entry
type eventLogEntry struct {
	timestamp time.Time
	message   string
	isError   bool // true for errors, false for info
}

// Latest state of one device
type deviceView struct {
	name    string
	vendor  string
	conn    string
	stats   *bms.Statistics
	last    *bms.Sample
	lastAt  time.Time
	lastErr error
	cycles  int
}

// TUI model
type dashboard struct {
	devices       []*deviceView
	byName        map[string]*deviceView
	spinner       spinner.Model
	eventLog      []eventLogEntry
	maxLogEntries int
	width         int
	height        int
	quitting      bool
}

// Messages
type tickMsg time.Time
type resultMsg poller.Result

func newDashboard(devices []*device) dashboard {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = lipgloss.NewStyle().Foreground(lipgloss.Color("11"))

	d := dashboard{
		byName:        make(map[string]*deviceView),
		spinner:       s,
		eventLog:      make([]eventLogEntry, 0),
		maxLogEntries: 100,
		width:         80,
		height:        24,
	}
	for _, dev := range devices {
		v := &deviceView{
			name:   dev.cfg.Name,
			vendor: dev.vendor.Key,
			conn:   dev.conn,
			stats:  dev.stats,
		}
		d.devices = append(d.devices, v)
		d.byName[v.name] = v
	}
	return d
}

func (m dashboard) Init() tea.Cmd {
	return tea.Batch(
		tickCmd(),
		m.spinner.Tick,
		tea.EnterAltScreen,
	)
}

func tickCmd() tea.Cmd {
	return tea.Tick(time.Second, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func (m dashboard) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			m.quitting = true
			return m, tea.Quit
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height

	case tickMsg:
		// Redraw so statistics rates stay current
		return m, tickCmd()

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case resultMsg:
		dev, ok := m.byName[msg.Device]
		if !ok {
			return m, nil
		}
		dev.cycles++
		dev.lastErr = msg.Err
		if msg.Err != nil {
			m.addLogEntry(fmt.Sprintf("%s: %v", msg.Device, msg.Err), true)
			return m, nil
		}
		dev.last = msg.Sample
		dev.lastAt = msg.At
		if msg.Sample.Problem != nil && *msg.Sample.Problem {
			m.addLogEntry(fmt.Sprintf("%s: problem reported", msg.Device), true)
		} else if dev.cycles == 1 {
			m.addLogEntry(fmt.Sprintf("%s: first sample in %v", msg.Device, msg.Duration.Round(time.Millisecond)), false)
		}
	}

	return m, nil
}

func (m *dashboard) addLogEntry(message string, isError bool) {
	entry := eventLogEntry{
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

// Styles
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

func (m dashboard) View() string {
	if m.quitting {
		return "Shutting down...\n"
	}

	var s strings.Builder
	s.WriteString(titleStyle.Render("BMSSTAT - MONITOR"))
	s.WriteString("\n")
	s.WriteString(headerStyle.Render(fmt.Sprintf("%d devices | Press 'q' to quit", len(m.devices))))
	s.WriteString("\n\n")

	for _, dev := range m.devices {
		s.WriteString(labelStyle.Render(fmt.Sprintf("%s (%s)", dev.name, dev.vendor)))
		s.WriteString(headerStyle.Render("  " + dev.conn))
		s.WriteString("\n")
		s.WriteString(boxStyle.Render(m.renderDevice(dev)))
		s.WriteString("\n")
	}

	// Event log
	s.WriteString(labelStyle.Render("Recent Events:"))
	s.WriteString("\n")

	logHeight := m.height - 10*len(m.devices) - 6
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
			timestamp := entry.timestamp.Format("01/02/06 15:04:05.000")
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

	width := m.width - 4
	if width < 20 {
		width = 20
	}
	s.WriteString(boxStyle.Width(width).Render(logContent.String()))

	return s.String()
}

func (m dashboard) renderDevice(dev *deviceView) string {
	var b strings.Builder

	if dev.last == nil {
		if dev.lastErr != nil {
			b.WriteString(errorStyle.Render(fmt.Sprintf("✗ %v", dev.lastErr)))
		} else {
			b.WriteString(m.spinner.View() + warningStyle.Render(" Waiting for first sample..."))
		}
		b.WriteString("\n")
	} else {
		s := dev.last
		b.WriteString(fmt.Sprintf("%s %s   %s %s   %s %s   %s %s\n",
			labelStyle.Render("Voltage:"), valueStyle.Render(floatField(s.Voltage, "%.2f V")),
			labelStyle.Render("Current:"), valueStyle.Render(floatField(s.Current, "%.2f A")),
			labelStyle.Render("SOC:"), valueStyle.Render(floatField(s.BatteryLevel, "%.0f%%")),
			labelStyle.Render("Power:"), valueStyle.Render(floatField(s.Power, "%.1f W")),
		))
		b.WriteString(fmt.Sprintf("%s %s   %s %s   %s %s\n",
			labelStyle.Render("Temp:"), valueStyle.Render(floatField(s.Temperature, "%.1f°C")),
			labelStyle.Render("Delta:"), valueStyle.Render(floatField(s.DeltaVoltage, "%.3f V")),
			labelStyle.Render("Remaining:"), valueStyle.Render(floatField(s.CycleCharge, "%.1f Ah")),
		))
		if len(s.CellVoltages) > 0 {
			cells := make([]string, len(s.CellVoltages))
			for i, v := range s.CellVoltages {
				cells[i] = fmt.Sprintf("%.3f", v)
			}
			b.WriteString(fmt.Sprintf("%s %s\n", labelStyle.Render("Cells:"), valueStyle.Render(strings.Join(cells, " "))))
		}
		if s.Problem != nil && *s.Problem {
			code := uint64(0)
			if s.ProblemCode != nil {
				code = *s.ProblemCode
			}
			b.WriteString(errorStyle.Render(fmt.Sprintf("⚠ Problem (code 0x%X)", code)))
			b.WriteString("\n")
		}
		status := fmt.Sprintf("Updated %s ago", time.Since(dev.lastAt).Round(time.Second))
		if dev.lastErr != nil {
			b.WriteString(errorStyle.Render(fmt.Sprintf("✗ last refresh failed: %v", dev.lastErr)))
			b.WriteString("\n")
		}
		b.WriteString(headerStyle.Render(status))
		b.WriteString("\n")
	}

	c := dev.stats.Snapshot()
	errRate := valueStyle.Render(fmt.Sprintf("%.2f err/s", c.ErrorRate))
	if c.ErrorRate > 0 {
		errRate = errorStyle.Render(fmt.Sprintf("%.2f err/s", c.ErrorRate))
	}
	b.WriteString(fmt.Sprintf("%s %s   %s %s   %s %s   %s %s",
		labelStyle.Render("Cycles:"), valueStyle.Render(fmt.Sprintf("%d ok / %d failed", c.CyclesOK, c.CyclesFailed)),
		labelStyle.Render("Frames:"), valueStyle.Render(fmt.Sprintf("%d (%d rejected)", c.TotalFrames, c.RejectedFrames())),
		labelStyle.Render("Retries:"), valueStyle.Render(fmt.Sprintf("%d", c.Retries)),
		labelStyle.Render("Errors:"), errRate,
	))
	return b.String()
}

func floatField(v *float64, format string) string {
	if v == nil {
		return "-"
	}
	return fmt.Sprintf(format, *v)
}
