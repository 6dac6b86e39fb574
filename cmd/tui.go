// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/Thermoquad/mielestat/pkg/publish"
	"github.com/Thermoquad/mielestat/pkg/sniffer"
	"github.com/Thermoquad/mielestat/pkg/washer"
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/table"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

// Event log entry
type logEntry struct {
	timestamp time.Time
	message   string
	isError   bool // true for glitches and faults, false for published values
}

// TUI model
type model struct {
	sourceInfo    string
	interval      time.Duration
	replay        *sniffer.Replay
	stats         *sniffer.Statistics
	registers     table.Model
	spinner       spinner.Model
	result        publish.Result
	hasResult     bool
	lastGlitches  [2]uint64
	sourceDone    bool
	sourceErr     error
	eventLog      []logEntry
	maxLogEntries int
	width         int
	height        int
	quitting      bool
}

// Messages
type tickMsg time.Time
type resultMsg publish.Result
type publishMsg struct {
	topic   string
	payload []byte
}
type sourceDoneMsg struct {
	err error
}

// tuiSink forwards published values to the event log
type tuiSink struct {
	program *tea.Program
}

func (s *tuiSink) Publish(ctx context.Context, topic string, payload []byte) error {
	s.program.Send(publishMsg{topic: topic, payload: append([]byte(nil), payload...)})
	return nil
}

// formatUptime formats uptime in milliseconds to human-friendly string
func formatUptime(ms uint64) string {
	if ms == 0 {
		return "0 seconds"
	}

	seconds := ms / 1000
	minutes := seconds / 60
	hours := minutes / 60
	days := hours / 24

	seconds %= 60
	minutes %= 60
	hours %= 24

	parts := []string{}
	plural := func(n uint64, unit string) {
		if n == 1 {
			parts = append(parts, "1 "+unit)
		} else {
			parts = append(parts, fmt.Sprintf("%d %ss", n, unit))
		}
	}
	if days > 0 {
		plural(days, "day")
	}
	if hours > 0 {
		plural(hours, "hour")
	}
	if minutes > 0 {
		plural(minutes, "minute")
	}
	if seconds > 0 || len(parts) == 0 {
		plural(seconds, "second")
	}

	// Join with commas and "and" for last item
	if len(parts) == 1 {
		return parts[0]
	}
	if len(parts) == 2 {
		return parts[0] + " and " + parts[1]
	}
	last := parts[len(parts)-1]
	rest := strings.Join(parts[:len(parts)-1], ", ")
	return rest + ", and " + last
}

var registerColumns = []table.Column{
	{Title: "Chip", Width: 6},
	{Title: "Control", Width: 8},
	{Title: "Display", Width: 9},
	{Title: "Glyphs", Width: 7},
	{Title: "Ctrl", Width: 8},
	{Title: "Disp", Width: 8},
	{Title: "Glitches", Width: 9},
}

// registerRows renders both channels of a snapshot as table rows
func registerRows(snap sniffer.Snapshot) []table.Row {
	rows := make([]table.Row, 0, 2)
	for _, side := range []sniffer.Side{sniffer.Left, sniffer.Right} {
		c := snap.Channel(side)
		g := c.Registers().Glyphs()
		rows = append(rows, table.Row{
			side.String(),
			fmt.Sprintf("0x%02X", c.Control),
			fmt.Sprintf("0x%06X", c.Display),
			fmt.Sprintf("[%s]", g[:]),
			fmt.Sprintf("%d", c.ControlUpdates),
			fmt.Sprintf("%d", c.DisplayUpdates),
			fmt.Sprintf("%d", c.Glitches),
		})
	}
	return rows
}

func initialModel(sourceInfo string, interval time.Duration, replay *sniffer.Replay) model {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = lipgloss.NewStyle().Foreground(lipgloss.Color("12"))

	t := table.New(
		table.WithColumns(registerColumns),
		table.WithRows(registerRows(sniffer.Snapshot{})),
		table.WithHeight(3),
		table.WithFocused(false),
	)

	return model{
		sourceInfo:    sourceInfo,
		interval:      interval,
		replay:        replay,
		stats:         sniffer.NewStatistics(),
		registers:     t,
		spinner:       s,
		eventLog:      make([]logEntry, 0),
		maxLogEntries: 100,
		width:         80,
		height:        24,
	}
}

func (m model) Init() tea.Cmd {
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

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			m.quitting = true
			return m, tea.Quit
		case "r":
			m.stats.Reset()
			m.addLogEntry("Statistics reset", false)
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height

	case tickMsg:
		m.stats.CalculateRates()
		return m, tickCmd()

	case spinner.TickMsg:
		if m.sourceDone {
			return m, nil
		}
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case resultMsg:
		m.applyResult(publish.Result(msg))

	case publishMsg:
		m.addLogEntry(formatPublished(msg.topic, msg.payload), false)

	case sourceDoneMsg:
		m.sourceDone = true
		m.sourceErr = msg.err
		if msg.err != nil {
			m.addLogEntry(fmt.Sprintf("Source failed: %v", msg.err), true)
		} else {
			m.addLogEntry("Source finished", false)
		}
	}

	return m, nil
}

// applyResult records a publisher step
func (m *model) applyResult(r publish.Result) {
	sides := []sniffer.Side{sniffer.Left, sniffer.Right}

	if m.hasResult {
		if r.State != m.result.State && r.State == washer.Fault {
			m.addLogEntry("Appliance reports a fault", true)
		}
		for i, side := range sides {
			if glitches := r.Snapshot.Channel(side).Glitches; glitches > m.lastGlitches[i] {
				m.addLogEntry(fmt.Sprintf("%s: %d glitched transaction(s)", side, glitches-m.lastGlitches[i]), true)
			}
		}
	}
	for i, side := range sides {
		m.lastGlitches[i] = r.Snapshot.Channel(side).Glitches
	}

	m.result = r
	m.hasResult = true

	m.stats.Update(r.Snapshot)
	if m.replay != nil {
		m.stats.UpdateReplay(m.replay)
	}
	m.registers.SetRows(registerRows(r.Snapshot))
}

func formatPublished(topic string, payload []byte) string {
	if utf8.Valid(payload) {
		return fmt.Sprintf("%s: %q", topic, payload)
	}
	return fmt.Sprintf("%s: %d bytes", topic, len(payload))
}

func (m *model) addLogEntry(message string, isError bool) {
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

func (m model) View() string {
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

	// Header
	var s strings.Builder
	s.WriteString(titleStyle.Render("MIELESTAT - MONITOR"))
	s.WriteString("\n")
	s.WriteString(headerStyle.Render(fmt.Sprintf("%s | Interval: %s | 'r' resets statistics, 'q' quits",
		m.sourceInfo, m.interval)))
	s.WriteString("\n\n")

	// Source status
	switch {
	case m.sourceErr != nil:
		s.WriteString(errorStyle.Render(fmt.Sprintf("✗ Source failed: %v", m.sourceErr)))
	case m.sourceDone:
		s.WriteString(statsValueStyle.Render("✓ Source finished"))
	default:
		s.WriteString(m.spinner.View() + warningStyle.Render(" Listening to the bus..."))
	}
	s.WriteString("\n\n")

	// Appliance state
	stateContent := strings.Builder{}
	if !m.hasResult {
		stateContent.WriteString(headerStyle.Render("(no registers yet)"))
	} else {
		stateStyle := statsValueStyle
		if m.result.State == washer.Fault {
			stateStyle = errorStyle
		} else if m.result.State == washer.DoorOpen {
			stateStyle = warningStyle
		}
		stateContent.WriteString(fmt.Sprintf("%s %s   %s %s\n",
			statsLabelStyle.Render("Time:"), statsValueStyle.Render(fmt.Sprintf("%q", m.result.Time)),
			statsLabelStyle.Render("State:"), stateStyle.Render(m.result.State.String()),
		))
		stateContent.WriteString(fmt.Sprintf("%s %s",
			statsLabelStyle.Render("Status:"), statsValueStyle.Render(m.result.Status),
		))
	}
	s.WriteString(boxStyle.Render(stateContent.String()))
	s.WriteString("\n\n")

	// Registers
	s.WriteString(statsLabelStyle.Render("Registers:"))
	s.WriteString("\n")
	s.WriteString(boxStyle.Render(m.registers.View()))
	s.WriteString("\n\n")

	// Statistics
	m.stats.CalculateRates()
	statsContent := strings.Builder{}
	statsContent.WriteString(fmt.Sprintf("%s %s   %s %s   %s %s\n",
		statsLabelStyle.Render("Commits:"), statsValueStyle.Render(fmt.Sprintf("%d", m.stats.Commits())),
		statsLabelStyle.Render("Glitches:"), func() string {
			text := fmt.Sprintf("%d (%.1f%%)", m.stats.Glitches(), m.stats.GlitchPercent())
			if m.stats.Glitches() > 0 {
				return errorStyle.Render(text)
			}
			return statsValueStyle.Render(text)
		}(),
		statsLabelStyle.Render("Uptime:"), statsValueStyle.Render(formatUptime(uint64(time.Since(m.stats.StartTime).Milliseconds()))),
	))
	if m.stats.Samples > 0 {
		statsContent.WriteString(fmt.Sprintf("%s %s   %s %s\n",
			statsLabelStyle.Render("Samples:"), statsValueStyle.Render(fmt.Sprintf("%d", m.stats.Samples)),
			statsLabelStyle.Render("Edges:"), statsValueStyle.Render(fmt.Sprintf("%d", m.stats.Edges)),
		))
	}
	statsContent.WriteString(fmt.Sprintf("%s %s   %s %s",
		statsLabelStyle.Render("Commit Rate:"), statsValueStyle.Render(fmt.Sprintf("%.1f/s", m.stats.CommitRate)),
		statsLabelStyle.Render("Glitch Rate:"), statsValueStyle.Render(fmt.Sprintf("%.1f/s", m.stats.GlitchRate)),
	))
	s.WriteString(boxStyle.Render(statsContent.String()))
	s.WriteString("\n\n")

	// Event log
	s.WriteString(statsLabelStyle.Render("Recent Events:"))
	s.WriteString("\n")

	logHeight := m.height - 24 // Reserve space for header, state, registers and stats
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

	s.WriteString(boxStyle.Width(m.width - 4).Render(logContent.String()))

	return s.String()
}
