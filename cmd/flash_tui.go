// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/Thermoquad/keyflash/pkg/flasher"
	"github.com/Thermoquad/keyflash/pkg/halfkay"
	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

//////////////////////////////////////////////////////////////
// Styles
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

//////////////////////////////////////////////////////////////
// Messages
//////////////////////////////////////////////////////////////

type flashEventMsg flasher.Event

type flashResultMsg struct {
	err error
}

//////////////////////////////////////////////////////////////
// Model
//////////////////////////////////////////////////////////////

type flashLogEntry struct {
	timestamp time.Time
	message   string
	isError   bool
}

// flashModel is the Bubble Tea model for an interactive flash session
type flashModel struct {
	imageName string
	imageSize int
	connInfo  string

	phase   flasher.Phase
	device  string
	page    int
	pages   int
	written int
	elapsed time.Duration

	progress progress.Model
	spinner  spinner.Model

	log           []flashLogEntry
	maxLogEntries int
	warning       string

	cancel     context.CancelFunc
	cancelling bool
	finished   bool
	err        error
	width      int
}

func initialFlashModel(imageName string, imageSize int, connInfo string, cancel context.CancelFunc) flashModel {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = warningStyle

	return flashModel{
		imageName:     imageName,
		imageSize:     imageSize,
		connInfo:      connInfo,
		phase:         flasher.PhaseStart,
		progress:      progress.New(progress.WithDefaultGradient()),
		spinner:       s,
		maxLogEntries: 8,
		cancel:        cancel,
		width:         80,
	}
}

func runFlashTUI(ctx context.Context, path string, image halfkay.Image, opts []flasher.Option) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	m := initialFlashModel(filepath.Base(path), image.Len(), backendInfo(), cancel)
	p := tea.NewProgram(m)

	opts = append(opts, flasher.WithObserver(func(e flasher.Event) {
		p.Send(flashEventMsg(e))
	}))
	f := newFlasher(opts...)

	go func() {
		err := f.Flash(ctx, image)
		p.Send(flashResultMsg{err: err})
	}()

	final, err := p.Run()
	if err != nil {
		cancel()
		return fmt.Errorf("TUI error: %v", err)
	}
	return final.(flashModel).err
}

//////////////////////////////////////////////////////////////
// Bubble Tea Interface
//////////////////////////////////////////////////////////////

func (m flashModel) Init() tea.Cmd {
	return m.spinner.Tick
}

func (m flashModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			return m.interrupt()
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.progress.Width = max(msg.Width-8, 20)

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case flashEventMsg:
		m.applyEvent(flasher.Event(msg))

	case flashResultMsg:
		m.finished = true
		m.err = msg.err
		if msg.err != nil {
			m.addLogEntry(msg.err.Error(), true)
		}
		return m, tea.Quit
	}

	return m, nil
}

// interrupt cancels the session if it has not started writing. During
// programming it only warns; the flasher ignores cancellation there anyway.
func (m flashModel) interrupt() (tea.Model, tea.Cmd) {
	if m.finished {
		return m, tea.Quit
	}
	if m.programming() {
		m.warning = "Programming in progress. Interrupting now would leave the keyboard without firmware."
		return m, nil
	}
	if !m.cancelling {
		m.cancelling = true
		m.addLogEntry("Cancelling...", false)
		m.cancel()
	}
	return m, nil
}

func (m flashModel) programming() bool {
	return m.phase == flasher.PhaseProgramming || m.phase == flasher.PhaseCommitted
}

func (m *flashModel) applyEvent(e flasher.Event) {
	m.phase = e.Phase
	m.elapsed = e.Elapsed

	switch e.Phase {
	case flasher.PhaseRequestSent:
		if e.Err != nil {
			m.addLogEntry(fmt.Sprintf("Reboot request not delivered: %v", e.Err), true)
		} else {
			m.addLogEntry("Reboot requested: "+e.Device.Path, false)
		}
	case flasher.PhaseAwaitBootloader:
		m.addLogEntry("Waiting for bootloader", false)
	case flasher.PhaseManualPrompt:
		m.addLogEntry("Keyboard did not reboot on its own", true)
	case flasher.PhaseProgramming:
		if e.Page == 0 {
			m.device = fmt.Sprintf("%s at %s", halfkay.FormatIdentity(e.Device.Identity), e.Device.Path)
			m.pages = e.Pages
			m.addLogEntry("Programming "+m.device, false)
		}
		m.page = e.Page
		m.written = e.Written
	case flasher.PhaseCommitted:
		m.warning = ""
		m.addLogEntry("Image committed, keyboard rebooting", false)
	case flasher.PhaseDone:
		m.addLogEntry(fmt.Sprintf("Done in %s", e.Elapsed.Round(time.Millisecond)), false)
	}
}

func (m *flashModel) addLogEntry(message string, isError bool) {
	m.log = append(m.log, flashLogEntry{
		timestamp: time.Now(),
		message:   message,
		isError:   isError,
	})
	if len(m.log) > m.maxLogEntries {
		m.log = m.log[len(m.log)-m.maxLogEntries:]
	}
}

func (m flashModel) percent() float64 {
	if m.pages == 0 {
		return 0
	}
	return float64(m.page) / float64(m.pages)
}

func (m flashModel) View() string {
	var s strings.Builder
	s.WriteString(titleStyle.Render("KEYFLASH - FLASH"))
	s.WriteString("\n")
	s.WriteString(headerStyle.Render(fmt.Sprintf("Image: %s (%d bytes) | %s | Press Ctrl+C to abort",
		m.imageName, m.imageSize, m.connInfo)))
	s.WriteString("\n\n")

	// Status line
	status := strings.Builder{}
	switch {
	case m.finished && m.err == nil:
		status.WriteString(valueStyle.Render("✓ Firmware updated"))
	case m.finished:
		status.WriteString(errorStyle.Render("✗ Update failed"))
	case m.phase == flasher.PhaseManualPrompt || m.phase == flasher.PhaseAwaitManual:
		status.WriteString(m.spinner.View())
		status.WriteString(warningStyle.Render("Press the reset button on the Teensy"))
	case m.programming():
		status.WriteString(fmt.Sprintf("%s %s",
			labelStyle.Render("Programming:"), valueStyle.Render(m.device)))
	default:
		status.WriteString(m.spinner.View())
		status.WriteString(labelStyle.Render(phaseTitle(m.phase)))
	}
	status.WriteString("\n\n")

	status.WriteString(m.progress.ViewAs(m.percent()))
	status.WriteString("\n")
	status.WriteString(fmt.Sprintf("%s %s   %s %s   %s %s",
		labelStyle.Render("Pages:"), valueStyle.Render(fmt.Sprintf("%d/%d", m.page, m.pages)),
		labelStyle.Render("Written:"), valueStyle.Render(fmt.Sprintf("%d", m.written)),
		labelStyle.Render("Elapsed:"), valueStyle.Render(m.elapsed.Round(100*time.Millisecond).String()),
	))
	s.WriteString(boxStyle.Render(status.String()))
	s.WriteString("\n")

	if m.warning != "" {
		s.WriteString(warningStyle.Render("⚠ " + m.warning))
		s.WriteString("\n")
	}

	// Event log
	s.WriteString("\n")
	s.WriteString(labelStyle.Render("Events:"))
	s.WriteString("\n")
	logContent := strings.Builder{}
	for _, entry := range m.log {
		timestamp := headerStyle.Render(entry.timestamp.Format("15:04:05.000"))
		if entry.isError {
			logContent.WriteString(fmt.Sprintf("%s %s\n", timestamp, errorStyle.Render("✗ "+entry.message)))
		} else {
			logContent.WriteString(fmt.Sprintf("%s %s\n", timestamp, "ℹ "+entry.message))
		}
	}
	if len(m.log) == 0 {
		logContent.WriteString(headerStyle.Render("  (no events yet)"))
	}
	s.WriteString(boxStyle.Width(max(m.width-4, 20)).Render(strings.TrimRight(logContent.String(), "\n")))
	s.WriteString("\n")

	return s.String()
}

func phaseTitle(p flasher.Phase) string {
	switch p {
	case flasher.PhaseStart:
		return "Looking for keyboard"
	case flasher.PhaseRequestSent, flasher.PhaseAwaitBootloader:
		return "Waiting for bootloader"
	default:
		return p.String()
	}
}
