// warden-tui is a terminal dashboard over the daemon's HTTP API. It
// polls provider status once a second and renders window usage, auth
// source usability and the recent call stream.
package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

const (
	pollRate       = time.Second
	maxRecords     = 20
	viewportHeight = 12
)

var (
	subtleStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	errorStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	okStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	warnStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))

	headerStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("205")).
			Bold(true).
			BorderStyle(lipgloss.NormalBorder()).
			BorderBottom(true).
			Width(100)

	paneStyle = lipgloss.NewStyle().
			BorderStyle(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("63")).
			Padding(0, 1).
			Width(100)

	timeStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("241")).Width(20)
	providerStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("99")).Width(12)
)

// API types mirrored from pkg/governor and pkg/store so the TUI binary
// stays free of CGO.

type RuleStatus struct {
	Window    string    `json:"window"`
	HardStop  int       `json:"hard_stop"`
	Used      int       `json:"used"`
	Remaining int       `json:"remaining"`
	State     string    `json:"state"`
	WindowEnd time.Time `json:"window_end"`
}

type SourceStatus struct {
	Name           string    `json:"name"`
	Usable         bool      `json:"usable"`
	ExhaustedUntil time.Time `json:"exhausted_until,omitempty"`
}

type ProviderStatus struct {
	Provider    string         `json:"provider"`
	State       string         `json:"state"`
	Rules       []RuleStatus   `json:"rules"`
	AuthSources []SourceStatus `json:"auth_sources"`
	LastOutcome string         `json:"last_outcome,omitempty"`
	LastCallAt  time.Time      `json:"last_call_at,omitempty"`
}

type UsageRecord struct {
	Provider   string    `json:"provider"`
	Timestamp  time.Time `json:"timestamp"`
	Outcome    string    `json:"outcome"`
	AuthSource string    `json:"auth_source"`
}

type tickMsg time.Time

type dataMsg struct {
	statuses []ProviderStatus
	records  []UsageRecord
	err      error
}

type model struct {
	daemonURL string
	spinner   spinner.Model
	viewport  viewport.Model
	statuses  []ProviderStatus
	records   []UsageRecord
	err       error
	ready     bool
}

func initialModel(daemonURL string) model {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = lipgloss.NewStyle().Foreground(lipgloss.Color("205"))

	return model{
		daemonURL: daemonURL,
		spinner:   s,
	}
}

func (m model) Init() tea.Cmd {
	return tea.Batch(
		m.spinner.Tick,
		fetchData(m.daemonURL),
		tick(),
	)
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var (
		cmd  tea.Cmd
		cmds []tea.Cmd
	)

	switch msg := msg.(type) {
	case tea.KeyMsg:
		if msg.String() == "q" || msg.String() == "ctrl+c" {
			return m, tea.Quit
		}
		m.viewport, cmd = m.viewport.Update(msg)
		cmds = append(cmds, cmd)
		return m, tea.Batch(cmds...)

	case spinner.TickMsg:
		m.spinner, cmd = m.spinner.Update(msg)
		cmds = append(cmds, cmd)

	case tickMsg:
		cmds = append(cmds, fetchData(m.daemonURL), tick())

	case dataMsg:
		if msg.err != nil {
			m.err = msg.err
		} else {
			m.err = nil
			m.statuses = msg.statuses
			m.records = msg.records
			m.updateViewportContent()
		}
		if !m.ready {
			m.ready = true
		}

	case tea.WindowSizeMsg:
		if !m.ready {
			m.viewport = viewport.New(msg.Width, viewportHeight)
			m.ready = true
		} else {
			m.viewport.Width = msg.Width
			m.viewport.Height = viewportHeight
		}
	}

	return m, tea.Batch(cmds...)
}

func (m *model) updateViewportContent() {
	var sb strings.Builder
	for _, r := range m.records {
		ts := r.Timestamp.Local().Format("15:04:05")

		var outcome string
		switch r.Outcome {
		case "success":
			outcome = okStyle.Render(r.Outcome)
		case "refused":
			outcome = warnStyle.Render(r.Outcome)
		default:
			outcome = errorStyle.Render(r.Outcome)
		}

		sb.WriteString(fmt.Sprintf("%s %s %s %s\n",
			timeStyle.Render(ts),
			providerStyle.Render(r.Provider),
			outcome,
			subtleStyle.Render(r.AuthSource),
		))
	}
	m.viewport.SetContent(sb.String())
}

func (m model) View() string {
	if !m.ready {
		return fmt.Sprintf("\n%s Connecting to daemon...", m.spinner.View())
	}

	var table strings.Builder
	table.WriteString(lipgloss.NewStyle().Bold(true).Underline(true).Render("Provider Quotas") + "\n\n")

	if len(m.statuses) == 0 {
		table.WriteString(subtleStyle.Render("No providers configured."))
	}
	for _, ps := range m.statuses {
		table.WriteString(fmt.Sprintf("%s  %s\n",
			providerStyle.Render(ps.Provider),
			renderState(ps.State)))
		for _, rule := range ps.Rules {
			table.WriteString(fmt.Sprintf("  %-16s %d/%d used, %d left, resets %s\n",
				rule.Window, rule.Used, rule.HardStop, rule.Remaining,
				rule.WindowEnd.Local().Format("Jan 2 15:04")))
		}
		for _, src := range ps.AuthSources {
			if src.Usable {
				table.WriteString(fmt.Sprintf("  auth %-12s %s\n", src.Name, okStyle.Render("usable")))
			} else {
				table.WriteString(fmt.Sprintf("  auth %-12s %s until %s\n",
					src.Name, errorStyle.Render("exhausted"),
					src.ExhaustedUntil.Local().Format("15:04")))
			}
		}
	}

	topPane := paneStyle.Render(table.String())
	header := headerStyle.Render(fmt.Sprintf("%s Call Stream", m.spinner.View()))
	bottomPane := m.viewport.View()

	var status string
	if m.err != nil {
		status = errorStyle.Render(fmt.Sprintf("Offline: %v", m.err))
	} else {
		status = okStyle.Render(fmt.Sprintf("Online • %d providers • %d recent calls",
			len(m.statuses), len(m.records)))
	}
	footer := subtleStyle.Render(fmt.Sprintf("\n%s\nPress q to quit", status))

	return lipgloss.JoinVertical(lipgloss.Left, topPane, header, bottomPane, footer)
}

func renderState(state string) string {
	switch state {
	case "open":
		return okStyle.Render(state)
	case "throttled":
		return warnStyle.Render(state)
	default:
		return errorStyle.Render(state)
	}
}

// Commands

func fetchData(daemonURL string) tea.Cmd {
	return func() tea.Msg {
		statuses, err := getStatus(daemonURL)
		if err != nil {
			return dataMsg{err: err}
		}
		records, err := getUsage(daemonURL)
		if err != nil {
			return dataMsg{err: err}
		}
		return dataMsg{statuses: statuses, records: records}
	}
}

func getStatus(daemonURL string) ([]ProviderStatus, error) {
	c := &http.Client{Timeout: 500 * time.Millisecond}
	resp, err := c.Get(daemonURL + "/v1/status")
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("status endpoint returned %d", resp.StatusCode)
	}

	var statuses []ProviderStatus
	if err := json.NewDecoder(resp.Body).Decode(&statuses); err != nil {
		return nil, err
	}
	return statuses, nil
}

func getUsage(daemonURL string) ([]UsageRecord, error) {
	c := &http.Client{Timeout: 500 * time.Millisecond}
	resp, err := c.Get(fmt.Sprintf("%s/v1/usage?limit=%d", daemonURL, maxRecords))
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("usage endpoint returned %d", resp.StatusCode)
	}

	var records []UsageRecord
	if err := json.NewDecoder(resp.Body).Decode(&records); err != nil {
		return nil, err
	}
	return records, nil
}

func tick() tea.Cmd {
	return tea.Tick(pollRate, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func main() {
	daemonURL := "http://localhost:8090"
	if v := os.Getenv("WARDEN_ADDR"); v != "" {
		if strings.HasPrefix(v, "http") {
			daemonURL = v
		} else {
			daemonURL = "http://" + v
		}
	}

	p := tea.NewProgram(initialModel(daemonURL), tea.WithAltScreen())
	if _, err := p.Run(); err != nil {
		fmt.Printf("error: %v", err)
		os.Exit(1)
	}
}
