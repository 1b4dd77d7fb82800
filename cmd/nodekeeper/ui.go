package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/InsulaLabs/nodekeeper/chain"
	"github.com/InsulaLabs/nodekeeper/config"
	"github.com/InsulaLabs/nodekeeper/node"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

type statusMsg node.StatusSnapshot

type lifecycleMsg struct {
	action string
	err    error
}

type model struct {
	sup          *node.Supervisor
	status       <-chan node.StatusSnapshot
	settings     config.Settings
	settingsFile string

	spinner spinner.Model
	busy    string
	last    *node.StatusSnapshot
	err     error
	note    string
}

var (
	titleStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("212"))
	labelStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("245")).Width(18)
	errStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	helpStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	boxStyle   = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
)

func newModel(sup *node.Supervisor, status <-chan node.StatusSnapshot, settings config.Settings, settingsFile string) model {
	sp := spinner.New()
	sp.Spinner = spinner.Dot
	m := model{
		sup:          sup,
		status:       status,
		settings:     settings,
		settingsFile: settingsFile,
		spinner:      sp,
	}
	// Init starts the node, keys wait until it settles
	if settings.UseEmbeddedNode {
		m.busy = "starting"
	}
	return m
}

func (m model) Init() tea.Cmd {
	cmds := []tea.Cmd{m.spinner.Tick, waitForStatus(m.status)}
	if m.settings.UseEmbeddedNode {
		cmds = append(cmds, m.lifecycle("starting", func() error {
			return m.sup.Start(m.settings.ChainType)
		}))
	}
	return tea.Batch(cmds...)
}

func waitForStatus(status <-chan node.StatusSnapshot) tea.Cmd {
	return func() tea.Msg {
		return statusMsg(<-status)
	}
}

// lifecycle runs a blocking supervisor call off the UI goroutine.
func (m model) lifecycle(action string, fn func() error) tea.Cmd {
	return func() tea.Msg {
		return lifecycleMsg{action: action, err: fn()}
	}
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.handleKey(msg)

	case statusMsg:
		snap := node.StatusSnapshot(msg)
		// snapshots from a stopped instance can still be queued
		if snap.InstanceID == m.sup.InstanceID() {
			m.last = &snap
		}
		return m, waitForStatus(m.status)

	case lifecycleMsg:
		m.busy = ""
		m.err = msg.err
		if msg.err == nil {
			m.note = fmt.Sprintf("%s: done", msg.action)
		}
		if !m.sup.IsRunning() {
			m.last = nil
		}
		return m, nil

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}
	return m, nil
}

func (m model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "q", "ctrl+c":
		return m, tea.Quit
	}
	if m.busy != "" {
		return m, nil
	}

	ct := m.settings.ChainType
	switch msg.String() {
	case "s":
		if m.sup.IsRunning() {
			m.busy = "stopping"
			return m, m.lifecycle("stop", func() error { return m.sup.Stop(true) })
		}
		m.busy = "starting"
		return m, m.lifecycle("start", func() error { return m.sup.Start(ct) })

	case "r":
		m.busy = "restarting"
		return m, m.lifecycle("restart", func() error { return m.sup.Restart(ct) })

	case "t":
		next := nextChain(ct)
		m.settings.ChainType = next
		if err := config.SaveSettings(m.settingsFile, m.settings); err != nil {
			m.err = err
		}
		if !m.sup.IsRunning() {
			m.note = "chain set to " + next.String()
			return m, nil
		}
		m.busy = "switching to " + next.String()
		return m, m.lifecycle("switch", func() error { return m.sup.Restart(next) })
	}
	return m, nil
}

func nextChain(ct chain.Type) chain.Type {
	all := chain.All()
	for i, c := range all {
		if c == ct {
			return all[(i+1)%len(all)]
		}
	}
	return all[0]
}

func (m model) View() string {
	var b strings.Builder

	b.WriteString(titleStyle.Render("nodekeeper · " + m.settings.DisplayName))
	b.WriteString("\n\n")

	row := func(label, value string) {
		b.WriteString(labelStyle.Render(label))
		b.WriteString(value)
		b.WriteString("\n")
	}

	row("Chain", m.settings.ChainType.String())
	row("Supervisor", m.sup.State().String())
	if dir := m.sup.Home(); dir != "" {
		row("Home", dir)
	}

	if m.last != nil {
		s := m.last
		row("Status", s.Sync.String())
		row("Peers", fmt.Sprintf("%d", s.PeerCount))
		row("Header height", fmt.Sprintf("%d", s.HeaderHeight))
		row("Chain height", fmt.Sprintf("%d", s.ChainHeight))
		row("Difficulty", fmt.Sprintf("%d", s.TotalDifficulty))
		if !s.LatestBlockAt.IsZero() {
			row("Latest block", s.LatestBlockAt.Local().Format(time.DateTime))
		}
		row("Tx pool", fmt.Sprintf("%d (stem %d)", s.TxPoolSize, s.StemPoolSize))
		row("Disk", fmt.Sprintf("%.3f GB", s.DiskUsageGB))
		row("Updated", s.TakenAt.Local().Format(time.TimeOnly))
	}

	body := boxStyle.Render(strings.TrimRight(b.String(), "\n"))

	var out strings.Builder
	out.WriteString(body)
	out.WriteString("\n")
	switch {
	case m.busy != "":
		out.WriteString(m.spinner.View() + " " + m.busy + "...\n")
	case m.err != nil:
		out.WriteString(errStyle.Render("error: "+m.err.Error()) + "\n")
	case m.note != "":
		out.WriteString(helpStyle.Render(m.note) + "\n")
	}
	out.WriteString(helpStyle.Render("s start/stop · r restart · t switch chain · q quit"))
	out.WriteString("\n")
	return out.String()
}
