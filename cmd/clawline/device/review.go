// Copyright 2026 The Clawline Authors
// SPDX-License-Identifier: Apache-2.0

package device

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/list"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/pflag"
	"golang.org/x/term"

	"github.com/clawline/clawline/cmd/clawline/cli"
	"github.com/clawline/clawline/lib/service"
)

// actionTimeout bounds each admin socket call made from the TUI.
const actionTimeout = 10 * time.Second

func reviewCommand() *cli.Command {
	flags := &socketFlags{}
	return &cli.Command{
		Name:    "review",
		Summary: "interactively review pending pairing requests",
		Usage:   "clawline device review [--socket <path>]",
		Description: "Open an interactive review of pending pairing requests. Enter\n" +
			"approves the selected request, d denies it, / filters, r reloads,\n" +
			"q quits. Tokens for approved devices are printed after the review\n" +
			"session ends — each is shown exactly once.",
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("review", pflag.ContinueOnError)
			flags.register(flagSet)
			return flagSet
		},
		Run: func(args []string) error {
			if len(args) != 0 {
				return fmt.Errorf("device review takes no arguments")
			}
			if !term.IsTerminal(int(os.Stdout.Fd())) {
				return fmt.Errorf("device review requires a terminal (use 'device list' and 'device approve' in scripts)")
			}
			client, err := flags.client()
			if err != nil {
				return err
			}
			return runReview(client)
		},
	}
}

func runReview(client *service.Client) error {
	model := newReviewModel(client)
	program := tea.NewProgram(model, tea.WithAltScreen())
	final, err := program.Run()
	if err != nil {
		return err
	}

	finished, ok := final.(reviewModel)
	if !ok {
		return nil
	}
	if finished.err != nil {
		return finished.err
	}

	// The alt screen is gone now; this is the one-time token reveal.
	for _, approved := range finished.approvals {
		fmt.Printf("approved: device %s for %s (%s)\n",
			approved.DeviceID, approved.UserID, approved.DeviceName)
		fmt.Printf("token (shown once): %s\n", approved.Token)
	}
	return nil
}

// pairingItem adapts a pending pairing to the list widget.
type pairingItem struct {
	pairing pairingSummary
}

func (p pairingItem) Title() string {
	return fmt.Sprintf("%s · %s", p.pairing.UserID, p.pairing.DeviceName)
}

func (p pairingItem) Description() string {
	return fmt.Sprintf("code %s · requested %s · %s",
		p.pairing.Code, p.pairing.CreatedAt, p.pairing.RequestID)
}

func (p pairingItem) FilterValue() string {
	return p.pairing.UserID + " " + p.pairing.DeviceName + " " + p.pairing.Code + " " + p.pairing.RequestID
}

type pairingsMsg struct {
	pairings []pairingSummary
}

type approvedMsg struct {
	result approveResult
}

type deniedMsg struct {
	requestID string
}

type reviewErrMsg struct {
	err error
}

var (
	statusStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("245")).Padding(0, 1)
	tokenStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("114")).Padding(0, 1)
)

type reviewModel struct {
	client    *service.Client
	list      list.Model
	approvals []approveResult
	status    string
	err       error
}

func newReviewModel(client *service.Client) reviewModel {
	delegate := list.NewDefaultDelegate()
	pairingList := list.New(nil, delegate, 0, 0)
	pairingList.Title = "Pending pairing requests"
	pairingList.Filter = fuzzyFilter
	pairingList.SetShowStatusBar(false)
	pairingList.SetStatusBarItemName("request", "requests")
	pairingList.AdditionalShortHelpKeys = reviewHelpKeys
	pairingList.AdditionalFullHelpKeys = reviewHelpKeys
	return reviewModel{client: client, list: pairingList}
}

func reviewHelpKeys() []key.Binding {
	return []key.Binding{
		key.NewBinding(key.WithKeys("enter"), key.WithHelp("enter", "approve")),
		key.NewBinding(key.WithKeys("d"), key.WithHelp("d", "deny")),
		key.NewBinding(key.WithKeys("r"), key.WithHelp("r", "reload")),
	}
}

func (m reviewModel) Init() tea.Cmd {
	return m.loadPairings
}

func (m reviewModel) loadPairings() tea.Msg {
	ctx, cancel := context.WithTimeout(context.Background(), actionTimeout)
	defer cancel()

	var result pairingListResult
	if err := m.client.Call(ctx, "pairing-list", nil, &result); err != nil {
		return reviewErrMsg{err: err}
	}
	return pairingsMsg{pairings: result.Pairings}
}

func (m reviewModel) approve(requestID string) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), actionTimeout)
		defer cancel()

		var result approveResult
		err := m.client.Call(ctx, "pairing-approve",
			map[string]any{"request_id": requestID}, &result)
		if err != nil {
			return reviewErrMsg{err: err}
		}
		return approvedMsg{result: result}
	}
}

func (m reviewModel) deny(requestID string) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), actionTimeout)
		defer cancel()

		err := m.client.Call(ctx, "pairing-deny",
			map[string]any{"request_id": requestID, "reason": ""}, nil)
		if err != nil {
			return reviewErrMsg{err: err}
		}
		return deniedMsg{requestID: requestID}
	}
}

func (m reviewModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.list.SetSize(msg.Width, msg.Height-1)
		return m, nil

	case pairingsMsg:
		items := make([]list.Item, len(msg.pairings))
		for i, pairing := range msg.pairings {
			items[i] = pairingItem{pairing: pairing}
		}
		m.status = fmt.Sprintf("%d pending", len(msg.pairings))
		return m, m.list.SetItems(items)

	case approvedMsg:
		m.approvals = append(m.approvals, msg.result)
		m.status = fmt.Sprintf("approved %s for %s (token revealed on exit)",
			msg.result.DeviceName, msg.result.UserID)
		return m, m.loadPairings

	case deniedMsg:
		m.status = fmt.Sprintf("denied %s", msg.requestID)
		return m, m.loadPairings

	case reviewErrMsg:
		m.status = "error: " + msg.err.Error()
		return m, nil

	case tea.KeyMsg:
		// While the filter input has focus every key belongs to it.
		if m.list.FilterState() == list.Filtering {
			break
		}
		switch msg.String() {
		case "ctrl+c", "q":
			return m, tea.Quit
		case "r":
			return m, m.loadPairings
		case "enter":
			if selected, ok := m.list.SelectedItem().(pairingItem); ok {
				return m, m.approve(selected.pairing.RequestID)
			}
		case "d":
			if selected, ok := m.list.SelectedItem().(pairingItem); ok {
				return m, m.deny(selected.pairing.RequestID)
			}
		}
	}

	var cmd tea.Cmd
	m.list, cmd = m.list.Update(msg)
	return m, cmd
}

func (m reviewModel) View() string {
	status := m.status
	if len(m.approvals) > 0 {
		status = tokenStyle.Render(fmt.Sprintf("%d approved · tokens revealed on exit", len(m.approvals))) +
			statusStyle.Render(m.status)
		return m.list.View() + "\n" + status
	}
	return m.list.View() + "\n" + statusStyle.Render(status)
}
