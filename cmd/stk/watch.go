package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	cl "stonkbot/internal/cli"
	"stonkbot/internal/game"

	"github.com/charmbracelet/bubbles/table"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"
	"golang.org/x/term"
)

var (
	titleStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("14"))
	boxStyle   = lipgloss.NewStyle().BorderStyle(lipgloss.RoundedBorder()).BorderForeground(lipgloss.Color("240"))
	helpStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	errStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
)

func newWatchCmd(apiBase *string) *cobra.Command {
	var every time.Duration
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Live market board",
		RunE: func(cmd *cobra.Command, args []string) error {
			if !term.IsTerminal(int(os.Stdout.Fd())) {
				return errors.New("watch needs an interactive terminal; use `stk market` instead")
			}
			if every < time.Second {
				every = time.Second
			}
			m := newWatchModel(cmd.Context(), publicClient(apiBase), every)
			_, err := tea.NewProgram(m, tea.WithContext(cmd.Context()), tea.WithAltScreen()).Run()
			if errors.Is(err, tea.ErrProgramKilled) {
				return nil
			}
			return err
		},
	}
	cmd.Flags().DurationVar(&every, "every", 5*time.Second, "refresh interval")
	return cmd
}

type pricesMsg struct {
	prices []game.Instrument
	at     time.Time
	err    error
}

type refreshMsg struct{}

type watchModel struct {
	ctx     context.Context
	client  *cl.Client
	every   time.Duration
	table   table.Model
	opening map[string]int64
	updated time.Time
	err     error
}

func newWatchModel(ctx context.Context, client *cl.Client, every time.Duration) watchModel {
	t := table.New(
		table.WithColumns([]table.Column{
			{Title: "STOCK", Width: 20},
			{Title: "PRICE", Width: 12},
			{Title: "SESSION", Width: 12},
		}),
		table.WithFocused(true),
		table.WithHeight(12),
	)
	styles := table.DefaultStyles()
	styles.Header = styles.Header.BorderStyle(lipgloss.NormalBorder()).BorderBottom(true).Bold(true)
	styles.Selected = styles.Selected.Foreground(lipgloss.Color("229")).Background(lipgloss.Color("57"))
	t.SetStyles(styles)
	return watchModel{
		ctx:     ctx,
		client:  client,
		every:   every,
		table:   t,
		opening: make(map[string]int64),
	}
}

func (m watchModel) Init() tea.Cmd {
	return m.fetch()
}

func (m watchModel) fetch() tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(m.ctx, 10*time.Second)
		defer cancel()
		prices, err := m.client.Market(ctx)
		return pricesMsg{prices: prices, at: time.Now(), err: err}
	}
}

func (m watchModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "esc", "ctrl+c":
			return m, tea.Quit
		case "r":
			return m, m.fetch()
		}
	case refreshMsg:
		return m, m.fetch()
	case pricesMsg:
		m.err = msg.err
		if msg.err == nil {
			m.updated = msg.at
			m.table.SetRows(m.rows(msg.prices))
		}
		return m, tea.Tick(m.every, func(time.Time) tea.Msg { return refreshMsg{} })
	}
	var cmd tea.Cmd
	m.table, cmd = m.table.Update(msg)
	return m, cmd
}

// rows renders prices with the change since the board first saw each stock.
func (m watchModel) rows(prices []game.Instrument) []table.Row {
	out := make([]table.Row, 0, len(prices))
	for _, p := range prices {
		open, ok := m.opening[p.Name]
		if !ok {
			open = p.Price
			m.opening[p.Name] = open
		}
		out = append(out, table.Row{p.Name, "$" + comma(p.Price), signed(p.Price - open)})
	}
	return out
}

func (m watchModel) View() string {
	var b strings.Builder
	b.WriteString(titleStyle.Render("STONKBOT MARKET"))
	b.WriteString("\n")
	b.WriteString(boxStyle.Render(m.table.View()))
	b.WriteString("\n")
	if m.err != nil {
		b.WriteString(errStyle.Render("refresh failed: " + m.err.Error()))
		b.WriteString("\n")
	}
	status := "waiting for prices"
	if !m.updated.IsZero() {
		status = fmt.Sprintf("updated %s, every %s", m.updated.Format("15:04:05"), m.every)
	}
	b.WriteString(helpStyle.Render(status + "  •  r refresh  •  q quit"))
	b.WriteString("\n")
	return b.String()
}
