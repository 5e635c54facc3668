package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/list"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"nudge/src/internal/client"
	"nudge/src/internal/reminders"
)

const refreshEvery = 30 * time.Second

var segments = []string{"Active", "Grouped", "Overdue", "Due soon", "Completed", "Chat"}

type Model struct {
	viewport viewport.Model
	list     list.Model
	input    textinput.Model
	tabIndex int
	api      *client.Client
	ctx      context.Context

	views   reminders.Views
	loaded  bool
	status  string
	chatLog []string
	waiting bool
	cursor  int
}

type item string

func (i item) FilterValue() string { return string(i) }

type itemDelegate struct{}

func (d itemDelegate) Height() int { return 1 }

func (d itemDelegate) Spacing() int { return 0 }

func (d itemDelegate) Update(msg tea.Msg, m *list.Model) tea.Cmd {
	return nil
}

func (d itemDelegate) Render(w io.Writer, m list.Model, index int, listItem list.Item) {
	i, ok := listItem.(item)
	if !ok {
		return
	}
	var st lipgloss.Style
	if index == m.Index() {
		st = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("62")).PaddingLeft(2)
	} else {
		st = lipgloss.NewStyle().Foreground(lipgloss.Color("240")).PaddingLeft(2)
	}
	fmt.Fprint(w, st.Render(string(i)))
}

type viewsMsg struct {
	views reminders.Views
	err   error
}

type replyMsg struct {
	reply *client.Reply
	err   error
}

type actionMsg struct {
	what string
	err  error
}

type tickMsg time.Time

func initialModel(ctx context.Context, api *client.Client) Model {
	m := Model{ctx: ctx, api: api, status: "Loading..."}
	m.viewport = viewport.New(100, 20)

	items := make([]list.Item, 0, len(segments))
	for _, s := range segments {
		items = append(items, item(s))
	}
	m.list = list.New(items, itemDelegate{}, 30, len(segments)+2)
	m.list.Title = "Reminders"
	m.list.SetShowHelp(false)
	m.list.SetShowStatusBar(false)
	m.list.SetFilteringEnabled(false)

	m.input = textinput.New()
	m.input.Placeholder = "Ask Nudge, e.g. remind me to call mom tomorrow at 6pm"
	m.input.CharLimit = 1000
	m.input.Width = 80
	return m
}

func (m Model) fetchViews() tea.Cmd {
	return func() tea.Msg {
		v, err := m.api.Views(m.ctx)
		return viewsMsg{views: v, err: err}
	}
}

func (m Model) send(prompt string) tea.Cmd {
	return func() tea.Msg {
		r, err := m.api.Prompt(m.ctx, prompt)
		return replyMsg{reply: r, err: err}
	}
}

func (m Model) act(what, id string) tea.Cmd {
	return func() tea.Msg {
		var err error
		switch what {
		case "completed":
			err = m.api.Complete(m.ctx, id)
		case "archived":
			err = m.api.Archive(m.ctx, id)
		}
		return actionMsg{what: what, err: err}
	}
}

func tick() tea.Cmd {
	return tea.Tick(refreshEvery, func(t time.Time) tea.Msg { return tickMsg(t) })
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(m.fetchViews(), tick())
}

func (m Model) chatting() bool {
	return segments[m.tabIndex] == "Chat"
}

// visible is the task list the cursor moves over in the current segment.
func (m Model) visible() []reminders.Task {
	switch segments[m.tabIndex] {
	case "Active", "Grouped":
		return m.views.Active
	case "Overdue":
		return m.views.Overdue
	case "Due soon":
		return m.views.DueSoon
	case "Completed":
		return m.views.Completed
	}
	return nil
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		if msg.Width == 0 || msg.Height == 0 {
			return m, nil
		}
		m.viewport.Width = msg.Width
		m.viewport.Height = msg.Height - len(segments) - 10
		m.list.SetWidth(msg.Width)
		m.input.Width = msg.Width - 4
	case viewsMsg:
		if msg.err != nil {
			m.status = "Refresh failed: " + msg.err.Error()
		} else {
			m.views, m.loaded = msg.views, true
			m.status = "Updated " + time.Now().Format("15:04:05")
			if n := len(m.visible()); m.cursor >= n {
				m.cursor = max(n-1, 0)
			}
		}
	case tickMsg:
		return m, tea.Batch(m.fetchViews(), tick())
	case replyMsg:
		m.waiting = false
		if msg.err != nil {
			m.chatLog = append(m.chatLog, "! "+msg.err.Error())
		} else {
			line := "Nudge: " + msg.reply.Response
			if msg.reply.ToolCalls > 0 {
				line += fmt.Sprintf("  (%d tool calls)", msg.reply.ToolCalls)
			}
			m.chatLog = append(m.chatLog, line)
		}
		cmds = append(cmds, m.fetchViews())
	case actionMsg:
		if msg.err != nil {
			m.status = "Action failed: " + msg.err.Error()
		} else {
			m.status = "Reminder " + msg.what
		}
		cmds = append(cmds, m.fetchViews())
	case tea.KeyMsg:
		if m.chatting() && m.input.Focused() {
			switch msg.String() {
			case "esc":
				m.input.Blur()
			case "enter":
				prompt := strings.TrimSpace(m.input.Value())
				if prompt != "" && !m.waiting {
					m.chatLog = append(m.chatLog, "You: "+prompt)
					m.input.SetValue("")
					m.waiting = true
					cmds = append(cmds, m.send(prompt))
				}
			default:
				var cmd tea.Cmd
				m.input, cmd = m.input.Update(msg)
				cmds = append(cmds, cmd)
			}
			m.viewport.SetContent(tabView(m))
			return m, tea.Batch(cmds...)
		}

		switch msg.String() {
		case "q", "Q", "ctrl+c":
			return m, tea.Quit
		case "tab":
			m.list.Select((m.list.Index() + 1) % len(segments))
			m.cursor = 0
		case "i", "enter":
			if m.chatting() {
				cmds = append(cmds, m.input.Focus())
			}
		case "j":
			if m.cursor < len(m.visible())-1 {
				m.cursor++
			}
		case "k":
			if m.cursor > 0 {
				m.cursor--
			}
		case "c", "a":
			if tasks := m.visible(); m.cursor < len(tasks) {
				what := "completed"
				if msg.String() == "a" {
					what = "archived"
				}
				cmds = append(cmds, m.act(what, tasks[m.cursor].ID))
			}
		case "r":
			cmds = append(cmds, m.fetchViews())
		default:
			var cmd tea.Cmd
			m.list, cmd = m.list.Update(msg)
			cmds = append(cmds, cmd)
			if m.list.Index() != m.tabIndex {
				m.cursor = 0
			}
		}
	}

	m.tabIndex = m.list.Index()
	var cmd tea.Cmd
	m.viewport, cmd = m.viewport.Update(msg)
	cmds = append(cmds, cmd)
	m.viewport.SetContent(tabView(m))
	return m, tea.Batch(cmds...)
}

var (
	overdueStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	soonStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
	doneStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("240")).Strikethrough(true)
	cursorStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("62"))
	headerStyle  = lipgloss.NewStyle().Bold(true).Underline(true)
)

func taskLine(t reminders.Task, now time.Time, selected bool) string {
	line := t.Title
	if t.Due != nil {
		line += "  " + t.Due.Local().Format("Mon Jan 2 15:04")
	}
	if t.Priority != reminders.PriorityNone && t.Priority != "" {
		line += "  [" + string(t.Priority) + "]"
	}
	if t.Recurring() {
		line += "  (" + string(t.Recurrence.Interval) + ")"
	}
	switch {
	case t.Completed:
		line = doneStyle.Render(line)
	case reminders.IsOverdue(t, now):
		line = overdueStyle.Render(line)
	case reminders.IsDueSoon(t, now):
		line = soonStyle.Render(line)
	}
	if selected {
		return cursorStyle.Render("> ") + line
	}
	return "  " + line
}

func taskList(tasks []reminders.Task, now time.Time, cursor int) string {
	if len(tasks) == 0 {
		return "  Nothing here."
	}
	lines := make([]string, 0, len(tasks))
	for i, t := range tasks {
		lines = append(lines, taskLine(t, now, i == cursor))
	}
	return strings.Join(lines, "\n")
}

func tabView(m Model) string {
	if !m.loaded && !m.chatting() {
		return m.status
	}
	now := m.views.Now
	switch segments[m.tabIndex] {
	case "Grouped":
		var b strings.Builder
		for _, g := range m.views.Groups {
			b.WriteString(headerStyle.Render(g.Name) + "\n")
			for _, t := range g.Tasks {
				b.WriteString(taskLine(t, now, false) + "\n")
			}
			b.WriteString("\n")
		}
		if len(m.views.Groups) == 0 {
			return "  Nothing here."
		}
		return b.String()
	case "Chat":
		log := strings.Join(m.chatLog, "\n\n")
		if m.waiting {
			log += "\n\nNudge is thinking..."
		}
		return log + "\n\n" + m.input.View()
	}
	return taskList(m.visible(), now, m.cursor)
}

func helpView() string {
	return lipgloss.NewStyle().
		Foreground(lipgloss.Color("242")).
		Padding(0, 1).
		Border(lipgloss.NormalBorder()).
		Render(`↑↓/tab: segment | j/k: move | c: complete | a: archive | r: refresh | q: quit
Chat: i or enter to type, enter to send, esc to stop typing`)
}

func (m Model) View() string {
	return lipgloss.JoinVertical(lipgloss.Top,
		lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1).Render(m.list.View()),
		"Nudge  "+lipgloss.NewStyle().Foreground(lipgloss.Color("242")).Render(m.status),
		m.viewport.View(),
		helpView(),
	)
}

func main() {
	var server, key, user string
	flag.StringVar(&server, "server", envOr("NUDGE_SERVER", "http://127.0.0.1:8080"), "nudge server URL")
	flag.StringVar(&key, "key", os.Getenv("NUDGE_SERVER_KEY"), "server key")
	flag.StringVar(&user, "user", envOr("NUDGE_USER", "default"), "user id")
	flag.Parse()

	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, nil)))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	p := tea.NewProgram(initialModel(ctx, client.New(server, key, user)), tea.WithAltScreen())
	if _, err := p.Run(); err != nil {
		slog.Error("TUI error", "err", err)
		os.Exit(1)
	}
}

func envOr(name, def string) string {
	if v := os.Getenv(name); v != "" {
		return v
	}
	return def
}
