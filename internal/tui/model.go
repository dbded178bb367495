package tui

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textarea"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"go.uber.org/zap"

	"carechat/internal/chat"
)

type focusArea int

const (
	focusInput focusArea = iota
	focusChat
	focusSummary
)

type (
	// connectMsg asks the update loop to dial. The manager is only ever
	// touched from Update, so the dial itself happens there.
	connectMsg struct{}

	transportEventMsg struct {
		ev chat.Event
		ok bool
	}

	summaryRetryMsg struct {
		attempt int
		max     int
	}

	summaryDoneMsg struct {
		doc json.RawMessage
		err error
	}
)

// Model is the top-level bubbletea model. All connection and summary state
// lives in the chat package; the model owns layout, focus, and the channel
// plumbing that feeds transport events into the update loop.
type Model struct {
	cfg   chat.Config
	theme Theme
	keys  keyMap
	log   *zap.Logger

	manager *chat.Manager
	fetcher *chat.Fetcher
	summary chat.SummaryState

	events      <-chan chat.Event
	retryCh     chan summaryRetryMsg
	doneCh      chan summaryDoneMsg
	fetchCancel context.CancelFunc

	input    textarea.Model
	chatView viewport.Model
	sumView  viewport.Model
	spin     spinner.Model
	renderer *ReplyRenderer

	focus  focusArea
	width  int
	height int
	ready  bool
}

func NewModel(cfg chat.Config, manager *chat.Manager, fetcher *chat.Fetcher, logger *zap.Logger) Model {
	if logger == nil {
		logger = zap.NewNop()
	}
	theme := NewTheme(cfg.Theme)

	input := textarea.New()
	input.Placeholder = "Type a message..."
	input.Prompt = ""
	input.CharLimit = 4000
	input.SetHeight(3)
	input.ShowLineNumbers = false
	input.Focus()

	spin := spinner.New()
	spin.Spinner = spinner.Dot
	spin.Style = theme.Spinner

	return Model{
		cfg:      cfg,
		theme:    theme,
		keys:     defaultKeyMap(),
		log:      logger,
		manager:  manager,
		fetcher:  fetcher,
		input:    input,
		spin:     spin,
		renderer: NewReplyRenderer(theme),
	}
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(
		func() tea.Msg { return connectMsg{} },
		m.spin.Tick,
		textarea.Blink,
	)
}

func waitEvent(ch <-chan chat.Event) tea.Cmd {
	return func() tea.Msg {
		ev, ok := <-ch
		return transportEventMsg{ev: ev, ok: ok}
	}
}

func waitSummary(retryCh chan summaryRetryMsg, doneCh chan summaryDoneMsg) tea.Cmd {
	return func() tea.Msg {
		select {
		case r := <-retryCh:
			return r
		case d := <-doneCh:
			return d
		}
	}
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.applyLayout()
		m.ready = true
		m.refreshChat()
		m.refreshSummary()
		return m, nil

	case connectMsg:
		cmds = append(cmds, m.connect())

	case transportEventMsg:
		if !msg.ok {
			m.events = nil
			m.refreshChat()
			return m, nil
		}
		m.manager.HandleEvent(msg.ev)
		if m.manager.ConsumeSummaryRequest() {
			cmds = append(cmds, m.startSummaryFetch())
		}
		m.refreshChat()
		if m.events != nil {
			cmds = append(cmds, waitEvent(m.events))
		}

	case summaryRetryMsg:
		m.manager.Notice(chat.SeverityInfo,
			fmt.Sprintf("Doctor summary not ready yet, retrying (%d/%d)...", msg.attempt, msg.max))
		m.refreshChat()
		cmds = append(cmds, waitSummary(m.retryCh, m.doneCh))

	case summaryDoneMsg:
		m.fetchCancel = nil
		if msg.err != nil {
			m.summary.Fail(msg.err.Error())
			m.manager.Notice(chat.SeverityError, "Could not retrieve the doctor summary.")
		} else {
			m.summary.Resolve(msg.doc)
			m.manager.Notice(chat.SeverityInfo, "Doctor summary loaded.")
		}
		m.refreshChat()
		m.refreshSummary()

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spin, cmd = m.spin.Update(msg)
		if m.manager.Status() == chat.StatusConnecting || m.summary.Loading() {
			m.refreshSummary()
		}
		cmds = append(cmds, cmd)

	case tea.KeyMsg:
		switch {
		case key.Matches(msg, m.keys.Quit):
			m.shutdown()
			return m, tea.Quit

		case key.Matches(msg, m.keys.FocusNext):
			m.cycleFocus()
			return m, nil

		case key.Matches(msg, m.keys.Summary):
			cmds = append(cmds, m.startSummaryFetch())
			m.refreshChat()
			m.refreshSummary()

		case key.Matches(msg, m.keys.Reconnect):
			cmds = append(cmds, m.connect())

		case key.Matches(msg, m.keys.Teardown):
			m.disconnect()
			m.refreshChat()
			m.refreshSummary()

		case key.Matches(msg, m.keys.Send) && m.focus == focusInput:
			cmds = append(cmds, m.submit())

		default:
			cmds = append(cmds, m.routeKey(msg))
		}

	default:
		cmds = append(cmds, m.routeOther(msg))
	}

	return m, tea.Batch(cmds...)
}

// connect dials inside the update loop so the manager never sees two
// goroutines. The returned event channel is pumped back in as messages.
func (m *Model) connect() tea.Cmd {
	events, err := m.manager.Connect(context.Background())
	m.refreshChat()
	if err != nil || events == nil {
		return nil
	}
	m.events = events
	return waitEvent(events)
}

func (m *Model) disconnect() {
	if m.fetchCancel != nil {
		m.fetchCancel()
		m.fetchCancel = nil
	}
	m.manager.Teardown()
	m.events = nil
}

func (m *Model) shutdown() {
	m.disconnect()
	_ = m.log.Sync()
}

func (m *Model) submit() tea.Cmd {
	err := m.manager.Send(m.input.Value())
	if err == nil {
		m.input.Reset()
	}
	m.refreshChat()
	if errors.Is(err, chat.ErrNotConnected) && m.cfg.ReconnectOnSend {
		return m.connect()
	}
	return nil
}

// startSummaryFetch launches the bounded retry fetch in the background.
// Retry notifications and the final result come back over channels so the
// transcript is only touched from Update.
func (m *Model) startSummaryFetch() tea.Cmd {
	if !m.summary.Begin() {
		return nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	m.fetchCancel = cancel
	m.retryCh = make(chan summaryRetryMsg, m.fetcher.MaxRetries)
	m.doneCh = make(chan summaryDoneMsg, 1)

	retryCh, doneCh := m.retryCh, m.doneCh
	fetcher, identity := m.fetcher, m.manager.Identity()
	go func() {
		defer cancel()
		doc, err := fetcher.Fetch(ctx, identity, func(attempt, max int) {
			retryCh <- summaryRetryMsg{attempt: attempt, max: max}
		})
		doneCh <- summaryDoneMsg{doc: doc, err: err}
	}()

	m.manager.Notice(chat.SeverityInfo, "Requesting your doctor summary...")
	return waitSummary(retryCh, doneCh)
}

func (m *Model) cycleFocus() {
	switch m.focus {
	case focusInput:
		m.focus = focusChat
		m.input.Blur()
	case focusChat:
		m.focus = focusSummary
	default:
		m.focus = focusInput
		m.input.Focus()
	}
}

func (m *Model) routeKey(msg tea.KeyMsg) tea.Cmd {
	var cmd tea.Cmd
	switch m.focus {
	case focusInput:
		m.input, cmd = m.input.Update(msg)
	case focusChat:
		m.chatView, cmd = m.chatView.Update(msg)
	case focusSummary:
		m.sumView, cmd = m.sumView.Update(msg)
	}
	return cmd
}

func (m *Model) routeOther(msg tea.Msg) tea.Cmd {
	var cmds []tea.Cmd
	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	cmds = append(cmds, cmd)
	return tea.Batch(cmds...)
}

// Layout: chat pane takes roughly two thirds of the width, the summary
// pane the rest, with the input box and footer pinned underneath.
func (m *Model) applyLayout() {
	chatW, sumW := m.paneWidths()
	paneH := m.paneHeight()

	m.chatView = viewport.New(max(chatW-4, 1), paneH)
	m.sumView = viewport.New(max(sumW-4, 1), paneH)
	m.input.SetWidth(max(m.width-6, 10))
}

func (m *Model) paneWidths() (int, int) {
	chatW := m.width * 2 / 3
	if chatW < 30 {
		chatW = m.width - 24
	}
	if chatW < 20 {
		chatW = m.width
	}
	sumW := m.width - chatW
	if sumW < 0 {
		sumW = 0
	}
	return chatW, sumW
}

func (m *Model) paneHeight() int {
	// top bar + pane borders + input box + footer
	h := m.height - 1 - 2 - 5 - 1
	if h < 3 {
		h = 3
	}
	return h
}

func (m *Model) refreshChat() {
	if !m.ready {
		return
	}
	var b strings.Builder
	width := m.chatView.Width
	for _, e := range m.manager.Transcript().Entries() {
		stamp := m.theme.TopBarMeta.Render(e.Timestamp.Format("15:04"))
		switch e.Kind {
		case chat.EntryUser:
			b.WriteString(fmt.Sprintf("%s %s\n%s\n\n", m.theme.RoleYou.Render("You"), stamp, e.Text))
		case chat.EntryAI:
			label := m.theme.RoleAI.Render("Assistant")
			if e.Usage != nil {
				label += m.theme.TopBarMeta.Render(fmt.Sprintf(" (%d tokens)", e.Usage.TotalTokens))
			}
			b.WriteString(fmt.Sprintf("%s %s\n%s\n\n", label, stamp, m.renderer.Render(e.Text, width)))
		case chat.EntryNotice:
			style := m.theme.RoleSys
			if e.Severity == chat.SeverityError {
				style = m.theme.RoleErr
			}
			b.WriteString(style.Render("• "+e.Text) + "\n\n")
		}
	}
	m.chatView.SetContent(b.String())
	m.chatView.GotoBottom()
}

func (m *Model) refreshSummary() {
	if !m.ready {
		return
	}
	var content string
	switch m.summary.Status() {
	case chat.SummaryLoading:
		content = m.spin.View() + m.theme.SummaryHint.Render(" Fetching doctor summary...")
	case chat.SummaryReady:
		content = m.theme.SummaryText.Render(prettyJSON(m.summary.Document()))
	case chat.SummaryFailed:
		content = m.theme.SummaryError.Render(m.summary.Err())
	default:
		content = m.theme.SummaryHint.Render("No summary yet. Press ctrl+s to request one.")
	}
	m.sumView.SetContent(content)
}

func prettyJSON(doc json.RawMessage) string {
	var buf bytes.Buffer
	if err := json.Indent(&buf, doc, "", "  "); err != nil {
		return string(doc)
	}
	return buf.String()
}

func (m Model) View() string {
	if !m.ready {
		return "starting..."
	}

	top := m.viewTopBar()
	chatW, sumW := m.paneWidths()

	chatPane := m.renderPane("Conversation", m.chatView.View(), chatW, m.focus == focusChat)
	sumPane := m.renderPane("Doctor Summary", m.sumView.View(), sumW, m.focus == focusSummary)
	panes := lipgloss.JoinHorizontal(lipgloss.Top, chatPane, sumPane)

	inputStyle := m.theme.InputBox
	if m.focus == focusInput {
		inputStyle = m.theme.InputBoxF
	}
	inputBox := inputStyle.Width(m.width - 2).Render(m.input.View())

	footer := m.theme.Footer.Render(
		"enter send · ctrl+s summary · ctrl+r reconnect · ctrl+d disconnect · tab pane · ctrl+c quit")

	return lipgloss.JoinVertical(lipgloss.Left, top, panes, inputBox, footer)
}

func (m Model) viewTopBar() string {
	title := m.theme.TopBarTitle.Render("carechat")
	meta := m.theme.TopBarMeta.Render(m.manager.Identity())

	var status string
	switch m.manager.Status() {
	case chat.StatusConnected:
		status = m.theme.StatusOK.Render(m.manager.StatusText())
	case chat.StatusConnecting:
		status = m.spin.View() + m.theme.StatusWarn.Render(m.manager.StatusText())
	case chat.StatusError:
		status = m.theme.StatusErr.Render(m.manager.StatusText())
	default:
		status = m.theme.StatusWarn.Render(m.manager.StatusText())
	}

	left := fmt.Sprintf("%s  %s", title, meta)
	gap := m.width - lipgloss.Width(left) - lipgloss.Width(status) - 2
	if gap < 1 {
		gap = 1
	}
	return m.theme.TopBar.Render(left + strings.Repeat(" ", gap) + status)
}

func (m Model) renderPane(title, body string, width int, focused bool) string {
	pane, titleStyle := m.theme.Pane, m.theme.PaneTitle
	if focused {
		pane, titleStyle = m.theme.PaneFocused, m.theme.PaneTitleF
	}
	return pane.Width(width - 2).Render(titleStyle.Render(title) + "\n" + body)
}
