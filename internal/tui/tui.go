package tui

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/atotto/clipboard"
	"github.com/charmbracelet/bubbles/textarea"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/strrl/agentchat/internal/export"
	"github.com/strrl/agentchat/internal/gateway"
	"github.com/strrl/agentchat/internal/sessions"
	"github.com/strrl/agentchat/internal/settings"
	"github.com/strrl/agentchat/pkg/models"
)

type focus int

const (
	focusInput focus = iota
	focusSidebar
)

const (
	inputHeight  = 3
	welcomeTitle = "How can I help you today?"
	welcomeText  = "I'm your Time Series AI Agent. Ask me about your data, metrics, or help me analyze trends."
)

// Options configures the chat UI
type Options struct {
	Controller *sessions.Controller
	Settings   settings.Settings
	// ExportDir is where transcripts are written
	ExportDir string
	// MarkdownStyle is a glamour style path; empty auto-detects
	MarkdownStyle string
}

type model struct {
	ctx  context.Context
	ctrl *sessions.Controller
	cfg  settings.Settings

	snap     sessions.Snapshot
	starting bool
	sending  bool // a send was dispatched and has not finished
	focus    focus
	cursor   int

	renaming      bool
	renameID      string
	rename        textinput.Model
	confirmDelete string
	showHelp      bool

	input         textarea.Model
	leftViewport  viewport.Model // sessions sidebar
	rightViewport viewport.Model // chat transcript

	indicator *LoadingIndicator
	ticking   bool
	md        *markdownRenderer
	status    string
	exportDir string
	copy      func(string) error

	ready  bool
	width  int
	height int
}

func initialModel(ctx context.Context, opts Options) model {
	ta := textarea.New()
	ta.Placeholder = "Ask about your metrics..."
	ta.ShowLineNumbers = false
	ta.CharLimit = 4000
	ta.SetHeight(inputHeight)
	ta.KeyMap.InsertNewline.SetEnabled(false)
	ta.Focus()

	ti := textinput.New()
	ti.Prompt = "Rename: "
	ti.CharLimit = 120

	exportDir := opts.ExportDir
	if exportDir == "" {
		exportDir = "."
	}

	return model{
		ctx:       ctx,
		ctrl:      opts.Controller,
		cfg:       opts.Settings,
		starting:  true,
		ticking:   true,
		focus:     focusInput,
		rename:    ti,
		input:     ta,
		indicator: NewLoadingIndicator("Connecting to the agent backend..."),
		md:        newMarkdownRenderer(opts.MarkdownStyle),
		exportDir: exportDir,
		copy:      clipboard.WriteAll,
	}
}

func (m model) Init() tea.Cmd {
	ctrl, ctx := m.ctrl, m.ctx
	return tea.Batch(
		waitForChange(ctrl),
		runOp("start", func() (string, error) { return "", ctrl.Start(ctx) }),
		tickCmd(),
		textarea.Blink,
	)
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.resize()
		m.ready = true
		m.updateViewport()
		return m, nil

	case StateChangedMsg:
		m.applySnapshot(m.ctrl.Snapshot())
		cmds = append(cmds, waitForChange(m.ctrl))
		if m.snap.State == sessions.StateAwaitingResponse && !m.ticking {
			m.ticking = true
			m.indicator.SetMessage("Thinking...")
			cmds = append(cmds, tickCmd())
		}
		return m, tea.Batch(cmds...)

	case OpDoneMsg:
		switch msg.Op {
		case "start":
			m.starting = false
			m.indicator.SetMessage("Thinking...")
		case "send":
			m.sending = false
		}
		m.handleOpResult(msg)
		m.applySnapshot(m.ctrl.Snapshot())
		return m, nil

	case TickMsg:
		if !m.starting && m.snap.State != sessions.StateAwaitingResponse {
			m.ticking = false
			return m, nil
		}
		m.indicator.Tick()
		m.updateViewport()
		return m, tickCmd()

	case tea.KeyMsg:
		return m.handleKey(msg)
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if msg.String() == "ctrl+c" {
		return m, tea.Quit
	}

	m.status = ""
	if m.snap.Notice != "" {
		m.ctrl.ClearNotice()
	}

	if m.renaming {
		return m.handleRenameKey(msg)
	}
	if m.showHelp {
		if s := msg.String(); s == "esc" || s == "?" || s == "q" {
			m.showHelp = false
		}
		return m, nil
	}
	if m.confirmDelete != "" {
		id := m.confirmDelete
		m.confirmDelete = ""
		if msg.String() == "y" {
			return m, m.deleteCmd(id)
		}
		m.status = "Delete cancelled"
		return m, nil
	}

	switch msg.String() {
	case "tab":
		m.toggleFocus()
		return m, nil
	case "ctrl+y":
		m.copyLastReply()
		return m, nil
	case "pgup", "pgdown":
		var cmd tea.Cmd
		m.rightViewport, cmd = m.rightViewport.Update(msg)
		return m, cmd
	}

	if m.focus == focusSidebar {
		return m.handleSidebarKey(msg)
	}
	return m.handleInputKey(msg)
}

func (m model) handleSidebarKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	ctrl, ctx := m.ctrl, m.ctx

	switch msg.String() {
	case "up", "k":
		if m.cursor > 0 {
			m.cursor--
			m.updateViewport()
		}

	case "down", "j":
		if m.cursor < len(m.snap.Sessions)-1 {
			m.cursor++
			m.updateViewport()
		}

	case "enter":
		session, ok := m.cursorSession()
		if !ok {
			return m, nil
		}
		m.setFocus(focusInput)
		return m, runOp("select", func() (string, error) {
			return "", ctrl.Select(ctx, session.ID)
		})

	case "n":
		m.setFocus(focusInput)
		return m, runOp("new", func() (string, error) {
			session, err := ctrl.CreateSession(ctx, "")
			if err != nil {
				return "", err
			}
			return fmt.Sprintf("Created %q", session.Name), nil
		})

	case "r":
		session, ok := m.cursorSession()
		if !ok {
			return m, nil
		}
		m.renaming = true
		m.renameID = session.ID
		m.rename.SetValue(session.Name)
		m.rename.CursorEnd()
		return m, m.rename.Focus()

	case "d":
		session, ok := m.cursorSession()
		if !ok {
			return m, nil
		}
		m.confirmDelete = session.ID
		m.status = fmt.Sprintf("Delete %q? Press y to confirm", session.Name)

	case "e":
		m.exportActive()

	case "?":
		m.showHelp = true

	case "esc":
		m.setFocus(focusInput)
	}
	return m, nil
}

func (m model) handleInputKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "esc":
		m.setFocus(focusSidebar)
		return m, nil

	case "enter":
		if m.sending || m.snap.State == sessions.StateAwaitingResponse {
			return m, nil
		}
		text := m.input.Value()
		if strings.TrimSpace(text) == "" {
			return m, nil
		}
		m.input.Reset()
		m.sending = true
		ctrl, ctx := m.ctrl, m.ctx
		return m, runOp("send", func() (string, error) {
			return "", ctrl.Send(ctx, text)
		})
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m model) handleRenameKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "esc":
		m.stopRenaming()
		return m, nil

	case "enter":
		name := strings.TrimSpace(m.rename.Value())
		id := m.renameID
		m.stopRenaming()
		if name == "" {
			return m, nil
		}
		ctrl, ctx := m.ctrl, m.ctx
		return m, runOp("rename", func() (string, error) {
			if err := ctrl.Rename(ctx, id, name); err != nil {
				return "", err
			}
			return fmt.Sprintf("Renamed to %q", name), nil
		})
	}

	var cmd tea.Cmd
	m.rename, cmd = m.rename.Update(msg)
	return m, cmd
}

func (m *model) stopRenaming() {
	m.renaming = false
	m.renameID = ""
	m.rename.Blur()
	m.rename.Reset()
}

func (m model) deleteCmd(id string) tea.Cmd {
	ctrl, ctx := m.ctrl, m.ctx
	return runOp("delete", func() (string, error) {
		if err := ctrl.Delete(ctx, id); err != nil {
			return "", err
		}
		return "Session deleted", nil
	})
}

func (m *model) handleOpResult(msg OpDoneMsg) {
	if msg.Error == nil {
		if msg.Info != "" {
			m.status = msg.Info
		}
		return
	}
	// Backend failures are already visible as the notice or as the
	// injected bot error turn.
	var te *gateway.TransportError
	if errors.As(msg.Error, &te) {
		return
	}
	m.status = msg.Error.Error()
}

func (m *model) applySnapshot(snap sessions.Snapshot) {
	prevActive := m.snap.ActiveID
	prevLen := len(m.snap.Messages)
	m.snap = snap

	if snap.ActiveID != prevActive {
		m.cursor = m.activeIndex()
	}
	if m.cursor >= len(snap.Sessions) {
		m.cursor = len(snap.Sessions) - 1
	}
	if m.cursor < 0 {
		m.cursor = 0
	}

	m.updateViewport()
	if snap.ActiveID != prevActive || len(snap.Messages) != prevLen {
		m.rightViewport.GotoBottom()
	}

	if snap.State == sessions.StateAwaitingResponse {
		m.input.Placeholder = "Waiting for the agent..."
	} else {
		m.input.Placeholder = "Ask about your metrics..."
	}
}

func (m *model) toggleFocus() {
	if m.focus == focusInput {
		m.setFocus(focusSidebar)
	} else {
		m.setFocus(focusInput)
	}
}

func (m *model) setFocus(f focus) {
	m.focus = f
	if f == focusInput {
		m.input.Focus()
	} else {
		m.input.Blur()
	}
	m.updateViewport()
}

func (m model) cursorSession() (models.Session, bool) {
	if m.cursor < 0 || m.cursor >= len(m.snap.Sessions) {
		return models.Session{}, false
	}
	return m.snap.Sessions[m.cursor], true
}

func (m model) activeIndex() int {
	for i, s := range m.snap.Sessions {
		if s.ID == m.snap.ActiveID {
			return i
		}
	}
	return 0
}

func (m *model) exportActive() {
	path, err := export.WriteFile(m.exportDir, m.snap.ActiveID, m.snap.Messages)
	if err != nil {
		m.status = err.Error()
		return
	}
	m.status = "Exported to " + path
}

func (m *model) copyLastReply() {
	for i := len(m.snap.Messages) - 1; i >= 0; i-- {
		msg := m.snap.Messages[i]
		if msg.Role != models.RoleBot {
			continue
		}
		if err := m.copy(msg.Content); err != nil {
			m.status = fmt.Sprintf("failed to copy reply: %v", err)
			return
		}
		m.status = "Copied reply to clipboard"
		return
	}
	m.status = "No reply to copy"
}

func (m *model) resize() {
	sidebarWidth := m.width / 4
	if sidebarWidth < 18 {
		sidebarWidth = 18
	}
	if sidebarWidth > 32 {
		sidebarWidth = 32
	}
	chatWidth := m.width - sidebarWidth - 1
	if chatWidth < 20 {
		chatWidth = 20
	}

	// header, status line, footer
	bodyHeight := m.height - 3
	if bodyHeight < inputHeight+2 {
		bodyHeight = inputHeight + 2
	}
	// the input box has a top border line
	chatHeight := bodyHeight - inputHeight - 1

	if !m.ready {
		m.leftViewport = viewport.New(sidebarWidth, bodyHeight)
		m.rightViewport = viewport.New(chatWidth, chatHeight)
	} else {
		m.leftViewport.Width = sidebarWidth
		m.leftViewport.Height = bodyHeight
		m.rightViewport.Width = chatWidth
		m.rightViewport.Height = chatHeight
	}
	m.input.SetWidth(chatWidth)
	m.rename.Width = sidebarWidth - len(m.rename.Prompt) - 1
	m.md.setWidth(chatWidth - 4)
}

func (m *model) updateViewport() {
	if !m.ready && m.width == 0 {
		return
	}
	m.leftViewport.SetContent(m.renderSessionsList())
	m.rightViewport.SetContent(m.renderMessages())

	// keep the cursor row visible; two header lines precede the list
	row := m.cursor + 2
	if row >= m.leftViewport.YOffset+m.leftViewport.Height {
		m.leftViewport.SetYOffset(row - m.leftViewport.Height + 1)
	} else if row < m.leftViewport.YOffset {
		m.leftViewport.SetYOffset(row)
	}
}

func (m model) renderSessionsList() string {
	var s strings.Builder

	headerStyle := lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("229"))
	title := "Chats"
	if m.focus == focusSidebar {
		title = "▸ Chats"
	}
	s.WriteString(headerStyle.Render(title) + "\n")
	s.WriteString(strings.Repeat("─", max(m.leftViewport.Width-1, 1)) + "\n")

	if len(m.snap.Sessions) == 0 {
		emptyStyle := lipgloss.NewStyle().
			Foreground(lipgloss.Color("240")).
			Italic(true)
		s.WriteString(emptyStyle.Render("No chats yet"))
		return s.String()
	}

	for i, session := range m.snap.Sessions {
		if m.renaming && session.ID == m.renameID {
			s.WriteString(m.rename.View() + "\n")
			continue
		}

		cursor := "  "
		if i == m.cursor && m.focus == focusSidebar {
			cursor = "> "
		}
		marker := " "
		if session.ID == m.snap.ActiveID {
			marker = "●"
			if m.snap.State == sessions.StateAwaitingResponse {
				marker = m.indicator.spinner.View()
			}
		}

		style := lipgloss.NewStyle().Foreground(lipgloss.Color("252"))
		switch {
		case i == m.cursor && m.focus == focusSidebar:
			style = style.Foreground(lipgloss.Color("212")).Bold(true)
		case session.ID == m.snap.ActiveID:
			style = style.Foreground(lipgloss.Color("229"))
		}

		name := truncate(session.Name, m.leftViewport.Width-6)
		s.WriteString(style.Render(fmt.Sprintf("%s%s %s", cursor, marker, name)) + "\n")
	}

	return s.String()
}

func (m model) renderMessages() string {
	if len(m.snap.Messages) == 0 && m.snap.State != sessions.StateAwaitingResponse {
		return m.renderWelcome()
	}

	var s strings.Builder
	width := max(m.rightViewport.Width-2, 10)

	userLabel := lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("252"))
	botLabel := lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("69"))
	timeStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("243"))
	userText := lipgloss.NewStyle().Width(width).Foreground(lipgloss.Color("252")).PaddingLeft(2)

	for i, msg := range m.snap.Messages {
		label := userLabel.Render("You")
		if msg.Role == models.RoleBot {
			label = botLabel.Render(m.botName())
		}
		s.WriteString(label + "  " + timeStyle.Render(formatClock(msg.Timestamp)) + "\n")

		if msg.Role == models.RoleBot {
			s.WriteString(m.md.render(msg.Content) + "\n")
		} else {
			s.WriteString(userText.Render(msg.Content) + "\n")
		}
		if i < len(m.snap.Messages)-1 {
			s.WriteString("\n")
		}
	}

	if m.snap.State == sessions.StateAwaitingResponse {
		s.WriteString("\n" + botLabel.Render(m.botName()) + "\n  " + m.indicator.View() + "\n")
	}

	return s.String()
}

func (m model) renderWelcome() string {
	titleStyle := lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("250"))
	textStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("243")).
		Width(min(60, max(m.rightViewport.Width-4, 10))).
		Align(lipgloss.Center)

	content := titleStyle.Render(welcomeTitle) + "\n\n" + textStyle.Render(welcomeText)
	return lipgloss.Place(m.rightViewport.Width, m.rightViewport.Height,
		lipgloss.Center, lipgloss.Center, content)
}

func (m model) View() string {
	if !m.ready {
		return "\n  Initializing..."
	}

	if m.starting && len(m.snap.Sessions) == 0 {
		return LoadingOverlay(m.width, m.height, m.indicator)
	}

	if m.showHelp {
		return fmt.Sprintf("%s\n%s", m.renderHeader(), m.renderHelp())
	}

	return fmt.Sprintf("%s\n%s\n%s\n%s",
		m.renderHeader(), m.renderSplitView(), m.renderStatus(), m.renderFooter())
}

func (m model) renderSplitView() string {
	leftStyle := lipgloss.NewStyle().
		Width(m.leftViewport.Width).
		Height(m.leftViewport.Height)

	dividerStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("238"))

	divider := strings.TrimSuffix(strings.Repeat("│\n", m.leftViewport.Height), "\n")

	inputBorder := lipgloss.NewStyle().
		BorderStyle(lipgloss.NormalBorder()).
		BorderTop(true).
		BorderForeground(lipgloss.Color("238"))
	if m.focus == focusInput {
		inputBorder = inputBorder.BorderForeground(lipgloss.Color("63"))
	}

	right := lipgloss.JoinVertical(lipgloss.Left,
		lipgloss.NewStyle().Width(m.rightViewport.Width).Height(m.rightViewport.Height).Render(m.rightViewport.View()),
		inputBorder.Render(m.input.View()),
	)

	return lipgloss.JoinHorizontal(
		lipgloss.Top,
		leftStyle.Render(m.leftViewport.View()),
		dividerStyle.Render(divider),
		right,
	)
}

func (m model) renderHeader() string {
	title := m.botName()
	if session, ok := m.snap.ActiveSession(); ok {
		title = fmt.Sprintf("%s - %s", title, session.Name)
	}

	style := lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("229")).
		Background(lipgloss.Color("63"))
	descStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("245"))

	header := style.Render(" " + title + " ")
	if m.cfg.BotDescription != "" {
		header += " " + descStyle.Render(m.cfg.BotDescription)
	}
	return header
}

func (m model) renderStatus() string {
	if m.snap.Notice != "" {
		return lipgloss.NewStyle().
			Foreground(lipgloss.Color("196")).
			Render("! " + m.snap.Notice)
	}
	return lipgloss.NewStyle().
		Foreground(lipgloss.Color("250")).
		Render(m.status)
}

func (m model) renderFooter() string {
	var info string
	switch {
	case m.renaming:
		info = "enter: save • esc: cancel"
	case m.focus == focusSidebar:
		info = "↑/↓: navigate • enter: open • n: new • r: rename • d: delete • e: export • ?: help • tab: input"
	default:
		info = "enter: send • pgup/pgdn: scroll • ctrl+y: copy reply • tab: chats"
	}
	info += " • ctrl+c: quit"

	style := lipgloss.NewStyle().
		Foreground(lipgloss.Color("241"))

	return style.Render(info)
}

var faqs = [][2]string{
	{"What is the Time Series AI Agent?",
		"It is an AI-powered tool designed to analyze time series data, providing insights and inference at scale."},
	{"How do I connect my data?",
		"The agent connects to Prometheus or other TSDBs. You can configure the endpoint in the backend configuration."},
	{"Can I export my chat history?",
		"Yes, press e in the chat list to save the current chat as a text file."},
	{"How do I start a new session?",
		"Press n in the chat list to create a fresh chat session."},
}

func (m model) renderHelp() string {
	var s strings.Builder
	qStyle := lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("229"))
	aStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("250")).Width(max(m.width-4, 20)).PaddingLeft(2)

	s.WriteString("\n")
	for _, faq := range faqs {
		s.WriteString(qStyle.Render(faq[0]) + "\n")
		s.WriteString(aStyle.Render(faq[1]) + "\n\n")
	}
	if m.cfg.ContactLink != "" {
		s.WriteString("Contact: " + m.cfg.ContactLink + "\n\n")
	}
	s.WriteString(lipgloss.NewStyle().Foreground(lipgloss.Color("241")).Render("esc: close"))
	return s.String()
}

func (m model) botName() string {
	if m.cfg.BotName != "" {
		return m.cfg.BotName
	}
	return settings.Defaults().BotName
}

var clockLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999",
	"2006-01-02T15:04:05",
}

// formatClock shows a message timestamp as local HH:MM. Timestamps
// without a zone are taken as local time.
func formatClock(ts string) string {
	for _, layout := range clockLayouts {
		if t, err := time.ParseInLocation(layout, ts, time.Local); err == nil {
			return t.Local().Format("15:04")
		}
	}
	return ts
}

func truncate(s string, maxLen int) string {
	if maxLen < 4 {
		maxLen = 4
	}
	r := []rune(s)
	if len(r) <= maxLen {
		return s
	}
	return string(r[:maxLen-3]) + "..."
}

// Run shows the chat UI until the user quits
func Run(ctx context.Context, opts Options) error {
	if opts.Controller == nil {
		return errors.New("tui: controller is required")
	}
	p := tea.NewProgram(
		initialModel(ctx, opts),
		tea.WithAltScreen(),
		tea.WithContext(ctx),
	)
	_, err := p.Run()
	opts.Controller.Close()
	if errors.Is(err, tea.ErrProgramKilled) && ctx.Err() != nil {
		return nil
	}
	return err
}
