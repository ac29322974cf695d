// This file implements the interactive chat interface using bubbletea.
package main

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"studybuddy/cmd/study/ui"
	"studybuddy/internal/api"
	"studybuddy/internal/auth"
	"studybuddy/internal/config"
	"studybuddy/internal/engine"
	"studybuddy/internal/logging"
	"studybuddy/internal/state"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"
)

// pickerTarget says what an open picker selects. The chat-subject and
// preferred-subject pickers look identical but land in different cells; the
// target is fixed when the picker opens, never inferred at confirm time.
type pickerTarget int

const (
	pickerNone pickerTarget = iota
	pickerChatSubject
	pickerPreferredSubject
	pickerSession
)

type chatModel struct {
	// UI components
	textinput textinput.Model
	viewport  viewport.Model
	spinner   spinner.Model
	styles    ui.Styles
	renderer  *glamour.TermRenderer

	// Backend
	cfg    *config.Config
	eng    *engine.Engine
	client *api.Client
	token  string

	// Notices flow from the engine through this channel into Update.
	noticeCh chan engine.Notice

	// Picker state
	picker    pickerTarget
	pickerIdx int
	sessions  []api.Session

	// State
	authenticated bool
	isLoading     bool
	loadingOlder  bool
	status        string
	statusLevel   engine.NoticeLevel
	renderedLines int
	width         int
	height        int
	ready         bool
}

// Messages for tea updates
type (
	bootstrapDoneMsg engine.BootstrapResult
	sendDoneMsg      struct{ err error }
	olderLoadedMsg   struct{ err error }
	noticeMsg        engine.Notice
	sessionsMsg      struct {
		sessions []api.Session
		err      error
	}
	switchedMsg   struct{ err error }
	preferSetMsg  struct{ err error }
)

// initChat wires the engine, its stores, and the UI model together.
func initChat(cfg *config.Config) (chatModel, func(), error) {
	store, err := state.NewStore(cfg.DatabasePath())
	if err != nil {
		return chatModel{}, nil, fmt.Errorf("failed to open state database: %w", err)
	}

	client := api.NewClient(api.Config{
		BaseURL: cfg.Backend.BaseURL,
		Timeout: cfg.BackendTimeout(),
	})

	noticeCh := make(chan engine.Notice, 16)
	eng := engine.New(engine.Options{
		Backend:  client,
		Store:    store,
		PageSize: cfg.PageSize(),
		Throttle: cfg.ScrollThrottle(),
		Notify: func(n engine.Notice) {
			select {
			case noticeCh <- n:
			default:
			}
		},
	})

	styles := ui.DefaultStyles()

	ti := textinput.New()
	ti.Placeholder = "Ask your tutor... (Enter to send, /help for commands)"
	ti.Focus()
	ti.Prompt = "│ "
	ti.CharLimit = 4096
	ti.Width = 80
	ti.PromptStyle = styles.Prompt
	ti.TextStyle = styles.UserInput

	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = styles.Spinner

	vp := viewport.New(80, 20)
	vp.SetContent("")

	renderer := newRenderer(styles, 80)

	m := chatModel{
		textinput: ti,
		viewport:  vp,
		spinner:   sp,
		styles:    styles,
		renderer:  renderer,
		cfg:       cfg,
		eng:       eng,
		client:    client,
		token:     auth.NewTokenStore(cfg.StateDir()).Load(),
		noticeCh:  noticeCh,
	}
	cleanup := func() { store.Close() }
	return m, cleanup, nil
}

func newRenderer(styles ui.Styles, width int) *glamour.TermRenderer {
	var renderer *glamour.TermRenderer
	if styles.Theme.IsDark {
		renderer, _ = glamour.NewTermRenderer(
			glamour.WithAutoStyle(),
			glamour.WithWordWrap(width),
		)
	} else {
		renderer, _ = glamour.NewTermRenderer(
			glamour.WithStylePath("light"),
			glamour.WithWordWrap(width),
		)
	}
	return renderer
}

func (m chatModel) Init() tea.Cmd {
	return tea.Batch(
		textinput.Blink,
		m.spinner.Tick,
		m.bootstrapCmd(),
		m.waitForNotice(),
	)
}

func (m chatModel) bootstrapCmd() tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), m.cfg.BackendTimeout())
		defer cancel()
		res, _ := m.eng.Bootstrap(ctx, m.token)
		return bootstrapDoneMsg(res)
	}
}

func (m chatModel) waitForNotice() tea.Cmd {
	ch := m.noticeCh
	return func() tea.Msg {
		return noticeMsg(<-ch)
	}
}

func (m chatModel) sendCmd(text string) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), m.cfg.BackendTimeout())
		defer cancel()
		return sendDoneMsg{err: m.eng.Send(ctx, text)}
	}
}

func (m chatModel) loadOlderCmd() tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), m.cfg.BackendTimeout())
		defer cancel()
		return olderLoadedMsg{err: m.eng.ScrollReachedTop(ctx)}
	}
}

func (m chatModel) listSessionsCmd() tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), m.cfg.BackendTimeout())
		defer cancel()
		sessions, err := m.client.ListSessions(ctx)
		return sessionsMsg{sessions: sessions, err: err}
	}
}

func (m chatModel) switchSessionCmd(sessionID string) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), m.cfg.BackendTimeout())
		defer cancel()
		return switchedMsg{err: m.eng.SwitchSession(ctx, sessionID)}
	}
}

func (m chatModel) setPreferredCmd(subject engine.Subject) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), m.cfg.BackendTimeout())
		defer cancel()
		return preferSetMsg{err: m.eng.SetPreferredSubject(ctx, subject)}
	}
}

func (m chatModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var (
		tiCmd tea.Cmd
		vpCmd tea.Cmd
		spCmd tea.Cmd
	)

	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.Type {
		case tea.KeyCtrlC:
			return m, tea.Quit

		case tea.KeyEsc:
			if m.picker != pickerNone {
				m.picker = pickerNone
				return m, nil
			}
			return m, tea.Quit

		case tea.KeyUp:
			if m.picker != pickerNone {
				if m.pickerIdx > 0 {
					m.pickerIdx--
				}
				return m, nil
			}

		case tea.KeyDown:
			if m.picker != pickerNone {
				if m.pickerIdx < m.pickerLen()-1 {
					m.pickerIdx++
				}
				return m, nil
			}

		case tea.KeyEnter:
			if m.picker != pickerNone {
				return m.handlePickerConfirm()
			}
			if !m.isLoading {
				return m.handleSubmit()
			}
		}

		if !m.isLoading && m.picker == pickerNone {
			m.textinput, tiCmd = m.textinput.Update(msg)
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height

		headerHeight := 3
		footerHeight := 2
		inputHeight := 3

		if !m.ready {
			m.viewport = viewport.New(msg.Width-4, msg.Height-headerHeight-footerHeight-inputHeight)
			m.ready = true
		} else {
			m.viewport.Width = msg.Width - 4
			m.viewport.Height = msg.Height - headerHeight - footerHeight - inputHeight
		}
		m.textinput.Width = msg.Width - 4
		m.renderer = newRenderer(m.styles, msg.Width-8)
		m.refreshViewport(true)

	case spinner.TickMsg:
		if m.isLoading {
			// Repaint while a send is in flight so the optimistic user turn
			// shows before the reply lands.
			m.refreshViewport(true)
			m.spinner, spCmd = m.spinner.Update(msg)
			return m, spCmd
		}

	case bootstrapDoneMsg:
		res := engine.BootstrapResult(msg)
		m.authenticated = res.Authenticated
		if !res.Authenticated && m.status == "" {
			m.status = "Not logged in. Run 'study login' first."
			m.statusLevel = engine.NoticeWarn
		}
		if res.SubjectSelectionRequired {
			m.picker = pickerChatSubject
			m.pickerIdx = 0
		}
		m.refreshViewport(true)

	case sendDoneMsg:
		m.isLoading = false
		if errors.Is(msg.err, engine.ErrSubjectRequired) {
			m.picker = pickerChatSubject
			m.pickerIdx = 0
		}
		m.refreshViewport(true)

	case olderLoadedMsg:
		m.loadingOlder = false
		// Keep the reading position stable under the prepended page.
		m.refreshViewport(false)

	case switchedMsg:
		m.refreshViewport(true)

	case preferSetMsg:
		if msg.err == nil {
			m.status = fmt.Sprintf("Preferred subject saved: %s", m.eng.PreferredSubject())
			m.statusLevel = engine.NoticeInfo
		}

	case sessionsMsg:
		if msg.err != nil {
			m.status = "Could not list sessions."
			m.statusLevel = engine.NoticeError
			return m, nil
		}
		m.sessions = msg.sessions
		m.picker = pickerSession
		m.pickerIdx = 0

	case noticeMsg:
		n := engine.Notice(msg)
		m.status = n.Text
		m.statusLevel = n.Level
		return m, m.waitForNotice()
	}

	scrolled := false
	switch msg.(type) {
	case tea.KeyMsg, tea.MouseMsg:
		scrolled = true
	}
	m.viewport, vpCmd = m.viewport.Update(msg)

	// Reaching the top edge of the history on a scroll is the load-older
	// trigger. The engine throttles and guards; the model only avoids queuing
	// a second command while one is outstanding.
	var loadCmd tea.Cmd
	if scrolled && m.ready && m.authenticated && !m.loadingOlder && m.picker == pickerNone && m.viewport.AtTop() {
		m.loadingOlder = true
		loadCmd = m.loadOlderCmd()
	}

	return m, tea.Batch(tiCmd, vpCmd, spCmd, loadCmd)
}

func (m *chatModel) pickerLen() int {
	if m.picker == pickerSession {
		return len(m.sessions)
	}
	return len(engine.Subjects())
}

func (m chatModel) handlePickerConfirm() (tea.Model, tea.Cmd) {
	target := m.picker
	idx := m.pickerIdx
	m.picker = pickerNone
	m.pickerIdx = 0

	switch target {
	case pickerChatSubject:
		subjects := engine.Subjects()
		if idx < len(subjects) {
			if err := m.eng.SetChatSubject(subjects[idx]); err == nil {
				m.status = fmt.Sprintf("Subject: %s", subjects[idx])
				m.statusLevel = engine.NoticeInfo
			}
		}
		return m, nil

	case pickerPreferredSubject:
		subjects := engine.Subjects()
		if idx < len(subjects) {
			return m, m.setPreferredCmd(subjects[idx])
		}
		return m, nil

	case pickerSession:
		if idx < len(m.sessions) {
			return m, m.switchSessionCmd(m.sessions[idx].ID)
		}
		return m, nil
	}
	return m, nil
}

func (m chatModel) handleSubmit() (tea.Model, tea.Cmd) {
	input := strings.TrimSpace(m.textinput.Value())
	if input == "" {
		return m, nil
	}

	if strings.HasPrefix(input, "/") {
		return m.handleCommand(input)
	}

	if !m.authenticated {
		m.status = "Not logged in. Run 'study login' first."
		m.statusLevel = engine.NoticeWarn
		return m, nil
	}
	if !m.eng.ChatSubject().IsConcrete() {
		m.picker = pickerChatSubject
		m.pickerIdx = 0
		return m, nil
	}

	m.textinput.Reset()
	m.isLoading = true
	return m, tea.Batch(
		m.spinner.Tick,
		m.sendCmd(input),
	)
}

func (m chatModel) handleCommand(input string) (tea.Model, tea.Cmd) {
	parts := strings.Fields(input)
	m.textinput.Reset()

	switch parts[0] {
	case "/quit", "/exit", "/q":
		return m, tea.Quit

	case "/new":
		m.eng.StartNewChat()
		m.picker = pickerChatSubject
		m.pickerIdx = 0
		m.refreshViewport(true)
		return m, nil

	case "/subject":
		m.picker = pickerChatSubject
		m.pickerIdx = 0
		return m, nil

	case "/prefer":
		m.picker = pickerPreferredSubject
		m.pickerIdx = 0
		return m, nil

	case "/sessions":
		if !m.authenticated {
			m.status = "Not logged in. Run 'study login' first."
			m.statusLevel = engine.NoticeWarn
			return m, nil
		}
		return m, m.listSessionsCmd()

	case "/help":
		m.status = "/new start over • /subject chat subject • /prefer preferred subject • /sessions switch • /quit exit"
		m.statusLevel = engine.NoticeInfo
		return m, nil

	default:
		m.status = fmt.Sprintf("Unknown command %s. Try /help.", parts[0])
		m.statusLevel = engine.NoticeWarn
		return m, nil
	}
}

// refreshViewport re-renders the conversation. With gotoBottom false the
// viewport offset is adjusted by the number of lines prepended above it, so
// merging an older page does not yank the view.
func (m *chatModel) refreshViewport(gotoBottom bool) {
	content := m.renderHistory()
	lines := strings.Count(content, "\n")

	offset := m.viewport.YOffset
	m.viewport.SetContent(content)

	if gotoBottom {
		m.viewport.GotoBottom()
	} else if grown := lines - m.renderedLines; grown > 0 {
		m.viewport.SetYOffset(offset + grown)
	}
	m.renderedLines = lines
}

func (m *chatModel) renderHistory() string {
	msgs := m.eng.Messages()
	if len(msgs) == 0 {
		if !m.authenticated {
			return m.styles.Muted.Render("\n  Log in with 'study login' to start.")
		}
		return m.styles.Muted.Render("\n  No messages yet. Ask your tutor anything.")
	}

	var sb strings.Builder
	for _, msg := range msgs {
		if msg.Role == engine.RoleUser {
			userStyle := m.styles.Bold.
				Foreground(m.styles.Theme.Primary).
				MarginTop(1)
			sb.WriteString(userStyle.Render("You") + "\n")
			sb.WriteString(m.styles.UserInput.Render(msg.Content))
			sb.WriteString("\n\n")
		} else {
			tutorStyle := m.styles.Bold.
				Foreground(m.styles.Theme.Accent).
				MarginTop(1)
			sb.WriteString(tutorStyle.Render("Tutor") + "\n")
			sb.WriteString(m.safeRenderMarkdown(msg.Content))
			sb.WriteString("\n")
		}
	}
	return sb.String()
}

// safeRenderMarkdown renders markdown with panic recovery.
func (m *chatModel) safeRenderMarkdown(content string) (result string) {
	defer func() {
		if r := recover(); r != nil {
			result = content
		}
	}()

	if m.renderer != nil && content != "" {
		if rendered, err := m.renderer.Render(content); err == nil {
			return rendered
		}
	}
	return content
}

func (m chatModel) View() string {
	if !m.ready {
		return "Initializing..."
	}

	header := m.renderHeader()

	var body string
	if m.picker != pickerNone {
		body = m.renderPicker()
	} else {
		body = m.viewport.View()
	}
	if m.isLoading {
		body += "\n" + m.styles.Spinner.Render(m.spinner.View()) + " Thinking..."
	}

	inputStyle := lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(m.styles.Theme.Accent).
		Padding(0, 1)
	inputArea := inputStyle.Render(m.textinput.View())

	return lipgloss.JoinVertical(
		lipgloss.Left,
		header,
		body,
		inputArea,
		m.renderFooter(),
	)
}

func (m chatModel) renderHeader() string {
	title := m.styles.Header.Render(" studybuddy ")

	subject := string(m.eng.ChatSubject())
	if !m.eng.ChatSubject().IsConcrete() {
		subject = "no subject"
	}
	badge := m.styles.Badge.Render(subject)

	name := m.styles.Muted.Render(" " + m.eng.SessionName())

	var status string
	if m.isLoading {
		status = m.styles.Warning.Render("● Thinking")
	} else if m.authenticated {
		status = m.styles.Success.Render("● Ready")
	} else {
		status = m.styles.Error.Render("● Offline")
	}

	headerLine := lipgloss.JoinHorizontal(
		lipgloss.Center,
		title, " ", badge, " ", status, name,
	)
	return lipgloss.JoinVertical(
		lipgloss.Left,
		headerLine,
		m.styles.RenderDivider(m.width),
	)
}

func (m chatModel) renderPicker() string {
	var sb strings.Builder
	sb.WriteString("\n")

	switch m.picker {
	case pickerChatSubject:
		sb.WriteString(m.styles.Title.Render("  Pick a subject for this conversation") + "\n\n")
	case pickerPreferredSubject:
		sb.WriteString(m.styles.Title.Render("  Pick your preferred subject (for recommendations)") + "\n\n")
	case pickerSession:
		sb.WriteString(m.styles.Title.Render("  Pick a session to resume") + "\n\n")
	}

	if m.picker == pickerSession {
		if len(m.sessions) == 0 {
			sb.WriteString(m.styles.Muted.Render("  No sessions yet."))
		}
		for i, s := range m.sessions {
			label := fmt.Sprintf("%s  [%s]", s.Name, s.Subject)
			if i == m.pickerIdx {
				sb.WriteString(m.styles.PickerSelected.Render("→ "+label) + "\n")
			} else {
				sb.WriteString(m.styles.PickerItem.Render(label) + "\n")
			}
		}
	} else {
		for i, s := range engine.Subjects() {
			if i == m.pickerIdx {
				sb.WriteString(m.styles.PickerSelected.Render("→ "+string(s)) + "\n")
			} else {
				sb.WriteString(m.styles.PickerItem.Render(string(s)) + "\n")
			}
		}
	}

	sb.WriteString("\n" + m.styles.Muted.Render("  ↑/↓ select • Enter confirm • Esc cancel"))
	return sb.String()
}

func (m chatModel) renderFooter() string {
	if m.status != "" {
		style := m.styles.Info
		switch m.statusLevel {
		case engine.NoticeWarn:
			style = m.styles.Warning
		case engine.NoticeError:
			style = m.styles.Error
		}
		return m.styles.Footer.Render(style.Render(m.status))
	}
	return m.styles.Footer.Render("Enter: send • ↑: scroll history • /help: commands • Ctrl+C: exit")
}

// runChat starts the interactive chat interface. The config watcher keeps
// logging options live while the TUI runs.
func runChat() error {
	m, cleanup, err := initChat(cfg)
	if err != nil {
		return err
	}
	defer cleanup()
	defer logging.CloseAll()

	path := configPath
	if path == "" {
		path = config.DefaultPath()
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if watcher, werr := config.NewWatcher(path, func(updated *config.Config) {
		logging.Reconfigure(logging.Options{
			DebugMode:  updated.Logging.DebugMode,
			Level:      updated.Logging.Level,
			JSONFormat: updated.Logging.JSONFormat,
			Categories: updated.Logging.Categories,
		})
	}); werr == nil {
		if serr := watcher.Start(ctx); serr == nil {
			defer watcher.Stop()
		}
	}

	p := tea.NewProgram(
		m,
		tea.WithAltScreen(),
		tea.WithMouseCellMotion(),
	)
	start := time.Now()
	_, err = p.Run()
	logging.Boot("chat session ended after %s", time.Since(start).Round(time.Second))
	return err
}
