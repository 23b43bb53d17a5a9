package tui

import (
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textarea"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"hearth/internal/domain"
	"hearth/internal/usecase/bridge"
)

// entry is one finalized transcript row.
type entry struct {
	role      domain.Role
	text      string
	cancelled bool
}

// toolRow is one line in the tool panel.
type toolRow struct {
	name    string
	enabled bool
}

// Model is the root Bubble Tea model. All mutable UI state lives here; the
// service runtime only ever reaches it through drained view commands.
type Model struct {
	bridge *bridge.Bridge
	logger *slog.Logger

	vp    viewport.Model
	input textarea.Model
	spin  spinner.Model

	conversationID string
	title          string
	entries        []entry

	streaming  bool
	streamText string
	thinking   string
	activeTool string

	status string
	convs  []domain.ConversationSummary

	tools      []toolRow
	toolCursor int

	width    int
	height   int
	ready    bool
	quitting bool
}

// NewModel creates the chat model bound to a bridge.
func NewModel(br *bridge.Bridge, logger *slog.Logger) Model {
	input := textarea.New()
	input.Placeholder = "Type a message..."
	input.CharLimit = 0
	input.SetHeight(3)
	input.ShowLineNumbers = false
	input.Focus()

	spin := spinner.New()
	spin.Spinner = spinner.Dot
	spin.Style = spinnerStyle

	return Model{
		bridge: br,
		logger: logger,
		input:  input,
		spin:   spin,
		status: "ready",
	}
}

// Init starts the command pump and opens the first conversation.
func (m Model) Init() tea.Cmd {
	m.bridge.SendAction(domain.NewConversation{})
	return tea.Batch(
		waitForCommands(m.bridge),
		m.spin.Tick,
		textarea.Blink,
	)
}

// Update handles key input, command batches, and window sizing.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.layout()
		return m, nil

	case tea.KeyMsg:
		return m.handleKey(msg)

	case commandsMsg:
		for _, cmd := range msg.commands {
			m.apply(cmd)
		}
		m.refreshViewport()
		return m, waitForCommands(m.bridge)

	case quitMsg:
		m.quitting = true
		return m, tea.Quit

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spin, cmd = m.spin.Update(msg)
		return m, cmd
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m *Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "ctrl+c", "ctrl+q":
		m.quitting = true
		return *m, tea.Quit

	case "enter":
		return m.submit()

	case "esc":
		if m.streaming {
			if !m.bridge.SendAction(domain.StopStreaming{ConversationID: m.conversationID}) {
				m.status = "action queue full, try again"
			} else {
				m.status = "stopping..."
			}
		}
		return *m, nil

	case "ctrl+n":
		m.bridge.SendAction(domain.NewConversation{})
		return *m, nil

	case "ctrl+p":
		m.selectNextConversation()
		return *m, nil

	case "ctrl+o":
		if len(m.tools) > 0 {
			m.toolCursor = (m.toolCursor + 1) % len(m.tools)
		}
		return *m, nil

	case "ctrl+t":
		if m.toolCursor < len(m.tools) {
			row := m.tools[m.toolCursor]
			m.bridge.SendAction(domain.ToggleTool{Name: row.name, Enabled: !row.enabled})
		}
		return *m, nil

	case "pgup", "pgdown":
		var cmd tea.Cmd
		m.vp, cmd = m.vp.Update(msg)
		return *m, cmd
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return *m, cmd
}

func (m *Model) submit() (tea.Model, tea.Cmd) {
	text := strings.TrimSpace(m.input.Value())
	if text == "" || m.conversationID == "" {
		return *m, nil
	}
	if m.streaming {
		m.status = "still responding, press esc to stop first"
		return *m, nil
	}

	if !m.bridge.SendAction(domain.SendMessage{ConversationID: m.conversationID, Text: text}) {
		m.status = "action queue full, try again"
		return *m, nil
	}

	// Echo locally; the runtime only emits deltas for the reply.
	m.entries = append(m.entries, entry{role: domain.RoleUser, text: text})
	m.input.Reset()
	m.status = "sending..."
	m.refreshViewport()
	return *m, nil
}

func (m *Model) selectNextConversation() {
	if len(m.convs) < 2 {
		return
	}
	idx := 0
	for i, c := range m.convs {
		if c.ID == m.conversationID {
			idx = (i + 1) % len(m.convs)
			break
		}
	}
	m.bridge.SendAction(domain.SelectConversation{ConversationID: m.convs[idx].ID})
}

// apply folds one view command into UI state.
func (m *Model) apply(cmd domain.ViewCommand) {
	switch c := cmd.(type) {
	case domain.StreamOpened:
		if c.ConversationID != m.conversationID {
			return
		}
		m.streaming = true
		m.streamText = ""
		m.thinking = ""
		m.activeTool = ""
		m.status = "thinking..."

	case domain.AppendTextDelta:
		if c.ConversationID != m.conversationID {
			return
		}
		m.streamText += c.Text
		m.status = "streaming"

	case domain.AppendThinkingDelta:
		if c.ConversationID != m.conversationID {
			return
		}
		m.thinking += c.Text

	case domain.ToolCallBegan:
		if c.ConversationID != m.conversationID {
			return
		}
		m.activeTool = c.Name
		m.status = "calling " + c.Name + "..."

	case domain.ToolCallFinished:
		if c.ConversationID != m.conversationID {
			return
		}
		m.activeTool = ""
		if c.Success {
			m.status = c.Name + " done"
		} else {
			m.status = c.Name + " failed"
		}

	case domain.StreamClosed:
		if c.ConversationID != m.conversationID {
			return
		}
		m.finalizeStream(false)
		m.status = fmt.Sprintf("done (%d tokens)", c.Tokens)

	case domain.StreamAborted:
		if c.ConversationID != m.conversationID {
			return
		}
		m.streamText = c.PartialText
		m.finalizeStream(true)
		m.status = "stopped"

	case domain.ShowError:
		if c.ConversationID != "" && c.ConversationID != m.conversationID {
			return
		}
		if m.streaming {
			m.finalizeStream(false)
		}
		m.status = "error: " + c.Message
		if c.Retryable {
			m.status += " (try again)"
		}

	case domain.ShowNotice:
		m.status = c.Text

	case domain.ConversationListUpdated:
		m.convs = c.Summaries

	case domain.ConversationActivated:
		m.conversationID = c.ConversationID
		m.title = c.Title
		m.streaming = false
		m.streamText = ""
		m.thinking = ""
		m.entries = m.entries[:0]
		for _, msg := range c.Messages {
			if msg.Role == domain.RoleTool {
				continue
			}
			m.entries = append(m.entries, entry{
				role:      msg.Role,
				text:      msg.Content,
				cancelled: msg.Cancelled,
			})
		}
		m.status = "ready"

	case domain.ToolRowUpdated:
		m.upsertToolRow(c.Name, c.Enabled)
	}
}

func (m *Model) finalizeStream(cancelled bool) {
	if m.streamText != "" || cancelled {
		m.entries = append(m.entries, entry{
			role:      domain.RoleAssistant,
			text:      m.streamText,
			cancelled: cancelled,
		})
	}
	m.streaming = false
	m.streamText = ""
	m.thinking = ""
	m.activeTool = ""
}

func (m *Model) upsertToolRow(name string, enabled bool) {
	for i := range m.tools {
		if m.tools[i].name == name {
			m.tools[i].enabled = enabled
			return
		}
	}
	m.tools = append(m.tools, toolRow{name: name, enabled: enabled})
	sort.Slice(m.tools, func(i, j int) bool { return m.tools[i].name < m.tools[j].name })
}

func (m *Model) layout() {
	if m.width == 0 || m.height == 0 {
		return
	}
	inputHeight := 3
	chrome := 4 // header, tool bar, status bar, spacing
	vpHeight := m.height - inputHeight - chrome
	if vpHeight < 3 {
		vpHeight = 3
	}
	if !m.ready {
		m.vp = viewport.New(m.width, vpHeight)
		m.ready = true
	} else {
		m.vp.Width = m.width
		m.vp.Height = vpHeight
	}
	m.input.SetWidth(m.width - 2)
	m.refreshViewport()
}

func (m *Model) refreshViewport() {
	if !m.ready {
		return
	}
	m.vp.SetContent(m.renderTranscript())
	m.vp.GotoBottom()
}

func (m *Model) renderTranscript() string {
	var b strings.Builder
	for _, e := range m.entries {
		b.WriteString(renderEntry(e, m.width))
		b.WriteString("\n")
	}
	if m.streaming {
		if m.thinking != "" {
			b.WriteString(thinkingStyle.Render(m.thinking))
			b.WriteString("\n")
		}
		b.WriteString(assistantStyle.Render(m.streamText))
		b.WriteString("\n")
	}
	return b.String()
}

func renderEntry(e entry, width int) string {
	var style lipgloss.Style
	var label string
	switch e.role {
	case domain.RoleUser:
		style, label = userStyle, "you"
	case domain.RoleAssistant:
		style, label = assistantStyle, "assistant"
	default:
		style, label = noticeStyle, string(e.role)
	}

	text := e.text
	if e.cancelled {
		text += " " + cancelledStyle.Render("[stopped]")
	}
	return labelStyle.Render(label) + "\n" + style.Width(max(width-2, 20)).Render(text)
}

// View renders the full frame.
func (m Model) View() string {
	if m.quitting {
		return "Bye!\n"
	}
	if !m.ready {
		return "  starting..."
	}

	header := headerStyle.Render(m.headerLine())
	toolBar := m.renderToolBar()
	status := m.renderStatus()

	return lipgloss.JoinVertical(lipgloss.Left,
		header,
		m.vp.View(),
		toolBar,
		status,
		inputStyle.Render(m.input.View()),
	)
}

func (m Model) headerLine() string {
	title := m.title
	if title == "" {
		title = "hearth"
	}
	if len(m.convs) > 1 {
		title += fmt.Sprintf("  (%d conversations, ctrl+p to switch)", len(m.convs))
	}
	return title
}

func (m Model) renderToolBar() string {
	if len(m.tools) == 0 {
		return ""
	}
	parts := make([]string, 0, len(m.tools))
	for i, row := range m.tools {
		mark := "off"
		if row.enabled {
			mark = "on"
		}
		label := fmt.Sprintf("%s:%s", row.name, mark)
		if i == m.toolCursor {
			label = toolCursorStyle.Render(label)
		} else {
			label = toolStyle.Render(label)
		}
		parts = append(parts, label)
	}
	return "tools " + strings.Join(parts, " ")
}

func (m Model) renderStatus() string {
	s := m.status
	if m.streaming {
		s = m.spin.View() + " " + s
	}
	return statusStyle.Render(s)
}
