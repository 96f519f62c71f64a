package main

import (
	"context"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/reflow/wordwrap"

	"github.com/koscakluka/ema-bridge/core/audio"
	"github.com/koscakluka/ema-bridge/core/events"
	"github.com/koscakluka/ema-bridge/internal/client"
)

type (
	serverEventMsg struct{ event events.Event }
	// disconnectedMsg ends the event stream, err is nil on a clean close.
	disconnectedMsg struct{ err error }
	sendFailedMsg   struct{ err error }
	micStoppedMsg   struct{ err error }
)

type model struct {
	ctx    context.Context
	client *client.Client
	device audio.Device
	url    string

	incoming chan tea.Msg
	view     client.View
	lines    []client.Line

	viewport viewport.Model
	input    textinput.Model
	width    int
	ready    bool
	closed   bool
	status   string
}

func newModel(ctx context.Context, c *client.Client, device audio.Device, url string) *model {
	input := textinput.New()
	input.Placeholder = "Type a message"
	input.Prompt = "> "
	input.Focus()

	return &model{
		ctx:      ctx,
		client:   c,
		device:   device,
		url:      url,
		incoming: make(chan tea.Msg, 64),
		input:    input,
		status:   "Connecting...",
	}
}

func (m *model) Init() tea.Cmd {
	go m.receive()
	cmds := []tea.Cmd{textinput.Blink, m.waitForServer()}
	if m.device != nil {
		cmds = append(cmds, m.streamMicrophone())
	}
	return tea.Batch(cmds...)
}

// receive forwards server events to the UI loop.
func (m *model) receive() {
	for event, err := range m.client.Events(m.ctx) {
		if err != nil {
			m.forward(disconnectedMsg{err: err})
			return
		}
		if !m.forward(serverEventMsg{event: event}) {
			return
		}
	}
	m.forward(disconnectedMsg{})
}

func (m *model) forward(msg tea.Msg) bool {
	select {
	case m.incoming <- msg:
		return true
	case <-m.ctx.Done():
		return false
	}
}

func (m *model) waitForServer() tea.Cmd {
	return func() tea.Msg {
		select {
		case msg := <-m.incoming:
			return msg
		case <-m.ctx.Done():
			return disconnectedMsg{err: m.ctx.Err()}
		}
	}
}

func (m *model) streamMicrophone() tea.Cmd {
	return func() tea.Msg {
		return micStoppedMsg{err: m.client.StreamMicrophone(m.ctx, m.device)}
	}
}

func (m *model) send(text string) tea.Cmd {
	return func() tea.Msg {
		if err := m.client.SendText(m.ctx, text); err != nil {
			return sendFailedMsg{err: err}
		}
		return nil
	}
}

func (m *model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		// header, input box and status bar
		height := max(msg.Height-6, 3)
		if !m.ready {
			m.viewport = viewport.New(msg.Width, height)
			m.ready = true
		} else {
			m.viewport.Width, m.viewport.Height = msg.Width, height
		}
		m.input.Width = max(msg.Width-8, 10)
		m.refresh()
		return m, nil

	case tea.KeyMsg:
		switch msg.Type {
		case tea.KeyCtrlC, tea.KeyEsc:
			return m, tea.Quit
		case tea.KeyEnter:
			text := strings.TrimSpace(m.input.Value())
			if text == "" || m.closed {
				return m, nil
			}
			m.input.Reset()
			if text == "quit" || text == "exit" {
				return m, tea.Quit
			}
			return m, m.send(text)
		case tea.KeyPgUp, tea.KeyPgDown:
			var cmd tea.Cmd
			m.viewport, cmd = m.viewport.Update(msg)
			return m, cmd
		}

	case serverEventMsg:
		m.handleEvent(msg.event)
		return m, m.waitForServer()

	case disconnectedMsg:
		m.closed = true
		m.status = "Disconnected"
		if msg.err != nil && m.ctx.Err() == nil {
			m.appendLines(client.Line{Kind: client.LineError, Text: msg.err.Error()})
		}
		return m, nil

	case sendFailedMsg:
		m.appendLines(client.Line{Kind: client.LineError, Text: msg.err.Error()})
		return m, nil

	case micStoppedMsg:
		if msg.err != nil {
			m.appendLines(client.Line{Kind: client.LineError, Text: "microphone: " + msg.err.Error()})
		}
		return m, nil
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m *model) handleEvent(event events.Event) {
	switch e := event.(type) {
	case events.ConnectionStart:
		m.status = "Connected"
	case events.ResponseComplete:
		if e.StopReason == events.StopReasonInterrupted && m.device != nil {
			m.device.ClearBuffer()
		}
	}

	lines, speech := m.view.Feed(event)
	if speech != nil && m.device != nil {
		if err := m.device.Play(speech.Audio, speech.EncodingInfo); err != nil {
			lines = append(lines, client.Line{Kind: client.LineError, Text: "playback: " + err.Error()})
		}
	}
	m.appendLines(lines...)
}

func (m *model) appendLines(lines ...client.Line) {
	if len(lines) == 0 {
		return
	}
	m.lines = append(m.lines, lines...)
	m.refresh()
}

func (m *model) refresh() {
	if !m.ready {
		return
	}
	rendered := make([]string, 0, len(m.lines))
	for _, line := range m.lines {
		rendered = append(rendered, renderLine(line, m.width))
	}
	m.viewport.SetContent(strings.Join(rendered, "\n"))
	m.viewport.GotoBottom()
}

func renderLine(line client.Line, width int) string {
	wrap := func(prefix int, text string) string {
		if width-prefix < 10 {
			return text
		}
		return wordwrap.String(text, width-prefix)
	}

	switch line.Kind {
	case client.LineUser:
		return userLabel.Render("You: ") + messageStyle.Render(wrap(5, line.Text))
	case client.LineAgent:
		return agentLabel.Render("Agent: ") + messageStyle.Render(wrap(7, line.Text))
	case client.LineTool:
		return toolStyle.Render(wrap(2, line.Text))
	case client.LineError:
		return errorStyle.Render(wrap(0, "Error: "+line.Text))
	}
	return infoStyle.Render(wrap(0, line.Text))
}

func (m *model) View() string {
	if !m.ready {
		return "Initializing..."
	}

	header := headerStyle.Render("bidiclient " + m.url)
	input := inputStyle.Width(max(m.width-2, 1)).Render(m.input.View())
	return lipgloss.JoinVertical(lipgloss.Left, header, m.viewport.View(), input, m.renderStatusBar())
}

func (m *model) renderStatusBar() string {
	style := statusStyle
	status := m.status
	if m.view.Responding() {
		style, status = statusBusyStyle, "Responding..."
	}
	mode := "text"
	if m.device != nil {
		mode = "audio"
	}

	left := style.Render(status + " (" + mode + ")")
	help := statusStyle.Render("Enter: send • PgUp/PgDn: scroll • Esc: quit")
	spacer := strings.Repeat(" ", max(m.width-lipgloss.Width(left)-lipgloss.Width(help), 0))
	return lipgloss.JoinHorizontal(lipgloss.Top, left, spacer, help)
}
