package ui

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/gorilla/websocket"

	"github.com/josystem/webhost/internal/hub"
)

// maxMonitorLines bounds the scrollback kept by the monitor.
const maxMonitorLines = 500

// refreshRequest is the client message asking every peer to reload.
var refreshRequest = []byte(`{"action":"requestRefresh"}`)

// Messages delivered to the monitor by its feed.
type (
	connectedMsg    struct{}
	eventMsg        struct{ data []byte }
	disconnectedMsg struct{ err error }
)

// Feed is a live WebSocket subscription to a host's /ws endpoint.
type Feed struct {
	URL  string
	conn *websocket.Conn
	msgs chan tea.Msg
}

// Dial connects to url, e.g. "ws://127.0.0.1:5000/ws". The dialer skips
// certificate checks when insecure is set, for self-signed hosts.
func Dial(ctx context.Context, url string, insecure bool) (*Feed, error) {
	dialer := *websocket.DefaultDialer
	if insecure {
		dialer.TLSClientConfig = &tls.Config{InsecureSkipVerify: true} //nolint:gosec // self-signed local hosts
	}
	conn, resp, err := dialer.DialContext(ctx, url, http.Header{"User-Agent": {"webhost-monitor"}})
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", url, err)
	}

	f := &Feed{URL: url, conn: conn, msgs: make(chan tea.Msg, 64)}
	go f.read()
	return f, nil
}

func (f *Feed) read() {
	f.msgs <- connectedMsg{}
	for {
		_, data, err := f.conn.ReadMessage()
		if err != nil {
			f.msgs <- disconnectedMsg{err: err}
			close(f.msgs)
			return
		}
		f.msgs <- eventMsg{data: data}
	}
}

// RequestRefresh asks the host to broadcast filesChanged.
func (f *Feed) RequestRefresh() error {
	return f.conn.WriteMessage(websocket.TextMessage, refreshRequest)
}

// Close ends the subscription.
func (f *Feed) Close() error {
	return f.conn.Close()
}

// next waits for the feed's next message.
func (f *Feed) next() tea.Msg {
	msg, ok := <-f.msgs
	if !ok {
		return disconnectedMsg{}
	}
	return msg
}

// Stream writes one plain line per event to w until the feed ends. It is
// the monitor used when stdout is not a terminal.
func (f *Feed) Stream(w io.Writer) error {
	for msg := range f.msgs {
		switch m := msg.(type) {
		case eventMsg:
			fmt.Fprintln(w, FormatEvent(m.data, false))
		case disconnectedMsg:
			if m.err != nil && !websocket.IsCloseError(m.err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return m.err
			}
		}
	}
	return nil
}

// FormatEvent renders one hub event as a single line.
func FormatEvent(data []byte, styled bool) string {
	ev, raw, err := hub.DecodeEvent(data)
	if err != nil {
		return "? " + strings.TrimSpace(string(data))
	}

	stamp := ev.Time
	if t, err := time.ParseInLocation(hub.TimeLayout, ev.Time, time.Local); err == nil {
		stamp = t.Format("15:04:05")
	}

	var body string
	style := lipgloss.NewStyle()
	switch ev.Type {
	case hub.TypeHeartbeat:
		body, style = "heartbeat", EventHeartbeatStyle
	case hub.TypeServerStatus:
		var s hub.ServerStatus
		_ = json.Unmarshal(raw, &s)
		state := "stopped"
		if s.Running {
			state = "running"
		}
		body = fmt.Sprintf("serverStatus %s port=%d", state, s.Port)
		if s.EnableHTTPS {
			body += fmt.Sprintf(" https=%d", s.HTTPSPort)
		}
		if s.RootPath != "" {
			body += " root=" + s.RootPath
		}
		style = EventStatusStyle
	case hub.TypeFilesChanged:
		var fc hub.FilesChanged
		_ = json.Unmarshal(raw, &fc)
		body, style = "filesChanged "+fc.Reason, EventFilesStyle
	default:
		body = ev.Type + " " + string(raw)
	}

	if !styled {
		return stamp + " " + body
	}
	return EventTimeStyle.Render(stamp) + " " + style.Render(body)
}

type monitorKeys struct {
	Refresh key.Binding
	Clear   key.Binding
	Quit    key.Binding
}

// MonitorModel is the live event view behind `webhost-cfg monitor`.
type MonitorModel struct {
	feed      *Feed
	url       string
	spinner   spinner.Model
	viewport  viewport.Model
	keys      monitorKeys
	lines     []string
	connected bool
	ended     bool
	err       error
	status    *hub.ServerStatus
	counts    map[string]int
	width     int
	height    int
}

// NewMonitorModel creates the monitor for an established feed.
func NewMonitorModel(feed *Feed) MonitorModel {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = lipgloss.NewStyle().Foreground(PrimaryColor)

	width, height := GetTerminalSize()
	m := MonitorModel{
		feed:    feed,
		spinner: s,
		keys: monitorKeys{
			Refresh: key.NewBinding(key.WithKeys("r"), key.WithHelp("r", "request refresh")),
			Clear:   key.NewBinding(key.WithKeys("c"), key.WithHelp("c", "clear")),
			Quit:    key.NewBinding(key.WithKeys("q", "esc", "ctrl+c"), key.WithHelp("q", "quit")),
		},
		counts: make(map[string]int),
	}
	if feed != nil {
		m.url = feed.URL
	}
	m.resize(width, height)
	return m
}

func (m *MonitorModel) resize(width, height int) {
	m.width, m.height = width, height
	vh := height - 6
	if vh < 3 {
		vh = 3
	}
	m.viewport = viewport.New(width, vh)
	m.viewport.SetContent(strings.Join(m.lines, "\n"))
	m.viewport.GotoBottom()
}

func (m MonitorModel) waitForFeed() tea.Cmd {
	if m.feed == nil {
		return nil
	}
	return m.feed.next
}

// Init implements tea.Model
func (m MonitorModel) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, m.waitForFeed())
}

// Update implements tea.Model
func (m MonitorModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmd tea.Cmd

	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch {
		case key.Matches(msg, m.keys.Quit):
			return m, tea.Quit
		case key.Matches(msg, m.keys.Refresh):
			if m.feed != nil && !m.ended {
				if err := m.feed.RequestRefresh(); err != nil {
					m.err = err
				}
			}
			return m, nil
		case key.Matches(msg, m.keys.Clear):
			m.lines = nil
			m.viewport.SetContent("")
			return m, nil
		}

	case tea.WindowSizeMsg:
		m.resize(clampWidth(msg.Width), msg.Height)
		return m, nil

	case connectedMsg:
		m.connected = true
		return m, m.waitForFeed()

	case eventMsg:
		m.record(msg.data)
		return m, m.waitForFeed()

	case disconnectedMsg:
		m.connected = false
		m.ended = true
		if msg.err != nil && !websocket.IsCloseError(msg.err, websocket.CloseNormalClosure) {
			m.err = msg.err
		}
		return m, nil

	case spinner.TickMsg:
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}

	m.viewport, cmd = m.viewport.Update(msg)
	return m, cmd
}

func (m *MonitorModel) record(data []byte) {
	ev, raw, err := hub.DecodeEvent(data)
	if err == nil {
		m.counts[ev.Type]++
		if ev.Type == hub.TypeServerStatus {
			var s hub.ServerStatus
			if json.Unmarshal(raw, &s) == nil {
				m.status = &s
			}
		}
	}

	m.lines = append(m.lines, FormatEvent(data, true))
	if len(m.lines) > maxMonitorLines {
		m.lines = m.lines[len(m.lines)-maxMonitorLines:]
	}
	m.viewport.SetContent(strings.Join(m.lines, "\n"))
	m.viewport.GotoBottom()
}

// View implements tea.Model
func (m MonitorModel) View() string {
	var header string
	switch {
	case m.ended:
		header = ErrorTitleStyle.Render(FailureMarker+" disconnected") + " " + EventTimeStyle.Render(m.url)
	case m.connected:
		header = SuccessTitleStyle.Render(RunningMarker+" connected") + " " + EventTimeStyle.Render(m.url)
	default:
		header = m.spinner.View() + " connecting to " + m.url
	}

	state := "host state unknown"
	if m.status != nil {
		if m.status.Running {
			state = fmt.Sprintf("host running on %d", m.status.Port)
		} else {
			state = "host stopping"
		}
	}
	summary := EventTimeStyle.Render(fmt.Sprintf("%s · heartbeats %d · status %d · files %d",
		state, m.counts[hub.TypeHeartbeat], m.counts[hub.TypeServerStatus], m.counts[hub.TypeFilesChanged]))

	footer := EventTimeStyle.Render("r refresh · c clear · q quit")
	if m.err != nil {
		footer = ErrorMessageStyle.Render("error: "+m.err.Error()) + "\n" + footer
	}

	return lipgloss.JoinVertical(lipgloss.Left,
		header,
		summary,
		RenderHorizontalDivider(m.width, "─"),
		m.viewport.View(),
		footer,
	)
}

// RunMonitor shows the live monitor until the user quits.
func RunMonitor(feed *Feed) error {
	_, err := tea.NewProgram(NewMonitorModel(feed), tea.WithAltScreen()).Run()
	return err
}
