package ui

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/josystem/webhost/internal/hub"
)

func TestHeaderRender(t *testing.T) {
	out := NewHeader("Certificate provisioning", "webhost-cfg cert provision",
		map[string]string{"Store": "user", "Address": "10.0.0.5"}).SetWidth(80).Render()

	assert.Contains(t, out, "CERTIFICATE PROVISIONING")
	assert.Contains(t, out, "webhost-cfg cert provision")
	assert.Less(t, strings.Index(out, "Address:"), strings.Index(out, "Store:"), "params sorted")
}

func TestResultRender(t *testing.T) {
	ok := NewSuccessResult("Certificate ready", map[string]string{"Thumbprint": "AB12"}).SetWidth(80).Render()
	assert.Contains(t, ok, "SUCCESS")
	assert.Contains(t, ok, "AB12")

	fail := NewFailureResult("Provisioning failed", errors.New("no writable store"),
		[]string{"Check permissions"}).SetWidth(80).Render()
	assert.Contains(t, fail, "FAILED")
	assert.Contains(t, fail, "no writable store")
	assert.Contains(t, fail, "Check permissions")

	warn := NewWarningResult("Addresses changed", nil).AddDetail("Missing", "10.0.0.9").SetWidth(10).Render()
	assert.Contains(t, warn, "WARNING")
	assert.Contains(t, warn, "10.0.0.9")
}

func TestConfirm(t *testing.T) {
	tests := []struct {
		input string
		want  bool
	}{
		{"yes\n", true},
		{"YES\n", true},
		{"  yes  \n", true},
		{"no\n", false},
		{"", false},
		{"yes", true},
	}
	for _, tt := range tests {
		var out bytes.Buffer
		p := NewPrinter(&out)
		got := p.Confirm(strings.NewReader(tt.input), "Prune certificates", []string{"removes 2 certificates"})
		assert.Equal(t, tt.want, got, "input %q", tt.input)
		assert.Contains(t, out.String(), "removes 2 certificates")
	}
}

func TestPrinter(t *testing.T) {
	var out bytes.Buffer
	p := NewPrinter(&out)
	p.PrintSuccess("Saved", map[string]string{"Path": "/tmp/config.yaml"})
	p.PrintError("Failed", errors.New("boom"), nil)
	assert.Contains(t, out.String(), "/tmp/config.yaml")
	assert.Contains(t, out.String(), "boom")
	assert.Equal(t, &out, p.Writer())
}

func eventJSON(t *testing.T, ev hub.Event) []byte {
	t.Helper()
	b, err := json.Marshal(ev)
	require.NoError(t, err)
	return b
}

func TestFormatEvent(t *testing.T) {
	now := time.Date(2026, 3, 4, 10, 11, 12, 0, time.Local)

	tests := []struct {
		name string
		ev   hub.Event
		want string
	}{
		{"heartbeat", hub.HeartbeatEvent(now), "10:11:12 heartbeat"},
		{"running", hub.StatusEvent(hub.ServerStatus{Running: true, Port: 5000}, now), "10:11:12 serverStatus running port=5000"},
		{"https", hub.StatusEvent(hub.ServerStatus{Running: false, Port: 5000, EnableHTTPS: true, HTTPSPort: 5001, RootPath: "/srv"}, now),
			"10:11:12 serverStatus stopped port=5000 https=5001 root=/srv"},
		{"files", hub.FilesChangedEvent(hub.ReasonWatcher, now), "10:11:12 filesChanged watcher"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, FormatEvent(eventJSON(t, tt.ev), false))
		})
	}

	assert.Equal(t, "? not json", FormatEvent([]byte("not json"), false))
}

func TestMonitorModel(t *testing.T) {
	now := time.Now()
	m := NewMonitorModel(nil)

	next, _ := m.Update(connectedMsg{})
	m = next.(MonitorModel)
	assert.True(t, m.connected)
	assert.Contains(t, m.View(), "connected")

	next, _ = m.Update(eventMsg{data: eventJSON(t, hub.StatusEvent(hub.ServerStatus{Running: true, Port: 5000}, now))})
	m = next.(MonitorModel)
	next, _ = m.Update(eventMsg{data: eventJSON(t, hub.HeartbeatEvent(now))})
	m = next.(MonitorModel)

	require.NotNil(t, m.status)
	assert.Equal(t, 5000, m.status.Port)
	assert.Equal(t, 1, m.counts[hub.TypeHeartbeat])
	assert.Len(t, m.lines, 2)
	assert.Contains(t, m.View(), "host running on 5000")

	next, _ = m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("c")})
	m = next.(MonitorModel)
	assert.Empty(t, m.lines)

	next, _ = m.Update(disconnectedMsg{err: errors.New("connection reset")})
	m = next.(MonitorModel)
	assert.True(t, m.ended)
	assert.Contains(t, m.View(), "disconnected")
	assert.Contains(t, m.View(), "connection reset")

	_, cmd := m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("q")})
	require.NotNil(t, cmd)
	assert.Equal(t, tea.Quit(), cmd())
}

func TestMonitorScrollbackBounded(t *testing.T) {
	m := NewMonitorModel(nil)
	hb := eventJSON(t, hub.HeartbeatEvent(time.Now()))
	for i := 0; i < maxMonitorLines+20; i++ {
		m.record(hb)
	}
	assert.Len(t, m.lines, maxMonitorLines)
}
