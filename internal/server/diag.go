package server

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/josystem/webhost/internal/version"
)

const diagIndex = `<!DOCTYPE html>
<html>
<head><meta charset="utf-8"><title>WebHost diagnostics</title></head>
<body>
<h1>WebHost diagnostics</h1>
<ul>
<li><a href="/diag/openapi.json">openapi.json</a> - description of this host's HTTP surface</li>
<li><a href="/diag/status">status</a> - lifecycle state, listeners and connections</li>
<li><a href="/diag/metrics">metrics</a> - Prometheus metrics</li>
</ul>
</body>
</html>
`

// diagnostics serves everything under /diag/ once the gate has passed.
func (h *Host) diagnostics(c *gin.Context) {
	switch c.Param("path") {
	case "", "/":
		c.Data(http.StatusOK, ContentType(indexFile), []byte(diagIndex))
	case "/openapi.json":
		c.JSON(http.StatusOK, openAPIDocument())
	case "/status":
		c.JSON(http.StatusOK, h.StatusReport())
	case "/metrics":
		h.metrics.Handler().ServeHTTP(c.Writer, c.Request)
	default:
		c.String(http.StatusNotFound, "Not found")
	}
}

// StatusReport is the body of /diag/status.
type StatusReport struct {
	State       string         `json:"state"`
	Running     bool           `json:"running"`
	Version     string         `json:"version"`
	Listeners   []string       `json:"listeners"`
	Connections int            `json:"connections"`
	Heartbeat   bool           `json:"heartbeat"`
	TLS         map[string]any `json:"tls"`
}

// StatusReport snapshots the host for diagnostics.
func (h *Host) StatusReport() StatusReport {
	addrs := h.Addrs()
	listeners := make([]string, 0, len(addrs))
	for _, a := range addrs {
		listeners = append(listeners, a.String())
	}
	return StatusReport{
		State:       h.State().String(),
		Running:     h.Running(),
		Version:     version.Short(),
		Listeners:   listeners,
		Connections: h.hub.Count(),
		Heartbeat:   h.hub.HeartbeatRunning(),
		TLS:         TLSInfo(h.leaf.Load()),
	}
}

func openAPIDocument() map[string]any {
	text := func(desc string) map[string]any {
		return map[string]any{"description": desc, "content": map[string]any{"text/plain": map[string]any{}}}
	}
	jsonResp := func(desc string) map[string]any {
		return map[string]any{"description": desc, "content": map[string]any{"application/json": map[string]any{}}}
	}

	return map[string]any{
		"openapi": "3.0.3",
		"info": map[string]any{
			"title":   "WebHost",
			"version": version.Short(),
		},
		"paths": map[string]any{
			"/ws": map[string]any{
				"get": map[string]any{
					"summary": "WebSocket event stream (heartbeat, serverStatus, filesChanged)",
					"responses": map[string]any{
						"101": map[string]any{"description": "Switching protocols"},
						"400": text("Not a WebSocket upgrade"),
					},
				},
			},
			"/diag/status": map[string]any{
				"get": map[string]any{
					"summary": "Host state",
					"responses": map[string]any{
						"200": jsonResp("Status report"),
						"403": text("Diagnostics disabled or address not whitelisted"),
					},
				},
			},
			"/diag/metrics": map[string]any{
				"get": map[string]any{
					"summary": "Prometheus metrics",
					"responses": map[string]any{
						"200": text("Prometheus text format"),
						"403": text("Diagnostics disabled or address not whitelisted"),
					},
				},
			},
			"/{path}": map[string]any{
				"get": map[string]any{
					"summary": "Embedded front-end assets; unknown paths serve index.html",
					"responses": map[string]any{
						"200": map[string]any{"description": "Asset"},
						"401": jsonResp("Protected path without a login"),
					},
				},
			},
		},
	}
}
