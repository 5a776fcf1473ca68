package mcp

import (
	"context"
	"fmt"

	"assistnerd-mcp-server/internal/browser"
	"assistnerd-mcp-server/internal/session"
)

// ConnectBrowserTool attaches to a running Chrome or launches one.
type ConnectBrowserTool struct {
	monitor *browser.Monitor
}

func (t *ConnectBrowserTool) Name() string { return "connect-browser" }
func (t *ConnectBrowserTool) Description() string {
	return `Connect to Chrome for behavioral monitoring.

CALL THIS FIRST before watch-app.

WHAT IT DOES:
- Attaches to an existing debugger endpoint if one is configured and healthy
- Otherwise launches Chrome with the configured flags

WHEN TO USE:
- Starting a monitoring session
- After shutdown-browser to reconnect
- Idempotent: safe to call if already connected

Returns: {status: "connected"|"already_connected"}`
}
func (t *ConnectBrowserTool) InputSchema() map[string]interface{} {
	return map[string]interface{}{
		"type":       "object",
		"properties": map[string]interface{}{},
	}
}
func (t *ConnectBrowserTool) Execute(ctx context.Context, _ map[string]interface{}) (interface{}, error) {
	if t.monitor == nil {
		return nil, fmt.Errorf("browser monitor unavailable")
	}
	if t.monitor.IsConnected() {
		return map[string]interface{}{"status": "already_connected"}, nil
	}
	if err := t.monitor.Start(ctx); err != nil {
		return nil, err
	}
	return map[string]interface{}{"status": "connected"}, nil
}

// ShutdownBrowserTool disconnects from Chrome and stops the event pump.
type ShutdownBrowserTool struct {
	monitor *browser.Monitor
}

func (t *ShutdownBrowserTool) Name() string { return "shutdown-browser" }
func (t *ShutdownBrowserTool) Description() string {
	return `Disconnect from Chrome and stop monitoring.

WHEN TO USE:
- End of a monitoring session to release resources
- Before reconnecting with different settings

WHAT IT DOES:
- Stops the probe event pump
- Detaches from the browser (launched instances are closed)

NOTE: Activity stats, analysis history, and the fact buffer persist
after shutdown. Use reset-activity to clear behavioral counters.`
}
func (t *ShutdownBrowserTool) InputSchema() map[string]interface{} {
	return map[string]interface{}{
		"type":       "object",
		"properties": map[string]interface{}{},
	}
}
func (t *ShutdownBrowserTool) Execute(_ context.Context, _ map[string]interface{}) (interface{}, error) {
	if t.monitor == nil {
		return nil, fmt.Errorf("browser monitor unavailable")
	}
	if err := t.monitor.Shutdown(); err != nil {
		return nil, err
	}
	return map[string]interface{}{"status": "stopped"}, nil
}

// WatchAppTool injects the probe into the app page and starts draining events.
type WatchAppTool struct {
	monitor *browser.Monitor
}

func (t *WatchAppTool) Name() string { return "watch-app" }
func (t *WatchAppTool) Description() string {
	return `Start watching the Qase app page for behavioral signals.

PREREQUISITE: connect-browser must have succeeded.

WHAT IT DOES:
- Finds an open tab on the configured app host (or opens one at url)
- Injects the observation probe (clicks, forms, errors, DOM changes)
- Starts the event pump feeding the session coordinator

WHEN TO USE:
- After connecting, to begin a monitoring session
- After navigation to a different app instance

Returns: {status: "watching", url}`
}
func (t *WatchAppTool) InputSchema() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"url": map[string]interface{}{
				"type":        "string",
				"description": "Optional app URL to open if no matching tab exists",
			},
		},
	}
}
func (t *WatchAppTool) Execute(ctx context.Context, args map[string]interface{}) (interface{}, error) {
	if t.monitor == nil {
		return nil, fmt.Errorf("browser monitor unavailable")
	}
	if !t.monitor.IsConnected() {
		return nil, fmt.Errorf("not connected to a browser; call connect-browser first")
	}

	url, err := t.monitor.Watch(ctx, getStringArg(args, "url"))
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{
		"status": "watching",
		"url":    url,
	}, nil
}

// UnwatchAppTool stops the probe without disconnecting from the browser.
type UnwatchAppTool struct {
	monitor *browser.Monitor
}

func (t *UnwatchAppTool) Name() string { return "unwatch-app" }
func (t *UnwatchAppTool) Description() string {
	return `Stop watching the current app page.

The browser connection stays up; call watch-app to resume.
Accumulated activity stats are kept.`
}
func (t *UnwatchAppTool) InputSchema() map[string]interface{} {
	return map[string]interface{}{
		"type":       "object",
		"properties": map[string]interface{}{},
	}
}
func (t *UnwatchAppTool) Execute(_ context.Context, _ map[string]interface{}) (interface{}, error) {
	if t.monitor == nil {
		return nil, fmt.Errorf("browser monitor unavailable")
	}
	t.monitor.Unwatch()
	return map[string]interface{}{"status": "stopped"}, nil
}

// MonitorStatusTool reports connection and session state.
type MonitorStatusTool struct {
	monitor *browser.Monitor
	coord   *session.Coordinator
}

func (t *MonitorStatusTool) Name() string { return "monitor-status" }
func (t *MonitorStatusTool) Description() string {
	return `Report the current monitoring state.

Returns: {connected, watching, url, session_id}`
}
func (t *MonitorStatusTool) InputSchema() map[string]interface{} {
	return map[string]interface{}{
		"type":       "object",
		"properties": map[string]interface{}{},
	}
}
func (t *MonitorStatusTool) Execute(_ context.Context, _ map[string]interface{}) (interface{}, error) {
	out := map[string]interface{}{
		"connected":  false,
		"watching":   false,
		"url":        "",
		"session_id": t.coord.SessionID(),
	}
	if t.monitor != nil {
		out["connected"] = t.monitor.IsConnected()
		out["watching"] = t.monitor.IsWatching()
		out["url"] = t.monitor.CurrentURL()
	}
	return out, nil
}
