// Package browser attaches to a Chrome instance over the DevTools
// protocol, injects the monitoring probe into the target page, and
// pumps the probe's raw events into the session layer.
package browser

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"assistnerd-mcp-server/internal/config"
	"assistnerd-mcp-server/internal/observer"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/launcher/flags"
	"github.com/go-rod/rod/lib/proto"
	"go.uber.org/zap"
)

const drainInterval = 500 * time.Millisecond

// RawEvent is one probe event, uninterpreted.
type RawEvent struct {
	Type      string                `json:"type"`
	Element   string                `json:"element,omitempty"`
	X         float64               `json:"x,omitempty"`
	Y         float64               `json:"y,omitempty"`
	Field     string                `json:"field,omitempty"`
	FieldType string                `json:"fieldType,omitempty"`
	Empty     bool                  `json:"empty,omitempty"`
	Message   string                `json:"message,omitempty"`
	Stack     string                `json:"stack,omitempty"`
	URL       string                `json:"url,omitempty"`
	Back      bool                  `json:"back,omitempty"`
	Nodes     []observer.NodeReport `json:"nodes,omitempty"`
	TS        float64               `json:"ts,omitempty"`
}

// Timestamp converts the probe's millisecond clock.
func (e RawEvent) Timestamp() time.Time {
	if e.TS == 0 {
		return time.Now()
	}
	return time.UnixMilli(int64(e.TS))
}

// EventSink receives probe events and navigation notifications. Calls
// arrive from the pump goroutine.
type EventSink interface {
	OnRawEvent(ev RawEvent)
	OnNavigation(url string)
}

// Monitor owns the Chrome connection and the single monitored page.
type Monitor struct {
	cfg    config.BrowserConfig
	sink   EventSink
	logger *zap.Logger

	mu         sync.RWMutex
	browser    *rod.Browser
	page       *rod.Page
	controlURL string
	cancelPump context.CancelFunc
}

// NewMonitor creates a monitor. The sink must be non-nil before Watch
// is called.
func NewMonitor(cfg config.BrowserConfig, sink EventSink, logger *zap.Logger) *Monitor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Monitor{cfg: cfg, sink: sink, logger: logger}
}

// Start connects to an existing Chrome or launches a new one using
// Rod's launcher.
func (m *Monitor) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.browser != nil {
		if _, err := m.browser.Version(); err == nil {
			return nil
		}
		m.logger.Warn("stale browser connection, reconnecting")
		_ = m.browser.Close()
		m.browser = nil
		m.controlURL = ""
	}

	controlURL := m.cfg.DebuggerURL
	if controlURL == "" && len(m.cfg.Launch) > 0 {
		bin := m.cfg.Launch[0]
		launch := launcher.New().Bin(bin).Headless(m.cfg.IsHeadless())
		for _, rawFlag := range m.cfg.Launch[1:] {
			flagStr := strings.TrimLeft(rawFlag, "-")
			name, val, hasVal := strings.Cut(flagStr, "=")
			if hasVal {
				launch = launch.Set(flags.Flag(name), val)
			} else {
				launch = launch.Set(flags.Flag(name))
			}
		}
		u, err := launch.Launch()
		if err != nil {
			return fmt.Errorf("launch chrome: %w", err)
		}
		controlURL = u
	}

	if controlURL == "" {
		return errors.New("no debugger_url or launch command provided")
	}

	browser := rod.New().ControlURL(controlURL).Context(ctx)
	if err := browser.Connect(); err != nil {
		return fmt.Errorf("connect to chrome: %w", err)
	}

	m.browser = browser
	m.controlURL = controlURL
	m.logger.Info("browser connected", zap.String("control_url", controlURL))
	return nil
}

// IsConnected reports whether the browser connection is live.
func (m *Monitor) IsConnected() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.browser != nil
}

// IsWatching reports whether a page is currently monitored.
func (m *Monitor) IsWatching() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.page != nil
}

// Watch finds the application page among open targets (or opens one at
// appURL when none matches), injects the probe, and starts the pump.
func (m *Monitor) Watch(ctx context.Context, appURL string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.browser == nil {
		return "", errors.New("browser not connected")
	}
	if m.page != nil {
		return m.pageURL(), nil
	}

	page, err := m.findAppPage(appURL)
	if err != nil {
		return "", err
	}
	if page == nil {
		page, err = m.browser.Page(proto.TargetCreateTarget{URL: appURL})
		if err != nil {
			return "", fmt.Errorf("open page: %w", err)
		}
		_ = page.Timeout(m.cfg.AttachTimeout()).WaitLoad()
	}

	// Re-inject on every document so the probe survives reloads.
	// EvalOnNewDocument takes a raw script, so the probe function is
	// self-invoked there; Evaluate calls it as a function.
	if _, err := page.EvalOnNewDocument("(" + probeJS + ")()"); err != nil {
		return "", fmt.Errorf("install probe: %w", err)
	}
	if _, err := page.Evaluate(&rod.EvalOptions{JS: probeJS, ByValue: true, AwaitPromise: true}); err != nil {
		return "", fmt.Errorf("inject probe: %w", err)
	}

	pumpCtx, cancel := context.WithCancel(ctx)
	m.page = page
	m.cancelPump = cancel
	go m.pump(pumpCtx, page)

	u := m.pageURL()
	m.logger.Info("page monitoring started", zap.String("url", u))
	return u, nil
}

// Unwatch stops the pump and releases the page without closing it.
func (m *Monitor) Unwatch() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.cancelPump != nil {
		m.cancelPump()
		m.cancelPump = nil
	}
	m.page = nil
}

// Shutdown stops monitoring and closes the browser connection.
func (m *Monitor) Shutdown() error {
	m.Unwatch()

	m.mu.Lock()
	defer m.mu.Unlock()

	var err error
	if m.browser != nil {
		err = m.browser.Close()
		m.browser = nil
	}
	m.controlURL = ""
	m.logger.Info("browser shutdown complete")
	return err
}

// Present reports whether an element matching the selector still
// exists in the monitored page. Used for loading-indicator sweeps.
func (m *Monitor) Present(ctx context.Context, selector string) bool {
	m.mu.RLock()
	page := m.page
	m.mu.RUnlock()

	if page == nil || selector == "" {
		return false
	}
	res, err := page.Context(ctx).Evaluate(&rod.EvalOptions{
		JS:      `(sel) => { try { return !!document.querySelector(sel); } catch (e) { return false; } }`,
		JSArgs:  []interface{}{selector},
		ByValue: true,
	})
	if err != nil || res == nil {
		return false
	}
	return res.Value.Bool()
}

// CurrentURL returns the monitored page's URL, or empty when idle.
func (m *Monitor) CurrentURL() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.pageURL()
}

func (m *Monitor) pageURL() string {
	if m.page == nil {
		return ""
	}
	info, err := m.page.Info()
	if err != nil {
		return ""
	}
	return info.URL
}

// findAppPage scans open targets for one on the configured app host.
func (m *Monitor) findAppPage(appURL string) (*rod.Page, error) {
	pages, err := m.browser.Pages()
	if err != nil {
		return nil, fmt.Errorf("list pages: %w", err)
	}

	wantHost := m.cfg.AppHost
	if wantHost == "" {
		if u, err := url.Parse(appURL); err == nil {
			wantHost = u.Host
		}
	}
	if wantHost == "" {
		return nil, nil
	}

	for _, p := range pages {
		info, err := p.Info()
		if err != nil {
			continue
		}
		u, err := url.Parse(info.URL)
		if err != nil {
			continue
		}
		if u.Host == wantHost {
			return p, nil
		}
	}
	return nil, nil
}

// pump drains the probe buffer on a short interval and forwards
// navigation events from CDP.
func (m *Monitor) pump(ctx context.Context, page *rod.Page) {
	waitNav := page.Context(ctx).EachEvent(func(ev *proto.PageFrameNavigated) {
		if m.sink != nil {
			m.sink.OnNavigation(ev.Frame.URL)
		}
	})
	go waitNav()

	ticker := time.NewTicker(drainInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.drain(ctx, page)
		}
	}
}

func (m *Monitor) drain(ctx context.Context, page *rod.Page) {
	res, err := page.Context(ctx).Evaluate(&rod.EvalOptions{
		JS:           drainJS,
		ByValue:      true,
		AwaitPromise: true,
	})
	if err != nil || res == nil || res.Value.Nil() {
		return
	}

	raw, err := res.Value.MarshalJSON()
	if err != nil {
		return
	}
	var events []RawEvent
	if err := json.Unmarshal(raw, &events); err != nil {
		m.logger.Debug("probe buffer decode failed", zap.Error(err))
		return
	}

	if m.sink == nil {
		return
	}
	for _, ev := range events {
		m.sink.OnRawEvent(ev)
	}
}
