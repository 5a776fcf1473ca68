package session

import (
	"testing"
	"time"

	"assistnerd-mcp-server/internal/browser"
	"assistnerd-mcp-server/internal/engine"
	"assistnerd-mcp-server/internal/facts"
	"assistnerd-mcp-server/internal/observer"
	"assistnerd-mcp-server/internal/relay"
)

func startedCoordinator(t *testing.T, opts Options) *Coordinator {
	t.Helper()
	c := New(opts)
	if err := c.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	t.Cleanup(c.Stop)
	return c
}

func ms(v int64) float64 { return float64(v) }

func TestClickEventsFeedTracker(t *testing.T) {
	c := startedCoordinator(t, Options{})
	c.OnNavigation("https://app.qase.io/case/12")

	base := time.Now().UnixMilli()
	for i := 0; i < 3; i++ {
		c.OnRawEvent(browser.RawEvent{
			Type:    "click",
			Element: "#save",
			TS:      ms(base + int64(i)*100),
		})
	}

	snap := c.Snapshot()
	if snap.Stats.Clicks != 3 {
		t.Errorf("clicks = %d, want 3", snap.Stats.Clicks)
	}
	if snap.Stats.RapidClicks != 1 {
		t.Errorf("rapid clicks = %d, want 1", snap.Stats.RapidClicks)
	}
	if snap.URL != "https://app.qase.io/case/12" {
		t.Errorf("snapshot url = %q", snap.URL)
	}
}

func TestNavigationSetsContext(t *testing.T) {
	c := startedCoordinator(t, Options{})
	c.OnNavigation("https://app.qase.io/plan/3")

	snap := c.Snapshot()
	if snap.Stats.PageViews != 1 {
		t.Errorf("page views = %d, want 1", snap.Stats.PageViews)
	}
	if string(snap.PageContext) != "test_plans" {
		t.Errorf("page context = %q, want test_plans", snap.PageContext)
	}
}

func TestKeyActivityResetsHesitation(t *testing.T) {
	c := startedCoordinator(t, Options{})

	c.mu.Lock()
	prev := c.hesitation
	c.mu.Unlock()
	if prev == nil {
		t.Fatal("no idle timer after Start")
	}

	c.OnRawEvent(browser.RawEvent{Type: "keydown", TS: ms(time.Now().UnixMilli())})

	c.mu.Lock()
	cur := c.hesitation
	c.mu.Unlock()
	if cur == prev {
		t.Error("keydown did not reschedule the idle timer")
	}
	if got := c.Snapshot().Stats.Hesitations; got != 0 {
		t.Errorf("hesitations = %d, want 0", got)
	}
}

func TestEventsIgnoredBeforeStart(t *testing.T) {
	c := New(Options{})
	c.OnRawEvent(browser.RawEvent{Type: "click", Element: "#x"})
	c.OnNavigation("https://app.qase.io/")

	if snap := c.Snapshot(); snap.Stats.Clicks != 0 || snap.Stats.PageViews != 0 {
		t.Errorf("stats before Start = %+v, want zero", snap.Stats)
	}
}

// driveDistress pushes enough rapid clicks and form abandonments through
// the coordinator to clear the offer threshold on the next sample.
func driveDistress(c *Coordinator) {
	base := time.Now().Add(-time.Minute).UnixMilli()

	// Two rapid-click bursts, separated by a long gap.
	for burst := 0; burst < 2; burst++ {
		start := base + int64(burst)*10000
		for i := 0; i < 3; i++ {
			c.OnRawEvent(browser.RawEvent{
				Type: "click", Element: "#submit",
				TS: ms(start + int64(i)*100),
			})
		}
	}

	// Two abandoned forms: interacted, held >2s, empty at blur.
	for i := 0; i < 2; i++ {
		start := base + 30000 + int64(i)*5000
		c.OnRawEvent(browser.RawEvent{Type: "form_focus", Field: "input.title", FieldType: "text", TS: ms(start)})
		c.OnRawEvent(browser.RawEvent{Type: "form_input", Field: "input.title", TS: ms(start + 100)})
		c.OnRawEvent(browser.RawEvent{Type: "form_blur", Field: "input.title", Empty: true, TS: ms(start + 2500)})
	}
}

func TestSampleDispatchesOffer(t *testing.T) {
	r := relay.New(nil, nil, nil)
	c := startedCoordinator(t, Options{Relay: r})
	c.OnNavigation("https://app.qase.io/defect/1")

	driveDistress(c)
	c.sample()

	pending := r.Pending()
	if len(pending) != 1 {
		t.Fatalf("pending offers = %d, want 1", len(pending))
	}
	if pending[0].Score < engine.HelpThreshold {
		t.Errorf("offer score = %v, want >= %v", pending[0].Score, engine.HelpThreshold)
	}
	if hist := c.AnalysisHistory(); len(hist) != 1 || !hist[0].Triggered {
		t.Errorf("analysis history = %+v, want one triggered record", hist)
	}
}

func TestSampleSkipsQuietSession(t *testing.T) {
	r := relay.New(nil, nil, nil)
	c := startedCoordinator(t, Options{Relay: r})
	c.OnNavigation("https://app.qase.io/project")

	c.OnRawEvent(browser.RawEvent{Type: "click", Element: "#nav", TS: ms(time.Now().UnixMilli())})
	c.sample()

	if got := r.Pending(); len(got) != 0 {
		t.Errorf("pending offers = %v, want none", got)
	}
	if hist := c.AnalysisHistory(); len(hist) != 0 {
		t.Errorf("analysis history = %v, want empty (gate closed)", hist)
	}
}

func TestDismissalFeedsEngineCooldown(t *testing.T) {
	r := relay.New(nil, nil, nil)
	c := startedCoordinator(t, Options{Relay: r})
	c.OnNavigation("https://app.qase.io/defect/1")

	driveDistress(c)
	c.sample()

	pending := r.Pending()
	if len(pending) != 1 {
		t.Fatalf("pending offers = %d, want 1", len(pending))
	}
	if err := c.ResolveOffer(pending[0].ID, engine.StatusDismissed); err != nil {
		t.Fatalf("ResolveOffer failed: %v", err)
	}

	if c.EngineStats().LastDismissalTime.IsZero() {
		t.Error("dismissal did not reach the engine")
	}

	// Another distressed sample inside the dismissal window stays quiet.
	driveDistress(c)
	c.sample()
	if got := r.Pending(); len(got) != 0 {
		t.Errorf("pending offers after dismissal = %v, want none", got)
	}
}

func TestAnomalyFlow(t *testing.T) {
	fs, err := facts.NewStore(100, nil)
	if err != nil {
		t.Fatalf("facts store: %v", err)
	}
	r := relay.New(nil, nil, nil)
	c := startedCoordinator(t, Options{Relay: r, Facts: fs})
	c.OnNavigation("https://app.qase.io/run/7")

	c.OnRawEvent(browser.RawEvent{
		Type: "node_report",
		Nodes: []observer.NodeReport{
			{Element: ".toast", Tag: "div", Classes: "error-message", Text: "Failed to save run"},
		},
		TS: ms(time.Now().UnixMilli()),
	})

	got := fs.ByPredicate("page_anomaly")
	if len(got) != 1 {
		t.Fatalf("page_anomaly facts = %d, want 1", len(got))
	}
	if kind, ok := got[0].Args[0].(string); !ok || kind != string(observer.KindUIError) {
		t.Errorf("anomaly kind = %v, want %q", got[0].Args[0], observer.KindUIError)
	}
}

func TestResetActivity(t *testing.T) {
	c := startedCoordinator(t, Options{})
	c.OnNavigation("https://app.qase.io/case/5")
	c.OnRawEvent(browser.RawEvent{Type: "click", Element: "#a", TS: ms(time.Now().UnixMilli())})

	c.ResetActivity()
	if snap := c.Snapshot(); snap.Stats.Clicks != 0 {
		t.Errorf("clicks after reset = %d, want 0", snap.Stats.Clicks)
	}
}
