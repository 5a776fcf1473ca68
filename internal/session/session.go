// Package session coordinates one monitoring session: raw probe events
// come in, behavioral signals and anomalies are derived, and the engine
// decides when a help offer goes out. All state mutation is serialized
// through the coordinator's mutex.
package session

import (
	"context"
	"sync"
	"time"

	"assistnerd-mcp-server/internal/activity"
	"assistnerd-mcp-server/internal/browser"
	"assistnerd-mcp-server/internal/engine"
	"assistnerd-mcp-server/internal/facts"
	"assistnerd-mcp-server/internal/observer"
	"assistnerd-mcp-server/internal/recorder"
	"assistnerd-mcp-server/internal/relay"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

const presenceTimeout = 2 * time.Second

// Presence checks whether an element is still attached to the page.
type Presence interface {
	Present(ctx context.Context, selector string) bool
}

// Options wires the coordinator's collaborators. Relay is required;
// Facts, Recorder, and Presence may be nil.
type Options struct {
	Logger   *zap.Logger
	Relay    *relay.Relay
	Facts    *facts.Store
	Recorder *recorder.Recorder
	Presence Presence
}

// Coordinator owns the per-session state machine.
type Coordinator struct {
	logger   *zap.Logger
	relay    *relay.Relay
	facts    *facts.Store
	recorder *recorder.Recorder
	presence Presence

	mu         sync.Mutex
	tracker    *activity.Tracker
	obs        *observer.Observer
	eng        *engine.Engine
	cron       *cron.Cron
	hesitation *time.Timer
	sessionID  string
	started    bool
}

// sinkAdapter lets the observer call back into the coordinator. The
// observer only runs while the coordinator's mutex is held, so the
// handlers must not lock again.
type sinkAdapter struct{ c *Coordinator }

func (s sinkAdapter) OnAnomaly(a observer.Anomaly) { s.c.handleAnomalyLocked(a) }

func (s sinkAdapter) OnEmptyState(e observer.EmptyState) { s.c.handleEmptyStateLocked(e) }

// New creates a coordinator. Start must be called before events arrive.
func New(opts Options) *Coordinator {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	c := &Coordinator{
		logger:   logger,
		relay:    opts.Relay,
		facts:    opts.Facts,
		recorder: opts.Recorder,
		presence: opts.Presence,
	}

	now := time.Now()
	c.tracker = activity.NewTracker(logger, now)
	c.obs = observer.New(logger, sinkAdapter{c})
	c.eng = engine.New(logger)

	if c.relay != nil {
		c.relay.Dismissals = c.recordDismissal
	}
	return c
}

// Start begins the periodic jobs and opens a trace.
func (c *Coordinator) Start() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.started {
		return nil
	}

	c.sessionID = uuid.NewString()
	if c.recorder != nil {
		if err := c.recorder.Start(c.sessionID); err != nil {
			c.logger.Warn("trace recording unavailable", zap.Error(err))
		}
	}

	c.cron = cron.New()
	c.cron.AddFunc("@every 10s", c.sample)
	c.cron.AddFunc("@every 3s", c.sweep)
	if c.relay != nil {
		c.cron.AddFunc("@every 10m", c.cleanup)
	}
	c.cron.Start()

	c.started = true
	c.logger.Info("session started", zap.String("session_id", c.sessionID))
	return nil
}

// Stop halts the jobs and closes the trace.
func (c *Coordinator) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.started {
		return
	}
	c.cron.Stop()
	if c.hesitation != nil {
		c.hesitation.Stop()
		c.hesitation = nil
	}
	if c.recorder != nil {
		_ = c.recorder.Close()
	}
	c.started = false
	c.logger.Info("session stopped", zap.String("session_id", c.sessionID))
}

// SetPresence installs the page presence checker used by stuck-loading
// sweeps. Call before Start.
func (c *Coordinator) SetPresence(p Presence) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.presence = p
}

// SessionID returns the current session's identifier.
func (c *Coordinator) SessionID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sessionID
}

// OnRawEvent implements browser.EventSink.
func (c *Coordinator) OnRawEvent(ev browser.RawEvent) {
	defer c.recovered("raw event")

	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.started {
		return
	}

	now := ev.Timestamp()
	url := c.tracker.URL()
	pageCtx := c.tracker.Context()

	switch ev.Type {
	case "click":
		before := c.tracker.Stats()
		c.tracker.RecordClick(ev.Element, now, ev.X, ev.Y)
		c.assertDeltasLocked(before, ev.Element, url)
		c.resetHesitationLocked()

	case "form_focus":
		c.tracker.RecordFormFocus(ev.Field, ev.FieldType, now)
		c.resetHesitationLocked()

	case "form_input":
		c.tracker.RecordFormInput()
		c.resetHesitationLocked()

	case "form_blur":
		before := c.tracker.Stats()
		c.tracker.RecordFormBlur(ev.Field, ev.Empty, now)
		c.assertDeltasLocked(before, ev.Field, url)

	case "escape":
		c.tracker.RecordEscape(now)
		c.resetHesitationLocked()

	case "keydown", "mousemove":
		c.resetHesitationLocked()

	case "navigation":
		if ev.Back {
			c.tracker.RecordNavigation(now)
			c.assertSignalLocked("back_navigation", "", ev.URL)
		}

	case "script_error":
		c.obs.OnScriptError(observer.KindJavaScriptError, ev.Message, ev.Stack, url, pageCtx, now)

	case "promise_rejection":
		c.obs.OnScriptError(observer.KindPromiseRejection, ev.Message, ev.Stack, url, pageCtx, now)

	case "console_error":
		c.obs.OnScriptError(observer.KindConsoleError, ev.Message, "", url, pageCtx, now)

	case "node_report":
		c.obs.OnStructuralChange(ev.Nodes, url, pageCtx, now)

	default:
		c.logger.Debug("unknown probe event", zap.String("type", ev.Type))
	}

	if c.recorder != nil && ev.Type != "mousemove" && ev.Type != "keydown" {
		c.recorder.Log(recorder.EventActivity, ev)
	}
}

// OnNavigation implements browser.EventSink.
func (c *Coordinator) OnNavigation(url string) {
	defer c.recovered("navigation")

	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.started {
		return
	}

	now := time.Now()
	c.tracker.RecordPageView(url, now)
	c.assertLocked(facts.Fact{
		Predicate: "page_visit",
		Args:      []any{url, string(c.tracker.Context())},
		Timestamp: now,
	})
	if c.recorder != nil {
		c.recorder.Log(recorder.EventNavigation, map[string]string{"url": url})
	}
	c.resetHesitationLocked()
}

// ResolveOffer marks a pending offer accepted or dismissed. Dismissals
// feed the engine's cooldown through the relay callback.
func (c *Coordinator) ResolveOffer(id string, status engine.OfferStatus) error {
	if c.relay == nil {
		return relay.ErrOfferNotFound
	}
	err := c.relay.Resolve(id, status, time.Now())
	if err != nil {
		return err
	}
	if status == engine.StatusDismissed {
		c.mu.Lock()
		c.assertLocked(facts.Fact{
			Predicate: "help_dismissed",
			Args:      []any{id},
			Timestamp: time.Now(),
		})
		c.mu.Unlock()
	}
	if c.recorder != nil {
		c.recorder.Log(recorder.EventResolution, map[string]string{
			"offer_id": id,
			"status":   string(status),
		})
	}
	return nil
}

// Snapshot returns the current behavioral snapshot.
func (c *Coordinator) Snapshot() activity.Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.tracker.Snapshot(time.Now())
}

// Activities returns the buffered activity log.
func (c *Coordinator) Activities() []activity.Record {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.tracker.Activities()
}

// AnalysisHistory returns the engine's recorded analyses.
func (c *Coordinator) AnalysisHistory() []engine.AnalysisRecord {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.eng.History()
}

// EngineStats summarizes the engine's run.
func (c *Coordinator) EngineStats() engine.Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.eng.Stats()
}

// ResetActivity zeroes the behavioral counters and activity log.
func (c *Coordinator) ResetActivity() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tracker.Reset()
	c.logger.Info("activity counters reset")
}

// sample is the periodic analysis tick. A snapshot is only scored when
// the tracker's trigger gate passes.
func (c *Coordinator) sample() {
	defer c.recovered("sample")

	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.started || !c.tracker.ShouldTriggerAnalysis() {
		return
	}

	now := time.Now()
	snap := c.tracker.Snapshot(now)
	offer, ok := c.eng.Analyze(snap, now)

	if c.recorder != nil {
		c.recorder.Log(recorder.EventAnalysis, map[string]any{
			"stats":     snap.Stats,
			"triggered": ok,
		})
	}
	if ok {
		c.dispatchOfferLocked(*offer)
	}
}

// sweep walks tracked loading indicators for stuck ones.
func (c *Coordinator) sweep() {
	defer c.recovered("sweep")

	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.started {
		return
	}

	present := func(string) bool { return false }
	if c.presence != nil {
		present = func(selector string) bool {
			ctx, cancel := context.WithTimeout(context.Background(), presenceTimeout)
			defer cancel()
			return c.presence.Present(ctx, selector)
		}
	}
	c.obs.Sweep(c.tracker.URL(), c.tracker.Context(), time.Now(), present)
}

// cleanup expires stale help requests.
func (c *Coordinator) cleanup() {
	defer c.recovered("cleanup")
	c.relay.CleanupExpired(time.Now())
}

// resetHesitationLocked restarts the idle debounce. The timer fires
// once per idle stretch; any activity rearms it.
func (c *Coordinator) resetHesitationLocked() {
	if c.hesitation != nil {
		c.hesitation.Stop()
	}
	c.hesitation = time.AfterFunc(activity.HesitationDelay, c.fireHesitation)
}

func (c *Coordinator) fireHesitation() {
	defer c.recovered("hesitation")

	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.started {
		return
	}
	now := time.Now()
	c.tracker.RecordHesitation(now)
	c.assertSignalLocked("hesitation", "", c.tracker.URL())
}

// handleAnomalyLocked reacts to an observer anomaly: relay it, record
// it, and run an immediate engine pass over it.
func (c *Coordinator) handleAnomalyLocked(a observer.Anomaly) {
	c.logger.Info("page anomaly",
		zap.String("kind", string(a.Kind)),
		zap.String("classification", string(a.Classification)),
		zap.String("message", a.Message))

	if c.relay != nil {
		c.relay.DispatchAnomaly(a)
	}
	c.assertLocked(facts.Fact{
		Predicate: "page_anomaly",
		Args:      []any{string(a.Kind), string(a.Classification), a.URL},
		Timestamp: a.Timestamp,
	})
	if c.recorder != nil {
		c.recorder.Log(recorder.EventAnomaly, a)
	}

	if offer, ok := c.eng.AnalyzeAnomaly(a, a.Timestamp); ok {
		c.dispatchOfferLocked(*offer)
	}
}

func (c *Coordinator) handleEmptyStateLocked(e observer.EmptyState) {
	c.logger.Debug("empty state observed",
		zap.String("element", e.Element),
		zap.String("url", e.URL))
	if c.recorder != nil {
		c.recorder.Log(recorder.EventActivity, e)
	}
}

func (c *Coordinator) dispatchOfferLocked(offer engine.HelpOffer) {
	if c.relay != nil {
		c.relay.DispatchOffer(offer)
	}
	c.assertLocked(facts.Fact{
		Predicate: "help_offer",
		Args:      []any{offer.ID, offer.URL},
		Timestamp: offer.Timestamp,
	})
	if c.recorder != nil {
		c.recorder.Log(recorder.EventOffer, offer)
	}
}

// recordDismissal is the relay's dismissal callback.
func (c *Coordinator) recordDismissal(now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.eng.RecordDismissal(now)
}

// assertDeltasLocked compares counters around a tracker call and
// asserts a fact for each signal that fired.
func (c *Coordinator) assertDeltasLocked(before activity.Stats, element, url string) {
	after := c.tracker.Stats()
	if after.RapidClicks > before.RapidClicks {
		c.assertSignalLocked("rapid_click", element, url)
	}
	if after.RepeatedActions > before.RepeatedActions {
		c.assertSignalLocked("repeated_action", element, url)
	}
	if after.AbandonedForms > before.AbandonedForms {
		c.assertSignalLocked("form_abandonment", element, url)
	}
}

func (c *Coordinator) assertSignalLocked(kind, element, url string) {
	c.assertLocked(facts.Fact{
		Predicate: "behavioral_signal",
		Args:      []any{kind, element, url},
		Timestamp: time.Now(),
	})
}

func (c *Coordinator) assertLocked(f facts.Fact) {
	if c.facts == nil {
		return
	}
	if err := c.facts.Assert(context.Background(), f); err != nil {
		c.logger.Warn("fact assertion failed", zap.Error(err))
	}
}

// recovered keeps a panic in one event handler from killing the server.
func (c *Coordinator) recovered(where string) {
	if r := recover(); r != nil {
		c.logger.Error("recovered panic", zap.String("where", where), zap.Any("panic", r))
	}
}
