// Package activity converts raw page events into rolling behavioral
// statistics and a bounded activity log, and produces the periodic
// snapshots consumed by the help decision engine.
package activity

import (
	"time"

	"assistnerd-mcp-server/internal/pagectx"

	"go.uber.org/zap"
)

// Kind labels an activity record.
type Kind string

const (
	KindPageView        Kind = "page_view"
	KindClick           Kind = "click"
	KindRapidClicks     Kind = "rapid_clicks"
	KindRepeatedAction  Kind = "repeated_action"
	KindFormFocus       Kind = "form_focus"
	KindFormAbandonment Kind = "form_abandonment"
	KindHesitation      Kind = "hesitation"
	KindEscapePressed   Kind = "escape_pressed"
	KindQuickBackNav    Kind = "quick_back_navigation"
)

// Detection thresholds. These mirror the in-page heuristics exactly; the
// engine's weights assume them.
const (
	RingCapacity        = 100
	SnapshotRecentCount = 20

	rapidClickGap      = 500 * time.Millisecond
	rapidClickBurst    = 3
	repeatedActionGap  = 3 * time.Second
	formAbandonMinHold = 2 * time.Second
	quickBackThreshold = 5 * time.Second

	// HesitationDelay is the debounce window: a hesitation fires when no
	// activity resets the timer for this long. The coordinator owns the
	// timer; the tracker only accounts for the firing.
	HesitationDelay = 5 * time.Second

	// SampleInterval is the cadence of the periodic snapshot check.
	SampleInterval = 10 * time.Second
)

// Stats holds the rolling behavioral counters. All counters are
// non-negative and monotonically increasing until Reset.
type Stats struct {
	PageViews        int `json:"page_views"`
	Clicks           int `json:"clicks"`
	RapidClicks      int `json:"rapid_clicks"`
	RepeatedActions  int `json:"repeated_actions"`
	FormInteractions int `json:"form_interactions"`
	AbandonedForms   int `json:"abandoned_forms"`
	Hesitations      int `json:"hesitations"`
	BackNavigations  int `json:"back_navigations"`
}

// Record is one entry in the activity log. Kind determines which of the
// optional fields are meaningful; unused fields stay at their zero value.
type Record struct {
	Kind        Kind            `json:"kind"`
	Timestamp   time.Time       `json:"timestamp"`
	URL         string          `json:"url"`
	PageContext pagectx.Context `json:"page_context"`

	// click / rapid_clicks / repeated_action
	Element    string        `json:"element,omitempty"`
	X          float64       `json:"x,omitempty"`
	Y          float64       `json:"y,omitempty"`
	BurstCount int           `json:"burst_count,omitempty"`
	Gap        time.Duration `json:"gap,omitempty"`

	// form_focus / form_abandonment
	Field     string        `json:"field,omitempty"`
	FieldType string        `json:"field_type,omitempty"`
	HeldFor   time.Duration `json:"held_for,omitempty"`

	// hesitation / quick_back_navigation
	Duration time.Duration `json:"duration,omitempty"`
}

// Snapshot is an immutable point-in-time copy of the tracker state handed
// to the decision engine.
type Snapshot struct {
	Stats            Stats           `json:"stats"`
	RecentActivities []Record        `json:"recent_activities"`
	SessionDuration  time.Duration   `json:"session_duration"`
	PageContext      pagectx.Context `json:"page_context"`
	URL              string          `json:"url"`

	// ErrorCount is nonzero only on synthetic snapshots built from an
	// anomaly; behavioral snapshots never carry it.
	ErrorCount int `json:"error_count"`
}

// Tracker owns the stats and the activity ring for one page session.
// It is not safe for concurrent use; the session coordinator serializes
// all calls.
type Tracker struct {
	logger *zap.Logger

	stats        Stats
	ring         *Ring[Record]
	sessionStart time.Time

	url string
	ctx pagectx.Context

	// click burst / repeat tracking
	lastClickTime    time.Time
	lastClickElement string
	clickCount       int

	// form session tracking
	focusedField   string
	formStart      time.Time
	formInteracted bool

	// navigation timing
	navStart time.Time
}

// NewTracker creates a tracker for a page session starting at start.
func NewTracker(logger *zap.Logger, start time.Time) *Tracker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Tracker{
		logger:       logger,
		ring:         NewRing[Record](RingCapacity),
		sessionStart: start,
		navStart:     start,
		ctx:          pagectx.Unknown,
	}
}

// SetLocation updates the tracked URL and derived page context.
func (t *Tracker) SetLocation(url string) {
	t.url = url
	t.ctx = pagectx.ResolveURL(url)
}

// Context returns the current page context.
func (t *Tracker) Context() pagectx.Context { return t.ctx }

// URL returns the current page URL.
func (t *Tracker) URL() string { return t.url }

// RecordPageView counts a page view and logs it.
func (t *Tracker) RecordPageView(url string, now time.Time) {
	t.SetLocation(url)
	t.stats.PageViews++
	t.append(Record{Kind: KindPageView, Timestamp: now})
}

// RecordClick counts a click and runs rapid-click and repeated-action
// detection. The two detectors are independent: a single click may trip
// both.
func (t *Tracker) RecordClick(element string, now time.Time, x, y float64) {
	t.stats.Clicks++

	gap := now.Sub(t.lastClickTime)

	if !t.lastClickTime.IsZero() && gap < rapidClickGap {
		t.clickCount++
		// Fire exactly once per burst, at the click where the counter
		// first crosses the threshold. The counter only resets when a
		// gap >= the threshold occurs.
		if t.clickCount == rapidClickBurst {
			t.stats.RapidClicks++
			t.append(Record{
				Kind:       KindRapidClicks,
				Timestamp:  now,
				Element:    element,
				BurstCount: t.clickCount,
				Gap:        gap,
			})
			t.logger.Debug("rapid clicks detected",
				zap.String("element", element),
				zap.Duration("gap", gap))
		}
	} else {
		t.clickCount = 1
	}

	if element != "" && element == t.lastClickElement && gap < repeatedActionGap {
		t.stats.RepeatedActions++
		t.append(Record{
			Kind:      KindRepeatedAction,
			Timestamp: now,
			Element:   element,
			Gap:       gap,
		})
	}

	t.lastClickTime = now
	t.lastClickElement = element

	t.append(Record{Kind: KindClick, Timestamp: now, Element: element, X: x, Y: y})
}

// RecordFormFocus counts a form interaction and opens a form tracking
// session if none is in flight.
func (t *Tracker) RecordFormFocus(field, fieldType string, now time.Time) {
	t.stats.FormInteractions++

	if t.focusedField == "" {
		t.focusedField = field
		t.formStart = now
		t.formInteracted = false
	}

	t.append(Record{Kind: KindFormFocus, Timestamp: now, Field: field, FieldType: fieldType})
}

// RecordFormInput marks the in-flight form session as interacted.
func (t *Tracker) RecordFormInput() {
	if t.focusedField != "" {
		t.formInteracted = true
	}
}

// RecordFormBlur closes the in-flight form session. An abandonment is
// recorded only when the session was interacted with, held for longer
// than the minimum, and the field is empty at blur time.
func (t *Tracker) RecordFormBlur(field string, isEmpty bool, now time.Time) {
	if t.focusedField != "" {
		held := now.Sub(t.formStart)
		if t.formInteracted && held > formAbandonMinHold && isEmpty {
			t.stats.AbandonedForms++
			t.append(Record{
				Kind:      KindFormAbandonment,
				Timestamp: now,
				Field:     t.focusedField,
				HeldFor:   held,
			})
			t.logger.Debug("form abandonment detected",
				zap.String("field", t.focusedField),
				zap.Duration("held_for", held))
		}
	}

	t.focusedField = ""
	t.formInteracted = false
}

// RecordHesitation accounts for a fired hesitation debounce.
func (t *Tracker) RecordHesitation(now time.Time) {
	t.stats.Hesitations++
	t.append(Record{Kind: KindHesitation, Timestamp: now, Duration: HesitationDelay})
}

// RecordEscape logs an escape keypress. It feeds no counter; the record
// exists for triage context only.
func (t *Tracker) RecordEscape(now time.Time) {
	t.append(Record{Kind: KindEscapePressed, Timestamp: now})
}

// RecordNavigation counts a back/forward navigation. Leaving a page in
// under the quick-back threshold additionally logs a quick_back_navigation
// with the time spent.
func (t *Tracker) RecordNavigation(now time.Time) {
	t.stats.BackNavigations++

	timeOnPage := now.Sub(t.navStart)
	if timeOnPage < quickBackThreshold {
		t.append(Record{Kind: KindQuickBackNav, Timestamp: now, Duration: timeOnPage})
	}
	t.navStart = now
}

// ShouldTriggerAnalysis reports whether enough signal has accumulated to
// justify materializing a snapshot this tick.
func (t *Tracker) ShouldTriggerAnalysis() bool {
	return t.stats.RapidClicks > 0 ||
		t.stats.RepeatedActions > 1 ||
		t.stats.AbandonedForms > 0 ||
		t.stats.Hesitations > 2 ||
		t.stats.BackNavigations > 1
}

// Snapshot materializes an immutable copy of the current state.
func (t *Tracker) Snapshot(now time.Time) Snapshot {
	return Snapshot{
		Stats:            t.stats,
		RecentActivities: t.ring.Last(SnapshotRecentCount),
		SessionDuration:  now.Sub(t.sessionStart),
		PageContext:      t.ctx,
		URL:              t.url,
	}
}

// Stats returns a copy of the rolling counters.
func (t *Tracker) Stats() Stats { return t.stats }

// Activities returns the buffered activity log, oldest first.
func (t *Tracker) Activities() []Record { return t.ring.All() }

// Reset zeroes the counters and empties the activity log. Burst, form,
// and navigation tracking state survives; only the aggregates reset.
func (t *Tracker) Reset() {
	t.stats = Stats{}
	t.ring.Clear()
}

// append stamps the record with the current location and pushes it onto
// the ring.
func (t *Tracker) append(rec Record) {
	rec.URL = t.url
	rec.PageContext = t.ctx
	t.ring.Push(rec)
}
