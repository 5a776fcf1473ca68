// Package observer watches structural page changes reported by the injected
// probe for rendered errors, empty states, and stuck loading indicators,
// independent of explicit JavaScript exceptions.
package observer

import (
	"strings"
	"time"

	"assistnerd-mcp-server/internal/pagectx"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// AnomalyKind labels a discrete trouble signal.
type AnomalyKind string

const (
	KindUIError          AnomalyKind = "ui_error"
	KindStuckLoading     AnomalyKind = "stuck_loading"
	KindConsoleError     AnomalyKind = "console_error"
	KindJavaScriptError  AnomalyKind = "javascript_error"
	KindPromiseRejection AnomalyKind = "promise_rejection"
)

// Classification is the semantic error category derived from message text.
type Classification string

const (
	ClassNetwork    Classification = "network_error"
	ClassPermission Classification = "permission_error"
	ClassValidation Classification = "validation_error"
	ClassNotFound   Classification = "not_found"
	ClassServer     Classification = "server_error"
	ClassUI         Classification = "ui_error"
)

// Anomaly is a discrete page-trouble event emitted to the decision engine
// and the relay.
type Anomaly struct {
	ID             string          `json:"id"`
	Kind           AnomalyKind     `json:"kind"`
	Classification Classification  `json:"classification"`
	Message        string          `json:"message"`
	Element        string          `json:"element,omitempty"`
	Stack          string          `json:"stack,omitempty"`
	Timestamp      time.Time       `json:"timestamp"`
	URL            string          `json:"url"`
	PageContext    pagectx.Context `json:"page_context"`
}

// EmptyState is a transient no-content signal. It is relayed for triage
// but never scored.
type EmptyState struct {
	Message     string          `json:"message"`
	Element     string          `json:"element"`
	Timestamp   time.Time       `json:"timestamp"`
	URL         string          `json:"url"`
	PageContext pagectx.Context `json:"page_context"`
}

// NodeReport describes one element the probe saw appear or change.
type NodeReport struct {
	Element  string `json:"element"` // identifier: #id, .class, or tag
	Tag      string `json:"tag"`
	Classes  string `json:"classes"`
	Role     string `json:"role"`
	Text     string `json:"text"`
	DataErr  bool   `json:"data_error"`
	AriaBusy bool   `json:"aria_busy"`
}

// Sweep / suppression thresholds.
const (
	ErrorDedupWindow = 5 * time.Second
	SweepInterval    = 3 * time.Second
	StuckThreshold   = 10 * time.Second
)

// Sink receives observer output. The session coordinator implements it.
type Sink interface {
	OnAnomaly(a Anomaly)
	OnEmptyState(e EmptyState)
}

// Observer holds dedup and loading-tracking state for one page session.
// It is not safe for concurrent use; the session coordinator serializes
// all calls.
type Observer struct {
	logger *zap.Logger
	sink   Sink

	// error dedup: composite key -> suppression deadline
	seenErrors map[string]time.Time

	// loading indicators: element identifier -> first-observed time
	loading map[string]time.Time
}

// New creates an observer reporting into sink.
func New(logger *zap.Logger, sink Sink) *Observer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Observer{
		logger:     logger,
		sink:       sink,
		seenErrors: make(map[string]time.Time),
		loading:    make(map[string]time.Time),
	}
}

// OnStructuralChange scans reported nodes against the three indicator
// families. A node may match more than one family; every matching handler
// runs.
func (o *Observer) OnStructuralChange(nodes []NodeReport, url string, ctx pagectx.Context, now time.Time) {
	for _, n := range nodes {
		if matchesErrorFamily(n) {
			o.processError(n, url, ctx, now)
		}
		if matchesEmptyFamily(n) {
			o.processEmptyState(n, url, ctx, now)
		}
		if matchesLoadingFamily(n) {
			o.trackLoading(n, now)
		}
	}
}

// OnScriptError converts a probe-captured console/JS/promise error into an
// anomaly. kind must be one of the script error kinds.
func (o *Observer) OnScriptError(kind AnomalyKind, message, stack, url string, ctx pagectx.Context, now time.Time) {
	o.emit(Anomaly{
		ID:             uuid.NewString(),
		Kind:           kind,
		Classification: Classify(message),
		Message:        message,
		Stack:          stack,
		Timestamp:      now,
		URL:            url,
		PageContext:    ctx,
	})
}

// Sweep checks tracked loading indicators. Indicators stuck past the
// threshold are reported exactly once and dropped; indicators no longer
// present are dropped silently. present answers whether an element is
// still attached to the page (best-effort; a nil func keeps everything).
func (o *Observer) Sweep(url string, ctx pagectx.Context, now time.Time, present func(element string) bool) {
	for element, since := range o.loading {
		if present != nil && !present(element) {
			delete(o.loading, element)
			continue
		}

		elapsed := now.Sub(since)
		if elapsed > StuckThreshold {
			delete(o.loading, element)
			o.logger.Debug("stuck loading detected",
				zap.String("element", element),
				zap.Duration("elapsed", elapsed))
			o.emit(Anomaly{
				ID:             uuid.NewString(),
				Kind:           KindStuckLoading,
				Classification: ClassUI,
				Message:        "Loading state stuck for " + elapsed.Round(time.Second).String(),
				Element:        element,
				Timestamp:      now,
				URL:            url,
				PageContext:    ctx,
			})
		}
	}
}

// TrackedLoading returns how many loading indicators are being watched.
func (o *Observer) TrackedLoading() int { return len(o.loading) }

func (o *Observer) processError(n NodeReport, url string, ctx pagectx.Context, now time.Time) {
	text := strings.TrimSpace(n.Text)
	key := n.Element + ":" + text

	if deadline, ok := o.seenErrors[key]; ok && now.Before(deadline) {
		return
	}
	o.seenErrors[key] = now.Add(ErrorDedupWindow)
	o.pruneSeen(now)

	o.emit(Anomaly{
		ID:             uuid.NewString(),
		Kind:           KindUIError,
		Classification: Classify(text),
		Message:        text,
		Element:        n.Element,
		Timestamp:      now,
		URL:            url,
		PageContext:    ctx,
	})
}

func (o *Observer) processEmptyState(n NodeReport, url string, ctx pagectx.Context, now time.Time) {
	if o.sink == nil {
		return
	}
	o.sink.OnEmptyState(EmptyState{
		Message:     strings.TrimSpace(n.Text),
		Element:     n.Element,
		Timestamp:   now,
		URL:         url,
		PageContext: ctx,
	})
}

func (o *Observer) trackLoading(n NodeReport, now time.Time) {
	if _, ok := o.loading[n.Element]; !ok {
		o.loading[n.Element] = now
	}
}

func (o *Observer) emit(a Anomaly) {
	if o.sink == nil {
		return
	}
	o.sink.OnAnomaly(a)
}

// pruneSeen drops expired dedup entries so the map stays bounded on
// long-lived pages.
func (o *Observer) pruneSeen(now time.Time) {
	for key, deadline := range o.seenErrors {
		if now.After(deadline) {
			delete(o.seenErrors, key)
		}
	}
}

// Classify maps error text to a semantic category via ordered keyword
// matching. The first matching rule wins; the order is fixed.
func Classify(message string) Classification {
	text := strings.ToLower(message)

	switch {
	case containsAny(text, "network", "connection", "timeout"):
		return ClassNetwork
	case containsAny(text, "permission", "unauthorized", "forbidden"):
		return ClassPermission
	case containsAny(text, "required", "invalid", "must"):
		return ClassValidation
	case containsAny(text, "not found", "404"):
		return ClassNotFound
	case containsAny(text, "server", "500", "error"):
		return ClassServer
	default:
		return ClassUI
	}
}

func containsAny(text string, keywords ...string) bool {
	for _, kw := range keywords {
		if strings.Contains(text, kw) {
			return true
		}
	}
	return false
}

// Family matchers mirror the probe's selector families. The probe reports
// raw node attributes; semantic matching stays here so the categories can
// evolve without re-injecting the probe.

func matchesErrorFamily(n NodeReport) bool {
	classes := strings.ToLower(n.Classes)
	return strings.Contains(classes, "error") ||
		strings.Contains(classes, "alert-danger") ||
		strings.Contains(classes, "invalid-feedback") ||
		strings.EqualFold(n.Role, "alert") ||
		n.DataErr
}

func matchesEmptyFamily(n NodeReport) bool {
	classes := strings.ToLower(n.Classes)
	return strings.Contains(classes, "empty") ||
		strings.Contains(classes, "no-data") ||
		strings.Contains(classes, "no-results") ||
		strings.Contains(classes, "no-content")
}

func matchesLoadingFamily(n NodeReport) bool {
	classes := strings.ToLower(n.Classes)
	return strings.Contains(classes, "loading") ||
		strings.Contains(classes, "spinner") ||
		strings.Contains(classes, "loader") ||
		n.AriaBusy
}
