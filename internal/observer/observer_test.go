package observer

import (
	"testing"
	"time"

	"assistnerd-mcp-server/internal/pagectx"
)

var t0 = time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)

type captureSink struct {
	anomalies []Anomaly
	empties   []EmptyState
}

func (s *captureSink) OnAnomaly(a Anomaly) { s.anomalies = append(s.anomalies, a) }

func (s *captureSink) OnEmptyState(e EmptyState) { s.empties = append(s.empties, e) }

func errorNode(element, text string) NodeReport {
	return NodeReport{Element: element, Tag: "div", Classes: "error-message", Text: text}
}

func TestClassify(t *testing.T) {
	cases := []struct {
		message string
		want    Classification
	}{
		{"Network connection lost", ClassNetwork},
		{"Request timeout", ClassNetwork},
		{"Permission denied", ClassPermission},
		{"You are unauthorized", ClassPermission},
		{"This field is required", ClassValidation},
		{"Invalid project code", ClassValidation},
		{"Page not found", ClassNotFound},
		{"HTTP 404", ClassNotFound},
		{"Internal server error", ClassServer},
		{"Something went wrong (error)", ClassServer},
		{"Oops", ClassUI},
		{"", ClassUI},
	}
	for _, tc := range cases {
		if got := Classify(tc.message); got != tc.want {
			t.Errorf("Classify(%q) = %q, want %q", tc.message, got, tc.want)
		}
	}
}

func TestClassifyPriorityOrder(t *testing.T) {
	// "network" outranks "error"; "required" outranks "not found".
	if got := Classify("network error"); got != ClassNetwork {
		t.Errorf("network should win over server, got %q", got)
	}
	if got := Classify("required field not found"); got != ClassValidation {
		t.Errorf("validation should win over not_found, got %q", got)
	}
	if got := Classify("unauthorized: invalid token"); got != ClassPermission {
		t.Errorf("permission should win over validation, got %q", got)
	}
}

func TestErrorDedupWindow(t *testing.T) {
	sink := &captureSink{}
	o := New(nil, sink)
	node := errorNode(".toast", "Save failed")

	o.OnStructuralChange([]NodeReport{node}, "https://x/case/1", pagectx.TestCases, t0)
	o.OnStructuralChange([]NodeReport{node}, "https://x/case/1", pagectx.TestCases, t0.Add(time.Second))
	o.OnStructuralChange([]NodeReport{node}, "https://x/case/1", pagectx.TestCases, t0.Add(4*time.Second))

	if len(sink.anomalies) != 1 {
		t.Fatalf("anomalies = %d, want 1 (dedup within 5s window)", len(sink.anomalies))
	}

	// Past the suppression window the same error reports again.
	o.OnStructuralChange([]NodeReport{node}, "https://x/case/1", pagectx.TestCases, t0.Add(6*time.Second))
	if len(sink.anomalies) != 2 {
		t.Fatalf("anomalies = %d, want 2 after window expiry", len(sink.anomalies))
	}

	// Same text from a different element is a different key.
	other := errorNode(".banner", "Save failed")
	o.OnStructuralChange([]NodeReport{other}, "https://x/case/1", pagectx.TestCases, t0.Add(6*time.Second))
	if len(sink.anomalies) != 3 {
		t.Fatalf("anomalies = %d, want 3 (distinct element)", len(sink.anomalies))
	}
}

func TestEmptyStateReportsEveryMatch(t *testing.T) {
	sink := &captureSink{}
	o := New(nil, sink)
	node := NodeReport{Element: ".results", Classes: "empty-state", Text: "No results"}

	for i := 0; i < 3; i++ {
		o.OnStructuralChange([]NodeReport{node}, "https://x/run/1", pagectx.TestRuns, t0.Add(time.Duration(i)*time.Second))
	}

	if len(sink.empties) != 3 {
		t.Errorf("empty states = %d, want 3 (no dedup)", len(sink.empties))
	}
	if len(sink.anomalies) != 0 {
		t.Errorf("empty states leaked into the anomaly stream: %d", len(sink.anomalies))
	}
}

func TestNodeMayMatchMultipleFamilies(t *testing.T) {
	sink := &captureSink{}
	o := New(nil, sink)
	node := NodeReport{Element: ".panel", Classes: "error empty-state", Text: "Error: nothing here"}

	o.OnStructuralChange([]NodeReport{node}, "https://x", pagectx.Unknown, t0)

	if len(sink.anomalies) != 1 || len(sink.empties) != 1 {
		t.Errorf("anomalies=%d empties=%d, want 1 and 1", len(sink.anomalies), len(sink.empties))
	}
}

func TestStuckLoadingOneShot(t *testing.T) {
	sink := &captureSink{}
	o := New(nil, sink)
	node := NodeReport{Element: "#spinner", Classes: "spinner"}

	o.OnStructuralChange([]NodeReport{node}, "https://x/plan/2", pagectx.TestPlans, t0)

	// Swept at 3s, 6s, 9s: under threshold, nothing reported.
	for _, d := range []time.Duration{3, 6, 9} {
		o.Sweep("https://x/plan/2", pagectx.TestPlans, t0.Add(d*time.Second), nil)
	}
	if len(sink.anomalies) != 0 {
		t.Fatalf("anomalies = %d before threshold, want 0", len(sink.anomalies))
	}

	// Past 10s: exactly one stuck_loading, then the element is dropped.
	o.Sweep("https://x/plan/2", pagectx.TestPlans, t0.Add(10001*time.Millisecond), nil)
	if len(sink.anomalies) != 1 {
		t.Fatalf("anomalies = %d, want 1", len(sink.anomalies))
	}
	if sink.anomalies[0].Kind != KindStuckLoading {
		t.Errorf("kind = %q, want stuck_loading", sink.anomalies[0].Kind)
	}
	if o.TrackedLoading() != 0 {
		t.Errorf("element still tracked after stuck report")
	}

	// Further sweeps stay silent.
	o.Sweep("https://x/plan/2", pagectx.TestPlans, t0.Add(30*time.Second), nil)
	if len(sink.anomalies) != 1 {
		t.Errorf("anomalies = %d after extra sweep, want 1", len(sink.anomalies))
	}
}

func TestSweepDropsVanishedElementsSilently(t *testing.T) {
	sink := &captureSink{}
	o := New(nil, sink)
	o.OnStructuralChange([]NodeReport{{Element: "#spinner", Classes: "loading"}}, "https://x", pagectx.Unknown, t0)

	o.Sweep("https://x", pagectx.Unknown, t0.Add(20*time.Second), func(string) bool { return false })

	if len(sink.anomalies) != 0 {
		t.Errorf("vanished element reported as stuck")
	}
	if o.TrackedLoading() != 0 {
		t.Errorf("vanished element still tracked")
	}
}

func TestTrackLoadingKeepsFirstObservation(t *testing.T) {
	sink := &captureSink{}
	o := New(nil, sink)
	node := NodeReport{Element: "#spinner", Classes: "loading"}

	o.OnStructuralChange([]NodeReport{node}, "https://x", pagectx.Unknown, t0)
	// Re-observing the same indicator must not push the start time forward.
	o.OnStructuralChange([]NodeReport{node}, "https://x", pagectx.Unknown, t0.Add(9*time.Second))

	o.Sweep("https://x", pagectx.Unknown, t0.Add(10001*time.Millisecond), nil)
	if len(sink.anomalies) != 1 {
		t.Errorf("anomalies = %d, want 1 (start time anchored at first observation)", len(sink.anomalies))
	}
}

func TestOnScriptError(t *testing.T) {
	sink := &captureSink{}
	o := New(nil, sink)

	o.OnScriptError(KindConsoleError, "Failed to fetch: network down", "stack", "https://x/run/1", pagectx.TestRuns, t0)
	o.OnScriptError(KindPromiseRejection, "Promise rejection: oops", "", "https://x/run/1", pagectx.TestRuns, t0)

	if len(sink.anomalies) != 2 {
		t.Fatalf("anomalies = %d, want 2", len(sink.anomalies))
	}
	if sink.anomalies[0].Classification != ClassNetwork {
		t.Errorf("classification = %q, want network_error", sink.anomalies[0].Classification)
	}
	if sink.anomalies[0].ID == "" || sink.anomalies[1].ID == sink.anomalies[0].ID {
		t.Errorf("anomaly IDs must be unique and non-empty")
	}
}
