package mcp

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"assistnerd-mcp-server/internal/browser"
	"assistnerd-mcp-server/internal/config"
	"assistnerd-mcp-server/internal/engine"
	"assistnerd-mcp-server/internal/facts"
	"assistnerd-mcp-server/internal/qase"
	"assistnerd-mcp-server/internal/relay"
	"assistnerd-mcp-server/internal/session"
)

type testEnv struct {
	server *Server
	coord  *session.Coordinator
	relay  *relay.Relay
	facts  *facts.Store
}

func newTestServer(t *testing.T, qc *qase.Client) *testEnv {
	t.Helper()

	fs, err := facts.NewStore(256, nil)
	if err != nil {
		t.Fatalf("facts store: %v", err)
	}
	r := relay.New(nil, nil, nil)
	coord := session.New(session.Options{Relay: r, Facts: fs})
	if err := coord.Start(); err != nil {
		t.Fatalf("coordinator start: %v", err)
	}
	t.Cleanup(coord.Stop)

	srv, err := NewServer(config.DefaultConfig(), Deps{
		Coordinator: coord,
		Relay:       r,
		Facts:       fs,
		Qase:        qc,
	})
	if err != nil {
		t.Fatalf("NewServer: %v", err)
	}
	return &testEnv{server: srv, coord: coord, relay: r, facts: fs}
}

func asMap(t *testing.T, v interface{}) map[string]interface{} {
	t.Helper()
	m, ok := v.(map[string]interface{})
	if !ok {
		t.Fatalf("result type = %T, want map", v)
	}
	return m
}

func TestNewServerRequiresCoordinator(t *testing.T) {
	if _, err := NewServer(config.DefaultConfig(), Deps{}); err == nil {
		t.Fatal("expected error without coordinator")
	}
}

func TestExecuteUnknownTool(t *testing.T) {
	env := newTestServer(t, nil)
	if _, err := env.server.ExecuteTool("no-such-tool", nil); err == nil {
		t.Fatal("expected error for unknown tool")
	}
}

func TestRegisteredToolNames(t *testing.T) {
	env := newTestServer(t, nil)
	want := []string{
		"connect-browser", "shutdown-browser", "watch-app", "unwatch-app", "monitor-status",
		"get-activity-snapshot", "get-activity-log", "reset-activity",
		"get-analysis-history", "get-engine-stats",
		"list-help-requests", "resolve-help-request",
		"list-detected-errors", "clear-detected-errors",
		"report-defect", "validate-credentials",
		"query-facts", "get-derived-facts", "list-facts", "submit-rule",
	}
	for _, name := range want {
		if _, ok := env.server.tools[name]; !ok {
			t.Errorf("tool %q not registered", name)
		}
	}
	if len(env.server.tools) != len(want) {
		t.Errorf("registered tools = %d, want %d", len(env.server.tools), len(want))
	}
}

func TestActivitySnapshotTool(t *testing.T) {
	env := newTestServer(t, nil)
	env.coord.OnNavigation("https://app.qase.io/case/3")
	env.coord.OnRawEvent(browser.RawEvent{Type: "click", Element: "#run", TS: float64(time.Now().UnixMilli())})

	result, err := env.server.ExecuteTool("get-activity-snapshot", map[string]interface{}{})
	if err != nil {
		t.Fatalf("get-activity-snapshot: %v", err)
	}
	snap := asMap(t, result)["snapshot"]
	data, err := json.Marshal(snap)
	if err != nil {
		t.Fatalf("snapshot not serializable: %v", err)
	}
	if !strings.Contains(string(data), `"clicks":1`) {
		t.Errorf("snapshot missing click count: %s", data)
	}
}

func TestActivityLogToolLimit(t *testing.T) {
	env := newTestServer(t, nil)
	env.coord.OnNavigation("https://app.qase.io/case/3")
	base := time.Now().UnixMilli()
	for i := 0; i < 10; i++ {
		env.coord.OnRawEvent(browser.RawEvent{Type: "click", Element: "#a", TS: float64(base + int64(i)*1000)})
	}

	result, err := env.server.ExecuteTool("get-activity-log", map[string]interface{}{"limit": float64(3)})
	if err != nil {
		t.Fatalf("get-activity-log: %v", err)
	}
	if count := asMap(t, result)["count"]; count != 3 {
		t.Errorf("count = %v, want 3", count)
	}
}

func TestResetActivityTool(t *testing.T) {
	env := newTestServer(t, nil)
	env.coord.OnNavigation("https://app.qase.io/case/3")
	env.coord.OnRawEvent(browser.RawEvent{Type: "click", Element: "#a", TS: float64(time.Now().UnixMilli())})

	if _, err := env.server.ExecuteTool("reset-activity", map[string]interface{}{}); err != nil {
		t.Fatalf("reset-activity: %v", err)
	}
	if snap := env.coord.Snapshot(); snap.Stats.Clicks != 0 {
		t.Errorf("clicks after reset = %d, want 0", snap.Stats.Clicks)
	}
}

func TestResolveHelpRequestValidation(t *testing.T) {
	env := newTestServer(t, nil)

	if _, err := env.server.ExecuteTool("resolve-help-request", map[string]interface{}{"status": "accepted"}); err == nil {
		t.Error("expected error without id")
	}
	if _, err := env.server.ExecuteTool("resolve-help-request", map[string]interface{}{"id": "x", "status": "pending"}); err == nil {
		t.Error("expected error for non-terminal status")
	}
	if _, err := env.server.ExecuteTool("resolve-help-request", map[string]interface{}{"id": "missing", "status": "accepted"}); err == nil {
		t.Error("expected error for unknown offer")
	}
}

func TestListAndResolveHelpRequest(t *testing.T) {
	env := newTestServer(t, nil)

	env.relay.DispatchOffer(engine.HelpOffer{
		ID: "offer-1", Score: 0.7, URL: "https://app.qase.io/case/3",
		Timestamp: time.Now(), Status: engine.StatusPending,
	})

	result, err := env.server.ExecuteTool("list-help-requests", map[string]interface{}{})
	if err != nil {
		t.Fatalf("list-help-requests: %v", err)
	}
	if count := asMap(t, result)["count"]; count != 1 {
		t.Fatalf("pending count = %v, want 1", count)
	}

	if _, err := env.server.ExecuteTool("resolve-help-request", map[string]interface{}{"id": "offer-1", "status": "dismissed"}); err != nil {
		t.Fatalf("resolve-help-request: %v", err)
	}

	result, err = env.server.ExecuteTool("list-help-requests", map[string]interface{}{})
	if err != nil {
		t.Fatalf("list-help-requests: %v", err)
	}
	if count := asMap(t, result)["count"]; count != 0 {
		t.Errorf("pending after dismissal = %v, want 0", count)
	}

	result, err = env.server.ExecuteTool("list-help-requests", map[string]interface{}{"include_resolved": true})
	if err != nil {
		t.Fatalf("list-help-requests: %v", err)
	}
	if count := asMap(t, result)["count"]; count != 1 {
		t.Errorf("full queue = %v, want 1", count)
	}

	if env.coord.EngineStats().LastDismissalTime.IsZero() {
		t.Error("dismissal did not reach the engine")
	}
}

func TestDetectedErrorTools(t *testing.T) {
	env := newTestServer(t, nil)
	env.coord.OnNavigation("https://app.qase.io/run/9")
	env.coord.OnRawEvent(browser.RawEvent{
		Type:    "console_error",
		Message: "Failed to fetch run results",
		TS:      float64(time.Now().UnixMilli()),
	})

	result, err := env.server.ExecuteTool("list-detected-errors", map[string]interface{}{})
	if err != nil {
		t.Fatalf("list-detected-errors: %v", err)
	}
	if count := asMap(t, result)["count"]; count != 1 {
		t.Fatalf("error count = %v, want 1", count)
	}

	result, err = env.server.ExecuteTool("clear-detected-errors", map[string]interface{}{})
	if err != nil {
		t.Fatalf("clear-detected-errors: %v", err)
	}
	if cleared := asMap(t, result)["cleared"]; cleared != 1 {
		t.Errorf("cleared = %v, want 1", cleared)
	}

	result, err = env.server.ExecuteTool("list-detected-errors", map[string]interface{}{})
	if err != nil {
		t.Fatalf("list-detected-errors: %v", err)
	}
	if count := asMap(t, result)["count"]; count != 0 {
		t.Errorf("count after clear = %v, want 0", count)
	}
}

func TestFactToolsRoundTrip(t *testing.T) {
	env := newTestServer(t, nil)
	env.coord.OnNavigation("https://app.qase.io/plan/1")

	result, err := env.server.ExecuteTool("list-facts", map[string]interface{}{"predicate": "page_visit"})
	if err != nil {
		t.Fatalf("list-facts: %v", err)
	}
	if count := asMap(t, result)["count"]; count != 1 {
		t.Errorf("page_visit facts = %v, want 1", count)
	}

	result, err = env.server.ExecuteTool("query-facts", map[string]interface{}{"query": "page_visit(Url, Ctx)"})
	if err != nil {
		t.Fatalf("query-facts: %v", err)
	}
	if count := asMap(t, result)["count"]; count != 1 {
		t.Errorf("query results = %v, want 1", count)
	}

	if _, err := env.server.ExecuteTool("query-facts", map[string]interface{}{}); err == nil {
		t.Error("expected error without query")
	}
}

func TestSubmitRuleTool(t *testing.T) {
	env := newTestServer(t, nil)

	src := "Decl visited_page(Url).\nvisited_page(Url) :- page_visit(Url, _)."
	if _, err := env.server.ExecuteTool("submit-rule", map[string]interface{}{"source": src}); err != nil {
		t.Fatalf("submit-rule: %v", err)
	}

	env.coord.OnNavigation("https://app.qase.io/run/2")

	result, err := env.server.ExecuteTool("get-derived-facts", map[string]interface{}{"predicate": "visited_page"})
	if err != nil {
		t.Fatalf("get-derived-facts: %v", err)
	}
	if count := asMap(t, result)["count"]; count != 1 {
		t.Errorf("derived visited_page = %v, want 1", count)
	}

	if _, err := env.server.ExecuteTool("submit-rule", map[string]interface{}{"source": "not valid mangle ("}); err == nil {
		t.Error("expected parse error")
	}
}

func TestReportDefectTool(t *testing.T) {
	var gotPath string
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":true,"result":{"id":7}}`))
	}))
	defer ts.Close()

	qc := qase.NewClient("token", "DEMO", nil, qase.WithBaseURL(ts.URL))
	env := newTestServer(t, qc)

	result, err := env.server.ExecuteTool("report-defect", map[string]interface{}{
		"title":         "Save fails on test plan",
		"actual_result": "Clicking Save shows a 500 error toast",
	})
	if err != nil {
		t.Fatalf("report-defect: %v", err)
	}
	if id := asMap(t, result)["defect_id"]; id != 7 {
		t.Errorf("defect_id = %v, want 7", id)
	}
	if gotPath != "/defect/DEMO" {
		t.Errorf("path = %q, want /defect/DEMO", gotPath)
	}
}

func TestReportDefectToolValidation(t *testing.T) {
	env := newTestServer(t, nil)

	if _, err := env.server.ExecuteTool("report-defect", map[string]interface{}{"title": "x", "actual_result": "y"}); err == nil {
		t.Error("expected error with no qase client")
	}

	qc := qase.NewClient("token", "DEMO", nil)
	env = newTestServer(t, qc)
	if _, err := env.server.ExecuteTool("report-defect", map[string]interface{}{"actual_result": "y"}); err == nil {
		t.Error("expected error without title")
	}
	if _, err := env.server.ExecuteTool("report-defect", map[string]interface{}{"title": "x"}); err == nil {
		t.Error("expected error without actual_result")
	}
}

func TestValidateCredentialsTool(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Token") != "token" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Write([]byte(`{"status":true}`))
	}))
	defer ts.Close()

	qc := qase.NewClient("token", "DEMO", nil, qase.WithBaseURL(ts.URL))
	env := newTestServer(t, qc)

	result, err := env.server.ExecuteTool("validate-credentials", map[string]interface{}{})
	if err != nil {
		t.Fatalf("validate-credentials: %v", err)
	}
	if valid := asMap(t, result)["valid"]; valid != true {
		t.Errorf("valid = %v, want true", valid)
	}
}

func TestMarshalToolPayload(t *testing.T) {
	payload := marshalToolPayload("demo", map[string]interface{}{"ok": true})
	var decoded map[string]interface{}
	if err := json.Unmarshal(payload, &decoded); err != nil {
		t.Fatalf("payload not valid JSON: %v", err)
	}
	if decoded["ok"] != true {
		t.Errorf("payload = %s", payload)
	}

	// Channels cannot be marshaled; the fallback envelope must still be JSON.
	payload = marshalToolPayload("demo", map[string]interface{}{"ch": make(chan int)})
	if err := json.Unmarshal(payload, &decoded); err != nil {
		t.Fatalf("fallback payload not valid JSON: %v", err)
	}
	if decoded["success"] != false {
		t.Errorf("fallback payload = %s", payload)
	}
}
