package facts

import (
	"context"
	"testing"
	"time"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := NewStore(100, nil)
	if err != nil {
		t.Fatalf("NewStore failed: %v", err)
	}
	return s
}

func TestAssertAndQuery(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	err := s.Assert(ctx,
		Fact{Predicate: "behavioral_signal", Args: []any{"rapid_click", "button.submit", "/plan/1"}, Timestamp: time.Now()},
		Fact{Predicate: "behavioral_signal", Args: []any{"hesitation", "", "/plan/1"}, Timestamp: time.Now()},
	)
	if err != nil {
		t.Fatalf("Assert failed: %v", err)
	}

	results, err := s.Query(ctx, `behavioral_signal(Kind, Element, Url).`)
	if err != nil {
		t.Fatalf("Query failed: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("Query returned %d results, want 2", len(results))
	}
	kinds := map[any]bool{}
	for _, r := range results {
		kinds[r["Kind"]] = true
	}
	if !kinds["rapid_click"] || !kinds["hesitation"] {
		t.Errorf("bound kinds = %v, want rapid_click and hesitation", kinds)
	}
}

func TestStrugglingPageDerivation(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	err := s.Assert(ctx,
		Fact{Predicate: "behavioral_signal", Args: []any{"rapid_click", "button.save", "/case/9"}},
		Fact{Predicate: "behavioral_signal", Args: []any{"form_abandonment", "input.title", "/case/9"}},
	)
	if err != nil {
		t.Fatalf("Assert failed: %v", err)
	}

	derived, err := s.Derived(ctx, "struggling_page")
	if err != nil {
		t.Fatalf("Derived failed: %v", err)
	}
	if len(derived) != 1 {
		t.Fatalf("struggling_page derived %d facts, want 1", len(derived))
	}
	if got := derived[0].Args[0]; got != "/case/9" {
		t.Errorf("struggling_page url = %v, want /case/9", got)
	}
}

func TestErrorPageDerivation(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	err := s.Assert(ctx,
		Fact{Predicate: "page_anomaly", Args: []any{"ui_error", "server_error", "/run/3"}},
		Fact{Predicate: "page_anomaly", Args: []any{"ui_error", "validation_error", "/run/4"}},
	)
	if err != nil {
		t.Fatalf("Assert failed: %v", err)
	}

	derived, err := s.Derived(ctx, "error_page")
	if err != nil {
		t.Fatalf("Derived failed: %v", err)
	}
	if len(derived) != 1 || derived[0].Args[0] != "/run/3" {
		t.Errorf("error_page = %v, want one fact for /run/3", derived)
	}
}

func TestIgnoredHelpDerivation(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	err := s.Assert(ctx,
		Fact{Predicate: "help_offer", Args: []any{"offer-1", "/plan/1"}},
		Fact{Predicate: "help_offer", Args: []any{"offer-2", "/plan/2"}},
		Fact{Predicate: "help_dismissed", Args: []any{"offer-1"}},
	)
	if err != nil {
		t.Fatalf("Assert failed: %v", err)
	}

	derived, err := s.Derived(ctx, "ignored_help")
	if err != nil {
		t.Fatalf("Derived failed: %v", err)
	}
	if len(derived) != 1 || derived[0].Args[0] != "offer-1" {
		t.Errorf("ignored_help = %v, want offer-1 only", derived)
	}
}

func TestWindow(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	base := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)

	for i := 0; i < 5; i++ {
		err := s.Assert(ctx, Fact{
			Predicate: "page_visit",
			Args:      []any{"/project", "projects"},
			Timestamp: base.Add(time.Duration(i) * time.Minute),
		})
		if err != nil {
			t.Fatalf("Assert failed: %v", err)
		}
	}

	got := s.Window("page_visit", base.Add(time.Minute), base.Add(4*time.Minute))
	if len(got) != 2 {
		t.Errorf("Window returned %d facts, want 2", len(got))
	}
	if all := s.ByPredicate("page_visit"); len(all) != 5 {
		t.Errorf("ByPredicate returned %d facts, want 5", len(all))
	}
}

func TestBufferLimit(t *testing.T) {
	s, err := NewStore(10, nil)
	if err != nil {
		t.Fatalf("NewStore failed: %v", err)
	}
	ctx := context.Background()

	for i := 0; i < 25; i++ {
		if err := s.Assert(ctx, Fact{Predicate: "page_visit", Args: []any{"/p", "projects"}}); err != nil {
			t.Fatalf("Assert failed: %v", err)
		}
	}
	if s.Len() != 10 {
		t.Errorf("Len = %d, want 10", s.Len())
	}
	if got := s.ByPredicate("page_visit"); len(got) != 10 {
		t.Errorf("ByPredicate after trim returned %d facts, want 10", len(got))
	}
}

func TestLoadRulesRejectsBadSource(t *testing.T) {
	s := newTestStore(t)
	if err := s.LoadRules("this is not mangle"); err == nil {
		t.Error("expected a parse error")
	}
}
