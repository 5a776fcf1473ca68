package mcp

import (
	"context"
	"fmt"
	"time"

	"assistnerd-mcp-server/internal/facts"
)

// QueryFactsTool evaluates a Mangle query against the fact store.
type QueryFactsTool struct {
	facts *facts.Store
}

func (t *QueryFactsTool) Name() string { return "query-facts" }
func (t *QueryFactsTool) Description() string {
	return `Run a Mangle query against the behavioral fact store.

The query is a single atom; uppercase arguments are variables bound in
the result rows.

EXAMPLES:
- behavioral_signal(Kind, Element, Url)
- page_anomaly("ui_error", Class, Url)
- struggling_page(Url)

Returns: {query, count, results} where each result maps variable
names to bound values.`
}
func (t *QueryFactsTool) InputSchema() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"query": map[string]interface{}{
				"type":        "string",
				"description": "Mangle query atom, e.g. struggling_page(Url)",
			},
		},
		"required": []string{"query"},
	}
}
func (t *QueryFactsTool) Execute(ctx context.Context, args map[string]interface{}) (interface{}, error) {
	if t.facts == nil {
		return nil, fmt.Errorf("fact store unavailable")
	}
	query := getStringArg(args, "query")
	if query == "" {
		return nil, fmt.Errorf("query is required")
	}

	results, err := t.facts.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{
		"query":   query,
		"count":   len(results),
		"results": results,
	}, nil
}

// DerivedFactsTool lists every derivation of a rule-defined predicate.
type DerivedFactsTool struct {
	facts *facts.Store
}

func (t *DerivedFactsTool) Name() string { return "get-derived-facts" }
func (t *DerivedFactsTool) Description() string {
	return `List all current derivations of a rule-defined predicate.

BUILT-IN DERIVED PREDICATES:
- struggling_page(Url): repeated behavioral distress on one page
- error_page(Url): a server error was observed on the page
- ignored_help(OfferId): a dispatched help offer was dismissed

Returns: {predicate, count, facts}`
}
func (t *DerivedFactsTool) InputSchema() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"predicate": map[string]interface{}{
				"type":        "string",
				"description": "Derived predicate name, e.g. struggling_page",
			},
		},
		"required": []string{"predicate"},
	}
}
func (t *DerivedFactsTool) Execute(ctx context.Context, args map[string]interface{}) (interface{}, error) {
	if t.facts == nil {
		return nil, fmt.Errorf("fact store unavailable")
	}
	predicate := getStringArg(args, "predicate")
	if predicate == "" {
		return nil, fmt.Errorf("predicate is required")
	}

	derived, err := t.facts.Derived(ctx, predicate)
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{
		"predicate": predicate,
		"count":     len(derived),
		"facts":     derived,
	}, nil
}

// ListFactsTool reads raw asserted facts, optionally filtered and windowed.
type ListFactsTool struct {
	facts *facts.Store
}

func (t *ListFactsTool) Name() string { return "list-facts" }
func (t *ListFactsTool) Description() string {
	return `Read raw facts from the buffer, newest last.

FILTERS:
- predicate: only facts of that predicate
- since_seconds: only facts asserted in the last N seconds
- limit: cap the response size (default 50)

ASSERTED PREDICATES:
- behavioral_signal(Kind, Element, Url)
- page_anomaly(Kind, Classification, Url)
- help_offer(Id, Url) / help_dismissed(Id)
- page_visit(Url, Context)

Returns: {count, total, facts}`
}
func (t *ListFactsTool) InputSchema() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"predicate": map[string]interface{}{
				"type":        "string",
				"description": "Filter to one predicate",
			},
			"since_seconds": map[string]interface{}{
				"type":        "integer",
				"description": "Only facts asserted within the last N seconds",
			},
			"limit": map[string]interface{}{
				"type":        "integer",
				"description": "Maximum number of facts to return (newest kept)",
			},
		},
	}
}
func (t *ListFactsTool) Execute(_ context.Context, args map[string]interface{}) (interface{}, error) {
	if t.facts == nil {
		return nil, fmt.Errorf("fact store unavailable")
	}

	predicate := getStringArg(args, "predicate")
	limit := getIntArg(args, "limit", 50)
	if limit < 1 {
		limit = 1
	}

	var after time.Time
	if secs := getIntArg(args, "since_seconds", 0); secs > 0 {
		after = time.Now().Add(-time.Duration(secs) * time.Second)
	}

	var out []facts.Fact
	if predicate != "" {
		out = t.facts.Window(predicate, after, time.Time{})
	} else {
		for _, f := range t.facts.All() {
			if after.IsZero() || f.Timestamp.After(after) {
				out = append(out, f)
			}
		}
	}

	total := len(out)
	if len(out) > limit {
		out = out[len(out)-limit:]
	}
	return map[string]interface{}{
		"count": len(out),
		"total": total,
		"facts": out,
	}, nil
}

// SubmitRuleTool loads additional Mangle rules into the store.
type SubmitRuleTool struct {
	facts *facts.Store
}

func (t *SubmitRuleTool) Name() string { return "submit-rule" }
func (t *SubmitRuleTool) Description() string {
	return `Load additional Mangle rules into the fact store.

The source may declare new predicates and derivation rules over the
asserted predicates. Rules persist for the lifetime of the process
and are evaluated on every assertion.

EXAMPLE:
  Decl hot_page(Url).
  hot_page(Url) :- behavioral_signal(_, _, Url), page_anomaly(_, _, Url).

Returns: {status: "loaded"}`
}
func (t *SubmitRuleTool) InputSchema() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"source": map[string]interface{}{
				"type":        "string",
				"description": "Mangle source: declarations and rules",
			},
		},
		"required": []string{"source"},
	}
}
func (t *SubmitRuleTool) Execute(_ context.Context, args map[string]interface{}) (interface{}, error) {
	if t.facts == nil {
		return nil, fmt.Errorf("fact store unavailable")
	}
	source := getStringArg(args, "source")
	if source == "" {
		return nil, fmt.Errorf("source is required")
	}

	if err := t.facts.LoadRules(source); err != nil {
		return nil, err
	}
	return map[string]interface{}{"status": "loaded"}, nil
}
