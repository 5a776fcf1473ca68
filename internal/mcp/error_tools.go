package mcp

import (
	"context"
	"fmt"

	"assistnerd-mcp-server/internal/relay"
)

// ListDetectedErrorsTool reads the queued page anomalies.
type ListDetectedErrorsTool struct {
	relay *relay.Relay
}

func (t *ListDetectedErrorsTool) Name() string { return "list-detected-errors" }
func (t *ListDetectedErrorsTool) Description() string {
	return `List errors detected on the watched page.

Covers JavaScript exceptions, unhandled promise rejections, console
errors, rendered error banners, and stuck loading indicators. Each
entry carries an id, kind, classification, message, URL, page context,
and timestamp.

The queue survives restarts and holds the most recent entries; use
clear-detected-errors after triage.

Returns: {count, errors}`
}
func (t *ListDetectedErrorsTool) InputSchema() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"limit": map[string]interface{}{
				"type":        "number",
				"description": "Maximum number of entries to return, newest kept (default all)",
			},
		},
	}
}
func (t *ListDetectedErrorsTool) Execute(_ context.Context, args map[string]interface{}) (interface{}, error) {
	if t.relay == nil {
		return nil, fmt.Errorf("help relay unavailable")
	}

	anomalies := t.relay.Anomalies()
	if limit := getIntArg(args, "limit", 0); limit > 0 && len(anomalies) > limit {
		anomalies = anomalies[len(anomalies)-limit:]
	}
	return map[string]interface{}{
		"count":  len(anomalies),
		"errors": anomalies,
	}, nil
}

// ClearDetectedErrorsTool empties the anomaly queue.
type ClearDetectedErrorsTool struct {
	relay *relay.Relay
}

func (t *ClearDetectedErrorsTool) Name() string { return "clear-detected-errors" }
func (t *ClearDetectedErrorsTool) Description() string {
	return `Clear all queued detected errors.

Use after triaging list-detected-errors output. Does not affect the
fact store or the analysis history.

Returns: {cleared}`
}
func (t *ClearDetectedErrorsTool) InputSchema() map[string]interface{} {
	return map[string]interface{}{"type": "object", "properties": map[string]interface{}{}}
}
func (t *ClearDetectedErrorsTool) Execute(_ context.Context, _ map[string]interface{}) (interface{}, error) {
	if t.relay == nil {
		return nil, fmt.Errorf("help relay unavailable")
	}
	return map[string]interface{}{
		"cleared": t.relay.ClearAnomalies(),
	}, nil
}
