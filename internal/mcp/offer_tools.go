package mcp

import (
	"context"
	"fmt"

	"assistnerd-mcp-server/internal/engine"
	"assistnerd-mcp-server/internal/relay"
	"assistnerd-mcp-server/internal/session"
)

// ListHelpRequestsTool reads the queued help offers.
type ListHelpRequestsTool struct {
	relay *relay.Relay
}

func (t *ListHelpRequestsTool) Name() string { return "list-help-requests" }
func (t *ListHelpRequestsTool) Description() string {
	return `List help offers produced by the decision engine.

By default returns pending offers only; set include_resolved to see
accepted and dismissed ones still in the queue.

Each offer carries its id (needed by resolve-help-request), score,
page context, URL, suggested help text, and status.

Returns: {count, offers}`
}
func (t *ListHelpRequestsTool) InputSchema() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"include_resolved": map[string]interface{}{
				"type":        "boolean",
				"description": "Include accepted and dismissed offers",
			},
		},
	}
}
func (t *ListHelpRequestsTool) Execute(_ context.Context, args map[string]interface{}) (interface{}, error) {
	if t.relay == nil {
		return nil, fmt.Errorf("help relay unavailable")
	}

	var offers []engine.HelpOffer
	if getBoolArg(args, "include_resolved", false) {
		offers = t.relay.All()
	} else {
		offers = t.relay.Pending()
	}
	return map[string]interface{}{
		"count":  len(offers),
		"offers": offers,
	}, nil
}

// ResolveHelpRequestTool marks a pending offer accepted or dismissed.
type ResolveHelpRequestTool struct {
	coord *session.Coordinator
}

func (t *ResolveHelpRequestTool) Name() string { return "resolve-help-request" }
func (t *ResolveHelpRequestTool) Description() string {
	return `Resolve a pending help offer.

status must be "accepted" or "dismissed". Resolution is one-way; a
resolved offer cannot change status again.

Dismissing an offer starts the engine's dismissal cooldown: no new
offers for a while, to avoid nagging a user who declined help.

Returns: {id, status}`
}
func (t *ResolveHelpRequestTool) InputSchema() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"id": map[string]interface{}{
				"type":        "string",
				"description": "Offer ID from list-help-requests",
			},
			"status": map[string]interface{}{
				"type":        "string",
				"enum":        []string{"accepted", "dismissed"},
				"description": "Terminal status for the offer",
			},
		},
		"required": []string{"id", "status"},
	}
}
func (t *ResolveHelpRequestTool) Execute(_ context.Context, args map[string]interface{}) (interface{}, error) {
	id := getStringArg(args, "id")
	if id == "" {
		return nil, fmt.Errorf("id is required")
	}

	status := engine.OfferStatus(getStringArg(args, "status"))
	if status != engine.StatusAccepted && status != engine.StatusDismissed {
		return nil, fmt.Errorf("status must be %q or %q", engine.StatusAccepted, engine.StatusDismissed)
	}

	if err := t.coord.ResolveOffer(id, status); err != nil {
		return nil, err
	}
	return map[string]interface{}{
		"id":     id,
		"status": string(status),
	}, nil
}
