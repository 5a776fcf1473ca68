package mcp

import (
	"context"

	"assistnerd-mcp-server/internal/session"
)

// GetActivitySnapshotTool returns the current behavioral picture.
type GetActivitySnapshotTool struct {
	coord *session.Coordinator
}

func (t *GetActivitySnapshotTool) Name() string { return "get-activity-snapshot" }
func (t *GetActivitySnapshotTool) Description() string {
	return `Get the current behavioral snapshot of the watched session.

WHAT IT RETURNS:
- Aggregated counters: clicks, rapid clicks, repeated actions,
  abandoned forms, hesitations, back navigations, page views
- The last few raw activity records
- Current URL and resolved page context
- Session duration

WHEN TO USE:
- To understand what the user has been doing before offering help
- To verify signal detection while reproducing an issue

Returns: {snapshot: {stats, recent_activities, session_duration, page_context, url}}`
}
func (t *GetActivitySnapshotTool) InputSchema() map[string]interface{} {
	return map[string]interface{}{
		"type":       "object",
		"properties": map[string]interface{}{},
	}
}
func (t *GetActivitySnapshotTool) Execute(_ context.Context, _ map[string]interface{}) (interface{}, error) {
	return map[string]interface{}{"snapshot": t.coord.Snapshot()}, nil
}

// GetActivityLogTool returns raw activity records, newest last.
type GetActivityLogTool struct {
	coord *session.Coordinator
}

func (t *GetActivityLogTool) Name() string { return "get-activity-log" }
func (t *GetActivityLogTool) Description() string {
	return `Read the raw activity log for the watched session.

Each record is one observed interaction (click, form event, hesitation,
navigation) with its timestamp and element. The buffer holds the most
recent records only.

Use limit to bound the response size (default 25).

Returns: {count, activities}`
}
func (t *GetActivityLogTool) InputSchema() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"limit": map[string]interface{}{
				"type":        "integer",
				"description": "Maximum number of records to return (newest kept)",
			},
		},
	}
}
func (t *GetActivityLogTool) Execute(_ context.Context, args map[string]interface{}) (interface{}, error) {
	limit := getIntArg(args, "limit", 25)
	if limit < 1 {
		limit = 1
	}

	all := t.coord.Activities()
	if len(all) > limit {
		all = all[len(all)-limit:]
	}
	return map[string]interface{}{
		"count":      len(all),
		"activities": all,
	}, nil
}

// ResetActivityTool clears behavioral counters and the activity buffer.
type ResetActivityTool struct {
	coord *session.Coordinator
}

func (t *ResetActivityTool) Name() string { return "reset-activity" }
func (t *ResetActivityTool) Description() string {
	return `Reset the session's behavioral counters and activity buffer.

WHEN TO USE:
- After resolving the situation that triggered the signals
- Between distinct test scenarios on the same page

Analysis history, help requests, and facts are NOT cleared.`
}
func (t *ResetActivityTool) InputSchema() map[string]interface{} {
	return map[string]interface{}{
		"type":       "object",
		"properties": map[string]interface{}{},
	}
}
func (t *ResetActivityTool) Execute(_ context.Context, _ map[string]interface{}) (interface{}, error) {
	t.coord.ResetActivity()
	return map[string]interface{}{"status": "reset"}, nil
}
