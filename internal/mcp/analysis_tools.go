package mcp

import (
	"context"

	"assistnerd-mcp-server/internal/session"
)

// GetAnalysisHistoryTool exposes past struggle-score computations.
type GetAnalysisHistoryTool struct {
	coord *session.Coordinator
}

func (t *GetAnalysisHistoryTool) Name() string { return "get-analysis-history" }
func (t *GetAnalysisHistoryTool) Description() string {
	return `Read the decision engine's analysis history.

Each entry is one scored analysis: timestamp, score, the snapshot that
was scored, and whether a help offer was triggered. The engine keeps
the most recent entries only; the history is introspective and never
feeds decisions.

Use limit to bound the response (default 25, newest kept).

Returns: {count, analyses}`
}
func (t *GetAnalysisHistoryTool) InputSchema() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"limit": map[string]interface{}{
				"type":        "integer",
				"description": "Maximum number of records to return",
			},
		},
	}
}
func (t *GetAnalysisHistoryTool) Execute(_ context.Context, args map[string]interface{}) (interface{}, error) {
	limit := getIntArg(args, "limit", 25)
	if limit < 1 {
		limit = 1
	}

	all := t.coord.AnalysisHistory()
	if len(all) > limit {
		all = all[len(all)-limit:]
	}
	return map[string]interface{}{
		"count":    len(all),
		"analyses": all,
	}, nil
}

// GetEngineStatsTool summarizes the decision engine's lifetime counters.
type GetEngineStatsTool struct {
	coord *session.Coordinator
}

func (t *GetEngineStatsTool) Name() string { return "get-engine-stats" }
func (t *GetEngineStatsTool) Description() string {
	return `Summarize the decision engine's counters.

Returns: {stats: {total_analyses, offers_triggered, average_score,
last_offer_time, last_dismissal_time}}

A recent last_dismissal_time means the engine is in its dismissal
cooldown and will stay quiet regardless of score.`
}
func (t *GetEngineStatsTool) InputSchema() map[string]interface{} {
	return map[string]interface{}{
		"type":       "object",
		"properties": map[string]interface{}{},
	}
}
func (t *GetEngineStatsTool) Execute(_ context.Context, _ map[string]interface{}) (interface{}, error) {
	return map[string]interface{}{"stats": t.coord.EngineStats()}, nil
}
