package engine

import (
	"assistnerd-mcp-server/internal/activity"
	"assistnerd-mcp-server/internal/pagectx"
)

// Per-signal weights and caps. Each signal contributes weight*count,
// capped, before the page-context multiplier is applied.
const (
	rapidClickWeight = 0.15
	rapidClickCap    = 0.3

	repeatedActionWeight = 0.2
	repeatedActionCap    = 0.4

	abandonedFormWeight = 0.25
	abandonedFormCap    = 0.5

	hesitationWeight = 0.1
	hesitationCap    = 0.2

	backNavWeight = 0.15
	backNavCap    = 0.3

	errorWeight = 0.3
	errorCap    = 0.6
)

// Score computes the distress score in [0, 1] for a snapshot.
func Score(snap activity.Snapshot) float64 {
	stats := snap.Stats

	score := contribution(stats.RapidClicks, rapidClickWeight, rapidClickCap) +
		contribution(stats.RepeatedActions, repeatedActionWeight, repeatedActionCap) +
		contribution(stats.AbandonedForms, abandonedFormWeight, abandonedFormCap) +
		contribution(stats.Hesitations, hesitationWeight, hesitationCap) +
		contribution(stats.BackNavigations, backNavWeight, backNavCap) +
		contribution(snap.ErrorCount, errorWeight, errorCap)

	score *= snap.PageContext.ComplexityMultiplier()

	if score > 1.0 {
		return 1.0
	}
	if score < 0 {
		return 0
	}
	return score
}

func contribution(count int, weight, limit float64) float64 {
	if count <= 0 {
		return 0
	}
	c := float64(count) * weight
	if c > limit {
		return limit
	}
	return c
}

// Suggest picks the help text for an offer from a fixed priority list.
// The first applicable rule wins; exactly one suggestion is attached.
func Suggest(snap activity.Snapshot) string {
	stats := snap.Stats

	switch {
	case stats.RapidClicks > 2:
		return "You seem to be clicking rapidly. Would you like help with this action?"
	case stats.RepeatedActions > 1:
		return "I noticed you're trying the same action multiple times. Can I assist you?"
	case stats.AbandonedForms > 0:
		return "Having trouble with a form? I can help you fill it out correctly."
	case stats.Hesitations > 2:
		return "You seem hesitant. Would you like guidance on what to do next?"
	case stats.BackNavigations > 1:
		return "Going back frequently? Let me help you find what you're looking for."
	}

	switch snap.PageContext {
	case pagectx.TestPlans:
		return "Need help creating or managing test plans?"
	case pagectx.Defects:
		return "Need assistance with defect reporting or management?"
	case pagectx.TestCases:
		return "Can I help you with test case creation or execution?"
	}

	return "How can I assist you?"
}
