// Package engine scores behavioral snapshots against a heuristic distress
// model and decides, under cooldown constraints, whether to raise a help
// offer.
package engine

import (
	"time"

	"assistnerd-mcp-server/internal/activity"
	"assistnerd-mcp-server/internal/observer"
	"assistnerd-mcp-server/internal/pagectx"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Decision thresholds. The score weights live in score.go.
const (
	HelpThreshold     = 0.6
	OfferCooldown     = 120 * time.Second
	DismissalCooldown = 300 * time.Second
	HistoryCapacity   = 50
)

// OfferStatus is the lifecycle state of a help offer. Transitions are
// one-way: pending -> accepted or pending -> dismissed.
type OfferStatus string

const (
	StatusPending   OfferStatus = "pending"
	StatusAccepted  OfferStatus = "accepted"
	StatusDismissed OfferStatus = "dismissed"
)

// HelpOffer is the engine's output. Ownership transfers to the relay once
// dispatched; the engine keeps only the dispatch timestamp.
type HelpOffer struct {
	ID            string          `json:"id"`
	Score         float64         `json:"score"`
	PageContext   pagectx.Context `json:"page_context"`
	URL           string          `json:"url"`
	Timestamp     time.Time       `json:"timestamp"`
	Stats         activity.Stats  `json:"stats"`
	SuggestedHelp string          `json:"suggested_help"`
	Status        OfferStatus     `json:"status"`
}

// AnalysisRecord is one history entry, kept for introspection only; the
// decision never reads history. The scored snapshot rides along so a
// high score can be traced back to the counters that produced it.
type AnalysisRecord struct {
	Timestamp time.Time         `json:"timestamp"`
	Score     float64           `json:"score"`
	Snapshot  activity.Snapshot `json:"snapshot"`
	Triggered bool              `json:"triggered"`
}

// Stats summarizes the engine's run for introspection.
type Stats struct {
	TotalAnalyses     int       `json:"total_analyses"`
	OffersTriggered   int       `json:"offers_triggered"`
	AverageScore      float64   `json:"average_score"`
	LastOfferTime     time.Time `json:"last_offer_time"`
	LastDismissalTime time.Time `json:"last_dismissal_time"`
}

// Engine holds the cooldown context and analysis history for one page
// session. Not safe for concurrent use; the session coordinator
// serializes all calls.
type Engine struct {
	logger *zap.Logger

	lastOfferTime     time.Time
	lastDismissalTime time.Time

	history *activity.Ring[AnalysisRecord]
}

// New creates an engine with empty cooldown state.
func New(logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		logger:  logger,
		history: activity.NewRing[AnalysisRecord](HistoryCapacity),
	}
}

// Analyze scores a snapshot, records the analysis, and returns a help
// offer when the score clears the threshold and no cooldown blocks it.
// The second return is false when no offer should be made.
func (e *Engine) Analyze(snap activity.Snapshot, now time.Time) (*HelpOffer, bool) {
	score := Score(snap)

	rec := AnalysisRecord{
		Timestamp: now,
		Score:     score,
		Snapshot:  snap,
	}

	if !e.shouldOffer(score, now) {
		e.history.Push(rec)
		return nil, false
	}

	rec.Triggered = true
	e.history.Push(rec)
	e.lastOfferTime = now

	offer := &HelpOffer{
		ID:            uuid.NewString(),
		Score:         score,
		PageContext:   snap.PageContext,
		URL:           snap.URL,
		Timestamp:     now,
		Stats:         snap.Stats,
		SuggestedHelp: Suggest(snap),
		Status:        StatusPending,
	}

	e.logger.Info("help offer triggered",
		zap.Float64("score", score),
		zap.String("page_context", string(snap.PageContext)),
		zap.String("offer_id", offer.ID))

	return offer, true
}

// AnalyzeAnomaly runs the decision over a synthetic snapshot derived from
// a single anomaly event. Behavioral counters are zeroed; the anomaly
// contributes through the error term.
func (e *Engine) AnalyzeAnomaly(a observer.Anomaly, now time.Time) (*HelpOffer, bool) {
	synthetic := activity.Snapshot{
		PageContext: a.PageContext,
		URL:         a.URL,
		ErrorCount:  1,
	}
	return e.Analyze(synthetic, now)
}

// RecordDismissal starts the global dismissal cooldown. Which offer was
// dismissed does not matter; the cooldown is per session, not per offer.
func (e *Engine) RecordDismissal(now time.Time) {
	e.lastDismissalTime = now
	e.logger.Debug("help dismissed, cooldown started")
}

// History returns the buffered analysis records, oldest first.
func (e *Engine) History() []AnalysisRecord {
	return e.history.All()
}

// Stats summarizes history and cooldown state.
func (e *Engine) Stats() Stats {
	records := e.history.All()

	s := Stats{
		TotalAnalyses:     len(records),
		LastOfferTime:     e.lastOfferTime,
		LastDismissalTime: e.lastDismissalTime,
	}

	var sum float64
	for _, rec := range records {
		sum += rec.Score
		if rec.Triggered {
			s.OffersTriggered++
		}
	}
	if len(records) > 0 {
		s.AverageScore = sum / float64(len(records))
	}
	return s
}

// shouldOffer checks the threshold and both cooldowns. All three must
// hold; a single failing condition suppresses the offer silently.
func (e *Engine) shouldOffer(score float64, now time.Time) bool {
	if score < HelpThreshold {
		return false
	}
	if !e.lastDismissalTime.IsZero() && now.Sub(e.lastDismissalTime) < DismissalCooldown {
		e.logger.Debug("in dismissal cooldown, offer suppressed")
		return false
	}
	if !e.lastOfferTime.IsZero() && now.Sub(e.lastOfferTime) < OfferCooldown {
		e.logger.Debug("too soon since last offer, suppressed")
		return false
	}
	return true
}
