// Package relay holds pending help offers and anomaly reports for
// operator pickup, and pushes notifications outward when configured.
package relay

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"assistnerd-mcp-server/internal/engine"
	"assistnerd-mcp-server/internal/observer"
	"assistnerd-mcp-server/internal/storage"

	"go.uber.org/zap"
)

const (
	// MaxHelpRequests caps the request store; the oldest request is
	// evicted when a new one arrives at capacity.
	MaxHelpRequests = 50

	// RequestTTL is how long an unresolved request stays visible.
	RequestTTL = time.Hour

	// MaxAnomalies caps the detected-error queue the same way.
	MaxAnomalies = 100

	storageKey = "help_requests"
	anomalyKey = "detected_errors"
)

var (
	ErrOfferNotFound = errors.New("relay: help offer not found")
	ErrOfferResolved = errors.New("relay: help offer already resolved")
)

// Notifier pushes a single event to an external channel. Implementations
// must tolerate being called from the session goroutine.
type Notifier interface {
	NotifyOffer(offer engine.HelpOffer) error
	NotifyAnomaly(a observer.Anomaly) error
}

// Relay owns the help-request queue. Resolution outcomes feed back into
// the engine's dismissal cooldown via the Dismissals callback.
type Relay struct {
	logger   *zap.Logger
	store    *storage.Store
	notifier Notifier

	// Dismissals is invoked with the dismissal time whenever an offer
	// is resolved as dismissed.
	Dismissals func(now time.Time)

	mu        sync.Mutex
	offers    []engine.HelpOffer
	anomalies []observer.Anomaly
}

// New creates a relay. store and notifier may be nil; persistence and
// notification are then skipped.
func New(logger *zap.Logger, store *storage.Store, notifier Notifier) *Relay {
	if logger == nil {
		logger = zap.NewNop()
	}
	r := &Relay{
		logger:   logger,
		store:    store,
		notifier: notifier,
	}
	r.restore()
	return r
}

// DispatchOffer queues a help offer and notifies outward. Persistence
// and notification failures are logged, never propagated.
func (r *Relay) DispatchOffer(offer engine.HelpOffer) {
	r.mu.Lock()
	if len(r.offers) >= MaxHelpRequests {
		r.offers = r.offers[1:]
	}
	r.offers = append(r.offers, offer)
	r.persistLocked()
	r.mu.Unlock()

	r.logger.Info("help offer queued",
		zap.String("offer_id", offer.ID),
		zap.Float64("score", offer.Score),
		zap.String("page_context", string(offer.PageContext)))

	if r.notifier != nil {
		if err := r.notifier.NotifyOffer(offer); err != nil {
			r.logger.Warn("offer notification failed", zap.Error(err))
		}
	}
}

// DispatchAnomaly queues a detected error for operator pickup and
// notifies outward. Failures are logged, never propagated.
func (r *Relay) DispatchAnomaly(a observer.Anomaly) {
	r.mu.Lock()
	if len(r.anomalies) >= MaxAnomalies {
		r.anomalies = r.anomalies[1:]
	}
	r.anomalies = append(r.anomalies, a)
	r.persistAnomaliesLocked()
	r.mu.Unlock()

	if r.notifier == nil {
		return
	}
	if err := r.notifier.NotifyAnomaly(a); err != nil {
		r.logger.Warn("anomaly notification failed", zap.Error(err))
	}
}

// Anomalies returns queued detected errors, oldest first.
func (r *Relay) Anomalies() []observer.Anomaly {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]observer.Anomaly, len(r.anomalies))
	copy(out, r.anomalies)
	return out
}

// ClearAnomalies empties the detected-error queue and reports how many
// entries were dropped.
func (r *Relay) ClearAnomalies() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := len(r.anomalies)
	r.anomalies = nil
	r.persistAnomaliesLocked()
	if n > 0 {
		r.logger.Info("detected errors cleared", zap.Int("count", n))
	}
	return n
}

// Pending returns unresolved offers, oldest first.
func (r *Relay) Pending() []engine.HelpOffer {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []engine.HelpOffer
	for _, o := range r.offers {
		if o.Status == engine.StatusPending {
			out = append(out, o)
		}
	}
	return out
}

// All returns every queued offer regardless of status, oldest first.
func (r *Relay) All() []engine.HelpOffer {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]engine.HelpOffer, len(r.offers))
	copy(out, r.offers)
	return out
}

// Resolve moves a pending offer to accepted or dismissed. Transitions
// are one-way; resolving an already-resolved offer fails.
func (r *Relay) Resolve(id string, status engine.OfferStatus, now time.Time) error {
	if status != engine.StatusAccepted && status != engine.StatusDismissed {
		return fmt.Errorf("relay: invalid resolution %q", status)
	}

	r.mu.Lock()
	var found *engine.HelpOffer
	for i := range r.offers {
		if r.offers[i].ID == id {
			found = &r.offers[i]
			break
		}
	}
	if found == nil {
		r.mu.Unlock()
		return ErrOfferNotFound
	}
	if found.Status != engine.StatusPending {
		r.mu.Unlock()
		return ErrOfferResolved
	}
	found.Status = status
	r.persistLocked()
	r.mu.Unlock()

	r.logger.Info("help offer resolved",
		zap.String("offer_id", id),
		zap.String("status", string(status)))

	if status == engine.StatusDismissed && r.Dismissals != nil {
		r.Dismissals(now)
	}
	return nil
}

// CleanupExpired drops offers older than RequestTTL and reports how
// many were removed.
func (r *Relay) CleanupExpired(now time.Time) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	kept := r.offers[:0]
	removed := 0
	for _, o := range r.offers {
		if now.Sub(o.Timestamp) >= RequestTTL {
			removed++
			continue
		}
		kept = append(kept, o)
	}
	r.offers = kept

	if removed > 0 {
		r.persistLocked()
		r.logger.Debug("expired help offers removed", zap.Int("count", removed))
	}
	return removed
}

// persistLocked writes the queue to storage. Best effort; callers hold
// the mutex.
func (r *Relay) persistLocked() {
	if r.store == nil {
		return
	}
	if err := r.store.PutJSON(storageKey, r.offers); err != nil {
		r.logger.Warn("help offer persistence failed", zap.Error(err))
	}
}

func (r *Relay) persistAnomaliesLocked() {
	if r.store == nil {
		return
	}
	if err := r.store.PutJSON(anomalyKey, r.anomalies); err != nil {
		r.logger.Warn("anomaly persistence failed", zap.Error(err))
	}
}

// restore loads any persisted queue from a previous run.
func (r *Relay) restore() {
	if r.store == nil {
		return
	}
	var offers []engine.HelpOffer
	err := r.store.GetJSON(storageKey, &offers)
	switch {
	case errors.Is(err, storage.ErrNotFound):
	case err != nil:
		r.logger.Warn("help offer restore failed", zap.Error(err))
	default:
		r.offers = offers
		r.logger.Info("help offers restored", zap.Int("count", len(offers)))
	}

	var anomalies []observer.Anomaly
	err = r.store.GetJSON(anomalyKey, &anomalies)
	switch {
	case errors.Is(err, storage.ErrNotFound):
	case err != nil:
		r.logger.Warn("anomaly restore failed", zap.Error(err))
	default:
		r.anomalies = anomalies
	}
}
