// Package recorder writes a flight trace of each monitoring session:
// every raw event, anomaly, and decision lands in a JSONL file so a
// session can be replayed when a decision looks wrong.
package recorder

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"
)

const (
	MaxRotatedFiles = 3
	TraceDir        = "data/traces"
)

// EventType tags one trace record.
type EventType string

const (
	EventActivity     EventType = "activity"
	EventAnomaly      EventType = "anomaly"
	EventAnalysis     EventType = "analysis"
	EventOffer        EventType = "offer"
	EventResolution   EventType = "resolution"
	EventNavigation   EventType = "navigation"
	EventSessionStart EventType = "session_start"
	EventSessionEnd   EventType = "session_end"
)

// Event is a single record in the session trace.
type Event struct {
	Timestamp time.Time `json:"ts"`
	Type      EventType `json:"type"`
	SessionID string    `json:"session_id,omitempty"`
	Data      any       `json:"data"`
}

// Recorder manages rotating trace files, one per monitoring session.
type Recorder struct {
	mu        sync.Mutex
	file      *os.File
	encoder   *json.Encoder
	basePath  string
	sessionID string
}

// NewRecorder creates a recorder writing under basePath, which is
// created if missing.
func NewRecorder(basePath string) (*Recorder, error) {
	if basePath == "" {
		basePath = TraceDir
	}
	if err := os.MkdirAll(basePath, 0o755); err != nil {
		return nil, err
	}
	return &Recorder{basePath: basePath}, nil
}

// Start opens a trace file for a new monitoring session, rotating out
// the oldest traces first.
func (r *Recorder) Start(sessionID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.file != nil {
		_ = r.file.Close()
		r.file = nil
	}

	if err := r.rotate(); err != nil {
		return fmt.Errorf("rotate traces: %w", err)
	}

	filename := fmt.Sprintf("session_%s_%d.jsonl", sessionID, time.Now().UnixMilli())
	f, err := os.Create(filepath.Join(r.basePath, filename))
	if err != nil {
		return err
	}

	r.file = f
	r.encoder = json.NewEncoder(f)
	r.sessionID = sessionID

	_ = r.encoder.Encode(Event{
		Timestamp: time.Now(),
		Type:      EventSessionStart,
		SessionID: sessionID,
	})
	return nil
}

// Log appends one event to the current trace. A recorder with no open
// session drops events silently.
func (r *Recorder) Log(eventType EventType, data any) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.encoder == nil {
		return
	}
	_ = r.encoder.Encode(Event{
		Timestamp: time.Now(),
		Type:      eventType,
		SessionID: r.sessionID,
		Data:      data,
	})
}

// rotate keeps only the newest MaxRotatedFiles-1 traces, leaving room
// for the file Start is about to create.
func (r *Recorder) rotate() error {
	entries, err := os.ReadDir(r.basePath)
	if err != nil {
		return err
	}

	var traces []struct {
		Name string
		Time time.Time
	}
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".jsonl" {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		traces = append(traces, struct {
			Name string
			Time time.Time
		}{e.Name(), info.ModTime()})
	}

	sort.Slice(traces, func(i, j int) bool {
		return traces[i].Time.After(traces[j].Time)
	})

	if len(traces) >= MaxRotatedFiles {
		keep := MaxRotatedFiles - 1
		for i := keep; i < len(traces); i++ {
			_ = os.Remove(filepath.Join(r.basePath, traces[i].Name))
		}
	}
	return nil
}

// Close writes the session-end marker and closes the current trace.
func (r *Recorder) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.file == nil {
		return nil
	}
	_ = r.encoder.Encode(Event{
		Timestamp: time.Now(),
		Type:      EventSessionEnd,
		SessionID: r.sessionID,
	})
	err := r.file.Close()
	r.file = nil
	r.encoder = nil
	return err
}
