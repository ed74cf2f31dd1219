// Package recorder is the tool-call flight recorder. Each server run writes
// one JSONL trace of tool invocations and session events; old traces rotate
// away so a long-lived install keeps only the last few runs.
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

// MaxRotatedFiles bounds how many run traces survive rotation.
const MaxRotatedFiles = 3

// Event is a single record in the trace.
type Event struct {
	Timestamp time.Time   `json:"ts"`
	Type      string      `json:"type"`
	Tool      string      `json:"tool,omitempty"`
	Ref       string      `json:"ref,omitempty"`
	Data      interface{} `json:"data,omitempty"`
}

// Recorder appends events to the current run's trace file.
type Recorder struct {
	mu      sync.Mutex
	file    *os.File
	encoder *json.Encoder
	dir     string
}

// NewRecorder prepares the trace directory. The recorder stays inert until
// Start opens a run file; Log before Start is a no-op.
func NewRecorder(dir string) (*Recorder, error) {
	if dir == "" {
		return nil, fmt.Errorf("recorder: empty trace directory")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	return &Recorder{dir: dir}, nil
}

// Start opens the trace for one server run, rotating older runs out.
func (r *Recorder) Start(runID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.file != nil {
		_ = r.file.Close()
		r.file = nil
		r.encoder = nil
	}

	if err := r.rotate(); err != nil {
		return fmt.Errorf("rotate traces: %w", err)
	}

	name := fmt.Sprintf("ops_%s_%d.jsonl", runID, time.Now().UnixMilli())
	f, err := os.Create(filepath.Join(r.dir, name))
	if err != nil {
		return err
	}
	r.file = f
	r.encoder = json.NewEncoder(f)
	return nil
}

// Log appends one event. Dropped silently when no run is open; the recorder
// must never fail a tool call.
func (r *Recorder) Log(eventType, tool, ref string, data interface{}) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.encoder == nil {
		return
	}
	_ = r.encoder.Encode(Event{
		Timestamp: time.Now(),
		Type:      eventType,
		Tool:      tool,
		Ref:       ref,
		Data:      data,
	})
}

// rotate deletes the oldest traces so the new run fits inside the cap.
func (r *Recorder) rotate() error {
	entries, err := os.ReadDir(r.dir)
	if err != nil {
		return err
	}

	type trace struct {
		name string
		mod  time.Time
	}
	var traces []trace
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".jsonl" {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		traces = append(traces, trace{e.Name(), info.ModTime()})
	}

	sort.Slice(traces, func(i, j int) bool {
		return traces[i].mod.After(traces[j].mod)
	})

	if len(traces) >= MaxRotatedFiles {
		for i := MaxRotatedFiles - 1; i < len(traces); i++ {
			_ = os.Remove(filepath.Join(r.dir, traces[i].name))
		}
	}
	return nil
}

// Close finishes the current run's trace.
func (r *Recorder) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.file == nil {
		return nil
	}
	err := r.file.Close()
	r.file = nil
	r.encoder = nil
	return err
}
