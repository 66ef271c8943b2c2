// Package learning records finished tool sequences so successful
// remediations can later be promoted into playbooks.
package learning

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"
)

// SequenceEntry is one tool invocation inside a sequence.
type SequenceEntry struct {
	Tool      string         `json:"tool"`
	Arguments map[string]any `json:"arguments,omitempty"`
	Outcome   string         `json:"outcome"`
	Error     string         `json:"error,omitempty"`
	Duration  time.Duration  `json:"duration_ns"`
	Ts        time.Time      `json:"ts"`
}

// Sequence is the ordered record of tool calls for one session or
// execution, marked with the overall result.
type Sequence struct {
	Origin     string          `json:"origin"`
	OriginKind string          `json:"origin_kind"`
	Success    bool            `json:"success"`
	Entries    []SequenceEntry `json:"entries"`
	StartedAt  time.Time       `json:"started_at"`
	FinishedAt time.Time       `json:"finished_at"`
}

// SequenceStore is the durable sink for finished sequences.
type SequenceStore interface {
	InsertLearningSequence(origin, originKind string, success bool, entriesJSON string, startedAt, finishedAt time.Time) error
}

// Recorder accumulates per-origin sequences and flushes them when the
// originating run finishes. Flushing is best-effort and never blocks the
// caller on the Kafka sink.
type Recorder struct {
	mu    sync.Mutex
	open  map[string]*Sequence
	store SequenceStore

	writer *kafka.Writer
}

// NewRecorder creates a recorder. store may be nil; empty brokers disable
// the Kafka sink.
func NewRecorder(store SequenceStore, brokers []string, topic string) *Recorder {
	r := &Recorder{
		open:  make(map[string]*Sequence),
		store: store,
	}
	if len(brokers) > 0 && topic != "" {
		r.writer = &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			Balancer:     &kafka.LeastBytes{},
			RequiredAcks: kafka.RequireOne,
			Async:        true,
		}
	}
	return r
}

// Observe appends one tool invocation to the origin's open sequence.
func (r *Recorder) Observe(origin, originKind string, entry SequenceEntry) {
	if entry.Ts.IsZero() {
		entry.Ts = time.Now()
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	seq, ok := r.open[origin]
	if !ok {
		seq = &Sequence{
			Origin:     origin,
			OriginKind: originKind,
			StartedAt:  entry.Ts,
		}
		r.open[origin] = seq
	}
	seq.Entries = append(seq.Entries, entry)
}

// Finish closes the origin's sequence with the overall result and flushes
// it. Origins with no observed tool calls are dropped silently.
func (r *Recorder) Finish(origin string, success bool) {
	r.mu.Lock()
	seq, ok := r.open[origin]
	delete(r.open, origin)
	r.mu.Unlock()
	if !ok || len(seq.Entries) == 0 {
		return
	}
	seq.Success = success
	seq.FinishedAt = time.Now()
	r.flush(seq)
}

func (r *Recorder) flush(seq *Sequence) {
	entriesJSON, err := json.Marshal(seq.Entries)
	if err != nil {
		slog.Warn("Learning sequence marshal failed", "origin", seq.Origin, "error", err)
		return
	}
	if r.store != nil {
		if err := r.store.InsertLearningSequence(seq.Origin, seq.OriginKind, seq.Success, string(entriesJSON), seq.StartedAt, seq.FinishedAt); err != nil {
			slog.Warn("Learning sequence store write failed", "origin", seq.Origin, "error", err)
		}
	}
	if r.writer != nil {
		payload, err := json.Marshal(seq)
		if err != nil {
			return
		}
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := r.writer.WriteMessages(ctx, kafka.Message{
				Key:   []byte(seq.Origin),
				Value: payload,
			}); err != nil {
				slog.Warn("Learning topic write failed", "origin", seq.Origin, "error", err)
			}
		}()
	}
}

// OpenSequences returns the number of origins with unfinished sequences.
func (r *Recorder) OpenSequences() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.open)
}

// Close closes the Kafka writer.
func (r *Recorder) Close() error {
	if r.writer != nil {
		return r.writer.Close()
	}
	return nil
}
