package policy

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"
)

// AuditRecord is one appended audit trail entry.
type AuditRecord struct {
	Actor      string    `json:"actor"`
	Tool       string    `json:"tool"`
	Profile    string    `json:"profile"`
	Origin     string    `json:"origin"`
	OriginKind string    `json:"origin_kind"`
	TraceID    string    `json:"trace_id"`
	Outcome    string    `json:"outcome"`
	Layer      string    `json:"layer"`
	Reason     string    `json:"reason"`
	Ts         time.Time `json:"ts"`
}

// AuditRecorder receives policy decisions. Implementations must tolerate
// being called from many goroutines and must not assume callers wait.
type AuditRecorder interface {
	Record(rec AuditRecord)
}

// AuditStore is the durable sink for audit records.
type AuditStore interface {
	InsertAuditRecord(rec AuditRecord) error
}

// Trail fans audit records out to the durable store and, when configured,
// a Kafka audit topic. Both writes are best-effort: a failed or slow sink
// drops records rather than backing up into policy evaluation.
type Trail struct {
	store  AuditStore
	writer *kafka.Writer
	ch     chan AuditRecord
	done   chan struct{}
}

// NewTrail creates an audit trail. store may be nil; brokers empty
// disables the Kafka sink. Call Close on shutdown.
func NewTrail(store AuditStore, brokers []string, topic string) *Trail {
	t := &Trail{
		store: store,
		ch:    make(chan AuditRecord, 256),
		done:  make(chan struct{}),
	}
	if len(brokers) > 0 && topic != "" {
		t.writer = &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			Balancer:     &kafka.LeastBytes{},
			RequiredAcks: kafka.RequireOne,
			Async:        true,
		}
	}
	go t.drain()
	return t
}

// Record enqueues an audit record without blocking. When the buffer is
// full the record is dropped and counted via log only.
func (t *Trail) Record(rec AuditRecord) {
	select {
	case t.ch <- rec:
	default:
		slog.Warn("Audit buffer full, dropping record", "tool", rec.Tool, "outcome", rec.Outcome)
	}
}

func (t *Trail) drain() {
	for {
		select {
		case rec := <-t.ch:
			t.write(rec)
		case <-t.done:
			// Flush what is already buffered, then stop.
			for {
				select {
				case rec := <-t.ch:
					t.write(rec)
				default:
					return
				}
			}
		}
	}
}

func (t *Trail) write(rec AuditRecord) {
	if t.store != nil {
		if err := t.store.InsertAuditRecord(rec); err != nil {
			slog.Warn("Audit store write failed", "error", err)
		}
	}
	if t.writer != nil {
		payload, err := json.Marshal(rec)
		if err != nil {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := t.writer.WriteMessages(ctx, kafka.Message{
			Key:   []byte(rec.Origin),
			Value: payload,
		}); err != nil {
			slog.Warn("Audit topic write failed", "error", err)
		}
		cancel()
	}
}

// Close stops the drain goroutine and closes the Kafka writer.
func (t *Trail) Close() error {
	close(t.done)
	if t.writer != nil {
		return t.writer.Close()
	}
	return nil
}
