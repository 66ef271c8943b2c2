package learning

import (
	"encoding/json"
	"testing"
	"time"
)

type fakeStore struct {
	origin  string
	kind    string
	success bool
	entries string
	calls   int
}

func (f *fakeStore) InsertLearningSequence(origin, originKind string, success bool, entriesJSON string, startedAt, finishedAt time.Time) error {
	f.origin = origin
	f.kind = originKind
	f.success = success
	f.entries = entriesJSON
	f.calls++
	return nil
}

func TestRecorderFlushesOnFinish(t *testing.T) {
	store := &fakeStore{}
	r := NewRecorder(store, nil, "")

	r.Observe("sess-1", "session", SequenceEntry{Tool: "health_check", Outcome: "ok"})
	r.Observe("sess-1", "session", SequenceEntry{Tool: "service_restart", Outcome: "ok"})
	r.Finish("sess-1", true)

	if store.calls != 1 {
		t.Fatalf("expected 1 store write, got %d", store.calls)
	}
	if store.origin != "sess-1" || store.kind != "session" || !store.success {
		t.Fatalf("unexpected flush: %+v", store)
	}

	var entries []SequenceEntry
	if err := json.Unmarshal([]byte(store.entries), &entries); err != nil {
		t.Fatalf("entries json: %v", err)
	}
	if len(entries) != 2 || entries[0].Tool != "health_check" || entries[1].Tool != "service_restart" {
		t.Fatalf("unexpected entries: %+v", entries)
	}
}

func TestRecorderDropsEmptySequences(t *testing.T) {
	store := &fakeStore{}
	r := NewRecorder(store, nil, "")

	r.Finish("sess-empty", true)
	if store.calls != 0 {
		t.Fatal("empty sequence should not be flushed")
	}
}

func TestRecorderSeparatesOrigins(t *testing.T) {
	store := &fakeStore{}
	r := NewRecorder(store, nil, "")

	r.Observe("a", "session", SequenceEntry{Tool: "log_search", Outcome: "ok"})
	r.Observe("b", "execution", SequenceEntry{Tool: "exec", Outcome: "error", Error: "exit 1"})
	if r.OpenSequences() != 2 {
		t.Fatalf("expected 2 open sequences, got %d", r.OpenSequences())
	}

	r.Finish("b", false)
	if store.origin != "b" || store.success {
		t.Fatalf("unexpected flush: %+v", store)
	}
	if r.OpenSequences() != 1 {
		t.Fatalf("expected 1 open sequence, got %d", r.OpenSequences())
	}
}
