package session

import (
	"sync"
	"sync/atomic"
	"testing"

	"github.com/remedian/remedian/internal/provider"
)

func TestAppendAndMessagesCopy(t *testing.T) {
	s := New("s1", "ops")
	s.Append(provider.Message{Role: "user", Content: "hello"})
	s.Append(provider.Message{Role: "assistant", Content: "hi"})

	msgs := s.Messages()
	if len(msgs) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(msgs))
	}
	msgs[0].Content = "mutated"
	if s.Messages()[0].Content != "hello" {
		t.Fatal("Messages must return a copy")
	}
}

func TestHistoryChars(t *testing.T) {
	s := New("s1", "ops")
	s.Append(provider.Message{Role: "user", Content: "12345"})
	s.Append(provider.Message{Role: "assistant", Content: "123"})
	if s.HistoryChars() != 8 {
		t.Fatalf("expected 8 chars, got %d", s.HistoryChars())
	}
}

func TestStatusTransitions(t *testing.T) {
	s := New("s1", "ops")
	if s.GetStatus() != StatusRunning {
		t.Fatalf("new session should be RUNNING, got %s", s.GetStatus())
	}
	if s.Terminal() {
		t.Fatal("RUNNING is not terminal")
	}
	s.SetStatus(StatusWaitingApproval)
	if s.Terminal() {
		t.Fatal("WAITING_APPROVAL is not terminal")
	}
	for _, status := range []string{StatusCompleted, StatusAborted, StatusFailed} {
		s.SetStatus(status)
		if !s.Terminal() {
			t.Fatalf("%s should be terminal", status)
		}
	}
}

func TestAbortFlag(t *testing.T) {
	s := New("s1", "ops")
	if s.Aborted() {
		t.Fatal("fresh session must not be aborted")
	}
	s.Abort()
	if !s.Aborted() {
		t.Fatal("abort flag lost")
	}
}

func TestManagerGetOrCreate(t *testing.T) {
	m := NewManager(nil)
	a := m.GetOrCreate("s1", "ops")
	b := m.GetOrCreate("s1", "other")
	if a != b {
		t.Fatal("GetOrCreate must return the existing session")
	}
	if b.Profile != "ops" {
		t.Fatal("existing session keeps its profile")
	}
}

func TestManagerClaimIsExclusive(t *testing.T) {
	m := NewManager(nil)

	s, ok := m.Claim("s1", "ops")
	if !ok {
		t.Fatal("first claim must succeed")
	}
	if again, ok := m.Claim("s1", "ops"); ok {
		t.Fatal("second claim must fail while held")
	} else if again != s {
		t.Fatal("claim must report the existing session")
	}

	s.Release()
	if _, ok := m.Claim("s1", "ops"); !ok {
		t.Fatal("claim must succeed after release")
	}
}

func TestManagerClaimUnderContention(t *testing.T) {
	m := NewManager(nil)
	var wins int32
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, ok := m.Claim("s1", "ops"); ok {
				atomic.AddInt32(&wins, 1)
			}
		}()
	}
	wg.Wait()
	if wins != 1 {
		t.Fatalf("exactly one claim must win, got %d", wins)
	}
}

func TestAbortSignalCloses(t *testing.T) {
	s := New("s1", "ops")
	select {
	case <-s.AbortSignal():
		t.Fatal("signal must not fire before abort")
	default:
	}
	s.Abort()
	s.Abort() // idempotent
	select {
	case <-s.AbortSignal():
	default:
		t.Fatal("signal must fire after abort")
	}
}

func TestManagerAbort(t *testing.T) {
	m := NewManager(nil)
	s := m.GetOrCreate("s1", "ops")
	if !m.Abort("s1") {
		t.Fatal("abort should find the live session")
	}
	if !s.Aborted() {
		t.Fatal("abort flag not raised")
	}
	if m.Abort("missing") {
		t.Fatal("abort of unknown session should report false")
	}
}

type countingArchiver struct {
	mu    sync.Mutex
	count int
}

func (a *countingArchiver) ArchiveSession(_ *Session) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.count++
	return nil
}

func TestManagerArchiveRemovesFromLiveSet(t *testing.T) {
	arch := &countingArchiver{}
	m := NewManager(arch)
	s := m.GetOrCreate("s1", "ops")
	s.SetStatus(StatusCompleted)

	m.Archive(s)
	if _, ok := m.Get("s1"); ok {
		t.Fatal("archived session still live")
	}
	if arch.count != 1 {
		t.Fatalf("archiver called %d times", arch.count)
	}
	if len(m.Live()) != 0 {
		t.Fatal("live set should be empty")
	}
}

func TestConcurrentAppendAndRead(t *testing.T) {
	s := New("s1", "ops")
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			s.Append(provider.Message{Role: "user", Content: "x"})
		}()
		go func() {
			defer wg.Done()
			_ = s.HistoryChars()
		}()
	}
	wg.Wait()
	if len(s.Messages()) != 10 {
		t.Fatalf("expected 10 messages, got %d", len(s.Messages()))
	}
}
