package session

import (
	"sync"
	"testing"
	"time"

	"github.com/cloudwego/eino/schema"

	"nudge/src/internal/storage"
)

func TestSessionManager_GetOrCreate(t *testing.T) {
	sm := NewSessionManager()
	id := "test-session"
	s1 := sm.GetOrCreate(id)
	if s1.ID != id {
		t.Errorf("expected ID %s, got %s", id, s1.ID)
	}
	s2 := sm.GetOrCreate(id)
	if s1 != s2 {
		t.Error("expected same session")
	}
	s3 := sm.GetOrCreate("")
	if s3.ID != DefaultSessionID {
		t.Errorf("expected %s ID, got %s", DefaultSessionID, s3.ID)
	}
	if other := sm.GetOrCreate("someone-else"); other == s1 {
		t.Error("expected distinct sessions per id")
	}
}

func TestSessionManager_AddTokens(t *testing.T) {
	sm := NewSessionManager()
	id := "test-session"
	sm.AddTokens(id, 60, 40)
	sess := sm.GetOrCreate(id)
	if sess.TotalTokens != 100 {
		t.Errorf("expected 100 tokens, got %d", sess.TotalTokens)
	}
}

func TestConcurrentAddTokens(t *testing.T) {
	sm := NewSessionManager()
	id := "test-session"
	var wg sync.WaitGroup
	const N = 100
	wg.Add(N)
	for i := 0; i < N; i++ {
		go func() {
			defer wg.Done()
			sm.AddTokens(id, 1, 0)
		}()
	}
	wg.Wait()
	sess := sm.GetOrCreate(id)
	if sess.TotalTokens != N {
		t.Errorf("expected %d tokens, got %d", N, sess.TotalTokens)
	}
}

func TestHistory(t *testing.T) {
	sess := NewSession("h")
	sess.Append("hello", "hi there")
	sess.Append("remind me", "")
	got := sess.History()
	if len(got) != 3 {
		t.Fatalf("expected 3 messages, got %d", len(got))
	}
	if got[0].Role != schema.User || got[1].Role != schema.Assistant || got[2].Content != "remind me" {
		t.Errorf("unexpected history: %+v", got)
	}
}

func TestBeginTurnSerializes(t *testing.T) {
	sess := NewSession("s")
	end := sess.BeginTurn()
	started := make(chan struct{})
	go func() {
		done := sess.BeginTurn()
		close(started)
		done()
	}()
	select {
	case <-started:
		t.Fatal("second turn started while first was running")
	case <-time.After(30 * time.Millisecond):
	}
	end()
	select {
	case <-started:
	case <-time.After(time.Second):
		t.Fatal("second turn never started")
	}
}

func TestPersistence(t *testing.T) {
	st, err := storage.New(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	sm, err := NewPersistentSessionManager(st)
	if err != nil {
		t.Fatal(err)
	}
	sm.AddMessage("alice", "what's due?", "Nothing today.")
	sm.AddTokens("alice", 10, 5)
	if err := sm.Save(); err != nil {
		t.Fatal(err)
	}

	restored, err := NewPersistentSessionManager(st)
	if err != nil {
		t.Fatal(err)
	}
	sess := restored.GetSession("alice")
	if sess == nil {
		t.Fatal("session not restored")
	}
	if len(sess.Messages) != 1 || sess.Messages[0].Response != "Nothing today." {
		t.Errorf("unexpected messages: %+v", sess.Messages)
	}
	if sess.TotalTokens != 15 {
		t.Errorf("expected 15 tokens, got %d", sess.TotalTokens)
	}

	if !restored.Reset("alice") || restored.Reset("nobody") {
		t.Error("unexpected Reset result")
	}
	if len(restored.Summaries()) != 1 || restored.Summaries()[0].Messages != 0 {
		t.Errorf("unexpected summaries: %+v", restored.Summaries())
	}
}
