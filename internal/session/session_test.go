package session

import (
	"sync"
	"testing"
)

func TestManager_GetReturnsSameSessionPerKey(t *testing.T) {
	t.Parallel()

	m := NewManager()
	a := m.Get("100:1")
	if m.Get("100:1") != a {
		t.Fatalf("expected the same session for the same key")
	}
	if m.Get("100:2") == a {
		t.Fatalf("expected a different session for another key")
	}
	if m.Len() != 2 {
		t.Fatalf("expected 2 sessions, got %d", m.Len())
	}

	m.Reset()
	if m.Len() != 0 {
		t.Fatalf("expected no sessions after reset, got %d", m.Len())
	}
	if m.Get("100:1") == a {
		t.Fatalf("expected a fresh session after reset")
	}
}

func TestManager_SerializesPerKey(t *testing.T) {
	t.Parallel()

	m := NewManager()
	counter := 0

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s := m.Get("poll")
			s.Lock()
			defer s.Unlock()
			v := counter
			v++
			counter = v
		}()
	}
	wg.Wait()

	if counter != 50 {
		t.Fatalf("lost updates: counter=%d", counter)
	}
}
