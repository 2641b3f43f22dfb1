package utils

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestSeenSetNoDuplicates(t *testing.T) {
	s := NewSeenSet()

	added := s.Add("B0CN12XYZ1")
	if !added {
		t.Error("first Add should return true")
	}

	added = s.Add("B0CN12XYZ1")
	if added {
		t.Error("second Add of same ASIN should return false")
	}

	if s.Size() != 1 {
		t.Errorf("size: got %d, want 1", s.Size())
	}
}

func TestSeenSetConcurrency(t *testing.T) {
	s := NewSeenSet()
	var added int64
	var wg sync.WaitGroup

	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if s.Add("B0SAME0000") {
				atomic.AddInt64(&added, 1)
			}
		}()
	}
	wg.Wait()

	if added != 1 {
		t.Errorf("expected exactly 1 successful add, got %d", added)
	}
}

func TestRandomDelayWithinWindow(t *testing.T) {
	for i := 0; i < 50; i++ {
		d := RandomDelay(2, 5)
		if d < 2*time.Second || d > 5*time.Second {
			t.Fatalf("delay %v outside [2s, 5s] window", d)
		}
	}
}

func TestRandomDelayDegenerateWindow(t *testing.T) {
	if d := RandomDelay(3, 3); d != 3*time.Second {
		t.Errorf("equal bounds: got %v, want 3s", d)
	}
	if d := RandomDelay(5, 2); d != 5*time.Second {
		t.Errorf("inverted bounds: got %v, want 5s", d)
	}
}
