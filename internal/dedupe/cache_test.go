// ABOUTME: Tests for the TTL dedupe cache
// ABOUTME: Covers mark/check, expiry, eviction, and concurrent access

package dedupe

import (
	"fmt"
	"sync"
	"testing"
	"time"
)

func TestCheckAndMark_FirstSeenIsNotDuplicate(t *testing.T) {
	c := New(time.Minute, 100)
	defer c.Close()

	if c.CheckAndMark("evt-1") {
		t.Error("first occurrence should not be a duplicate")
	}
	if !c.CheckAndMark("evt-1") {
		t.Error("second occurrence should be a duplicate")
	}
}

func TestCheck_UnknownKey(t *testing.T) {
	c := New(time.Minute, 100)
	defer c.Close()

	if c.Check("never-seen") {
		t.Error("unknown key reported as seen")
	}
}

func TestCheck_ExpiredKey(t *testing.T) {
	c := New(10*time.Millisecond, 100)
	defer c.Close()

	c.CheckAndMark("evt-1")
	time.Sleep(30 * time.Millisecond)

	if c.Check("evt-1") {
		t.Error("expired key reported as seen")
	}
	if c.CheckAndMark("evt-1") {
		t.Error("expired key should be markable again")
	}
}

func TestEviction_OldestGoesFirst(t *testing.T) {
	c := New(time.Minute, 3)
	defer c.Close()

	c.CheckAndMark("evt-1")
	c.CheckAndMark("evt-2")
	c.CheckAndMark("evt-3")
	c.CheckAndMark("evt-4") // evicts evt-1

	if c.Check("evt-1") {
		t.Error("oldest entry should have been evicted")
	}
	for _, key := range []string{"evt-2", "evt-3", "evt-4"} {
		if !c.Check(key) {
			t.Errorf("%s should still be cached", key)
		}
	}
}

func TestConcurrentAccess(t *testing.T) {
	c := New(time.Minute, 1000)
	defer c.Close()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				key := fmt.Sprintf("evt-%d-%d", n, j)
				c.CheckAndMark(key)
				c.Check(key)
			}
		}(i)
	}
	wg.Wait()
}

func TestClose_Idempotent(t *testing.T) {
	c := New(time.Minute, 10)
	c.Close()
	c.Close()
}
