package match

import (
	"fmt"
	"testing"
	"time"
)

func TestCacheIdempotence(t *testing.T) {
	c := NewCache(0, 0)
	at := time.Now()

	if !c.ShouldProcess("hello world", at) {
		t.Fatal("first observation should process")
	}
	if c.ShouldProcess("hello world", at) {
		t.Fatal("second identical observation should not process")
	}
}

func TestCacheSameBucketSameFingerprint(t *testing.T) {
	c := NewCache(0, 0)
	at := time.Date(2026, 3, 1, 12, 0, 5, 0, time.UTC)

	if !c.ShouldProcess("server down", at) {
		t.Fatal("first should process")
	}
	// 30s later, same minute bucket: same observation.
	if c.ShouldProcess("server down", at.Add(30*time.Second)) {
		t.Fatal("same bucket should dedup")
	}
	// Next bucket: a fresh observation.
	if !c.ShouldProcess("server down", at.Add(2*time.Minute)) {
		t.Fatal("next bucket should process")
	}
}

func TestCacheStaleness(t *testing.T) {
	c := NewCache(0, 5*time.Minute)
	now := time.Now()

	if !c.ShouldProcess("fresh message", now) {
		t.Fatal("fresh should process")
	}
	c.MarkProcessed(now)

	old := now.Add(-10 * time.Minute)
	before := c.Len()
	if c.ShouldProcess("ancient message", old) {
		t.Fatal("stale candidate should not process")
	}
	if c.Len() != before {
		t.Error("stale candidate must not insert a fingerprint")
	}
}

func TestCacheEvictionOldestHalf(t *testing.T) {
	c := NewCache(100, 0)
	at := time.Now()

	var last string
	for i := 0; i < 150; i++ {
		last = fmt.Sprintf("message number %d", i)
		if !c.ShouldProcess(last, at) {
			t.Fatalf("insert %d rejected", i)
		}
	}

	if c.Len() > 100 {
		t.Errorf("cache size %d exceeds cap", c.Len())
	}
	// Most recent fingerprint is always retained.
	if c.ShouldProcess(last, at) {
		t.Error("most recent fingerprint was evicted")
	}
	// Oldest entries are gone: re-inserting one succeeds again.
	if !c.ShouldProcess("message number 0", at) {
		t.Error("oldest fingerprint should have been evicted")
	}
}

func TestCacheClear(t *testing.T) {
	c := NewCache(0, 0)
	at := time.Now()
	c.ShouldProcess("something", at)
	c.MarkProcessed(at)

	c.Clear()
	if c.Len() != 0 {
		t.Fatal("clear left fingerprints behind")
	}
	if !c.ShouldProcess("something", at) {
		t.Fatal("cleared cache should process again")
	}
}

func TestFingerprintDeterministic(t *testing.T) {
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	if Fingerprint("abc", at) != Fingerprint("abc", at.Add(30*time.Second)) {
		t.Error("same bucket should fingerprint identically")
	}
	if Fingerprint("abc", at) == Fingerprint("abd", at) {
		t.Error("different content should fingerprint differently")
	}
}
