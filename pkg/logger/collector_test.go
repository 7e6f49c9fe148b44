package logger

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"
)

type fakePublisher struct {
	mu      sync.Mutex
	topics  []string
	keys    []string
	batches []DigestBatch
}

func (p *fakePublisher) Publish(_ context.Context, topic string, key []byte, value interface{}) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.topics = append(p.topics, topic)
	p.keys = append(p.keys, string(key))
	p.batches = append(p.batches, value.(DigestBatch))
	return nil
}

func (p *fakePublisher) published() []DigestBatch {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]DigestBatch(nil), p.batches...)
}

func fileLogger(t *testing.T, level string) *Logger {
	t.Helper()
	l, err := New(&Config{Level: level, Format: "json", Output: filepath.Join(t.TempDir(), "app.log")})
	if err != nil {
		t.Fatalf("logger: %v", err)
	}
	return l
}

func TestCollectorAggregatesRepeatedWarnings(t *testing.T) {
	pub := &fakePublisher{}
	c := NewCollector(CollectorConfig{Interval: time.Hour, Topic: "pivotpull.logs", Source: "test", Publisher: pub})
	base := fileLogger(t, "info").WithCollector(c)

	bt := base.With(String("component", "backtest"), String("symbol", "AAPL"))
	for d := 1; d <= 3; d++ {
		bt.Warn("bar evaluation failed",
			Day("date", time.Date(2020, 1, d, 0, 0, 0, 0, time.UTC)),
			Error(errors.New("price not found")))
	}
	bt.Info("backtest finished")
	base.With(String("component", "marketsmith")).Error("marketsmith request failed", String("op", "get_patterns"))

	if got := c.Pending(); got != 2 {
		t.Fatalf("expected 2 distinct entries pending, got %d", got)
	}
	c.Close()

	batches := pub.published()
	if len(batches) != 1 {
		t.Fatalf("expected one batch on close, got %d", len(batches))
	}
	if pub.topics[0] != "pivotpull.logs" || pub.keys[0] != "test" {
		t.Fatalf("unexpected topic/key %s/%s", pub.topics[0], pub.keys[0])
	}

	entries := batches[0].Entries
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %+v", entries)
	}
	warn := entries[0]
	if warn.Level != "warn" || warn.Component != "backtest" || warn.Count != 3 {
		t.Fatalf("unexpected warning digest %+v", warn)
	}
	if warn.Fields["date"] != "2020-01-03" || warn.Fields["symbol"] != "AAPL" || warn.Fields["error"] != "price not found" {
		t.Fatalf("expected fields of the latest occurrence, got %v", warn.Fields)
	}
	if _, ok := warn.Fields["component"]; ok {
		t.Fatalf("component must not repeat inside fields: %v", warn.Fields)
	}
	if warn.LastSeen.Before(warn.FirstSeen) {
		t.Fatalf("last seen before first seen: %+v", warn)
	}
	if e := entries[1]; e.Level != "error" || e.Component != "marketsmith" || e.Count != 1 {
		t.Fatalf("unexpected error digest %+v", e)
	}
}

func TestCollectorFlushesAtThreshold(t *testing.T) {
	pub := &fakePublisher{}
	c := NewCollector(CollectorConfig{Interval: time.Hour, CountThreshold: 2, Publisher: pub})
	defer c.Close()

	c.Add("warn", "a", "first", nil)
	c.Add("warn", "b", "second", nil)

	deadline := time.Now().Add(2 * time.Second)
	for len(pub.published()) == 0 {
		if time.Now().After(deadline) {
			t.Fatalf("threshold did not trigger a flush")
		}
		time.Sleep(5 * time.Millisecond)
	}
	if got := pub.published()[0].Entries; len(got) != 2 || got[0].Message != "first" {
		t.Fatalf("unexpected entries %+v", got)
	}
	if c.Pending() != 0 {
		t.Fatalf("flushed entries must be cleared")
	}
}

func TestCollectorRespectsLevel(t *testing.T) {
	pub := &fakePublisher{}
	c := NewCollector(CollectorConfig{Interval: time.Hour, Publisher: pub})
	l := fileLogger(t, "error").WithCollector(c)

	l.Warn("below level")
	if c.Pending() != 0 {
		t.Fatalf("suppressed events must not be collected")
	}

	c.Close()
	c.Close()
	if len(pub.published()) != 0 {
		t.Fatalf("nothing pending means nothing published")
	}
}
