package logger

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"
)

// Publisher sends one keyed message to a topic. *kafka.Producer satisfies it.
type Publisher interface {
	Publish(ctx context.Context, topic string, key []byte, value interface{}) error
}

// CollectorConfig controls how warnings and errors are batched before publishing.
type CollectorConfig struct {
	Interval       time.Duration // flush period
	CountThreshold int           // distinct entries that force an early flush
	Topic          string
	Source         string // message key, usually the environment
	Publisher      Publisher
	PublishTimeout time.Duration
}

// Digest is one distinct warning or error and how often it repeated.
type Digest struct {
	Level     string                 `json:"level"`
	Component string                 `json:"component,omitempty"`
	Message   string                 `json:"message"`
	Fields    map[string]interface{} `json:"fields,omitempty"`
	Count     int                    `json:"count"`
	FirstSeen time.Time              `json:"first_seen"`
	LastSeen  time.Time              `json:"last_seen"`
}

// DigestBatch is the payload of one flush.
type DigestBatch struct {
	Source    string    `json:"source"`
	FlushedAt time.Time `json:"flushed_at"`
	Entries   []Digest  `json:"entries"`
}

// Collector aggregates repeated log lines by level, component and message.
// Fields of the latest occurrence are kept.
type Collector struct {
	cfg CollectorConfig
	now func() time.Time

	mu      sync.Mutex
	entries map[string]*Digest
	order   []string

	kick      chan struct{}
	done      chan struct{}
	wg        sync.WaitGroup
	closeOnce sync.Once
}

// NewCollector starts the flush loop. Close must be called to publish the tail.
func NewCollector(cfg CollectorConfig) *Collector {
	if cfg.Interval <= 0 {
		cfg.Interval = 30 * time.Second
	}
	if cfg.CountThreshold <= 0 {
		cfg.CountThreshold = 100
	}
	if cfg.PublishTimeout <= 0 {
		cfg.PublishTimeout = 10 * time.Second
	}

	c := &Collector{
		cfg:     cfg,
		now:     time.Now,
		entries: make(map[string]*Digest),
		kick:    make(chan struct{}, 1),
		done:    make(chan struct{}),
	}
	c.wg.Add(1)
	go c.loop()
	return c
}

// Add records one occurrence.
func (c *Collector) Add(level, component, message string, fields map[string]interface{}) {
	key := level + "\x00" + component + "\x00" + message
	now := c.now()

	c.mu.Lock()
	d, ok := c.entries[key]
	if !ok {
		d = &Digest{Level: level, Component: component, Message: message, FirstSeen: now}
		c.entries[key] = d
		c.order = append(c.order, key)
	}
	d.Count++
	d.LastSeen = now
	d.Fields = fields
	full := len(c.entries) >= c.cfg.CountThreshold
	c.mu.Unlock()

	if full {
		select {
		case c.kick <- struct{}{}:
		default:
		}
	}
}

// Pending returns the number of distinct entries not yet published.
func (c *Collector) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

func (c *Collector) loop() {
	defer c.wg.Done()

	ticker := time.NewTicker(c.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.flush()
		case <-c.kick:
			c.flush()
		case <-c.done:
			c.flush()
			return
		}
	}
}

// drain takes every pending entry in first-seen order.
func (c *Collector) drain() []Digest {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.entries) == 0 {
		return nil
	}
	out := make([]Digest, 0, len(c.order))
	for _, key := range c.order {
		out = append(out, *c.entries[key])
	}
	c.entries = make(map[string]*Digest)
	c.order = nil
	return out
}

func (c *Collector) flush() {
	entries := c.drain()
	if len(entries) == 0 || c.cfg.Publisher == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), c.cfg.PublishTimeout)
	defer cancel()

	batch := DigestBatch{Source: c.cfg.Source, FlushedAt: c.now(), Entries: entries}
	if err := c.cfg.Publisher.Publish(ctx, c.cfg.Topic, []byte(c.cfg.Source), batch); err != nil {
		fmt.Fprintf(os.Stderr, "log collector: publish %d entries: %v\n", len(entries), err)
	}
}

// Close stops the loop after publishing what is pending.
func (c *Collector) Close() {
	c.closeOnce.Do(func() {
		close(c.done)
	})
	c.wg.Wait()
}
