package cache

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"
)

type fakeRemote struct {
	data   map[string][]byte
	ttls   map[string]time.Duration
	gets   int
	setErr error
	closed bool
}

func newFakeRemote() *fakeRemote {
	return &fakeRemote{data: map[string][]byte{}, ttls: map[string]time.Duration{}}
}

func (r *fakeRemote) Set(_ context.Context, key string, value interface{}, expiration time.Duration) error {
	if r.setErr != nil {
		return r.setErr
	}
	b, err := json.Marshal(value)
	if err != nil {
		return err
	}
	r.data[key] = b
	r.ttls[key] = expiration
	return nil
}

func (r *fakeRemote) Get(_ context.Context, key string, dest interface{}) error {
	r.gets++
	b, ok := r.data[key]
	if !ok {
		return ErrCacheMiss
	}
	return json.Unmarshal(b, dest)
}

func (r *fakeRemote) Delete(_ context.Context, keys ...string) error {
	for _, k := range keys {
		delete(r.data, k)
	}
	return nil
}

func (r *fakeRemote) Exists(_ context.Context, keys ...string) (bool, error) {
	for _, k := range keys {
		if _, ok := r.data[k]; ok {
			return true, nil
		}
	}
	return false, nil
}

func (r *fakeRemote) Close() error {
	r.closed = true
	return nil
}

func TestLayeredCachePromotesRemoteHit(t *testing.T) {
	remote := newFakeRemote()
	lc := NewLayeredCache(remote, WithLayeredMemory(10, time.Minute))
	ctx := context.Background()

	if err := remote.Set(ctx, "inst:AAPL", instrument{ID: 7, Symbol: "AAPL"}, time.Hour); err != nil {
		t.Fatalf("seed: %v", err)
	}

	var got instrument
	if err := lc.Get(ctx, "inst:AAPL", &got); err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.ID != 7 || remote.gets != 1 {
		t.Fatalf("expected a remote read, got %+v after %d gets", got, remote.gets)
	}

	var again instrument
	if err := lc.Get(ctx, "inst:AAPL", &again); err != nil {
		t.Fatalf("second get: %v", err)
	}
	if again != got || remote.gets != 1 {
		t.Fatalf("second read should come from memory, remote gets=%d", remote.gets)
	}
}

func TestLayeredCacheWritesThrough(t *testing.T) {
	remote := newFakeRemote()
	lc := NewLayeredCache(remote)
	ctx := context.Background()

	if err := lc.Set(ctx, "inst:MSFT", instrument{ID: 9, Symbol: "MSFT"}, time.Hour); err != nil {
		t.Fatalf("set: %v", err)
	}
	if _, ok := remote.data["inst:MSFT"]; !ok || remote.ttls["inst:MSFT"] != time.Hour {
		t.Fatalf("value not written to remote with its ttl: %v", remote.ttls)
	}

	var got instrument
	if err := lc.Get(ctx, "inst:MSFT", &got); err != nil || got.ID != 9 {
		t.Fatalf("get: %+v %v", got, err)
	}
	if remote.gets != 0 {
		t.Fatalf("write-through value should be served from memory, remote gets=%d", remote.gets)
	}
}

func TestLayeredCacheRemoteFailureSkipsMemory(t *testing.T) {
	remote := newFakeRemote()
	remote.setErr = errors.New("redis down")
	lc := NewLayeredCache(remote)
	ctx := context.Background()

	if err := lc.Set(ctx, "k", 1, time.Minute); !errors.Is(err, remote.setErr) {
		t.Fatalf("expected remote error, got %v", err)
	}
	if ok, _ := lc.Exists(ctx, "k"); ok {
		t.Fatalf("failed write must not reach memory")
	}
}

func TestLayeredCacheDeleteAndClose(t *testing.T) {
	remote := newFakeRemote()
	lc := NewLayeredCache(remote)
	ctx := context.Background()

	_ = lc.Set(ctx, "k", 1, time.Minute)
	if err := lc.Delete(ctx, "k"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	var v int
	if err := lc.Get(ctx, "k", &v); !errors.Is(err, ErrCacheMiss) {
		t.Fatalf("expected miss after delete, got %v", err)
	}
	if err := lc.Close(); err != nil || !remote.closed {
		t.Fatalf("close should reach remote: %v", err)
	}
}
