package tiered

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/tillerhq/tiller/internal/port/cache"
)

var _ cache.Cache = (*Cache)(nil)

type memCache struct {
	data map[string][]byte
	err  error
}

func newMemCache() *memCache {
	return &memCache{data: map[string][]byte{}}
}

func (m *memCache) Get(_ context.Context, key string) ([]byte, bool, error) {
	if m.err != nil {
		return nil, false, m.err
	}
	v, ok := m.data[key]
	return v, ok, nil
}

func (m *memCache) Set(_ context.Context, key string, value []byte, _ time.Duration) error {
	if m.err != nil {
		return m.err
	}
	m.data[key] = value
	return nil
}

func (m *memCache) Delete(_ context.Context, key string) error {
	delete(m.data, key)
	return nil
}

func TestGetLocalHitSkipsRemote(t *testing.T) {
	local, remote := newMemCache(), newMemCache()
	local.data["k"] = []byte("local")
	remote.data["k"] = []byte("remote")

	c := New(local, remote, time.Minute)
	val, ok, err := c.Get(context.Background(), "k")
	if err != nil || !ok {
		t.Fatalf("Get: ok=%v err=%v", ok, err)
	}
	if !bytes.Equal(val, []byte("local")) {
		t.Errorf("val = %q, want local tier value", val)
	}
}

func TestGetRemoteHitBackfillsLocal(t *testing.T) {
	local, remote := newMemCache(), newMemCache()
	remote.data["k"] = []byte("remote")

	c := New(local, remote, time.Minute)
	val, ok, err := c.Get(context.Background(), "k")
	if err != nil || !ok {
		t.Fatalf("Get: ok=%v err=%v", ok, err)
	}
	if !bytes.Equal(val, []byte("remote")) {
		t.Errorf("val = %q", val)
	}
	if _, ok := local.data["k"]; !ok {
		t.Error("local tier not backfilled")
	}
}

func TestGetMissBothTiers(t *testing.T) {
	c := New(newMemCache(), newMemCache(), time.Minute)
	_, ok, err := c.Get(context.Background(), "nope")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if ok {
		t.Error("expected miss")
	}
}

func TestSetWritesBothTiers(t *testing.T) {
	local, remote := newMemCache(), newMemCache()
	c := New(local, remote, time.Minute)

	if err := c.Set(context.Background(), "k", []byte("v"), time.Minute); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if _, ok := local.data["k"]; !ok {
		t.Error("local tier missing key")
	}
	if _, ok := remote.data["k"]; !ok {
		t.Error("remote tier missing key")
	}
}

func TestDeleteRemovesBothTiers(t *testing.T) {
	local, remote := newMemCache(), newMemCache()
	local.data["k"] = []byte("v")
	remote.data["k"] = []byte("v")
	c := New(local, remote, time.Minute)

	if err := c.Delete(context.Background(), "k"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if len(local.data) != 0 || len(remote.data) != 0 {
		t.Error("key not removed from both tiers")
	}
}

func TestRemoteErrorPropagates(t *testing.T) {
	remote := newMemCache()
	remote.err = errors.New("kv unavailable")
	c := New(newMemCache(), remote, time.Minute)

	if _, _, err := c.Get(context.Background(), "k"); err == nil {
		t.Error("expected error from remote tier")
	}
	if err := c.Set(context.Background(), "k", []byte("v"), time.Minute); err == nil {
		t.Error("expected error from remote tier")
	}
}
