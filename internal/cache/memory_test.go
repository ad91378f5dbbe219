package cache

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestMemoryProviderRoundTrip(t *testing.T) {
	p := NewMemoryProvider()
	ctx := context.Background()

	if _, err := p.Get(ctx, "missing"); !errors.Is(err, ErrCacheMiss) {
		t.Fatalf("expected ErrCacheMiss, got %v", err)
	}

	if err := p.Set(ctx, "k", []byte("v"), 0); err != nil {
		t.Fatalf("set: %v", err)
	}
	value, err := p.Get(ctx, "k")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if string(value) != "v" {
		t.Fatalf("value = %q", value)
	}

	if err := p.Del(ctx, "k"); err != nil {
		t.Fatalf("del: %v", err)
	}
	if _, err := p.Get(ctx, "k"); !errors.Is(err, ErrCacheMiss) {
		t.Fatalf("expected miss after delete, got %v", err)
	}
}

func TestMemoryProviderTTLExpiry(t *testing.T) {
	p := NewMemoryProvider()
	ctx := context.Background()

	if err := p.Set(ctx, "k", []byte("v"), 10*time.Millisecond); err != nil {
		t.Fatalf("set: %v", err)
	}
	time.Sleep(20 * time.Millisecond)
	if _, err := p.Get(ctx, "k"); !errors.Is(err, ErrCacheMiss) {
		t.Fatalf("expected expiry, got %v", err)
	}
}

func TestMemoryProviderSetNX(t *testing.T) {
	p := NewMemoryProvider()
	ctx := context.Background()

	ok, err := p.SetNX(ctx, "k", []byte("first"), 0)
	if err != nil || !ok {
		t.Fatalf("first SetNX = %v, %v", ok, err)
	}
	ok, err = p.SetNX(ctx, "k", []byte("second"), 0)
	if err != nil || ok {
		t.Fatalf("second SetNX should not overwrite; got %v, %v", ok, err)
	}
	value, _ := p.Get(ctx, "k")
	if string(value) != "first" {
		t.Fatalf("value = %q", value)
	}
}

func TestNoopProviderNeverStores(t *testing.T) {
	p := NoopProvider{}
	ctx := context.Background()

	if err := p.Set(ctx, "k", []byte("v"), time.Minute); err != nil {
		t.Fatalf("set: %v", err)
	}
	if _, err := p.Get(ctx, "k"); !errors.Is(err, ErrCacheMiss) {
		t.Fatalf("noop must always miss, got %v", err)
	}
}
