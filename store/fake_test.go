package store

import (
	"context"
	"testing"
	"time"
)

func TestFakeStoreIncrAndExpire(t *testing.T) {
	ctx := context.Background()
	s := NewFake()

	n, err := s.Incr(ctx, "counter")
	if err != nil || n != 1 {
		t.Fatalf("Incr = %d, %v; want 1, nil", n, err)
	}
	n, err = s.Incr(ctx, "counter")
	if err != nil || n != 2 {
		t.Fatalf("Incr = %d, %v; want 2, nil", n, err)
	}

	if err := s.Expire(ctx, "counter", 10*time.Millisecond); err != nil {
		t.Fatalf("Expire: %v", err)
	}
	time.Sleep(20 * time.Millisecond)
	if _, ok, _ := s.Get(ctx, "counter"); ok {
		t.Fatal("expected counter to have expired")
	}
}

func TestFakeStoreKeysPattern(t *testing.T) {
	ctx := context.Background()
	s := NewFake()
	_ = s.SetEX(ctx, "cache:recent:abc", "v", 0)
	_ = s.SetEX(ctx, "cache:historical:def", "v", 0)

	keys, err := s.Keys(ctx, "*recent*")
	if err != nil {
		t.Fatalf("Keys: %v", err)
	}
	if len(keys) != 1 || keys[0] != "cache:recent:abc" {
		t.Fatalf("Keys(*recent*) = %v, want [cache:recent:abc]", keys)
	}
}
