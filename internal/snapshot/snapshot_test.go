package snapshot

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
)

func newRedisStore(t *testing.T) *RedisStore {
	t.Helper()
	mr := miniredis.RunT(t)
	st, err := NewRedis(context.Background(), mr.Addr(), "wms")
	if err != nil {
		t.Fatalf("NewRedis: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func TestRedisStoreRoundTrip(t *testing.T) {
	st := newRedisStore(t)
	ctx := context.Background()

	if _, ok, err := st.Get(ctx, "active-layers"); err != nil || ok {
		t.Fatalf("empty get = ok=%v err=%v", ok, err)
	}

	if err := st.Set(ctx, "active-layers", []byte(`[{"id":"backend-1-parks"}]`)); err != nil {
		t.Fatalf("Set: %v", err)
	}
	val, ok, err := st.Get(ctx, "active-layers")
	if err != nil || !ok {
		t.Fatalf("Get: ok=%v err=%v", ok, err)
	}
	if string(val) != `[{"id":"backend-1-parks"}]` {
		t.Fatalf("val = %s", val)
	}

	// Whole-value replace, never a merge.
	if err := st.Set(ctx, "active-layers", []byte(`[]`)); err != nil {
		t.Fatalf("Set: %v", err)
	}
	val, _, _ = st.Get(ctx, "active-layers")
	if string(val) != `[]` {
		t.Fatalf("val after replace = %s", val)
	}

	if err := st.Remove(ctx, "active-layers"); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if _, ok, _ := st.Get(ctx, "active-layers"); ok {
		t.Fatal("key still present after Remove")
	}
}

func TestRedisStorePrefixIsolation(t *testing.T) {
	mr := miniredis.RunT(t)
	ctx := context.Background()

	a, err := NewRedis(ctx, mr.Addr(), "a")
	if err != nil {
		t.Fatalf("NewRedis: %v", err)
	}
	t.Cleanup(func() { _ = a.Close() })
	b, err := NewRedis(ctx, mr.Addr(), "b")
	if err != nil {
		t.Fatalf("NewRedis: %v", err)
	}
	t.Cleanup(func() { _ = b.Close() })

	if err := a.Set(ctx, "k", []byte("va")); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if _, ok, _ := b.Get(ctx, "k"); ok {
		t.Fatal("prefix b sees prefix a's key")
	}
}

func TestNewRedisRequiresAddr(t *testing.T) {
	if _, err := NewRedis(context.Background(), "", "wms"); err == nil {
		t.Fatal("expected error for empty address")
	}
}

func TestMemoryStoreIsolatesCallers(t *testing.T) {
	st := NewMemory()
	ctx := context.Background()

	in := []byte("hello")
	if err := st.Set(ctx, "k", in); err != nil {
		t.Fatalf("Set: %v", err)
	}
	in[0] = 'X'

	out, ok, err := st.Get(ctx, "k")
	if err != nil || !ok {
		t.Fatalf("Get: ok=%v err=%v", ok, err)
	}
	if string(out) != "hello" {
		t.Fatalf("stored value mutated through caller slice: %s", out)
	}

	out[0] = 'Y'
	again, _, _ := st.Get(ctx, "k")
	if string(again) != "hello" {
		t.Fatalf("stored value mutated through returned slice: %s", again)
	}
}
