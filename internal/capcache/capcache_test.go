package capcache

import (
	"testing"
	"time"

	"github.com/metatierrascol/wms-compositor/internal/wms"
)

func validValidation(title string) wms.Validation {
	return wms.Validation{
		Valid:        true,
		Errors:       []string{},
		Warnings:     []string{},
		Capabilities: &wms.Capabilities{ServiceTitle: title},
	}
}

func TestPutGetRoundTrip(t *testing.T) {
	c := New(4, time.Minute)

	c.Put("https://maps.example.com/wms", validValidation("A"))
	got, ok := c.Get("https://maps.example.com/wms")
	if !ok || got.Capabilities.ServiceTitle != "A" {
		t.Fatalf("get = %+v, %v", got, ok)
	}

	if _, ok := c.Get("https://other.example.com/wms"); ok {
		t.Fatal("unexpected hit for different endpoint")
	}
}

func TestInvalidValidationsAreNotCached(t *testing.T) {
	c := New(4, time.Minute)
	c.Put("https://maps.example.com/wms", wms.Validation{Valid: false, Errors: []string{"down"}})
	if _, ok := c.Get("https://maps.example.com/wms"); ok {
		t.Fatal("failed validation was cached")
	}
}

func TestInvalidateAndPurge(t *testing.T) {
	c := New(4, time.Minute)
	c.Put("https://a.example.com/wms", validValidation("A"))
	c.Put("https://b.example.com/wms", validValidation("B"))

	c.Invalidate("https://a.example.com/wms")
	if _, ok := c.Get("https://a.example.com/wms"); ok {
		t.Fatal("invalidated entry still cached")
	}
	if _, ok := c.Get("https://b.example.com/wms"); !ok {
		t.Fatal("unrelated entry dropped")
	}

	c.Purge()
	if _, ok := c.Get("https://b.example.com/wms"); ok {
		t.Fatal("entry survived purge")
	}
}

func TestEntriesExpire(t *testing.T) {
	c := New(4, 50*time.Millisecond)
	c.Put("https://maps.example.com/wms", validValidation("A"))
	time.Sleep(120 * time.Millisecond)
	if _, ok := c.Get("https://maps.example.com/wms"); ok {
		t.Fatal("entry did not expire")
	}
}
