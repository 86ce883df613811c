package invalidation

import (
	"testing"
	"time"
)

func validEvent() Event {
	return Event{
		Version:   1,
		Op:        OpServiceUpdated,
		ServiceID: 7,
		BaseURL:   "https://maps.example.com/wms",
		TS:        time.Now(),
	}
}

func TestValidateAcceptsWellFormedEvent(t *testing.T) {
	if err := validEvent().Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}

	byURL := validEvent()
	byURL.ServiceID = 0
	if err := byURL.Validate(); err != nil {
		t.Fatalf("Validate with only base_url: %v", err)
	}
}

func TestValidateRejections(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Event)
	}{
		{"wrong version", func(e *Event) { e.Version = 2 }},
		{"unknown op", func(e *Event) { e.Op = "truncate" }},
		{"no identity", func(e *Event) { e.ServiceID = 0; e.BaseURL = "  " }},
		{"zero timestamp", func(e *Event) { e.TS = time.Time{} }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			e := validEvent()
			tc.mutate(&e)
			if err := e.Validate(); err == nil {
				t.Fatal("expected validation error")
			}
		})
	}
}
