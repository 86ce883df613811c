// Package invalidation defines the upstream service-change events that
// force cached capabilities and active layers to be refreshed.
package invalidation

import (
	"fmt"
	"strings"
	"time"
)

const (
	OpServiceUpdated = "service-updated"
	OpServiceDeleted = "service-deleted"
	OpLayersChanged  = "layers-changed"
)

// Event is one upstream change notification. Either the service id or its
// base URL identifies the affected service; both may be present.
type Event struct {
	Version   int       `json:"version"`
	Op        string    `json:"op"`
	ServiceID int64     `json:"service_id,omitempty"`
	BaseURL   string    `json:"base_url,omitempty"`
	TS        time.Time `json:"ts"`
	Source    string    `json:"source,omitempty"`
}

func (e Event) Validate() error {
	if e.Version != 1 {
		return fmt.Errorf("version must be 1")
	}
	switch e.Op {
	case OpServiceUpdated, OpServiceDeleted, OpLayersChanged:
	default:
		return fmt.Errorf("op must be %s|%s|%s", OpServiceUpdated, OpServiceDeleted, OpLayersChanged)
	}
	if e.ServiceID <= 0 && strings.TrimSpace(e.BaseURL) == "" {
		return fmt.Errorf("one of service_id or base_url is required")
	}
	if e.TS.IsZero() {
		return fmt.Errorf("ts is required")
	}
	return nil
}
