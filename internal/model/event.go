package model

import (
	"encoding/json"
	"strings"
	"time"
)

// EventType identifies the kind of change an Event records.
type EventType string

// The event types written to the event log.
const (
	EventFeatureCreated             EventType = "feature-created"
	EventFeatureUpdated             EventType = "feature-updated"
	EventFeatureArchived            EventType = "feature-archived"
	EventFeatureRevived             EventType = "feature-revived"
	EventFeatureDeleted             EventType = "feature-deleted"
	EventFeatureEnvironmentEnabled  EventType = "feature-environment-enabled"
	EventFeatureEnvironmentDisabled EventType = "feature-environment-disabled"
	EventFeatureStrategyAdded       EventType = "feature-strategy-add"
	EventFeatureStrategyUpdated     EventType = "feature-strategy-update"
	EventFeatureStrategyRemoved     EventType = "feature-strategy-remove"
	EventFeatureTagged              EventType = "feature-tagged"
	EventFeatureUntagged            EventType = "feature-untagged"
	EventFeaturesImported           EventType = "features-imported"

	EventSegmentCreated EventType = "segment-created"
	EventSegmentUpdated EventType = "segment-updated"
	EventSegmentDeleted EventType = "segment-deleted"

	EventProjectCreated EventType = "project-created"
	EventProjectUpdated EventType = "project-updated"
	EventProjectDeleted EventType = "project-deleted"

	EventEnvironmentCreated EventType = "environment-created"
	EventEnvironmentUpdated EventType = "environment-updated"
	EventEnvironmentDeleted EventType = "environment-deleted"

	EventStrategyCreated     EventType = "strategy-created"
	EventStrategyUpdated     EventType = "strategy-updated"
	EventStrategyDeleted     EventType = "strategy-deleted"
	EventStrategyDeprecated  EventType = "strategy-deprecated"
	EventStrategyReactivated EventType = "strategy-reactivated"

	EventTagTypeCreated EventType = "tag-type-created"
	EventTagTypeUpdated EventType = "tag-type-updated"
	EventTagTypeDeleted EventType = "tag-type-deleted"

	EventAPITokenCreated EventType = "api-token-created"
	EventAPITokenDeleted EventType = "api-token-deleted"

	EventAddonCreated EventType = "addon-config-created"
	EventAddonUpdated EventType = "addon-config-updated"
	EventAddonDeleted EventType = "addon-config-deleted"

	EventUserCreated EventType = "user-created"
	EventUserUpdated EventType = "user-updated"
	EventUserDeleted EventType = "user-deleted"
)

// AdvancesRevision reports whether an event of this type changes what SDKs see, and therefore
// advances the revision.
func (t EventType) AdvancesRevision() bool {
	switch t {
	case EventFeatureTagged, EventFeatureUntagged, EventFeaturesImported:
		return false
	case EventSegmentUpdated, EventSegmentDeleted:
		return true
	}
	return strings.HasPrefix(string(t), "feature-")
}

// IsFeatureEvent reports whether the event refers to a single feature by name.
func (t EventType) IsFeatureEvent() bool {
	return strings.HasPrefix(string(t), "feature-")
}

// Event is an entry in the event log. Revision is set for events that advance the revision and is
// the revision they produced; other events carry the revision that was current when they were written.
type Event struct {
	ID          int64           `json:"id"`
	Type        EventType       `json:"type"`
	Revision    int64           `json:"revision"`
	CreatedBy   string          `json:"createdBy"`
	CreatedAt   time.Time       `json:"createdAt"`
	FeatureName string          `json:"featureName,omitempty"`
	Project     string          `json:"project,omitempty"`
	Environment string          `json:"environment,omitempty"`
	SegmentID   *int64          `json:"segmentId,omitempty"`
	Tags        []Tag           `json:"tags,omitempty"`
	Data        json.RawMessage `json:"data,omitempty"`
	PreData     json.RawMessage `json:"preData,omitempty"`
}
