package model

import (
	"encoding/json"
	"time"
)

// FeatureType describes the purpose of a feature toggle. It has no effect on evaluation.
type FeatureType string

// The feature types recognized by the admin API.
const (
	FeatureTypeRelease     FeatureType = "release"
	FeatureTypeExperiment  FeatureType = "experiment"
	FeatureTypeOperational FeatureType = "operational"
	FeatureTypeKillSwitch  FeatureType = "kill-switch"
	FeatureTypePermission  FeatureType = "permission"
)

// DefaultFeatureType is used when a feature is created without a type.
const DefaultFeatureType = FeatureTypeRelease

// Feature is a feature toggle. Its name is unique across all projects, including archived features.
type Feature struct {
	Name           string      `json:"name" validate:"required,urlsafe,max=100"`
	Project        string      `json:"project"`
	Description    string      `json:"description,omitempty" validate:"max=1000"`
	Type           FeatureType `json:"type" validate:"omitempty,oneof=release experiment operational kill-switch permission"`
	Stale          bool        `json:"stale"`
	ImpressionData bool        `json:"impressionData"`
	Archived       bool        `json:"archived"`
	ArchivedAt     *time.Time  `json:"archivedAt,omitempty"`
	CreatedAt      time.Time   `json:"createdAt"`
	CreatedBy      string      `json:"createdBy,omitempty"`
}

// FeatureEnvironment is the per-environment enabled state of a feature.
type FeatureEnvironment struct {
	FeatureName string `json:"featureName"`
	Environment string `json:"environment"`
	Enabled     bool   `json:"enabled"`
}

// Constraint restricts when a strategy or segment applies, based on one context field.
type Constraint struct {
	ContextName     string   `json:"contextName" validate:"required"`
	Operator        Operator `json:"operator" validate:"required,operator"`
	Values          []string `json:"values,omitempty"`
	Value           string   `json:"value,omitempty"`
	Inverted        bool     `json:"inverted,omitempty"`
	CaseInsensitive bool     `json:"caseInsensitive,omitempty"`
}

// Operator is a constraint operator.
type Operator string

// The supported constraint operators.
const (
	OpIn            Operator = "IN"
	OpNotIn         Operator = "NOT_IN"
	OpStrContains   Operator = "STR_CONTAINS"
	OpStrStartsWith Operator = "STR_STARTS_WITH"
	OpStrEndsWith   Operator = "STR_ENDS_WITH"
	OpNumEq         Operator = "NUM_EQ"
	OpNumGt         Operator = "NUM_GT"
	OpNumGte        Operator = "NUM_GTE"
	OpNumLt         Operator = "NUM_LT"
	OpNumLte        Operator = "NUM_LTE"
	OpDateAfter     Operator = "DATE_AFTER"
	OpDateBefore    Operator = "DATE_BEFORE"
	OpSemverEq      Operator = "SEMVER_EQ"
	OpSemverGt      Operator = "SEMVER_GT"
	OpSemverLt      Operator = "SEMVER_LT"
)

// AllOperators lists every Operator value.
var AllOperators = []Operator{ //nolint:gochecknoglobals
	OpIn, OpNotIn, OpStrContains, OpStrStartsWith, OpStrEndsWith,
	OpNumEq, OpNumGt, OpNumGte, OpNumLt, OpNumLte,
	OpDateAfter, OpDateBefore, OpSemverEq, OpSemverGt, OpSemverLt,
}

// IsValid reports whether o is one of AllOperators.
func (o Operator) IsValid() bool {
	for _, op := range AllOperators {
		if o == op {
			return true
		}
	}
	return false
}

// FeatureStrategy is an activation strategy attached to a feature in one environment.
type FeatureStrategy struct {
	ID          string            `json:"id"`
	FeatureName string            `json:"featureName"`
	ProjectID   string            `json:"projectId"`
	Environment string            `json:"environment"`
	Name        string            `json:"name" validate:"required,max=255"`
	Title       string            `json:"title,omitempty" validate:"max=255"`
	Parameters  map[string]string `json:"parameters"`
	Constraints []Constraint      `json:"constraints" validate:"dive"`
	Segments    []int64           `json:"segments,omitempty"`
	Disabled    bool              `json:"disabled"`
	SortOrder   int               `json:"sortOrder"`
	CreatedAt   time.Time         `json:"createdAt"`
}

// StrategyParameterType is the type of a strategy definition parameter.
type StrategyParameterType string

// The parameter types a strategy definition may declare.
const (
	ParamString     StrategyParameterType = "string"
	ParamPercentage StrategyParameterType = "percentage"
	ParamList       StrategyParameterType = "list"
	ParamNumber     StrategyParameterType = "number"
	ParamBoolean    StrategyParameterType = "boolean"
)

// StrategyParameter describes one parameter of a strategy definition.
type StrategyParameter struct {
	Name        string                `json:"name" validate:"required"`
	Type        StrategyParameterType `json:"type" validate:"required,oneof=string percentage list number boolean"`
	Description string                `json:"description,omitempty"`
	Required    bool                  `json:"required"`
}

// StrategyDefinition is a strategy type that feature strategies may reference by name.
type StrategyDefinition struct {
	Name        string              `json:"name" validate:"required,urlsafe,max=100"`
	DisplayName string              `json:"displayName,omitempty" validate:"max=255"`
	Description string              `json:"description,omitempty" validate:"max=1000"`
	Parameters  []StrategyParameter `json:"parameters" validate:"dive"`
	BuiltIn     bool                `json:"builtIn"`
	Deprecated  bool                `json:"deprecated"`
}

// Segment is a reusable list of constraints that strategies may reference by ID.
type Segment struct {
	ID          int64        `json:"id"`
	Name        string       `json:"name" validate:"required,max=255"`
	Description string       `json:"description,omitempty" validate:"max=1000"`
	Project     string       `json:"project,omitempty"`
	Constraints []Constraint `json:"constraints" validate:"dive"`
	CreatedAt   time.Time    `json:"createdAt"`
	CreatedBy   string       `json:"createdBy,omitempty"`
}

// ClientFeature is the representation of a feature in one environment as served to SDKs.
type ClientFeature struct {
	Name           string           `json:"name"`
	Project        string           `json:"project"`
	Type           FeatureType      `json:"type"`
	Description    string           `json:"description,omitempty"`
	Enabled        bool             `json:"enabled"`
	Stale          bool             `json:"stale"`
	ImpressionData bool             `json:"impressionData"`
	Strategies     []ClientStrategy `json:"strategies"`
}

// ClientStrategy is a strategy as served to SDKs, with segment constraints already merged in.
type ClientStrategy struct {
	ID          string            `json:"id"`
	Name        string            `json:"name"`
	Parameters  map[string]string `json:"parameters"`
	Constraints []Constraint      `json:"constraints"`
	Segments    []int64           `json:"segments,omitempty"`
}

// RemovedFeature identifies a feature in the removed list of a delta.
type RemovedFeature struct {
	Name string `json:"name"`
}

// RawJSON is a convenience for building event payloads.
func RawJSON(v interface{}) json.RawMessage {
	if v == nil {
		return nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	return data
}
