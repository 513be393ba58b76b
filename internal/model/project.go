package model

import "time"

// DefaultProjectID is the project that is created on first start and that features belong to when no
// project is given.
const DefaultProjectID = "default"

// Project groups features. A project cannot be deleted while it still has features.
type Project struct {
	ID          string    `json:"id" validate:"required,urlsafe,max=100"`
	Name        string    `json:"name" validate:"required,max=255"`
	Description string    `json:"description,omitempty" validate:"max=1000"`
	CreatedAt   time.Time `json:"createdAt"`
}

// Environment is a named deployment target (development, production). Features have a separate
// enabled state and set of strategies per environment.
type Environment struct {
	Name      string    `json:"name" validate:"required,urlsafe,max=100"`
	Type      string    `json:"type" validate:"required,oneof=development test preproduction production"`
	Enabled   bool      `json:"enabled"`
	Protected bool      `json:"protected"`
	SortOrder int       `json:"sortOrder"`
	CreatedAt time.Time `json:"createdAt"`
}

// TagType is a category of tags, such as "simple".
type TagType struct {
	Name        string `json:"name" validate:"required,urlsafe,max=100"`
	Description string `json:"description,omitempty" validate:"max=1000"`
	Icon        string `json:"icon,omitempty"`
}

// Tag is a typed label attached to a feature.
type Tag struct {
	Type  string `json:"type" validate:"required,urlsafe,max=100"`
	Value string `json:"value" validate:"required,max=100"`
}
