package model

import "time"

// RootRole is the account-wide role of a user or service account.
type RootRole string

// The root roles, in decreasing order of privilege.
const (
	RoleAdmin  RootRole = "Admin"
	RoleEditor RootRole = "Editor"
	RoleViewer RootRole = "Viewer"
)

// User is an account that can call the admin API. Service accounts are users with IsService set;
// they authenticate only with admin tokens.
type User struct {
	ID            int64      `json:"id"`
	Name          string     `json:"name,omitempty" validate:"max=255"`
	Email         string     `json:"email,omitempty" validate:"omitempty,email"`
	Username      string     `json:"username,omitempty" validate:"max=255"`
	RootRole      RootRole   `json:"rootRole" validate:"required,oneof=Admin Editor Viewer"`
	IsService     bool       `json:"isService"`
	PasswordHash  string     `json:"-"`
	LoginAttempts int        `json:"loginAttempts"`
	SeenAt        *time.Time `json:"seenAt,omitempty"`
	CreatedAt     time.Time  `json:"createdAt"`
}

// AddonProviderWebhook posts events to a URL.
const AddonProviderWebhook = "webhook"

// Addon is a webhook integration that receives events of the subscribed types.
type Addon struct {
	ID           int64             `json:"id"`
	Provider     string            `json:"provider" validate:"required,oneof=webhook"`
	Description  string            `json:"description,omitempty" validate:"max=1000"`
	Enabled      bool              `json:"enabled"`
	Parameters   map[string]string `json:"parameters"`
	Events       []EventType       `json:"events" validate:"required,min=1"`
	Projects     []string          `json:"projects,omitempty"`
	Environments []string          `json:"environments,omitempty"`
	CreatedAt    time.Time         `json:"createdAt"`
}
