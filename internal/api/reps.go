// Package api contains the JSON representations returned by the HTTP API that are not model types.
package api

import (
	"time"

	"github.com/flagpole-io/flagpole/internal/model"
	"github.com/flagpole-io/flagpole/internal/services"
	"github.com/flagpole-io/flagpole/internal/validation"
)

// Health states reported by the health endpoint.
const (
	HealthGood = "GOOD"
	HealthBad  = "BAD"
)

// ClientFeaturesVersion is the format version of ClientFeaturesRep.
const ClientFeaturesVersion = 2

// ErrorRep is the body of every error response.
//
// This is exported for use in test code.
type ErrorRep struct {
	Message string                  `json:"message"`
	Details []validation.FieldError `json:"details,omitempty"`
}

// HealthRep is the JSON representation returned by the health endpoint.
//
// This is exported for use in test code.
type HealthRep struct {
	Health  string `json:"health"`
	Version string `json:"version"`
}

// ClientFeaturesRep is the full feature set returned to server-side SDKs.
type ClientFeaturesRep struct {
	Version  int                   `json:"version"`
	Features []model.ClientFeature `json:"features"`
	Segments []model.Segment       `json:"segments"`
	Meta     ClientFeaturesMetaRep `json:"meta"`
}

// ClientFeaturesMetaRep describes the revision a ClientFeaturesRep was read at.
type ClientFeaturesMetaRep struct {
	RevisionID int64  `json:"revisionId"`
	ETag       string `json:"etag"`
}

// FrontendRep is the list of enabled toggles returned to frontend SDKs.
type FrontendRep struct {
	Toggles []services.FrontendToggle `json:"toggles"`
}

// CurrentUserRep describes the caller of the "user" admin endpoint.
type CurrentUserRep struct {
	User        *model.User `json:"user,omitempty"`
	Name        string      `json:"name"`
	Kind        string      `json:"kind"`
	Permissions []string    `json:"permissions"`
}

// ChangePasswordRep is the body of a password change request.
type ChangePasswordRep struct {
	Password string `json:"password"`
}

// TokenExpiryRep is the body of a request that changes the expiry time of an API token.
type TokenExpiryRep struct {
	ExpiresAt *time.Time `json:"expiresAt"`
}
