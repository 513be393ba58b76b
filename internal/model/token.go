package model

import (
	"strings"
	"time"
)

// TokenType is the kind of an API token, which determines which API it can call.
type TokenType string

// The API token types.
const (
	TokenTypeClient   TokenType = "client"
	TokenTypeFrontend TokenType = "frontend"
	TokenTypeAdmin    TokenType = "admin"
)

// AllProjects is the project wildcard for tokens. A token with this project can read every project.
const AllProjects = "*"

// AllEnvironments is the environment wildcard, only allowed on admin tokens.
const AllEnvironments = "*"

// APIToken is an API credential. The Secret is the value callers send in the Authorization header; it
// has the form "<project>:<environment>.<random>", with "[]" as the project part for multi-project
// tokens.
type APIToken struct {
	Secret      string     `json:"secret"`
	TokenName   string     `json:"tokenName" validate:"required,max=255"`
	Type        TokenType  `json:"type" validate:"required,oneof=client frontend admin"`
	Environment string     `json:"environment"`
	Projects    []string   `json:"projects"`
	ExpiresAt   *time.Time `json:"expiresAt,omitempty"`
	CreatedAt   time.Time  `json:"createdAt"`
	SeenAt      *time.Time `json:"seenAt,omitempty"`
}

// IsExpired reports whether the token has an expiry time that is not after now.
func (t APIToken) IsExpired(now time.Time) bool {
	return t.ExpiresAt != nil && !t.ExpiresAt.After(now)
}

// CoversAllProjects reports whether the token is scoped to every project.
func (t APIToken) CoversAllProjects() bool {
	for _, p := range t.Projects {
		if p == AllProjects {
			return true
		}
	}
	return len(t.Projects) == 0
}

// TokenPrefix is the part of a secret before the random suffix, e.g. "default:development".
func TokenPrefix(projects []string, environment string) string {
	project := AllProjects
	switch {
	case len(projects) == 1:
		project = projects[0]
	case len(projects) > 1:
		project = "[]"
	}
	return project + ":" + environment
}

// ParseTokenSecret splits a secret into its project and environment parts. It returns ok=false if
// the secret does not have the expected shape.
func ParseTokenSecret(secret string) (project, environment string, ok bool) {
	colon := strings.Index(secret, ":")
	if colon <= 0 {
		return "", "", false
	}
	rest := secret[colon+1:]
	dot := strings.Index(rest, ".")
	if dot <= 0 || dot == len(rest)-1 {
		return "", "", false
	}
	return secret[:colon], rest[:dot], true
}
