package services

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/flagpole-io/flagpole/internal/model"
	"github.com/flagpole-io/flagpole/internal/store"
	"github.com/flagpole-io/flagpole/internal/validation"
)

// APITokenService manages API tokens.
type APITokenService struct {
	base
	disableAdminTokens bool
}

// CreateTokenRequest is the body of a request to create an API token.
type CreateTokenRequest struct {
	TokenName   string          `json:"tokenName" validate:"required,max=255"`
	Type        model.TokenType `json:"type" validate:"required,oneof=client frontend admin"`
	Environment string          `json:"environment"`
	Projects    []string        `json:"projects"`
	Project     string          `json:"project"`
	ExpiresAt   *time.Time      `json:"expiresAt"`
}

// List returns all tokens.
func (s *APITokenService) List(ctx context.Context) ([]model.APIToken, error) {
	var ret []model.APIToken
	err := s.read(ctx, func(tx store.Tx) (err error) {
		ret, err = tx.ListTokens(ctx)
		return
	})
	return ret, err
}

// Create issues a new token with a random secret.
func (s *APITokenService) Create(ctx context.Context, req CreateTokenRequest, by string) (model.APIToken, error) {
	req.Type = model.TokenType(strings.ToLower(string(req.Type)))
	if err := validation.Struct(req); err != nil {
		return model.APIToken{}, err
	}
	if req.Type == model.TokenTypeAdmin && s.disableAdminTokens {
		return model.APIToken{}, denied("Admin tokens are disabled")
	}
	projects := req.Projects
	if len(projects) == 0 && req.Project != "" {
		projects = []string{req.Project}
	}
	if len(projects) == 0 {
		projects = []string{model.AllProjects}
	}
	t := model.APIToken{
		TokenName:   req.TokenName,
		Type:        req.Type,
		Environment: req.Environment,
		Projects:    projects,
		ExpiresAt:   req.ExpiresAt,
	}
	if t.Type == model.TokenTypeAdmin {
		t.Environment = model.AllEnvironments
		t.Projects = []string{model.AllProjects}
	}
	err := s.write(ctx, by, func(w *writer) error {
		if err := checkTokenScope(ctx, w, t); err != nil {
			return err
		}
		t.Secret = model.TokenPrefix(t.Projects, t.Environment) + "." + randomSecret()
		t.CreatedAt = w.now
		if err := w.InsertToken(ctx, t); err != nil {
			return err
		}
		return w.emit(model.Event{Type: model.EventAPITokenCreated, Environment: t.Environment,
			Data: model.RawJSON(map[string]interface{}{"tokenName": t.TokenName, "type": t.Type, "projects": t.Projects})})
	})
	return t, err
}

func checkTokenScope(ctx context.Context, tx store.Tx, t model.APIToken) error {
	if t.Type == model.TokenTypeAdmin {
		return nil
	}
	if t.Environment == "" || t.Environment == model.AllEnvironments {
		return validation.NewError("environment", "environment is required for client and frontend tokens")
	}
	if _, err := tx.GetEnvironment(ctx, t.Environment); errors.Is(err, store.ErrNotFound) {
		return validation.NewErrorf("environment", "environment %q does not exist", t.Environment)
	} else if err != nil {
		return err
	}
	for _, p := range t.Projects {
		if p == model.AllProjects {
			continue
		}
		if _, err := tx.GetProject(ctx, p); errors.Is(err, store.ErrNotFound) {
			return validation.NewErrorf("projects", "project %q does not exist", p)
		} else if err != nil {
			return err
		}
	}
	return nil
}

// secretPrefix is the part of a secret that can be shown in messages.
func secretPrefix(secret string) string {
	return strings.SplitN(secret, ".", 2)[0]
}

func randomSecret() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}

// UpdateExpiry changes the expiry time of a token.
func (s *APITokenService) UpdateExpiry(ctx context.Context, secret string, expiresAt *time.Time, by string) error {
	return s.write(ctx, by, func(w *writer) error {
		t, err := w.GetToken(ctx, secret)
		if err != nil {
			return orNotFound(err, "api token", secretPrefix(secret))
		}
		t.ExpiresAt = expiresAt
		return w.UpdateToken(ctx, t)
	})
}

// Delete revokes a token.
func (s *APITokenService) Delete(ctx context.Context, secret, by string) error {
	return s.write(ctx, by, func(w *writer) error {
		t, err := w.GetToken(ctx, secret)
		if err != nil {
			return orNotFound(err, "api token", secretPrefix(secret))
		}
		if err := w.DeleteToken(ctx, secret); err != nil {
			return err
		}
		return w.emit(model.Event{Type: model.EventAPITokenDeleted, Environment: t.Environment,
			PreData: model.RawJSON(map[string]interface{}{"tokenName": t.TokenName, "type": t.Type, "projects": t.Projects})})
	})
}

// Resolve returns the token with the given secret. It returns ErrInvalidCredentials if the token does
// not exist, has expired, or is an admin token while admin tokens are disabled.
func (s *APITokenService) Resolve(ctx context.Context, secret string) (model.APIToken, error) {
	var t model.APIToken
	err := s.read(ctx, func(tx store.Tx) (err error) {
		t, err = tx.GetToken(ctx, secret)
		return
	})
	if errors.Is(err, store.ErrNotFound) {
		return model.APIToken{}, ErrInvalidCredentials
	}
	if err != nil {
		return model.APIToken{}, err
	}
	if t.IsExpired(s.now()) || (t.Type == model.TokenTypeAdmin && s.disableAdminTokens) {
		return model.APIToken{}, ErrInvalidCredentials
	}
	return t, nil
}

// InitTokens creates tokens with predefined secrets if they do not exist yet. The project and
// environment are taken from the secret.
func (s *APITokenService) InitTokens(ctx context.Context, tokenType model.TokenType, secrets []string) error {
	if tokenType == model.TokenTypeAdmin && s.disableAdminTokens {
		return nil
	}
	return s.write(ctx, "init-api-tokens", func(w *writer) error {
		for _, secret := range secrets {
			project, environment, ok := model.ParseTokenSecret(secret)
			if !ok {
				return validation.NewErrorf("secret", "%s token has an invalid format", tokenType)
			}
			if project == "[]" {
				project = model.AllProjects
			}
			if _, err := w.GetToken(ctx, secret); err == nil {
				continue
			} else if !errors.Is(err, store.ErrNotFound) {
				return err
			}
			t := model.APIToken{
				Secret:      secret,
				TokenName:   "init-" + string(tokenType),
				Type:        tokenType,
				Environment: environment,
				Projects:    []string{project},
				CreatedAt:   w.now,
			}
			if err := checkTokenScope(ctx, w, t); err != nil {
				return err
			}
			if err := w.InsertToken(ctx, t); err != nil {
				return err
			}
			s.loggers.Infof("Created %s API token %q", tokenType, model.TokenPrefix(t.Projects, t.Environment))
		}
		return nil
	})
}
