package services

import (
	"context"

	"github.com/flagpole-io/flagpole/internal/model"
	"github.com/flagpole-io/flagpole/internal/store"
)

// InitOptions lists the objects to create on startup if they do not exist.
type InitOptions struct {
	AdminEmail     string
	AdminPassword  string
	AdminTokens    []string
	ClientTokens   []string
	FrontendTokens []string
}

// Initialize seeds the default project, environments, strategy definitions and tag type, then creates
// the initial tokens and admin user.
func (s *Services) Initialize(ctx context.Context, opts InitOptions) error {
	b := s.Users.base
	if err := b.store.Update(ctx, func(tx store.Tx) error {
		return store.SeedDefaults(ctx, tx, b.now().UTC())
	}); err != nil {
		return err
	}
	for _, t := range []struct {
		tokenType model.TokenType
		secrets   []string
	}{
		{model.TokenTypeAdmin, opts.AdminTokens},
		{model.TokenTypeClient, opts.ClientTokens},
		{model.TokenTypeFrontend, opts.FrontendTokens},
	} {
		if len(t.secrets) == 0 {
			continue
		}
		if err := s.APITokens.InitTokens(ctx, t.tokenType, t.secrets); err != nil {
			return err
		}
	}
	if opts.AdminEmail != "" && opts.AdminPassword != "" {
		return s.Users.InitAdmin(ctx, opts.AdminEmail, opts.AdminPassword)
	}
	return nil
}
