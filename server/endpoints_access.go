package server

import (
	"context"
	"net/http"

	"github.com/flagpole-io/flagpole/internal/api"
	"github.com/flagpole-io/flagpole/internal/model"
	"github.com/flagpole-io/flagpole/internal/permission"
	"github.com/flagpole-io/flagpole/internal/services"
	"github.com/flagpole-io/flagpole/internal/validation"
)

func (s *Server) listAPITokens(w http.ResponseWriter, req *http.Request) {
	tokens, err := s.services.APITokens.List(req.Context())
	if err != nil {
		writeError(w, req, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"tokens": listOf(tokens)})
}

func (s *Server) createAPIToken(w http.ResponseWriter, req *http.Request) {
	var r services.CreateTokenRequest
	if err := readJSON(req, &r); err != nil {
		writeError(w, req, err)
		return
	}
	t, err := s.services.APITokens.Create(req.Context(), r, by(req))
	if err != nil {
		writeError(w, req, err)
		return
	}
	writeJSON(w, http.StatusCreated, t)
}

func (s *Server) updateAPITokenExpiry(w http.ResponseWriter, req *http.Request) {
	var r api.TokenExpiryRep
	if err := readJSON(req, &r); err != nil {
		writeError(w, req, err)
		return
	}
	if err := s.services.APITokens.UpdateExpiry(req.Context(), pathParam(req, "token"), r.ExpiresAt, by(req)); err != nil {
		writeError(w, req, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (s *Server) deleteAPIToken(w http.ResponseWriter, req *http.Request) {
	if err := s.services.APITokens.Delete(req.Context(), pathParam(req, "token"), by(req)); err != nil {
		writeError(w, req, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (s *Server) listAddons(w http.ResponseWriter, req *http.Request) {
	addons, err := s.services.Addons.List(req.Context())
	if err != nil {
		writeError(w, req, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"addons": listOf(addons)})
}

func (s *Server) getAddon(w http.ResponseWriter, req *http.Request) {
	id, err := pathID(req, "id")
	if err != nil {
		writeError(w, req, err)
		return
	}
	a, err := s.services.Addons.Get(req.Context(), id)
	if err != nil {
		writeError(w, req, err)
		return
	}
	writeJSON(w, http.StatusOK, a)
}

func (s *Server) createAddon(w http.ResponseWriter, req *http.Request) {
	var a model.Addon
	if err := readJSON(req, &a); err != nil {
		writeError(w, req, err)
		return
	}
	created, err := s.services.Addons.Create(req.Context(), a, by(req))
	if err != nil {
		writeError(w, req, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func (s *Server) updateAddon(w http.ResponseWriter, req *http.Request) {
	id, err := pathID(req, "id")
	if err != nil {
		writeError(w, req, err)
		return
	}
	var a model.Addon
	if err := readJSON(req, &a); err != nil {
		writeError(w, req, err)
		return
	}
	a.ID = id
	updated, err := s.services.Addons.Update(req.Context(), a, by(req))
	if err != nil {
		writeError(w, req, err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

func (s *Server) deleteAddon(w http.ResponseWriter, req *http.Request) {
	id, err := pathID(req, "id")
	if err != nil {
		writeError(w, req, err)
		return
	}
	if err := s.services.Addons.Delete(req.Context(), id, by(req)); err != nil {
		writeError(w, req, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}

// getCurrentUser describes the caller, including the permissions it holds.
func (s *Server) getCurrentUser(w http.ResponseWriter, req *http.Request) {
	id := identity(req)
	rep := api.CurrentUserRep{Name: id.Username(), Kind: kindName(id.Kind), Permissions: []string{}}
	if id.Kind == permission.KindUser && id.UserID != 0 {
		u, err := s.services.Users.GetUser(req.Context(), id.UserID)
		if err != nil {
			writeError(w, req, err)
			return
		}
		rep.User = &u
	}
	for _, p := range permission.All() {
		if permission.Check(id, p) {
			rep.Permissions = append(rep.Permissions, p.String())
		}
	}
	writeJSON(w, http.StatusOK, rep)
}

func kindName(k permission.Kind) string {
	switch k {
	case permission.KindAdminToken:
		return "admin-token"
	case permission.KindClientToken:
		return "client-token"
	case permission.KindFrontendToken:
		return "frontend-token"
	default:
		return "user"
	}
}

func (s *Server) changeOwnPassword(w http.ResponseWriter, req *http.Request) {
	id := identity(req)
	if id.Kind != permission.KindUser || id.UserID == 0 {
		writeError(w, req, validation.NewError("", "only users who logged in with a password can change it"))
		return
	}
	s.changePassword(w, req, id.UserID)
}

func (s *Server) changeUserPassword(w http.ResponseWriter, req *http.Request) {
	userID, err := pathID(req, "id")
	if err != nil {
		writeError(w, req, err)
		return
	}
	s.changePassword(w, req, userID)
}

func (s *Server) changePassword(w http.ResponseWriter, req *http.Request, userID int64) {
	var r api.ChangePasswordRep
	if err := readJSON(req, &r); err != nil {
		writeError(w, req, err)
		return
	}
	if err := s.services.Users.ChangePassword(req.Context(), userID, r.Password, by(req)); err != nil {
		writeError(w, req, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (s *Server) listUsers(w http.ResponseWriter, req *http.Request) {
	users, err := s.services.Users.ListUsers(req.Context())
	if err != nil {
		writeError(w, req, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"users": listOf(users)})
}

func (s *Server) listServiceAccounts(w http.ResponseWriter, req *http.Request) {
	accounts, err := s.services.Users.ListServiceAccounts(req.Context())
	if err != nil {
		writeError(w, req, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"serviceAccounts": listOf(accounts)})
}

func (s *Server) listAccounts(w http.ResponseWriter, req *http.Request) {
	accounts, err := s.services.Users.ListAccounts(req.Context())
	if err != nil {
		writeError(w, req, err)
		return
	}
	writeJSON(w, http.StatusOK, listOf(accounts))
}

func (s *Server) getUser(w http.ResponseWriter, req *http.Request) {
	s.getAccount(w, req, s.services.Users.GetUser)
}

func (s *Server) getServiceAccount(w http.ResponseWriter, req *http.Request) {
	s.getAccount(w, req, s.services.Users.GetServiceAccount)
}

func (s *Server) createUser(w http.ResponseWriter, req *http.Request) {
	s.createAccount(w, req, s.services.Users.CreateUser)
}

func (s *Server) createServiceAccount(w http.ResponseWriter, req *http.Request) {
	s.createAccount(w, req, s.services.Users.CreateServiceAccount)
}

func (s *Server) updateUser(w http.ResponseWriter, req *http.Request) {
	s.updateAccount(w, req, s.services.Users.UpdateUser)
}

func (s *Server) updateServiceAccount(w http.ResponseWriter, req *http.Request) {
	s.updateAccount(w, req, s.services.Users.UpdateServiceAccount)
}

func (s *Server) deleteUser(w http.ResponseWriter, req *http.Request) {
	s.deleteAccount(w, req, s.services.Users.DeleteUser)
}

func (s *Server) deleteServiceAccount(w http.ResponseWriter, req *http.Request) {
	s.deleteAccount(w, req, s.services.Users.DeleteServiceAccount)
}

// Users and service accounts share their handlers; the service method decides which kind of
// account is addressed.

func (s *Server) getAccount(
	w http.ResponseWriter,
	req *http.Request,
	get func(ctx context.Context, id int64) (model.User, error),
) {
	id, err := pathID(req, "id")
	if err != nil {
		writeError(w, req, err)
		return
	}
	u, err := get(req.Context(), id)
	if err != nil {
		writeError(w, req, err)
		return
	}
	writeJSON(w, http.StatusOK, u)
}

func (s *Server) createAccount(
	w http.ResponseWriter,
	req *http.Request,
	create func(ctx context.Context, r services.CreateUserRequest, by string) (model.User, error),
) {
	var r services.CreateUserRequest
	if err := readJSON(req, &r); err != nil {
		writeError(w, req, err)
		return
	}
	u, err := create(req.Context(), r, by(req))
	if err != nil {
		writeError(w, req, err)
		return
	}
	writeJSON(w, http.StatusCreated, u)
}

func (s *Server) updateAccount(
	w http.ResponseWriter,
	req *http.Request,
	update func(ctx context.Context, id int64, r services.UpdateUserRequest, by string) (model.User, error),
) {
	id, err := pathID(req, "id")
	if err != nil {
		writeError(w, req, err)
		return
	}
	var r services.UpdateUserRequest
	if err := readJSON(req, &r); err != nil {
		writeError(w, req, err)
		return
	}
	u, err := update(req.Context(), id, r, by(req))
	if err != nil {
		writeError(w, req, err)
		return
	}
	writeJSON(w, http.StatusOK, u)
}

func (s *Server) deleteAccount(
	w http.ResponseWriter,
	req *http.Request,
	remove func(ctx context.Context, id int64, by string) error,
) {
	id, err := pathID(req, "id")
	if err != nil {
		writeError(w, req, err)
		return
	}
	if err := remove(req.Context(), id, by(req)); err != nil {
		writeError(w, req, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}
