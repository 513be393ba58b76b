package services

import (
	"context"
	"errors"
	"strings"

	"golang.org/x/crypto/bcrypt"

	"github.com/flagpole-io/flagpole/internal/model"
	"github.com/flagpole-io/flagpole/internal/store"
	"github.com/flagpole-io/flagpole/internal/validation"
)

// MinPasswordLength is the shortest password a user may set.
const MinPasswordLength = 8

// UserService manages users and service accounts, and checks passwords.
type UserService struct {
	base
	passwordCost int
}

// CreateUserRequest is the body of a request to create a user or service account.
type CreateUserRequest struct {
	Name     string         `json:"name" validate:"max=255"`
	Email    string         `json:"email" validate:"omitempty,email"`
	Username string         `json:"username" validate:"max=255"`
	RootRole model.RootRole `json:"rootRole" validate:"required,oneof=Admin Editor Viewer"`
	Password string         `json:"password"`
}

// UpdateUserRequest is the body of a request to update a user or service account.
type UpdateUserRequest struct {
	Name     string         `json:"name" validate:"max=255"`
	Email    string         `json:"email" validate:"omitempty,email"`
	RootRole model.RootRole `json:"rootRole" validate:"required,oneof=Admin Editor Viewer"`
}

// ListUsers returns the users that are not service accounts.
func (s *UserService) ListUsers(ctx context.Context) ([]model.User, error) {
	return s.list(ctx, func(u model.User) bool { return !u.IsService })
}

// ListServiceAccounts returns the service accounts.
func (s *UserService) ListServiceAccounts(ctx context.Context) ([]model.User, error) {
	return s.list(ctx, func(u model.User) bool { return u.IsService })
}

// ListAccounts returns users and service accounts.
func (s *UserService) ListAccounts(ctx context.Context) ([]model.User, error) {
	return s.list(ctx, func(model.User) bool { return true })
}

func (s *UserService) list(ctx context.Context, filter func(model.User) bool) ([]model.User, error) {
	var all []model.User
	err := s.read(ctx, func(tx store.Tx) (err error) {
		all, err = tx.ListUsers(ctx)
		return
	})
	if err != nil {
		return nil, err
	}
	ret := make([]model.User, 0, len(all))
	for _, u := range all {
		if filter(u) {
			ret = append(ret, u)
		}
	}
	return ret, nil
}

// GetUser returns a user that is not a service account.
func (s *UserService) GetUser(ctx context.Context, id int64) (model.User, error) {
	return s.get(ctx, id, false)
}

// GetServiceAccount returns a service account.
func (s *UserService) GetServiceAccount(ctx context.Context, id int64) (model.User, error) {
	return s.get(ctx, id, true)
}

func (s *UserService) get(ctx context.Context, id int64, service bool) (model.User, error) {
	var ret model.User
	err := s.read(ctx, func(tx store.Tx) (err error) {
		ret, err = getAccount(ctx, tx, id, service)
		return
	})
	return ret, err
}

func getAccount(ctx context.Context, tx store.Tx, id int64, service bool) (model.User, error) {
	resource := "user"
	if service {
		resource = "service account"
	}
	u, err := tx.GetUser(ctx, id)
	if err != nil {
		return model.User{}, orNotFound(err, resource, id)
	}
	if u.IsService != service {
		return model.User{}, notFound(resource, id)
	}
	return u, nil
}

// CreateUser adds a user. Either an email address or a username is required.
func (s *UserService) CreateUser(ctx context.Context, req CreateUserRequest, by string) (model.User, error) {
	if err := validation.Struct(req); err != nil {
		return model.User{}, err
	}
	if req.Email == "" && req.Username == "" {
		return model.User{}, validation.NewError("email", "email or username is required")
	}
	u := model.User{Name: req.Name, Email: req.Email, Username: req.Username, RootRole: req.RootRole}
	if req.Password != "" {
		hash, err := s.hashPassword(req.Password)
		if err != nil {
			return model.User{}, err
		}
		u.PasswordHash = hash
	}
	return s.insert(ctx, u, by)
}

// CreateServiceAccount adds a service account. Service accounts have no password.
func (s *UserService) CreateServiceAccount(ctx context.Context, req CreateUserRequest, by string) (model.User, error) {
	if err := validation.Struct(req); err != nil {
		return model.User{}, err
	}
	if req.Username == "" {
		return model.User{}, validation.NewError("username", "username is required")
	}
	u := model.User{Name: req.Name, Username: req.Username, RootRole: req.RootRole, IsService: true}
	return s.insert(ctx, u, by)
}

func (s *UserService) insert(ctx context.Context, u model.User, by string) (model.User, error) {
	err := s.write(ctx, by, func(w *writer) error {
		u.CreatedAt = w.now
		id, err := w.InsertUser(ctx, u)
		if err != nil {
			return orExists(err, "user", loginOf(u))
		}
		u.ID = id
		return w.emit(model.Event{Type: model.EventUserCreated, Data: model.RawJSON(u)})
	})
	return u, err
}

func loginOf(u model.User) string {
	if u.Email != "" {
		return u.Email
	}
	return u.Username
}

// UpdateUser changes the name, email and role of a user.
func (s *UserService) UpdateUser(ctx context.Context, id int64, req UpdateUserRequest, by string) (model.User, error) {
	return s.update(ctx, id, false, req, by)
}

// UpdateServiceAccount changes the name and role of a service account.
func (s *UserService) UpdateServiceAccount(ctx context.Context, id int64, req UpdateUserRequest, by string) (model.User, error) {
	req.Email = ""
	return s.update(ctx, id, true, req, by)
}

func (s *UserService) update(ctx context.Context, id int64, service bool, req UpdateUserRequest, by string) (model.User, error) {
	if err := validation.Struct(req); err != nil {
		return model.User{}, err
	}
	var u model.User
	err := s.write(ctx, by, func(w *writer) error {
		old, err := getAccount(ctx, w, id, service)
		if err != nil {
			return err
		}
		u = old
		u.Name = req.Name
		u.RootRole = req.RootRole
		if !service && req.Email != "" {
			u.Email = req.Email
		}
		if err := w.UpdateUser(ctx, u); err != nil {
			return orExists(err, "user", loginOf(u))
		}
		return w.emit(model.Event{Type: model.EventUserUpdated, Data: model.RawJSON(u), PreData: model.RawJSON(old)})
	})
	return u, err
}

// DeleteUser removes a user.
func (s *UserService) DeleteUser(ctx context.Context, id int64, by string) error {
	return s.delete(ctx, id, false, by)
}

// DeleteServiceAccount removes a service account.
func (s *UserService) DeleteServiceAccount(ctx context.Context, id int64, by string) error {
	return s.delete(ctx, id, true, by)
}

func (s *UserService) delete(ctx context.Context, id int64, service bool, by string) error {
	return s.write(ctx, by, func(w *writer) error {
		old, err := getAccount(ctx, w, id, service)
		if err != nil {
			return err
		}
		if err := w.DeleteUser(ctx, id); err != nil {
			return err
		}
		return w.emit(model.Event{Type: model.EventUserDeleted, PreData: model.RawJSON(old)})
	})
}

// ChangePassword sets a new password for a user.
func (s *UserService) ChangePassword(ctx context.Context, id int64, password, by string) error {
	hash, err := s.hashPassword(password)
	if err != nil {
		return err
	}
	return s.write(ctx, by, func(w *writer) error {
		u, err := getAccount(ctx, w, id, false)
		if err != nil {
			return err
		}
		u.PasswordHash = hash
		u.LoginAttempts = 0
		return w.UpdateUser(ctx, u)
	})
}

func (s *UserService) hashPassword(password string) (string, error) {
	if len(password) < MinPasswordLength {
		return "", validation.NewErrorf("password", "password must be at least %d characters", MinPasswordLength)
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.passwordCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// Authenticate checks a login (email or username) and password. It returns ErrInvalidCredentials if
// they do not match a user; failed attempts are counted on the user.
func (s *UserService) Authenticate(ctx context.Context, login, password string) (model.User, error) {
	login = strings.TrimSpace(login)
	var u model.User
	err := s.read(ctx, func(tx store.Tx) (err error) {
		u, err = tx.GetUserByLogin(ctx, login)
		return
	})
	if errors.Is(err, store.ErrNotFound) {
		return model.User{}, ErrInvalidCredentials
	}
	if err != nil {
		return model.User{}, err
	}
	if u.IsService || u.PasswordHash == "" {
		return model.User{}, ErrInvalidCredentials
	}
	matched := bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)) == nil
	err = s.store.Update(ctx, func(tx store.Tx) error {
		current, err := tx.GetUser(ctx, u.ID)
		if err != nil {
			return err
		}
		if matched {
			now := s.now().UTC()
			current.LoginAttempts = 0
			current.SeenAt = &now
		} else {
			current.LoginAttempts++
		}
		u = current
		return tx.UpdateUser(ctx, current)
	})
	if err != nil {
		return model.User{}, err
	}
	if !matched {
		return model.User{}, ErrInvalidCredentials
	}
	return u, nil
}

// InitAdmin creates an Admin user with the given email and password unless a user with that email
// already exists.
func (s *UserService) InitAdmin(ctx context.Context, email, password string) error {
	var exists bool
	err := s.read(ctx, func(tx store.Tx) error {
		_, err := tx.GetUserByLogin(ctx, email)
		if errors.Is(err, store.ErrNotFound) {
			return nil
		}
		exists = err == nil
		return err
	})
	if err != nil || exists {
		return err
	}
	_, err = s.CreateUser(ctx, CreateUserRequest{Name: "Admin", Email: email, RootRole: model.RoleAdmin, Password: password},
		"init-admin")
	if err == nil {
		s.loggers.Infof("Created initial admin user %s", email)
	}
	return err
}
