package services

import (
	"context"

	"github.com/flagpole-io/flagpole/internal/model"
	"github.com/flagpole-io/flagpole/internal/store"
	"github.com/flagpole-io/flagpole/internal/validation"
)

// EnvironmentService manages environments.
type EnvironmentService struct {
	base
}

// List returns all environments in sort order.
func (s *EnvironmentService) List(ctx context.Context) ([]model.Environment, error) {
	var ret []model.Environment
	err := s.read(ctx, func(tx store.Tx) (err error) {
		ret, err = tx.ListEnvironments(ctx)
		return
	})
	return ret, err
}

// Get returns one environment.
func (s *EnvironmentService) Get(ctx context.Context, name string) (model.Environment, error) {
	var ret model.Environment
	err := s.read(ctx, func(tx store.Tx) (err error) {
		ret, err = tx.GetEnvironment(ctx, name)
		return orNotFound(err, "environment", name)
	})
	return ret, err
}

// Create adds an environment. Existing features start out disabled in it.
func (s *EnvironmentService) Create(ctx context.Context, e model.Environment, by string) (model.Environment, error) {
	if err := validation.Struct(e); err != nil {
		return model.Environment{}, err
	}
	e.Protected = false
	err := s.write(ctx, by, func(w *writer) error {
		e.CreatedAt = w.now
		if err := w.InsertEnvironment(ctx, e); err != nil {
			return orExists(err, "environment", e.Name)
		}
		return w.emit(model.Event{Type: model.EventEnvironmentCreated, Environment: e.Name, Data: model.RawJSON(e)})
	})
	return e, err
}

// Update changes the type and sort order of an environment.
func (s *EnvironmentService) Update(ctx context.Context, e model.Environment, by string) (model.Environment, error) {
	if err := validation.Struct(e); err != nil {
		return model.Environment{}, err
	}
	var updated model.Environment
	err := s.write(ctx, by, func(w *writer) error {
		old, err := w.GetEnvironment(ctx, e.Name)
		if err != nil {
			return orNotFound(err, "environment", e.Name)
		}
		updated = old
		updated.Type = e.Type
		updated.SortOrder = e.SortOrder
		if err := w.UpdateEnvironment(ctx, updated); err != nil {
			return err
		}
		return w.emit(model.Event{Type: model.EventEnvironmentUpdated, Environment: e.Name,
			Data: model.RawJSON(updated), PreData: model.RawJSON(old)})
	})
	return updated, err
}

// SetEnabled turns an environment on or off.
func (s *EnvironmentService) SetEnabled(ctx context.Context, name string, enabled bool, by string) error {
	return s.write(ctx, by, func(w *writer) error {
		old, err := w.GetEnvironment(ctx, name)
		if err != nil {
			return orNotFound(err, "environment", name)
		}
		if old.Enabled == enabled {
			return nil
		}
		e := old
		e.Enabled = enabled
		if err := w.UpdateEnvironment(ctx, e); err != nil {
			return err
		}
		return w.emit(model.Event{Type: model.EventEnvironmentUpdated, Environment: name,
			Data: model.RawJSON(e), PreData: model.RawJSON(old)})
	})
}

// Delete removes an environment together with all feature states and strategies in it. Protected
// environments cannot be deleted.
func (s *EnvironmentService) Delete(ctx context.Context, name, by string) error {
	return s.write(ctx, by, func(w *writer) error {
		old, err := w.GetEnvironment(ctx, name)
		if err != nil {
			return orNotFound(err, "environment", name)
		}
		if old.Protected {
			return denied("Environment %q is protected and can not be deleted", name)
		}
		if err := w.DeleteEnvironment(ctx, name); err != nil {
			return err
		}
		return w.emit(model.Event{Type: model.EventEnvironmentDeleted, Environment: name, PreData: model.RawJSON(old)})
	})
}
