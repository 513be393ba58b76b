package services

import (
	"context"

	"github.com/flagpole-io/flagpole/internal/model"
	"github.com/flagpole-io/flagpole/internal/store"
	"github.com/flagpole-io/flagpole/internal/validation"
)

// ProjectService manages projects.
type ProjectService struct {
	base
}

// List returns all projects.
func (s *ProjectService) List(ctx context.Context) ([]model.Project, error) {
	var ret []model.Project
	err := s.read(ctx, func(tx store.Tx) (err error) {
		ret, err = tx.ListProjects(ctx)
		return
	})
	return ret, err
}

// Get returns one project.
func (s *ProjectService) Get(ctx context.Context, id string) (model.Project, error) {
	var ret model.Project
	err := s.read(ctx, func(tx store.Tx) (err error) {
		ret, err = tx.GetProject(ctx, id)
		return orNotFound(err, "project", id)
	})
	return ret, err
}

// Create adds a project.
func (s *ProjectService) Create(ctx context.Context, p model.Project, by string) (model.Project, error) {
	if err := validation.Struct(p); err != nil {
		return model.Project{}, err
	}
	err := s.write(ctx, by, func(w *writer) error {
		p.CreatedAt = w.now
		if err := w.InsertProject(ctx, p); err != nil {
			return orExists(err, "project", p.ID)
		}
		return w.emit(model.Event{Type: model.EventProjectCreated, Project: p.ID, Data: model.RawJSON(p)})
	})
	return p, err
}

// Update changes the name and description of a project.
func (s *ProjectService) Update(ctx context.Context, p model.Project, by string) (model.Project, error) {
	if err := validation.Struct(p); err != nil {
		return model.Project{}, err
	}
	err := s.write(ctx, by, func(w *writer) error {
		old, err := w.GetProject(ctx, p.ID)
		if err != nil {
			return orNotFound(err, "project", p.ID)
		}
		p.CreatedAt = old.CreatedAt
		if err := w.UpdateProject(ctx, p); err != nil {
			return err
		}
		return w.emit(model.Event{Type: model.EventProjectUpdated, Project: p.ID,
			Data: model.RawJSON(p), PreData: model.RawJSON(old)})
	})
	return p, err
}

// Delete removes a project. The default project and projects that still contain features, archived or
// not, cannot be deleted.
func (s *ProjectService) Delete(ctx context.Context, id, by string) error {
	if id == model.DefaultProjectID {
		return denied("You can not delete the default project")
	}
	return s.write(ctx, by, func(w *writer) error {
		old, err := w.GetProject(ctx, id)
		if err != nil {
			return orNotFound(err, "project", id)
		}
		features, err := w.ListFeatures(ctx, store.FeatureQuery{Projects: []string{id}})
		if err != nil {
			return err
		}
		if len(features) != 0 {
			return denied("You can not delete a project with active feature toggles")
		}
		if err := w.DeleteProject(ctx, id); err != nil {
			return err
		}
		return w.emit(model.Event{Type: model.EventProjectDeleted, Project: id, PreData: model.RawJSON(old)})
	})
}
