package services

import (
	"context"

	"github.com/flagpole-io/flagpole/internal/model"
	"github.com/flagpole-io/flagpole/internal/store"
	"github.com/flagpole-io/flagpole/internal/validation"
)

// TagService manages tag types.
type TagService struct {
	base
}

// ListTypes returns all tag types.
func (s *TagService) ListTypes(ctx context.Context) ([]model.TagType, error) {
	var ret []model.TagType
	err := s.read(ctx, func(tx store.Tx) (err error) {
		ret, err = tx.ListTagTypes(ctx)
		return
	})
	return ret, err
}

// GetType returns one tag type.
func (s *TagService) GetType(ctx context.Context, name string) (model.TagType, error) {
	var ret model.TagType
	err := s.read(ctx, func(tx store.Tx) (err error) {
		ret, err = tx.GetTagType(ctx, name)
		return orNotFound(err, "tag type", name)
	})
	return ret, err
}

// CreateType adds a tag type.
func (s *TagService) CreateType(ctx context.Context, tt model.TagType, by string) (model.TagType, error) {
	if err := validation.Struct(tt); err != nil {
		return model.TagType{}, err
	}
	err := s.write(ctx, by, func(w *writer) error {
		if err := w.InsertTagType(ctx, tt); err != nil {
			return orExists(err, "tag type", tt.Name)
		}
		return w.emit(model.Event{Type: model.EventTagTypeCreated, Data: model.RawJSON(tt)})
	})
	return tt, err
}

// UpdateType changes the description and icon of a tag type.
func (s *TagService) UpdateType(ctx context.Context, tt model.TagType, by string) (model.TagType, error) {
	if err := validation.Struct(tt); err != nil {
		return model.TagType{}, err
	}
	err := s.write(ctx, by, func(w *writer) error {
		old, err := w.GetTagType(ctx, tt.Name)
		if err != nil {
			return orNotFound(err, "tag type", tt.Name)
		}
		if err := w.UpdateTagType(ctx, tt); err != nil {
			return err
		}
		return w.emit(model.Event{Type: model.EventTagTypeUpdated, Data: model.RawJSON(tt), PreData: model.RawJSON(old)})
	})
	return tt, err
}

// DeleteType removes a tag type and every tag of that type.
func (s *TagService) DeleteType(ctx context.Context, name, by string) error {
	return s.write(ctx, by, func(w *writer) error {
		old, err := w.GetTagType(ctx, name)
		if err != nil {
			return orNotFound(err, "tag type", name)
		}
		if err := w.DeleteTagType(ctx, name); err != nil {
			return err
		}
		return w.emit(model.Event{Type: model.EventTagTypeDeleted, PreData: model.RawJSON(old)})
	})
}
