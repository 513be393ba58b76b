package services

import (
	"context"

	"github.com/flagpole-io/flagpole/internal/model"
	"github.com/flagpole-io/flagpole/internal/store"
	"github.com/flagpole-io/flagpole/internal/validation"
)

// SegmentService manages segments.
type SegmentService struct {
	base
}

// List returns all segments.
func (s *SegmentService) List(ctx context.Context) ([]model.Segment, error) {
	var ret []model.Segment
	err := s.read(ctx, func(tx store.Tx) (err error) {
		ret, err = tx.ListSegments(ctx)
		return
	})
	return ret, err
}

// Get returns one segment.
func (s *SegmentService) Get(ctx context.Context, id int64) (model.Segment, error) {
	var ret model.Segment
	err := s.read(ctx, func(tx store.Tx) (err error) {
		ret, err = tx.GetSegment(ctx, id)
		return orNotFound(err, "segment", id)
	})
	return ret, err
}

// Create adds a segment and returns it with its new ID.
func (s *SegmentService) Create(ctx context.Context, seg model.Segment, by string) (model.Segment, error) {
	if seg.Constraints == nil {
		seg.Constraints = []model.Constraint{}
	}
	if err := validation.Struct(seg); err != nil {
		return model.Segment{}, err
	}
	err := s.write(ctx, by, func(w *writer) error {
		if seg.Project != "" {
			if _, err := w.GetProject(ctx, seg.Project); err != nil {
				return orNotFound(err, "project", seg.Project)
			}
		}
		seg.CreatedAt = w.now
		seg.CreatedBy = by
		id, err := w.InsertSegment(ctx, seg)
		if err != nil {
			return orExists(err, "segment", seg.Name)
		}
		seg.ID = id
		return w.emit(model.Event{Type: model.EventSegmentCreated, SegmentID: &id, Project: seg.Project,
			Data: model.RawJSON(seg)})
	})
	return seg, err
}

// Update replaces the name, description and constraints of a segment. Every feature that uses the
// segment changes for SDKs.
func (s *SegmentService) Update(ctx context.Context, seg model.Segment, by string) (model.Segment, error) {
	if seg.Constraints == nil {
		seg.Constraints = []model.Constraint{}
	}
	if err := validation.Struct(seg); err != nil {
		return model.Segment{}, err
	}
	err := s.write(ctx, by, func(w *writer) error {
		old, err := w.GetSegment(ctx, seg.ID)
		if err != nil {
			return orNotFound(err, "segment", seg.ID)
		}
		seg.CreatedAt = old.CreatedAt
		seg.CreatedBy = old.CreatedBy
		if err := w.UpdateSegment(ctx, seg); err != nil {
			return orExists(err, "segment", seg.Name)
		}
		id := seg.ID
		return w.emit(model.Event{Type: model.EventSegmentUpdated, SegmentID: &id, Project: seg.Project,
			Data: model.RawJSON(seg), PreData: model.RawJSON(old)})
	})
	return seg, err
}

// Delete removes a segment that no strategy uses.
func (s *SegmentService) Delete(ctx context.Context, id int64, by string) error {
	return s.write(ctx, by, func(w *writer) error {
		old, err := w.GetSegment(ctx, id)
		if err != nil {
			return orNotFound(err, "segment", id)
		}
		users, err := w.ListFeatureStrategies(ctx, store.StrategyQuery{SegmentID: &id})
		if err != nil {
			return err
		}
		if len(users) != 0 {
			return denied("Segment %q is in use by feature %q", old.Name, users[0].FeatureName)
		}
		if err := w.DeleteSegment(ctx, id); err != nil {
			return err
		}
		return w.emit(model.Event{Type: model.EventSegmentDeleted, SegmentID: &id, Project: old.Project,
			PreData: model.RawJSON(old)})
	})
}
