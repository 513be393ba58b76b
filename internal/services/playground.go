package services

import (
	"context"
	"errors"

	"github.com/flagpole-io/flagpole/internal/evaluation"
	"github.com/flagpole-io/flagpole/internal/flags"
	"github.com/flagpole-io/flagpole/internal/model"
	"github.com/flagpole-io/flagpole/internal/store"
	"github.com/flagpole-io/flagpole/internal/validation"
)

// PlaygroundService evaluates features on the server.
type PlaygroundService struct {
	base
	evaluator *evaluation.Evaluator
}

// PlaygroundRequest asks for the evaluation of every feature of some projects in one environment.
type PlaygroundRequest struct {
	Projects    []string           `json:"projects"`
	Environment string             `json:"environment" validate:"required"`
	Context     evaluation.Context `json:"context"`
}

// PlaygroundResponse is the result of a PlaygroundRequest.
type PlaygroundResponse struct {
	Input    PlaygroundRequest          `json:"input"`
	Features []evaluation.FeatureResult `json:"features"`
}

// FrontendVariant is the variant reported for frontend toggles. Variants are not supported, so it
// is always the disabled variant.
type FrontendVariant struct {
	Name    string `json:"name"`
	Enabled bool   `json:"enabled"`
}

// FrontendToggle is an enabled feature as returned to frontend SDKs.
type FrontendToggle struct {
	Name           string          `json:"name"`
	Enabled        bool            `json:"enabled"`
	ImpressionData bool            `json:"impressionData"`
	Variant        FrontendVariant `json:"variant"`
}

// Evaluate evaluates the requested features against the context.
func (s *PlaygroundService) Evaluate(ctx context.Context, req PlaygroundRequest) (PlaygroundResponse, error) {
	if err := validation.Struct(req); err != nil {
		return PlaygroundResponse{}, err
	}
	if req.Projects == nil {
		req.Projects = []string{model.AllProjects}
	}
	if req.Context.Environment == "" {
		req.Context.Environment = req.Environment
	}
	scope := flags.Scope{Projects: req.Projects, Environment: req.Environment}
	var features []model.ClientFeature
	var segments map[int64]model.Segment
	err := s.read(ctx, func(tx store.Tx) error {
		if _, err := tx.GetEnvironment(ctx, req.Environment); errors.Is(err, store.ErrNotFound) {
			return validation.NewErrorf("environment", "environment %q does not exist", req.Environment)
		} else if err != nil {
			return err
		}
		for _, p := range req.Projects {
			if p == model.AllProjects {
				continue
			}
			if _, err := tx.GetProject(ctx, p); errors.Is(err, store.ErrNotFound) {
				return validation.NewErrorf("projects", "project %q does not exist", p)
			} else if err != nil {
				return err
			}
		}
		var err error
		features, segments, err = loadForEvaluation(ctx, tx, scope)
		return err
	})
	if err != nil {
		return PlaygroundResponse{}, err
	}
	ret := PlaygroundResponse{Input: req, Features: make([]evaluation.FeatureResult, 0, len(features))}
	for _, f := range features {
		ret.Features = append(ret.Features, s.evaluator.Evaluate(f, segments, req.Context))
	}
	return ret, nil
}

// FrontendToggles returns the features of the scope that are enabled for the context.
func (s *PlaygroundService) FrontendToggles(ctx context.Context, scope flags.Scope, evalCtx evaluation.Context) ([]FrontendToggle, error) {
	if evalCtx.Environment == "" {
		evalCtx.Environment = scope.Environment
	}
	var features []model.ClientFeature
	var segments map[int64]model.Segment
	err := s.read(ctx, func(tx store.Tx) (err error) {
		features, segments, err = loadForEvaluation(ctx, tx, scope)
		return
	})
	if err != nil {
		return nil, err
	}
	ret := make([]FrontendToggle, 0, len(features))
	for _, f := range features {
		if s.evaluator.IsEnabled(f, segments, evalCtx) {
			ret = append(ret, FrontendToggle{
				Name:           f.Name,
				Enabled:        true,
				ImpressionData: f.ImpressionData,
				Variant:        FrontendVariant{Name: "disabled"},
			})
		}
	}
	return ret, nil
}

func loadForEvaluation(ctx context.Context, tx store.Tx, scope flags.Scope) ([]model.ClientFeature, map[int64]model.Segment, error) {
	snapshot, err := flags.Load(ctx, tx, scope)
	if err != nil {
		return nil, nil, err
	}
	return snapshot.Features, flags.SegmentMap(snapshot.Segments), nil
}
