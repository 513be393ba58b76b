package services

import (
	"context"

	"github.com/flagpole-io/flagpole/internal/model"
	"github.com/flagpole-io/flagpole/internal/store"
	"github.com/flagpole-io/flagpole/internal/validation"
)

// StrategyService manages strategy definitions.
type StrategyService struct {
	base
}

// List returns all strategy definitions.
func (s *StrategyService) List(ctx context.Context) ([]model.StrategyDefinition, error) {
	var ret []model.StrategyDefinition
	err := s.read(ctx, func(tx store.Tx) (err error) {
		ret, err = tx.ListStrategyDefinitions(ctx)
		return
	})
	return ret, err
}

// Get returns one strategy definition.
func (s *StrategyService) Get(ctx context.Context, name string) (model.StrategyDefinition, error) {
	var ret model.StrategyDefinition
	err := s.read(ctx, func(tx store.Tx) (err error) {
		ret, err = tx.GetStrategyDefinition(ctx, name)
		return orNotFound(err, "strategy", name)
	})
	return ret, err
}

// Create adds a custom strategy definition.
func (s *StrategyService) Create(ctx context.Context, d model.StrategyDefinition, by string) (model.StrategyDefinition, error) {
	if d.Parameters == nil {
		d.Parameters = []model.StrategyParameter{}
	}
	if err := validation.Struct(d); err != nil {
		return model.StrategyDefinition{}, err
	}
	d.BuiltIn = false
	d.Deprecated = false
	err := s.write(ctx, by, func(w *writer) error {
		if err := w.InsertStrategyDefinition(ctx, d); err != nil {
			return orExists(err, "strategy", d.Name)
		}
		return w.emit(model.Event{Type: model.EventStrategyCreated, Data: model.RawJSON(d)})
	})
	return d, err
}

// Update replaces the description and parameters of a custom strategy definition.
func (s *StrategyService) Update(ctx context.Context, d model.StrategyDefinition, by string) (model.StrategyDefinition, error) {
	if d.Parameters == nil {
		d.Parameters = []model.StrategyParameter{}
	}
	if err := validation.Struct(d); err != nil {
		return model.StrategyDefinition{}, err
	}
	err := s.write(ctx, by, func(w *writer) error {
		old, err := w.GetStrategyDefinition(ctx, d.Name)
		if err != nil {
			return orNotFound(err, "strategy", d.Name)
		}
		if old.BuiltIn {
			return denied("Built-in strategy %q can not be changed", d.Name)
		}
		d.BuiltIn = false
		d.Deprecated = old.Deprecated
		if err := w.UpdateStrategyDefinition(ctx, d); err != nil {
			return err
		}
		return w.emit(model.Event{Type: model.EventStrategyUpdated, Data: model.RawJSON(d), PreData: model.RawJSON(old)})
	})
	return d, err
}

// Delete removes a custom strategy definition that no feature uses.
func (s *StrategyService) Delete(ctx context.Context, name, by string) error {
	return s.write(ctx, by, func(w *writer) error {
		old, err := w.GetStrategyDefinition(ctx, name)
		if err != nil {
			return orNotFound(err, "strategy", name)
		}
		if old.BuiltIn {
			return denied("Built-in strategy %q can not be deleted", name)
		}
		inUse, err := w.ListFeatureStrategies(ctx, store.StrategyQuery{})
		if err != nil {
			return err
		}
		for _, st := range inUse {
			if st.Name == name {
				return denied("Strategy %q is in use by feature %q", name, st.FeatureName)
			}
		}
		if err := w.DeleteStrategyDefinition(ctx, name); err != nil {
			return err
		}
		return w.emit(model.Event{Type: model.EventStrategyDeleted, PreData: model.RawJSON(old)})
	})
}

// Deprecate marks a strategy definition as deprecated. The default strategy cannot be deprecated.
func (s *StrategyService) Deprecate(ctx context.Context, name, by string) error {
	if name == model.StrategyDefault {
		return denied("The default strategy can not be deprecated")
	}
	return s.setDeprecated(ctx, name, true, model.EventStrategyDeprecated, by)
}

// Reactivate clears the deprecated mark of a strategy definition.
func (s *StrategyService) Reactivate(ctx context.Context, name, by string) error {
	return s.setDeprecated(ctx, name, false, model.EventStrategyReactivated, by)
}

func (s *StrategyService) setDeprecated(ctx context.Context, name string, deprecated bool, t model.EventType, by string) error {
	return s.write(ctx, by, func(w *writer) error {
		d, err := w.GetStrategyDefinition(ctx, name)
		if err != nil {
			return orNotFound(err, "strategy", name)
		}
		if d.Deprecated == deprecated {
			return nil
		}
		d.Deprecated = deprecated
		if err := w.UpdateStrategyDefinition(ctx, d); err != nil {
			return err
		}
		return w.emit(model.Event{Type: t, Data: model.RawJSON(map[string]string{"name": name})})
	})
}
