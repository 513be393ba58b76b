package memory

import "github.com/flagpole-io/flagpole/internal/model"

// Stored values are never modified in place, so these copies only need to detach the slices and maps
// that callers could mutate.

func copyFeature(f model.Feature) model.Feature {
	if f.ArchivedAt != nil {
		t := *f.ArchivedAt
		f.ArchivedAt = &t
	}
	return f
}

func copyConstraints(cs []model.Constraint) []model.Constraint {
	if cs == nil {
		return nil
	}
	ret := make([]model.Constraint, len(cs))
	for i, c := range cs {
		c.Values = append([]string(nil), c.Values...)
		ret[i] = c
	}
	return ret
}

func copyParams(m map[string]string) map[string]string {
	if m == nil {
		return nil
	}
	ret := make(map[string]string, len(m))
	for k, v := range m {
		ret[k] = v
	}
	return ret
}

func copyStrategy(s model.FeatureStrategy) model.FeatureStrategy {
	s.Parameters = copyParams(s.Parameters)
	s.Constraints = copyConstraints(s.Constraints)
	s.Segments = append([]int64(nil), s.Segments...)
	return s
}

func copyDefinition(d model.StrategyDefinition) model.StrategyDefinition {
	d.Parameters = append([]model.StrategyParameter(nil), d.Parameters...)
	return d
}

func copySegment(s model.Segment) model.Segment {
	s.Constraints = copyConstraints(s.Constraints)
	return s
}

func copyToken(t model.APIToken) model.APIToken {
	t.Projects = append([]string(nil), t.Projects...)
	return t
}

func copyAddon(a model.Addon) model.Addon {
	a.Parameters = copyParams(a.Parameters)
	a.Events = append([]model.EventType(nil), a.Events...)
	a.Projects = append([]string(nil), a.Projects...)
	a.Environments = append([]string(nil), a.Environments...)
	return a
}

func copyEvent(e model.Event) model.Event {
	e.Tags = append([]model.Tag(nil), e.Tags...)
	if e.SegmentID != nil {
		id := *e.SegmentID
		e.SegmentID = &id
	}
	return e
}
