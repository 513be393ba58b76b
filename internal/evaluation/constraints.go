package evaluation

import (
	"strconv"
	"strings"
	"time"

	"github.com/Masterminds/semver/v3"

	"github.com/flagpole-io/flagpole/internal/model"
)

func (e *Evaluator) constraintsMatch(constraints []model.Constraint, ctx Context) bool {
	for _, c := range constraints {
		if !e.constraintMatches(c, ctx) {
			return false
		}
	}
	return true
}

func (e *Evaluator) constraintMatches(c model.Constraint, ctx Context) bool {
	value, ok := ctx.Field(c.ContextName)
	if !ok && c.ContextName == FieldCurrentTime {
		value, ok = e.now().UTC().Format(time.RFC3339Nano), true
	}
	var result bool
	if ok {
		result = applyOperator(c, value)
	} else {
		// an absent field is in no list
		result = c.Operator == model.OpNotIn
	}
	return result != c.Inverted
}

func applyOperator(c model.Constraint, value string) bool {
	switch c.Operator {
	case model.OpIn:
		return containsString(c.Values, value)
	case model.OpNotIn:
		return !containsString(c.Values, value)
	case model.OpStrContains, model.OpStrStartsWith, model.OpStrEndsWith:
		return matchString(c, value)
	case model.OpNumEq, model.OpNumGt, model.OpNumGte, model.OpNumLt, model.OpNumLte:
		return compareNumbers(c.Operator, value, c.Value)
	case model.OpDateAfter, model.OpDateBefore:
		return compareDates(c.Operator, value, c.Value)
	case model.OpSemverEq, model.OpSemverGt, model.OpSemverLt:
		return compareVersions(c.Operator, value, c.Value)
	}
	return false
}

func containsString(values []string, value string) bool {
	for _, v := range values {
		if v == value {
			return true
		}
	}
	return false
}

func matchString(c model.Constraint, value string) bool {
	if c.CaseInsensitive {
		value = strings.ToLower(value)
	}
	for _, v := range c.Values {
		if c.CaseInsensitive {
			v = strings.ToLower(v)
		}
		var matched bool
		switch c.Operator {
		case model.OpStrContains:
			matched = strings.Contains(value, v)
		case model.OpStrStartsWith:
			matched = strings.HasPrefix(value, v)
		case model.OpStrEndsWith:
			matched = strings.HasSuffix(value, v)
		}
		if matched {
			return true
		}
	}
	return false
}

func compareNumbers(op model.Operator, contextValue, constraintValue string) bool {
	a, err := strconv.ParseFloat(strings.TrimSpace(contextValue), 64)
	if err != nil {
		return false
	}
	b, err := strconv.ParseFloat(strings.TrimSpace(constraintValue), 64)
	if err != nil {
		return false
	}
	switch op {
	case model.OpNumEq:
		return a == b
	case model.OpNumGt:
		return a > b
	case model.OpNumGte:
		return a >= b
	case model.OpNumLt:
		return a < b
	case model.OpNumLte:
		return a <= b
	}
	return false
}

func compareDates(op model.Operator, contextValue, constraintValue string) bool {
	a, err := time.Parse(time.RFC3339Nano, contextValue)
	if err != nil {
		return false
	}
	b, err := time.Parse(time.RFC3339Nano, constraintValue)
	if err != nil {
		return false
	}
	if op == model.OpDateAfter {
		return a.After(b)
	}
	return a.Before(b)
}

func compareVersions(op model.Operator, contextValue, constraintValue string) bool {
	a, err := semver.StrictNewVersion(contextValue)
	if err != nil {
		return false
	}
	b, err := semver.StrictNewVersion(constraintValue)
	if err != nil {
		return false
	}
	switch op {
	case model.OpSemverEq:
		return a.Equal(b)
	case model.OpSemverGt:
		return a.GreaterThan(b)
	case model.OpSemverLt:
		return a.LessThan(b)
	}
	return false
}
