package validation

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flagpole-io/flagpole/internal/model"
)

func TestValidStructPasses(t *testing.T) {
	assert.NoError(t, Struct(&model.Project{ID: "my-project", Name: "My project"}))
}

func TestMissingRequiredField(t *testing.T) {
	err := Struct(&model.Project{ID: "p"})
	require.Error(t, err)
	var verr *Error
	require.True(t, errors.As(err, &verr))
	assert.Equal(t, []FieldError{{Path: "name", Description: "name is required"}}, verr.Details)
}

func TestURLSafeNames(t *testing.T) {
	err := Struct(&model.Feature{Name: "has spaces"})
	var verr *Error
	require.True(t, errors.As(err, &verr))
	assert.Equal(t, "name", verr.Details[0].Path)
	assert.Equal(t, "name must be URL friendly", verr.Details[0].Description)

	assert.True(t, IsURLSafe("a.b_c-d~e"))
	assert.False(t, IsURLSafe("a/b"))
}

func TestNestedPathsUseJSONNames(t *testing.T) {
	s := model.FeatureStrategy{
		Name:        "default",
		Constraints: []model.Constraint{{ContextName: "userId", Operator: "LIKE"}},
	}
	err := Struct(&s)
	var verr *Error
	require.True(t, errors.As(err, &verr))
	require.Len(t, verr.Details, 1)
	assert.Equal(t, "constraints[0].operator", verr.Details[0].Path)
	assert.Equal(t, "constraints[0].operator must be a known constraint operator", verr.Details[0].Description)
}

func TestMaxLength(t *testing.T) {
	err := Struct(&model.Project{ID: "p", Name: strings.Repeat("x", 256)})
	var verr *Error
	require.True(t, errors.As(err, &verr))
	assert.Equal(t, "name must be at most 255 characters", verr.Details[0].Description)
}

func TestOneOf(t *testing.T) {
	err := Struct(&model.Environment{Name: "qa", Type: "staging"})
	var verr *Error
	require.True(t, errors.As(err, &verr))
	assert.Equal(t, "type must be one of: development test preproduction production", verr.Details[0].Description)
}

func TestNewError(t *testing.T) {
	err := NewErrorf("parameters.rollout", "%s must be a number", "rollout")
	assert.Equal(t, "Request validation failed: rollout must be a number", err.Error())
}
