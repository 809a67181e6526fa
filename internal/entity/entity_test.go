package entity

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type User struct {
	ID    string `json:"id" event:"key"`
	Email string `json:"email"`
	Age   int    `json:"age"`
}

type noKey struct {
	Name string `json:"name"`
}

type doubleKey struct {
	A string `json:"a" event:"key"`
	B string `json:"b" event:"key"`
}

func TestSnakeCase(t *testing.T) {
	assert.Equal(t, "user", SnakeCase("User"))
	assert.Equal(t, "user_account", SnakeCase("UserAccount"))
	assert.Equal(t, "httpserver2_config", SnakeCase("HTTPServer2Config"))
}

func TestRegisterDerivesLogicalNameAndKey(t *testing.T) {
	d, err := Register[User]("")
	require.NoError(t, err)
	assert.Equal(t, "user", d.LogicalName)
	assert.Equal(t, "id", d.EventKeyField)
}

func TestRegisterOverrideName(t *testing.T) {
	d, err := Register[User]("account")
	require.NoError(t, err)
	assert.Equal(t, "account", d.LogicalName)
}

func TestRegisterRejectsMissingKey(t *testing.T) {
	_, err := Register[noKey]("")
	assert.Error(t, err)
}

func TestRegisterRejectsDoubleKey(t *testing.T) {
	_, err := Register[doubleKey]("")
	assert.Error(t, err)
}

func TestValidateCreateRequiresNonKeyFields(t *testing.T) {
	d, err := Register[User]("")
	require.NoError(t, err)

	err = d.Validate(ShapeCreate, map[string]any{"email": "a@b.com", "age": float64(30)})
	assert.NoError(t, err)

	err = d.Validate(ShapeCreate, map[string]any{"email": "a@b.com"})
	assert.Error(t, err, "age missing")

	err = d.Validate(ShapeCreate, map[string]any{})
	assert.Error(t, err)
}

func TestValidateUpdateRequiresOnlyKey(t *testing.T) {
	d, err := Register[User]("")
	require.NoError(t, err)

	err = d.Validate(ShapeUpdate, map[string]any{"id": "u-1"})
	assert.NoError(t, err, "key present, rest omitted means no change")

	err = d.Validate(ShapeUpdate, map[string]any{"id": "u-1", "email": nil})
	assert.NoError(t, err, "explicit null means no change")

	err = d.Validate(ShapeUpdate, map[string]any{"email": "a@b.com"})
	assert.Error(t, err, "key missing")
}

func TestValidateDeleteRequiresOnlyKey(t *testing.T) {
	d, err := Register[User]("")
	require.NoError(t, err)

	assert.NoError(t, d.Validate(ShapeDelete, map[string]any{"id": "u-1"}))
	assert.Error(t, d.Validate(ShapeDelete, map[string]any{}))
}

func TestValidateReadRequiresAllFields(t *testing.T) {
	d, err := Register[User]("")
	require.NoError(t, err)

	err = d.Validate(ShapeRead, map[string]any{"id": "u-1", "email": "a@b.com", "age": float64(10)})
	assert.NoError(t, err)

	err = d.Validate(ShapeRead, map[string]any{"id": "u-1", "email": "a@b.com"})
	assert.Error(t, err, "age missing")
}

func TestValidateRejectsWrongType(t *testing.T) {
	d, err := Register[User]("")
	require.NoError(t, err)

	err = d.Validate(ShapeCreate, map[string]any{"email": "a@b.com", "age": "not a number"})
	assert.Error(t, err)
}

func TestRegisterOnceIsMemoized(t *testing.T) {
	d1, err := RegisterOnce[User]("")
	require.NoError(t, err)
	d2, err := RegisterOnce[User]("")
	require.NoError(t, err)
	assert.Same(t, d1, d2)
}
