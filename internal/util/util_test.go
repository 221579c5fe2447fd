package util

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type dispatchArgs struct {
	Text  string `json:"text" description:"The user's message"`
	Alias string `json:"alias,omitempty"`
	Skip  string `json:"-"`
}

type weatherArgs struct {
	City  string  `json:"city"`
	Unit  string  `json:"unit,omitempty" enum:"celsius,fahrenheit"`
	Days  *int    `json:"days"`
	Ratio float64 `json:"ratio,omitempty"`
}

func TestCreateSchema(t *testing.T) {
	schema := CreateSchema(dispatchArgs{})
	props := schema["properties"].(map[string]any)
	require.Contains(t, props, "text")
	require.Contains(t, props, "alias")
	assert.NotContains(t, props, "Skip")
	assert.Equal(t, "The user's message", props["text"].(map[string]any)["description"])
	assert.Equal(t, []string{"text"}, schema["required"])

	assert.Equal(t, map[string]any{"type": "object", "properties": map[string]any{}}, CreateSchema("x"))
}

func TestValidateParameters(t *testing.T) {
	schema := CreateSchema(&dispatchArgs{})

	assert.NoError(t, ValidateParameters(map[string]any{"text": "hi"}, schema))

	err := ValidateParameters(map[string]any{}, schema)
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "text", verr.Field)

	err = ValidateParameters(map[string]any{"text": 3.0}, schema)
	require.ErrorAs(t, err, &verr)
	assert.Contains(t, verr.Message, "expected string")
	assert.Equal(t, `argument "text": expected string, got float64`, verr.Error())

	decoded := map[string]any{"required": []any{"n"}, "properties": map[string]any{"n": map[string]any{"type": "integer"}}}
	assert.NoError(t, ValidateParameters(map[string]any{"n": 2.0}, decoded))
	assert.Error(t, ValidateParameters(map[string]any{"n": 2.5}, decoded))
	assert.Error(t, ValidateParameters(map[string]any{}, decoded))
}

func TestCreateSchema_EnumAndOptional(t *testing.T) {
	schema := CreateSchema(&weatherArgs{})
	assert.Equal(t, []string{"city"}, schema["required"])

	props := schema["properties"].(map[string]any)
	assert.Equal(t, []string{"celsius", "fahrenheit"}, props["unit"].(map[string]any)["enum"])
	assert.Equal(t, "integer", props["days"].(map[string]any)["type"])
	assert.Equal(t, "number", props["ratio"].(map[string]any)["type"])
}

func TestValidateParameters_Enum(t *testing.T) {
	schema := CreateSchema(weatherArgs{})
	assert.NoError(t, ValidateParameters(map[string]any{"city": "Berlin", "unit": "celsius"}, schema))
	assert.NoError(t, ValidateParameters(map[string]any{"city": "Berlin", "unit": nil}, schema))

	err := ValidateParameters(map[string]any{"city": "Berlin", "unit": "kelvin"}, schema)
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "unit", verr.Field)
	assert.Equal(t, "must be one of celsius, fahrenheit", verr.Message)
}

func TestObjectSchema(t *testing.T) {
	assert.Equal(t, map[string]any{"type": "object", "properties": map[string]any{}}, ObjectSchema(nil))
	s := ObjectSchema(map[string]any{"q": map[string]any{"type": "string"}}, "q")
	assert.Equal(t, []string{"q"}, s["required"])
	assert.NoError(t, ValidateParameters(nil, ObjectSchema(nil)))
}

func TestRenderTemplate(t *testing.T) {
	out, err := RenderTemplate("- HostName={{.HostName}}.\n- Environment={{default \"Unknown\" .Env}}.", map[string]any{"HostName": "box"})
	require.NoError(t, err)
	assert.Equal(t, "- HostName=box.\n- Environment=Unknown.", out)

	out, err = RenderTemplate("no actions", nil)
	require.NoError(t, err)
	assert.Equal(t, "no actions", out)

	_, err = RenderTemplate("{{.Broken", nil)
	assert.Error(t, err)
}
