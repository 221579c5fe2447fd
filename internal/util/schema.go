package util

import (
	"fmt"
	"reflect"
	"strings"
)

// ValidationError reports a function-call argument the model got wrong.
type ValidationError struct {
	Field   string `json:"field"`
	Value   any    `json:"value,omitempty"`
	Message string `json:"message"`
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("argument %q: %s", e.Field, e.Message)
}

// ObjectSchema builds the parameters schema of a function tool.
func ObjectSchema(properties map[string]any, required ...string) map[string]any {
	if properties == nil {
		properties = map[string]any{}
	}
	schema := map[string]any{"type": "object", "properties": properties}
	if len(required) > 0 {
		schema["required"] = required
	}
	return schema
}

// CreateSchema derives an object schema from the exported fields of an
// argument struct. Names follow the json tag, a "description" tag becomes
// the property description and a comma separated "enum" tag restricts a
// string. Fields are required unless they are pointers or omitempty.
// Anything that is not a struct yields a schema without properties.
func CreateSchema(args any) map[string]any {
	t := reflect.TypeOf(args)
	for t != nil && t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	if t == nil || t.Kind() != reflect.Struct {
		return ObjectSchema(nil)
	}

	properties := map[string]any{}
	var required []string
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		name, optional, ok := argumentName(f)
		if !ok {
			continue
		}
		prop := map[string]any{"type": jsonType(f.Type)}
		if d := f.Tag.Get("description"); d != "" {
			prop["description"] = d
		}
		if e := f.Tag.Get("enum"); e != "" {
			prop["enum"] = strings.Split(e, ",")
		}
		properties[name] = prop
		if !optional {
			required = append(required, name)
		}
	}
	return ObjectSchema(properties, required...)
}

// argumentName returns the wire name of f; ok is false for unexported and
// json:"-" fields.
func argumentName(f reflect.StructField) (name string, optional, ok bool) {
	if !f.IsExported() {
		return "", false, false
	}
	tag := f.Tag.Get("json")
	if tag == "-" {
		return "", false, false
	}
	name, opts, _ := strings.Cut(tag, ",")
	if name == "" {
		name = f.Name
	}
	optional = f.Type.Kind() == reflect.Ptr
	for _, o := range strings.Split(opts, ",") {
		if strings.TrimSpace(o) == "omitempty" {
			optional = true
		}
	}
	return name, optional, true
}

func jsonType(t reflect.Type) string {
	switch t.Kind() {
	case reflect.Ptr:
		return jsonType(t.Elem())
	case reflect.Bool:
		return "boolean"
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return "integer"
	case reflect.Float32, reflect.Float64:
		return "number"
	case reflect.Slice, reflect.Array:
		return "array"
	case reflect.Map, reflect.Struct:
		return "object"
	}
	return "string"
}

// ValidateParameters checks decoded function-call arguments against schema.
// Arguments come from json.Unmarshal into map[string]any, so numbers are
// float64 and lists are []any. Unknown arguments are ignored.
func ValidateParameters(params map[string]any, schema map[string]any) error {
	for _, name := range requiredFields(schema["required"]) {
		if _, ok := params[name]; !ok {
			return &ValidationError{Field: name, Message: "required argument is missing"}
		}
	}

	properties, _ := schema["properties"].(map[string]any)
	for name, value := range params {
		prop, _ := properties[name].(map[string]any)
		if prop == nil || value == nil {
			continue
		}
		want, _ := prop["type"].(string)
		if !matchesType(value, want) {
			return &ValidationError{Field: name, Value: value, Message: fmt.Sprintf("expected %s, got %T", want, value)}
		}
		if allowed := enumValues(prop["enum"]); len(allowed) > 0 && !contains(allowed, value) {
			return &ValidationError{Field: name, Value: value, Message: fmt.Sprintf("must be one of %s", strings.Join(allowed, ", "))}
		}
	}
	return nil
}

// requiredFields accepts the []string built here and the []any of a
// schema decoded from JSON.
func requiredFields(v any) []string {
	switch req := v.(type) {
	case []string:
		return req
	case []any:
		out := make([]string, 0, len(req))
		for _, r := range req {
			if s, ok := r.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

func enumValues(v any) []string { return requiredFields(v) }

func contains(allowed []string, value any) bool {
	s, ok := value.(string)
	if !ok {
		return false
	}
	for _, a := range allowed {
		if a == s {
			return true
		}
	}
	return false
}

func matchesType(value any, want string) bool {
	switch want {
	case "string":
		_, ok := value.(string)
		return ok
	case "boolean":
		_, ok := value.(bool)
		return ok
	case "integer":
		switch v := value.(type) {
		case float64:
			return v == float64(int64(v))
		case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
			return true
		}
		return false
	case "number":
		switch value.(type) {
		case float32, float64, int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
			return true
		}
		return false
	case "array":
		_, ok := value.([]any)
		return ok
	case "object":
		_, ok := value.(map[string]any)
		return ok
	}
	return true
}
