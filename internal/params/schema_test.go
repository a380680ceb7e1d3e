package params

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func testSchemas() []Schema {
	return []Schema{
		{Name: "model_id", Type: StringType{}, Required: true},
		{Name: "temperature", Type: FloatRange(0, 2), Default: 0.7},
		{Name: "api_key", Type: StringType{}, Sensitive: true},
		{Name: "device", Type: SelectionType{Options: Options("cpu", "gpu")}, Default: "cpu"},
	}
}

func TestSchemaRequiredRejectedFirst(t *testing.T) {
	s := Schema{Name: "n", Type: FloatRange(0, 1), Required: true}
	r := s.Validate(nil)
	require.False(t, r.Valid)
	require.Contains(t, r.Message, "required")

	opt := Schema{Name: "n", Type: FloatRange(0, 1)}
	require.True(t, opt.Validate(nil).Valid)
}

func TestValidateAllAggregates(t *testing.T) {
	err := ValidateAll(testSchemas(), map[string]any{"temperature": 3.0, "bogus": 1})
	var ve *ValidationError
	require.True(t, errors.As(err, &ve))
	require.Len(t, ve.Fields, 3)
	require.Equal(t, "model_id", ve.Fields[0].Name)
	require.Equal(t, "temperature", ve.Fields[1].Name)
	require.Equal(t, "bogus", ve.Fields[2].Name)

	require.NoError(t, ValidateAll(testSchemas(), map[string]any{"model_id": "m.gguf", "temperature": "0.5"}))
}

func TestDefaultsMergeRedact(t *testing.T) {
	s := testSchemas()
	d := Defaults(s)
	require.Equal(t, map[string]any{"temperature": 0.7, "device": "cpu"}, d)

	merged := Merge(d, map[string]any{"device": "gpu", "api_key": "secret"})
	require.Equal(t, "gpu", merged["device"])
	require.Equal(t, 0.7, merged["temperature"])

	red := Redact(s, merged)
	require.Equal(t, redacted, red["api_key"])
	require.Equal(t, "secret", merged["api_key"])
}

func TestCheckDeclarations(t *testing.T) {
	require.NoError(t, CheckDeclarations(testSchemas()))
	bad := append(testSchemas(), Schema{Name: "device", Type: BoolType{}})
	require.Error(t, CheckDeclarations(bad))
	badDefault := []Schema{{Name: "x", Type: IntRange(0, 1), Default: 5}}
	require.Error(t, CheckDeclarations(badDefault))
}

func TestCompiledSchemaAgreesWithValidator(t *testing.T) {
	schema, err := Compile("params.json", JSONSchema(testSchemas()))
	require.NoError(t, err)

	good, err := Normalize(map[string]any{"model_id": "m", "temperature": "1.5", "device": "gpu"})
	require.NoError(t, err)
	require.NoError(t, schema.Validate(good))

	for _, doc := range []map[string]any{
		{"model_id": "m", "temperature": 3.5},
		{"model_id": "m", "temperature": "-."},
		{"model_id": "m", "device": "npu"},
		{"temperature": 1},
		{"model_id": "m", "extra": true},
	} {
		v, err := Normalize(doc)
		require.NoError(t, err)
		require.Error(t, schema.Validate(v), "doc %v", doc)
	}
}
