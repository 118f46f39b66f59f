package expr

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEval_Arithmetic(t *testing.T) {
	tests := []struct {
		expr string
		want any
	}{
		{"1 + 2", 3.0},
		{"2 * (3 + 1) + 3 * (2 * (3 + 1))", 32.0},
		{"10 / 4", 2.5},
		{"7 % 3", 1.0},
		{"-3 + 5", 2.0},
		{"2 * -3", -6.0},
		{"0.5 + .25", 0.75},
		{"\"a\" + \"b\"", "ab"},
	}

	for _, tt := range tests {
		got, err := Eval(tt.expr, nil)
		require.NoError(t, err, tt.expr)
		assert.Equal(t, tt.want, got, tt.expr)
	}
}

func TestEval_Precedence(t *testing.T) {
	got, err := Eval("1 + 2 * 3", nil)
	require.NoError(t, err)
	assert.Equal(t, 7.0, got)

	got, err = Eval("(1 + 2) * 3", nil)
	require.NoError(t, err)
	assert.Equal(t, 9.0, got)
}

func TestEval_DivisionByZero(t *testing.T) {
	_, err := Eval("1 / 0", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "division by zero")

	_, err = Eval("5 % 0", nil)
	require.Error(t, err)
}

func TestEval_ComparisonAndLogic(t *testing.T) {
	vars := map[string]any{"x": 5.0, "name": "grid"}

	tests := []struct {
		expr string
		want bool
	}{
		{"x > 3", true},
		{"x <= 4", false},
		{"x == 5 && name == \"grid\"", true},
		{"x < 0 || name != \"grid\"", false},
		{"!(x > 10)", true},
	}

	for _, tt := range tests {
		got, err := Eval(tt.expr, vars)
		require.NoError(t, err, tt.expr)
		assert.Equal(t, tt.want, got, tt.expr)
	}
}

func TestEval_Variables(t *testing.T) {
	vars := map[string]any{
		"a":      2.0,
		"nested": map[string]any{"score": 0.9, "tags": []any{"x", "y"}},
	}

	got, err := Eval("a * 10", vars)
	require.NoError(t, err)
	assert.Equal(t, 20.0, got)

	got, err = Eval("nested.score >= 0.5", vars)
	require.NoError(t, err)
	assert.Equal(t, true, got)

	got, err = Eval("nested.tags[1]", vars)
	require.NoError(t, err)
	assert.Equal(t, "y", got)

	got, err = Eval("nested[\"score\"]", vars)
	require.NoError(t, err)
	assert.Equal(t, 0.9, got)
}

func TestEval_UnknownNameFails(t *testing.T) {
	_, err := Eval("missing + 1", map[string]any{"present": 1.0})
	require.Error(t, err)
	assert.Contains(t, err.Error(), `unknown name "missing"`)
}

func TestEval_Functions(t *testing.T) {
	tests := []struct {
		expr string
		want any
	}{
		{"abs(-4)", 4.0},
		{"min(3, 1, 2)", 1.0},
		{"max(3, 1, 2)", 3.0},
		{"round(2.6)", 3.0},
		{"floor(2.6)", 2.0},
		{"ceil(2.1)", 3.0},
		{"sqrt(16)", 4.0},
		{"pow(2, 10)", 1024.0},
		{"len(\"abc\")", 3.0},
		{"len([1, 2, 3])", 3.0},
		{"str(42)", "42"},
		{"int(\"7\")", 7.0},
		{"float(\"2.5\")", 2.5},
	}

	for _, tt := range tests {
		got, err := Eval(tt.expr, nil)
		require.NoError(t, err, tt.expr)
		assert.Equal(t, tt.want, got, tt.expr)
	}
}

func TestEval_SandboxRejectsUnknownFunctions(t *testing.T) {
	_, err := Eval("open(\"/etc/passwd\")", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not allowed")

	_, err = Eval("exec(\"rm\")", nil)
	require.Error(t, err)
}

func TestEval_Literals(t *testing.T) {
	got, err := Eval("[1, \"two\", true]", nil)
	require.NoError(t, err)
	assert.Equal(t, []any{1.0, "two", true}, got)

	got, err = Eval("{\"a\": 1, b: 2}", nil)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"a": 1.0, "b": 2.0}, got)

	got, err = Eval("nil", nil)
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestEval_SyntaxErrors(t *testing.T) {
	for _, bad := range []string{"", "1 +", "(1 + 2", "[1, 2", "{a: }", "1 @ 2", "\"unterminated"} {
		_, err := Eval(bad, nil)
		assert.Error(t, err, "expression %q must fail", bad)
	}
}

func TestValidate(t *testing.T) {
	assert.NoError(t, Validate("a + b * min(c, 2)"))
	assert.Error(t, Validate("a +"))
	assert.Error(t, Validate("shutil(1)"))
}
