package template

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newResolver() *Resolver {
	return &Resolver{
		ExecutionResults: map[string]any{
			"a1": map[string]any{"content": "Hello World", "size": float64(42), "lines": []any{"l1", "l2"}},
			"a2": map[string]any{"rows": []any{map[string]any{"name": "Alice"}, map[string]any{"name": "Bob"}}},
		},
		Memory:   MapMemoryStore{"api_key": "secret123", "last_run": "2025-01-01"},
		AllowEnv: true,
	}
}

func TestResolve_SimpleFieldAccess(t *testing.T) {
	r := newResolver()
	out, err := r.Resolve(map[string]any{"content": "{{result.a1.content}}"})
	require.NoError(t, err)
	assert.Equal(t, "Hello World", out["content"])
}

func TestResolve_IntegerFieldPreservesType(t *testing.T) {
	r := newResolver()
	out, err := r.Resolve(map[string]any{"size": "{{result.a1.size}}"})
	require.NoError(t, err)
	assert.Equal(t, float64(42), out["size"])
}

func TestResolve_ListField(t *testing.T) {
	r := newResolver()
	out, err := r.Resolve(map[string]any{"data": "{{result.a1.lines}}"})
	require.NoError(t, err)
	assert.Equal(t, []any{"l1", "l2"}, out["data"])
}

func TestResolve_FullResultObject(t *testing.T) {
	r := newResolver()
	out, err := r.Resolve(map[string]any{"all": "{{result.a1}}"})
	require.NoError(t, err)
	assert.Equal(t, "Hello World", out["all"].(map[string]any)["content"])
}

func TestResolve_EmbeddedTemplateCoercesToString(t *testing.T) {
	r := newResolver()
	out, err := r.Resolve(map[string]any{"message": "Size is {{result.a1.size}} bytes"})
	require.NoError(t, err)
	assert.Equal(t, "Size is 42 bytes", out["message"])
}

func TestResolve_UnknownActionErrors(t *testing.T) {
	r := newResolver()
	_, err := r.Resolve(map[string]any{"x": "{{result.nonexistent.field}}"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "has not produced a result")
}

func TestResolve_UnknownFieldErrors(t *testing.T) {
	r := newResolver()
	_, err := r.Resolve(map[string]any{"x": "{{result.a1.nonexistent}}"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "has no field")
}

func TestResolve_MemoryKey(t *testing.T) {
	r := newResolver()
	out, err := r.Resolve(map[string]any{"key": "{{memory.api_key}}"})
	require.NoError(t, err)
	assert.Equal(t, "secret123", out["key"])
}

func TestResolve_MissingMemoryKeyErrors(t *testing.T) {
	r := newResolver()
	_, err := r.Resolve(map[string]any{"x": "{{memory.missing_key}}"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Memory key")
}

func TestResolve_EnvVar(t *testing.T) {
	t.Setenv("MY_VAR", "hello_from_env")
	r := newResolver()
	out, err := r.Resolve(map[string]any{"x": "{{env.MY_VAR}}"})
	require.NoError(t, err)
	assert.Equal(t, "hello_from_env", out["x"])
}

func TestResolve_MissingEnvVarErrors(t *testing.T) {
	r := newResolver()
	_, err := r.Resolve(map[string]any{"x": "{{env.NONEXISTENT_XYZ_123}}"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not set")
}

func TestResolve_EnvDisabledErrors(t *testing.T) {
	r := &Resolver{AllowEnv: false}
	_, err := r.Resolve(map[string]any{"x": "{{env.HOME}}"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disabled")
}

func TestResolve_NestedDict(t *testing.T) {
	r := newResolver()
	out, err := r.Resolve(map[string]any{"outer": map[string]any{"inner": "{{result.a1.content}}"}})
	require.NoError(t, err)
	assert.Equal(t, "Hello World", out["outer"].(map[string]any)["inner"])
}

func TestResolve_ListOfTemplates(t *testing.T) {
	r := newResolver()
	out, err := r.Resolve(map[string]any{"items": []any{"{{result.a1.content}}", "static"}})
	require.NoError(t, err)
	items := out["items"].([]any)
	assert.Equal(t, "Hello World", items[0])
	assert.Equal(t, "static", items[1])
}

func TestResolve_NoTemplatesPassesThrough(t *testing.T) {
	r := newResolver()
	params := map[string]any{"path": "/tmp/file.txt", "encoding": "utf-8", "count": float64(42)}
	out, err := r.Resolve(params)
	require.NoError(t, err)
	assert.Equal(t, params, out)
}

func TestResolve_UnknownPrefixErrors(t *testing.T) {
	r := newResolver()
	_, err := r.Resolve(map[string]any{"x": "{{unknown.ref.field}}"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Unknown template prefix")
}

func TestResolve_TriggerScope(t *testing.T) {
	r := newResolver()
	r.Trigger = map[string]any{
		"trigger_id": "t1",
		"payload":    map[string]any{"path": "/tmp/watched"},
	}
	out, err := r.Resolve(map[string]any{
		"id":   "{{trigger.trigger_id}}",
		"path": "{{trigger.payload.path}}",
	})
	require.NoError(t, err)
	assert.Equal(t, "t1", out["id"])
	assert.Equal(t, "/tmp/watched", out["path"])
}
