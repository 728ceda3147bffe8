package skills

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xela07ax/spaceai-agentcore/internal/domain"
)

type stubSkill struct{ name string }

func (s stubSkill) Metadata() Metadata                                 { return Metadata{Name: s.name} }
func (stubSkill) Validate(map[string]any) error                        { return nil }
func (stubSkill) SanitizeOutput(any) string                            { return "" }
func (stubSkill) Execute(context.Context, map[string]any) (any, error) { return nil, nil }

func TestRegistry(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(stubSkill{"b"}))
	require.NoError(t, r.Register(stubSkill{"a"}))

	err := r.Register(stubSkill{"a"})
	require.ErrorIs(t, err, domain.ErrConfig)
	assert.Contains(t, err.Error(), `"a"`)
	require.ErrorIs(t, r.Register(stubSkill{""}), domain.ErrConfig)

	assert.Equal(t, 2, r.Len())
	assert.Equal(t, []string{"b", "a"}, r.Names())
	_, ok := r.Get("missing")
	assert.False(t, ok)

	tools := r.Tools()
	require.Len(t, tools, 2)
	assert.Equal(t, "function", tools[0].Type)
	assert.Equal(t, "b", tools[0].Function.Name)
	assert.Equal(t, "object", tools[0].Function.Parameters["type"])

	assert.Panics(t, func() { r.MustRegister(stubSkill{"b"}) })
}

func TestBuiltinsRegisterCleanly(t *testing.T) {
	z := newTestPolicy(t)
	r := NewRegistry()
	r.MustRegister(Builtins(z.engine, nil, SearchConfig{})...)
	assert.Equal(t, []string{
		"web_search", "file_read", "file_write", "pdf_parse", "shell_exec",
		"url_fetch", "http_request", "remember", "recall",
	}, r.Names())
	for _, s := range r.All() {
		m := s.Metadata()
		assert.NotEmpty(t, m.Description, m.Name)
		assert.Positive(t, m.CallsPerTurn(), m.Name)
		assert.Equal(t, m.Name, m.LimitKey())
	}
}

func TestParamHelpers(t *testing.T) {
	p := map[string]any{"s": "x", "blank": "  ", "n": float64(3), "f": 1.5, "b": true}

	v, err := stringParam(p, "s", true)
	require.NoError(t, err)
	assert.Equal(t, "x", v)
	_, err = stringParam(p, "blank", true)
	assert.ErrorIs(t, err, domain.ErrValidation)
	_, err = stringParam(p, "b", false)
	assert.ErrorIs(t, err, domain.ErrValidation)
	v, err = stringParam(p, "missing", false)
	require.NoError(t, err)
	assert.Empty(t, v)

	n, err := intParam(p, "n", 0)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	_, err = intParam(p, "f", 0)
	assert.ErrorIs(t, err, domain.ErrValidation)
	n, _ = intParam(p, "missing", 7)
	assert.Equal(t, 7, n)
	for _, huge := range []any{1e30, -1e30, int64(1) << 40} {
		_, err = intParam(map[string]any{"n": huge}, "n", 0)
		assert.ErrorIs(t, err, domain.ErrValidation, huge)
	}

	_, err = enumParam(p, "s", "a", "a", "b")
	assert.ErrorIs(t, err, domain.ErrValidation)
	e, _ := enumParam(p, "missing", "a", "a", "b")
	assert.Equal(t, "a", e)
}
