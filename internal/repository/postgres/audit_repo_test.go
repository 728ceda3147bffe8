package postgres

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xela07ax/spaceai-agentcore/internal/audit"
)

func TestBuildInsert(t *testing.T) {
	ts := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	events := []audit.SkillCallEvent{
		{ID: "a", Skill: "file_read", Outcome: "success", Params: map[string]any{"path": "notes.md"}, Timestamp: ts},
		{ID: "b", Skill: "shell_exec", Outcome: "policy_denied", Error: "hard deny", Timestamp: ts},
	}

	query, vals, err := buildInsert(events)
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(query, "INSERT INTO skill_calls (id, trace_id,"))
	assert.Contains(t, query, "($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13),($14,")
	assert.Contains(t, query, "$26)")
	assert.NotContains(t, query, "$27")
	assert.True(t, strings.HasSuffix(query, "ON CONFLICT (id) DO NOTHING"))

	require.Len(t, vals, 2*numFields)
	assert.Equal(t, "a", vals[0])
	assert.JSONEq(t, `{"path":"notes.md"}`, string(vals[5].([]byte)))
	assert.Nil(t, vals[numFields+5].([]byte), "nil params stay NULL")
	assert.Equal(t, "hard deny", vals[numFields+10])
	assert.Equal(t, ts, vals[numFields+12])
}

func TestMaxRowsPerInsertFitsBindLimit(t *testing.T) {
	assert.LessOrEqual(t, maxRowsPerInsert*numFields, 65535)
}
