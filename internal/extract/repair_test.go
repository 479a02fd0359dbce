package extract

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRepairJSONValid(t *testing.T) {
	valid := `{"summary": "ok", "comments": []}`
	repaired, stats, err := RepairJSON(valid)
	require.NoError(t, err)
	assert.Equal(t, valid, repaired)
	assert.False(t, stats.WasRepaired)
	assert.Equal(t, len(valid), stats.OriginalBytes)
}

func TestRepairJSONMalformed(t *testing.T) {
	inputs := []string{
		`{"summary": "ok", "comments": [{"file": "a.go", "line": 3,}]}`,
		`{"summary": "truncated", "comments": [{"file": "a.go"`,
		`{summary: 'single quoted'}`,
	}
	for _, in := range inputs {
		repaired, stats, err := RepairJSON(in)
		require.NoError(t, err, in)
		assert.True(t, stats.WasRepaired)
		assert.NotEmpty(t, stats.Strategies)
		assert.True(t, json.Valid([]byte(repaired)), repaired)
	}
}

func TestCompleteJSON(t *testing.T) {
	assert.Equal(t, `{"a": [1, 2]}`, completeJSON(`{"a": [1, 2`))
	assert.Equal(t, `{"a": "x}"}`, completeJSON(`{"a": "x}`))
}

func TestFindJSONObjects(t *testing.T) {
	text := "intro\n```json\n{\"summary\": \"fenced\"}\n```\nand {\"summary\": \"bare\"} trailing"
	objs := findJSONObjects(text)
	require.Len(t, objs, 2)
	assert.Equal(t, `{"summary": "fenced"}`, objs[0])
	assert.Equal(t, `{"summary": "fenced"}`, objs[1], "first balanced object of the raw text")

	assert.Empty(t, findJSONObjects("no braces here"))
	assert.Equal(t, []string{`{"summary": "open`}, findJSONObjects(`text {"summary": "open`))
}
