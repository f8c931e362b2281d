package llmclient

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseJSONObjectStrict(t *testing.T) {
	parsed, raw := parseJSONObject(`{"a": 1, "b": "two"}`)
	require.Equal(t, float64(1), parsed["a"])
	require.Equal(t, "two", parsed["b"])
	require.Equal(t, `{"a": 1, "b": "two"}`, raw)
}

func TestParseJSONObjectFallsBackToLargestBalancedBlock(t *testing.T) {
	content := "Here is the result:\n```json\n{\"score\": 0.9, \"nested\": {\"inner\": 1}}\n```\nLet me know if you need more."
	parsed, _ := parseJSONObject(content)
	require.NotNil(t, parsed)
	require.Equal(t, 0.9, parsed["score"])
}

func TestParseJSONObjectIgnoresBracesInsideStrings(t *testing.T) {
	content := `prefix {"text": "a } b { c", "n": 2} suffix`
	parsed, _ := parseJSONObject(content)
	require.NotNil(t, parsed)
	require.Equal(t, "a } b { c", parsed["text"])
	require.Equal(t, float64(2), parsed["n"])
}

func TestParseJSONObjectGivesUpOnUnparseableContent(t *testing.T) {
	parsed, raw := parseJSONObject("no json here at all")
	require.Nil(t, parsed)
	require.Equal(t, "no json here at all", raw)
}
