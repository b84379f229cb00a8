package extract

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/soundprediction/mnemo/pkg/provider"
)

func TestParseExtraction(t *testing.T) {
	t.Run("clean json", func(t *testing.T) {
		raw := `{"entities":[{"name":"Bobcat S650","type":"equipment"},{"name":"E-1042","type":"error_code"}],"relationships":[{"source":"E-1042","target":"hydraulic pump","type":"indicates"}]}`
		extraction, err := ParseExtraction(raw)
		require.NoError(t, err)
		assert.Len(t, extraction.Entities, 2)
		require.Len(t, extraction.Relationships, 1)
		assert.Equal(t, "indicates", extraction.Relationships[0].Type)
	})

	t.Run("markdown fences", func(t *testing.T) {
		raw := "```json\n{\"entities\":[{\"name\":\"pump\",\"type\":\"part\"}],\"relationships\":[]}\n```"
		extraction, err := ParseExtraction(raw)
		require.NoError(t, err)
		assert.Len(t, extraction.Entities, 1)
	})

	t.Run("think tags stripped", func(t *testing.T) {
		raw := "<think>the user mentions a pump\nand an error code</think>{\"entities\":[{\"name\":\"pump\",\"type\":\"part\"}],\"relationships\":[]}"
		extraction, err := ParseExtraction(raw)
		require.NoError(t, err)
		assert.Len(t, extraction.Entities, 1)
	})

	t.Run("truncated json is repaired", func(t *testing.T) {
		raw := `{"entities":[{"name":"pump","type":"part"}`
		extraction, err := ParseExtraction(raw)
		require.NoError(t, err)
		assert.Len(t, extraction.Entities, 1)
	})

	t.Run("garbage is malformed", func(t *testing.T) {
		_, err := ParseExtraction("I could not find any entities, sorry!")
		require.Error(t, err)
		assert.True(t, provider.IsMalformed(err))
	})

	t.Run("nameless proposals dropped", func(t *testing.T) {
		raw := `{"entities":[{"name":"  ","type":"part"},{"name":"pump","type":"part"}],"relationships":[{"source":"","target":"x","type":"t"},{"source":"a","target":"b","type":"t"}]}`
		extraction, err := ParseExtraction(raw)
		require.NoError(t, err)
		assert.Len(t, extraction.Entities, 1)
		assert.Len(t, extraction.Relationships, 1)
	})
}

func TestStaticExtractor(t *testing.T) {
	s := NewStaticExtractor(nil)
	extraction, err := s.Extract(t.Context(), "anything")
	require.NoError(t, err)
	assert.Empty(t, extraction.Entities)
	assert.Equal(t, 1, s.Calls)
}
