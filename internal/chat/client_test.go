package chat

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/genai"

	"github.com/gemrelay/gemrelay/internal/media"
)

func TestToContents(t *testing.T) {
	t.Parallel()

	turns := []Turn{
		{Role: RoleUser, Parts: []Part{
			{Text: "Alice: hello"},
			{Image: &media.Image{MIMEType: "image/png", Data: []byte{1, 2, 3}}},
		}},
		{Role: RoleModel, Parts: []Part{{Text: "hi"}}},
		{Role: RoleUser}, // empty turns are dropped
	}

	contents := toContents(turns)
	require.Len(t, contents, 2)

	assert.Equal(t, RoleUser, contents[0].Role)
	require.Len(t, contents[0].Parts, 2)
	assert.Equal(t, "Alice: hello", contents[0].Parts[0].Text)
	require.NotNil(t, contents[0].Parts[1].InlineData)
	assert.Equal(t, "image/png", contents[0].Parts[1].InlineData.MIMEType)

	assert.Equal(t, RoleModel, contents[1].Role)
}

func TestGenerationConfig(t *testing.T) {
	t.Parallel()

	config := generationConfig("be helpful")

	assert.Equal(t, float32(1.0), *config.Temperature)
	assert.Equal(t, float32(0.95), *config.TopP)
	assert.Equal(t, float32(40), *config.TopK)
	assert.Equal(t, int32(maxOutputTokens), config.MaxOutputTokens)
	require.NotNil(t, config.SystemInstruction)
	assert.Equal(t, "be helpful", config.SystemInstruction.Parts[0].Text)

	require.Len(t, config.SafetySettings, 4)
	for _, setting := range config.SafetySettings {
		assert.Equal(t, genai.HarmBlockThresholdBlockNone, setting.Threshold)
	}

	assert.Nil(t, generationConfig("").SystemInstruction)
}
