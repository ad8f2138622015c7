package bedrock

import (
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"
	"github.com/itsneelabh/gateway/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestToBedrockMessagesDropsSystemRole(t *testing.T) {
	msgs := []domain.Message{
		{Role: domain.RoleSystem, Content: "be terse"},
		{Role: domain.RoleUser, Content: "hi"},
		{Role: domain.RoleAssistant, Content: "hello"},
	}

	out := toBedrockMessages(msgs)
	require.Len(t, out, 2)
	assert.Equal(t, types.ConversationRoleUser, out[0].Role)
	assert.Equal(t, types.ConversationRoleAssistant, out[1].Role)
}

func TestSystemBlocksCollectsSystemMessagesOnly(t *testing.T) {
	msgs := []domain.Message{
		{Role: domain.RoleSystem, Content: "be terse"},
		{Role: domain.RoleUser, Content: "hi"},
	}

	blocks := systemBlocks(msgs)
	require.Len(t, blocks, 1)
	text, ok := blocks[0].(*types.SystemContentBlockMemberText)
	require.True(t, ok)
	assert.Equal(t, "be terse", text.Value)
}

func TestInferenceConfigNilWhenNoParamsSet(t *testing.T) {
	assert.Nil(t, inferenceConfig(domain.GenerationParams{}))
}

func TestInferenceConfigCarriesSetFields(t *testing.T) {
	cfg := inferenceConfig(domain.GenerationParams{MaxTokens: 256, Temperature: 0.5})
	require.NotNil(t, cfg)
	assert.Equal(t, int32(256), *cfg.MaxTokens)
	assert.InDelta(t, 0.5, *cfg.Temperature, 0.0001)
}

func TestExtractTextConcatenatesBlocks(t *testing.T) {
	out := &types.ConverseOutputMemberMessage{
		Value: types.Message{
			Content: []types.ContentBlock{
				&types.ContentBlockMemberText{Value: "hello "},
				&types.ContentBlockMemberText{Value: "world"},
			},
		},
	}
	content, err := extractText(out)
	require.NoError(t, err)
	assert.Equal(t, "hello world", content)
}

func TestExtractTextRejectsEmptyContent(t *testing.T) {
	out := &types.ConverseOutputMemberMessage{}
	_, err := extractText(out)
	assert.Error(t, err)
}

func TestHealthReportsUnhealthyBeforeInitialize(t *testing.T) {
	a := New("bedrock-1", nil)
	h := a.Health(nil)
	assert.Equal(t, domain.HealthUnhealthy, h.Status)
}

func TestSupportsAnyNonEmptyModelID(t *testing.T) {
	a := New("bedrock-1", nil)
	assert.True(t, a.Supports("anthropic.claude-3-sonnet-20240229-v1:0", domain.InferenceRequest{}))
	assert.False(t, a.Supports("", domain.InferenceRequest{}))
}
