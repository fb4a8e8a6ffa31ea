package llm

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/m4xw311/aida/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeBedrock struct {
	body    []byte
	err     error
	request map[string]interface{}
}

func (f *fakeBedrock) InvokeModel(_ context.Context, params *bedrockruntime.InvokeModelInput, _ ...func(*bedrockruntime.Options)) (*bedrockruntime.InvokeModelOutput, error) {
	if err := json.Unmarshal(params.Body, &f.request); err != nil {
		return nil, err
	}
	if f.err != nil {
		return nil, f.err
	}
	return &bedrockruntime.InvokeModelOutput{Body: f.body}, nil
}

func TestConvertMessagesToAnthropicFormat(t *testing.T) {
	result, system := convertMessagesToAnthropicFormat([]Message{
		{Role: RoleSystem, Content: "You are AIDA."},
		{Role: RoleUser, Content: "Hello, world!"},
		{Role: RoleAssistant, Content: "Hello! How can I help you?"},
		{Role: RoleAssistant, Content: ""},
	})
	assert.Equal(t, "You are AIDA.", system)
	require.Len(t, result, 2)
	assert.Equal(t, "user", result[0]["role"])
	assert.Equal(t, "assistant", result[1]["role"])
}

func TestCreateAnthropicRequest(t *testing.T) {
	body, err := createAnthropicRequest([]map[string]interface{}{textMessage("user", "hi")}, "sys", 0)
	require.NoError(t, err)

	var decoded map[string]interface{}
	require.NoError(t, json.Unmarshal(body, &decoded))
	assert.Equal(t, "bedrock-2023-05-31", decoded["anthropic_version"])
	assert.Equal(t, "sys", decoded["system"])
	assert.EqualValues(t, anthropicMaxTokens, decoded["max_tokens"])
}

func TestProcessBedrockResponse(t *testing.T) {
	reply, err := processBedrockResponse([]byte(`{"content":[{"type":"text","text":"Final Answer: "},{"type":"text","text":"3 users"}]}`))
	require.NoError(t, err)
	assert.Equal(t, "Final Answer: 3 users", reply)

	_, err = processBedrockResponse([]byte(`{"error":"throttled"}`))
	assert.True(t, errors.Is(err, errors.ErrProvider))

	_, err = processBedrockResponse([]byte(`not json`))
	assert.True(t, errors.Is(err, errors.ErrProvider))
}

func TestBedrockChat(t *testing.T) {
	fake := &fakeBedrock{body: []byte(`{"content":[{"type":"text","text":"RELEVANT: disk usage"}]}`)}
	p := &BedrockProvider{client: fake, modelID: "anthropic.claude-3-haiku-20240307-v1:0"}

	reply, err := p.Invoke(context.Background(), "What's the current disk usage?")
	require.NoError(t, err)
	assert.Equal(t, "RELEVANT: disk usage", reply)
	assert.Equal(t, "bedrock-2023-05-31", fake.request["anthropic_version"])

	fake.err = assert.AnError
	_, err = p.Invoke(context.Background(), "again")
	assert.True(t, errors.Is(err, errors.ErrProvider))
}
