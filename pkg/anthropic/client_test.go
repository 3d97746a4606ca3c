package anthropic

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestToSDKMessages_Roles(t *testing.T) {
	msgs := toSDKMessages([]Message{
		{Role: "user", Content: "hello"},
		{Role: "assistant", Content: "hi"},
		{Role: "unknown", Content: "fallback"},
	})

	require.Len(t, msgs, 3)
	assert.Equal(t, "user", string(msgs[0].Role))
	assert.Equal(t, "assistant", string(msgs[1].Role))
	// Unknown roles default to user.
	assert.Equal(t, "user", string(msgs[2].Role))
}

func TestToSDKSystemBlocks_CacheControl(t *testing.T) {
	blocks := toSDKSystemBlocks(BuildCachedSystemBlocks("system prompt"))

	require.Len(t, blocks, 1)
	assert.Equal(t, "system prompt", blocks[0].Text)
	assert.Equal(t, "1h", string(blocks[0].CacheControl.TTL))
}

func TestToSDKSystemBlocks_NoCacheControl(t *testing.T) {
	blocks := toSDKSystemBlocks([]SystemBlock{{Text: "plain"}})

	require.Len(t, blocks, 1)
	assert.Equal(t, "plain", blocks[0].Text)
}

func TestNewClient_WithRateLimit(t *testing.T) {
	c := NewClient("test-key", WithRateLimit(2, 1))

	sc, ok := c.(*sdkClient)
	require.True(t, ok)
	require.NotNil(t, sc.limiter)
	assert.Equal(t, float64(2), float64(sc.limiter.Limit()))
	assert.Equal(t, 1, sc.limiter.Burst())
}
