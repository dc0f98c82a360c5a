package keyring

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	zkr "github.com/zalando/go-keyring"
)

func TestAPIKeyRoundTrip(t *testing.T) {
	zkr.MockInit()

	_, err := APIKey("anthropic")
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, SetAPIKey("Anthropic", " sk-test \n"))
	key, err := APIKey("anthropic")
	require.NoError(t, err)
	assert.Equal(t, "sk-test", key)

	require.NoError(t, DeleteAPIKey("anthropic"))
	require.NoError(t, DeleteAPIKey("anthropic"))
	_, err = APIKey("anthropic")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestDisabledByEnv(t *testing.T) {
	zkr.MockInit()
	require.NoError(t, SetAPIKey("openai", "sk-x"))

	t.Setenv("INTENTCORE_KEYRING_DISABLED", "1")
	_, err := APIKey("openai")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.False(t, Available())
}
