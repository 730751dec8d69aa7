package secrets

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnvResolver(t *testing.T) {
	t.Setenv("BURROW_SECRET_OPENAI_API_KEY", "sk-test")
	t.Setenv("BURROW_SECRET_MY_TOKEN", "tok")

	value, err := EnvResolver{}.Resolve("OPENAI_API_KEY")
	require.NoError(t, err)
	assert.Equal(t, "sk-test", value)

	// Dashes map to underscores, case is folded.
	value, err = EnvResolver{}.Resolve("my-token")
	require.NoError(t, err)
	assert.Equal(t, "tok", value)

	_, err = EnvResolver{}.Resolve("MISSING")
	assert.Error(t, err)
}

func TestResolveAll(t *testing.T) {
	r := Static{"A": "1", "B": "2"}

	resolved, err := ResolveAll(r, []string{"A", "B"})
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"A": "1", "B": "2"}, resolved)

	_, err = ResolveAll(r, []string{"A", "C"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), `"C"`)

	resolved, err = ResolveAll(r, nil)
	require.NoError(t, err)
	assert.Nil(t, resolved)
}
