package platenv

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewReturnsUsableEnvironment(t *testing.T) {
	env := New()
	require.NotNil(t, env)

	dir, err := env.CacheDir()
	require.NoError(t, err)
	require.NotEmpty(t, dir)
}

func TestWhichResolvesKnownBinary(t *testing.T) {
	env := New()
	path, err := env.Which("go")
	if err != nil {
		t.Skip("go binary not on PATH in this environment")
	}
	require.NotEmpty(t, path)
}
