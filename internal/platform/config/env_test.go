package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestEnvSourcePrecedenceAndParsing(t *testing.T) {
	t.Setenv("API_TEST_PORT", "9000")
	t.Setenv("API_TEST_FLAG", "maybe")
	src := envSource{
		overrides: map[string]string{"API_TEST_PORT": " 7000 ", "API_TEST_LIST": "a, ,b,"},
		system:    true,
		file:      map[string]string{"API_TEST_PORT": "6000", "API_TEST_WAIT": "90s", "API_TEST_N": "x"},
	}

	require.Equal(t, "7000", src.str("API_TEST_PORT", "8080"))
	require.Equal(t, 90*time.Second, src.duration("API_TEST_WAIT", time.Second))
	require.Equal(t, 3, src.integer("API_TEST_N", 3))
	require.True(t, src.boolean("API_TEST_FLAG", true))
	require.Equal(t, []string{"a", "b"}, src.list("API_TEST_LIST"))
	require.Equal(t, []string{}, src.list("API_TEST_ABSENT"))

	src.system = false
	delete(src.overrides, "API_TEST_PORT")
	require.Equal(t, "6000", src.str("API_TEST_PORT", "8080"))
}

func TestSecretReference(t *testing.T) {
	ref, ok := secretReference(" sm://gateway/salt ")
	require.True(t, ok)
	require.Equal(t, "secret://gateway/salt", ref)

	_, ok = secretReference("plain-value")
	require.False(t, ok)
}
