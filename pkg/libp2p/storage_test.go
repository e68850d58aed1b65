package libp2p

import (
	"os"
	"testing"

	"github.com/stretchr/testify/require"
)

// newTestDir creates a temporary directory for testing and returns its path.
func newTestDir(t *testing.T) string {
	dir, err := os.MkdirTemp("", "hushroom-test-")
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, os.RemoveAll(dir)) })
	return dir
}

func TestSaveLoadIdentity(t *testing.T) {
	dir := newTestDir(t)

	// 1. Test key generation when none exists
	privKey, err := LoadIdentity(dir)
	require.NoError(t, err)
	require.NotNil(t, privKey)

	// 2. Test loading the same key
	loadedKey, err := LoadIdentity(dir)
	require.NoError(t, err)
	require.True(t, privKey.Equals(loadedKey), "loaded key should be the same as the saved key")
}
