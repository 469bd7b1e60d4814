package telemetry

import (
	"testing"

	"github.com/stretchr/testify/require"
)

// TestNewFailsFastWithoutAServer exercises the constructor's connectivity
// check without requiring a real Redis server in the test environment:
// port 1 refuses connections immediately on any host, so New must return a
// wrapped error well within pingTimeout rather than hang or panic.
func TestNewFailsFastWithoutAServer(t *testing.T) {
	pub, err := New("127.0.0.1:1", "", 0)
	require.Error(t, err)
	require.Nil(t, pub)
}
