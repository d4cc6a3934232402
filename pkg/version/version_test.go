package version

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPrint(t *testing.T) {
	v, h := Version, Hash
	defer func() { Version, Hash = v, h }()

	Version, Hash = "1.0.0", ""
	require.Equal(t, "1.0.0", Print())

	Hash = "abc123"
	require.Equal(t, "1.0.0-abc123", Print())
}
