package database

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestChunkStrings(t *testing.T) {
	require.Nil(t, chunkStrings(nil, 3))
	require.Equal(t, [][]string{{"a", "b"}}, chunkStrings([]string{"a", "b"}, 3))
	require.Equal(t, [][]string{{"a", "b"}, {"c", "d"}, {"e"}}, chunkStrings([]string{"a", "b", "c", "d", "e"}, 2))
}
