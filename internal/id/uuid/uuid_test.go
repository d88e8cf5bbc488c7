// Package uuid includes tests for the UUID generator wrapper.
package uuid

import (
	"testing"

	goUUID "github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

// TestGeneratorNewID ensures generated IDs are unique and valid UUIDs.
func TestGeneratorNewID(t *testing.T) {
	t.Parallel()

	gen := New()
	id1, err := gen.NewID()
	require.NoError(t, err)
	id2, err := gen.NewID()
	require.NoError(t, err)
	require.NotEqual(t, id1, id2)

	parsed, err := goUUID.Parse(id1)
	require.NoError(t, err)
	require.Equal(t, goUUID.Version(7), parsed.Version())
}

func TestBoardIDIsDeterministic(t *testing.T) {
	t.Parallel()

	a := BoardID("RemoteOK")
	b := BoardID("  remoteok ")
	require.Equal(t, a, b)
	require.NotEqual(t, a, BoardID("Indeed"))

	parsed, err := goUUID.Parse(a)
	require.NoError(t, err)
	require.Equal(t, goUUID.Version(5), parsed.Version())
}

func TestValid(t *testing.T) {
	t.Parallel()

	require.True(t, Valid(BoardID("indeed")))
	require.False(t, Valid("not-a-uuid"))
	require.False(t, Valid(""))
}
