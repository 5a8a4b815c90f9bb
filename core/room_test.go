package core

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRolePair(t *testing.T) {
	t.Run("rejects empty roles", func(t *testing.T) {
		_, err := NewRolePair("", "divyangini")
		assert.ErrorIs(t, err, ErrInvalidRolePair)
	})

	t.Run("rejects identical roles", func(t *testing.T) {
		_, err := NewRolePair("akash", "akash")
		assert.ErrorIs(t, err, ErrInvalidRolePair)
	})

	t.Run("argument order does not matter", func(t *testing.T) {
		p1, err := NewRolePair("akash", "divyangini")
		require.NoError(t, err)
		p2, err := NewRolePair("divyangini", "akash")
		require.NoError(t, err)
		assert.Equal(t, p1, p2)
		assert.Equal(t, "akash-divyangini", p1.RoomID())
	})
}

func TestResolve(t *testing.T) {
	pair, err := NewRolePair("divyangini", "akash")
	require.NoError(t, err)

	t.Run("both members resolve to the same room", func(t *testing.T) {
		roomA, otherA, ok := pair.Resolve("akash")
		require.True(t, ok)
		roomB, otherB, ok := pair.Resolve("divyangini")
		require.True(t, ok)

		assert.Equal(t, roomA, roomB)
		assert.Equal(t, "divyangini", otherA)
		assert.Equal(t, "akash", otherB)
	})

	t.Run("unknown role does not resolve", func(t *testing.T) {
		_, _, ok := pair.Resolve("stranger")
		assert.False(t, ok)
		assert.False(t, pair.Has("stranger"))
	})

	t.Run("roles are reported in lexicographic order", func(t *testing.T) {
		assert.Equal(t, []string{"akash", "divyangini"}, pair.Roles())
	})
}
