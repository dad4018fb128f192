package domain

import (
	"testing"

	"github.com/stretchr/testify/require"

	"chat-relay/errors"
)

func TestParseIdentity_TrimsWhitespace(t *testing.T) {
	req := require.New(t)

	identity, err := ParseIdentity("  Alice  ")

	req.NoError(err)
	req.Equal("Alice", identity.String())
}

func TestParseIdentity_RejectsEmpty(t *testing.T) {
	req := require.New(t)

	for _, raw := range []string{"", "   ", "\t\n"} {
		_, err := ParseIdentity(raw)
		req.ErrorIs(err, errors.ErrIdentityEmpty)
	}
}

func TestIdentity_KeyIsCaseInsensitive(t *testing.T) {
	req := require.New(t)

	// Given two casings of the same name
	a, err := ParseIdentity("Alice")
	req.NoError(err)
	b, err := ParseIdentity("aLiCe")
	req.NoError(err)

	// Then they collide on the uniqueness key but keep their display form
	req.Equal(a.Key(), b.Key())
	req.NotEqual(a.String(), b.String())
}
