package credentials

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetKeyFromUser(t *testing.T) {
	assert.Equal(t, uint64(0), GetKeyFromUser(""))

	var want uint64
	s := "root"
	for i := 0; i < len(s); i++ {
		want = 31*want + uint64(s[i])
	}
	assert.Equal(t, want, GetKeyFromUser(s))
}

func TestLoadAndLookup(t *testing.T) {
	s := New()
	require.NoError(t, s.Load("root#alice:secret,bob:pw2"))

	pw, ok := s.LookupPassword("root")
	require.True(t, ok)
	assert.Equal(t, "secret", pw)

	user, ok := s.LookupMappedUser("root")
	require.True(t, ok)
	assert.Equal(t, "alice", user)

	pw, ok = s.LookupPassword("bob")
	require.True(t, ok)
	assert.Equal(t, "pw2", pw)

	user, ok = s.LookupMappedUser("bob")
	require.True(t, ok)
	assert.Equal(t, "bob", user)

	_, ok = s.LookupPassword("ghost")
	assert.False(t, ok)
}

func TestLoadTrailingMappedPairIsSymmetric(t *testing.T) {
	// The `#` form on the last pair must behave the same as on a
	// non-final pair.
	s := New()
	require.NoError(t, s.Load("bob:pw2,root#alice:secret"))

	user, ok := s.LookupMappedUser("root")
	require.True(t, ok)
	assert.Equal(t, "alice", user)

	pw, ok := s.LookupPassword("root")
	require.True(t, ok)
	assert.Equal(t, "secret", pw)
}

func TestLoadErrors(t *testing.T) {
	cases := map[string]string{
		"empty input":       "",
		"missing colon":     "rootsecret",
		"empty pair":        "root:pw,,bob:pw2",
		"name too long":     repeat("a", 256) + ":pw",
		"password too long": "root:" + repeat("a", 256),
	}

	for name, input := range cases {
		t.Run(name, func(t *testing.T) {
			s := New()
			assert.Error(t, s.Load(input), name)
		})
	}
}

func TestLoadBoundaryLengthsAccepted(t *testing.T) {
	s := New()
	require.NoError(t, s.Load(repeat("a", 255)+":"+repeat("b", 255)))
	pw, ok := s.LookupPassword(repeat("a", 255))
	require.True(t, ok)
	assert.Equal(t, repeat("b", 255), pw)
}

func TestCollisionChain(t *testing.T) {
	// "Aa" and "BB" share the classic 31-multiplier hash collision
	// (65*31+97 == 66*31+66 == 2112); both must resolve correctly via the
	// chain, confirmed by byte-exact comparison.
	a, b := "Aa", "BB"
	require.Equal(t, GetKeyFromUser(a), GetKeyFromUser(b))

	s := New()
	require.NoError(t, s.Load(a+":pwa,"+b+":pwb"))

	pw, ok := s.LookupPassword(a)
	require.True(t, ok)
	assert.Equal(t, "pwa", pw)

	pw, ok = s.LookupPassword(b)
	require.True(t, ok)
	assert.Equal(t, "pwb", pw)
}

func repeat(s string, n int) string {
	out := make([]byte, n)
	for i := range out {
		out[i] = s[0]
	}
	return string(out)
}
