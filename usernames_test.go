package linkauth

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// usernameSet counts by prefix over a fixed population
type usernameSet []string

func (u usernameSet) CountUsernamesWithPrefix(ctx context.Context, prefix string) (int, error) {
	n := 0
	for _, name := range u {
		if strings.HasPrefix(name, prefix) {
			n++
		}
	}
	return n, nil
}

type failingCounter struct{}

func (failingCounter) CountUsernamesWithPrefix(ctx context.Context, prefix string) (int, error) {
	return 0, errors.New("db down")
}

func TestAllocate(t *testing.T) {
	ctx := context.Background()
	cases := []struct {
		name     string
		existing usernameSet
		provider Provider
		seed     string
		want     string
	}{
		{"fresh", nil, ProviderOpenID, "alice", "OI-alice"},
		{"one taken", usernameSet{"OI-alice"}, ProviderOpenID, "alice", "OI-alice2"},
		{"two taken", usernameSet{"OI-alice", "OI-alice2"}, ProviderOpenID, "alice", "OI-alice3"},
		{"other provider does not count", usernameSet{"TW-alice"}, ProviderOpenID, "alice", "OI-alice"},
		{"longer names share the prefix", usernameSet{"FB-bob", "FB-bobby"}, ProviderFacebook, "bob", "FB-bob3"},
		{"twitter", nil, ProviderTwitter, "jack", "TW-jack"},
		{"linkedin", nil, ProviderLinkedIn, "x1Y2", "LI-x1Y2"},
		{"slugified", nil, ProviderOpenID, "Zoë Smith", "OI-zoe-smith"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := NewUsernameAllocator(tc.existing).Allocate(ctx, tc.provider, tc.seed)
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestAllocateAttemptBumpsSuffix(t *testing.T) {
	ctx := context.Background()
	a := NewUsernameAllocator(usernameSet{})
	got, err := a.AllocateAttempt(ctx, ProviderOpenID, "alice", 1)
	require.NoError(t, err)
	assert.Equal(t, "OI-alice2", got)

	a = NewUsernameAllocator(usernameSet{"OI-alice"})
	got, err = a.AllocateAttempt(ctx, ProviderOpenID, "alice", 2)
	require.NoError(t, err)
	assert.Equal(t, "OI-alice4", got)
}

func TestAllocateRandomBase(t *testing.T) {
	a := NewUsernameAllocator(usernameSet{})
	a.RandomIndex = func(n int) int { return 0 }
	got, err := a.Allocate(context.Background(), ProviderFacebook, "")
	require.NoError(t, err)
	assert.Equal(t, "FB-aaaaaaaaaa", got)

	a.RandomIndex = nil
	base := a.RandomBase()
	assert.Len(t, base, RandomBaseLength)
	for _, c := range base {
		assert.Contains(t, usernameAlphabet, string(c))
	}
}

func TestAllocateErrors(t *testing.T) {
	_, err := NewUsernameAllocator(usernameSet{}).Allocate(context.Background(), Provider("myspace"), "x")
	assert.Error(t, err)

	_, err = NewUsernameAllocator(failingCounter{}).Allocate(context.Background(), ProviderOpenID, "x")
	assert.ErrorContains(t, err, "db down")
}

func TestNormalizeNickname(t *testing.T) {
	assert.Equal(t, "alice", NormalizeNickname("  alice "))
	assert.Equal(t, "Alice.B_c+d@e-f", NormalizeNickname("Alice.B_c+d@e-f"))
	assert.Equal(t, "jose-maria", NormalizeNickname("José María"))
	assert.Equal(t, "", NormalizeNickname("   "))
	assert.Equal(t, "", NormalizeNickname("!!!"))
}

func TestProviders(t *testing.T) {
	prefixes := map[Provider]string{}
	for _, p := range Providers {
		assert.True(t, p.Valid())
		prefixes[p] = p.Prefix()
	}
	assert.Equal(t, map[Provider]string{
		ProviderOpenID: "OI", ProviderTwitter: "TW", ProviderLinkedIn: "LI", ProviderFacebook: "FB",
	}, prefixes)

	p, err := ParseProvider(" Facebook ")
	require.NoError(t, err)
	assert.Equal(t, ProviderFacebook, p)
	_, err = ParseProvider("github")
	assert.Error(t, err)
	assert.Equal(t, "", Provider("github").Prefix())
}
