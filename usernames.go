package linkauth

import (
	"context"
	"fmt"
	"math/rand/v2"
	"regexp"
	"strings"

	"github.com/gosimple/slug"
)

// RandomBaseLength is the length of the synthesized base used when no
// nickname is available
const RandomBaseLength = 10

const usernameAlphabet = "abcdefghijklmnopqrstuvwxyz0123456789"

var plainNickname = regexp.MustCompile(`^[A-Za-z0-9_.@+-]+$`)

// UsernamePrefixCounter is the part of the account store the allocator reads
type UsernamePrefixCounter interface {
	CountUsernamesWithPrefix(ctx context.Context, prefix string) (int, error)
}

// UsernameAllocator derives usernames of the form "{Prefix}-{base}[n]".
//
// Given the current account population the result is deterministic, except
// for the random base used when there is no seed. The storage layer's unique
// username constraint remains the authoritative guarantee: two allocations
// racing on the same base can produce the same candidate, and the loser is
// expected to call AllocateAttempt again with a higher attempt number.
type UsernameAllocator struct {
	Counter UsernamePrefixCounter

	// RandomIndex returns a value in [0, n). Defaults to math/rand/v2.
	RandomIndex func(n int) int
}

func NewUsernameAllocator(counter UsernamePrefixCounter) *UsernameAllocator {
	return &UsernameAllocator{Counter: counter}
}

// Allocate returns a username for provider derived from seed
func (a *UsernameAllocator) Allocate(ctx context.Context, provider Provider, seed string) (string, error) {
	return a.AllocateAttempt(ctx, provider, seed, 0)
}

// AllocateAttempt is Allocate with an extra suffix bump for retries after a
// storage conflict. attempt 0 is the first try.
func (a *UsernameAllocator) AllocateAttempt(ctx context.Context, provider Provider, seed string, attempt int) (string, error) {
	if !provider.Valid() {
		return "", fmt.Errorf("unknown provider: %q", provider)
	}
	base := NormalizeNickname(seed)
	if base == "" {
		base = a.RandomBase()
	}
	candidate := provider.Prefix() + "-" + base

	count, err := a.Counter.CountUsernamesWithPrefix(ctx, candidate)
	if err != nil {
		return "", fmt.Errorf("failed to count usernames: %w", err)
	}
	if count+attempt == 0 {
		return candidate, nil
	}
	return fmt.Sprintf("%s%d", candidate, count+attempt+1), nil
}

// RandomBase returns a random lowercase alphanumeric string of RandomBaseLength
func (a *UsernameAllocator) RandomBase() string {
	pick := a.RandomIndex
	if pick == nil {
		pick = rand.IntN
	}
	var sb strings.Builder
	sb.Grow(RandomBaseLength)
	for range RandomBaseLength {
		sb.WriteByte(usernameAlphabet[pick(len(usernameAlphabet))])
	}
	return sb.String()
}

// NormalizeNickname trims a nickname and slugifies it when it contains
// characters outside [A-Za-z0-9_.@+-]. Returns "" when nothing usable is left.
func NormalizeNickname(nickname string) string {
	nickname = strings.TrimSpace(nickname)
	if nickname == "" || plainNickname.MatchString(nickname) {
		return nickname
	}
	return slug.Make(nickname)
}
