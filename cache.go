package linkauth

import (
	"time"

	gocache "github.com/patrickmn/go-cache"
)

// DefaultAccountCacheTTL is used when NewAccountCache gets a non-positive ttl
const DefaultAccountCacheTTL = 5 * time.Minute

// AccountCache keeps recently resolved accounts in memory to save a store
// round trip per request. A nil *AccountCache is valid and caches nothing.
type AccountCache struct {
	c *gocache.Cache
}

func NewAccountCache(ttl time.Duration) *AccountCache {
	if ttl <= 0 {
		ttl = DefaultAccountCacheTTL
	}
	return &AccountCache{c: gocache.New(ttl, 2*ttl)}
}

// Get returns a copy of the cached account
func (ac *AccountCache) Get(accountID string) (*Account, bool) {
	if ac == nil || accountID == "" {
		return nil, false
	}
	v, ok := ac.c.Get(accountID)
	if !ok {
		return nil, false
	}
	account := *v.(*Account)
	return &account, true
}

func (ac *AccountCache) Put(account *Account) {
	if ac == nil || account == nil {
		return
	}
	copied := *account
	ac.c.SetDefault(account.ID, &copied)
}

func (ac *AccountCache) Delete(accountID string) {
	if ac == nil {
		return
	}
	ac.c.Delete(accountID)
}
