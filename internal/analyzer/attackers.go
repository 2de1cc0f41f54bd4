package analyzer

import (
	"time"

	"github.com/ethereum/go-ethereum/common"
	lru "github.com/hashicorp/golang-lru/v2"
)

// AttackerSet is the session's record of addresses confirmed as attackers.
// It is owned by the engine and handed to the analyzer, which only reads it.
// The set is bounded; the least recently confirmed address is evicted first.
type AttackerSet struct {
	cache *lru.Cache[common.Address, time.Time]
}

// NewAttackerSet creates a set holding at most size addresses.
func NewAttackerSet(size int) *AttackerSet {
	if size <= 0 {
		size = 10000
	}
	cache, _ := lru.New[common.Address, time.Time](size)
	return &AttackerSet{cache: cache}
}

// Add records addresses as confirmed attackers.
func (s *AttackerSet) Add(addrs ...common.Address) {
	now := time.Now().UTC()
	for _, a := range addrs {
		if a == (common.Address{}) {
			continue
		}
		s.cache.Add(a, now)
	}
}

// Contains reports whether addr has been confirmed as an attacker. It does not
// refresh the entry's recency.
func (s *AttackerSet) Contains(addr common.Address) bool {
	if s == nil {
		return false
	}
	return s.cache.Contains(addr)
}

// Len returns the number of tracked addresses.
func (s *AttackerSet) Len() int {
	if s == nil {
		return 0
	}
	return s.cache.Len()
}

// Addresses returns the tracked addresses, oldest first.
func (s *AttackerSet) Addresses() []common.Address {
	if s == nil {
		return nil
	}
	return s.cache.Keys()
}
