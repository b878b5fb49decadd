// Package credentials parses and resolves the test-server credentials a
// replayed session should authenticate with in place of the production
// credentials the live client actually presented.
package credentials

import (
	"fmt"
	"strings"
)

const (
	// MaxNameLen is the maximum byte length of a user name component.
	MaxNameLen = 255
	// MaxPasswordLen is the maximum byte length of a password component.
	MaxPasswordLen = 255
	// MaxUserInfo is the maximum total byte length of the `user=` directive.
	MaxUserInfo = 4095
)

// record is one parsed NAME[#NAME]:PASS pair. Multiple records can share a
// hash bucket; they chain off next and are disambiguated by exact user-byte
// comparison.
type record struct {
	prodUser     string
	testUser     string
	testPassword string
	next         *record
}

// Store resolves a production user name to the credentials a replayed
// session should present to the test server. It is built once by Load and
// is read-only and safe for concurrent lookup afterward.
type Store struct {
	buckets map[uint64]*record
}

// New returns an empty Store.
func New() *Store {
	return &Store{buckets: make(map[uint64]*record)}
}

// GetKeyFromUser computes the 64-bit polynomial hash used to bucket a user
// name: h = 31*h + byte. GetKeyFromUser("") is 0.
func GetKeyFromUser(user string) uint64 {
	var key uint64
	for i := 0; i < len(user); i++ {
		key = 31*key + uint64(user[i])
	}
	return key
}

// Load parses a single comma-separated `NAME[#NAME]:PASS` list and replaces
// the Store's contents. An empty string, a pair missing ':', or a component
// over 255 bytes is a parse error and leaves the prior contents untouched.
func (s *Store) Load(pairs string) error {
	if len(pairs) == 0 {
		return fmt.Errorf("credentials: empty user directive")
	}
	if len(pairs) > MaxUserInfo {
		return fmt.Errorf("credentials: user directive exceeds %d bytes", MaxUserInfo)
	}

	buckets := make(map[uint64]*record)

	for _, pair := range strings.Split(pairs, ",") {
		if pair == "" {
			return fmt.Errorf("credentials: empty pair in user directive")
		}

		colon := strings.IndexByte(pair, ':')
		if colon < 0 {
			return fmt.Errorf("credentials: pair %q has no password", pair)
		}

		namePart := pair[:colon]
		password := pair[colon+1:]

		prodUser := namePart
		testUser := namePart
		// The `#` form binds a production user name to a different test
		// user name, applied the same way for every pair including the
		// last.
		if hash := strings.IndexByte(namePart, '#'); hash >= 0 {
			prodUser = namePart[:hash]
			testUser = namePart[hash+1:]
		}

		if len(prodUser) > MaxNameLen || len(testUser) > MaxNameLen {
			return fmt.Errorf("credentials: user name in %q exceeds %d bytes", pair, MaxNameLen)
		}
		if len(password) > MaxPasswordLen {
			return fmt.Errorf("credentials: password in %q exceeds %d bytes", pair, MaxPasswordLen)
		}

		rec := &record{prodUser: prodUser, testUser: testUser, testPassword: password}
		key := GetKeyFromUser(prodUser)

		if existing, ok := buckets[key]; !ok {
			buckets[key] = rec
		} else {
			for existing.next != nil {
				existing = existing.next
			}
			existing.next = rec
		}
	}

	s.buckets = buckets
	return nil
}

func (s *Store) find(prodUser string) *record {
	rec := s.buckets[GetKeyFromUser(prodUser)]
	for rec != nil {
		if rec.prodUser == prodUser {
			return rec
		}
		rec = rec.next
	}
	return nil
}

// LookupPassword returns the test-server password configured for prodUser.
func (s *Store) LookupPassword(prodUser string) (string, bool) {
	rec := s.find(prodUser)
	if rec == nil {
		return "", false
	}
	return rec.testPassword, true
}

// LookupMappedUser returns the user name a replayed session should present
// to the test server for prodUser, equal to prodUser when no `#` mapping
// was configured.
func (s *Store) LookupMappedUser(prodUser string) (string, bool) {
	rec := s.find(prodUser)
	if rec == nil {
		return "", false
	}
	return rec.testUser, true
}
