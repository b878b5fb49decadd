// Package session holds the per-connection replay state this module keeps
// alongside the host's TCP session: the server's challenge, the test
// credentials substituted into it, and the bookkeeping needed to recognize
// second-auth and a renewed backend connection.
package session

import "time"

// State is the module's private data for one client/backend session, stored
// behind host.Session.Data.
type State struct {
	// Scramble is the 20-byte challenge the real backend issued at greeting
	// time; RewriteFirstAuth recomputes the native-password token over it.
	Scramble [20]byte
	// Seed323 is the first 8 bytes of Scramble, reused verbatim as the
	// pre-4.1 legacy scramble seed.
	Seed323 [8]byte

	TestUser     string
	TestPassword string

	// FirstAuthSent records that this module has already rewritten the
	// client's first HandshakeResponse41 for this session.
	FirstAuthSent bool
	// SecAuthChecked and SecAuthNotYetDone track the legacy-scramble
	// handshake: whether the EOF-triggers-old-auth probe has run, and
	// whether the client's second-auth packet is still outstanding.
	SecAuthChecked    bool
	SecAuthNotYetDone bool

	// AuthPacketAlreadyAdded guards PrepareForRenewSession's splice against
	// running twice for the same renewal.
	AuthPacketAlreadyAdded bool

	// LastRefreshTime is the last moment this session's cached auth/PS
	// entries were deep-copied out of capture-side memory.
	LastRefreshTime time.Time

	// SeqAfterPS is the triggering live packet's original client-side TCP
	// sequence number at the splice point; once the session is renewed via
	// fake SYN, client packets before it are discarded as stale retransmits.
	SeqAfterPS uint32

	// RefreshTick is a 4-bit rolling counter incremented on every refresh;
	// it exists purely as a diagnostic probe for the refresh cadence and
	// wraps to 0 after 15.
	RefreshTick uint8
}

// Reset clears a State back to its zero value, for reuse when a session slot
// is recycled by the host.
func (s *State) Reset() {
	*s = State{}
}

// TickRefresh advances RefreshTick and records now as LastRefreshTime.
func (s *State) TickRefresh(now time.Time) {
	s.RefreshTick = (s.RefreshTick + 1) & 0xF
	s.LastRefreshTime = now
}

// Idle reports whether now is at least maxIdle past LastRefreshTime. A
// session that has never been refreshed is never idle.
func (s *State) Idle(now time.Time, maxIdle time.Duration) bool {
	if s.LastRefreshTime.IsZero() {
		return false
	}
	return now.Sub(s.LastRefreshTime) >= maxIdle
}
