package mysqlplugin

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hohice/mysql-replay-module/config"
	"github.com/hohice/mysql-replay-module/pkg/cache"
	"github.com/hohice/mysql-replay-module/pkg/codec"
	"github.com/hohice/mysql-replay-module/pkg/host"
	"github.com/hohice/mysql-replay-module/pkg/session"
)

type recordingSink struct {
	packets []*host.TCPHeader
}

func (r *recordingSink) SavePack(_ *host.Session, _ *host.IPHeader, tcp *host.TCPHeader, _ []byte) error {
	cp := *tcp
	r.packets = append(r.packets, &cp)
	return nil
}

func testScramble() [20]byte {
	var s [20]byte
	for i := range s {
		s[i] = byte(i + 1)
	}
	return s
}

func buildHandshakeResponse(username string, authResponse []byte) []byte {
	head := make([]byte, 4+4+1+23)
	clientSecureConnection := 0x00008000
	head[0] = byte(clientSecureConnection)
	head[1] = byte(clientSecureConnection >> 8)

	var out []byte
	out = append(out, head...)
	out = append(out, []byte(username)...)
	out = append(out, 0)
	out = append(out, byte(len(authResponse)))
	out = append(out, authResponse...)
	return out
}

func newPlugin(t *testing.T, userDirective string) (*Plugin, *recordingSink) {
	t.Helper()
	sink := &recordingSink{}
	p := New(sink, nil)
	cfg := config.Default()
	cfg.User = userDirective
	require.NoError(t, p.Init(cfg))
	return p, sink
}

// TestNativeAuthRewrite covers the native-password path: with the session's
// scramble seeded as a greeting would leave it, a client first-auth is
// rewritten to the configured test user and a native-password token
// computed over that scramble, and the rewritten packet is cached.
func TestNativeAuthRewrite(t *testing.T) {
	p, _ := newPlugin(t, "root#alice:secret")
	st := &session.State{}

	scramble := testScramble()
	st.Scramble = scramble
	copy(st.Seed323[:], scramble[:8])

	sess := &host.Session{Key: 1}
	key := host.Key(1)

	captured := buildHandshakeResponse("root", make([]byte, 20))
	rewritten, code := p.ProcAuth(key, st, sess, host.IPHeader{}, host.TCPHeader{}, captured, time.Unix(1000, 0))
	require.Equal(t, host.PackContinue, code)
	require.True(t, st.FirstAuthSent)

	user, err := codec.ExtractUsername(rewritten)
	require.NoError(t, err)
	assert.Equal(t, "alice", user)

	// 1-byte-length framing with no trailing fields: the token is the last
	// ScrambleLength bytes of the rewritten payload.
	wantToken := codec.NativePasswordToken("secret", scramble)
	assert.Equal(t, wantToken[:], rewritten[len(rewritten)-codec.ScrambleLength:])

	gotEntry, ok := p.cache.GetFirstAuth(key)
	require.True(t, ok)
	gotUser, err := codec.ExtractUsername(gotEntry.Payload)
	require.NoError(t, err)
	assert.Equal(t, "alice", gotUser)
}

// TestSecondAuthTriggered: an EOF after first-auth flips SecAuthNotYetDone,
// and the next client packet is rewritten with the legacy scramble and
// cached as second-auth.
func TestSecondAuthTriggered(t *testing.T) {
	p, _ := newPlugin(t, "root:secret")
	st := &session.State{}
	scramble := testScramble()
	st.Scramble = scramble
	copy(st.Seed323[:], scramble[:8])
	st.FirstAuthSent = true
	st.TestUser = "root"
	st.TestPassword = "secret"

	p.CheckNeededForSecAuth(st, []byte{0xfe})
	assert.True(t, st.SecAuthNotYetDone)

	key := host.Key(7)
	require.NoError(t, p.cache.CacheFirstAuth(key, cache.FrameEntry{Payload: []byte("first-auth")}, time.Unix(1, 0)))

	sess := &host.Session{Key: key}
	rewritten, code := p.ProcAuth(key, st, sess, host.IPHeader{}, host.TCPHeader{}, make([]byte, 8), time.Unix(2000, 0))
	require.Equal(t, host.PackContinue, code)
	assert.False(t, st.SecAuthNotYetDone)

	want := codec.OldPasswordScramble("secret", st.Seed323)
	assert.Equal(t, want[:], rewritten)

	_, ok := p.cache.GetSecondAuth(key)
	assert.True(t, ok)
}

// TestUnknownUserStopsSession: an unconfigured production user fails
// first-auth rewriting, the packet is dropped and the session is flagged
// over.
func TestUnknownUserStopsSession(t *testing.T) {
	p, _ := newPlugin(t, "root:x")
	st := &session.State{Scramble: testScramble()}
	sess := &host.Session{Key: 9}
	key := host.Key(9)

	captured := buildHandshakeResponse("ghost", make([]byte, 20))
	payload, code := p.ProcAuth(key, st, sess, host.IPHeader{}, host.TCPHeader{}, captured, time.Unix(1, 0))

	assert.Equal(t, host.PackStop, code)
	assert.Nil(t, payload)
	assert.True(t, sess.SessOver)
	_, ok := p.cache.GetFirstAuth(key)
	assert.False(t, ok)
}

// TestRenewSplicesCachedPackets: after auth and a PREPARE,
// CheckRenewSession fires on the matching EXECUTE, and
// PrepareForRenewSession emits the cached auth ahead of the live packet
// with its sequence numbers rewritten.
func TestRenewSplicesCachedPackets(t *testing.T) {
	p, sink := newPlugin(t, "root:secret")
	st := &session.State{Scramble: testScramble()}
	key := host.Key(42)
	sess := &host.Session{Key: key}

	captured := buildHandshakeResponse("root", make([]byte, 20))
	_, code := p.ProcAuth(key, st, sess, host.IPHeader{}, host.TCPHeader{}, captured, time.Unix(1, 0))
	require.Equal(t, host.PackContinue, code)

	firstAuth, ok := p.cache.GetFirstAuth(key)
	require.True(t, ok)
	l1 := uint32(len(firstAuth.Payload))

	prepare := []byte{codec.ComStmtPrepare, 'S', 'E', 'L', 'E', 'C', 'T', ' ', '1'}
	prepareCode := p.CheckPackNeededForRecons(st, sess, key, host.IPHeader{}, host.TCPHeader{Seq: 1000}, prepare, time.Unix(2, 0))
	require.Equal(t, host.PackContinue, prepareCode)

	assert.True(t, p.CheckRenewSession(key, 0, codec.ComStmtExecute))

	liveTCP := &host.TCPHeader{Seq: 5000}
	err := p.PrepareForRenewSession(st, key, sess, liveTCP)
	require.NoError(t, err)

	lp := uint32(len(prepare))
	total := l1 + lp
	assert.Equal(t, uint32(5000)-total, liveTCP.Seq)
	require.Len(t, sink.packets, 2)
	assert.Equal(t, liveTCP.Seq+1, sink.packets[0].Seq)
	assert.Equal(t, liveTCP.Seq+1+l1, sink.packets[1].Seq)

	// Idempotent: a second call does nothing further.
	before := len(sink.packets)
	require.NoError(t, p.PrepareForRenewSession(st, key, sess, liveTCP))
	assert.Len(t, sink.packets, before)
}

// TestRefreshAfterIdle: a command packet arriving after MaxRethreshTime
// triggers exactly one refresh, and the refreshed entry's content is
// unchanged.
func TestRefreshAfterIdle(t *testing.T) {
	p, _ := newPlugin(t, "root:secret")
	st := &session.State{Scramble: testScramble()}
	key := host.Key(11)
	sess := &host.Session{Key: key}

	captured := buildHandshakeResponse("root", make([]byte, 20))
	_, code := p.ProcAuth(key, st, sess, host.IPHeader{}, host.TCPHeader{}, captured, time.Unix(1, 0))
	require.Equal(t, host.PackContinue, code)

	query := []byte{codec.ComQuery, 'S', 'E', 'L', 'E', 'C', 'T', ' ', '1'}
	t0 := time.Unix(100, 0)
	p.CheckPackNeededForRecons(st, sess, key, host.IPHeader{}, host.TCPHeader{Seq: 1}, query, t0)
	require.Equal(t, uint8(1), st.RefreshTick)
	assert.Equal(t, t0, st.LastRefreshTime)

	p.CheckPackNeededForRecons(st, sess, key, host.IPHeader{}, host.TCPHeader{Seq: 2}, query, t0.Add(time.Second))
	assert.Equal(t, uint8(1), st.RefreshTick, "within MaxRethreshTime, no refresh")

	t1 := t0.Add(p.cfg.MaxRethreshTime + time.Second)
	p.CheckPackNeededForRecons(st, sess, key, host.IPHeader{}, host.TCPHeader{Seq: 3}, query, t1)
	assert.Equal(t, uint8(2), st.RefreshTick)
	assert.Equal(t, t1, st.LastRefreshTime)

	entry, ok := p.cache.GetFirstAuth(key)
	require.True(t, ok)
	user, err := codec.ExtractUsername(entry.Payload)
	require.NoError(t, err)
	assert.Equal(t, "root", user, "refresh preserves cached content")
}

// TestInitAppliesMaxSPSize checks the configured prepared-statement cap is
// honored by the replay cache, not just validated.
func TestInitAppliesMaxSPSize(t *testing.T) {
	sink := &recordingSink{}
	p := New(sink, nil)
	cfg := config.Default()
	cfg.User = "root:secret"
	cfg.MaxSPSize = 1
	require.NoError(t, p.Init(cfg))

	st := &session.State{Scramble: testScramble(), FirstAuthSent: true}
	key := host.Key(13)
	sess := &host.Session{Key: key}

	prepare := []byte{codec.ComStmtPrepare, 'S', 'E', 'L'}
	require.Equal(t, host.PackContinue,
		p.CheckPackNeededForRecons(st, sess, key, host.IPHeader{}, host.TCPHeader{Seq: 100}, prepare, time.Unix(1, 0)))
	require.Equal(t, host.PackContinue,
		p.CheckPackNeededForRecons(st, sess, key, host.IPHeader{}, host.TCPHeader{Seq: 200}, prepare, time.Unix(2, 0)))

	list, ok := p.cache.GetPrepared(key)
	require.True(t, ok)
	assert.Len(t, list.Packets, 1, "second PREPARE past the cap is dropped")
}
