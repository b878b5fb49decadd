// Package mysqlplugin implements the host plug-in contract (Module
// Dispatch): it wires the Credential Store, Packet Codec, Session State,
// Replay Cache, and Renew Splicer together behind the hooks a traffic-copy
// host calls per packet and per session.
package mysqlplugin

import (
	"time"

	"go.uber.org/zap"

	"github.com/hohice/mysql-replay-module/config"
	"github.com/hohice/mysql-replay-module/pkg/cache"
	"github.com/hohice/mysql-replay-module/pkg/codec"
	"github.com/hohice/mysql-replay-module/pkg/credentials"
	"github.com/hohice/mysql-replay-module/pkg/host"
	"github.com/hohice/mysql-replay-module/pkg/session"
	"github.com/hohice/mysql-replay-module/pkg/splice"
)

// Plugin is the module's single entry point for a host to drive: it holds
// every component's shared state for the lifetime of the process.
type Plugin struct {
	cfg         config.Config
	credentials *credentials.Store
	cache       *cache.Cache
	splicer     *splice.Splicer
	sink        host.PacketSink
	logger      *zap.Logger
}

// New builds a Plugin over sink, ready for Init.
func New(sink host.PacketSink, logger *zap.Logger) *Plugin {
	if logger == nil {
		logger = zap.NewNop()
	}
	c := cache.New(0)
	return &Plugin{
		credentials: credentials.New(),
		cache:       c,
		splicer:     splice.New(c, sink, logger),
		sink:        sink,
		logger:      logger,
	}
}

// Init loads cfg's credential directive and cache pools, per the init hook.
// A parse failure here is a Config-class error: it fails module init and
// the host must not start the session pipeline.
func (p *Plugin) Init(cfg config.Config) error {
	if err := p.credentials.Load(cfg.User); err != nil {
		return err
	}
	p.cfg = cfg
	p.cache = cache.New(cfg.CacheCapacity)
	p.cache.SetPreparedLimit(cfg.MaxSPSize)
	p.splicer = splice.New(p.cache, p.sink, p.logger)
	return nil
}

// Exit releases process-lifetime resources. The cache pools are ordinary
// Go-managed memory, so there is nothing to free explicitly; Exit exists to
// mirror the host's init/exit hook pairing and is the natural place to add
// teardown logging.
func (p *Plugin) Exit() {
	p.logger.Info("mysql replay module exiting")
}

// OnSessionCreate installs a fresh session.State behind sess.Data.
func (p *Plugin) OnSessionCreate(sess *host.Session) {
	sess.Data = &session.State{}
}

// OnSessionDestroy evicts every cached entry for a torn-down session.
func (p *Plugin) OnSessionDestroy(key host.Key) {
	p.cache.Evict(key)
}

// RemoveObsoleteResources implements the periodic sweep hook: when isFull
// the host needs every entry reclaimed immediately, so the threshold is set
// past now; otherwise only entries idle since MaxIdleTime are evicted.
func (p *Plugin) RemoveObsoleteResources(isFull bool, now time.Time) []host.Key {
	threshold := now.Add(-p.cfg.MaxIdleTime)
	if isFull {
		threshold = now.Add(time.Second)
	}
	return p.cache.Sweep(threshold)
}

// ProcGreet parses a server Initial Handshake and seeds the session's
// scramble. A malformed greeting is a Protocol-class error: it is logged
// and reported to the host as ERR, affecting only this session. ProcGreet
// has no host session handle and does not set SessOver itself.
func (p *Plugin) ProcGreet(st *session.State, payload []byte) host.ReturnCode {
	g, err := codec.ParseHandshake(payload)
	if err != nil {
		p.logger.Warn("unsupported greeting, stopping session", zap.Error(err))
		return host.ERR
	}
	st.Scramble = g.Scramble
	st.Seed323 = g.Seed323
	return host.OK
}

// CheckNeededForSecAuth inspects the first server response after first-auth:
// an is_last_data_packet EOF means the server is switching the client to
// the legacy old_password auth, so a second-auth packet is expected next.
func (p *Plugin) CheckNeededForSecAuth(st *session.State, payload []byte) {
	if st.SecAuthChecked {
		return
	}
	st.SecAuthChecked = true
	if codec.IsLastDataPacket(payload) {
		st.SecAuthNotYetDone = true
	}
}

// ProcAuth rewrites a client auth packet to present the configured test
// credentials, and caches the rewritten packet for eventual renewal. It
// does nothing until the session has received its replayed greeting. A
// rewrite failure drops the packet (PackStop) and sets sess.SessOver.
func (p *Plugin) ProcAuth(key host.Key, st *session.State, sess *host.Session, ip host.IPHeader, tcp host.TCPHeader, payload []byte, now time.Time) ([]byte, host.ReturnCode) {
	if sess.NeedRepGreet && !sess.RcvRepGreet {
		return payload, host.PackContinue
	}

	var out []byte
	var code host.ReturnCode
	switch {
	case !st.FirstAuthSent:
		out, code = p.rewriteFirstAuth(key, st, ip, tcp, payload, now)
	case st.SecAuthNotYetDone:
		out, code = p.rewriteSecondAuth(key, st, ip, tcp, payload, now)
	default:
		return payload, host.PackContinue
	}
	if code == host.PackStop {
		sess.SessOver = true
	}
	return out, code
}

func (p *Plugin) rewriteFirstAuth(key host.Key, st *session.State, ip host.IPHeader, tcp host.TCPHeader, payload []byte, now time.Time) ([]byte, host.ReturnCode) {
	prodUser, err := codec.ExtractUsername(payload)
	if err != nil {
		p.logger.Warn("malformed first-auth, stopping session", zap.Error(err))
		return nil, host.PackStop
	}

	testPassword, ok := p.credentials.LookupPassword(prodUser)
	if !ok {
		p.logger.Warn("unknown production user, stopping session", zap.String("user", prodUser))
		return nil, host.PackStop
	}
	testUser, _ := p.credentials.LookupMappedUser(prodUser)

	rewritten, err := codec.RewriteFirstAuth(payload, testUser, testPassword, st.Scramble)
	if err != nil {
		p.logger.Warn("cannot rewrite first-auth, stopping session", zap.Error(err))
		return nil, host.PackStop
	}

	st.TestUser = testUser
	st.TestPassword = testPassword
	st.FirstAuthSent = true

	if err := p.cache.CacheFirstAuth(key, cache.FrameEntry{IP: ip, TCP: tcp, Payload: rewritten}, now); err != nil {
		p.logger.Warn("failed to cache first-auth, renewal capability degraded", zap.Error(err))
	}
	return rewritten, host.PackContinue
}

func (p *Plugin) rewriteSecondAuth(key host.Key, st *session.State, ip host.IPHeader, tcp host.TCPHeader, payload []byte, now time.Time) ([]byte, host.ReturnCode) {
	response := codec.OldPasswordScramble(st.TestPassword, st.Seed323)
	rewritten, err := codec.RewriteSecondAuth(payload, response)
	if err != nil {
		p.logger.Warn("cannot rewrite second-auth, stopping session", zap.Error(err))
		return nil, host.PackStop
	}

	st.SecAuthNotYetDone = false

	if err := p.cache.CacheSecondAuth(key, cache.FrameEntry{IP: ip, TCP: tcp, Payload: rewritten}, now); err != nil {
		p.logger.Warn("failed to cache second-auth, renewal capability degraded", zap.Error(err))
	}
	return rewritten, host.PackContinue
}

// CheckRenewSession and PrepareForRenewSession delegate to the Splicer.
func (p *Plugin) CheckRenewSession(key host.Key, packetNumber byte, command byte) bool {
	return p.splicer.CheckRenewSession(key, packetNumber, command)
}

func (p *Plugin) PrepareForRenewSession(st *session.State, key host.Key, sess *host.Session, liveTCP *host.TCPHeader) error {
	return p.splicer.PrepareForRenewSession(st, key, sess, liveTCP)
}

// CheckPackNeededForRecons filters stale retransmits, captures PREPARE
// traffic into the replay cache, and opportunistically refreshes the cache
// on other command packets once MaxRethreshTime has elapsed.
func (p *Plugin) CheckPackNeededForRecons(st *session.State, sess *host.Session, key host.Key, ip host.IPHeader, tcp host.TCPHeader, payload []byte, now time.Time) host.ReturnCode {
	if !p.splicer.CheckPackNeededForReconstruction(st, sess, tcp.Seq) {
		return host.PackStop
	}

	command, hasCommand := codec.CommandByte(payload)
	if sess.FakeSYN {
		return host.PackContinue
	}

	if hasCommand && command == codec.ComStmtPrepare {
		if err := p.splicer.CapturePrepared(key, tcp.Seq, ip, tcp, payload, now); err != nil {
			p.logger.Warn("failed to capture prepared statement, renewal capability degraded", zap.Error(err))
		}
		return host.PackContinue
	}

	before := st.RefreshTick
	p.splicer.MaybeRefresh(st, key, now, p.cfg.MaxRethreshTime)
	if st.RefreshTick != before && st.RefreshTick == 0 {
		_, firstAuthCached := p.cache.GetFirstAuth(key)
		p.logger.Debug("refresh counter rolled over", zap.Uint64("session_key", uint64(key)), zap.Bool("first_auth_cached", firstAuthCached))
	}
	return host.PackContinue
}
