// Package splice implements the Renew Splicer: detecting that a client
// session must be re-attached to a fresh backend connection, and replaying
// its cached auth and PREPARE packets ahead of the triggering live packet
// with correctly recomputed TCP sequence numbers.
package splice

import (
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/hohice/mysql-replay-module/pkg/cache"
	"github.com/hohice/mysql-replay-module/pkg/codec"
	"github.com/hohice/mysql-replay-module/pkg/host"
	"github.com/hohice/mysql-replay-module/pkg/session"
)

// Splicer wires the Replay Cache to the host's packet sink.
type Splicer struct {
	cache  *cache.Cache
	sink   host.PacketSink
	logger *zap.Logger
}

// New builds a Splicer over c, emitting spliced packets through sink.
func New(c *cache.Cache, sink host.PacketSink, logger *zap.Logger) *Splicer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Splicer{cache: c, sink: sink, logger: logger}
}

// CheckRenewSession answers the host's check_renew_session question: a
// session needs renewal iff a FirstAuth entry exists for key, the MySQL
// packet number is 0, and the command is COM_QUERY or COM_STMT_EXECUTE.
func (s *Splicer) CheckRenewSession(key host.Key, packetNumber byte, command byte) bool {
	if packetNumber != 0 {
		return false
	}
	if command != codec.ComQuery && command != codec.ComStmtExecute {
		return false
	}
	_, ok := s.cache.GetFirstAuth(key)
	return ok
}

// PrepareForRenewSession splices the cached first-auth, second-auth, and PS
// packets ahead of the triggering live packet, rewriting every sequence
// number: the live packet's sequence decreases by the total cached payload
// length; first-auth lands one past that (reserving sequence 1 for the
// host's fake SYN); second-auth and the PS packets follow contiguously.
//
// Calling this twice for the same session is a no-op the second time.
func (s *Splicer) PrepareForRenewSession(st *session.State, key host.Key, sess *host.Session, liveTCP *host.TCPHeader) error {
	if st.AuthPacketAlreadyAdded {
		return nil
	}

	firstAuth, ok := s.cache.GetFirstAuth(key)
	if !ok {
		return fmt.Errorf("splice: invariant breach, no first-auth cached for key %d", key)
	}
	secondAuth, hasSecond := s.cache.GetSecondAuth(key)
	psList, _ := s.cache.GetPrepared(key)

	l1 := uint32(len(firstAuth.Payload))
	var l2 uint32
	if hasSecond {
		l2 = uint32(len(secondAuth.Payload))
	}
	total := l1 + l2 + psList.TotalPayloadBytes

	liveSeq := liveTCP.Seq
	st.SeqAfterPS = liveSeq
	liveTCP.Seq = liveSeq - total

	firstSeq := liveTCP.Seq + 1
	firstTCP := firstAuth.TCP
	firstTCP.Seq = firstSeq
	if err := s.sink.SavePack(sess, &firstAuth.IP, &firstTCP, firstAuth.Payload); err != nil {
		return fmt.Errorf("splice: emit first-auth: %w", err)
	}

	if hasSecond {
		secTCP := secondAuth.TCP
		secTCP.Seq = firstSeq + l1
		if err := s.sink.SavePack(sess, &secondAuth.IP, &secTCP, secondAuth.Payload); err != nil {
			return fmt.Errorf("splice: emit second-auth: %w", err)
		}
	}

	base := firstSeq + l1 + l2
	var offset uint32
	for _, p := range psList.Packets {
		psTCP := p.Frame.TCP
		psTCP.Seq = base + offset
		if err := s.sink.SavePack(sess, &p.Frame.IP, &psTCP, p.Frame.Payload); err != nil {
			return fmt.Errorf("splice: emit prepared statement: %w", err)
		}
		offset += uint32(len(p.Frame.Payload))
	}

	st.AuthPacketAlreadyAdded = true
	sess.FakeSYN = true
	return nil
}

// before reports whether seq1 precedes seq2 under 32-bit TCP sequence
// wraparound arithmetic.
func before(seq1, seq2 uint32) bool {
	return int32(seq1-seq2) < 0
}

// CheckPackNeededForReconstruction discards retransmitted pre-splice
// packets: once a session has been renewed via fake SYN, any client packet
// whose sequence precedes seq_after_ps is stale and must not be forwarded.
func (s *Splicer) CheckPackNeededForReconstruction(st *session.State, sess *host.Session, tcpSeq uint32) bool {
	if sess.FakeSYN && before(tcpSeq, st.SeqAfterPS) {
		return false
	}
	return true
}

// CapturePrepared copies a client's COM_STMT_PREPARE packet into the
// session's PS history, keyed by the TCP sequence it arrived at.
func (s *Splicer) CapturePrepared(key host.Key, seq uint32, ip host.IPHeader, tcp host.TCPHeader, payload []byte, now time.Time) error {
	return s.cache.PushPrepared(key, seq, cache.FrameEntry{IP: ip, TCP: tcp, Payload: payload}, now)
}

// MaybeRefresh opportunistically deep-copies key's cached entries once
// maxRethresh has elapsed since the session's last refresh; the dispatcher
// calls it on non-PREPARE command packets.
func (s *Splicer) MaybeRefresh(st *session.State, key host.Key, now time.Time, maxRethresh time.Duration) {
	if st.LastRefreshTime.IsZero() || now.Sub(st.LastRefreshTime) >= maxRethresh {
		s.cache.Refresh(key, now)
		st.TickRefresh(now)
	}
}
