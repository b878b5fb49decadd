// Package host describes the contract the surrounding traffic-copying tool
// exposes to protocol plug-ins. Packet capture, TCP session tracking, the
// sliding-window output queue, and the generic hash-table/memory-pool
// utilities all live on the host side; this package only pins down the
// shapes a plug-in needs to talk to them.
package host

import "time"

// ReturnCode is the result a hook hands back to the host dispatcher.
type ReturnCode int

const (
	// OK indicates the hook succeeded with no special instruction.
	OK ReturnCode = iota
	// ERR indicates the hook failed; the host logs and may tear the session down.
	ERR
	// PackContinue tells the host to forward the current packet unmodified (or
	// with the replacement payload the hook returned).
	PackContinue
	// PackStop tells the host to drop the current packet without forwarding it.
	PackStop
)

// IPHeader carries the subset of the captured IP header a plug-in needs.
// Addresses are host-byte-order once the capture layer has parsed them.
type IPHeader struct {
	SrcAddr  uint32
	DstAddr  uint32
	IHL      uint8 // header length in 32-bit words
	TotalLen uint16
}

// TCPHeader carries the subset of the captured TCP header a plug-in needs,
// including the sequence number a splice rewrites.
type TCPHeader struct {
	SrcPort    uint16
	DstPort    uint16
	Seq        uint32
	DataOffset uint8 // header length in 32-bit words
}

// PayloadLen derives the TCP payload length the way the host's capture layer
// does: total IP length minus the IP and TCP header lengths.
func PayloadLen(ip *IPHeader, tcp *TCPHeader) int {
	return int(ip.TotalLen) - int(ip.IHL)<<2 - int(tcp.DataOffset)<<2
}

// Key is the 64-bit session key the host derives from (client_ip,
// client_port) and uses across every replay cache table.
type Key uint64

// Session is the per-TCP-flow scratch the host owns. A plug-in attaches its
// own state via Data and flips SessOver to request session teardown.
type Session struct {
	Key Key

	// FakeSYN is true once this session has been re-attached to a
	// host-synthesized SYN (a renewed session).
	FakeSYN bool
	// SessOver, once set by a plug-in hook, tells the host to terminate the
	// session after the current packet.
	SessOver bool
	// NeedRepGreet tells the host this session requires a replayed greeting
	// before the plug-in will process further auth packets.
	NeedRepGreet bool
	// RcvRepGreet is set by the host once that replayed greeting has been
	// delivered to the backend connection.
	RcvRepGreet bool

	// Data is the plug-in-owned per-session state, installed by the plug-in's
	// session-create hook and read back on every subsequent hook call.
	Data interface{}

	// CreatedAt is informational, used only for logging/correlation.
	CreatedAt time.Time
}

// PacketSink is the host's save_pack contract: it accepts a synthesized
// frame for transmission on the replay-side connection. The sink owns
// delivery order and on-wire framing; the sequence numbers in ip/tcp are the
// plug-in's responsibility.
type PacketSink interface {
	SavePack(sess *Session, ip *IPHeader, tcp *TCPHeader, payload []byte) error
}
