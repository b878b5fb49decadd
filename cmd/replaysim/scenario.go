package main

import (
	"github.com/hohice/mysql-replay-module/pkg/codec"
)

// buildGreeting assembles a synthetic HandshakeV10 payload carrying
// scramble in the standard split layout: 8 bytes before the capability
// flags, the remaining 12 plus a NUL after the reserved block.
func buildGreeting(scramble [codec.ScrambleLength]byte) []byte {
	var payload []byte
	payload = append(payload, 10)                 // protocol version
	payload = append(payload, []byte("5.7.31")...) // server version
	payload = append(payload, 0)                   // NUL terminator
	payload = append(payload, 1, 0, 0, 0)          // thread id

	payload = append(payload, scramble[:8]...) // auth-plugin-data-part-1
	payload = append(payload, 0)               // filler

	capLower := uint16(0xf7ff)
	payload = append(payload, byte(capLower), byte(capLower>>8))
	payload = append(payload, 0x21) // charset
	payload = append(payload, 0, 0) // status flags
	payload = append(payload, 0, 0) // capability flags upper
	payload = append(payload, 20)   // auth-plugin-data-len
	payload = append(payload, make([]byte, 10)...)

	part2 := append(append([]byte{}, scramble[8:]...), 0)
	payload = append(payload, part2...)
	payload = append(payload, []byte("mysql_native_password")...)
	payload = append(payload, 0)
	return payload
}

// clientHandshakeResponseHeadLen mirrors pkg/codec's unexported
// handshakeResponseHeadLen: capability flags (4) + max packet size (4) +
// charset (1) + reserved (23).
const clientHandshakeResponseHeadLen = 4 + 4 + 1 + 23

// clientSecureConnection selects the 1-byte-length auth-response framing,
// the common case for a modern client.
var clientSecureConnection = 0x00008000

// buildFirstAuth assembles a captured client HandshakeResponse41 payload
// for prodUser, with a placeholder auth-response the module's Codec will
// overwrite.
func buildFirstAuth(prodUser string) []byte {
	head := make([]byte, clientHandshakeResponseHeadLen)
	head[0] = byte(clientSecureConnection)
	head[1] = byte(clientSecureConnection >> 8)
	head[2] = byte(clientSecureConnection >> 16)
	head[3] = byte(clientSecureConnection >> 24)

	var out []byte
	out = append(out, head...)
	out = append(out, []byte(prodUser)...)
	out = append(out, 0)
	placeholder := make([]byte, codec.ScrambleLength)
	out = append(out, byte(len(placeholder)))
	out = append(out, placeholder...)
	return out
}

// buildPrepare assembles a COM_STMT_PREPARE payload for query.
func buildPrepare(query string) []byte {
	out := []byte{codec.ComStmtPrepare}
	return append(out, []byte(query)...)
}

// buildExecute assembles a minimal COM_STMT_EXECUTE payload: the command
// byte followed by a 4-byte statement id placeholder.
func buildExecute(stmtID uint32) []byte {
	return []byte{
		codec.ComStmtExecute,
		byte(stmtID), byte(stmtID >> 8), byte(stmtID >> 16), byte(stmtID >> 24),
	}
}
