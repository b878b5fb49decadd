package codec

import (
	"bytes"
	"fmt"
)

// authResponseFraming records how a HandshakeResponse41's auth-response
// field was framed, so a rewrite can re-emit it the same way.
type authResponseFraming int

const (
	framingNullTerminated authResponseFraming = iota
	framingLength1Byte
	framingLengthEncoded
)

// clientHandshakeResponse holds the pieces of a parsed HandshakeResponse41
// this module reads or rewrites; everything after the auth-response field
// (default database, auth-plugin name, connection attributes) is kept
// verbatim in tail and re-appended unchanged.
type clientHandshakeResponse struct {
	head            []byte // capability flags, max packet size, charset, reserved
	capabilityFlags uint32
	username        string
	authResponse    []byte
	framing         authResponseFraming
	tail            []byte
}

const handshakeResponseHeadLen = 4 + 4 + 1 + 23

func parseClientHandshakeResponse(payload []byte) (clientHandshakeResponse, error) {
	var r clientHandshakeResponse

	if len(payload) < handshakeResponseHeadLen {
		return r, fmt.Errorf("codec: handshake response shorter than fixed header")
	}
	r.head = append([]byte(nil), payload[:handshakeResponseHeadLen]...)
	r.capabilityFlags = uint32(payload[0]) | uint32(payload[1])<<8 | uint32(payload[2])<<16 | uint32(payload[3])<<24

	rest := payload[handshakeResponseHeadLen:]

	username, rest, err := readNullTerminated(rest)
	if err != nil {
		return r, fmt.Errorf("codec: malformed username: %w", err)
	}
	r.username = username

	switch {
	case r.capabilityFlags&clientPluginAuthLenencClientData != 0:
		n, consumed, err := readLengthEncodedInt(rest)
		if err != nil {
			return r, fmt.Errorf("codec: malformed length-encoded auth-response: %w", err)
		}
		rest = rest[consumed:]
		if uint64(len(rest)) < n {
			return r, fmt.Errorf("codec: truncated length-encoded auth-response")
		}
		r.authResponse = append([]byte(nil), rest[:n]...)
		r.framing = framingLengthEncoded
		rest = rest[n:]

	case r.capabilityFlags&clientSecureConnection != 0:
		if len(rest) < 1 {
			return r, fmt.Errorf("codec: missing auth-response length byte")
		}
		n := int(rest[0])
		rest = rest[1:]
		if len(rest) < n {
			return r, fmt.Errorf("codec: truncated 1-byte-length auth-response")
		}
		r.authResponse = append([]byte(nil), rest[:n]...)
		r.framing = framingLength1Byte
		rest = rest[n:]

	default:
		resp, remaining, err := readNullTerminated(rest)
		if err != nil {
			return r, fmt.Errorf("codec: malformed null-terminated auth-response: %w", err)
		}
		r.authResponse = []byte(resp)
		r.framing = framingNullTerminated
		rest = remaining
	}

	r.tail = append([]byte(nil), rest...)
	return r, nil
}

func (r clientHandshakeResponse) encode(username string, authResponse []byte) ([]byte, error) {
	var buf bytes.Buffer
	buf.Write(r.head)
	buf.WriteString(username)
	buf.WriteByte(0)

	switch r.framing {
	case framingLengthEncoded:
		if err := writeLengthEncodedInt(&buf, uint64(len(authResponse))); err != nil {
			return nil, err
		}
		buf.Write(authResponse)
	case framingLength1Byte:
		if len(authResponse) > 0xFF {
			return nil, fmt.Errorf("codec: auth-response %d bytes too long for 1-byte length framing", len(authResponse))
		}
		buf.WriteByte(byte(len(authResponse)))
		buf.Write(authResponse)
	case framingNullTerminated:
		if bytes.IndexByte(authResponse, 0) >= 0 {
			return nil, fmt.Errorf("codec: auth-response contains an embedded NUL, incompatible with null-terminated framing")
		}
		buf.Write(authResponse)
		buf.WriteByte(0)
	default:
		return nil, fmt.Errorf("codec: unknown auth-response framing %d", r.framing)
	}

	buf.Write(r.tail)
	return buf.Bytes(), nil
}

// ExtractUsername returns the production user name a client's first-auth
// payload presented, for a Credential Store lookup.
func ExtractUsername(payload []byte) (string, error) {
	r, err := parseClientHandshakeResponse(payload)
	if err != nil {
		return "", err
	}
	return r.username, nil
}

// RewriteFirstAuth substitutes testUser and the mysql_native_password token
// computed from testPassword and scramble into a captured client first-auth
// payload, leaving every other field (capability flags, character set,
// database, plugin name, connection attributes) unchanged.
func RewriteFirstAuth(payload []byte, testUser, testPassword string, scramble [ScrambleLength]byte) ([]byte, error) {
	r, err := parseClientHandshakeResponse(payload)
	if err != nil {
		return nil, fmt.Errorf("codec: cannot rewrite first-auth: %w", err)
	}

	token := NativePasswordToken(testPassword, scramble)
	out, err := r.encode(testUser, token[:])
	if err != nil {
		return nil, fmt.Errorf("codec: cannot re-encode first-auth: %w", err)
	}
	return out, nil
}

// RewriteSecondAuth overlays an 8-byte legacy-scramble response into a
// captured client second-auth payload. The legacy auth-response wire
// encoding is the raw 8 bytes with no length prefix or terminator, so the
// response is simply replaced in place.
func RewriteSecondAuth(payload []byte, response [Seed323Length]byte) ([]byte, error) {
	if len(payload) != Seed323Length {
		return nil, fmt.Errorf("codec: second-auth payload is %d bytes, want %d", len(payload), Seed323Length)
	}
	out := make([]byte, Seed323Length)
	copy(out, response[:])
	return out, nil
}

const clientPluginAuthLenencClientData = 0x00200000

func readLengthEncodedInt(b []byte) (value uint64, consumed int, err error) {
	if len(b) == 0 {
		return 0, 0, fmt.Errorf("codec: empty length-encoded integer")
	}
	switch {
	case b[0] < 0xfb:
		return uint64(b[0]), 1, nil
	case b[0] == 0xfc:
		if len(b) < 3 {
			return 0, 0, fmt.Errorf("codec: truncated 2-byte length-encoded integer")
		}
		return uint64(b[1]) | uint64(b[2])<<8, 3, nil
	case b[0] == 0xfd:
		if len(b) < 4 {
			return 0, 0, fmt.Errorf("codec: truncated 3-byte length-encoded integer")
		}
		return uint64(b[1]) | uint64(b[2])<<8 | uint64(b[3])<<16, 4, nil
	case b[0] == 0xfe:
		if len(b) < 9 {
			return 0, 0, fmt.Errorf("codec: truncated 8-byte length-encoded integer")
		}
		v := uint64(0)
		for i := 0; i < 8; i++ {
			v |= uint64(b[1+i]) << (8 * i)
		}
		return v, 9, nil
	default:
		return 0, 0, fmt.Errorf("codec: reserved length-encoded-integer prefix 0x%x", b[0])
	}
}

func writeLengthEncodedInt(buf *bytes.Buffer, n uint64) error {
	switch {
	case n < 0xfb:
		buf.WriteByte(byte(n))
	case n <= 0xFFFF:
		buf.WriteByte(0xfc)
		buf.WriteByte(byte(n))
		buf.WriteByte(byte(n >> 8))
	case n <= 0xFFFFFF:
		buf.WriteByte(0xfd)
		buf.WriteByte(byte(n))
		buf.WriteByte(byte(n >> 8))
		buf.WriteByte(byte(n >> 16))
	default:
		buf.WriteByte(0xfe)
		for i := 0; i < 8; i++ {
			buf.WriteByte(byte(n >> (8 * i)))
		}
	}
	return nil
}
