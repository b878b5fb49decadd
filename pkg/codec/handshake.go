package codec

import "fmt"

// protocolVersion10 is the only Initial Handshake protocol version this
// module understands.
const protocolVersion10 = 10

// clientSecureConnection is the capability flag (0x00008000) signalling the
// 4.1+ auth-response framing; its absence means the legacy null-terminated
// auth-response field is in play.
const clientSecureConnection = 0x00008000

// clientPluginAuth is the capability flag (0x00080000) signalling an
// auth-plugin-name trailer on both the handshake and its response.
const clientPluginAuth = 0x00080000

// clientConnectWithDB is the capability flag (0x00000008) signalling a
// null-terminated default-database field on the handshake response.
const clientConnectWithDB = 0x00000008

// Greeting is the server challenge extracted from an Initial Handshake
// (HandshakeV10) packet.
type Greeting struct {
	Scramble        [ScrambleLength]byte
	Seed323         [Seed323Length]byte
	CapabilityFlags uint32
}

// ParseHandshake decodes a server Initial Handshake payload, extracting the
// 20-byte challenge scramble and its first-8-byte seed323 prefix. An
// unsupported protocol byte or a malformed layout is reported as an error,
// signalling "unsupported greeting" to the caller.
func ParseHandshake(payload []byte) (Greeting, error) {
	var g Greeting

	if len(payload) < 1 {
		return g, fmt.Errorf("codec: empty handshake payload")
	}
	if payload[0] != protocolVersion10 {
		return g, fmt.Errorf("codec: unsupported handshake protocol version %d", payload[0])
	}

	rest := payload[1:]

	// server version, null-terminated
	_, rest, err := readNullTerminated(rest)
	if err != nil {
		return g, fmt.Errorf("codec: malformed server version: %w", err)
	}

	// thread id, 4 bytes
	if len(rest) < 4 {
		return g, fmt.Errorf("codec: truncated connection id")
	}
	rest = rest[4:]

	// auth-plugin-data-part-1, 8 bytes
	if len(rest) < 8 {
		return g, fmt.Errorf("codec: truncated challenge part 1")
	}
	copy(g.Scramble[:8], rest[:8])
	copy(g.Seed323[:], rest[:8])
	rest = rest[8:]

	// filler byte
	if len(rest) < 1 {
		return g, fmt.Errorf("codec: truncated filler byte")
	}
	rest = rest[1:]

	// capability flags (lower 2 bytes)
	if len(rest) < 2 {
		return g, fmt.Errorf("codec: truncated capability flags")
	}
	capLower := uint32(rest[0]) | uint32(rest[1])<<8
	rest = rest[2:]

	if len(rest) == 0 {
		// Pre-4.1 server: no extended fields, no second scramble half.
		g.CapabilityFlags = capLower
		return g, nil
	}

	// charset (1), status flags (2), capability flags upper (2)
	if len(rest) < 5 {
		return g, fmt.Errorf("codec: truncated handshake extension")
	}
	capUpper := uint32(rest[3]) | uint32(rest[4])<<8
	g.CapabilityFlags = capLower | capUpper<<16
	rest = rest[5:]

	// auth-plugin-data-len (1)
	if len(rest) < 1 {
		return g, fmt.Errorf("codec: truncated auth-plugin-data-len")
	}
	authDataLen := int(rest[0])
	rest = rest[1:]

	// reserved, 10 bytes
	if len(rest) < 10 {
		return g, fmt.Errorf("codec: truncated reserved bytes")
	}
	rest = rest[10:]

	// auth-plugin-data-part-2: max(13, authDataLen-8) bytes, NUL-terminated.
	part2Len := authDataLen - 8
	if part2Len < 13 {
		part2Len = 13
	}
	if len(rest) < part2Len {
		return g, fmt.Errorf("codec: truncated challenge part 2")
	}
	part2 := rest[:part2Len]

	// Combine with part 1: first 12 non-terminator bytes complete the
	// 20-byte scramble.
	n := copy(g.Scramble[8:], part2[:min(12, len(part2))])
	if 8+n != ScrambleLength {
		return g, fmt.Errorf("codec: assembled scramble is %d bytes, want %d", 8+n, ScrambleLength)
	}

	return g, nil
}
