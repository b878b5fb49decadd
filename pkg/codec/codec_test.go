package codec

import (
	"crypto/sha1"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testScramble() [ScrambleLength]byte {
	var s [ScrambleLength]byte
	for i := range s {
		s[i] = byte(i + 1) // 0x01..0x14
	}
	return s
}

func TestHeaderRoundTrip(t *testing.T) {
	payload := []byte{0x03, 'S', 'E', 'L'}
	encoded, err := EncodeHeader(7, payload)
	require.NoError(t, err)

	hdr, decoded, err := DecodeHeader(encoded)
	require.NoError(t, err)
	assert.Equal(t, byte(7), hdr.SequenceID)
	assert.Equal(t, uint32(len(payload)), hdr.PayloadLength)
	assert.Equal(t, payload, decoded)
}

func TestIsLastDataPacket(t *testing.T) {
	assert.True(t, IsLastDataPacket([]byte{0xfe}))
	assert.False(t, IsLastDataPacket([]byte{0xfe, 0x00}))
	assert.False(t, IsLastDataPacket([]byte{0x00}))
}

func TestNativePasswordToken(t *testing.T) {
	scramble := testScramble()
	password := "secret"

	got := NativePasswordToken(password, scramble)

	stage1 := sha1.Sum([]byte(password))
	stage2 := sha1.Sum(stage1[:])
	h := sha1.New()
	h.Write(scramble[:])
	h.Write(stage2[:])
	mixed := h.Sum(nil)
	var want [ScrambleLength]byte
	for i := range want {
		want[i] = mixed[i] ^ stage1[i]
	}

	assert.Equal(t, want, got)
}

func buildHandshakeResponse(username string, authResponse []byte) []byte {
	head := make([]byte, handshakeResponseHeadLen)
	capabilities := uint32(clientSecureConnection)
	head[0] = byte(capabilities)
	head[1] = byte(capabilities >> 8)
	head[2] = byte(capabilities >> 16)
	head[3] = byte(capabilities >> 24)

	var out []byte
	out = append(out, head...)
	out = append(out, []byte(username)...)
	out = append(out, 0)
	out = append(out, byte(len(authResponse)))
	out = append(out, authResponse...)
	return out
}

func TestRewriteFirstAuthRoundTrip(t *testing.T) {
	scramble := testScramble()
	captured := buildHandshakeResponse("root", make([]byte, 20))

	rewritten, err := RewriteFirstAuth(captured, "alice", "secret", scramble)
	require.NoError(t, err)

	r, err := parseClientHandshakeResponse(rewritten)
	require.NoError(t, err)
	assert.Equal(t, "alice", r.username)

	want := NativePasswordToken("secret", scramble)
	assert.Equal(t, want[:], r.authResponse)
}

func TestExtractUsername(t *testing.T) {
	captured := buildHandshakeResponse("root", make([]byte, 20))
	user, err := ExtractUsername(captured)
	require.NoError(t, err)
	assert.Equal(t, "root", user)
}

func TestRewriteSecondAuth(t *testing.T) {
	var seed323 [Seed323Length]byte
	scramble := testScramble()
	copy(seed323[:], scramble[:8])

	resp := OldPasswordScramble("secret", seed323)
	out, err := RewriteSecondAuth(make([]byte, Seed323Length), resp)
	require.NoError(t, err)
	assert.Equal(t, resp[:], out)

	_, err = RewriteSecondAuth(make([]byte, 4), resp)
	assert.Error(t, err)
}

func TestParseHandshakeV10(t *testing.T) {
	var payload []byte
	payload = append(payload, 10)                 // protocol version
	payload = append(payload, []byte("5.7.31")...) // server version
	payload = append(payload, 0)                   // NUL terminator
	payload = append(payload, 1, 0, 0, 0)          // thread id

	scramble := testScramble()
	payload = append(payload, scramble[:8]...) // auth-plugin-data-part-1
	payload = append(payload, 0)               // filler

	capLower := uint16(0xf7ff)
	payload = append(payload, byte(capLower), byte(capLower>>8))
	payload = append(payload, 0x21)    // charset
	payload = append(payload, 0, 0)    // status flags
	payload = append(payload, 0x00, 0) // capability flags upper
	payload = append(payload, 20)      // auth-plugin-data-len
	payload = append(payload, make([]byte, 10)...)

	part2 := append(append([]byte{}, scramble[8:]...), 0)
	payload = append(payload, part2...)
	payload = append(payload, []byte("mysql_native_password")...)
	payload = append(payload, 0)

	g, err := ParseHandshake(payload)
	require.NoError(t, err)
	assert.Equal(t, scramble, g.Scramble)
	assert.Equal(t, scramble[:8], g.Seed323[:])
}

func TestParseHandshakeUnsupportedVersion(t *testing.T) {
	_, err := ParseHandshake([]byte{9, 0})
	assert.Error(t, err)
}
