package token

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestService(t *testing.T) *Service {
	t.Helper()
	svc, err := New("test-secret")
	require.NoError(t, err)
	return svc
}

func TestRoundTrip(t *testing.T) {
	svc := newTestService(t)
	exp := time.Now().Add(time.Hour).Truncate(time.Second)

	tok, err := svc.Create("https://cdn.example.com/master.m3u8", exp, map[string]string{"Referer": "https://embed.example.com/"})
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(tok, "v1."))
	assert.Len(t, strings.Split(tok, "."), 4)
	assert.NotContains(t, tok, "=", "segments are base64url without padding")

	p, err := svc.Decode(tok)
	require.NoError(t, err)
	assert.Equal(t, "https://cdn.example.com/master.m3u8", p.Target)
	assert.Equal(t, exp.Unix(), p.Exp)
	assert.Equal(t, "https://embed.example.com/", p.Headers["Referer"])
}

func TestCreateDefaultTTL(t *testing.T) {
	svc := newTestService(t)
	before := time.Now().Add(DefaultTTL).Unix()
	tok, err := svc.Create("https://cdn.example.com/a.ts", time.Time{}, nil)
	require.NoError(t, err)
	p, err := svc.Decode(tok)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, p.Exp, before)
	assert.LessOrEqual(t, p.Exp, time.Now().Add(DefaultTTL).Unix())
}

func TestDecodeTamperedCiphertext(t *testing.T) {
	svc := newTestService(t)
	tok, err := svc.Create("https://cdn.example.com/a.ts", time.Now().Add(time.Hour), nil)
	require.NoError(t, err)

	parts := strings.Split(tok, ".")
	raw := []byte(parts[3])
	// Flip a single bit inside the ciphertext segment.
	raw[0] ^= 0x01
	parts[3] = string(raw)

	_, err = svc.Decode(strings.Join(parts, "."))
	assert.ErrorIs(t, err, ErrInvalid)
}

func TestDecodeExpired(t *testing.T) {
	svc := newTestService(t)
	svc.now = func() time.Time { return time.Unix(1000000, 0) }
	tok, err := svc.Create("https://cdn.example.com/a.ts", time.Unix(1003600, 0), nil)
	require.NoError(t, err)

	svc.now = func() time.Time { return time.Unix(1003600, 0) }
	_, err = svc.Decode(tok)
	assert.ErrorIs(t, err, ErrInvalid, "exp must be strictly in the future")
}

func TestDecodeMalformed(t *testing.T) {
	svc := newTestService(t)
	for _, tok := range []string{
		"",
		"v1",
		"v1.a.b",
		"v2.a.b.c",
		"v1.!!.b.c",
		"v1.a.b.c.d",
	} {
		_, err := svc.Decode(tok)
		assert.ErrorIs(t, err, ErrInvalid, "token %q", tok)
	}
}

func TestDecodeForeignKey(t *testing.T) {
	svc := newTestService(t)
	other, err := New("different-secret")
	require.NoError(t, err)

	tok, err := other.Create("https://cdn.example.com/a.ts", time.Now().Add(time.Hour), nil)
	require.NoError(t, err)
	_, err = svc.Decode(tok)
	assert.ErrorIs(t, err, ErrInvalid)
}

func TestCreateRejectsRelativeTarget(t *testing.T) {
	svc := newTestService(t)
	for _, target := range []string{"", "/relative/path", "ftp://host/file", "javascript:alert(1)"} {
		_, err := svc.Create(target, time.Now().Add(time.Hour), nil)
		assert.Error(t, err, "target %q", target)
	}
}

func TestDisabledService(t *testing.T) {
	_, err := New("  ")
	assert.ErrorIs(t, err, ErrDisabled)

	var svc *Service
	_, err = svc.Create("https://cdn.example.com/a.ts", time.Time{}, nil)
	assert.ErrorIs(t, err, ErrDisabled)
	_, err = svc.Decode("v1.a.b.c")
	assert.ErrorIs(t, err, ErrDisabled)
}

func TestTokenIsReusableUntilExpiry(t *testing.T) {
	svc := newTestService(t)
	tok, err := svc.Create("https://cdn.example.com/a.ts", time.Now().Add(time.Hour), nil)
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		_, err := svc.Decode(tok)
		require.NoError(t, err, "stateless tokens are replayable by design")
	}
}
