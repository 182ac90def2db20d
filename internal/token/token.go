// Package token mints and verifies the stateless capability tokens that
// authorise the secure playlist proxy to fetch an upstream URL on a
// client's behalf. Validity is purely a function of the embedded expiry:
// no replay cache is kept, the same token works until it expires.
package token

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"
)

const (
	version    = "v1"
	ivSize     = 12
	DefaultTTL = 6 * time.Hour
)

var (
	// ErrDisabled is returned when no signing secret is configured.
	ErrDisabled = errors.New("proxy token service is not configured")
	// ErrInvalid covers every rejected token: wrong version, malformed
	// segments, failed authentication, bad payload, or expiry.
	ErrInvalid = errors.New("invalid proxy token")
)

// Payload is what a token carries. Target must be an absolute http(s)
// URL; Headers optionally records the Origin/Referer/User-Agent the
// upstream expects on every proxied fetch.
type Payload struct {
	Target  string            `json:"u"`
	Exp     int64             `json:"exp"`
	Headers map[string]string `json:"h,omitempty"`
}

// Service encrypts and authenticates payloads with AES-256-GCM keyed by
// a hash of the configured secret. Safe for concurrent use.
type Service struct {
	aead cipher.AEAD
	now  func() time.Time
}

// New constructs a Service, or returns ErrDisabled for an empty secret.
func New(secret string) (*Service, error) {
	if strings.TrimSpace(secret) == "" {
		return nil, ErrDisabled
	}
	key := sha256.Sum256([]byte(secret))
	block, err := aes.NewCipher(key[:])
	if err != nil {
		return nil, err
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	return &Service{aead: aead, now: time.Now}, nil
}

var b64 = base64.RawURLEncoding

// Create mints a token for target expiring at exp. A zero exp applies
// DefaultTTL from now.
func (s *Service) Create(target string, exp time.Time, headers map[string]string) (string, error) {
	if s == nil {
		return "", ErrDisabled
	}
	if err := validateTarget(target); err != nil {
		return "", err
	}
	if exp.IsZero() {
		exp = s.now().Add(DefaultTTL)
	}

	plain, err := json.Marshal(Payload{Target: target, Exp: exp.Unix(), Headers: headers})
	if err != nil {
		return "", err
	}

	iv := make([]byte, ivSize)
	if _, err := rand.Read(iv); err != nil {
		return "", err
	}

	sealed := s.aead.Seal(nil, iv, plain, nil)
	tagSize := s.aead.Overhead()
	ciphertext := sealed[:len(sealed)-tagSize]
	authTag := sealed[len(sealed)-tagSize:]

	return strings.Join([]string{
		version,
		b64.EncodeToString(iv),
		b64.EncodeToString(authTag),
		b64.EncodeToString(ciphertext),
	}, "."), nil
}

// Decode verifies a token and returns its payload. Every failure mode
// maps onto ErrInvalid; callers at the trust boundary translate that
// into an explicit 403.
func (s *Service) Decode(tok string) (*Payload, error) {
	if s == nil {
		return nil, ErrDisabled
	}
	parts := strings.Split(tok, ".")
	if len(parts) != 4 || parts[0] != version {
		return nil, ErrInvalid
	}
	iv, err := b64.DecodeString(parts[1])
	if err != nil || len(iv) != ivSize {
		return nil, ErrInvalid
	}
	authTag, err := b64.DecodeString(parts[2])
	if err != nil || len(authTag) != s.aead.Overhead() {
		return nil, ErrInvalid
	}
	ciphertext, err := b64.DecodeString(parts[3])
	if err != nil {
		return nil, ErrInvalid
	}

	plain, err := s.aead.Open(nil, iv, append(ciphertext, authTag...), nil)
	if err != nil {
		return nil, ErrInvalid
	}

	var p Payload
	if err := json.Unmarshal(plain, &p); err != nil {
		return nil, ErrInvalid
	}
	if validateTarget(p.Target) != nil {
		return nil, ErrInvalid
	}
	if p.Exp <= s.now().Unix() {
		return nil, ErrInvalid
	}
	return &p, nil
}

func validateTarget(target string) error {
	u, err := url.Parse(target)
	if err != nil || !u.IsAbs() || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("target must be an absolute http(s) URL")
	}
	return nil
}
