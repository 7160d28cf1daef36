package realtime

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/fxamacker/cbor/v2"
)

// TokenTTL is how long a channel token stays valid.
const TokenTTL = time.Hour

var (
	ErrMalformedToken   = errors.New("realtime: malformed token")
	ErrInvalidSignature = errors.New("realtime: invalid token signature")
	ErrTokenExpired     = errors.New("realtime: token has expired")
)

// Token is the signed payload of a channel token.
type Token struct {
	// Subject is the user the token was issued to. A connection presenting
	// the token may only join channels owned by this user.
	Subject   string `cbor:"1,keyasint"`
	ID        string `cbor:"2,keyasint"`
	IssuedAt  int64  `cbor:"3,keyasint"`
	ExpiresAt int64  `cbor:"4,keyasint"`
}

// Expiry returns ExpiresAt as a time.
func (t *Token) Expiry() time.Time {
	return time.Unix(t.ExpiresAt, 0).UTC()
}

var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	var err error
	// Deterministic encoding so the same token always signs the same bytes.
	encMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("realtime: CBOR encoder initialization failed: " + err.Error())
	}
	decMode, err = cbor.DecOptions{}.DecMode()
	if err != nil {
		panic("realtime: CBOR decoder initialization failed: " + err.Error())
	}
}

// Signer mints and verifies channel tokens with an Ed25519 keypair. The
// wire form is base64url(cbor(payload) || signature).
type Signer struct {
	public  ed25519.PublicKey
	private ed25519.PrivateKey
	ttl     time.Duration
	now     func() time.Time
}

// NewSigner returns a Signer using ttl (TokenTTL when zero) and the wall
// clock.
func NewSigner(public ed25519.PublicKey, private ed25519.PrivateKey, ttl time.Duration) *Signer {
	if ttl <= 0 {
		ttl = TokenTTL
	}
	return &Signer{public: public, private: private, ttl: ttl, now: time.Now}
}

// WithClock replaces the clock used for issuing and verifying tokens.
func (s *Signer) WithClock(now func() time.Time) *Signer {
	s.now = now
	return s
}

// Mint issues a token for subject expiring ttl from now.
func (s *Signer) Mint(subject string) (string, *Token, error) {
	var id [16]byte
	if _, err := rand.Read(id[:]); err != nil {
		return "", nil, fmt.Errorf("generating token id: %w", err)
	}
	now := s.now()
	tok := &Token{
		Subject:   subject,
		ID:        hex.EncodeToString(id[:]),
		IssuedAt:  now.Unix(),
		ExpiresAt: now.Add(s.ttl).Unix(),
	}
	payload, err := encMode.Marshal(tok)
	if err != nil {
		return "", nil, fmt.Errorf("encoding token payload: %w", err)
	}
	raw := append(payload, ed25519.Sign(s.private, payload)...)
	return base64.RawURLEncoding.EncodeToString(raw), tok, nil
}

// Verify checks the signature and expiry of an encoded token.
func (s *Signer) Verify(encoded string) (*Token, error) {
	raw, err := base64.RawURLEncoding.DecodeString(encoded)
	if err != nil || len(raw) <= ed25519.SignatureSize {
		return nil, ErrMalformedToken
	}
	split := len(raw) - ed25519.SignatureSize
	payload, sig := raw[:split], raw[split:]
	if !ed25519.Verify(s.public, payload, sig) {
		return nil, ErrInvalidSignature
	}

	var tok Token
	if err := decMode.Unmarshal(payload, &tok); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedToken, err)
	}
	if s.now().Unix() >= tok.ExpiresAt {
		return nil, ErrTokenExpired
	}
	return &tok, nil
}
