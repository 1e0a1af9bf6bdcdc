package session

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"strings"
	"time"
)

// Verification failures are deliberately coarse: callers map them to HTTP 401
// without leaking which check tripped beyond the three classes below.
var (
	ErrMalformedToken   = errors.New("session: malformed token")
	ErrInvalidSignature = errors.New("session: invalid signature")
	ErrExpired          = errors.New("session: token expired")
)

// Claims is the self-contained payload carried by a token. Fields are ordered
// alphabetically so the marshalled form is canonical.
type Claims struct {
	Exp      int64  `json:"exp"`
	Identity string `json:"identity"`
}

// Issuer signs and verifies stateless bearer tokens. There is no revocation
// list; expiry is the only invalidation mechanism.
type Issuer struct {
	secret []byte
	now    func() time.Time
}

// New returns an Issuer over the given HMAC secret.
func New(secret []byte) (*Issuer, error) {
	if len(secret) == 0 {
		return nil, errors.New("session: secret is required")
	}
	return &Issuer{secret: secret, now: time.Now}, nil
}

// Issue returns a token of the form
// base64url(canonical JSON claims) + "." + base64url(HMAC-SHA256(secret, first part)).
func (i *Issuer) Issue(identity string, ttl time.Duration) (string, error) {
	claims := Claims{
		Exp:      i.now().Add(ttl).Unix(),
		Identity: identity,
	}
	payload, err := json.Marshal(claims)
	if err != nil {
		return "", err
	}
	payloadPart := base64.RawURLEncoding.EncodeToString(payload)
	return payloadPart + "." + base64.RawURLEncoding.EncodeToString(i.sign(payloadPart)), nil
}

// Verify checks shape, signature and expiry, in that order. The payload is
// never parsed before the signature has been validated.
func (i *Issuer) Verify(token string) (Claims, error) {
	payloadPart, sigPart, ok := strings.Cut(token, ".")
	if !ok || payloadPart == "" || sigPart == "" {
		return Claims{}, ErrMalformedToken
	}

	// Strict decoding rejects non-zero trailing padding bits, so no two
	// distinct encodings of the same bytes both verify.
	provided, err := base64.RawURLEncoding.Strict().DecodeString(sigPart)
	if err != nil {
		// A corrupted signature segment is a signature failure, not a shape one.
		return Claims{}, ErrInvalidSignature
	}
	if !hmac.Equal(i.sign(payloadPart), provided) {
		return Claims{}, ErrInvalidSignature
	}

	raw, err := base64.RawURLEncoding.Strict().DecodeString(payloadPart)
	if err != nil {
		return Claims{}, ErrMalformedToken
	}
	var claims Claims
	if err := json.Unmarshal(raw, &claims); err != nil {
		return Claims{}, ErrMalformedToken
	}
	if claims.Exp < i.now().Unix() {
		return Claims{}, ErrExpired
	}
	return claims, nil
}

func (i *Issuer) sign(payloadPart string) []byte {
	mac := hmac.New(sha256.New, i.secret)
	mac.Write([]byte(payloadPart))
	return mac.Sum(nil)
}
