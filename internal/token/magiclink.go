// Package token mints and verifies the two bearer-token formats the oracle
// issues: single-use HMAC "magic link" capability tokens handed to couriers
// and counterparties (spec §4.5), and JWTs used for the operator-only
// recovery endpoint (SPEC_FULL.md §B).
package token

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/podx/oracle/internal/domain"
)

// Payload is the data a magic link token commits to. It is never trusted on
// its own: Verify only proves the token was minted by this issuer, is
// well-formed and has not passed its exp; the caller still must look up the token's hash in the
// MagicLinkStore to enforce single use and match it to the session it was
// minted for.
type Payload struct {
	SessionID string `json:"sid"`
	Role      string `json:"role"`
	JTI       string `json:"jti"`
	ExpiresAt int64  `json:"exp"` // unix seconds
}

// newJTI returns a 96-bit random token identifier, hex-encoded.
func newJTI() (string, error) {
	b := make([]byte, 12)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("token: generating jti: %w", err)
	}
	return hex.EncodeToString(b), nil
}

// MagicLinkIssuer mints and verifies HMAC-signed capability tokens.
type MagicLinkIssuer struct {
	secret []byte
}

// NewMagicLinkIssuer constructs an issuer using secret as the HMAC key.
// secret must be kept server-side only; it never leaves the oracle process.
func NewMagicLinkIssuer(secret []byte) *MagicLinkIssuer {
	return &MagicLinkIssuer{secret: secret}
}

func b64(b []byte) string { return base64.RawURLEncoding.EncodeToString(b) }

func unb64(s string) ([]byte, error) { return base64.RawURLEncoding.DecodeString(s) }

// Mint produces a new token bound to sessionID and role, valid for ttl. It
// returns the raw token (sent to the recipient, never persisted) and the
// token's SHA-256 hash (what gets stored, so a leaked database backup does
// not itself grant capability).
func (i *MagicLinkIssuer) Mint(sessionID, role string, ttl time.Duration) (rawToken, tokenHash, jti string, expiresAt time.Time, err error) {
	jti, err = newJTI()
	if err != nil {
		return "", "", "", time.Time{}, err
	}
	expiresAt = time.Now().Add(ttl).UTC()

	payload := Payload{SessionID: sessionID, Role: role, JTI: jti, ExpiresAt: expiresAt.Unix()}
	payloadJSON, err := json.Marshal(payload)
	if err != nil {
		return "", "", "", time.Time{}, fmt.Errorf("token: marshaling payload: %w", err)
	}
	payloadB64 := b64(payloadJSON)

	mac := hmac.New(sha256.New, i.secret)
	mac.Write([]byte(payloadB64))
	sig := mac.Sum(nil)

	rawToken = payloadB64 + "." + b64(sig)
	return rawToken, HashToken(rawToken), jti, expiresAt, nil
}

// HashToken returns the value a raw token hashes to for storage and lookup.
func HashToken(rawToken string) string {
	sum := sha256.Sum256([]byte(rawToken))
	return fmt.Sprintf("%x", sum)
}

// Verify checks the token's HMAC and returns its payload. A token past its
// exp returns the payload together with domain.ErrLinkExpired. It does not
// check single-use state; callers combine this with a MagicLinkStore lookup
// keyed on HashToken(rawToken) to enforce it.
func (i *MagicLinkIssuer) Verify(rawToken string) (*Payload, error) {
	parts := splitOnce(rawToken, '.')
	if parts == nil {
		return nil, fmt.Errorf("%w: malformed token", domain.ErrTokenInvalid)
	}
	payloadB64, sigB64 := parts[0], parts[1]

	sig, err := unb64(sigB64)
	if err != nil {
		return nil, fmt.Errorf("%w: malformed signature encoding", domain.ErrTokenInvalid)
	}

	mac := hmac.New(sha256.New, i.secret)
	mac.Write([]byte(payloadB64))
	expected := mac.Sum(nil)

	if !hmac.Equal(sig, expected) {
		return nil, fmt.Errorf("%w: signature mismatch", domain.ErrTokenInvalid)
	}

	payloadJSON, err := unb64(payloadB64)
	if err != nil {
		return nil, fmt.Errorf("%w: malformed payload encoding", domain.ErrTokenInvalid)
	}

	var payload Payload
	if err := json.Unmarshal(payloadJSON, &payload); err != nil {
		return nil, fmt.Errorf("%w: malformed payload json", domain.ErrTokenInvalid)
	}

	if time.Now().After(time.Unix(payload.ExpiresAt, 0)) {
		return &payload, domain.ErrLinkExpired
	}

	return &payload, nil
}

// splitOnce splits s on the first occurrence of sep into exactly two parts,
// or returns nil if sep does not occur exactly once.
func splitOnce(s string, sep byte) []string {
	idx := -1
	count := 0
	for i := 0; i < len(s); i++ {
		if s[i] == sep {
			count++
			idx = i
		}
	}
	if count != 1 {
		return nil
	}
	return []string{s[:idx], s[idx+1:]}
}
