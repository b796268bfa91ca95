package domain

import "time"

// MagicLink is the single-use capability token bound to a SigningSession.
// tokenHash is SHA-256 of the wire token and is used to look up the row
// without ever storing or logging the secret itself.
type MagicLink struct {
	TokenHash string // 32-byte hex
	Role      string // "supplier" or "buyer"
	JTI       string // 96-bit hex
	SessionID string // -> SigningSession.SessionUID, cascade delete
	ExpiresAt time.Time
	UsedAt    *time.Time
}
