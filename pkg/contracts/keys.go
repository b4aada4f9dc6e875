package contracts

import "time"

// KeyStatus represents a registered key's lifecycle state.
type KeyStatus string

const (
	KeyStatusActive  KeyStatus = "ACTIVE"
	KeyStatusRevoked KeyStatus = "REVOKED"
	KeyStatusExpired KeyStatus = "EXPIRED"
)

// KeyEntry is a governed public key. Entries are append-mostly: a status
// transition (activate -> revoke) is the only permitted mutation.
type KeyEntry struct {
	KeyID            string     `json:"key_id"`
	PublicKeyPEM     string     `json:"public_key_pem"`
	IssuerID         string     `json:"issuer_id"`
	IssuerLabel      string     `json:"issuer_label,omitempty"`
	Status           KeyStatus  `json:"status"`
	ValidFrom        time.Time  `json:"valid_from"`
	ValidTo          *time.Time `json:"valid_to,omitempty"`
	RevocationReason string     `json:"revocation_reason,omitempty"`
	CreatedAt        time.Time  `json:"created_at"`
}

// ValidAt reports whether the entry may verify signatures at the given time.
// REVOKED and EXPIRED are always invalid regardless of the window.
func (e *KeyEntry) ValidAt(at time.Time) (bool, string) {
	switch e.Status {
	case KeyStatusRevoked:
		reason := "key revoked"
		if e.RevocationReason != "" {
			reason += ": " + e.RevocationReason
		}
		return false, reason
	case KeyStatusExpired:
		return false, "key expired"
	case KeyStatusActive:
	default:
		return false, "unknown key status"
	}
	if at.Before(e.ValidFrom) {
		return false, "key not yet valid"
	}
	if e.ValidTo != nil && at.After(*e.ValidTo) {
		return false, "key validity window elapsed"
	}
	return true, ""
}
