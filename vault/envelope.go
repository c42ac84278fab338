package vault

import "time"

// EnvelopeVersion is the current envelope schema version. Envelopes written
// by a different version are treated as invalid and discarded, so schema
// drift between releases is explicit rather than silently tolerated.
const EnvelopeVersion = 1

// TokenEnvelope is the unit that gets encrypted and persisted. Exactly one
// envelope exists at a time; every store overwrites it wholesale.
type TokenEnvelope struct {
	ID                   string    `json:"id"`                // Unique envelope identifier (UUID)
	Version              int       `json:"version"`           // Schema version, see EnvelopeVersion
	Token                string    `json:"token"`             // Opaque bearer credential
	IssuedAt             time.Time `json:"issuedAt"`          // When the envelope was created
	ExpiresAt            time.Time `json:"expiresAt"`         // IssuedAt + session timeout, fixed at issuance
	Origin               string    `json:"origin"`            // Origin that created the envelope
	UserAgentFingerprint string    `json:"uaFingerprint"`     // Hashed opaque binding value
	ScopeList            []string  `json:"scopes,omitempty"`  // Granted permission strings
}

// Valid reports whether the envelope satisfies its structural invariants.
func (e *TokenEnvelope) Valid() bool {
	if e == nil {
		return false
	}
	if e.Version != EnvelopeVersion || e.Token == "" {
		return false
	}
	return e.ExpiresAt.After(e.IssuedAt)
}

// SessionMeta is the small unencrypted record kept alongside the blob so
// liveness checks don't have to decrypt. It must stay consistent with the
// envelope it describes; any mismatch is tamper evidence.
type SessionMeta struct {
	ExpiresAt      time.Time `json:"expiresAt"`
	LastActivityAt time.Time `json:"lastActivityAt"`
	IsActive       bool      `json:"isActive"`
}

// Metadata is caller-supplied context recorded into the envelope on store.
type Metadata struct {
	// Scopes are the permission strings granted with the token.
	Scopes []string
}
