package manager

import (
	"time"

	"github.com/florianilch/tokenward/internal/token"
)

// TokenStatus describes one credential for the diagnostic surface.
type TokenStatus struct {
	Present    bool         `json:"present"`
	Valid      bool         `json:"valid"`
	ExpiresAt  *time.Time   `json:"expires_at,omitempty"`
	TTLSeconds float64      `json:"ttl_seconds"`
	Source     token.Source `json:"source,omitempty"`
	Degraded   bool         `json:"degraded,omitempty"`
	LastError  string       `json:"last_error,omitempty"`
}

// Diagnostics is the read-only view consumed by the admin layer. Assembling
// it never mutates the store.
type Diagnostics struct {
	Client          TokenStatus            `json:"client"`
	Users           map[string]TokenStatus `json:"users"`
	StoreFileExists bool                   `json:"store_file_exists"`
	LastUpdated     time.Time              `json:"last_updated"`
}

// Diagnostics reports current validity and time-to-expiry for every known
// credential.
func (m *Manager) Diagnostics() Diagnostics {
	now := m.now()

	m.mu.Lock()
	outcomes := make(map[string]outcome, len(m.outcomes))
	for k, v := range m.outcomes {
		outcomes[k] = v
	}
	m.mu.Unlock()

	d := Diagnostics{
		Users:           make(map[string]TokenStatus),
		StoreFileExists: m.store.FileExists(),
		LastUpdated:     m.store.LastUpdated(),
	}

	if c, ok := m.store.ClientToken(); ok {
		expiresAt := c.ExpiresAt
		d.Client = TokenStatus{
			Present:    true,
			Valid:      !c.Expired(now, m.requestBuffer),
			ExpiresAt:  &expiresAt,
			TTLSeconds: c.TTL(now).Seconds(),
		}
	}
	applyOutcome(&d.Client, outcomes[ClientKey])

	for id, u := range m.store.UserTokens() {
		expiresAt := u.ExpiresAt
		st := TokenStatus{
			Present:    true,
			Valid:      !u.Expired(now, m.requestBuffer),
			ExpiresAt:  &expiresAt,
			TTLSeconds: u.TTL(now).Seconds(),
			Source:     u.Source,
		}
		applyOutcome(&st, outcomes[UserKey(id)])
		d.Users[id] = st
	}

	return d
}

func applyOutcome(st *TokenStatus, o outcome) {
	if o.at.IsZero() {
		return
	}
	st.Degraded = o.degraded
	st.LastError = o.err
}
