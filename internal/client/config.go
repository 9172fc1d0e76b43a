package client

import (
	"context"
	"time"
)

// Credentials is the result of a successful authorization (§6 Auth
// interface).
type Credentials struct {
	AccessToken string
	UserID      string
}

// Authorizer is the external credential-acquisition collaborator (§6),
// explicitly out of scope for correctness but needed as a concrete
// interface so internal/client has something to dial against.
type Authorizer interface {
	Authorize(ctx context.Context, user, password string) (Credentials, error)
}

// Config carries the Client's identity and tuning knobs as explicit
// fields (Design Note 9.4: no module-level global clientid).
type Config struct {
	// Endpoint is the ws:// or wss:// URL of the sync service.
	Endpoint string
	// ClientID tags every outbound frame's "clientid" field; generated
	// once by the caller, typically via uuid.NewString().
	ClientID string
	Library  string
	Version  string

	// HeartbeatInterval is H in §4.5: the client writes "h:<n>" every H
	// seconds and disconnects if no server heartbeat arrives within 3H.
	// Defaults to 20s.
	HeartbeatInterval time.Duration

	// BackoffInitial/BackoffMax/BackoffJitter parameterize the
	// reconnect policy of §4.5. Defaults: 1s, 30s, 0.2 (±20%).
	BackoffInitial time.Duration
	BackoffMax     time.Duration
	BackoffJitter  float64
}

func (c *Config) setDefaults() {
	if c.HeartbeatInterval == 0 {
		c.HeartbeatInterval = 20 * time.Second
	}
	if c.BackoffInitial == 0 {
		c.BackoffInitial = time.Second
	}
	if c.BackoffMax == 0 {
		c.BackoffMax = 30 * time.Second
	}
	if c.BackoffJitter == 0 {
		c.BackoffJitter = 0.2
	}
}
