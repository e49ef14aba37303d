// Package auth implements the Authenticator (C6): a stateful coordinator
// that obtains and refreshes a bearer token from one of several configured
// servers, caches it, serializes concurrent requests for the token, times
// out stuck fetches, fails over across servers, and fans new tokens out to
// subscribers.
package auth

import (
	"context"
	"encoding/json"
	"time"

	"github.com/mender-core/agent/internal/logging"
)

var log = logging.For("auth")

// Data is the bearer credential handed back to callers. Empty strings are
// the sentinel "no data" value.
type Data struct {
	ServerURL string
	Token     string
}

// IsEmpty reports whether d carries no credential.
func (d Data) IsEmpty() bool {
	return d.ServerURL == "" && d.Token == ""
}

// IdentityRunner executes the device identity script and returns its
// stdout parsed as key=value pairs; duplicate keys collapse into arrays.
// Process execution itself lives outside this interface's concern.
type IdentityRunner interface {
	Run(ctx context.Context) (map[string][]string, error)
}

// Signer signs the raw auth-request body. The core never implements or
// negotiates the signing algorithm itself; it delegates to whatever
// Signer is wired in.
type Signer interface {
	Sign(ctx context.Context, body []byte) (signature []byte, err error)
}

// PublicKeyer extracts the device's public key in PEM form.
type PublicKeyer interface {
	PublicKeyPEM(ctx context.Context) (string, error)
}

// Config holds the Authenticator's configured parameters.
type Config struct {
	// Servers is the non-empty, ordered list of base URLs tried in
	// strict failover order on every fetch.
	Servers []string
	// TenantToken is an optional opaque string included verbatim in the
	// auth request body, scoping the device to a tenant.
	TenantToken string
	// AuthTimeout bounds a whole fetch attempt (identity script, signing,
	// and the full server failover loop), not any single HTTP call.
	// Defaults to one minute if zero.
	AuthTimeout time.Duration
}

func (c Config) timeout() time.Duration {
	if c.AuthTimeout <= 0 {
		return time.Minute
	}
	return c.AuthTimeout
}

// serializeIdentity renders identity key-values as a single stable JSON
// string with sorted keys. Single-element arrays
// from non-duplicated keys are still emitted as arrays, matching the
// identity script's "every value is a list, duplicates just mean more than
// one element" contract.
func serializeIdentity(kv map[string][]string) (string, error) {
	// encoding/json already sorts map[string]T keys when marshaling, so a
	// plain marshal of the map already satisfies "stable, sorted-keys"
	// serialization without a bespoke key-sort step.
	b, err := json.Marshal(kv)
	if err != nil {
		return "", err
	}
	return string(b), nil
}
