package auth

import (
	"net"
	"net/http"
	"time"

	"github.com/hashicorp/go-retryablehttp"
)

// dialTimeout bounds connection establishment alone, kept short relative to
// auth_timeout so a server that never accepts the connection still lets
// later servers in the list get their turn before the overall deadline. A
// server that accepts but never responds is bounded only by that deadline.
const dialTimeout = 10 * time.Second

// NewHTTPClient builds the retryablehttp.Client used for auth requests.
// Its own retry loop is disabled (RetryMax 0): server failover is this
// package's explicit responsibility, not a transport concern. Its logger is
// disabled (Logger nil). What retryablehttp contributes here is connection
// reuse and a client that plays well with context cancellation/timeouts.
func NewHTTPClient() *retryablehttp.Client {
	c := retryablehttp.NewClient()
	c.RetryMax = 0
	c.Logger = nil
	c.HTTPClient = &http.Client{
		Timeout: 0, // ctx deadline governs overall timeouts, not a fixed client timeout
		Transport: &http.Transport{
			DialContext: (&net.Dialer{Timeout: dialTimeout}).DialContext,
		},
	}
	return c
}
