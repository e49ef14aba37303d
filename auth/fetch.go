package auth

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/hashicorp/go-retryablehttp"
)

const authRequestPath = "/api/devices/v1/authentication/auth_requests"

type authRequestBody struct {
	IDData      string `json:"id_data"`
	PubKey      string `json:"pubkey"`
	TenantToken string `json:"tenant_token,omitempty"`
}

// fetchDeps bundles everything fetchToken needs, so the server-failover
// algorithm can be tested without constructing a full Authenticator.
type fetchDeps struct {
	servers     []string
	tenantToken string
	identity    IdentityRunner
	signer      Signer
	pubKeyer    PublicKeyer
	httpClient  *retryablehttp.Client
}

// fetchToken runs the fetch algorithm: gather identity, extract
// the public key, build and sign the request body, then try each server in
// strict order until one returns HTTP 200. Per-server failures (401, 4xx,
// 5xx, unexpected status, transport errors) are swallowed and the next
// server is tried; only exhaustion (or ctx's deadline firing mid-loop) is
// returned to the caller.
func fetchToken(ctx context.Context, d fetchDeps) (Data, error) {
	idKV, err := d.identity.Run(ctx)
	if err != nil {
		return Data{}, classifyTerminal(ctx, fmt.Errorf("identity script failed: %w", err))
	}
	idJSON, err := serializeIdentity(idKV)
	if err != nil {
		return Data{}, classifyTerminal(ctx, fmt.Errorf("failed to serialize identity data: %w", err))
	}

	pubKeyPEM, err := d.pubKeyer.PublicKeyPEM(ctx)
	if err != nil {
		return Data{}, classifyTerminal(ctx, fmt.Errorf("failed to extract public key: %w", err))
	}

	body := authRequestBody{IDData: idJSON, PubKey: pubKeyPEM, TenantToken: d.tenantToken}
	bodyBytes, err := json.Marshal(body)
	if err != nil {
		return Data{}, classifyTerminal(ctx, fmt.Errorf("failed to marshal auth request body: %w", err))
	}

	sig, err := d.signer.Sign(ctx, bodyBytes)
	if err != nil {
		return Data{}, classifyTerminal(ctx, fmt.Errorf("failed to sign auth request body: %w", err))
	}

	for _, server := range d.servers {
		log.WithField("server", server).Debug("attempting authentication")
		token, err := postAuthRequest(ctx, d.httpClient, server, bodyBytes, sig)
		if err == nil {
			return Data{ServerURL: server, Token: token}, nil
		}
		log.WithField("server", server).WithError(err).Debug("server attempt failed, trying next")
		if ctx.Err() != nil {
			// Timed out mid-loop; no point trying the remaining servers.
			break
		}
	}

	return Data{}, classifyTerminal(ctx, fmt.Errorf("no more servers to try for authentication"))
}

// classifyTerminal turns any terminal fetch failure into one of two
// AuthenticationError messages: a timeout if ctx's deadline already fired,
// otherwise server exhaustion. The cause is logged for diagnostics; it is
// not part of the returned Reason.
func classifyTerminal(ctx context.Context, cause error) error {
	log.WithError(cause).Debug("authentication fetch failed")
	if ctx.Err() != nil {
		return &AuthenticationError{Reason: "Timed-out waiting for a new token"}
	}
	return &AuthenticationError{Reason: "No more servers to try for authentication"}
}

func postAuthRequest(ctx context.Context, client *retryablehttp.Client, server string, body, signature []byte) (string, error) {
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, server+authRequestPath, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Content-Length", fmt.Sprintf("%d", len(body)))
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-MEN-Signature", encodeSignature(signature))
	req.Header.Set("Authorization", "API_KEY")

	resp, err := client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	respBody, readErr := io.ReadAll(resp.Body)
	if readErr != nil {
		return "", readErr
	}

	switch {
	case resp.StatusCode == http.StatusOK:
		return string(respBody), nil
	case resp.StatusCode == http.StatusUnauthorized:
		return "", &UnauthorizedError{Server: server}
	case resp.StatusCode == http.StatusBadRequest || resp.StatusCode == http.StatusInternalServerError:
		return "", &ApiError{Server: server, StatusCode: resp.StatusCode}
	default:
		return "", &ResponseError{Server: server, StatusCode: resp.StatusCode}
	}
}
