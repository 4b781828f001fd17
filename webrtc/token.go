// Package webrtc contains helpers for putting a speech session behind a
// WebRTC front door: minting gateway tokens from a token-issuer service and
// driving a headless peer against a relay's signaling endpoint.
package webrtc

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// TokenURL returns the mint endpoint of a token-issuer service.
func TokenURL(issuerEndpoint string) string {
	return strings.TrimRight(issuerEndpoint, "/") + "/token"
}

// SessionToken is the issuer's response: a short-lived bearer token for the
// speech gateway plus the gateway URL to dial with it.
type SessionToken struct {
	Token      string    `json:"token"`
	ExpiresAt  time.Time `json:"expires_at"`
	GatewayURL string    `json:"gateway_url,omitempty"`
}

// MintSessionToken asks a token-issuer service for a short-lived gateway
// token. identityToken is forwarded as the caller's Bearer credential; leave
// it empty when the issuer runs with verification disabled.
func MintSessionToken(ctx context.Context, issuerEndpoint, identityToken string) (SessionToken, error) {
	req, err := http.NewRequestWithContext(ctx, "POST", TokenURL(issuerEndpoint), nil)
	if err != nil {
		return SessionToken{}, err
	}
	if identityToken != "" {
		req.Header.Set("Authorization", "Bearer "+identityToken)
	}

	httpClient := &http.Client{Timeout: 15 * time.Second}
	resp, err := httpClient.Do(req)
	if err != nil {
		return SessionToken{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		return SessionToken{}, fmt.Errorf("mint session token: status %d", resp.StatusCode)
	}
	var st SessionToken
	if err := json.NewDecoder(resp.Body).Decode(&st); err != nil {
		return SessionToken{}, err
	}
	if st.Token == "" {
		return SessionToken{}, fmt.Errorf("mint session token: empty token in response")
	}
	return st, nil
}
