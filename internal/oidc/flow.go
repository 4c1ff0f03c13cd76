package oidc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"github.com/twbeatles/intranet-messenger/internal/statestore"
)

const statePrefix = "oidc_state:"

// pendingState is the payload stored under the state key while the user is away at the provider, so the callback
// can recover the nonce it must check the id_token against.
type pendingState struct {
	Nonce string `json:"nonce"`
}

// BeginAuthorization mints a state/nonce pair, records it in store, and returns the authorize URL the caller should
// redirect the user to.
func BeginAuthorization(ctx context.Context, store *statestore.Store, endpoints Endpoints, clientID, redirectURI, scope string) (string, error) {
	state, err := generateRandomValue()
	if err != nil {
		return "", fmt.Errorf("generate state: %w", err)
	}
	nonce, err := generateRandomValue()
	if err != nil {
		return "", fmt.Errorf("generate nonce: %w", err)
	}

	body, err := json.Marshal(pendingState{Nonce: nonce})
	if err != nil {
		return "", fmt.Errorf("marshal oidc state: %w", err)
	}
	if err := store.Set(ctx, statePrefix+state, string(body), StateTTL); err != nil {
		return "", fmt.Errorf("store oidc state: %w", err)
	}

	q := url.Values{}
	q.Set("response_type", "code")
	q.Set("client_id", clientID)
	q.Set("redirect_uri", redirectURI)
	q.Set("scope", scope)
	q.Set("state", state)
	q.Set("nonce", nonce)

	return endpoints.AuthorizeURL + "?" + q.Encode(), nil
}

// ConsumeState looks up and deletes (single-use) the state recorded by BeginAuthorization, returning its nonce.
func ConsumeState(ctx context.Context, store *statestore.Store, state string) (string, error) {
	raw, ok := store.GetAndDelete(ctx, statePrefix+state)
	if !ok {
		return "", ErrStateNotFound
	}
	var pending pendingState
	if err := json.Unmarshal([]byte(raw), &pending); err != nil {
		return "", fmt.Errorf("unmarshal oidc state: %w", err)
	}
	return pending.Nonce, nil
}

// tokenResponse mirrors the subset of an OAuth token endpoint response this package consumes.
type tokenResponse struct {
	AccessToken string `json:"access_token"`
	IDToken     string `json:"id_token"`
	TokenType   string `json:"token_type"`
}

// ExchangeCode trades an authorization code for tokens at the provider's token endpoint.
func ExchangeCode(ctx context.Context, tokenURL, clientID, clientSecret, redirectURI, code string) (accessToken, idToken string, err error) {
	ctx, cancel := context.WithTimeout(ctx, CallTimeout)
	defer cancel()

	form := url.Values{}
	form.Set("grant_type", "authorization_code")
	form.Set("code", code)
	form.Set("redirect_uri", redirectURI)
	form.Set("client_id", clientID)
	form.Set("client_secret", clientSecret)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, tokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return "", "", fmt.Errorf("%w: build token request: %v", ErrTokenExchangeFailed, err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	client := &http.Client{Timeout: CallTimeout}
	resp, err := client.Do(req)
	if err != nil {
		return "", "", fmt.Errorf("%w: %v", ErrTokenExchangeFailed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", "", fmt.Errorf("%w: token endpoint returned status %d", ErrTokenExchangeFailed, resp.StatusCode)
	}

	var tr tokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&tr); err != nil {
		return "", "", fmt.Errorf("%w: decode token response: %v", ErrTokenExchangeFailed, err)
	}
	if tr.IDToken == "" {
		return "", "", fmt.Errorf("%w: token response missing id_token", ErrTokenExchangeFailed)
	}

	return tr.AccessToken, tr.IDToken, nil
}

// IDTokenClaims holds the ID-token claims this package validates and exposes to callers.
type IDTokenClaims struct {
	jwt.RegisteredClaims
	Nonce string `json:"nonce"`
}

// ValidateIDToken parses idToken, checks its signature against keys, and verifies issuer, audience (clientID), and
// nonce. Expiry and not-before are enforced by jwt.ParseWithClaims itself.
func ValidateIDToken(ctx context.Context, keys *KeySet, idToken, issuer, clientID, expectedNonce string) (*IDTokenClaims, error) {
	claims := &IDTokenClaims{}

	token, err := jwt.ParseWithClaims(idToken, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodRSA); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		kid, _ := t.Header["kid"].(string)
		if kid == "" {
			return nil, errors.New("id_token header missing kid")
		}
		return keys.PublicKey(ctx, kid)
	}, jwt.WithIssuer(issuer), jwt.WithAudience(clientID))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrIDTokenInvalid, err)
	}
	if !token.Valid {
		return nil, ErrIDTokenInvalid
	}

	if claims.Nonce != expectedNonce {
		return nil, ErrNonceMismatch
	}

	return claims, nil
}

// MatchUserinfoSub verifies that the userinfo endpoint's sub claim matches the id_token's subject, per the spec's
// cross-check requirement.
func MatchUserinfoSub(idTokenSubject string, userinfo *UserinfoClaims) error {
	if userinfo.Subject != idTokenSubject {
		return ErrUserinfoSubMismatch
	}
	return nil
}
