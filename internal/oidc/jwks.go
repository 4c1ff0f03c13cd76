package oidc

import (
	"context"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"
	"sync"
	"time"
)

// jwk mirrors the fields of a single JSON Web Key this package understands (RSA signing keys only, the only key
// type the providers named in the spec's config surface are expected to publish).
type jwk struct {
	Kty string `json:"kty"`
	Kid string `json:"kid"`
	Use string `json:"use"`
	Alg string `json:"alg"`
	N   string `json:"n"`
	E   string `json:"e"`
}

type jwksDocument struct {
	Keys []jwk `json:"keys"`
}

// KeySet caches a provider's JWKS document for CacheTTL, refetching lazily once it expires. A single KeySet should
// be shared across requests for the lifetime of the process.
type KeySet struct {
	url      string
	cacheTTL time.Duration

	mu        sync.Mutex
	keys      map[string]*rsa.PublicKey
	fetchedAt time.Time
}

// NewKeySet creates a KeySet that fetches from url, caching the result for cacheTTL.
func NewKeySet(url string, cacheTTL time.Duration) *KeySet {
	return &KeySet{url: url, cacheTTL: cacheTTL}
}

// PublicKey returns the RSA public key for kid, fetching (or refreshing) the JWKS document if needed.
func (k *KeySet) PublicKey(ctx context.Context, kid string) (*rsa.PublicKey, error) {
	k.mu.Lock()
	defer k.mu.Unlock()

	if key, ok := k.keys[kid]; ok && time.Since(k.fetchedAt) < k.cacheTTL {
		return key, nil
	}

	keys, err := fetchJWKS(ctx, k.url)
	if err != nil {
		if k.keys != nil {
			if key, ok := k.keys[kid]; ok {
				return key, nil
			}
		}
		return nil, fmt.Errorf("fetch JWKS: %w", err)
	}
	k.keys = keys
	k.fetchedAt = time.Now()

	key, ok := k.keys[kid]
	if !ok {
		return nil, fmt.Errorf("no JWKS key found for kid %q", kid)
	}
	return key, nil
}

func fetchJWKS(ctx context.Context, url string) (map[string]*rsa.PublicKey, error) {
	ctx, cancel := context.WithTimeout(ctx, CallTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build JWKS request: %w", err)
	}

	client := &http.Client{Timeout: CallTimeout}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request JWKS: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("JWKS endpoint returned status %d", resp.StatusCode)
	}

	var doc jwksDocument
	if err := json.NewDecoder(resp.Body).Decode(&doc); err != nil {
		return nil, fmt.Errorf("decode JWKS: %w", err)
	}

	keys := make(map[string]*rsa.PublicKey, len(doc.Keys))
	for _, k := range doc.Keys {
		if k.Kty != "RSA" || k.Kid == "" {
			continue
		}
		pub, err := rsaPublicKeyFromJWK(k)
		if err != nil {
			continue
		}
		keys[k.Kid] = pub
	}
	return keys, nil
}

func rsaPublicKeyFromJWK(k jwk) (*rsa.PublicKey, error) {
	nBytes, err := base64.RawURLEncoding.DecodeString(k.N)
	if err != nil {
		return nil, fmt.Errorf("decode modulus: %w", err)
	}
	eBytes, err := base64.RawURLEncoding.DecodeString(k.E)
	if err != nil {
		return nil, fmt.Errorf("decode exponent: %w", err)
	}

	n := new(big.Int).SetBytes(nBytes)
	e := new(big.Int).SetBytes(eBytes)

	return &rsa.PublicKey{N: n, E: int(e.Int64())}, nil
}
