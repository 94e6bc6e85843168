// Package crypto provides request signing and key management for the DMarket
// API. The primary scheme is Ed25519 over METHOD+PATH+BODY+TIMESTAMP; when
// the configured secret cannot be interpreted as Ed25519 key material the
// signer degrades to HMAC-SHA256 over the same message.
package crypto

import (
	"crypto/ed25519"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"strconv"
	"time"
)

// Scheme identifies which signature algorithm a Signer ended up with.
type Scheme string

const (
	SchemeEd25519 Scheme = "ed25519"
	SchemeHMAC    Scheme = "hmac-sha256"
)

// Signature header names expected by the upstream API.
const (
	HeaderAPIKey    = "X-Api-Key"
	HeaderSignature = "X-Request-Sign"
	HeaderTimestamp = "X-Sign-Date"
)

// minSeedMaterial is the minimum raw secret length we are willing to stretch
// into an Ed25519 seed. Anything shorter is treated as an opaque HMAC secret.
const minSeedMaterial = 16

// Signer computes authentication headers for signed requests.
type Signer struct {
	apiKey string
	priv   ed25519.PrivateKey // nil when scheme == SchemeHMAC
	secret []byte             // HMAC secret (raw bytes of the configured value)
	scheme Scheme
	padded bool // true when the seed was padded/truncated from raw bytes
}

// NewSigner builds a Signer from the API key identifier and the signing
// secret. The secret is interpreted, in order, as hex, base64, then raw
// bytes; a decoding that yields a 64-byte private key or 32-byte seed selects
// Ed25519. Raw material of at least minSeedMaterial bytes that matches no
// exact size is padded or truncated to a 32-byte seed. Everything else falls
// back to HMAC-SHA256. NewSigner never fails; Scheme reports the outcome.
func NewSigner(apiKey, secret string) *Signer {
	s := &Signer{
		apiKey: apiKey,
		secret: []byte(secret),
		scheme: SchemeHMAC,
	}

	if priv, padded, ok := parseEd25519(secret); ok {
		s.priv = priv
		s.padded = padded
		s.scheme = SchemeEd25519
	}
	return s
}

// Scheme returns the signature scheme selected at construction.
func (s *Signer) Scheme() Scheme {
	return s.scheme
}

// Padded reports whether the Ed25519 seed was derived by padding/truncating
// raw key material rather than an exact-size decoding.
func (s *Signer) Padded() bool {
	return s.padded
}

// Headers returns the authentication headers for a request. The signed
// message is METHOD + PATH + BODY + TIMESTAMP, with the timestamp also sent
// in its own header.
func (s *Signer) Headers(method, path, body string) map[string]string {
	return s.HeadersAt(method, path, body, time.Now().Unix())
}

// HeadersAt is like Headers but lets the caller supply the Unix timestamp
// (useful for deterministic testing).
func (s *Signer) HeadersAt(method, path, body string, unixTS int64) map[string]string {
	ts := strconv.FormatInt(unixTS, 10)
	message := method + path + body + ts

	var sig string
	if s.scheme == SchemeEd25519 {
		raw := ed25519.Sign(s.priv, []byte(message))
		sig = "dmar ed25519:" + hex.EncodeToString(raw)
	} else {
		mac := hmac.New(sha256.New, s.secret)
		mac.Write([]byte(message))
		sig = "dmar hmac-sha256:" + hex.EncodeToString(mac.Sum(nil))
	}

	return map[string]string{
		HeaderAPIKey:    s.apiKey,
		HeaderSignature: sig,
		HeaderTimestamp: ts,
	}
}

// String returns a redacted representation suitable for logging.
func (s *Signer) String() string {
	key := s.apiKey
	if len(key) > 4 {
		key = key[:4] + "****"
	}
	return fmt.Sprintf("Signer{key=%s, scheme=%s}", key, s.scheme)
}

// parseEd25519 attempts to interpret secret as Ed25519 key material. It
// returns the private key, whether padding/truncation was applied, and
// whether the interpretation succeeded.
func parseEd25519(secret string) (priv ed25519.PrivateKey, padded, ok bool) {
	candidates := decodeCandidates(secret)

	// Exact sizes first, in decode order: full private key, then seed.
	for _, raw := range candidates {
		switch len(raw) {
		case ed25519.PrivateKeySize:
			return ed25519.PrivateKey(raw), false, true
		case ed25519.SeedSize:
			return ed25519.NewKeyFromSeed(raw), false, true
		}
	}

	// Padded/truncated raw-bytes interpretation: stretch plausible material
	// to a seed rather than silently switching schemes.
	raw := []byte(secret)
	if len(raw) >= minSeedMaterial {
		seed := make([]byte, ed25519.SeedSize)
		copy(seed, raw)
		return ed25519.NewKeyFromSeed(seed), true, true
	}

	return nil, false, false
}

// decodeCandidates returns the byte interpretations of secret in priority
// order: hex, base64, raw.
func decodeCandidates(secret string) [][]byte {
	var out [][]byte
	if b, err := hex.DecodeString(secret); err == nil {
		out = append(out, b)
	}
	if b, err := base64.StdEncoding.DecodeString(secret); err == nil {
		out = append(out, b)
	}
	out = append(out, []byte(secret))
	return out
}
