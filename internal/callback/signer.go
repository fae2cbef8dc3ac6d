// Package callback delivers signed result notifications to the URL each
// sourcing request was created with, retrying with jittered backoff and
// sweeping up stale failures for re-delivery.
package callback

import (
	"crypto/rsa"
	"encoding/base64"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const tokenTTL = 5 * time.Minute

// Signer mints short-lived RS256 tokens for callback requests. The private
// key is parsed once on first use and cached for the process lifetime.
type Signer struct {
	keyPEM string
	kid    string
	now    func() time.Time

	once sync.Once
	key  *rsa.PrivateKey
	err  error
}

// NewSigner takes the private key material as PEM, optionally base64-encoded
// as a whole, and the key ID to stamp into the token header.
func NewSigner(keyPEM, kid string) *Signer {
	return &Signer{keyPEM: keyPEM, kid: kid, now: time.Now}
}

// Sign returns a bearer token scoped to one request.
func (s *Signer) Sign(tenantID, requestID string) (string, error) {
	key, err := s.privateKey()
	if err != nil {
		return "", err
	}

	now := s.now()
	claims := jwt.MapClaims{
		"iss":        "signal",
		"aud":        "vantahire",
		"sub":        "sourcing",
		"tenant_id":  tenantID,
		"request_id": requestID,
		"scopes":     "callbacks:write",
		"jti":        uuid.NewString(),
		"iat":        now.Unix(),
		"exp":        now.Add(tokenTTL).Unix(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	token.Header["kid"] = s.kid

	signed, err := token.SignedString(key)
	if err != nil {
		return "", fmt.Errorf("sign callback token: %w", err)
	}
	return signed, nil
}

func (s *Signer) privateKey() (*rsa.PrivateKey, error) {
	s.once.Do(func() {
		pem := strings.TrimSpace(s.keyPEM)
		if pem == "" {
			s.err = fmt.Errorf("callback signing key not configured")
			return
		}
		if !strings.HasPrefix(pem, "-----") {
			decoded, err := base64.StdEncoding.DecodeString(pem)
			if err != nil {
				s.err = fmt.Errorf("callback signing key is neither PEM nor base64: %w", err)
				return
			}
			pem = string(decoded)
		}
		key, err := jwt.ParseRSAPrivateKeyFromPEM([]byte(pem))
		if err != nil {
			s.err = fmt.Errorf("parse callback signing key: %w", err)
			return
		}
		s.key = key
	})
	return s.key, s.err
}
