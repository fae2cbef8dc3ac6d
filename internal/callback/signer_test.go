package callback

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func testKeyPEM(t *testing.T) (string, *rsa.PublicKey) {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatal(err)
	}
	block := &pem.Block{
		Type:  "RSA PRIVATE KEY",
		Bytes: x509.MarshalPKCS1PrivateKey(key),
	}
	return string(pem.EncodeToMemory(block)), &key.PublicKey
}

func TestSignProducesVerifiableToken(t *testing.T) {
	keyPEM, pub := testKeyPEM(t)
	s := NewSigner(keyPEM, "v1")

	signed, err := s.Sign("tenant-1", "req-1")
	if err != nil {
		t.Fatal(err)
	}

	claims := jwt.MapClaims{}
	token, err := jwt.ParseWithClaims(signed, claims, func(tok *jwt.Token) (any, error) {
		return pub, nil
	}, jwt.WithValidMethods([]string{"RS256"}), jwt.WithAudience("vantahire"), jwt.WithIssuer("signal"))
	if err != nil {
		t.Fatal(err)
	}
	if !token.Valid {
		t.Fatal("token not valid")
	}

	if token.Header["kid"] != "v1" {
		t.Fatalf("kid = %v", token.Header["kid"])
	}
	if claims["sub"] != "sourcing" {
		t.Fatalf("sub = %v", claims["sub"])
	}
	if claims["tenant_id"] != "tenant-1" || claims["request_id"] != "req-1" {
		t.Fatalf("tenant/request claims = %v / %v", claims["tenant_id"], claims["request_id"])
	}
	if claims["scopes"] != "callbacks:write" {
		t.Fatalf("scopes = %v", claims["scopes"])
	}
	if jti, _ := claims["jti"].(string); jti == "" {
		t.Fatal("missing jti")
	}

	iat := int64(claims["iat"].(float64))
	exp := int64(claims["exp"].(float64))
	if got := time.Duration(exp-iat) * time.Second; got != tokenTTL {
		t.Fatalf("ttl = %v, want %v", got, tokenTTL)
	}
}

func TestEachTokenGetsFreshJTI(t *testing.T) {
	keyPEM, _ := testKeyPEM(t)
	s := NewSigner(keyPEM, "v1")

	a, err := s.Sign("t", "r")
	if err != nil {
		t.Fatal(err)
	}
	b, err := s.Sign("t", "r")
	if err != nil {
		t.Fatal(err)
	}
	if a == b {
		t.Fatal("two signatures for the same request must differ (jti)")
	}
}

func TestBase64EncodedKeyAccepted(t *testing.T) {
	keyPEM, pub := testKeyPEM(t)
	encoded := base64.StdEncoding.EncodeToString([]byte(keyPEM))
	s := NewSigner(encoded, "v2")

	signed, err := s.Sign("tenant-1", "req-1")
	if err != nil {
		t.Fatal(err)
	}
	_, err = jwt.Parse(signed, func(tok *jwt.Token) (any, error) { return pub, nil })
	if err != nil {
		t.Fatal(err)
	}
}

func TestMissingKeyFails(t *testing.T) {
	s := NewSigner("", "v1")
	if _, err := s.Sign("t", "r"); err == nil {
		t.Fatal("expected error for missing key")
	}
}

func TestGarbageKeyFails(t *testing.T) {
	s := NewSigner("not a key at all", "v1")
	if _, err := s.Sign("t", "r"); err == nil {
		t.Fatal("expected error for garbage key")
	}
	// Parse failure is sticky, not retried per call.
	if _, err := s.Sign("t", "r"); err == nil {
		t.Fatal("expected the cached error again")
	}
}
