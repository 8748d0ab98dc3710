package identity

import (
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"

	"havenhomes/pkg/domain"
)

func TestNewVerifierRequiresJWKSURL(t *testing.T) {
	if _, err := NewVerifier(Config{}); err == nil {
		t.Fatalf("expected missing jwks url to fail")
	}
}

func signToken(t *testing.T, key *rsa.PrivateKey, kid string, claims signInClaims) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	token.Header["kid"] = kid
	signed, err := token.SignedString(key)
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return signed
}

func registeredClaims(subject string) jwt.RegisteredClaims {
	return jwt.RegisteredClaims{
		Subject:   subject,
		Issuer:    "issuer-a",
		Audience:  jwt.ClaimStrings{"aud-a"},
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Minute)),
		IssuedAt:  jwt.NewNumericDate(time.Now()),
		NotBefore: jwt.NewNumericDate(time.Now().Add(-time.Second)),
	}
}

func TestVerifyIdentityAndRefreshOnUnknownKid(t *testing.T) {
	key1, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate key1: %v", err)
	}
	key2, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate key2: %v", err)
	}

	activeKid := "kid-1"
	activeKey := key1
	jwksServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Cache-Control", "public, max-age=60")
		resp := map[string]any{"keys": []map[string]string{toJWK(activeKid, activeKey.PublicKey)}}
		_ = json.NewEncoder(w).Encode(resp)
	}))
	defer jwksServer.Close()

	v, err := NewVerifier(Config{JWKSURL: jwksServer.URL, Issuer: "issuer-a", Audience: "aud-a"})
	if err != nil {
		t.Fatalf("new verifier: %v", err)
	}

	claims := signInClaims{Email: "buyer@example.com", Role: "user", RegisteredClaims: registeredClaims("user-a")}
	signed := signToken(t, key1, "kid-1", claims)
	id, err := v.Verify(signed)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if id.UserID != "user-a" || id.Email != "buyer@example.com" || id.Role != domain.RoleUser {
		t.Fatalf("unexpected identity: %+v", id)
	}
	if id.Admin() {
		t.Fatal("buyer must not be admin")
	}

	// Key rotation: unknown kid triggers a JWKS refresh.
	activeKid, activeKey = "kid-2", key2
	claims2 := signInClaims{Role: "admin", RegisteredClaims: registeredClaims("user-b")}
	signed2 := signToken(t, key2, "kid-2", claims2)
	id2, err := v.Verify(signed2)
	if err != nil {
		t.Fatalf("verify after rotation: %v", err)
	}
	if id2.UserID != "user-b" || !id2.Admin() {
		t.Fatalf("unexpected identity after rotation: %+v", id2)
	}
}

func TestVerifyRejectsWrongAudience(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	jwksServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		resp := map[string]any{"keys": []map[string]string{toJWK("kid-1", key.PublicKey)}}
		_ = json.NewEncoder(w).Encode(resp)
	}))
	defer jwksServer.Close()

	v, err := NewVerifier(Config{JWKSURL: jwksServer.URL, Issuer: "issuer-a", Audience: "aud-a"})
	if err != nil {
		t.Fatalf("new verifier: %v", err)
	}

	claims := registeredClaims("user-1")
	claims.Audience = jwt.ClaimStrings{"someone-else"}
	signed := signToken(t, key, "kid-1", signInClaims{RegisteredClaims: claims})
	if _, err := v.Verify(signed); err == nil {
		t.Fatal("expected wrong-audience token to fail")
	}
}

func TestVerifyDefaultsMissingRoleToUser(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	jwksServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		resp := map[string]any{"keys": []map[string]string{toJWK("kid-1", key.PublicKey)}}
		_ = json.NewEncoder(w).Encode(resp)
	}))
	defer jwksServer.Close()

	v, err := NewVerifier(Config{JWKSURL: jwksServer.URL, Issuer: "issuer-a", Audience: "aud-a"})
	if err != nil {
		t.Fatalf("new verifier: %v", err)
	}

	signed := signToken(t, key, "kid-1", signInClaims{RegisteredClaims: registeredClaims("user-1")})
	id, err := v.Verify(signed)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if id.Role != domain.RoleUser {
		t.Fatalf("role = %s, want user", id.Role)
	}
}

func toJWK(kid string, key rsa.PublicKey) map[string]string {
	return map[string]string{
		"kty": "RSA",
		"kid": kid,
		"n":   base64.RawURLEncoding.EncodeToString(key.N.Bytes()),
		"e":   base64.RawURLEncoding.EncodeToString(big.NewInt(int64(key.E)).Bytes()),
	}
}
