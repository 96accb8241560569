package auth

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/sim-control/simbridge/internal/config"
)

const testSecret = "test-secret-key"

func signHS256(t *testing.T, claims jwt.MapClaims) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	s, err := token.SignedString([]byte(testSecret))
	if err != nil {
		t.Fatalf("Failed to sign token: %v", err)
	}
	return s
}

func validClaims(sub string, roles, scopes []string) jwt.MapClaims {
	return jwt.MapClaims{
		"sub":    sub,
		"roles":  roles,
		"scopes": scopes,
		"iat":    time.Now().Unix(),
		"exp":    time.Now().Add(time.Hour).Unix(),
	}
}

func newHS256Verifier(t *testing.T) *Verifier {
	t.Helper()
	v, err := NewVerifier(config.AuthConfig{Algorithm: "HS256", SecretKey: testSecret})
	if err != nil {
		t.Fatalf("Failed to create verifier: %v", err)
	}
	return v
}

func TestNewVerifier(t *testing.T) {
	tests := []struct {
		name    string
		config  config.AuthConfig
		wantErr bool
	}{
		{"valid HS256 config", config.AuthConfig{Algorithm: "HS256", SecretKey: "k"}, false},
		{"HS256 without secret", config.AuthConfig{Algorithm: "HS256"}, true},
		{"RS256 with garbage PEM", config.AuthConfig{Algorithm: "RS256", PublicKeyPEM: "nope"}, true},
		{"invalid algorithm", config.AuthConfig{Algorithm: "ES256"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			verifier, err := NewVerifier(tt.config)
			if (err != nil) != tt.wantErr {
				t.Errorf("NewVerifier() error = %v, wantErr %v", err, tt.wantErr)
				return
			}
			if !tt.wantErr && verifier == nil {
				t.Error("NewVerifier() returned nil verifier")
			}
		})
	}
}

func TestVerifyHS256Token(t *testing.T) {
	verifier := newHS256Verifier(t)

	tokenString := signHS256(t, validClaims("user-123", []string{RoleViewer}, []string{ScopeRead, ScopeTelemetry}))

	claims, err := verifier.VerifyToken(tokenString)
	if err != nil {
		t.Fatalf("VerifyToken() error = %v", err)
	}
	if claims.Subject != "user-123" {
		t.Errorf("Expected subject 'user-123', got '%s'", claims.Subject)
	}
	if len(claims.Roles) != 1 || claims.Roles[0] != RoleViewer {
		t.Errorf("Expected roles [%s], got %v", RoleViewer, claims.Roles)
	}
	if len(claims.Scopes) != 2 {
		t.Errorf("Expected 2 scopes, got %d", len(claims.Scopes))
	}
}

func TestVerifyRS256Token(t *testing.T) {
	privateKey, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("Failed to generate RSA key: %v", err)
	}
	publicKeyDER, err := x509.MarshalPKIXPublicKey(&privateKey.PublicKey)
	if err != nil {
		t.Fatalf("Failed to marshal public key: %v", err)
	}
	publicKeyPEM := pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: publicKeyDER})

	verifier, err := NewVerifier(config.AuthConfig{Algorithm: "RS256", PublicKeyPEM: string(publicKeyPEM)})
	if err != nil {
		t.Fatalf("Failed to create verifier: %v", err)
	}

	token := jwt.NewWithClaims(jwt.SigningMethodRS256,
		validClaims("pilot-456", []string{RoleOperator}, []string{ScopeRead, ScopeControl, ScopeTelemetry}))
	tokenString, err := token.SignedString(privateKey)
	if err != nil {
		t.Fatalf("Failed to sign token: %v", err)
	}

	claims, err := verifier.VerifyToken(tokenString)
	if err != nil {
		t.Fatalf("VerifyToken() error = %v", err)
	}
	if claims.Subject != "pilot-456" {
		t.Errorf("Expected subject 'pilot-456', got '%s'", claims.Subject)
	}
	if !claims.HasScopes(ScopeControl) {
		t.Errorf("Expected control scope, got %v", claims.Scopes)
	}

	// An HS256 token must not pass an RS256 verifier.
	if _, err := verifier.VerifyToken(signHS256(t, validClaims("x", []string{RoleViewer}, []string{ScopeRead}))); err == nil {
		t.Error("Expected algorithm mismatch to be rejected")
	}
}

func TestVerifyTokenErrors(t *testing.T) {
	verifier := newHS256Verifier(t)

	expired := validClaims("user", []string{RoleViewer}, []string{ScopeRead})
	expired["exp"] = time.Now().Add(-time.Hour).Unix()

	noSub := validClaims("", []string{RoleViewer}, []string{ScopeRead})

	noRoles := validClaims("user", nil, []string{ScopeRead})
	delete(noRoles, "roles")

	badRole := validClaims("user", []string{"admin"}, []string{ScopeRead})
	badScope := validClaims("user", []string{RoleViewer}, []string{"write"})
	emptyScopes := validClaims("user", []string{RoleViewer}, []string{})

	wrongKey := jwt.NewWithClaims(jwt.SigningMethodHS256, validClaims("user", []string{RoleViewer}, []string{ScopeRead}))
	wrongKeyString, _ := wrongKey.SignedString([]byte("other-secret"))

	tests := []struct {
		name        string
		tokenString string
	}{
		{"empty token", ""},
		{"malformed token", "not.a.jwt"},
		{"expired token", signHS256(t, expired)},
		{"missing subject", signHS256(t, noSub)},
		{"missing roles", signHS256(t, noRoles)},
		{"unknown role", signHS256(t, badRole)},
		{"unknown scope", signHS256(t, badScope)},
		{"empty scopes", signHS256(t, emptyScopes)},
		{"wrong signing key", wrongKeyString},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := verifier.VerifyToken(tt.tokenString)
			if err == nil {
				t.Fatal("Expected error, got nil")
			}
			if !errors.Is(err, ErrInvalidToken) {
				t.Errorf("Expected ErrInvalidToken, got %v", err)
			}
		})
	}
}
