package auth

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

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"
)

var testSigningKey = []byte("test-secret-key-for-unit-tests-only")

func createTestToken(t *testing.T, claims Claims, key []byte) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	tokenStr, err := token.SignedString(key)
	if err != nil {
		t.Fatalf("failed to sign test token: %v", err)
	}
	return tokenStr
}

func validClaims(sub string) Claims {
	return Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   sub,
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
	}
}

func runMiddleware(t *testing.T, mw echo.MiddlewareFunc, req *http.Request, h echo.HandlerFunc) error {
	t.Helper()
	e := echo.New()
	c := e.NewContext(req, httptest.NewRecorder())
	return mw(h)(c)
}

func expectStatus(t *testing.T, err error, code int) {
	t.Helper()
	httpErr, ok := err.(*echo.HTTPError)
	if !ok {
		t.Fatalf("expected echo.HTTPError, got %T (%v)", err, err)
	}
	if httpErr.Code != code {
		t.Errorf("expected %d, got %d", code, httpErr.Code)
	}
}

func ok(c echo.Context) error { return c.NoContent(http.StatusOK) }

func TestJWTMiddleware_MissingHeader(t *testing.T) {
	err := runMiddleware(t, JWTMiddleware(JWTConfig{SigningKey: testSigningKey}),
		httptest.NewRequest(http.MethodGet, "/", nil), ok)
	expectStatus(t, err, http.StatusUnauthorized)
}

func TestJWTMiddleware_InvalidFormat(t *testing.T) {
	tests := []struct {
		name   string
		header string
	}{
		{"no bearer prefix", "Token abc123"},
		{"missing token", "Bearer"},
		{"empty value", "Bearer "},
		{"basic auth", "Basic dXNlcjpwYXNz"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.Header.Set("Authorization", tt.header)
			err := runMiddleware(t, JWTMiddleware(JWTConfig{SigningKey: testSigningKey}), req, ok)
			expectStatus(t, err, http.StatusUnauthorized)
		})
	}
}

func TestJWTMiddleware_ClaimsExtraction(t *testing.T) {
	claims := validClaims("doc-7")
	claims.Name = "Dr. Okafor"
	claims.Roles = []string{"doctor"}

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+createTestToken(t, claims, testSigningKey))

	var called bool
	err := runMiddleware(t, JWTMiddleware(JWTConfig{SigningKey: testSigningKey}), req, func(c echo.Context) error {
		called = true
		a, err := ActorFrom(c)
		if err != nil {
			t.Fatalf("ActorFrom: %v", err)
		}
		if a.ID != "doc-7" || a.Name != "Dr. Okafor" {
			t.Errorf("unexpected actor %+v", a)
		}
		if roles := RolesFromContext(c.Request().Context()); len(roles) != 1 || roles[0] != "doctor" {
			t.Errorf("unexpected roles %v", roles)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !called {
		t.Error("handler was not called")
	}
}

func TestJWTMiddleware_NameDefaultsToSubject(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+createTestToken(t, validClaims("cg-1"), testSigningKey))

	err := runMiddleware(t, JWTMiddleware(JWTConfig{SigningKey: testSigningKey}), req, func(c echo.Context) error {
		if got := UserNameFromContext(c.Request().Context()); got != "cg-1" {
			t.Errorf("expected name cg-1, got %q", got)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestJWTMiddleware_ExpiredToken(t *testing.T) {
	claims := validClaims("user-123")
	claims.ExpiresAt = jwt.NewNumericDate(time.Now().Add(-time.Hour))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+createTestToken(t, claims, testSigningKey))
	err := runMiddleware(t, JWTMiddleware(JWTConfig{SigningKey: testSigningKey}), req, ok)
	expectStatus(t, err, http.StatusUnauthorized)
}

func TestJWTMiddleware_WrongKey(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+createTestToken(t, validClaims("u"), []byte("other-key")))
	err := runMiddleware(t, JWTMiddleware(JWTConfig{SigningKey: testSigningKey}), req, ok)
	expectStatus(t, err, http.StatusUnauthorized)
}

func TestJWTMiddleware_MissingSubject(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+createTestToken(t, validClaims(""), testSigningKey))
	err := runMiddleware(t, JWTMiddleware(JWTConfig{SigningKey: testSigningKey}), req, ok)
	expectStatus(t, err, http.StatusUnauthorized)
}

func TestJWTMiddleware_Skipper(t *testing.T) {
	e := echo.New()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/health", nil), httptest.NewRecorder())
	c.SetPath("/health")

	mw := JWTMiddleware(JWTConfig{SigningKey: testSigningKey, Skipper: AuthSkipper})
	if err := mw(ok)(c); err != nil {
		t.Fatalf("expected public path to skip auth, got %v", err)
	}
}

func TestJWTMiddleware_JWKS(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatal(err)
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"keys": []map[string]string{{
				"kty": "RSA",
				"kid": "k1",
				"n":   base64.RawURLEncoding.EncodeToString(key.N.Bytes()),
				"e":   base64.RawURLEncoding.EncodeToString(big.NewInt(int64(key.E)).Bytes()),
			}},
		})
	}))
	defer srv.Close()

	token := jwt.NewWithClaims(jwt.SigningMethodRS256, validClaims("sp-1"))
	token.Header["kid"] = "k1"
	signed, err := token.SignedString(key)
	if err != nil {
		t.Fatal(err)
	}

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+signed)
	err = runMiddleware(t, JWTMiddleware(JWTConfig{JWKSURL: srv.URL}), req, func(c echo.Context) error {
		if got := UserIDFromContext(c.Request().Context()); got != "sp-1" {
			t.Errorf("expected sp-1, got %q", got)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestDevAuthMiddleware_Defaults(t *testing.T) {
	err := runMiddleware(t, DevAuthMiddleware(), httptest.NewRequest(http.MethodGet, "/", nil), func(c echo.Context) error {
		a, err := ActorFrom(c)
		if err != nil {
			t.Fatalf("ActorFrom: %v", err)
		}
		if a.ID != "dev-user" || a.Name != "Dev User" {
			t.Errorf("unexpected actor %+v", a)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestDevAuthMiddleware_Headers(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(HeaderUserID, "cg-9")
	err := runMiddleware(t, DevAuthMiddleware(), req, func(c echo.Context) error {
		a, _ := ActorFrom(c)
		if a.ID != "cg-9" || a.Name != "cg-9" {
			t.Errorf("unexpected actor %+v", a)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestActorFrom_Unauthenticated(t *testing.T) {
	e := echo.New()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/", nil), httptest.NewRecorder())
	_, err := ActorFrom(c)
	expectStatus(t, err, http.StatusUnauthorized)
}

func TestAuthSkipper(t *testing.T) {
	for path, want := range map[string]bool{
		"/health":        true,
		"/health/db":     true,
		"/metrics":       true,
		"/api/v1/cases":  false,
		"/health/extra":  false,
		"/notifications": false,
	} {
		if got := IsPublicPath(path); got != want {
			t.Errorf("IsPublicPath(%q) = %v, want %v", path, got, want)
		}
	}
}
