package api

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"

	"github.com/gin-gonic/gin"

	"futurescore/pkg/crypto"
	"futurescore/pkg/db"
)

func newTestServer() *Server {
	gin.SetMode(gin.TestMode)
	return NewServer(Deps{OperatorToken: "op-secret", JWTSecret: "jwt-secret"})
}

func newTestServerWithKeys(t *testing.T) *Server {
	t.Helper()
	key := make([]byte, crypto.KeySize)
	if err := os.Setenv("MASTER_ENCRYPTION_KEY", base64.StdEncoding.EncodeToString(key)); err != nil {
		t.Fatalf("setenv: %v", err)
	}
	t.Cleanup(func() { os.Unsetenv("MASTER_ENCRYPTION_KEY") })

	km, err := crypto.NewKeyManager()
	if err != nil {
		t.Fatalf("NewKeyManager: %v", err)
	}
	store, err := db.New(":memory:")
	if err != nil {
		t.Fatalf("db.New: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	if err := db.ApplyMigrations(store); err != nil {
		t.Fatalf("ApplyMigrations: %v", err)
	}

	gin.SetMode(gin.TestMode)
	return NewServer(Deps{OperatorToken: "op-secret", JWTSecret: "jwt-secret", Keys: km, Store: store})
}

func TestHealthOK(t *testing.T) {
	s := newTestServer()
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	s.Router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}

func TestLoginRejectsWrongToken(t *testing.T) {
	s := newTestServer()
	body, _ := json.Marshal(loginRequest{Token: "wrong"})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/login", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	s.Router.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

func TestLoginIssuesSessionToken(t *testing.T) {
	s := newTestServer()
	body, _ := json.Marshal(loginRequest{Token: "op-secret"})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/login", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	s.Router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var resp map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp["accessToken"] == "" || resp["accessToken"] == nil {
		t.Fatalf("expected non-empty accessToken")
	}
}

func TestProtectedRouteRejectsMissingToken(t *testing.T) {
	s := newTestServer()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/metrics", nil)
	rec := httptest.NewRecorder()
	s.Router.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

func TestCreateProviderCredentialEncryptsSecret(t *testing.T) {
	s := newTestServerWithKeys(t)
	token, err := issueSessionToken(s.jwtSecret)
	if err != nil {
		t.Fatalf("issueSessionToken: %v", err)
	}

	body, _ := json.Marshal(createCredentialRequest{Kind: "DATA_VENDOR", Label: "ironbeam", Secret: "vendor-api-key"})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/credentials", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	s.Router.ServeHTTP(rec, req)

	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}

	creds, err := s.Store.ListProviderCredentialsByKind(req.Context(), "DATA_VENDOR")
	if err != nil {
		t.Fatalf("ListProviderCredentialsByKind: %v", err)
	}
	if len(creds) != 1 {
		t.Fatalf("expected 1 credential, got %d", len(creds))
	}
	if creds[0].EncryptedSecret == "vendor-api-key" {
		t.Fatal("expected secret to be encrypted at rest, got plaintext")
	}
	plaintext, err := s.Keys.Decrypt(creds[0].EncryptedSecret)
	if err != nil {
		t.Fatalf("Decrypt: %v", err)
	}
	if plaintext != "vendor-api-key" {
		t.Fatalf("decrypted secret = %q, want vendor-api-key", plaintext)
	}
}

func TestCreateProviderCredentialRejectsUnknownKind(t *testing.T) {
	s := newTestServerWithKeys(t)
	token, err := issueSessionToken(s.jwtSecret)
	if err != nil {
		t.Fatalf("issueSessionToken: %v", err)
	}

	body, _ := json.Marshal(createCredentialRequest{Kind: "BOGUS", Label: "x", Secret: "y"})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/credentials", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	s.Router.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestProtectedRouteAcceptsValidSession(t *testing.T) {
	s := newTestServer()
	token, err := issueSessionToken(s.jwtSecret)
	if err != nil {
		t.Fatalf("issueSessionToken: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/v1/metrics", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	s.Router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}
