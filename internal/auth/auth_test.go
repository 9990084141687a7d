package auth_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/stockarena/contest-engine/internal/auth"
)

var secret = []byte("test-secret")

func signToken(t *testing.T, claims jwt.MapClaims, key []byte) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(key)
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return signed
}

// echoIdentity reports the identity the middleware put in the context.
func echoIdentity(w http.ResponseWriter, r *http.Request) {
	id, ok := auth.FromContext(r.Context())
	if !ok {
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	json.NewEncoder(w).Encode(id)
}

func doRequest(t *testing.T, authorization string) *httptest.ResponseRecorder {
	t.Helper()
	handler := auth.Middleware(secret)(http.HandlerFunc(echoIdentity))
	req := httptest.NewRequest("GET", "/protected", nil)
	if authorization != "" {
		req.Header.Set("Authorization", authorization)
	}
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	return w
}

func TestMiddleware_ValidToken(t *testing.T) {
	token := signToken(t, jwt.MapClaims{
		"sub":      "user-1",
		"username": "alice",
		"exp":      time.Now().Add(time.Hour).Unix(),
	}, secret)

	w := doRequest(t, "Bearer "+token)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", w.Code, w.Body.String())
	}

	var id auth.Identity
	json.Unmarshal(w.Body.Bytes(), &id)
	if id.UserID != "user-1" || id.Username != "alice" {
		t.Errorf("identity = %+v", id)
	}
}

func TestMiddleware_MissingToken(t *testing.T) {
	if w := doRequest(t, ""); w.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", w.Code)
	}
	if w := doRequest(t, "Basic abc"); w.Code != http.StatusUnauthorized {
		t.Errorf("non-bearer status = %d, want 401", w.Code)
	}
}

func TestMiddleware_ExpiredToken(t *testing.T) {
	token := signToken(t, jwt.MapClaims{
		"sub": "user-1",
		"exp": time.Now().Add(-time.Hour).Unix(),
	}, secret)

	w := doRequest(t, "Bearer "+token)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", w.Code)
	}
	var body map[string]string
	json.Unmarshal(w.Body.Bytes(), &body)
	if body["message"] != "token_expired" {
		t.Errorf("message = %q, want token_expired", body["message"])
	}
}

func TestMiddleware_WrongKey(t *testing.T) {
	token := signToken(t, jwt.MapClaims{
		"sub": "user-1",
		"exp": time.Now().Add(time.Hour).Unix(),
	}, []byte("other-secret"))

	if w := doRequest(t, "Bearer "+token); w.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", w.Code)
	}
}

func TestMiddleware_MissingSubject(t *testing.T) {
	token := signToken(t, jwt.MapClaims{
		"username": "alice",
		"exp":      time.Now().Add(time.Hour).Unix(),
	}, secret)

	if w := doRequest(t, "Bearer "+token); w.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", w.Code)
	}
}
