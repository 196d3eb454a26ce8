package middleware

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/andybalholm/brotli"
	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stemsi/ujian/internal/response"
	"github.com/stemsi/ujian/internal/service"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func TestRateLimiterRefillsPerInterval(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	now := time.Date(2026, 10, 16, 7, 30, 0, 0, time.UTC)
	rl := NewRateLimiter(ctx, 2, time.Minute)
	rl.now = func() time.Time { return now }

	if !rl.Allow("a") || !rl.Allow("a") {
		t.Fatal("first two requests should pass")
	}
	if rl.Allow("a") {
		t.Fatal("third request inside the interval should be limited")
	}
	if !rl.Allow("b") {
		t.Fatal("buckets are per key")
	}

	now = now.Add(59 * time.Second)
	if rl.Allow("a") {
		t.Fatal("bucket refilled early")
	}
	now = now.Add(time.Second)
	if !rl.Allow("a") {
		t.Fatal("bucket should refill after one interval")
	}
}

func TestRateLimiterMiddlewareRejectsWithEnvelope(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	r := gin.New()
	r.POST("/login", NewRateLimiter(ctx, 1, time.Minute).Middleware(ByIP), func(c *gin.Context) {
		c.Status(http.StatusNoContent)
	})

	first := httptest.NewRecorder()
	r.ServeHTTP(first, httptest.NewRequest(http.MethodPost, "/login", nil))
	if first.Code != http.StatusNoContent {
		t.Fatalf("first status = %d", first.Code)
	}

	second := httptest.NewRecorder()
	r.ServeHTTP(second, httptest.NewRequest(http.MethodPost, "/login", nil))
	if second.Code != http.StatusTooManyRequests {
		t.Fatalf("second status = %d, want 429", second.Code)
	}
	var body response.Response
	if err := json.Unmarshal(second.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if body.Error == nil || body.Error.Code != response.ErrRateLimitExceeded {
		t.Errorf("error = %+v, want RATE_LIMIT_EXCEEDED", body.Error)
	}
}

func TestBrotliCompressesLargeBodies(t *testing.T) {
	large := strings.Repeat("soal ujian ", 500)

	r := gin.New()
	r.Use(BrotliWithConfig(BrotliConfig{MinLength: 64}))
	r.GET("/large", func(c *gin.Context) { c.String(http.StatusOK, large) })
	r.GET("/small", func(c *gin.Context) { c.String(http.StatusOK, "ok") })

	req := httptest.NewRequest(http.MethodGet, "/large", nil)
	req.Header.Set("Accept-Encoding", "gzip, br;q=1.0")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if got := w.Header().Get("Content-Encoding"); got != "br" {
		t.Fatalf("Content-Encoding = %q, want br", got)
	}
	plain, err := io.ReadAll(brotli.NewReader(bytes.NewReader(w.Body.Bytes())))
	if err != nil {
		t.Fatal(err)
	}
	if string(plain) != large {
		t.Errorf("decompressed body mismatch: %d bytes, want %d", len(plain), len(large))
	}

	req = httptest.NewRequest(http.MethodGet, "/small", nil)
	req.Header.Set("Accept-Encoding", "br")
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if got := w.Header().Get("Content-Encoding"); got != "" {
		t.Errorf("small body Content-Encoding = %q, want none", got)
	}
	if w.Body.String() != "ok" {
		t.Errorf("small body = %q", w.Body.String())
	}
}

type stubValidator struct {
	claims *service.Claims
	err    error
}

func (v stubValidator) ValidateToken(string) (*service.Claims, error) {
	return v.claims, v.err
}

func TestRequireParticipantJWT(t *testing.T) {
	participant := &service.Claims{TokenType: service.TokenTypeParticipant, UserID: 7}

	tests := []struct {
		name     string
		header   string
		v        stubValidator
		wantCode int
		wantErr  response.ErrCode
	}{
		{"missing header", "", stubValidator{claims: participant}, http.StatusUnauthorized, response.ErrTokenRequired},
		{"expired", "Bearer x", stubValidator{err: fmt.Errorf("parse token: %w", jwt.ErrTokenExpired)}, http.StatusUnauthorized, response.ErrTokenExpired},
		{"invalid", "Bearer x", stubValidator{err: errors.New("bad signature")}, http.StatusUnauthorized, response.ErrTokenInvalid},
		{"wrong audience", "Bearer x", stubValidator{claims: &service.Claims{TokenType: "admin"}}, http.StatusForbidden, response.ErrParticipantAccessOnly},
		{"valid", "Bearer x", stubValidator{claims: participant}, http.StatusOK, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := gin.New()
			r.GET("/me", RequireParticipantJWT(tt.v), func(c *gin.Context) {
				c.JSON(http.StatusOK, gin.H{"id": GetClaims(c).UserID})
			})

			req := httptest.NewRequest(http.MethodGet, "/me", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)

			if w.Code != tt.wantCode {
				t.Fatalf("status = %d, want %d", w.Code, tt.wantCode)
			}
			if tt.wantErr == "" {
				return
			}
			var body response.Response
			if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
				t.Fatal(err)
			}
			if body.Error == nil || body.Error.Code != tt.wantErr {
				t.Errorf("error = %+v, want %s", body.Error, tt.wantErr)
			}
		})
	}
}
