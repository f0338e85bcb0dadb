package middleware

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"net/netip"
	"strings"
	"testing"
	"time"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openctemio/invitations/internal/config"
	redisinfra "github.com/openctemio/invitations/internal/infra/redis"
	"github.com/openctemio/invitations/pkg/domain/shared"
	"github.com/openctemio/invitations/pkg/jwt"
	"github.com/openctemio/invitations/pkg/logger"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func TestRequestID(t *testing.T) {
	var seen string
	h := RequestID()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = GetRequestID(r.Context())
	}))

	t.Run("generated", func(t *testing.T) {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
		assert.NotEmpty(t, seen)
		assert.Equal(t, seen, rec.Header().Get("X-Request-ID"))
	})

	t.Run("client supplied", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("X-Request-ID", "req-123")
		h.ServeHTTP(httptest.NewRecorder(), req)
		assert.Equal(t, "req-123", seen)
	})

	t.Run("oversized replaced", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("X-Request-ID", strings.Repeat("a", maxRequestIDLength+1))
		h.ServeHTTP(httptest.NewRecorder(), req)
		assert.Len(t, seen, 36)
	})
}

func TestRedactTokenPath(t *testing.T) {
	token := strings.Repeat("ab", 32)
	tests := []struct {
		path string
		want string
	}{
		{"/api/v1/invitation-acceptance/" + token, "/api/v1/invitation-acceptance/abababab..."},
		{"/api/v1/invitation-acceptance/" + token + "/accept", "/api/v1/invitation-acceptance/abababab.../accept"},
		{"/api/v1/invitation-acceptance/short", "/api/v1/invitation-acceptance/short"},
		{"/api/v1/invitations", "/api/v1/invitations"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, RedactTokenPath(tt.path))
	}
}

func TestRecovery(t *testing.T) {
	h := RecoveryWithConfig(logger.NewNop(), true)(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, rec.Body.String(), "INTERNAL_ERROR")
}

func TestCORS(t *testing.T) {
	h := CORS(&config.CORSConfig{AllowedOrigins: []string{"https://app.example.com"}})(okHandler())

	t.Run("allowed origin", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("Origin", "https://app.example.com")
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		assert.Equal(t, "https://app.example.com", rec.Header().Get("Access-Control-Allow-Origin"))
		assert.Equal(t, "true", rec.Header().Get("Access-Control-Allow-Credentials"))
	})

	t.Run("unknown origin", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("Origin", "https://evil.example.com")
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
	})

	t.Run("preflight", func(t *testing.T) {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodOptions, "/", nil))
		assert.Equal(t, http.StatusNoContent, rec.Code)
	})
}

type fakeValidator struct {
	claims *jwt.Claims
	err    error
}

func (f fakeValidator) ValidateAccessToken(string) (*jwt.Claims, error) {
	return f.claims, f.err
}

func TestAuth(t *testing.T) {
	userID := shared.NewID()
	tenantID := shared.NewID()

	t.Run("valid token", func(t *testing.T) {
		v := fakeValidator{claims: &jwt.Claims{UserID: userID.String(), TenantID: tenantID.String()}}
		var gotUser, gotTenant shared.ID
		h := Auth(v, logger.NewNop())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			gotUser = GetUserID(r.Context())
			gotTenant = GetTenantID(r.Context())
			assert.NotNil(t, GetClaims(r.Context()))
		}))

		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("Authorization", "Bearer abc")
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusOK, rec.Code)
		assert.True(t, gotUser.Equals(userID))
		assert.True(t, gotTenant.Equals(tenantID))
	})

	t.Run("missing header", func(t *testing.T) {
		h := Auth(fakeValidator{}, logger.NewNop())(okHandler())
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("expired token", func(t *testing.T) {
		h := Auth(fakeValidator{err: jwt.ErrExpiredToken}, logger.NewNop())(okHandler())
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("Authorization", "Bearer abc")
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
		assert.Contains(t, rec.Body.String(), "Token has expired")
	})

	t.Run("missing tenant", func(t *testing.T) {
		v := fakeValidator{claims: &jwt.Claims{UserID: userID.String()}}
		h := Auth(v, logger.NewNop())(okHandler())
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("Authorization", "Bearer abc")
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})
}

func TestGetIDs_EmptyContext(t *testing.T) {
	assert.True(t, GetUserID(context.Background()).IsZero())
	assert.True(t, GetTenantID(context.Background()).IsZero())
	assert.Nil(t, GetClaims(context.Background()))
}

func TestRateLimiter_InProcess(t *testing.T) {
	limited := 0
	rl := NewRateLimiter(config.RateLimitConfig{Requests: 2, Window: time.Minute},
		func(*http.Request) { limited++ }, logger.NewNop())
	defer rl.Stop()

	h := rl.Middleware()(okHandler())
	codes := make([]int, 0, 3)
	for range 3 {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/invitation-acceptance/x/accept", nil)
		req.RemoteAddr = "10.0.0.1:1234"
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		codes = append(codes, rec.Code)
		if rec.Code == http.StatusTooManyRequests {
			assert.Equal(t, "30", rec.Header().Get("Retry-After"))
		}
	}

	assert.Equal(t, []int{http.StatusOK, http.StatusOK, http.StatusTooManyRequests}, codes)
	assert.Equal(t, 1, limited)

	// other clients have their own bucket
	assert.True(t, rl.Allow("10.0.0.2"))
}

type fakeStore struct {
	result *redisinfra.RateLimitResult
	err    error
}

func (f *fakeStore) Allow(context.Context, string) (*redisinfra.RateLimitResult, error) {
	return f.result, f.err
}
func (f *fakeStore) Reset(context.Context, string) error { return nil }
func (f *fakeStore) Limit() int                          { return 20 }

func TestDistributedRateLimit(t *testing.T) {
	t.Run("allowed", func(t *testing.T) {
		store := &fakeStore{result: &redisinfra.RateLimitResult{Allowed: true, Remaining: 19}}
		h := DistributedRateLimit(DistributedRateLimitConfig{Limiter: store})(okHandler())
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "19", rec.Header().Get("X-RateLimit-Remaining"))
	})

	t.Run("rejected", func(t *testing.T) {
		called := false
		store := &fakeStore{result: &redisinfra.RateLimitResult{RetryAt: time.Now().Add(10 * time.Second)}}
		h := DistributedRateLimit(DistributedRateLimitConfig{
			Limiter:   store,
			OnLimited: func(*http.Request) { called = true },
		})(okHandler())
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
		assert.Equal(t, http.StatusTooManyRequests, rec.Code)
		assert.NotEmpty(t, rec.Header().Get("Retry-After"))
		assert.Contains(t, rec.Body.String(), "RATE_LIMIT_EXCEEDED")
		assert.True(t, called)
	})

	t.Run("redis down uses fallback", func(t *testing.T) {
		fallbackUsed := false
		fallback := func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				fallbackUsed = true
				next.ServeHTTP(w, r)
			})
		}
		store := &fakeStore{err: errors.New("connection refused")}
		h := DistributedRateLimit(DistributedRateLimitConfig{Limiter: store, Fallback: fallback})(okHandler())
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.True(t, fallbackUsed)
	})
}

func TestClientIP(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "192.0.2.1:5555"
	assert.Equal(t, "192.0.2.1", ClientIP(req))

	req.Header.Set("X-Forwarded-For", "203.0.113.5, 10.0.0.1")
	req.Header.Set("X-Real-IP", "198.51.100.7")
	assert.Equal(t, "192.0.2.1", ClientIP(req), "forwarding headers are not trusted on their own")

	req.RemoteAddr = "[2001:db8::1]:443"
	assert.Equal(t, "2001:db8::1", ClientIP(req))

	req.RemoteAddr = "not-an-address"
	assert.Empty(t, ClientIP(req))
}

func TestTrustedRealIP(t *testing.T) {
	proxies := []netip.Prefix{netip.MustParsePrefix("10.0.0.0/8")}

	var seen string
	h := TrustedRealIP(proxies)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = ClientIP(r)
	}))

	tests := []struct {
		name   string
		remote string
		header map[string]string
		want   string
	}{
		{"trusted proxy forwards client", "10.0.0.2:4000", map[string]string{"X-Forwarded-For": "203.0.113.5"}, "203.0.113.5"},
		{"trusted proxy real ip", "10.0.0.2:4000", map[string]string{"X-Real-IP": "198.51.100.7"}, "198.51.100.7"},
		{"untrusted peer spoofs header", "192.0.2.1:5555", map[string]string{"X-Forwarded-For": "203.0.113.5"}, "192.0.2.1"},
		{"no header", "10.0.0.2:4000", nil, "10.0.0.2"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.RemoteAddr = tt.remote
			for k, v := range tt.header {
				req.Header.Set(k, v)
			}
			h.ServeHTTP(httptest.NewRecorder(), req)
			assert.Equal(t, tt.want, seen)
		})
	}

	t.Run("overlong header", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.RemoteAddr = "10.0.0.2:4000"
		req.Header.Set("X-Real-IP", strings.Repeat("9", 100))
		h.ServeHTTP(httptest.NewRecorder(), req)
		assert.LessOrEqual(t, len(seen), 45)
		assert.NotContains(t, seen, "999")
	})

	t.Run("no proxies configured", func(t *testing.T) {
		next := http.HandlerFunc(func(http.ResponseWriter, *http.Request) {})
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.RemoteAddr = "10.0.0.2:4000"
		req.Header.Set("X-Real-IP", "198.51.100.7")
		TrustedRealIP(nil)(next).ServeHTTP(httptest.NewRecorder(), req)
		assert.Equal(t, "10.0.0.2", ClientIP(req))
	})
}

func TestRateLimiter_IgnoresSpoofedForwardingHeaders(t *testing.T) {
	rl := NewRateLimiter(config.RateLimitConfig{Enabled: true, Requests: 1, Window: time.Minute}, nil, nil)
	t.Cleanup(rl.Stop)
	h := rl.Middleware()(okHandler())

	passed := 0
	for i := range 20 {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.RemoteAddr = "192.0.2.1:5555"
		req.Header.Set("X-Forwarded-For", fmt.Sprintf("203.0.113.%d", i))
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		if rec.Code == http.StatusOK {
			passed++
		}
	}
	assert.Equal(t, 1, passed)
}

func echoBody() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(r.Body)
		if err != nil {
			if IsBodyTooLarge(err) {
				WriteBodyTooLarge(w, r)
				return
			}
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		_, _ = w.Write(body)
	})
}

func TestDecompress(t *testing.T) {
	payload := []byte(`{"emails":["a@example.com","b@example.com"]}`)

	t.Run("gzip", func(t *testing.T) {
		var buf bytes.Buffer
		gw := gzip.NewWriter(&buf)
		_, err := gw.Write(payload)
		require.NoError(t, err)
		require.NoError(t, gw.Close())

		req := httptest.NewRequest(http.MethodPost, "/", &buf)
		req.Header.Set("Content-Encoding", "gzip")
		rec := httptest.NewRecorder()
		Decompress(nil)(echoBody()).ServeHTTP(rec, req)

		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, payload, rec.Body.Bytes())
	})

	t.Run("zstd", func(t *testing.T) {
		enc, err := zstd.NewWriter(nil)
		require.NoError(t, err)
		compressed := enc.EncodeAll(payload, nil)
		require.NoError(t, enc.Close())

		req := httptest.NewRequest(http.MethodPost, "/", bytes.NewReader(compressed))
		req.Header.Set("Content-Encoding", "zstd")
		rec := httptest.NewRecorder()
		Decompress(nil)(echoBody()).ServeHTTP(rec, req)

		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, payload, rec.Body.Bytes())
	})

	t.Run("unsupported encoding", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader("x"))
		req.Header.Set("Content-Encoding", "br")
		rec := httptest.NewRecorder()
		Decompress(nil)(echoBody()).ServeHTTP(rec, req)
		assert.Equal(t, http.StatusUnsupportedMediaType, rec.Code)
	})

	t.Run("corrupt gzip", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader("not gzip"))
		req.Header.Set("Content-Encoding", "gzip")
		rec := httptest.NewRecorder()
		Decompress(nil)(echoBody()).ServeHTTP(rec, req)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("ratio exceeded", func(t *testing.T) {
		var buf bytes.Buffer
		gw := gzip.NewWriter(&buf)
		_, err := gw.Write(bytes.Repeat([]byte("a"), 1<<20))
		require.NoError(t, err)
		require.NoError(t, gw.Close())

		req := httptest.NewRequest(http.MethodPost, "/", &buf)
		req.Header.Set("Content-Encoding", "gzip")
		rec := httptest.NewRecorder()
		Decompress(&DecompressConfig{
			MaxDecompressedSize: 2 << 20,
			MaxCompressedSize:   1 << 20,
			MaxCompressionRatio: 10,
		})(echoBody()).ServeHTTP(rec, req)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("plain passthrough", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/", bytes.NewReader(payload))
		rec := httptest.NewRecorder()
		Decompress(nil)(echoBody()).ServeHTTP(rec, req)
		assert.Equal(t, payload, rec.Body.Bytes())
	})
}

func TestBodyLimit(t *testing.T) {
	h := BodyLimit(8)(echoBody())

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/", strings.NewReader("small")))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/", strings.NewReader("definitely too large")))
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
}

func TestTimeout(t *testing.T) {
	t.Run("fast handler", func(t *testing.T) {
		h := Timeout(time.Second)(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.Header().Set("X-Test", "1")
			w.WriteHeader(http.StatusCreated)
			_, _ = w.Write([]byte("done"))
		}))
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
		assert.Equal(t, http.StatusCreated, rec.Code)
		assert.Equal(t, "1", rec.Header().Get("X-Test"))
		assert.Equal(t, "done", rec.Body.String())
	})

	t.Run("slow handler", func(t *testing.T) {
		h := Timeout(20 * time.Millisecond)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			<-r.Context().Done()
			_, _ = w.Write([]byte("late"))
		}))
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
		assert.Equal(t, http.StatusGatewayTimeout, rec.Code)
		assert.NotContains(t, rec.Body.String(), "late")
	})
}

func TestSecurityHeaders(t *testing.T) {
	rec := httptest.NewRecorder()
	SecurityHeaders(SecurityHeadersConfig{HSTSEnabled: true})(okHandler()).
		ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, "no-referrer", rec.Header().Get("Referrer-Policy"))
	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
	assert.Contains(t, rec.Header().Get("Strict-Transport-Security"), "max-age=31536000")
}
