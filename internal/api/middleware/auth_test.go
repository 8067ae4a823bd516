package middleware_test

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/feral-file/ff-marketplace/internal/api/middleware"
	"github.com/feral-file/ff-marketplace/internal/logger"
)

var signingKey *rsa.PrivateKey

func TestMain(m *testing.M) {
	if err := logger.Initialize(logger.Config{Debug: false}); err != nil {
		panic(err)
	}
	gin.SetMode(gin.TestMode)

	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		panic(err)
	}
	signingKey = key

	os.Exit(m.Run())
}

func pkixPEM(t *testing.T) string {
	der, err := x509.MarshalPKIXPublicKey(&signingKey.PublicKey)
	require.NoError(t, err)
	return string(pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der}))
}

func pkcs1PEM() string {
	der := x509.MarshalPKCS1PublicKey(&signingKey.PublicKey)
	return string(pem.EncodeToMemory(&pem.Block{Type: "RSA PUBLIC KEY", Bytes: der}))
}

func sign(t *testing.T, claims jwt.RegisteredClaims) string {
	signed, err := jwt.NewWithClaims(jwt.SigningMethodRS256, claims).SignedString(signingKey)
	require.NoError(t, err)
	return signed
}

func TestAuthenticate(t *testing.T) {
	now := time.Now()
	valid := sign(t, jwt.RegisteredClaims{
		Subject:   "0xabcdefabcdefabcdefabcdefabcdefabcdefabcd",
		ExpiresAt: jwt.NewNumericDate(now.Add(time.Hour)),
	})
	hmac, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{Subject: "0x1"}).SignedString([]byte("secret"))
	require.NoError(t, err)

	tests := []struct {
		name   string
		header string
		key    string
		caller string
		ok     bool
	}{
		{name: "valid pkix key", header: "Bearer " + valid, key: pkixPEM(t), caller: "0xabcdefabcdefabcdefabcdefabcdefabcdefabcd", ok: true},
		{name: "valid pkcs1 key", header: "bearer " + valid, key: pkcs1PEM(), caller: "0xabcdefabcdefabcdefabcdefabcdefabcdefabcd", ok: true},
		{name: "missing header", header: "", key: pkixPEM(t)},
		{name: "no scheme", header: valid, key: pkixPEM(t)},
		{name: "api key scheme", header: "ApiKey abc", key: pkixPEM(t)},
		{name: "key not configured", header: "Bearer " + valid, key: ""},
		{name: "hmac token", header: "Bearer " + hmac, key: pkixPEM(t)},
		{
			name: "expired",
			header: "Bearer " + sign(t, jwt.RegisteredClaims{
				Subject:   "0x1",
				ExpiresAt: jwt.NewNumericDate(now.Add(-time.Minute)),
			}),
			key: pkixPEM(t),
		},
		{
			name:   "no subject",
			header: "Bearer " + sign(t, jwt.RegisteredClaims{ExpiresAt: jwt.NewNumericDate(now.Add(time.Hour))}),
			key:    pkixPEM(t),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := middleware.Authenticate(tt.header, middleware.AuthConfig{JWTPublicKey: tt.key})
			assert.Equal(t, tt.ok, result.Success)
			if tt.ok {
				assert.True(t, strings.EqualFold(tt.caller, result.Caller), result.Caller)
				assert.NoError(t, result.Error)
			} else {
				assert.Error(t, result.Error)
			}
		})
	}
}

func TestAuthMiddleware(t *testing.T) {
	cfg := middleware.AuthConfig{JWTPublicKey: pkixPEM(t)}

	router := gin.New()
	router.Use(middleware.RequestID())
	router.GET("/private", middleware.Auth(cfg), func(c *gin.Context) {
		c.String(http.StatusOK, middleware.Caller(c))
	})
	router.GET("/public", middleware.OptionalAuth(cfg), func(c *gin.Context) {
		c.String(http.StatusOK, "caller="+middleware.Caller(c))
	})

	token := "Bearer " + sign(t, jwt.RegisteredClaims{
		Subject:   "alice",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	})

	serve := func(path, auth string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		if auth != "" {
			req.Header.Set("Authorization", auth)
		}
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)
		return w
	}

	w := serve("/private", token)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "alice", w.Body.String())
	assert.NotEmpty(t, w.Header().Get(middleware.RequestIDHeader))

	w = serve("/private", "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Contains(t, w.Body.String(), "unauthorized")

	w = serve("/public", "")
	assert.Equal(t, "caller=", w.Body.String())

	w = serve("/public", "Bearer garbage")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "caller=", w.Body.String())

	w = serve("/public", token)
	assert.Equal(t, "caller=alice", w.Body.String())
}

func TestRequestIDAndRecovery(t *testing.T) {
	router := gin.New()
	router.Use(middleware.RequestID(), middleware.Recovery())
	router.GET("/panic", func(c *gin.Context) {
		panic("boom")
	})

	req := httptest.NewRequest(http.MethodGet, "/panic", nil)
	req.Header.Set(middleware.RequestIDHeader, "req-42")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, "req-42", w.Header().Get(middleware.RequestIDHeader))
	assert.Contains(t, w.Body.String(), "internal_error")
}
