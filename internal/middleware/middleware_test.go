package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func newRouter(mw gin.HandlerFunc) *gin.Engine {
	r := gin.New()
	r.Use(mw)
	r.GET("/ping", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"pong": true})
	})
	return r
}

func get(router *gin.Engine, header http.Header) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/ping", nil)
	for k, vs := range header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestRateLimitBlocksAfterThreshold(t *testing.T) {
	router := newRouter(RateLimit(3, time.Minute))

	for i := 0; i < 3; i++ {
		require.Equal(t, http.StatusOK, get(router, nil).Code)
	}

	w := get(router, nil)
	require.Equal(t, http.StatusTooManyRequests, w.Code)
	require.Equal(t, "0", w.Header().Get("X-RateLimit-Remaining"))
}

func TestRateLimitDisabledWithZeroBudget(t *testing.T) {
	router := newRouter(RateLimit(0, time.Minute))

	for i := 0; i < 5; i++ {
		require.Equal(t, http.StatusOK, get(router, nil).Code)
	}
}

func TestPortalAuth(t *testing.T) {
	router := newRouter(PortalAuth("portal-key"))

	require.Equal(t, http.StatusUnauthorized, get(router, nil).Code)

	wrong := http.Header{}
	wrong.Set("Authorization", "Bearer nope")
	require.Equal(t, http.StatusUnauthorized, get(router, wrong).Code)

	bare := http.Header{}
	bare.Set("Authorization", "portal-key")
	require.Equal(t, http.StatusUnauthorized, get(router, bare).Code)

	ok := http.Header{}
	ok.Set("Authorization", "Bearer portal-key")
	require.Equal(t, http.StatusOK, get(router, ok).Code)
}

func TestPortalAuthRejectsAllWithoutKey(t *testing.T) {
	router := newRouter(PortalAuth(""))

	h := http.Header{}
	h.Set("Authorization", "Bearer anything")
	require.Equal(t, http.StatusUnauthorized, get(router, h).Code)
}

func TestSecurityHeaders(t *testing.T) {
	router := newRouter(SecurityHeaders())

	w := get(router, nil)
	require.Equal(t, "DENY", w.Header().Get("X-Frame-Options"))
	require.Equal(t, "nosniff", w.Header().Get("X-Content-Type-Options"))
	require.Equal(t, DefaultContentSecurityPolicy, w.Header().Get("Content-Security-Policy"))
}
