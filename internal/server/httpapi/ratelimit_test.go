package httpapi

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"golang.org/x/time/rate"
)

func TestMultiLimiterBurstThenDeny(t *testing.T) {
	m := newMultiLimiter(rate.Every(time.Hour), 3, time.Minute)

	for i := 0; i < 3; i++ {
		assert.True(t, m.allow("1.2.3.4"))
	}
	assert.False(t, m.allow("1.2.3.4"))

	// another address has its own bucket
	assert.True(t, m.allow("5.6.7.8"))
}

func TestRateLimitHandlerAnswers429(t *testing.T) {
	m := newMultiLimiter(rate.Every(time.Hour), 1, time.Minute)
	h := m.handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodPost, "/auth/login/initiate", nil)
	req.RemoteAddr = "9.9.9.9:1000"

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
}

func TestClientIPPrefersForwardedFor(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "10.0.0.1:4242"
	assert.Equal(t, "10.0.0.1", clientIP(req))

	req.Header.Set("X-Forwarded-For", "203.0.113.7, 10.0.0.1")
	assert.Equal(t, "203.0.113.7", clientIP(req))
}
