package httpapi

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/R3E-Network/diamond_layer/internal/diamond"
)

func (rl *RateLimiter) size() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return len(rl.limiters)
}

func TestRateLimiter_KeyedOnSender(t *testing.T) {
	rl := NewRateLimiter(1, 1, nil)
	h := rl.Handler(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	serve := func(sender string) int {
		req := httptest.NewRequest(http.MethodPost, "/call", nil)
		if sender != "" {
			req = req.WithContext(diamond.WithSender(req.Context(), diamond.HandleFor(sender)))
		}
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec.Code
	}

	assert.Equal(t, http.StatusNoContent, serve("alice"))
	assert.Equal(t, http.StatusTooManyRequests, serve("alice"))
	assert.Equal(t, http.StatusNoContent, serve("bob"))
	assert.Equal(t, http.StatusNoContent, serve(""))
	assert.Equal(t, http.StatusTooManyRequests, serve(""))
	assert.Equal(t, 3, rl.size())
}

func TestRateLimiter_Cleanup(t *testing.T) {
	rl := NewRateLimiter(1, 1, nil)
	rl.getLimiter("a")
	rl.getLimiter("b")

	assert.Equal(t, 0, rl.Cleanup(time.Hour))
	assert.Equal(t, 2, rl.Cleanup(0))
	assert.Equal(t, 0, rl.size())
}

func TestRateLimiter_StartCleanup(t *testing.T) {
	rl := NewRateLimiter(1, 1, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	rl.getLimiter("a")
	rl.StartCleanup(ctx, 10*time.Millisecond, 0)
	require.Eventually(t, func() bool { return rl.size() == 0 }, time.Second, 10*time.Millisecond)

	cancel()
	time.Sleep(30 * time.Millisecond)
	rl.getLimiter("b")
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, 1, rl.size())
}
