package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func healthy(context.Context) CheckResult {
	return CheckResult{Status: StatusHealthy}
}

func TestOverallStatus(t *testing.T) {
	c := NewChecker()
	c.RegisterFunc("loop", true, healthy)
	assert.Equal(t, StatusUnknown, c.OverallStatus(), "critical check not run yet")

	c.Check(context.Background())
	assert.Equal(t, StatusHealthy, c.OverallStatus())

	c.RegisterFunc("cache", false, func(context.Context) CheckResult {
		return CheckResult{Status: StatusUnhealthy}
	})
	c.Check(context.Background())
	assert.Equal(t, StatusDegraded, c.OverallStatus())

	c.RegisterFunc("store", true, DatabaseCheck(func(context.Context) error {
		return errors.New("locked")
	}))
	results := c.Check(context.Background())
	assert.Equal(t, StatusUnhealthy, c.OverallStatus())
	assert.Equal(t, "locked", results["store"].Error)
	assert.Equal(t, []string{"cache", "loop", "store"}, c.Components())
}

func TestCheckTimeoutAndPanic(t *testing.T) {
	c := NewChecker()
	c.Register(&Component{
		Name:    "slow",
		Timeout: 10 * time.Millisecond,
		Check: func(ctx context.Context) CheckResult {
			<-ctx.Done()
			time.Sleep(5 * time.Millisecond)
			return CheckResult{Status: StatusHealthy}
		},
	})
	c.RegisterFunc("boom", false, func(context.Context) CheckResult {
		panic("kaboom")
	})

	results := c.Check(context.Background())
	assert.Equal(t, "check timed out", results["slow"].Message)
	assert.Equal(t, StatusUnhealthy, results["boom"].Status)
	assert.Equal(t, "kaboom", results["boom"].Error)
}

func TestLoopCheck(t *testing.T) {
	ok := LoopCheck(func(ctx context.Context, fn func()) error {
		fn()
		return nil
	}, time.Second)
	assert.Equal(t, StatusHealthy, ok(context.Background()).Status)

	stopped := LoopCheck(func(context.Context, func()) error {
		return errors.New("loop: stopped")
	}, time.Second)
	assert.Equal(t, StatusUnhealthy, stopped(context.Background()).Status)

	slow := LoopCheck(func(ctx context.Context, fn func()) error {
		time.Sleep(5 * time.Millisecond)
		return nil
	}, time.Millisecond)
	assert.Equal(t, StatusDegraded, slow(context.Background()).Status)
}

func TestHandlers(t *testing.T) {
	c := NewChecker()
	c.RegisterFunc("loop", true, healthy)

	rec := httptest.NewRecorder()
	c.LivenessHandler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/livez", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	c.ReadinessHandler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	c.SetReady(true)
	rec = httptest.NewRecorder()
	c.ReadinessHandler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	c.HealthHandler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	var resp Response
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, StatusHealthy, resp.Status)
	assert.True(t, resp.Ready)
	assert.Contains(t, resp.Components, "loop")
}
