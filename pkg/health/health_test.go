package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func up(context.Context) ComponentHealth { return ComponentHealth{Status: StatusUp} }

func down(context.Context) ComponentHealth {
	return ComponentHealth{Status: StatusDown, Message: "unreachable"}
}

func TestRunAggregates(t *testing.T) {
	c := NewChecker()
	c.Register("rule_table", up)
	assert.Equal(t, StatusUp, c.Run(context.Background()).Status)

	c.RegisterOptional("redis", down)
	report := c.Run(context.Background())
	assert.Equal(t, StatusDegraded, report.Status)
	assert.Equal(t, StatusDegraded, report.Components["redis"].Status)

	c.Register("rule_table", down)
	assert.Equal(t, StatusDown, c.Run(context.Background()).Status)
}

func TestPingCheck(t *testing.T) {
	ok := PingCheck(func(context.Context) error { return nil })(context.Background())
	assert.Equal(t, StatusUp, ok.Status)

	bad := PingCheck(func(context.Context) error { return errors.New("refused") })(context.Background())
	assert.Equal(t, StatusDown, bad.Status)
	assert.Equal(t, "refused", bad.Message)
}

func TestReadyHandler(t *testing.T) {
	c := NewChecker()
	c.RegisterOptional("kafka", down)

	rec := httptest.NewRecorder()
	c.ReadyHandler()(rec, httptest.NewRequest(http.MethodGet, "/health/ready", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	c.Register("rule_table", down)
	rec = httptest.NewRecorder()
	c.ReadyHandler()(rec, httptest.NewRequest(http.MethodGet, "/health/ready", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	var report Report
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&report))
	assert.Equal(t, StatusDown, report.Status)
	assert.Len(t, report.Components, 2)
}

func TestLiveHandler(t *testing.T) {
	rec := httptest.NewRecorder()
	NewChecker().LiveHandler()(rec, httptest.NewRequest(http.MethodGet, "/health/live", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"alive"}`, rec.Body.String())
}
