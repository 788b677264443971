package health

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRunAggregatesWorstStatus(t *testing.T) {
	c := NewChecker()
	c.Register("index", func(ctx context.Context) ComponentHealth {
		return ComponentHealth{Status: StatusUp, Detail: map[string]string{"documents": "3"}}
	})
	c.Register("redis", func(ctx context.Context) ComponentHealth {
		return ComponentHealth{Status: StatusDegraded, Message: "not configured"}
	})

	report := c.Run(context.Background())
	require.Equal(t, StatusDegraded, report.Status)
	require.Len(t, report.Components, 2)
	require.Equal(t, "3", report.Components["index"].Detail["documents"])
	require.NotEmpty(t, report.Components["index"].Latency)
}

func TestRunDownOutweighsDegraded(t *testing.T) {
	c := NewChecker()
	c.Register("postgres", func(ctx context.Context) ComponentHealth {
		return ComponentHealth{Status: StatusDown, Message: "connection refused"}
	})
	c.Register("redis", func(ctx context.Context) ComponentHealth {
		return ComponentHealth{Status: StatusDegraded}
	})

	require.Equal(t, StatusDown, c.Run(context.Background()).Status)
}

func TestReadyHandlerToleratesDegradedComponents(t *testing.T) {
	c := NewChecker()
	c.Register("redis", func(ctx context.Context) ComponentHealth {
		return ComponentHealth{Status: StatusDegraded, Message: "not configured"}
	})

	rec := httptest.NewRecorder()
	c.ReadyHandler()(rec, httptest.NewRequest("GET", "/health/ready", nil))
	require.Equal(t, 200, rec.Code)

	var report Report
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &report))
	require.Equal(t, StatusDegraded, report.Status)
}

func TestReadyHandlerFailsWhenDown(t *testing.T) {
	c := NewChecker()
	c.Register("index", func(ctx context.Context) ComponentHealth {
		return ComponentHealth{Status: StatusDown}
	})

	rec := httptest.NewRecorder()
	c.ReadyHandler()(rec, httptest.NewRequest("GET", "/health/ready", nil))
	require.Equal(t, 503, rec.Code)
}
