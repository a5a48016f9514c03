package health

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/goccy/go-json"
)

type pingFunc func(ctx context.Context) error

func (f pingFunc) Ping(ctx context.Context) error { return f(ctx) }

func TestRunWorstStatusWins(t *testing.T) {
	c := NewChecker()
	c.RegisterPinger("postgres", pingFunc(func(context.Context) error { return nil }), StatusDown)
	c.RegisterPinger("redis", pingFunc(func(context.Context) error { return errors.New("refused") }), StatusDegraded)

	report := c.Run(context.Background())
	if report.Status != StatusDegraded {
		t.Errorf("status = %s, want degraded", report.Status)
	}
	if report.Components["redis"].Message != "refused" {
		t.Errorf("redis message = %q", report.Components["redis"].Message)
	}

	c.RegisterPinger("kafka", pingFunc(func(context.Context) error { return errors.New("down") }), StatusDown)
	if got := c.Run(context.Background()).Status; got != StatusDown {
		t.Errorf("status = %s, want down", got)
	}
}

func TestRunRecoversPanickingCheck(t *testing.T) {
	c := NewChecker()
	c.Register("broken", func(context.Context) ComponentHealth { panic("boom") })
	if got := c.Run(context.Background()).Status; got != StatusDown {
		t.Errorf("status = %s, want down", got)
	}
}

func TestReadyHandler(t *testing.T) {
	c := NewChecker()
	c.RegisterPinger("redis", nil, StatusDegraded)

	rec := httptest.NewRecorder()
	c.ReadyHandler()(rec, httptest.NewRequest(http.MethodGet, "/health/ready", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("degraded should stay ready, got %d", rec.Code)
	}
	var report Report
	if err := json.NewDecoder(rec.Body).Decode(&report); err != nil {
		t.Fatalf("decoding report: %v", err)
	}
	if report.Components["redis"].Message != "not configured" {
		t.Errorf("unexpected component: %+v", report.Components["redis"])
	}
}
