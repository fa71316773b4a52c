package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func alwaysUp(context.Context) error   { return nil }
func alwaysDown(context.Context) error { return errors.New("connection refused") }

func TestHandler_AllUp(t *testing.T) {
	handler := NewHandler("v1.2.3")
	handler.Register("postgres", alwaysUp)
	handler.RegisterOptional("kafka", alwaysUp)

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}

	var report Report
	if err := json.NewDecoder(w.Body).Decode(&report); err != nil {
		t.Fatalf("decode report: %v", err)
	}
	if report.State != StateUp {
		t.Errorf("expected up, got %s", report.State)
	}
	if report.Version != "v1.2.3" {
		t.Errorf("unexpected version: %s", report.Version)
	}
	if len(report.Probes) != 2 {
		t.Errorf("expected 2 probes, got %d", len(report.Probes))
	}
}

func TestHandler_CriticalFailureIsDown(t *testing.T) {
	handler := NewHandler("v1.2.3")
	handler.Register("postgres", alwaysDown)

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", w.Code)
	}

	var report Report
	if err := json.NewDecoder(w.Body).Decode(&report); err != nil {
		t.Fatalf("decode report: %v", err)
	}
	if report.State != StateDown {
		t.Errorf("expected down, got %s", report.State)
	}
	probe := report.Probes["postgres"]
	if probe.State != StateDown || probe.Detail != "connection refused" {
		t.Errorf("unexpected probe: %+v", probe)
	}
}

func TestHandler_OptionalFailureIsDegraded(t *testing.T) {
	handler := NewHandler("v1.2.3")
	handler.Register("postgres", alwaysUp)
	handler.RegisterOptional("kafka", alwaysDown)

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	// Деградация брокера не делает сервис недоступным.
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}

	var report Report
	if err := json.NewDecoder(w.Body).Decode(&report); err != nil {
		t.Fatalf("decode report: %v", err)
	}
	if report.State != StateDegraded {
		t.Errorf("expected degraded, got %s", report.State)
	}
}

func TestReadinessHandler_IgnoresOptionalChecks(t *testing.T) {
	handler := NewHandler("v1.2.3")
	handler.Register("postgres", alwaysUp)
	handler.RegisterOptional("kafka", alwaysDown)

	w := httptest.NewRecorder()
	handler.ReadinessHandler(w, httptest.NewRequest(http.MethodGet, "/readyz", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if w.Body.String() != "ready" {
		t.Errorf("unexpected body: %s", w.Body.String())
	}
}

func TestReadinessHandler_CriticalFailure(t *testing.T) {
	handler := NewHandler("v1.2.3")
	handler.Register("postgres", alwaysDown)

	w := httptest.NewRecorder()
	handler.ReadinessHandler(w, httptest.NewRequest(http.MethodGet, "/readyz", nil))

	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", w.Code)
	}
	if w.Body.String() != "not ready" {
		t.Errorf("unexpected body: %s", w.Body.String())
	}
}

func TestLivenessHandler(t *testing.T) {
	w := httptest.NewRecorder()
	LivenessHandler(w, httptest.NewRequest(http.MethodGet, "/livez", nil))

	if w.Code != http.StatusOK || w.Body.String() != "ok" {
		t.Errorf("unexpected liveness response: %d %s", w.Code, w.Body.String())
	}
}
