// Package health отдаёт состояние сервиса и его зависимостей по HTTP.
// Критичные проверки (хранилище) валят readiness, необязательные
// (брокер, бэклог outbox) только понижают состояние до degraded.
package health

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"
)

// State — агрегированное состояние сервиса или отдельной проверки.
type State string

const (
	StateUp       State = "up"
	StateDegraded State = "degraded"
	StateDown     State = "down"
)

// checkTimeout ограничивает каждую проверку по отдельности, чтобы один
// зависший коннект не подвешивал весь /healthz.
const checkTimeout = 2 * time.Second

// CheckFunc опрашивает одну зависимость. nil — зависимость доступна.
type CheckFunc func(ctx context.Context) error

// Probe — результат одной проверки в отчёте /healthz.
type Probe struct {
	State     State  `json:"state"`
	Detail    string `json:"detail,omitempty"`
	ElapsedMs int64  `json:"elapsed_ms"`
	Critical  bool   `json:"critical"`
}

// Report — полный ответ /healthz.
type Report struct {
	State         State            `json:"state"`
	Version       string           `json:"version,omitempty"`
	UptimeSeconds int64            `json:"uptime_seconds"`
	CheckedAt     time.Time        `json:"checked_at"`
	Probes        map[string]Probe `json:"probes,omitempty"`
}

type registeredCheck struct {
	fn       CheckFunc
	critical bool
}

// Handler выполняет зарегистрированные проверки и сериализует отчёт.
type Handler struct {
	mu      sync.RWMutex
	checks  map[string]registeredCheck
	version string
	started time.Time
}

// NewHandler создаёт handler без проверок: пустой набор означает up.
func NewHandler(version string) *Handler {
	return &Handler{
		checks:  make(map[string]registeredCheck),
		version: version,
		started: time.Now(),
	}
}

// Register добавляет критичную проверку: её отказ переводит сервис в down
// и проваливает readiness.
func (h *Handler) Register(name string, fn CheckFunc) {
	h.register(name, fn, true)
}

// RegisterOptional добавляет необязательную проверку: её отказ даёт degraded,
// readiness при этом проходит.
func (h *Handler) RegisterOptional(name string, fn CheckFunc) {
	h.register(name, fn, false)
}

func (h *Handler) register(name string, fn CheckFunc, critical bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.checks[name] = registeredCheck{fn: fn, critical: critical}
}

func (h *Handler) snapshot() map[string]registeredCheck {
	h.mu.RLock()
	defer h.mu.RUnlock()
	checks := make(map[string]registeredCheck, len(h.checks))
	for name, check := range h.checks {
		checks[name] = check
	}
	return checks
}

func runCheck(ctx context.Context, check registeredCheck) Probe {
	checkCtx, cancel := context.WithTimeout(ctx, checkTimeout)
	defer cancel()

	start := time.Now()
	err := check.fn(checkCtx)
	probe := Probe{
		State:     StateUp,
		ElapsedMs: time.Since(start).Milliseconds(),
		Critical:  check.critical,
	}
	if err != nil {
		probe.Detail = err.Error()
		if check.critical {
			probe.State = StateDown
		} else {
			probe.State = StateDegraded
		}
	}
	return probe
}

// ServeHTTP отвечает на /healthz полным отчётом. 503 только при отказе
// критичной зависимости.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	probes := make(map[string]Probe)
	state := StateUp

	for name, check := range h.snapshot() {
		probe := runCheck(r.Context(), check)
		probes[name] = probe

		switch probe.State {
		case StateDown:
			state = StateDown
		case StateDegraded:
			if state == StateUp {
				state = StateDegraded
			}
		}
	}

	report := Report{
		State:         state,
		Version:       h.version,
		UptimeSeconds: int64(time.Since(h.started).Seconds()),
		CheckedAt:     time.Now().UTC(),
		Probes:        probes,
	}

	code := http.StatusOK
	if state == StateDown {
		code = http.StatusServiceUnavailable
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(report)
}

// ReadinessHandler отвечает на /readyz. Смотрит только критичные проверки:
// без хранилища трафик принимать нельзя, деградация брокера переживаема.
func (h *Handler) ReadinessHandler(w http.ResponseWriter, r *http.Request) {
	for _, check := range h.snapshot() {
		if !check.critical {
			continue
		}
		if probe := runCheck(r.Context(), check); probe.State == StateDown {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte("not ready"))
			return
		}
	}

	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ready"))
}

// LivenessHandler отвечает на /livez: процесс жив, зависимости не опрашиваются.
func LivenessHandler(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}
