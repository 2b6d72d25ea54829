// Package health serves the orchestrator-facing liveness and readiness
// probes for the voice service.
//
// Liveness (/healthz) only asserts the process can still answer HTTP; a
// degraded vendor must not get the pod killed mid-conversation. Readiness
// (/readyz) runs every registered [Probe] and returns 200 only when all of
// them pass, so an instance with its speech vendors dark or its cache
// backend unreachable is taken out of rotation without dropping the voice
// sessions it already holds.
package health

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"
)

// probeTimeout bounds one readiness probe. A hung Redis ping or vendor
// status check must not stall the whole readiness endpoint past the
// orchestrator's own probe deadline.
const probeTimeout = 3 * time.Second

// Probe is one named readiness dependency. Check returns nil while the
// dependency can serve voice traffic and must respect ctx cancellation.
type Probe struct {
	Name  string
	Check func(ctx context.Context) error
}

// probeResult is the per-dependency entry in the readiness body.
type probeResult struct {
	Status    string `json:"status"` // "ok" or "fail"
	Error     string `json:"error,omitempty"`
	LatencyMS int64  `json:"latency_ms"`
}

// report is the JSON body of both probe endpoints.
type report struct {
	Status string                 `json:"status"`
	Checks map[string]probeResult `json:"checks,omitempty"`
}

// Handler answers /healthz and /readyz. The probe set is fixed at
// construction; the handler is safe for concurrent use.
type Handler struct {
	probes []Probe
}

// New creates a Handler over the given probes.
func New(probes ...Probe) *Handler {
	p := make([]Probe, len(probes))
	copy(p, probes)
	return &Handler{probes: p}
}

// Healthz reports liveness. Reaching the handler at all is the check.
func (h *Handler) Healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, report{Status: "ok"})
}

// Readyz runs all probes concurrently, each against its own [probeTimeout]
// deadline, and reports 503 when any of them fails. Per-probe latency is
// included so a slow dependency shows up before it starts failing.
func (h *Handler) Readyz(w http.ResponseWriter, r *http.Request) {
	var (
		mu     sync.Mutex
		checks = make(map[string]probeResult, len(h.probes))
		ready  = true
	)

	var wg sync.WaitGroup
	for _, p := range h.probes {
		p := p
		wg.Add(1)
		go func() {
			defer wg.Done()
			ctx, cancel := context.WithTimeout(r.Context(), probeTimeout)
			defer cancel()

			start := time.Now()
			err := p.Check(ctx)
			res := probeResult{Status: "ok", LatencyMS: time.Since(start).Milliseconds()}
			if err != nil {
				res.Status = "fail"
				res.Error = err.Error()
			}

			mu.Lock()
			checks[p.Name] = res
			if err != nil {
				ready = false
			}
			mu.Unlock()
		}()
	}
	wg.Wait()

	rep := report{Status: "ok", Checks: checks}
	status := http.StatusOK
	if !ready {
		rep.Status = "fail"
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, rep)
}

// Register adds the probe routes to mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", h.Healthz)
	mux.HandleFunc("GET /readyz", h.Readyz)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"status":"error"}`, http.StatusInternalServerError)
	}
}
