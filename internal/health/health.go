// Package health serves liveness and readiness probes for the relay.
//
// Liveness (/healthz) answers 200 whenever the process can serve HTTP at
// all, and reports how long it has been up. Readiness (/readyz) evaluates
// every registered [Checker] and answers 503 if any of them fails, so a
// load balancer or orchestrator can pull the instance out of rotation
// while its internal state is unhealthy. Each check runs in its own
// goroutine with a deadline: a wedged dependency marks the check failed
// instead of hanging the probe.
package health

import (
	"context"
	"encoding/json"
	"net/http"
	"time"
)

// checkTimeout bounds a single readiness check.
const checkTimeout = 5 * time.Second

// A Checker probes one internal dependency. Check returns nil when the
// dependency is usable. It should honour ctx, but Readyz does not rely on
// it: checks that overrun their deadline are abandoned and reported as
// failed.
type Checker struct {
	// Name keys the check's entry in the readiness response.
	Name string

	Check func(ctx context.Context) error
}

// Handler answers the /healthz and /readyz probes. The checker set is
// fixed at construction; Handler is safe for concurrent use.
type Handler struct {
	checkers []Checker
	started  time.Time
	timeout  time.Duration
}

// New returns a Handler over the given checkers. Readiness evaluates them
// in the order given.
func New(checkers ...Checker) *Handler {
	return &Handler{
		checkers: append([]Checker(nil), checkers...),
		started:  time.Now(),
		timeout:  checkTimeout,
	}
}

// liveness is the /healthz response body.
type liveness struct {
	Status string `json:"status"`
	Uptime string `json:"uptime"`
}

// readiness is the /readyz response body.
type readiness struct {
	Status string                 `json:"status"`
	Checks map[string]checkResult `json:"checks,omitempty"`
}

// checkResult reports one checker's outcome.
type checkResult struct {
	Status   string `json:"status"`
	Error    string `json:"error,omitempty"`
	Duration string `json:"duration"`
}

// Healthz reports liveness. A process that reaches this handler is alive,
// so the answer is always 200.
func (h *Handler) Healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, liveness{
		Status: "ok",
		Uptime: time.Since(h.started).Round(time.Second).String(),
	})
}

// Readyz reports readiness: 200 when every checker passes, 503 otherwise.
// The response lists each check's outcome and how long it took.
func (h *Handler) Readyz(w http.ResponseWriter, r *http.Request) {
	res := readiness{
		Status: "ok",
		Checks: make(map[string]checkResult, len(h.checkers)),
	}
	status := http.StatusOK

	for _, c := range h.checkers {
		cr := h.run(r.Context(), c)
		if cr.Status != "ok" {
			res.Status = "fail"
			status = http.StatusServiceUnavailable
		}
		res.Checks[c.Name] = cr
	}

	writeJSON(w, status, res)
}

// run executes one checker under the handler's timeout. The check runs in
// its own goroutine so that a checker stuck on a lock cannot stall the
// probe; on timeout the goroutine is abandoned and the check fails with
// the context error.
func (h *Handler) run(ctx context.Context, c Checker) checkResult {
	ctx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()

	start := time.Now()
	done := make(chan error, 1)
	go func() { done <- c.Check(ctx) }()

	var err error
	select {
	case err = <-done:
	case <-ctx.Done():
		err = ctx.Err()
	}

	cr := checkResult{
		Status:   "ok",
		Duration: time.Since(start).Round(time.Millisecond).String(),
	}
	if err != nil {
		cr.Status = "fail"
		cr.Error = err.Error()
	}
	return cr
}

// Register mounts both probes on mux.
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
